// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.10.15
//

package posegraph

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config is the file configuration of an optimization run
//
//	solver: lm
//	max_iterations: 100
//	rel_tolerance: 1e-9
//	workers: 4
//	natural_ordering: false
//	log_level: info
//	lm:
//	  lambda: 1e-4
//	  lambda_min: 1e-9
//	  lambda_max: 1e6
//	  scale: 10
//	gauss_seidel:
//	  lambda: 1e-9
//	  tolerance: 1e-12
type Config struct {
	Solver          string   `yaml:"solver"`
	MaxIterations   int      `yaml:"max_iterations"`
	RelTolerance    float64  `yaml:"rel_tolerance"`
	AbsTolerance    float64  `yaml:"abs_tolerance"`
	Workers         int      `yaml:"workers"`
	NaturalOrdering bool     `yaml:"natural_ordering"`
	LogLevel        string   `yaml:"log_level"`
	LM              LMConfig `yaml:"lm"`
	GS              GSConfig `yaml:"gauss_seidel"`
}

type LMConfig struct {
	Lambda    float64 `yaml:"lambda"`
	LambdaMin float64 `yaml:"lambda_min"`
	LambdaMax float64 `yaml:"lambda_max"`
	Scale     float64 `yaml:"scale"`
}

type GSConfig struct {
	Lambda    float64 `yaml:"lambda"`
	Tolerance float64 `yaml:"tolerance"`
}

// DefaultConfig returns the configuration matching the NewXxxOpt defaults
func DefaultConfig() Config {
	lm, gs := NewLMOpt(), NewGSOpt()
	return Config{
		Solver:        SOLVER_LM,
		MaxIterations: MAX_LOOP_COUNT,
		RelTolerance:  REL_TOLERANCE,
		AbsTolerance:  ABS_TOLERANCE,
		Workers:       NewLinOpt().Workers,
		LogLevel:      "warning",
		LM: LMConfig{
			Lambda:    lm.Lambda,
			LambdaMin: lm.LambdaMin,
			LambdaMax: lm.LambdaMax,
			Scale:     lm.Scale,
		},
		GS: GSConfig{
			Lambda:    gs.Lambda,
			Tolerance: gs.Tolerance,
		},
	}
}

// LoadConfig loads the configuration with priority env > file > defaults.
// An empty path skips the file.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.loadEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Environment overrides (POSEGRAPH_*). A value that does not parse is an error.
func (c *Config) loadEnv(lookup func(string) (string, bool)) error {
	var result *multierror.Error
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			i, err := strconv.Atoi(v)
			if err != nil {
				result = multierror.Append(result, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = i
		}
	}
	float := func(key string, dst *float64) {
		if v, ok := lookup(key); ok && v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				result = multierror.Append(result, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = f
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				result = multierror.Append(result, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	str("POSEGRAPH_SOLVER", &c.Solver)
	integer("POSEGRAPH_MAX_ITERATIONS", &c.MaxIterations)
	float("POSEGRAPH_REL_TOLERANCE", &c.RelTolerance)
	float("POSEGRAPH_ABS_TOLERANCE", &c.AbsTolerance)
	integer("POSEGRAPH_WORKERS", &c.Workers)
	boolean("POSEGRAPH_NATURAL_ORDERING", &c.NaturalOrdering)
	str("POSEGRAPH_LOG_LEVEL", &c.LogLevel)
	float("POSEGRAPH_LM_LAMBDA", &c.LM.Lambda)
	float("POSEGRAPH_LM_LAMBDA_MIN", &c.LM.LambdaMin)
	float("POSEGRAPH_LM_LAMBDA_MAX", &c.LM.LambdaMax)
	float("POSEGRAPH_LM_SCALE", &c.LM.Scale)
	float("POSEGRAPH_GS_LAMBDA", &c.GS.Lambda)
	float("POSEGRAPH_GS_TOLERANCE", &c.GS.Tolerance)
	return result.ErrorOrNil()
}

// Validate returns every problem of the configuration at once
func (c Config) Validate() error {
	var result *multierror.Error
	switch c.Solver {
	case SOLVER_DIRECT, SOLVER_LM, SOLVER_GS:
	default:
		result = multierror.Append(result, fmt.Errorf("unknown solver %q", c.Solver))
	}
	if c.MaxIterations < 1 {
		result = multierror.Append(result, fmt.Errorf("max_iterations must be >= 1, got %d", c.MaxIterations))
	}
	if c.RelTolerance < 0 || c.AbsTolerance < 0 {
		result = multierror.Append(result, errors.New("tolerances must be >= 0"))
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		result = multierror.Append(result, err)
	}
	if err := c.lmOpt().Validate(); err != nil {
		result = multierror.Append(result, fmt.Errorf("lm: %w", err))
	}
	if c.GS.Lambda < 0 || c.GS.Tolerance < 0 {
		result = multierror.Append(result, errors.New("gauss_seidel: lambda and tolerance must be >= 0"))
	}
	return result.ErrorOrNil()
}

// Level of the configured log level. Invalid levels give warning.
func (c Config) Level() logrus.Level {
	l, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.WarnLevel
	}
	return l
}

func (c Config) linOpt() *LinOpt {
	return &LinOpt{Workers: c.Workers}
}

func (c Config) lmOpt() *LMOpt {
	opt := NewLMOpt()
	opt.Lambda = c.LM.Lambda
	opt.LambdaMin = c.LM.LambdaMin
	opt.LambdaMax = c.LM.LambdaMax
	opt.Scale = c.LM.Scale
	opt.Lin = c.linOpt()
	opt.Natural = c.NaturalOrdering
	return opt
}

// NewSolver creates the configured solver for g
func (c Config) NewSolver(g *Graph, log logrus.FieldLogger, m *Metrics) (Solver, error) {
	switch c.Solver {
	case SOLVER_DIRECT:
		opt := NewDirectOpt()
		opt.Lin = c.linOpt()
		opt.Natural = c.NaturalOrdering
		opt.Logger, opt.Metrics = log, m
		return NewDirectSolver(g, opt), nil
	case SOLVER_LM:
		opt := c.lmOpt()
		opt.Logger, opt.Metrics = log, m
		return NewLMSolver(g, opt)
	case SOLVER_GS:
		opt := NewGSOpt()
		opt.Lambda = c.GS.Lambda
		opt.Tolerance = c.GS.Tolerance
		opt.Logger, opt.Metrics = log, m
		return NewGSSolver(g, opt), nil
	}
	return nil, fmt.Errorf("unknown solver %q", c.Solver)
}

// OptimizeOpt returns the driver options of the configuration
func (c Config) OptimizeOpt(log logrus.FieldLogger) *OptimizeOpt {
	opt := NewOptimizeOpt()
	opt.MaxIterations = c.MaxIterations
	opt.RelTolerance = c.RelTolerance
	opt.AbsTolerance = c.AbsTolerance
	opt.Logger = log
	return opt
}
