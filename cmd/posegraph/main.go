// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.10.15
//

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"

	m "github.com/mkhts/posegraph"
)

func main() {

	// Parse command line arguments
	args, err := parseArgs()
	if err != nil {
		flag.Usage()
		os.Exit(1)
	}

	// Run the main application
	if err := runApplication(args); err != nil {
		logrus.WithError(err).Error("posegraph failed")
		os.Exit(1)
	}
}

// Main application processing
func runApplication(args cmdOpt) error {

	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}
	log := logrus.StandardLogger()
	log.SetLevel(cfg.Level())
	if args.dbgSet {
		log.SetLevel(m.DebugLevel(args.dbg))
	}

	// Load or generate the graph
	g, err := loadGraph(args)
	if err != nil {
		return fmt.Errorf("failed to load graph: %w", err)
	}
	if args.reset {
		g.Reset()
	}
	if err := g.Validate(); err != nil {
		return fmt.Errorf("invalid graph: %w", err)
	}
	for _, c := range g.Unanchored() {
		log.WithField("vars", c).Warn("component without unary factor, the information matrix may be singular")
	}

	// Metrics
	var reg *prometheus.Registry
	var metrics *m.Metrics
	if len(args.metricsFn) > 0 {
		reg = prometheus.NewRegistry()
		metrics = m.NewMetrics(reg)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// Optimize
	solver, err := cfg.NewSolver(g, log, metrics)
	if err != nil {
		return err
	}
	out := os.Stdout
	printHeader(out, args, cfg, g)
	opt := cfg.OptimizeOpt(log)
	opt.OnIteration = func(p m.Progress) {
		fmt.Fprintf(out, "%5d %16.6f %5t %10.3f\n", p.Iter, p.Chi2, p.Accepted, p.Elapsed.Seconds())
	}
	res, err := m.Optimize(ctx, g, solver, opt)
	printResult(out, res)
	if err != nil {
		return fmt.Errorf("optimization stopped: %w", err)
	}

	// Covariance report
	if len(args.covIDs) > 0 {
		if err := printCovariance(ctx, out, g, args.covIDs, cfg.Workers); err != nil {
			return fmt.Errorf("failed to compute covariance: %w", err)
		}
	}

	// Write results
	if len(args.outFn) > 0 {
		if err := m.WriteGraphFile(args.outFn, g); err != nil {
			return fmt.Errorf("failed to write graph: %w", err)
		}
	}
	if reg != nil {
		if err := prometheus.WriteToTextfile(args.metricsFn, reg); err != nil {
			return fmt.Errorf("failed to write metrics: %w", err)
		}
	}
	return nil
}

// Config file and environment, then command line overrides
func loadConfig(args cmdOpt) (m.Config, error) {
	cfg, err := m.LoadConfig(args.cfgFn)
	if err != nil {
		return cfg, err
	}
	if args.set["s"] {
		cfg.Solver = args.solver
	}
	if args.set["n"] {
		cfg.MaxIterations = args.maxIter
	}
	if args.set["w"] {
		cfg.Workers = args.workers
	}
	if args.set["natural"] {
		cfg.NaturalOrdering = args.natural
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid options: %w", err)
	}
	return cfg, nil
}

// Read the input graph, or synthesize one
func loadGraph(args cmdOpt) (*m.Graph, error) {
	if args.sim > 0 {
		opt := m.NewSynthOpt()
		opt.NumPoses = args.sim
		opt.Seed = args.seed
		opt.NumOutliers = args.outliers
		opt.Robust = args.robust
		return m.Synthesize(opt)
	}
	return m.ReadGraphFile(args.inFn)
}

func printHeader(w io.Writer, args cmdOpt, cfg m.Config, g *m.Graph) {
	input := args.inFn
	if args.sim > 0 {
		input = fmt.Sprintf("synthetic (%d poses, seed %d)", args.sim, args.seed)
	}
	fmt.Fprintf(w, "%% program   : %s\n", filepath.Base(os.Args[0]))
	fmt.Fprintf(w, "%% inp graph : %s\n", input)
	fmt.Fprintf(w, "%% solver    : %s\n", cfg.Solver)
	fmt.Fprintf(w, "%% variables : %d (state length %d)\n", len(g.Vars), g.StateLen())
	fmt.Fprintf(w, "%% factors   : %d\n", len(g.Factors))
	fmt.Fprintf(w, "%%  iter             chi2   acc    time(s)\n")
	fmt.Fprintf(w, "%5d %16.6f %5t %10.3f\n", 0, g.Chi2(), true, 0.0)
}

func printResult(w io.Writer, res *m.OptimizeResult) {
	if res == nil {
		return
	}
	fmt.Fprintf(w, "%% stop      : %s after %d iterations\n", res.Reason, res.Iterations)
	fmt.Fprintf(w, "%% chi2      : %.6f -> %.6f (%.6f per dof)\n", res.InitialChi2, res.FinalChi2, res.Stats.Chi2PerDOF)
	if res.Stats.NumTruth > 0 {
		fmt.Fprintf(w, "%% mse       : %.6f m^2, %.6f rad^2 (%d with truth)\n", res.Stats.MSE, res.Stats.MSERot, res.Stats.NumTruth)
	}
}

func printCovariance(ctx context.Context, w io.Writer, g *m.Graph, ids []int, workers int) error {
	cov, err := m.ComputeCovariance(ctx, g, &m.LinOpt{Workers: workers})
	if err != nil {
		return err
	}
	for _, id := range ids {
		marg, err := cov.Marginal(id)
		if err != nil {
			return err
		}
		cond, err := cov.Conditional(id)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%% marginal covariance of %d\n%v\n", id, mat.Formatted(marg, mat.Prefix(""), mat.Squeeze()))
		fmt.Fprintf(w, "%% conditional covariance of %d\n%v\n", id, mat.Formatted(cond, mat.Prefix(""), mat.Squeeze()))
	}
	return nil
}

// Structure to hold command line argument information
type cmdOpt struct {
	inFn      string
	outFn     string
	cfgFn     string
	metricsFn string
	solver    string
	maxIter   int
	workers   int
	natural   bool
	reset     bool
	covIDs    m.IDVar
	sim       int
	seed      uint64
	outliers  int
	robust    bool
	dbg       int
	dbgSet    bool
	set       map[string]bool // flags given on the command line
}

// Parse command line arguments
func parseArgs() (a cmdOpt, err error) {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `
[Usage]
	%s [Options] graph.txt          (optimize a graph file)
	%s [Options] -sim N             (optimize a synthetic pose2 graph)

[Options]
`, filepath.Base(os.Args[0]), filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	cfg := m.DefaultConfig()
	flag.StringVar(&a.cfgFn, "c", "", "YAML configuration file. POSEGRAPH_* environment variables override it, options below override both.")
	flag.StringVar(&a.solver, "s", cfg.Solver, "Solver. direct, lm or gauss-seidel")
	flag.IntVar(&a.maxIter, "n", cfg.MaxIterations, "Maximum number of iterations")
	flag.IntVar(&a.workers, "w", cfg.Workers, "Number of factors linearized in parallel")
	flag.BoolVar(&a.natural, "natural", cfg.NaturalOrdering, "Eliminate variables in graph order instead of minimum degree order")
	flag.BoolVar(&a.reset, "reset", false, "Start from the initial guesses instead of the stored states")
	flag.StringVar(&a.outFn, "o", "", "Output graph file path. If not specified, the optimized graph is not written.")
	flag.Var(&a.covIDs, "cov", "Comma-separated variable ids to print marginal and conditional covariances for")
	flag.StringVar(&a.metricsFn, "metrics", "", "Write solver metrics in Prometheus text format to this file")
	flag.IntVar(&a.sim, "sim", 0, "Number of poses of a synthetic graph. 0 reads the graph file")
	flag.Uint64Var(&a.seed, "seed", 1, "Random seed of the synthetic graph")
	flag.IntVar(&a.outliers, "outliers", 0, "Number of bogus loop closures in the synthetic graph")
	flag.BoolVar(&a.robust, "robust", false, "Model synthetic loop closures as mixtures with a null hypothesis")
	flag.IntVar(&a.dbg, "x", 0, "Debug information display. Specify level value. 0(warnings), 1(iterations), 2(solver steps), 3(matrices)")
	flag.Parse()

	a.set = map[string]bool{}
	flag.Visit(func(f *flag.Flag) { a.set[f.Name] = true })
	a.dbgSet = a.set["x"]

	switch {
	case a.sim > 0 && flag.NArg() == 0:
	case a.sim == 0 && flag.NArg() == 1:
		a.inFn = flag.Arg(0)
	default:
		return a, fmt.Errorf("too less or many arguments")
	}
	return
}
