// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.10.15
//

package posegraph

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

// ------------------------------------
// Mini functions
// ------------------------------------

func SQ(x float64) float64 {
	return x * x
}

func ToDeg(rad float64) float64 {
	return rad / PI * 180.0
}

func ToRad(deg float64) float64 {
	return deg / 180.0 * PI
}

// ------------------------------------
// Logging
// ------------------------------------

func defaultLogger() logrus.FieldLogger {
	return logrus.StandardLogger()
}

func loggerOr(l logrus.FieldLogger) logrus.FieldLogger {
	if l == nil {
		return defaultLogger()
	}
	return l
}

// DebugLevel maps the command line debug count to a log level
// (0: warn, 1: info, 2: debug, 3 or more: trace)
func DebugLevel(n int) logrus.Level {
	switch {
	case n <= 0:
		return logrus.WarnLevel
	case n == 1:
		return logrus.InfoLevel
	case n == 2:
		return logrus.DebugLevel
	default:
		return logrus.TraceLevel
	}
}

// Dump a matrix at trace level
func logMat(log logrus.FieldLogger, name string, X mat.Matrix) {
	var e *logrus.Entry
	switch l := log.(type) {
	case *logrus.Entry:
		e = l
	case *logrus.Logger:
		e = logrus.NewEntry(l)
	default:
		return
	}
	if !e.Logger.IsLevelEnabled(logrus.TraceLevel) {
		return
	}
	r, c := X.Dims()
	fa := mat.Formatted(X, mat.Prefix(""), mat.Squeeze())
	e.Tracef("%s (%d x %d)\n%v", name, r, c, fa)
}

// Format a float slice for log output
func fmtVec(v []float64) string {
	return fmt.Sprintf("%.6g", v)
}

// ------------------------------------
// For command argument parsing
// ------------------------------------

// Comma-separated list of variable ids
type IDVar []int

func (p *IDVar) Set(s string) error {
	*p = []int{}
	for _, a := range strings.Split(s, ",") {
		id, err := strconv.Atoi(strings.TrimSpace(a))
		if err != nil {
			return fmt.Errorf("bad variable id %q: %w", a, err)
		}
		*p = append(*p, id)
	}
	return nil
}

func (p *IDVar) String() string {
	if p == nil {
		return ""
	}
	s := make([]string, len(*p))
	for i, id := range *p {
		s[i] = strconv.Itoa(id)
	}
	return strings.Join(s, ",")
}
