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
)

// Sentinel errors. Check with errors.Is.
var (
	ErrArity               = errors.New("posegraph: wrong number of variables for factor")
	ErrDimension           = errors.New("posegraph: dimension mismatch")
	ErrCovariance          = errors.New("posegraph: covariance is not symmetric positive definite")
	ErrUnknownVariable     = errors.New("posegraph: unknown variable id")
	ErrMixture             = errors.New("posegraph: invalid mixture")
	ErrNotPositiveDefinite = errors.New("posegraph: information matrix is not positive definite")
	ErrUnknownKind         = errors.New("posegraph: unknown type name")
	ErrTruncated           = errors.New("posegraph: unexpected end of input")
	ErrSyntax              = errors.New("posegraph: syntax error")
	ErrNotSerializable     = errors.New("posegraph: factor cannot be serialized")
	ErrEmptyGraph          = errors.New("posegraph: graph has no variables")
	ErrUnregistered        = errors.New("posegraph: variable or factor bypassed AddVariable/AddFactor")
)

// FactorError reports a precondition violation of one factor.
// Index is the factor index in the graph (-1 before insertion),
// Var is the offending variable id (-1 if not variable specific).
type FactorError struct {
	Index int
	Var   int
	Err   error
}

func (e *FactorError) Error() string {
	switch {
	case e.Index >= 0 && e.Var >= 0:
		return fmt.Sprintf("factor %d (variable %d): %v", e.Index, e.Var, e.Err)
	case e.Index >= 0:
		return fmt.Sprintf("factor %d: %v", e.Index, e.Err)
	case e.Var >= 0:
		return fmt.Sprintf("factor (variable %d): %v", e.Var, e.Err)
	}
	return fmt.Sprintf("factor: %v", e.Err)
}

func (e *FactorError) Unwrap() error { return e.Err }

// FactorizationError is returned when the Cholesky factorization hits a
// non positive definite pivot block. Var is the variable owning that block.
type FactorizationError struct {
	Var  int
	Step int // elimination step (position in the ordering)
	Err  error
}

func (e *FactorizationError) Error() string {
	return fmt.Sprintf("cholesky failed at step %d (variable %d): %v", e.Step, e.Var, e.Err)
}

func (e *FactorizationError) Unwrap() error { return e.Err }

// ParseError reports where reading a serialized graph failed.
type ParseError struct {
	Line int
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
