// Package depscope implements an ordered setup/teardown list of named
// dependencies (§4.8): enter functions run in declaration order, a failed
// enter unwinds everything already entered in reverse order, and teardown
// failures are collected rather than allowed to abort the unwind.
package depscope

import (
	"context"
	"fmt"
	"strings"
)

// Dependency is one named (enter, exit) pair managed by a Scope.
type Dependency struct {
	Name  string
	Enter func(ctx context.Context) error
	Exit  func(ctx context.Context, cause error) error
}

// Scope runs a declared list of Dependencies through Enter/Exit with the
// ordering guarantees of §4.8.
type Scope struct {
	deps    []Dependency
	entered []Dependency
}

// New builds a Scope over deps, preserving declaration order.
func New(deps ...Dependency) *Scope {
	return &Scope{deps: deps}
}

// Enter runs each dependency's Enter function in declaration order. If one
// fails, every dependency entered so far is torn down in reverse order
// before Enter returns the original error wrapped with any teardown
// failures collected along the way.
func (s *Scope) Enter(ctx context.Context) error {
	for _, d := range s.deps {
		if err := d.Enter(ctx); err != nil {
			enterErr := fmt.Errorf("depscope: enter %q: %w", d.Name, err)
			if tErr := s.unwind(ctx, enterErr); tErr != nil {
				return fmt.Errorf("%w (teardown also failed: %s)", enterErr, tErr)
			}
			return enterErr
		}
		s.entered = append(s.entered, d)
	}
	return nil
}

// Exit tears down every entered dependency in reverse order, passing cause
// (nil on a clean shutdown) to each Exit function. It always attempts every
// teardown even if earlier ones fail, and returns a *TeardownError
// collecting all failures, or nil if every teardown succeeded.
func (s *Scope) Exit(ctx context.Context, cause error) error {
	return s.unwind(ctx, cause)
}

func (s *Scope) unwind(ctx context.Context, cause error) error {
	var failures []DependencyError
	for i := len(s.entered) - 1; i >= 0; i-- {
		d := s.entered[i]
		if d.Exit == nil {
			continue
		}
		if err := d.Exit(ctx, cause); err != nil {
			failures = append(failures, DependencyError{Name: d.Name, Err: err})
		}
	}
	s.entered = nil
	if len(failures) == 0 {
		return nil
	}
	return &TeardownError{Failures: failures}
}

// DependencyError pairs a teardown failure with the dependency that
// produced it.
type DependencyError struct {
	Name string
	Err  error
}

func (e DependencyError) Error() string {
	return fmt.Sprintf("%s: %s", e.Name, e.Err)
}

// TeardownError collects every teardown failure observed during a Scope's
// unwind. No third-party multierror package appears anywhere in the
// retrieved corpus, so this is hand-rolled rather than borrowed.
type TeardownError struct {
	Failures []DependencyError
}

func (e *TeardownError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = f.Error()
	}
	return fmt.Sprintf("depscope: %d teardown failure(s): %s", len(e.Failures), strings.Join(parts, "; "))
}

// Unwrap exposes the individual teardown errors so errors.Is/As can walk
// into them.
func (e *TeardownError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f.Err
	}
	return errs
}
