// Package registry is the process-local task-function table (§4.6). It is
// populated at process start by side-effecting Register calls — the Go
// analogue of the source's import-time decorator registration — and is
// read-only once the worker pool starts serving tasks (§5: "the registry is
// read-only after process start; no locking needed").
package registry

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/icij/taskworker/domain"
)

// ProgressFunc reports a fractional completion in [0, 100] for the task
// currently executing. Registered functions that declare a ProgressFunc
// parameter receive one bound to the running task; the worker uses the
// callback as the sole cancellation injection point (§4.4 step 6).
type ProgressFunc func(progress float64)

var (
	ctxType      = reflect.TypeOf((*context.Context)(nil)).Elem()
	progressType = reflect.TypeOf((ProgressFunc)(nil))
	errType      = reflect.TypeOf((*error)(nil)).Elem()
)

// Entry is one registered task type.
type Entry struct {
	Name              string
	fn                reflect.Value
	argsType          reflect.Type // nil if fn takes no args besides ctx/progress
	hasProgress       bool
	recoverableErrors map[reflect.Type]struct{}
	maxRetries        *int
}

// MaxRetries returns the configured retry ceiling, or nil if unbounded
// (worker.Worker still enforces its own HardRetryCeiling in that case).
func (e *Entry) MaxRetries() *int { return e.maxRetries }

// IsRecoverable reports whether err's concrete type is in the entry's
// declared recoverable set.
func (e *Entry) IsRecoverable(err error) bool {
	if len(e.recoverableErrors) == 0 {
		return false
	}
	_, ok := e.recoverableErrors[reflect.TypeOf(err)]
	return ok
}

// Registry maps task type names to Entries.
type Registry struct {
	entries map[string]*Entry
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{entries: make(map[string]*Entry)}
}

// Option configures a Register call.
type Option func(*Entry)

// WithRecoverableErrors declares which error types trigger a retry rather
// than a fatal transition to ERROR (§4.6, §7 "Recoverable error").
func WithRecoverableErrors(errs ...error) Option {
	return func(e *Entry) {
		if e.recoverableErrors == nil {
			e.recoverableErrors = make(map[reflect.Type]struct{}, len(errs))
		}
		for _, err := range errs {
			e.recoverableErrors[reflect.TypeOf(err)] = struct{}{}
		}
	}
}

// WithMaxRetries sets a per-task-type retry ceiling. Leaving it unset means
// unbounded, per the Open Question in spec §9 — worker.Worker's
// HardRetryCeiling provides the conservative backstop in that case.
func WithMaxRetries(n int) Option {
	return func(e *Entry) { e.maxRetries = &n }
}

// Register binds name to fn. fn must be a function of shape:
//
//	func(ctx context.Context[, args ArgsStruct][, progress registry.ProgressFunc]) (result any, err error)
//
// ArgsStruct, if present, is populated from Task.Inputs via mapstructure
// (adapt.go) — the small reflection-based adapter called out in spec §9's
// "dynamic task registration" notes. A ProgressFunc parameter, if present,
// is injected unconditionally; task functions that don't declare one simply
// never report progress. Duplicate registration of the same name is an
// error (§4.6).
func (r *Registry) Register(name string, fn any, opts ...Option) error {
	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("registry: task type %q already registered", name)
	}
	e, err := buildEntry(name, fn)
	if err != nil {
		return fmt.Errorf("registry: %w", err)
	}
	for _, o := range opts {
		o(e)
	}
	r.entries[name] = e
	return nil
}

// Lookup returns the Entry for name, or domain.ErrUnregisteredTask (with the
// available names listed) if none is registered.
func (r *Registry) Lookup(name string) (*Entry, error) {
	e, ok := r.entries[name]
	if ok {
		return e, nil
	}
	names := make([]string, 0, len(r.entries))
	for n := range r.entries {
		names = append(names, n)
	}
	sort.Strings(names)
	return nil, fmt.Errorf("%w: %q (available: %s)", domain.ErrUnregisteredTask, name, strings.Join(names, ", "))
}
