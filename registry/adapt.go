package registry

import (
	"context"
	"fmt"
	"reflect"

	"github.com/mitchellh/mapstructure"
)

// buildEntry validates fn's signature and records enough reflect metadata to
// invoke it later without repeating the checks on every dispatch.
func buildEntry(name string, fn any) (*Entry, error) {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func {
		return nil, fmt.Errorf("%q: fn must be a function, got %s", name, v.Kind())
	}
	t := v.Type()
	if t.NumIn() == 0 || t.In(0) != ctxType {
		return nil, fmt.Errorf("%q: fn's first parameter must be context.Context", name)
	}
	if t.NumOut() != 2 || t.Out(1) != errType {
		return nil, fmt.Errorf("%q: fn must return (result, error)", name)
	}

	e := &Entry{Name: name, fn: v}
	rest := t.NumIn() - 1
	switch {
	case rest == 0:
		// ctx only.
	case rest == 1 && t.In(1) == progressType:
		e.hasProgress = true
	case rest == 1:
		e.argsType = t.In(1)
	case rest == 2 && t.In(2) == progressType:
		e.argsType = t.In(1)
		e.hasProgress = true
	default:
		return nil, fmt.Errorf("%q: unsupported parameter shape %s", name, t)
	}
	return e, nil
}

// Invoke decodes inputs into the entry's declared args type (if any),
// injects progress unconditionally when the function declared a
// ProgressFunc parameter, and calls fn. The returned value is whatever the
// task function produced; callers are responsible for serializing it into a
// domain.TaskResult.
func (e *Entry) Invoke(ctx context.Context, inputs map[string]any, progress ProgressFunc) (any, error) {
	args := []reflect.Value{reflect.ValueOf(ctx)}

	if e.argsType != nil {
		argPtr := reflect.New(e.argsType)
		dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			Result:           argPtr.Interface(),
			WeaklyTypedInput: true,
			TagName:          "task",
		})
		if err != nil {
			return nil, fmt.Errorf("task %q: build input decoder: %w", e.Name, err)
		}
		if err := dec.Decode(inputs); err != nil {
			return nil, fmt.Errorf("task %q: decode inputs: %w", e.Name, err)
		}
		args = append(args, argPtr.Elem())
	}
	if e.hasProgress {
		args = append(args, reflect.ValueOf(progress))
	}

	out := e.fn.Call(args)
	result := out[0].Interface()
	errVal := out[1].Interface()
	if errVal != nil {
		return nil, errVal.(error)
	}
	return result, nil
}
