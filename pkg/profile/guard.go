package profile

import (
	"context"
	"fmt"
	"time"

	"go.starlark.net/starlark"
)

// GuardEvaluator evaluates step guard expressions written in Starlark.
// Guards are single boolean expressions over host facts, e.g.
// `os["id"] == "debian" and "audio" in groups`.
type GuardEvaluator struct {
	timeout time.Duration
}

// NewGuardEvaluator creates a guard evaluator. A zero timeout defaults to
// ten seconds; guards are expressions, not programs, and should return
// immediately.
func NewGuardEvaluator(timeout time.Duration) *GuardEvaluator {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &GuardEvaluator{timeout: timeout}
}

// Eval evaluates the expression with facts as predeclared names and
// returns its boolean result. A non-boolean result is an error, not a
// truthiness guess.
func (g *GuardEvaluator) Eval(ctx context.Context, expr string, facts map[string]interface{}) (bool, error) {
	evalCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	type result struct {
		value bool
		err   error
	}
	ch := make(chan result, 1)

	go func() {
		v, err := g.evalSync(expr, facts)
		ch <- result{value: v, err: err}
	}()

	select {
	case <-evalCtx.Done():
		return false, fmt.Errorf("guard %q: evaluation timeout after %v", expr, g.timeout)
	case r := <-ch:
		return r.value, r.err
	}
}

func (g *GuardEvaluator) evalSync(expr string, facts map[string]interface{}) (bool, error) {
	thread := &starlark.Thread{
		Name:  "guard",
		Print: func(_ *starlark.Thread, _ string) {},
	}

	predeclared := starlark.StringDict{}
	for key, val := range facts {
		sv, err := toStarlarkValue(val)
		if err != nil {
			return false, fmt.Errorf("guard fact %s: %w", key, err)
		}
		predeclared[key] = sv
	}

	v, err := starlark.Eval(thread, "guard.star", expr, predeclared)
	if err != nil {
		return false, fmt.Errorf("guard %q: %w", expr, err)
	}

	b, ok := v.(starlark.Bool)
	if !ok {
		return false, fmt.Errorf("guard %q: result is %s, want bool", expr, v.Type())
	}
	return bool(b), nil
}

// toStarlarkValue converts a Go fact value to a Starlark value.
func toStarlarkValue(v interface{}) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}
	switch val := v.(type) {
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []interface{}:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			sv, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = sv
		}
		return starlark.NewList(list), nil
	case map[string]interface{}:
		dict := starlark.NewDict(len(val))
		for k, item := range val {
			sv, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), sv); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported fact type %T", v)
	}
}
