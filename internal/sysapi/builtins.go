package sysapi

import (
	"context"
	"sync"
	"time"

	"github.com/roach88/xtsunit/internal/ir"
)

// registerBuiltins adds the generic APIs used to model promise behaviour.
//
//	echo               resolves with args.value
//	reject             rejects with APIError{args.code (401), args.message}
//	hang               never resolves; returns when the context is cancelled
//	delay              resolves with args.value after args.ms milliseconds
//	counter.next       returns 1, 2, 3... per args.name
//	typedarray.float32 builds a Float32Array from args.values
func registerBuiltins(r *Registry) error {
	counters := &counterSet{values: make(map[string]int)}
	builtins := map[string]API{
		"echo":               echo,
		"reject":             reject,
		"hang":               hang,
		"delay":              delay,
		"counter.next":       counters.next,
		"typedarray.float32": float32Array,
	}
	for name, api := range builtins {
		if err := r.Register(name, api); err != nil {
			return err
		}
	}
	return nil
}

func echo(_ context.Context, args ir.Object) (ir.Value, error) {
	return argValue(args, "value"), nil
}

func reject(_ context.Context, args ir.Object) (ir.Value, error) {
	code, err := optNumber(args, "code", CodeParamError)
	if err != nil {
		return nil, err
	}
	msg, err := optString(args, "message", "rejected")
	if err != nil {
		return nil, err
	}
	return nil, &APIError{Code: int(code), Message: msg}
}

func hang(ctx context.Context, _ ir.Object) (ir.Value, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func delay(ctx context.Context, args ir.Object) (ir.Value, error) {
	ms, err := argNumber(args, "ms")
	if err != nil {
		return nil, err
	}
	if ms < 0 {
		return nil, paramError("The value of %q must not be negative.", "ms")
	}
	timer := time.NewTimer(time.Duration(ms * float64(time.Millisecond)))
	defer timer.Stop()
	select {
	case <-timer.C:
		return argValue(args, "value"), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type counterSet struct {
	mu     sync.Mutex
	values map[string]int
}

func (c *counterSet) next(_ context.Context, args ir.Object) (ir.Value, error) {
	name, err := optString(args, "name", "default")
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[name]++
	return ir.Number(c.values[name]), nil
}

func float32Array(_ context.Context, args ir.Object) (ir.Value, error) {
	v, ok := args["values"]
	if !ok {
		return nil, paramError("The %q parameter is required.", "values")
	}
	var elems []float64
	switch vals := v.(type) {
	case ir.Array:
		elems = make([]float64, len(vals))
		for i, elem := range vals {
			n, ok := elem.(ir.Number)
			if !ok {
				return nil, paramError("The elements of %q must be numbers.", "values")
			}
			elems[i] = float64(n)
		}
	case ir.TypedArray:
		elems = vals.Elems
	default:
		return nil, paramError("The type of %q must be array.", "values")
	}
	return ir.NewTypedArray(ir.Float32Array, elems), nil
}
