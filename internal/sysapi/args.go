package sysapi

import (
	"fmt"

	"github.com/roach88/xtsunit/internal/ir"
)

func paramError(format string, args ...any) *APIError {
	return &APIError{Code: CodeParamError, Message: "Parameter error. " + fmt.Sprintf(format, args...)}
}

func argString(args ir.Object, name string) (string, error) {
	v, ok := args[name]
	if !ok {
		return "", paramError("The %q parameter is required.", name)
	}
	s, ok := v.(ir.String)
	if !ok {
		return "", paramError("The type of %q must be string.", name)
	}
	return string(s), nil
}

func argNumber(args ir.Object, name string) (float64, error) {
	v, ok := args[name]
	if !ok {
		return 0, paramError("The %q parameter is required.", name)
	}
	n, ok := v.(ir.Number)
	if !ok {
		return 0, paramError("The type of %q must be number.", name)
	}
	return float64(n), nil
}

// optNumber returns def when name is absent.
func optNumber(args ir.Object, name string, def float64) (float64, error) {
	if _, ok := args[name]; !ok {
		return def, nil
	}
	return argNumber(args, name)
}

// optString returns def when name is absent.
func optString(args ir.Object, name, def string) (string, error) {
	if _, ok := args[name]; !ok {
		return def, nil
	}
	return argString(args, name)
}

func optObject(args ir.Object, name string) (ir.Object, error) {
	v, ok := args[name]
	if !ok {
		return nil, nil
	}
	switch obj := v.(type) {
	case ir.Object:
		return obj, nil
	case ir.Null, ir.Undefined:
		return nil, nil
	}
	return nil, paramError("The type of %q must be object.", name)
}

func argValue(args ir.Object, name string) ir.Value {
	if v, ok := args[name]; ok {
		return v
	}
	return ir.Undefined{}
}
