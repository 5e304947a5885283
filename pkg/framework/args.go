package framework

import (
	"fmt"
	"math"
)

// Value returns the named argument or ErrMissingArgument.
func (a Args) Value(name string) (any, error) {
	v, ok := a[name]
	if !ok {
		return nil, fmt.Errorf("%w: '%s'", ErrMissingArgument, name)
	}
	return v, nil
}

func (a Args) String(name string) (string, error) {
	v, err := a.Value(name)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", invalidArgument(name, "string", v)
	}
	return s, nil
}

func (a Args) Bool(name string) (bool, error) {
	v, err := a.Value(name)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, invalidArgument(name, "bool", v)
	}
	return b, nil
}

// Float accepts any Go number; values decoded from JSON arrive as float64.
func (a Args) Float(name string) (float64, error) {
	v, err := a.Value(name)
	if err != nil {
		return 0, err
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint:
		return float64(n), nil
	case uint32:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	default:
		return 0, invalidArgument(name, "number", v)
	}
}

// Int accepts integers and integral floats.
func (a Args) Int(name string) (int64, error) {
	f, err := a.Float(name)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) {
		return 0, invalidArgument(name, "integer", f)
	}
	return int64(f), nil
}

func (a Args) Map(name string) (map[string]any, error) {
	v, err := a.Value(name)
	if err != nil {
		return nil, err
	}
	switch m := v.(type) {
	case map[string]any:
		return m, nil
	case Args:
		return m, nil
	default:
		return nil, invalidArgument(name, "object", v)
	}
}

func (a Args) Slice(name string) ([]any, error) {
	v, err := a.Value(name)
	if err != nil {
		return nil, err
	}
	s, ok := v.([]any)
	if !ok {
		return nil, invalidArgument(name, "array", v)
	}
	return s, nil
}

func invalidArgument(name, want string, got any) error {
	return fmt.Errorf("%w: '%s' want %s, got %T", ErrInvalidArgument, name, want, got)
}
