package framework

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"

	"google.golang.org/protobuf/types/known/structpb"
)

// Handler implements one provided command. Its return value becomes the
// retval of the result bag.
type Handler func(args Args) (any, error)

// Invoke runs h against a host argument bag and packs the return value under
// RetvalKey. Argument completeness is not checked here; a missing argument
// surfaces from the handler itself.
func Invoke(h Handler, args Args) (Args, error) {
	if args == nil {
		args = Args{}
	}
	ret, err := h(args)
	if err != nil {
		return nil, err
	}
	v, err := EncodeResult(ret)
	if err != nil {
		return nil, err
	}
	return Args{RetvalKey: v}, nil
}

// EncodeResult normalizes a command return value into a JSON value tree:
// nil, bool, string, float64, Go integers, []any or map[string]any,
// recursively. Integers keep their Go type so values beyond 2^53 survive.
// Go structs and named types go through their JSON encoding first.
func EncodeResult(v any) (any, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return val, nil
	case Args:
		return encodeMap(val)
	case map[string]any:
		return encodeMap(val)
	case []any:
		return encodeSlice(val)
	}
	if pv, err := structpb.NewValue(v); err == nil {
		return pv.AsInterface(), nil
	}
	return encodeJSON(v)
}

func encodeMap(m map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(m))
	for k, e := range m {
		ev, err := EncodeResult(e)
		if err != nil {
			return nil, err
		}
		out[k] = ev
	}
	return out, nil
}

func encodeSlice(s []any) ([]any, error) {
	out := make([]any, len(s))
	for i, e := range s {
		ev, err := EncodeResult(e)
		if err != nil {
			return nil, err
		}
		out[i] = ev
	}
	return out, nil
}

// encodeJSON round-trips v through encoding/json, decoding integral numbers
// as int64 or uint64.
func encodeJSON(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnencodable, err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnencodable, err)
	}
	return numbers(tree)
}

func numbers(v any) (any, error) {
	switch val := v.(type) {
	case json.Number:
		if i, err := strconv.ParseInt(val.String(), 10, 64); err == nil {
			return i, nil
		}
		if u, err := strconv.ParseUint(val.String(), 10, 64); err == nil {
			return u, nil
		}
		f, err := val.Float64()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnencodable, err)
		}
		return f, nil
	case map[string]any:
		for k, e := range val {
			n, err := numbers(e)
			if err != nil {
				return nil, err
			}
			val[k] = n
		}
		return val, nil
	case []any:
		for i, e := range val {
			n, err := numbers(e)
			if err != nil {
				return nil, err
			}
			val[i] = n
		}
		return val, nil
	}
	return v, nil
}

// Bind adapts a plain Go function to a Handler. Parameters are filled from the
// argument bag by the given names, in order. fn may return nothing, a value,
// an error, or a value and an error.
func Bind(fn any, names ...string) (Handler, error) {
	fv := reflect.ValueOf(fn)
	ft := fv.Type()
	if ft.Kind() != reflect.Func {
		return nil, fmt.Errorf("bind: %T is not a function", fn)
	}
	if ft.IsVariadic() || ft.NumIn() != len(names) {
		return nil, fmt.Errorf("bind: function takes %d parameters, %d names given", ft.NumIn(), len(names))
	}
	errType := reflect.TypeOf((*error)(nil)).Elem()
	switch ft.NumOut() {
	case 0, 1:
	case 2:
		if ft.Out(1) != errType {
			return nil, fmt.Errorf("bind: second result of %s must be error", ft)
		}
	default:
		return nil, fmt.Errorf("bind: function returns %d values", ft.NumOut())
	}

	return func(args Args) (any, error) {
		in := make([]reflect.Value, len(names))
		for i, name := range names {
			v, err := args.Value(name)
			if err != nil {
				return nil, err
			}
			rv, err := convertArg(name, v, ft.In(i))
			if err != nil {
				return nil, err
			}
			in[i] = rv
		}
		out := fv.Call(in)
		switch len(out) {
		case 0:
			return nil, nil
		case 1:
			if ft.Out(0) == errType {
				err, _ := out[0].Interface().(error)
				return nil, err
			}
			return out[0].Interface(), nil
		default:
			err, _ := out[1].Interface().(error)
			return out[0].Interface(), err
		}
	}, nil
}

func convertArg(name string, v any, want reflect.Type) (reflect.Value, error) {
	if v == nil {
		return reflect.Zero(want), nil
	}
	rv := reflect.ValueOf(v)
	if rv.Type().AssignableTo(want) {
		return rv, nil
	}
	if isNumeric(rv.Kind()) && isNumeric(want.Kind()) {
		return rv.Convert(want), nil
	}
	switch want.Kind() {
	case reflect.Map, reflect.Slice, reflect.Struct, reflect.Pointer:
		raw, err := json.Marshal(v)
		if err != nil {
			return reflect.Value{}, fmt.Errorf("%w: '%s': %v", ErrInvalidArgument, name, err)
		}
		ptr := reflect.New(want)
		if err := json.Unmarshal(raw, ptr.Interface()); err != nil {
			return reflect.Value{}, fmt.Errorf("%w: '%s': %v", ErrInvalidArgument, name, err)
		}
		return ptr.Elem(), nil
	}
	return reflect.Value{}, invalidArgument(name, want.String(), v)
}

func isNumeric(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

// BoundCall is the module-side callable for one peer command.
type BoundCall struct {
	name      string
	arguments []string
	call      CallPrimitive
}

func NewBoundCall(name string, cmd CallCommand) *BoundCall {
	return &BoundCall{
		name:      name,
		arguments: append([]string(nil), cmd.Arguments...),
		call:      cmd.Call,
	}
}

func (c *BoundCall) Name() string { return c.name }

// Arguments returns the declared argument names in order.
func (c *BoundCall) Arguments() []string {
	return append([]string(nil), c.arguments...)
}

// Call invokes the peer command with positional arguments only.
func (c *BoundCall) Call(args ...any) (any, error) {
	return c.CallKw(nil, args...)
}

// CallKw invokes the peer command. Positional values fill the declared names
// in order, then kwargs are applied by name and win over positional values.
// The call blocks until the peer answers.
func (c *BoundCall) CallKw(kwargs Args, args ...any) (any, error) {
	bag, err := MergeArgs(c.arguments, args, kwargs)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", c.name, err)
	}
	res, err := c.call(bag)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", c.name, err)
	}
	ret, ok := res[RetvalKey]
	if !ok {
		return nil, fmt.Errorf("call %s: %w", c.name, ErrMissingRetval)
	}
	return ret, nil
}

// MergeArgs builds the argument bag for an outbound call. Declared names that
// receive no value are sent as nil.
func MergeArgs(names []string, positional []any, kwargs Args) (Args, error) {
	if len(positional) > len(names) {
		return nil, fmt.Errorf("%w: got %d, %d declared", ErrTooManyArguments, len(positional), len(names))
	}
	bag := make(Args, len(names)+len(kwargs))
	for _, name := range names {
		bag[name] = nil
	}
	for i, v := range positional {
		bag[names[i]] = v
	}
	for k, v := range kwargs {
		bag[k] = v
	}
	return bag, nil
}
