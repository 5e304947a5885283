package framework

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/charmbracelet/log"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"moduleadapter/pkg/framework"
)

// ScriptModule is a module written in Starlark. The script may define
// pre_init(setup), init() and ready(); provided commands are globals named
// <implementation>_<command> taking keyword arguments. Globals are frozen
// once the file has run, so mutable module state lives in the predeclared
// dict "state".
//
// All calls into the interpreter are serialized.
type ScriptModule struct {
	path   string
	logger *log.Logger

	mu      sync.Mutex
	thread  *starlark.Thread
	globals starlark.StringDict
	state   *starlark.Dict
}

// LoadScriptModule executes the script at path once to collect its globals.
func LoadScriptModule(path string, logger *log.Logger) (*ScriptModule, error) {
	if logger == nil {
		logger = log.Default()
	}
	m := &ScriptModule{path: path, logger: logger, state: starlark.NewDict(0)}
	m.thread = &starlark.Thread{
		Name: "module:" + path,
		Print: func(_ *starlark.Thread, msg string) {
			logger.Info(msg, "script", path)
		},
	}

	predeclared := starlark.StringDict{
		"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
		"state":  m.state,
	}
	globals, err := starlark.ExecFile(m.thread, path, nil, predeclared)
	if err != nil {
		return nil, fmt.Errorf("failed to execute %s: %w", path, err)
	}
	m.globals = globals
	return m, nil
}

var _ framework.Module = (*ScriptModule)(nil)

// Bind exposes the script's command globals through reg.
func (m *ScriptModule) Bind(reg *framework.Registry) {
	reg.SetResolver(m.resolve)
}

func (m *ScriptModule) resolve(name string) (framework.Handler, bool) {
	fn, ok := m.globals[name].(starlark.Callable)
	if !ok {
		return nil, false
	}
	return func(args framework.Args) (any, error) {
		kwargs := make([]starlark.Tuple, 0, len(args))
		for _, k := range sortedKeys(args) {
			v, err := toStarlark(args[k])
			if err != nil {
				return nil, fmt.Errorf("%w: '%s': %v", framework.ErrInvalidArgument, k, err)
			}
			kwargs = append(kwargs, starlark.Tuple{starlark.String(k), v})
		}
		res, err := m.call(fn, nil, kwargs)
		if err != nil {
			return nil, err
		}
		return fromStarlark(res)
	}, true
}

func (m *ScriptModule) PreInit(setup *framework.Setup) error {
	v, err := m.setupValue(setup)
	if err != nil {
		return err
	}
	return m.hook("pre_init", v)
}

func (m *ScriptModule) Init() error  { return m.hook("init") }
func (m *ScriptModule) Ready() error { return m.hook("ready") }

// hook calls an optional lifecycle global.
func (m *ScriptModule) hook(name string, args ...starlark.Value) error {
	fn, ok := m.globals[name].(starlark.Callable)
	if !ok {
		return nil
	}
	_, err := m.call(fn, args, nil)
	return err
}

func (m *ScriptModule) call(fn starlark.Callable, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res, err := starlark.Call(m.thread, fn, args, kwargs)
	if err != nil {
		if evalErr, ok := err.(*starlark.EvalError); ok {
			m.logger.Error("script error", "script", m.path, "backtrace", evalErr.Backtrace())
		}
		return nil, err
	}
	return res, nil
}

// setupValue renders the Setup object as nested structs, e.g.
// setup.r_board_support.call_enable(True).
func (m *ScriptModule) setupValue(setup *framework.Setup) (starlark.Value, error) {
	namespaces := starlark.StringDict{}
	for _, nsName := range setup.Namespaces() {
		ns, err := setup.Namespace(nsName)
		if err != nil {
			return nil, err
		}
		members := starlark.StringDict{}
		for _, memberName := range ns.Members() {
			member, err := ns.Member(memberName)
			if err != nil {
				return nil, err
			}
			members[memberName] = m.memberBuiltin(nsName+"."+memberName, member)
		}
		namespaces[nsName] = starlarkstruct.FromStringDict(starlark.String(nsName), members)
	}
	return starlarkstruct.FromStringDict(starlark.String("setup"), namespaces), nil
}

func (m *ScriptModule) memberBuiltin(name string, member any) *starlark.Builtin {
	switch fn := member.(type) {
	case framework.SubscribeFunc:
		return starlark.NewBuiltin(name, func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var cb starlark.Callable
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "callback", &cb); err != nil {
				return nil, err
			}
			return starlark.None, fn(func(value any) {
				v, err := toStarlark(value)
				if err != nil {
					m.logger.Warn("dropping variable update", "member", name, "err", err)
					return
				}
				if _, err := m.call(cb, starlark.Tuple{v}, nil); err != nil {
					m.logger.Error("subscription callback failed", "member", name, "err", err)
				}
			})
		})
	case *framework.BoundCall:
		return starlark.NewBuiltin(name, func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			positional := make([]any, len(args))
			for i, a := range args {
				v, err := fromStarlark(a)
				if err != nil {
					return nil, fmt.Errorf("%s: %w", b.Name(), err)
				}
				positional[i] = v
			}
			var kw framework.Args
			if len(kwargs) > 0 {
				kw = make(framework.Args, len(kwargs))
				for _, pair := range kwargs {
					v, err := fromStarlark(pair[1])
					if err != nil {
						return nil, fmt.Errorf("%s: %w", b.Name(), err)
					}
					kw[string(pair[0].(starlark.String))] = v
				}
			}
			ret, err := fn.CallKw(kw, positional...)
			if err != nil {
				return nil, err
			}
			return toStarlark(ret)
		})
	case framework.PublishFunc:
		return starlark.NewBuiltin(name, func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var value starlark.Value
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &value); err != nil {
				return nil, err
			}
			v, err := fromStarlark(value)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", b.Name(), err)
			}
			return starlark.None, fn(v)
		})
	case framework.RaiseErrorFunc:
		return starlark.NewBuiltin(name, func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var typ, message, description, subType string
			severity := string(framework.SeverityLow)
			if err := starlark.UnpackArgs(b.Name(), args, kwargs,
				"type", &typ, "message", &message, "description?", &description,
				"sub_type?", &subType, "severity?", &severity); err != nil {
				return nil, err
			}
			return starlark.None, fn(framework.ErrorReport{
				Type:        typ,
				SubType:     subType,
				Message:     message,
				Description: description,
				Severity:    framework.Severity(severity),
			})
		})
	case framework.ClearErrorFunc:
		return starlark.NewBuiltin(name, func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var typ, subType string
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "type", &typ, "sub_type?", &subType); err != nil {
				return nil, err
			}
			return starlark.None, fn(typ, subType)
		})
	case framework.ClearAllErrorsFunc:
		return starlark.NewBuiltin(name, func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
				return nil, err
			}
			return starlark.None, fn()
		})
	case framework.SubscribeErrorFunc:
		return starlark.NewBuiltin(name, func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var typ string
			var raised starlark.Callable
			var cleared starlark.Value = starlark.None
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "type", &typ, "raised", &raised, "cleared?", &cleared); err != nil {
				return nil, err
			}
			var onCleared func(framework.ErrorReport)
			if cb, ok := cleared.(starlark.Callable); ok {
				onCleared = m.errorCallback(name, cb)
			}
			return starlark.None, fn(typ, m.errorCallback(name, raised), onCleared)
		})
	case framework.MQTTPublishFunc:
		return starlark.NewBuiltin(name, func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var topic, payload string
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "topic", &topic, "payload", &payload); err != nil {
				return nil, err
			}
			return starlark.None, fn(topic, payload)
		})
	case framework.MQTTSubscribeFunc:
		return starlark.NewBuiltin(name, func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var topic string
			var cb starlark.Callable
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "topic", &topic, "callback", &cb); err != nil {
				return nil, err
			}
			return starlark.None, fn(topic, func(payload string) {
				if _, err := m.call(cb, starlark.Tuple{starlark.String(payload)}, nil); err != nil {
					m.logger.Error("mqtt callback failed", "topic", topic, "err", err)
				}
			})
		})
	default:
		return starlark.NewBuiltin(name, func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
			return nil, fmt.Errorf("%s: unsupported member %T", name, member)
		})
	}
}

// errorCallback calls cb with the report rendered as a dict.
func (m *ScriptModule) errorCallback(member string, cb starlark.Callable) func(framework.ErrorReport) {
	return func(r framework.ErrorReport) {
		tree, err := framework.EncodeResult(r)
		if err != nil {
			m.logger.Warn("dropping error report", "member", member, "err", err)
			return
		}
		v, err := toStarlark(tree)
		if err != nil {
			m.logger.Warn("dropping error report", "member", member, "err", err)
			return
		}
		if _, err := m.call(cb, starlark.Tuple{v}, nil); err != nil {
			m.logger.Error("error callback failed", "member", member, "err", err)
		}
	}
}

// toStarlark converts a JSON value tree into Starlark values.
func toStarlark(v any) (starlark.Value, error) {
	switch val := v.(type) {
	case nil:
		return starlark.None, nil
	case bool:
		return starlark.Bool(val), nil
	case string:
		return starlark.String(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int8:
		return starlark.MakeInt64(int64(val)), nil
	case int16:
		return starlark.MakeInt64(int64(val)), nil
	case int32:
		return starlark.MakeInt64(int64(val)), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case uint:
		return starlark.MakeUint(val), nil
	case uint8:
		return starlark.MakeUint64(uint64(val)), nil
	case uint16:
		return starlark.MakeUint64(uint64(val)), nil
	case uint32:
		return starlark.MakeUint64(uint64(val)), nil
	case uint64:
		return starlark.MakeUint64(val), nil
	case float64:
		return starlark.Float(val), nil
	case []any:
		elems := make([]starlark.Value, len(val))
		for i, e := range val {
			sv, err := toStarlark(e)
			if err != nil {
				return nil, err
			}
			elems[i] = sv
		}
		return starlark.NewList(elems), nil
	case framework.Args:
		return mapToStarlarkDict(val)
	case map[string]any:
		return mapToStarlarkDict(val)
	default:
		return nil, fmt.Errorf("unsupported value %T", v)
	}
}

func mapToStarlarkDict(m map[string]any) (*starlark.Dict, error) {
	dict := starlark.NewDict(len(m))
	for _, k := range sortedKeys(m) {
		sv, err := toStarlark(m[k])
		if err != nil {
			return nil, err
		}
		if err := dict.SetKey(starlark.String(k), sv); err != nil {
			return nil, err
		}
	}
	return dict, nil
}

// fromStarlark converts a Starlark value into a JSON value tree. Integers
// that fit become int64 or uint64; structs become maps.
func fromStarlark(v starlark.Value) (any, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.String:
		return string(val), nil
	case starlark.Int:
		if i, ok := val.Int64(); ok {
			return i, nil
		}
		if u, ok := val.Uint64(); ok {
			return u, nil
		}
		f := val.Float()
		if math.IsInf(float64(f), 0) {
			return nil, fmt.Errorf("integer %s out of range", val)
		}
		return float64(f), nil
	case starlark.Float:
		return float64(val), nil
	case *starlark.List:
		return iterableToSlice(val)
	case starlark.Tuple:
		return iterableToSlice(val)
	case *starlark.Dict:
		return starlarkToMap(val)
	case *starlarkstruct.Struct:
		d := starlark.StringDict{}
		val.ToStringDict(d)
		res := make(map[string]any, len(d))
		for k, fv := range d {
			gv, err := fromStarlark(fv)
			if err != nil {
				return nil, err
			}
			res[k] = gv
		}
		return res, nil
	default:
		return nil, fmt.Errorf("unsupported starlark value of type %s", v.Type())
	}
}

func iterableToSlice(it starlark.Indexable) ([]any, error) {
	res := make([]any, it.Len())
	for i := 0; i < it.Len(); i++ {
		v, err := fromStarlark(it.Index(i))
		if err != nil {
			return nil, err
		}
		res[i] = v
	}
	return res, nil
}

func starlarkToMap(dict *starlark.Dict) (map[string]any, error) {
	res := make(map[string]any, dict.Len())
	for _, item := range dict.Items() {
		key, ok := starlark.AsString(item[0])
		if !ok {
			return nil, fmt.Errorf("dict key %s is not a string", item[0])
		}
		v, err := fromStarlark(item[1])
		if err != nil {
			return nil, err
		}
		res[key] = v
	}
	return res, nil
}

func sortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
