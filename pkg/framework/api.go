package framework

import "context"

// Module is the interface hosted modules implement. The adapter calls the
// hooks in order: PreInit, Init, Ready. Each hook runs to completion before
// the next one starts.
type Module interface {
	PreInit(setup *Setup) error
	Init() error
	Ready() error
}

// Configurable is implemented by modules that want the pass-through
// configuration. Configure runs right before the Init hook.
type Configurable interface {
	Configure(configs ModuleConfigs, info ModuleInfo) error
}

// ModuleFuncs adapts plain functions to Module. Nil hooks are no-ops.
type ModuleFuncs struct {
	OnPreInit func(setup *Setup) error
	OnInit    func() error
	OnReady   func() error
}

func (m ModuleFuncs) PreInit(setup *Setup) error {
	if m.OnPreInit == nil {
		return nil
	}
	return m.OnPreInit(setup)
}

func (m ModuleFuncs) Init() error {
	if m.OnInit == nil {
		return nil
	}
	return m.OnInit()
}

func (m ModuleFuncs) Ready() error {
	if m.OnReady == nil {
		return nil
	}
	return m.OnReady()
}

// ModuleAdapter is the host handle exposing the external publish/subscribe
// transport. It is delivered to the adapter before pre-init.
type ModuleAdapter interface {
	ExtMQTTPublish(topic, payload string) error
	ExtMQTTSubscribe(topic string, callback func(payload string)) error
}

// Callbacks are the registration hooks the host runtime calls, in this order:
// BindModuleAdapter, RegisterCommands, PreInit, Init, Ready.
type Callbacks interface {
	BindModuleAdapter(handle ModuleAdapter)
	RegisterCommands(pub []Implementation) ([]Command, error)
	PreInit(reqs Requirements, provided Provided) error
	Init(configs ModuleConfigs, info ModuleInfo) error
	Ready() error
}

// Host is the runtime side of the protocol. Init must drive every callback
// and return once the module is ready (or failed).
type Host interface {
	Init(ctx context.Context, settings Settings, callbacks Callbacks) error
}

// Logger is the structured logger used by the adapter.
// *github.com/charmbracelet/log.Logger satisfies it.
type Logger interface {
	Debug(msg any, keyvals ...any)
	Info(msg any, keyvals ...any)
	Warn(msg any, keyvals ...any)
	Error(msg any, keyvals ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(any, ...any) {}
func (nopLogger) Info(any, ...any)  {}
func (nopLogger) Warn(any, ...any)  {}
func (nopLogger) Error(any, ...any) {}
