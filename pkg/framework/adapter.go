package framework

import (
	"fmt"
	"sync"
	"time"
)

// Adapter drives one module through the host lifecycle. It is the context
// object holding everything the host hands over: the module-adapter handle,
// the inbound commands and the Setup object.
//
// The host calls BindModuleAdapter, RegisterCommands, PreInit, Init and Ready
// from a single goroutine. Registration may also come after PreInit.
type Adapter struct {
	moduleID string
	module   Module
	registry *Registry
	logger   Logger
	now      func() time.Time

	mu         sync.Mutex
	state      State
	busy       bool
	registered bool
	handle     ModuleAdapter
	setup      *Setup
	commands   []Command
	configs    ModuleConfigs
	info       ModuleInfo
	createdAt  time.Time
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithLogger sets the adapter logger. The default discards everything.
func WithLogger(l Logger) Option {
	return func(a *Adapter) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithClock overrides time.Now for the init timing log.
func WithClock(now func() time.Time) Option {
	return func(a *Adapter) {
		a.now = now
	}
}

// NewAdapter returns an adapter for module whose provided commands are served
// from registry. A nil registry is treated as empty.
func NewAdapter(moduleID string, module Module, registry *Registry, opts ...Option) *Adapter {
	if registry == nil {
		registry = NewRegistry()
	}
	a := &Adapter{
		moduleID: moduleID,
		module:   module,
		registry: registry,
		logger:   nopLogger{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.createdAt = a.now()
	return a
}

var _ Callbacks = (*Adapter)(nil)

// State returns the current lifecycle state.
func (a *Adapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Setup returns the Setup object, or nil before PreInit.
func (a *Adapter) Setup() *Setup {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.setup
}

// Commands returns the inbound command descriptors handed to the host.
func (a *Adapter) Commands() []Command {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Command(nil), a.commands...)
}

// ModuleConfigs returns the configuration passed through at Init.
func (a *Adapter) ModuleConfigs() ModuleConfigs {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.configs
}

// ModuleInfo returns the module metadata passed through at Init.
func (a *Adapter) ModuleInfo() ModuleInfo {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.info
}

// BindModuleAdapter stores the host handle. Binding again replaces it.
func (a *Adapter) BindModuleAdapter(handle ModuleAdapter) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.handle = handle
	if a.state == StateUnstarted {
		a.state = StateAdapterBound
	}
	a.logger.Debug("module adapter bound", "state", a.state)
}

// RegisterCommands resolves a handler for every declared command. It may run
// once, at any point before Init.
func (a *Adapter) RegisterCommands(pub []Implementation) ([]Command, error) {
	a.mu.Lock()
	if a.registered || a.busy || a.state >= StateInitialized {
		defer a.mu.Unlock()
		return nil, &TransitionError{Op: "register commands", State: a.state}
	}
	cmds, err := RegisterCommands(pub, a.registry)
	if err != nil {
		a.state = StateFailed
		a.mu.Unlock()
		a.logger.Error("command registration failed", "err", err)
		return nil, err
	}
	a.registered = true
	a.commands = cmds
	if a.state < StateRegistered {
		a.state = StateRegistered
	}
	a.mu.Unlock()

	a.logger.Debug("commands registered", "count", len(cmds))
	return append([]Command(nil), cmds...), nil
}

// PreInit builds the Setup object and hands it to the module's PreInit hook.
func (a *Adapter) PreInit(reqs Requirements, provided Provided) error {
	if err := a.begin("pre-init", StateUnstarted, StateAdapterBound, StateRegistered); err != nil {
		return err
	}

	a.mu.Lock()
	handle := a.handle
	a.mu.Unlock()

	if reqs.EnableExternalMQTT && handle == nil {
		a.logger.Warn("external mqtt enabled but no module adapter bound, skipping mqtt namespace")
	}
	setup := BuildSetup(reqs, provided, handle)

	a.mu.Lock()
	a.setup = setup
	a.mu.Unlock()

	return a.finish("pre_init", StatePreInitialized, func() error {
		return a.module.PreInit(setup)
	})
}

// Init stores the pass-through configuration and runs the module's Init hook.
func (a *Adapter) Init(configs ModuleConfigs, info ModuleInfo) error {
	if err := a.begin("init", StatePreInitialized); err != nil {
		return err
	}

	a.mu.Lock()
	a.configs = configs
	a.info = info
	a.mu.Unlock()

	return a.finish("init", StateInitialized, func() error {
		if c, ok := a.module.(Configurable); ok {
			if err := c.Configure(configs, info); err != nil {
				return err
			}
		}
		return a.module.Init()
	})
}

// Ready runs the module's Ready hook. The module is operational afterwards.
func (a *Adapter) Ready() error {
	if err := a.begin("ready", StateInitialized); err != nil {
		return err
	}
	if err := a.finish("ready", StateReady, a.module.Ready); err != nil {
		return err
	}
	a.logger.Info(fmt.Sprintf("module %s initialized [%dms]", a.moduleID, a.now().Sub(a.createdAt).Milliseconds()))
	return nil
}

// begin reserves a transition if the adapter is in one of the allowed states.
func (a *Adapter) begin(op string, allowed ...State) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.busy {
		return &TransitionError{Op: op, State: a.state}
	}
	for _, s := range allowed {
		if a.state == s {
			a.busy = true
			return nil
		}
	}
	return &TransitionError{Op: op, State: a.state}
}

// finish runs the hook outside the lock and records the outcome.
func (a *Adapter) finish(hook string, next State, fn func() error) error {
	err := fn()

	a.mu.Lock()
	a.busy = false
	if err != nil {
		a.state = StateFailed
	} else {
		a.state = next
	}
	a.mu.Unlock()

	if err != nil {
		a.logger.Error("module hook failed", "hook", hook, "err", err)
		return &HookError{Hook: hook, Err: err}
	}
	a.logger.Debug("module hook done", "hook", hook, "state", next)
	return nil
}
