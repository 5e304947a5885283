package framework

import (
	"fmt"
	"sync"
)

// HandlerName is the canonical key of the handler implementing cmd on impl.
func HandlerName(implementationID, commandName string) string {
	return implementationID + "_" + commandName
}

// Registry is the explicit (implementation id, command name) -> Handler table
// a module fills at load time.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	resolver Resolver
}

// Resolver finds a handler by its canonical HandlerName when the explicit
// table has none. Script modules use it to expose their globals.
type Resolver func(name string) (Handler, bool)

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Handle registers h for cmd on impl. Registering the same pair twice panics.
func (r *Registry) Handle(implementationID, commandName string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := HandlerName(implementationID, commandName)
	if _, exists := r.handlers[key]; exists {
		panic(fmt.Sprintf("handler for %s already registered", key))
	}
	r.handlers[key] = h
}

// HandleFunc binds fn with Bind and registers it. It panics when fn cannot be
// bound, like Handle does for duplicates.
func (r *Registry) HandleFunc(implementationID, commandName string, fn any, argNames ...string) {
	h, err := Bind(fn, argNames...)
	if err != nil {
		panic(fmt.Sprintf("handler for %s: %v", HandlerName(implementationID, commandName), err))
	}
	r.Handle(implementationID, commandName, h)
}

// SetResolver installs the fallback used by Lookup.
func (r *Registry) SetResolver(fn Resolver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolver = fn
}

// Lookup returns the handler registered for cmd on impl, falling back to the
// resolver.
func (r *Registry) Lookup(implementationID, commandName string) (Handler, bool) {
	key := HandlerName(implementationID, commandName)

	r.mu.RLock()
	h, ok := r.handlers[key]
	resolver := r.resolver
	r.mu.RUnlock()

	if ok {
		return h, true
	}
	if resolver != nil {
		return resolver(key)
	}
	return nil, false
}

// RegisterCommands returns one inbound Command per declared command, in
// declaration order. A declared command without a handler aborts registration.
func RegisterCommands(pub []Implementation, reg *Registry) ([]Command, error) {
	var cmds []Command
	for _, impl := range pub {
		for _, meta := range impl.Commands {
			h, ok := reg.Lookup(impl.ID, meta.Name)
			if !ok {
				return nil, &MissingHandlerError{ImplementationID: impl.ID, CommandName: meta.Name}
			}
			cmds = append(cmds, Command{
				ImplementationID: impl.ID,
				CommandName:      meta.Name,
				Handler: func(args Args) (Args, error) {
					return Invoke(h, args)
				},
			})
		}
	}
	return cmds, nil
}
