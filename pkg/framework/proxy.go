package framework

import (
	"fmt"
	"maps"
	"slices"
)

// Namespace prefixes and member prefixes of the Setup object.
const (
	RequirementPrefix = "r_"
	ProvidesPrefix    = "p_"
	MQTTNamespace     = "mqtt"

	SubscribePrefix = "subscribe_"
	CallPrefix      = "call_"
	PublishPrefix   = "publish_"

	RaiseErrorMember     = "raise_error"
	ClearErrorMember     = "clear_error"
	ClearAllErrorsMember = "clear_all_errors"
	SubscribeErrorMember = "subscribe_error"
)

// MQTTPublishFunc and MQTTSubscribeFunc are the members of the mqtt namespace.
type (
	MQTTPublishFunc   func(topic, payload string) error
	MQTTSubscribeFunc func(topic string, callback func(payload string)) error
)

// MQTT is the typed view of the mqtt namespace.
type MQTT struct {
	Publish   MQTTPublishFunc
	Subscribe MQTTSubscribeFunc
}

// Namespace is one read-only entry of the Setup object.
type Namespace struct {
	name    string
	members map[string]any
}

func (n *Namespace) Name() string { return n.name }

// Members returns the member names in sorted order.
func (n *Namespace) Members() []string {
	return slices.Sorted(maps.Keys(n.members))
}

// Member returns the raw member value: a SubscribeFunc, *BoundCall,
// PublishFunc, one of the error functions, MQTTPublishFunc or
// MQTTSubscribeFunc.
func (n *Namespace) Member(name string) (any, error) {
	m, ok := n.members[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrNoSuchMember, n.name, name)
	}
	return m, nil
}

// Subscribe registers cb on the peer variable behind subscribe_<variable>.
func (n *Namespace) Subscribe(variable string, cb func(value any)) error {
	m, err := n.Member(SubscribePrefix + variable)
	if err != nil {
		return err
	}
	sub, ok := m.(SubscribeFunc)
	if !ok {
		return fmt.Errorf("%w: %s.%s%s is not a subscription", ErrNoSuchMember, n.name, SubscribePrefix, variable)
	}
	return sub(cb)
}

// Command returns the callable behind call_<command>.
func (n *Namespace) Command(command string) (*BoundCall, error) {
	m, err := n.Member(CallPrefix + command)
	if err != nil {
		return nil, err
	}
	call, ok := m.(*BoundCall)
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s%s is not a command", ErrNoSuchMember, n.name, CallPrefix, command)
	}
	return call, nil
}

// Call is shorthand for Command(command) followed by CallKw.
func (n *Namespace) Call(command string, kwargs Args, args ...any) (any, error) {
	call, err := n.Command(command)
	if err != nil {
		return nil, err
	}
	return call.CallKw(kwargs, args...)
}

// Publish publishes value through publish_<variable>.
func (n *Namespace) Publish(variable string, value any) error {
	m, err := n.Member(PublishPrefix + variable)
	if err != nil {
		return err
	}
	pub, ok := m.(PublishFunc)
	if !ok {
		return fmt.Errorf("%w: %s.%s%s is not a publisher", ErrNoSuchMember, n.name, PublishPrefix, variable)
	}
	return pub(value)
}

// RaiseError raises r on the implementation behind a p_ namespace.
func (n *Namespace) RaiseError(r ErrorReport) error {
	m, err := n.Member(RaiseErrorMember)
	if err != nil {
		return err
	}
	fn, ok := m.(RaiseErrorFunc)
	if !ok {
		return fmt.Errorf("%w: %s.%s", ErrNoSuchMember, n.name, RaiseErrorMember)
	}
	return fn(r)
}

// ClearError clears the active error of errorType and subType.
func (n *Namespace) ClearError(errorType, subType string) error {
	m, err := n.Member(ClearErrorMember)
	if err != nil {
		return err
	}
	fn, ok := m.(ClearErrorFunc)
	if !ok {
		return fmt.Errorf("%w: %s.%s", ErrNoSuchMember, n.name, ClearErrorMember)
	}
	return fn(errorType, subType)
}

// ClearAllErrors clears every active error of the implementation.
func (n *Namespace) ClearAllErrors() error {
	m, err := n.Member(ClearAllErrorsMember)
	if err != nil {
		return err
	}
	fn, ok := m.(ClearAllErrorsFunc)
	if !ok {
		return fmt.Errorf("%w: %s.%s", ErrNoSuchMember, n.name, ClearAllErrorsMember)
	}
	return fn()
}

// SubscribeError registers callbacks for errors of the peer behind an r_
// namespace. An empty errorType subscribes to every type.
func (n *Namespace) SubscribeError(errorType string, raised, cleared func(ErrorReport)) error {
	m, err := n.Member(SubscribeErrorMember)
	if err != nil {
		return err
	}
	fn, ok := m.(SubscribeErrorFunc)
	if !ok {
		return fmt.Errorf("%w: %s.%s", ErrNoSuchMember, n.name, SubscribeErrorMember)
	}
	return fn(errorType, raised, cleared)
}

// Setup is the proxy interface object handed to the module's PreInit hook.
// It is assembled once by BuildSetup and never changes afterwards, so it is
// safe for concurrent reads.
type Setup struct {
	namespaces map[string]*Namespace
}

// BuildSetup assembles the Setup object from the host descriptors. The mqtt
// namespace is only added when external messaging is enabled and handle is
// non-nil.
func BuildSetup(reqs Requirements, provided Provided, handle ModuleAdapter) *Setup {
	s := &Setup{namespaces: make(map[string]*Namespace)}

	for peer, vars := range reqs.Vars {
		ns := s.ensure(RequirementPrefix + peer)
		for name, sub := range vars {
			ns.members[SubscribePrefix+name] = sub
		}
	}

	for peer, cmds := range reqs.CallCmds {
		ns := s.ensure(RequirementPrefix + peer)
		for name, cmd := range cmds {
			ns.members[CallPrefix+name] = NewBoundCall(peer+"."+name, cmd)
		}
	}

	for peer, sub := range reqs.Errors {
		ns := s.ensure(RequirementPrefix + peer)
		ns.members[SubscribeErrorMember] = subscribeErrors(sub)
	}

	for group, vars := range provided.PubVars {
		ns := s.ensure(ProvidesPrefix + group)
		for name, pub := range vars {
			ns.members[PublishPrefix+name] = pub
		}
	}

	for impl, pub := range provided.PubErrors {
		ns := s.ensure(ProvidesPrefix + impl)
		mgr := NewErrorManager(ErrorOrigin{ImplementationID: impl}, pub)
		ns.members[RaiseErrorMember] = RaiseErrorFunc(mgr.Raise)
		ns.members[ClearErrorMember] = ClearErrorFunc(mgr.Clear)
		ns.members[ClearAllErrorsMember] = ClearAllErrorsFunc(mgr.ClearAll)
	}

	if reqs.EnableExternalMQTT && handle != nil {
		ns := s.ensure(MQTTNamespace)
		ns.members["publish"] = MQTTPublishFunc(handle.ExtMQTTPublish)
		ns.members["subscribe"] = MQTTSubscribeFunc(handle.ExtMQTTSubscribe)
	}

	return s
}

func (s *Setup) ensure(name string) *Namespace {
	ns, ok := s.namespaces[name]
	if !ok {
		ns = &Namespace{name: name, members: make(map[string]any)}
		s.namespaces[name] = ns
	}
	return ns
}

// Namespaces returns the namespace names in sorted order.
func (s *Setup) Namespaces() []string {
	return slices.Sorted(maps.Keys(s.namespaces))
}

// Namespace looks up a namespace by its full name, e.g. "r_board_support".
func (s *Setup) Namespace(name string) (*Namespace, error) {
	ns, ok := s.namespaces[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchMember, name)
	}
	return ns, nil
}

// Requirement returns the r_<peer> namespace.
func (s *Setup) Requirement(peer string) (*Namespace, error) {
	return s.Namespace(RequirementPrefix + peer)
}

// Provides returns the p_<group> namespace.
func (s *Setup) Provides(group string) (*Namespace, error) {
	return s.Namespace(ProvidesPrefix + group)
}

// MQTT returns the external transport, or ErrNoSuchMember when external
// messaging was not enabled.
func (s *Setup) MQTT() (MQTT, error) {
	ns, err := s.Namespace(MQTTNamespace)
	if err != nil {
		return MQTT{}, err
	}
	pub, _ := ns.members["publish"].(MQTTPublishFunc)
	sub, _ := ns.members["subscribe"].(MQTTSubscribeFunc)
	return MQTT{Publish: pub, Subscribe: sub}, nil
}
