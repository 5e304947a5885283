package framework

const (
	// StateUnstarted indicates no host call has reached the adapter yet.
	StateUnstarted State = iota
	// StateAdapterBound indicates the host delivered its module-adapter handle.
	StateAdapterBound
	// StateRegistered indicates the inbound command descriptors were handed out.
	StateRegistered
	// StatePreInitialized indicates the Setup object exists and PreInit returned.
	StatePreInitialized
	// StateInitialized indicates the module's Init hook returned.
	StateInitialized
	// StateReady is the terminal setup state.
	StateReady
	// StateFailed is terminal: a hook or registration failed.
	StateFailed
)

// State is the lifecycle state of an Adapter.
type State int32

func (s State) String() string {
	switch s {
	case StateUnstarted:
		return "unstarted"
	case StateAdapterBound:
		return "adapter_bound"
	case StateRegistered:
		return "registered"
	case StatePreInitialized:
		return "pre_initialized"
	case StateInitialized:
		return "initialized"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// IsTerminal returns true for Ready and Failed.
func (s State) IsTerminal() bool {
	return s == StateReady || s == StateFailed
}
