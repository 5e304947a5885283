package framework

// Event represents a message on the bus
type Event struct {
	Topic  string         `json:"topic"`
	Type   string         `json:"type"`
	Source string         `json:"source"`
	Data   map[string]any `json:"data,omitempty"`
}

// Event types used by the host runtime.
const (
	EventCommand  = "cmd"
	EventResult   = "result"
	EventVar      = "var"
	EventExternal = "external"
	EventError    = "error"
)

// Well-known data keys.
const (
	KeyReplyTo = "reply_to"
	KeyArgs    = "args"
	KeyResult  = "result"
	KeyError   = "error"
	KeyValue   = "value"
	KeyPayload = "payload"
	KeyReport  = "report"
)
