package framework

// Args is the keyed argument bag exchanged with the host runtime. Command
// arguments, command results and variable payloads all travel in this shape.
type Args map[string]any

// RetvalKey is the result bag entry carrying a command's return value.
const RetvalKey = "retval"

// SubscribeFunc registers a callback for every value published on a peer variable.
type SubscribeFunc func(callback func(value any)) error

// PublishFunc publishes a new value of one of the module's own variables.
type PublishFunc func(value any) error

// CallPrimitive invokes a command on a peer module. It accepts the merged
// argument bag and returns the peer's result bag.
type CallPrimitive func(args Args) (Args, error)

// CallCommand describes a command exposed by a peer the module requires.
type CallCommand struct {
	Arguments []string      // Declared argument names, in declaration order
	Call      CallPrimitive // Host-side invocation primitive
}

// CommandMeta describes one command the module provides.
type CommandMeta struct {
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Arguments   []string `json:"arguments,omitempty" yaml:"arguments,omitempty"`
}

// Implementation groups the provided commands of one implementation id.
type Implementation struct {
	ID       string        `json:"id" yaml:"id"`
	Commands []CommandMeta `json:"commands" yaml:"commands"`
}

// Requirements is what the host delivers about the peers a module requires.
// Both maps are keyed by peer (requirement) id and may name different peers.
type Requirements struct {
	Vars               map[string]map[string]SubscribeFunc // peer -> variable -> subscription handle
	CallCmds           map[string]map[string]CallCommand   // peer -> command -> callable descriptor
	Errors             map[string]ErrorSubscribeFunc       // peer -> error report subscription
	EnableExternalMQTT bool
}

// Provided is what the host delivers about the module's own implementations.
type Provided struct {
	PubCmds   []Implementation                  // ordered as declared in the manifest
	PubVars   map[string]map[string]PublishFunc // group -> variable -> publish handle
	PubErrors map[string]ErrorPublishFunc       // implementation -> error report publisher
}

// Command is the inbound command descriptor handed to the host router.
type Command struct {
	ImplementationID string
	CommandName      string
	Handler          func(args Args) (Args, error)
}

// Settings are the process-level locators forwarded verbatim to the host
// runtime. The adapter attaches no meaning to them.
type Settings struct {
	ModuleID      string
	MainDir       string
	ConfigsDir    string
	SchemasDir    string
	ModulesDir    string
	InterfacesDir string
	LogConfFile   string
	ConfFile      string
}

// ModuleInfo carries host-supplied metadata about the running module.
type ModuleInfo struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Authors   []string `json:"authors,omitempty"`
	License   string   `json:"license,omitempty"`
	Path      string   `json:"path,omitempty"`
	Telemetry bool     `json:"telemetry_enabled,omitempty"`
}

// ModuleConfigs holds the module-level configuration plus one entry per
// implementation id. The module-level entry is keyed by "!module".
type ModuleConfigs map[string]map[string]any

// ModuleConfigKey is the ModuleConfigs key of the module-wide configuration.
const ModuleConfigKey = "!module"
