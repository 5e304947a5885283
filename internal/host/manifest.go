package host

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"moduleadapter/pkg/framework"
)

// Manifest describes a module type: what it provides and what it requires.
type Manifest struct {
	Description        string                  `yaml:"description"`
	Metadata           ManifestMetadata        `yaml:"metadata"`
	Provides           ordered[ProvidesEntry]  `yaml:"provides"`
	Requires           ordered[RequiresEntry]  `yaml:"requires"`
	EnableExternalMQTT bool                    `yaml:"enable_external_mqtt"`
	EnableTelemetry    bool                    `yaml:"enable_telemetry"`
	Config             ordered[map[string]any] `yaml:"config"`
}

type ManifestMetadata struct {
	License string   `yaml:"license"`
	Authors []string `yaml:"authors"`
}

type ProvidesEntry struct {
	Interface   string `yaml:"interface"`
	Description string `yaml:"description"`
}

type RequiresEntry struct {
	Interface      string `yaml:"interface"`
	MinConnections *int   `yaml:"min_connections"`
	MaxConnections *int   `yaml:"max_connections"`
}

// Required reports whether the requirement needs at least one connection.
func (r RequiresEntry) Required() bool {
	return r.MinConnections == nil || *r.MinConnections > 0
}

// Interface is a named set of commands and variables.
type Interface struct {
	Description string                    `yaml:"description"`
	Cmds        ordered[InterfaceCommand] `yaml:"cmds"`
	Vars        ordered[map[string]any]   `yaml:"vars"`
}

type InterfaceCommand struct {
	Description string                  `yaml:"description"`
	Arguments   ordered[map[string]any] `yaml:"arguments"`
	Result      map[string]any          `yaml:"result"`
}

// Commands returns the command metadata in declaration order.
func (i *Interface) Commands() []framework.CommandMeta {
	metas := make([]framework.CommandMeta, 0, len(i.Cmds))
	for _, c := range i.Cmds {
		metas = append(metas, framework.CommandMeta{
			Name:        c.Key,
			Description: c.Value.Description,
			Arguments:   c.Value.Arguments.Keys(),
		})
	}
	return metas
}

// ordered is a YAML mapping decoded with its key order kept.
type ordered[T any] []entry[T]

type entry[T any] struct {
	Key   string
	Value T
}

func (o *ordered[T]) UnmarshalYAML(n *yaml.Node) error {
	if n.Tag == "!!null" {
		return nil
	}
	if n.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: expected a mapping", n.Line)
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		var v T
		if err := n.Content[i+1].Decode(&v); err != nil {
			return err
		}
		*o = append(*o, entry[T]{Key: n.Content[i].Value, Value: v})
	}
	return nil
}

// Keys returns the mapping keys in declaration order.
func (o ordered[T]) Keys() []string {
	keys := make([]string, len(o))
	for i, e := range o {
		keys[i] = e.Key
	}
	return keys
}

// LoadManifest reads <modulesDir>/<module>/manifest.yaml.
func LoadManifest(modulesDir, module string) (*Manifest, error) {
	var m Manifest
	if err := decodeYAML(filepath.Join(modulesDir, module, "manifest.yaml"), &m); err != nil {
		return nil, fmt.Errorf("load manifest of %s: %w", module, err)
	}
	return &m, nil
}

// LoadInterface reads <interfacesDir>/<name>.yaml.
func LoadInterface(interfacesDir, name string) (*Interface, error) {
	var i Interface
	if err := decodeYAML(filepath.Join(interfacesDir, name+".yaml"), &i); err != nil {
		return nil, fmt.Errorf("load interface %s: %w", name, err)
	}
	return &i, nil
}

func decodeYAML(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}
