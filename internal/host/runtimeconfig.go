package host

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"moduleadapter/pkg/framework"
)

// RuntimeConfig is the deployment file listing every active module and how
// their requirements are connected.
type RuntimeConfig struct {
	ActiveModules map[string]ModuleEntry `mapstructure:"active_modules"`
}

type ModuleEntry struct {
	Module               string                    `mapstructure:"module"`
	ConfigModule         map[string]any            `mapstructure:"config_module"`
	ConfigImplementation map[string]map[string]any `mapstructure:"config_implementation"`
	Connections          map[string][]Connection   `mapstructure:"connections"`
}

// Connection points a requirement at one implementation of another module.
type Connection struct {
	ModuleID         string `mapstructure:"module_id"`
	ImplementationID string `mapstructure:"implementation_id"`
}

// LoadRuntimeConfig reads the runtime config file. Keys are case-insensitive
// and come back lowercased.
func LoadRuntimeConfig(path string) (*RuntimeConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read runtime config: %w", err)
	}
	var cfg RuntimeConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode runtime config %s: %w", path, err)
	}
	return &cfg, nil
}

// Module returns the entry of one active module. The id is matched
// case-insensitively.
func (c *RuntimeConfig) Module(moduleID string) (ModuleEntry, error) {
	entry, ok := c.ActiveModules[strings.ToLower(moduleID)]
	if !ok {
		return ModuleEntry{}, fmt.Errorf("module %s is not active in the runtime config", moduleID)
	}
	if entry.Module == "" {
		return ModuleEntry{}, fmt.Errorf("module %s has no module type", moduleID)
	}
	return entry, nil
}

// Configs returns the module and implementation configuration in the shape
// handed to the module at Init.
func (e ModuleEntry) Configs() framework.ModuleConfigs {
	configs := framework.ModuleConfigs{}
	if len(e.ConfigModule) > 0 {
		configs[framework.ModuleConfigKey] = e.ConfigModule
	}
	for impl, values := range e.ConfigImplementation {
		configs[impl] = values
	}
	return configs
}
