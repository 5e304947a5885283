package framework

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"

	"moduleadapter/pkg/framework"
)

// ModuleConfig is the process configuration of one adapter instance.
type ModuleConfig struct {
	ModuleID      string `env:"EV_MODULE"`
	MainDir       string `env:"EV_MAIN_DIR"       envDefault:"/usr"`
	ConfigsDir    string `env:"EV_CONFIGS_DIR"`
	SchemasDir    string `env:"EV_SCHEMAS_DIR"`
	ModulesDir    string `env:"EV_MODULES_DIR"`
	InterfacesDir string `env:"EV_INTERFACES_DIR"`
	LogConfFile   string `env:"EV_LOG_CONF_FILE"`
	ConfFile      string `env:"EV_CONF_FILE"`

	BusSocket    string        `env:"BUS_SOCKET"       envDefault:"bus.sock"`
	StateDir     string        `env:"STATE_DIR"        envDefault:"state"`
	LogLevel     string        `env:"LOG_LEVEL"        envDefault:"INFO"`
	CallTimeout  time.Duration `env:"CALL_TIMEOUT"     envDefault:"5s"`
	ScriptModule string        `env:"EV_SCRIPT_MODULE"`
	OTelEndpoint string        `env:"OTEL_ENDPOINT"`
}

// LoadConfig parses the environment, then applies overrides (command line
// flags). Directories left empty are derived from MainDir with FillDefaults.
func LoadConfig(overrides ...func(*ModuleConfig)) (ModuleConfig, error) {
	var cfg ModuleConfig
	if err := env.Parse(&cfg); err != nil {
		return ModuleConfig{}, fmt.Errorf("parse env: %w", err)
	}
	for _, o := range overrides {
		o(&cfg)
	}
	cfg.FillDefaults()
	return cfg, nil
}

// FillDefaults derives the share directories from MainDir, the installation
// prefix.
func (c *ModuleConfig) FillDefaults() {
	share := filepath.Join(c.MainDir, "share", "everest")
	if c.ConfigsDir == "" {
		c.ConfigsDir = filepath.Join(c.MainDir, "etc", "everest")
	}
	if c.SchemasDir == "" {
		c.SchemasDir = filepath.Join(share, "schemas")
	}
	if c.ModulesDir == "" {
		c.ModulesDir = filepath.Join(c.MainDir, "libexec", "everest", "modules")
	}
	if c.InterfacesDir == "" {
		c.InterfacesDir = filepath.Join(share, "interfaces")
	}
	if c.LogConfFile == "" {
		c.LogConfFile = filepath.Join(c.ConfigsDir, "default_logging.cfg")
	}
}

// Validate checks the settings the adapter cannot run without.
func (c ModuleConfig) Validate() error {
	if c.ModuleID == "" {
		return fmt.Errorf("EV_MODULE (or --module) must be set")
	}
	if c.ConfFile == "" {
		return fmt.Errorf("EV_CONF_FILE (or --conf) must be set")
	}
	return nil
}

// Settings returns the process configuration forwarded to the host.
func (c ModuleConfig) Settings() framework.Settings {
	return framework.Settings{
		ModuleID:      c.ModuleID,
		MainDir:       c.MainDir,
		ConfigsDir:    c.ConfigsDir,
		SchemasDir:    c.SchemasDir,
		ModulesDir:    c.ModulesDir,
		InterfacesDir: c.InterfacesDir,
		LogConfFile:   c.LogConfFile,
		ConfFile:      c.ConfFile,
	}
}

// EnsureStateDir creates the state directory.
func (c ModuleConfig) EnsureStateDir() error {
	return os.MkdirAll(c.StateDir, 0755)
}

func (c ModuleConfig) Info() string {
	return fmt.Sprintf("ID=%s, Bus=%s, State=%s, Conf=%s", c.ModuleID, c.BusSocket, c.StateDir, c.ConfFile)
}
