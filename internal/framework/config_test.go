package framework

import (
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("EV_MODULE", "evse_manager")
	t.Setenv("EV_MAIN_DIR", "/opt/everest")
	t.Setenv("EV_CONF_FILE", "/opt/everest/etc/everest/config.yaml")
	t.Setenv("CALL_TIMEOUT", "250ms")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.CallTimeout != 250*time.Millisecond {
		t.Fatalf("CallTimeout %v", cfg.CallTimeout)
	}
	if cfg.InterfacesDir != "/opt/everest/share/everest/interfaces" {
		t.Fatalf("InterfacesDir %q", cfg.InterfacesDir)
	}
	if cfg.ModulesDir != "/opt/everest/libexec/everest/modules" {
		t.Fatalf("ModulesDir %q", cfg.ModulesDir)
	}
	if cfg.LogLevel != "INFO" || cfg.BusSocket != "bus.sock" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}

	s := cfg.Settings()
	if s.ModuleID != "evse_manager" || s.ConfFile != cfg.ConfFile || s.InterfacesDir != cfg.InterfacesDir {
		t.Fatalf("settings not forwarded: %+v", s)
	}
}

func TestLoadConfigExplicitDirs(t *testing.T) {
	t.Setenv("EV_INTERFACES_DIR", "/tmp/interfaces")
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.InterfacesDir != "/tmp/interfaces" {
		t.Fatalf("InterfacesDir %q", cfg.InterfacesDir)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("EV_MODULE", "from_env")
	t.Setenv("EV_MAIN_DIR", "/usr")
	cfg, err := LoadConfig(func(c *ModuleConfig) {
		c.ModuleID = "from_flag"
		c.MainDir = "/opt/everest"
	})
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.ModuleID != "from_flag" {
		t.Fatalf("ModuleID %q", cfg.ModuleID)
	}
	if cfg.SchemasDir != "/opt/everest/share/everest/schemas" {
		t.Fatalf("defaults not derived from the overridden prefix: %q", cfg.SchemasDir)
	}
}

func TestValidateRequiresModule(t *testing.T) {
	if err := (ModuleConfig{ConfFile: "c.yaml"}).Validate(); err == nil {
		t.Fatal("expected error without module id")
	}
	if err := (ModuleConfig{ModuleID: "m"}).Validate(); err == nil {
		t.Fatal("expected error without config file")
	}
}
