package framework

import (
	"context"
	"os"
	"reflect"
	"testing"

	"moduleadapter/pkg/framework"
)

func newTestStore(t *testing.T) *ConfigStore {
	t.Helper()
	stateDir, err := os.MkdirTemp("", "framework_state")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(stateDir) })

	db, err := ConnectDB(stateDir)
	if err != nil {
		t.Fatalf("ConnectDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store, err := NewConfigStore(context.Background(), db)
	if err != nil {
		t.Fatalf("NewConfigStore: %v", err)
	}
	return store
}

func TestConfigStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	configs := framework.ModuleConfigs{
		framework.ModuleConfigKey: {"max_current": 32.0, "three_phase": true},
		"evse":                    {"connector": "type2"},
	}
	if err := store.ReplaceConfigs(ctx, "evse_manager", configs); err != nil {
		t.Fatalf("ReplaceConfigs: %v", err)
	}
	if err := store.SetConfig(ctx, "evse_manager", "evse", "connector", "ccs"); err != nil {
		t.Fatalf("SetConfig: %v", err)
	}
	if err := store.SetConfig(ctx, "other", "main", "x", 1); err != nil {
		t.Fatalf("SetConfig: %v", err)
	}

	got, err := store.ModuleConfigs(ctx, "evse_manager")
	if err != nil {
		t.Fatalf("ModuleConfigs: %v", err)
	}
	want := framework.ModuleConfigs{
		framework.ModuleConfigKey: {"max_current": 32.0, "three_phase": true},
		"evse":                    {"connector": "ccs"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %#v want %#v", got, want)
	}

	if err := store.ReplaceConfigs(ctx, "evse_manager", framework.ModuleConfigs{}); err != nil {
		t.Fatalf("ReplaceConfigs: %v", err)
	}
	got, _ = store.ModuleConfigs(ctx, "evse_manager")
	if len(got) != 0 {
		t.Fatalf("expected config cleared, got %#v", got)
	}
}

func TestConfigStoreModuleInfo(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	if _, ok, err := store.ModuleInfo(ctx, "evse_manager"); err != nil || ok {
		t.Fatalf("expected no info, got ok=%v err=%v", ok, err)
	}

	info := framework.ModuleInfo{
		ID:        "evse_manager",
		Name:      "EvseManager",
		Authors:   []string{"a", "b"},
		License:   "Apache-2.0",
		Path:      "/usr/libexec/everest/modules/EvseManager",
		Telemetry: true,
	}
	if err := store.SaveModuleInfo(ctx, info); err != nil {
		t.Fatalf("SaveModuleInfo: %v", err)
	}
	info.License = "MIT"
	if err := store.SaveModuleInfo(ctx, info); err != nil {
		t.Fatalf("SaveModuleInfo: %v", err)
	}

	got, ok, err := store.ModuleInfo(ctx, "evse_manager")
	if err != nil || !ok {
		t.Fatalf("ModuleInfo: ok=%v err=%v", ok, err)
	}
	if !reflect.DeepEqual(got, info) {
		t.Fatalf("got %#v want %#v", got, info)
	}
}
