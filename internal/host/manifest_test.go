package host

import (
	"reflect"
	"testing"
)

func TestLoadManifest(t *testing.T) {
	m, err := LoadManifest("testdata/modules", "EvseManager")
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	if m.Metadata.License != "Apache-2.0" || len(m.Metadata.Authors) != 1 {
		t.Fatalf("metadata %+v", m.Metadata)
	}
	if got := m.Provides.Keys(); !reflect.DeepEqual(got, []string{"evse"}) {
		t.Fatalf("provides %v", got)
	}
	if m.Provides[0].Value.Interface != "evse_manager" {
		t.Fatalf("provides interface %q", m.Provides[0].Value.Interface)
	}
	if got := m.Requires.Keys(); !reflect.DeepEqual(got, []string{"board_support"}) {
		t.Fatalf("requires %v", got)
	}
	if !m.Requires[0].Value.Required() {
		t.Fatal("requirement without min_connections must be required")
	}
	if m.EnableExternalMQTT {
		t.Fatal("external mqtt should be off")
	}
}

func TestLoadInterfaceKeepsDeclarationOrder(t *testing.T) {
	iface, err := LoadInterface("testdata/interfaces", "evse_manager")
	if err != nil {
		t.Fatalf("LoadInterface: %v", err)
	}
	cmds := iface.Commands()
	var names []string
	for _, c := range cmds {
		names = append(names, c.Name)
	}
	if want := []string{"get_status", "enable_charging", "get_state"}; !reflect.DeepEqual(names, want) {
		t.Fatalf("commands %v want %v", names, want)
	}
	if len(cmds[0].Arguments) != 0 {
		t.Fatalf("get_status arguments %v", cmds[0].Arguments)
	}
	if !reflect.DeepEqual(cmds[1].Arguments, []string{"on"}) {
		t.Fatalf("enable_charging arguments %v", cmds[1].Arguments)
	}
	if got := iface.Vars.Keys(); !reflect.DeepEqual(got, []string{"status"}) {
		t.Fatalf("vars %v", got)
	}
}

func TestLoadInterfaceMissing(t *testing.T) {
	if _, err := LoadInterface("testdata/interfaces", "nope"); err == nil {
		t.Fatal("expected error")
	}
}

func TestRequiresEntryRequired(t *testing.T) {
	zero, one := 0, 1
	cases := []struct {
		min  *int
		want bool
	}{
		{min: nil, want: true},
		{min: &zero, want: false},
		{min: &one, want: true},
	}
	for _, tc := range cases {
		if got := (RequiresEntry{MinConnections: tc.min}).Required(); got != tc.want {
			t.Fatalf("Required() with min %v = %v", tc.min, got)
		}
	}
}
