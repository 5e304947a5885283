package framework

import (
	"errors"
	"reflect"
	"testing"
)

type recordingHandle struct {
	published map[string]string
	callbacks map[string]func(string)
}

func newRecordingHandle() *recordingHandle {
	return &recordingHandle{published: map[string]string{}, callbacks: map[string]func(string){}}
}

func (h *recordingHandle) ExtMQTTPublish(topic, payload string) error {
	h.published[topic] = payload
	return nil
}

func (h *recordingHandle) ExtMQTTSubscribe(topic string, callback func(string)) error {
	h.callbacks[topic] = callback
	return nil
}

func TestBuildSetupNamespaces(t *testing.T) {
	var voltageCB func(any)
	var published any
	reqs := Requirements{
		Vars: map[string]map[string]SubscribeFunc{
			"board_support": {"voltage": func(cb func(any)) error { voltageCB = cb; return nil }},
		},
		CallCmds: map[string]map[string]CallCommand{
			"board_support": {"enable": {
				Arguments: []string{"on"},
				Call: func(args Args) (Args, error) {
					return Args{RetvalKey: args["on"]}, nil
				},
			}},
		},
	}
	provided := Provided{
		PubVars: map[string]map[string]PublishFunc{
			"evse": {"status": func(v any) error { published = v; return nil }},
		},
	}

	setup := BuildSetup(reqs, provided, nil)

	if got, want := setup.Namespaces(), []string{"p_evse", "r_board_support"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("namespaces %v want %v", got, want)
	}

	bsp, err := setup.Requirement("board_support")
	if err != nil {
		t.Fatalf("Requirement: %v", err)
	}
	if got, want := bsp.Members(), []string{"call_enable", "subscribe_voltage"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("members %v want %v", got, want)
	}

	var seen any
	if err := bsp.Subscribe("voltage", func(v any) { seen = v }); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	voltageCB(230.0)
	if seen != 230.0 {
		t.Fatalf("callback got %v", seen)
	}

	ret, err := bsp.Call("enable", nil, true)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if ret != true {
		t.Fatalf("retval %v", ret)
	}
	cmd, err := bsp.Command("enable")
	if err != nil {
		t.Fatalf("Command: %v", err)
	}
	if cmd.Name() != "board_support.enable" || !reflect.DeepEqual(cmd.Arguments(), []string{"on"}) {
		t.Fatalf("unexpected command %s %v", cmd.Name(), cmd.Arguments())
	}

	evse, err := setup.Provides("evse")
	if err != nil {
		t.Fatalf("Provides: %v", err)
	}
	if err := evse.Publish("status", "charging"); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if published != "charging" {
		t.Fatalf("published %v", published)
	}

	if _, err := setup.MQTT(); !errors.Is(err, ErrNoSuchMember) {
		t.Fatalf("expected no mqtt namespace, got %v", err)
	}
}

func TestBuildSetupMergedMembers(t *testing.T) {
	sub := func(cb func(any)) error { return nil }
	call := CallCommand{Call: func(Args) (Args, error) { return Args{RetvalKey: nil}, nil }}
	pub := func(any) error { return nil }
	errSub := func(func(ErrorReport)) error { return nil }
	errPub := func(ErrorReport) error { return nil }

	cases := []struct {
		name       string
		reqs       Requirements
		provided   Provided
		namespaces []string
		members    map[string][]string
	}{
		{
			name: "vars only",
			reqs: Requirements{Vars: map[string]map[string]SubscribeFunc{
				"meter": {"power": sub, "energy": sub},
			}},
			namespaces: []string{"r_meter"},
			members:    map[string][]string{"r_meter": {"subscribe_energy", "subscribe_power"}},
		},
		{
			name: "commands only",
			reqs: Requirements{CallCmds: map[string]map[string]CallCommand{
				"relay": {"open": call, "close": call},
			}},
			namespaces: []string{"r_relay"},
			members:    map[string][]string{"r_relay": {"call_close", "call_open"}},
		},
		{
			name: "vars and commands on one peer, distinct peers elsewhere",
			reqs: Requirements{
				Vars: map[string]map[string]SubscribeFunc{
					"board": {"voltage": sub},
					"meter": {"power": sub},
				},
				CallCmds: map[string]map[string]CallCommand{
					"board": {"enable": call},
					"relay": {"open": call},
				},
			},
			namespaces: []string{"r_board", "r_meter", "r_relay"},
			members: map[string][]string{
				"r_board": {"call_enable", "subscribe_voltage"},
				"r_meter": {"subscribe_power"},
				"r_relay": {"call_open"},
			},
		},
		{
			name: "provided vars and errors",
			reqs: Requirements{Errors: map[string]ErrorSubscribeFunc{"board": errSub}},
			provided: Provided{
				PubVars:   map[string]map[string]PublishFunc{"evse": {"status": pub}},
				PubErrors: map[string]ErrorPublishFunc{"evse": errPub, "aux": errPub},
			},
			namespaces: []string{"p_aux", "p_evse", "r_board"},
			members: map[string][]string{
				"p_aux":   {"clear_all_errors", "clear_error", "raise_error"},
				"p_evse":  {"clear_all_errors", "clear_error", "publish_status", "raise_error"},
				"r_board": {"subscribe_error"},
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			setup := BuildSetup(tc.reqs, tc.provided, nil)
			if got := setup.Namespaces(); !reflect.DeepEqual(got, tc.namespaces) {
				t.Fatalf("namespaces %v want %v", got, tc.namespaces)
			}
			for name, want := range tc.members {
				ns, err := setup.Namespace(name)
				if err != nil {
					t.Fatalf("Namespace(%s): %v", name, err)
				}
				if got := ns.Members(); !reflect.DeepEqual(got, want) {
					t.Fatalf("%s members %v want %v", name, got, want)
				}
			}
		})
	}
}

func TestNamespaceErrorMembers(t *testing.T) {
	var published []ErrorReport
	var peerCB func(ErrorReport)
	setup := BuildSetup(
		Requirements{Errors: map[string]ErrorSubscribeFunc{
			"board": func(cb func(ErrorReport)) error { peerCB = cb; return nil },
		}},
		Provided{PubErrors: map[string]ErrorPublishFunc{
			"evse": func(r ErrorReport) error { published = append(published, r); return nil },
		}},
		nil,
	)

	evse, err := setup.Provides("evse")
	if err != nil {
		t.Fatalf("Provides: %v", err)
	}
	if err := evse.RaiseError(ErrorReport{Type: "evse/Fault", Message: "boom"}); err != nil {
		t.Fatalf("RaiseError: %v", err)
	}
	if err := evse.ClearError("evse/Fault", ""); err != nil {
		t.Fatalf("ClearError: %v", err)
	}
	if len(published) != 2 || published[0].State != ErrorActive || published[1].State != ErrorClearedByModule {
		t.Fatalf("published %+v", published)
	}
	if err := evse.ClearAllErrors(); err != nil {
		t.Fatalf("ClearAllErrors: %v", err)
	}

	board, err := setup.Requirement("board")
	if err != nil {
		t.Fatalf("Requirement: %v", err)
	}
	var raised, cleared []string
	err = board.SubscribeError("board/OverTemperature",
		func(r ErrorReport) { raised = append(raised, r.Type) },
		func(r ErrorReport) { cleared = append(cleared, r.Type) })
	if err != nil {
		t.Fatalf("SubscribeError: %v", err)
	}
	peerCB(ErrorReport{Type: "board/OverTemperature", State: ErrorActive})
	peerCB(ErrorReport{Type: "board/Other", State: ErrorActive})
	peerCB(ErrorReport{Type: "board/OverTemperature", State: ErrorClearedByModule})
	if !reflect.DeepEqual(raised, []string{"board/OverTemperature"}) || !reflect.DeepEqual(cleared, []string{"board/OverTemperature"}) {
		t.Fatalf("raised %v cleared %v", raised, cleared)
	}

	if err := board.RaiseError(ErrorReport{Type: "x"}); !errors.Is(err, ErrNoSuchMember) {
		t.Fatalf("expected ErrNoSuchMember on a requirement, got %v", err)
	}
}

func TestBuildSetupEmpty(t *testing.T) {
	setup := BuildSetup(Requirements{}, Provided{}, nil)
	if len(setup.Namespaces()) != 0 {
		t.Fatalf("expected no namespaces, got %v", setup.Namespaces())
	}
	if _, err := setup.Requirement("board_support"); !errors.Is(err, ErrNoSuchMember) {
		t.Fatalf("expected ErrNoSuchMember, got %v", err)
	}
}

func TestBuildSetupMQTT(t *testing.T) {
	handle := newRecordingHandle()

	setup := BuildSetup(Requirements{EnableExternalMQTT: true}, Provided{}, handle)
	mqtt, err := setup.MQTT()
	if err != nil {
		t.Fatalf("MQTT: %v", err)
	}
	if err := mqtt.Publish("site/meter", "42"); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if handle.published["site/meter"] != "42" {
		t.Fatalf("handle did not see publish: %v", handle.published)
	}
	var got string
	if err := mqtt.Subscribe("site/limit", func(p string) { got = p }); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	handle.callbacks["site/limit"]("16")
	if got != "16" {
		t.Fatalf("callback got %q", got)
	}

	disabled := BuildSetup(Requirements{}, Provided{}, handle)
	if _, err := disabled.MQTT(); !errors.Is(err, ErrNoSuchMember) {
		t.Fatalf("expected mqtt absent when disabled, got %v", err)
	}
	unbound := BuildSetup(Requirements{EnableExternalMQTT: true}, Provided{}, nil)
	if _, err := unbound.MQTT(); !errors.Is(err, ErrNoSuchMember) {
		t.Fatalf("expected mqtt absent without handle, got %v", err)
	}
}

func TestNamespaceMemberKinds(t *testing.T) {
	setup := BuildSetup(Requirements{
		Vars: map[string]map[string]SubscribeFunc{
			"meter": {"power": func(func(any)) error { return nil }},
		},
	}, Provided{}, nil)
	ns, err := setup.Requirement("meter")
	if err != nil {
		t.Fatalf("Requirement: %v", err)
	}
	if _, err := ns.Command("power"); !errors.Is(err, ErrNoSuchMember) {
		t.Fatalf("expected ErrNoSuchMember, got %v", err)
	}
	if err := ns.Publish("power", 1); !errors.Is(err, ErrNoSuchMember) {
		t.Fatalf("expected ErrNoSuchMember, got %v", err)
	}
	if _, err := ns.Member("subscribe_energy"); !errors.Is(err, ErrNoSuchMember) {
		t.Fatalf("expected ErrNoSuchMember, got %v", err)
	}
}
