package host

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	ifw "moduleadapter/internal/framework"
	"moduleadapter/pkg/framework"
)

func TestTopics(t *testing.T) {
	cases := []struct {
		got  string
		want string
	}{
		{got: CommandTopic("evse_manager", "evse", "get_status"), want: "everest/evse_manager/evse/cmd/get_status"},
		{got: VarTopic("bsp", "board", "voltage"), want: "everest/bsp/board/var/voltage"},
		{got: ExternalTopic("site/meter"), want: "external/site/meter"},
		{got: ExternalTopic("site/#"), want: "external/site/*"},
		{got: ErrorTopic("bsp", "board"), want: "everest/bsp/board/error"},
	}
	for _, tc := range cases {
		if tc.got != tc.want {
			t.Fatalf("got %q want %q", tc.got, tc.want)
		}
	}
}

func TestCarrierFrom(t *testing.T) {
	got := carrierFrom(map[string]any{"traceparent": "00-abc", "n": 1.0})
	if len(got) != 1 || got["traceparent"] != "00-abc" {
		t.Fatalf("carrier %v", got)
	}
	if len(carrierFrom(nil)) != 0 {
		t.Fatal("expected empty carrier")
	}
}

// loopBus delivers published events straight to matching Handle and
// Subscribe listeners.
type loopBus struct {
	mu        sync.Mutex
	handlers  map[string]func(ifw.Event)
	channels  map[string]chan ifw.Event
	published []ifw.Event
}

func newLoopBus() *loopBus {
	return &loopBus{handlers: map[string]func(ifw.Event){}, channels: map[string]chan ifw.Event{}}
}

func (b *loopBus) Publish(topic, eventType string, data map[string]any) error {
	ev := ifw.Event{Topic: topic, Type: eventType, Data: data}
	b.mu.Lock()
	b.published = append(b.published, ev)
	h := b.handlers[topic]
	ch := b.channels[topic]
	b.mu.Unlock()
	if h != nil {
		h(ev)
	}
	if ch != nil {
		ch <- ev
	}
	return nil
}

func (b *loopBus) Subscribe(topic string) (<-chan ifw.Event, string) {
	ch := make(chan ifw.Event, 10)
	b.mu.Lock()
	b.channels[topic] = ch
	b.mu.Unlock()
	return ch, topic
}

func (b *loopBus) Handle(topic string, fn func(ifw.Event)) string {
	b.mu.Lock()
	b.handlers[topic] = fn
	b.mu.Unlock()
	return topic
}

func (b *loopBus) Unsubscribe(string) {}

func (b *loopBus) Request(ctx context.Context, _, _ string, _ map[string]any) (ifw.Event, error) {
	<-ctx.Done()
	return ifw.Event{}, ctx.Err()
}

func (b *loopBus) last() ifw.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.published[len(b.published)-1]
}

func TestRouterServeRecoversPanic(t *testing.T) {
	bus := newLoopBus()
	r := NewRouter(context.Background(), bus, "evse_manager", time.Second, log.New(io.Discard))
	r.ServeCommands([]framework.Command{{
		ImplementationID: "evse",
		CommandName:      "enable_charging",
		Handler: func(framework.Args) (framework.Args, error) {
			var ns *framework.Namespace
			_, err := ns.Call("enable", nil, true)
			return nil, err
		},
	}})

	bus.Publish(CommandTopic("evse_manager", "evse", "enable_charging"), ifw.EventCommand, map[string]any{
		ifw.KeyReplyTo: "replies/tester/1",
		ifw.KeyArgs:    map[string]any{"on": true},
	})

	reply := bus.last()
	if reply.Topic != "replies/tester/1" {
		t.Fatalf("reply topic %q", reply.Topic)
	}
	msg, _ := reply.Data[ifw.KeyError].(string)
	if !strings.Contains(msg, "panicked") {
		t.Fatalf("reply %+v", reply.Data)
	}
}

func TestRouterErrorReports(t *testing.T) {
	bus := newLoopBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := NewRouter(ctx, bus, "bsp", time.Second, log.New(io.Discard))

	got := make(chan framework.ErrorReport, 1)
	sub := r.SubscribeErrors([]Connection{{ModuleID: "bsp", ImplementationID: "board"}})
	if err := sub(func(rep framework.ErrorReport) { got <- rep }); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	publish := r.PublishError("board")
	if err := publish(framework.ErrorReport{Type: "board/OverTemperature", State: framework.ErrorActive, UUID: "u1"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case rep := <-got:
		if rep.Type != "board/OverTemperature" || rep.UUID != "u1" || rep.State != framework.ErrorActive {
			t.Fatalf("report %+v", rep)
		}
		if rep.Origin != (framework.ErrorOrigin{ModuleID: "bsp", ImplementationID: "board"}) {
			t.Fatalf("origin %+v", rep.Origin)
		}
	case <-time.After(time.Second):
		t.Fatal("report not delivered")
	}
}

func TestDecodeReportRejectsMissingType(t *testing.T) {
	if _, err := decodeReport(map[string]any{"message": "x"}); err == nil {
		t.Fatal("expected error for report without type")
	}
}
