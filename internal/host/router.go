package host

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	ifw "moduleadapter/internal/framework"
	"moduleadapter/internal/telemetry"
	"moduleadapter/pkg/framework"
)

const keyTrace = "trace"

// Bus is the slice of the bus client the router needs.
type Bus interface {
	Publish(topic, eventType string, data map[string]any) error
	Subscribe(topic string) (<-chan ifw.Event, string)
	Handle(topic string, fn func(ifw.Event)) string
	Unsubscribe(id string)
	Request(ctx context.Context, topic, eventType string, data map[string]any) (ifw.Event, error)
}

// CommandTopic is where the implementation impl of module serves cmd.
func CommandTopic(moduleID, impl, cmd string) string {
	return "everest/" + moduleID + "/" + impl + "/cmd/" + cmd
}

// VarTopic is where the implementation impl of module publishes variable.
func VarTopic(moduleID, impl, variable string) string {
	return "everest/" + moduleID + "/" + impl + "/var/" + variable
}

// ErrorTopic is where the implementation impl of module reports errors.
func ErrorTopic(moduleID, impl string) string {
	return "everest/" + moduleID + "/" + impl + "/error"
}

// ExternalTopic maps an external MQTT topic onto the bus. A trailing "#"
// wildcard becomes the bus "*" suffix wildcard.
func ExternalTopic(topic string) string {
	if strings.HasSuffix(topic, "#") {
		topic = strings.TrimSuffix(topic, "#") + "*"
	}
	return "external/" + topic
}

// Router moves commands, variables and external messages of one module
// between the adapter and the bus. It is also the module-adapter handle.
type Router struct {
	ctx      context.Context
	bus      Bus
	moduleID string
	timeout  time.Duration
	logger   *log.Logger
	tracer   trace.Tracer

	mu   sync.Mutex
	subs []string
}

var _ framework.ModuleAdapter = (*Router)(nil)

func NewRouter(ctx context.Context, bus Bus, moduleID string, timeout time.Duration, logger *log.Logger) *Router {
	return &Router{
		ctx:      ctx,
		bus:      bus,
		moduleID: moduleID,
		timeout:  timeout,
		logger:   logger,
		tracer:   telemetry.Tracer(),
	}
}

// ServeCommands answers requests for every inbound command. Requests are
// served concurrently.
func (r *Router) ServeCommands(cmds []framework.Command) {
	for _, cmd := range cmds {
		topic := CommandTopic(r.moduleID, cmd.ImplementationID, cmd.CommandName)
		r.track(r.bus.Handle(topic, func(ev ifw.Event) { r.serve(cmd, ev) }))
		r.logger.Debug("serving command", "topic", topic)
	}
}

func (r *Router) serve(cmd framework.Command, ev ifw.Event) {
	replyTo, _ := ev.Data[ifw.KeyReplyTo].(string)
	ctx := telemetry.Extract(r.ctx, carrierFrom(ev.Data[keyTrace]))
	_, span := r.tracer.Start(ctx, "serve "+cmd.ImplementationID+"."+cmd.CommandName,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("module.id", r.moduleID),
			attribute.String("command.caller", ev.Source),
		))
	defer span.End()

	args, _ := ev.Data[ifw.KeyArgs].(map[string]any)
	res, err := invoke(cmd, args)

	reply := map[string]any{}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.logger.Error("command failed", "impl", cmd.ImplementationID, "cmd", cmd.CommandName, "err", err)
		reply[ifw.KeyError] = err.Error()
	} else {
		reply[ifw.KeyResult] = map[string]any(res)
	}
	if replyTo == "" {
		return
	}
	if err := r.bus.Publish(replyTo, ifw.EventResult, reply); err != nil {
		r.logger.Error("failed to send reply", "topic", replyTo, "err", err)
	}
}

// invoke runs the command handler, turning a panic into an error reply.
func invoke(cmd framework.Command, args framework.Args) (res framework.Args, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("command %s.%s panicked: %v", cmd.ImplementationID, cmd.CommandName, p)
		}
	}()
	return cmd.Handler(args)
}

// CallCommand returns the call primitive for cmd on the connected peer. A
// call fails when the peer does not answer within the router timeout.
func (r *Router) CallCommand(conn Connection, cmd string) framework.CallPrimitive {
	topic := CommandTopic(conn.ModuleID, conn.ImplementationID, cmd)
	name := conn.ModuleID + "." + conn.ImplementationID + "." + cmd
	return func(args framework.Args) (framework.Args, error) {
		ctx, cancel := context.WithTimeout(r.ctx, r.timeout)
		defer cancel()
		ctx, span := r.tracer.Start(ctx, "call "+name, trace.WithSpanKind(trace.SpanKindClient))
		defer span.End()

		carrier := map[string]string{}
		telemetry.Inject(ctx, carrier)
		ev, err := r.bus.Request(ctx, topic, ifw.EventCommand, map[string]any{
			ifw.KeyArgs: map[string]any(args),
			keyTrace:    carrier,
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		if msg, ok := ev.Data[ifw.KeyError].(string); ok {
			span.SetStatus(codes.Error, msg)
			return nil, fmt.Errorf("peer %s: %s", name, msg)
		}
		res, ok := ev.Data[ifw.KeyResult].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("peer %s: malformed reply", name)
		}
		return framework.Args(res), nil
	}
}

// SubscribeVar returns the subscription primitive for variable on every
// connected peer. Values are delivered in publish order.
func (r *Router) SubscribeVar(conns []Connection, variable string) framework.SubscribeFunc {
	return func(callback func(value any)) error {
		for _, conn := range conns {
			r.deliver(VarTopic(conn.ModuleID, conn.ImplementationID, variable), func(ev ifw.Event) {
				callback(ev.Data[ifw.KeyValue])
			})
		}
		return nil
	}
}

// PublishVar returns the publish primitive for variable on impl.
func (r *Router) PublishVar(impl, variable string) framework.PublishFunc {
	topic := VarTopic(r.moduleID, impl, variable)
	return func(value any) error {
		v, err := framework.EncodeResult(value)
		if err != nil {
			return fmt.Errorf("publish %s: %w", variable, err)
		}
		return r.bus.Publish(topic, ifw.EventVar, map[string]any{ifw.KeyValue: v})
	}
}

// PublishError returns the error report publisher of impl.
func (r *Router) PublishError(impl string) framework.ErrorPublishFunc {
	topic := ErrorTopic(r.moduleID, impl)
	return func(report framework.ErrorReport) error {
		report.Origin = framework.ErrorOrigin{ModuleID: r.moduleID, ImplementationID: impl}
		if report.State == framework.ErrorActive {
			r.logger.Error("error raised", "impl", impl, "type", report.Type, "sub_type", report.SubType, "message", report.Message)
		} else {
			r.logger.Info("error cleared", "impl", impl, "type", report.Type, "sub_type", report.SubType)
		}
		return r.bus.Publish(topic, ifw.EventError, map[string]any{ifw.KeyReport: report})
	}
}

// SubscribeErrors returns the error report subscription for every connected
// peer.
func (r *Router) SubscribeErrors(conns []Connection) framework.ErrorSubscribeFunc {
	return func(callback func(framework.ErrorReport)) error {
		for _, conn := range conns {
			r.deliver(ErrorTopic(conn.ModuleID, conn.ImplementationID), func(ev ifw.Event) {
				report, err := decodeReport(ev.Data[ifw.KeyReport])
				if err != nil {
					r.logger.Warn("dropping malformed error report", "topic", ev.Topic, "err", err)
					return
				}
				callback(report)
			})
		}
		return nil
	}
}

func decodeReport(v any) (framework.ErrorReport, error) {
	var report framework.ErrorReport
	raw, err := json.Marshal(v)
	if err != nil {
		return report, err
	}
	if err := json.Unmarshal(raw, &report); err != nil {
		return report, err
	}
	if report.Type == "" {
		return report, fmt.Errorf("report has no type")
	}
	return report, nil
}

func (r *Router) ExtMQTTPublish(topic, payload string) error {
	return r.bus.Publish(ExternalTopic(topic), ifw.EventExternal, map[string]any{ifw.KeyPayload: payload})
}

func (r *Router) ExtMQTTSubscribe(topic string, callback func(payload string)) error {
	r.deliver(ExternalTopic(topic), func(ev ifw.Event) {
		payload, _ := ev.Data[ifw.KeyPayload].(string)
		callback(payload)
	})
	return nil
}

// deliver feeds events on topic to fn from one goroutine until the router
// context ends.
func (r *Router) deliver(topic string, fn func(ifw.Event)) {
	ch, id := r.bus.Subscribe(topic)
	r.track(id)
	go func() {
		for {
			select {
			case <-r.ctx.Done():
				return
			case ev := <-ch:
				fn(ev)
			}
		}
	}()
}

func (r *Router) track(id string) {
	r.mu.Lock()
	r.subs = append(r.subs, id)
	r.mu.Unlock()
}

// Close drops every bus subscription made by the router.
func (r *Router) Close() {
	r.mu.Lock()
	subs := r.subs
	r.subs = nil
	r.mu.Unlock()
	for _, id := range subs {
		r.bus.Unsubscribe(id)
	}
}

func carrierFrom(v any) map[string]string {
	carrier := map[string]string{}
	switch m := v.(type) {
	case map[string]string:
		return m
	case map[string]any:
		for k, val := range m {
			if s, ok := val.(string); ok {
				carrier[k] = s
			}
		}
	}
	return carrier
}
