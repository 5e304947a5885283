package framework

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"net"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

// BusClient handles low-level communication with the system Unix socket.
// Messages are newline-delimited JSON events.
type BusClient struct {
	conn     net.Conn
	moduleID string
	logger   *log.Logger

	writeMu sync.Mutex
	enc     *json.Encoder

	mu        sync.RWMutex
	listeners map[string]listener
	closed    bool
}

type listener struct {
	topic string
	fn    func(Event)
	async bool
}

func NewBusClient(socketPath, moduleID string, logger *log.Logger) (*BusClient, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to bus: %w", err)
	}
	if logger == nil {
		logger = log.Default()
	}

	bc := &BusClient{
		conn:      conn,
		moduleID:  moduleID,
		logger:    logger,
		enc:       json.NewEncoder(conn),
		listeners: make(map[string]listener),
	}

	go bc.listen()
	return bc, nil
}

func (bc *BusClient) ModuleID() string { return bc.moduleID }

func (bc *BusClient) Close() error {
	bc.mu.Lock()
	bc.closed = true
	bc.mu.Unlock()
	return bc.conn.Close()
}

func (bc *BusClient) listen() {
	decoder := json.NewDecoder(bc.conn)
	for {
		var ev Event
		if err := decoder.Decode(&ev); err != nil {
			bc.mu.RLock()
			closed := bc.closed
			bc.mu.RUnlock()
			if !closed {
				bc.logger.Warn("bus connection lost", "err", err)
			}
			return
		}

		bc.mu.RLock()
		var matched []listener
		for _, l := range bc.listeners {
			if topicMatches(l.topic, ev.Topic) {
				matched = append(matched, l)
			}
		}
		bc.mu.RUnlock()

		for _, l := range matched {
			if l.async {
				go l.fn(ev)
			} else {
				l.fn(ev)
			}
		}
	}
}

// Publish writes one event to the bus.
func (bc *BusClient) Publish(topic, eventType string, data map[string]any) error {
	ev := Event{
		Topic:  topic,
		Type:   eventType,
		Source: bc.moduleID,
		Data:   data,
	}
	bc.writeMu.Lock()
	defer bc.writeMu.Unlock()
	if err := bc.enc.Encode(ev); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	bc.logger.Debug("published", "topic", topic, "type", eventType)
	return nil
}

// Subscribe delivers matching events to a buffered channel in arrival order.
// Events are dropped when the buffer is full.
func (bc *BusClient) Subscribe(topic string) (<-chan Event, string) {
	ch := make(chan Event, 100)
	id := bc.add(listener{topic: topic, fn: func(ev Event) {
		select {
		case ch <- ev:
		default:
			bc.logger.Warn("subscriber buffer full, dropping event", "topic", ev.Topic)
		}
	}})
	return ch, id
}

// Handle runs fn on its own goroutine for every matching event.
func (bc *BusClient) Handle(topic string, fn func(Event)) string {
	return bc.add(listener{topic: topic, fn: fn, async: true})
}

func (bc *BusClient) Unsubscribe(id string) {
	bc.mu.Lock()
	delete(bc.listeners, id)
	bc.mu.Unlock()
}

func (bc *BusClient) add(l listener) string {
	id := uuid.NewString()
	bc.mu.Lock()
	bc.listeners[id] = l
	bc.mu.Unlock()
	return id
}

// Request publishes an event carrying a fresh reply_to topic and waits for
// the first event published there.
func (bc *BusClient) Request(ctx context.Context, topic, eventType string, data map[string]any) (Event, error) {
	replyTo := ReplyTopic(bc.moduleID, uuid.NewString())
	ch, id := bc.Subscribe(replyTo)
	defer bc.Unsubscribe(id)

	payload := make(map[string]any, len(data)+1)
	maps.Copy(payload, data)
	payload[KeyReplyTo] = replyTo
	if err := bc.Publish(topic, eventType, payload); err != nil {
		return Event{}, err
	}

	select {
	case ev := <-ch:
		return ev, nil
	case <-ctx.Done():
		return Event{}, fmt.Errorf("request %s: %w", topic, ctx.Err())
	}
}

// ReplyTopic is the private topic a requester listens on for one answer.
func ReplyTopic(moduleID, correlationID string) string {
	return "replies/" + moduleID + "/" + correlationID
}

func topicMatches(subscription, topic string) bool {
	if strings.HasSuffix(subscription, "*") {
		prefix := strings.TrimSuffix(subscription, "*")
		return strings.HasPrefix(topic, prefix)
	}
	return subscription == topic
}
