package harness

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"moduleadapter/internal/framework"
)

// Harness simulates the Core Bus: every event is broadcast to every other
// connected client.
type Harness struct {
	SocketPath string
	listener   net.Listener
	dir        string
	Events     chan framework.Event
	conns      map[net.Conn]*json.Encoder
	mu         sync.Mutex
}

func NewHarness() (*Harness, error) {
	dir, err := os.MkdirTemp("", "module_bus")
	if err != nil {
		return nil, err
	}
	socketPath := filepath.Join(dir, "bus.sock")

	l, err := net.Listen("unix", socketPath)
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("failed to start harness: %w", err)
	}

	h := &Harness{
		SocketPath: socketPath,
		listener:   l,
		dir:        dir,
		Events:     make(chan framework.Event, 1000),
		conns:      make(map[net.Conn]*json.Encoder),
	}

	go h.accept()
	return h, nil
}

func (h *Harness) accept() {
	for {
		conn, err := h.listener.Accept()
		if err != nil {
			return
		}
		h.mu.Lock()
		h.conns[conn] = json.NewEncoder(conn)
		h.mu.Unlock()
		go h.handleConn(conn)
	}
}

func (h *Harness) handleConn(conn net.Conn) {
	defer func() {
		h.mu.Lock()
		delete(h.conns, conn)
		h.mu.Unlock()
		conn.Close()
	}()

	decoder := json.NewDecoder(conn)
	for {
		var ev framework.Event
		if err := decoder.Decode(&ev); err != nil {
			return
		}

		// Keep a copy for the test to inspect; drop when nobody reads.
		select {
		case h.Events <- ev:
		default:
		}

		h.mu.Lock()
		for c, enc := range h.conns {
			if c == conn {
				continue // Don't echo back to sender
			}
			enc.Encode(ev)
		}
		h.mu.Unlock()
	}
}

func (h *Harness) Close() {
	h.listener.Close()
	h.mu.Lock()
	for c := range h.conns {
		c.Close()
	}
	h.mu.Unlock()
	os.RemoveAll(h.dir)
}

// WaitForClients blocks until at least n clients are connected or the timeout
// expires.
func (h *Harness) WaitForClients(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		h.mu.Lock()
		connected := len(h.conns)
		h.mu.Unlock()
		if connected >= n {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}
