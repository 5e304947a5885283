package framework

import (
	"cmp"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Severity of a reported error.
type Severity string

const (
	SeverityLow    Severity = "Low"
	SeverityMedium Severity = "Medium"
	SeverityHigh   Severity = "High"
)

// ErrorState tells raised and cleared reports apart.
type ErrorState string

const (
	ErrorActive          ErrorState = "Active"
	ErrorClearedByModule ErrorState = "ClearedByModule"
)

// ErrorOrigin names the implementation that raised an error.
type ErrorOrigin struct {
	ModuleID         string `json:"module"`
	ImplementationID string `json:"implementation"`
}

// ErrorReport is one error raised by a module implementation. The same
// report travels again with State set to ErrorClearedByModule once cleared.
type ErrorReport struct {
	Type        string      `json:"type"`
	SubType     string      `json:"sub_type"`
	Message     string      `json:"message"`
	Description string      `json:"description"`
	Origin      ErrorOrigin `json:"from"`
	Severity    Severity    `json:"severity"`
	Timestamp   time.Time   `json:"timestamp"`
	UUID        string      `json:"uuid"`
	State       ErrorState  `json:"state"`
}

// ErrorPublishFunc hands a raised or cleared report of one of the module's
// implementations to the host.
type ErrorPublishFunc func(report ErrorReport) error

// ErrorSubscribeFunc registers a callback for every report of a peer.
type ErrorSubscribeFunc func(callback func(report ErrorReport)) error

// Members of the error API on p_ and r_ namespaces.
type (
	RaiseErrorFunc     func(report ErrorReport) error
	ClearErrorFunc     func(errorType, subType string) error
	ClearAllErrorsFunc func() error
	SubscribeErrorFunc func(errorType string, raised, cleared func(ErrorReport)) error
)

type errorKey struct{ typ, subType string }

// ErrorManager tracks the active errors of one implementation. An error type
// and sub type pair can be active at most once.
type ErrorManager struct {
	origin  ErrorOrigin
	publish ErrorPublishFunc
	now     func() time.Time

	mu     sync.Mutex
	active map[errorKey]ErrorReport
}

func NewErrorManager(origin ErrorOrigin, publish ErrorPublishFunc) *ErrorManager {
	return &ErrorManager{
		origin:  origin,
		publish: publish,
		now:     time.Now,
		active:  make(map[errorKey]ErrorReport),
	}
}

// Raise records r as active and publishes it. Origin, timestamp, uuid and
// state are filled in; severity defaults to Low.
func (m *ErrorManager) Raise(r ErrorReport) error {
	if r.Type == "" {
		return fmt.Errorf("%w: error type is empty", ErrInvalidArgument)
	}
	key := errorKey{r.Type, r.SubType}

	m.mu.Lock()
	if _, ok := m.active[key]; ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrErrorActive, describe(key))
	}
	r.Origin = m.origin
	r.Timestamp = m.now().UTC()
	r.UUID = uuid.NewString()
	r.State = ErrorActive
	if r.Severity == "" {
		r.Severity = SeverityLow
	}
	m.active[key] = r
	m.mu.Unlock()

	return m.publish(r)
}

// Clear clears the active error of errorType and subType.
func (m *ErrorManager) Clear(errorType, subType string) error {
	key := errorKey{errorType, subType}

	m.mu.Lock()
	r, ok := m.active[key]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrErrorNotActive, describe(key))
	}
	delete(m.active, key)
	m.mu.Unlock()

	r.State = ErrorClearedByModule
	return m.publish(r)
}

// ClearAll clears every active error of the implementation.
func (m *ErrorManager) ClearAll() error {
	m.mu.Lock()
	cleared := m.sortedLocked()
	clear(m.active)
	m.mu.Unlock()

	for _, r := range cleared {
		r.State = ErrorClearedByModule
		if err := m.publish(r); err != nil {
			return err
		}
	}
	return nil
}

// Active returns the active errors ordered by type and sub type.
func (m *ErrorManager) Active() []ErrorReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sortedLocked()
}

func (m *ErrorManager) sortedLocked() []ErrorReport {
	res := make([]ErrorReport, 0, len(m.active))
	for _, r := range m.active {
		res = append(res, r)
	}
	slices.SortFunc(res, func(a, b ErrorReport) int {
		if c := cmp.Compare(a.Type, b.Type); c != 0 {
			return c
		}
		return cmp.Compare(a.SubType, b.SubType)
	})
	return res
}

func describe(k errorKey) string {
	if k.subType == "" {
		return k.typ
	}
	return k.typ + "/" + k.subType
}

// subscribeErrors filters a peer's report stream by type. An empty
// errorType matches every type; a nil cleared callback ignores clears.
func subscribeErrors(sub ErrorSubscribeFunc) SubscribeErrorFunc {
	return func(errorType string, raised, cleared func(ErrorReport)) error {
		return sub(func(r ErrorReport) {
			if errorType != "" && r.Type != errorType {
				return
			}
			switch r.State {
			case ErrorActive:
				if raised != nil {
					raised(r)
				}
			default:
				if cleared != nil {
					cleared(r)
				}
			}
		})
	}
}
