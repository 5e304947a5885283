package logic

import (
	"errors"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"

	"moduleadapter/pkg/framework"
)

// EvseManager is the example charging-station module. It provides the "evse"
// implementation and requires a "board_support" peer driving the relay.
type EvseManager struct {
	logger *log.Logger

	mu       sync.Mutex
	bsp      *framework.Namespace
	evse     *framework.Namespace
	voltage  float64
	charging bool
	maxAmps  float64
	faults   map[string]bool
}

// BoardFault is raised on the evse implementation while the board support
// peer reports any error.
const BoardFault = "evse/BoardFault"

var errNotInitialized = errors.New("evse not initialized")

func New(logger *log.Logger) *EvseManager {
	if logger == nil {
		logger = log.Default()
	}
	return &EvseManager{logger: logger, maxAmps: 16, faults: map[string]bool{}}
}

var _ framework.Module = (*EvseManager)(nil)

// Register installs the provided commands.
func (m *EvseManager) Register(reg *framework.Registry) {
	reg.Handle("evse", "get_status", m.getStatus)
	reg.HandleFunc("evse", "enable_charging", m.EnableCharging, "on")
	reg.HandleFunc("evse", "get_state", m.State)
}

func (m *EvseManager) PreInit(setup *framework.Setup) error {
	bsp, err := setup.Requirement("board_support")
	if err != nil {
		return err
	}
	evse, err := setup.Provides("evse")
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.bsp = bsp
	m.evse = evse
	m.mu.Unlock()

	if err := bsp.Subscribe("voltage", m.onVoltage); err != nil {
		return err
	}
	return bsp.SubscribeError("", m.onBoardError, m.onBoardErrorCleared)
}

// Configure reads the optional max_current module setting.
func (m *EvseManager) Configure(configs framework.ModuleConfigs, info framework.ModuleInfo) error {
	module := framework.Args(configs[framework.ModuleConfigKey])
	if _, ok := module["max_current"]; !ok {
		return nil
	}
	amps, err := module.Float("max_current")
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.maxAmps = amps
	m.mu.Unlock()
	m.logger.Debug("configured", "module", info.Name, "max_current", amps)
	return nil
}

func (m *EvseManager) Init() error { return nil }

func (m *EvseManager) Ready() error {
	if _, err := m.EnableCharging(true); err != nil {
		return fmt.Errorf("enable charging: %w", err)
	}
	m.logger.Info("evse ready")
	return nil
}

func (m *EvseManager) getStatus(framework.Args) (any, error) {
	return map[string]any{"ok": true}, nil
}

// EnableCharging switches the relay through the board support peer and
// publishes the new state.
func (m *EvseManager) EnableCharging(on bool) (map[string]any, error) {
	m.mu.Lock()
	bsp, evse := m.bsp, m.evse
	faulted := len(m.faults) > 0
	m.mu.Unlock()

	if bsp == nil || evse == nil {
		return nil, errNotInitialized
	}
	if on && faulted {
		return nil, fmt.Errorf("board support reports %s", BoardFault)
	}

	relay, err := bsp.Call("enable", nil, on)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.charging = on
	m.mu.Unlock()

	m.publishStatus(evse)
	return map[string]any{"charging": on, "relay": relay}, nil
}

func (m *EvseManager) publishStatus(evse *framework.Namespace) {
	if err := evse.Publish("status", m.State()); err != nil {
		m.logger.Warn("failed to publish status", "err", err)
	}
}

// State returns the current charging state.
func (m *EvseManager) State() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return map[string]any{
		"charging":    m.charging,
		"voltage":     m.voltage,
		"max_current": m.maxAmps,
		"faults":      len(m.faults),
	}
}

func (m *EvseManager) onVoltage(value any) {
	v, ok := value.(float64)
	if !ok {
		m.logger.Warn("ignoring voltage update", "value", value)
		return
	}
	m.mu.Lock()
	m.voltage = v
	m.mu.Unlock()
	m.logger.Debug("voltage", "value", v)
}

// onBoardError stops charging and raises BoardFault on the first board error.
func (m *EvseManager) onBoardError(r framework.ErrorReport) {
	m.mu.Lock()
	first := len(m.faults) == 0
	m.faults[r.Type+"/"+r.SubType] = true
	m.charging = false
	evse := m.evse
	m.mu.Unlock()

	m.logger.Warn("board support error", "type", r.Type, "message", r.Message)
	if !first {
		return
	}
	err := evse.RaiseError(framework.ErrorReport{
		Type:        BoardFault,
		Message:     "board support reported " + r.Type,
		Description: r.Message,
		Severity:    framework.SeverityHigh,
	})
	if err != nil {
		m.logger.Error("failed to raise error", "type", BoardFault, "err", err)
	}
	m.publishStatus(evse)
}

// onBoardErrorCleared clears BoardFault once the board has no errors left.
func (m *EvseManager) onBoardErrorCleared(r framework.ErrorReport) {
	m.mu.Lock()
	delete(m.faults, r.Type+"/"+r.SubType)
	last := len(m.faults) == 0
	evse := m.evse
	m.mu.Unlock()

	if !last {
		return
	}
	if err := evse.ClearError(BoardFault, ""); err != nil {
		m.logger.Error("failed to clear error", "type", BoardFault, "err", err)
	}
	m.publishStatus(evse)
}
