package central

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/codefionn/go-ble-central/internal/logger"
	"github.com/codefionn/go-ble-central/internal/models"
)

// DefaultConnectTimeout bounds a connection attempt when Options does not
// specify one.
const DefaultConnectTimeout = 10 * time.Second

// Options configure a Manager. The zero value is usable: real clock, ten
// second connect timeout, console logging at debug severity.
type Options struct {
	// ConnectTimeout bounds every connection attempt.
	ConnectTimeout time.Duration

	// Clock is the timer source. Tests inject a mock clock to drive
	// timeouts deterministically.
	Clock clock.Clock

	// Logger receives structured logs. When nil a console logger at
	// LogLevel is created.
	Logger *logger.Logger

	// LogLevel is the minimum severity for the default logger. Ignored
	// when Logger is set.
	LogLevel logger.LogLevel
}

// Manager is the top-level central-role facade: it composes the adapter
// state tracker, scan session, connection supervisor and event bus, and is
// the single entry point both for callers and for the radio backend's
// inbound notifications.
//
// All state mutation is serialized under one mutex, the Go rendering of a
// single owner queue: public operations, radio callbacks and timer fires all
// take it before touching any component, so the components themselves carry
// no locking. Whichever of a timer fire and a radio callback acquires the
// lock first is processed first.
type Manager struct {
	radio Radio

	mu         sync.Mutex
	configured bool
	closed     bool
	opts       Options
	logger     *logger.Logger

	bus     *EventBus
	adapter *AdapterStateTracker
	scan    *ScanSession
	conns   *ConnectionSupervisor
}

var _ RadioEvents = (*Manager)(nil)

// NewManager creates an unconfigured manager bound to a radio backend.
// Configuration happens either explicitly through Configure or implicitly
// with defaults on the first public operation.
func NewManager(radio Radio) *Manager {
	return &Manager{radio: radio}
}

// Configure applies options exactly once. The first call wins; later calls
// are logged and ignored rather than merged or erroring.
func (m *Manager) Configure(opts Options) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.configured {
		m.logger.Warn("configure ignored, manager already configured")
		return
	}
	m.applyOptionsLocked(opts)
}

func (m *Manager) ensureConfiguredLocked() {
	if m.configured {
		return
	}
	m.applyOptionsLocked(Options{})
	m.logger.Debug("manager implicitly configured with defaults")
}

func (m *Manager) applyOptionsLocked(opts Options) {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewConsoleLogger(opts.LogLevel)
	}

	m.opts = opts
	m.logger = opts.Logger.WithName("central")

	m.bus = NewEventBus(m.logger)
	m.adapter = NewAdapterStateTracker(m.logger)
	m.scan = NewScanSession(m.radio, m.bus, m.adapter, m.logger)
	m.conns = NewConnectionSupervisor(m.radio, m.bus, m.adapter, opts.Clock, m.runOwned, m.logger)
	m.configured = true
}

// runOwned executes fn under the owner lock. Timer callbacks marshal through
// it so they mutate state with the same serialization as everything else.
func (m *Manager) runOwned(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	fn()
}

// Subscribe registers an event handler and returns its unsubscribe function.
func (m *Manager) Subscribe(fn EventHandler) func() {
	m.mu.Lock()
	m.ensureConfiguredLocked()
	bus := m.bus
	m.mu.Unlock()

	return bus.Subscribe(fn)
}

// StartScan begins discovery. Idempotent while scanning; rejected when the
// adapter is not powered on.
func (m *Manager) StartScan(serviceFilter []uuid.UUID, allowDuplicates bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ensureConfiguredLocked()
	return m.scan.Start(serviceFilter, allowDuplicates)
}

// StopScan ends discovery; a no-op while idle.
func (m *Manager) StopScan() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ensureConfiguredLocked()
	m.scan.Stop()
}

// Connect starts a connection attempt for the given record with the
// configured timeout. The outcome arrives later as a connected or
// connect-failed event.
func (m *Manager) Connect(rec models.PeripheralRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ensureConfiguredLocked()
	return m.conns.Connect(rec, m.opts.ConnectTimeout)
}

// Disconnect tears down a live connection. The peripheral leaves the
// connected set when the radio reports the disconnect.
func (m *Manager) Disconnect(id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ensureConfiguredLocked()
	return m.conns.Disconnect(id)
}

// Peripheral looks up a record by identifier across both registries,
// preferring the connected set over the scan registry.
func (m *Manager) Peripheral(id uuid.UUID) (models.PeripheralRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ensureConfiguredLocked()
	if rec, ok := m.conns.Peripheral(id); ok {
		return rec, true
	}
	return m.scan.Peripheral(id)
}

// DiscoveredPeripherals returns the current scan registry in discovery order.
func (m *Manager) DiscoveredPeripherals() []models.PeripheralRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ensureConfiguredLocked()
	return m.scan.Discovered()
}

// ConnectedPeripherals returns the connected set.
func (m *Manager) ConnectedPeripherals() []models.PeripheralRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ensureConfiguredLocked()
	return m.conns.Connected()
}

// AdapterState returns the last reported adapter state.
func (m *Manager) AdapterState() models.AdapterState {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ensureConfiguredLocked()
	return m.adapter.Current()
}

// IsScanning reports whether a scan session is active.
func (m *Manager) IsScanning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ensureConfiguredLocked()
	return m.scan.Scanning()
}

// ConnectTimeout returns the configured attempt timeout.
func (m *Manager) ConnectTimeout() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ensureConfiguredLocked()
	return m.opts.ConnectTimeout
}

// Close disarms pending timers and shuts the event bus down after the queued
// events have been delivered. The manager must not be used afterwards.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed || !m.configured {
		m.closed = true
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.conns.Shutdown()
	bus := m.bus
	m.mu.Unlock()

	bus.Close()
}

// RadioEvents implementation. The radio backend delivers its notifications
// through these; each is serialized under the owner lock like every other
// mutation.

// OnAdapterStateChanged records the new adapter state, force-stops an active
// scan when usability is lost and emits an adapter-state event.
func (m *Manager) OnAdapterStateChanged(state models.AdapterState) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ensureConfiguredLocked()
	usable := m.adapter.Update(state)
	if !usable && m.scan.Scanning() {
		m.scan.ForceStop()
	}
	m.bus.Publish(Event{
		Type:  models.EventTypeAdapterStateChanged,
		State: state,
	})
}

// OnPeripheralDiscovered turns the advertisement into a registry snapshot
// and hands it to the scan session.
func (m *Manager) OnPeripheralDiscovered(adv Advertisement) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ensureConfiguredLocked()
	m.scan.HandleDiscovery(adv.Record(m.opts.Clock.Now()))
}

// OnPeripheralConnected resolves a pending attempt to success.
func (m *Manager) OnPeripheralConnected(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ensureConfiguredLocked()
	m.conns.HandleConnected(id)
}

// OnPeripheralConnectFailed resolves a pending attempt to failure.
func (m *Manager) OnPeripheralConnectFailed(id uuid.UUID, cause error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ensureConfiguredLocked()
	m.conns.HandleConnectFailed(id, cause)
}

// OnPeripheralDisconnected removes the peripheral from the connected set.
// A nil cause means a clean disconnect.
func (m *Manager) OnPeripheralDisconnected(id uuid.UUID, cause error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ensureConfiguredLocked()
	m.conns.HandleDisconnected(id, cause)
}
