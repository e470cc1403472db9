package radio

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codefionn/go-ble-central/internal/central"
	"github.com/codefionn/go-ble-central/internal/logger"
	"github.com/codefionn/go-ble-central/internal/models"
)

// DefaultAdvertiseInterval paces simulated advertisements.
const DefaultAdvertiseInterval = 500 * time.Millisecond

// SimPeripheral describes one virtual device the simulated backend
// advertises.
type SimPeripheral struct {
	ID               uuid.UUID
	Name             string
	ManufacturerData []byte
	RSSI             int16

	// ConnectLatency is how long a connection attempt takes to succeed.
	ConnectLatency time.Duration

	// Unreachable makes connection attempts hang forever, which exercises
	// the gateway's timeout path.
	Unreachable bool
}

// simHandle is the opaque per-record handle the simulated backend hands out.
type simHandle struct {
	id uuid.UUID
}

// SimBackend is an in-process radio with scripted peripherals. It serves
// development without real hardware and the end-to-end tests.
type SimBackend struct {
	logger            *logger.Logger
	advertiseInterval time.Duration

	mu          sync.Mutex
	events      central.RadioEvents
	peripherals []*SimPeripheral
	scanStop    chan struct{}
	connected   map[uuid.UUID]bool
	pending     map[uuid.UUID]bool
}

// NewSimBackend creates a simulated backend with no peripherals. Add some
// with AddPeripheral before or after starting.
func NewSimBackend(log *logger.Logger) *SimBackend {
	return &SimBackend{
		logger:            log.WithName("sim"),
		advertiseInterval: DefaultAdvertiseInterval,
		connected:         make(map[uuid.UUID]bool),
		pending:           make(map[uuid.UUID]bool),
	}
}

// SetAdvertiseInterval overrides the advertisement pacing. Tests shorten it.
func (b *SimBackend) SetAdvertiseInterval(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advertiseInterval = d
}

// AddPeripheral registers a virtual device.
func (b *SimBackend) AddPeripheral(p SimPeripheral) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	b.peripherals = append(b.peripherals, &p)
}

// Name implements Backend.
func (b *SimBackend) Name() string { return "sim" }

// Start implements Backend: the simulated adapter powers on immediately.
func (b *SimBackend) Start(events central.RadioEvents) error {
	b.mu.Lock()
	b.events = events
	b.mu.Unlock()

	b.logger.Info("simulated radio started")
	events.OnAdapterStateChanged(models.AdapterStatePoweredOn)
	return nil
}

// Stop implements Backend.
func (b *SimBackend) Stop() error {
	b.StopScan()
	b.logger.Info("simulated radio stopped")
	return nil
}

// StartScan implements central.Radio. The service filter is ignored since
// simulated peripherals carry no service UUIDs.
func (b *SimBackend) StartScan(serviceFilter []uuid.UUID, allowDuplicates bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.events == nil {
		return fmt.Errorf("sim backend not started")
	}
	if b.scanStop != nil {
		return nil
	}

	stop := make(chan struct{})
	b.scanStop = stop
	go b.advertiseLoop(stop, allowDuplicates)
	return nil
}

// StopScan implements central.Radio.
func (b *SimBackend) StopScan() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.scanStop != nil {
		close(b.scanStop)
		b.scanStop = nil
	}
	return nil
}

func (b *SimBackend) advertiseLoop(stop <-chan struct{}, allowDuplicates bool) {
	b.mu.Lock()
	interval := b.advertiseInterval
	b.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	seen := make(map[uuid.UUID]bool)
	for {
		// First round fires immediately so tests see discoveries without
		// waiting a full interval.
		b.mu.Lock()
		events := b.events
		peripherals := append([]*SimPeripheral(nil), b.peripherals...)
		b.mu.Unlock()

		for _, p := range peripherals {
			if !allowDuplicates && seen[p.ID] {
				continue
			}
			seen[p.ID] = true

			events.OnPeripheralDiscovered(central.Advertisement{
				ID:               p.ID,
				DeviceName:       p.Name,
				ManufacturerData: p.ManufacturerData,
				RSSI:             p.RSSI + int16(rand.Intn(7)) - 3,
				Handle:           simHandle{id: p.ID},
			})
		}

		select {
		case <-stop:
			return
		case <-ticker.C:
		}
	}
}

// Connect implements central.Radio. Reachable peripherals report success
// after their scripted latency; unreachable ones never answer.
func (b *SimBackend) Connect(handle interface{}) error {
	h, ok := handle.(simHandle)
	if !ok {
		return fmt.Errorf("sim backend: foreign handle %T", handle)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	p := b.findLocked(h.id)
	if p == nil {
		return fmt.Errorf("sim backend: unknown peripheral %s", h.id)
	}

	b.pending[p.ID] = true
	if p.Unreachable {
		return nil
	}

	latency := p.ConnectLatency
	events := b.events
	go func() {
		if latency > 0 {
			time.Sleep(latency)
		}

		b.mu.Lock()
		if !b.pending[p.ID] {
			// Cancelled before the simulated link came up.
			b.mu.Unlock()
			return
		}
		delete(b.pending, p.ID)
		b.connected[p.ID] = true
		b.mu.Unlock()

		events.OnPeripheralConnected(p.ID)
	}()
	return nil
}

// CancelConnection implements central.Radio. Cancelling a live connection
// reports a clean disconnect; cancelling a pending attempt just abandons it.
func (b *SimBackend) CancelConnection(handle interface{}) error {
	h, ok := handle.(simHandle)
	if !ok {
		return fmt.Errorf("sim backend: foreign handle %T", handle)
	}

	b.mu.Lock()
	wasConnected := b.connected[h.id]
	delete(b.connected, h.id)
	delete(b.pending, h.id)
	events := b.events
	b.mu.Unlock()

	if wasConnected {
		go events.OnPeripheralDisconnected(h.id, nil)
	}
	return nil
}

// DropConnection simulates an unexpected link loss for a connected
// peripheral.
func (b *SimBackend) DropConnection(id uuid.UUID, cause error) {
	b.mu.Lock()
	wasConnected := b.connected[id]
	delete(b.connected, id)
	events := b.events
	b.mu.Unlock()

	if wasConnected {
		events.OnPeripheralDisconnected(id, cause)
	}
}

// SetAdapterState scripts an adapter state transition.
func (b *SimBackend) SetAdapterState(state models.AdapterState) {
	b.mu.Lock()
	events := b.events
	b.mu.Unlock()

	if events != nil {
		events.OnAdapterStateChanged(state)
	}
}

func (b *SimBackend) findLocked(id uuid.UUID) *SimPeripheral {
	for _, p := range b.peripherals {
		if p.ID == id {
			return p
		}
	}
	return nil
}
