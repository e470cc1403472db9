package radio

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"tinygo.org/x/bluetooth"

	"github.com/codefionn/go-ble-central/internal/central"
	"github.com/codefionn/go-ble-central/internal/logger"
	"github.com/codefionn/go-ble-central/internal/models"
)

// addressNamespace makes peripheral identifiers deterministic across scans:
// the same platform address always maps to the same UUID.
var addressNamespace = uuid.MustParse("a7bb1d7e-15a4-4fdc-9fc1-7a9e1d5b7c02")

var errLinkLost = errors.New("link lost")

// tinygoHandle is the opaque per-record handle the hardware backend hands
// out. It carries the platform address needed for the connect primitive.
type tinygoHandle struct {
	id   uuid.UUID
	addr bluetooth.Address
}

// TinyGoBackend drives a real radio through tinygo.org/x/bluetooth, which
// talks to BlueZ on Linux, CoreBluetooth on macOS and WinRT on Windows.
type TinyGoBackend struct {
	adapter *bluetooth.Adapter
	logger  *logger.Logger

	mu       sync.Mutex
	events   central.RadioEvents
	scanning bool

	// byAddress maps platform addresses back to the identifiers handed out
	// in advertisements so connect-handler callbacks can be attributed.
	byAddress map[string]uuid.UUID
	devices   map[uuid.UUID]bluetooth.Device

	// expected marks identifiers whose next disconnect was requested by the
	// gateway and is therefore clean.
	expected map[uuid.UUID]bool
}

// NewTinyGoBackend creates a backend bound to the platform default adapter.
func NewTinyGoBackend(log *logger.Logger) *TinyGoBackend {
	return &TinyGoBackend{
		adapter:   bluetooth.DefaultAdapter,
		logger:    log.WithName("tinygo"),
		byAddress: make(map[string]uuid.UUID),
		devices:   make(map[uuid.UUID]bluetooth.Device),
		expected:  make(map[uuid.UUID]bool),
	}
}

// Name implements Backend.
func (b *TinyGoBackend) Name() string { return "tinygo" }

// Start implements Backend: the adapter is enabled and the disconnect
// handler registered. A successful enable is reported as powered on; the
// library offers no portable state-change feed beyond that.
func (b *TinyGoBackend) Start(events central.RadioEvents) error {
	b.mu.Lock()
	b.events = events
	b.mu.Unlock()

	if err := b.adapter.Enable(); err != nil {
		events.OnAdapterStateChanged(models.AdapterStatePoweredOff)
		return fmt.Errorf("enable adapter: %w", err)
	}

	b.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		b.handleDisconnect(device)
	})

	b.logger.Info("hardware radio started")
	events.OnAdapterStateChanged(models.AdapterStatePoweredOn)
	return nil
}

// Stop implements Backend.
func (b *TinyGoBackend) Stop() error {
	b.StopScan()
	b.logger.Info("hardware radio stopped")
	return nil
}

// StartScan implements central.Radio. The blocking library scan runs on its
// own goroutine and feeds discoveries into the event sink.
func (b *TinyGoBackend) StartScan(serviceFilter []uuid.UUID, allowDuplicates bool) error {
	filter, err := parseServiceFilter(serviceFilter)
	if err != nil {
		return err
	}

	b.mu.Lock()
	if b.events == nil {
		b.mu.Unlock()
		return fmt.Errorf("tinygo backend not started")
	}
	if b.scanning {
		b.mu.Unlock()
		return nil
	}
	b.scanning = true
	events := b.events
	b.mu.Unlock()

	go func() {
		seen := make(map[string]bool)
		err := b.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
			if len(filter) > 0 && !matchesFilter(result, filter) {
				return
			}

			addr := result.Address.String()
			if !allowDuplicates && seen[addr] {
				return
			}
			seen[addr] = true

			id := uuid.NewSHA1(addressNamespace, []byte(addr))
			b.mu.Lock()
			b.byAddress[addr] = id
			b.mu.Unlock()

			events.OnPeripheralDiscovered(central.Advertisement{
				ID:               id,
				LocalName:        result.LocalName(),
				ManufacturerData: flattenManufacturerData(result),
				RSSI:             result.RSSI,
				Handle:           tinygoHandle{id: id, addr: result.Address},
			})
		})
		if err != nil {
			b.logger.Warn("scan loop ended with error", logger.ErrorField(err))
		}

		b.mu.Lock()
		b.scanning = false
		b.mu.Unlock()
	}()
	return nil
}

// StopScan implements central.Radio.
func (b *TinyGoBackend) StopScan() error {
	b.mu.Lock()
	scanning := b.scanning
	b.mu.Unlock()

	if !scanning {
		return nil
	}
	return b.adapter.StopScan()
}

// Connect implements central.Radio. The library's connect blocks with its
// own internal timeout, so it runs on a goroutine and reports the outcome
// through the event sink; the gateway's own timer bounds the wait.
func (b *TinyGoBackend) Connect(handle interface{}) error {
	h, ok := handle.(tinygoHandle)
	if !ok {
		return fmt.Errorf("tinygo backend: foreign handle %T", handle)
	}

	b.mu.Lock()
	events := b.events
	delete(b.expected, h.id)
	b.mu.Unlock()

	go func() {
		device, err := b.adapter.Connect(h.addr, bluetooth.ConnectionParams{})
		if err != nil {
			events.OnPeripheralConnectFailed(h.id, err)
			return
		}

		b.mu.Lock()
		b.devices[h.id] = device
		b.byAddress[h.addr.String()] = h.id
		b.mu.Unlock()

		events.OnPeripheralConnected(h.id)
	}()
	return nil
}

// CancelConnection implements central.Radio. For a live connection it asks
// the platform to disconnect; a pending attempt cannot be aborted portably,
// so its eventual outcome is simply ignored upstream.
func (b *TinyGoBackend) CancelConnection(handle interface{}) error {
	h, ok := handle.(tinygoHandle)
	if !ok {
		return fmt.Errorf("tinygo backend: foreign handle %T", handle)
	}

	b.mu.Lock()
	device, connected := b.devices[h.id]
	if connected {
		b.expected[h.id] = true
	}
	b.mu.Unlock()

	if !connected {
		return nil
	}
	return device.Disconnect()
}

// handleDisconnect attributes a platform disconnect callback to a known
// peripheral and reports it with the right cause.
func (b *TinyGoBackend) handleDisconnect(device bluetooth.Device) {
	addr := device.Address.String()

	b.mu.Lock()
	id, known := b.byAddress[addr]
	if !known {
		b.mu.Unlock()
		return
	}
	delete(b.devices, id)
	clean := b.expected[id]
	delete(b.expected, id)
	events := b.events
	b.mu.Unlock()

	var cause error
	if !clean {
		cause = errLinkLost
	}
	events.OnPeripheralDisconnected(id, cause)
}

func parseServiceFilter(serviceFilter []uuid.UUID) ([]bluetooth.UUID, error) {
	filter := make([]bluetooth.UUID, 0, len(serviceFilter))
	for _, u := range serviceFilter {
		parsed, err := bluetooth.ParseUUID(u.String())
		if err != nil {
			return nil, fmt.Errorf("service filter %s: %w", u, err)
		}
		filter = append(filter, parsed)
	}
	return filter, nil
}

func matchesFilter(result bluetooth.ScanResult, filter []bluetooth.UUID) bool {
	for _, u := range filter {
		if result.HasServiceUUID(u) {
			return true
		}
	}
	return false
}

func flattenManufacturerData(result bluetooth.ScanResult) []byte {
	elements := result.ManufacturerData()
	if len(elements) == 0 {
		return nil
	}

	// Company ID little-endian followed by the payload, matching the raw
	// AD structure layout.
	e := elements[0]
	out := make([]byte, 0, 2+len(e.Data))
	out = append(out, byte(e.CompanyID), byte(e.CompanyID>>8))
	out = append(out, e.Data...)
	return out
}
