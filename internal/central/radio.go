package central

import (
	"time"

	"github.com/google/uuid"

	"github.com/codefionn/go-ble-central/internal/models"
)

// Radio is the outbound primitive surface of the platform BLE stack. All
// methods return quickly; outcomes of connect and scan arrive later through
// the RadioEvents callbacks.
type Radio interface {
	// StartScan asks the radio to begin advertising discovery. An empty
	// filter matches every peripheral.
	StartScan(serviceFilter []uuid.UUID, allowDuplicates bool) error

	// StopScan asks the radio to stop discovery.
	StopScan() error

	// Connect initiates a connection to the peripheral behind the handle.
	Connect(handle interface{}) error

	// CancelConnection tears down a live connection or aborts an in-flight
	// attempt for the peripheral behind the handle.
	CancelConnection(handle interface{}) error
}

// RadioEvents is the inbound notification surface a radio backend delivers
// into. The Manager implements it; backends must not assume calls are cheap
// and should deliver from a single goroutine where possible (the manager
// serializes internally either way).
type RadioEvents interface {
	OnAdapterStateChanged(state models.AdapterState)
	OnPeripheralDiscovered(adv Advertisement)
	OnPeripheralConnected(id uuid.UUID)
	OnPeripheralConnectFailed(id uuid.UUID, cause error)
	OnPeripheralDisconnected(id uuid.UUID, cause error)
}

// Advertisement is one raw discovery notification from the radio backend.
type Advertisement struct {
	ID uuid.UUID

	// DeviceName is the name the device itself reports; LocalName is the
	// name carried in the advertisement payload. DeviceName wins when both
	// are present.
	DeviceName string
	LocalName  string

	ManufacturerData []byte
	RSSI             int16

	// Handle is the backend's own object for this peripheral, threaded
	// through untouched so connect can hand it back to the radio.
	Handle interface{}
}

// Record builds the immutable registry snapshot for this advertisement.
func (a Advertisement) Record(now time.Time) models.PeripheralRecord {
	name := a.DeviceName
	if name == "" {
		name = a.LocalName
	}

	return models.PeripheralRecord{
		ID:               a.ID,
		Name:             name,
		ManufacturerData: a.ManufacturerData,
		RSSI:             a.RSSI,
		LastSeen:         now,
		Handle:           a.Handle,
	}
}
