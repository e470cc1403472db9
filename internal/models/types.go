package models

import (
	"time"

	"github.com/google/uuid"
)

// AdapterState mirrors the power/authorization state of the host radio adapter.
type AdapterState string

const (
	AdapterStateUnknown      AdapterState = "unknown"
	AdapterStateResetting    AdapterState = "resetting"
	AdapterStateUnsupported  AdapterState = "unsupported"
	AdapterStateUnauthorized AdapterState = "unauthorized"
	AdapterStatePoweredOff   AdapterState = "powered_off"
	AdapterStatePoweredOn    AdapterState = "powered_on"
)

// Usable reports whether operations that need the radio may proceed.
func (s AdapterState) Usable() bool {
	return s == AdapterStatePoweredOn
}

// EventType represents different types of events that can be emitted
type EventType string

const (
	EventTypePeripheralDiscovered    EventType = "peripheral_discovered"
	EventTypePeripheralConnected     EventType = "peripheral_connected"
	EventTypePeripheralDisconnected  EventType = "peripheral_disconnected"
	EventTypePeripheralConnectFailed EventType = "peripheral_connect_failed"
	EventTypeAdapterStateChanged     EventType = "adapter_state_changed"
	EventTypeServerShutdown          EventType = "server_shutdown"
)

// APICommand represents different API commands available
type APICommand string

const (
	APICommandStartListening APICommand = "start_listening"
	APICommandServerInfo     APICommand = "server_info"
	APICommandDiagnostics    APICommand = "diagnostics"
	APICommandStartScan      APICommand = "start_scan"
	APICommandStopScan       APICommand = "stop_scan"
	APICommandConnect        APICommand = "connect"
	APICommandDisconnect     APICommand = "disconnect"
	APICommandGetPeripherals APICommand = "get_peripherals"
	APICommandGetConnected   APICommand = "get_connected"
	APICommandGetPeripheral  APICommand = "get_peripheral"
	APICommandAdapterState   APICommand = "adapter_state"
)

// PeripheralRecord is an immutable snapshot of a discovered BLE peripheral.
// Two records describe the same device iff their IDs match; a re-discovery
// replaces the whole record rather than mutating it in place.
type PeripheralRecord struct {
	ID               uuid.UUID `json:"id"`
	Name             string    `json:"name,omitempty"`
	ManufacturerData []byte    `json:"manufacturer_data,omitempty"`
	RSSI             int16     `json:"rssi"`
	LastSeen         time.Time `json:"last_seen"`

	// Handle is the opaque back-reference into the radio backend's own
	// connection object. It is nil for records built synthetically (cache
	// reloads, tests) and is required for connect/disconnect.
	Handle interface{} `json:"-"`
}

// SameDevice reports whether both records describe the same peripheral.
func (p PeripheralRecord) SameDevice(other PeripheralRecord) bool {
	return p.ID == other.ID
}

// HasHandle reports whether the record carries a live radio handle.
func (p PeripheralRecord) HasHandle() bool {
	return p.Handle != nil
}

// PeripheralEventData is the payload of peripheral-scoped events.
type PeripheralEventData struct {
	Peripheral PeripheralRecord `json:"peripheral"`
	Cause      *string          `json:"cause,omitempty"`
}

// AdapterStateEventData is the payload of adapter state change events.
type AdapterStateEventData struct {
	State AdapterState `json:"state"`
}

// Message types for WebSocket communication

// CommandMessage represents a command from client to server
type CommandMessage struct {
	MessageID string                 `json:"message_id"`
	Command   string                 `json:"command"`
	Args      map[string]interface{} `json:"args,omitempty"`
}

// ResultMessageBase is the base class for result messages
type ResultMessageBase struct {
	MessageID string `json:"message_id"`
}

// SuccessResultMessage is sent when a command executes successfully
type SuccessResultMessage struct {
	ResultMessageBase
	Result interface{} `json:"result"`
}

// ErrorResultMessage is sent when a command fails
type ErrorResultMessage struct {
	ResultMessageBase
	ErrorCode int     `json:"error_code"`
	Details   *string `json:"details,omitempty"`
}

// EventMessage is sent for stateless events
type EventMessage struct {
	Event EventType   `json:"event"`
	Data  interface{} `json:"data"`
}

// ServerInfoMessage contains gateway information sent to clients
type ServerInfoMessage struct {
	ServerVersion string       `json:"server_version"`
	SchemaVersion int          `json:"schema_version"`
	RadioBackend  string       `json:"radio_backend"`
	AdapterState  AdapterState `json:"adapter_state"`
	Scanning      bool         `json:"scanning"`
}

// ServerDiagnostics contains a full gateway dump for diagnostics
type ServerDiagnostics struct {
	Info       ServerInfoMessage  `json:"info"`
	Discovered []PeripheralRecord `json:"discovered"`
	Connected  []PeripheralRecord `json:"connected"`
}

// EventCallback is a function type for event callbacks
type EventCallback func(eventType EventType, data interface{})

// GenerateMessageID generates a new message ID
func GenerateMessageID() string {
	return uuid.New().String()
}
