package radio

import (
	"github.com/codefionn/go-ble-central/internal/central"
)

// Backend is a runnable radio implementation. It extends the central
// package's primitive surface with a lifecycle: Start binds the event sink
// and powers the backend up, Stop releases it.
type Backend interface {
	central.Radio

	// Start powers the backend up and binds the sink that receives adapter
	// state changes, discoveries and connection outcomes. It must be called
	// before any primitive.
	Start(events central.RadioEvents) error

	// Stop halts scanning and releases the backend.
	Stop() error

	// Name identifies the backend in server info and logs.
	Name() string
}
