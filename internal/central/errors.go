package central

import "errors"

// Every synchronous rejection and asynchronous failure cause surfaced by this
// package is one of the sentinel errors below; callers can rely on errors.Is.
var (
	// ErrAdapterUnavailable is returned when the adapter is off, resetting,
	// unsupported or in an unknown state.
	ErrAdapterUnavailable = errors.New("adapter unavailable")

	// ErrAdapterUnauthorized is returned when the adapter is reachable but
	// Bluetooth access has been denied to this process.
	ErrAdapterUnauthorized = errors.New("adapter unauthorized")

	// ErrAlreadyConnected is returned when a connect is requested for a
	// peripheral already in the connected set.
	ErrAlreadyConnected = errors.New("peripheral already connected")

	// ErrNotConnected is returned when a disconnect is requested for a
	// peripheral absent from the connected set.
	ErrNotConnected = errors.New("peripheral not connected")

	// ErrPeripheralHandleMissing is returned when an operation needs a live
	// radio handle the record does not carry.
	ErrPeripheralHandleMissing = errors.New("peripheral record has no radio handle")

	// ErrConnectionTimeout is the failure cause carried by a connect-failed
	// event when the attempt timer fires before the radio reports an outcome.
	ErrConnectionTimeout = errors.New("connection attempt timed out")

	// ErrScanStartFailed wraps a radio-level failure to start scanning.
	ErrScanStartFailed = errors.New("scan start failed")

	// ErrConnectStartFailed wraps a radio-level rejection of the connect
	// primitive itself, before any attempt is pending.
	ErrConnectStartFailed = errors.New("connect start failed")
)
