package central

import (
	"github.com/codefionn/go-ble-central/internal/logger"
	"github.com/codefionn/go-ble-central/internal/models"
)

// AdapterStateTracker mirrors the platform radio's power and authorization
// state. It is updated only from inbound platform notifications and read by
// every gated operation. The tracker itself cannot fail.
type AdapterStateTracker struct {
	logger *logger.Logger
	state  models.AdapterState
}

// NewAdapterStateTracker starts in the unknown state, matching a platform
// stack that has not reported yet.
func NewAdapterStateTracker(log *logger.Logger) *AdapterStateTracker {
	return &AdapterStateTracker{
		logger: log,
		state:  models.AdapterStateUnknown,
	}
}

// Current returns the last reported adapter state.
func (t *AdapterStateTracker) Current() models.AdapterState {
	return t.state
}

// Update records the new state and reports whether the radio is usable
// afterwards. The caller (the manager) force-stops an active scan when
// usability is lost.
func (t *AdapterStateTracker) Update(state models.AdapterState) (usable bool) {
	if state != t.state {
		t.logger.Info("adapter state changed",
			logger.String("from", string(t.state)),
			logger.String("to", string(state)),
		)
	}
	t.state = state
	return state.Usable()
}

// Gate returns nil when the adapter is powered on, ErrAdapterUnauthorized
// when access is denied, and ErrAdapterUnavailable for every other state.
func (t *AdapterStateTracker) Gate() error {
	switch t.state {
	case models.AdapterStatePoweredOn:
		return nil
	case models.AdapterStateUnauthorized:
		return ErrAdapterUnauthorized
	default:
		return ErrAdapterUnavailable
	}
}
