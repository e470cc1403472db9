package central

import (
	"fmt"
	"sort"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/codefionn/go-ble-central/internal/logger"
	"github.com/codefionn/go-ble-central/internal/models"
)

// pendingAttempt is one in-flight connection: the record we will move into
// the connected set on success, and the one-shot timeout timer armed for it.
type pendingAttempt struct {
	record models.PeripheralRecord
	timer  *clock.Timer
}

// ConnectionSupervisor owns the connected-peripheral set and the per
// peripheral pending-connection timers. A given identifier is in at most one
// of {no attempt, pending, connected} at a time. Like ScanSession it relies
// on the Manager's owner lock for serialization; timer callbacks re-enter
// through the dispatch hook, which takes that lock before touching state.
type ConnectionSupervisor struct {
	radio   Radio
	bus     *EventBus
	adapter *AdapterStateTracker
	clk     clock.Clock
	logger  *logger.Logger

	// dispatch runs the given function under the owner lock. Timer fires
	// arrive on the clock's goroutine and must marshal through it.
	dispatch func(func())

	connected map[uuid.UUID]models.PeripheralRecord
	pending   map[uuid.UUID]*pendingAttempt
}

// NewConnectionSupervisor creates a supervisor with empty state.
func NewConnectionSupervisor(radio Radio, bus *EventBus, adapter *AdapterStateTracker, clk clock.Clock, dispatch func(func()), log *logger.Logger) *ConnectionSupervisor {
	return &ConnectionSupervisor{
		radio:     radio,
		bus:       bus,
		adapter:   adapter,
		clk:       clk,
		dispatch:  dispatch,
		logger:    log,
		connected: make(map[uuid.UUID]models.PeripheralRecord),
		pending:   make(map[uuid.UUID]*pendingAttempt),
	}
}

// Connect validates preconditions, issues the radio connect primitive and
// arms the timeout timer. It returns before any outcome is known; success,
// failure and timeout all arrive later as events.
//
// Re-issuing connect while an attempt is still pending is permitted (the
// connected set is the only gate), but the previous attempt's timer is
// stopped and replaced so a single identifier never has two timers armed.
// The replacement happens only after the radio accepts the new attempt; a
// rejected re-issue leaves the original attempt and its timer intact.
func (c *ConnectionSupervisor) Connect(rec models.PeripheralRecord, timeout time.Duration) error {
	if err := c.adapter.Gate(); err != nil {
		return err
	}

	if _, ok := c.connected[rec.ID]; ok {
		return ErrAlreadyConnected
	}

	if !rec.HasHandle() {
		return ErrPeripheralHandleMissing
	}

	if err := c.radio.Connect(rec.Handle); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectStartFailed, err)
	}

	if prev, ok := c.pending[rec.ID]; ok {
		prev.timer.Stop()
		c.logger.Warn("connect re-issued while attempt pending, replacing timer",
			logger.String("id", rec.ID.String()),
		)
	}

	id := rec.ID
	attempt := &pendingAttempt{record: rec}
	attempt.timer = c.clk.AfterFunc(timeout, func() {
		c.dispatch(func() {
			c.handleTimeout(id)
		})
	})
	c.pending[id] = attempt

	c.logger.Info("connecting to peripheral",
		logger.String("id", id.String()),
		logger.String("name", rec.Name),
		logger.Duration("timeout", timeout),
	)
	return nil
}

// Disconnect issues the cancel-connection primitive for a connected
// peripheral. The peripheral leaves the connected set only when the radio
// reports the disconnect, not here.
func (c *ConnectionSupervisor) Disconnect(id uuid.UUID) error {
	rec, ok := c.connected[id]
	if !ok {
		return ErrNotConnected
	}

	// Normally no timer exists once connected; clear defensively.
	if attempt, pending := c.pending[id]; pending {
		attempt.timer.Stop()
		delete(c.pending, id)
	}

	if err := c.radio.CancelConnection(rec.Handle); err != nil {
		return fmt.Errorf("cancel connection primitive: %w", err)
	}

	c.logger.Info("disconnecting from peripheral", logger.String("id", id.String()))
	return nil
}

// handleTimeout runs when a pending attempt's timer fires. The radio success
// callback and the timer can race; whichever is serialized first wins, so a
// fire that arrives after the peripheral connected must no-op instead of
// cancelling a live connection.
func (c *ConnectionSupervisor) handleTimeout(id uuid.UUID) {
	attempt, ok := c.pending[id]
	if !ok {
		return
	}
	delete(c.pending, id)

	if _, isConnected := c.connected[id]; isConnected {
		// Success was serialized ahead of the timer fire.
		return
	}

	if !attempt.record.HasHandle() {
		// Connect required a handle, so this indicates a logic error
		// elsewhere; surface it as a failure rather than panicking.
		c.logger.Error("pending attempt lost its radio handle", logger.String("id", id.String()))
		c.bus.Publish(Event{
			Type:       models.EventTypePeripheralConnectFailed,
			Peripheral: attempt.record,
			Cause:      ErrPeripheralHandleMissing,
		})
		return
	}

	if err := c.radio.CancelConnection(attempt.record.Handle); err != nil {
		c.logger.Warn("cancel connection primitive failed after timeout", logger.ErrorField(err))
	}

	c.logger.Warn("connection attempt timed out", logger.String("id", id.String()))
	c.bus.Publish(Event{
		Type:       models.EventTypePeripheralConnectFailed,
		Peripheral: attempt.record,
		Cause:      ErrConnectionTimeout,
	})
}

// HandleConnected processes a radio connect-success notification: the timer
// is disarmed, the peripheral moves into the connected set and a connected
// event is emitted. Notifications for identifiers with no pending attempt
// are ignored; they indicate a teardown racing the radio's callbacks.
func (c *ConnectionSupervisor) HandleConnected(id uuid.UUID) {
	attempt, ok := c.pending[id]
	if !ok {
		c.logger.Debug("ignoring connected notification for unknown peripheral",
			logger.String("id", id.String()),
		)
		return
	}

	attempt.timer.Stop()
	delete(c.pending, id)
	c.connected[id] = attempt.record

	c.logger.Info("peripheral connected",
		logger.String("id", id.String()),
		logger.String("name", attempt.record.Name),
	)
	c.bus.Publish(Event{
		Type:       models.EventTypePeripheralConnected,
		Peripheral: attempt.record,
	})
}

// HandleConnectFailed processes a radio-reported connection failure.
func (c *ConnectionSupervisor) HandleConnectFailed(id uuid.UUID, cause error) {
	attempt, ok := c.pending[id]
	if !ok {
		c.logger.Debug("ignoring connect-failed notification for unknown peripheral",
			logger.String("id", id.String()),
		)
		return
	}

	attempt.timer.Stop()
	delete(c.pending, id)

	c.logger.Warn("connection attempt failed",
		logger.String("id", id.String()),
		logger.ErrorField(cause),
	)
	c.bus.Publish(Event{
		Type:       models.EventTypePeripheralConnectFailed,
		Peripheral: attempt.record,
		Cause:      cause,
	})
}

// HandleDisconnected processes a radio disconnect notification. A nil cause
// means a clean, intentional disconnect. Unknown identifiers are ignored.
func (c *ConnectionSupervisor) HandleDisconnected(id uuid.UUID, cause error) {
	rec, ok := c.connected[id]
	if !ok {
		c.logger.Debug("ignoring disconnect notification for unknown peripheral",
			logger.String("id", id.String()),
		)
		return
	}
	delete(c.connected, id)

	c.logger.Info("peripheral disconnected",
		logger.String("id", id.String()),
		logger.Bool("clean", cause == nil),
	)
	c.bus.Publish(Event{
		Type:       models.EventTypePeripheralDisconnected,
		Peripheral: rec,
		Cause:      cause,
	})
}

// Peripheral looks up a connected record by identifier.
func (c *ConnectionSupervisor) Peripheral(id uuid.UUID) (models.PeripheralRecord, bool) {
	rec, ok := c.connected[id]
	return rec, ok
}

// HasPending reports whether a connection attempt is in flight for id.
func (c *ConnectionSupervisor) HasPending(id uuid.UUID) bool {
	_, ok := c.pending[id]
	return ok
}

// Connected returns the connected set, ordered by identifier for stable
// output.
func (c *ConnectionSupervisor) Connected() []models.PeripheralRecord {
	out := make([]models.PeripheralRecord, 0, len(c.connected))
	for _, rec := range c.connected {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

// Shutdown disarms every pending timer. Used when the manager closes.
func (c *ConnectionSupervisor) Shutdown() {
	for id, attempt := range c.pending {
		attempt.timer.Stop()
		delete(c.pending, id)
	}
}
