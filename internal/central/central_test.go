package central

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/codefionn/go-ble-central/internal/logger"
	"github.com/codefionn/go-ble-central/internal/models"
)

// fakeRadio records primitive calls and fails on demand.
type fakeRadio struct {
	mu sync.Mutex

	startScanCalls int
	stopScanCalls  int
	connectCalls   []interface{}
	cancelCalls    []interface{}

	startScanErr error
	connectErr   error
}

func (r *fakeRadio) StartScan(serviceFilter []uuid.UUID, allowDuplicates bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.startScanErr != nil {
		return r.startScanErr
	}
	r.startScanCalls++
	return nil
}

func (r *fakeRadio) StopScan() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopScanCalls++
	return nil
}

func (r *fakeRadio) Connect(handle interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.connectErr != nil {
		return r.connectErr
	}
	r.connectCalls = append(r.connectCalls, handle)
	return nil
}

func (r *fakeRadio) CancelConnection(handle interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelCalls = append(r.cancelCalls, handle)
	return nil
}

func (r *fakeRadio) counts() (startScan, stopScan, connect, cancel int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.startScanCalls, r.stopScanCalls, len(r.connectCalls), len(r.cancelCalls)
}

func testLogger() *logger.Logger {
	// Reduce noise in tests
	return logger.NewConsoleLogger(logger.ErrorLevel)
}

func testRecord(name string, rssi int16) models.PeripheralRecord {
	return models.PeripheralRecord{
		ID:       uuid.New(),
		Name:     name,
		RSSI:     rssi,
		LastSeen: time.Now(),
		Handle:   &struct{ tag string }{tag: name},
	}
}

// collectEvents subscribes a channel-backed collector to the bus.
func collectEvents(bus *EventBus) <-chan Event {
	events := make(chan Event, 64)
	bus.Subscribe(func(ev Event) {
		events <- ev
	})
	return events
}

func waitEvent(t *testing.T, events <-chan Event, want models.EventType) Event {
	t.Helper()

	select {
	case ev := <-events:
		if ev.Type != want {
			t.Fatalf("Expected %s event, got %s", want, ev.Type)
		}
		return ev
	case <-time.After(time.Second):
		t.Fatalf("Timed out waiting for %s event", want)
		return Event{}
	}
}

func assertNoEvent(t *testing.T, events <-chan Event) {
	t.Helper()

	select {
	case ev := <-events:
		t.Fatalf("Expected no event, got %s", ev.Type)
	case <-time.After(50 * time.Millisecond):
	}
}
