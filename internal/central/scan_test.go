package central

import (
	"errors"
	"testing"

	"github.com/codefionn/go-ble-central/internal/models"
)

func newTestScanSession(t *testing.T, state models.AdapterState) (*ScanSession, *fakeRadio, <-chan Event) {
	t.Helper()

	log := testLogger()
	radio := &fakeRadio{}
	bus := NewEventBus(log)
	t.Cleanup(bus.Close)

	tracker := NewAdapterStateTracker(log)
	tracker.Update(state)

	return NewScanSession(radio, bus, tracker, log), radio, collectEvents(bus)
}

func TestScanStartGatedByAdapterState(t *testing.T) {
	tests := []struct {
		name    string
		state   models.AdapterState
		wantErr error
	}{
		{"powered off", models.AdapterStatePoweredOff, ErrAdapterUnavailable},
		{"unknown", models.AdapterStateUnknown, ErrAdapterUnavailable},
		{"resetting", models.AdapterStateResetting, ErrAdapterUnavailable},
		{"unsupported", models.AdapterStateUnsupported, ErrAdapterUnavailable},
		{"unauthorized", models.AdapterStateUnauthorized, ErrAdapterUnauthorized},
		{"powered on", models.AdapterStatePoweredOn, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scan, radio, _ := newTestScanSession(t, tt.state)

			err := scan.Start(nil, false)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Start() = %v, expected %v", err, tt.wantErr)
			}

			starts, _, _, _ := radio.counts()
			if tt.wantErr != nil && starts != 0 {
				t.Error("Rejected start must not reach the radio")
			}
			if scan.Scanning() != (tt.wantErr == nil) {
				t.Errorf("Scanning() = %v after Start() = %v", scan.Scanning(), err)
			}
		})
	}
}

func TestScanStartRejectedDoesNotClearRegistry(t *testing.T) {
	scan, _, _ := newTestScanSession(t, models.AdapterStatePoweredOn)

	if err := scan.Start(nil, false); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	rec := testRecord("lamp", -40)
	scan.HandleDiscovery(rec)
	scan.Stop()

	// Make the next start fail through the gate; previous results stay
	scan.adapter.Update(models.AdapterStatePoweredOff)
	if err := scan.Start(nil, false); !errors.Is(err, ErrAdapterUnavailable) {
		t.Fatalf("Expected ErrAdapterUnavailable, got %v", err)
	}

	if got := len(scan.Discovered()); got != 1 {
		t.Errorf("Expected registry to keep 1 entry, got %d", got)
	}
}

func TestScanStartIdempotentWhileScanning(t *testing.T) {
	scan, radio, _ := newTestScanSession(t, models.AdapterStatePoweredOn)

	if err := scan.Start(nil, false); err != nil {
		t.Fatalf("First start failed: %v", err)
	}
	scan.HandleDiscovery(testRecord("sensor", -50))

	if err := scan.Start(nil, false); err != nil {
		t.Fatalf("Second start should be a no-op success, got %v", err)
	}

	starts, _, _, _ := radio.counts()
	if starts != 1 {
		t.Errorf("Expected 1 radio start, got %d", starts)
	}
	if got := len(scan.Discovered()); got != 1 {
		t.Errorf("Registry must not be cleared by the idempotent start, got %d entries", got)
	}
}

func TestScanNewSessionClearsRegistry(t *testing.T) {
	scan, _, _ := newTestScanSession(t, models.AdapterStatePoweredOn)

	scan.Start(nil, false)
	scan.HandleDiscovery(testRecord("old", -70))
	scan.Stop()

	if err := scan.Start(nil, false); err != nil {
		t.Fatalf("Restart failed: %v", err)
	}

	if got := len(scan.Discovered()); got != 0 {
		t.Errorf("Expected empty registry after new scan, got %d entries", got)
	}
}

func TestScanStartPrimitiveFailure(t *testing.T) {
	scan, radio, _ := newTestScanSession(t, models.AdapterStatePoweredOn)
	radio.startScanErr = errors.New("hci busy")

	err := scan.Start(nil, false)
	if !errors.Is(err, ErrScanStartFailed) {
		t.Fatalf("Expected ErrScanStartFailed, got %v", err)
	}
	if scan.Scanning() {
		t.Error("Session must stay idle when the radio rejects the scan")
	}
}

func TestScanDiscoveryUpsertsByIdentifier(t *testing.T) {
	scan, _, events := newTestScanSession(t, models.AdapterStatePoweredOn)
	scan.Start(nil, false)

	rec := testRecord("beacon", -40)
	scan.HandleDiscovery(rec)

	// Same identifier, fresher signal strength
	updated := rec
	updated.RSSI = -62
	scan.HandleDiscovery(updated)

	discovered := scan.Discovered()
	if len(discovered) != 1 {
		t.Fatalf("Expected exactly 1 registry entry, got %d", len(discovered))
	}
	if discovered[0].RSSI != -62 {
		t.Errorf("Expected latest RSSI -62, got %d", discovered[0].RSSI)
	}

	waitEvent(t, events, models.EventTypePeripheralDiscovered)
	ev := waitEvent(t, events, models.EventTypePeripheralDiscovered)
	if ev.Peripheral.RSSI != -62 {
		t.Errorf("Second discovery event should carry RSSI -62, got %d", ev.Peripheral.RSSI)
	}
}

func TestScanDiscoveryOrderIsStable(t *testing.T) {
	scan, _, _ := newTestScanSession(t, models.AdapterStatePoweredOn)
	scan.Start(nil, false)

	first := testRecord("first", -40)
	second := testRecord("second", -50)
	third := testRecord("third", -60)

	scan.HandleDiscovery(first)
	scan.HandleDiscovery(second)
	scan.HandleDiscovery(third)

	// Re-discovering the first device must not move it
	refreshed := first
	refreshed.RSSI = -45
	scan.HandleDiscovery(refreshed)

	discovered := scan.Discovered()
	if len(discovered) != 3 {
		t.Fatalf("Expected 3 entries, got %d", len(discovered))
	}
	if discovered[0].ID != first.ID || discovered[0].RSSI != -45 {
		t.Error("First discovered device should keep position with updated RSSI")
	}
	if discovered[2].ID != third.ID {
		t.Error("Discovery order not preserved")
	}
}

func TestScanStopAndForceStop(t *testing.T) {
	scan, radio, _ := newTestScanSession(t, models.AdapterStatePoweredOn)

	// Stop while idle is a no-op
	scan.Stop()
	_, stops, _, _ := radio.counts()
	if stops != 0 {
		t.Errorf("Idle stop should not reach the radio, got %d calls", stops)
	}

	scan.Start(nil, false)
	scan.Stop()
	if scan.Scanning() {
		t.Error("Expected idle after stop")
	}

	// ForceStop is safe in any state
	scan.ForceStop()
	scan.Start(nil, false)
	scan.ForceStop()
	if scan.Scanning() {
		t.Error("Expected idle after force stop")
	}
}

func TestScanDiscoveryAfterStopIsBenign(t *testing.T) {
	scan, _, events := newTestScanSession(t, models.AdapterStatePoweredOn)
	scan.Start(nil, false)
	scan.Stop()

	// The platform may drain its last notifications after stop
	scan.HandleDiscovery(testRecord("straggler", -80))
	waitEvent(t, events, models.EventTypePeripheralDiscovered)
}
