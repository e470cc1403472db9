package central

import (
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/codefionn/go-ble-central/internal/logger"
	"github.com/codefionn/go-ble-central/internal/models"
)

func newTestManager(t *testing.T) (*Manager, *fakeRadio, *clock.Mock, <-chan Event) {
	t.Helper()

	radio := &fakeRadio{}
	mock := clock.NewMock()

	m := NewManager(radio)
	m.Configure(Options{
		ConnectTimeout: 10 * time.Second,
		Clock:          mock,
		Logger:         testLogger(),
	})
	t.Cleanup(m.Close)

	events := make(chan Event, 64)
	m.Subscribe(func(ev Event) { events <- ev })

	return m, radio, mock, events
}

func advertisementFor(rec models.PeripheralRecord) Advertisement {
	return Advertisement{
		ID:               rec.ID,
		DeviceName:       rec.Name,
		ManufacturerData: rec.ManufacturerData,
		RSSI:             rec.RSSI,
		Handle:           rec.Handle,
	}
}

func TestManagerConfigureFirstWins(t *testing.T) {
	m := NewManager(&fakeRadio{})
	defer m.Close()

	m.Configure(Options{ConnectTimeout: 3 * time.Second, Logger: testLogger()})
	m.Configure(Options{ConnectTimeout: 30 * time.Second, Logger: testLogger()})

	if got := m.ConnectTimeout(); got != 3*time.Second {
		t.Errorf("ConnectTimeout = %v, first configure should win", got)
	}
}

func TestManagerImplicitConfiguration(t *testing.T) {
	m := NewManager(&fakeRadio{})
	defer m.Close()

	if got := m.ConnectTimeout(); got != DefaultConnectTimeout {
		t.Errorf("ConnectTimeout = %v, expected default %v", got, DefaultConnectTimeout)
	}
	if got := m.AdapterState(); got != models.AdapterStateUnknown {
		t.Errorf("AdapterState = %v before any radio report", got)
	}

	// Configure after implicit defaults is the late call; it is ignored
	m.Configure(Options{ConnectTimeout: time.Second, Logger: testLogger()})
	if got := m.ConnectTimeout(); got != DefaultConnectTimeout {
		t.Errorf("ConnectTimeout = %v, late configure must not apply", got)
	}
}

func TestManagerScanLifecycle(t *testing.T) {
	m, radio, _, events := newTestManager(t)

	// Gated until the adapter powers on
	if err := m.StartScan(nil, false); !errors.Is(err, ErrAdapterUnavailable) {
		t.Fatalf("Expected ErrAdapterUnavailable, got %v", err)
	}

	m.OnAdapterStateChanged(models.AdapterStatePoweredOn)
	waitEvent(t, events, models.EventTypeAdapterStateChanged)

	if err := m.StartScan(nil, false); err != nil {
		t.Fatalf("StartScan failed: %v", err)
	}
	if !m.IsScanning() {
		t.Fatal("Expected scanning state")
	}

	rec := testRecord("lamp", -40)
	m.OnPeripheralDiscovered(advertisementFor(rec))
	ev := waitEvent(t, events, models.EventTypePeripheralDiscovered)
	if ev.Peripheral.ID != rec.ID {
		t.Errorf("Discovery event for wrong peripheral: %s", ev.Peripheral.ID)
	}

	if got := len(m.DiscoveredPeripherals()); got != 1 {
		t.Errorf("Expected 1 discovered peripheral, got %d", got)
	}

	m.StopScan()
	if m.IsScanning() {
		t.Error("Expected idle after StopScan")
	}
	starts, stops, _, _ := radio.counts()
	if starts != 1 || stops != 1 {
		t.Errorf("Expected 1 start / 1 stop primitive, got %d / %d", starts, stops)
	}

	// Results survive the stop
	if _, ok := m.Peripheral(rec.ID); !ok {
		t.Error("Discovered peripheral should remain queryable after stop")
	}
}

func TestManagerDuplicateDiscoveryKeepsLatest(t *testing.T) {
	m, _, _, events := newTestManager(t)

	m.OnAdapterStateChanged(models.AdapterStatePoweredOn)
	if err := m.StartScan(nil, true); err != nil {
		t.Fatalf("StartScan failed: %v", err)
	}

	rec := testRecord("beacon", -40)
	m.OnPeripheralDiscovered(advertisementFor(rec))

	stronger := rec
	stronger.RSSI = -35
	m.OnPeripheralDiscovered(advertisementFor(stronger))

	discovered := m.DiscoveredPeripherals()
	if len(discovered) != 1 {
		t.Fatalf("Expected a single registry entry, got %d", len(discovered))
	}
	if discovered[0].RSSI != -35 {
		t.Errorf("Expected latest RSSI -35, got %d", discovered[0].RSSI)
	}

	waitEvent(t, events, models.EventTypeAdapterStateChanged)
	waitEvent(t, events, models.EventTypePeripheralDiscovered)
	waitEvent(t, events, models.EventTypePeripheralDiscovered)
}

func TestManagerAdapterLossForceStopsScan(t *testing.T) {
	m, radio, _, events := newTestManager(t)

	m.OnAdapterStateChanged(models.AdapterStatePoweredOn)
	if err := m.StartScan(nil, false); err != nil {
		t.Fatalf("StartScan failed: %v", err)
	}

	m.OnAdapterStateChanged(models.AdapterStatePoweredOff)

	if m.IsScanning() {
		t.Error("Scan must stop when the adapter loses power")
	}
	_, stops, _, _ := radio.counts()
	if stops != 1 {
		t.Errorf("Expected the stop primitive, got %d calls", stops)
	}

	waitEvent(t, events, models.EventTypeAdapterStateChanged)
	ev := waitEvent(t, events, models.EventTypeAdapterStateChanged)
	if ev.State != models.AdapterStatePoweredOff {
		t.Errorf("Expected powered_off state event, got %s", ev.State)
	}
}

func TestManagerConnectHappyPath(t *testing.T) {
	m, _, mock, events := newTestManager(t)

	m.OnAdapterStateChanged(models.AdapterStatePoweredOn)

	rec := testRecord("thermostat", -55)
	if err := m.Connect(rec); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	// Platform confirms before the timeout
	mock.Add(2 * time.Second)
	m.OnPeripheralConnected(rec.ID)

	waitEvent(t, events, models.EventTypeAdapterStateChanged)
	waitEvent(t, events, models.EventTypePeripheralConnected)

	if got := len(m.ConnectedPeripherals()); got != 1 {
		t.Fatalf("Expected 1 connected peripheral, got %d", got)
	}

	// Connected set is preferred over the scan registry on lookup
	if got, ok := m.Peripheral(rec.ID); !ok || got.ID != rec.ID {
		t.Error("Peripheral lookup should find the connected record")
	}

	// Disarmed timer stays quiet
	mock.Add(time.Minute)
	assertNoEvent(t, events)

	if err := m.Connect(rec); !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("Expected ErrAlreadyConnected, got %v", err)
	}
}

func TestManagerConnectTimesOut(t *testing.T) {
	m, radio, mock, events := newTestManager(t)

	m.OnAdapterStateChanged(models.AdapterStatePoweredOn)
	waitEvent(t, events, models.EventTypeAdapterStateChanged)

	rec := testRecord("unreachable", -90)
	if err := m.Connect(rec); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	mock.Add(10 * time.Second)

	ev := waitEvent(t, events, models.EventTypePeripheralConnectFailed)
	if !errors.Is(ev.Cause, ErrConnectionTimeout) {
		t.Errorf("Expected ErrConnectionTimeout, got %v", ev.Cause)
	}
	_, _, _, cancels := radio.counts()
	if cancels != 1 {
		t.Errorf("Expected the cancel primitive after timeout, got %d calls", cancels)
	}
	if got := len(m.ConnectedPeripherals()); got != 0 {
		t.Errorf("Expected empty connected set, got %d", got)
	}

	// The attempt can be retried after the failure
	if err := m.Connect(rec); err != nil {
		t.Errorf("Retry after timeout failed: %v", err)
	}
}

func TestManagerRecoveryAfterPowerCycle(t *testing.T) {
	m, _, _, events := newTestManager(t)

	rec := testRecord("lock", -50)
	if err := m.Connect(rec); !errors.Is(err, ErrAdapterUnavailable) {
		t.Fatalf("Expected ErrAdapterUnavailable, got %v", err)
	}

	m.OnAdapterStateChanged(models.AdapterStatePoweredOn)
	waitEvent(t, events, models.EventTypeAdapterStateChanged)

	if err := m.Connect(rec); err != nil {
		t.Fatalf("Connect after power-on failed: %v", err)
	}
	m.OnPeripheralConnected(rec.ID)
	waitEvent(t, events, models.EventTypePeripheralConnected)
}

func TestManagerDisconnect(t *testing.T) {
	m, _, _, events := newTestManager(t)

	m.OnAdapterStateChanged(models.AdapterStatePoweredOn)

	rec := testRecord("speaker", -45)
	if err := m.Disconnect(rec.ID); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Expected ErrNotConnected, got %v", err)
	}

	m.Connect(rec)
	m.OnPeripheralConnected(rec.ID)

	if err := m.Disconnect(rec.ID); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
	m.OnPeripheralDisconnected(rec.ID, nil)

	waitEvent(t, events, models.EventTypeAdapterStateChanged)
	waitEvent(t, events, models.EventTypePeripheralConnected)
	ev := waitEvent(t, events, models.EventTypePeripheralDisconnected)
	if ev.Cause != nil {
		t.Errorf("Clean disconnect should carry a nil cause, got %v", ev.Cause)
	}
}

func TestManagerUnauthorizedAdapter(t *testing.T) {
	m, _, _, _ := newTestManager(t)

	m.OnAdapterStateChanged(models.AdapterStateUnauthorized)

	if err := m.StartScan(nil, false); !errors.Is(err, ErrAdapterUnauthorized) {
		t.Errorf("StartScan: expected ErrAdapterUnauthorized, got %v", err)
	}
	if err := m.Connect(testRecord("x", -40)); !errors.Is(err, ErrAdapterUnauthorized) {
		t.Errorf("Connect: expected ErrAdapterUnauthorized, got %v", err)
	}
}

func TestManagerUnsubscribe(t *testing.T) {
	m := NewManager(&fakeRadio{})
	m.Configure(Options{Logger: testLogger()})
	defer m.Close()

	received := make(chan Event, 8)
	unsubscribe := m.Subscribe(func(ev Event) { received <- ev })

	m.OnAdapterStateChanged(models.AdapterStatePoweredOn)
	waitEvent(t, received, models.EventTypeAdapterStateChanged)

	unsubscribe()
	m.OnAdapterStateChanged(models.AdapterStatePoweredOff)
	assertNoEvent(t, received)
}

func TestManagerCloseIsIdempotent(t *testing.T) {
	m, _, mock, _ := newTestManager(t)

	m.OnAdapterStateChanged(models.AdapterStatePoweredOn)
	if err := m.Connect(testRecord("pend", -60)); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	m.Close()
	m.Close()

	// Pending timers are disarmed and late fires are swallowed
	mock.Add(time.Minute)
}

func TestManagerAdvertisementNamePreference(t *testing.T) {
	m, _, _, _ := newTestManager(t)

	m.OnAdapterStateChanged(models.AdapterStatePoweredOn)
	m.StartScan(nil, false)

	adv := Advertisement{
		ID:         uuid.New(),
		DeviceName: "Kitchen Lamp",
		LocalName:  "lamp-0042",
		RSSI:       -48,
		Handle:     struct{}{},
	}
	m.OnPeripheralDiscovered(adv)

	rec, ok := m.Peripheral(adv.ID)
	if !ok {
		t.Fatal("Discovered peripheral not found")
	}
	if rec.Name != "Kitchen Lamp" {
		t.Errorf("Expected the device name to win over the local name, got %q", rec.Name)
	}
}

func TestManagerZeroLogLevelDefaultsToDebug(t *testing.T) {
	var opts Options
	if opts.LogLevel != logger.DebugLevel {
		t.Errorf("Zero options log level = %v, expected debug", opts.LogLevel)
	}
}
