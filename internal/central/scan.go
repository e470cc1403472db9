package central

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/codefionn/go-ble-central/internal/logger"
	"github.com/codefionn/go-ble-central/internal/models"
)

// ScanSession owns the discovered-peripheral registry and the scan on/off
// state. It is not safe for concurrent use on its own; the Manager serializes
// every call under its owner lock.
type ScanSession struct {
	radio   Radio
	bus     *EventBus
	adapter *AdapterStateTracker
	logger  *logger.Logger

	scanning bool
	records  map[uuid.UUID]models.PeripheralRecord
	order    []uuid.UUID
}

// NewScanSession creates an idle session with an empty registry.
func NewScanSession(radio Radio, bus *EventBus, adapter *AdapterStateTracker, log *logger.Logger) *ScanSession {
	return &ScanSession{
		radio:   radio,
		bus:     bus,
		adapter: adapter,
		logger:  log,
		records: make(map[uuid.UUID]models.PeripheralRecord),
	}
}

// Scanning reports whether a scan is active.
func (s *ScanSession) Scanning() bool {
	return s.scanning
}

// Start begins a new scan session. Calling it while already scanning is a
// no-op success; the registry is not cleared again. The registry is cleared
// only once the radio accepts the scan, so a rejected start leaves previous
// results intact.
func (s *ScanSession) Start(serviceFilter []uuid.UUID, allowDuplicates bool) error {
	if err := s.adapter.Gate(); err != nil {
		return err
	}

	if s.scanning {
		s.logger.Debug("start scan ignored, already scanning")
		return nil
	}

	if err := s.radio.StartScan(serviceFilter, allowDuplicates); err != nil {
		return fmt.Errorf("%w: %v", ErrScanStartFailed, err)
	}

	s.records = make(map[uuid.UUID]models.PeripheralRecord)
	s.order = s.order[:0]
	s.scanning = true

	s.logger.Info("scan started",
		logger.Int("service_filter", len(serviceFilter)),
		logger.Bool("allow_duplicates", allowDuplicates),
	)
	return nil
}

// Stop ends the scan session. Stopping while idle is a no-op. The registry
// keeps its contents so callers can still inspect the last scan's results.
func (s *ScanSession) Stop() {
	if !s.scanning {
		return
	}

	if err := s.radio.StopScan(); err != nil {
		s.logger.Warn("stop scan primitive failed", logger.ErrorField(err))
	}
	s.scanning = false
	s.logger.Info("scan stopped", logger.Int("discovered", len(s.records)))
}

// ForceStop halts scanning unconditionally. It is triggered internally when
// the adapter loses power and skips the idle short-circuit; calling it while
// idle is safe.
func (s *ScanSession) ForceStop() {
	if err := s.radio.StopScan(); err != nil {
		s.logger.Debug("stop scan primitive failed during force stop", logger.ErrorField(err))
	}
	if s.scanning {
		s.logger.Warn("scan force-stopped, adapter no longer usable")
	}
	s.scanning = false
}

// HandleDiscovery upserts the record into the registry and emits a discovery
// event. A record for an already known identifier replaces the previous entry
// wholesale and keeps its original position in the display order. Discoveries
// that arrive after the scan stopped are treated as the platform draining its
// last notifications and are recorded all the same.
func (s *ScanSession) HandleDiscovery(rec models.PeripheralRecord) {
	if _, known := s.records[rec.ID]; !known {
		s.order = append(s.order, rec.ID)
	}
	s.records[rec.ID] = rec

	s.logger.Debug("peripheral discovered",
		logger.String("id", rec.ID.String()),
		logger.String("name", rec.Name),
		logger.Int("rssi", int(rec.RSSI)),
	)

	s.bus.Publish(Event{
		Type:       models.EventTypePeripheralDiscovered,
		Peripheral: rec,
	})
}

// Peripheral looks up a discovered record by identifier.
func (s *ScanSession) Peripheral(id uuid.UUID) (models.PeripheralRecord, bool) {
	rec, ok := s.records[id]
	return rec, ok
}

// Discovered returns the registry contents in discovery order.
func (s *ScanSession) Discovered() []models.PeripheralRecord {
	out := make([]models.PeripheralRecord, 0, len(s.order))
	for _, id := range s.order {
		if rec, ok := s.records[id]; ok {
			out = append(out, rec)
		}
	}
	return out
}
