package ledger

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gridpulse/meterledger/internal/domain"
)

// Recorder receives one entry per successful ingestion. It is the append-only
// operational record used for crash recovery; it is not a primary store.
type Recorder interface {
	Append(meterID string, ts time.Time, value float64, recordedAt time.Time) error
}

// NopRecorder discards entries. Useful for tests and for replay at startup,
// where re-recording restored readings would duplicate the log.
type NopRecorder struct{}

func (NopRecorder) Append(string, time.Time, float64, time.Time) error { return nil }

// Ledger is the in-memory per-device ordered store of readings. All mutations
// are serialized by a single mutex; readers take the read side.
type Ledger struct {
	mu       sync.RWMutex
	devices  map[string]domain.Device
	readings map[string][]domain.Reading // sorted ascending by Time, unique timestamps
	gate     *Gate
	recorder Recorder
	log      *zap.Logger
}

func New(gate *Gate, recorder Recorder, log *zap.Logger) *Ledger {
	if recorder == nil {
		recorder = NopRecorder{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Ledger{
		devices:  make(map[string]domain.Device),
		readings: make(map[string][]domain.Reading),
		gate:     gate,
		recorder: recorder,
		log:      log,
	}
}

// Register adds a device to the registry. Devices are immutable once created.
func (l *Ledger) Register(meterID, owner, location string, now time.Time) (domain.Device, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.devices[meterID]; ok {
		return domain.Device{}, fmt.Errorf("%w: %q", domain.ErrDeviceExists, meterID)
	}
	d := domain.Device{
		MeterID:   meterID,
		Owner:     owner,
		Location:  location,
		CreatedAt: now,
	}
	l.devices[meterID] = d
	return d, nil
}

// Device reports the registered device for meterID, if any.
func (l *Ledger) Device(meterID string) (domain.Device, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	d, ok := l.devices[meterID]
	return d, ok
}

// normalizeReadingTime validates the permitted minute offsets and normalizes
// the 23:59 end-of-day convention to next-day midnight. Readings must land on
// the hour or half hour with no seconds.
func normalizeReadingTime(ts time.Time) (time.Time, error) {
	if ts.Second() != 0 || ts.Nanosecond() != 0 {
		return time.Time{}, fmt.Errorf("%w: %s", domain.ErrInvalidTimestamp, ts.Format(time.RFC3339))
	}
	if ts.Hour() == 23 && ts.Minute() == 59 {
		return ts.Add(time.Minute), nil
	}
	if m := ts.Minute(); m != 0 && m != 30 {
		return time.Time{}, fmt.Errorf("%w: minute must be 00 or 30, got %s", domain.ErrInvalidTimestamp, ts.Format(time.RFC3339))
	}
	return ts, nil
}

// Ingest validates and stores one reading. Preconditions are checked in order
// and the first failure wins: device registered, gate accepting, timestamp on a
// permitted offset, value monotonic against both neighbors. On success the
// reading is stored and one entry is appended to the operational record.
//
// A reading at an existing timestamp is treated as a correction: it overwrites
// the stored value, but only if the new value still fits between the
// neighboring readings.
func (l *Ledger) Ingest(meterID string, ts time.Time, value float64, now time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.devices[meterID]; !ok {
		return fmt.Errorf("%w: %q", domain.ErrUnknownDevice, meterID)
	}
	if !l.gate.Accepting() {
		return domain.ErrIngestionSuspended
	}
	ts, err := normalizeReadingTime(ts)
	if err != nil {
		return err
	}

	if err := l.insertLocked(meterID, ts, value); err != nil {
		return err
	}

	if err := l.recorder.Append(meterID, ts, value, now); err != nil {
		// The reading is committed; a failed record append only degrades
		// crash recovery for this entry.
		l.log.Warn("operational record append failed",
			zap.String("meter_id", meterID),
			zap.Time("ts", ts),
			zap.Error(err))
	}
	return nil
}

// insertLocked places (ts, value) into the device's sorted slice, enforcing
// monotonicity against the readings strictly before and strictly after ts.
func (l *Ledger) insertLocked(meterID string, ts time.Time, value float64) error {
	rs := l.readings[meterID]
	i := sort.Search(len(rs), func(i int) bool { return !rs[i].Time.Before(ts) })

	if i > 0 && value < rs[i-1].Value {
		return fmt.Errorf("%w: %v < %v at %s", domain.ErrNonMonotonicReading,
			value, rs[i-1].Value, rs[i-1].Time.Format(time.RFC3339))
	}

	if i < len(rs) && rs[i].Time.Equal(ts) {
		// Correction of an existing reading: it must also stay below the
		// next reading, or later entries would become inconsistent.
		if i+1 < len(rs) && value > rs[i+1].Value {
			return fmt.Errorf("%w: correction %v > %v at %s", domain.ErrNonMonotonicReading,
				value, rs[i+1].Value, rs[i+1].Time.Format(time.RFC3339))
		}
		rs[i].Value = value
		return nil
	}

	if i < len(rs) && value > rs[i].Value {
		return fmt.Errorf("%w: %v > later reading %v at %s", domain.ErrNonMonotonicReading,
			value, rs[i].Value, rs[i].Time.Format(time.RFC3339))
	}

	rs = append(rs, domain.Reading{})
	copy(rs[i+1:], rs[i:])
	rs[i] = domain.Reading{Time: ts, Value: value}
	l.readings[meterID] = rs
	return nil
}

// ReadingsInRange returns the device's readings with start <= t <= end (closed
// interval), ascending by timestamp. An empty result is not an error.
func (l *Ledger) ReadingsInRange(meterID string, start, end time.Time) []domain.Reading {
	l.mu.RLock()
	defer l.mu.RUnlock()

	rs := l.readings[meterID]
	i := sort.Search(len(rs), func(i int) bool { return !rs[i].Time.Before(start) })
	j := sort.Search(len(rs), func(i int) bool { return rs[i].Time.After(end) })
	if i >= j {
		return nil
	}
	out := make([]domain.Reading, j-i)
	copy(out, rs[i:j])
	return out
}

// SnapshotRange returns, for every device, the readings whose timestamp falls
// in [start, end). Devices with nothing in the window are omitted. The result
// is a copy; it stays consistent regardless of later mutations.
func (l *Ledger) SnapshotRange(start, end time.Time) map[string][]domain.Reading {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[string][]domain.Reading)
	for id, rs := range l.readings {
		i := sort.Search(len(rs), func(i int) bool { return !rs[i].Time.Before(start) })
		j := sort.Search(len(rs), func(i int) bool { return !rs[i].Time.Before(end) })
		if i >= j {
			continue
		}
		cp := make([]domain.Reading, j-i)
		copy(cp, rs[i:j])
		out[id] = cp
	}
	return out
}

// EvictRange removes one device's readings with timestamp in [start, end) and
// reports how many were removed. Used by the archiver after a confirmed write.
func (l *Ledger) EvictRange(meterID string, start, end time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	rs := l.readings[meterID]
	i := sort.Search(len(rs), func(i int) bool { return !rs[i].Time.Before(start) })
	j := sort.Search(len(rs), func(i int) bool { return !rs[i].Time.Before(end) })
	if i >= j {
		return 0
	}
	n := j - i
	rs = append(rs[:i], rs[j:]...)
	if len(rs) == 0 {
		delete(l.readings, meterID)
	} else {
		l.readings[meterID] = rs
	}
	return n
}

// Load bulk-inserts restored readings for a device, creating a registry stub if
// the device is not yet registered so the restored meter stays queryable.
// Intended for startup replay, before ingestion is enabled.
func (l *Ledger) Load(meterID string, readings []domain.Reading, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.devices[meterID]; !ok {
		l.devices[meterID] = domain.Device{MeterID: meterID, CreatedAt: now}
	}
	for _, r := range readings {
		if err := l.insertLocked(meterID, r.Time, r.Value); err != nil {
			l.log.Warn("restored reading rejected",
				zap.String("meter_id", meterID),
				zap.Time("ts", r.Time),
				zap.Float64("value", r.Value),
				zap.Error(err))
		}
	}
}

// Suspend stops the ledger from accepting new readings. Idempotent.
func (l *Ledger) Suspend() { l.gate.Suspend() }

// Resume re-enables ingestion. Idempotent.
func (l *Ledger) Resume() { l.gate.Resume() }

// Accepting reports whether ingestion is currently enabled.
func (l *Ledger) Accepting() bool { return l.gate.Accepting() }
