// Package service composes the ledger, archiver and restorer behind the
// operations the transport layer exposes.
package service

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/gridpulse/meterledger/internal/archive"
	"github.com/gridpulse/meterledger/internal/domain"
	"github.com/gridpulse/meterledger/internal/ledger"
	"github.com/gridpulse/meterledger/internal/restore"
)

type MeterService struct {
	ledger   *ledger.Ledger
	archiver *archive.Archiver
	restorer *restore.Restorer
	log      *zap.Logger
	now      func() time.Time
}

func New(l *ledger.Ledger, a *archive.Archiver, r *restore.Restorer, log *zap.Logger) *MeterService {
	if log == nil {
		log = zap.NewNop()
	}
	return &MeterService{
		ledger:   l,
		archiver: a,
		restorer: r,
		log:      log,
		now:      time.Now,
	}
}

// RegisterAccount creates a device. The meter ID must be unique.
func (s *MeterService) RegisterAccount(meterID, owner, location string) (domain.Device, error) {
	d, err := s.ledger.Register(meterID, owner, location, s.now())
	if err != nil {
		return domain.Device{}, err
	}
	s.log.Info("account registered",
		zap.String("meter_id", meterID),
		zap.String("owner", owner))
	return d, nil
}

// RecordReading validates and stores one meter reading.
func (s *MeterService) RecordReading(meterID string, ts time.Time, value float64) error {
	err := s.ledger.Ingest(meterID, ts, value, s.now())
	if err != nil {
		readingsRejected.WithLabelValues(rejectReason(err)).Inc()
		return err
	}
	readingsIngested.Inc()
	return nil
}

// Archive runs one archival pass for the closed prior period. Ingestion is
// suspended for the duration and resumed afterwards unless the system was
// already suspended by an operator.
func (s *MeterService) Archive(kind archive.Kind, evict bool) (archive.Outcome, error) {
	wasAccepting := s.ledger.Accepting()
	s.ledger.Suspend()
	if wasAccepting {
		defer s.ledger.Resume()
	}

	out, err := s.archiver.Archive(kind, s.now(), evict)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	archiveRuns.WithLabelValues(string(kind), outcome).Inc()
	if err == nil {
		partitionsWritten.Add(float64(out.DevicesArchived))
	}
	return out, err
}

// RestoreAtStartup replays archived partitions and today's operational record
// into the ledger. Call once, before the transport starts accepting traffic.
func (s *MeterService) RestoreAtStartup() restore.Result {
	now := s.now()
	res := s.restorer.Restore(now)
	for id, rs := range res.Readings {
		s.ledger.Load(id, rs, now)
	}
	restoreRecovered.WithLabelValues("partition").Add(float64(res.FromPartitions))
	restoreRecovered.WithLabelValues("oplog").Add(float64(res.FromLog))
	restoreConflicts.Add(float64(res.Conflicts))
	restoreSkipped.Add(float64(res.Skipped))
	return res
}

// Suspend stops ingestion of new readings. Queries keep working.
func (s *MeterService) Suspend() { s.ledger.Suspend() }

// Resume re-enables ingestion.
func (s *MeterService) Resume() { s.ledger.Resume() }

// Accepting reports whether ingestion is enabled.
func (s *MeterService) Accepting() bool { return s.ledger.Accepting() }

func rejectReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrUnknownDevice):
		return "unknown_device"
	case errors.Is(err, domain.ErrIngestionSuspended):
		return "suspended"
	case errors.Is(err, domain.ErrInvalidTimestamp):
		return "invalid_timestamp"
	case errors.Is(err, domain.ErrNonMonotonicReading):
		return "non_monotonic"
	default:
		return "other"
	}
}
