package service

import (
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/gridpulse/meterledger/internal/domain"
	"github.com/gridpulse/meterledger/internal/period"
)

// ConsumptionResult reports the delta between the first and last reading of a
// window, together with the readings it was derived from.
type ConsumptionResult struct {
	MeterID     string
	Period      string
	StartTime   time.Time
	StartValue  float64
	EndTime     time.Time
	EndValue    float64
	Consumption float64
}

// ConsumptionForPeriod resolves a symbolic period name against the current
// time and computes consumption over it.
func (s *MeterService) ConsumptionForPeriod(meterID, periodName string) (ConsumptionResult, error) {
	w, err := period.Resolve(periodName, s.now())
	if err != nil {
		return ConsumptionResult{}, err
	}
	return s.Consumption(meterID, w.Start, w.End, periodName)
}

// LastMonthBill is the previous calendar month's consumption.
func (s *MeterService) LastMonthBill(meterID string) (ConsumptionResult, error) {
	return s.ConsumptionForPeriod(meterID, period.LastMonth)
}

// Consumption computes end minus start reading over [start, end] (both
// endpoints included). At least two readings are required to form a delta.
// The series is expected monotonic, but the computation does not rely on it:
// readings are sorted by time and the first/last picked, never min/max by
// value. A negative delta means the ledger's monotonicity invariant was
// breached upstream and is surfaced as such rather than returned.
func (s *MeterService) Consumption(meterID string, start, end time.Time, label string) (ConsumptionResult, error) {
	if _, ok := s.ledger.Device(meterID); !ok {
		return ConsumptionResult{}, fmt.Errorf("%w: %q", domain.ErrUnknownDevice, meterID)
	}

	readings := s.ledger.ReadingsInRange(meterID, start, end)
	switch len(readings) {
	case 0:
		return ConsumptionResult{}, fmt.Errorf("%w: %s for %q", domain.ErrNoReadingsInPeriod, label, meterID)
	case 1:
		return ConsumptionResult{}, fmt.Errorf("%w: single reading in %s for %q", domain.ErrInsufficientReadings, label, meterID)
	}

	sort.SliceStable(readings, func(i, j int) bool { return readings[i].Time.Before(readings[j].Time) })
	first, last := readings[0], readings[len(readings)-1]

	delta := last.Value - first.Value
	if delta < 0 {
		s.log.Error("negative consumption delta",
			zap.String("meter_id", meterID),
			zap.Time("start", first.Time),
			zap.Float64("start_value", first.Value),
			zap.Time("end", last.Time),
			zap.Float64("end_value", last.Value))
		return ConsumptionResult{}, fmt.Errorf("%w: consumption %v over %s for %q",
			domain.ErrLedgerInvariantBreach, delta, label, meterID)
	}

	return ConsumptionResult{
		MeterID:     meterID,
		Period:      label,
		StartTime:   first.Time,
		StartValue:  first.Value,
		EndTime:     last.Time,
		EndValue:    last.Value,
		Consumption: delta,
	}, nil
}
