package domain

import "time"

// Reading is a single cumulative meter reading (kWh) at a point in time.
// Values behave like an odometer: later readings never decrease.
type Reading struct {
	Time  time.Time
	Value float64
}

// Device is a registered meter. Created once at registration, immutable after.
type Device struct {
	MeterID   string
	Owner     string
	Location  string
	CreatedAt time.Time
}
