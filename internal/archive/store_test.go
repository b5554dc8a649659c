package archive

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gridpulse/meterledger/internal/domain"
)

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	got, err := time.ParseInLocation(timeLayout, s, time.UTC)
	if err != nil {
		t.Fatalf("parse time %q: %v", s, err)
	}
	return got
}

func TestParseFilename(t *testing.T) {
	t.Parallel()

	key, ok := ParseFilename("daily_2025-02-08.csv")
	if !ok {
		t.Fatalf("expected parse to succeed")
	}
	if key.Kind != Daily || key.Period != "2025-02-08" {
		t.Fatalf("key=%v", key)
	}

	key, ok = ParseFilename("monthly_2025-01.csv")
	if !ok || key.Kind != Monthly {
		t.Fatalf("key=%v ok=%v", key, ok)
	}

	for _, name := range []string{
		"daily_2025-02-08.txt",
		"weekly_2025-02-08.csv",
		"daily_notadate.csv",
		"monthly_2025-02-08.csv", // daily-format period under monthly kind
		"readme.md",
	} {
		if _, ok := ParseFilename(name); ok {
			t.Fatalf("ParseFilename(%q) unexpectedly succeeded", name)
		}
	}
}

func TestFSStore_MergeRoundTrip(t *testing.T) {
	t.Parallel()

	s, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	key := Key{Kind: Daily, Period: "2025-02-07"}

	rs := []domain.Reading{
		{Time: mustTime(t, "2025-02-07 00:00:00"), Value: 100},
		{Time: mustTime(t, "2025-02-07 00:30:00"), Value: 101.5},
	}
	if err := s.Merge(key, "M1", rs); err != nil {
		t.Fatalf("Merge: %v", err)
	}

	got, skipped, err := s.Load(key)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if skipped != 0 {
		t.Fatalf("skipped=%d want 0", skipped)
	}
	if len(got["M1"]) != 2 {
		t.Fatalf("readings=%d want 2", len(got["M1"]))
	}
	if got["M1"][1].Value != 101.5 {
		t.Fatalf("value=%v want 101.5", got["M1"][1].Value)
	}
	if !got["M1"][0].Time.Equal(rs[0].Time) {
		t.Fatalf("time=%v want %v", got["M1"][0].Time, rs[0].Time)
	}
}

func TestFSStore_MergeIsIdempotent(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s, err := NewFSStore(dir)
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	key := Key{Kind: Daily, Period: "2025-02-07"}
	rs := []domain.Reading{
		{Time: mustTime(t, "2025-02-07 00:00:00"), Value: 100},
		{Time: mustTime(t, "2025-02-07 00:30:00"), Value: 101.5},
	}

	if err := s.Merge(key, "M1", rs); err != nil {
		t.Fatalf("first Merge: %v", err)
	}
	first, err := os.ReadFile(filepath.Join(dir, key.Filename()))
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	if err := s.Merge(key, "M1", rs); err != nil {
		t.Fatalf("second Merge: %v", err)
	}
	second, err := os.ReadFile(filepath.Join(dir, key.Filename()))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(first) != string(second) {
		t.Fatalf("partition changed on repeat merge:\n%s\nvs\n%s", first, second)
	}
}

func TestFSStore_MergeOverwritesSameTimestampKeepsOthers(t *testing.T) {
	t.Parallel()

	s, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	key := Key{Kind: Daily, Period: "2025-02-07"}

	if err := s.Merge(key, "M1", []domain.Reading{
		{Time: mustTime(t, "2025-02-07 00:00:00"), Value: 100},
		{Time: mustTime(t, "2025-02-07 00:30:00"), Value: 101},
	}); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if err := s.Merge(key, "M2", []domain.Reading{
		{Time: mustTime(t, "2025-02-07 00:00:00"), Value: 7},
	}); err != nil {
		t.Fatalf("Merge M2: %v", err)
	}
	// Late data plus a correction for M1.
	if err := s.Merge(key, "M1", []domain.Reading{
		{Time: mustTime(t, "2025-02-07 00:30:00"), Value: 101.25},
		{Time: mustTime(t, "2025-02-07 01:00:00"), Value: 102},
	}); err != nil {
		t.Fatalf("Merge late: %v", err)
	}

	got, _, err := s.Load(key)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	m1 := got["M1"]
	if len(m1) != 3 {
		t.Fatalf("M1 readings=%d want 3", len(m1))
	}
	if m1[1].Value != 101.25 {
		t.Fatalf("corrected value=%v want 101.25", m1[1].Value)
	}
	if len(got["M2"]) != 1 {
		t.Fatalf("M2 readings=%d want 1 (other devices preserved)", len(got["M2"]))
	}
}

func TestFSStore_DailyKeysForMonth(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s, err := NewFSStore(dir)
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}

	for _, name := range []string{
		"daily_2025-02-03.csv",
		"daily_2025-02-01.csv",
		"daily_2025-01-31.csv",
		"monthly_2025-01.csv",
		"notes.txt",
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("meter_id,timestamp,reading\n"), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	keys, err := s.DailyKeysForMonth(2025, time.February)
	if err != nil {
		t.Fatalf("DailyKeysForMonth: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("keys=%v want 2", keys)
	}
	if keys[0].Period != "2025-02-01" || keys[1].Period != "2025-02-03" {
		t.Fatalf("keys unsorted or wrong: %v", keys)
	}
}

func TestFSStore_LoadSkipsMalformedRows(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s, err := NewFSStore(dir)
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	key := Key{Kind: Daily, Period: "2025-02-07"}
	content := "meter_id,timestamp,reading\n" +
		"M1,2025-02-07 00:00:00,100\n" +
		"M1,not-a-time,101\n" +
		"M1,2025-02-07 00:30:00,oops\n" +
		"M1,2025-02-07 01:00:00,102\n"
	if err := os.WriteFile(filepath.Join(dir, key.Filename()), []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, skipped, err := s.Load(key)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got["M1"]) != 2 {
		t.Fatalf("readings=%d want 2", len(got["M1"]))
	}
	if skipped != 2 {
		t.Fatalf("skipped=%d want 2", skipped)
	}
}
