package oplog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	got, err := time.ParseInLocation(timeLayout, s, time.UTC)
	if err != nil {
		t.Fatalf("parse time %q: %v", s, err)
	}
	return got
}

func TestWriterRoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	w, err := NewWriter(dir)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	defer w.Close()

	at := mustTime(t, "2025-02-08 10:31:02")
	if err := w.Append("M1", mustTime(t, "2025-02-08 10:30:00"), 100.5, at); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := w.Append("M1", mustTime(t, "2025-02-08 11:00:00"), 101, at); err != nil {
		t.Fatalf("Append: %v", err)
	}

	entries, skipped, err := ReadDay(dir, at)
	if err != nil {
		t.Fatalf("ReadDay: %v", err)
	}
	if skipped != 0 {
		t.Fatalf("skipped=%d want 0", skipped)
	}
	if len(entries) != 2 {
		t.Fatalf("len=%d want 2", len(entries))
	}
	if got, want := entries[0].Value, 100.5; got != want {
		t.Fatalf("value=%v want %v", got, want)
	}
	if want := mustTime(t, "2025-02-08 10:30:00"); !entries[0].Time.Equal(want) {
		t.Fatalf("time=%v want %v", entries[0].Time, want)
	}
}

func TestReadDay_MissingFile(t *testing.T) {
	t.Parallel()

	entries, skipped, err := ReadDay(t.TempDir(), time.Now())
	if err != nil {
		t.Fatalf("ReadDay: %v", err)
	}
	if len(entries) != 0 || skipped != 0 {
		t.Fatalf("entries=%d skipped=%d want 0,0", len(entries), skipped)
	}
}

func TestReadDay_SkipsMalformedAndPartialLines(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	day := mustTime(t, "2025-02-08 00:00:00")
	content := "meter_id,timestamp,reading,recorded_at\n" +
		"M1,2025-02-08 10:30:00,100.5,2025-02-08 10:31:02\n" +
		"M1,not-a-time,101,2025-02-08 11:01:00\n" +
		"M1,2025-02-08 11:15:00,101,2025-02-08 11:16:00\n" + // off-offset minute
		"M2,2025-02-08 11:30:00,NaN,2025-02-08 11:31:00\n" +
		"M2,2025-02-08 12:00:00,102.25,2025-02-08 12:01:00\n" +
		"M2,2025-02-08 12:3" // crash mid-write
	if err := os.WriteFile(FileForDay(dir, day), []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	entries, skipped, err := ReadDay(dir, day)
	if err != nil {
		t.Fatalf("ReadDay: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len=%d want 2", len(entries))
	}
	if skipped != 4 {
		t.Fatalf("skipped=%d want 4", skipped)
	}
}

func TestWriter_AppendsAcrossReopen(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	at := mustTime(t, "2025-02-08 10:31:02")

	w, err := NewWriter(dir)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := w.Append("M1", mustTime(t, "2025-02-08 10:30:00"), 1, at); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	w2, err := NewWriter(dir)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	defer w2.Close()
	if err := w2.Append("M1", mustTime(t, "2025-02-08 11:00:00"), 2, at); err != nil {
		t.Fatalf("Append: %v", err)
	}

	entries, _, err := ReadDay(dir, at)
	if err != nil {
		t.Fatalf("ReadDay: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len=%d want 2 after reopen", len(entries))
	}

	// Exactly one header line.
	b, err := os.ReadFile(filepath.Join(dir, "2025-02-08.csv"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got := strings.Count(string(b), "meter_id"); got != 1 {
		t.Fatalf("header lines=%d want 1", got)
	}
}
