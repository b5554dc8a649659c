// Package oplog implements the append-only operational record: one CSV file
// per day, one line per successful ingestion. It is a recovery aid, not a
// primary store; the reader tolerates malformed and partially-written lines.
package oplog

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	timeLayout = "2006-01-02 15:04:05"
	dayLayout  = "2006-01-02"
)

var header = []string{"meter_id", "timestamp", "reading", "recorded_at"}

// Entry is one recorded ingestion event.
type Entry struct {
	MeterID    string
	Time       time.Time
	Value      float64
	RecordedAt time.Time
}

// FileForDay returns the record path for the day containing t (UTC).
func FileForDay(dir string, t time.Time) string {
	return filepath.Join(dir, t.UTC().Format(dayLayout)+".csv")
}

// Writer appends entries to the current day's record, rotating at the UTC day
// boundary. Safe for concurrent use.
type Writer struct {
	dir string

	mu  sync.Mutex
	day string
	f   *os.File
}

func NewWriter(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create oplog dir %q: %w", dir, err)
	}
	return &Writer{dir: dir}, nil
}

// Append writes one entry to the record for recordedAt's day.
func (w *Writer) Append(meterID string, ts time.Time, value float64, recordedAt time.Time) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	day := recordedAt.UTC().Format(dayLayout)
	if w.f == nil || day != w.day {
		if err := w.rotateLocked(day); err != nil {
			return err
		}
	}

	line := formatLine(meterID, ts, value, recordedAt)
	if _, err := w.f.WriteString(line); err != nil {
		return fmt.Errorf("append oplog entry: %w", err)
	}
	return nil
}

func (w *Writer) rotateLocked(day string) error {
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	path := filepath.Join(w.dir, day+".csv")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open oplog %q: %w", path, err)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("stat oplog %q: %w", path, err)
	}
	if st.Size() == 0 {
		if _, err := f.WriteString(strings.Join(header, ",") + "\n"); err != nil {
			_ = f.Close()
			return fmt.Errorf("write oplog header: %w", err)
		}
	}
	w.f = f
	w.day = day
	return nil
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	err := w.f.Close()
	w.f = nil
	return err
}

func formatLine(meterID string, ts time.Time, value float64, recordedAt time.Time) string {
	return fmt.Sprintf("%s,%s,%s,%s\n",
		meterID,
		ts.UTC().Format(timeLayout),
		strconv.FormatFloat(value, 'f', -1, 64),
		recordedAt.UTC().Format(timeLayout),
	)
}

// ReadDay parses the record for the day containing t. Malformed lines,
// timestamps off the permitted minute offsets, and partially-written trailing
// lines are skipped and counted, never fatal. A missing file means there is
// nothing to replay and yields no entries and no error.
func ReadDay(dir string, t time.Time) (entries []Entry, skipped int, err error) {
	path := FileForDay(dir, t)
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("open oplog %q: %w", path, err)
	}
	defer f.Close()

	cr := csv.NewReader(f)
	cr.FieldsPerRecord = -1 // validate ourselves
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	first := true
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			skipped++
			continue
		}
		if first {
			first = false
			if len(row) > 0 && strings.EqualFold(strings.TrimSpace(row[0]), header[0]) {
				continue
			}
		}
		e, ok := parseRow(row)
		if !ok {
			skipped++
			continue
		}
		entries = append(entries, e)
	}
	return entries, skipped, nil
}

func parseRow(row []string) (Entry, bool) {
	if len(row) < 4 {
		return Entry{}, false
	}
	meterID := strings.TrimSpace(row[0])
	if meterID == "" {
		return Entry{}, false
	}
	ts, err := time.ParseInLocation(timeLayout, strings.TrimSpace(row[1]), time.UTC)
	if err != nil {
		return Entry{}, false
	}
	if m := ts.Minute(); (m != 0 && m != 30) || ts.Second() != 0 {
		return Entry{}, false
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(row[2]), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return Entry{}, false
	}
	at, err := time.ParseInLocation(timeLayout, strings.TrimSpace(row[3]), time.UTC)
	if err != nil {
		return Entry{}, false
	}
	return Entry{MeterID: meterID, Time: ts, Value: v, RecordedAt: at}, true
}
