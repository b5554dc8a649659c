package archive

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gridpulse/meterledger/internal/domain"
)

const timeLayout = "2006-01-02 15:04:05"

// Store is the durable partition collaborator: a hierarchical byte store
// addressed by partition Key, supporting idempotent merge-writes and
// enumerate-by-month for restore.
type Store interface {
	// Merge folds one device's readings into the partition. Readings at a
	// timestamp already present overwrite the stored value; everything else
	// is preserved. The rewrite is complete and sorted.
	Merge(key Key, meterID string, readings []domain.Reading) error

	// Load reads a whole partition back, keyed by device. A missing
	// partition yields an empty map, not an error. Malformed rows are
	// skipped and counted.
	Load(key Key) (byDevice map[string][]domain.Reading, skipped int, err error)

	// DailyKeysForMonth enumerates the daily partitions covering the given
	// month, sorted by day.
	DailyKeysForMonth(year int, month time.Month) ([]Key, error)
}

// FSStore keeps partitions as CSV files (meter_id,timestamp,reading) under a
// single directory.
type FSStore struct {
	dir string
}

var _ Store = (*FSStore)(nil)

func NewFSStore(dir string) (*FSStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir %q: %w", dir, err)
	}
	return &FSStore{dir: dir}, nil
}

func (s *FSStore) path(key Key) string {
	return filepath.Join(s.dir, key.Filename())
}

func (s *FSStore) Merge(key Key, meterID string, readings []domain.Reading) error {
	if len(readings) == 0 {
		return nil
	}

	existing, _, err := s.Load(key)
	if err != nil {
		return err
	}

	merged := make(map[time.Time]float64, len(readings))
	for _, r := range existing[meterID] {
		merged[r.Time.UTC()] = r.Value
	}
	for _, r := range readings {
		merged[r.Time.UTC()] = r.Value
	}
	out := make([]domain.Reading, 0, len(merged))
	for ts, v := range merged {
		out = append(out, domain.Reading{Time: ts, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	existing[meterID] = out

	return s.rewrite(key, existing)
}

// rewrite replaces the partition file atomically: full contents go to a temp
// file which is then renamed over the partition.
func (s *FSStore) rewrite(key Key, byDevice map[string][]domain.Reading) error {
	ids := make([]string, 0, len(byDevice))
	for id := range byDevice {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	tmp, err := os.CreateTemp(s.dir, key.Filename()+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp partition: %w", err)
	}
	defer os.Remove(tmp.Name())

	cw := csv.NewWriter(tmp)
	if err := cw.Write([]string{"meter_id", "timestamp", "reading"}); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write partition header: %w", err)
	}
	for _, id := range ids {
		for _, r := range byDevice[id] {
			rec := []string{
				id,
				r.Time.UTC().Format(timeLayout),
				strconv.FormatFloat(r.Value, 'f', -1, 64),
			}
			if err := cw.Write(rec); err != nil {
				_ = tmp.Close()
				return fmt.Errorf("write partition row: %w", err)
			}
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("flush partition: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync partition: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close partition: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path(key)); err != nil {
		return fmt.Errorf("publish partition %s: %w", key, err)
	}
	return nil
}

func (s *FSStore) Load(key Key) (map[string][]domain.Reading, int, error) {
	byDevice := make(map[string][]domain.Reading)

	f, err := os.Open(s.path(key))
	if os.IsNotExist(err) {
		return byDevice, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("open partition %s: %w", key, err)
	}
	defer f.Close()

	cr := csv.NewReader(f)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	skipped := 0
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
			if len(row) > 0 && strings.EqualFold(strings.TrimSpace(row[0]), "meter_id") {
				continue
			}
		}
		if len(row) < 3 {
			skipped++
			continue
		}
		id := strings.TrimSpace(row[0])
		ts, err := time.ParseInLocation(timeLayout, strings.TrimSpace(row[1]), time.UTC)
		if err != nil || id == "" {
			skipped++
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(row[2]), 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			skipped++
			continue
		}
		byDevice[id] = append(byDevice[id], domain.Reading{Time: ts, Value: v})
	}

	for id := range byDevice {
		rs := byDevice[id]
		sort.Slice(rs, func(i, j int) bool { return rs[i].Time.Before(rs[j].Time) })
	}
	return byDevice, skipped, nil
}

func (s *FSStore) DailyKeysForMonth(year int, month time.Month) ([]Key, error) {
	des, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list archive dir %q: %w", s.dir, err)
	}

	var keys []Key
	for _, de := range des {
		if de.IsDir() {
			continue
		}
		key, ok := ParseFilename(de.Name())
		if !ok || key.Kind != Daily {
			continue
		}
		day, err := key.DayTime()
		if err != nil {
			continue
		}
		if day.Year() == year && day.Month() == month {
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Period < keys[j].Period })
	return keys, nil
}
