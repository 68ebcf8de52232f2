package quota

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"property-collector/models"
)

// FileStore keeps every quota record in one JSON file.
//
// The file is a plain array of {source_id, period_start, used_count, limit,
// limit_pinned} objects and may be edited or deleted by hand. Deleting it
// resets all quotas the next time the process starts.
type FileStore struct {
	path string

	mu      sync.Mutex
	records map[string]models.QuotaRecord
}

// NewFileStore creates a FileStore at path. Intermediate directories are
// created on first save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path, records: make(map[string]models.QuotaRecord)}
}

func (s *FileStore) Load(_ context.Context) ([]models.QuotaRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.records = make(map[string]models.QuotaRecord)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("quota: read %q: %w", s.path, err)
	}

	var recs []models.QuotaRecord
	if len(data) > 0 {
		if err := json.Unmarshal(data, &recs); err != nil {
			return nil, fmt.Errorf("quota: decode %q: %w", s.path, err)
		}
	}

	s.records = make(map[string]models.QuotaRecord, len(recs))
	for _, rec := range recs {
		rec.PeriodStart = rec.PeriodStart.UTC()
		s.records[periodKey(rec)] = rec
	}

	out := make([]models.QuotaRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	sortRecords(out)
	return out, nil
}

func (s *FileStore) Save(_ context.Context, rec models.QuotaRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := periodKey(rec)
	prev, hadPrev := s.records[key]
	rec.Limit = copyLimit(rec.Limit)
	s.records[key] = rec

	if err := s.flush(); err != nil {
		if hadPrev {
			s.records[key] = prev
		} else {
			delete(s.records, key)
		}
		return err
	}
	return nil
}

// flush rewrites the whole file through a temp file and rename so a crash
// never leaves a truncated document behind.
func (s *FileStore) flush() error {
	recs := make([]models.QuotaRecord, 0, len(s.records))
	for _, rec := range s.records {
		recs = append(recs, rec)
	}
	sortRecords(recs)

	data, err := json.MarshalIndent(recs, "", "  ")
	if err != nil {
		return fmt.Errorf("quota: encode: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("quota: create dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("quota: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("quota: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("quota: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("quota: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("quota: replace %q: %w", s.path, err)
	}
	return nil
}
