package quota

import (
	"context"
	"sort"
	"sync"

	"property-collector/models"
)

// Store persists quota records. Save must be durable before it returns.
type Store interface {
	Load(ctx context.Context) ([]models.QuotaRecord, error)
	Save(ctx context.Context, rec models.QuotaRecord) error
}

const periodLayout = "2006-01"

func periodKey(rec models.QuotaRecord) string {
	return rec.SourceID + "|" + rec.PeriodStart.UTC().Format(periodLayout)
}

// sortRecords orders records by source, then period.
func sortRecords(recs []models.QuotaRecord) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].SourceID != recs[j].SourceID {
			return recs[i].SourceID < recs[j].SourceID
		}
		return recs[i].PeriodStart.Before(recs[j].PeriodStart)
	})
}

func copyLimit(limit *int) *int {
	if limit == nil {
		return nil
	}
	v := *limit
	return &v
}

// MemoryStore keeps records in process memory only.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]models.QuotaRecord
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]models.QuotaRecord)}
}

func (s *MemoryStore) Load(_ context.Context) ([]models.QuotaRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.QuotaRecord, 0, len(s.records))
	for _, rec := range s.records {
		rec.Limit = copyLimit(rec.Limit)
		out = append(out, rec)
	}
	sortRecords(out)
	return out, nil
}

func (s *MemoryStore) Save(_ context.Context, rec models.QuotaRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec.Limit = copyLimit(rec.Limit)
	s.records[periodKey(rec)] = rec
	return nil
}
