package storage

import (
	"context"

	"property-collector/models"
)

// PropertyStore persists canonical properties keyed by their address key.
type PropertyStore interface {
	// Upsert inserts or updates p and returns its stored id.
	Upsert(ctx context.Context, p *models.MergedProperty) (int64, error)
	// FindCandidateByLocation returns the id of a stored property with the
	// given address key, if any.
	FindCandidateByLocation(ctx context.Context, addressKey string) (int64, bool, error)
}

// RawRecordWriter is the interface for archiving unprocessed provider records.
type RawRecordWriter interface {
	WriteRaw(records []models.RawRecord) error
	Close() error
}
