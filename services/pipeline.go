package services

import (
	"context"
	"fmt"
	"time"

	"property-collector/collector"
	"property-collector/metrics"
	"property-collector/models"
	"property-collector/storage"
	"property-collector/utils"
)

// Store outcomes reported per property.
const (
	StoreInserted = "inserted"
	StoreUpdated  = "updated"
	StoreFailed   = "error"
)

// Pipeline runs one collection end to end: collect, archive, normalize,
// deduplicate, enrich and store.
type Pipeline struct {
	Collector  *collector.Orchestrator
	Normalizer *Normalizer
	Dedup      *Deduplicator
	Enricher   *Enricher

	// Archive and Store are optional.
	Archive storage.RawRecordWriter
	Store   storage.PropertyStore

	Metrics *metrics.Metrics
	Logger  *utils.Logger
}

// RunReport summarises one pipeline run.
type RunReport struct {
	Collection *collector.Result
	Normalized int
	Clusters   []*models.PropertyCluster
	Properties []*models.MergedProperty

	// Stored maps address key to stored id.
	Stored      map[string]int64
	StoreErrors map[string]error
	Inserted    int
	Updated     int
	Duration    time.Duration
}

// Run collects loc from sources and processes the result. Only a call-fatal
// collection error is returned; a failed write for one property is recorded
// in the report and the rest are still stored.
func (p *Pipeline) Run(ctx context.Context, loc models.Location, sources []string, market MarketContext) (*RunReport, error) {
	start := time.Now()

	res, err := p.Collector.Collect(ctx, loc, sources)
	if err != nil {
		return nil, fmt.Errorf("pipeline: collect: %w", err)
	}
	report := &RunReport{
		Collection:  res,
		Stored:      make(map[string]int64),
		StoreErrors: make(map[string]error),
	}

	records := res.Records()
	if p.Archive != nil && len(records) > 0 {
		if err := p.Archive.WriteRaw(records); err != nil {
			p.Logger.Warn("[pipeline] Raw archive write failed", "error", err)
		}
	}

	normalized := p.Normalizer.NormalizeAll(records)
	report.Normalized = len(normalized)

	report.Clusters = p.Dedup.Cluster(normalized)
	report.Properties = make([]*models.MergedProperty, 0, len(report.Clusters))
	for _, c := range report.Clusters {
		report.Properties = append(report.Properties, c.Merged)
	}
	p.Enricher.EnrichAll(report.Properties, market)

	if p.Store != nil {
		for _, prop := range report.Properties {
			p.store(ctx, prop, report)
		}
	}

	report.Duration = time.Since(start)
	p.Logger.Info("[pipeline] Run complete",
		"location", loc.String(),
		"raw", len(records),
		"normalized", report.Normalized,
		"properties", len(report.Properties),
		"inserted", report.Inserted,
		"updated", report.Updated,
		"store_errors", len(report.StoreErrors),
		"duration", report.Duration)
	return report, nil
}

func (p *Pipeline) store(ctx context.Context, prop *models.MergedProperty, report *RunReport) {
	candidate, found, err := p.Store.FindCandidateByLocation(ctx, prop.AddressKey)
	if err == nil {
		if found {
			prop.ID = candidate
		}
		var id int64
		if id, err = p.Store.Upsert(ctx, prop); err == nil {
			prop.ID = id
		}
	}
	if err != nil {
		p.Logger.Error("[pipeline] Store failed", "address", prop.AddressKey, "error", err)
		report.StoreErrors[prop.AddressKey] = err
		p.Metrics.ObserveStore(StoreFailed)
		return
	}

	report.Stored[prop.AddressKey] = prop.ID
	if found {
		report.Updated++
		p.Metrics.ObserveStore(StoreUpdated)
	} else {
		report.Inserted++
		p.Metrics.ObserveStore(StoreInserted)
	}
}
