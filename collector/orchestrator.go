// Package collector fans a collection request out to providers concurrently.
package collector

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"property-collector/metrics"
	"property-collector/models"
	"property-collector/providers"
	"property-collector/quota"
	"property-collector/ratelimit"
	"property-collector/utils"
)

// ErrorKind classifies why a source produced no (or only partial) data.
type ErrorKind string

const (
	KindNone              ErrorKind = ""
	KindQuotaExceeded     ErrorKind = "quota_exceeded"
	KindRateLimitTimeout  ErrorKind = "rate_limit_timeout"
	KindProviderTransient ErrorKind = "provider_transient"
	KindProviderPermanent ErrorKind = "provider_permanent"
	KindTimeout           ErrorKind = "timeout"
	KindPersistence       ErrorKind = "persistence"
	KindUnknown           ErrorKind = "unknown"
)

// Classify maps a provider error to its ErrorKind.
func Classify(err error) ErrorKind {
	var (
		pe  *providers.ProviderError
		per *quota.PersistenceError
	)
	switch {
	case err == nil:
		return KindNone
	case errors.As(err, &per):
		return KindPersistence
	case errors.Is(err, quota.ErrQuotaExceeded):
		return KindQuotaExceeded
	case errors.Is(err, ratelimit.ErrRateLimitTimeout):
		return KindRateLimitTimeout
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return KindTimeout
	case errors.As(err, &pe):
		if pe.Transient {
			return KindProviderTransient
		}
		return KindProviderPermanent
	default:
		return KindUnknown
	}
}

// SourceResult is the outcome for one source. Records may be non-empty even
// when Err is set, for instance when cancellation stopped a paged fetch.
type SourceResult struct {
	Source   string
	Records  []models.RawRecord
	Err      error
	Kind     ErrorKind
	Duration time.Duration
}

// OK reports whether the source completed without error.
func (r SourceResult) OK() bool { return r.Err == nil }

// Result maps each requested source to its outcome.
type Result struct {
	Location models.Location
	Sources  map[string]SourceResult
}

// Records returns every fetched record ordered by source id, then fetch order.
func (r *Result) Records() []models.RawRecord {
	ids := make([]string, 0, len(r.Sources))
	n := 0
	for id, sr := range r.Sources {
		ids = append(ids, id)
		n += len(sr.Records)
	}
	sort.Strings(ids)

	out := make([]models.RawRecord, 0, n)
	for _, id := range ids {
		out = append(out, r.Sources[id].Records...)
	}
	return out
}

// Errors returns the error kind of every failed source.
func (r *Result) Errors() map[string]ErrorKind {
	out := make(map[string]ErrorKind)
	for id, sr := range r.Sources {
		if !sr.OK() {
			out[id] = sr.Kind
		}
	}
	return out
}

// Options configures an Orchestrator.
type Options struct {
	// Timeout bounds a whole Collect call. Zero means only the caller's
	// deadline applies.
	Timeout        time.Duration
	MaxConcurrency int
	Logger         *utils.Logger
	Metrics        *metrics.Metrics
}

// Orchestrator runs one task per requested source.
type Orchestrator struct {
	registry *providers.Registry
	opts     Options
}

func New(registry *providers.Registry, opts Options) *Orchestrator {
	if opts.Logger == nil {
		opts.Logger = utils.NewNopLogger()
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 8
	}
	return &Orchestrator{registry: registry, opts: opts}
}

func (o *Orchestrator) resolve(sources []string) ([]providers.Provider, error) {
	if len(sources) == 0 {
		sources = o.registry.IDs()
	}

	seen := utils.NewStringSet()
	var out []providers.Provider
	for _, id := range sources {
		if seen.Contains(id) {
			continue
		}
		seen.Add(id)
		p, err := o.registry.Get(id)
		if err != nil {
			return nil, fmt.Errorf("collector: %w", err)
		}
		out = append(out, p)
	}
	return out, nil
}

// Collect fetches loc from every requested source concurrently. An empty
// sources list means all registered sources. Source failures are reported in
// the result and never abort the others; only an unknown source id fails the
// call. Sources still running at the deadline are reported as KindTimeout.
func (o *Orchestrator) Collect(ctx context.Context, loc models.Location, sources []string) (*Result, error) {
	provs, err := o.resolve(sources)
	if err != nil {
		return nil, err
	}

	if o.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.Timeout)
		defer cancel()
	}

	o.opts.Logger.Info("[collector] Starting collection",
		"location", loc.String(), "sources", len(provs))

	// buffered so late finishers never block after we stop listening
	results := make(chan SourceResult, len(provs))
	pool := utils.NewWorkerPool(o.opts.MaxConcurrency)
	for _, p := range provs {
		p := p
		pool.Submit(func() { results <- o.run(ctx, p, loc) })
	}

	res := &Result{Location: loc, Sources: make(map[string]SourceResult, len(provs))}
	for len(res.Sources) < len(provs) {
		select {
		case sr := <-results:
			res.Sources[sr.Source] = sr
		case <-ctx.Done():
			o.drain(results, res)
			for _, p := range provs {
				if _, done := res.Sources[p.ID()]; done {
					continue
				}
				o.opts.Logger.Warn("[collector] Source did not finish before deadline", "source", p.ID())
				o.opts.Metrics.ObserveFetch(p.ID(), string(KindTimeout), 0, 0)
				res.Sources[p.ID()] = SourceResult{Source: p.ID(), Err: ctx.Err(), Kind: KindTimeout}
			}
		}
	}

	o.opts.Logger.Info("[collector] Collection finished",
		"location", loc.String(),
		"records", len(res.Records()),
		"failed", len(res.Errors()))
	return res, nil
}

func (o *Orchestrator) drain(results <-chan SourceResult, res *Result) {
	for {
		select {
		case sr := <-results:
			res.Sources[sr.Source] = sr
		default:
			return
		}
	}
}

func (o *Orchestrator) run(ctx context.Context, p providers.Provider, loc models.Location) (sr SourceResult) {
	start := time.Now()
	sr.Source = p.ID()

	defer func() {
		if r := recover(); r != nil {
			sr.Records = nil
			sr.Err = fmt.Errorf("collector: %s panicked: %v", p.ID(), r)
			sr.Kind = KindUnknown
		}
		sr.Duration = time.Since(start)

		outcome := "ok"
		if sr.Err != nil {
			outcome = string(sr.Kind)
			o.opts.Logger.Warn("[collector] Source failed",
				"source", sr.Source, "kind", outcome, "records", len(sr.Records), "error", sr.Err)
		} else {
			o.opts.Logger.Info("[collector] Source done",
				"source", sr.Source, "records", len(sr.Records), "duration", sr.Duration)
		}
		o.opts.Metrics.ObserveFetch(sr.Source, outcome, sr.Duration, len(sr.Records))
	}()

	sr.Records, sr.Err = p.Fetch(ctx, loc)
	sr.Kind = Classify(sr.Err)
	return sr
}
