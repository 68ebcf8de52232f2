// Package quota tracks monthly request budgets per data source.
//
// A Manager owns every QuotaRecord. Reads and writes for one source go
// through that source's critical section, and every mutation is flushed to
// the Store before the call returns.
package quota

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"property-collector/models"
	"property-collector/utils"
)

// ErrQuotaExceeded is returned when spending would exceed a source's budget.
var ErrQuotaExceeded = errors.New("quota exceeded")

// PersistenceError reports a failed store write. The in-memory usage is left
// as it was before the call.
type PersistenceError struct {
	SourceID string
	Err      error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("quota: persist usage for %s: %v", e.SourceID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// DefaultLimit applies to sources without a configured budget.
const DefaultLimit = 1000

// Limits maps a source id to its monthly budget. A nil value means unlimited.
type Limits map[string]*int

// DefaultLimits returns the built-in monthly budgets.
func DefaultLimits() Limits {
	return Limits{
		"rentcast":   intPtr(50),
		"zillow":     intPtr(100),
		"rentspider": intPtr(1000),
		"demo":       nil,
	}
}

func intPtr(v int) *int { return &v }

type Option func(*Manager)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithObserver registers a callback invoked after every committed mutation.
func WithObserver(fn func(models.QuotaStatus)) Option {
	return func(m *Manager) { m.observer = fn }
}

type ledger struct {
	mu      sync.Mutex
	periods map[string]*models.QuotaRecord
}

// Manager answers admission checks and records spend per source.
type Manager struct {
	store    Store
	logger   *utils.Logger
	now      func() time.Time
	observer func(models.QuotaStatus)

	mu      sync.Mutex
	limits  Limits
	ledgers map[string]*ledger
}

// NewManager loads all persisted records from store.
func NewManager(ctx context.Context, store Store, limits Limits, logger *utils.Logger, opts ...Option) (*Manager, error) {
	m := &Manager{
		store:   store,
		logger:  logger,
		now:     time.Now,
		limits:  make(Limits, len(limits)),
		ledgers: make(map[string]*ledger),
	}
	for src, limit := range limits {
		m.limits[src] = copyLimit(limit)
	}
	for _, opt := range opts {
		opt(m)
	}

	recs, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("quota: load: %w", err)
	}

	current := monthStart(m.now())
	for _, rec := range recs {
		rec := rec
		rec.PeriodStart = monthStart(rec.PeriodStart)
		// closed periods are kept exactly as stored
		if rec.PeriodStart.Equal(current) {
			if limit, ok := m.limits[rec.SourceID]; ok && !rec.LimitPinned {
				rec.Limit = copyLimit(limit)
			}
			if rec.Limit != nil && rec.UsedCount > *rec.Limit {
				m.logger.Warn("[quota] Clamping overshoot found on load",
					"source", rec.SourceID,
					"period", rec.PeriodStart.Format(periodLayout),
					"used", rec.UsedCount,
					"limit", *rec.Limit)
				rec.UsedCount = *rec.Limit
			}
		}
		m.ledgerFor(rec.SourceID).periods[rec.PeriodStart.Format(periodLayout)] = &rec
	}

	m.logger.Info("[quota] Loaded quota records", "records", len(recs))
	return m, nil
}

func monthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func (m *Manager) ledgerFor(source string) *ledger {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.ledgers[source]
	if !ok {
		l = &ledger{periods: make(map[string]*models.QuotaRecord)}
		m.ledgers[source] = l
	}
	return l
}

// lookup returns the ledger of source without registering it.
func (m *Manager) lookup(source string) (*ledger, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.ledgers[source]
	return l, ok
}

func (m *Manager) limitFor(source string) *int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if limit, ok := m.limits[source]; ok {
		return copyLimit(limit)
	}
	return intPtr(DefaultLimit)
}

// current returns the record covering now. A month with no record yet is
// returned as a fresh zero-usage record that is not stored until mutated.
// Caller must hold l.mu.
func (m *Manager) current(l *ledger, source string) models.QuotaRecord {
	start := monthStart(m.now())
	if rec, ok := l.periods[start.Format(periodLayout)]; ok {
		out := *rec
		out.Limit = copyLimit(rec.Limit)
		return out
	}
	return m.fresh(source, start)
}

func (m *Manager) fresh(source string, start time.Time) models.QuotaRecord {
	return models.QuotaRecord{
		SourceID:    source,
		PeriodStart: start,
		Limit:       m.limitFor(source),
	}
}

// peek returns the record covering now for read-only callers. Unknown sources
// stay unregistered.
func (m *Manager) peek(source string) models.QuotaRecord {
	l, ok := m.lookup(source)
	if !ok {
		return m.fresh(source, monthStart(m.now()))
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return m.current(l, source)
}

// commit persists rec and then installs it. Caller must hold l.mu.
func (m *Manager) commit(ctx context.Context, l *ledger, rec models.QuotaRecord) error {
	if err := m.store.Save(ctx, rec); err != nil {
		return &PersistenceError{SourceID: rec.SourceID, Err: err}
	}
	stored := rec
	l.periods[rec.PeriodStart.Format(periodLayout)] = &stored
	if m.observer != nil {
		m.observer(statusOf(rec))
	}
	return nil
}

func allowed(rec models.QuotaRecord, cost int) bool {
	return rec.Limit == nil || rec.UsedCount+cost <= *rec.Limit
}

func normaliseCost(cost int) int {
	if cost < 1 {
		return 1
	}
	return cost
}

// Check reports whether cost units may be spent on source now. It never
// changes state.
func (m *Manager) Check(source string, cost int) bool {
	cost = normaliseCost(cost)
	rec := m.peek(source)
	ok := allowed(rec, cost)
	if !ok {
		m.logger.Warn("[quota] Admission denied",
			"source", source,
			"used", rec.UsedCount,
			"limit", *rec.Limit,
			"requested", cost)
	}
	return ok
}

// Record spends cost units on source and persists the new usage. It fails
// with ErrQuotaExceeded when Check would have returned false.
func (m *Manager) Record(ctx context.Context, source string, cost int) error {
	cost = normaliseCost(cost)
	l := m.ledgerFor(source)
	l.mu.Lock()
	defer l.mu.Unlock()

	rec := m.current(l, source)
	if !allowed(rec, cost) {
		return fmt.Errorf("%w: %s used %d/%d, requested %d",
			ErrQuotaExceeded, source, rec.UsedCount, *rec.Limit, cost)
	}

	rec.UsedCount += cost
	if err := m.commit(ctx, l, rec); err != nil {
		m.logger.Error("[quota] Failed to persist usage, debit rolled back",
			"source", source, "cost", cost, "error", err)
		return err
	}

	m.logger.Debug("[quota] Recorded usage",
		"source", source, "cost", cost, "used", rec.UsedCount)
	return nil
}

// Exhaust marks source as fully spent for the current period. It is used when
// a provider has already served a request but the remaining budget was taken
// by a concurrent caller in the meantime.
func (m *Manager) Exhaust(ctx context.Context, source string) error {
	l := m.ledgerFor(source)
	l.mu.Lock()
	defer l.mu.Unlock()

	rec := m.current(l, source)
	if rec.Limit == nil || rec.UsedCount >= *rec.Limit {
		return nil
	}
	rec.UsedCount = *rec.Limit
	if err := m.commit(ctx, l, rec); err != nil {
		return err
	}
	m.logger.Warn("[quota] Budget exhausted after concurrent overshoot", "source", source)
	return nil
}

// Status returns usage for the period covering now.
func (m *Manager) Status(source string) models.QuotaStatus {
	return statusOf(m.peek(source))
}

// StatusAll returns the status of every configured or previously seen source.
func (m *Manager) StatusAll() map[string]models.QuotaStatus {
	out := make(map[string]models.QuotaStatus)
	for _, src := range m.Sources() {
		out[src] = m.Status(src)
	}
	return out
}

// Sources lists configured and previously seen sources, sorted.
func (m *Manager) Sources() []string {
	m.mu.Lock()
	seen := make(map[string]struct{}, len(m.limits)+len(m.ledgers))
	for src := range m.limits {
		seen[src] = struct{}{}
	}
	for src := range m.ledgers {
		seen[src] = struct{}{}
	}
	m.mu.Unlock()

	out := make([]string, 0, len(seen))
	for src := range seen {
		out = append(out, src)
	}
	sort.Strings(out)
	return out
}

// History returns every stored record for source, oldest first.
func (m *Manager) History(source string) []models.QuotaRecord {
	l, ok := m.lookup(source)
	if !ok {
		return []models.QuotaRecord{}
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]models.QuotaRecord, 0, len(l.periods))
	for _, rec := range l.periods {
		r := *rec
		r.Limit = copyLimit(rec.Limit)
		out = append(out, r)
	}
	sortRecords(out)
	return out
}

// SetLimit changes the budget of source for the current and future periods.
// The current period keeps the new limit across restarts, ahead of the
// configured one.
func (m *Manager) SetLimit(ctx context.Context, source string, limit *int) error {
	m.mu.Lock()
	m.limits[source] = copyLimit(limit)
	m.mu.Unlock()

	l := m.ledgerFor(source)
	l.mu.Lock()
	defer l.mu.Unlock()

	rec := m.current(l, source)
	rec.Limit = copyLimit(limit)
	rec.LimitPinned = true
	if err := m.commit(ctx, l, rec); err != nil {
		return err
	}
	m.logger.Info("[quota] Monthly limit updated", "source", source, "limit", limit)
	return nil
}

// Reset zeroes the current period's usage for source.
func (m *Manager) Reset(ctx context.Context, source string) error {
	l := m.ledgerFor(source)
	l.mu.Lock()
	defer l.mu.Unlock()

	rec := m.current(l, source)
	rec.UsedCount = 0
	if err := m.commit(ctx, l, rec); err != nil {
		return err
	}
	m.logger.Info("[quota] Usage reset manually", "source", source)
	return nil
}

func statusOf(rec models.QuotaRecord) models.QuotaStatus {
	st := models.QuotaStatus{
		SourceID:    rec.SourceID,
		Used:        rec.UsedCount,
		Limit:       copyLimit(rec.Limit),
		PeriodStart: rec.PeriodStart,
		ResetDate:   rec.ResetDate(),
	}
	if rec.Limit != nil {
		remaining := *rec.Limit - rec.UsedCount
		if remaining < 0 {
			remaining = 0
		}
		st.Remaining = &remaining
	}
	return st
}
