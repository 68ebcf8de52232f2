package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"property-collector/models"
	"property-collector/quota"
	"property-collector/ratelimit"
	"property-collector/utils"
)

// PageFunc performs one network call for page (zero-based). It returns the
// listings on that page and whether another page may follow.
type PageFunc func(ctx context.Context, loc models.Location, page int) (items []json.RawMessage, more bool, err error)

// Gate runs paged fetches under quota admission, rate limiting and retry.
//
// Quota is checked before any call, and again before every further page.
// Pages actually served are billed once at the end, with a context that
// ignores cancellation so a served call is never left unbilled.
type Gate struct {
	quota   *quota.Manager
	limiter *ratelimit.Limiter
	retry   utils.RetryConfig
	logger  *utils.Logger
	now     func() time.Time
}

// NewGate creates a Gate. retry.IsRetryable is replaced by IsRetryable.
func NewGate(qm *quota.Manager, limiter *ratelimit.Limiter, retry utils.RetryConfig, logger *utils.Logger) *Gate {
	retry.IsRetryable = IsRetryable
	if retry.Logger == nil {
		retry.Logger = logger
	}
	return &Gate{
		quota:   qm,
		limiter: limiter,
		retry:   retry,
		logger:  logger,
		now:     time.Now,
	}
}

// Fetch pages through source with fetch, stopping after maxPages, when a
// page reports no more results, or when the quota cannot cover another page.
//
// A failure on the first page is returned as is. A failure on a later page
// keeps the pages already fetched; only cancellation of ctx is reported
// alongside them.
func (g *Gate) Fetch(ctx context.Context, source string, loc models.Location, maxPages int, fetch PageFunc) ([]models.RawRecord, error) {
	if !g.quota.Check(source, 1) {
		return nil, fmt.Errorf("providers: %s: %w", source, quota.ErrQuotaExceeded)
	}
	if maxPages < 1 {
		maxPages = 1
	}

	var (
		records  []models.RawRecord
		pages    int
		fetchErr error
	)

	for page := 0; page < maxPages; page++ {
		if page > 0 && !g.quota.Check(source, pages+1) {
			g.logger.Info("[gate] Quota cannot cover another page, stopping",
				"source", source, "pages", pages)
			break
		}

		var (
			items []json.RawMessage
			more  bool
		)
		op := fmt.Sprintf("%s page %d", source, page+1)
		err := g.retry.Do(ctx, op, func(ctx context.Context) error {
			if err := g.limiter.Acquire(ctx, source); err != nil {
				return err
			}
			var err error
			items, more, err = fetch(ctx, loc, page)
			return err
		})
		if err != nil {
			fetchErr = err
			break
		}

		pages++
		fetchedAt := g.now().UTC()
		for _, item := range items {
			records = append(records, models.RawRecord{
				SourceID:  source,
				FetchedAt: fetchedAt,
				Payload:   item,
				Location:  loc,
			})
		}
		if !more || len(items) == 0 {
			break
		}
	}

	if pages > 0 {
		if err := g.bill(ctx, source, pages); err != nil {
			return records, err
		}
	}

	switch {
	case fetchErr == nil:
		return records, nil
	case pages == 0:
		return nil, fetchErr
	case ctx.Err() != nil:
		return records, fetchErr
	default:
		g.logger.Warn("[gate] Later page failed, keeping partial result",
			"source", source, "pages", pages, "records", len(records), "error", fetchErr)
		return records, nil
	}
}

func (g *Gate) bill(ctx context.Context, source string, pages int) error {
	billCtx := context.WithoutCancel(ctx)
	err := g.quota.Record(billCtx, source, pages)
	if err == nil {
		return nil
	}
	if errors.Is(err, quota.ErrQuotaExceeded) {
		// A concurrent caller took the remaining budget while our calls were
		// in flight. The provider already served them, so close the budget.
		g.logger.Warn("[gate] Served pages exceed remaining quota",
			"source", source, "pages", pages, "error", err)
		if exErr := g.quota.Exhaust(billCtx, source); exErr != nil {
			return exErr
		}
		return nil
	}
	return err
}
