package quota

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"property-collector/models"
)

// RedisStore keeps one hash per quota record plus a set indexing them.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

type RedisStoreOption func(*RedisStore)

// WithKeyPrefix overrides the default "quota" key prefix.
func WithKeyPrefix(prefix string) RedisStoreOption {
	return func(s *RedisStore) { s.prefix = strings.Trim(prefix, ":") }
}

// NewRedisStore wraps an existing client.
func NewRedisStore(rdb *redis.Client, opts ...RedisStoreOption) *RedisStore {
	s := &RedisStore{rdb: rdb, prefix: "quota"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) indexKey() string { return s.prefix + ":index" }

func (s *RedisStore) recordKey(rec models.QuotaRecord) string {
	return fmt.Sprintf("%s:rec:%s:%s", s.prefix, rec.SourceID, rec.PeriodStart.UTC().Format(periodLayout))
}

func (s *RedisStore) Load(ctx context.Context) ([]models.QuotaRecord, error) {
	keys, err := s.rdb.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("quota: redis index: %w", err)
	}

	recs := make([]models.QuotaRecord, 0, len(keys))
	for _, key := range keys {
		fields, err := s.rdb.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("quota: redis load %s: %w", key, err)
		}
		if len(fields) == 0 {
			continue
		}
		rec, err := decodeRedisRecord(fields)
		if err != nil {
			return nil, fmt.Errorf("quota: redis decode %s: %w", key, err)
		}
		recs = append(recs, rec)
	}
	sortRecords(recs)
	return recs, nil
}

func (s *RedisStore) Save(ctx context.Context, rec models.QuotaRecord) error {
	key := s.recordKey(rec)
	limit := ""
	if rec.Limit != nil {
		limit = strconv.Itoa(*rec.Limit)
	}

	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"source_id", rec.SourceID,
			"period_start", rec.PeriodStart.UTC().Format(time.RFC3339),
			"used_count", rec.UsedCount,
			"limit", limit,
			"limit_pinned", strconv.FormatBool(rec.LimitPinned),
		)
		pipe.SAdd(ctx, s.indexKey(), key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("quota: redis save %s: %w", key, err)
	}
	return nil
}

func decodeRedisRecord(fields map[string]string) (models.QuotaRecord, error) {
	var rec models.QuotaRecord
	rec.SourceID = fields["source_id"]

	start, err := time.Parse(time.RFC3339, fields["period_start"])
	if err != nil {
		return rec, fmt.Errorf("period_start: %w", err)
	}
	rec.PeriodStart = start.UTC()

	used, err := strconv.Atoi(fields["used_count"])
	if err != nil {
		return rec, fmt.Errorf("used_count: %w", err)
	}
	rec.UsedCount = used

	if raw := fields["limit"]; raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return rec, fmt.Errorf("limit: %w", err)
		}
		rec.Limit = &limit
	}
	if raw := fields["limit_pinned"]; raw != "" {
		pinned, err := strconv.ParseBool(raw)
		if err != nil {
			return rec, fmt.Errorf("limit_pinned: %w", err)
		}
		rec.LimitPinned = pinned
	}
	return rec, nil
}
