package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"property-collector/collector"
	"property-collector/config"
	"property-collector/metrics"
	"property-collector/models"
	"property-collector/providers"
	"property-collector/quota"
	"property-collector/ratelimit"
	"property-collector/services"
	"property-collector/storage"
	"property-collector/utils"
)

const usage = `usage:
  property-collector [collect]                   run one collection for COLLECT_CITY/COLLECT_STATE
  property-collector quota [source]              print quota status as JSON
  property-collector quota set-limit <source> <n|unlimited>
                                                 change a source's monthly limit
  property-collector quota reset <source>        zero a source's usage for this month
  property-collector insights                    print market insights from stored properties`

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := utils.NewLogger(cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := "collect"
	args := os.Args[1:]
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "collect":
		err = runCollect(ctx, cfg, logger)
	case "quota":
		err = runQuota(ctx, cfg, logger, args)
	case "insights":
		err = runInsights(ctx, cfg, logger)
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		logger.Error("Command failed", "command", cmd, "error", err)
		stop()
		os.Exit(1)
	}
}

func openQuotaStore(ctx context.Context, cfg *config.Config, logger *utils.Logger) (quota.Store, func(), error) {
	switch cfg.QuotaBackend {
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, fmt.Errorf("redis: ping %s: %w", cfg.RedisAddr, err)
		}
		logger.Info("[quota] Using Redis store", "addr", cfg.RedisAddr, "prefix", cfg.RedisKeyPrefix)
		return quota.NewRedisStore(rdb, quota.WithKeyPrefix(cfg.RedisKeyPrefix)), func() { _ = rdb.Close() }, nil
	case "file", "":
		logger.Info("[quota] Using file store", "path", cfg.QuotaFile)
		return quota.NewFileStore(cfg.QuotaFile), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown quota backend %q", cfg.QuotaBackend)
	}
}

func newQuotaManager(ctx context.Context, cfg *config.Config, logger *utils.Logger, m *metrics.Metrics) (*quota.Manager, func(), error) {
	store, closeStore, err := openQuotaStore(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	limits := quota.DefaultLimits()
	for id, limit := range cfg.QuotaLimits() {
		limits[id] = limit
	}
	for _, s := range cfg.ProviderSettings() {
		if !s.Kind.Billed() {
			limits[s.ID] = nil
		}
	}

	qm, err := quota.NewManager(ctx, store, limits, logger, quota.WithObserver(m.ObserveQuota))
	if err != nil {
		closeStore()
		return nil, nil, err
	}
	for _, st := range qm.StatusAll() {
		m.ObserveQuota(st)
	}
	return qm, closeStore, nil
}

func serveMetrics(addr string, m *metrics.Metrics, logger *utils.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("[metrics] Serving", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("[metrics] Server stopped", "error", err)
		}
	}()
}

func runCollect(ctx context.Context, cfg *config.Config, logger *utils.Logger) error {
	loc := models.Location{City: cfg.CollectCity, State: cfg.CollectState, Limit: cfg.CollectLimit}
	logger.Info("=== Property collector starting ===",
		"location", loc.String(),
		"sources", strings.Join(cfg.CollectSources, ","),
		"timeout", cfg.CollectTimeout,
		"quota_backend", cfg.QuotaBackend)

	m := metrics.NewMetrics(nil)
	if cfg.MetricsAddr != "" {
		serveMetrics(cfg.MetricsAddr, m, logger)
	}

	qm, closeQuota, err := newQuotaManager(ctx, cfg, logger, m)
	if err != nil {
		return err
	}
	defer closeQuota()

	limiter := ratelimit.NewLimiter(cfg.RateRules(), cfg.RateLimitWait, logger)
	gate := providers.NewGate(qm, limiter, utils.RetryConfig{
		MaxAttempts: cfg.MaxRetries,
		BaseDelay:   cfg.RetryBaseDelay,
		MaxDelay:    cfg.RetryMaxDelay,
		Logger:      logger,
	}, logger)

	settings := cfg.ProviderSettings()
	var renderer providers.PageRenderer
	for _, s := range settings {
		if s.Kind == providers.KindZillow {
			cr := providers.NewChromeRenderer(cfg.ChromeBin, logger)
			defer cr.Close()
			renderer = cr
			break
		}
	}

	registry, err := providers.Build(settings, providers.Deps{
		Gate:     gate,
		Renderer: renderer,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	profiles := make(map[string]services.SourceProfile, len(settings))
	for _, s := range settings {
		profiles[s.ID] = services.SourceProfile{Kind: s.Kind, Confidence: s.Confidence}
	}

	csvWriter, err := storage.NewCSVWriter(cfg.CSVOutputPath)
	if err != nil {
		return err
	}
	defer csvWriter.Close()

	pipeline := &services.Pipeline{
		Collector: collector.New(registry, collector.Options{
			Timeout:        cfg.CollectTimeout,
			MaxConcurrency: cfg.MaxConcurrency,
			Logger:         logger,
			Metrics:        m,
		}),
		Normalizer: services.NewNormalizer(profiles, logger),
		Dedup: services.NewDeduplicator(services.DedupConfig{
			Threshold:      cfg.DedupThreshold,
			CoordRadiusM:   cfg.DedupRadiusM,
			ConfidenceBand: cfg.DedupConfidenceBand,
		}, logger),
		Enricher: services.NewEnricher(time.Now().Year(), logger),
		Archive:  csvWriter,
		Metrics:  m,
		Logger:   logger,
	}

	var market services.MarketContext
	if cfg.StorageEnabled {
		pg, err := storage.NewPostgresStore(ctx, cfg.DSN())
		if err != nil {
			logger.Error("Make sure PostgreSQL is running, or set STORAGE_ENABLED=false")
			return err
		}
		defer pg.Close()
		pipeline.Store = pg
		market = marketFromStore(ctx, pg, loc, logger)
	}

	report, err := pipeline.Run(ctx, loc, cfg.CollectSources, market)
	if err != nil {
		return err
	}

	for _, id := range sortedSources(report.Collection) {
		sr := report.Collection.Sources[id]
		if sr.OK() {
			logger.Info("[collect] Source ok", "source", id, "records", len(sr.Records), "duration", sr.Duration)
		} else {
			logger.Warn("[collect] Source failed", "source", id, "kind", string(sr.Kind), "records", len(sr.Records), "error", sr.Err)
		}
	}

	insights := services.NewInsightService(logger)
	insights.Print(os.Stdout, insights.Generate(report.Properties))

	fmt.Printf("  Done. Raw CSV → %s | %d properties (%d new, %d updated, %d failed)\n\n",
		cfg.CSVOutputPath, len(report.Properties), report.Inserted, report.Updated, len(report.StoreErrors))
	return nil
}

// marketFromStore samples stored price-per-area values in loc's city, sale
// and rental listings apart.
func marketFromStore(ctx context.Context, pg *storage.PostgresStore, loc models.Location, logger *utils.Logger) services.MarketContext {
	props, err := pg.FetchAll(ctx)
	if err != nil {
		logger.Warn("[collect] No market sample, stored properties unavailable", "error", err)
		return services.MarketContext{}
	}
	var market services.MarketContext
	for _, p := range props {
		if p.PricePerArea == nil || !strings.EqualFold(p.Address.City, loc.City) {
			continue
		}
		if p.ListingType == models.ListingRental {
			market.RentalPricePerAreaSample = append(market.RentalPricePerAreaSample, *p.PricePerArea)
		} else {
			market.PricePerAreaSample = append(market.PricePerAreaSample, *p.PricePerArea)
		}
	}
	logger.Info("[collect] Market sample loaded", "city", loc.City,
		"sale", len(market.PricePerAreaSample), "rental", len(market.RentalPricePerAreaSample))
	return market
}

func sortedSources(res *collector.Result) []string {
	ids := make([]string, 0, len(res.Sources))
	for id := range res.Sources {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func runQuota(ctx context.Context, cfg *config.Config, logger *utils.Logger, args []string) error {
	qm, closeQuota, err := newQuotaManager(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer closeQuota()

	var out any
	switch {
	case len(args) > 0 && args[0] == "set-limit":
		if len(args) != 3 {
			return errors.New("quota set-limit: want <source> <n|unlimited>")
		}
		limit, err := parseLimit(args[2])
		if err != nil {
			return fmt.Errorf("quota set-limit: %w", err)
		}
		if err := qm.SetLimit(ctx, args[1], limit); err != nil {
			return err
		}
		out = qm.Status(args[1])
	case len(args) > 0 && args[0] == "reset":
		if len(args) != 2 {
			return errors.New("quota reset: want <source>")
		}
		if err := qm.Reset(ctx, args[1]); err != nil {
			return err
		}
		out = qm.Status(args[1])
	case len(args) > 0:
		out = qm.Status(args[0])
	default:
		out = qm.StatusAll()
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// parseLimit reads a monthly limit; "unlimited" yields nil.
func parseLimit(s string) (*int, error) {
	if strings.EqualFold(s, "unlimited") {
		return nil, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return nil, fmt.Errorf("invalid limit %q", s)
	}
	return &n, nil
}

func runInsights(ctx context.Context, cfg *config.Config, logger *utils.Logger) error {
	pg, err := storage.NewPostgresStore(ctx, cfg.DSN())
	if err != nil {
		return err
	}
	defer pg.Close()

	props, err := pg.FetchAll(ctx)
	if err != nil {
		return err
	}
	insights := services.NewInsightService(logger)
	insights.Print(os.Stdout, insights.Generate(props))
	return nil
}
