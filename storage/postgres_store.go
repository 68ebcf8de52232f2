package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"property-collector/models"
)

// PostgresStore persists merged properties to PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection to PostgreSQL, runs schema migrations,
// and returns a ready-to-use PostgresStore.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	for i := 0; i < 10; i++ {
		if err = db.PingContext(ctx); err == nil {
			break
		}
		select {
		case <-ctx.Done():
			_ = db.Close()
			return nil, fmt.Errorf("postgres: ping: %w", ctx.Err())
		case <-time.After(2 * time.Second):
		}
	}
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping failed after retries: %w", err)
	}

	ps := NewPostgresStoreFromDB(db)
	if err := ps.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}
	return ps, nil
}

// NewPostgresStoreFromDB wraps an existing connection. No migration is run.
func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (ps *PostgresStore) Migrate(ctx context.Context) error {
	_, err := ps.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS properties (
			id               BIGSERIAL PRIMARY KEY,
			address_key      TEXT          UNIQUE NOT NULL,
			street_number    TEXT          NOT NULL DEFAULT '',
			street           TEXT          NOT NULL DEFAULT '',
			unit             TEXT          NOT NULL DEFAULT '',
			city             TEXT          NOT NULL DEFAULT '',
			state            VARCHAR(2)    NOT NULL DEFAULT '',
			zip              VARCHAR(10)   NOT NULL DEFAULT '',
			latitude         DOUBLE PRECISION,
			longitude        DOUBLE PRECISION,
			bedrooms         INTEGER,
			bathrooms        NUMERIC(4,1),
			area             NUMERIC(12,2),
			price            NUMERIC(14,2),
			lot_size         NUMERIC(14,2),
			year_built       INTEGER,
			property_type    TEXT          NOT NULL DEFAULT '',
			listing_type     TEXT          NOT NULL DEFAULT '',
			listing_status   TEXT          NOT NULL DEFAULT '',
			sources          TEXT[]        NOT NULL DEFAULT '{}',
			confidence       NUMERIC(4,3)  NOT NULL DEFAULT 0,
			fetched_at       TIMESTAMPTZ   NOT NULL,
			price_per_area   NUMERIC(12,2),
			market_segment   TEXT          NOT NULL DEFAULT '',
			investment_score NUMERIC(6,4),
			property_age     INTEGER,
			size_category    TEXT          NOT NULL DEFAULT '',
			days_on_market   INTEGER,
			family_score     NUMERIC(4,3),
			age_category     TEXT          NOT NULL DEFAULT '',
			first_time_buyer BOOLEAN       NOT NULL DEFAULT FALSE,
			created_at       TIMESTAMPTZ   NOT NULL DEFAULT NOW(),
			updated_at       TIMESTAMPTZ   NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_properties_city    ON properties(city, state);
		CREATE INDEX IF NOT EXISTS idx_properties_price   ON properties(price);
		CREATE INDEX IF NOT EXISTS idx_properties_segment ON properties(market_segment);
	`)
	return err
}

const upsertProperty = `
	INSERT INTO properties (
		address_key, street_number, street, unit, city, state, zip,
		latitude, longitude, bedrooms, bathrooms, area, price, lot_size, year_built,
		property_type, listing_type, listing_status, sources, confidence, fetched_at,
		price_per_area, market_segment, investment_score, property_age, size_category,
		days_on_market, family_score, age_category, first_time_buyer
	)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,
		$27,$28,$29,$30)
	ON CONFLICT (address_key) DO UPDATE SET
		street_number    = EXCLUDED.street_number,
		street           = EXCLUDED.street,
		unit             = EXCLUDED.unit,
		city             = EXCLUDED.city,
		state            = EXCLUDED.state,
		zip              = COALESCE(NULLIF(EXCLUDED.zip, ''), properties.zip),
		latitude         = COALESCE(EXCLUDED.latitude, properties.latitude),
		longitude        = COALESCE(EXCLUDED.longitude, properties.longitude),
		bedrooms         = COALESCE(EXCLUDED.bedrooms, properties.bedrooms),
		bathrooms        = COALESCE(EXCLUDED.bathrooms, properties.bathrooms),
		area             = COALESCE(EXCLUDED.area, properties.area),
		price            = COALESCE(EXCLUDED.price, properties.price),
		lot_size         = COALESCE(EXCLUDED.lot_size, properties.lot_size),
		year_built       = COALESCE(EXCLUDED.year_built, properties.year_built),
		property_type    = EXCLUDED.property_type,
		listing_type     = EXCLUDED.listing_type,
		listing_status   = EXCLUDED.listing_status,
		sources          = EXCLUDED.sources,
		confidence       = EXCLUDED.confidence,
		fetched_at       = EXCLUDED.fetched_at,
		price_per_area   = EXCLUDED.price_per_area,
		market_segment   = EXCLUDED.market_segment,
		investment_score = EXCLUDED.investment_score,
		property_age     = EXCLUDED.property_age,
		size_category    = EXCLUDED.size_category,
		days_on_market   = COALESCE(EXCLUDED.days_on_market, properties.days_on_market),
		family_score     = EXCLUDED.family_score,
		age_category     = EXCLUDED.age_category,
		first_time_buyer = EXCLUDED.first_time_buyer,
		updated_at       = NOW()
	RETURNING id
`

// Upsert inserts p, or refreshes the row with the same address key. Fields
// missing from p keep their stored values.
func (ps *PostgresStore) Upsert(ctx context.Context, p *models.MergedProperty) (int64, error) {
	if p.AddressKey == "" {
		return 0, errors.New("postgres: upsert: empty address key")
	}

	var lat, lon *float64
	if p.Coordinates != nil {
		lat, lon = &p.Coordinates.Lat, &p.Coordinates.Lon
	}

	var id int64
	err := ps.db.QueryRowContext(ctx, upsertProperty,
		p.AddressKey, p.Address.Number, p.Address.Street, p.Address.Unit,
		p.Address.City, p.Address.State, p.Address.Zip,
		lat, lon, p.Bedrooms, p.Bathrooms, p.Area, p.Price, p.LotSize, p.YearBuilt,
		p.PropertyType, p.ListingType, p.ListingStatus, pq.Array(p.Sources), p.Confidence, p.FetchedAt,
		p.PricePerArea, p.MarketSegment, p.InvestmentScore, p.PropertyAge, p.SizeCategory,
		p.DaysOnMarket, p.FamilyScore, p.AgeCategory, p.FirstTimeBuyer,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres: upsert %q: %w", p.AddressKey, err)
	}
	p.ID = id
	return id, nil
}

func (ps *PostgresStore) FindCandidateByLocation(ctx context.Context, addressKey string) (int64, bool, error) {
	var id int64
	err := ps.db.QueryRowContext(ctx,
		`SELECT id FROM properties WHERE address_key = $1`, addressKey).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("postgres: find %q: %w", addressKey, err)
	}
	return id, true, nil
}

// FetchAll retrieves all stored properties, used by the insight report.
func (ps *PostgresStore) FetchAll(ctx context.Context) ([]*models.MergedProperty, error) {
	rows, err := ps.db.QueryContext(ctx, `
		SELECT id, address_key, street_number, street, unit, city, state, zip,
		       latitude, longitude, bedrooms, bathrooms, area, price, lot_size, year_built,
		       property_type, listing_type, listing_status, sources, confidence, fetched_at,
		       price_per_area, market_segment, investment_score, property_age, size_category,
		       days_on_market, family_score, age_category, first_time_buyer
		FROM properties
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("postgres: fetch all: %w", err)
	}
	defer rows.Close()

	var props []*models.MergedProperty
	for rows.Next() {
		p := &models.MergedProperty{}
		var lat, lon sql.NullFloat64
		if err := rows.Scan(
			&p.ID, &p.AddressKey, &p.Address.Number, &p.Address.Street, &p.Address.Unit,
			&p.Address.City, &p.Address.State, &p.Address.Zip,
			&lat, &lon, &p.Bedrooms, &p.Bathrooms, &p.Area, &p.Price, &p.LotSize, &p.YearBuilt,
			&p.PropertyType, &p.ListingType, &p.ListingStatus, pq.Array(&p.Sources), &p.Confidence, &p.FetchedAt,
			&p.PricePerArea, &p.MarketSegment, &p.InvestmentScore, &p.PropertyAge, &p.SizeCategory,
			&p.DaysOnMarket, &p.FamilyScore, &p.AgeCategory, &p.FirstTimeBuyer,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan row: %w", err)
		}
		p.Address.Standardized = p.AddressKey
		if lat.Valid && lon.Valid {
			p.Coordinates = &models.Coordinates{Lat: lat.Float64, Lon: lon.Float64}
		}
		props = append(props, p)
	}
	return props, rows.Err()
}

func (ps *PostgresStore) Close() error {
	return ps.db.Close()
}
