package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"property-collector/models"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresStoreFromDB(db), mock
}

func sampleMerged() *models.MergedProperty {
	price, area := 500000.0, 1850.0
	beds := 3
	return &models.MergedProperty{
		AddressKey:  "123 main st, springfield, IL",
		Address:     models.Address{Number: "123", Street: "main st", City: "Springfield", State: "IL", Zip: "62704"},
		Coordinates: &models.Coordinates{Lat: 39.78, Lon: -89.65},
		Bedrooms:    &beds,
		Area:        &area,
		Price:       &price,
		ListingType: models.ListingSale,
		Sources:     []string{"rentcast", "zillow"},
		Confidence:  0.9,
		FetchedAt:   time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC),
	}
}

func TestPostgresMigrate(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS properties")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, store.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpsertReturnsID(t *testing.T) {
	store, mock := newMockStore(t)
	p := sampleMerged()

	args := make([]driver.Value, 30)
	for i := range args {
		args[i] = sqlmock.AnyArg()
	}
	args[0] = p.AddressKey
	args[5] = "IL"

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO properties")).
		WithArgs(args...).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))

	id, err := store.Upsert(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
	assert.Equal(t, int64(42), p.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpsertErrors(t *testing.T) {
	store, mock := newMockStore(t)

	_, err := store.Upsert(context.Background(), &models.MergedProperty{})
	assert.Error(t, err)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO properties")).
		WillReturnError(sql.ErrConnDone)
	_, err = store.Upsert(context.Background(), sampleMerged())
	assert.True(t, errors.Is(err, sql.ErrConnDone))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresFindCandidateByLocation(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()
	query := regexp.QuoteMeta("SELECT id FROM properties WHERE address_key = $1")

	mock.ExpectQuery(query).WithArgs("1 elm st, peoria, IL").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))
	id, found, err := store.FindCandidateByLocation(ctx, "1 elm st, peoria, IL")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(7), id)

	mock.ExpectQuery(query).WithArgs("nowhere").WillReturnError(sql.ErrNoRows)
	_, found, err = store.FindCandidateByLocation(ctx, "nowhere")
	require.NoError(t, err)
	assert.False(t, found)

	mock.ExpectQuery(query).WithArgs("broken").WillReturnError(sql.ErrConnDone)
	_, _, err = store.FindCandidateByLocation(ctx, "broken")
	assert.Error(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresFetchAll(t *testing.T) {
	store, mock := newMockStore(t)
	fetchedAt := time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{
		"id", "address_key", "street_number", "street", "unit", "city", "state", "zip",
		"latitude", "longitude", "bedrooms", "bathrooms", "area", "price", "lot_size", "year_built",
		"property_type", "listing_type", "listing_status", "sources", "confidence", "fetched_at",
		"price_per_area", "market_segment", "investment_score", "property_age", "size_category",
		"days_on_market", "family_score", "age_category", "first_time_buyer",
	}).AddRow(
		int64(1), "123 main st, springfield, IL", "123", "main st", "", "Springfield", "IL", "62704",
		39.78, -89.65, int64(3), nil, 1850.0, 500000.0, nil, nil,
		"house", "sale", "active", []byte("{rentcast,zillow}"), 0.9, fetchedAt,
		270.27, "premium", nil, nil, "large",
		int64(25), 0.87, "unknown", true,
	).AddRow(
		int64(2), "9 oak ave, springfield, IL", "9", "oak ave", "", "Springfield", "IL", "",
		nil, nil, nil, nil, nil, nil, nil, nil,
		"", "sale", "", []byte("{demo}"), 0.3, fetchedAt,
		nil, "unknown", nil, nil, "unknown",
		nil, nil, "unknown", false,
	)
	mock.ExpectQuery(regexp.QuoteMeta("FROM properties")).WillReturnRows(rows)

	props, err := store.FetchAll(context.Background())
	require.NoError(t, err)
	require.Len(t, props, 2)

	first := props[0]
	assert.Equal(t, []string{"rentcast", "zillow"}, first.Sources)
	require.NotNil(t, first.Coordinates)
	assert.Equal(t, 39.78, first.Coordinates.Lat)
	require.NotNil(t, first.Price)
	assert.Equal(t, 500000.0, *first.Price)
	assert.Nil(t, first.Bathrooms)
	assert.Equal(t, first.AddressKey, first.Address.Standardized)
	require.NotNil(t, first.DaysOnMarket)
	assert.Equal(t, 25, *first.DaysOnMarket)
	assert.True(t, first.FirstTimeBuyer)

	assert.Nil(t, props[1].Coordinates)
	assert.Nil(t, props[1].Price)
	assert.Nil(t, props[1].DaysOnMarket)
	assert.Nil(t, props[1].FamilyScore)
	assert.NoError(t, mock.ExpectationsWereMet())
}
