package providers

import (
	"context"
	"encoding/json"
	"time"

	"property-collector/models"
)

// Demo returns a fixed set of sample listings. It needs no credentials and
// is never billed or rate limited.
type Demo struct {
	id  string
	now func() time.Time
}

func NewDemo(id string, now func() time.Time) *Demo {
	if id == "" {
		id = "demo"
	}
	if now == nil {
		now = time.Now
	}
	return &Demo{id: id, now: now}
}

func (p *Demo) ID() string { return p.id }
func (p *Demo) Kind() Kind { return KindDemo }

type demoListing struct {
	Address       string  `json:"address"`
	City          string  `json:"city"`
	State         string  `json:"state"`
	ZipCode       string  `json:"zip_code"`
	Latitude      float64 `json:"latitude"`
	Longitude     float64 `json:"longitude"`
	PropertyType  string  `json:"property_type"`
	Bedrooms      int     `json:"bedrooms"`
	Bathrooms     float64 `json:"bathrooms"`
	SquareFeet    int     `json:"square_feet"`
	YearBuilt     int     `json:"year_built"`
	CurrentPrice  float64 `json:"current_price"`
	ListingStatus string  `json:"listing_status"`
	DaysOnMarket  int     `json:"days_on_market"`
}

// demoDaysOnMarket is the sample market's average time on market.
const demoDaysOnMarket = 25

var demoListings = []demoListing{
	{Address: "123 Market St", ZipCode: "94102", Latitude: 37.7749, Longitude: -122.4194,
		PropertyType: "condo", Bedrooms: 2, Bathrooms: 2, SquareFeet: 1200, YearBuilt: 2015, CurrentPrice: 850000},
	{Address: "456 Mission St", ZipCode: "94105", Latitude: 37.7849, Longitude: -122.4094,
		PropertyType: "apartment", Bedrooms: 1, Bathrooms: 1, SquareFeet: 800, YearBuilt: 2010, CurrentPrice: 650000},
	{Address: "789 Howard St", ZipCode: "94103", Latitude: 37.7749, Longitude: -122.4094,
		PropertyType: "house", Bedrooms: 3, Bathrooms: 2, SquareFeet: 1800, YearBuilt: 1995, CurrentPrice: 1200000},
}

func (p *Demo) Fetch(ctx context.Context, loc models.Location) ([]models.RawRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fetchedAt := p.now().UTC()
	out := make([]models.RawRecord, 0, len(demoListings))
	for _, l := range demoListings {
		l.City = loc.City
		l.State = loc.State
		l.ListingStatus = "active"
		l.DaysOnMarket = demoDaysOnMarket
		payload, err := json.Marshal(l)
		if err != nil {
			return nil, err
		}
		out = append(out, models.RawRecord{
			SourceID:  p.id,
			FetchedAt: fetchedAt,
			Payload:   payload,
			Location:  loc,
		})
	}
	return out, nil
}
