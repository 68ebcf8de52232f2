package models

import (
	"encoding/json"
	"time"
)

// Location identifies the market a collection run targets.
type Location struct {
	City  string
	State string
	// Limit caps the number of listings requested from each provider page.
	Limit int
}

func (l Location) String() string {
	if l.State == "" {
		return l.City
	}
	return l.City + ", " + l.State
}

// RawRecord is one provider-native listing exactly as fetched.
// It is never modified after the provider returns it.
type RawRecord struct {
	SourceID  string
	FetchedAt time.Time
	Payload   json.RawMessage
	Location  Location
}

// Address holds a standardized address string and its parsed parts.
type Address struct {
	Standardized string
	Number       string
	Street       string
	Unit         string
	City         string
	State        string
	Zip          string
}

// Coordinates is a WGS84 point.
type Coordinates struct {
	Lat float64
	Lon float64
}

// NormalizedProperty is a single provider record mapped onto the canonical shape.
type NormalizedProperty struct {
	Address     Address
	Coordinates *Coordinates

	Bedrooms  *int
	Bathrooms *float64
	Area      *float64
	Price     *float64
	LotSize   *float64
	YearBuilt *int

	// DaysOnMarket is the listing's time on market as the source reports it.
	DaysOnMarket *int

	PropertyType  string
	ListingType   string
	ListingStatus string

	SourceID         string
	SourceConfidence float64
	FetchedAt        time.Time
}

// MergedProperty is the canonical record for one physical property.
type MergedProperty struct {
	ID         int64
	AddressKey string
	Address    Address

	Coordinates *Coordinates
	Bedrooms    *int
	Bathrooms   *float64
	Area        *float64
	Price       *float64
	LotSize     *float64
	YearBuilt   *int

	DaysOnMarket *int

	PropertyType  string
	ListingType   string
	ListingStatus string

	Sources    []string
	Confidence float64
	FetchedAt  time.Time

	PricePerArea    *float64
	MarketSegment   string
	InvestmentScore *float64
	PropertyAge     *int
	SizeCategory    string
	AgeCategory     string
	FamilyScore     *float64
	FirstTimeBuyer  bool
}

// PropertyCluster groups every normalized record that describes the same property.
type PropertyCluster struct {
	Members []*NormalizedProperty
	Merged  *MergedProperty
}

// Listing types.
const (
	ListingSale   = "sale"
	ListingRental = "rental"
)
