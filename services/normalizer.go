package services

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/tidwall/gjson"

	"property-collector/models"
	"property-collector/providers"
	"property-collector/utils"
)

// ErrNoAddress is returned for a record without a usable street line.
var ErrNoAddress = errors.New("record has no address")

// SourceProfile tells the Normalizer how to read and weigh one source.
type SourceProfile struct {
	Kind       providers.Kind
	Confidence float64
}

// DefaultConfidence is the declared reliability of each provider kind.
func DefaultConfidence(k providers.Kind) float64 {
	switch k {
	case providers.KindRentCast:
		return 0.9
	case providers.KindZillow:
		return 0.8
	case providers.KindRentSpider:
		return 0.7
	case providers.KindDemo:
		return 0.3
	default:
		return 0.5
	}
}

// fieldPaths lists gjson paths per canonical field, tried in order.
type fieldPaths struct {
	fullAddress []string
	line        []string
	city        []string
	state       []string
	zip         []string
	lat         []string
	lon         []string
	propType    []string
	bedrooms    []string
	bathrooms   []string
	area        []string
	lotSize     []string
	yearBuilt   []string
	price       []string
	status      []string
	daysListed  []string
	listingType string
}

var rentCastPaths = fieldPaths{
	fullAddress: []string{"formattedAddress"},
	line:        []string{"addressLine1", "address.line1"},
	city:        []string{"city", "address.city"},
	state:       []string{"state", "address.state"},
	zip:         []string{"zipCode", "address.zipCode", "address.zip"},
	lat:         []string{"latitude", "lat"},
	lon:         []string{"longitude", "lng"},
	propType:    []string{"propertyType", "type"},
	bedrooms:    []string{"bedrooms", "beds"},
	bathrooms:   []string{"bathrooms", "baths"},
	area:        []string{"squareFootage", "sqft"},
	lotSize:     []string{"lotSize"},
	yearBuilt:   []string{"yearBuilt"},
	price:       []string{"price", "listPrice"},
	status:      []string{"status", "listingStatus"},
	daysListed:  []string{"daysOnMarket"},
	listingType: models.ListingSale,
}

var rentSpiderPaths = fieldPaths{
	fullAddress: []string{"full_address"},
	line:        []string{"address"},
	city:        []string{"city"},
	state:       []string{"state_code", "state"},
	zip:         []string{"postal_code", "zip_code"},
	lat:         []string{"lat", "latitude"},
	lon:         []string{"lng", "longitude"},
	propType:    []string{"type", "property_type"},
	bedrooms:    []string{"beds", "bedrooms"},
	bathrooms:   []string{"baths", "bathrooms"},
	area:        []string{"sqft", "square_feet"},
	lotSize:     []string{"lot_size"},
	yearBuilt:   []string{"year_built"},
	price:       []string{"rent", "price"},
	status:      []string{"availability", "status"},
	daysListed:  []string{"days_on_market", "avg_days_on_market"},
	listingType: models.ListingRental,
}

var zillowPaths = fieldPaths{
	fullAddress: []string{"address"},
	line:        []string{"addressStreet", "hdpData.homeInfo.streetAddress"},
	city:        []string{"addressCity", "hdpData.homeInfo.city"},
	state:       []string{"addressState", "hdpData.homeInfo.state"},
	zip:         []string{"addressZipcode", "hdpData.homeInfo.zipcode"},
	lat:         []string{"latLong.latitude", "hdpData.homeInfo.latitude"},
	lon:         []string{"latLong.longitude", "hdpData.homeInfo.longitude"},
	propType:    []string{"hdpData.homeInfo.homeType", "homeType"},
	bedrooms:    []string{"beds", "hdpData.homeInfo.bedrooms"},
	bathrooms:   []string{"baths", "hdpData.homeInfo.bathrooms"},
	area:        []string{"area", "hdpData.homeInfo.livingArea"},
	lotSize:     []string{"hdpData.homeInfo.lotAreaValue"},
	yearBuilt:   []string{"hdpData.homeInfo.yearBuilt"},
	price:       []string{"unformattedPrice", "hdpData.homeInfo.price", "price"},
	status:      []string{"statusType", "hdpData.homeInfo.homeStatus"},
	daysListed:  []string{"hdpData.homeInfo.daysOnZillow", "daysOnZillow"},
	listingType: models.ListingSale,
}

var demoPaths = fieldPaths{
	line:        []string{"address"},
	city:        []string{"city"},
	state:       []string{"state"},
	zip:         []string{"zip_code"},
	lat:         []string{"latitude"},
	lon:         []string{"longitude"},
	propType:    []string{"property_type"},
	bedrooms:    []string{"bedrooms"},
	bathrooms:   []string{"bathrooms"},
	area:        []string{"square_feet"},
	lotSize:     []string{"lot_size"},
	yearBuilt:   []string{"year_built"},
	price:       []string{"current_price", "price"},
	status:      []string{"listing_status"},
	daysListed:  []string{"days_on_market"},
	listingType: models.ListingSale,
}

func pathsFor(k providers.Kind) fieldPaths {
	switch k {
	case providers.KindRentCast:
		return rentCastPaths
	case providers.KindRentSpider:
		return rentSpiderPaths
	case providers.KindZillow:
		return zillowPaths
	default:
		return demoPaths
	}
}

var propertyTypes = map[string]string{
	"single family": "house",
	"single-family": "house",
	"sfh":           "house",
	"detached":      "house",
	"house":         "house",
	"multi family":  "multifamily",
	"multi-family":  "multifamily",
	"multifamily":   "multifamily",
	"duplex":        "multifamily",
	"triplex":       "multifamily",
	"fourplex":      "multifamily",
	"condominium":   "condo",
	"condo":         "condo",
	"townhouse":     "townhome",
	"townhome":      "townhome",
	"apartment":     "apartment",
	"apt":           "apartment",
	"mobile home":   "mobile",
	"mobile":        "mobile",
	"manufactured":  "mobile",
	"land":          "lot",
	"vacant land":   "lot",
	"lot":           "lot",
}

// Normalizer maps raw provider payloads onto NormalizedProperty.
type Normalizer struct {
	profiles map[string]SourceProfile
	logger   *utils.Logger
}

// NewNormalizer creates a Normalizer. Sources missing from profiles are read
// with the generic field layout at DefaultConfidence(KindUnknown).
func NewNormalizer(profiles map[string]SourceProfile, logger *utils.Logger) *Normalizer {
	return &Normalizer{profiles: profiles, logger: logger}
}

func (n *Normalizer) profile(source string) SourceProfile {
	p, ok := n.profiles[source]
	if !ok {
		return SourceProfile{Kind: providers.KindUnknown, Confidence: DefaultConfidence(providers.KindUnknown)}
	}
	if p.Confidence <= 0 {
		p.Confidence = DefaultConfidence(p.Kind)
	}
	return p
}

// Normalize maps one record. The result depends only on rec.
func (n *Normalizer) Normalize(rec models.RawRecord) (*models.NormalizedProperty, error) {
	if !gjson.ValidBytes(rec.Payload) {
		return nil, fmt.Errorf("normalize %s: invalid payload", rec.SourceID)
	}
	doc := gjson.ParseBytes(rec.Payload)
	prof := n.profile(rec.SourceID)
	paths := pathsFor(prof.Kind)

	line := firstString(doc, paths.line)
	city := firstString(doc, paths.city)
	state := firstString(doc, paths.state)
	zip := firstString(doc, paths.zip)

	if full := firstString(doc, paths.fullAddress); full != "" {
		fLine, fCity, fState, fZip := splitFullAddress(full)
		if line == "" {
			line = fLine
		}
		city = orDefault(city, fCity)
		state = orDefault(state, fState)
		zip = orDefault(zip, fZip)
	}
	if strings.TrimSpace(line) == "" {
		return nil, fmt.Errorf("normalize %s: %w", rec.SourceID, ErrNoAddress)
	}
	city = orDefault(city, rec.Location.City)
	state = orDefault(state, rec.Location.State)

	p := &models.NormalizedProperty{
		Address:          StandardizeAddress(line, city, state, zip),
		Coordinates:      coordinates(doc, paths),
		PropertyType:     normalisePropertyType(firstString(doc, paths.propType)),
		ListingType:      paths.listingType,
		ListingStatus:    normaliseStatus(firstString(doc, paths.status)),
		SourceID:         rec.SourceID,
		SourceConfidence: prof.Confidence,
		FetchedAt:        rec.FetchedAt,
	}
	if p.ListingStatus == "for_rent" {
		p.ListingType = models.ListingRental
	}

	if v, ok := firstNumber(doc, paths.bedrooms); ok && v >= 0 && v <= 20 {
		beds := int(math.Round(v))
		p.Bedrooms = &beds
	}
	if v, ok := firstNumber(doc, paths.bathrooms); ok && v >= 0 && v <= 20 {
		p.Bathrooms = &v
	}
	if v, ok := firstNumber(doc, paths.area); ok && v >= 100 && v <= 50000 {
		p.Area = &v
	}
	if v, ok := firstNumber(doc, paths.lotSize); ok && v > 0 {
		p.LotSize = &v
	}
	maxYear := rec.FetchedAt.Year() + 1
	if rec.FetchedAt.IsZero() {
		maxYear = math.MaxInt32
	}
	if v, ok := firstNumber(doc, paths.yearBuilt); ok && v >= 1800 && int(v) <= maxYear {
		year := int(v)
		p.YearBuilt = &year
	}
	if v, ok := firstNumber(doc, paths.price); ok && v > 0 {
		p.Price = &v
	}
	if v, ok := firstNumber(doc, paths.daysListed); ok && v >= 0 {
		days := int(math.Round(v))
		p.DaysOnMarket = &days
	}
	return p, nil
}

// NormalizeAll maps every record, dropping and logging the ones that fail.
func (n *Normalizer) NormalizeAll(raw []models.RawRecord) []*models.NormalizedProperty {
	result := make([]*models.NormalizedProperty, 0, len(raw))
	for _, rec := range raw {
		p, err := n.Normalize(rec)
		if err != nil {
			n.logger.Warn("[normalizer] Dropping record", "source", rec.SourceID, "error", err)
			continue
		}
		result = append(result, p)
	}

	n.logger.Info("[normalizer] Normalized records",
		"in", len(raw), "out", len(result), "dropped", len(raw)-len(result))
	return result
}

func coordinates(doc gjson.Result, paths fieldPaths) *models.Coordinates {
	lat, okLat := firstNumber(doc, paths.lat)
	lon, okLon := firstNumber(doc, paths.lon)
	if !okLat || !okLon {
		return nil
	}
	// roughly the US including Alaska and Hawaii
	if lat < 18 || lat > 72 || lon < -180 || lon > -66 {
		return nil
	}
	return &models.Coordinates{Lat: lat, Lon: lon}
}

func firstString(doc gjson.Result, paths []string) string {
	for _, p := range paths {
		r := doc.Get(p)
		if r.Type == gjson.String || r.Type == gjson.Number {
			if s := normaliseText(r.String()); s != "" {
				return s
			}
		}
	}
	return ""
}

// firstNumber reads a number, accepting strings such as "$1,250,000".
func firstNumber(doc gjson.Result, paths []string) (float64, bool) {
	for _, p := range paths {
		r := doc.Get(p)
		switch r.Type {
		case gjson.Number:
			if !math.IsNaN(r.Num) && !math.IsInf(r.Num, 0) {
				return r.Num, true
			}
		case gjson.String:
			if v, ok := parseNumber(r.Str); ok {
				return v, true
			}
		}
	}
	return 0, false
}

func parseNumber(s string) (float64, bool) {
	s = strings.Map(func(r rune) rune {
		if r == '$' || r == ',' || unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func normalisePropertyType(s string) string {
	key := strings.ToLower(strings.ReplaceAll(s, "_", " "))
	key = normaliseText(key)
	if t, ok := propertyTypes[key]; ok {
		return t
	}
	return key
}

func normaliseStatus(s string) string {
	return strings.ReplaceAll(strings.ToLower(normaliseText(s)), " ", "_")
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

// normaliseText strips leading/trailing whitespace and collapses internal whitespace.
func normaliseText(s string) string {
	s = strings.TrimSpace(s)
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return unicode.IsSpace(r)
	})
	return strings.Join(fields, " ")
}
