package services

import (
	"math"
	"sort"

	"property-collector/models"
	"property-collector/utils"
)

// Market segments.
const (
	SegmentUnknown     = "unknown"
	SegmentBudget      = "budget"
	SegmentModerate    = "moderate"
	SegmentPremium     = "premium"
	SegmentLuxury      = "luxury"
	SegmentUltraLuxury = "ultra_luxury"
)

// upper bounds for budget, moderate, premium and luxury
var (
	saleSegmentBounds   = [4]float64{200_000, 500_000, 1_000_000, 2_000_000}
	rentalSegmentBounds = [4]float64{1_500, 3_000, 5_000, 10_000}
)

const maxDaysOnMarket = 180

// firstTimeBuyerMaxPrice is the highest sale price still considered a
// starter home.
const firstTimeBuyerMaxPrice = 600_000

// MarketContext is externally computed market data the enricher scores
// against. The enricher never fetches it.
type MarketContext struct {
	// PricePerAreaSample holds comparable sale price-per-area values.
	PricePerAreaSample []float64
	// RentalPricePerAreaSample holds comparable monthly rent per area values.
	RentalPricePerAreaSample []float64
	// DaysOnMarket is keyed by address key and overrides the value the
	// sources reported.
	DaysOnMarket map[string]int
}

type marketSamples struct {
	sale, rental []float64
}

func (m MarketContext) samples() marketSamples {
	return marketSamples{
		sale:   sortedFinite(m.PricePerAreaSample),
		rental: sortedFinite(m.RentalPricePerAreaSample),
	}
}

// Enricher derives analytical fields on merged records.
type Enricher struct {
	referenceYear int
	logger        *utils.Logger
}

// NewEnricher returns an Enricher that computes property age relative to
// referenceYear.
func NewEnricher(referenceYear int, logger *utils.Logger) *Enricher {
	return &Enricher{referenceYear: referenceYear, logger: logger}
}

// EnrichAll enriches every property in place.
func (e *Enricher) EnrichAll(props []*models.MergedProperty, market MarketContext) {
	samples := market.samples()
	var scored int
	for _, p := range props {
		e.enrich(p, samples, market.DaysOnMarket)
		if p.InvestmentScore != nil {
			scored++
		}
	}
	e.logger.Info("[enricher] Enriched properties", "count", len(props), "scored", scored)
}

// Enrich sets the derived fields of one property.
func (e *Enricher) Enrich(p *models.MergedProperty, market MarketContext) {
	e.enrich(p, market.samples(), market.DaysOnMarket)
}

func (e *Enricher) enrich(p *models.MergedProperty, samples marketSamples, dom map[string]int) {
	p.PricePerArea = pricePerArea(p.Price, p.Area)
	p.MarketSegment = marketSegment(p.Price, p.ListingType)
	p.SizeCategory = sizeCategory(p.Area)

	p.PropertyAge = nil
	if p.YearBuilt != nil && e.referenceYear > 0 {
		age := e.referenceYear - *p.YearBuilt
		if age < 0 {
			age = 0
		}
		p.PropertyAge = &age
	}
	p.AgeCategory = ageCategory(p.PropertyAge)
	p.FamilyScore = familyScore(p)
	p.FirstTimeBuyer = firstTimeBuyer(p)

	if days, ok := dom[p.AddressKey]; ok {
		p.DaysOnMarket = &days
	}

	// rents are only ranked against rents
	sample := samples.sale
	if p.ListingType == models.ListingRental {
		sample = samples.rental
	}
	p.InvestmentScore = nil
	if p.PricePerArea != nil {
		pct := percentile(sample, *p.PricePerArea)
		var days float64
		if p.DaysOnMarket != nil {
			days = math.Max(0, math.Min(float64(*p.DaysOnMarket), maxDaysOnMarket))
		}
		score := 0.6*(1-pct) + 0.4*days/maxDaysOnMarket
		p.InvestmentScore = &score
	}
}

func ageCategory(age *int) string {
	switch {
	case age == nil:
		return "unknown"
	case *age < 5:
		return "new"
	case *age < 15:
		return "modern"
	case *age < 30:
		return "established"
	case *age < 50:
		return "mature"
	default:
		return "vintage"
	}
}

// familyScore rewards bedrooms, bathrooms and living area, in [0,1].
func familyScore(p *models.MergedProperty) *float64 {
	if p.Bedrooms == nil && p.Bathrooms == nil && p.Area == nil {
		return nil
	}
	var score float64
	if p.Bedrooms != nil {
		score += math.Min(0.4, float64(*p.Bedrooms)*0.1)
	}
	if p.Bathrooms != nil {
		score += math.Min(0.3, *p.Bathrooms*0.1)
	}
	if p.Area != nil && *p.Area > 0 {
		score += math.Min(0.3, *p.Area/5000)
	}
	score = math.Min(1, score)
	return &score
}

func firstTimeBuyer(p *models.MergedProperty) bool {
	if p.ListingType == models.ListingRental {
		return false
	}
	if p.Price != nil && *p.Price > firstTimeBuyerMaxPrice {
		return false
	}
	if p.Bedrooms != nil && *p.Bedrooms > 4 {
		return false
	}
	return p.PropertyAge == nil || *p.PropertyAge <= 80
}

func pricePerArea(price, area *float64) *float64 {
	if price == nil || area == nil || *area <= 0 {
		return nil
	}
	v := *price / *area
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func marketSegment(price *float64, listingType string) string {
	if price == nil || math.IsNaN(*price) {
		return SegmentUnknown
	}
	bounds := saleSegmentBounds
	if listingType == models.ListingRental {
		bounds = rentalSegmentBounds
	}
	segments := [4]string{SegmentBudget, SegmentModerate, SegmentPremium, SegmentLuxury}
	for i, b := range bounds {
		if *price < b {
			return segments[i]
		}
	}
	return SegmentUltraLuxury
}

func sizeCategory(area *float64) string {
	switch {
	case area == nil:
		return "unknown"
	case *area < 800:
		return "compact"
	case *area < 1500:
		return "medium"
	case *area < 2500:
		return "large"
	case *area < 4000:
		return "very_large"
	default:
		return "mansion"
	}
}

// percentile returns the mid-rank position of v within sorted, in [0,1].
// An empty sample yields 0.5.
func percentile(sorted []float64, v float64) float64 {
	if len(sorted) == 0 {
		return 0.5
	}
	below := sort.SearchFloat64s(sorted, v)
	upto := sort.Search(len(sorted), func(i int) bool { return sorted[i] > v })
	return (float64(below) + float64(upto-below)/2) / float64(len(sorted))
}

func sortedFinite(values []float64) []float64 {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			out = append(out, v)
		}
	}
	sort.Float64s(out)
	return out
}
