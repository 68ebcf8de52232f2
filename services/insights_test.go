package services

import (
	"bytes"
	"strings"
	"testing"

	"property-collector/models"
)

func sampleProperties() []*models.MergedProperty {
	mk := func(key, city string, price float64, listing, segment string, ppa, score *float64) *models.MergedProperty {
		return &models.MergedProperty{
			AddressKey:      key,
			Address:         models.Address{City: city},
			Price:           fptr(price),
			ListingType:     listing,
			MarketSegment:   segment,
			PricePerArea:    ppa,
			InvestmentScore: score,
			Sources:         []string{"rentcast"},
		}
	}
	return []*models.MergedProperty{
		mk("1 a st, springfield, IL", "Springfield", 200000, models.ListingSale, SegmentModerate, fptr(100), fptr(0.9)),
		mk("2 b st, springfield, IL", "Springfield", 50000, models.ListingSale, SegmentBudget, fptr(50), fptr(0.4)),
		mk("3 c st, peoria, IL", "Peoria", 120000, models.ListingSale, SegmentBudget, nil, nil),
		mk("4 d st, peoria, IL", "Peoria", 300000, models.ListingSale, SegmentModerate, fptr(300), fptr(0.1)),
		mk("5 e st, peoria, IL", "Peoria", 1800, models.ListingRental, SegmentModerate, fptr(2), fptr(0.7)),
	}
}

func TestInsightCounts(t *testing.T) {
	svc := NewInsightService(newTestLogger())
	r := svc.Generate(sampleProperties())
	if r.TotalProperties != 5 {
		t.Errorf("TotalProperties: got %d, want 5", r.TotalProperties)
	}
	if r.SaleProperties != 4 || r.RentalListings != 1 {
		t.Errorf("sale/rental: got %d/%d, want 4/1", r.SaleProperties, r.RentalListings)
	}
}

func TestInsightPricesExcludeRentals(t *testing.T) {
	svc := NewInsightService(newTestLogger())
	r := svc.Generate(sampleProperties())
	if r.AveragePrice != 167500 {
		t.Errorf("AveragePrice: got %.2f, want 167500", r.AveragePrice)
	}
	if r.MinPrice != 50000 {
		t.Errorf("MinPrice: got %.2f, want 50000", r.MinPrice)
	}
	if r.MaxPrice != 300000 {
		t.Errorf("MaxPrice: got %.2f, want 300000", r.MaxPrice)
	}
	if r.AveragePricePerArea != 150 {
		t.Errorf("AveragePricePerArea: got %.2f, want 150", r.AveragePricePerArea)
	}
}

func TestInsightMostExpensive(t *testing.T) {
	svc := NewInsightService(newTestLogger())
	r := svc.Generate(sampleProperties())
	if r.MostExpensive == nil {
		t.Fatal("MostExpensive should not be nil")
	}
	if r.MostExpensive.AddressKey != "4 d st, peoria, IL" {
		t.Errorf("MostExpensive: got %q", r.MostExpensive.AddressKey)
	}
}

func TestInsightTopInvestments(t *testing.T) {
	svc := NewInsightService(newTestLogger())
	r := svc.Generate(sampleProperties())
	if len(r.TopInvestments) != 3 {
		t.Fatalf("TopInvestments len: got %d, want 3", len(r.TopInvestments))
	}
	if *r.TopInvestments[0].InvestmentScore != 0.9 {
		t.Errorf("TopInvestments[0]: got %.2f, want 0.9", *r.TopInvestments[0].InvestmentScore)
	}
	for _, p := range r.TopInvestments {
		if p.ListingType == models.ListingRental {
			t.Errorf("rental %q ranked among sale investments", p.AddressKey)
		}
	}
}

func TestInsightRentalNeverOutranksSales(t *testing.T) {
	e := NewEnricher(2024, newTestLogger())
	sale := &models.MergedProperty{AddressKey: "1 a st, x, IL", Price: fptr(500000), Area: fptr(1000), ListingType: models.ListingSale}
	rent := &models.MergedProperty{AddressKey: "2 b st, x, IL", Price: fptr(2500), Area: fptr(1000), ListingType: models.ListingRental}
	props := []*models.MergedProperty{sale, rent}
	e.EnrichAll(props, MarketContext{PricePerAreaSample: []float64{400, 500, 600}})

	r := NewInsightService(newTestLogger()).Generate(props)
	if len(r.TopInvestments) != 1 || r.TopInvestments[0] != sale {
		t.Errorf("TopInvestments should hold only the sale listing, got %d entries", len(r.TopInvestments))
	}
}

func TestInsightGrouping(t *testing.T) {
	svc := NewInsightService(newTestLogger())
	r := svc.Generate(sampleProperties())
	if r.PropertiesByCity["Peoria"] != 3 {
		t.Errorf("Peoria count: got %d, want 3", r.PropertiesByCity["Peoria"])
	}
	if r.PropertiesBySegment[SegmentBudget] != 2 {
		t.Errorf("budget count: got %d, want 2", r.PropertiesBySegment[SegmentBudget])
	}
}

func TestInsightPrint(t *testing.T) {
	svc := NewInsightService(newTestLogger())
	var buf bytes.Buffer
	svc.Print(&buf, svc.Generate(sampleProperties()))
	if !strings.Contains(buf.String(), "4 d st, peoria, IL") {
		t.Errorf("report does not mention the most expensive property:\n%s", buf.String())
	}
}

func TestInsightEmptyInput(t *testing.T) {
	svc := NewInsightService(newTestLogger())
	r := svc.Generate(nil)
	if r.TotalProperties != 0 {
		t.Errorf("expected 0 total properties for empty input")
	}
}
