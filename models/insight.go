package models

// InsightReport holds market statistics computed over merged properties.
// Sale and rental prices are reported separately.
type InsightReport struct {
	TotalProperties int
	SaleProperties  int
	RentalListings  int

	AveragePrice  float64
	MinPrice      float64
	MaxPrice      float64
	MostExpensive *MergedProperty

	AveragePricePerArea float64

	PropertiesByCity    map[string]int
	PropertiesBySegment map[string]int
	TopInvestments      []*MergedProperty
}
