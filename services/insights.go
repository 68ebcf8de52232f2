package services

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"property-collector/models"
	"property-collector/utils"
)

const topInvestments = 5

type InsightService struct {
	logger *utils.Logger
}

func NewInsightService(logger *utils.Logger) *InsightService {
	return &InsightService{logger: logger}
}

func (s *InsightService) Generate(props []*models.MergedProperty) *models.InsightReport {
	report := &models.InsightReport{
		PropertiesByCity:    make(map[string]int),
		PropertiesBySegment: make(map[string]int),
	}

	if len(props) == 0 {
		return report
	}

	report.TotalProperties = len(props)

	var priced []*models.MergedProperty
	var scored []*models.MergedProperty
	var ppaTotal float64
	var ppaCount int

	for _, p := range props {
		if p.ListingType == models.ListingRental {
			report.RentalListings++
		} else {
			report.SaleProperties++
			if p.Price != nil {
				priced = append(priced, p)
			}
			if p.PricePerArea != nil {
				ppaTotal += *p.PricePerArea
				ppaCount++
			}
			if p.InvestmentScore != nil {
				scored = append(scored, p)
			}
		}
		if p.Address.City != "" {
			report.PropertiesByCity[p.Address.City]++
		}
		if p.MarketSegment != "" {
			report.PropertiesBySegment[p.MarketSegment]++
		}
	}

	// Price stats over sale listings only; rents are a different scale
	if len(priced) > 0 {
		report.MinPrice = *priced[0].Price
		report.MaxPrice = *priced[0].Price
		report.MostExpensive = priced[0]
		var total float64
		for _, p := range priced {
			total += *p.Price
			if *p.Price < report.MinPrice {
				report.MinPrice = *p.Price
			}
			if *p.Price > report.MaxPrice {
				report.MaxPrice = *p.Price
				report.MostExpensive = p
			}
		}
		report.AveragePrice = round2(total / float64(len(priced)))
		report.MinPrice = round2(report.MinPrice)
		report.MaxPrice = round2(report.MaxPrice)
	}
	if ppaCount > 0 {
		report.AveragePricePerArea = round2(ppaTotal / float64(ppaCount))
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return *scored[i].InvestmentScore > *scored[j].InvestmentScore
	})
	if len(scored) > topInvestments {
		scored = scored[:topInvestments]
	}
	report.TopInvestments = scored

	s.logger.Debug("[insights] Report generated",
		"properties", report.TotalProperties, "priced", len(priced))
	return report
}

func (s *InsightService) Print(w io.Writer, r *models.InsightReport) {
	sep := strings.Repeat("═", 54)
	thin := strings.Repeat("─", 54)

	fmt.Fprintf(w, "\n\033[1;35m%s\033[0m\n", sep)
	fmt.Fprintf(w, "\033[1;35m  PROPERTY MARKET INSIGHTS\033[0m\n")
	fmt.Fprintf(w, "\033[1;35m%s\033[0m\n\n", sep)

	// Overview
	fmt.Fprintf(w, "\033[1;33m  Overview\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	fmt.Fprintf(w, "  Unique properties : \033[1m%d\033[0m\n", r.TotalProperties)
	fmt.Fprintf(w, "  For sale          : \033[1m%d\033[0m\n", r.SaleProperties)
	fmt.Fprintf(w, "  Rentals           : \033[1m%d\033[0m\n", r.RentalListings)
	fmt.Fprintln(w)

	// Price Stats
	fmt.Fprintf(w, "\033[1;33m  Sale Price Statistics\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	if r.AveragePrice > 0 {
		fmt.Fprintf(w, "  Average price    : \033[1;32m$%.2f\033[0m\n", r.AveragePrice)
		fmt.Fprintf(w, "  Minimum price    : \033[1;32m$%.2f\033[0m\n", r.MinPrice)
		fmt.Fprintf(w, "  Maximum price    : \033[1;32m$%.2f\033[0m\n", r.MaxPrice)
		if r.AveragePricePerArea > 0 {
			fmt.Fprintf(w, "  Avg price / sqft : \033[1;32m$%.2f\033[0m\n", r.AveragePricePerArea)
		}
	} else {
		fmt.Fprintf(w, "  No price data available\n")
	}
	fmt.Fprintln(w)

	if r.MostExpensive != nil {
		fmt.Fprintf(w, "\033[1;33m  Most Expensive Property\033[0m\n")
		fmt.Fprintf(w, "  %s\n", thin)
		fmt.Fprintf(w, "  %s\n", truncate(r.MostExpensive.AddressKey, 50))
		fmt.Fprintf(w, "  Sources : %s\n", strings.Join(r.MostExpensive.Sources, ", "))
		fmt.Fprintf(w, "  Price   : \033[1;31m$%.2f\033[0m\n", *r.MostExpensive.Price)
		fmt.Fprintln(w)
	}

	// ── TOP INVESTMENT SCORES ────────────────────────────────────────────
	fmt.Fprintf(w, "\033[1;33m  Top %d Investment Scores\033[0m\n", topInvestments)
	fmt.Fprintf(w, "  %s\n", thin)
	if len(r.TopInvestments) == 0 {
		fmt.Fprintf(w, "  No scored properties\n")
	} else {
		for i, p := range r.TopInvestments {
			fmt.Fprintf(w, "  \033[1m%d.\033[0m %-40s \033[1;32m%.2f\033[0m\n",
				i+1, truncate(p.AddressKey, 38), *p.InvestmentScore)
		}
	}
	fmt.Fprintln(w)

	printCounts(w, "Properties by Segment", thin, r.PropertiesBySegment)
	fmt.Fprintln(w)
	printCounts(w, "Properties by City", thin, r.PropertiesByCity)

	fmt.Fprintf(w, "\n\033[1;35m%s\033[0m\n\n", sep)
}

func printCounts(w io.Writer, title, thin string, counts map[string]int) {
	fmt.Fprintf(w, "\033[1;33m  %s\033[0m\n", title)
	fmt.Fprintf(w, "  %s\n", thin)
	if len(counts) == 0 {
		fmt.Fprintf(w, "  No data\n")
		return
	}
	type keyCount struct {
		key   string
		count int
	}
	var rows []keyCount
	for k, c := range counts {
		rows = append(rows, keyCount{k, c})
	}
	// Sort by count descending, then name
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].count != rows[j].count {
			return rows[i].count > rows[j].count
		}
		return rows[i].key < rows[j].key
	})
	for _, r := range rows {
		bar := strings.Repeat("█", r.count)
		fmt.Fprintf(w, "  %-30s %s (%d)\n", truncate(r.key, 28), bar, r.count)
	}
}

func round2(f float64) float64 {
	return float64(int(f*100+0.5)) / 100
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
