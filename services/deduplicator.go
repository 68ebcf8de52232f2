package services

import (
	"math"
	"sort"
	"strings"

	"property-collector/models"
	"property-collector/utils"
)

const earthRadiusM = 6371000.0

// DedupConfig tunes cluster formation and field merging.
type DedupConfig struct {
	// Threshold is the similarity at which two records share a cluster.
	Threshold float64
	// CoordRadiusM is the distance at which coordinate proximity reaches zero.
	CoordRadiusM float64
	// ConfidenceBand is how far below the top source a member may be and
	// still contribute to averaged numeric fields.
	ConfidenceBand float64
}

// DefaultDedupConfig returns the standard tuning.
func DefaultDedupConfig() DedupConfig {
	return DedupConfig{Threshold: 0.85, CoordRadiusM: 150, ConfidenceBand: 0.1}
}

// Deduplicator clusters normalized records describing the same property and
// merges each cluster into one canonical record.
type Deduplicator struct {
	cfg    DedupConfig
	logger *utils.Logger
}

func NewDeduplicator(cfg DedupConfig, logger *utils.Logger) *Deduplicator {
	def := DefaultDedupConfig()
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.CoordRadiusM <= 0 {
		cfg.CoordRadiusM = def.CoordRadiusM
	}
	if cfg.ConfidenceBand < 0 {
		cfg.ConfidenceBand = def.ConfidenceBand
	}
	return &Deduplicator{cfg: cfg, logger: logger}
}

// Similarity scores how likely a and b are the same property, in [0,1].
//
// Street number agreement weighs 0.4 and street-name token overlap 0.6. When
// both records carry coordinates the address score weighs 0.7 and proximity
// 0.3. Records in different cities or states, or with conflicting street
// numbers or units, score 0.
func (d *Deduplicator) Similarity(a, b *models.NormalizedProperty) float64 {
	if a.Address.Standardized == b.Address.Standardized {
		return 1
	}
	if !strings.EqualFold(a.Address.City, b.Address.City) || a.Address.State != b.Address.State {
		return 0
	}
	if a.Address.Number != b.Address.Number && a.Address.Number != "" && b.Address.Number != "" {
		return 0
	}
	if a.Address.Unit != b.Address.Unit && a.Address.Unit != "" && b.Address.Unit != "" {
		return 0
	}

	var score float64
	if a.Address.Number != "" && a.Address.Number == b.Address.Number {
		score += 0.4
	}
	score += 0.6 * jaccard(strings.Fields(a.Address.Street), strings.Fields(b.Address.Street))

	if a.Coordinates != nil && b.Coordinates != nil {
		dist := haversineM(*a.Coordinates, *b.Coordinates)
		proximity := math.Max(0, 1-dist/d.cfg.CoordRadiusM)
		score = 0.7*score + 0.3*proximity
	}
	return score
}

func jaccard(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	set := make(map[string]uint8, len(a)+len(b))
	for _, t := range a {
		set[t] |= 1
	}
	for _, t := range b {
		set[t] |= 2
	}
	var inter int
	for _, v := range set {
		if v == 3 {
			inter++
		}
	}
	return float64(inter) / float64(len(set))
}

func haversineM(a, b models.Coordinates) float64 {
	rad := math.Pi / 180
	dLat := (b.Lat - a.Lat) * rad
	dLon := (b.Lon - a.Lon) * rad
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(a.Lat*rad)*math.Cos(b.Lat*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusM * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Cluster groups props and merges every group. Records are ordered before
// clustering so the result does not depend on arrival order.
func (d *Deduplicator) Cluster(props []*models.NormalizedProperty) []*models.PropertyCluster {
	sorted := make([]*models.NormalizedProperty, len(props))
	copy(sorted, props)
	sort.SliceStable(sorted, func(i, j int) bool { return lessRecord(sorted[i], sorted[j]) })

	uf := newUnionFind(len(sorted))

	// only records in the same city and state can match
	buckets := make(map[string][]int)
	var keys []string
	for i, p := range sorted {
		k := strings.ToLower(p.Address.City) + "|" + p.Address.State
		if _, ok := buckets[k]; !ok {
			keys = append(keys, k)
		}
		buckets[k] = append(buckets[k], i)
	}
	for _, k := range keys {
		idx := buckets[k]
		for x := 0; x < len(idx); x++ {
			for y := x + 1; y < len(idx); y++ {
				i, j := idx[x], idx[y]
				if uf.find(i) == uf.find(j) {
					continue
				}
				if d.Similarity(sorted[i], sorted[j]) >= d.cfg.Threshold {
					uf.union(i, j)
				}
			}
		}
	}

	groups := make(map[int][]*models.NormalizedProperty)
	var roots []int
	for i, p := range sorted {
		r := uf.find(i)
		if _, ok := groups[r]; !ok {
			roots = append(roots, r)
		}
		groups[r] = append(groups[r], p)
	}

	clusters := make([]*models.PropertyCluster, 0, len(roots))
	for _, r := range roots {
		members := groups[r]
		clusters = append(clusters, &models.PropertyCluster{
			Members: members,
			Merged:  d.Merge(members),
		})
	}

	d.logger.Info("[dedup] Clustered records",
		"records", len(props), "clusters", len(clusters), "merged", len(props)-len(clusters))
	return clusters
}

// lessRecord is a total order over records used before clustering.
func lessRecord(a, b *models.NormalizedProperty) bool {
	if a.Address.Standardized != b.Address.Standardized {
		return a.Address.Standardized < b.Address.Standardized
	}
	if a.SourceID != b.SourceID {
		return a.SourceID < b.SourceID
	}
	if !a.FetchedAt.Equal(b.FetchedAt) {
		return a.FetchedAt.Before(b.FetchedAt)
	}
	return derefFloat(a.Price) < derefFloat(b.Price)
}

// precedes reports whether a outranks b when merging: higher confidence,
// then more recent, then source id.
func precedes(a, b *models.NormalizedProperty) bool {
	if a.SourceConfidence != b.SourceConfidence {
		return a.SourceConfidence > b.SourceConfidence
	}
	if !a.FetchedAt.Equal(b.FetchedAt) {
		return a.FetchedAt.After(b.FetchedAt)
	}
	if a.SourceID != b.SourceID {
		return a.SourceID < b.SourceID
	}
	return lessRecord(a, b)
}

// Merge builds the canonical record for one cluster.
func (d *Deduplicator) Merge(members []*models.NormalizedProperty) *models.MergedProperty {
	ranked := make([]*models.NormalizedProperty, len(members))
	copy(ranked, members)
	sort.SliceStable(ranked, func(i, j int) bool { return precedes(ranked[i], ranked[j]) })

	top := ranked[0]
	var band []*models.NormalizedProperty
	for _, m := range ranked {
		if top.SourceConfidence-m.SourceConfidence <= d.cfg.ConfidenceBand+1e-9 {
			band = append(band, m)
		}
	}

	m := &models.MergedProperty{
		Address:    top.Address,
		AddressKey: top.Address.Standardized,
		Confidence: top.SourceConfidence,
	}
	for _, p := range ranked {
		if p.Address.Standardized < m.AddressKey {
			m.AddressKey = p.Address.Standardized
		}
		if m.Address.Zip == "" {
			m.Address.Zip = p.Address.Zip
		}
		if p.FetchedAt.After(m.FetchedAt) {
			m.FetchedAt = p.FetchedAt
		}
	}

	m.Coordinates = mergeCoordinates(ranked, band)
	m.Bedrooms = mergeInt(ranked, band, func(p *models.NormalizedProperty) *int { return p.Bedrooms })
	m.YearBuilt = mergeInt(ranked, band, func(p *models.NormalizedProperty) *int { return p.YearBuilt })
	m.DaysOnMarket = mergeInt(ranked, band, func(p *models.NormalizedProperty) *int { return p.DaysOnMarket })
	m.Bathrooms = mergeFloat(ranked, band, func(p *models.NormalizedProperty) *float64 { return p.Bathrooms })
	m.Area = mergeFloat(ranked, band, func(p *models.NormalizedProperty) *float64 { return p.Area })
	// a sale price and a monthly rent are never averaged together
	m.ListingType = firstNonEmpty(ranked, func(p *models.NormalizedProperty) string { return p.ListingType })
	m.Price = mergeFloat(
		withListingType(ranked, m.ListingType),
		withListingType(band, m.ListingType),
		func(p *models.NormalizedProperty) *float64 { return p.Price })
	m.LotSize = mergeFloat(ranked, band, func(p *models.NormalizedProperty) *float64 { return p.LotSize })

	m.PropertyType = firstNonEmpty(ranked, func(p *models.NormalizedProperty) string { return p.PropertyType })
	m.ListingStatus = firstNonEmpty(ranked, func(p *models.NormalizedProperty) string { return p.ListingStatus })

	seen := utils.NewStringSet()
	for _, p := range ranked {
		if !seen.Contains(p.SourceID) {
			seen.Add(p.SourceID)
			m.Sources = append(m.Sources, p.SourceID)
		}
	}
	sort.Strings(m.Sources)
	return m
}

// mergeFloat averages the band members' values, or falls back to the first
// value in precedence order when no band member has one.
func mergeFloat(ranked, band []*models.NormalizedProperty, get func(*models.NormalizedProperty) *float64) *float64 {
	var sum float64
	var n int
	for _, p := range band {
		if v := get(p); v != nil {
			sum += *v
			n++
		}
	}
	if n > 0 {
		avg := sum / float64(n)
		return &avg
	}
	for _, p := range ranked {
		if v := get(p); v != nil {
			out := *v
			return &out
		}
	}
	return nil
}

func mergeInt(ranked, band []*models.NormalizedProperty, get func(*models.NormalizedProperty) *int) *int {
	f := mergeFloat(ranked, band, func(p *models.NormalizedProperty) *float64 {
		if v := get(p); v != nil {
			x := float64(*v)
			return &x
		}
		return nil
	})
	if f == nil {
		return nil
	}
	v := int(math.Round(*f))
	return &v
}

func mergeCoordinates(ranked, band []*models.NormalizedProperty) *models.Coordinates {
	lat := mergeFloat(ranked, band, func(p *models.NormalizedProperty) *float64 {
		if p.Coordinates == nil {
			return nil
		}
		return &p.Coordinates.Lat
	})
	lon := mergeFloat(ranked, band, func(p *models.NormalizedProperty) *float64 {
		if p.Coordinates == nil {
			return nil
		}
		return &p.Coordinates.Lon
	})
	if lat == nil || lon == nil {
		return nil
	}
	return &models.Coordinates{Lat: *lat, Lon: *lon}
}

func firstNonEmpty(ranked []*models.NormalizedProperty, get func(*models.NormalizedProperty) string) string {
	for _, p := range ranked {
		if v := get(p); v != "" {
			return v
		}
	}
	return ""
}

func withListingType(props []*models.NormalizedProperty, listingType string) []*models.NormalizedProperty {
	var out []*models.NormalizedProperty
	for _, p := range props {
		if p.ListingType == listingType {
			out = append(out, p)
		}
	}
	return out
}

func derefFloat(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

type unionFind struct{ parent []int }

func newUnionFind(n int) *unionFind {
	uf := &unionFind{parent: make([]int, n)}
	for i := range uf.parent {
		uf.parent[i] = i
	}
	return uf
}

func (u *unionFind) find(i int) int {
	for u.parent[i] != i {
		u.parent[i] = u.parent[u.parent[i]]
		i = u.parent[i]
	}
	return i
}

// union keeps the smaller index as root so roots follow input order.
func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	if rb < ra {
		ra, rb = rb, ra
	}
	u.parent[rb] = ra
}
