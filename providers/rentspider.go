package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"property-collector/models"
)

// DefaultRentSpiderURL is the public RentSpider API root.
const DefaultRentSpiderURL = "https://api.rentspider.com/v1"

// RentSpider fetches rental listings in a single request.
type RentSpider struct {
	settings Settings
	client   *http.Client
	gate     *Gate
}

func NewRentSpider(s Settings, client *http.Client, gate *Gate) *RentSpider {
	if s.BaseURL == "" {
		s.BaseURL = DefaultRentSpiderURL
	}
	return &RentSpider{settings: s, client: client, gate: gate}
}

func (p *RentSpider) ID() string { return p.settings.ID }
func (p *RentSpider) Kind() Kind { return KindRentSpider }

func (p *RentSpider) Fetch(ctx context.Context, loc models.Location) ([]models.RawRecord, error) {
	return p.gate.Fetch(ctx, p.settings.ID, loc, 1, p.fetchPage)
}

func (p *RentSpider) fetchPage(ctx context.Context, loc models.Location, _ int) ([]json.RawMessage, bool, error) {
	q := url.Values{}
	q.Set("city", loc.City)
	q.Set("state", loc.State)
	q.Set("limit", strconv.Itoa(p.settings.pageSize(loc)))

	h := http.Header{}
	h.Set("X-API-Key", p.settings.APIKey)

	body, err := getJSON(ctx, p.client, p.settings.ID, joinURL(p.settings.BaseURL, "/properties/search"), q, h)
	if err != nil {
		return nil, false, err
	}

	items, ok := listAt(body, "properties")
	if !ok {
		return nil, false, &ProviderError{Source: p.settings.ID, StatusCode: http.StatusOK, Err: ErrMalformedResponse}
	}
	return items, false, nil
}
