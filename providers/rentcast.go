package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"property-collector/models"
)

// DefaultRentCastURL is the public RentCast API root.
const DefaultRentCastURL = "https://api.rentcast.io/v1"

// RentCast fetches sale listings from a paginated RentCast-style API.
type RentCast struct {
	settings Settings
	client   *http.Client
	gate     *Gate
}

func NewRentCast(s Settings, client *http.Client, gate *Gate) *RentCast {
	if s.BaseURL == "" {
		s.BaseURL = DefaultRentCastURL
	}
	return &RentCast{settings: s, client: client, gate: gate}
}

func (p *RentCast) ID() string { return p.settings.ID }
func (p *RentCast) Kind() Kind { return KindRentCast }

func (p *RentCast) Fetch(ctx context.Context, loc models.Location) ([]models.RawRecord, error) {
	return p.gate.Fetch(ctx, p.settings.ID, loc, p.settings.maxPages(), p.fetchPage)
}

func (p *RentCast) fetchPage(ctx context.Context, loc models.Location, page int) ([]json.RawMessage, bool, error) {
	size := p.settings.pageSize(loc)
	q := url.Values{}
	q.Set("city", loc.City)
	q.Set("state", loc.State)
	q.Set("limit", strconv.Itoa(size))
	q.Set("offset", strconv.Itoa(page*size))

	h := http.Header{}
	h.Set("X-Api-Key", p.settings.APIKey)

	body, err := getJSON(ctx, p.client, p.settings.ID, joinURL(p.settings.BaseURL, "/listings/sale"), q, h)
	if err != nil {
		return nil, false, err
	}

	// The API answers with a bare array; some plans wrap it.
	items, ok := listAt(body, "", "listings", "data")
	if !ok {
		return nil, false, &ProviderError{Source: p.settings.ID, StatusCode: http.StatusOK, Err: ErrMalformedResponse}
	}
	return items, len(items) >= size, nil
}
