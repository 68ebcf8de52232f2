package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"property-collector/models"
)

// DefaultZillowURL is the public Zillow site root.
const DefaultZillowURL = "https://www.zillow.com"

const zillowResultsPath = "props.pageProps.searchPageState.cat1.searchResults.listResults"

// Zillow reads search results from the state embedded in rendered search
// pages.
type Zillow struct {
	settings Settings
	renderer PageRenderer
	gate     *Gate
}

func NewZillow(s Settings, renderer PageRenderer, gate *Gate) *Zillow {
	if s.BaseURL == "" {
		s.BaseURL = DefaultZillowURL
	}
	return &Zillow{settings: s, renderer: renderer, gate: gate}
}

func (p *Zillow) ID() string { return p.settings.ID }
func (p *Zillow) Kind() Kind { return KindZillow }

func (p *Zillow) Fetch(ctx context.Context, loc models.Location) ([]models.RawRecord, error) {
	return p.gate.Fetch(ctx, p.settings.ID, loc, p.settings.maxPages(), p.fetchPage)
}

// searchURL builds e.g. https://www.zillow.com/san-francisco-ca/2_p/
func (p *Zillow) searchURL(loc models.Location, page int) string {
	slug := strings.ToLower(strings.Join(strings.Fields(loc.City), "-"))
	if loc.State != "" {
		slug += "-" + strings.ToLower(loc.State)
	}
	u := joinURL(p.settings.BaseURL, slug) + "/"
	if page > 0 {
		u += fmt.Sprintf("%d_p/", page+1)
	}
	return u
}

func (p *Zillow) fetchPage(ctx context.Context, loc models.Location, page int) ([]json.RawMessage, bool, error) {
	data, err := p.renderer.RenderNextData(ctx, p.searchURL(loc, page))
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		// a page without embedded state means the layout changed
		transient := !errors.Is(err, ErrNoPageData)
		return nil, false, &ProviderError{Source: p.settings.ID, Transient: transient, Err: err}
	}
	if !gjson.Valid(data) {
		return nil, false, &ProviderError{Source: p.settings.ID, Err: ErrMalformedResponse}
	}

	items, ok := listAt([]byte(data), zillowResultsPath)
	if !ok {
		return nil, false, nil
	}

	limit := p.settings.pageSize(loc)
	if len(items) > limit {
		items = items[:limit]
	}
	more := len(items) > 0 && gjson.Get(data, "props.pageProps.searchPageState.cat1.searchList.pagination.nextUrl").Exists()
	return items, more, nil
}
