package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
)

const maxBodyBytes = 16 << 20

// getJSON issues a GET and returns the validated JSON body.
func getJSON(ctx context.Context, client *http.Client, source, endpoint string, query url.Values, header http.Header) ([]byte, error) {
	u := endpoint
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &ProviderError{Source: source, Err: fmt.Errorf("build request: %w", err)}
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, transportError(ctx, source, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, transportError(ctx, source, fmt.Errorf("read body: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, statusError(source, resp.StatusCode, body)
	}
	if !gjson.ValidBytes(body) {
		return nil, &ProviderError{
			Source:     source,
			StatusCode: resp.StatusCode,
			Err:        ErrMalformedResponse,
		}
	}
	return body, nil
}

// listAt extracts the array found at the first matching path. An empty path
// means the document itself.
func listAt(body []byte, paths ...string) ([]json.RawMessage, bool) {
	for _, p := range paths {
		var res gjson.Result
		if p == "" {
			res = gjson.ParseBytes(body)
		} else {
			res = gjson.GetBytes(body, p)
		}
		if !res.IsArray() {
			continue
		}
		arr := res.Array()
		out := make([]json.RawMessage, 0, len(arr))
		for _, item := range arr {
			if !item.IsObject() {
				continue
			}
			out = append(out, json.RawMessage(item.Raw))
		}
		return out, true
	}
	return nil, false
}

func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}
