// Package institutions implements the institution lookup proxy. Searches are
// forwarded to an OpenAlex-compatible upstream and cached per country/query so
// repeated autocomplete traffic never hits the upstream twice within the TTL.
//
// The HTTP client carries a short bounded timeout: institution lookup backs an
// autocomplete box, so a slow upstream answer is worth less than a fast
// failure the UI can retry.
package institutions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Institution is the trimmed record returned to clients
type Institution struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	CountryCode string `json:"countryCode"`
	City        string `json:"city,omitempty"`
	Region      string `json:"region,omitempty"`
	Type        string `json:"type,omitempty"`
	HomepageURL string `json:"homepageUrl,omitempty"`
	ROR         string `json:"ror,omitempty"`
}

// UpstreamError carries the upstream status and a truncated body excerpt for
// diagnostics. The excerpt is surfaced in proxy error responses but never
// cached.
type UpstreamError struct {
	StatusCode int
	Excerpt    string
}

func (e *UpstreamError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("upstream request failed: %s", e.Excerpt)
	}
	return fmt.Sprintf("upstream returned status %d: %s", e.StatusCode, e.Excerpt)
}

// IsUpstreamError reports whether err is an UpstreamError
func IsUpstreamError(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue)
}

// maxExcerptLen bounds how much upstream body ends up in error payloads
const maxExcerptLen = 200

// UpstreamClient talks to an OpenAlex-compatible institutions endpoint
type UpstreamClient struct {
	BaseURL    string
	Mailto     string
	PerPage    int
	HTTPClient *http.Client
}

// NewUpstreamClient creates a new upstream client. The mailto parameter is
// forwarded to the upstream as required by OpenAlex's polite pool.
func NewUpstreamClient(baseURL, mailto string, perPage int, timeout time.Duration) *UpstreamClient {
	if perPage <= 0 {
		perPage = 20
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &UpstreamClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Mailto:  mailto,
		PerPage: perPage,
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// upstreamResponse mirrors the subset of the OpenAlex institutions payload we
// consume
type upstreamResponse struct {
	Results []upstreamInstitution `json:"results"`
}

type upstreamInstitution struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	CountryCode string `json:"country_code"`
	Type        string `json:"type"`
	HomepageURL string `json:"homepage_url"`
	ROR         string `json:"ror"`
	Geo         struct {
		City   string `json:"city"`
		Region string `json:"region"`
	} `json:"geo"`
}

// Search queries the upstream for institutions in a country matching the
// query string. countryCode must already be validated by the caller.
func (u *UpstreamClient) Search(ctx context.Context, countryCode, query string) ([]Institution, error) {
	params := url.Values{}
	params.Set("filter", "country_code:"+strings.ToUpper(countryCode))
	params.Set("search", query)
	params.Set("per-page", fmt.Sprintf("%d", u.PerPage))
	if u.Mailto != "" {
		params.Set("mailto", u.Mailto)
	}

	searchURL := fmt.Sprintf("%s/institutions?%s", u.BaseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, "GET", searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create search request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "readmystudent/1.0")

	resp, err := u.HTTPClient.Do(req)
	if err != nil {
		// A timed-out or unreachable upstream is an upstream failure like any
		// non-2xx answer; callers map both to the same 502.
		excerpt := err.Error()
		if len(excerpt) > maxExcerptLen {
			excerpt = excerpt[:maxExcerptLen]
		}
		return nil, &UpstreamError{Excerpt: excerpt}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxExcerptLen))
		return nil, &UpstreamError{
			StatusCode: resp.StatusCode,
			Excerpt:    strings.TrimSpace(string(body)),
		}
	}

	var decoded upstreamResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	results := make([]Institution, 0, len(decoded.Results))
	for _, r := range decoded.Results {
		results = append(results, Institution{
			ID:          r.ID,
			Name:        r.DisplayName,
			CountryCode: r.CountryCode,
			City:        r.Geo.City,
			Region:      r.Geo.Region,
			Type:        r.Type,
			HomepageURL: r.HomepageURL,
			ROR:         r.ROR,
		})
	}
	return results, nil
}

// ValidateUpstreamURL validates that an upstream URL is properly formatted
func ValidateUpstreamURL(upstreamURL string) error {
	if upstreamURL == "" {
		return fmt.Errorf("upstream URL cannot be empty")
	}

	parsed, err := url.Parse(upstreamURL)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("upstream URL must use http or https scheme")
	}

	if parsed.Host == "" {
		return fmt.Errorf("upstream URL must have a host")
	}

	return nil
}
