// service.go wires validation, caching, and the upstream client into the
// lookup flow the institutions handler exposes.
package institutions

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/readmystudent/readmystudent/internal/telemetry"
)

// ErrInvalidCountry is returned when the country code is not exactly two
// ASCII letters
var ErrInvalidCountry = errors.New("country code must be exactly two letters")

// Service answers institution searches cache-first
type Service struct {
	upstream    Searcher
	cache       CacheStore
	minQueryLen int
	cacheTTL    time.Duration
}

// Searcher is the upstream surface the service depends on
type Searcher interface {
	Search(ctx context.Context, countryCode, query string) ([]Institution, error)
}

// NewService creates a new institutions service
func NewService(upstream Searcher, cache CacheStore, minQueryLen int, cacheTTL time.Duration) *Service {
	if minQueryLen <= 0 {
		minQueryLen = 3
	}
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Minute
	}
	return &Service{
		upstream:    upstream,
		cache:       cache,
		minQueryLen: minQueryLen,
		cacheTTL:    cacheTTL,
	}
}

// Search validates the inputs and answers from cache when possible. Queries
// shorter than the minimum return an empty result set without touching the
// upstream; rate limiting has already happened by the time we get here, so
// short queries still cost the caller a token.
func (s *Service) Search(ctx context.Context, countryCode, query string) ([]Institution, error) {
	if !validCountryCode(countryCode) {
		return nil, ErrInvalidCountry
	}

	query = strings.TrimSpace(query)
	if len(query) < s.minQueryLen {
		telemetry.InstitutionLookupsTotal.WithLabelValues("short_query").Inc()
		return []Institution{}, nil
	}

	key := cacheKey(countryCode, query)

	if s.cache != nil {
		results, hit, err := s.cache.Get(ctx, key)
		if err != nil {
			// A broken cache degrades to upstream-only service
			slog.Warn("institution cache read failed", "key", key, "error", err)
		} else if hit {
			telemetry.InstitutionLookupsTotal.WithLabelValues("cache_hit").Inc()
			return results, nil
		}
	}

	start := time.Now()
	results, err := s.upstream.Search(ctx, countryCode, query)
	telemetry.InstitutionUpstreamDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		// Upstream failures are never cached: the next request should retry.
		telemetry.InstitutionLookupsTotal.WithLabelValues("upstream_error").Inc()
		return nil, err
	}
	telemetry.InstitutionLookupsTotal.WithLabelValues("upstream").Inc()

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, results, s.cacheTTL); err != nil {
			slog.Warn("institution cache write failed", "key", key, "error", err)
		}
	}

	return results, nil
}

func cacheKey(countryCode, query string) string {
	return strings.ToUpper(countryCode) + ":" + strings.ToLower(query)
}

func validCountryCode(code string) bool {
	if len(code) != 2 {
		return false
	}
	for _, r := range code {
		if !unicode.IsLetter(r) || r > unicode.MaxASCII {
			return false
		}
	}
	return true
}
