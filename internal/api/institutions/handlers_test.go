package institutions

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	instsvc "github.com/readmystudent/readmystudent/internal/institutions"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

type stubSearcher struct {
	results []instsvc.Institution
	err     error
}

func (s *stubSearcher) Search(_ context.Context, _, _ string) ([]instsvc.Institution, error) {
	return s.results, s.err
}

func newInstitutionsRouter(t *testing.T, upstream *stubSearcher) *gin.Engine {
	t.Helper()
	service := instsvc.NewService(upstream, nil, 3, time.Minute)
	h := NewHandlers(service)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/institutions", h.SearchHandler())
	r.GET("/institutions/programs", h.ProgramsHandler())
	return r
}

func get(r *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

// ---------------------------------------------------------------------------
// SearchHandler
// ---------------------------------------------------------------------------

func TestSearch_Success(t *testing.T) {
	r := newInstitutionsRouter(t, &stubSearcher{results: []instsvc.Institution{
		{ID: "I1", Name: "Example State University", CountryCode: "US"},
	}})

	w := get(r, "/institutions?countryCode=US&q=example")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "Example State University") {
		t.Errorf("expected result in body: %s", w.Body.String())
	}
}

func TestSearch_LegacyCountryAlias(t *testing.T) {
	r := newInstitutionsRouter(t, &stubSearcher{results: []instsvc.Institution{
		{ID: "I1", Name: "Example State University", CountryCode: "US"},
	}})

	w := get(r, "/institutions?country=US&q=example")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "Example State University") {
		t.Errorf("expected result in body: %s", w.Body.String())
	}
}

func TestSearch_MissingCountry(t *testing.T) {
	r := newInstitutionsRouter(t, &stubSearcher{})

	w := get(r, "/institutions?q=example")

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestSearch_InvalidCountry(t *testing.T) {
	r := newInstitutionsRouter(t, &stubSearcher{})

	w := get(r, "/institutions?countryCode=USA&q=example")

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestSearch_ShortQueryEmptyResults(t *testing.T) {
	// Short queries never reach the upstream; the searcher failing proves it
	// was not called.
	r := newInstitutionsRouter(t, &stubSearcher{err: &instsvc.UpstreamError{StatusCode: 500}})

	w := get(r, "/institutions?countryCode=US&q=ab")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"results":[]`) {
		t.Errorf("expected empty results: %s", w.Body.String())
	}
}

func TestSearch_UpstreamError(t *testing.T) {
	r := newInstitutionsRouter(t, &stubSearcher{err: &instsvc.UpstreamError{
		StatusCode: 503,
		Excerpt:    "maintenance window",
	}})

	w := get(r, "/institutions?countryCode=US&q=example")

	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "maintenance window") {
		t.Errorf("expected upstream excerpt in diagnostic: %s", w.Body.String())
	}
}

// Transport failures (timeouts included) carry no upstream status but still
// map to 502, not 500.
func TestSearch_UpstreamTimeout(t *testing.T) {
	r := newInstitutionsRouter(t, &stubSearcher{err: &instsvc.UpstreamError{
		Excerpt: "context deadline exceeded",
	}})

	w := get(r, "/institutions?countryCode=US&q=example")

	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502: %s", w.Code, w.Body.String())
	}
}

// ---------------------------------------------------------------------------
// ProgramsHandler
// ---------------------------------------------------------------------------

func TestPrograms_CatalogServed(t *testing.T) {
	r := newInstitutionsRouter(t, &stubSearcher{})

	w := get(r, "/institutions/programs")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"programs"`) {
		t.Errorf("expected program catalog: %s", w.Body.String())
	}
}
