// Package institutions exposes the institution lookup proxy and the static
// program catalog over HTTP. The heavy lifting (validation, caching, upstream
// calls) lives in the domain service; these handlers translate its results and
// errors into API responses.
package institutions

import (
	"net/http"

	"github.com/gin-gonic/gin"

	instsvc "github.com/readmystudent/readmystudent/internal/institutions"
)

// Handlers handles institution lookup endpoints
type Handlers struct {
	service *instsvc.Service
}

// NewHandlers creates a new institutions Handlers instance
func NewHandlers(service *instsvc.Service) *Handlers {
	return &Handlers{service: service}
}

// @Summary      Search institutions
// @Description  Proxies an institution search to the upstream directory, cache-first. Upstream failures surface as 502 with a truncated diagnostic and are never cached.
// @Tags         Institutions
// @Produce      json
// @Param        countryCode  query  string  true   "Two-letter country code"
// @Param        q            query  string  false  "Name query"
// @Success      200  {object}  map[string]interface{}  "results"
// @Failure      400  {object}  map[string]interface{}
// @Failure      502  {object}  map[string]interface{}
// @Router       /api/v1/institutions [get]
// SearchHandler searches institutions by country and name
// GET /api/v1/institutions
func (h *Handlers) SearchHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		country := c.Query("countryCode")
		if country == "" {
			// Legacy alias.
			country = c.Query("country")
		}
		query := c.Query("q")

		results, err := h.service.Search(c.Request.Context(), country, query)
		if err == instsvc.ErrInvalidCountry {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if instsvc.IsUpstreamError(err) {
			c.JSON(http.StatusBadGateway, gin.H{
				"error":  "Institution directory is unavailable",
				"detail": err.Error(),
			})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Institution search failed"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"results": results})
	}
}

// @Summary      List programs of study
// @Description  Returns the static program catalog student profiles reference.
// @Tags         Institutions
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "programs"
// @Router       /api/v1/institutions/programs [get]
// ProgramsHandler lists the program catalog
// GET /api/v1/institutions/programs
func (h *Handlers) ProgramsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"programs": instsvc.Programs()})
	}
}
