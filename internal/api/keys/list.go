// list.go implements the primary key listing endpoint.
package keys

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/riboseinc/keyserver/internal/db/models"
	"github.com/riboseinc/keyserver/internal/db/repositories"
)

// dateFormats are the accepted layouts for the date_from/date_to query
// parameters, tried in order.
var dateFormats = []string{time.RFC3339, "2006-01-02"}

func parseDateParam(value string) (*time.Time, error) {
	var err error
	for _, layout := range dateFormats {
		var t time.Time
		if t, err = time.Parse(layout, value); err == nil {
			return &t, nil
		}
	}
	return nil, err
}

// ListKeys handles GET /api/v1/keys.
// Returns primary key records only; subkeys are reachable through the
// fingerprint endpoint. Optional date_from/date_to parameters bound the
// activation date range (RFC3339 or YYYY-MM-DD); scope=fresh|expired
// filters on the materialised expiration date.
func (h *Handler) ListKeys(c *gin.Context) {
	var filter repositories.ListFilter

	switch scope := c.Query("scope"); scope {
	case "":
	case "fresh":
		expired := false
		filter.Expired = &expired
	case "expired":
		expired := true
		filter.Expired = &expired
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid scope parameter"})
		return
	}

	if from := c.Query("date_from"); from != "" {
		t, err := parseDateParam(from)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid date_from parameter"})
			return
		}
		filter.ActivatedAfter = t
	}
	if to := c.Query("date_to"); to != "" {
		t, err := parseDateParam(to)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid date_to parameter"})
			return
		}
		filter.ActivatedBefore = t
	}

	keys, err := h.svc.ListPrimary(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list keys"})
		return
	}
	if keys == nil {
		keys = []*models.Key{}
	}

	c.JSON(http.StatusOK, gin.H{
		"keys": keys,
		"meta": gin.H{"count": len(keys)},
	})
}
