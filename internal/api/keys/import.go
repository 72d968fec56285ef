// import.go implements the key material import endpoint.
package keys

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	keysvc "github.com/riboseinc/keyserver/internal/keys"
)

// importRequest is the JSON body for POST /api/v1/keys. Key holds the
// ASCII-armored export; combined public+secret exports are accepted and
// produce records carrying both views.
type importRequest struct {
	Key            string     `json:"key" binding:"required"`
	OwnerID        *string    `json:"owner_id"`
	OwnerType      *string    `json:"owner_type"`
	ActivationDate *time.Time `json:"activation_date"`
}

// ImportKey handles POST /api/v1/keys.
// One record is created per key component found in the material, so a
// typical primary-plus-subkey export yields two records. The request body is
// capped at keys.max_import_bytes.
func (h *Handler) ImportKey(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.cfg.Keys.MaxImportBytes)

	var req importRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "request body must be JSON with a non-empty key field"})
		return
	}

	records, err := h.svc.ImportKeyMaterial(c.Request.Context(), []byte(req.Key), keysvc.ImportOptions{
		OwnerID:        req.OwnerID,
		OwnerType:      req.OwnerType,
		ActivationDate: req.ActivationDate,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"keys": records,
		"meta": gin.H{"count": len(records)},
	})
}
