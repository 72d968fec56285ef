// generate.go implements the server-side key pair generation endpoint.
package keys

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	keysvc "github.com/riboseinc/keyserver/internal/keys"
)

// generateRequest is the JSON body for POST /api/v1/keys/generate. Validity
// is a Go duration string such as "8760h"; omitted means the configured
// default, "0" means the keys never expire.
type generateRequest struct {
	Name      string  `json:"name" binding:"required"`
	Comment   string  `json:"comment"`
	Email     string  `json:"email"`
	Validity  string  `json:"validity"`
	OwnerID   *string `json:"owner_id"`
	OwnerType *string `json:"owner_type"`
}

// GenerateKey handles POST /api/v1/keys/generate.
// Generates an RSA-4096 signing primary key with an RSA-4096 encryption
// subkey and persists both atomically. The response carries the primary
// record; the subkey is reachable via the fingerprint endpoint.
func (h *Handler) GenerateKey(c *gin.Context) {
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "request body must be JSON with a non-empty name field"})
		return
	}

	var validity *time.Duration
	if d := h.cfg.Keys.DefaultValidity; d > 0 {
		validity = &d
	}
	if req.Validity != "" {
		d, err := time.ParseDuration(req.Validity)
		if err != nil || d < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid validity duration"})
			return
		}
		if d == 0 {
			validity = nil
		} else {
			validity = &d
		}
	}

	primary, err := h.svc.GenerateKeyPair(c.Request.Context(), keysvc.GenerateRequest{
		Name:      req.Name,
		Comment:   req.Comment,
		Email:     req.Email,
		Validity:  validity,
		OwnerID:   req.OwnerID,
		OwnerType: req.OwnerType,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"key": primary})
}
