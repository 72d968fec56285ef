// Package keys implements the public HTTP endpoints for listing, fetching,
// importing, and generating OpenPGP keys.
package keys

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/riboseinc/keyserver/internal/config"
	"github.com/riboseinc/keyserver/internal/db/models"
	"github.com/riboseinc/keyserver/internal/db/repositories"
	keysvc "github.com/riboseinc/keyserver/internal/keys"
	"github.com/riboseinc/keyserver/internal/pgp"
)

// Service is the slice of the key service the HTTP layer depends on.
type Service interface {
	ListPrimary(ctx context.Context, filter repositories.ListFilter) ([]*models.Key, error)
	LookupFingerprint(ctx context.Context, suffix string, primaryOnly bool) ([]*models.Key, error)
	Subkeys(ctx context.Context, key *models.Key) ([]*models.Key, error)
	ImportKeyMaterial(ctx context.Context, material []byte, opts keysvc.ImportOptions) ([]*models.Key, error)
	GenerateKeyPair(ctx context.Context, req keysvc.GenerateRequest) (*models.Key, error)
}

// Handler serves the /api/v1/keys route group.
type Handler struct {
	svc Service
	cfg *config.Config
}

// NewHandler creates the key endpoints handler.
func NewHandler(svc Service, cfg *config.Config) *Handler {
	return &Handler{svc: svc, cfg: cfg}
}

// writeServiceError maps service-layer errors onto HTTP status codes. Caller
// mistakes (unparseable material, invalid parameters) become 422; everything
// else is a 500 with a generic message so internals do not leak.
func writeServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, pgp.ErrMaterialParse):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "key material could not be parsed"})
	case errors.Is(err, models.ErrValidation), errors.Is(err, pgp.ErrGeneration):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
