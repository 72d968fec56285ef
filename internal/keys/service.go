// Package keys implements the key lifecycle engine: metadata derivation,
// primary/subkey relationship resolution, validity calculation, fingerprint
// lookup, import, and key pair generation. It coordinates the OpenPGP toolkit,
// the secret store, and the key repository; all state lives in the database
// and every operation is request-scoped.
package keys

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/riboseinc/keyserver/internal/crypto"
	"github.com/riboseinc/keyserver/internal/db/models"
	"github.com/riboseinc/keyserver/internal/db/repositories"
	"github.com/riboseinc/keyserver/internal/pgp"
)

// ErrMetadataDerivation is returned when no usable key material view could be
// parsed for a record during metadata derivation.
var ErrMetadataDerivation = errors.New("keys: metadata derivation failed")

// Store is the persistence contract the service needs. *repositories.KeyRepository
// is the production implementation.
type Store interface {
	CreateKey(ctx context.Context, key *models.Key) error
	CreateKeyPair(ctx context.Context, primary, sub *models.Key) error
	CreateKeys(ctx context.Context, keys []*models.Key) error
	GetByID(ctx context.Context, id string) (*models.Key, error)
	GetByGrip(ctx context.Context, grip string) (*models.Key, error)
	FindByFingerprintSuffix(ctx context.Context, suffix string, primaryOnly bool) ([]*models.Key, error)
	ListPrimary(ctx context.Context, filter repositories.ListFilter) ([]*models.Key, error)
	SubkeysByPrimaryGrip(ctx context.Context, grip string) ([]*models.Key, error)
	FirstActivatedKeyID(ctx context.Context, ownerType, ownerID *string) (string, error)
	SetDerivedFields(ctx context.Context, key *models.Key) (bool, error)
}

// Service is the key lifecycle engine.
type Service struct {
	store   Store
	toolkit pgp.Toolkit
	cipher  *crypto.SecretCipher
	logger  *slog.Logger
	now     func() time.Time
}

// NewService creates a key service. logger may be nil, in which case the
// process default logger is used.
func NewService(store Store, toolkit pgp.Toolkit, cipher *crypto.SecretCipher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:   store,
		toolkit: toolkit,
		cipher:  cipher,
		logger:  logger,
		now:     time.Now,
	}
}

// GetKey retrieves a key record by ID; (nil, nil) when not found.
func (s *Service) GetKey(ctx context.Context, id string) (*models.Key, error) {
	return s.store.GetByID(ctx, id)
}

// ListPrimary returns all primary key records, optionally filtered by
// activation date range.
func (s *Service) ListPrimary(ctx context.Context, filter repositories.ListFilter) ([]*models.Key, error) {
	return s.store.ListPrimary(ctx, filter)
}

// Subkeys returns the subkey records bound to the given key. For a record
// that is itself a subkey the result is empty with a nil error.
func (s *Service) Subkeys(ctx context.Context, key *models.Key) ([]*models.Key, error) {
	if !key.IsPrimary() || key.Grip == "" {
		return nil, nil
	}
	return s.store.SubkeysByPrimaryGrip(ctx, key.Grip)
}

// RelatedGrips returns the deduplicated grips referenced by the record's
// metadata: its own grip, its primary key's grip, and all subkey grips.
func (s *Service) RelatedGrips(key *models.Key) []string {
	return key.RelatedGrips()
}

// unsealSecret decrypts the record's sealed secret material for the scope of
// a single operation. Returns nil when the record holds no secret.
func (s *Service) unsealSecret(key *models.Key) ([]byte, error) {
	if !key.HasSecret() {
		return nil, nil
	}
	return s.cipher.Unseal(key.EncryptedSecret)
}
