// generate.go implements key pair generation: an RSA-4096 signing primary
// key with a dependent RSA-4096 encryption subkey, persisted atomically.
package keys

import (
	"context"
	"time"

	"github.com/riboseinc/keyserver/internal/db/models"
	"github.com/riboseinc/keyserver/internal/pgp"
	"github.com/riboseinc/keyserver/internal/telemetry"
)

// GenerateRequest carries the caller-facing parameters for key generation.
type GenerateRequest struct {
	// Name is required; Comment and Email are optional user ID segments.
	Name    string
	Comment string
	Email   string

	// Validity is the requested key lifetime; nil means the keys never
	// expire. The HTTP layer defaults this to one year.
	Validity *time.Duration

	// OwnerID and OwnerType optionally bind the generated keys to an owner.
	OwnerID   *string
	OwnerType *string
}

// GenerateKeyPair generates a primary signing key with an encryption subkey
// and persists both records in a single transaction: either both exist
// afterwards or neither does. Secret material is sealed before persistence.
// Returns the primary key record; the subkey is reachable via Subkeys.
func (s *Service) GenerateKeyPair(ctx context.Context, req GenerateRequest) (*models.Key, error) {
	start := s.now()
	primary, err := s.generateKeyPair(ctx, req)
	telemetry.KeyGenerationDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		telemetry.KeyGenerationsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	telemetry.KeyGenerationsTotal.WithLabelValues("success").Inc()
	return primary, nil
}

func (s *Service) generateKeyPair(ctx context.Context, req GenerateRequest) (*models.Key, error) {
	params := pgp.DefaultGenerationParams(req.Name, req.Comment, req.Email, s.now(), req.Validity)

	pair, err := s.toolkit.Generate(ctx, params)
	if err != nil {
		return nil, err
	}

	opts := ImportOptions{OwnerID: req.OwnerID, OwnerType: req.OwnerType}
	primary, err := s.buildRecord(&mergedView{secret: &pair.Primary, public: &pair.Primary}, opts)
	if err != nil {
		return nil, err
	}
	sub, err := s.buildRecord(&mergedView{secret: &pair.Sub, public: &pair.Sub}, opts)
	if err != nil {
		return nil, err
	}

	if err := s.store.CreateKeyPair(ctx, primary, sub); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "generated key pair",
		"fingerprint", primary.Fingerprint,
		"subkey_fingerprint", sub.Fingerprint,
	)
	return primary, nil
}
