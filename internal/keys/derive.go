// derive.go implements one-time metadata derivation: the atomic transition of
// a key record from Raw (material only) to Derived (identity, relationship,
// and validity fields populated).
package keys

import (
	"context"
	"fmt"

	"github.com/riboseinc/keyserver/internal/db/models"
	"github.com/riboseinc/keyserver/internal/pgp"
)

// DeriveMetadata computes and persists the derived fields for a key record.
//
// The operation is idempotent: a record that already carries metadata is left
// untouched, and the guarded repository update turns a concurrent second
// derivation into a no-op. Secret material is unsealed only for the duration
// of this call.
//
// When both a secret and a public export are stored, the secret-side view is
// canonical and only the public-key presence subdocument is spliced in from
// the public-side view; with a single view that view is used as-is.
func (s *Service) DeriveMetadata(ctx context.Context, key *models.Key) error {
	if key.HasMetadata() {
		return nil
	}
	if err := key.Validate(); err != nil {
		return err
	}

	secretDesc, err := s.parseView(ctx, key, true)
	if err != nil {
		return err
	}
	publicDesc, err := s.parseView(ctx, key, false)
	if err != nil {
		return err
	}
	if secretDesc == nil && publicDesc == nil {
		return fmt.Errorf("%w: no key component found in stored material", ErrMetadataDerivation)
	}

	canonical := secretDesc
	if canonical == nil {
		canonical = publicDesc
	}

	meta := canonical.Metadata()
	if publicDesc != nil {
		meta.PublicKey = pgp.MaterialInfo{Present: publicDesc.PublicPresent}
	}
	if secretDesc != nil {
		meta.SecretKey = pgp.MaterialInfo{Present: secretDesc.SecretPresent}
	}

	key.Grip = meta.Grip
	key.PrimaryKeyGrip = meta.PrimaryKeyGrip
	if key.Fingerprint == "" {
		key.Fingerprint = meta.Fingerprint
	}
	if meta.Expires() {
		expiry := meta.ExpiryDate()
		key.ExpirationDate = &expiry
	}
	if err := key.SetMetadata(&meta); err != nil {
		return fmt.Errorf("%w: %v", ErrMetadataDerivation, err)
	}

	updated, err := s.store.SetDerivedFields(ctx, key)
	if err != nil {
		return err
	}
	if !updated {
		// Lost the race against another deriver; the row already holds a
		// derived document. Discard this result and take the committed one.
		s.logger.DebugContext(ctx, "metadata already derived", "key_id", key.ID)
		stored, err := s.store.GetByID(ctx, key.ID)
		if err != nil {
			return err
		}
		if stored != nil {
			*key = *stored
		}
	}
	return nil
}

// parseView parses one side of the record's stored material and returns the
// descriptor for the component this record represents, or nil when that side
// is absent.
func (s *Service) parseView(ctx context.Context, key *models.Key, secret bool) (*pgp.KeyDescriptor, error) {
	var material []byte
	var err error
	if secret {
		if material, err = s.unsealSecret(key); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMetadataDerivation, err)
		}
	} else if key.HasPublic() {
		material = key.Public
	}
	if len(material) == 0 {
		return nil, nil
	}

	descriptors, err := s.toolkit.Parse(ctx, material)
	if err != nil {
		return nil, err
	}
	return pickDescriptor(descriptors, key.Grip), nil
}

// pickDescriptor selects the descriptor for the record's own component. A
// grip hint (set on records created by import) wins; otherwise the primary
// key descriptor of the material is taken.
func pickDescriptor(descriptors []pgp.KeyDescriptor, grip string) *pgp.KeyDescriptor {
	if grip != "" {
		for i := range descriptors {
			if descriptors[i].Grip == grip {
				return &descriptors[i]
			}
		}
		return nil
	}
	for i := range descriptors {
		if descriptors[i].PrimaryKeyGrip == "" {
			return &descriptors[i]
		}
	}
	if len(descriptors) > 0 {
		return &descriptors[0]
	}
	return nil
}
