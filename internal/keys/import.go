// import.go implements key material import: parsing armored or binary
// exports and creating one fully-derived key record per key component found.
package keys

import (
	"context"
	"fmt"
	"time"

	"github.com/riboseinc/keyserver/internal/db/models"
	"github.com/riboseinc/keyserver/internal/pgp"
	"github.com/riboseinc/keyserver/internal/telemetry"
)

// ImportOptions carries caller-supplied attributes for imported records.
type ImportOptions struct {
	// OwnerID and OwnerType optionally bind the imported keys to an owner.
	OwnerID   *string
	OwnerType *string
	// ActivationDate overrides the default (time of import) activation.
	ActivationDate *time.Time
}

// mergedView pairs the secret-side and public-side descriptors of one key
// component. Combined exports of the same key yield both; either may be nil.
type mergedView struct {
	secret *pgp.KeyDescriptor
	public *pgp.KeyDescriptor
}

// ImportKeyMaterial parses raw key material and persists one record per key
// component (primary keys and subkeys alike), with derived metadata computed
// up front. All records from one import are inserted in a single transaction.
// Secret material is sealed before it is handed to the store.
func (s *Service) ImportKeyMaterial(ctx context.Context, material []byte, opts ImportOptions) ([]*models.Key, error) {
	records, err := s.importKeyMaterial(ctx, material, opts)
	if err != nil {
		telemetry.KeyImportsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	telemetry.KeyImportsTotal.WithLabelValues("success").Inc()
	telemetry.KeyRecordsImportedTotal.Add(float64(len(records)))
	return records, nil
}

func (s *Service) importKeyMaterial(ctx context.Context, material []byte, opts ImportOptions) ([]*models.Key, error) {
	descriptors, err := s.toolkit.Parse(ctx, material)
	if err != nil {
		return nil, err
	}

	// Merge the views of each component, keeping first-seen order so primary
	// keys precede their subkeys (Parse emits them that way).
	var order []string
	views := make(map[string]*mergedView)
	for i := range descriptors {
		d := &descriptors[i]
		view, ok := views[d.Grip]
		if !ok {
			view = &mergedView{}
			views[d.Grip] = view
			order = append(order, d.Grip)
		}
		if d.SecretPresent {
			view.secret = d
		} else {
			view.public = d
		}
	}

	records := make([]*models.Key, 0, len(order))
	for _, grip := range order {
		record, err := s.buildRecord(views[grip], opts)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	if err := s.store.CreateKeys(ctx, records); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "imported key material", "records", len(records))
	return records, nil
}

// buildRecord turns a merged component view into a persistable key record.
// The secret-side descriptor is canonical when present; the public-key
// presence subdocument reflects whether a public-side view existed.
func (s *Service) buildRecord(view *mergedView, opts ImportOptions) (*models.Key, error) {
	canonical := view.secret
	if canonical == nil {
		canonical = view.public
	}

	meta := canonical.Metadata()
	meta.PublicKey = pgp.MaterialInfo{Present: view.public != nil || canonical.PublicPresent}
	meta.SecretKey = pgp.MaterialInfo{Present: view.secret != nil}

	key := &models.Key{
		Type:        models.KeyTypePGP,
		OwnerID:     opts.OwnerID,
		OwnerType:   opts.OwnerType,
		Fingerprint: meta.Fingerprint,
		Grip:        meta.Grip,
	}
	key.PrimaryKeyGrip = meta.PrimaryKeyGrip
	if opts.ActivationDate != nil {
		key.ActivationDate = *opts.ActivationDate
	}
	if meta.Expires() {
		expiry := meta.ExpiryDate()
		key.ExpirationDate = &expiry
	}

	if view.public != nil {
		key.Public = view.public.PublicArmored
	} else if len(canonical.PublicArmored) > 0 {
		key.Public = canonical.PublicArmored
	}
	if view.secret != nil {
		sealed, err := s.cipher.Seal(view.secret.SecretArmored)
		if err != nil {
			return nil, fmt.Errorf("failed to seal secret material: %w", err)
		}
		key.EncryptedSecret = sealed
	}

	if err := key.SetMetadata(&meta); err != nil {
		return nil, err
	}
	if err := key.Validate(); err != nil {
		return nil, err
	}
	return key, nil
}
