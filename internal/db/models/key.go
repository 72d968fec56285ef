// Package models - key.go defines the Key model, the canonical persisted
// record for a single OpenPGP key component (primary key or subkey) together
// with its derived identity, relationship, and validity fields.
package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/riboseinc/keyserver/internal/pgp"
)

// ErrValidation is returned when a key record fails an invariant check. It is
// always raised before any persistence write.
var ErrValidation = errors.New("key: validation failed")

// KeyType discriminates the concrete key kind. The enum is open for
// extension; only OpenPGP keys are implemented today.
type KeyType string

// KeyTypePGP marks an OpenPGP key record.
const KeyTypePGP KeyType = "pgp"

var emailPattern = regexp.MustCompile(`<(.*@.*)>`)

// Key represents one OpenPGP key component owned by at most one owner.
//
// Fingerprint, Grip, PrimaryKeyGrip, and ExpirationDate are derived,
// write-once fields: they are computed from Metadata exactly once and never
// recomputed afterwards. A record is either Raw (material only, empty
// metadata) or Derived (all identity fields populated); the transition is a
// single atomic step performed by the key service.
type Key struct {
	ID        string  `json:"id" db:"id"`
	Type      KeyType `json:"type" db:"type"`
	OwnerID   *string `json:"owner_id,omitempty" db:"owner_id"`
	OwnerType *string `json:"owner_type,omitempty" db:"owner_type"`

	// Public is the ASCII-armored or binary public export, nil when the
	// record was imported from a secret-only export.
	Public []byte `json:"-" db:"public"`
	// EncryptedSecret is the secret export sealed by the secret store. The
	// unsealed form never leaves the scope of a single operation.
	EncryptedSecret []byte `json:"-" db:"encrypted_secret"`

	// ActivationDate is when the key becomes usable; it is independent of
	// the cryptographic creation time.
	ActivationDate time.Time `json:"activation_date" db:"activation_date"`
	// ExpirationDate is the materialised absolute expiry timestamp. Nil
	// means the key never expires. Never a duration.
	ExpirationDate *time.Time `json:"expiration_date,omitempty" db:"expiration_date"`

	Fingerprint string `json:"fingerprint" db:"fingerprint"`
	Grip        string `json:"grip" db:"grip"`
	// PrimaryKeyGrip is blank for primary keys; for subkeys it equals the
	// grip of the primary key.
	PrimaryKeyGrip string `json:"primary_key_grip,omitempty" db:"primary_key_grip"`

	// Metadata is the toolkit-derived JSON document, the immutable baseline
	// for all derived-field computation.
	Metadata json.RawMessage `json:"metadata" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`

	meta *pgp.KeyMetadata // decoded cache; Metadata itself stays authoritative
}

// Validate checks the record invariants enforced before persistence: a type
// tag is required and at least one of the public/secret material blobs must
// be present.
func (k *Key) Validate() error {
	if k.Type == "" {
		return fmt.Errorf("%w: type tag is required", ErrValidation)
	}
	if len(k.Public) == 0 && len(k.EncryptedSecret) == 0 {
		return fmt.Errorf("%w: at least one of public or secret material must be present", ErrValidation)
	}
	return nil
}

// IsPrimary reports whether this record is a primary key. A record is
// primary exactly when its primary key grip is blank.
func (k *Key) IsPrimary() bool {
	return k.PrimaryKeyGrip == ""
}

// HasPublic reports whether public material is stored.
func (k *Key) HasPublic() bool {
	return len(k.Public) > 0
}

// HasSecret reports whether sealed secret material is stored.
func (k *Key) HasSecret() bool {
	return len(k.EncryptedSecret) > 0
}

// HasMetadata reports whether the one-time metadata derivation has run.
func (k *Key) HasMetadata() bool {
	return len(k.Metadata) > 0 && string(k.Metadata) != "{}" && string(k.Metadata) != "null"
}

// DerivedMetadata decodes the persisted metadata document. Returns an error
// when the record is still Raw.
func (k *Key) DerivedMetadata() (*pgp.KeyMetadata, error) {
	if k.meta != nil {
		return k.meta, nil
	}
	if !k.HasMetadata() {
		return nil, fmt.Errorf("%w: metadata has not been derived", ErrValidation)
	}
	var meta pgp.KeyMetadata
	if err := json.Unmarshal(k.Metadata, &meta); err != nil {
		return nil, fmt.Errorf("decoding key metadata: %w", err)
	}
	k.meta = &meta
	return k.meta, nil
}

// SetMetadata installs the derived metadata document on the in-memory record.
func (k *Key) SetMetadata(meta *pgp.KeyMetadata) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encoding key metadata: %w", err)
	}
	k.Metadata = raw
	k.meta = meta
	return nil
}

// CanonicalFingerprint prefers the persisted fingerprint column and falls
// back to the metadata-derived value, so records whose fingerprint was
// independently pre-seeded are never overwritten.
func (k *Key) CanonicalFingerprint() string {
	if k.Fingerprint != "" {
		return k.Fingerprint
	}
	if meta, err := k.DerivedMetadata(); err == nil {
		return meta.Fingerprint
	}
	return ""
}

// KeyID returns the long key ID from the metadata document.
func (k *Key) KeyID() string {
	if meta, err := k.DerivedMetadata(); err == nil {
		return meta.KeyID
	}
	return ""
}

// Algorithm returns the public key algorithm name from the metadata document.
func (k *Key) Algorithm() string {
	if meta, err := k.DerivedMetadata(); err == nil {
		return meta.Type
	}
	return ""
}

// KeySize returns the key size in bits from the metadata document.
func (k *Key) KeySize() int {
	if meta, err := k.DerivedMetadata(); err == nil {
		return meta.Length
	}
	return 0
}

// UserIDs returns the user ID strings bound into the key.
func (k *Key) UserIDs() []string {
	if meta, err := k.DerivedMetadata(); err == nil {
		return meta.UserIDs
	}
	return nil
}

// UserID returns the first user ID, or "" when none are bound.
func (k *Key) UserID() string {
	if ids := k.UserIDs(); len(ids) > 0 {
		return ids[0]
	}
	return ""
}

// Email extracts the email address from the first user ID, or "" when the
// user ID carries none.
func (k *Key) Email() string {
	if m := emailPattern.FindStringSubmatch(k.UserID()); m != nil {
		return m[1]
	}
	return ""
}

// GenerationDate returns the cryptographic creation timestamp from the
// metadata document. This is distinct from ActivationDate.
func (k *Key) GenerationDate() time.Time {
	if meta, err := k.DerivedMetadata(); err == nil {
		return meta.GenerationDate()
	}
	return time.Time{}
}

// Expires reports whether the key material carries a non-zero validity
// duration.
func (k *Key) Expires() bool {
	meta, err := k.DerivedMetadata()
	return err == nil && meta.Expires()
}

// ExpiryDate returns the absolute expiry timestamp. The persisted
// ExpirationDate column is preferred (it was frozen at derivation time);
// otherwise the value is computed from the metadata document. Nil when the
// key never expires.
func (k *Key) ExpiryDate() *time.Time {
	if k.ExpirationDate != nil {
		return k.ExpirationDate
	}
	meta, err := k.DerivedMetadata()
	if err != nil || !meta.Expires() {
		return nil
	}
	expiry := meta.ExpiryDate()
	return &expiry
}

// Expired reports whether the key's expiry has passed at the given instant.
// A key with no expiration never expires.
func (k *Key) Expired(now time.Time) bool {
	expiry := k.ExpiryDate()
	return expiry != nil && expiry.Before(now)
}

// RelatedGrips returns the deduplicated grips referenced by this record's
// metadata: its own grip, the primary key grip, and all subkey grips.
func (k *Key) RelatedGrips() []string {
	meta, err := k.DerivedMetadata()
	if err != nil {
		return nil
	}
	return meta.RelatedGrips()
}
