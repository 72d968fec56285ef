// Package pgp provides the OpenPGP toolkit used by the key service: parsing
// raw key material into per-component descriptors, generating new key pairs,
// and exporting ASCII-armored material.
//
// The toolkit is defined as an interface so the underlying OpenPGP library is
// a swappable collaborator. The default implementation (GoCryptoToolkit) is
// backed by ProtonMail/go-crypto and holds no process-global state: every call
// operates only on its arguments, so concurrent operations cannot interfere.
package pgp

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrMaterialParse is returned when raw key material cannot be parsed.
	// It is never retried; the import is rejected and surfaced to the caller.
	ErrMaterialParse = errors.New("pgp: failed to parse key material")

	// ErrGeneration is returned when key generation fails. No partial key
	// pair is ever returned alongside this error.
	ErrGeneration = errors.New("pgp: key generation failed")
)

// KeyDescriptor describes a single key component (a primary key or a subkey)
// found in parsed or generated key material. A secret export and a public
// export of the same cryptographic key each yield their own descriptor; the
// two views are reconciled by the metadata derivation step in internal/keys.
type KeyDescriptor struct {
	// Fingerprint is the canonical uppercase-hex fingerprint.
	Fingerprint string
	// Grip is a content-derived identifier stable across re-imports of the
	// same material. For RSA keys it matches the GnuPG keygrip.
	Grip string
	// PrimaryKeyGrip is empty for primary keys; for subkeys it equals the
	// grip of the primary key in the same keyring.
	PrimaryKeyGrip string
	// KeyID is the 16-character uppercase-hex long key ID.
	KeyID string
	// Algorithm is the public key algorithm name (e.g. "RSA").
	Algorithm string
	// BitLength is the key size in bits.
	BitLength int
	// CreationTime is the cryptographic creation timestamp of the key.
	CreationTime time.Time
	// ExpirationSeconds is the validity period stored in the key material,
	// in seconds after CreationTime. Zero means the key never expires.
	// Note this is a duration, not a point in time.
	ExpirationSeconds int64
	// UserIDs holds the user ID strings bound to a primary key. Empty for
	// subkeys.
	UserIDs []string
	// SubkeyGrips lists the grips of all subkeys bound to a primary key.
	// Empty for subkeys.
	SubkeyGrips []string
	// SecretPresent reports whether the secret key component was present in
	// the source material.
	SecretPresent bool
	// PublicPresent reports whether this descriptor represents a public-side
	// view of the key. A descriptor obtained from a secret-only export has
	// PublicPresent false even though the public parameters are derivable.
	PublicPresent bool
	// PublicArmored is the ASCII-armored public export of the keyring this
	// component belongs to, or nil when the view is secret-only.
	PublicArmored []byte
	// SecretArmored is the ASCII-armored secret export, or nil when no
	// secret component is present.
	SecretArmored []byte
}

// GeneratedPair holds the two descriptors produced by key generation: the
// primary signing key and its encryption subkey.
type GeneratedPair struct {
	Primary KeyDescriptor
	Sub     KeyDescriptor
}

// Toolkit is the core-facing OpenPGP contract. Parse returns one descriptor
// per key component present in the material; Generate produces a primary
// signing key and a dependent encryption subkey.
type Toolkit interface {
	Parse(ctx context.Context, material []byte) ([]KeyDescriptor, error)
	Generate(ctx context.Context, params GenerationParams) (*GeneratedPair, error)
}

// Metadata builds the canonical metadata document for this descriptor. The
// document is the immutable baseline all derived key record fields are
// computed from.
func (d *KeyDescriptor) Metadata() KeyMetadata {
	return KeyMetadata{
		Fingerprint:    d.Fingerprint,
		KeyID:          d.KeyID,
		Type:           d.Algorithm,
		Length:         d.BitLength,
		CreationTime:   d.CreationTime.Unix(),
		Expiration:     d.ExpirationSeconds,
		Grip:           d.Grip,
		PrimaryKeyGrip: d.PrimaryKeyGrip,
		UserIDs:        d.UserIDs,
		SubkeyGrips:    d.SubkeyGrips,
		PublicKey:      MaterialInfo{Present: d.PublicPresent},
		SecretKey:      MaterialInfo{Present: d.SecretPresent},
	}
}

// KeyMetadata is the toolkit-derived JSON document persisted on every key
// record. It is derived exactly once and never recomputed afterwards.
type KeyMetadata struct {
	Fingerprint    string       `json:"fingerprint"`
	KeyID          string       `json:"key_id"`
	Type           string       `json:"type"`
	Length         int          `json:"length"`
	CreationTime   int64        `json:"creation_time"`
	Expiration     int64        `json:"expiration"`
	Grip           string       `json:"grip"`
	PrimaryKeyGrip string       `json:"primary_key_grip,omitempty"`
	UserIDs        []string     `json:"userids,omitempty"`
	SubkeyGrips    []string     `json:"subkey_grips,omitempty"`
	PublicKey      MaterialInfo `json:"public_key"`
	SecretKey      MaterialInfo `json:"secret_key"`
}

// MaterialInfo records whether a public or secret view of the key component
// was present in the material the metadata was derived from.
type MaterialInfo struct {
	Present bool `json:"present"`
}

// IsPrimary reports whether the metadata describes a primary key.
func (m *KeyMetadata) IsPrimary() bool {
	return m.PrimaryKeyGrip == ""
}

// Expires reports whether the key material carries a non-zero validity
// duration.
func (m *KeyMetadata) Expires() bool {
	return m.Expiration != 0
}

// ExpiryDate materialises the duration-based expiration into an absolute
// point in time (creation time + validity duration). Returns the zero time
// when the key never expires.
func (m *KeyMetadata) ExpiryDate() time.Time {
	if !m.Expires() {
		return time.Time{}
	}
	return time.Unix(m.CreationTime+m.Expiration, 0).UTC()
}

// GenerationDate returns the cryptographic creation timestamp.
func (m *KeyMetadata) GenerationDate() time.Time {
	return time.Unix(m.CreationTime, 0).UTC()
}

// RelatedGrips returns the deduplicated set of grips referenced by this
// document: the key's own grip, its primary key grip (for subkeys), and all
// subkey grips (for primaries). Used for cross-record consistency queries.
func (m *KeyMetadata) RelatedGrips() []string {
	seen := make(map[string]struct{})
	var grips []string
	add := func(g string) {
		if g == "" {
			return
		}
		if _, ok := seen[g]; ok {
			return
		}
		seen[g] = struct{}{}
		grips = append(grips, g)
	}
	add(m.Grip)
	add(m.PrimaryKeyGrip)
	for _, g := range m.SubkeyGrips {
		add(g)
	}
	return grips
}
