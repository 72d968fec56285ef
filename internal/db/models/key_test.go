package models

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/riboseinc/keyserver/internal/pgp"
)

func metadataJSON(t *testing.T, meta pgp.KeyMetadata) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(meta)
	if err != nil {
		t.Fatalf("marshal metadata: %v", err)
	}
	return raw
}

// ---------------------------------------------------------------------------
// Key.Validate
// ---------------------------------------------------------------------------

func TestKey_Validate_PublicOnly(t *testing.T) {
	k := &Key{Type: KeyTypePGP, Public: []byte("armored public")}
	if err := k.Validate(); err != nil {
		t.Errorf("Validate() should accept a public-only record, got %v", err)
	}
}

func TestKey_Validate_SecretOnly(t *testing.T) {
	k := &Key{Type: KeyTypePGP, EncryptedSecret: []byte("sealed secret")}
	if err := k.Validate(); err != nil {
		t.Errorf("Validate() should accept a secret-only record, got %v", err)
	}
}

func TestKey_Validate_NoMaterial(t *testing.T) {
	k := &Key{Type: KeyTypePGP}
	err := k.Validate()
	if !errors.Is(err, ErrValidation) {
		t.Errorf("Validate() should return ErrValidation when both materials are missing, got %v", err)
	}
}

func TestKey_Validate_MissingType(t *testing.T) {
	k := &Key{Public: []byte("armored public")}
	if !errors.Is(k.Validate(), ErrValidation) {
		t.Error("Validate() should return ErrValidation when the type tag is missing")
	}
}

// ---------------------------------------------------------------------------
// Key.IsPrimary
// ---------------------------------------------------------------------------

func TestKey_IsPrimary_BlankGrip(t *testing.T) {
	k := &Key{}
	if !k.IsPrimary() {
		t.Error("IsPrimary() should be true when PrimaryKeyGrip is blank")
	}
}

func TestKey_IsPrimary_SubkeyGrip(t *testing.T) {
	k := &Key{PrimaryKeyGrip: "AABBCCDD"}
	if k.IsPrimary() {
		t.Error("IsPrimary() should be false when PrimaryKeyGrip is set")
	}
}

// ---------------------------------------------------------------------------
// Metadata access
// ---------------------------------------------------------------------------

func TestKey_HasMetadata_EmptyDocument(t *testing.T) {
	for _, raw := range []string{"", "{}", "null"} {
		k := &Key{Metadata: json.RawMessage(raw)}
		if k.HasMetadata() {
			t.Errorf("HasMetadata() should be false for %q", raw)
		}
	}
}

func TestKey_DerivedMetadata_RawRecord(t *testing.T) {
	k := &Key{Metadata: json.RawMessage("{}")}
	if _, err := k.DerivedMetadata(); !errors.Is(err, ErrValidation) {
		t.Errorf("DerivedMetadata() on a raw record should return ErrValidation, got %v", err)
	}
}

func TestKey_DerivedMetadata_RoundTrip(t *testing.T) {
	k := &Key{}
	meta := pgp.KeyMetadata{
		Fingerprint:  "4BD1E60A9636A9B4E4B1CFCD7E3C58E375EAD2F8",
		KeyID:        "7E3C58E375EAD2F8",
		Type:         "RSA",
		Length:       4096,
		CreationTime: 1700000000,
		UserIDs:      []string{"Test Owner <owner@example.com>"},
	}
	if err := k.SetMetadata(&meta); err != nil {
		t.Fatalf("SetMetadata: %v", err)
	}

	got, err := k.DerivedMetadata()
	if err != nil {
		t.Fatalf("DerivedMetadata: %v", err)
	}
	if got.Fingerprint != meta.Fingerprint {
		t.Errorf("fingerprint = %q, want %q", got.Fingerprint, meta.Fingerprint)
	}
	if k.KeyID() != "7E3C58E375EAD2F8" {
		t.Errorf("KeyID() = %q, want 7E3C58E375EAD2F8", k.KeyID())
	}
	if k.Algorithm() != "RSA" || k.KeySize() != 4096 {
		t.Errorf("Algorithm()/KeySize() = %q/%d, want RSA/4096", k.Algorithm(), k.KeySize())
	}
}

func TestKey_CanonicalFingerprint_PrefersColumn(t *testing.T) {
	k := &Key{
		Fingerprint: "SEEDEDFINGERPRINT0000000000000000000000A",
		Metadata:    metadataJSON(t, pgp.KeyMetadata{Fingerprint: "DERIVEDFPR"}),
	}
	if got := k.CanonicalFingerprint(); got != "SEEDEDFINGERPRINT0000000000000000000000A" {
		t.Errorf("CanonicalFingerprint() = %q, should prefer the persisted column", got)
	}
}

func TestKey_CanonicalFingerprint_FallsBackToMetadata(t *testing.T) {
	k := &Key{Metadata: metadataJSON(t, pgp.KeyMetadata{Fingerprint: "DERIVEDFPR"})}
	if got := k.CanonicalFingerprint(); got != "DERIVEDFPR" {
		t.Errorf("CanonicalFingerprint() = %q, want DERIVEDFPR", got)
	}
}

func TestKey_UserID_And_Email(t *testing.T) {
	k := &Key{Metadata: metadataJSON(t, pgp.KeyMetadata{
		UserIDs: []string{"Alice Example (work) <alice@example.com>"},
	})}
	if got := k.UserID(); got != "Alice Example (work) <alice@example.com>" {
		t.Errorf("UserID() = %q", got)
	}
	if got := k.Email(); got != "alice@example.com" {
		t.Errorf("Email() = %q, want alice@example.com", got)
	}
}

func TestKey_Email_NoAddress(t *testing.T) {
	k := &Key{Metadata: metadataJSON(t, pgp.KeyMetadata{UserIDs: []string{"Machine Key"}})}
	if got := k.Email(); got != "" {
		t.Errorf("Email() = %q, want empty for a user ID without an address", got)
	}
}

// ---------------------------------------------------------------------------
// Expiration
// ---------------------------------------------------------------------------

func TestKey_Expires_NeverExpiringKey(t *testing.T) {
	k := &Key{Metadata: metadataJSON(t, pgp.KeyMetadata{CreationTime: 1700000000})}
	if k.Expires() {
		t.Error("Expires() should be false when the metadata carries no duration")
	}
	if k.ExpiryDate() != nil {
		t.Error("ExpiryDate() should be nil for a never-expiring key")
	}
	if k.Expired(time.Now().Add(100 * 365 * 24 * time.Hour)) {
		t.Error("Expired() should always be false for a never-expiring key")
	}
}

func TestKey_ExpiryDate_MaterialisedFromDuration(t *testing.T) {
	creation := int64(1700000000)
	duration := int64(365 * 24 * 3600)
	k := &Key{Metadata: metadataJSON(t, pgp.KeyMetadata{
		CreationTime: creation,
		Expiration:   duration,
	})}

	expiry := k.ExpiryDate()
	if expiry == nil {
		t.Fatal("ExpiryDate() should not be nil for an expiring key")
	}
	want := time.Unix(creation+duration, 0).UTC()
	if !expiry.Equal(want) {
		t.Errorf("ExpiryDate() = %v, want %v", expiry, want)
	}
}

func TestKey_ExpiryDate_PrefersPersistedColumn(t *testing.T) {
	frozen := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
	k := &Key{
		ExpirationDate: &frozen,
		Metadata: metadataJSON(t, pgp.KeyMetadata{
			CreationTime: 1700000000,
			Expiration:   60,
		}),
	}
	if got := k.ExpiryDate(); got == nil || !got.Equal(frozen) {
		t.Errorf("ExpiryDate() = %v, should prefer the persisted column %v", got, frozen)
	}
}

func TestKey_Expired(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)

	expired := &Key{ExpirationDate: &past}
	if !expired.Expired(time.Now()) {
		t.Error("Expired() should be true when the expiry is in the past")
	}

	valid := &Key{ExpirationDate: &future}
	if valid.Expired(time.Now()) {
		t.Error("Expired() should be false when the expiry is in the future")
	}
}

// ---------------------------------------------------------------------------
// RelatedGrips
// ---------------------------------------------------------------------------

func TestKey_RelatedGrips_Primary(t *testing.T) {
	k := &Key{Metadata: metadataJSON(t, pgp.KeyMetadata{
		Grip:        "PRIMARYGRIP",
		SubkeyGrips: []string{"SUBGRIP1", "SUBGRIP2", "SUBGRIP1"},
	})}
	got := k.RelatedGrips()
	want := []string{"PRIMARYGRIP", "SUBGRIP1", "SUBGRIP2"}
	if len(got) != len(want) {
		t.Fatalf("RelatedGrips() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("RelatedGrips()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestKey_RelatedGrips_RawRecord(t *testing.T) {
	k := &Key{}
	if got := k.RelatedGrips(); got != nil {
		t.Errorf("RelatedGrips() on a raw record = %v, want nil", got)
	}
}
