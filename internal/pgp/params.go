// params.go defines the key generation parameter builder: the parameter set
// consumed by Toolkit.Generate to produce a primary signing key with a
// dependent encryption subkey.
//
// The defaults follow the common Apple/Microsoft PGP key layout:
//   - primary key: RSA 4096, usage sign (certify is implicit)
//   - subkey:      RSA 4096, usage encrypt
//
// See http://security.stackexchange.com/questions/31594 for the rationale
// behind the split-usage setup.
package pgp

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Key usage flags understood by the generator.
const (
	UsageSign    = "sign"
	UsageEncrypt = "encrypt"
)

// DefaultValidity is the validity duration applied when the caller does not
// supply one: one year from the creation date.
const DefaultValidity = 365 * 24 * time.Hour

// KeyParams describes a single key to generate.
type KeyParams struct {
	// Type is the public key algorithm; only "RSA" is supported.
	Type string
	// Length is the modulus size in bits.
	Length int
	// Usage lists the requested key usage flags.
	Usage []string
	// ExpirationSeconds is the validity duration in seconds; zero means the
	// key never expires.
	ExpirationSeconds int64
}

// Preferences holds the symmetric/hash/compression algorithm preference
// lists, ordered by strength (strongest first).
type Preferences struct {
	Ciphers     []string
	Hashes      []string
	Compression []string
}

// GenerationParams is the full parameter set for generating a primary key
// plus encryption subkey pair.
type GenerationParams struct {
	// Name, Comment and Email form the user ID bound to the primary key.
	// Comment and Email may be blank; Name must not be.
	Name    string
	Comment string
	Email   string

	// CreationDate is the cryptographic creation timestamp for both keys.
	CreationDate time.Time

	Primary     KeyParams
	Sub         KeyParams
	Preferences Preferences
}

// UserID assembles the user ID string bound into the primary key:
//
//	"<name>[ (<comment>)][ <<email>>]"
//
// Optional segments are omitted when blank.
func (p *GenerationParams) UserID() string {
	var b strings.Builder
	b.WriteString(p.Name)
	if p.Comment != "" {
		fmt.Fprintf(&b, " (%s)", p.Comment)
	}
	if p.Email != "" {
		fmt.Fprintf(&b, " <%s>", p.Email)
	}
	return strings.TrimSpace(b.String())
}

// Validate rejects parameter sets the generator cannot honour.
func (p *GenerationParams) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("%w: name is required", ErrGeneration)
	}
	if p.CreationDate.IsZero() {
		return fmt.Errorf("%w: creation date is required", ErrGeneration)
	}
	if p.Primary.Type != "RSA" || p.Sub.Type != "RSA" {
		return fmt.Errorf("%w: only RSA keys are supported", ErrGeneration)
	}
	if p.Primary.ExpirationSeconds < 0 || p.Sub.ExpirationSeconds < 0 {
		return fmt.Errorf("%w: expiration must not be negative", ErrGeneration)
	}
	// The OpenPGP key lifetime field is a uint32 of seconds.
	if p.Primary.ExpirationSeconds > math.MaxUint32 || p.Sub.ExpirationSeconds > math.MaxUint32 {
		return fmt.Errorf("%w: expiration exceeds the maximum representable key lifetime", ErrGeneration)
	}
	return nil
}

// DefaultGenerationParams builds the standard parameter set: an RSA-4096
// signing primary with an RSA-4096 encryption subkey. validity is the
// requested lifetime; nil means the key never expires. The subkey inherits
// the primary's creation context and carries no independent user ID.
func DefaultGenerationParams(name, comment, email string, creationDate time.Time, validity *time.Duration) GenerationParams {
	var expiration int64
	if validity != nil {
		expiration = int64(validity.Seconds())
	}

	return GenerationParams{
		Name:         name,
		Comment:      comment,
		Email:        email,
		CreationDate: creationDate,
		Primary: KeyParams{
			Type:              "RSA",
			Length:            4096,
			Usage:             []string{UsageSign},
			ExpirationSeconds: expiration,
		},
		Sub: KeyParams{
			Type:              "RSA",
			Length:            4096,
			Usage:             []string{UsageEncrypt},
			ExpirationSeconds: expiration,
		},
		Preferences: Preferences{
			Ciphers:     []string{"AES256", "AES192", "AES128", "CAST5"},
			Hashes:      []string{"SHA512", "SHA384", "SHA256", "SHA224"},
			Compression: []string{"ZLIB", "BZip2", "ZIP", "Uncompressed"},
		},
	}
}
