package pgp

import (
	"crypto/rsa"
	"crypto/sha1" // #nosec G505 -- keygrip is an identifier, not an integrity check
	"encoding/hex"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp/packet"
)

// keygrip computes the content-derived grip for a key component. For RSA keys
// the value matches the GnuPG keygrip (SHA-1 over the public modulus), so
// grips stored here line up with those reported by external OpenPGP tooling.
// For other algorithms the grip is derived from the fingerprint, which is
// equally content-derived and stable across re-imports of the same material.
func keygrip(pk *packet.PublicKey) string {
	if rsaKey, ok := pk.PublicKey.(*rsa.PublicKey); ok {
		sum := sha1.Sum(rsaKey.N.Bytes()) // #nosec G401
		return strings.ToUpper(hex.EncodeToString(sum[:]))
	}
	sum := sha1.Sum(pk.Fingerprint) // #nosec G401
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}
