// gocrypto.go implements the Toolkit contract on top of ProtonMail/go-crypto.
// The implementation is purely in-memory: there is no keyring home directory
// and no shared state between calls.
package pgp

import (
	"bytes"
	"context"
	"crypto"
	"fmt"
	"sort"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/ProtonMail/go-crypto/openpgp/packet"
)

const armorBeginMarker = "-----BEGIN PGP"

// GoCryptoToolkit is the default Toolkit implementation.
type GoCryptoToolkit struct{}

// NewGoCryptoToolkit returns a toolkit backed by ProtonMail/go-crypto.
func NewGoCryptoToolkit() *GoCryptoToolkit {
	return &GoCryptoToolkit{}
}

// Parse reads armored or binary key material and returns one descriptor per
// key component found: a primary-key descriptor plus one per subkey, for each
// keyring in the material. Material containing both a public and a secret
// export of the same key yields separate descriptors for each view.
func (t *GoCryptoToolkit) Parse(ctx context.Context, material []byte) ([]KeyDescriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMaterialParse, err)
	}
	if len(bytes.TrimSpace(material)) == 0 {
		return nil, fmt.Errorf("%w: empty material", ErrMaterialParse)
	}

	entities, err := readEntities(material)
	if err != nil {
		return nil, err
	}

	var descriptors []KeyDescriptor
	for _, entity := range entities {
		descs, err := describeEntity(entity)
		if err != nil {
			return nil, err
		}
		descriptors = append(descriptors, descs...)
	}
	return descriptors, nil
}

// Generate creates a new primary signing key with a dependent encryption
// subkey according to params, and returns descriptors carrying both public
// and secret exports.
func (t *GoCryptoToolkit) Generate(ctx context.Context, params GenerationParams) (*GeneratedPair, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGeneration, err)
	}

	// #nosec G115 -- ExpirationSeconds is validated to [0, MaxUint32] by params.Validate
	cfg := &packet.Config{
		Algorithm:              packet.PubKeyAlgoRSA,
		RSABits:                params.Primary.Length,
		Time:                   func() time.Time { return params.CreationDate },
		KeyLifetimeSecs:        uint32(params.Primary.ExpirationSeconds),
		DefaultHash:            hashFromPreferences(params.Preferences.Hashes),
		DefaultCipher:          cipherFromPreferences(params.Preferences.Ciphers),
		DefaultCompressionAlgo: compressionFromPreferences(params.Preferences.Compression),
	}

	entity, err := openpgp.NewEntity(params.Name, params.Comment, params.Email, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGeneration, err)
	}
	if len(entity.Subkeys) == 0 {
		return nil, fmt.Errorf("%w: toolkit produced no encryption subkey", ErrGeneration)
	}

	descriptors, err := describeEntity(entity)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGeneration, err)
	}

	// A freshly generated key carries both views.
	publicArmored, err := armorPublic(entity)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGeneration, err)
	}
	for i := range descriptors {
		descriptors[i].PublicPresent = true
		descriptors[i].PublicArmored = publicArmored
	}

	pair := &GeneratedPair{}
	var havePrimary, haveSub bool
	for _, d := range descriptors {
		if d.PrimaryKeyGrip == "" {
			pair.Primary = d
			havePrimary = true
		} else if !haveSub {
			pair.Sub = d
			haveSub = true
		}
	}
	if !havePrimary || !haveSub {
		return nil, fmt.Errorf("%w: generated keyring is missing a primary key or subkey", ErrGeneration)
	}
	return pair, nil
}

// readEntities parses armored material (possibly several concatenated armor
// blocks, as produced by a combined public+secret export) or falls back to a
// binary packet stream.
func readEntities(material []byte) (openpgp.EntityList, error) {
	if !bytes.Contains(material, []byte(armorBeginMarker)) {
		entities, err := openpgp.ReadKeyRing(bytes.NewReader(material))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMaterialParse, err)
		}
		return entities, nil
	}

	var all openpgp.EntityList
	for _, block := range splitArmorBlocks(material) {
		entities, err := openpgp.ReadArmoredKeyRing(bytes.NewReader(block))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMaterialParse, err)
		}
		all = append(all, entities...)
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("%w: no keys found in material", ErrMaterialParse)
	}
	return all, nil
}

// splitArmorBlocks slices material into individual armor blocks so that a
// concatenated public+secret export can be read block by block.
func splitArmorBlocks(material []byte) [][]byte {
	marker := []byte(armorBeginMarker)
	var blocks [][]byte
	for {
		start := bytes.Index(material, marker)
		if start < 0 {
			break
		}
		rest := material[start+len(marker):]
		next := bytes.Index(rest, marker)
		if next < 0 {
			blocks = append(blocks, material[start:])
			break
		}
		end := start + len(marker) + next
		blocks = append(blocks, material[start:end])
		material = material[end:]
	}
	return blocks
}

// describeEntity produces one descriptor per key component of the entity.
// A secret export yields secret-side views (PublicPresent false); a public
// export yields public-side views.
func describeEntity(entity *openpgp.Entity) ([]KeyDescriptor, error) {
	secretExport := entity.PrivateKey != nil

	var publicArmored, secretArmored []byte
	var err error
	if secretExport {
		if secretArmored, err = armorSecret(entity); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMaterialParse, err)
		}
	} else {
		if publicArmored, err = armorPublic(entity); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMaterialParse, err)
		}
	}

	primaryGrip := keygrip(entity.PrimaryKey)

	subkeyGrips := make([]string, 0, len(entity.Subkeys))
	for i := range entity.Subkeys {
		subkeyGrips = append(subkeyGrips, keygrip(entity.Subkeys[i].PublicKey))
	}

	userIDs := make([]string, 0, len(entity.Identities))
	for _, identity := range entity.Identities {
		userIDs = append(userIDs, identity.Name)
	}
	sort.Strings(userIDs)

	primary := KeyDescriptor{
		Fingerprint:       fmt.Sprintf("%X", entity.PrimaryKey.Fingerprint),
		Grip:              primaryGrip,
		KeyID:             entity.PrimaryKey.KeyIdString(),
		Algorithm:         algorithmName(entity.PrimaryKey.PubKeyAlgo),
		BitLength:         bitLength(entity.PrimaryKey),
		CreationTime:      entity.PrimaryKey.CreationTime,
		ExpirationSeconds: primaryLifetime(entity),
		UserIDs:           userIDs,
		SubkeyGrips:       subkeyGrips,
		SecretPresent:     secretExport,
		PublicPresent:     !secretExport,
		PublicArmored:     publicArmored,
		SecretArmored:     secretArmored,
	}

	descriptors := []KeyDescriptor{primary}
	for i := range entity.Subkeys {
		sk := &entity.Subkeys[i]
		var lifetime int64
		if sk.Sig != nil && sk.Sig.KeyLifetimeSecs != nil {
			lifetime = int64(*sk.Sig.KeyLifetimeSecs)
		}
		descriptors = append(descriptors, KeyDescriptor{
			Fingerprint:       fmt.Sprintf("%X", sk.PublicKey.Fingerprint),
			Grip:              keygrip(sk.PublicKey),
			PrimaryKeyGrip:    primaryGrip,
			KeyID:             sk.PublicKey.KeyIdString(),
			Algorithm:         algorithmName(sk.PublicKey.PubKeyAlgo),
			BitLength:         bitLength(sk.PublicKey),
			CreationTime:      sk.PublicKey.CreationTime,
			ExpirationSeconds: lifetime,
			SecretPresent:     sk.PrivateKey != nil,
			PublicPresent:     !secretExport,
			PublicArmored:     publicArmored,
			SecretArmored:     secretArmored,
		})
	}
	return descriptors, nil
}

func primaryLifetime(entity *openpgp.Entity) int64 {
	for _, identity := range entity.Identities {
		if identity.SelfSignature != nil && identity.SelfSignature.KeyLifetimeSecs != nil {
			return int64(*identity.SelfSignature.KeyLifetimeSecs)
		}
	}
	return 0
}

func bitLength(pk *packet.PublicKey) int {
	length, err := pk.BitLength()
	if err != nil {
		return 0
	}
	return int(length)
}

func algorithmName(algo packet.PublicKeyAlgorithm) string {
	switch algo {
	case packet.PubKeyAlgoRSA, packet.PubKeyAlgoRSAEncryptOnly, packet.PubKeyAlgoRSASignOnly:
		return "RSA"
	case packet.PubKeyAlgoDSA:
		return "DSA"
	case packet.PubKeyAlgoElGamal:
		return "ElGamal"
	case packet.PubKeyAlgoECDSA:
		return "ECDSA"
	case packet.PubKeyAlgoECDH:
		return "ECDH"
	case packet.PubKeyAlgoEdDSA, packet.PubKeyAlgoEd25519:
		return "EdDSA"
	default:
		return fmt.Sprintf("Unknown(%d)", int(algo))
	}
}

func armorPublic(entity *openpgp.Entity) ([]byte, error) {
	var buf bytes.Buffer
	w, err := armor.Encode(&buf, openpgp.PublicKeyType, nil)
	if err != nil {
		return nil, err
	}
	if err := entity.Serialize(w); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func armorSecret(entity *openpgp.Entity) ([]byte, error) {
	var buf bytes.Buffer
	w, err := armor.Encode(&buf, openpgp.PrivateKeyType, nil)
	if err != nil {
		return nil, err
	}
	if err := entity.SerializePrivateWithoutSigning(w, nil); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Preference lists are ordered by strength; the first entry the underlying
// library supports wins.

func hashFromPreferences(hashes []string) crypto.Hash {
	for _, name := range hashes {
		switch name {
		case "SHA512":
			return crypto.SHA512
		case "SHA384":
			return crypto.SHA384
		case "SHA256":
			return crypto.SHA256
		case "SHA224":
			return crypto.SHA224
		}
	}
	return crypto.SHA256
}

func cipherFromPreferences(ciphers []string) packet.CipherFunction {
	for _, name := range ciphers {
		switch name {
		case "AES256":
			return packet.CipherAES256
		case "AES192":
			return packet.CipherAES192
		case "AES128":
			return packet.CipherAES128
		case "CAST5":
			return packet.CipherCAST5
		case "TRIPLEDES":
			return packet.Cipher3DES
		}
	}
	return packet.CipherAES256
}

func compressionFromPreferences(algos []string) packet.CompressionAlgo {
	for _, name := range algos {
		switch name {
		case "ZLIB":
			return packet.CompressionZLIB
		case "ZIP":
			return packet.CompressionZIP
		case "Uncompressed":
			return packet.CompressionNone
		}
	}
	return packet.CompressionZLIB
}
