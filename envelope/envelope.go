// Package envelope encrypts session snapshots into portable cipher
// bundles that the relay stores and forwards but cannot read. The key is
// agreed via X25519 between the sender identity key and the recipient
// public key, stretched with HKDF-SHA256, and used with AES-256-GCM.
// The target origin is bound as associated data, so a bundle replayed
// against a different origin context fails authentication.
package envelope

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/publicpass/publicpass/internal/util"
	"github.com/publicpass/publicpass/session"
)

const (
	// AlgX25519AESGCM identifies the only cipher construction currently
	// produced. The id travels in the bundle for forward compatibility.
	AlgX25519AESGCM = "x25519-hkdf-sha256/aes-256-gcm"

	// Compression ids.
	CmpGzip = "gzip"
	CmpNone = "none"
)

var hkdfInfo = []byte("publicpass:session:v1")

// ErrDecrypt is returned for any authentication failure while opening a
// bundle: wrong key, tampered ciphertext, or mismatched origin binding.
var ErrDecrypt = errors.New("envelope authentication failed")

// Bundle is the serialized cipher envelope. All byte fields are base64
// encoded so the bundle is transport-safe as JSON.
type Bundle struct {
	Alg          string `json:"alg"`
	Cmp          string `json:"cmp"`
	SenderPublic string `json:"senderPub"`
	Ciphertext   string `json:"ct"`
	TargetOrigin string `json:"targetOrigin"`
}

// Encrypt seals a snapshot for the recipient, binding targetOrigin as
// associated data. The payload is gzip-compressed when that makes it
// smaller.
func Encrypt(snap *session.Snapshot, sender util.KeyPair, recipientPublic [32]byte, targetOrigin string) (*Bundle, error) {
	plaintext, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encoding snapshot: %w", err)
	}

	cmp := CmpNone
	if compressed, err := util.GzipCompress(plaintext); err == nil && len(compressed) < len(plaintext) {
		plaintext = compressed
		cmp = CmpGzip
	}

	key, err := messageKey(sender.Private, recipientPublic)
	if err != nil {
		return nil, err
	}
	defer util.WipeBytes(key)

	ciphertext, err := util.EncryptAESWithAAD(plaintext, key, []byte(targetOrigin))
	if err != nil {
		return nil, fmt.Errorf("sealing snapshot: %w", err)
	}

	return &Bundle{
		Alg:          AlgX25519AESGCM,
		Cmp:          cmp,
		SenderPublic: util.Base64Encode(sender.Public[:]),
		Ciphertext:   util.Base64Encode(ciphertext),
		TargetOrigin: targetOrigin,
	}, nil
}

// Decrypt opens a bundle with the recipient's private key, requiring the
// origin it was sealed for to equal expectedTargetOrigin. Any
// authentication failure is reported as ErrDecrypt with no partial
// output.
func Decrypt(b *Bundle, recipientPrivate [32]byte, expectedTargetOrigin string) (*session.Snapshot, error) {
	if b.Alg != AlgX25519AESGCM {
		return nil, fmt.Errorf("unsupported cipher algorithm: %s", b.Alg)
	}
	senderPub, err := util.Base64Decode(b.SenderPublic)
	if err != nil || len(senderPub) != 32 {
		return nil, fmt.Errorf("invalid sender public key: %w", ErrDecrypt)
	}
	ciphertext, err := util.Base64Decode(b.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("invalid ciphertext encoding: %w", ErrDecrypt)
	}

	var pub [32]byte
	copy(pub[:], senderPub)
	key, err := messageKey(recipientPrivate, pub)
	if err != nil {
		return nil, err
	}
	defer util.WipeBytes(key)

	plaintext, err := util.DecryptAESWithAAD(ciphertext, key, []byte(expectedTargetOrigin))
	if err != nil {
		return nil, fmt.Errorf("opening envelope: %w", ErrDecrypt)
	}

	switch b.Cmp {
	case CmpGzip:
		plaintext, err = util.GzipDecompress(plaintext)
		if err != nil {
			return nil, err
		}
	case CmpNone, "":
		// uncompressed
	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %s", b.Cmp)
	}

	var snap session.Snapshot
	if err := json.Unmarshal(plaintext, &snap); err != nil {
		return nil, fmt.Errorf("decoding snapshot: %w", err)
	}
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Serialize renders a bundle as a single transport-safe string.
func Serialize(b *Bundle) (string, error) {
	raw, err := json.Marshal(b)
	if err != nil {
		return "", fmt.Errorf("encoding cipher bundle: %w", err)
	}
	return util.Base64Encode(raw), nil
}

// Deserialize is the exact inverse of Serialize.
func Deserialize(s string) (*Bundle, error) {
	raw, err := util.Base64Decode(s)
	if err != nil {
		return nil, fmt.Errorf("decoding cipher bundle: %w", err)
	}
	var b Bundle
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, fmt.Errorf("decoding cipher bundle: %w", err)
	}
	return &b, nil
}

// messageKey derives the per-message AEAD key from an X25519 shared
// secret stretched with HKDF-SHA256.
func messageKey(priv, pub [32]byte) ([]byte, error) {
	shared, err := util.SharedSecret(priv, pub)
	if err != nil {
		return nil, err
	}
	defer util.WipeArray32(&shared)
	return util.HKDF(shared[:], nil, hkdfInfo)
}
