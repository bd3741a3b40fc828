// Package keystore persists and lazily creates the device's asymmetric
// identity. The private key is held in a memguard Enclave while resident
// in memory and never leaves the device.
package keystore

import (
	"errors"
	"fmt"

	"github.com/awnumar/memguard"

	"github.com/publicpass/publicpass/internal/util"
	"github.com/publicpass/publicpass/storage"
)

const (
	bucket      = "agent"
	identityKey = "identity"
)

// identityRecord is the persisted form of the device identity.
type identityRecord struct {
	PrivateKey         string `json:"identityPrivateKey"`
	PublicKey          string `json:"identityPublicKey"`
	RegisteredUsername string `json:"registeredUsername,omitempty"`
	AuthSecret         string `json:"authSecret,omitempty"`
}

// Identity is the device identity: an X25519 keypair plus the relay
// registration state. The private half is enclave-protected.
type Identity struct {
	private            *memguard.Enclave
	Public             [32]byte
	RegisteredUsername string
	AuthSecret         string
}

// PublicKeyBase64 returns the transport form of the public key.
func (id *Identity) PublicKeyBase64() string {
	return util.Base64Encode(id.Public[:])
}

// Private opens the enclave and returns a copy of the private key.
// Callers should wipe the copy with util.WipeArray32 when done.
func (id *Identity) Private() ([32]byte, error) {
	buf, err := id.private.Open()
	if err != nil {
		return [32]byte{}, fmt.Errorf("opening identity enclave: %w", err)
	}
	defer buf.Destroy()
	var priv [32]byte
	copy(priv[:], buf.Bytes())
	return priv, nil
}

// Store persists device identities.
type Store struct {
	repo storage.Repository
}

// New returns a key store over the given repository.
func New(repo storage.Repository) *Store {
	return &Store{repo: repo}
}

// EnsureIdentity returns the persisted identity, generating and
// persisting a fresh keypair on first use. It never regenerates an
// existing keypair; doing so would orphan sessions encrypted to the old
// public key.
func (s *Store) EnsureIdentity() (*Identity, error) {
	var rec identityRecord
	err := s.repo.Get(bucket, identityKey, &rec)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("loading identity: %w", err)
	}
	if rec.PrivateKey != "" && rec.PublicKey != "" {
		return fromRecord(rec)
	}

	pair, err := util.GenerateX25519Keypair()
	if err != nil {
		return nil, err
	}
	rec.PrivateKey = util.Base64Encode(pair.Private[:])
	rec.PublicKey = util.Base64Encode(pair.Public[:])
	if err := s.repo.Put(bucket, identityKey, rec); err != nil {
		return nil, fmt.Errorf("persisting identity: %w", err)
	}

	id := &Identity{
		private:            memguard.NewEnclave(pair.Private[:]),
		Public:             pair.Public,
		RegisteredUsername: rec.RegisteredUsername,
		AuthSecret:         rec.AuthSecret,
	}
	util.WipeArray32(&pair.Private)
	return id, nil
}

// SaveRegistration records the username and auth secret issued by the
// relay, keeping the keypair untouched.
func (s *Store) SaveRegistration(id *Identity, username, authSecret string) error {
	priv, err := id.Private()
	if err != nil {
		return err
	}
	rec := identityRecord{
		PrivateKey:         util.Base64Encode(priv[:]),
		PublicKey:          util.Base64Encode(id.Public[:]),
		RegisteredUsername: username,
		AuthSecret:         authSecret,
	}
	util.WipeArray32(&priv)
	if err := s.repo.Put(bucket, identityKey, rec); err != nil {
		return fmt.Errorf("persisting registration: %w", err)
	}
	id.RegisteredUsername = username
	id.AuthSecret = authSecret
	return nil
}

func fromRecord(rec identityRecord) (*Identity, error) {
	privBytes, err := util.Base64Decode(rec.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("decoding private key: %w", err)
	}
	pubBytes, err := util.Base64Decode(rec.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("decoding public key: %w", err)
	}
	if len(privBytes) != 32 || len(pubBytes) != 32 {
		return nil, errors.New("identity key material has wrong length")
	}
	id := &Identity{
		private:            memguard.NewEnclave(privBytes),
		RegisteredUsername: rec.RegisteredUsername,
		AuthSecret:         rec.AuthSecret,
	}
	copy(id.Public[:], pubBytes)
	return id, nil
}
