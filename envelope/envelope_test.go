package envelope

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/publicpass/publicpass/internal/util"
	"github.com/publicpass/publicpass/session"
)

func testSnapshot() *session.Snapshot {
	return &session.Snapshot{
		FormatVersion: session.FormatVersion,
		CapturedAt:    time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		TargetOrigin:  "https://app.example.com",
		TargetPath:    "/dashboard",
		Cookies: []session.CookieRecord{
			{Name: "sid", Value: "secret-session-id", Domain: ".example.com", Path: "/", Secure: true, HTTPOnly: true},
		},
		LocalStorage:   []session.StorageEntry{{Key: "theme", Value: "dark"}},
		SessionStorage: []session.StorageEntry{{Key: "csrf", Value: "tok"}},
	}
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	sender, err := util.GenerateX25519Keypair()
	require.NoError(t, err)
	recipient, err := util.GenerateX25519Keypair()
	require.NoError(t, err)

	snap := testSnapshot()
	bundle, err := Encrypt(snap, sender, recipient.Public, snap.TargetOrigin)
	require.NoError(t, err)

	require.Equal(t, AlgX25519AESGCM, bundle.Alg)
	require.Equal(t, snap.TargetOrigin, bundle.TargetOrigin)
	require.NotContains(t, bundle.Ciphertext, "secret-session-id")

	got, err := Decrypt(bundle, recipient.Private, snap.TargetOrigin)
	require.NoError(t, err)
	require.Equal(t, snap.Cookies, got.Cookies)
	require.Equal(t, snap.LocalStorage, got.LocalStorage)
	require.Equal(t, snap.SessionStorage, got.SessionStorage)
	require.Equal(t, snap.TargetOrigin, got.TargetOrigin)
}

func TestDecrypt_WrongRecipient(t *testing.T) {
	sender, _ := util.GenerateX25519Keypair()
	recipient, _ := util.GenerateX25519Keypair()
	other, _ := util.GenerateX25519Keypair()

	snap := testSnapshot()
	bundle, err := Encrypt(snap, sender, recipient.Public, snap.TargetOrigin)
	require.NoError(t, err)

	_, err = Decrypt(bundle, other.Private, snap.TargetOrigin)
	require.ErrorIs(t, err, ErrDecrypt)
}

func TestDecrypt_OriginBinding(t *testing.T) {
	sender, _ := util.GenerateX25519Keypair()
	recipient, _ := util.GenerateX25519Keypair()

	snap := testSnapshot()
	bundle, err := Encrypt(snap, sender, recipient.Public, snap.TargetOrigin)
	require.NoError(t, err)

	// Right key, wrong origin: must fail authentication.
	_, err = Decrypt(bundle, recipient.Private, "https://evil.example.com")
	require.ErrorIs(t, err, ErrDecrypt)
}

func TestDecrypt_Tampered(t *testing.T) {
	sender, _ := util.GenerateX25519Keypair()
	recipient, _ := util.GenerateX25519Keypair()

	snap := testSnapshot()
	bundle, err := Encrypt(snap, sender, recipient.Public, snap.TargetOrigin)
	require.NoError(t, err)

	raw, err := util.Base64Decode(bundle.Ciphertext)
	require.NoError(t, err)
	raw[len(raw)/2] ^= 0x01
	bundle.Ciphertext = util.Base64Encode(raw)

	_, err = Decrypt(bundle, recipient.Private, snap.TargetOrigin)
	require.ErrorIs(t, err, ErrDecrypt)
}

func TestDecrypt_BadBundleFields(t *testing.T) {
	sender, _ := util.GenerateX25519Keypair()
	recipient, _ := util.GenerateX25519Keypair()

	snap := testSnapshot()
	good, err := Encrypt(snap, sender, recipient.Public, snap.TargetOrigin)
	require.NoError(t, err)

	t.Run("UnknownAlg", func(t *testing.T) {
		b := *good
		b.Alg = "rot13"
		_, err := Decrypt(&b, recipient.Private, snap.TargetOrigin)
		require.Error(t, err)
		require.NotErrorIs(t, err, ErrDecrypt)
	})

	t.Run("BadSenderKey", func(t *testing.T) {
		b := *good
		b.SenderPublic = "not base64!"
		_, err := Decrypt(&b, recipient.Private, snap.TargetOrigin)
		require.ErrorIs(t, err, ErrDecrypt)
	})

	t.Run("UnknownCompression", func(t *testing.T) {
		b := *good
		b.Cmp = "brotli"
		_, err := Decrypt(&b, recipient.Private, snap.TargetOrigin)
		require.Error(t, err)
	})
}

func TestEncrypt_CompressesLargePayloads(t *testing.T) {
	sender, _ := util.GenerateX25519Keypair()
	recipient, _ := util.GenerateX25519Keypair()

	snap := testSnapshot()
	snap.LocalStorage = []session.StorageEntry{
		{Key: "blob", Value: strings.Repeat("repetitive state ", 500)},
	}

	bundle, err := Encrypt(snap, sender, recipient.Public, snap.TargetOrigin)
	require.NoError(t, err)
	require.Equal(t, CmpGzip, bundle.Cmp)

	got, err := Decrypt(bundle, recipient.Private, snap.TargetOrigin)
	require.NoError(t, err)
	require.Equal(t, snap.LocalStorage, got.LocalStorage)
}

func TestSerializeDeserialize(t *testing.T) {
	sender, _ := util.GenerateX25519Keypair()
	recipient, _ := util.GenerateX25519Keypair()

	snap := testSnapshot()
	bundle, err := Encrypt(snap, sender, recipient.Public, snap.TargetOrigin)
	require.NoError(t, err)

	s, err := Serialize(bundle)
	require.NoError(t, err)

	got, err := Deserialize(s)
	require.NoError(t, err)
	require.Equal(t, bundle, got)

	_, err = Deserialize("%%% not base64 %%%")
	require.Error(t, err)

	bad := util.Base64Encode([]byte("not json"))
	_, err = Deserialize(bad)
	require.Error(t, err)
}

func TestDecrypt_ValidatesSnapshot(t *testing.T) {
	sender, _ := util.GenerateX25519Keypair()
	recipient, _ := util.GenerateX25519Keypair()

	snap := testSnapshot()
	snap.FormatVersion = 42
	bundle, err := Encrypt(snap, sender, recipient.Public, snap.TargetOrigin)
	require.NoError(t, err)

	_, err = Decrypt(bundle, recipient.Private, snap.TargetOrigin)
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrDecrypt))
}
