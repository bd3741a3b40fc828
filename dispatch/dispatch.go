// Package dispatch implements the sender side of the protocol: resolve
// settings, ensure the identity is registered, capture the session,
// encrypt it to the recipient, and push it to their inbox.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/publicpass/publicpass/browser"
	"github.com/publicpass/publicpass/capture"
	"github.com/publicpass/publicpass/envelope"
	"github.com/publicpass/publicpass/internal/util"
	"github.com/publicpass/publicpass/keystore"
	"github.com/publicpass/publicpass/relay"
	"github.com/publicpass/publicpass/session"
	"github.com/publicpass/publicpass/state"
)

// ErrRecipientNotFound indicates the recipient has no registered key.
var ErrRecipientNotFound = errors.New("recipient not found")

// Dispatcher shares captured sessions through the relay.
type Dispatcher struct {
	state  *state.Store
	keys   *keystore.Store
	relay  relay.Client
	logger *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = logger }
}

// New creates a Dispatcher.
func New(st *state.Store, keys *keystore.Store, rc relay.Client, opts ...Option) *Dispatcher {
	d := &Dispatcher{state: st, keys: keys, relay: rc, logger: slog.Default()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// EnsureRegistered makes sure the local identity is registered under the
// configured username. Registration is skipped only when the currently
// registered username matches and an auth secret is already held;
// otherwise it (re)registers, passing the existing secret when the
// username is unchanged so the relay can rotate rather than mint a new
// identity.
func (d *Dispatcher) EnsureRegistered(ctx context.Context) (*keystore.Identity, error) {
	settings, err := d.state.Settings()
	if err != nil {
		return nil, err
	}
	username := util.Normalize(strings.TrimSpace(settings.Username))
	if username == "" {
		return nil, state.ErrNoUsername
	}

	id, err := d.keys.EnsureIdentity()
	if err != nil {
		return nil, err
	}
	if id.RegisteredUsername == username && id.AuthSecret != "" {
		return id, nil
	}

	existingSecret := ""
	if id.AuthSecret != "" && id.RegisteredUsername == username {
		existingSecret = id.AuthSecret
	}
	secret, err := d.relay.Register(ctx, username, id.PublicKeyBase64(), existingSecret)
	if err != nil {
		return nil, fmt.Errorf("registering identity: %w", err)
	}
	if secret == "" {
		secret = id.AuthSecret
	}
	if err := d.keys.SaveRegistration(id, username, secret); err != nil {
		return nil, err
	}
	d.logger.Info("identity registered", "username", username)
	return id, nil
}

// ShareSession captures the given tab and shares it with the recipient.
func (d *Dispatcher) ShareSession(ctx context.Context, cookies browser.CookieStore, pages browser.PageStorage, tab browser.Tab, recipient, comment string, sessionDurationSec int) error {
	id, err := d.EnsureRegistered(ctx)
	if err != nil {
		return err
	}
	snap, err := capture.Snapshot(ctx, cookies, pages, tab)
	if err != nil {
		return err
	}
	return d.shareSnapshot(ctx, id, snap, recipient, comment, sessionDurationSec)
}

// ShareSnapshot shares an already-captured snapshot with the recipient.
func (d *Dispatcher) ShareSnapshot(ctx context.Context, snap *session.Snapshot, recipient, comment string, sessionDurationSec int) error {
	id, err := d.EnsureRegistered(ctx)
	if err != nil {
		return err
	}
	return d.shareSnapshot(ctx, id, snap, recipient, comment, sessionDurationSec)
}

func (d *Dispatcher) shareSnapshot(ctx context.Context, id *keystore.Identity, snap *session.Snapshot, recipient, comment string, sessionDurationSec int) error {
	settings, err := d.state.Settings()
	if err != nil {
		return err
	}
	recipient = util.Normalize(strings.TrimSpace(recipient))

	recipientKey, err := d.relay.FetchUserKey(ctx, recipient)
	if err != nil {
		var apiErr *relay.APIError
		if errors.As(err, &apiErr) && apiErr.Status == 404 {
			return fmt.Errorf("%s: %w", recipient, ErrRecipientNotFound)
		}
		return fmt.Errorf("fetching recipient key: %w", err)
	}
	pubBytes, err := util.Base64Decode(recipientKey)
	if err != nil || len(pubBytes) != 32 {
		return fmt.Errorf("recipient %s has an invalid public key", recipient)
	}
	var recipientPub [32]byte
	copy(recipientPub[:], pubBytes)

	priv, err := id.Private()
	if err != nil {
		return err
	}
	pair := util.KeyPair{Private: priv, Public: id.Public}
	bundle, err := envelope.Encrypt(snap, pair, recipientPub, snap.TargetOrigin)
	util.WipeArray32(&priv)
	util.WipeArray32(&pair.Private)
	if err != nil {
		return err
	}

	cipher, err := envelope.Serialize(bundle)
	if err != nil {
		return err
	}
	push := relay.PushRequest{
		Recipient: recipient,
		Cipher:    cipher,
		Alg:       bundle.Alg,
		Cmp:       bundle.Cmp,
		TTLSec:    settings.TTLSeconds,
		Meta: relay.Meta{
			TargetOrigin:       snap.TargetOrigin,
			TargetPath:         snap.TargetPath,
			Sender:             id.RegisteredUsername,
			Comment:            strings.TrimSpace(comment),
			SessionDurationSec: sessionDurationSec,
		},
	}
	if err := d.relay.Push(ctx, push); err != nil {
		return fmt.Errorf("pushing to inbox: %w", err)
	}
	d.logger.Info("session shared",
		"recipient", recipient,
		"origin", snap.TargetOrigin,
		"cookies", len(snap.Cookies),
		"durationSec", sessionDurationSec)
	return nil
}

// PollRequestsOnce fetches pending access requests addressed to the
// local admin and returns how many are waiting. A missing username is
// not an error here; the caller simply has nothing to poll.
func (d *Dispatcher) PollRequestsOnce(ctx context.Context) (int, error) {
	settings, err := d.state.Settings()
	if err != nil {
		return 0, err
	}
	username := util.Normalize(strings.TrimSpace(settings.Username))
	if username == "" {
		return 0, nil
	}
	id, err := d.keys.EnsureIdentity()
	if err != nil {
		return 0, err
	}
	items, err := d.relay.PollRequests(ctx, username, id.AuthSecret, 50)
	if err != nil {
		return 0, err
	}
	return len(items), nil
}
