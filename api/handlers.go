package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/publicpass/publicpass/authsecret"
	"github.com/publicpass/publicpass/internal/util"
	"github.com/publicpass/publicpass/relay"
	"github.com/publicpass/publicpass/storage"
)

// RegisterUser registers a new identity or rotates an existing one. An
// existing registration can only be updated by presenting its current
// auth secret.
func (a *API) RegisterUser(w http.ResponseWriter, r *http.Request) {
	username := util.Normalize(chi.URLParam(r, "username"))
	var req registerRequest
	if !a.decodeAndValidate(w, r, &req) {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	var existing userRecord
	err := a.repo.Get(bucketUsers, username, &existing)
	switch {
	case err == nil:
		if req.AuthSecret == "" || !authsecret.Equal(req.AuthSecret, existing.AuthSecret) {
			writeError(w, http.StatusForbidden, "username already registered")
			return
		}
	case errors.Is(err, storage.ErrNotFound):
		// first registration
	default:
		a.serverError(w, "loading user", err)
		return
	}

	secret, err := authsecret.New()
	if err != nil {
		a.serverError(w, "generating auth secret", err)
		return
	}
	rec := userRecord{PublicKey: req.PublicKey, AuthSecret: secret.String()}
	if err := a.repo.Put(bucketUsers, username, rec); err != nil {
		a.serverError(w, "saving user", err)
		return
	}
	a.logger.Info("identity registered", "username", username, "secretId", secret.ID())
	writeJSON(w, http.StatusOK, registerResponse{AuthSecret: secret.String()})
}

// GetUserKey returns the registered public key for a username.
func (a *API) GetUserKey(w http.ResponseWriter, r *http.Request) {
	username := util.Normalize(chi.URLParam(r, "username"))
	var rec userRecord
	if err := a.repo.Get(bucketUsers, username, &rec); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		a.serverError(w, "loading user", err)
		return
	}
	writeJSON(w, http.StatusOK, userKeyResponse{PublicKey: rec.PublicKey})
}

// PushInbox enqueues a cipher bundle for a registered recipient.
func (a *API) PushInbox(w http.ResponseWriter, r *http.Request) {
	var req pushRequest
	if !a.decodeAndValidate(w, r, &req) {
		return
	}
	if req.Cipher == "" && !req.Meta.IsRevoke() {
		writeError(w, http.StatusBadRequest, "invalid field: Cipher")
		return
	}
	recipient := util.Normalize(req.Recipient)

	a.mu.Lock()
	defer a.mu.Unlock()

	var user userRecord
	if err := a.repo.Get(bucketUsers, recipient, &user); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "recipient not found")
			return
		}
		a.serverError(w, "loading recipient", err)
		return
	}

	ttl := defaultTTL
	if req.TTLSec > 0 {
		ttl = time.Duration(req.TTLSec) * time.Second
	}
	rec := inboxRecord{
		ID:        uuid.NewString(),
		Cipher:    req.Cipher,
		Alg:       req.Alg,
		Cmp:       req.Cmp,
		Meta:      req.Meta,
		ExpiresAt: time.Now().Add(ttl),
	}

	var items []inboxRecord
	if err := a.getList(bucketInbox, recipient, &items); err != nil {
		a.serverError(w, "loading inbox", err)
		return
	}
	items = append(items, rec)
	if err := a.repo.Put(bucketInbox, recipient, items); err != nil {
		a.serverError(w, "saving inbox", err)
		return
	}
	a.logger.Info("inbox push", "recipient", recipient, "id", rec.ID, "type", rec.Meta.Type)
	writeJSON(w, http.StatusOK, pushResponse{ID: rec.ID})
}

// PollInbox returns the unexpired queued items for a recipient, oldest
// first, up to limit.
func (a *API) PollInbox(w http.ResponseWriter, r *http.Request) {
	recipient := util.Normalize(r.URL.Query().Get("recipient"))
	if recipient == "" {
		writeError(w, http.StatusBadRequest, "recipient is required")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 10
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	var items []inboxRecord
	if err := a.getList(bucketInbox, recipient, &items); err != nil {
		a.serverError(w, "loading inbox", err)
		return
	}

	now := time.Now()
	live := items[:0]
	for _, it := range items {
		if it.ExpiresAt.After(now) {
			live = append(live, it)
		}
	}
	if len(live) != len(items) {
		if err := a.repo.Put(bucketInbox, recipient, live); err != nil {
			a.serverError(w, "saving inbox", err)
			return
		}
	}

	out := pollResponse{Items: []relay.InboxItem{}}
	for _, it := range live {
		if len(out.Items) == limit {
			break
		}
		out.Items = append(out.Items, relay.InboxItem{ID: it.ID, Cipher: it.Cipher, Meta: it.Meta})
	}
	writeJSON(w, http.StatusOK, out)
}

// AckInbox removes acknowledged items from further delivery.
func (a *API) AckInbox(w http.ResponseWriter, r *http.Request) {
	var req ackRequest
	if !a.decodeAndValidate(w, r, &req) {
		return
	}
	recipient := util.Normalize(req.Recipient)

	acked := make(map[string]struct{}, len(req.IDs))
	for _, id := range req.IDs {
		acked[id] = struct{}{}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	var items []inboxRecord
	if err := a.getList(bucketInbox, recipient, &items); err != nil {
		a.serverError(w, "loading inbox", err)
		return
	}
	remaining := items[:0]
	for _, it := range items {
		if _, ok := acked[it.ID]; !ok {
			remaining = append(remaining, it)
		}
	}
	if err := a.repo.Put(bucketInbox, recipient, remaining); err != nil {
		a.serverError(w, "saving inbox", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CreateShare mints a one-shot link token for a cipher bundle.
func (a *API) CreateShare(w http.ResponseWriter, r *http.Request) {
	var req createShareRequest
	if !a.decodeAndValidate(w, r, &req) {
		return
	}
	ttl := defaultTTL
	if req.TTLSec > 0 {
		ttl = time.Duration(req.TTLSec) * time.Second
	}
	token := uuid.NewString()
	rec := shareRecord{
		Cipher:    req.Cipher,
		Alg:       req.Alg,
		Cmp:       req.Cmp,
		Meta:      req.Meta,
		ExpiresAt: time.Now().Add(ttl),
	}
	if err := a.repo.Put(bucketShares, token, rec); err != nil {
		a.serverError(w, "saving share", err)
		return
	}
	a.logger.Info("share created", "token", token, "origin", rec.Meta.TargetOrigin)
	writeJSON(w, http.StatusOK, createShareResponse{Token: token})
}

// GetShare returns the cipher bundle behind an unconsumed link token.
func (a *API) GetShare(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	var rec shareRecord
	if err := a.repo.Get(bucketShares, token, &rec); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "share not found")
			return
		}
		a.serverError(w, "loading share", err)
		return
	}
	if rec.Consumed || rec.ExpiresAt.Before(time.Now()) {
		writeError(w, http.StatusNotFound, "share not found")
		return
	}
	writeJSON(w, http.StatusOK, shareResponse{Cipher: rec.Cipher, Meta: rec.Meta})
}

// ConsumeShare marks a link token as spent. One-shot: a second consume
// fails.
func (a *API) ConsumeShare(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	a.mu.Lock()
	defer a.mu.Unlock()

	var rec shareRecord
	if err := a.repo.Get(bucketShares, token, &rec); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "share not found")
			return
		}
		a.serverError(w, "loading share", err)
		return
	}
	if rec.Consumed {
		writeError(w, http.StatusConflict, "share already consumed")
		return
	}
	rec.Consumed = true
	if err := a.repo.Put(bucketShares, token, rec); err != nil {
		a.serverError(w, "saving share", err)
		return
	}
	a.logger.Info("share consumed", "token", token)
	w.WriteHeader(http.StatusNoContent)
}

// MarkSessionAccepted records best-effort acceptance bookkeeping.
func (a *API) MarkSessionAccepted(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	rec := sessionRecord{AcceptedAt: time.Now()}
	if err := a.repo.Put(bucketSessions, sessionID, rec); err != nil {
		a.serverError(w, "saving session", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CreateRequest queues an access request for an admin to review.
func (a *API) CreateRequest(w http.ResponseWriter, r *http.Request) {
	var req createRequestRequest
	if !a.decodeAndValidate(w, r, &req) {
		return
	}
	username := util.Normalize(req.Username)

	a.mu.Lock()
	defer a.mu.Unlock()

	var items []relay.PendingRequest
	if err := a.getList(bucketRequests, username, &items); err != nil {
		a.serverError(w, "loading requests", err)
		return
	}
	items = append(items, relay.PendingRequest{
		ID:        uuid.NewString(),
		Username:  username,
		Origin:    req.Origin,
		Comment:   req.Comment,
		CreatedAt: time.Now().Unix(),
	})
	if err := a.repo.Put(bucketRequests, username, items); err != nil {
		a.serverError(w, "saving requests", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PollRequests returns and clears the pending requests for an admin,
// authenticated by auth secret.
func (a *API) PollRequests(w http.ResponseWriter, r *http.Request) {
	username := util.Normalize(r.URL.Query().Get("username"))
	authSecret := r.URL.Query().Get("authSecret")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 50
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	var user userRecord
	if err := a.repo.Get(bucketUsers, username, &user); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		a.serverError(w, "loading user", err)
		return
	}
	if authSecret == "" || !authsecret.Equal(authSecret, user.AuthSecret) {
		writeError(w, http.StatusForbidden, "invalid auth secret")
		return
	}

	var items []relay.PendingRequest
	if err := a.getList(bucketRequests, username, &items); err != nil {
		a.serverError(w, "loading requests", err)
		return
	}
	out := items
	var rest []relay.PendingRequest
	if len(items) > limit {
		out = items[:limit]
		rest = items[limit:]
	}
	if err := a.repo.Put(bucketRequests, username, rest); err != nil {
		a.serverError(w, "saving requests", err)
		return
	}
	if out == nil {
		out = []relay.PendingRequest{}
	}
	writeJSON(w, http.StatusOK, requestsResponse{Items: out})
}

// getList loads a list record, treating a missing record as empty.
func (a *API) getList(bucket, key string, out any) error {
	err := a.repo.Get(bucket, key, out)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	return err
}

func (a *API) serverError(w http.ResponseWriter, op string, err error) {
	a.logger.Error(op, "error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}
