package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultTimeout bounds every relay call so no handler blocks
// indefinitely on the network.
const DefaultTimeout = 15 * time.Second

// HTTPClient implements Client over the relay's JSON HTTP contract.
type HTTPClient struct {
	base    string
	http    *http.Client
	timeout time.Duration
}

var _ Client = (*HTTPClient)(nil)

// Option configures the HTTP client.
type Option func(*HTTPClient)

// WithHTTPClient overrides the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *HTTPClient) { c.http = hc }
}

// WithTimeout overrides the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *HTTPClient) { c.timeout = d }
}

// NewHTTP returns a client for the relay at base.
func NewHTTP(base string, opts ...Option) *HTTPClient {
	c := &HTTPClient{
		base:    strings.TrimRight(base, "/"),
		http:    http.DefaultClient,
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type registerBody struct {
	PublicKey  string `json:"publicKey"`
	AuthSecret string `json:"authSecret,omitempty"`
}

type registerResponse struct {
	AuthSecret string `json:"authSecret"`
}

func (c *HTTPClient) Register(ctx context.Context, username, publicKey, existingAuthSecret string) (string, error) {
	var out registerResponse
	body := registerBody{PublicKey: publicKey, AuthSecret: existingAuthSecret}
	if err := c.do(ctx, http.MethodPost, "/v1/users/"+url.PathEscape(username), body, &out); err != nil {
		return "", err
	}
	return out.AuthSecret, nil
}

type userKeyResponse struct {
	PublicKey string `json:"publicKey"`
}

func (c *HTTPClient) FetchUserKey(ctx context.Context, username string) (string, error) {
	var out userKeyResponse
	if err := c.do(ctx, http.MethodGet, "/v1/users/"+url.PathEscape(username), nil, &out); err != nil {
		return "", err
	}
	return out.PublicKey, nil
}

func (c *HTTPClient) Push(ctx context.Context, req PushRequest) error {
	return c.do(ctx, http.MethodPost, "/v1/inbox", req, nil)
}

type pollResponse struct {
	Items []InboxItem `json:"items"`
}

func (c *HTTPClient) PollInbox(ctx context.Context, recipient string, limit int) ([]InboxItem, error) {
	path := "/v1/inbox/poll?recipient=" + url.QueryEscape(recipient) + "&limit=" + strconv.Itoa(limit)
	var out pollResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

type ackBody struct {
	Recipient string   `json:"recipient"`
	IDs       []string `json:"ids"`
}

func (c *HTTPClient) AckInbox(ctx context.Context, recipient string, ids []string) error {
	return c.do(ctx, http.MethodPost, "/v1/inbox/ack", ackBody{Recipient: recipient, IDs: ids}, nil)
}

func (c *HTTPClient) FetchShare(ctx context.Context, token string) (Share, error) {
	var out Share
	if err := c.do(ctx, http.MethodGet, "/v1/shares/"+url.PathEscape(token), nil, &out); err != nil {
		return Share{}, err
	}
	return out, nil
}

func (c *HTTPClient) ConsumeShare(ctx context.Context, token string) error {
	return c.do(ctx, http.MethodPost, "/v1/shares/"+url.PathEscape(token)+"/consume", nil, nil)
}

func (c *HTTPClient) MarkSessionAccepted(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodPost, "/v1/sessions/"+url.PathEscape(sessionID)+"/accepted", nil, nil)
}

type requestsResponse struct {
	Items []PendingRequest `json:"items"`
}

func (c *HTTPClient) PollRequests(ctx context.Context, username, authSecret string, limit int) ([]PendingRequest, error) {
	path := "/v1/requests/poll?username=" + url.QueryEscape(username) +
		"&authSecret=" + url.QueryEscape(authSecret) +
		"&limit=" + strconv.Itoa(limit)
	var out requestsResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// do performs one time-bounded JSON request. Non-2xx responses become
// *APIError with the relay's message where it supplied one; everything
// network-shaped becomes *TransportError.
func (c *HTTPClient) do(ctx context.Context, method, path string, in, out any) error {
	op := method + " " + path
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body *bytes.Buffer
	if in != nil {
		body = new(bytes.Buffer)
		if err := json.NewEncoder(body).Encode(in); err != nil {
			return &TransportError{Op: op, Err: fmt.Errorf("encoding request: %w", err)}
		}
	} else {
		body = new(bytes.Buffer)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		var eb errorBody
		_ = json.NewDecoder(resp.Body).Decode(&eb)
		return &APIError{Status: resp.StatusCode, Message: eb.message(resp.StatusCode)}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &TransportError{Op: op, Err: fmt.Errorf("decoding response: %w", err)}
	}
	return nil
}
