// Package api implements the reference relay server: a blind forwarder
// that stores identities, inbox items, and link shares, all cipher
// payloads opaque.
package api

import (
	_ "embed"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-openapi/runtime/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/publicpass/publicpass/storage"
)

// API holds the dependencies needed by the relay handlers.
type API struct {
	repo     storage.Repository
	validate *validator.Validate
	logger   *slog.Logger

	// mu serializes read-modify-write access to the per-recipient list
	// records (inbox, requests).
	mu sync.Mutex
}

//go:embed openapi.yaml
var openapiSpec []byte

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the structured logger.
// If not set, a default JSON logger writing to stderr is used.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) {
		a.logger = logger
	}
}

// New creates a new API instance over the given repository.
func New(repo storage.Repository, opts ...Option) *API {
	a := &API{
		repo:     repo,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	return a
}

// Router returns a chi.Router with all relay routes mounted.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})

	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: "/v1/openapi.yaml",
		Path:    "v1/docs",
	}, nil))

	r.Handle("/redoc*", middleware.Redoc(middleware.RedocOpts{
		SpecURL: "/v1/openapi.yaml",
		Path:    "v1/redoc",
	}, nil))

	r.Post("/users/{username}", a.RegisterUser)
	r.Get("/users/{username}", a.GetUserKey)

	r.Post("/inbox", a.PushInbox)
	r.Get("/inbox/poll", a.PollInbox)
	r.Post("/inbox/ack", a.AckInbox)

	r.Post("/shares", a.CreateShare)
	r.Get("/shares/{token}", a.GetShare)
	r.Post("/shares/{token}/consume", a.ConsumeShare)

	r.Post("/sessions/{sessionID}/accepted", a.MarkSessionAccepted)

	r.Post("/requests", a.CreateRequest)
	r.Get("/requests/poll", a.PollRequests)

	return r
}
