package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/publicpass/publicpass/keystore"
	"github.com/publicpass/publicpass/relay"
	"github.com/publicpass/publicpass/state"
	bboltstorage "github.com/publicpass/publicpass/storage/bbolt"
)

var dataDir string

func init() {
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "./data", "Directory for persistent state")
}

// env bundles the local stores every device-side command needs.
type env struct {
	repo   *bboltstorage.Store
	state  *state.Store
	keys   *keystore.Store
	logger *slog.Logger
}

func openEnv() (*env, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	repo, err := bboltstorage.NewRepositoryFromFile(dataDir+"/agent.db", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open agent state: %w", err)
	}
	return &env{
		repo:   repo,
		state:  state.New(repo),
		keys:   keystore.New(repo),
		logger: slog.New(slog.NewJSONHandler(os.Stderr, nil)),
	}, nil
}

func (e *env) Close() error {
	return e.repo.Close()
}

// relayClient builds a client for the configured relay.
func (e *env) relayClient() (relay.Client, error) {
	settings, err := e.state.Settings()
	if err != nil {
		return nil, err
	}
	return relay.NewHTTP(settings.RelayBaseURL), nil
}
