package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/publicpass/publicpass/accept"
	browsermemory "github.com/publicpass/publicpass/browser/memory"
	"github.com/publicpass/publicpass/dispatch"
	"github.com/publicpass/publicpass/expiry"
)

var (
	pollInterval time.Duration
	adminMode    bool
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run the receiver agent: poll the inbox and execute expiry jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv()
		if err != nil {
			return err
		}
		defer e.Close()

		rc, err := e.relayClient()
		if err != nil {
			return err
		}

		b := browsermemory.New()
		sched := expiry.New(e.state, b, expiry.WithLogger(e.logger))
		if err := sched.Restore(); err != nil {
			return fmt.Errorf("restoring logout jobs: %w", err)
		}
		m, err := accept.New(e.state, e.keys, rc, b, sched, accept.WithLogger(e.logger))
		if err != nil {
			return err
		}
		d := dispatch.New(e.state, e.keys, rc, dispatch.WithLogger(e.logger))

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		printBanner()
		fmt.Printf("Agent started (poll interval %s, data: %s)\n", pollInterval, dataDir)

		// Poll immediately on startup for quicker reaction to revokes,
		// then on the timer.
		poll := func() {
			if err := m.PollInboxOnce(ctx); err != nil {
				e.logger.Warn("inbox poll failed", "error", err)
			}
			if adminMode {
				count, err := d.PollRequestsOnce(ctx)
				if err != nil {
					e.logger.Warn("requests poll failed", "error", err)
				} else if count > 0 {
					e.logger.Info("requests awaiting review", "count", count)
				}
			}
		}
		poll()

		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				poll()
			case <-ctx.Done():
				fmt.Println("\nShutting down...")
				return nil
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(agentCmd)
	agentCmd.Flags().DurationVar(&pollInterval, "poll-interval", 3*time.Minute, "Inbox poll interval")
	agentCmd.Flags().BoolVar(&adminMode, "admin", false, "Also poll pending access requests addressed to this user")
}
