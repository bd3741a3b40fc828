package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/publicpass/publicpass/accept"
	browsermemory "github.com/publicpass/publicpass/browser/memory"
	"github.com/publicpass/publicpass/expiry"
)

var (
	acceptToken string
	acceptURL   string
)

var acceptCmd = &cobra.Command{
	Use:   "accept",
	Short: "Consume a direct-link share token once",
	RunE: func(cmd *cobra.Command, args []string) error {
		token := acceptToken
		if token == "" && acceptURL != "" {
			token = accept.TokenFromURL(acceptURL)
		}
		if token == "" {
			return fmt.Errorf("a token (--token) or session link (--url) is required")
		}

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
		m, err := accept.New(e.state, e.keys, rc, b, sched, accept.WithLogger(e.logger))
		if err != nil {
			return err
		}
		if err := m.HandleLink(cmd.Context(), token, 0); err != nil {
			return err
		}
		fmt.Println("Session accepted.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(acceptCmd)
	acceptCmd.Flags().StringVar(&acceptToken, "token", "", "Direct-link token")
	acceptCmd.Flags().StringVar(&acceptURL, "url", "", "Full session link URL")
}
