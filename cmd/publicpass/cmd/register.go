package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/publicpass/publicpass/dispatch"
)

var (
	registerUsername string
	registerRelayURL string
)

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Register this device's identity with the relay",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv()
		if err != nil {
			return err
		}
		defer e.Close()

		settings, err := e.state.Settings()
		if err != nil {
			return err
		}
		if registerUsername != "" {
			settings.Username = registerUsername
		}
		if registerRelayURL != "" {
			settings.RelayBaseURL = registerRelayURL
		}
		if err := e.state.SaveSettings(settings); err != nil {
			return err
		}

		rc, err := e.relayClient()
		if err != nil {
			return err
		}
		d := dispatch.New(e.state, e.keys, rc, dispatch.WithLogger(e.logger))
		id, err := d.EnsureRegistered(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Registered %q (public key %s)\n", id.RegisteredUsername, id.PublicKeyBase64())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(registerCmd)
	registerCmd.Flags().StringVarP(&registerUsername, "username", "u", "", "Username to register under")
	registerCmd.Flags().StringVar(&registerRelayURL, "relay", "", "Relay base URL")
}
