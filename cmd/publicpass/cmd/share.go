package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/publicpass/publicpass/dispatch"
	"github.com/publicpass/publicpass/session"
)

var (
	shareRecipient string
	shareSnapshot  string
	shareComment   string
	shareDuration  int
)

var shareCmd = &cobra.Command{
	Use:   "share",
	Short: "Encrypt a captured session snapshot and push it to a recipient's inbox",
	Long: `Reads a captured session snapshot (JSON) and shares it with the named
recipient. The snapshot is encrypted to the recipient's public key
before it leaves this device; the relay only ever sees the cipher
bundle.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := os.ReadFile(shareSnapshot)
		if err != nil {
			return fmt.Errorf("reading snapshot: %w", err)
		}
		var snap session.Snapshot
		if err := json.Unmarshal(raw, &snap); err != nil {
			return fmt.Errorf("decoding snapshot: %w", err)
		}
		if err := snap.Validate(); err != nil {
			return err
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
		d := dispatch.New(e.state, e.keys, rc, dispatch.WithLogger(e.logger))
		if err := d.ShareSnapshot(cmd.Context(), &snap, shareRecipient, shareComment, shareDuration); err != nil {
			return err
		}
		fmt.Printf("Session for %s shared with %q\n", snap.TargetOrigin, shareRecipient)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(shareCmd)
	shareCmd.Flags().StringVarP(&shareRecipient, "recipient", "r", "", "Recipient username")
	shareCmd.Flags().StringVarP(&shareSnapshot, "snapshot", "s", "", "Path to the captured snapshot JSON")
	shareCmd.Flags().StringVarP(&shareComment, "comment", "c", "", "Comment shown to the recipient")
	shareCmd.Flags().IntVarP(&shareDuration, "duration", "d", 0, "Auto-logout after this many seconds (0 = never)")
	shareCmd.MarkFlagRequired("recipient")
	shareCmd.MarkFlagRequired("snapshot")
}
