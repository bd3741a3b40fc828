package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// Version is the CLI version, settable at build time.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "publicpass",
	Short: "PublicPass transfers authenticated browser sessions end-to-end encrypted",
	Long: `PublicPass lets an admin device hand an authenticated browser session
(cookies + storage) to a named recipient device through a relay server
that only ever sees encrypted bundles.`,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
