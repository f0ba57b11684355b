package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/patchin/backend/internal/cli/cliconfig"
)

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove the stored API key",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cliconfig.Clear(); err != nil {
			return fmt.Errorf("clearing config: %w", err)
		}
		fmt.Println("Logged out. The key still exists server-side; revoke it in the dashboard.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(logoutCmd)
}
