package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/patchin/backend/internal/cli/api"
	"github.com/patchin/backend/internal/cli/output"
)

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "List accounts reachable with the stored API key",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireAuth(); err != nil {
			return err
		}

		var resp api.AccountsResponse
		if err := apiClient.Get("/v1/accounts", &resp); err != nil {
			return fmt.Errorf("listing accounts: %w", err)
		}

		if flagJSON {
			output.JSON(resp.Accounts)
			return nil
		}
		output.AccountTable(resp.Accounts)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(accountsCmd)
}
