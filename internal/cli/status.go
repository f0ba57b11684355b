package cli

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/patchin/backend/internal/cli/api"
	"github.com/patchin/backend/internal/cli/cliconfig"
	"github.com/patchin/backend/internal/cli/output"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show connection status and the configured server",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cliconfig.Path()

		if flagJSON {
			status := map[string]any{
				"server":        cfg.ServerURL,
				"config":        configPath,
				"authenticated": false,
			}
			if cfg.HasKey() {
				var resp api.AccountsResponse
				if err := apiClient.Get("/v1/accounts", &resp); err == nil {
					status["authenticated"] = true
					status["accounts"] = len(resp.Accounts)
				}
			}
			output.JSON(status)
			return nil
		}

		fmt.Printf("Server:  %s\n", cfg.ServerURL)
		fmt.Printf("Config:  %s\n", configPath)

		if !cfg.HasKey() {
			fmt.Println("Status:  not authenticated — run \"patchin login\"")
			return nil
		}

		var resp api.AccountsResponse
		if err := apiClient.Get("/v1/accounts", &resp); err != nil {
			var apiErr *api.APIError
			if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
				fmt.Println("Status:  stored key was rejected — run \"patchin login\" again")
				return nil
			}
			return fmt.Errorf("checking key: %w", err)
		}

		fmt.Printf("Status:  authenticated, %d account(s) connected\n", len(resp.Accounts))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
