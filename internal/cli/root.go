package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/patchin/backend/internal/cli/api"
	"github.com/patchin/backend/internal/cli/cliconfig"
)

var (
	flagJSON      bool
	flagServerURL string

	cfg       *cliconfig.Config
	apiClient *api.Client
)

var rootCmd = &cobra.Command{
	Use:   "patchin",
	Short: "Patchin CLI — one API key for all your connected services",
	Long: `Patchin CLI talks to a Patchin broker. Connect your accounts once in
the dashboard, then call any provider API with a single key.

Get started:
  patchin login                        Authenticate via browser (device flow)
  patchin accounts                     List your connected accounts
  patchin request GET github/user      Call an upstream API`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = cliconfig.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if flagServerURL != "" {
			cfg.ServerURL = flagServerURL
		}
		apiClient = api.NewClient(cfg.ServerURL, cfg.APIKey)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "Output as JSON")
	rootCmd.PersistentFlags().StringVar(&flagServerURL, "server", "", "Override server URL (default: from config or http://localhost:8080)")
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

func requireAuth() error {
	if cfg == nil || !cfg.HasKey() {
		return fmt.Errorf("not authenticated — run \"patchin login\" first")
	}
	return nil
}
