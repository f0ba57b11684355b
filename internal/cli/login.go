package cli

import (
	"errors"
	"fmt"
	"net/http"
	"os/exec"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/patchin/backend/internal/cli/api"
	"github.com/patchin/backend/internal/cli/cliconfig"
)

var flagKey string

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authenticate with your Patchin broker",
	Long: `Authenticate using either an existing API key or the device flow.

API Key:
  patchin login --key pk_abc123...

Device Flow (default):
  patchin login
  Opens your browser to approve the CLI and mint a key.`,
	RunE: runLogin,
}

func init() {
	loginCmd.Flags().StringVar(&flagKey, "key", "", "API key (pk_...) for direct authentication")
	rootCmd.AddCommand(loginCmd)
}

func runLogin(cmd *cobra.Command, args []string) error {
	if flagKey != "" {
		return loginWithKey(flagKey)
	}
	return loginDeviceFlow()
}

func loginWithKey(key string) error {
	// Validate the key by listing accounts.
	client := api.NewClient(cfg.ServerURL, key)
	var accounts api.AccountsResponse
	if err := client.Get("/v1/accounts", &accounts); err != nil {
		var apiErr *api.APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
			return fmt.Errorf("invalid API key — server returned 401")
		}
		return fmt.Errorf("validating key: %w", err)
	}

	cfg.APIKey = key
	if err := cliconfig.Save(cfg); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}

	fmt.Printf("Logged in. %d account(s) available.\n", len(accounts.Accounts))
	return nil
}

func loginDeviceFlow() error {
	client := api.NewClient(cfg.ServerURL, "")

	var deviceResp api.DeviceCodeResponse
	if err := client.Post("/auth/device/", nil, &deviceResp); err != nil {
		return fmt.Errorf("requesting device code: %w", err)
	}

	fmt.Printf("Opening browser to complete authentication...\n")
	fmt.Printf("If the browser doesn't open, visit:\n  %s\n\n", deviceResp.VerificationURL)

	_ = openBrowser(deviceResp.VerificationURL)

	interval := time.Duration(deviceResp.Interval) * time.Second
	if interval < 5*time.Second {
		interval = 5 * time.Second
	}
	attempts := deviceResp.ExpiresIn/deviceResp.Interval + 1

	fmt.Print("Waiting for approval...")

	for i := 0; i < attempts; i++ {
		time.Sleep(interval)

		var tokenResp api.DeviceTokenResponse
		err := client.Post("/auth/device/token", map[string]string{
			"device_code": deviceResp.DeviceCode,
		}, &tokenResp)
		if err != nil {
			var apiErr *api.APIError
			if errors.As(err, &apiErr) {
				if apiErr.Status == http.StatusNotFound {
					fmt.Println()
					return fmt.Errorf("device code not recognized — please try again")
				}
			}
			// Transient network errors should not abort the wait.
			fmt.Print("!")
			continue
		}

		switch tokenResp.Status {
		case "pending":
			fmt.Print(".")
		case "expired":
			fmt.Println()
			return fmt.Errorf("device code expired — please try again")
		case "completed":
			if tokenResp.APIKey == "" {
				// The key was delivered to an earlier poller.
				fmt.Println()
				return fmt.Errorf("the API key was already retrieved — please try again")
			}
			fmt.Println(" approved!")

			cfg.APIKey = tokenResp.APIKey
			if err := cliconfig.Save(cfg); err != nil {
				return fmt.Errorf("saving config: %w", err)
			}
			fmt.Println("Logged in. Your API key is stored in the CLI config.")
			return nil
		}
	}

	fmt.Println()
	return fmt.Errorf("device code expired — please try again")
}

func openBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "linux":
		cmd = exec.Command("xdg-open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		return fmt.Errorf("unsupported platform")
	}
	return cmd.Start()
}
