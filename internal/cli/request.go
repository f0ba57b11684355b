package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var (
	flagAccount string
	flagData    string
)

var requestCmd = &cobra.Command{
	Use:   "request METHOD provider/path",
	Short: "Call an upstream provider API through the broker",
	Long: `Forward a request through /api/v1/{provider}/... with your stored key.

  patchin request GET github/user/repos
  patchin request GET "google/calendar/v3/calendars/primary/events?maxResults=5"
  patchin request POST slack/chat.postMessage --data '{"channel":"C123","text":"hi"}'
  patchin request GET google/gmail/v1/users/me/profile --account work@gmail.com

Use --data - to read the request body from stdin.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireAuth(); err != nil {
			return err
		}

		method := strings.ToUpper(args[0])
		path := args[1]
		if !strings.Contains(path, "/") {
			return fmt.Errorf("path must look like provider/endpoint, got %q", path)
		}

		var body io.Reader
		if flagData == "-" {
			raw, err := io.ReadAll(os.Stdin)
			if err != nil {
				return fmt.Errorf("reading stdin: %w", err)
			}
			body = bytes.NewReader(raw)
		} else if flagData != "" {
			body = strings.NewReader(flagData)
		}

		result, err := apiClient.Proxy(method, path, body, flagAccount)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		printProxyResult(result.Status, result.ContentType, result.Body)
		if result.Status >= 400 {
			return fmt.Errorf("upstream returned %d", result.Status)
		}
		return nil
	},
}

func init() {
	requestCmd.Flags().StringVar(&flagAccount, "account", "", "Account hint: an account id or provider email")
	requestCmd.Flags().StringVar(&flagData, "data", "", "Request body (JSON), or - to read from stdin")
	rootCmd.AddCommand(requestCmd)
}

func printProxyResult(status int, contentType string, body []byte) {
	if strings.Contains(contentType, "application/json") {
		var pretty bytes.Buffer
		if json.Indent(&pretty, body, "", "  ") == nil {
			pretty.WriteTo(os.Stdout)
			fmt.Println()
			return
		}
	}
	os.Stdout.Write(body)
	if len(body) > 0 && body[len(body)-1] != '\n' {
		fmt.Println()
	}
}
