package output

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/patchin/backend/internal/cli/api"
)

// JSON prints v as indented JSON to stdout.
func JSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// AccountTable prints connected accounts as a human-readable table.
func AccountTable(accounts []api.Account) {
	if len(accounts) == 0 {
		fmt.Println("No accounts connected. Connect one in the dashboard first.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PROVIDER\tACCOUNT\tDEFAULT\tID")
	for _, a := range accounts {
		email := a.Email
		if email == "" {
			email = "-"
		}
		def := ""
		if a.IsDefault {
			def = "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", a.Provider, email, def, a.ID)
	}
	w.Flush()
}
