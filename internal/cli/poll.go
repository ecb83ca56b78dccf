package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Run a single poll cycle and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := getApp().PollOnce(cmd.Context())
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if out.Reason != "" && out.Reading.ID == 0 && out.Reading.Timestamp.IsZero() {
			fmt.Fprintf(w, "skipped: %s\n", out.Reason)
			return nil
		}
		fmt.Fprintf(w, "price: %s\nnew_low: %t\nnotified: %t\n", out.Reading.Price.StringFixed(2), out.NewLow, out.Notified)
		if out.Reason != "" {
			fmt.Fprintf(w, "reason: %s\n", out.Reason)
		}
		return nil
	},
}
