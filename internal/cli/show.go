package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"goldwatch/internal/app"
)

var (
	showLimit int
	showToday bool
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent gold readings, or all of today's with its low",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !showToday && showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Limit: showLimit,
			Today: showToday,
		}

		return getApp().Show(cmd.Context(), cmd.OutOrStdout(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of most recent readings to display")
	showCmd.Flags().BoolVar(&showToday, "today", false, "List every reading of the current day in chronological order")
}
