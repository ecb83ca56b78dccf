package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"goldwatch/internal/app"
)

var (
	settingsEnabled   bool
	settingsRecipient string
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Inspect or change notification settings",
}

var settingsGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Print the stored notification settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ShowSettings(cmd.Context(), cmd.OutOrStdout())
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Update notification settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		var update app.SettingsUpdate
		if cmd.Flags().Changed("enabled") {
			update.Enabled = &settingsEnabled
		}
		if cmd.Flags().Changed("recipient") {
			update.Recipient = &settingsRecipient
		}
		if update.Enabled == nil && update.Recipient == nil {
			return errors.New("nothing to change: pass --enabled and/or --recipient")
		}
		return getApp().UpdateSettings(cmd.Context(), cmd.OutOrStdout(), update)
	},
}

func init() {
	settingsSetCmd.Flags().BoolVar(&settingsEnabled, "enabled", false, "Enable or disable email notifications")
	settingsSetCmd.Flags().StringVar(&settingsRecipient, "recipient", "", "Recipient email address (empty clears it)")

	settingsCmd.AddCommand(settingsGetCmd)
	settingsCmd.AddCommand(settingsSetCmd)
}
