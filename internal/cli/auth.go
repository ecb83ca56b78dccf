package cli

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage the delegated Microsoft Graph token",
}

var authSeedCmd = &cobra.Command{
	Use:   "seed [refresh-token]",
	Short: "Store a refresh token in the token cache and verify it",
	Long:  "Reads the refresh token from the argument or, when omitted, from the first line of stdin.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		token := ""
		if len(args) == 1 {
			token = args[0]
		} else {
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("read refresh token: %w", err)
			}
			token = line
		}
		token = strings.TrimSpace(token)
		if token == "" {
			return errors.New("refresh token is empty")
		}
		return getApp().SeedToken(cmd.Context(), cmd.OutOrStdout(), token)
	},
}

func init() {
	authCmd.AddCommand(authSeedCmd)
}
