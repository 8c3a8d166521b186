package cmd

import (
	"fmt"

	"github.com/pilab-dev/oauthdirac/dto"
	"github.com/spf13/cobra"
)

func newSessionCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "session",
		Short:   "Inspect and end bridge sessions",
		Aliases: []string{"sessions"},
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "status <id>",
			Short: "Show a session",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				sess, err := c.client.GetSessionStatus(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return c.print(cmd.OutOrStdout(), sess)
			},
		},
		&cobra.Command{
			Use:   "kill <id>",
			Short: "Delete a session without telling the identity provider",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := c.client.KillSession(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Session %s killed.\n", args[0])
				return nil
			},
		},
		&cobra.Command{
			Use:   "logout <id>",
			Short: "Revoke the session tokens and delete the session",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := c.client.LogOutSession(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Session %s logged out.\n", args[0])
				return nil
			},
		},
		&cobra.Command{
			Use:   "tokens <id>",
			Short: "Print the tokens of a session",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				tokens, err := c.client.GetSessionTokens(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return c.print(cmd.OutOrStdout(), dto.FromDomainTokens(tokens))
			},
		},
	)
	return cmd
}
