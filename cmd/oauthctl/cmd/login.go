package cmd

import (
	"fmt"

	"github.com/pilab-dev/oauthdirac/domain"
	"github.com/pilab-dev/oauthdirac/log"
	"github.com/spf13/cobra"
)

func newLoginCmd(c *cli) *cobra.Command {
	var (
		session string
		noWait  bool
	)

	cmd := &cobra.Command{
		Use:   "login <provider>",
		Short: "Authenticate at an identity provider through the bridge",
		Long: `Starts an authorization flow. When the bridge cannot reuse a previous
session it prints the link to open in a browser and waits until the login
completes.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			res, err := c.client.SubmitAuthorizeFlow(ctx, args[0], session)
			if err != nil {
				return fmt.Errorf("failed to start login: %w", err)
			}

			if res.Status == domain.StatusReady || noWait {
				return c.print(cmd.OutOrStdout(), res)
			}

			fmt.Fprintf(cmd.ErrOrStderr(), "Open this link to log in:\n\n  %s\n\nWaiting for the login to complete...\n", res.URL)
			c.logger.Debug(ctx, "Waiting for session", log.Fields{"session": res.Session})

			sess, err := c.client.WaitForSessionStatus(ctx, res.Session)
			if err != nil {
				return fmt.Errorf("login did not complete: %w", err)
			}
			return c.print(cmd.OutOrStdout(), sess)
		},
	}

	cmd.Flags().StringVar(&session, "session", "", "previous session to reuse")
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "print the login link and return")
	return cmd
}
