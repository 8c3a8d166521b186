package cmd

import (
	"fmt"
	"time"

	"github.com/pilab-dev/oauthdirac/dto"
	"github.com/spf13/cobra"
)

func newProfilesCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "profiles [user]",
		Short: "List the identity profiles the bridge knows, optionally for one user",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var user string
			if len(args) == 1 {
				user = args[0]
			}
			profiles, err := c.client.GetIdProfiles(cmd.Context(), user)
			if err != nil {
				return err
			}
			if len(profiles) == 0 {
				fmt.Fprintln(cmd.ErrOrStderr(), "No profiles found.")
				return nil
			}
			return c.print(cmd.OutOrStdout(), profiles)
		},
	}
}

func newProxyCmd(c *cli) *cobra.Command {
	var (
		provider string
		lifetime time.Duration
		pemOnly  bool
	)

	cmd := &cobra.Command{
		Use:   "proxy <dn>",
		Short: "Request a proxy certificate for a DN",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			proxy, err := c.client.GetProxy(cmd.Context(), provider, args[0], lifetime)
			if err != nil {
				return err
			}
			if pemOnly {
				_, err := fmt.Fprint(cmd.OutOrStdout(), proxy.PEM)
				return err
			}
			return c.print(cmd.OutOrStdout(), dto.FromDomainProxy(proxy))
		},
	}

	cmd.Flags().StringVar(&provider, "provider", "", "proxy provider (default: the only one configured)")
	cmd.Flags().DurationVar(&lifetime, "lifetime", 0, "requested proxy lifetime (default: provider maximum)")
	cmd.Flags().BoolVar(&pemOnly, "pem", false, "print only the PEM bundle")
	return cmd
}
