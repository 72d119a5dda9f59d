// SPDX-FileCopyrightText: Copyright 2026 Carabiner Systems, Inc
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

// AddAccounts adds the accounts subcommand tree.
func AddAccounts(parent *cobra.Command, configOpts *ConfigOptions) {
	opts := defaultAccountOptions

	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Inspect and manage connected accounts",
		Long: `Inspect and manage the accounts connected by an application user.

These commands read the same SQLite database as the server.

Examples:
  weaver accounts list --user 0b6c...
  weaver accounts show 3f1e... --user 0b6c...
  weaver accounts refresh 3f1e... --user 0b6c...
  weaver accounts disconnect 3f1e... --user 0b6c...`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.Validate()
		},
	}
	opts.AddFlags(cmd)

	// withApp runs fn against a freshly wired app.
	withApp := func(cmd *cobra.Command, fn func(context.Context, *app) error) error {
		cfg, err := configOpts.Load()
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close() //nolint:errcheck
		if err := a.requirePersistent(); err != nil {
			return err
		}
		return fn(cmd.Context(), a)
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List connected accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				return listAccounts(ctx, cmd.OutOrStdout(), a, opts.UserID)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show <account-id>",
		Short: "Show the profile and stats of an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				snap, err := a.dashboard.Profile(ctx, opts.UserID, args[0])
				if err != nil {
					return fmt.Errorf("fetching profile: %w", err)
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(snap)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "refresh <account-id>",
		Short: "Refresh the platform tokens of an account now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				acct, err := a.accounts.Get(ctx, opts.UserID, args[0])
				if err != nil {
					return err
				}
				refreshed, err := a.creds.Refresh(ctx, acct)
				if err != nil {
					return fmt.Errorf("refreshing tokens: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Tokens refreshed, access token expires %s\n",
					refreshed.Tokens.ExpiresAt.Format(time.RFC3339))
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "disconnect <account-id>",
		Short: "Revoke the tokens of an account and delete it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				if err := a.creds.Disconnect(ctx, opts.UserID, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Account %s disconnected\n", args[0])
				return nil
			})
		},
	})

	parent.AddCommand(cmd)
}

func listAccounts(ctx context.Context, out io.Writer, a *app, userID string) error {
	list, err := a.accounts.List(ctx, userID)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintln(out, "No connected accounts")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPLATFORM\tUSERNAME\tTOKEN EXPIRES\tCONNECTED")
	for _, acct := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			acct.ID, acct.Platform, acct.Username,
			acct.Tokens.ExpiresAt.Format(time.RFC3339),
			acct.CreatedAt.Format(time.RFC3339),
		)
	}
	return tw.Flush()
}
