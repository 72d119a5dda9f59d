// SPDX-FileCopyrightText: Copyright 2026 Carabiner Systems, Inc
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Danse117/weaver/pkg/cmd"
)

var version = "dev" // Set via ldflags during build

func main() {
	configOpts := &cmd.ConfigOptions{}

	rootCmd := &cobra.Command{
		Use:   "weaver",
		Short: "Connect creator accounts over OAuth and read their metrics",
		Long: `Weaver connects creator accounts on social platforms to an application
user through OAuth 2.0 with PKCE, keeps their tokens fresh, and serves
their profile and video metrics.

Configuration is read from --config, or from the XDG config directory,
and can be overridden with WEAVER_* and TIKTOK_* environment variables.`,
		PersistentPreRunE: func(c *cobra.Command, args []string) error {
			return configOpts.Validate()
		},
	}
	configOpts.AddFlags(rootCmd)

	cmd.AddServe(rootCmd, configOpts)
	cmd.AddAccounts(rootCmd, configOpts)
	addVersion(rootCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func addVersion(parent *cobra.Command) {
	parent.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("weaver version %s\n", version)
		},
	})
}
