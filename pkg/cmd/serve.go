// SPDX-FileCopyrightText: Copyright 2026 Carabiner Systems, Inc
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"github.com/spf13/cobra"
)

// AddServe adds the serve subcommand.
func AddServe(parent *cobra.Command, configOpts *ConfigOptions) {
	opts := defaultServeOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the weaver HTTP server",
		Long: `Run the HTTP server that connects creator accounts.

The server exposes the connect and callback endpoints used by the
dashboard, the account API, /healthz and /metrics. It stops gracefully
on SIGINT or SIGTERM.

Examples:
  # Serve with the default config file
  weaver serve

  # Serve with an explicit config and listen address
  weaver serve --config ./weaver.yaml --listen 127.0.0.1:9000`,
		SilenceUsage: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.Validate()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configOpts.Load()
			if err != nil {
				return err
			}
			opts.apply(cfg)

			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			srv, err := a.server()
			if err != nil {
				return err
			}
			return srv.Run(cmd.Context(), cfg.Listen)
		},
	}
	opts.AddFlags(cmd)
	parent.AddCommand(cmd)
}
