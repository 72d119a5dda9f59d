// SPDX-FileCopyrightText: Copyright 2026 Carabiner Systems, Inc
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"

	"github.com/carabiner-dev/command"
	"github.com/spf13/cobra"

	"github.com/Danse117/weaver/pkg/config"
)

var (
	_ command.OptionsSet = (*ConfigOptions)(nil)
	_ command.OptionsSet = (*ServeOptions)(nil)
)

// ConfigOptions locate the configuration file
type ConfigOptions struct {
	ConfigPath string
}

var defaultConfigOptions = ConfigOptions{}

func (co *ConfigOptions) Config() *command.OptionsSetConfig {
	return nil
}

func (co *ConfigOptions) Validate() error {
	return nil
}

func (co *ConfigOptions) AddFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&co.ConfigPath, "config", defaultConfigOptions.ConfigPath,
		fmt.Sprintf("Path to the config file (default %s)", config.DefaultPath()))
}

// Load reads the configuration and applies environment overrides.
func (co *ConfigOptions) Load() (*config.Config, error) {
	cfg, err := config.LoadWithDefaults(co.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// ServeOptions are the flags of the serve subcommand
type ServeOptions struct {
	Listen string
}

var defaultServeOptions = ServeOptions{}

func (so *ServeOptions) Config() *command.OptionsSetConfig {
	return nil
}

func (so *ServeOptions) Validate() error {
	return nil
}

func (so *ServeOptions) AddFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&so.Listen, "listen", defaultServeOptions.Listen, "Address to listen on (overrides listen in the config)")
}

// apply overrides the configured listen address when the flag is set.
func (so *ServeOptions) apply(cfg *config.Config) {
	if so.Listen != "" {
		cfg.Listen = so.Listen
	}
}
