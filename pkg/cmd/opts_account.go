// SPDX-FileCopyrightText: Copyright 2026 Carabiner Systems, Inc
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"errors"

	"github.com/carabiner-dev/command"
	"github.com/spf13/cobra"
)

var _ command.OptionsSet = (*AccountOptions)(nil)

// AccountOptions select the application user whose accounts are managed
type AccountOptions struct {
	UserID string
}

var defaultAccountOptions = AccountOptions{}

func (ao *AccountOptions) Config() *command.OptionsSetConfig {
	return nil
}

func (ao *AccountOptions) Validate() error {
	if ao.UserID == "" {
		return errors.New("user ID not set (use --user)")
	}
	return nil
}

func (ao *AccountOptions) AddFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&ao.UserID, "user", defaultAccountOptions.UserID, "Application user that owns the accounts")
}
