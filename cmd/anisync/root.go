// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var configDir string

	rootCmd := &cobra.Command{
		Use:           "anisync",
		Short:         "Anime metadata aggregation and provider matching service",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "", "Config directory path (default is OS-specific: ~/.config/anisync/ or %APPDATA%\\anisync\\). For backward compatibility, can also be a direct path to a .toml file")

	rootCmd.AddCommand(RunServeCommand(&configDir))
	rootCmd.AddCommand(RunDBCommand(&configDir))
	rootCmd.AddCommand(RunVersionCommand())

	return rootCmd
}
