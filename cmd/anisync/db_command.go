// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"github.com/spf13/cobra"

	"github.com/anisync/anisync/internal/config"
	"github.com/anisync/anisync/internal/database"
	"github.com/anisync/anisync/internal/models"
)

func RunDBCommand(configDir *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database operations",
	}

	cmd.AddCommand(runDBStatusCommand(configDir))
	return cmd
}

func runDBStatusCommand(configDir *string) *cobra.Command {
	var providers []string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show applied migrations and record counts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.New(*configDir)
			if err != nil {
				return err
			}

			path := cfg.GetDatabasePath()
			db, err := database.New(path)
			if err != nil {
				return err
			}
			defer db.Close()

			ctx := cmd.Context()

			applied, err := db.AppliedMigrations(ctx)
			if err != nil {
				return err
			}

			cmd.Printf("Database: %s\n", path)
			cmd.Printf("Migrations: %d\n", len(applied))
			for _, name := range applied {
				cmd.Printf("  - %s\n", name)
			}

			canonical, err := models.NewCanonicalStore(db).Count(ctx)
			if err != nil {
				return err
			}
			cmd.Printf("Canonical entries: %d\n", canonical)

			store := models.NewProviderRecordStore(db)
			for _, provider := range providers {
				resolved, unresolved, err := store.Count(ctx, provider)
				if err != nil {
					return err
				}
				cmd.Printf("Provider %s: resolved=%d unresolved=%d\n", provider, resolved, unresolved)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&providers, "provider", []string{"ANIWATCH"}, "Provider types to report record counts for")

	return cmd
}
