package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/art-volia/tg-analyzer/config"
	"github.com/art-volia/tg-analyzer/db"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the storage schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.DBFromViper()
			gdb, err := db.Open(cfg)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			if err := db.AutoMigrate(gdb); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			fmt.Println("Schema is up to date.")
			return nil
		},
		SilenceUsage: true,
	}
}
