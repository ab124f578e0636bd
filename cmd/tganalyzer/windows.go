package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/art-volia/tg-analyzer/config"
	"github.com/art-volia/tg-analyzer/db"
	"github.com/art-volia/tg-analyzer/store"
)

// windowSpec is the operator-authored YAML form of a backfill window.
type windowSpec struct {
	ChatID int64 `yaml:"chat_id"`
	MinID  int64 `yaml:"min_id"`
	MaxID  int64 `yaml:"max_id"`
}

func newWindowsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "windows",
		Short: "Manage operator-set backfill windows",
	}
	cmd.AddCommand(newWindowsImportCmd())
	cmd.AddCommand(newWindowsListCmd())
	return cmd
}

func newWindowsImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Load backfill windows from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}
			var specs []windowSpec
			if err := yaml.Unmarshal(data, &specs); err != nil {
				return fmt.Errorf("parse %s: %w", args[0], err)
			}
			for i, spec := range specs {
				if spec.ChatID == 0 {
					return fmt.Errorf("%s: entry %d is missing chat_id", args[0], i+1)
				}
				if spec.MinID > spec.MaxID && spec.MaxID != 0 {
					return fmt.Errorf("%s: entry %d has min_id > max_id", args[0], i+1)
				}
			}

			gdb, err := db.Open(config.DBFromViper())
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			st := store.New(gdb)
			for _, spec := range specs {
				if err := st.UpsertWindow(cmd.Context(), spec.ChatID, spec.MinID, spec.MaxID); err != nil {
					return err
				}
			}
			fmt.Printf("Imported %d window(s).\n", len(specs))
			return nil
		},
		SilenceUsage: true,
	}
}

func newWindowsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured backfill windows",
		RunE: func(cmd *cobra.Command, args []string) error {
			gdb, err := db.Open(config.DBFromViper())
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			st := store.New(gdb)
			rows, err := st.ListWindows(cmd.Context())
			if err != nil {
				return err
			}
			if len(rows) == 0 {
				fmt.Println("No windows configured; backfill is unbounded.")
				return nil
			}
			for _, w := range rows {
				fmt.Printf("chat %d: min_id=%d max_id=%d\n", w.ChatID, w.MinID, w.MaxID)
			}
			return nil
		},
		SilenceUsage: true,
	}
}
