package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/art-volia/tg-analyzer/config"
	"github.com/art-volia/tg-analyzer/heartbeat"
)

func newStatusCmd() *cobra.Command {
	var staleAfter time.Duration

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the worker's liveness snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.HeartbeatPathIn(config.RuntimeDirFromViper())
			snap, ok, err := heartbeat.Read(path)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Println("No heartbeat found — the worker is not running.")
				return nil
			}

			state := "alive"
			if snap.Stale(staleAfter, time.Now()) {
				state = "stalled"
			}
			fmt.Printf("State:       %s\n", state)
			fmt.Printf("PID:         %d\n", snap.PID)
			fmt.Printf("Session:     %s\n", snap.Session)
			fmt.Printf("Run:         %s\n", snap.RunID)
			fmt.Printf("Started:     %s\n", snap.StartedAt.Format(time.RFC3339))
			fmt.Printf("Last tick:   %s (%s ago)\n", snap.LastTick.Format(time.RFC3339), time.Since(snap.LastTick).Round(time.Second))
			fmt.Printf("Action/mode: %s / %s\n", snap.LastAction, snap.Mode)
			if snap.LastChatID != 0 {
				fmt.Printf("Last chat:   %d\n", snap.LastChatID)
			}
			fmt.Printf("Last batch:  %d rows\n", snap.SavedMessagesTotal)
			return nil
		},
		SilenceUsage: true,
	}

	cmd.Flags().DurationVar(&staleAfter, "stale-after", config.Stale, "Age after which the heartbeat counts as stalled.")
	return cmd
}
