package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/cactuscall/internal/signals"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the fanout running in this state directory",
	Long: `Write the kill signal file into the state directory. A running fanout
stops scheduling new jobs, terminates the running ones and marks the run
canceled.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := signals.SendKill(cfg.Execution.StateDir); err != nil {
			return fmt.Errorf("send kill signal: %w", err)
		}
		fmt.Printf("Kill signal written to %s\n", signals.Dir(cfg.Execution.StateDir))
		return nil
	},
}
