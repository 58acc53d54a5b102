package cli

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "driftwall",
	Short: "On-device wallpaper personalization engine",
	Long:  "Driftwall learns wallpaper preferences from feedback and keeps a ranked download queue ready. Single Go binary, everything stays on the device.",
}

var configPath string

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default: $DRIFTWALL_CONFIG)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(rankCmd)
	rootCmd.AddCommand(feedbackCmd)
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(importCmd)
}
