package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "sentiment",
	Short: "Sentiment event processing service",
	Long:  `Claims raw text events from the shared event table, classifies their sentiment and serves the results over HTTP`,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
