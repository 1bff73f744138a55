package main

import (
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "cogmem",
	Short:         "Cognitive memory layer for vector search",
	Long:          "cogmem re-ranks vector search results using per-session episodic memory and spreading activation over a concept graph, then validates and explains the chosen answer.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "cogmem.yaml", "path to YAML config (optional)")

	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(graphCmd)
	rootCmd.AddCommand(statsCmd)
}
