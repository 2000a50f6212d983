package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "wallora",
		Short: "Wall composition server",
		Long: `Wallora - server for composing photo walls.

Stores wall sessions, suggests and applies layouts, renders thumbnails and
relays live edits between collaborators over Socket.IO.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String("config", "", "Path to a config file (default ./wallora.yaml when present)")
	rootCmd.PersistentFlags().String("loglevel", "", "The log level (debug, info, warn, error).")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newLayoutCmd())
	rootCmd.AddCommand(newAnalyzeCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
