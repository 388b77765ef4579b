package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "shellworker",
	Short: "Offline-first agent for the hhs-booking application",
	Long: `shellworker fronts the hhs-booking application origin with a versioned
shell cache, renders push notifications, and routes notification clicks
back into attached application windows.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"path to the config file (default: SHELLWORKER_* environment and built-in defaults)")
	rootCmd.Version = versionString()

	rootCmd.AddCommand(serveCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "shellworker: %v\n", err)
		os.Exit(1)
	}
}
