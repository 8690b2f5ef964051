package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "midnight",
	Short: "Midnight - autonomous development factory",
	Long: `Midnight is an autonomous development factory: a background daemon that
pulls units of work from a durable queue, runs each through an actor/sentinel
agent pair, gates acceptance on a quality score, retries on failure up to a
bound, escalates when retries are exhausted, and checkpoints its state for
crash recovery.`,
	// No RunE - defaults to showing help when no subcommand is provided
}

var (
	apiAddr string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&apiAddr, "api", "http://127.0.0.1:7388", "API server address")

	// Add subcommands
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(tuiCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
