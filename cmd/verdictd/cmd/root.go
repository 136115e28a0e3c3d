// Package cmd provides the CLI commands for verdictd.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Verdict-Labs/verdict/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "verdictd",
	Short: "Verdict - Runtime Governance Engine for AI Agents",
	Long: `Verdict evaluates every tool call an AI agent wants to make and decides,
before the call runs, whether it is allowed, blocked, or held for review.

Each action passes through a layered pipeline: kill switch, prompt
injection firewall, scope enforcement, policy rules, and behavioral risk
scoring. Every decision is recorded with a tamper-evident receipt.

Quick start:
  1. Create a config file: verdict.yaml
  2. Run: verdictd serve

Configuration:
  Config is loaded from verdict.yaml in the current directory,
  $HOME/.verdict/, or /etc/verdict/.

  Environment variables can override config values with the VERDICT_ prefix.
  Example: VERDICT_SERVER_HTTP_ADDR=127.0.0.1:9372

Commands:
  serve       Run the governance engine and its HTTP API
  policy      Inspect and lint policy files
  stop        Stop the running daemon
  version     Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./verdict.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
