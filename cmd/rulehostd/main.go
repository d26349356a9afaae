package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/rulehost/rulehost/internal/config"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "rulehostd",
	Short: "rulehostd hosts per-session forward- and backward-chaining reasoning engines behind a REST and MCP API",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", filepath.Join(os.Getenv("HOME"), ".rulehost", "config.json"), "config file path")
}

func loadConfig() *config.Config {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
