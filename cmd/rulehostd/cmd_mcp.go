package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rulehost/rulehost/internal/scheduler"
	"github.com/rulehost/rulehost/internal/stdioapi"
)

func init() {
	rootCmd.AddCommand(mcpCmd)
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the session API as MCP tools over stdio",
	RunE:  runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	log := setupLogging(cfg)

	core := buildContext(cfg, log)
	core.Scheduler.Start(context.Background())
	defer core.Scheduler.Stop()

	sup, err := scheduler.NewSupervisor(core.Scheduler, core.Evictor, core.Store, core.Backends,
		cfg.Limits.IdleTimeout, cfg.Engine.EvictionSweep, cfg.Engine.HealthInterval, log)
	if err != nil {
		return fmt.Errorf("start supervisor: %w", err)
	}
	sup.Start()
	defer sup.Stop()

	mcpSrv := stdioapi.New(stdioapi.Deps{
		Store:         core.Store,
		Scheduler:     core.Scheduler,
		Evictor:       core.Evictor,
		Notifier:      core.Notifier,
		DefaultLimits: configuredLimits(cfg),
		MaxPerUser:    cfg.Limits.MaxPerUser,
		MaxConcurrent: cfg.Limits.MaxConcurrentSessions,
		Logger:        log,
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		os.Exit(0)
	}()

	log.Info("mcp server serving over stdio")
	return mcpSrv.ServeStdio()
}
