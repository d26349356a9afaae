package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rulehost/rulehost/internal/config"
	"github.com/rulehost/rulehost/internal/engine"
	"github.com/rulehost/rulehost/internal/httpapi"
	"github.com/rulehost/rulehost/internal/notify"
	"github.com/rulehost/rulehost/internal/rulehost"
	"github.com/rulehost/rulehost/internal/scheduler"
	"github.com/rulehost/rulehost/internal/session"
	"github.com/rulehost/rulehost/internal/toolbox"
	"github.com/rulehost/rulehost/internal/toolbox/tools"
	"github.com/rulehost/rulehost/internal/types"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the rulehostd daemon",
	RunE:  runServe,
}

func setupLogging(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)
	return log
}

func writePIDFile(dataDir string) (string, error) {
	pidPath := filepath.Join(dataDir, "rulehostd.pid")
	pid := os.Getpid()
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return pidPath, nil
}

// configuredLimits returns the default per-session ResourceLimits with the
// configured eval timeouts substituted in, so cfg.Limits.DefaultEvalTimeout
// and AbsoluteEvalCeiling actually reach new sessions instead of the
// hardcoded defaults.
func configuredLimits(cfg *config.Config) types.ResourceLimits {
	limits := types.DefaultResourceLimits()
	if cfg.Limits.DefaultEvalTimeout > 0 {
		limits.DefaultEvalTimeout = cfg.Limits.DefaultEvalTimeout
	}
	if cfg.Limits.AbsoluteEvalCeiling > 0 {
		limits.AbsoluteEvalCeiling = cfg.Limits.AbsoluteEvalCeiling
	}
	return limits
}

// buildContext wires the shared dependency graph every adapter (HTTP,
// stdio, CLI) is built from, by hand, at startup.
func buildContext(cfg *config.Config, log *slog.Logger) *rulehost.Context {
	store := session.NewStore()

	registry := toolbox.NewRegistry()
	registry.Register(tools.NewEcho())
	registry.Register(tools.NewFetch(cfg.Tools.APIToken))
	registry.Register(tools.NewSessionNote())
	if cfg.Tools.ShellEnabled {
		registry.Register(tools.NewShell())
	}
	registry.SetDefault("echo")
	bridge := toolbox.NewBridge(registry)

	backends := map[types.SessionType]engine.Backend{
		types.SessionForward:  engine.NewForwardBackend(cfg.Engine.ForwardBinary),
		types.SessionBackward: engine.NewBackwardBackend(),
	}

	sched := scheduler.New(store, backends, bridge, int64(cfg.Limits.MaxGlobalInflight), cfg.Limits.MaxQueueDepth, log)
	evictor := scheduler.NewEvictor(store, sched, backends, cfg.Engine.ShutdownGrace)

	notifier := notify.New(log)
	notifier.Subscribe(notify.EventFault, notify.LogSink(log))
	notifier.Subscribe(notify.EventEvicted, notify.LogSink(log))
	notifier.Subscribe(notify.EventTerminated, notify.LogSink(log))
	sched.SetNotifier(notifier)
	evictor.SetNotifier(notifier)

	return rulehost.New(cfg, store, sched, evictor, bridge, notifier, backends, log)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	log := setupLogging(cfg)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	pidPath, err := writePIDFile(cfg.DataDir)
	if err != nil {
		return err
	}
	defer os.Remove(pidPath)

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

	httpSrv := httpapi.NewServer(httpapi.Deps{
		Store:         core.Store,
		Scheduler:     core.Scheduler,
		Evictor:       core.Evictor,
		Notifier:      core.Notifier,
		DefaultLimits: configuredLimits(cfg),
		MaxPerUser:    cfg.Limits.MaxPerUser,
		MaxConcurrent: cfg.Limits.MaxConcurrentSessions,
		Logger:        log,
	})

	server := &http.Server{Addr: cfg.ListenAddr, Handler: httpSrv}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		log.Info("http api listening", "addr", cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server error", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		server.Close()
	}()

	log.Info("rulehostd started",
		"data_dir", cfg.DataDir,
		"log_level", cfg.LogLevel,
		"listen_addr", cfg.ListenAddr,
		"forward_binary", cfg.Engine.ForwardBinary,
		"pid_file", pidPath,
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for {
		sig := <-sigChan
		if sig == syscall.SIGHUP {
			log.Info("received SIGHUP, restarting")
			execPath, err := os.Executable()
			if err != nil {
				log.Error("failed to get executable path", "error", err)
				continue
			}
			os.Remove(pidPath)
			if err := syscall.Exec(execPath, os.Args, os.Environ()); err != nil {
				log.Error("failed to re-exec", "error", err)
				if _, writeErr := writePIDFile(cfg.DataDir); writeErr != nil {
					log.Error("failed to re-write PID file", "error", writeErr)
				}
				continue
			}
		}
		log.Info("shutting down", "signal", sig)
		return nil
	}
}
