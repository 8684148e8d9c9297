package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"ocrforge/internal/config"
	"ocrforge/internal/history"
	"ocrforge/internal/job"
	"ocrforge/internal/ocr"
	"ocrforge/internal/toolchain"
)

// app is the per-invocation wiring shared by the subcommands.
type app struct {
	profilePath string
	profile     config.Profile
	tools       toolchain.Paths
	history     *history.Store
	runner      *job.Runner
}

func profilePath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultPath()
}

// loadApp reads settings and opens the history. With withEngine it also
// detects the toolchain and builds the engine.
func loadApp(withEngine bool) (*app, error) {
	a := &app{profilePath: profilePath()}
	var err error
	if a.profile, err = config.Load(a.profilePath); err != nil {
		return nil, err
	}

	hp := a.profile.HistoryPath()
	if err := os.MkdirAll(filepath.Dir(hp), 0o755); err == nil {
		if a.history, err = history.Open(hp); err != nil {
			log.Warn().Err(err).Msg("history unavailable")
		}
	}

	if !withEngine {
		return a, nil
	}
	a.tools = toolchain.Detect(log.Logger, a.profile.Toolchain())
	if missing := a.tools.Missing(); len(missing) > 0 {
		a.close()
		return nil, fmt.Errorf("required tools not found: %v (run `ocrforge doctor`)", missing)
	}
	engine := ocr.New(a.profile.EngineConfig(a.tools, log.Logger))
	a.runner = &job.Runner{Engine: engine, History: a.history, Log: log.Logger}
	return a, nil
}

func (a *app) close() {
	if a.history != nil {
		a.history.Close()
	}
}

// interruptible returns a context cancelled on SIGINT/SIGTERM. The engine is
// told to cancel as well so its process tree is killed immediately.
func (a *app) interruptible(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		if a.runner != nil && a.runner.Engine.Running() {
			log.Warn().Msg("cancelling OCR run")
			a.runner.Engine.Cancel()
		}
	}()
	return ctx, stop
}
