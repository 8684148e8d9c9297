// Command server exposes the OCR engine over HTTP with a websocket progress
// stream. It runs one conversion at a time.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"ocrforge/internal/config"
	"ocrforge/internal/history"
	"ocrforge/internal/job"
	"ocrforge/internal/ocr"
	"ocrforge/internal/toolchain"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	profile, err := config.Load(config.DefaultPath())
	if err != nil {
		log.Fatal().Err(err).Msg("load settings")
	}

	tools := toolchain.Detect(log.Logger, profile.Toolchain())
	switch missing := tools.Missing(); {
	case len(missing) > 0:
		log.Warn().Strs("missing", missing).Msg("OCR toolchain incomplete: conversions will fail until installed")
	case tools.Pdftoppm == "":
		log.Warn().Msg("pdftoppm not found: rasterize mode and the sanitize fallback are unavailable")
	default:
		log.Info().Str("ocrmypdf", tools.OCRmyPDF).Str("tesseract", tools.Tesseract).Msg("OCR ready")
	}

	hp := profile.HistoryPath()
	var store *history.Store
	if err := os.MkdirAll(filepath.Dir(hp), 0o755); err == nil {
		if store, err = history.Open(hp); err != nil {
			log.Warn().Err(err).Msg("history unavailable")
		}
	}
	if store != nil {
		defer store.Close()
	}

	dataDir := os.Getenv("OCR_DATA_DIR")
	if dataDir == "" {
		dataDir = "data"
	}
	engine := ocr.New(profile.EngineConfig(tools, log.Logger))
	runner := &job.Runner{Engine: engine, History: store, Log: log.Logger}
	srv := newServer(runner, profile, dataDir, log.Logger)

	mux := http.NewServeMux()
	api := srv.routes()
	mux.Handle("/api/", api)
	mux.Handle("/ws", api)
	mux.Handle("/", http.FileServer(http.Dir("web")))

	httpSrv := &http.Server{Addr: ":" + profile.Port, Handler: mux}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		log.Info().Msg("shutting down")
		engine.Cancel()
		srv.hub.closeAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		httpSrv.Shutdown(shutdownCtx)
	}()

	log.Info().Msgf("ocrforge server starting on http://localhost:%s", profile.Port)
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server")
	}
}
