package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/RoyceAzure/lab/rj_indexer/internal/appcontext"
	"github.com/RoyceAzure/lab/rj_indexer/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	loader := config.NewLoader()
	cf, err := loader.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config failed")
	}

	logger := newLogger(cf)
	log.Logger = logger

	// LOG_LEVEL 可以在執行中透過 CONFIG_FILE 調整
	if loader.Watch(func(newCf *config.Config, err error) {
		if err != nil {
			log.Error().Err(err).Msg("reload config failed, keep current settings")
			return
		}
		setLevel(newCf.LogLevel)
		log.Info().Str("log_level", zerolog.GlobalLevel().String()).Msg("config reloaded")
	}) {
		log.Info().Msg("watching config file")
	}

	app, err := appcontext.NewApplicationContext(cf, &logger)
	if err != nil {
		log.Fatal().Err(err).Msg("setup application failed")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	app.Start()
	log.Info().Str("broker", cf.Broker).Str("store", cf.Store).Msg("indexer started")

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
	case <-app.UpdateConsumer.C():
		log.Warn().Msg("update consumer exited")
	case <-app.DeleteConsumer.C():
		log.Warn().Msg("delete consumer exited")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cf.ShutdownTimeout)
	defer cancel()

	if err := app.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Application shutdown error")
		cancel()
		os.Exit(1)
	}
	log.Info().Msg("closed completed")
}

func newLogger(cf *config.Config) zerolog.Logger {
	var w io.Writer = os.Stdout
	if cf.LogFormat == "console" {
		w = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	setLevel(cf.LogLevel)
	return zerolog.New(w).With().Timestamp().Str("service", "rj_indexer").Logger()
}

func setLevel(level string) {
	lv, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lv = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lv)
}
