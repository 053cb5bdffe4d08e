package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/pteich/configstruct"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pteich/elastic-tap/flags"
	"github.com/pteich/elastic-tap/tap"
)

var Version string

func main() {
	// values from .env never override the environment
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Error loading .env file: %s\n", err)
		os.Exit(2)
	}

	conf := flags.Defaults()
	if err := configstruct.Parse(&conf); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %s\n", err)
		os.Exit(2)
	}

	logger, err := newLogger(conf.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %s\n", err)
		os.Exit(2)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting elastic-tap", zap.String("version", Version), zap.String("url", conf.ElasticURL))

	if err := tap.Run(ctx, &conf, logger); err != nil {
		logger.Error("tap failed", zap.Error(err))
		logger.Sync()
		if tap.IsConfigurationError(err) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

// newLogger logs JSON to stderr, stdout carries the records.
func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	return cfg.Build()
}
