package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/liangmulu/open-chat/internal/app"
	"github.com/liangmulu/open-chat/pkg/config"
	"github.com/liangmulu/open-chat/pkg/logger"
	"github.com/liangmulu/open-chat/pkg/shutdown"
)

// build metadata - set via ldflags during build/release
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
	}

	flags := config.ParseConfigFlags()
	fileCfg, fileExists, err := config.ParseConfigFile(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to parse config file: %v\n", err)
		os.Exit(2)
	}
	envCfg, envUsed, err := config.ParseConfigEnvs()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid environment: %v\n", err)
		os.Exit(2)
	}
	eff, err := config.LoadEffectiveConfig(flags, fileCfg, fileExists, envCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(2)
	}

	logger.InitWithLevel(eff.Config.Logging.Level)
	logger.Info("config_loaded", "source", eff.Source, "env_used", envUsed, "addr", eff.Addr, "db", eff.DBPath)

	ctx, cancel := shutdown.SetupSignalHandler(context.Background())
	defer cancel()

	a, err := app.New(ctx, eff, version, commit, buildDate, app.Options{})
	if err != nil {
		shutdown.Abort("app_init", err, eff.DBPath, 2*time.Second)
		return
	}
	runErr := a.Run(ctx)
	if err := a.Close(); err != nil {
		logger.Error("store_close_failed", "error", err)
	}
	if runErr != nil {
		shutdown.Abort("app_run", runErr, eff.DBPath, 2*time.Second)
	}
	logger.Info("shutdown_complete")
}
