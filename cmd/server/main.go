// Package main provides the entry point for the AI gateway. The gateway
// sits between the project dashboard and the Gemini backends: it owns the
// browser OAuth flow against the Cloud Code endpoints and routes generation
// requests across the API-key and OAuth upstream strategies.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/taskdeck/aigateway/internal/api"
	"github.com/taskdeck/aigateway/internal/auth/gemini"
	"github.com/taskdeck/aigateway/internal/auth/session"
	"github.com/taskdeck/aigateway/internal/config"
	"github.com/taskdeck/aigateway/internal/idestore"
	"github.com/taskdeck/aigateway/internal/logging"
	"github.com/taskdeck/aigateway/internal/metrics"
	"github.com/taskdeck/aigateway/internal/router"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func init() {
	logging.SetupBaseLogger()
}

func main() {
	fmt.Printf("AI Gateway Version: %s, Commit: %s, BuiltAt: %s\n", Version, Commit, BuildDate)

	var (
		configPath string
		port       int
		debug      bool
	)
	flag.StringVar(&configPath, "config", "config.yaml", "path to the YAML configuration file")
	flag.IntVar(&port, "port", 0, "listen port override")
	flag.BoolVar(&debug, "debug", false, "enable debug logging")
	flag.Parse()

	// .env is optional; secrets may come from the real environment.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Debugf("no .env file loaded: %v", err)
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if port > 0 {
		cfg.Port = port
	}
	if debug {
		cfg.Debug = true
	}

	if err = logging.ConfigureLogOutput(cfg.LogDir, cfg.Debug); err != nil {
		log.Warnf("log output: %v", err)
	}
	metrics.Register()

	oauthClient := gemini.NewClient(cfg)
	callback := gemini.NewCallbackServer(cfg, oauthClient)
	registry := session.NewRegistry(cfg, callback)
	genRouter := router.New(cfg, idestore.New(cfg.IDEStore))
	server := api.NewServer(cfg, registry, genRouter)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Bind the loopback listener up front so a login can never race the
	// browser redirect.
	if err = callback.Start(); err != nil {
		log.Fatalf("start callback server: %v", err)
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return server.Run(groupCtx)
	})

	group.Go(func() error {
		watcher, errWatch := config.NewWatcher(configPath, func(updated *config.Config) {
			if errLog := logging.ConfigureLogOutput(updated.LogDir, updated.Debug); errLog != nil {
				log.Warnf("log output: %v", errLog)
			}
		})
		if errWatch != nil {
			log.Warnf("config watcher unavailable: %v", errWatch)
			return nil
		}
		if errRun := watcher.Start(groupCtx); errRun != nil && errRun != context.Canceled {
			return errRun
		}
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.OAuth.RequestTimeout())
		defer cancel()
		return callback.Shutdown(shutdownCtx)
	})

	if err = group.Wait(); err != nil {
		log.Fatalf("gateway exited: %v", err)
	}
	log.Info("gateway stopped")
}
