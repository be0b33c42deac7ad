package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/oa2a/oa2a/internal/api"
	"github.com/oa2a/oa2a/internal/config"
	"github.com/oa2a/oa2a/internal/logging"
	log "github.com/oa2a/oa2a/internal/logging"
	"github.com/oa2a/oa2a/internal/upstream"
	"github.com/oa2a/oa2a/internal/usage"
)

func runServe() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.WithError(err).Warn("failed to load .env file")
	}

	settings, err := config.Load()
	if err != nil {
		log.Errorf("failed to load config: %v", err)
		return err
	}
	if servePort != 0 {
		settings.Port = servePort
	}
	if err := logging.Setup(settings.LogLevel, settings.LogDir); err != nil {
		log.Errorf("failed to configure logging: %v", err)
		return err
	}
	if settings.OpenAIAPIKey == "" {
		log.Warn("no upstream API key configured, requests will likely be rejected")
	}

	store := config.NewStore(settings)

	var recorder *usage.Recorder
	if settings.UsageDBPath != "" {
		recorder, err = usage.NewRecorder(settings.UsageDBPath)
		if err != nil {
			log.Errorf("failed to open usage database: %v", err)
			return err
		}
		recorder.Start()
		defer func() {
			if err := recorder.Stop(); err != nil {
				log.Errorf("failed to close usage database: %v", err)
			}
		}()
		log.Infof("usage recording enabled at %s", recorder.DBPath())
	}

	client := upstream.NewClient(store.Current)
	server := api.NewServer(store, client, recorder)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Infof("listening on %s:%d", settings.Host, settings.Port)
		return server.Run(gctx)
	})
	g.Go(func() error {
		if err := store.Watch(gctx); err != nil {
			log.Warnf("config watcher stopped: %v", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Errorf("server exited: %v", err)
		return err
	}
	log.Infof("shutdown complete")
	return nil
}
