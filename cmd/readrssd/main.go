package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"golang.org/x/sync/errgroup"

	"readrss/internal/config"
	"readrss/internal/fetch"
	"readrss/internal/logger"
	"readrss/internal/parse"
	"readrss/internal/poll"
	"readrss/internal/store"
)

func main() {
	cfg := config.Load()
	logger.Init(logger.ParseLevel(cfg.LogLevel))

	data := store.NewDataStore(cfg.DataDir)
	seen := store.NewSeenLedger(filepath.Join(cfg.DataDir, "seen.json"))
	fetcher := fetch.New(cfg)
	parser := parse.New()

	poller := poll.New(data, seen, fetcher, parser, cfg)
	poller.Start()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for evt := range poller.Events() {
			logger.Info("new entries", "feed_id", evt.FeedID, "count", len(evt.Entries))
			for _, e := range evt.Entries {
				logger.Debug("entry", "feed_id", e.FeedID, "title", e.Title, "url", e.URL)
			}
		}
		return poller.Err()
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		poller.Stop()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("poller terminated", "error", err)
		os.Exit(1)
	}
}
