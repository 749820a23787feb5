package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/seantiz/docpipe/internal/api"
	"github.com/seantiz/docpipe/internal/config"
	"github.com/seantiz/docpipe/internal/engine/builtin"
	"github.com/seantiz/docpipe/internal/pipeline"
	"github.com/seantiz/docpipe/internal/store"
)

func main() {
	cfg := config.Load()
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	logger.Info("docpipe: starting",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"concurrency", cfg.Concurrency,
	)

	db, err := store.NewSQLiteStore(cfg.DBPath, cfg.HistoryLimit)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	registry := builtin.NewRegistry()

	p := pipeline.New(pipeline.Config{
		Concurrency:     cfg.Concurrency,
		DefaultTimeout:  cfg.DefaultTimeout,
		MetricsInterval: cfg.MetricsInterval,
		QueueWarnDepth:  cfg.QueueWarnDepth,
		HeapWarnBytes:   cfg.HeapWarnBytes,
	}, registry, db, logger)
	p.Start()

	srv := api.NewServer(cfg.ListenAddr, db, registry, p, logger)

	if err := srv.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}

	// Let in-flight jobs finish or detach before closing the store.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.Stop(ctx); err != nil {
		logger.Error("pipeline shutdown", "error", err)
	}
}
