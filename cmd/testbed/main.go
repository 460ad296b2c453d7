package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/phoenix-ops/loadrelay/pkg/testbed"
)

func main() {
	var (
		addr   string
		dbPath string
	)

	flag.StringVar(&addr, "addr", ":8080", "Listen address")
	flag.StringVar(&dbPath, "db", "testbed.db", "Path to the SQLite incident database")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	store, err := testbed.NewIncidentStore(dbPath)
	if err != nil {
		logger.Fatal("failed to open incident store", zap.Error(err))
	}
	defer store.Close()

	srv := &http.Server{
		Addr:              addr,
		Handler:           testbed.NewServer(store, logger).Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("testbed listening", zap.String("addr", addr), zap.String("db", dbPath))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown incomplete", zap.Error(err))
	}
	logger.Info("testbed stopped")
}
