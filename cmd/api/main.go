package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"civicplan/api/internal/app"
	"civicplan/api/internal/audit"
	"civicplan/api/internal/autosave"
	"civicplan/api/internal/blob"
	"civicplan/api/internal/config"
	"civicplan/api/internal/evidence"
	"civicplan/api/internal/stash"
	"civicplan/api/internal/store"
	"civicplan/api/internal/workflow"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	dataStore := store.NewPostgresStore(db)
	auditLog := audit.NewLog(dataStore)
	engine := workflow.NewEngine(dataStore, auditLog)

	blobStore, err := blob.New(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
	if err != nil {
		log.Fatalf("object store connection failed: %v", err)
	}
	if err := blobStore.EnsureBucket(ctx); err != nil {
		log.Fatalf("object store bucket check failed: %v", err)
	}
	evidenceManager := evidence.NewManager(blobStore, engine, cfg.EvidenceMaxBytes)

	var stashStore *stash.RedisStore
	if strings.TrimSpace(cfg.RedisURL) != "" {
		stashStore, err = stash.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer stashStore.Close()
	} else {
		log.Printf("WARNING: no Redis configured, unflushed edit buffers are lost on session end")
	}

	// a nil *RedisStore must stay a nil interface downstream
	var coordStash autosave.Stash
	var service *app.Service
	if stashStore != nil {
		coordStash = stashStore
	}
	autosaves := autosave.NewManager(dataStore, auditLog, coordStash, cfg.AutosaveDebounce, cfg.StashTTL, cfg.SessionTTL)

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go autosaves.Run(sweepCtx, cfg.SessionTTL/2)

	if stashStore != nil {
		service = app.New(cfg, engine, autosaves, evidenceManager, auditLog, stashStore, dataStore)
	} else {
		service = app.New(cfg, engine, autosaves, evidenceManager, auditLog, nil, dataStore)
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("CivicPlan API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}

	// drains sessions so buffered edits are flushed or stashed
	stopSweep()
	autosaves.CloseAll(shutdownCtx)
}
