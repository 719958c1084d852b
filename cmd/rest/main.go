package main

import (
	"context"
	"log"
	"time"

	"doc-qa-engine/internal/bootstrap"
	"doc-qa-engine/internal/config"
	"doc-qa-engine/internal/server"

	"github.com/fatih/color"
)

func main() {
	// 1. Load configuration
	cfg := config.Load()

	color.Cyan("doc-qa-engine")
	color.White("  LLM server:  %s", cfg.Ai.LLMServerURL)
	color.White("  Index:       %s", cfg.Index.Backend)
	color.White("  Cache:       %s", cfg.Cache.Path)

	// 2. Bootstrap dependencies (container)
	container := bootstrap.NewContainer(cfg)
	defer container.Logger.Sync()
	defer container.ResponseCache.Close()

	// 3. Periodic cache maintenance
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for range ticker.C {
			if n, err := container.ResponseCache.CleanupExpired(context.Background()); err == nil && n > 0 {
				log.Printf("Cache: cleaned up %d expired entries", n)
			}
		}
	}()

	// 4. Run server
	srv := server.New(cfg, container)
	log.Fatal(srv.Run())
}
