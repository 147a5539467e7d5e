package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/coah80/reelsave/internal/alerts"
	"github.com/coah80/reelsave/internal/config"
	"github.com/coah80/reelsave/internal/middleware"
	"github.com/coah80/reelsave/internal/server"
	"github.com/coah80/reelsave/internal/services"
)

func main() {
	godotenv.Load()
	config.Load()

	store := services.NewTokenStore(services.TokenStoreOptions{
		MaxEntries: config.TokenStoreMax,
	})
	store.Start()

	limiter := middleware.NewRateLimiter(config.RateLimitWindow, config.RateLimitMax)
	limiter.StartCleanup(5 * time.Minute)

	srv := server.New(server.Deps{
		Store:    store,
		Resolver: services.NewCobaltResolver(),
		Proxy:    services.NewDownloadProxy(store, nil),
		Limiter:  limiter,
	})

	server.PrintBanner()
	log.Printf("[Server] %s mode, %d Cobalt instances, upstream timeout %s",
		config.EnvMode, len(config.CobaltAPIs), config.UpstreamTimeout)

	go func() {
		log.Printf("[Server] Listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("[Server] %v", err)
		}
	}()
	alerts.ServerStarted()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("[Server] Shutting down...")
	alerts.ServerStopping()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("[Server] Shutdown: %v", err)
	}

	limiter.Stop()
	store.Stop()
	log.Println("[Server] Stopped.")
}
