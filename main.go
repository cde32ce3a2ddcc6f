package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	_ "vibetunnel/server/docs" // swagger generated docs
	"vibetunnel/server/src/api"
	"vibetunnel/server/src/config"
	"vibetunnel/server/src/fanout"
	"vibetunnel/server/src/federation"
	"vibetunnel/server/src/session"

	"github.com/joho/godotenv"
)

// @title           VibeTunnel Server API
// @version         1.0
// @description     Session API for a web-accessible terminal multiplexer.

// @host      localhost:4020
// @BasePath  /api
func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file found, continuing with process environment")
	}

	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := session.NewStore(cfg.ControlDir)
	if err != nil {
		log.Fatalf("failed to open session store at %s: %v", cfg.ControlDir, err)
	}

	watcher, err := session.NewWatcher(store)
	if err != nil {
		log.Fatalf("failed to start control-dir watcher: %v", err)
	}
	go watcher.Run(ctx)

	var registry *federation.Registry
	if cfg.IsHQ {
		registry = federation.NewRegistry()
		refresher := federation.NewRefresher(registry)
		go refresher.Run(ctx)
	}

	var hqClient *federation.HQClient
	if cfg.HQURL != "" {
		hqClient = federation.NewHQClient(cfg.HQURL, cfg.HQUsername, cfg.HQPassword, cfg.RemoteName, fmt.Sprintf("http://localhost:%d", cfg.Port))
		if err := hqClient.Register(ctx); err != nil {
			log.Printf("warning: failed to register with hq at %s: %v", cfg.HQURL, err)
		}
	}

	bufferHub := fanout.NewBufferHub()

	router := api.SetupRouter(api.Deps{
		Config:    cfg,
		Store:     store,
		Registry:  registry,
		BufferHub: bufferHub,
		Version:   "1.0.0",
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Printf("shutting down")
		if hqClient != nil {
			if err := hqClient.Deregister(context.Background()); err != nil {
				log.Printf("warning: failed to deregister from hq: %v", err)
			}
		}
		cancel()
		os.Exit(0)
	}()

	addr := fmt.Sprintf(":%d", cfg.Port)
	log.Printf("VibeTunnel server listening on %s (control dir: %s)", addr, cfg.ControlDir)
	if err := router.Run(addr); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}
