package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/qerrors/qerrors/config"
	"github.com/qerrors/qerrors/engine"
)

const Version = "v0.1.0"

var (
	configFile = flag.String("config", "", "Path to a YAML configuration file layered over env vars")
	addr       = flag.String("addr", ":8080", "Address the HTTP surface (/health, /metrics, /errors) listens on")
	validate   = flag.Bool("validate", false, "Validate configuration and exit")
	version    = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("qerrorsd %s\n", Version)
		os.Exit(0)
	}

	cfg, err := loadConfig(*configFile)
	if err != nil {
		log.Printf("failed to load config: %v", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		log.Printf("invalid configuration: %v", err)
		os.Exit(1)
	}

	if *validate {
		fmt.Println("configuration is valid")
		os.Exit(0)
	}

	eng, err := engine.New(cfg)
	if err != nil {
		log.Printf("failed to start qerrors engine: %v", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:    *addr,
		Handler: eng.API().Router(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Println("received shutdown signal")
		cancel()
	}()

	serveErr := make(chan error, 1)
	go func() {
		log.Printf("qerrorsd %s listening on %s", Version, *addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			log.Printf("server error: %v", err)
			os.Exit(2)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http server shutdown error: %v", err)
		os.Exit(2)
	}
	if err := eng.Shutdown(shutdownCtx); err != nil {
		log.Printf("engine shutdown error: %v", err)
		os.Exit(2)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.FromEnv(), nil
	}
	return config.LoadFile(path)
}
