// Command moebandit serves epsilon-greedy bandit allocations over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/JW-TS-QC/Cornell-MOE/internal/app"
)

// version is set at build time via -ldflags.
var version = "dev"

// probeHealth hits the local /healthz endpoint. addr is ":port" or
// "host:port"; only the port part is used.
func probeHealth(addr string) error {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://localhost%s/healthz", addr))
	if err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

func main() {
	// Built-in health check mode for Docker HEALTHCHECK (distroless has no curl).
	if len(os.Args) > 1 && os.Args[1] == "-healthcheck" {
		addr := os.Getenv("MOEBANDIT_LISTEN_ADDR")
		if addr == "" {
			addr = ":8080"
		}
		if err := probeHealth(addr); err != nil {
			os.Exit(1)
		}
		return
	}

	if err := run(); err != nil {
		log.Fatalf("moebandit: %v", err)
	}
}

func run() error {
	log.Printf("moebandit version %s", version)

	cfg, err := app.LoadConfig()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	srv, err := app.NewServer(cfg)
	if err != nil {
		return fmt.Errorf("server init: %w", err)
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		WriteTimeout:      300 * time.Second, // long-lived SSE streams
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("moebandit listening on %s", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// SIGHUP re-reads the environment and applies runtime-tunable settings.
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		for range hup {
			newCfg, err := app.LoadConfig()
			if err != nil {
				log.Printf("config reload error: %v (keeping current config)", err)
				continue
			}
			srv.Reload(newCfg)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		_ = srv.Close()
		return fmt.Errorf("listen: %w", err)
	case sig := <-stop:
		log.Printf("received %s, draining in-flight requests", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP shutdown error: %v", err)
	}
	if err := srv.Close(); err != nil {
		log.Printf("server close error: %v", err)
	}
	log.Printf("shutdown complete")
	return nil
}
