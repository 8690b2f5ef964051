package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fentz26/midnight/internal/agent"
	"github.com/fentz26/midnight/internal/apply/localdir"
	"github.com/fentz26/midnight/internal/audit"
	"github.com/fentz26/midnight/internal/config"
	"github.com/fentz26/midnight/internal/controlplane"
	"github.com/fentz26/midnight/internal/factory"
	"github.com/fentz26/midnight/internal/queue"
	"github.com/fentz26/midnight/internal/snapshot"
	"github.com/fentz26/midnight/internal/store"
	"github.com/spf13/cobra"
)

var (
	listenAddr string
	dbPath     string
	configPath string
	applyDir   string
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Start the Midnight factory daemon",
	Long:  `Starts the factory daemon: the background run loop, the snapshot ticker and the HTTP API for task submission.`,
	RunE:  runDaemon,
}

func init() {
	homeDir, _ := os.UserHomeDir()
	base := filepath.Join(homeDir, ".midnight")

	daemonCmd.Flags().StringVar(&listenAddr, "listen", "127.0.0.1:7388", "Listen address for the API server")
	daemonCmd.Flags().StringVar(&dbPath, "db", filepath.Join(base, "midnight.db"), "Path to SQLite database")
	daemonCmd.Flags().StringVar(&configPath, "config", filepath.Join(base, "config.yaml"), "Path to factory config")
	daemonCmd.Flags().StringVar(&applyDir, "apply-dir", filepath.Join(base, "apply"), "Spool directory for accepted results")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	log.Println("Starting Midnight daemon...")

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	s, err := store.New(dbPath)
	if err != nil {
		return err
	}

	// Initialize components
	hostname, _ := os.Hostname()
	holderID := fmt.Sprintf("factory@%s#%d", hostname, os.Getpid())

	aud := audit.NewWriter(s)
	q := queue.New(s, holderID, cfg.LeaseTTLSec)
	snap := snapshot.New(s)
	actor := agent.NewActor(cfg)
	sentinel := agent.NewSentinel(cfg)
	applier := localdir.New(applyDir)

	orch := factory.NewOrchestrator(s, q, actor, sentinel, applier, aud, cfg)
	svc := factory.NewService(s, q, snap, orch, cfg)

	// Crash recovery before anything else touches the queue. A corrupt
	// snapshot store is fatal; a cold store is not.
	if err := svc.Recover(); err != nil {
		s.Close()
		return err
	}

	service := controlplane.NewService(s, q, aud)
	server := controlplane.NewServer(service, s, listenAddr)

	svc.Start()

	// Set up signal handling for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Channel to receive server errors
	serverErr := make(chan error, 1)

	// Start server in goroutine
	go func() {
		err := server.Start()
		if err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Wait for shutdown signal or server error
	select {
	case sig := <-sigCh:
		log.Printf("Received signal %v, initiating graceful shutdown...", sig)
	case err := <-serverErr:
		if err != nil {
			log.Printf("Server error: %v", err)
			svc.Stop()
			s.Close()
			return err
		}
	}

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	log.Println("Shutting down HTTP server...")
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	// Stop waits for the in-flight cycle and forces a final snapshot.
	svc.Stop()

	log.Println("Closing database connection...")
	if err := s.Close(); err != nil {
		log.Printf("Database close error: %v", err)
	}

	log.Println("Shutdown complete")
	return nil
}
