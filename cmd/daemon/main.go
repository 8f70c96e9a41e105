package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"ledgermsg/go-node/internal/bootstrap/nodeconfig"
	"ledgermsg/go-node/internal/composition/daemon"
	"ledgermsg/go-node/internal/platform/metrics"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "Path to config.yaml (optional)")
	dataDir := flag.String("data-dir", "", "Directory for node local data (optional)")
	metricsAddr := flag.String("metrics-addr", "", "Prometheus listen address override (optional)")
	flag.Parse()
	if *showVersion {
		fmt.Printf("ledgermsg-daemon version=%s commit=%s build_date=%s\n", version, commit, buildDate)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := nodeconfig.LoadFromPath(*configPath)
	if err != nil {
		log.Fatalf("ledgermsg-daemon failed to load config: %v", err)
	}
	cfg = cfg.Merge(nodeconfig.Config{DataDir: *dataDir, MetricsAddr: *metricsAddr})

	logger := daemon.Logger(&cfg)
	id, err := daemon.LoadIdentity(&cfg)
	if err != nil {
		log.Fatalf("ledgermsg-daemon failed to open wallet: %v", err)
	}
	node, err := daemon.Build(&cfg, id, logger)
	if err != nil {
		log.Fatalf("ledgermsg-daemon failed to initialize: %v", err)
	}

	var metricsSrv *http.Server
	if cfg.MetricsEnabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		metricsSrv = &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics listener failed", "error", err)
			}
		}()
	}

	log.Println("ledgermsg-daemon starting")
	if err := node.Runtime.Start(ctx); err != nil {
		log.Fatalf("ledgermsg-daemon failed to start: %v", err)
	}

	<-ctx.Done()
	node.Runtime.Stop()
	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	log.Println("ledgermsg-daemon stopped")
}
