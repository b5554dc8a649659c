package main

import (
	"context"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/gridpulse/meterledger/internal/archive"
	"github.com/gridpulse/meterledger/internal/config"
	"github.com/gridpulse/meterledger/internal/ledger"
	"github.com/gridpulse/meterledger/internal/oplog"
	"github.com/gridpulse/meterledger/internal/restore"
	"github.com/gridpulse/meterledger/internal/service"
	httpserver "github.com/gridpulse/meterledger/internal/transport/http"
)

func main() {
	var (
		cfgPath = flag.String("config", envOr("METERD_CONFIG", ""), "path to config YAML")
		addr    = flag.String("addr", "", "listen address (overrides config)")
	)
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		// No logger yet.
		panic(err)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	logger, err := newLogger(cfg.Logging.Development)
	if err != nil {
		panic("failed to initialize zap logger: " + err.Error())
	}
	defer logger.Sync()

	recorder, err := oplog.NewWriter(cfg.Storage.OplogDir)
	if err != nil {
		logger.Fatal("open operational record", zap.Error(err))
	}
	defer recorder.Close()

	store, err := archive.NewFSStore(cfg.Storage.ArchiveDir)
	if err != nil {
		logger.Fatal("open archive store", zap.Error(err))
	}

	l := ledger.New(ledger.NewGate(), recorder, logger)
	svc := service.New(
		l,
		archive.New(l, store, logger),
		restore.New(store, cfg.Storage.OplogDir, logger),
		logger,
	)

	// Rebuild ledger state before accepting any traffic.
	res := svc.RestoreAtStartup()
	logger.Info("startup restore complete",
		zap.Int("devices", len(res.Readings)),
		zap.Int("from_partitions", res.FromPartitions),
		zap.Int("from_log", res.FromLog),
		zap.Int("conflicts", res.Conflicts))

	srv := httpserver.New(svc)
	h := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second,
		WriteTimeout:      time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second,
		IdleTimeout:       time.Duration(cfg.Server.IdleTimeoutSeconds) * time.Second,
	}

	ln, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		logger.Fatal("listen", zap.String("addr", cfg.Server.Addr), zap.Error(err))
	}
	logger.Info("HTTP listening",
		zap.String("addr", cfg.Server.Addr),
		zap.String("archive_dir", cfg.Storage.ArchiveDir),
		zap.String("oplog_dir", cfg.Storage.OplogDir))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		logger.Info("shutting down HTTP")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.Shutdown(shutdownCtx)
	}()

	if err := h.Serve(ln); err != nil && err != http.ErrServerClosed {
		logger.Fatal("serve", zap.Error(err))
	}
}

func newLogger(development bool) (*zap.Logger, error) {
	if development {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func envOr(k, fallback string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return fallback
}
