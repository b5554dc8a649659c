// maintworker triggers daily/monthly maintenance against a running meterd.
// Run it once from cron, or with -interval to keep it resident.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
)

func main() {
	var (
		target   = flag.String("target", envOr("METERD_URL", "http://localhost:8080"), "base URL of the meterd API")
		kind     = flag.String("period", "daily", "maintenance kind: daily, monthly or both")
		interval = flag.Duration("interval", 0, "re-run interval; 0 runs once and exits")
		timeout  = flag.Duration("timeout", 30*time.Second, "per-request timeout")
	)
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		panic("failed to initialize zap logger: " + err.Error())
	}
	defer logger.Sync()

	kinds, err := maintenanceKinds(*kind)
	if err != nil {
		logger.Fatal("invalid period", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := &http.Client{Timeout: *timeout}
	run := func() {
		for _, k := range kinds {
			if err := triggerArchive(ctx, client, *target, k); err != nil {
				logger.Error("maintenance failed",
					zap.String("period", k),
					zap.Error(err))
				continue
			}
			logger.Info("maintenance completed", zap.String("period", k))
		}
	}

	run()
	if *interval <= 0 {
		return
	}

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return
		case <-ticker.C:
			run()
		}
	}
}

func maintenanceKinds(kind string) ([]string, error) {
	switch kind {
	case "daily", "monthly":
		return []string{kind}, nil
	case "both":
		return []string{"daily", "monthly"}, nil
	default:
		return nil, fmt.Errorf("period must be daily, monthly or both, got %q", kind)
	}
}

func triggerArchive(ctx context.Context, client *http.Client, base, kind string) error {
	u, err := url.Parse(base)
	if err != nil {
		return fmt.Errorf("parse target %q: %w", base, err)
	}
	u.Path = "/archive_and_prepare"
	u.RawQuery = url.Values{"period": []string{kind}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("archive %s: status %d: %s", kind, resp.StatusCode, body)
	}
	return nil
}

func envOr(k, fallback string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return fallback
}
