package main

import (
	"context"
	"errors"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/agentworkforce/indicators/internal/httpapi"
	"github.com/agentworkforce/indicators/internal/resultsync"
	"github.com/agentworkforce/indicators/internal/snapshot"
)

func main() {
	addr := envOrDefault("INDICATORS_ADDR", ":8080")

	client := resultsync.NewHTTPClient(
		envOrDefault("INDICATORS_UPSTREAM_URL", "http://127.0.0.1:8000/api"),
		os.Getenv("INDICATORS_UPSTREAM_TOKEN"),
		&http.Client{Timeout: durationEnv("INDICATORS_UPSTREAM_TIMEOUT", 15*time.Second)},
	)
	client.SetMaxRetries(intEnv("INDICATORS_UPSTREAM_RETRIES", 3))

	coord, err := resultsync.NewCoordinator(client, resultsync.CoordinatorOptions{
		Logger:   log.Default(),
		FlatOnly: boolEnv("INDICATORS_FLAT_ONLY", false),
	})
	if err != nil {
		log.Fatalf("failed to initialize results coordinator: %v", err)
	}

	backend, err := snapshot.BuildBackendFromDSN(os.Getenv("INDICATORS_SNAPSHOT_DSN"))
	if err != nil {
		log.Fatalf("failed to initialize snapshot backend: %v", err)
	}
	if backend != nil {
		if closer, ok := backend.(io.Closer); ok {
			defer closer.Close()
		}
		seedFromSnapshot(coord, backend, log.Default())
		coord.Subscribe(snapshotSaver(coord, backend, log.Default()))
	}

	server := httpapi.NewServerWithConfig(coord, httpapi.ServerConfig{
		JWTSecret:      os.Getenv("INDICATORS_JWT_SECRET"),
		RateLimitRPS:   floatEnv("INDICATORS_RATE_LIMIT_RPS", 0),
		RateLimitBurst: intEnv("INDICATORS_RATE_LIMIT_BURST", 20),
		MaxBodyBytes:   int64Env("INDICATORS_MAX_BODY_BYTES", 0),
		WorstLimit:     intEnv("INDICATORS_WORST_LIMIT", 0),
		StreamOrigins:  splitList(os.Getenv("INDICATORS_STREAM_ORIGINS")),
	})

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, unix.SIGTERM)
	defer stop()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, unix.SIGHUP)
	defer signal.Stop(hup)

	go refreshLoop(rootCtx, coord, hup,
		durationEnv("INDICATORS_REFRESH_INTERVAL", 0),
		floatEnv("INDICATORS_REFRESH_JITTER", 0.2),
		durationEnv("INDICATORS_UPSTREAM_TIMEOUT", 15*time.Second)*4,
	)

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Printf("indicators listening on %s", addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server failed: %v", err)
		}
	case <-rootCtx.Done():
		log.Printf("indicators stopping: %v", rootCtx.Err())
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown failed: %v", err)
		}
	}
}

// refreshLoop fetches once at startup, then on every SIGHUP and, when
// interval > 0, on a jittered timer. A refresh that collides with an
// in-flight mutation is skipped.
func refreshLoop(ctx context.Context, coord *resultsync.Coordinator, hup <-chan os.Signal, interval time.Duration, jitter float64, timeout time.Duration) {
	run := func(reason string) {
		runCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		set, err := coord.Refresh(runCtx)
		switch {
		case errors.Is(err, resultsync.ErrBusy):
			log.Printf("%s refresh skipped: mutation in flight", reason)
		case err != nil:
			log.Printf("%s refresh failed: %v", reason, err)
		default:
			log.Printf("%s refresh loaded %d result(s) from %s", reason, set.Len(), set.Source)
		}
	}

	run("initial")

	var tick <-chan time.Time
	var timer *time.Timer
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	if interval > 0 {
		timer = time.NewTimer(jitteredIntervalWithSample(interval, jitter, rng.Float64()))
		defer timer.Stop()
		tick = timer.C
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			run("sighup")
		case <-tick:
			run("scheduled")
			timer.Reset(jitteredIntervalWithSample(interval, jitter, rng.Float64()))
		}
	}
}

func seedFromSnapshot(coord *resultsync.Coordinator, backend snapshot.Backend, logger *log.Logger) {
	set, err := backend.Load()
	if err != nil {
		logger.Printf("snapshot load failed: %v", err)
		return
	}
	if set == nil {
		return
	}
	set.Source = resultsync.SourceSnapshot
	if coord.Seed(set) {
		logger.Printf("seeded %d result(s) from snapshot fetched at %s", set.Len(), set.FetchedAt.Format(time.RFC3339))
	}
}

// snapshotSaver persists every fresh set. Seeds are not written back.
func snapshotSaver(coord *resultsync.Coordinator, backend snapshot.Backend, logger *log.Logger) func(resultsync.Event) {
	return func(event resultsync.Event) {
		if event.Type != resultsync.EventRefreshed || event.Operation == "seed" {
			return
		}
		set := coord.Current()
		if set == nil {
			return
		}
		if err := backend.Save(set); err != nil {
			logger.Printf("snapshot save failed: %v", err)
		}
	}
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func intEnv(name string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

func int64Env(name string, fallback int64) int64 {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

func floatEnv(name string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %f", name, raw, fallback)
		return fallback
	}
	return value
}

func boolEnv(name string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %t", name, raw, fallback)
		return fallback
	}
	return value
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %s", name, raw, fallback.String())
		return fallback
	}
	return value
}

func jitteredIntervalWithSample(base time.Duration, jitterRatio, sample float64) time.Duration {
	if base <= 0 {
		return 0
	}
	if jitterRatio < 0 {
		jitterRatio = 0
	} else if jitterRatio > 1 {
		jitterRatio = 1
	}
	if sample < 0 {
		sample = 0
	} else if sample > 1 {
		sample = 1
	}
	delay := time.Duration(float64(base) * (1 + ((sample*2)-1)*jitterRatio))
	if delay < time.Millisecond {
		return time.Millisecond
	}
	return delay
}
