package main

import (
	"context"
	"flag"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/agentworkforce/indicators/internal/resultsync"
	"github.com/agentworkforce/indicators/internal/viewsync"
)

func main() {
	baseURL := flag.String("upstream-url", envOrDefault("INDICATORS_UPSTREAM_URL", "http://127.0.0.1:8000/api"), "results collaborator base URL")
	token := flag.String("token", strings.TrimSpace(os.Getenv("INDICATORS_UPSTREAM_TOKEN")), "bearer token")
	localDir := flag.String("local-dir", strings.TrimSpace(os.Getenv("INDICATORS_LOCAL_DIR")), "local view directory")
	stateFile := flag.String("state-file", strings.TrimSpace(os.Getenv("INDICATORS_WATCH_STATE_FILE")), "state file path")
	criteriaPath := flag.String("criteria", strings.TrimSpace(os.Getenv("INDICATORS_CRITERIA_FILE")), "YAML criteria file")
	flatOnly := flag.Bool("flat-only", boolEnv("INDICATORS_FLAT_ONLY", false), "skip the detailed results endpoint")
	interval := flag.Duration("interval", durationEnv("INDICATORS_WATCH_INTERVAL", 30*time.Second), "poll interval")
	intervalJitter := flag.Float64("interval-jitter", floatEnv("INDICATORS_WATCH_INTERVAL_JITTER", 0.2), "poll interval jitter ratio (0.0-1.0)")
	timeout := flag.Duration("timeout", durationEnv("INDICATORS_UPSTREAM_TIMEOUT", 15*time.Second), "per-cycle timeout")
	once := flag.Bool("once", boolEnv("INDICATORS_WATCH_ONCE", false), "run one cycle and exit")
	flag.Parse()

	if strings.TrimSpace(*localDir) == "" {
		log.Fatalf("local-dir is required (--local-dir or INDICATORS_LOCAL_DIR)")
	}
	if *interval <= 0 {
		*interval = 30 * time.Second
	}
	if *timeout <= 0 {
		*timeout = 15 * time.Second
	}
	*intervalJitter = clampJitterRatio(*intervalJitter)

	criteria, err := viewsync.LoadCriteria(*criteriaPath)
	if err != nil {
		log.Fatalf("failed to load criteria: %v", err)
	}

	client := resultsync.NewHTTPClient(*baseURL, *token, &http.Client{Timeout: *timeout})
	coord, err := resultsync.NewCoordinator(client, resultsync.CoordinatorOptions{
		Logger:   log.Default(),
		FlatOnly: *flatOnly,
	})
	if err != nil {
		log.Fatalf("failed to initialize results coordinator: %v", err)
	}
	mirror, err := viewsync.NewMirror(coord, viewsync.MirrorOptions{
		LocalRoot: *localDir,
		StateFile: *stateFile,
		Criteria:  criteria,
		Logger:    log.Default(),
	})
	if err != nil {
		log.Fatalf("failed to initialize view mirror: %v", err)
	}
	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, unix.SIGTERM)
	defer stop()

	run := func() {
		ctx, cancel := context.WithTimeout(rootCtx, *timeout)
		defer cancel()
		written, err := mirror.SyncOnce(ctx)
		if err != nil {
			log.Printf("view sync cycle failed: %v", err)
			return
		}
		log.Printf("view sync cycle completed (%d file(s) updated)", len(written))
	}

	run()
	if *once {
		return
	}

	if *criteriaPath != "" {
		go func() {
			err := viewsync.WatchCriteria(rootCtx, *criteriaPath, log.Default(), func(cf viewsync.CriteriaFile) {
				written, err := mirror.SetCriteria(cf)
				if err != nil {
					log.Printf("criteria re-render failed: %v", err)
					return
				}
				log.Printf("criteria changed, re-rendered %d file(s)", len(written))
			})
			if err != nil {
				log.Printf("criteria watcher stopped: %v", err)
			}
		}()
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	timer := time.NewTimer(jitteredIntervalWithSample(*interval, *intervalJitter, rng.Float64()))
	defer timer.Stop()
	for {
		select {
		case <-rootCtx.Done():
			log.Printf("view sync stopping: %v", rootCtx.Err())
			return
		case <-timer.C:
			run()
			timer.Reset(jitteredIntervalWithSample(*interval, *intervalJitter, rng.Float64()))
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

func clampJitterRatio(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}

func jitteredIntervalWithSample(base time.Duration, jitterRatio, sample float64) time.Duration {
	if base <= 0 {
		return 0
	}
	jitterRatio = clampJitterRatio(jitterRatio)
	if jitterRatio == 0 {
		return base
	}
	if sample < 0 {
		sample = 0
	} else if sample > 1 {
		sample = 1
	}
	factor := 1 + ((sample*2)-1)*jitterRatio
	if factor < 0 {
		factor = 0
	}
	delay := time.Duration(float64(base) * factor)
	if delay < time.Millisecond {
		return time.Millisecond
	}
	return delay
}
