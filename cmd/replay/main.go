// Command replay backtests the prediction engine against stored readings and
// tagged events.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"github.com/rewired-gh/skywatch/internal/calibrate"
	"github.com/rewired-gh/skywatch/internal/config"
	"github.com/rewired-gh/skywatch/internal/engine"
	"github.com/rewired-gh/skywatch/internal/logger"
	"github.com/rewired-gh/skywatch/internal/models"
	"github.com/rewired-gh/skywatch/internal/storage"
)

var (
	configPath    = flag.String("config", "configs/config.yaml", "Path to configuration file")
	dbPath        = flag.String("db", "", "Database to replay (defaults to storage.db_path)")
	fromFlag      = flag.String("from", "", "Replay readings from this RFC3339 time")
	toFlag        = flag.String("to", "", "Replay readings up to this RFC3339 time")
	step          = flag.Duration("step", 5*time.Minute, "Minimum spacing between predictions")
	tolerance     = flag.Duration("tolerance", 2*time.Hour, "Maximum distance between a prediction and the event it matches")
	minConfidence = flag.Float64("min-confidence", -1, "Alert threshold (defaults to telegram.alert_min_confidence)")
	calibrated    = flag.Bool("calibrated", false, "Also replay with parameters recalibrated from the stored events")
)

// replayClock is a settable engine clock.
type replayClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *replayClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *replayClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	logger.Init("warn", "text")

	path := cfg.Storage.DBPath
	if *dbPath != "" {
		path = *dbPath
	}
	threshold := cfg.Telegram.AlertMinConfidence
	if *minConfidence >= 0 {
		threshold = *minConfidence
	}

	from, err := parseBound(*fromFlag)
	if err != nil {
		log.Fatalf("Invalid -from: %v", err)
	}
	to, err := parseBound(*toFlag)
	if err != nil {
		log.Fatalf("Invalid -to: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	store, err := storage.New(path)
	if err != nil {
		log.Fatalf("Failed to open storage: %v", err)
	}
	defer store.Close()

	readings, err := store.ReadingsBetween(from, to)
	if err != nil {
		log.Fatalf("Failed to load readings: %v", err)
	}
	events, err := store.Events()
	if err != nil {
		log.Fatalf("Failed to load events: %v", err)
	}

	fmt.Println("=" + strings.Repeat("=", 79))
	fmt.Println("SKYWATCH BACKTEST")
	fmt.Println("=" + strings.Repeat("=", 79))
	fmt.Printf("Database: %s\n", path)
	fmt.Printf("Readings: %d, events: %d\n", len(readings), len(events))
	fmt.Printf("Step: %v, tolerance: %v, alert threshold: %.2f\n", *step, *tolerance, threshold)
	if len(readings) == 0 {
		fmt.Println("\nNothing to replay.")
		return
	}

	opts := BacktestOptions{Step: *step, Tolerance: *tolerance, MinConfidence: threshold}

	summary, err := replay(ctx, cfg, store, readings, events, opts, false)
	if err != nil {
		log.Fatalf("Replay failed: %v", err)
	}
	printSummary("BASELINE PARAMETERS", summary)

	if *calibrated {
		summary, err := replay(ctx, cfg, store, readings, events, opts, true)
		if err != nil {
			log.Fatalf("Calibrated replay failed: %v", err)
		}
		printSummary("CALIBRATED PARAMETERS", summary)
	}
}

func replay(ctx context.Context, cfg *config.Config, store *storage.Storage, readings []models.Reading,
	events []models.Event, opts BacktestOptions, recalibrate bool) (Summary, error) {
	clock := &replayClock{}
	eng, err := newReplayEngine(cfg, store, clock.Now)
	if err != nil {
		return Summary{}, err
	}
	if recalibrate {
		eng.LoadEvents(events)
		report, err := eng.Recalibrate(ctx)
		if err != nil {
			return Summary{}, err
		}
		printReport(report)
	}
	return Backtest(ctx, eng, clock.Set, readings, events, opts)
}

func newReplayEngine(cfg *config.Config, store *storage.Storage, clock func() time.Time) (*engine.Engine, error) {
	loc, err := cfg.Engine.TimeLocation()
	if err != nil {
		return nil, err
	}
	tunings, err := cfg.Tunings()
	if err != nil {
		return nil, err
	}
	return engine.New(engine.Options{
		WindowCapacity: cfg.Engine.WindowCapacity,
		Retention:      cfg.Engine.Retention,
		HistorySize:    1,
		Location:       loc,
		Arbiter:        cfg.Engine.Config,
		Tunings:        tunings,
		Calibration: calibrate.Options{
			LearningRate: cfg.Calibration.LearningRate,
			BatchSize:    cfg.Calibration.BatchSize,
			Retention:    cfg.Engine.Retention,
		},
		Clock: clock,
	}, store)
}

func parseBound(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}
