package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	json "github.com/goccy/go-json"

	"github.com/aevon-lab/flexevent/internal/attribution"
	corecfg "github.com/aevon-lab/flexevent/internal/core/config"
	"github.com/aevon-lab/flexevent/internal/core/preset"
	"github.com/aevon-lab/flexevent/internal/core/storage"
	"github.com/aevon-lab/flexevent/internal/core/storage/memory"
	"github.com/aevon-lab/flexevent/internal/core/storage/postgres"
	"github.com/aevon-lab/flexevent/internal/core/triggerspec"
	"github.com/aevon-lab/flexevent/internal/migrations"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	presetName := flag.String("preset", "", "Only inspect this preset")
	specsPath := flag.String("specs", "", "Inspect a trigger specs JSON file instead of presets")
	maxReports := flag.Int("max-reports", 3, "max_event_level_reports for -specs")
	sourceType := flag.String("source-type", preset.SourceTypeEvent, "Source type for -specs (event|navigation)")
	candidatesPath := flag.String("candidates", "", "Evaluate a JSON array of {source, trigger} candidates")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	cfg, err := corecfg.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	slog.Info("Loaded config", "presets", cfg.Presets.Len(), "epsilon", cfg.Measurement.PrivacyEpsilon)

	if *candidatesPath != "" {
		if err := evaluate(cfg, *candidatesPath, os.Stdout); err != nil {
			slog.Error("Evaluation failed", "error", err)
			os.Exit(1)
		}
		return
	}

	var presets []preset.Preset
	if *specsPath != "" {
		data, err := os.ReadFile(*specsPath)
		if err != nil {
			slog.Error("Failed to read specs file", "path", *specsPath, "error", err)
			os.Exit(1)
		}
		presets = []preset.Preset{{
			Name:                 *specsPath,
			SourceType:           *sourceType,
			TriggerSpecsJSON:     string(data),
			MaxEventLevelReports: *maxReports,
		}}
	} else {
		presets, err = selectPresets(context.Background(), cfg.Presets, *presetName)
		if err != nil {
			slog.Error("Failed to select presets", "error", err)
			os.Exit(1)
		}
	}

	ok, err := inspect(cfg.Flags(), presets, os.Stdout)
	if err != nil {
		slog.Error("Inspection failed", "error", err)
		os.Exit(1)
	}
	if !ok {
		os.Exit(2)
	}
}

// selectPresets returns the named preset, or every preset when name is empty.
func selectPresets(ctx context.Context, repo preset.Repository, name string) ([]preset.Preset, error) {
	if name == "" {
		return repo.List(ctx, "")
	}
	p, err := repo.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	return []preset.Preset{*p}, nil
}

// privacyReport is one line of inspect output.
type privacyReport struct {
	Name               string  `json:"name"`
	SourceType         string  `json:"source_type"`
	MaxReports         int     `json:"max_event_level_reports"`
	States             uint64  `json:"states"`
	FlipProbability    float64 `json:"flip_probability"`
	InformationGain    float64 `json:"information_gain"`
	MaxInformationGain float64 `json:"max_information_gain"`
	WithinLimits       bool    `json:"within_limits"`
	Error              string  `json:"error,omitempty"`
}

// inspect writes one privacy report per preset and reports whether all are within limits.
func inspect(flags corecfg.Flags, presets []preset.Preset, w io.Writer) (bool, error) {
	enc := json.NewEncoder(w)
	allOK := true
	for _, p := range presets {
		r := privacyReport{
			Name:               p.Name,
			SourceType:         p.SourceType,
			MaxReports:         p.MaxEventLevelReports,
			MaxInformationGain: flags.MaxInformationGain(p.SourceType),
		}

		specs, err := triggerspec.Parse(p.TriggerSpecsJSON, strconv.Itoa(p.MaxEventLevelReports), nil, "")
		if err == nil {
			r.States, err = specs.NumStates()
		}
		if err == nil {
			r.FlipProbability, err = specs.FlipProbability(flags.PrivacyEpsilon())
		}
		if err == nil {
			r.InformationGain, err = specs.InformationGain(flags.PrivacyEpsilon())
		}
		if err == nil {
			err = specs.CheckPrivacyLimits(flags.MaxReportStates(), r.MaxInformationGain, flags.PrivacyEpsilon())
		}
		if err != nil {
			r.Error = err.Error()
			allOK = false
		} else {
			r.WithinLimits = true
		}

		if err := enc.Encode(r); err != nil {
			return false, fmt.Errorf("write report: %w", err)
		}
	}
	return allOK, nil
}

type stores interface {
	storage.AttributionStore
	storage.SourceStatusStore
}

func openStores(cfg *corecfg.Config) (stores, func(), error) {
	if cfg.Database.DSN == "" {
		slog.Info("No database configured, keeping attributions in memory")
		return memory.NewStore(), func() {}, nil
	}

	adapter, err := postgres.Open(
		cfg.Database.DSN,
		cfg.Database.MaxOpenConns,
		cfg.Database.MaxIdleConns,
		func(db *sql.DB) error { return migrations.RunMigrations(db, cfg.Database.AutoMigrate) },
	)
	if err != nil {
		return nil, nil, fmt.Errorf("initialize database: %w", err)
	}
	return adapter, func() { adapter.Close() }, nil
}

func evaluate(cfg *corecfg.Config, path string, w io.Writer) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read candidates: %w", err)
	}
	var candidates []attribution.Candidate
	if err := json.Unmarshal(data, &candidates); err != nil {
		return fmt.Errorf("parse candidates: %w", err)
	}

	interval, _ := cfg.Evaluation.IntervalDuration()
	window, _ := cfg.Evaluation.RateLimitWindowDuration()

	st, closeStores, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer closeStores()

	evaluator := attribution.NewEvaluator(st, st, attribution.SystemClock, attribution.EvaluatorParameter{
		WorkerCount:              cfg.Evaluation.WorkerCount,
		RateLimitWindow:          window,
		MaxAttributionsPerWindow: cfg.Evaluation.MaxAttributionsPerWindow,
	})
	queue := attribution.NewSliceQueue(candidates)
	scheduler := attribution.NewScheduler(interval, cfg.Evaluation.BatchSize, queue, evaluator, cfg.Flags())

	if interval > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			quit := make(chan os.Signal, 1)
			signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
			<-quit
			slog.Info("Signal received, shutting down...")
			cancel()
		}()
		if err := scheduler.Start(ctx); err != nil {
			return err
		}
	} else if _, err := scheduler.Drain(context.Background()); err != nil {
		return err
	}

	enc := json.NewEncoder(w)
	for _, r := range queue.Results() {
		out := struct {
			attribution.Result
			AttributionID string `json:"attribution_id,omitempty"`
			ReportID      string `json:"report_id,omitempty"`
			Error         string `json:"error,omitempty"`
		}{Result: r}
		if r.Attribution != nil {
			out.AttributionID = r.Attribution.ID()
			out.ReportID = r.Attribution.ReportID()
		}
		if r.Err != nil {
			out.Error = r.Err.Error()
		}
		if err := enc.Encode(out); err != nil {
			return fmt.Errorf("write result: %w", err)
		}
	}
	return nil
}
