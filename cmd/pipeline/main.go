package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rkerno/dqflow/internal/bronze"
	"github.com/rkerno/dqflow/internal/config"
	"github.com/rkerno/dqflow/internal/domain"
	"github.com/rkerno/dqflow/internal/gold"
	"github.com/rkerno/dqflow/internal/registry"
	"github.com/rkerno/dqflow/internal/report"
	"github.com/rkerno/dqflow/internal/silver"
)

// runSummary is persisted as run_summary.json at the end of every run.
type runSummary struct {
	RunID      string                             `json:"run_id"`
	Pipeline   string                             `json:"pipeline"`
	Version    string                             `json:"version"`
	StartedAt  time.Time                          `json:"started_at"`
	FinishedAt time.Time                          `json:"finished_at"`
	Bronze     map[string]bronze.Result           `json:"bronze"`
	Silver     map[string]domain.ProcessingResult `json:"silver"`
	Gold       map[string]gold.FeatureResult      `json:"gold,omitempty"`
	Report     string                             `json:"report,omitempty"`
}

func main() {
	configDir := flag.String("config", "config", "directory holding pipeline.yaml, sources.yaml, schemas.yaml and cleaning_rules.yaml")
	dataDir := flag.String("data", "", "raw input directory (overrides pipeline.input_dir)")
	outDir := flag.String("out", "", "output directory (overrides pipeline.output_dir)")
	dbPath := flag.String("db", "", "sqlite database path for the gold layer (default in-memory)")
	skipGold := flag.Bool("skip-gold", false, "stop after the silver layer")
	flag.Parse()

	cfg, err := config.Load(*configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}
	if *dataDir != "" {
		cfg.Pipeline.InputDir = *dataDir
	}
	if *outDir != "" {
		cfg.Pipeline.OutputDir = *outDir
	}

	logger := newLogger(cfg.Pipeline.LogLevel)
	runID := uuid.NewString()
	logger = logger.With("run_id", runID)

	if err := run(cfg, runID, *dbPath, *skipGold, logger); err != nil {
		logger.Error("pipeline failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, runID, dbPath string, skipGold bool, logger *slog.Logger) error {
	started := time.Now()
	logger.Info("pipeline starting",
		"pipeline", cfg.Pipeline.Name,
		"version", cfg.Pipeline.Version,
		"input", cfg.Pipeline.InputDir,
		"output", cfg.Pipeline.OutputDir,
	)

	summary := runSummary{
		RunID:     runID,
		Pipeline:  cfg.Pipeline.Name,
		Version:   cfg.Pipeline.Version,
		StartedAt: started,
	}

	ingester := bronze.NewIngester(cfg.Sources, cfg.Pipeline.InputDir, cfg.Pipeline.OutputDir, logger)
	bronzeResults, err := ingester.IngestAll()
	if err != nil {
		return fmt.Errorf("bronze layer: %w", err)
	}
	summary.Bronze = bronzeResults

	reg, err := registry.New(cfg.Schemas)
	if err != nil {
		return fmt.Errorf("schema registry: %w", err)
	}
	processor := silver.NewProcessor(cfg, reg, logger)
	silverResults, err := processor.ProcessAll()
	if err != nil {
		return fmt.Errorf("silver layer: %w", err)
	}
	summary.Silver = silverResults
	warnOnQuarantineRate(silverResults, cfg.Pipeline.MaxQuarantineRate, logger)

	if !skipGold {
		goldProc, err := gold.NewProcessor(
			filepath.Join(cfg.Pipeline.OutputDir, "silver"),
			cfg.Pipeline.OutputDir,
			dbPath,
			cfg.Pipeline.ReferenceDate,
			logger,
		)
		if err != nil {
			return fmt.Errorf("gold layer: %w", err)
		}
		goldResults, err := goldProc.ProcessAll()
		goldProc.Close()
		if err != nil {
			return fmt.Errorf("gold layer: %w", err)
		}
		summary.Gold = goldResults
	}

	reportPath, err := report.Generate(
		summary.Bronze, summary.Silver, summary.Gold,
		filepath.Join(cfg.Pipeline.OutputDir, "quality_report.md"),
		logger,
	)
	if err != nil {
		return err
	}
	summary.Report = reportPath
	summary.FinishedAt = time.Now()

	if err := writeSummary(cfg.Pipeline.OutputDir, summary); err != nil {
		return err
	}
	logger.Info("pipeline finished", "elapsed", summary.FinishedAt.Sub(started).Round(time.Millisecond))
	return nil
}

// warnOnQuarantineRate flags entities whose rejection rate exceeds the
// configured ceiling. The run still succeeds; the threshold exists so a bad
// upstream drop is loud, not fatal.
func warnOnQuarantineRate(results map[string]domain.ProcessingResult, maxRate float64, logger *slog.Logger) {
	if maxRate <= 0 {
		return
	}
	for entity, r := range results {
		if r.TotalRecords == 0 {
			continue
		}
		rate := float64(r.QuarantinedRecords) / float64(r.TotalRecords)
		if rate > maxRate {
			logger.Warn("quarantine rate above threshold",
				"entity", entity,
				"rate", fmt.Sprintf("%.1f%%", rate*100),
				"threshold", fmt.Sprintf("%.1f%%", maxRate*100),
			)
		}
	}
}

func writeSummary(outputDir string, summary runSummary) error {
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(outputDir, "run_summary.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write run summary: %w", err)
	}
	return nil
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn", "warning":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
