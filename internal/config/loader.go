package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/rkerno/dqflow/internal/domain"

	"github.com/spf13/viper"
)

// SourceConfig locates one entity's raw input and names its schema.
type SourceConfig struct {
	File    string `mapstructure:"file"`
	Format  string `mapstructure:"format"`
	DataKey string `mapstructure:"data_key"`
	Schema  string `mapstructure:"schema"`
}

// PipelineConfig carries run-level settings: directory layout, the fixed
// reference date for time-based features, and logging.
type PipelineConfig struct {
	Name              string
	Version           string
	InputDir          string
	OutputDir         string
	ReferenceDate     time.Time
	MaxQuarantineRate float64
	LogLevel          string
}

// Config is the full parsed configuration for one run.
type Config struct {
	Pipeline PipelineConfig
	Sources  map[string]SourceConfig
	// Order is the pinned entity processing order; every foreign-key target
	// precedes its referencers (enforced by ValidateOrder).
	Order   []string
	Schemas map[string]domain.EntitySchema
	Rules   map[string]domain.CleanRule
}

// Load reads pipeline.yaml, sources.yaml, schemas.yaml, and
// cleaning_rules.yaml from configDir. Environment variables prefixed with
// PIPELINE override pipeline settings (PIPELINE_INPUT_DIR and so on). Rule
// documents are validated here so a malformed rule fails the run before any
// entity is processed.
func Load(configDir string) (Config, error) {
	pipeline, err := loadPipeline(configDir)
	if err != nil {
		return Config{}, err
	}

	sources, order, err := loadSources(configDir)
	if err != nil {
		return Config{}, err
	}

	schemas, err := loadSchemas(configDir)
	if err != nil {
		return Config{}, err
	}

	rules, err := loadRules(configDir)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Pipeline: pipeline,
		Sources:  sources,
		Order:    order,
		Schemas:  schemas,
		Rules:    rules,
	}

	for name, source := range cfg.Sources {
		switch source.Format {
		case "csv", "json", "xlsx":
		case "parquet":
			return Config{}, fmt.Errorf("source %s: parquet sources are not supported", name)
		default:
			return Config{}, fmt.Errorf("source %s: unsupported format %q", name, source.Format)
		}
	}

	if err := ValidateOrder(cfg.Order, cfg.Sources, cfg.Schemas); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadPipeline(configDir string) (PipelineConfig, error) {
	cfg := PipelineConfig{
		Name:              "business_records_pipeline",
		Version:           "1.0.0",
		InputDir:          "./data",
		OutputDir:         "./outputs",
		ReferenceDate:     time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		MaxQuarantineRate: 0.2,
		LogLevel:          "info",
	}

	v := viper.New()
	v.SetConfigFile(filepath.Join(configDir, "pipeline.yaml"))
	v.AutomaticEnv()
	v.SetEnvPrefix("PIPELINE")
	v.BindEnv("data.input_dir", "PIPELINE_INPUT_DIR")
	v.BindEnv("data.output_dir", "PIPELINE_OUTPUT_DIR")
	v.BindEnv("logging.level", "PIPELINE_LOG_LEVEL")

	if err := v.ReadInConfig(); err != nil {
		// No pipeline.yaml is fine; defaults plus env vars apply.
		return cfg, nil
	}

	if v.IsSet("pipeline.name") {
		cfg.Name = v.GetString("pipeline.name")
	}
	if v.IsSet("pipeline.version") {
		cfg.Version = v.GetString("pipeline.version")
	}
	if v.IsSet("data.input_dir") {
		cfg.InputDir = v.GetString("data.input_dir")
	}
	if v.IsSet("data.output_dir") {
		cfg.OutputDir = v.GetString("data.output_dir")
	}
	if v.IsSet("validation.max_quarantine_rate") {
		cfg.MaxQuarantineRate = v.GetFloat64("validation.max_quarantine_rate")
	}
	if v.IsSet("logging.level") {
		cfg.LogLevel = v.GetString("logging.level")
	}
	if v.IsSet("feature_engineering.reference_date") {
		raw := v.GetString("feature_engineering.reference_date")
		ref, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return cfg, fmt.Errorf("invalid feature_engineering.reference_date %q: %w", raw, err)
		}
		cfg.ReferenceDate = ref
	}
	return cfg, nil
}

func loadSources(configDir string) (map[string]SourceConfig, []string, error) {
	v := viper.New()
	v.SetConfigFile(filepath.Join(configDir, "sources.yaml"))
	if err := v.ReadInConfig(); err != nil {
		return nil, nil, fmt.Errorf("failed to read sources.yaml: %w", err)
	}

	var sources map[string]SourceConfig
	if err := v.UnmarshalKey("sources", &sources); err != nil {
		return nil, nil, fmt.Errorf("failed to parse sources: %w", err)
	}
	order := v.GetStringSlice("order")
	if len(order) == 0 {
		return nil, nil, fmt.Errorf("sources.yaml must declare a processing order")
	}
	return sources, order, nil
}

func loadSchemas(configDir string) (map[string]domain.EntitySchema, error) {
	v := viper.New()
	v.SetConfigFile(filepath.Join(configDir, "schemas.yaml"))
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read schemas.yaml: %w", err)
	}

	var schemas map[string]domain.EntitySchema
	if err := v.UnmarshalKey("schemas", &schemas); err != nil {
		return nil, fmt.Errorf("failed to parse schemas: %w", err)
	}
	for name, schema := range schemas {
		schema.Name = name
		if schema.PrimaryKey != "" {
			if _, ok := schema.Field(schema.PrimaryKey); !ok {
				return nil, fmt.Errorf("schema %s: primary key field %s is not declared", name, schema.PrimaryKey)
			}
		}
		schemas[name] = schema
	}
	return schemas, nil
}

func loadRules(configDir string) (map[string]domain.CleanRule, error) {
	v := viper.New()
	v.SetConfigFile(filepath.Join(configDir, "cleaning_rules.yaml"))
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read cleaning_rules.yaml: %w", err)
	}

	var rules map[string]domain.CleanRule
	if err := v.UnmarshalKey("cleaners", &rules); err != nil {
		return nil, fmt.Errorf("failed to parse cleaning rules: %w", err)
	}
	for name, rule := range rules {
		if err := rule.Validate(); err != nil {
			return nil, fmt.Errorf("cleaning rule %s: %w", name, err)
		}
	}
	return rules, nil
}
