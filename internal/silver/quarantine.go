package silver

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/rkerno/dqflow/internal/domain"
)

// QuarantineSink persists rejected records with their diagnostics. One JSON
// document per entity per run; a second append for the same entity replaces
// the first, it does not merge.
type QuarantineSink struct {
	dir string
	log *slog.Logger
}

// NewQuarantineSink writes under <outputDir>/quarantine.
func NewQuarantineSink(outputDir string, logger *slog.Logger) *QuarantineSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &QuarantineSink{
		dir: filepath.Join(outputDir, "quarantine"),
		log: logger.With("component", "QuarantineSink"),
	}
}

// Append writes the complete quarantine set for an entity.
func (s *QuarantineSink) Append(entity string, records []domain.QuarantineRecord) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create quarantine directory: %w", err)
	}
	path := filepath.Join(s.dir, entity+"_quarantine.json")
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode quarantine records: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	s.log.Debug("quarantine written", "entity", entity, "records", len(records))
	return nil
}

// Dir returns the quarantine directory path.
func (s *QuarantineSink) Dir() string {
	return s.dir
}
