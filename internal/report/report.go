// Package report renders the run's markdown data quality report.
package report

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rkerno/dqflow/internal/bronze"
	"github.com/rkerno/dqflow/internal/domain"
	"github.com/rkerno/dqflow/internal/gold"
)

// Generate writes the markdown quality report covering all three layers and
// returns the written path. The quarantine inventory is read from the
// quarantine directory next to the report.
func Generate(
	bronzeResults map[string]bronze.Result,
	silverResults map[string]domain.ProcessingResult,
	goldResults map[string]gold.FeatureResult,
	outputPath string,
	logger *slog.Logger,
) (string, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var b strings.Builder
	b.WriteString("# Data Quality Report\n")
	fmt.Fprintf(&b, "\n**Generated:** %s\n", time.Now().Format("2006-01-02 15:04:05"))
	b.WriteString("\n**Pipeline:** Medallion Architecture (bronze → silver → gold)\n\n")

	totalBronze := writeBronzeSection(&b, bronzeResults)
	writeSilverSection(&b, silverResults, totalBronze)
	writeGoldSection(&b, goldResults)
	writeQuarantineSection(&b, filepath.Join(filepath.Dir(outputPath), "quarantine"))

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}
	if err := os.WriteFile(outputPath, []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("failed to write quality report: %w", err)
	}
	logger.Info("quality report written", "path", outputPath)
	return outputPath, nil
}

func writeBronzeSection(b *strings.Builder, results map[string]bronze.Result) int {
	b.WriteString("---\n")
	b.WriteString("\n## Bronze Layer (Ingestion)\n\n")
	b.WriteString("| Source | Format | Records | Status |\n")
	b.WriteString("|--------|--------|---------|--------|\n")

	total := 0
	for _, source := range sortedKeys(results) {
		result := results[source]
		status := "ok"
		if result.Error != "" {
			status = "failed"
		}
		total += result.RowCount
		fmt.Fprintf(b, "| %s | %s | %d | %s |\n", source, result.Format, result.RowCount, status)
	}
	fmt.Fprintf(b, "| **Total** | | **%d** | |\n\n", total)
	return total
}

func writeSilverSection(b *strings.Builder, results map[string]domain.ProcessingResult, totalBronze int) {
	b.WriteString("---\n")
	b.WriteString("\n## Silver Layer (Cleaning & Validation)\n\n")
	b.WriteString("| Source | Total | Valid | Quarantined | Deduped | Orphaned | Pass Rate |\n")
	b.WriteString("|--------|-------|-------|-------------|---------|----------|-----------|\n")

	var totalValid, totalQuarantined, totalDeduped, totalOrphaned int
	sources := sortedKeys(results)
	for _, source := range sources {
		r := results[source]
		totalValid += r.ValidRecords
		totalQuarantined += r.QuarantinedRecords
		totalDeduped += r.DuplicatesRemoved
		totalOrphaned += r.OrphanedRecords
		fmt.Fprintf(b, "| %s | %d | %d | %d | %d | %d | %.1f%% |\n",
			source, r.TotalRecords, r.ValidRecords, r.QuarantinedRecords,
			r.DuplicatesRemoved, r.OrphanedRecords, r.PassRate()*100)
	}
	overall := 0.0
	if totalBronze > 0 {
		overall = float64(totalValid) / float64(totalBronze) * 100
	}
	fmt.Fprintf(b, "| **Total** | **%d** | **%d** | **%d** | **%d** | **%d** | **%.1f%%** |\n\n",
		totalBronze, totalValid, totalQuarantined, totalDeduped, totalOrphaned, overall)

	writeErrorBreakdown(b, results, sources)
	writeCleaningSection(b, results, sources)

	if totalDeduped > 0 {
		b.WriteString("### Deduplication\n\n")
		b.WriteString("| Source | Duplicates Removed |\n")
		b.WriteString("|--------|--------------------|\n")
		for _, source := range sources {
			if n := results[source].DuplicatesRemoved; n > 0 {
				fmt.Fprintf(b, "| %s | %d |\n", source, n)
			}
		}
		b.WriteString("\n")
	}

	if totalOrphaned > 0 {
		b.WriteString("### Referential Integrity Violations\n\n")
		b.WriteString("| Source | Orphaned Records |\n")
		b.WriteString("|--------|------------------|\n")
		for _, source := range sources {
			if n := results[source].OrphanedRecords; n > 0 {
				fmt.Fprintf(b, "| %s | %d |\n", source, n)
			}
		}
		b.WriteString("\n")
	}
}

func writeErrorBreakdown(b *strings.Builder, results map[string]domain.ProcessingResult, sources []string) {
	b.WriteString("### Validation Error Breakdown\n\n")

	all := make(map[string]int)
	for _, source := range sources {
		for kind, count := range results[source].ErrorCounts {
			all[kind] += count
		}
	}
	if len(all) == 0 {
		b.WriteString("No validation errors found.\n\n")
		return
	}

	kinds := make([]string, 0, len(all))
	for kind := range all {
		kinds = append(kinds, kind)
	}
	// Highest count first, name as tiebreaker.
	sort.Slice(kinds, func(i, j int) bool {
		if all[kinds[i]] != all[kinds[j]] {
			return all[kinds[i]] > all[kinds[j]]
		}
		return kinds[i] < kinds[j]
	})

	b.WriteString("| Error Type | Count |\n")
	b.WriteString("|------------|-------|\n")
	for _, kind := range kinds {
		fmt.Fprintf(b, "| %s | %d |\n", kind, all[kind])
	}
	b.WriteString("\n")
}

func writeCleaningSection(b *strings.Builder, results map[string]domain.ProcessingResult, sources []string) {
	b.WriteString("### Cleaning Rules Applied\n\n")
	b.WriteString("| Source | Fields Cleaned |\n")
	b.WriteString("|--------|----------------|\n")
	for _, source := range sources {
		r := results[source]
		if len(r.FieldsCleaned) == 0 {
			continue
		}
		fields := make([]string, 0, len(r.FieldsCleaned))
		for field := range r.FieldsCleaned {
			fields = append(fields, field)
		}
		sort.Strings(fields)
		fmt.Fprintf(b, "| %s | %s |\n", source, strings.Join(fields, ", "))
	}
	b.WriteString("\n")
}

func writeGoldSection(b *strings.Builder, results map[string]gold.FeatureResult) {
	b.WriteString("---\n")
	b.WriteString("\n## Gold Layer (Feature Engineering)\n\n")
	b.WriteString("| Feature Table | Rows | Features |\n")
	b.WriteString("|---------------|------|----------|\n")

	totalFeatures := 0
	for _, name := range sortedKeys(results) {
		result := results[name]
		totalFeatures += len(result.Columns)
		fmt.Fprintf(b, "| %s | %d | %d |\n", name, result.RowCount, len(result.Columns))
	}
	fmt.Fprintf(b, "| **Total** | | **%d** |\n\n", totalFeatures)
}

func writeQuarantineSection(b *strings.Builder, quarantineDir string) {
	entries, err := os.ReadDir(quarantineDir)
	if err != nil || len(entries) == 0 {
		return
	}
	b.WriteString("---\n")
	b.WriteString("\n## Quarantine Files\n\n")
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(quarantineDir, name))
		if err != nil {
			fmt.Fprintf(b, "- `%s`: (unable to read)\n", name)
			continue
		}
		var records []json.RawMessage
		if err := json.Unmarshal(data, &records); err != nil {
			fmt.Fprintf(b, "- `%s`: (unable to read)\n", name)
			continue
		}
		fmt.Fprintf(b, "- `%s`: %d records\n", name, len(records))
	}
	b.WriteString("\n")
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
