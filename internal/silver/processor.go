package silver

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/rkerno/dqflow/internal/bronze"
	"github.com/rkerno/dqflow/internal/config"
	"github.com/rkerno/dqflow/internal/domain"
	"github.com/rkerno/dqflow/internal/registry"
)

// Processor drives the quality pass for every entity in the configured
// order: clean, deduplicate, check referential integrity, validate, split
// into valid and quarantined sets, publish valid keys, persist.
//
// Execution is single-threaded on purpose: entity N+1's foreign-key check
// reads the key-cache entry entity N published, so one entity runs to
// completion before the next starts.
type Processor struct {
	sources   map[string]config.SourceConfig
	order     []string
	registry  *registry.Registry
	cleaner   *Cleaner
	bronzeDir string
	silverDir string
	sink      *QuarantineSink
	keys      *domain.KeyCache
	log       *slog.Logger
}

// ProcessorOption customizes processor construction.
type ProcessorOption func(*Processor)

// WithKeyCache substitutes the run's key cache. Tests pre-seed it to
// exercise a single entity's foreign-key behavior in isolation.
func WithKeyCache(keys *domain.KeyCache) ProcessorOption {
	return func(p *Processor) {
		if keys != nil {
			p.keys = keys
		}
	}
}

// NewProcessor wires a processor for one run.
func NewProcessor(cfg config.Config, reg *registry.Registry, logger *slog.Logger, opts ...ProcessorOption) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	outputDir := cfg.Pipeline.OutputDir
	p := &Processor{
		sources:   cfg.Sources,
		order:     cfg.Order,
		registry:  reg,
		cleaner:   NewCleaner(cfg.Rules, logger),
		bronzeDir: filepath.Join(outputDir, "bronze"),
		silverDir: filepath.Join(outputDir, "silver"),
		sink:      NewQuarantineSink(outputDir, logger),
		keys:      domain.NewKeyCache(),
		log:       logger.With("component", "QualityProcessor"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// KeyCache exposes the run's key cache; read-only for callers.
func (p *Processor) KeyCache() *domain.KeyCache {
	return p.keys
}

// ProcessAll runs every configured entity in the pinned dependency order,
// then extracts invoice line items if any invoice survived. Row- and
// entity-level failures never abort the run; only the inability to write an
// output artifact does.
func (p *Processor) ProcessAll() (map[string]domain.ProcessingResult, error) {
	if err := os.MkdirAll(p.silverDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create silver directory: %w", err)
	}

	results := make(map[string]domain.ProcessingResult, len(p.order))
	for _, entity := range p.order {
		if _, ok := p.sources[entity]; !ok {
			continue
		}
		result, err := p.Process(entity)
		if err != nil {
			return results, err
		}
		results[entity] = result
		p.log.Info("entity processed",
			"entity", entity,
			"valid", result.ValidRecords,
			"total", result.TotalRecords,
			"pass_rate", fmt.Sprintf("%.1f%%", result.PassRate()*100),
			"deduped", result.DuplicatesRemoved,
			"orphaned", result.OrphanedRecords,
		)
	}

	if invoiceEntity, ok := p.sourceForSchema(invoiceSchemaName); ok {
		if results[invoiceEntity].ValidRecords > 0 {
			liResult, err := p.ExtractLineItems()
			if err != nil {
				return results, err
			}
			results[lineItemEntityName] = liResult
		}
	}
	return results, nil
}

// Process runs the quality pass for one entity.
func (p *Processor) Process(entity string) (domain.ProcessingResult, error) {
	result := domain.ProcessingResult{
		Entity:        entity,
		FieldsCleaned: map[string]int{},
		ErrorCounts:   map[string]int{},
	}

	source := p.sources[entity]
	schemaName := source.Schema
	if schemaName == "" {
		schemaName = entity
	}

	tbl, err := bronze.ReadTable(filepath.Join(p.bronzeDir, entity+".csv"))
	if err != nil {
		// A missing upstream file yields an empty result; the run goes on.
		p.log.Error("bronze file not readable", "entity", entity, "error", err)
		return result, nil
	}
	result.TotalRecords = tbl.NumRows()

	schema, err := p.registry.Schema(schemaName)
	if err != nil && !errors.Is(err, registry.ErrUnknownSchema) {
		return result, err
	}

	// Step 1: cleaning. An unregistered rule name leaves the column
	// untouched and is surfaced as a counted warning; a rule that fails
	// mid-column is recovered and logged by the cleaner itself.
	for _, field := range schema.Fields {
		if field.CleanRule == "" {
			continue
		}
		if !p.cleaner.HasRule(field.CleanRule) {
			result.CleanWarnings++
			continue
		}
		cleaned, changed := p.cleaner.CleanColumn(tbl, field.Name, field.CleanRule)
		tbl = cleaned
		if changed > 0 {
			result.FieldsCleaned[field.Name] += changed
		}
	}

	// Step 2: deduplicate on the primary key, keep-first.
	deduped := tbl
	if schema.PrimaryKey != "" && tbl.HasColumn(schema.PrimaryKey) {
		keep := keepFirstIndices(tbl.Column(schema.PrimaryKey))
		result.DuplicatesRemoved = tbl.NumRows() - len(keep)
		if result.DuplicatesRemoved > 0 {
			deduped = tbl.Select(keep)
		}
	}

	// Step 3: referential integrity against previously published key sets.
	orphanErrors := p.checkForeignKeys(entity, schema, deduped)
	result.OrphanedRecords = len(orphanErrors)

	// Step 4: validate remaining rows in post-dedup order.
	rv, err := p.registry.Validator(schemaName)
	passThrough := false
	if err != nil {
		p.log.Warn("no schema registered, passing rows through", "entity", entity, "schema", schemaName)
		passThrough = true
	}

	headers := deduped.Headers()
	var validRecords []map[string]*string
	var quarantined []domain.QuarantineRecord

	for i := 0; i < deduped.NumRows(); i++ {
		row := deduped.Row(i)

		// Orphaned rows short-circuit: they carry only the referential
		// errors, field validation is not run for them. The error count
		// rises once per row, however many references failed.
		if fkErrs, ok := orphanErrors[i]; ok {
			result.ErrorCounts[domain.ErrorReferentialIntegrity]++
			quarantined = append(quarantined, domain.QuarantineRecord{
				RowIndex: i,
				Record:   row,
				Errors:   fkErrs,
			})
			continue
		}

		if passThrough {
			validRecords = append(validRecords, row)
			continue
		}

		violations := rv.Validate(row)
		if len(violations) == 0 {
			validRecords = append(validRecords, row)
			continue
		}
		errs := make([]domain.FieldError, 0, len(violations))
		for _, v := range violations {
			result.ErrorCounts[v.Kind]++
			errs = append(errs, domain.FieldError{Field: v.Field, Type: v.Kind, Msg: v.Message})
		}
		quarantined = append(quarantined, domain.QuarantineRecord{
			RowIndex: i,
			Record:   row,
			Errors:   errs,
		})
	}

	result.ValidRecords = len(validRecords)
	result.QuarantinedRecords = len(quarantined)

	// Step 5: persist the valid set and publish its keys. Publishing happens
	// exactly once, after persistence, so later entities always observe a
	// complete snapshot.
	if len(validRecords) > 0 {
		validTbl := domain.TableFromRecords(headers, validRecords)
		if len(schema.Fields) > 0 {
			validTbl = validTbl.Project(schema.FieldNames())
		}
		if err := os.MkdirAll(p.silverDir, 0o755); err != nil {
			return result, fmt.Errorf("failed to create silver directory: %w", err)
		}
		if err := writeTable(filepath.Join(p.silverDir, entity+".csv"), validTbl); err != nil {
			return result, err
		}
		if schema.PrimaryKey != "" {
			p.keys.Publish(schemaName, nonNullValues(validTbl.Column(schema.PrimaryKey)))
			p.log.Debug("valid keys published", "schema", schemaName, "keys", p.keys.Len(schemaName))
		}
	}

	if len(quarantined) > 0 {
		if err := p.sink.Append(entity, quarantined); err != nil {
			return result, err
		}
	}
	return result, nil
}

// checkForeignKeys marks rows whose foreign-key values are absent from a
// non-empty target key set. A target with no published keys skips the check
// entirely: when an upstream entity is empty, cascade-quarantining every
// dependent row would be worse than not enforcing the reference.
func (p *Processor) checkForeignKeys(entity string, schema domain.EntitySchema, tbl domain.Table) map[int][]domain.FieldError {
	orphanErrors := make(map[int][]domain.FieldError)
	for _, fk := range schema.ForeignKeys() {
		if !tbl.HasColumn(fk.Name) {
			continue
		}
		if !p.keys.Has(fk.ForeignKey) {
			p.log.Warn("foreign key check skipped: target has no valid keys",
				"entity", entity, "field", fk.Name, "target", fk.ForeignKey)
			continue
		}
		for idx, value := range tbl.Column(fk.Name) {
			if value == nil || *value == "" {
				continue
			}
			if p.keys.Contains(fk.ForeignKey, *value) {
				continue
			}
			orphanErrors[idx] = append(orphanErrors[idx], domain.FieldError{
				Field: fk.Name,
				Type:  domain.ErrorReferentialIntegrity,
				Msg:   fmt.Sprintf("no matching %s record for %s=%s", fk.ForeignKey, fk.Name, *value),
			})
		}
	}
	return orphanErrors
}

func (p *Processor) sourceForSchema(schemaName string) (string, bool) {
	for _, entity := range p.order {
		source, ok := p.sources[entity]
		if !ok {
			continue
		}
		name := source.Schema
		if name == "" {
			name = entity
		}
		if name == schemaName {
			return entity, true
		}
	}
	return "", false
}

// keepFirstIndices returns the indices of the first occurrence of each
// primary-key value, in input order. Null keys collapse together.
func keepFirstIndices(keys []*string) []int {
	seen := make(map[string]struct{}, len(keys))
	keep := make([]int, 0, len(keys))
	for idx, key := range keys {
		k := ""
		if key != nil {
			k = *key
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		keep = append(keep, idx)
	}
	return keep
}

func nonNullValues(col []*string) []string {
	values := make([]string, 0, len(col))
	for _, cell := range col {
		if cell != nil && *cell != "" {
			values = append(values, *cell)
		}
	}
	return values
}
