package domain

// Error kinds recorded on quarantined rows and tallied in ProcessingResult.
const (
	ErrorReferentialIntegrity = "referential_integrity"
	ErrorMissingRequired      = "missing_required"
	ErrorPatternMismatch      = "pattern_mismatch"
	ErrorOutOfRange           = "out_of_range"
	ErrorInvalidType          = "invalid_type"
)

// FieldError describes one constraint violation on one field of a record.
type FieldError struct {
	Field string `json:"field"`
	Type  string `json:"type"`
	Msg   string `json:"msg"`
}

// QuarantineRecord is a rejected row retained for triage: its position in the
// deduplicated input, the full record content, and every violation found.
type QuarantineRecord struct {
	RowIndex int                `json:"row_index"`
	Record   map[string]*string `json:"record"`
	Errors   []FieldError       `json:"errors"`
}

// ProcessingResult summarizes one entity's pass through the quality engine.
// TotalRecords always equals DuplicatesRemoved + ValidRecords +
// QuarantinedRecords.
type ProcessingResult struct {
	Entity             string         `json:"entity"`
	TotalRecords       int            `json:"total_records"`
	ValidRecords       int            `json:"valid_records"`
	QuarantinedRecords int            `json:"quarantined_records"`
	DuplicatesRemoved  int            `json:"duplicates_removed"`
	OrphanedRecords    int            `json:"orphaned_records"`
	FieldsCleaned      map[string]int `json:"fields_cleaned,omitempty"`
	ErrorCounts        map[string]int `json:"error_counts,omitempty"`
	// CleanWarnings counts schema fields referencing a clean rule that is
	// not registered. A rule that fails mid-column is logged by the
	// cleaner and leaves the column untouched without raising this count.
	CleanWarnings int `json:"clean_warnings,omitempty"`
}

// PassRate is the share of input records that survived to the valid set.
// Zero when the entity had no input at all.
func (r ProcessingResult) PassRate() float64 {
	if r.TotalRecords == 0 {
		return 0
	}
	return float64(r.ValidRecords) / float64(r.TotalRecords)
}
