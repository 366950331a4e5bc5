package analysis

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/inodb/vibe-pgx/internal/explain"
	"github.com/inodb/vibe-pgx/internal/genotype"
	"github.com/inodb/vibe-pgx/internal/risk"
	"github.com/inodb/vibe-pgx/internal/vcf"
)

// Report is the result of one analysis request.
type Report struct {
	PatientID     string               `json:"patient_id"`
	Sample        string               `json:"sample,omitempty"`
	KBVersion     string               `json:"knowledge_base_version"`
	Timestamp     time.Time            `json:"timestamp"`
	Results       []DrugResult         `json:"results"`
	Diplotypes    []genotype.Diplotype `json:"diplotypes"`
	ParseWarnings []vcf.LineWarning    `json:"parse_warnings,omitempty"`
	Quality       FileQuality          `json:"file_quality"`
}

// DrugResult is the verdict for one requested drug with its provenance.
type DrugResult struct {
	risk.Verdict
	DetectedVariants []genotype.Evidence  `json:"detected_variants"`
	Notes            []string             `json:"notes,omitempty"`
	Quality          QualityMetrics       `json:"quality_metrics"`
	Explanation      *explain.Explanation `json:"explanation,omitempty"`
}

// FileQuality describes the parsed input as a whole.
type FileQuality struct {
	ParseSuccess bool `json:"vcf_parsing_success"`
	DataLines    int  `json:"data_lines"`
	Records      int  `json:"records"`
	PGxRecords   int  `json:"pgx_records"`
	Warnings     int  `json:"warnings"`
}

// QualityMetrics describes the evidence behind one drug's verdict.
type QualityMetrics struct {
	Completeness      string `json:"completeness"`
	PositionsTotal    int    `json:"defining_positions"`
	PositionsObserved int    `json:"defining_positions_observed"`
	VariantsDetected  int    `json:"variants_detected"`
	PhaseAmbiguous    bool   `json:"phase_ambiguous"`
	AlternativeCalls  int    `json:"alternative_diplotypes"`
}

// NewPatientID returns an identifier of the form PATIENT_XXXXXX.
func NewPatientID() string {
	id := strings.ReplaceAll(uuid.New().String(), "-", "")
	return "PATIENT_" + strings.ToUpper(id[:6])
}

// Summary counts verdicts by risk label.
func (r *Report) Summary() map[string]int {
	out := make(map[string]int)
	for _, res := range r.Results {
		out[string(res.Label)]++
	}
	return out
}
