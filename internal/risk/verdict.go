// Package risk resolves genotype calls into per-drug risk verdicts.
package risk

import (
	"github.com/inodb/vibe-pgx/internal/genotype"
	"github.com/inodb/vibe-pgx/internal/knowledge"
)

// Level is the reporting bucket of a numeric confidence.
type Level string

const (
	LevelHigh   Level = "HIGH"
	LevelMedium Level = "MEDIUM"
	LevelLow    Level = "LOW"
)

// LevelFor maps a confidence to its level: HIGH >= 0.8, MEDIUM >= 0.5.
func LevelFor(confidence float64) Level {
	switch {
	case confidence >= 0.8:
		return LevelHigh
	case confidence >= 0.5:
		return LevelMedium
	}
	return LevelLow
}

// Verdict is the resolved risk for one drug with its provenance.
type Verdict struct {
	Drug           string                `json:"drug"`
	Gene           string                `json:"gene"`
	Diplotype      string                `json:"diplotype"`
	Phenotype      string                `json:"phenotype"`
	ActivityScore  float64               `json:"activity_score"`
	Label          knowledge.Label       `json:"risk_label"`
	Severity       knowledge.Severity    `json:"severity"`
	Confidence     float64               `json:"confidence"`
	Level          Level                 `json:"confidence_level"`
	Action         string                `json:"action"`
	DosingGuidance string                `json:"dosing_guidance,omitempty"`
	Urgency        knowledge.Urgency     `json:"urgency"`
	Guideline      knowledge.Guideline   `json:"guideline"`
	Completeness   genotype.Completeness `json:"completeness"`
	Resolution     genotype.Resolution   `json:"resolution"`
	Alternatives   []string              `json:"alternatives,omitempty"`
	RsIDs          []string              `json:"rsids"`
	Contributing   []Verdict             `json:"contributing,omitempty"`
}

// IsUnknown returns true if no guideline row applied.
func (v Verdict) IsUnknown() bool {
	return v.Label == knowledge.LabelUnknown
}
