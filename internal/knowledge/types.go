// Package knowledge provides the pharmacogenomic knowledge base: allele
// definitions, diplotype to phenotype tables and drug risk templates.
package knowledge

import "strings"

// Unknown is the phenotype reported when a diplotype has no table entry.
const Unknown = "Unknown"

// Signature is one defining variant of an allele.
type Signature struct {
	RsID  string `yaml:"rsid" json:"rsid,omitempty"`
	Chrom string `yaml:"chrom" json:"chrom"`
	Pos   int64  `yaml:"pos" json:"pos"`
	Ref   string `yaml:"ref" json:"ref"`
	Alt   string `yaml:"alt" json:"alt"`
}

// Allele is a named haplotype of one gene.
type Allele struct {
	Gene       string      `json:"gene"`
	Name       string      `json:"name"`
	WildType   bool        `json:"wild_type"`
	Function   string      `json:"function"`
	Activity   float64     `json:"activity"`
	Signatures []Signature `json:"signatures,omitempty"`
}

// Label is the risk category of a verdict.
type Label string

const (
	LabelSafe         Label = "Safe"
	LabelAdjustDosage Label = "Adjust Dosage"
	LabelToxic        Label = "Toxic"
	LabelIneffective  Label = "Ineffective"
	LabelUnknown      Label = "Unknown"
)

// Valid returns true for the declared labels.
func (l Label) Valid() bool {
	switch l {
	case LabelSafe, LabelAdjustDosage, LabelToxic, LabelIneffective, LabelUnknown:
		return true
	}
	return false
}

// Severity grades the clinical impact of a verdict.
type Severity string

const (
	SeverityNone     Severity = "none"
	SeverityMild     Severity = "mild"
	SeverityModerate Severity = "moderate"
	SeveritySevere   Severity = "severe"
	SeverityCritical Severity = "critical"
)

// Rank orders severities from none (0) to critical (4). Invalid values rank -1.
func (s Severity) Rank() int {
	switch s {
	case SeverityNone:
		return 0
	case SeverityMild:
		return 1
	case SeverityModerate:
		return 2
	case SeveritySevere:
		return 3
	case SeverityCritical:
		return 4
	}
	return -1
}

// Urgency is the clinical follow-up tier.
type Urgency string

const (
	UrgencyImmediate Urgency = "IMMEDIATE"
	UrgencyHigh      Urgency = "HIGH"
	UrgencyRoutine   Urgency = "ROUTINE"
)

// Valid returns true for the declared urgency tiers.
func (u Urgency) Valid() bool {
	return u == UrgencyImmediate || u == UrgencyHigh || u == UrgencyRoutine
}

// Guideline cites the recommendation a risk template was taken from.
type Guideline struct {
	ID             string `json:"id"`
	Recommendation string `json:"recommendation,omitempty"`
	Strength       string `json:"strength,omitempty"`
}

// RiskTemplate is the knowledge-base part of a verdict for one
// (gene, phenotype, drug) combination.
type RiskTemplate struct {
	Drug           string    `json:"drug"`
	Gene           string    `json:"gene"`
	Phenotype      string    `json:"phenotype"`
	Label          Label     `json:"risk_label"`
	Severity       Severity  `json:"severity"`
	Action         string    `json:"action"`
	DosingGuidance string    `json:"dosing_guidance,omitempty"`
	Urgency        Urgency   `json:"urgency"`
	Guideline      Guideline `json:"guideline"`
}

// IsUnknown returns true for the fallback template.
func (t RiskTemplate) IsUnknown() bool {
	return t.Label == LabelUnknown
}

// InsufficientData is the action text of every Unknown verdict.
const InsufficientData = "insufficient pharmacogenomic data"

// UnknownTemplate returns the fallback template for an unregistered or
// unresolvable combination.
func UnknownTemplate(gene, phenotype, drug string) RiskTemplate {
	if phenotype == "" {
		phenotype = Unknown
	}
	return RiskTemplate{
		Drug:      NormalizeDrug(drug),
		Gene:      gene,
		Phenotype: phenotype,
		Label:     LabelUnknown,
		Severity:  SeverityNone,
		Action:    InsufficientData,
		Urgency:   UrgencyRoutine,
	}
}

// Drug is a registered drug and the genes that govern its risk.
type Drug struct {
	Name      string   `json:"name"`
	Genes     []string `json:"genes"`
	Guideline string   `json:"guideline,omitempty"`
}

// Gene summarizes a registered gene.
type Gene struct {
	Symbol     string   `json:"symbol"`
	Chrom      string   `json:"chromosome"`
	WildType   string   `json:"wild_type"`
	Alleles    []string `json:"alleles"`
	Phenotypes []string `json:"phenotypes"`
}

// NormalizeDrug upper-cases and trims a drug name.
func NormalizeDrug(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}

// NormalizeGene upper-cases and trims a gene symbol.
func NormalizeGene(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
