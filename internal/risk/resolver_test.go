package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inodb/vibe-pgx/internal/genotype"
	"github.com/inodb/vibe-pgx/internal/knowledge"
)

func testResolver(t *testing.T) *Resolver {
	t.Helper()
	kb, err := knowledge.Default()
	require.NoError(t, err)
	return NewResolver(kb)
}

func diplotype(gene, a, b string) genotype.Diplotype {
	return genotype.Diplotype{Gene: gene, Alleles: [2]string{a, b}}
}

func TestLevelFor(t *testing.T) {
	tests := []struct {
		confidence float64
		want       Level
	}{
		{1.0, LevelHigh},
		{0.8, LevelHigh},
		{0.79, LevelMedium},
		{0.5, LevelMedium},
		{0.49, LevelLow},
		{0.0, LevelLow},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, LevelFor(tt.confidence), "confidence %v", tt.confidence)
	}
}

func TestResolve_Known(t *testing.T) {
	r := testResolver(t)

	call := diplotype("TPMT", "*3A", "*3A")
	call.Evidence = []genotype.Evidence{{RsID: "rs1800460"}, {RsID: "rs1142345"}}

	v := r.Resolve("azathioprine", call)
	assert.Equal(t, "AZATHIOPRINE", v.Drug)
	assert.Equal(t, "TPMT", v.Gene)
	assert.Equal(t, "*3A/*3A", v.Diplotype)
	assert.Equal(t, "Poor Metabolizer", v.Phenotype)
	assert.Equal(t, knowledge.LabelToxic, v.Label)
	assert.Equal(t, knowledge.SeverityCritical, v.Severity)
	assert.Equal(t, knowledge.UrgencyImmediate, v.Urgency)
	assert.InDelta(t, 1.0, v.Confidence, 1e-9)
	assert.Equal(t, LevelHigh, v.Level)
	assert.Equal(t, "CPIC-TPMT-NUDT15-THIOPURINES-2018", v.Guideline.ID)
	assert.Equal(t, []string{"rs1800460", "rs1142345"}, v.RsIDs)
}

func TestResolve_ConfidencePenalties(t *testing.T) {
	r := testResolver(t)

	complete := diplotype("CYP2D6", "*1", "*1")
	partial := complete
	partial.Completeness = genotype.Partial
	tied := complete
	tied.Resolution = genotype.TieBreak
	both := partial
	both.Resolution = genotype.TieBreak
	specific := complete
	specific.Resolution = genotype.Specificity

	vc := r.Resolve("CODEINE", complete)
	vp := r.Resolve("CODEINE", partial)
	vt := r.Resolve("CODEINE", tied)
	vb := r.Resolve("CODEINE", both)
	vs := r.Resolve("CODEINE", specific)

	assert.InDelta(t, 1.0, vc.Confidence, 1e-9)
	assert.InDelta(t, 0.7, vp.Confidence, 1e-9)
	assert.InDelta(t, 0.9, vt.Confidence, 1e-9)
	assert.InDelta(t, 0.6, vb.Confidence, 1e-9)
	assert.InDelta(t, 1.0, vs.Confidence, 1e-9)
	assert.Equal(t, LevelMedium, vp.Level)
	assert.Equal(t, LevelHigh, vt.Level)

	// Confidence never changes the clinical label or severity.
	for _, v := range []Verdict{vp, vt, vb, vs} {
		assert.Equal(t, vc.Label, v.Label)
		assert.Equal(t, vc.Severity, v.Severity)
		assert.GreaterOrEqual(t, vc.Confidence, v.Confidence)
	}
}

func TestResolve_LowConfidenceKeepsSevereLabel(t *testing.T) {
	r := testResolver(t)
	r.SetPenalties(Penalties{Partial: 0.6, TieBreak: 0.6})

	call := diplotype("DPYD", "*2A", "*2A")
	call.Completeness = genotype.Partial
	call.Resolution = genotype.TieBreak

	v := r.Resolve("FLUOROURACIL", call)
	assert.Equal(t, knowledge.LabelToxic, v.Label)
	assert.Equal(t, knowledge.SeverityCritical, v.Severity)
	assert.Equal(t, 0.0, v.Confidence)
	assert.Equal(t, LevelLow, v.Level)
}

func TestResolve_UnknownFallbacks(t *testing.T) {
	r := testResolver(t)

	tests := []struct {
		name      string
		drug      string
		call      genotype.Diplotype
		phenotype string
	}{
		{"undeclared allele", "CODEINE", diplotype("CYP2D6", "*1", "*99"), knowledge.Unknown},
		{"unregistered gene", "CODEINE", diplotype("NUDT15", "*1", "*1"), knowledge.Unknown},
		{"drug not governed by gene", "WARFARIN", diplotype("CYP2D6", "*1", "*1"), "Normal Metabolizer"},
		{"unregistered drug", "ASPIRIN", diplotype("CYP2D6", "*1", "*1"), "Normal Metabolizer"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := r.Resolve(tt.drug, tt.call)
			assert.True(t, v.IsUnknown())
			assert.Equal(t, knowledge.SeverityNone, v.Severity)
			assert.Equal(t, 0.0, v.Confidence)
			assert.Equal(t, LevelLow, v.Level)
			assert.Equal(t, knowledge.InsufficientData, v.Action)
			assert.Equal(t, tt.phenotype, v.Phenotype)
			assert.Equal(t, tt.call.String(), v.Diplotype)
		})
	}
}

func TestResolveDrug(t *testing.T) {
	r := testResolver(t)
	calls := map[string]genotype.Diplotype{
		"CYP2C19": diplotype("CYP2C19", "*2", "*2"),
	}

	v := r.ResolveDrug("Clopidogrel", calls)
	assert.Equal(t, "CLOPIDOGREL", v.Drug)
	assert.Equal(t, knowledge.LabelIneffective, v.Label)
	assert.Empty(t, v.Contributing)

	t.Run("unregistered drug", func(t *testing.T) {
		v := r.ResolveDrug("aspirin", calls)
		assert.True(t, v.IsUnknown())
		assert.Equal(t, "ASPIRIN", v.Drug)
		assert.Equal(t, 0.0, v.Confidence)
		assert.Empty(t, v.Gene)
		assert.NotNil(t, v.RsIDs)
	})

	t.Run("gene without call", func(t *testing.T) {
		v := r.ResolveDrug("WARFARIN", calls)
		assert.True(t, v.IsUnknown())
		assert.Equal(t, "CYP2C9", v.Gene)
	})
}

const multiGeneKB = `
version: test
genes:
  - symbol: GENEA
    phenotypes:
      - {name: Poor Metabolizer, min_activity: 0, max_activity: 0}
      - {name: Normal Metabolizer, min_activity: 2, max_activity: 2}
    alleles:
      - {name: "*1", wild_type: true, activity: 1}
      - name: "*2"
        activity: 0
        variants: [{rsid: rs1, chrom: "1", pos: 10, ref: A, alt: G}]
  - symbol: GENEB
    phenotypes:
      - {name: Poor Metabolizer, min_activity: 0, max_activity: 0}
      - {name: Normal Metabolizer, min_activity: 2, max_activity: 2}
    alleles:
      - {name: "*1", wild_type: true, activity: 1}
      - name: "*2"
        activity: 0
        variants: [{rsid: rs2, chrom: "2", pos: 20, ref: C, alt: T}]
drugs:
  - name: COMBO
    genes: [GENEA, GENEB]
    guideline: TEST-1
    risks:
      - {gene: GENEA, phenotype: Poor Metabolizer, label: Adjust Dosage, severity: moderate, urgency: HIGH, action: reduce}
      - {gene: GENEA, phenotype: Normal Metabolizer, label: Safe, severity: none, urgency: ROUTINE, action: standard}
      - {gene: GENEB, phenotype: Poor Metabolizer, label: Toxic, severity: severe, urgency: IMMEDIATE, action: avoid}
      - {gene: GENEB, phenotype: Normal Metabolizer, label: Safe, severity: none, urgency: ROUTINE, action: standard}
`

func TestResolveDrug_MultiGene(t *testing.T) {
	doc, err := knowledge.Parse([]byte(multiGeneKB))
	require.NoError(t, err)
	kb, err := knowledge.Build(doc)
	require.NoError(t, err)
	r := NewResolver(kb)

	t.Run("most severe gene wins", func(t *testing.T) {
		v := r.ResolveDrug("combo", map[string]genotype.Diplotype{
			"GENEA": diplotype("GENEA", "*2", "*2"),
			"GENEB": diplotype("GENEB", "*2", "*2"),
		})
		assert.Equal(t, "GENEB", v.Gene)
		assert.Equal(t, knowledge.LabelToxic, v.Label)
		require.Len(t, v.Contributing, 2)
		assert.Equal(t, "GENEA", v.Contributing[0].Gene)
	})

	t.Run("declaration order breaks ties", func(t *testing.T) {
		v := r.ResolveDrug("COMBO", map[string]genotype.Diplotype{
			"GENEA": diplotype("GENEA", "*1", "*1"),
			"GENEB": diplotype("GENEB", "*1", "*1"),
		})
		assert.Equal(t, "GENEA", v.Gene)
		assert.Equal(t, knowledge.LabelSafe, v.Label)
	})

	t.Run("known verdict preferred over unknown", func(t *testing.T) {
		v := r.ResolveDrug("COMBO", map[string]genotype.Diplotype{
			"GENEB": diplotype("GENEB", "*1", "*1"),
		})
		assert.Equal(t, "GENEB", v.Gene)
		assert.Equal(t, knowledge.LabelSafe, v.Label)
		require.Len(t, v.Contributing, 2)
		assert.True(t, v.Contributing[0].IsUnknown())
	})
}
