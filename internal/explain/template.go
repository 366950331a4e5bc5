package explain

import (
	"context"
	"fmt"
	"strings"

	"github.com/inodb/vibe-pgx/internal/knowledge"
)

// TemplateModel identifies explanations produced by Template.
const TemplateModel = "structured-template-v1"

// Template is a deterministic explainer built from the verdict fields alone.
type Template struct{}

// Explain implements Explainer. It never fails.
func (Template) Explain(_ context.Context, req Request) (*Explanation, error) {
	v := req.Verdict
	variants := "none detected"
	if len(req.RsIDs) > 0 {
		variants = strings.Join(req.RsIDs, ", ")
	}

	if v.IsUnknown() {
		return &Explanation{
			Summary: fmt.Sprintf("No guideline-backed risk could be assigned for %s: %s.",
				v.Drug, knowledge.InsufficientData),
			Mechanism:       "The knowledge base has no recommendation for this drug, gene or diplotype combination.",
			VariantImpact:   fmt.Sprintf("Variants considered: %s.", variants),
			ClinicalContext: "Prescribe according to standard clinical judgment; this result is not evidence of safety.",
			Monitoring:      "Monitor clinical response as for any patient without pharmacogenomic guidance.",
			Model:           TemplateModel,
		}, nil
	}

	return &Explanation{
		Summary: fmt.Sprintf("This patient carries the %s diplotype for %s, classified as %s. "+
			"Detected variants (%s) lead to a '%s' risk classification for %s per %s.",
			v.Diplotype, v.Gene, v.Phenotype, variants, v.Label, v.Drug, guidelineName(v.Guideline.ID)),
		Mechanism: fmt.Sprintf("%s activity determines exposure to %s. The called alleles give an activity score of %.2f, "+
			"consistent with %s %s function.",
			v.Gene, v.Drug, v.ActivityScore, effectWord(v.Phenotype), v.Gene),
		VariantImpact: fmt.Sprintf("The identified variants (%s) define the %s diplotype and confer %s status.",
			variants, v.Diplotype, v.Phenotype),
		ClinicalContext: fmt.Sprintf("With %s status, standard %s dosing is associated with %s. Recommended action: %s.",
			v.Phenotype, v.Drug, outcomeWord(v.Label), v.Action),
		Monitoring: fmt.Sprintf("If %s is prescribed, monitor clinical response, signs of toxicity or treatment failure, "+
			"and drug levels where available. Consult a clinical pharmacist for genotype-guided dosing.", v.Drug),
		Model: TemplateModel,
	}, nil
}

func guidelineName(id string) string {
	if id == "" {
		return "CPIC guidelines"
	}
	return id
}

func effectWord(phenotype string) string {
	p := strings.ToLower(phenotype)
	switch {
	case strings.HasPrefix(p, "poor"):
		return "absent"
	case strings.HasPrefix(p, "intermediate"), strings.HasPrefix(p, "decreased"):
		return "reduced"
	case strings.HasPrefix(p, "ultrarapid"), strings.HasPrefix(p, "rapid"), strings.HasPrefix(p, "increased"):
		return "increased"
	}
	return "normal"
}

func outcomeWord(label knowledge.Label) string {
	switch label {
	case knowledge.LabelIneffective:
		return "therapeutic failure"
	case knowledge.LabelToxic:
		return "serious toxicity and adverse drug reactions"
	case knowledge.LabelAdjustDosage:
		return "suboptimal outcomes unless the dose is adjusted"
	}
	return "expected therapeutic outcomes"
}
