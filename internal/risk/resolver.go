package risk

import (
	"go.uber.org/zap"

	"github.com/inodb/vibe-pgx/internal/genotype"
	"github.com/inodb/vibe-pgx/internal/knowledge"
)

// Penalties are subtracted from a base confidence of 1.0.
type Penalties struct {
	Partial  float64 `mapstructure:"partial_penalty"`
	TieBreak float64 `mapstructure:"tiebreak_penalty"`
}

// DefaultPenalties returns the standard confidence penalties.
func DefaultPenalties() Penalties {
	return Penalties{Partial: 0.30, TieBreak: 0.10}
}

// Resolver turns diplotype calls into verdicts using the knowledge base.
type Resolver struct {
	kb        *knowledge.KnowledgeBase
	penalties Penalties
	logger    *zap.Logger
}

// NewResolver creates a resolver with the default penalties.
func NewResolver(kb *knowledge.KnowledgeBase) *Resolver {
	return &Resolver{kb: kb, penalties: DefaultPenalties(), logger: zap.NewNop()}
}

// SetPenalties overrides the confidence penalties.
func (r *Resolver) SetPenalties(p Penalties) {
	r.penalties = p
}

// SetLogger sets the logger for the resolver.
func (r *Resolver) SetLogger(logger *zap.Logger) {
	r.logger = logger
}

// Confidence scores a call: 1.0, minus the partial penalty for an
// incomplete or phase-ambiguous call, minus the tie-break penalty when
// declaration order decided an allele. Clamped to [0,1].
func (r *Resolver) Confidence(call genotype.Diplotype) float64 {
	c := 1.0
	if call.Completeness == genotype.Partial {
		c -= r.penalties.Partial
	}
	if call.Resolution == genotype.TieBreak {
		c -= r.penalties.TieBreak
	}
	return min(max(c, 0), 1)
}

// Resolve produces the verdict for one drug from the call of one gene.
// Severity and label come only from the knowledge base template.
func (r *Resolver) Resolve(drug string, call genotype.Diplotype) Verdict {
	drug = knowledge.NormalizeDrug(drug)
	phenotype := r.kb.PhenotypeFor(call.Gene, call.String())
	if phenotype == knowledge.Unknown {
		return r.unknown(drug, call, phenotype)
	}

	tmpl := r.kb.RiskFor(call.Gene, phenotype, drug)
	if tmpl.IsUnknown() {
		return r.unknown(drug, call, phenotype)
	}

	conf := r.Confidence(call)
	v := provenance(drug, call, phenotype)
	v.Label = tmpl.Label
	v.Severity = tmpl.Severity
	v.Confidence = conf
	v.Level = LevelFor(conf)
	v.Action = tmpl.Action
	v.DosingGuidance = tmpl.DosingGuidance
	v.Urgency = tmpl.Urgency
	v.Guideline = tmpl.Guideline
	return v
}

// ResolveDrug resolves a drug against every gene that governs it. calls is
// keyed by gene symbol. For a multi-gene drug the most severe known verdict
// is reported, earlier genes winning ties, with all per-gene verdicts kept
// in Contributing. An unregistered drug yields an Unknown verdict.
func (r *Resolver) ResolveDrug(drug string, calls map[string]genotype.Diplotype) Verdict {
	drug = knowledge.NormalizeDrug(drug)
	genes := r.kb.GenesForDrug(drug)
	if len(genes) == 0 {
		r.logger.Debug("drug not registered", zap.String("drug", drug))
		return Unknown(drug)
	}

	verdicts := make([]Verdict, 0, len(genes))
	for _, gene := range genes {
		call, ok := calls[gene]
		if !ok {
			call = genotype.Diplotype{
				Gene:         gene,
				Alleles:      [2]string{knowledge.Unknown, knowledge.Unknown},
				Completeness: genotype.Partial,
			}
		}
		verdicts = append(verdicts, r.Resolve(drug, call))
	}
	if len(verdicts) == 1 {
		return verdicts[0]
	}

	best := 0
	for i, v := range verdicts {
		cur := verdicts[best]
		switch {
		case v.IsUnknown():
		case cur.IsUnknown():
			best = i
		case v.Severity.Rank() > cur.Severity.Rank():
			best = i
		}
	}
	out := verdicts[best]
	out.Contributing = verdicts
	return out
}

// Unknown returns the verdict for a drug that is not registered.
func Unknown(drug string) Verdict {
	tmpl := knowledge.UnknownTemplate("", knowledge.Unknown, drug)
	return Verdict{
		Drug:         tmpl.Drug,
		Phenotype:    tmpl.Phenotype,
		Label:        tmpl.Label,
		Severity:     tmpl.Severity,
		Level:        LevelFor(0),
		Action:       tmpl.Action,
		Urgency:      tmpl.Urgency,
		Completeness: genotype.Partial,
		RsIDs:        []string{},
	}
}

func (r *Resolver) unknown(drug string, call genotype.Diplotype, phenotype string) Verdict {
	tmpl := knowledge.UnknownTemplate(call.Gene, phenotype, drug)
	v := provenance(drug, call, phenotype)
	v.Label = tmpl.Label
	v.Severity = tmpl.Severity
	v.Confidence = 0
	v.Level = LevelFor(0)
	v.Action = tmpl.Action
	v.Urgency = tmpl.Urgency

	r.logger.Debug("no guideline row",
		zap.String("drug", drug),
		zap.String("gene", call.Gene),
		zap.String("diplotype", call.String()),
		zap.String("phenotype", phenotype))
	return v
}

func provenance(drug string, call genotype.Diplotype, phenotype string) Verdict {
	rsids := call.RsIDs()
	if rsids == nil {
		rsids = []string{}
	}
	return Verdict{
		Drug:          drug,
		Gene:          call.Gene,
		Diplotype:     call.String(),
		Phenotype:     phenotype,
		ActivityScore: call.ActivityScore,
		Completeness:  call.Completeness,
		Resolution:    call.Resolution,
		Alternatives:  call.Alternatives,
		RsIDs:         rsids,
	}
}
