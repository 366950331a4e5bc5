package knowledge

import (
	"sort"
	"strings"
)

// activityEpsilon absorbs float rounding when matching summed activity
// against phenotype ranges.
const activityEpsilon = 1e-9

// KnowledgeBase is the validated, immutable lookup structure built from a
// Document. It is safe for concurrent use.
type KnowledgeBase struct {
	version   string
	source    string
	genes     map[string]*geneEntry
	geneOrder []string
	drugs     map[string]Drug
	drugOrder []string
	risks     map[riskKey]RiskTemplate
	doc       *Document
}

type geneEntry struct {
	info       Gene
	alleles    []Allele
	rank       map[string]int
	phenotypes map[string]bool
	diplotypes map[string]string // canonical "A/B" -> phenotype
	rows       []DiplotypeRow
}

type riskKey struct {
	gene, phenotype, drug string
}

// DiplotypeRow is one materialized diplotype to phenotype mapping.
type DiplotypeRow struct {
	Gene          string    `json:"gene"`
	Alleles       [2]string `json:"alleles"`
	Phenotype     string    `json:"phenotype"`
	ActivityScore float64   `json:"activity_score"`
	Explicit      bool      `json:"explicit"`
}

// Diplotype returns the canonical "A/B" form of the row.
func (r DiplotypeRow) Diplotype() string {
	return r.Alleles[0] + "/" + r.Alleles[1]
}

// Build validates doc and materializes the lookup tables. Every integrity
// problem is reported at once in an *IntegrityError.
func Build(doc *Document) (*KnowledgeBase, error) {
	if err := validate(doc); err != nil {
		return nil, err
	}

	kb := &KnowledgeBase{
		version: doc.Version,
		source:  doc.Source,
		genes:   make(map[string]*geneEntry, len(doc.Genes)),
		drugs:   make(map[string]Drug, len(doc.Drugs)),
		risks:   make(map[riskKey]RiskTemplate),
		doc:     doc.clone(),
	}

	for _, g := range doc.Genes {
		e := buildGene(g)
		kb.genes[e.info.Symbol] = e
		kb.geneOrder = append(kb.geneOrder, e.info.Symbol)
	}

	for _, d := range doc.Drugs {
		name := NormalizeDrug(d.Name)
		drug := Drug{Name: name, Guideline: d.Guideline}
		for _, g := range d.Genes {
			drug.Genes = append(drug.Genes, NormalizeGene(g))
		}
		kb.drugs[name] = drug
		kb.drugOrder = append(kb.drugOrder, name)

		for _, r := range d.Risks {
			gene := NormalizeGene(r.Gene)
			if gene == "" {
				gene = drug.Genes[0]
			}
			kb.risks[riskKey{gene, r.Phenotype, name}] = RiskTemplate{
				Drug:           name,
				Gene:           gene,
				Phenotype:      r.Phenotype,
				Label:          Label(r.Label),
				Severity:       Severity(r.Severity),
				Action:         r.Action,
				DosingGuidance: r.Dosing,
				Urgency:        Urgency(r.Urgency),
				Guideline: Guideline{
					ID:             d.Guideline,
					Recommendation: r.Recommendation,
					Strength:       r.Strength,
				},
			}
		}
	}

	return kb, nil
}

func buildGene(g GeneDoc) *geneEntry {
	symbol := NormalizeGene(g.Symbol)
	e := &geneEntry{
		info:       Gene{Symbol: symbol, Chrom: g.Chromosome},
		rank:       make(map[string]int, len(g.Alleles)),
		phenotypes: make(map[string]bool, len(g.Phenotypes)),
		diplotypes: make(map[string]string),
	}

	for i, a := range g.Alleles {
		e.alleles = append(e.alleles, Allele{
			Gene:       symbol,
			Name:       a.Name,
			WildType:   a.WildType,
			Function:   a.Function,
			Activity:   a.Activity,
			Signatures: append([]Signature(nil), a.Variants...),
		})
		e.rank[a.Name] = i
		e.info.Alleles = append(e.info.Alleles, a.Name)
		if a.WildType {
			e.info.WildType = a.Name
		}
	}
	for _, p := range g.Phenotypes {
		e.phenotypes[p.Name] = true
		e.info.Phenotypes = append(e.info.Phenotypes, p.Name)
	}

	explicit := make(map[string]string, len(g.Diplotypes))
	for _, d := range g.Diplotypes {
		explicit[e.canonical(d.Alleles[0], d.Alleles[1])] = d.Phenotype
	}

	for i := range e.alleles {
		for j := i; j < len(e.alleles); j++ {
			a, b := e.alleles[i], e.alleles[j]
			key := a.Name + "/" + b.Name
			score := a.Activity + b.Activity
			row := DiplotypeRow{Gene: symbol, Alleles: [2]string{a.Name, b.Name}, ActivityScore: score}

			if ph, ok := explicit[key]; ok {
				row.Phenotype, row.Explicit = ph, true
			} else if ph := phenotypeForActivity(g.Phenotypes, score); ph != "" {
				row.Phenotype = ph
			} else {
				continue
			}
			e.diplotypes[key] = row.Phenotype
			e.rows = append(e.rows, row)
		}
	}

	return e
}

// phenotypeForActivity returns the first declared phenotype whose activity
// range contains score.
func phenotypeForActivity(phenotypes []PhenotypeDoc, score float64) string {
	for _, p := range phenotypes {
		if p.MinActivity == nil || p.MaxActivity == nil {
			continue
		}
		if score >= *p.MinActivity-activityEpsilon && score <= *p.MaxActivity+activityEpsilon {
			return p.Name
		}
	}
	return ""
}

// canonical orders two allele names by declaration. Undeclared names sort
// after declared ones, lexically.
func (e *geneEntry) canonical(a, b string) string {
	ra, okA := e.rank[a]
	rb, okB := e.rank[b]
	switch {
	case okA && okB && rb < ra,
		!okA && okB,
		!okA && !okB && b < a:
		a, b = b, a
	}
	return a + "/" + b
}

// Version returns the data version string.
func (kb *KnowledgeBase) Version() string { return kb.version }

// Source returns the data provenance string.
func (kb *KnowledgeBase) Source() string { return kb.source }

// HasGene returns true if the gene is registered.
func (kb *KnowledgeBase) HasGene(gene string) bool {
	_, ok := kb.genes[NormalizeGene(gene)]
	return ok
}

// AllelesForGene returns the gene's alleles in declaration order, wild-type
// included. Unregistered genes yield nil.
func (kb *KnowledgeBase) AllelesForGene(gene string) []Allele {
	e, ok := kb.genes[NormalizeGene(gene)]
	if !ok {
		return nil
	}
	return append([]Allele(nil), e.alleles...)
}

// WildType returns the gene's designated reference allele.
func (kb *KnowledgeBase) WildType(gene string) (Allele, bool) {
	e, ok := kb.genes[NormalizeGene(gene)]
	if !ok {
		return Allele{}, false
	}
	return e.alleles[e.rank[e.info.WildType]], true
}

// Diplotype returns the canonical "A/B" string for two alleles of gene,
// ordered by declaration.
func (kb *KnowledgeBase) Diplotype(gene, a, b string) string {
	e, ok := kb.genes[NormalizeGene(gene)]
	if !ok {
		if b < a {
			a, b = b, a
		}
		return a + "/" + b
	}
	return e.canonical(a, b)
}

// PhenotypeFor maps a diplotype ("A/B", either order) to its phenotype, or
// Unknown when the gene or diplotype is not in the table.
func (kb *KnowledgeBase) PhenotypeFor(gene, diplotype string) string {
	e, ok := kb.genes[NormalizeGene(gene)]
	if !ok {
		return Unknown
	}
	parts := strings.Split(diplotype, "/")
	if len(parts) != 2 {
		return Unknown
	}
	if ph, ok := e.diplotypes[e.canonical(strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]))]; ok {
		return ph
	}
	return Unknown
}

// RiskFor returns the risk template for (gene, phenotype, drug), or the
// Unknown template when no row exists.
func (kb *KnowledgeBase) RiskFor(gene, phenotype, drug string) RiskTemplate {
	gene, drug = NormalizeGene(gene), NormalizeDrug(drug)
	if t, ok := kb.risks[riskKey{gene, phenotype, drug}]; ok {
		return t
	}
	return UnknownTemplate(gene, phenotype, drug)
}

// GenesForDrug returns the genes governing drug (case-insensitive), or nil
// for an unregistered drug.
func (kb *KnowledgeBase) GenesForDrug(drug string) []string {
	d, ok := kb.drugs[NormalizeDrug(drug)]
	if !ok {
		return nil
	}
	return append([]string(nil), d.Genes...)
}

// Drug looks up a registered drug by name (case-insensitive).
func (kb *KnowledgeBase) Drug(name string) (Drug, bool) {
	d, ok := kb.drugs[NormalizeDrug(name)]
	if !ok {
		return Drug{}, false
	}
	d.Genes = append([]string(nil), d.Genes...)
	return d, true
}

// Drugs returns the registered drugs in declaration order.
func (kb *KnowledgeBase) Drugs() []Drug {
	out := make([]Drug, 0, len(kb.drugOrder))
	for _, name := range kb.drugOrder {
		d, _ := kb.Drug(name)
		out = append(out, d)
	}
	return out
}

// Genes returns the registered genes in declaration order.
func (kb *KnowledgeBase) Genes() []Gene {
	out := make([]Gene, 0, len(kb.geneOrder))
	for _, symbol := range kb.geneOrder {
		info := kb.genes[symbol].info
		info.Alleles = append([]string(nil), info.Alleles...)
		info.Phenotypes = append([]string(nil), info.Phenotypes...)
		out = append(out, info)
	}
	return out
}

// DiplotypeTable returns the materialized diplotype rows of a gene in
// declaration order.
func (kb *KnowledgeBase) DiplotypeTable(gene string) []DiplotypeRow {
	e, ok := kb.genes[NormalizeGene(gene)]
	if !ok {
		return nil
	}
	return append([]DiplotypeRow(nil), e.rows...)
}

// RiskTemplates returns every risk row, ordered by drug declaration then gene
// and phenotype.
func (kb *KnowledgeBase) RiskTemplates() []RiskTemplate {
	drugRank := make(map[string]int, len(kb.drugOrder))
	for i, d := range kb.drugOrder {
		drugRank[d] = i
	}
	out := make([]RiskTemplate, 0, len(kb.risks))
	for _, t := range kb.risks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Drug != b.Drug {
			return drugRank[a.Drug] < drugRank[b.Drug]
		}
		if a.Gene != b.Gene {
			return a.Gene < b.Gene
		}
		return a.Phenotype < b.Phenotype
	})
	return out
}

// Document returns a copy of the document the knowledge base was built from.
func (kb *KnowledgeBase) Document() *Document {
	return kb.doc.clone()
}
