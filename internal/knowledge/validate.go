package knowledge

import (
	"fmt"
	"strings"
)

// IntegrityError reports every consistency problem found while building a
// knowledge base. It is only ever returned at load time.
type IntegrityError struct {
	Problems []string
}

func (e *IntegrityError) Error() string {
	if len(e.Problems) == 1 {
		return "knowledge base integrity: " + e.Problems[0]
	}
	return fmt.Sprintf("knowledge base integrity: %d problems: %s",
		len(e.Problems), strings.Join(e.Problems, "; "))
}

type validator struct {
	problems []string
}

func (v *validator) addf(format string, args ...interface{}) {
	v.problems = append(v.problems, fmt.Sprintf(format, args...))
}

func (v *validator) err() error {
	if len(v.problems) == 0 {
		return nil
	}
	return &IntegrityError{Problems: v.problems}
}

// validate checks a document before it is materialized.
func validate(doc *Document) error {
	v := &validator{}

	if strings.TrimSpace(doc.Version) == "" {
		v.addf("missing version")
	}
	if len(doc.Genes) == 0 {
		v.addf("no genes declared")
	}

	phenotypes := make(map[string]map[string]bool)
	for i, g := range doc.Genes {
		symbol := NormalizeGene(g.Symbol)
		if symbol == "" {
			v.addf("gene #%d has no symbol", i+1)
			continue
		}
		if _, dup := phenotypes[symbol]; dup {
			v.addf("gene %s declared more than once", symbol)
			continue
		}
		phenotypes[symbol] = v.checkGene(symbol, g)
	}

	seen := make(map[string]bool)
	for i, d := range doc.Drugs {
		name := NormalizeDrug(d.Name)
		if name == "" {
			v.addf("drug #%d has no name", i+1)
			continue
		}
		if seen[name] {
			v.addf("drug %s declared more than once", name)
			continue
		}
		seen[name] = true
		v.checkDrug(name, d, phenotypes)
	}

	return v.err()
}

// checkGene validates one gene and returns its declared phenotype set.
func (v *validator) checkGene(symbol string, g GeneDoc) map[string]bool {
	declared := make(map[string]bool)
	for _, p := range g.Phenotypes {
		name := strings.TrimSpace(p.Name)
		switch {
		case name == "":
			v.addf("gene %s has a phenotype with no name", symbol)
			continue
		case strings.EqualFold(name, Unknown):
			v.addf("gene %s declares reserved phenotype %q", symbol, Unknown)
			continue
		case declared[name]:
			v.addf("gene %s declares phenotype %q more than once", symbol, name)
			continue
		}
		declared[name] = true
		if (p.MinActivity == nil) != (p.MaxActivity == nil) {
			v.addf("gene %s phenotype %q has only one activity bound", symbol, name)
		} else if p.MinActivity != nil && *p.MinActivity > *p.MaxActivity {
			v.addf("gene %s phenotype %q has min_activity above max_activity", symbol, name)
		}
	}

	alleles := make(map[string]bool)
	wildTypes := 0
	for _, a := range g.Alleles {
		if a.Name == "" {
			v.addf("gene %s has an allele with no name", symbol)
			continue
		}
		if alleles[a.Name] {
			v.addf("gene %s declares allele %s more than once", symbol, a.Name)
			continue
		}
		alleles[a.Name] = true
		if a.Activity < 0 {
			v.addf("allele %s %s has negative activity", symbol, a.Name)
		}

		if a.WildType {
			wildTypes++
			if len(a.Variants) > 0 {
				v.addf("wild-type allele %s %s has defining variants", symbol, a.Name)
			}
			continue
		}
		if len(a.Variants) == 0 {
			v.addf("allele %s %s has no defining variants", symbol, a.Name)
		}
		sigs := make(map[string]bool)
		for _, s := range a.Variants {
			if s.Chrom == "" || s.Pos <= 0 || s.Ref == "" || s.Alt == "" {
				v.addf("allele %s %s has an incomplete defining variant %s:%d %s>%s",
					symbol, a.Name, s.Chrom, s.Pos, s.Ref, s.Alt)
				continue
			}
			key := signatureKey(s)
			if sigs[key] {
				v.addf("allele %s %s repeats defining variant %s", symbol, a.Name, key)
			}
			sigs[key] = true
		}
	}
	switch wildTypes {
	case 0:
		v.addf("gene %s has no wild-type allele", symbol)
	case 1:
	default:
		v.addf("gene %s has %d wild-type alleles", symbol, wildTypes)
	}

	for _, d := range g.Diplotypes {
		if len(d.Alleles) != 2 {
			v.addf("gene %s diplotype row has %d alleles, need 2", symbol, len(d.Alleles))
			continue
		}
		for _, name := range d.Alleles {
			if !alleles[name] {
				v.addf("gene %s diplotype row references undeclared allele %s", symbol, name)
			}
		}
		if !declared[d.Phenotype] {
			v.addf("gene %s diplotype row references undeclared phenotype %q", symbol, d.Phenotype)
		}
	}

	return declared
}

func (v *validator) checkDrug(name string, d DrugDoc, phenotypes map[string]map[string]bool) {
	if len(d.Genes) == 0 {
		v.addf("drug %s has no governing gene", name)
		return
	}
	genes := make(map[string]bool)
	for _, g := range d.Genes {
		symbol := NormalizeGene(g)
		if _, ok := phenotypes[symbol]; !ok {
			v.addf("drug %s references unregistered gene %s", name, g)
		}
		genes[symbol] = true
	}

	rows := make(map[string]bool)
	for _, r := range d.Risks {
		gene := NormalizeGene(r.Gene)
		if gene == "" {
			if len(d.Genes) > 1 {
				v.addf("drug %s risk row for %q must name a gene", name, r.Phenotype)
				continue
			}
			gene = NormalizeGene(d.Genes[0])
		}
		if !genes[gene] {
			v.addf("drug %s risk row references gene %s it is not governed by", name, gene)
			continue
		}
		if declared, ok := phenotypes[gene]; ok && !declared[r.Phenotype] {
			v.addf("drug %s risk row references phenotype %q undefined for %s", name, r.Phenotype, gene)
		}
		key := gene + "|" + r.Phenotype
		if rows[key] {
			v.addf("drug %s has more than one risk row for %s %q", name, gene, r.Phenotype)
		}
		rows[key] = true

		if l := Label(r.Label); !l.Valid() || l == LabelUnknown {
			v.addf("drug %s risk row %s %q has invalid label %q", name, gene, r.Phenotype, r.Label)
		}
		if Severity(r.Severity).Rank() < 0 {
			v.addf("drug %s risk row %s %q has invalid severity %q", name, gene, r.Phenotype, r.Severity)
		}
		if !Urgency(r.Urgency).Valid() {
			v.addf("drug %s risk row %s %q has invalid urgency %q", name, gene, r.Phenotype, r.Urgency)
		}
		if strings.TrimSpace(r.Action) == "" {
			v.addf("drug %s risk row %s %q has no action", name, gene, r.Phenotype)
		}
	}
}

func signatureKey(s Signature) string {
	return fmt.Sprintf("%s:%d:%s>%s", normalizeChrom(s.Chrom), s.Pos, strings.ToUpper(s.Ref), strings.ToUpper(s.Alt))
}

func normalizeChrom(chrom string) string {
	if len(chrom) > 3 && strings.EqualFold(chrom[:3], "chr") {
		return chrom[3:]
	}
	return chrom
}
