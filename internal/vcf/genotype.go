package vcf

import (
	"fmt"
	"strconv"
	"strings"
)

// Missing is the allele index used for an uncalled copy (".").
const Missing = -1

// Zygosity classifies a genotype. Missing and HomRef are distinct states.
type Zygosity int

const (
	ZygosityMissing Zygosity = iota // no call on either copy
	ZygosityPartial                 // one copy called, one missing
	ZygosityHomRef
	ZygosityHet
	ZygosityHomAlt
)

func (z Zygosity) String() string {
	switch z {
	case ZygosityMissing:
		return "missing"
	case ZygosityPartial:
		return "partial"
	case ZygosityHomRef:
		return "hom_ref"
	case ZygosityHet:
		return "het"
	case ZygosityHomAlt:
		return "hom_alt"
	}
	return "unknown"
}

// Genotype is a diploid call: two allele indices plus phase.
// Haploid calls are stored with the second copy missing.
type Genotype struct {
	Alleles [2]int
	Phased  bool
	Ploidy  int
}

// MissingGenotype returns the "./." genotype.
func MissingGenotype() Genotype {
	return Genotype{Alleles: [2]int{Missing, Missing}, Ploidy: 2}
}

// IsMissing returns true if neither copy is called.
func (g Genotype) IsMissing() bool {
	return g.Alleles[0] == Missing && g.Alleles[1] == Missing
}

// Zygosity classifies the genotype.
func (g Genotype) Zygosity() Zygosity {
	a, b := g.Alleles[0], g.Alleles[1]
	switch {
	case a == Missing && b == Missing:
		return ZygosityMissing
	case a == Missing || b == Missing:
		return ZygosityPartial
	case a == 0 && b == 0:
		return ZygosityHomRef
	case a == b:
		return ZygosityHomAlt
	}
	return ZygosityHet
}

// Carries returns true if at least one copy is called as the given allele index.
func (g Genotype) Carries(index int) bool {
	return g.Alleles[0] == index || g.Alleles[1] == index
}

// String renders the genotype in VCF GT notation.
func (g Genotype) String() string {
	sep := "/"
	if g.Phased {
		sep = "|"
	}
	if g.Ploidy == 1 {
		return alleleString(g.Alleles[0])
	}
	return alleleString(g.Alleles[0]) + sep + alleleString(g.Alleles[1])
}

func alleleString(a int) string {
	if a == Missing {
		return "."
	}
	return strconv.Itoa(a)
}

// ParseGenotype parses a VCF GT value such as "0/1", "1|0", "./." or "1".
// numAlts bounds the allowed allele indices.
func ParseGenotype(gt string, numAlts int) (Genotype, error) {
	if gt == "" || gt == "." {
		return MissingGenotype(), nil
	}

	g := Genotype{Alleles: [2]int{Missing, Missing}}
	var parts []string
	switch {
	case strings.Contains(gt, "|"):
		parts = strings.Split(gt, "|")
		g.Phased = true
	case strings.Contains(gt, "/"):
		parts = strings.Split(gt, "/")
	default:
		parts = []string{gt}
	}

	if len(parts) > 2 {
		return g, fmt.Errorf("unsupported ploidy %d in genotype %q", len(parts), gt)
	}
	if strings.Contains(gt, "|") && strings.Contains(gt, "/") {
		return g, fmt.Errorf("mixed phase separators in genotype %q", gt)
	}
	g.Ploidy = len(parts)

	for i, p := range parts {
		if p == "." {
			continue
		}
		idx, err := strconv.Atoi(p)
		if err != nil || idx < 0 {
			return g, fmt.Errorf("invalid allele %q in genotype %q", p, gt)
		}
		if idx > numAlts {
			return g, fmt.Errorf("allele index %d exceeds %d alternate allele(s)", idx, numAlts)
		}
		g.Alleles[i] = idx
	}

	return g, nil
}
