// Package vcf provides VCF file parsing functionality.
package vcf

import (
	"strconv"
	"strings"
)

// Variant represents a single genomic record from a VCF file.
// Multi-allelic sites are kept as one record; allele index i >= 1 refers to Alts[i-1].
type Variant struct {
	Chrom     string                 // Chromosome name (e.g., "22", "chr22")
	Pos       int64                  // 1-based genomic position
	ID        string                 // Raw ID column (e.g., "rs3892097" or ".")
	RsID      string                 // First rs identifier from ID or INFO/RS, empty if absent
	Ref       string                 // Reference allele
	Alts      []string               // Alternate alleles in declared order
	Qual      float64                // Quality score
	Filter    string                 // Filter status (PASS, "." or filter name)
	Info      map[string]interface{} // INFO field key-value pairs
	Genotypes []Genotype             // One genotype per sample column
	Line      int                    // Source line number
}

// Alt returns the comma-joined ALT column.
func (v *Variant) Alt() string {
	return strings.Join(v.Alts, ",")
}

// IsMultiAllelic returns true if the record carries more than one alternate allele.
func (v *Variant) IsMultiAllelic() bool {
	return len(v.Alts) > 1
}

// AltIndex returns the genotype allele index (1-based) of alt, or 0 if the
// record does not carry it.
func (v *Variant) AltIndex(alt string) int {
	for i, a := range v.Alts {
		if strings.EqualFold(a, alt) {
			return i + 1
		}
	}
	return 0
}

// FilterPass returns true if the record passed filtering. "." means no
// filters were applied and is treated as passing.
func (v *Variant) FilterPass() bool {
	return v.Filter == "PASS" || v.Filter == "."
}

// Genotype returns the genotype for the sample at index i. Records without
// sample columns, or with fewer samples, yield a missing genotype.
func (v *Variant) Genotype(i int) Genotype {
	if i < 0 || i >= len(v.Genotypes) {
		return MissingGenotype()
	}
	return v.Genotypes[i]
}

// NormalizeChrom returns the chromosome name without "chr" prefix.
func (v *Variant) NormalizeChrom() string {
	return NormalizeChrom(v.Chrom)
}

// Key returns the deduplication key: normalized chromosome, position and reference.
func (v *Variant) Key() SiteKey {
	return SiteKey{Chrom: v.NormalizeChrom(), Pos: v.Pos, Ref: strings.ToUpper(v.Ref)}
}

// SiteKey identifies a site by normalized chromosome, position and reference allele.
type SiteKey struct {
	Chrom string
	Pos   int64
	Ref   string
}

func (k SiteKey) String() string {
	return k.Chrom + ":" + strconv.FormatInt(k.Pos, 10) + ":" + k.Ref
}

// NormalizeChrom strips a leading "chr" prefix from a chromosome name.
func NormalizeChrom(chrom string) string {
	if len(chrom) > 3 && strings.EqualFold(chrom[:3], "chr") {
		return chrom[3:]
	}
	return chrom
}
