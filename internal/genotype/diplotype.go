// Package genotype calls per-gene diplotypes from parsed VCF records.
package genotype

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Completeness records whether every defining position of the gene was
// observed with a usable genotype.
type Completeness int

const (
	Complete Completeness = iota
	Partial
)

func (c Completeness) String() string {
	if c == Partial {
		return "PARTIAL"
	}
	return "COMPLETE"
}

// MarshalJSON renders the completeness as its string form.
func (c Completeness) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// Resolution records how each copy's allele was chosen when several
// alleles matched.
type Resolution int

const (
	// Unique means at most one non-wild-type allele matched each copy.
	Unique Resolution = iota
	// Specificity means the allele with more defining variants won.
	Specificity
	// TieBreak means equally specific alleles matched and declaration
	// order decided.
	TieBreak
)

func (r Resolution) String() string {
	switch r {
	case Specificity:
		return "specificity"
	case TieBreak:
		return "tie_break"
	}
	return "unique"
}

// MarshalJSON renders the resolution as its string form.
func (r Resolution) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

// CopyState is the tri-state observation of one defining variant on one
// chromosomal copy.
type CopyState int

const (
	Absent CopyState = iota
	Present
	Unobserved // record missing, filtered or genotype uncalled
)

func (s CopyState) String() string {
	switch s {
	case Present:
		return "present"
	case Unobserved:
		return "unobserved"
	}
	return "absent"
}

// Evidence is one defining variant observed as alternate in the input.
type Evidence struct {
	RsID     string   `json:"rsid,omitempty"`
	Chrom    string   `json:"chrom"`
	Pos      int64    `json:"pos"`
	Ref      string   `json:"ref"`
	Alt      string   `json:"alt"`
	Alleles  []string `json:"alleles"`
	Genotype string   `json:"genotype"`
	Zygosity string   `json:"zygosity"`
	Line     int      `json:"line,omitempty"`
}

// Diplotype is the call for one gene: always exactly two alleles.
type Diplotype struct {
	Gene          string       `json:"gene"`
	Alleles       [2]string    `json:"alleles"`
	Completeness  Completeness `json:"completeness"`
	Resolution    Resolution   `json:"resolution"`
	ActivityScore float64      `json:"activity_score"`
	// PhaseAmbiguous is set when unphased heterozygous sites admit more
	// than one diplotype; Alternatives lists the others.
	PhaseAmbiguous bool       `json:"phase_ambiguous,omitempty"`
	Alternatives   []string   `json:"alternatives,omitempty"`
	Evidence       []Evidence `json:"evidence,omitempty"`
	Detected       []Evidence `json:"detected,omitempty"`
	Unobserved     []string   `json:"unobserved,omitempty"`
	Notes          []string   `json:"notes,omitempty"`
	Positions      int        `json:"positions"`
}

// String returns the canonical "A/B" form.
func (d Diplotype) String() string {
	return d.Alleles[0] + "/" + d.Alleles[1]
}

// RsIDs returns the identifiers of every variant that contributed to the
// call, in evidence order without duplicates. Sites without an rsID are
// reported as chrom:pos.
func (d Diplotype) RsIDs() []string {
	seen := make(map[string]bool, len(d.Evidence))
	var out []string
	for _, e := range d.Evidence {
		id := e.RsID
		if id == "" {
			id = e.Chrom + ":" + strconv.FormatInt(e.Pos, 10)
		}
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// ParseDiplotype splits "A/B" into its two allele names.
func ParseDiplotype(s string) ([2]string, bool) {
	parts := strings.Split(s, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return [2]string{}, false
	}
	return [2]string{strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])}, true
}
