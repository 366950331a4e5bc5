package knowledge

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed data/cpic.yaml
var defaultData []byte

// Document is the persisted form of the knowledge base.
type Document struct {
	Version string    `yaml:"version"`
	Source  string    `yaml:"source,omitempty"`
	Genes   []GeneDoc `yaml:"genes"`
	Drugs   []DrugDoc `yaml:"drugs"`
}

// GeneDoc declares one gene: its alleles, phenotypes and optional explicit
// diplotype rows.
type GeneDoc struct {
	Symbol     string         `yaml:"symbol"`
	Chromosome string         `yaml:"chromosome,omitempty"`
	Phenotypes []PhenotypeDoc `yaml:"phenotypes"`
	Alleles    []AlleleDoc    `yaml:"alleles"`
	Diplotypes []DiplotypeDoc `yaml:"diplotypes,omitempty"`
}

// PhenotypeDoc declares a phenotype label. When both bounds are set, every
// allele pair whose summed activity falls in [MinActivity, MaxActivity]
// maps to this phenotype.
type PhenotypeDoc struct {
	Name        string   `yaml:"name"`
	MinActivity *float64 `yaml:"min_activity,omitempty"`
	MaxActivity *float64 `yaml:"max_activity,omitempty"`
}

// AlleleDoc declares one allele.
type AlleleDoc struct {
	Name     string      `yaml:"name"`
	WildType bool        `yaml:"wild_type,omitempty"`
	Function string      `yaml:"function,omitempty"`
	Activity float64     `yaml:"activity"`
	Variants []Signature `yaml:"variants,omitempty"`
}

// DiplotypeDoc is an explicit diplotype to phenotype row.
type DiplotypeDoc struct {
	Alleles   []string `yaml:"alleles,flow"`
	Phenotype string   `yaml:"phenotype"`
}

// DrugDoc declares a drug, its governing genes and its risk rows.
type DrugDoc struct {
	Name      string    `yaml:"name"`
	Genes     []string  `yaml:"genes,flow"`
	Guideline string    `yaml:"guideline,omitempty"`
	Risks     []RiskDoc `yaml:"risks"`
}

// RiskDoc is one (gene, phenotype) row of a drug's risk table. Gene may be
// omitted when the drug has a single governing gene.
type RiskDoc struct {
	Gene           string `yaml:"gene,omitempty"`
	Phenotype      string `yaml:"phenotype"`
	Label          string `yaml:"label"`
	Severity       string `yaml:"severity"`
	Urgency        string `yaml:"urgency"`
	Strength       string `yaml:"strength,omitempty"`
	Action         string `yaml:"action"`
	Dosing         string `yaml:"dosing,omitempty"`
	Recommendation string `yaml:"recommendation,omitempty"`
}

// Parse decodes a YAML knowledge base document. Unknown fields are rejected.
func Parse(data []byte) (*Document, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var doc Document
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parse knowledge base: empty document")
		}
		return nil, fmt.Errorf("parse knowledge base: %w", err)
	}
	return &doc, nil
}

// Marshal encodes the document as YAML.
func (d *Document) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(d); err != nil {
		return nil, fmt.Errorf("encode knowledge base: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode knowledge base: %w", err)
	}
	return buf.Bytes(), nil
}

// DefaultDocument returns the embedded CPIC document.
func DefaultDocument() (*Document, error) {
	return Parse(defaultData)
}

// Default builds the knowledge base from the embedded CPIC document.
func Default() (*KnowledgeBase, error) {
	doc, err := DefaultDocument()
	if err != nil {
		return nil, err
	}
	return Build(doc)
}

// LoadFile reads, parses and validates a YAML knowledge base file.
func LoadFile(path string) (*KnowledgeBase, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read knowledge base: %w", err)
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return Build(doc)
}

func (d *Document) clone() *Document {
	out := &Document{Version: d.Version, Source: d.Source}
	out.Genes = make([]GeneDoc, len(d.Genes))
	for i, g := range d.Genes {
		cg := GeneDoc{Symbol: g.Symbol, Chromosome: g.Chromosome}
		for _, p := range g.Phenotypes {
			cp := PhenotypeDoc{Name: p.Name}
			if p.MinActivity != nil {
				v := *p.MinActivity
				cp.MinActivity = &v
			}
			if p.MaxActivity != nil {
				v := *p.MaxActivity
				cp.MaxActivity = &v
			}
			cg.Phenotypes = append(cg.Phenotypes, cp)
		}
		for _, a := range g.Alleles {
			ca := a
			ca.Variants = append([]Signature(nil), a.Variants...)
			cg.Alleles = append(cg.Alleles, ca)
		}
		for _, dt := range g.Diplotypes {
			cg.Diplotypes = append(cg.Diplotypes, DiplotypeDoc{
				Alleles:   append([]string(nil), dt.Alleles...),
				Phenotype: dt.Phenotype,
			})
		}
		out.Genes[i] = cg
	}
	out.Drugs = make([]DrugDoc, len(d.Drugs))
	for i, dr := range d.Drugs {
		out.Drugs[i] = DrugDoc{
			Name:      dr.Name,
			Genes:     append([]string(nil), dr.Genes...),
			Guideline: dr.Guideline,
			Risks:     append([]RiskDoc(nil), dr.Risks...),
		}
	}
	return out
}
