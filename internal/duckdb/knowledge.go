package duckdb

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"

	"github.com/inodb/vibe-pgx/internal/knowledge"
)

// SaveDocument replaces the stored knowledge base with doc. The document is
// validated first so an inconsistent knowledge base is never persisted, and
// the replacement runs in one transaction: on failure the previous
// knowledge base is kept.
func (s *Store) SaveDocument(doc *knowledge.Document) error {
	if _, err := knowledge.Build(doc); err != nil {
		return err
	}

	var genes, phenotypes, alleles, variants, diplotypes [][]driver.Value
	for gi, g := range doc.Genes {
		genes = append(genes, []driver.Value{g.Symbol, g.Chromosome, int32(gi)})
		for pi, p := range g.Phenotypes {
			phenotypes = append(phenotypes, []driver.Value{g.Symbol, p.Name, nullFloat(p.MinActivity), nullFloat(p.MaxActivity), int32(pi)})
		}
		for ai, a := range g.Alleles {
			alleles = append(alleles, []driver.Value{g.Symbol, a.Name, a.WildType, a.Function, a.Activity, int32(ai)})
			for vi, v := range a.Variants {
				variants = append(variants, []driver.Value{g.Symbol, a.Name, v.RsID, v.Chrom, v.Pos, v.Ref, v.Alt, int32(vi)})
			}
		}
		for di, d := range g.Diplotypes {
			diplotypes = append(diplotypes, []driver.Value{g.Symbol, d.Alleles[0], d.Alleles[1], d.Phenotype, int32(di)})
		}
	}

	var drugs, drugGenes, risks [][]driver.Value
	for di, d := range doc.Drugs {
		drugs = append(drugs, []driver.Value{d.Name, d.Guideline, int32(di)})
		for gi, g := range d.Genes {
			drugGenes = append(drugGenes, []driver.Value{d.Name, g, int32(gi)})
		}
		for ri, r := range d.Risks {
			risks = append(risks, []driver.Value{
				d.Name, r.Gene, r.Phenotype, r.Label, r.Severity, r.Urgency,
				r.Strength, r.Action, r.Dosing, r.Recommendation, int32(ri),
			})
		}
	}

	batches := []struct {
		table string
		rows  [][]driver.Value
	}{
		{"genes", genes},
		{"phenotypes", phenotypes},
		{"alleles", alleles},
		{"allele_variants", variants},
		{"diplotypes", diplotypes},
		{"drugs", drugs},
		{"drug_genes", drugGenes},
		{"risks", risks},
	}
	return s.inTx(context.Background(), func(ctx context.Context, conn *sql.Conn) error {
		if err := clearTables(ctx, conn); err != nil {
			return err
		}
		for _, b := range batches {
			if err := appendRows(conn, b.table, b.rows); err != nil {
				return err
			}
		}
		return setMetadata(ctx, conn, map[string]string{
			"version": doc.Version,
			"source":  doc.Source,
		})
	})
}

// LoadDocument reads the stored knowledge base back into a document.
func (s *Store) LoadDocument() (*knowledge.Document, error) {
	meta, err := s.metadata()
	if err != nil {
		return nil, err
	}
	version, ok := meta["version"]
	if !ok {
		return nil, fmt.Errorf("no knowledge base stored in %s", s.describe())
	}
	doc := &knowledge.Document{Version: version, Source: meta["source"]}

	geneIdx := make(map[string]int)
	err = s.query(`SELECT symbol, chromosome FROM genes ORDER BY ord`, func(rows *sql.Rows) error {
		var g knowledge.GeneDoc
		if err := rows.Scan(&g.Symbol, &g.Chromosome); err != nil {
			return err
		}
		geneIdx[g.Symbol] = len(doc.Genes)
		doc.Genes = append(doc.Genes, g)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load genes: %w", err)
	}

	gene := func(symbol string) (*knowledge.GeneDoc, error) {
		i, ok := geneIdx[symbol]
		if !ok {
			return nil, fmt.Errorf("row references unknown gene %q", symbol)
		}
		return &doc.Genes[i], nil
	}

	err = s.query(`SELECT gene, name, min_activity, max_activity FROM phenotypes ORDER BY gene, ord`, func(rows *sql.Rows) error {
		var symbol string
		var p knowledge.PhenotypeDoc
		var lo, hi sql.NullFloat64
		if err := rows.Scan(&symbol, &p.Name, &lo, &hi); err != nil {
			return err
		}
		p.MinActivity = floatPtr(lo)
		p.MaxActivity = floatPtr(hi)
		g, err := gene(symbol)
		if err != nil {
			return err
		}
		g.Phenotypes = append(g.Phenotypes, p)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load phenotypes: %w", err)
	}

	type alleleRef struct {
		gene, name string
	}
	alleleIdx := make(map[alleleRef]int)
	err = s.query(`SELECT gene, name, wild_type, function, activity FROM alleles ORDER BY gene, ord`, func(rows *sql.Rows) error {
		var symbol string
		var a knowledge.AlleleDoc
		if err := rows.Scan(&symbol, &a.Name, &a.WildType, &a.Function, &a.Activity); err != nil {
			return err
		}
		g, err := gene(symbol)
		if err != nil {
			return err
		}
		alleleIdx[alleleRef{symbol, a.Name}] = len(g.Alleles)
		g.Alleles = append(g.Alleles, a)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load alleles: %w", err)
	}

	err = s.query(`SELECT gene, allele, rsid, chrom, pos, ref, alt FROM allele_variants ORDER BY gene, allele, ord`, func(rows *sql.Rows) error {
		var symbol, allele string
		var v knowledge.Signature
		if err := rows.Scan(&symbol, &allele, &v.RsID, &v.Chrom, &v.Pos, &v.Ref, &v.Alt); err != nil {
			return err
		}
		g, err := gene(symbol)
		if err != nil {
			return err
		}
		i, ok := alleleIdx[alleleRef{symbol, allele}]
		if !ok {
			return fmt.Errorf("variant references unknown allele %s %s", symbol, allele)
		}
		g.Alleles[i].Variants = append(g.Alleles[i].Variants, v)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load allele variants: %w", err)
	}

	err = s.query(`SELECT gene, allele1, allele2, phenotype FROM diplotypes ORDER BY gene, ord`, func(rows *sql.Rows) error {
		var symbol string
		var a1, a2 string
		var d knowledge.DiplotypeDoc
		if err := rows.Scan(&symbol, &a1, &a2, &d.Phenotype); err != nil {
			return err
		}
		d.Alleles = []string{a1, a2}
		g, err := gene(symbol)
		if err != nil {
			return err
		}
		g.Diplotypes = append(g.Diplotypes, d)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load diplotypes: %w", err)
	}

	drugIdx := make(map[string]int)
	err = s.query(`SELECT name, guideline FROM drugs ORDER BY ord`, func(rows *sql.Rows) error {
		var d knowledge.DrugDoc
		if err := rows.Scan(&d.Name, &d.Guideline); err != nil {
			return err
		}
		drugIdx[d.Name] = len(doc.Drugs)
		doc.Drugs = append(doc.Drugs, d)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load drugs: %w", err)
	}

	drug := func(name string) (*knowledge.DrugDoc, error) {
		i, ok := drugIdx[name]
		if !ok {
			return nil, fmt.Errorf("row references unknown drug %q", name)
		}
		return &doc.Drugs[i], nil
	}

	err = s.query(`SELECT drug, gene FROM drug_genes ORDER BY drug, ord`, func(rows *sql.Rows) error {
		var name, symbol string
		if err := rows.Scan(&name, &symbol); err != nil {
			return err
		}
		d, err := drug(name)
		if err != nil {
			return err
		}
		d.Genes = append(d.Genes, symbol)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load drug genes: %w", err)
	}

	err = s.query(`SELECT drug, gene, phenotype, label, severity, urgency, strength, action, dosing, recommendation
		FROM risks ORDER BY drug, ord`, func(rows *sql.Rows) error {
		var name string
		var r knowledge.RiskDoc
		if err := rows.Scan(&name, &r.Gene, &r.Phenotype, &r.Label, &r.Severity, &r.Urgency,
			&r.Strength, &r.Action, &r.Dosing, &r.Recommendation); err != nil {
			return err
		}
		d, err := drug(name)
		if err != nil {
			return err
		}
		d.Risks = append(d.Risks, r)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load risks: %w", err)
	}

	return doc, nil
}

// LoadKnowledgeBase reads and validates the stored knowledge base.
func (s *Store) LoadKnowledgeBase() (*knowledge.KnowledgeBase, error) {
	doc, err := s.LoadDocument()
	if err != nil {
		return nil, err
	}
	return knowledge.Build(doc)
}

// RiskRow is one flattened row of the risks table.
type RiskRow struct {
	Drug      string
	Gene      string
	Phenotype string
	Label     string
	Severity  string
}

// SearchRisksByGene returns the risk rows governed by gene, including rows
// of single-gene drugs that leave the gene column empty.
func (s *Store) SearchRisksByGene(gene string) ([]RiskRow, error) {
	var out []RiskRow
	err := s.query(`SELECT r.drug, dg.gene, r.phenotype, r.label, r.severity
		FROM risks r
		JOIN drug_genes dg ON dg.drug = r.drug AND (r.gene = '' OR r.gene = dg.gene)
		JOIN drugs d ON d.name = r.drug
		WHERE dg.gene = ?
		ORDER BY d.ord, r.ord`, func(rows *sql.Rows) error {
		var r RiskRow
		if err := rows.Scan(&r.Drug, &r.Gene, &r.Phenotype, &r.Label, &r.Severity); err != nil {
			return err
		}
		out = append(out, r)
		return nil
	}, gene)
	if err != nil {
		return nil, fmt.Errorf("query risks by gene: %w", err)
	}
	return out, nil
}

func (s *Store) query(q string, fn func(*sql.Rows) error, args ...any) error {
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		if err := fn(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *Store) describe() string {
	if s.path == "" {
		return "in-memory database"
	}
	return s.path
}

func nullFloat(p *float64) driver.Value {
	if p == nil {
		return nil
	}
	return *p
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
