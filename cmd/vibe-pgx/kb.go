package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/inodb/vibe-pgx/internal/duckdb"
	"github.com/inodb/vibe-pgx/internal/knowledge"
)

func newKBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kb",
		Short: "Inspect, validate and convert knowledge bases",
		Long: `Knowledge base maintenance. A knowledge base is a YAML document of genes,
alleles, phenotypes, diplotype rows and drug risk rows, or a DuckDB file
converted from one. Without --kb the embedded CPIC tables are used.`,
	}

	cmd.AddCommand(newKBValidateCmd())
	cmd.AddCommand(newKBConvertCmd())
	cmd.AddCommand(newKBListCmd())
	cmd.AddCommand(newKBDownloadCmd())
	cmd.AddCommand(newKBExportCmd())

	return cmd
}

func newKBValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [file]",
		Short: "Check a knowledge base for integrity problems",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := viper.GetString("kb.path")
			if len(args) == 1 {
				path = args[0]
			}
			return runKBValidate(os.Stdout, path)
		},
	}
}

func runKBValidate(w io.Writer, path string) error {
	kb, err := loadKnowledgeBase(path)
	if err != nil {
		var ie *knowledge.IntegrityError
		if errors.As(err, &ie) {
			for _, p := range ie.Problems {
				fmt.Fprintf(w, "  - %s\n", p)
			}
			return fmt.Errorf("%s: %d integrity problems", kbName(path), len(ie.Problems))
		}
		return err
	}

	fmt.Fprintf(w, "%s: OK (version %s, %d genes, %d drugs, %d risk rows)\n",
		kbName(path), kb.Version(), len(kb.Genes()), len(kb.Drugs()), len(kb.RiskTemplates()))
	return nil
}

func newKBConvertCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "convert <input> <output>",
		Short: "Convert a knowledge base between YAML and DuckDB",
		Long: `Convert a YAML knowledge base into a DuckDB file, or export a DuckDB file back
to YAML. The direction follows the output extension (.duckdb/.db or .yaml).
A DuckDB file already converted from an unchanged input is left alone unless
--force is given.`,
		Example: `  vibe-pgx kb convert cpic.yaml cpic.duckdb
  vibe-pgx kb convert cpic.duckdb cpic.yaml`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKBConvert(os.Stdout, args[0], args[1], force)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Convert even if the output is up to date")

	return cmd
}

func runKBConvert(w io.Writer, input, outputPath string, force bool) error {
	if detectKBFormat(outputPath) == "yaml" {
		kb, err := loadKnowledgeBase(input)
		if err != nil {
			return err
		}
		if err := writeDocument(outputPath, kb.Document()); err != nil {
			return err
		}
		fmt.Fprintf(w, "Wrote %s\n", outputPath)
		return nil
	}

	fp, err := duckdb.StatFile(input)
	if err != nil {
		return fmt.Errorf("knowledge base: %w", err)
	}
	kb, err := loadKnowledgeBase(input)
	if err != nil {
		return err
	}

	store, err := duckdb.Open(outputPath)
	if err != nil {
		return err
	}
	defer store.Close()

	if !force {
		current, err := store.IsCurrent(fp)
		if err != nil {
			return err
		}
		if current {
			fmt.Fprintf(w, "%s is up to date with %s, skipping\n", outputPath, input)
			return nil
		}
	}

	if err := store.SaveDocument(kb.Document()); err != nil {
		return err
	}
	if err := store.SetSourceFingerprint(fp); err != nil {
		return err
	}

	fmt.Fprintf(w, "Converted %s -> %s (%d genes, %d drugs)\n", input, outputPath, len(kb.Genes()), len(kb.Drugs()))
	return nil
}

func newKBExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export <output.yaml>",
		Short: "Write the active knowledge base as YAML",
		Long:  "Write the active knowledge base (--kb, or the embedded tables) as a YAML document to edit and load back with --kb.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kb, err := loadKnowledgeBase(viper.GetString("kb.path"))
			if err != nil {
				return err
			}
			if err := writeDocument(args[0], kb.Document()); err != nil {
				return err
			}
			fmt.Printf("Wrote %s (version %s)\n", args[0], kb.Version())
			return nil
		},
	}
}

func writeDocument(path string, doc *knowledge.Document) error {
	data, err := doc.Marshal()
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func newKBListCmd() *cobra.Command {
	var gene string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered drugs, or the risk rows of one gene",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := viper.GetString("kb.path")
			if gene != "" {
				return runKBListGene(os.Stdout, path, gene)
			}
			return runKBListDrugs(os.Stdout, path)
		},
	}
	cmd.Flags().StringVar(&gene, "gene", "", "Show the risk rows governed by this gene")

	return cmd
}

func runKBListDrugs(w io.Writer, path string) error {
	kb, err := loadKnowledgeBase(path)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DRUG\tGENES\tGUIDELINE")
	for _, d := range kb.Drugs() {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", d.Name, strings.Join(d.Genes, ","), dashIfEmpty(d.Guideline))
	}
	return tw.Flush()
}

// runKBListGene prints the risk rows for gene. DuckDB knowledge bases are
// queried directly.
func runKBListGene(w io.Writer, path, gene string) error {
	gene = knowledge.NormalizeGene(gene)

	var rows []duckdb.RiskRow
	if path != "" && detectKBFormat(path) == "duckdb" {
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("knowledge base: %w", err)
		}
		store, err := duckdb.Open(path)
		if err != nil {
			return err
		}
		defer store.Close()
		if rows, err = store.SearchRisksByGene(gene); err != nil {
			return err
		}
	} else {
		kb, err := loadKnowledgeBase(path)
		if err != nil {
			return err
		}
		if !kb.HasGene(gene) {
			return fmt.Errorf("gene %s not registered", gene)
		}
		for _, t := range kb.RiskTemplates() {
			if t.Gene != gene {
				continue
			}
			rows = append(rows, duckdb.RiskRow{
				Drug:      t.Drug,
				Gene:      t.Gene,
				Phenotype: t.Phenotype,
				Label:     string(t.Label),
				Severity:  string(t.Severity),
			})
		}
	}

	if len(rows) == 0 {
		return fmt.Errorf("no risk rows for gene %s", gene)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DRUG\tGENE\tPHENOTYPE\tRISK\tSEVERITY")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.Drug, r.Gene, r.Phenotype, r.Label, r.Severity)
	}
	return tw.Flush()
}

func kbName(path string) string {
	if path == "" {
		return "embedded knowledge base"
	}
	return path
}

func dashIfEmpty(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
