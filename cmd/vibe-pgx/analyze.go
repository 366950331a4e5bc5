package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/inodb/vibe-pgx/internal/analysis"
	"github.com/inodb/vibe-pgx/internal/output"
	"github.com/inodb/vibe-pgx/internal/vcf"
)

type analyzeOptions struct {
	drugs        []string
	outputFormat string
	outputFile   string
	compact      bool
}

func newAnalyzeCmd() *cobra.Command {
	var opts analyzeOptions

	cmd := &cobra.Command{
		Use:   "analyze [flags] <input.vcf>",
		Short: "Predict drug risks from a patient VCF",
		Long: `Call star-allele diplotypes from a VCF and report a risk verdict for each
requested drug. Use "-" to read from stdin. Gzipped input is detected from
its content, for files and stdin alike.`,
		Example: `  vibe-pgx analyze -d codeine,warfarin patient.vcf
  vibe-pgx analyze -d clopidogrel -f tab patient.vcf.gz
  vibe-pgx analyze -d azathioprine -f vcf -o annotated.vcf patient.vcf`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return usageError{fmt.Errorf("input file argument required")}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd, args[0], opts)
		},
	}

	f := cmd.Flags()
	f.StringSliceVarP(&opts.drugs, "drugs", "d", nil, "Drugs to assess, comma-separated or repeated")
	f.StringVarP(&opts.outputFormat, "output-format", "f", "json", "Output format: json, tab, vcf")
	f.StringVarP(&opts.outputFile, "output", "o", "", "Output file (default: stdout)")
	f.BoolVar(&opts.compact, "compact", false, "Compact JSON output")
	f.String("sample", "", "Sample column to analyze (default: first)")
	f.Int("workers", 0, "Parallel workers for verdict resolution (0 = GOMAXPROCS)")
	f.String("explain", "", "Explanation provider: template, openai (default: none)")

	_ = viper.BindPFlag("analysis.sample", f.Lookup("sample"))
	_ = viper.BindPFlag("analysis.workers", f.Lookup("workers"))
	_ = viper.BindPFlag("explain.provider", f.Lookup("explain"))

	return cmd
}

func runAnalyze(cmd *cobra.Command, input string, opts analyzeOptions) error {
	switch opts.outputFormat {
	case "json", "tab", "vcf":
	default:
		return usageError{fmt.Errorf("unknown output format %q", opts.outputFormat)}
	}
	drugs := analysis.NormalizeDrugs(opts.drugs)
	if len(drugs) == 0 {
		return usageError{analysis.ErrNoDrugs}
	}

	s, err := loadSettings()
	if err != nil {
		return err
	}
	analyzer, err := newAnalyzer(s)
	if err != nil {
		return err
	}

	parser, err := vcf.NewParser(input)
	if err != nil {
		return err
	}
	defer parser.Close()

	parsed, err := vcf.ReadAll(parser)
	if err != nil {
		return err
	}
	report, err := analyzer.AnalyzeParsed(cmd.Context(), parsed, drugs)
	if err != nil {
		return err
	}

	out := io.Writer(os.Stdout)
	if opts.outputFile != "" {
		f, err := os.Create(opts.outputFile)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		out = f
	}

	if err := writeReport(out, opts, report, parsed); err != nil {
		return err
	}

	printSummary(os.Stderr, report)
	return nil
}

func writeReport(w io.Writer, opts analyzeOptions, report *analysis.Report, parsed *vcf.ParseResult) error {
	switch opts.outputFormat {
	case "tab":
		tw := output.NewTabWriter(w)
		if err := tw.WriteReport(report); err != nil {
			return err
		}
		return tw.Flush()
	case "vcf":
		vw := output.NewVCFWriter(w, parsed.Header)
		vw.Annotate(report.Diplotypes)
		if err := vw.WriteAll(parsed.Variants); err != nil {
			return err
		}
		return vw.Flush()
	default:
		jw := output.NewJSONWriter(w)
		jw.SetCompact(opts.compact)
		return jw.WriteReport(report)
	}
}

// printSummary writes a one-line verdict count and any parse warnings.
func printSummary(w io.Writer, report *analysis.Report) {
	summary := report.Summary()
	labels := make([]string, 0, len(summary))
	for label := range summary {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	parts := make([]string, 0, len(labels))
	for _, label := range labels {
		parts = append(parts, fmt.Sprintf("%s=%d", label, summary[label]))
	}
	fmt.Fprintf(w, "%s: %d drugs assessed (%s)\n", report.PatientID, len(report.Results), strings.Join(parts, ", "))

	for _, warn := range report.ParseWarnings {
		fmt.Fprintf(w, "Warning: %s\n", warn)
	}
}
