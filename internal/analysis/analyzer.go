// Package analysis runs the genotype-to-risk pipeline for one request:
// parse, call diplotypes, resolve drugs and assemble the report.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/inodb/vibe-pgx/internal/explain"
	"github.com/inodb/vibe-pgx/internal/genotype"
	"github.com/inodb/vibe-pgx/internal/knowledge"
	"github.com/inodb/vibe-pgx/internal/risk"
	"github.com/inodb/vibe-pgx/internal/vcf"
)

// ErrNoDrugs is returned when a request names no drugs.
var ErrNoDrugs = errors.New("no drugs requested")

// Analyzer runs analyses against a shared, read-only knowledge base.
// It is safe for concurrent use once configured.
type Analyzer struct {
	kb        *knowledge.KnowledgeBase
	resolver  *risk.Resolver
	explainer explain.Explainer
	pgxSites  map[vcf.SiteKey]bool
	pgxRsIDs  map[string]bool
	sample    string
	workers   int
	now       func() time.Time
	logger    *zap.Logger
}

// NewAnalyzer creates an analyzer for kb.
func NewAnalyzer(kb *knowledge.KnowledgeBase) *Analyzer {
	a := &Analyzer{
		kb:       kb,
		resolver: risk.NewResolver(kb),
		pgxSites: make(map[vcf.SiteKey]bool),
		pgxRsIDs: make(map[string]bool),
		now:      time.Now,
		logger:   zap.NewNop(),
	}
	for _, g := range kb.Genes() {
		for _, al := range kb.AllelesForGene(g.Symbol) {
			for _, s := range al.Signatures {
				a.pgxSites[vcf.SiteKey{Chrom: vcf.NormalizeChrom(s.Chrom), Pos: s.Pos, Ref: strings.ToUpper(s.Ref)}] = true
				if s.RsID != "" {
					a.pgxRsIDs[strings.ToLower(s.RsID)] = true
				}
			}
		}
	}
	return a
}

// SetLogger sets the logger for the analyzer and its resolver.
func (a *Analyzer) SetLogger(l *zap.Logger) {
	a.logger = l
	a.resolver.SetLogger(l)
}

// SetSample selects the sample column by name. Empty selects the first.
func (a *Analyzer) SetSample(name string) {
	a.sample = name
}

// SetWorkers sets the number of drug resolution workers (0 = NumCPU).
func (a *Analyzer) SetWorkers(n int) {
	a.workers = n
}

// SetPenalties overrides the confidence penalties.
func (a *Analyzer) SetPenalties(p risk.Penalties) {
	a.resolver.SetPenalties(p)
}

// SetExplainer attaches an explanation collaborator. Nil disables it.
func (a *Analyzer) SetExplainer(e explain.Explainer) {
	a.explainer = e
}

// KnowledgeBase returns the knowledge base the analyzer reads.
func (a *Analyzer) KnowledgeBase() *knowledge.KnowledgeBase {
	return a.kb
}

// AnalyzeFile analyzes a VCF file (plain or gzipped, "-" for stdin).
func (a *Analyzer) AnalyzeFile(ctx context.Context, path string, drugs []string) (*Report, error) {
	p, err := vcf.NewParser(path)
	if err != nil {
		return nil, err
	}
	defer p.Close()
	return a.analyzeParser(ctx, p, drugs)
}

// Analyze analyzes VCF content read from r.
func (a *Analyzer) Analyze(ctx context.Context, r io.Reader, drugs []string) (*Report, error) {
	p, err := vcf.NewParserFromReader(r)
	if err != nil {
		return nil, err
	}
	return a.analyzeParser(ctx, p, drugs)
}

func (a *Analyzer) analyzeParser(ctx context.Context, p *vcf.Parser, drugs []string) (*Report, error) {
	if len(NormalizeDrugs(drugs)) == 0 {
		return nil, ErrNoDrugs
	}
	res, err := vcf.ReadAll(p)
	if err != nil {
		return nil, err
	}
	return a.AnalyzeParsed(ctx, res, drugs)
}

// AnalyzeParsed runs the pipeline over already parsed records. Results are
// returned in request order, one per distinct drug.
func (a *Analyzer) AnalyzeParsed(ctx context.Context, res *vcf.ParseResult, drugs []string) (*Report, error) {
	drugs = NormalizeDrugs(drugs)
	if len(drugs) == 0 {
		return nil, ErrNoDrugs
	}
	sampleIdx, err := res.SampleIndex(a.sample)
	if err != nil {
		return nil, err
	}

	report := &Report{
		PatientID:     NewPatientID(),
		KBVersion:     a.kb.Version(),
		Timestamp:     a.now().UTC(),
		ParseWarnings: res.Warnings,
		Quality: FileQuality{
			ParseSuccess: true,
			DataLines:    res.DataLines,
			Records:      len(res.Variants),
			PGxRecords:   a.countPGxRecords(res.Variants),
			Warnings:     len(res.Warnings),
		},
	}
	if sampleIdx < len(res.SampleNames) {
		report.Sample = res.SampleNames[sampleIdx]
	}

	caller := genotype.NewCaller(a.kb)
	caller.SetSample(sampleIdx)
	caller.SetLogger(a.logger)
	idx := genotype.NewIndex(res.Variants)

	calls := make(map[string]genotype.Diplotype)
	for _, gene := range a.genesFor(drugs) {
		d := caller.Call(gene, idx)
		calls[gene] = d
		report.Diplotypes = append(report.Diplotypes, d)
	}

	items := make(chan WorkItem, len(drugs))
	for i, d := range drugs {
		items <- WorkItem{Seq: i, Drug: d}
	}
	close(items)

	results := ParallelResolve(a.resolver, calls, items, a.workers)
	if err := OrderedCollect(results, func(r WorkResult) error {
		report.Results = append(report.Results, newDrugResult(r.Verdict, calls))
		return nil
	}); err != nil {
		return nil, fmt.Errorf("resolve drugs: %w", err)
	}

	a.explain(ctx, report, calls)

	a.logger.Info("analysis complete",
		zap.String("patient_id", report.PatientID),
		zap.Int("records", report.Quality.Records),
		zap.Int("pgx_records", report.Quality.PGxRecords),
		zap.Int("indexed_sites", idx.Len()),
		zap.Int("drugs", len(report.Results)),
		zap.Int("warnings", len(report.ParseWarnings)))

	return report, nil
}

// genesFor returns the distinct genes governing drugs, in first-use order.
func (a *Analyzer) genesFor(drugs []string) []string {
	seen := make(map[string]bool)
	var genes []string
	for _, d := range drugs {
		for _, g := range a.kb.GenesForDrug(d) {
			if !seen[g] {
				seen[g] = true
				genes = append(genes, g)
			}
		}
	}
	return genes
}

func (a *Analyzer) countPGxRecords(variants []*vcf.Variant) int {
	n := 0
	for _, v := range variants {
		if a.pgxSites[v.Key()] || a.pgxRsIDs[strings.ToLower(v.RsID)] {
			n++
		}
	}
	return n
}

// explain attaches explanations after the structured result is complete.
// Failures are logged and leave the explanation empty.
func (a *Analyzer) explain(ctx context.Context, report *Report, calls map[string]genotype.Diplotype) {
	if a.explainer == nil {
		return
	}
	for i := range report.Results {
		res := &report.Results[i]
		exp, err := a.explainer.Explain(ctx, explain.Request{
			Verdict:  res.Verdict,
			RsIDs:    res.RsIDs,
			Variants: calls[res.Gene].Evidence,
		})
		if err != nil {
			a.logger.Warn("explanation failed",
				zap.String("drug", res.Drug),
				zap.Error(err))
			continue
		}
		res.Explanation = exp
	}
}

func newDrugResult(v risk.Verdict, calls map[string]genotype.Diplotype) DrugResult {
	res := DrugResult{Verdict: v, DetectedVariants: []genotype.Evidence{}}

	call, ok := calls[v.Gene]
	if !ok {
		if v.Gene == "" {
			res.Notes = []string{"drug not registered in knowledge base"}
		}
		return res
	}

	if call.Detected != nil {
		res.DetectedVariants = call.Detected
	}
	res.Notes = call.Notes
	res.Quality = QualityMetrics{
		Completeness:      call.Completeness.String(),
		PositionsTotal:    call.Positions,
		PositionsObserved: call.Positions - len(call.Unobserved),
		VariantsDetected:  len(call.Detected),
		PhaseAmbiguous:    call.PhaseAmbiguous,
		AlternativeCalls:  len(call.Alternatives),
	}
	return res
}

// NormalizeDrugs splits comma-separated entries, trims and upper-cases
// names, and drops empty and repeated names while keeping request order.
func NormalizeDrugs(drugs []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, entry := range drugs {
		for _, d := range strings.Split(entry, ",") {
			name := knowledge.NormalizeDrug(d)
			if name == "" || seen[name] {
				continue
			}
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}
