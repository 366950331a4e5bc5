package genotype

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/inodb/vibe-pgx/internal/knowledge"
	"github.com/inodb/vibe-pgx/internal/vcf"
)

// maxPhaseSites bounds the number of unphased heterozygous sites whose
// phase assignments are enumerated for alternative diplotypes.
const maxPhaseSites = 12

// Index looks up variant records by normalized site, falling back to rsID
// for records whose coordinates come from another build.
type Index struct {
	records map[vcf.SiteKey]*vcf.Variant
	byRsID  map[string][]*vcf.Variant
}

// NewIndex indexes deduplicated variant records. When keys collide the
// later record wins.
func NewIndex(variants []*vcf.Variant) *Index {
	idx := &Index{
		records: make(map[vcf.SiteKey]*vcf.Variant, len(variants)),
		byRsID:  make(map[string][]*vcf.Variant),
	}
	for _, v := range variants {
		idx.records[v.Key()] = v
		for _, id := range variantRsIDs(v) {
			idx.byRsID[id] = append(idx.byRsID[id], v)
		}
	}
	return idx
}

// variantRsIDs returns every rs identifier a record carries, lowercased.
func variantRsIDs(v *vcf.Variant) []string {
	var ids []string
	add := func(id string) {
		id = strings.ToLower(id)
		if len(id) > 2 && strings.HasPrefix(id, "rs") && !containsString(ids, id) {
			ids = append(ids, id)
		}
	}
	for _, tok := range strings.Split(v.ID, ";") {
		add(tok)
	}
	add(v.RsID)
	return ids
}

// Len returns the number of indexed sites.
func (i *Index) Len() int {
	return len(i.records)
}

// Lookup returns the record at the signature's site. When no record sits
// there, a record carrying the signature's rsID is returned if its REF
// agrees and it either carries the signature ALT or is reference-only.
func (i *Index) Lookup(sig knowledge.Signature) (v *vcf.Variant, byRsID bool) {
	ref := strings.ToUpper(sig.Ref)
	if v := i.records[vcf.SiteKey{Chrom: vcf.NormalizeChrom(sig.Chrom), Pos: sig.Pos, Ref: ref}]; v != nil {
		return v, false
	}
	if sig.RsID == "" {
		return nil, false
	}
	var match *vcf.Variant
	for _, cand := range i.byRsID[strings.ToLower(sig.RsID)] {
		if strings.ToUpper(cand.Ref) != ref {
			continue
		}
		if len(cand.Alts) == 0 || cand.AltIndex(sig.Alt) > 0 {
			match = cand
		}
	}
	return match, match != nil
}

// Caller calls diplotypes for one sample against a knowledge base.
type Caller struct {
	kb     *knowledge.KnowledgeBase
	sample int
	logger *zap.Logger
}

// NewCaller creates a caller for the first sample column.
func NewCaller(kb *knowledge.KnowledgeBase) *Caller {
	return &Caller{kb: kb, logger: zap.NewNop()}
}

// SetSample selects the sample column (0-based) genotypes are read from.
func (c *Caller) SetSample(i int) {
	c.sample = i
}

// SetLogger sets the logger for the caller.
func (c *Caller) SetLogger(logger *zap.Logger) {
	c.logger = logger
}

// site is one distinct defining position of a gene.
type site struct {
	sig     knowledge.Signature
	variant *vcf.Variant
	byRsID  bool // variant matched by rsID, not coordinates
	copies  [2]CopyState
	phased  bool
	alleles []string // alleles defined by this site, declaration order
}

func (s *site) label() string {
	if s.sig.RsID != "" {
		return s.sig.RsID
	}
	return fmt.Sprintf("%s:%d", s.sig.Chrom, s.sig.Pos)
}

func (s *site) hom() bool {
	return s.copies[0] == Present && s.copies[1] == Present
}

func (s *site) het() bool {
	return (s.copies[0] == Present) != (s.copies[1] == Present)
}

func (s *site) observed() bool {
	return s.copies[0] != Unobserved && s.copies[1] != Unobserved
}

type signatureKey struct {
	chrom    string
	pos      int64
	ref, alt string
}

type candidate struct {
	allele knowledge.Allele
	rank   int
	sites  []int
}

type geneCall struct {
	gene     string
	wild     knowledge.Allele
	wildRank int
	alleles  []candidate // non-wild-type, declaration order
	sites    []*site
}

// CallAll calls every gene in order.
func (c *Caller) CallAll(genes []string, idx *Index) []Diplotype {
	out := make([]Diplotype, 0, len(genes))
	for _, g := range genes {
		out = append(out, c.Call(g, idx))
	}
	return out
}

// CallVariants indexes variants and calls one gene.
func (c *Caller) CallVariants(gene string, variants []*vcf.Variant) Diplotype {
	return c.Call(gene, NewIndex(variants))
}

// Call produces exactly one diplotype for gene. An unregistered gene yields
// an Unknown/Unknown partial call.
func (c *Caller) Call(gene string, idx *Index) Diplotype {
	symbol := knowledge.NormalizeGene(gene)
	alleles := c.kb.AllelesForGene(symbol)
	if len(alleles) == 0 {
		return Diplotype{
			Gene:         symbol,
			Alleles:      [2]string{knowledge.Unknown, knowledge.Unknown},
			Completeness: Partial,
			Notes:        []string{"gene not registered in knowledge base"},
		}
	}

	gc := c.observe(symbol, alleles, idx)
	d := Diplotype{Gene: symbol, Positions: len(gc.sites)}

	// Per-copy presence from homozygous and phased evidence; unphased
	// heterozygous sites are assigned below.
	var base [2][]bool
	base[0] = make([]bool, len(gc.sites))
	base[1] = make([]bool, len(gc.sites))
	var unphased []int
	for i, s := range gc.sites {
		if !s.observed() {
			d.Unobserved = append(d.Unobserved, s.label())
		}
		switch {
		case s.hom():
			base[0][i], base[1][i] = true, true
		case s.het() && s.phased:
			base[0][i] = s.copies[0] == Present
			base[1][i] = s.copies[1] == Present
		case s.het():
			unphased = append(unphased, i)
		}
	}
	if len(d.Unobserved) > 0 {
		d.Completeness = Partial
	}
	d.Notes = append(d.Notes, gc.notes(c.sample)...)

	picks, res := gc.greedy(base, unphased)
	d.Alleles, d.ActivityScore = gc.ordered(picks)
	d.Resolution = res

	if len(unphased) > maxPhaseSites {
		d.PhaseAmbiguous = true
		d.Completeness = Partial
		d.Notes = append(d.Notes, fmt.Sprintf("%d unphased heterozygous sites; phase not enumerated", len(unphased)))
	} else if alts := gc.alternatives(base, unphased, d.String()); len(alts) > 0 {
		d.PhaseAmbiguous = true
		d.Completeness = Partial
		d.Alternatives = alts
		labels := make([]string, len(unphased))
		for i, si := range unphased {
			labels[i] = gc.sites[si].label()
		}
		d.Notes = append(d.Notes, fmt.Sprintf("phase of unphased heterozygous sites %s is ambiguous; assigned %s",
			strings.Join(labels, ", "), d.String()))
	}

	d.Evidence, d.Detected = gc.evidence(picks, c.sample)

	c.logger.Debug("diplotype called",
		zap.String("gene", symbol),
		zap.String("diplotype", d.String()),
		zap.Stringer("completeness", d.Completeness),
		zap.Stringer("resolution", d.Resolution),
		zap.Int("unobserved", len(d.Unobserved)),
		zap.Strings("alternatives", d.Alternatives))

	return d
}

// observe collects the distinct defining sites of a gene and their per-copy
// states for the selected sample.
func (c *Caller) observe(gene string, alleles []knowledge.Allele, idx *Index) *geneCall {
	gc := &geneCall{gene: gene}
	byKey := make(map[signatureKey]int)

	for rank, a := range alleles {
		if a.WildType {
			gc.wild, gc.wildRank = a, rank
			continue
		}
		cand := candidate{allele: a, rank: rank}
		for _, sig := range a.Signatures {
			key := signatureKey{vcf.NormalizeChrom(sig.Chrom), sig.Pos, strings.ToUpper(sig.Ref), strings.ToUpper(sig.Alt)}
			i, ok := byKey[key]
			if !ok {
				i = len(gc.sites)
				byKey[key] = i
				v, byRsID := idx.Lookup(sig)
				s := c.observeSite(sig, v)
				s.byRsID = byRsID
				gc.sites = append(gc.sites, s)
			}
			gc.sites[i].alleles = append(gc.sites[i].alleles, a.Name)
			cand.sites = append(cand.sites, i)
		}
		gc.alleles = append(gc.alleles, cand)
	}
	return gc
}

func (c *Caller) observeSite(sig knowledge.Signature, v *vcf.Variant) *site {
	s := &site{sig: sig, variant: v, copies: [2]CopyState{Unobserved, Unobserved}}
	if v == nil || !v.FilterPass() {
		return s
	}

	g := v.Genotype(c.sample)
	s.phased = g.Phased
	alt := v.AltIndex(sig.Alt)
	for k := 0; k < 2; k++ {
		switch {
		case g.Alleles[k] == vcf.Missing:
			s.copies[k] = Unobserved
		case alt > 0 && g.Alleles[k] == alt:
			s.copies[k] = Present
		default:
			s.copies[k] = Absent
		}
	}
	return s
}

// notes explains every unobserved site and every site matched by rsID.
func (gc *geneCall) notes(sample int) []string {
	var out []string
	for _, s := range gc.sites {
		switch {
		case s.variant == nil:
			out = append(out, s.label()+" not observed")
			continue
		case s.byRsID:
			out = append(out, fmt.Sprintf("%s matched by rsID at %s:%d", s.label(), s.variant.Chrom, s.variant.Pos))
		}
		switch {
		case !s.variant.FilterPass():
			out = append(out, fmt.Sprintf("%s filtered (%s)", s.label(), s.variant.Filter))
		case !s.observed():
			out = append(out, fmt.Sprintf("%s genotype missing (%s)", s.label(), s.variant.Genotype(sample)))
		}
	}
	return out
}

// resolve picks the highest-priority allele whose defining sites are all
// present: more sites first, then declaration order. Returns -1 for
// wild-type.
func (gc *geneCall) resolve(present []bool) (int, Resolution) {
	var matched []int
	for ci, cand := range gc.alleles {
		all := true
		for _, si := range cand.sites {
			if !present[si] {
				all = false
				break
			}
		}
		if all {
			matched = append(matched, ci)
		}
	}
	if len(matched) == 0 {
		return -1, Unique
	}

	best := matched[0]
	for _, ci := range matched[1:] {
		if len(gc.alleles[ci].sites) > len(gc.alleles[best].sites) {
			best = ci
		}
	}
	if len(matched) == 1 {
		return best, Unique
	}
	for _, ci := range matched {
		if ci != best && len(gc.alleles[ci].sites) == len(gc.alleles[best].sites) {
			return best, TieBreak
		}
	}
	return best, Specificity
}

// greedy assigns unphased heterozygous sites conservatively: copy A resolves
// with all of them available and consumes the sites of its allele, copy B
// resolves from what remains. The resolution is taken from the final
// per-copy assignment, so a tie for copy A that only decides which copy
// carries which allele is not reported.
func (gc *geneCall) greedy(base [2][]bool, unphased []int) ([2]int, Resolution) {
	presA := append([]bool(nil), base[0]...)
	for _, si := range unphased {
		presA[si] = true
	}
	a, _ := gc.resolve(presA)

	consumed := make(map[int]bool)
	if a >= 0 {
		for _, si := range gc.alleles[a].sites {
			consumed[si] = true
		}
	}
	finalA := append([]bool(nil), base[0]...)
	presB := append([]bool(nil), base[1]...)
	for _, si := range unphased {
		if consumed[si] {
			finalA[si] = true
		} else {
			presB[si] = true
		}
	}
	_, resA := gc.resolve(finalA)
	b, resB := gc.resolve(presB)

	return [2]int{a, b}, max(resA, resB)
}

// alternatives enumerates every assignment of unphased heterozygous sites
// to copies and returns the distinct diplotypes other than chosen.
func (gc *geneCall) alternatives(base [2][]bool, unphased []int, chosen string) []string {
	if len(unphased) < 2 {
		// A single unphased site is symmetric between the copies unless
		// phased evidence pins the other copy.
		hasPhased := false
		for i := range gc.sites {
			if base[0][i] != base[1][i] {
				hasPhased = true
				break
			}
		}
		if len(unphased) == 0 || !hasPhased {
			return nil
		}
	}

	seen := map[string]bool{chosen: true}
	var out []string
	for mask := 0; mask < 1<<len(unphased); mask++ {
		presA := append([]bool(nil), base[0]...)
		presB := append([]bool(nil), base[1]...)
		for j, si := range unphased {
			if mask&(1<<j) != 0 {
				presA[si] = true
			} else {
				presB[si] = true
			}
		}
		a, _ := gc.resolve(presA)
		b, _ := gc.resolve(presB)
		names, _ := gc.ordered([2]int{a, b})
		dip := names[0] + "/" + names[1]
		if !seen[dip] {
			seen[dip] = true
			out = append(out, dip)
		}
	}
	return out
}

// ordered returns the picked allele names sorted by declaration order and
// their summed activity.
func (gc *geneCall) ordered(picks [2]int) ([2]string, float64) {
	var names [2]string
	var ranks [2]int
	var score float64
	for k, p := range picks {
		if p < 0 {
			names[k], ranks[k] = gc.wild.Name, gc.wildRank
			score += gc.wild.Activity
			continue
		}
		cand := gc.alleles[p]
		names[k], ranks[k] = cand.allele.Name, cand.rank
		score += cand.allele.Activity
	}
	if ranks[1] < ranks[0] {
		names[0], names[1] = names[1], names[0]
	}
	return names, score
}

// evidence lists the sites supporting the called alleles and every site
// observed as alternate.
func (gc *geneCall) evidence(picks [2]int, sample int) (used, detected []Evidence) {
	calledBy := make(map[int][]string)
	for _, p := range picks {
		if p < 0 {
			continue
		}
		cand := gc.alleles[p]
		for _, si := range cand.sites {
			if !containsString(calledBy[si], cand.allele.Name) {
				calledBy[si] = append(calledBy[si], cand.allele.Name)
			}
		}
	}

	for i, s := range gc.sites {
		if s.copies[0] != Present && s.copies[1] != Present {
			continue
		}
		e := Evidence{
			RsID:     s.variant.RsID,
			Chrom:    s.variant.Chrom,
			Pos:      s.variant.Pos,
			Ref:      s.variant.Ref,
			Alt:      s.sig.Alt,
			Genotype: s.variant.Genotype(sample).String(),
			Zygosity: s.variant.Genotype(sample).Zygosity().String(),
			Line:     s.variant.Line,
		}
		if e.RsID == "" {
			e.RsID = s.sig.RsID
		}
		det := e
		det.Alleles = append([]string(nil), s.alleles...)
		detected = append(detected, det)

		if names, ok := calledBy[i]; ok {
			e.Alleles = names
			used = append(used, e)
		}
	}
	return used, detected
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
