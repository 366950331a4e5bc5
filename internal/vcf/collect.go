package vcf

import (
	"fmt"
	"iter"
	"strings"
)

// ParseResult holds the deduplicated records of one VCF input.
type ParseResult struct {
	Header      []string
	SampleNames []string
	Variants    []*Variant
	Warnings    []LineWarning
	DataLines   int // data lines read, including skipped and superseded ones
}

// SampleIndex returns the column index of the named sample. An empty name
// selects the first sample.
func (r *ParseResult) SampleIndex(name string) (int, error) {
	if name == "" {
		return 0, nil
	}
	for i, s := range r.SampleNames {
		if s == name {
			return i, nil
		}
	}
	return -1, fmt.Errorf("sample %q not found in VCF header", name)
}

// ReadAll drains a parser into a ParseResult. Records sharing chromosome,
// position and reference are deduplicated: the later line's record takes the
// earlier record's slot and the earlier line is reported as superseded.
func ReadAll(p VariantParser) (*ParseResult, error) {
	res := &ParseResult{
		Header:      p.Header(),
		SampleNames: p.SampleNames(),
	}

	slots := make(map[SiteKey]int)
	var superseded []LineWarning
	for {
		v, err := p.Next()
		if err != nil {
			return nil, err
		}
		if v == nil {
			break
		}

		key := v.Key()
		if i, ok := slots[key]; ok {
			prev := res.Variants[i]
			superseded = append(superseded, LineWarning{
				Line:   prev.Line,
				Reason: fmt.Sprintf("superseded by line %d (duplicate site %s)", v.Line, key),
			})
			res.Variants[i] = v
			continue
		}
		slots[key] = len(res.Variants)
		res.Variants = append(res.Variants, v)
	}

	res.Warnings = append(append(res.Warnings, p.Warnings()...), superseded...)
	res.DataLines = len(res.Variants) + len(res.Warnings)
	return res, nil
}

// ParseString parses VCF content held in memory.
func ParseString(content string) (*ParseResult, error) {
	p, err := NewParserFromReader(strings.NewReader(content))
	if err != nil {
		return nil, err
	}
	return ReadAll(p)
}

// Records returns a lazy sequence over the valid records of content.
// Each iteration re-parses from the start, so the sequence can be ranged
// over more than once. A header error is yielded once with a nil variant.
// Records are not deduplicated; use ReadAll for that.
func Records(content string) iter.Seq2[*Variant, error] {
	return func(yield func(*Variant, error) bool) {
		p, err := NewParserFromReader(strings.NewReader(content))
		if err != nil {
			yield(nil, err)
			return
		}
		for {
			v, err := p.Next()
			if err != nil {
				yield(nil, err)
				return
			}
			if v == nil || !yield(v, nil) {
				return
			}
		}
	}
}
