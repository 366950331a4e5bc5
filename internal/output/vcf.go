package output

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/inodb/vibe-pgx/internal/genotype"
	"github.com/inodb/vibe-pgx/internal/vcf"
)

// pgxInfoLine declares the INFO key carrying star allele annotations.
const pgxInfoLine = `##INFO=<ID=PGX,Number=.,Type=String,Description="Called star alleles supported by this site from vibe-pgx. Format: Gene|Allele">`

// VCFWriter writes variant records in VCF format. Records at sites that
// define a called star allele get a PGX INFO field.
type VCFWriter struct {
	w           *bufio.Writer
	headerLines []string // original VCF header lines (## and #CHROM)
	pgx         map[vcf.SiteKey][]string
}

// NewVCFWriter creates a new VCF output writer.
func NewVCFWriter(w io.Writer, headerLines []string) *VCFWriter {
	return &VCFWriter{
		w:           bufio.NewWriter(w),
		headerLines: headerLines,
		pgx:         make(map[vcf.SiteKey][]string),
	}
}

// Annotate registers the evidence of diplotype calls. Each site is tagged
// with Gene|Allele for the called alleles it supports only.
func (vw *VCFWriter) Annotate(calls []genotype.Diplotype) {
	for _, d := range calls {
		for _, e := range d.Evidence {
			key := vcf.SiteKey{Chrom: vcf.NormalizeChrom(e.Chrom), Pos: e.Pos, Ref: strings.ToUpper(e.Ref)}
			for _, a := range e.Alleles {
				tag := d.Gene + "|" + a
				if !containsString(vw.pgx[key], tag) {
					vw.pgx[key] = append(vw.pgx[key], tag)
				}
			}
		}
	}
}

// WriteHeader writes the original VCF header lines with an inserted PGX INFO line.
func (vw *VCFWriter) WriteHeader() error {
	for _, line := range vw.headerLines {
		if strings.HasPrefix(line, "##INFO=<ID=PGX,") {
			continue
		}
		if strings.HasPrefix(line, "#CHROM") {
			if _, err := vw.w.WriteString(pgxInfoLine + "\n"); err != nil {
				return err
			}
		}
		if _, err := vw.w.WriteString(line + "\n"); err != nil {
			return err
		}
	}
	return nil
}

// Write writes a single record.
func (vw *VCFWriter) Write(v *vcf.Variant) error {
	var lb strings.Builder
	lb.Grow(128)

	lb.WriteString(v.Chrom)
	lb.WriteByte('\t')
	lb.WriteString(strconv.FormatInt(v.Pos, 10))
	lb.WriteByte('\t')
	lb.WriteString(dot(v.ID))
	lb.WriteByte('\t')
	lb.WriteString(v.Ref)
	lb.WriteByte('\t')
	if len(v.Alts) == 0 {
		lb.WriteByte('.')
	} else {
		lb.WriteString(v.Alt())
	}
	lb.WriteByte('\t')
	if v.Qual != 0 {
		lb.WriteString(strconv.FormatFloat(v.Qual, 'g', -1, 64))
	} else {
		lb.WriteByte('.')
	}
	lb.WriteByte('\t')
	lb.WriteString(dot(v.Filter))
	lb.WriteByte('\t')
	lb.WriteString(vw.formatInfo(v))

	if len(v.Genotypes) > 0 {
		lb.WriteString("\tGT")
		for _, g := range v.Genotypes {
			lb.WriteByte('\t')
			lb.WriteString(g.String())
		}
	}

	lb.WriteByte('\n')
	_, err := vw.w.WriteString(lb.String())
	return err
}

// WriteAll writes the header followed by every record.
func (vw *VCFWriter) WriteAll(variants []*vcf.Variant) error {
	if err := vw.WriteHeader(); err != nil {
		return err
	}
	for _, v := range variants {
		if err := vw.Write(v); err != nil {
			return err
		}
	}
	return vw.Flush()
}

// Flush flushes the underlying writer.
func (vw *VCFWriter) Flush() error {
	return vw.w.Flush()
}

// formatInfo renders INFO keys in sorted order, replacing any PGX value
// with the registered annotation for the site.
func (vw *VCFWriter) formatInfo(v *vcf.Variant) string {
	keys := make([]string, 0, len(v.Info))
	for k := range v.Info {
		if k != "PGX" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	fields := make([]string, 0, len(keys)+1)
	for _, k := range keys {
		switch val := v.Info[k].(type) {
		case bool:
			if val {
				fields = append(fields, k)
			}
		default:
			fields = append(fields, fmt.Sprintf("%s=%v", k, val))
		}
	}
	if tags := vw.pgx[v.Key()]; len(tags) > 0 {
		fields = append(fields, "PGX="+strings.Join(tags, ","))
	}

	if len(fields) == 0 {
		return "."
	}
	return strings.Join(fields, ";")
}

func dot(s string) string {
	if s == "" {
		return "."
	}
	return s
}

func containsString(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
