// Package vcf provides VCF file parsing functionality.
package vcf

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"
)

// requiredColumns are the fixed leading columns of the #CHROM header line.
var requiredColumns = []string{"#CHROM", "POS", "ID", "REF", "ALT", "QUAL", "FILTER", "INFO"}

var _ VariantParser = (*Parser)(nil)

// Parser reads variants from a VCF file.
type Parser struct {
	reader      *bufio.Reader
	file        *os.File
	gzipReader  *gzip.Reader
	lineNumber  int
	header      []string
	columns     []string // fields of the #CHROM header line
	sampleNames []string // sample names from #CHROM header line
	warnings    []LineWarning
}

// NewParser creates a new VCF parser for the given file.
// Supports both plain VCF and gzipped VCF (.vcf.gz) files; compression is
// detected from the content, not the file name.
func NewParser(path string) (*Parser, error) {
	if path == "-" {
		return NewParserFromReader(os.Stdin)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open vcf file: %w", err)
	}

	p, err := newParser(file)
	if err != nil {
		file.Close()
		return nil, err
	}
	p.file = file
	return p, nil
}

// NewParserFromReader creates a parser from an io.Reader (e.g., stdin or an
// upload). Gzipped content is decompressed transparently.
func NewParserFromReader(r io.Reader) (*Parser, error) {
	return newParser(r)
}

func newParser(r io.Reader) (*Parser, error) {
	p := &Parser{}
	br := bufio.NewReader(r)

	// Check for gzip magic number (0x1f, 0x8b)
	magic, err := br.Peek(2)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("read vcf header: %w", err)
	}
	if len(magic) == 2 && magic[0] == 0x1f && magic[1] == 0x8b {
		p.gzipReader, err = gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("create gzip reader: %w", err)
		}
		p.reader = bufio.NewReader(p.gzipReader)
	} else {
		p.reader = br
	}

	if err := p.parseHeader(); err != nil {
		p.Close()
		return nil, err
	}

	return p, nil
}

// readLine returns the next line without its terminator. The final line of
// a file may lack a trailing newline. Content must be UTF-8.
func (p *Parser) readLine() (string, error) {
	line, err := p.reader.ReadString('\n')
	if err != nil && !(err == io.EOF && line != "") {
		return "", err
	}
	p.lineNumber++
	line = strings.TrimRight(line, "\r\n")
	if !utf8.ValidString(line) {
		return "", &ParseError{Line: p.lineNumber, Message: "invalid UTF-8 encoding"}
	}
	return line, nil
}

// parseHeader reads and stores VCF header lines up to and including #CHROM.
func (p *Parser) parseHeader() error {
	for {
		line, err := p.readLine()
		if err != nil {
			if err == io.EOF {
				break
			}
			return fmt.Errorf("read header: %w", err)
		}

		if strings.HasPrefix(line, "##") {
			p.header = append(p.header, line)
			continue
		}

		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "#CHROM") {
			p.header = append(p.header, line)
			return p.parseColumns(line)
		}

		// Non-header line encountered without #CHROM
		return &ParseError{
			Line:    p.lineNumber,
			Message: "expected #CHROM header line",
		}
	}

	return &ParseError{
		Line:    p.lineNumber,
		Message: "no #CHROM header line found",
	}
}

// parseColumns validates the #CHROM line and records the declared column layout.
func (p *Parser) parseColumns(line string) error {
	fields := strings.Split(line, "\t")
	if len(fields) < len(requiredColumns) {
		return &ParseError{
			Line:    p.lineNumber,
			Message: fmt.Sprintf("header declares %d columns, need at least %d", len(fields), len(requiredColumns)),
		}
	}
	for i, want := range requiredColumns {
		if fields[i] != want {
			return &ParseError{
				Line:    p.lineNumber,
				Message: fmt.Sprintf("header column %d is %q, expected %q", i+1, fields[i], want),
			}
		}
	}
	if len(fields) > 8 {
		if fields[8] != "FORMAT" {
			return &ParseError{
				Line:    p.lineNumber,
				Message: fmt.Sprintf("header column 9 is %q, expected \"FORMAT\"", fields[8]),
			}
		}
		if len(fields) == 9 {
			return &ParseError{
				Line:    p.lineNumber,
				Message: "FORMAT column declared without sample columns",
			}
		}
		p.sampleNames = fields[9:]
	}
	p.columns = fields
	return nil
}

// Next reads the next valid variant from the VCF file.
// Malformed data lines are skipped and recorded as warnings.
// Returns nil, nil when there are no more variants.
func (p *Parser) Next() (*Variant, error) {
	for {
		line, err := p.readLine()
		if err != nil {
			if err == io.EOF {
				return nil, nil
			}
			return nil, fmt.Errorf("read variant line: %w", err)
		}

		if line == "" {
			continue // Skip empty lines
		}
		if strings.HasPrefix(line, "#") {
			p.warn(p.lineNumber, "header line after #CHROM")
			continue
		}

		v, reason := p.parseLine(line)
		if reason != "" {
			p.warn(p.lineNumber, reason)
			continue
		}
		return v, nil
	}
}

// parseLine parses a single VCF data line into a Variant. A non-empty reason
// is returned when the line is malformed.
func (p *Parser) parseLine(line string) (*Variant, string) {
	fields := strings.Split(line, "\t")
	if len(fields) != len(p.columns) {
		return nil, fmt.Sprintf("expected %d columns, found %d", len(p.columns), len(fields))
	}

	if fields[0] == "" || fields[0] == "." {
		return nil, "missing chromosome"
	}

	pos, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil || pos <= 0 {
		return nil, fmt.Sprintf("invalid position: %s", fields[1])
	}

	ref := fields[3]
	if ref == "" || ref == "." {
		return nil, "missing reference allele"
	}
	if fields[4] == "" {
		return nil, "missing alternate allele"
	}

	var alts []string
	if fields[4] != "." {
		alts = strings.Split(fields[4], ",")
		for _, a := range alts {
			if a == "" {
				return nil, fmt.Sprintf("empty alternate allele in %q", fields[4])
			}
		}
	}

	qual := 0.0
	if fields[5] != "." {
		qual, _ = strconv.ParseFloat(fields[5], 64)
	}

	v := &Variant{
		Chrom:  fields[0],
		Pos:    pos,
		ID:     fields[2],
		Ref:    ref,
		Alts:   alts,
		Qual:   qual,
		Filter: fields[6],
		Info:   parseInfo(fields[7]),
		Line:   p.lineNumber,
	}
	v.RsID = extractRsID(v.ID, v.Info)

	// FORMAT + sample columns
	if len(fields) > 9 {
		gtIdx := formatIndex(fields[8], "GT")
		v.Genotypes = make([]Genotype, 0, len(fields)-9)
		for _, sample := range fields[9:] {
			if gtIdx < 0 {
				v.Genotypes = append(v.Genotypes, MissingGenotype())
				continue
			}
			values := strings.Split(sample, ":")
			gt := ""
			if gtIdx < len(values) {
				gt = values[gtIdx]
			}
			g, err := ParseGenotype(gt, len(alts))
			if err != nil {
				return nil, err.Error()
			}
			v.Genotypes = append(v.Genotypes, g)
		}
	}

	return v, ""
}

// formatIndex returns the position of key within a colon-separated FORMAT column.
func formatIndex(format, key string) int {
	for i, k := range strings.Split(format, ":") {
		if k == key {
			return i
		}
	}
	return -1
}

// extractRsID returns the first rs identifier from the ID column, falling
// back to the RS INFO key.
func extractRsID(id string, info map[string]interface{}) string {
	for _, tok := range strings.Split(id, ";") {
		if strings.HasPrefix(strings.ToLower(tok), "rs") && len(tok) > 2 {
			return tok
		}
	}
	if rs, ok := info["RS"].(string); ok && rs != "" {
		if strings.HasPrefix(strings.ToLower(rs), "rs") {
			return rs
		}
		return "rs" + rs
	}
	return ""
}

// parseInfo parses the INFO field into a map.
func parseInfo(info string) map[string]interface{} {
	result := make(map[string]interface{})
	if info == "." || info == "" {
		return result
	}

	for _, kv := range strings.Split(info, ";") {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) == 2 {
			result[parts[0]] = parts[1]
		} else {
			// Flag-type INFO field
			result[parts[0]] = true
		}
	}

	return result
}

func (p *Parser) warn(line int, reason string) {
	p.warnings = append(p.warnings, LineWarning{Line: line, Reason: reason})
}

// Header returns the VCF header lines.
func (p *Parser) Header() []string {
	return p.header
}

// SampleNames returns sample names from the #CHROM header line.
// Returns nil if no sample columns are present.
func (p *Parser) SampleNames() []string {
	return p.sampleNames
}

// Warnings returns the line warnings recorded so far.
func (p *Parser) Warnings() []LineWarning {
	return p.warnings
}

// LineNumber returns the current line number being processed.
func (p *Parser) LineNumber() int {
	return p.lineNumber
}

// Close closes the parser and underlying file.
func (p *Parser) Close() error {
	if p.gzipReader != nil {
		p.gzipReader.Close()
	}
	if p.file != nil {
		return p.file.Close()
	}
	return nil
}

// ParseError represents a fatal error during VCF parsing with line context.
type ParseError struct {
	Line    int
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("vcf parse error at line %d: %s", e.Line, e.Message)
}

// LineWarning records a data line that was skipped or superseded.
type LineWarning struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

func (w LineWarning) String() string {
	return fmt.Sprintf("line %d: %s", w.Line, w.Reason)
}
