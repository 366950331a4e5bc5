package vcf

import (
	"bytes"
	"compress/gzip"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testHeader = "##fileformat=VCFv4.2\n" +
	"#CHROM\tPOS\tID\tREF\tALT\tQUAL\tFILTER\tINFO\tFORMAT\tSAMPLE1\n"

func TestParser_SampleFile(t *testing.T) {
	testFile := findTestFile(t, "pgx_sample.vcf")

	parser, err := NewParser(testFile)
	require.NoError(t, err)
	defer parser.Close()

	assert.Equal(t, []string{"SAMPLE1"}, parser.SampleNames())

	v, err := parser.Next()
	require.NoError(t, err)
	require.NotNil(t, v)

	assert.Equal(t, "22", v.Chrom)
	assert.Equal(t, int64(42126611), v.Pos)
	assert.Equal(t, "rs1135840", v.RsID)
	assert.Equal(t, "C", v.Ref)
	assert.Equal(t, []string{"G"}, v.Alts)
	assert.True(t, v.FilterPass())
	assert.Equal(t, ZygosityHomRef, v.Genotype(0).Zygosity())
	assert.Equal(t, "CYP2D6", v.Info["GENE"])

	count := 1
	for {
		v, err := parser.Next()
		require.NoError(t, err)
		if v == nil {
			break
		}
		count++
	}
	assert.Equal(t, 7, count)
	assert.Empty(t, parser.Warnings())
}

func TestParser_Gzip(t *testing.T) {
	raw, err := os.ReadFile(findTestFile(t, "pgx_sample.vcf"))
	require.NoError(t, err)

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err = zw.Write(raw)
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	path := filepath.Join(t.TempDir(), "sample.vcf.gz")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	parser, err := NewParser(path)
	require.NoError(t, err)
	defer parser.Close()

	res, err := ReadAll(parser)
	require.NoError(t, err)
	assert.Len(t, res.Variants, 7)

	// Detection is by content: a gzipped file without the .gz suffix.
	plainName := filepath.Join(t.TempDir(), "sample.vcf")
	require.NoError(t, os.WriteFile(plainName, buf.Bytes(), 0o644))
	parser2, err := NewParser(plainName)
	require.NoError(t, err)
	defer parser2.Close()
	res, err = ReadAll(parser2)
	require.NoError(t, err)
	assert.Len(t, res.Variants, 7)
}

func TestParserFromReader_Gzip(t *testing.T) {
	raw, err := os.ReadFile(findTestFile(t, "pgx_sample.vcf"))
	require.NoError(t, err)

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err = zw.Write(raw)
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	parser, err := NewParserFromReader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	defer parser.Close()

	assert.Equal(t, []string{"SAMPLE1"}, parser.SampleNames())
	res, err := ReadAll(parser)
	require.NoError(t, err)
	assert.Len(t, res.Variants, 7)
	assert.Empty(t, res.Warnings)

	_, err = NewParserFromReader(bytes.NewReader(buf.Bytes()[:10]))
	assert.Error(t, err)
}

func TestParser_Header(t *testing.T) {
	parser, err := NewParser(findTestFile(t, "pgx_sample.vcf"))
	require.NoError(t, err)
	defer parser.Close()

	header := parser.Header()
	require.NotEmpty(t, header)
	assert.Equal(t, "##fileformat=VCFv4.2", header[0])
	assert.True(t, strings.HasPrefix(header[len(header)-1], "#CHROM"))
}

func TestParser_HeaderErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		line    int
	}{
		{"empty input", "", 0},
		{"metadata only", "##fileformat=VCFv4.2\n", 1},
		{"data before header", "##fileformat=VCFv4.2\n22\t1\t.\tA\tG\t.\tPASS\t.\n", 2},
		{"too few columns", "#CHROM\tPOS\tID\tREF\tALT\n", 1},
		{"wrong column name", "#CHROM\tPOS\tID\tREF\tALT\tQUAL\tFILTERS\tINFO\n", 1},
		{"format without samples", "#CHROM\tPOS\tID\tREF\tALT\tQUAL\tFILTER\tINFO\tFORMAT\n", 1},
		{"sample without format", "#CHROM\tPOS\tID\tREF\tALT\tQUAL\tFILTER\tINFO\tS1\tS2\n", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseString(tt.content)
			require.Error(t, err)

			var pe *ParseError
			require.True(t, errors.As(err, &pe), "expected *ParseError, got %T", err)
			assert.Equal(t, tt.line, pe.Line)
		})
	}
}

func TestParser_InvalidUTF8(t *testing.T) {
	content := testHeader +
		"22\t100\trs1\tA\tG\t.\tPASS\t.\tGT\t0/1\n" +
		"22\t200\trs2\tA\tG\t.\tPASS\tNOTE=caf\xe9\tGT\t0/1\n"

	_, err := ParseString(content)
	require.Error(t, err)
	var pe *ParseError
	require.True(t, errors.As(err, &pe), "expected *ParseError, got %T", err)
	assert.Equal(t, 4, pe.Line)
	assert.Contains(t, pe.Message, "UTF-8")

	_, err = ParseString("##source=caf\xe9\n" + testHeader)
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, 1, pe.Line)
}

func TestParser_MalformedLinesAreSkipped(t *testing.T) {
	content := testHeader +
		"22\t100\trs1\tA\tG\t.\tPASS\t.\tGT\t0/1\n" + // line 3 ok
		"22\tabc\trs2\tA\tG\t.\tPASS\t.\tGT\t0/1\n" + // line 4 bad pos
		"22\t0\trs3\tA\tG\t.\tPASS\t.\tGT\t0/1\n" + // line 5 non-positive pos
		"22\t300\trs4\tA\tG\t.\tPASS\t.\n" + // line 6 column count
		"22\t400\trs5\tA\tG\t.\tPASS\t.\tGT\t0/3\n" + // line 7 allele index out of range
		"22\t500\trs6\t\tG\t.\tPASS\t.\tGT\t0/1\n" + // line 8 empty ref
		"22\t600\trs7\tA\tG\t.\tPASS\t.\tGT\t1/1\n" // line 9 ok

	res, err := ParseString(content)
	require.NoError(t, err)

	require.Len(t, res.Variants, 2)
	assert.Equal(t, int64(100), res.Variants[0].Pos)
	assert.Equal(t, int64(600), res.Variants[1].Pos)

	require.Len(t, res.Warnings, 5)
	lines := make([]int, len(res.Warnings))
	for i, w := range res.Warnings {
		lines[i] = w.Line
	}
	assert.Equal(t, []int{4, 5, 6, 7, 8}, lines)
	assert.Contains(t, res.Warnings[0].Reason, "invalid position")
	assert.Contains(t, res.Warnings[2].Reason, "expected 10 columns, found 8")
	assert.Equal(t, 7, res.DataLines)
}

func TestParser_Deduplication(t *testing.T) {
	content := testHeader +
		"22\t100\trs1\tA\tG\t.\tPASS\t.\tGT\t0/0\n" +
		"22\t200\trs2\tC\tT\t.\tPASS\t.\tGT\t0/1\n" +
		"chr22\t100\trs1\tA\tG\t.\tPASS\t.\tGT\t1/1\n" +
		"22\t100\trs1b\tAT\tA\t.\tPASS\t.\tGT\t0/1\n" // different REF: distinct site

	res, err := ParseString(content)
	require.NoError(t, err)

	require.Len(t, res.Variants, 3)
	// Later line wins and keeps the earlier slot.
	assert.Equal(t, 5, res.Variants[0].Line)
	assert.Equal(t, ZygosityHomAlt, res.Variants[0].Genotype(0).Zygosity())
	assert.Equal(t, int64(200), res.Variants[1].Pos)
	assert.Equal(t, "AT", res.Variants[2].Ref)

	require.Len(t, res.Warnings, 1)
	assert.Equal(t, 3, res.Warnings[0].Line)
	assert.Contains(t, res.Warnings[0].Reason, "superseded by line 5")
}

func TestParser_MultiAllelicPreserved(t *testing.T) {
	content := testHeader +
		"10\t94781859\trs4244285\tG\tA,C\t.\tPASS\t.\tGT\t1/2\n"

	res, err := ParseString(content)
	require.NoError(t, err)
	require.Len(t, res.Variants, 1)

	v := res.Variants[0]
	assert.True(t, v.IsMultiAllelic())
	assert.Equal(t, "A,C", v.Alt())
	assert.Equal(t, 1, v.AltIndex("A"))
	assert.Equal(t, 2, v.AltIndex("C"))
	assert.Equal(t, 0, v.AltIndex("T"))
	assert.Equal(t, [2]int{1, 2}, v.Genotype(0).Alleles)
}

func TestParser_SitesOnly(t *testing.T) {
	content := "#CHROM\tPOS\tID\tREF\tALT\tQUAL\tFILTER\tINFO\n" +
		"6\t18130687\t.\tT\tC\t.\tLowQual\tRS=1142345\n"

	res, err := ParseString(content)
	require.NoError(t, err)
	require.Len(t, res.Variants, 1)

	v := res.Variants[0]
	assert.Equal(t, "rs1142345", v.RsID)
	assert.False(t, v.FilterPass())
	assert.True(t, v.Genotype(0).IsMissing())
}

func TestParser_FormatWithoutGT(t *testing.T) {
	content := testHeader +
		"22\t100\trs1\tA\tG\t.\tPASS\t.\tDP:GQ\t20:99\n"

	res, err := ParseString(content)
	require.NoError(t, err)
	require.Len(t, res.Variants, 1)
	assert.Equal(t, ZygosityMissing, res.Variants[0].Genotype(0).Zygosity())
}

func TestParser_NoTrailingNewline(t *testing.T) {
	content := testHeader + "22\t100\trs1\tA\tG\t.\tPASS\t.\tGT:DP\t0|1:30"

	res, err := ParseString(content)
	require.NoError(t, err)
	require.Len(t, res.Variants, 1)

	g := res.Variants[0].Genotype(0)
	assert.True(t, g.Phased)
	assert.Equal(t, [2]int{0, 1}, g.Alleles)
}

func TestRecords_Restartable(t *testing.T) {
	content := testHeader +
		"22\t100\trs1\tA\tG\t.\tPASS\t.\tGT\t0/1\n" +
		"22\t200\trs2\tC\tT\t.\tPASS\t.\tGT\t0/0\n"

	seq := Records(content)
	for pass := 0; pass < 2; pass++ {
		var positions []int64
		for v, err := range seq {
			require.NoError(t, err)
			positions = append(positions, v.Pos)
		}
		assert.Equal(t, []int64{100, 200}, positions, "pass %d", pass)
	}
}

func TestRecords_HeaderError(t *testing.T) {
	n := 0
	for v, err := range Records("not a vcf\n") {
		n++
		assert.Nil(t, v)
		assert.Error(t, err)
	}
	assert.Equal(t, 1, n)
}

func TestParseResult_SampleIndex(t *testing.T) {
	res := &ParseResult{SampleNames: []string{"NA1", "NA2"}}

	i, err := res.SampleIndex("")
	require.NoError(t, err)
	assert.Equal(t, 0, i)

	i, err = res.SampleIndex("NA2")
	require.NoError(t, err)
	assert.Equal(t, 1, i)

	_, err = res.SampleIndex("NA3")
	assert.Error(t, err)
}

func TestParseError(t *testing.T) {
	err := &ParseError{
		Line:    42,
		Message: "expected #CHROM header line",
	}

	expected := "vcf parse error at line 42: expected #CHROM header line"
	assert.Equal(t, expected, err.Error())
}

// findTestFile locates a test file in the testdata directory.
func findTestFile(t *testing.T, name string) string {
	t.Helper()

	// Try different relative paths
	paths := []string{
		filepath.Join("testdata", name),
		filepath.Join("..", "..", "testdata", name),
	}

	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	t.Fatalf("Test file not found: %s", name)
	return ""
}
