package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inodb/vibe-pgx/internal/analysis"
	"github.com/inodb/vibe-pgx/internal/knowledge"
)

// runCLI runs the root command against an isolated config file.
func runCLI(t *testing.T, args ...string) int {
	t.Helper()
	viper.Reset()
	cfgFile = ""
	t.Cleanup(viper.Reset)

	cfg := filepath.Join(t.TempDir(), "config.yaml")
	return run(append([]string{"--config", cfg}, args...))
}

func sampleVCFPath() string {
	return filepath.Join("..", "..", "testdata", "pgx_sample.vcf")
}

func writeDefaultYAML(t *testing.T) string {
	t.Helper()
	doc, err := knowledge.DefaultDocument()
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "cpic.yaml")
	require.NoError(t, writeDocument(path, doc))
	return path
}

func TestRun_AnalyzeJSON(t *testing.T) {
	out := filepath.Join(t.TempDir(), "report.json")
	code := runCLI(t, "analyze", "-d", "codeine,azathioprine", "-o", out, sampleVCFPath())
	require.Equal(t, ExitSuccess, code)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	var report analysis.Report
	require.NoError(t, json.Unmarshal(data, &report))

	require.Len(t, report.Results, 2)
	assert.Equal(t, "CODEINE", report.Results[0].Drug)
	assert.Equal(t, "*1/*4", report.Results[0].Diplotype)
	assert.Equal(t, knowledge.LabelToxic, report.Results[1].Label)
	assert.Nil(t, report.Results[0].Explanation)
}

func TestRun_AnalyzeTab(t *testing.T) {
	out := filepath.Join(t.TempDir(), "report.tsv")
	code := runCLI(t, "analyze", "-d", "clopidogrel", "-f", "tab", "-o", out, sampleVCFPath())
	require.Equal(t, ExitSuccess, code)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "#Drug\t"))
	assert.True(t, strings.HasPrefix(lines[1], "CLOPIDOGREL\tCYP2C19\t*1/*2\t"))
}

func TestRun_AnalyzeVCF(t *testing.T) {
	out := filepath.Join(t.TempDir(), "annotated.vcf")
	code := runCLI(t, "analyze", "-d", "azathioprine", "-f", "vcf", "-o", out, sampleVCFPath())
	require.Equal(t, ExitSuccess, code)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), "##INFO=<ID=PGX,")
	assert.Contains(t, string(data), "PGX=TPMT|*3A")
}

func TestRun_AnalyzeWithTemplateExplanations(t *testing.T) {
	out := filepath.Join(t.TempDir(), "report.json")
	code := runCLI(t, "analyze", "-d", "codeine", "--explain", "template", "-o", out, sampleVCFPath())
	require.Equal(t, ExitSuccess, code)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	var report analysis.Report
	require.NoError(t, json.Unmarshal(data, &report))
	require.Len(t, report.Results, 1)
	require.NotNil(t, report.Results[0].Explanation)
	assert.NotEmpty(t, report.Results[0].Explanation.Summary)
}

func TestRun_UsageErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"missing input", []string{"analyze", "-d", "codeine"}},
		{"missing drugs", []string{"analyze", sampleVCFPath()}},
		{"bad format", []string{"analyze", "-d", "codeine", "-f", "xml", sampleVCFPath()}},
		{"unknown flag", []string{"analyze", "--nope", sampleVCFPath()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, ExitUsage, runCLI(t, tt.args...))
		})
	}
}

func TestRun_MissingInput(t *testing.T) {
	code := runCLI(t, "analyze", "-d", "codeine", filepath.Join(t.TempDir(), "missing.vcf"))
	assert.Equal(t, ExitError, code)
}

func TestRun_EnvOverridesPenalty(t *testing.T) {
	t.Setenv("VIBE_PGX_CONFIDENCE_PARTIAL_PENALTY", "0.5")
	out := filepath.Join(t.TempDir(), "report.json")
	code := runCLI(t, "analyze", "-d", "azathioprine", "-o", out, sampleVCFPath())
	require.Equal(t, ExitSuccess, code)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	var report analysis.Report
	require.NoError(t, json.Unmarshal(data, &report))
	assert.InDelta(t, 0.5, report.Results[0].Confidence, 1e-9)
}

func TestLoadKnowledgeBase(t *testing.T) {
	kb, err := loadKnowledgeBase("")
	require.NoError(t, err)
	assert.Equal(t, "cpic-2024.07", kb.Version())

	kb, err = loadKnowledgeBase(writeDefaultYAML(t))
	require.NoError(t, err)
	assert.Len(t, kb.Drugs(), 8)

	_, err = loadKnowledgeBase(filepath.Join(t.TempDir(), "missing.duckdb"))
	assert.Error(t, err)
}

func TestDetectKBFormat(t *testing.T) {
	assert.Equal(t, "duckdb", detectKBFormat("kb.duckdb"))
	assert.Equal(t, "duckdb", detectKBFormat("KB.DB"))
	assert.Equal(t, "yaml", detectKBFormat("kb.yaml"))
	assert.Equal(t, "yaml", detectKBFormat("kb"))
}

func TestKBValidate(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, runKBValidate(&buf, ""))
	assert.Contains(t, buf.String(), "embedded knowledge base: OK")

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte(`version: broken
genes:
  - symbol: TPMT
    phenotypes: []
    alleles: []
drugs:
  - name: AZATHIOPRINE
    genes: [TPMT]
    risks:
      - phenotype: PM
        label: Sometimes
`), 0644))

	buf.Reset()
	err := runKBValidate(&buf, bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "integrity problems")
	assert.Contains(t, buf.String(), "  - ")
}

func TestKBConvert_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	src := writeDefaultYAML(t)
	db := filepath.Join(dir, "cpic.duckdb")

	var buf bytes.Buffer
	require.NoError(t, runKBConvert(&buf, src, db, false))
	assert.Contains(t, buf.String(), "Converted")

	buf.Reset()
	require.NoError(t, runKBConvert(&buf, src, db, false))
	assert.Contains(t, buf.String(), "up to date")

	buf.Reset()
	require.NoError(t, runKBConvert(&buf, src, db, true))
	assert.Contains(t, buf.String(), "Converted")

	back := filepath.Join(dir, "back.yaml")
	require.NoError(t, runKBConvert(&buf, db, back, false))

	want, err := knowledge.DefaultDocument()
	require.NoError(t, err)
	data, err := os.ReadFile(back)
	require.NoError(t, err)
	got, err := knowledge.Parse(data)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestKBListGene(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, runKBListGene(&buf, "", "tpmt"))
	assert.Contains(t, buf.String(), "AZATHIOPRINE")
	assert.Contains(t, buf.String(), "MERCAPTOPURINE")
	assert.NotContains(t, buf.String(), "CODEINE")

	db := filepath.Join(t.TempDir(), "cpic.duckdb")
	require.NoError(t, runKBConvert(&bytes.Buffer{}, writeDefaultYAML(t), db, false))

	var fromDB bytes.Buffer
	require.NoError(t, runKBListGene(&fromDB, db, "TPMT"))
	assert.Contains(t, fromDB.String(), "AZATHIOPRINE")

	assert.Error(t, runKBListGene(&buf, "", "NOPE1"))
}

func TestKBListDrugs(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, runKBListDrugs(&buf, ""))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 9)
	assert.True(t, strings.HasPrefix(lines[1], "CODEINE"))
}

func TestKBDownload(t *testing.T) {
	doc, err := knowledge.DefaultDocument()
	require.NoError(t, err)
	body, err := doc.Marshal()
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/kb/cpic.yaml" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	dir := t.TempDir()
	var buf bytes.Buffer
	require.NoError(t, runKBDownload(&buf, srv.URL+"/kb/cpic.yaml", dir, false))
	assert.Contains(t, buf.String(), "OK")
	assert.FileExists(t, filepath.Join(dir, "cpic.yaml"))
	assert.NoFileExists(t, filepath.Join(dir, "cpic.yaml.tmp"))

	buf.Reset()
	require.NoError(t, runKBDownload(&buf, srv.URL+"/kb/cpic.yaml", dir, false))
	assert.Contains(t, buf.String(), "already exists")

	err = runKBDownload(&buf, srv.URL+"/kb/missing.yaml", dir, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")

	assert.Error(t, runKBDownload(&buf, "ftp://example.org/kb.yaml", dir, false))
}

func TestConfigSetGet(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	cfg := filepath.Join(t.TempDir(), "config.yaml")
	viper.SetConfigFile(cfg)

	var buf bytes.Buffer
	require.NoError(t, runConfigSet(&buf, "confidence.partial_penalty", "0.25"))
	require.NoError(t, runConfigSet(&buf, "server.debug", "yes"))
	require.NoError(t, runConfigSet(&buf, "kb.path", "/data/kb.duckdb"))

	buf.Reset()
	require.NoError(t, runConfigGet(&buf, "server.debug"))
	assert.Equal(t, "true\n", buf.String())

	data, err := os.ReadFile(cfg)
	require.NoError(t, err)
	assert.Contains(t, string(data), "partial_penalty: 0.25")
	assert.Contains(t, string(data), "path: /data/kb.duckdb")

	assert.Error(t, runConfigSet(&buf, "no.such.key", "1"))
	assert.Error(t, runConfigGet(&buf, "explain.model"))
}

func TestLoadSettings_Defaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	s, err := loadSettings()
	require.NoError(t, err)
	assert.Equal(t, 0.30, s.Confidence.Partial)
	assert.Equal(t, 0.10, s.Confidence.TieBreak)
	assert.Equal(t, 8080, s.Server.Port)
	assert.Equal(t, "gpt-4o-mini", s.Explain.Model)
}

func TestFormatSize(t *testing.T) {
	tests := []struct {
		bytes int64
		want  string
	}{
		{512, "512 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{5 << 20, "5.0 MB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatSize(tt.bytes))
	}
}
