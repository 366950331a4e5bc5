package server

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inodb/vibe-pgx/internal/analysis"
	"github.com/inodb/vibe-pgx/internal/knowledge"
)

func newTestServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	kb, err := knowledge.Default()
	require.NoError(t, err)
	return New(cfg, analysis.NewAnalyzer(kb), nil)
}

func sampleVCF(t *testing.T) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("..", "..", "testdata", "pgx_sample.vcf"))
	require.NoError(t, err)
	return data
}

func multipartRequest(t *testing.T, vcfData []byte, drugs ...string) *http.Request {
	t.Helper()
	return uploadRequest(t, "patient.vcf", vcfData, drugs...)
}

func uploadRequest(t *testing.T, filename string, vcfData []byte, drugs ...string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if vcfData != nil {
		fw, err := mw.CreateFormFile("vcf_file", filename)
		require.NoError(t, err)
		_, err = fw.Write(vcfData)
		require.NoError(t, err)
	}
	for _, d := range drugs {
		require.NoError(t, mw.WriteField("drugs", d))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/analyze", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, DefaultConfig())
	rec := serve(s, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "cpic-2024.07", body["knowledge_base_version"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestRequestIDPropagated(t *testing.T) {
	s := newTestServer(t, DefaultConfig())
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")

	rec := serve(s, req)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}

func TestDrugsAndGenes(t *testing.T) {
	s := newTestServer(t, DefaultConfig())

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/api/v1/drugs", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var drugs struct {
		Drugs []knowledge.Drug `json:"drugs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &drugs))
	require.Len(t, drugs.Drugs, 8)
	assert.Equal(t, "CODEINE", drugs.Drugs[0].Name)
	assert.Equal(t, []string{"CYP2D6"}, drugs.Drugs[0].Genes)

	rec = serve(s, httptest.NewRequest(http.MethodGet, "/api/v1/genes", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var genes struct {
		Genes []knowledge.Gene `json:"genes"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &genes))
	require.Len(t, genes.Genes, 6)
	assert.Equal(t, "CYP2D6", genes.Genes[0].Symbol)
}

func TestGene(t *testing.T) {
	s := newTestServer(t, DefaultConfig())

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/api/v1/genes/tpmt", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Alleles    []knowledge.Allele       `json:"alleles"`
		Diplotypes []knowledge.DiplotypeRow `json:"diplotypes"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Alleles, 6)
	assert.Len(t, body.Diplotypes, 21)

	rec = serve(s, httptest.NewRequest(http.MethodGet, "/api/v1/genes/NOPE1", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAnalyze(t *testing.T) {
	s := newTestServer(t, DefaultConfig())
	rec := serve(s, multipartRequest(t, sampleVCF(t), "codeine, azathioprine"))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var report analysis.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))

	assert.Regexp(t, `^PATIENT_[0-9A-F]{6}$`, report.PatientID)
	require.Len(t, report.Results, 2)
	assert.Equal(t, "CODEINE", report.Results[0].Drug)
	assert.Equal(t, "AZATHIOPRINE", report.Results[1].Drug)
	assert.Equal(t, knowledge.LabelToxic, report.Results[1].Label)
	assert.Equal(t, "*3A/*3A", report.Results[1].Diplotype)
	assert.True(t, report.Quality.ParseSuccess)
}

func TestAnalyze_RepeatedDrugFields(t *testing.T) {
	s := newTestServer(t, DefaultConfig())
	rec := serve(s, multipartRequest(t, sampleVCF(t), "CODEINE", "CLOPIDOGREL", "codeine"))

	require.Equal(t, http.StatusOK, rec.Code)
	var report analysis.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Len(t, report.Results, 2)
}

func TestAnalyze_BadRequests(t *testing.T) {
	s := newTestServer(t, DefaultConfig())

	tests := []struct {
		name string
		req  *http.Request
		want string
	}{
		{"missing file", multipartRequest(t, nil, "CODEINE"), "vcf_file"},
		{"missing drugs", multipartRequest(t, sampleVCF(t)), "no drugs requested"},
		{"too many drugs", multipartRequest(t, sampleVCF(t), "A,B,C,D,E,F,G"), "limit is 6"},
		{"unparsable vcf", multipartRequest(t, []byte("not a vcf\n"), "CODEINE"), "vcf parse error"},
		{"wrong extension", uploadRequest(t, "patient.txt", sampleVCF(t), "CODEINE"), ".vcf or .vcf.gz"},
		{"no extension", uploadRequest(t, "patient", sampleVCF(t), "CODEINE"), ".vcf or .vcf.gz"},
		{"invalid utf-8", multipartRequest(t, append(sampleVCF(t), "22\t1\t.\tA\tG\t.\tPASS\tX=\xff\tGT\t0/1\n"...), "CODEINE"), "UTF-8"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(s, tt.req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)

			var body errorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Contains(t, body.Error, tt.want)
			assert.NotEmpty(t, body.RequestID)
		})
	}
}

func TestAnalyze_GzipUpload(t *testing.T) {
	var gz bytes.Buffer
	zw := gzip.NewWriter(&gz)
	_, err := zw.Write(sampleVCF(t))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	s := newTestServer(t, DefaultConfig())
	rec := serve(s, uploadRequest(t, "Patient.VCF.GZ", gz.Bytes(), "azathioprine"))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var report analysis.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	require.Len(t, report.Results, 1)
	assert.Equal(t, "*3A/*3A", report.Results[0].Diplotype)
}

func TestSchema(t *testing.T) {
	s := newTestServer(t, DefaultConfig())
	rec := serve(s, httptest.NewRequest(http.MethodGet, "/api/v1/schema", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Request struct {
			Path           string   `json:"path"`
			MaxUploadBytes int64    `json:"max_upload_bytes"`
			MaxDrugs       int      `json:"max_drugs"`
			SupportedDrugs []string `json:"supported_drugs"`
		} `json:"request"`
		Response struct {
			Report     []fieldDoc `json:"report"`
			Result     []fieldDoc `json:"result"`
			RiskLabels []string   `json:"risk_labels"`
		} `json:"response"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))

	assert.Equal(t, "/api/v1/analyze", body.Request.Path)
	assert.Equal(t, int64(5<<20), body.Request.MaxUploadBytes)
	assert.Equal(t, 6, body.Request.MaxDrugs)
	assert.Contains(t, body.Request.SupportedDrugs, "CODEINE")
	assert.Contains(t, body.Response.RiskLabels, "Adjust Dosage")

	result := make(map[string]fieldDoc)
	for _, f := range body.Response.Result {
		result[f.Name] = f
	}
	// Verdict fields are flattened into the result.
	assert.Equal(t, "string", result["risk_label"].Type)
	assert.Equal(t, "number", result["confidence"].Type)
	assert.Equal(t, "string", result["completeness"].Type)
	assert.Equal(t, "array of object", result["detected_variants"].Type)
	assert.True(t, result["explanation"].Optional)

	var names []string
	for _, f := range body.Response.Report {
		names = append(names, f.Name)
	}
	assert.Contains(t, names, "patient_id")
	assert.Contains(t, names, "file_quality")
}

func TestAnalyze_ParseErrorLine(t *testing.T) {
	s := newTestServer(t, DefaultConfig())
	rec := serve(s, multipartRequest(t, []byte("##fileformat=VCFv4.2\nnot a header\n"), "CODEINE"))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var body errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Line)
}

func TestAnalyze_TooLarge(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxUploadBytes = 1024
	s := newTestServer(t, cfg)

	big := []byte(strings.Repeat("#", 200<<10))
	rec := serve(s, multipartRequest(t, big, "CODEINE"))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	// Within the slack but over the file limit.
	rec = serve(s, multipartRequest(t, []byte(strings.Repeat("#", 4096)), "CODEINE"))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, DefaultConfig())
	rec := serve(s, httptest.NewRequest(http.MethodOptions, "/api/v1/analyze", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRun_Shutdown(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Port = 0
	cfg.ShutdownTimeout = time.Second
	s := newTestServer(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
