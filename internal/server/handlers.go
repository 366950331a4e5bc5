package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/inodb/vibe-pgx/internal/analysis"
	"github.com/inodb/vibe-pgx/internal/knowledge"
	"github.com/inodb/vibe-pgx/internal/vcf"
)

// multipartSlack covers multipart framing and form fields around the file.
const multipartSlack = 64 << 10

// errorResponse is the body of every non-2xx response.
type errorResponse struct {
	Error     string `json:"error"`
	Line      int    `json:"line,omitempty"`
	RequestID string `json:"request_id"`
}

func (s *Server) fail(c *gin.Context, status int, err error) {
	resp := errorResponse{Error: err.Error(), RequestID: c.GetString(requestIDKey)}
	var perr *vcf.ParseError
	if errors.As(err, &perr) {
		resp.Line = perr.Line
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, resp)
}

func (s *Server) handleHealth(c *gin.Context) {
	kb := s.analyzer.KnowledgeBase()
	c.JSON(http.StatusOK, gin.H{
		"status":                 "healthy",
		"timestamp":              time.Now().UTC(),
		"knowledge_base_version": kb.Version(),
		"drugs":                  len(kb.Drugs()),
		"genes":                  len(kb.Genes()),
	})
}

func (s *Server) handleDrugs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"drugs": s.analyzer.KnowledgeBase().Drugs()})
}

func (s *Server) handleGenes(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"genes": s.analyzer.KnowledgeBase().Genes()})
}

func (s *Server) handleGene(c *gin.Context) {
	kb := s.analyzer.KnowledgeBase()
	symbol := knowledge.NormalizeGene(c.Param("symbol"))
	if !kb.HasGene(symbol) {
		s.fail(c, http.StatusNotFound, fmt.Errorf("gene %s not registered", symbol))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"alleles":    kb.AllelesForGene(symbol),
		"diplotypes": kb.DiplotypeTable(symbol),
	})
}

// handleAnalyze accepts a multipart upload with a vcf_file part and a
// comma-separated drugs field. Uploads must be UTF-8 VCF, optionally gzipped.
func (s *Server) handleAnalyze(c *gin.Context) {
	limit := s.cfg.MaxUploadBytes
	if limit > 0 {
		if c.Request.ContentLength > limit+multipartSlack {
			s.fail(c, http.StatusRequestEntityTooLarge, fmt.Errorf("upload exceeds %d bytes", limit))
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit+multipartSlack)
	}

	fh, err := c.FormFile("vcf_file")
	if err != nil {
		if tooLarge(err) {
			s.fail(c, http.StatusRequestEntityTooLarge, fmt.Errorf("upload exceeds %d bytes", limit))
			return
		}
		s.fail(c, http.StatusBadRequest, fmt.Errorf("vcf_file: %w", err))
		return
	}
	if !vcfFilename(fh.Filename) {
		s.fail(c, http.StatusBadRequest, fmt.Errorf("vcf_file %q must have a .vcf or .vcf.gz extension", fh.Filename))
		return
	}
	if limit > 0 && fh.Size > limit {
		s.fail(c, http.StatusRequestEntityTooLarge, fmt.Errorf("vcf_file is %d bytes, limit is %d", fh.Size, limit))
		return
	}

	drugs := analysis.NormalizeDrugs(c.PostFormArray("drugs"))
	if len(drugs) == 0 {
		s.fail(c, http.StatusBadRequest, analysis.ErrNoDrugs)
		return
	}
	if s.cfg.MaxDrugs > 0 && len(drugs) > s.cfg.MaxDrugs {
		s.fail(c, http.StatusBadRequest, fmt.Errorf("%d drugs requested, limit is %d", len(drugs), s.cfg.MaxDrugs))
		return
	}

	f, err := fh.Open()
	if err != nil {
		s.fail(c, http.StatusInternalServerError, fmt.Errorf("open upload: %w", err))
		return
	}
	defer f.Close()

	report, err := s.analyzer.Analyze(c.Request.Context(), f, drugs)
	if err != nil {
		var perr *vcf.ParseError
		if errors.As(err, &perr) {
			s.fail(c, http.StatusBadRequest, err)
			return
		}
		s.logger.Error("analysis failed",
			zap.String("request_id", c.GetString(requestIDKey)),
			zap.Error(err))
		s.fail(c, http.StatusInternalServerError, err)
		return
	}

	c.JSON(http.StatusOK, report)
}

func tooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe) || strings.Contains(err.Error(), "request body too large")
}

func vcfFilename(name string) bool {
	name = strings.ToLower(name)
	return strings.HasSuffix(name, ".vcf") || strings.HasSuffix(name, ".vcf.gz")
}
