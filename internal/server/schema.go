package server

import (
	"encoding/json"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/inodb/vibe-pgx/internal/analysis"
	"github.com/inodb/vibe-pgx/internal/knowledge"
)

// fieldDoc describes one JSON field of a response object.
type fieldDoc struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Optional bool   `json:"optional,omitempty"`
}

var (
	timeType      = reflect.TypeOf(time.Time{})
	marshalerType = reflect.TypeOf((*json.Marshaler)(nil)).Elem()
)

// jsonFields lists the JSON fields of struct type t, flattening embedded
// structs the way encoding/json does.
func jsonFields(t reflect.Type) []fieldDoc {
	var out []fieldDoc
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		tag := f.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name, opts, _ := strings.Cut(tag, ",")
		if f.Anonymous && name == "" && f.Type.Kind() == reflect.Struct {
			out = append(out, jsonFields(f.Type)...)
			continue
		}
		if name == "" {
			name = f.Name
		}
		out = append(out, fieldDoc{
			Name:     name,
			Type:     jsonType(f.Type),
			Optional: strings.Contains(opts, "omitempty"),
		})
	}
	return out
}

func jsonType(t reflect.Type) string {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == timeType {
		return "string (RFC 3339)"
	}
	if t.Implements(marshalerType) {
		return "string"
	}
	switch t.Kind() {
	case reflect.String:
		return "string"
	case reflect.Bool:
		return "boolean"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "integer"
	case reflect.Float32, reflect.Float64:
		return "number"
	case reflect.Slice, reflect.Array:
		return "array of " + jsonType(t.Elem())
	case reflect.Map, reflect.Struct:
		return "object"
	}
	return t.Kind().String()
}

// handleSchema describes the analyze request and the shape of its response.
func (s *Server) handleSchema(c *gin.Context) {
	kb := s.analyzer.KnowledgeBase()
	drugs := make([]string, 0, len(kb.Drugs()))
	for _, d := range kb.Drugs() {
		drugs = append(drugs, d.Name)
	}

	c.JSON(http.StatusOK, gin.H{
		"knowledge_base_version": kb.Version(),
		"request": gin.H{
			"method":       http.MethodPost,
			"path":         "/api/v1/analyze",
			"content_type": "multipart/form-data",
			"fields": []gin.H{
				{"name": "vcf_file", "type": "file", "required": true,
					"description": "UTF-8 VCF with a .vcf or .vcf.gz extension"},
				{"name": "drugs", "type": "string", "required": true,
					"description": "comma-separated drug names; the field may repeat"},
			},
			"max_upload_bytes": s.cfg.MaxUploadBytes,
			"max_drugs":        s.cfg.MaxDrugs,
			"supported_drugs":  drugs,
		},
		"response": gin.H{
			"report":          jsonFields(reflect.TypeOf(analysis.Report{})),
			"result":          jsonFields(reflect.TypeOf(analysis.DrugResult{})),
			"risk_labels":     []knowledge.Label{knowledge.LabelSafe, knowledge.LabelAdjustDosage, knowledge.LabelToxic, knowledge.LabelIneffective, knowledge.LabelUnknown},
			"confidence_bins": gin.H{"HIGH": ">= 0.8", "MEDIUM": ">= 0.5", "LOW": "< 0.5"},
		},
		"error": jsonFields(reflect.TypeOf(errorResponse{})),
	})
}
