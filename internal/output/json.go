package output

import (
	"encoding/json"
	"io"

	"github.com/inodb/vibe-pgx/internal/analysis"
)

// JSONWriter writes analysis reports as JSON documents.
type JSONWriter struct {
	enc *json.Encoder
}

// NewJSONWriter creates a JSON writer. Indented output is the default.
func NewJSONWriter(w io.Writer) *JSONWriter {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return &JSONWriter{enc: enc}
}

// SetCompact switches to single-line output.
func (jw *JSONWriter) SetCompact(compact bool) {
	if compact {
		jw.enc.SetIndent("", "")
	} else {
		jw.enc.SetIndent("", "  ")
	}
}

// WriteReport writes r followed by a newline.
func (jw *JSONWriter) WriteReport(r *analysis.Report) error {
	return jw.enc.Encode(r)
}
