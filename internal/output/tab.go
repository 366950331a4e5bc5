// Package output provides report formatters.
package output

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/inodb/vibe-pgx/internal/analysis"
)

// TabWriter writes drug verdicts in tab-delimited format.
type TabWriter struct {
	w       *bufio.Writer
	columns []string
}

// NewTabWriter creates a new tab-delimited writer.
func NewTabWriter(w io.Writer) *TabWriter {
	return &TabWriter{
		w: bufio.NewWriter(w),
		columns: []string{
			"#Drug",
			"Gene",
			"Diplotype",
			"Phenotype",
			"Activity_score",
			"Risk_label",
			"Severity",
			"Confidence",
			"Confidence_level",
			"Urgency",
			"Completeness",
			"Action",
			"Guideline",
			"rsIDs",
			"Alternative_diplotypes",
		},
	}
}

// WriteHeader writes the header line.
func (tw *TabWriter) WriteHeader() error {
	_, err := tw.w.WriteString(strings.Join(tw.columns, "\t") + "\n")
	return err
}

// Write writes a single drug result.
func (tw *TabWriter) Write(res analysis.DrugResult) error {
	activity := "-"
	if res.Gene != "" && res.Diplotype != "" && !res.IsUnknown() {
		activity = strconv.FormatFloat(res.ActivityScore, 'f', -1, 64)
	}

	values := []string{
		res.Drug,
		dash(res.Gene),
		dash(res.Diplotype),
		dash(res.Phenotype),
		activity,
		string(res.Label),
		string(res.Severity),
		strconv.FormatFloat(res.Confidence, 'f', 2, 64),
		string(res.Level),
		string(res.Urgency),
		dash(res.Quality.Completeness),
		dash(clean(res.Action)),
		dash(res.Guideline.ID),
		dash(strings.Join(res.RsIDs, ",")),
		dash(strings.Join(res.Alternatives, ",")),
	}

	_, err := tw.w.WriteString(strings.Join(values, "\t") + "\n")
	return err
}

// WriteReport writes the header and every result of r.
func (tw *TabWriter) WriteReport(r *analysis.Report) error {
	if err := tw.WriteHeader(); err != nil {
		return err
	}
	for _, res := range r.Results {
		if err := tw.Write(res); err != nil {
			return err
		}
	}
	return tw.Flush()
}

// Flush flushes any buffered data to the underlying writer.
func (tw *TabWriter) Flush() error {
	return tw.w.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// clean keeps free text on one tab-delimited line.
func clean(s string) string {
	return strings.NewReplacer("\t", " ", "\n", " ", "\r", " ").Replace(s)
}
