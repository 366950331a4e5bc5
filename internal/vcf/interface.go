// Package vcf provides VCF file parsing functionality.
package vcf

// VariantParser is the interface for parsers that read variants.
type VariantParser interface {
	// Next reads the next variant.
	// Returns nil, nil when there are no more variants.
	Next() (*Variant, error)

	// Warnings returns the malformed or skipped lines seen so far.
	Warnings() []LineWarning

	// Close closes the parser and releases resources.
	Close() error

	// LineNumber returns the current line number being processed.
	LineNumber() int

	// Header returns the meta-information lines, including #CHROM.
	Header() []string

	// SampleNames returns the sample columns in file order.
	SampleNames() []string
}
