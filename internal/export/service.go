// Package export converts rendered public pages to PDF and DOCX.
package export

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Format represents the export output format
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
)

// ParseFormat accepts "pdf" or "docx" in any case.
func ParseFormat(value string) (Format, bool) {
	switch Format(strings.ToLower(strings.TrimSpace(value))) {
	case FormatPDF:
		return FormatPDF, true
	case FormatDOCX:
		return FormatDOCX, true
	default:
		return "", false
	}
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrContentUnavailable indicates there is no public page to export.
	ErrContentUnavailable = errors.New("export content unavailable")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrDOCXDependencyMissing indicates DOCX export runtime dependencies are unavailable.
	ErrDOCXDependencyMissing = errors.New("export docx dependency missing")
)

// Source yields the public HTML document of a slug. An empty document means
// the page is not visible to the public.
type Source interface {
	PublicDocument(ctx context.Context, slug string) (title, document string, err error)
}

type converter func(ctx context.Context, html, title string) (*Result, error)

// Service provides page export functionality
type Service struct {
	source Source
	pdf    converter
	docx   converter
}

func NewService(source Source) *Service {
	return &Service{source: source, pdf: exportPDF, docx: exportDOCX}
}

// Export renders slug and converts it to format.
func (s *Service) Export(ctx context.Context, slug string, format Format) (*Result, error) {
	var convert converter
	switch format {
	case FormatPDF:
		convert = s.pdf
	case FormatDOCX:
		convert = s.docx
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}

	title, document, err := s.source.PublicDocument(ctx, slug)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(document) == "" {
		return nil, ErrContentUnavailable
	}
	return convert(ctx, document, title)
}
