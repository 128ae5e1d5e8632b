package export

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/jung-kurt/gofpdf"
)

// Field is a labelled value printed as a two-column row.
type Field struct {
	Label string
	Value string
}

// Document describes a single-page formal document such as a receipt,
// an application confirmation or a rendered template.
type Document struct {
	Header     string
	Title      string
	Subtitle   string
	Paragraphs []string
	Fields     []Field
	Footer     string
}

// PDFExporter renders datasets and documents into PDF bytes.
type PDFExporter struct{}

// NewPDFExporter constructs a PDF exporter.
func NewPDFExporter() *PDFExporter {
	return &PDFExporter{}
}

// Render creates a PDF document with an optional title and table body.
func (e *PDFExporter) Render(data Dataset, title string) ([]byte, error) {
	if len(data.Headers) == 0 {
		return nil, fmt.Errorf("pdf requires at least one header")
	}
	pdf := newPDF()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	if title != "" {
		pdf.SetFont("Arial", "B", 14)
		pdf.CellFormat(0, 10, tr(strings.ToUpper(title)), "", 1, "C", false, 0, "")
		pdf.Ln(5)
	}

	pdf.SetFont("Arial", "B", 10)
	colWidth := 190.0 / float64(len(data.Headers))
	for _, header := range data.Headers {
		pdf.CellFormat(colWidth, 8, tr(header), "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 9)
	for _, row := range data.Rows {
		for _, header := range data.Headers {
			pdf.CellFormat(colWidth, 7, tr(row[header]), "1", 0, "", false, 0, "")
		}
		pdf.Ln(-1)
	}

	return output(pdf)
}

// RenderDocument lays out a header, a centred title, free text paragraphs and
// a bordered label/value table.
func (e *PDFExporter) RenderDocument(doc Document) ([]byte, error) {
	if strings.TrimSpace(doc.Title) == "" {
		return nil, fmt.Errorf("pdf document requires a title")
	}
	pdf := newPDF()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	if doc.Header != "" {
		pdf.SetFont("Arial", "B", 16)
		pdf.CellFormat(0, 9, tr(doc.Header), "", 1, "C", false, 0, "")
	}
	pdf.SetFont("Arial", "B", 14)
	pdf.CellFormat(0, 10, tr(strings.ToUpper(doc.Title)), "", 1, "C", false, 0, "")
	if doc.Subtitle != "" {
		pdf.SetFont("Arial", "", 10)
		pdf.CellFormat(0, 6, tr(doc.Subtitle), "", 1, "C", false, 0, "")
	}
	pdf.Ln(6)

	pdf.SetFont("Arial", "", 11)
	for _, paragraph := range doc.Paragraphs {
		pdf.MultiCell(0, 6, tr(paragraph), "", "J", false)
		pdf.Ln(3)
	}

	if len(doc.Fields) > 0 {
		pdf.Ln(2)
		for _, f := range doc.Fields {
			pdf.SetFont("Arial", "B", 10)
			pdf.CellFormat(60, 8, tr(f.Label), "1", 0, "", false, 0, "")
			pdf.SetFont("Arial", "", 10)
			pdf.CellFormat(130, 8, tr(f.Value), "1", 1, "", false, 0, "")
		}
	}

	if doc.Footer != "" {
		pdf.Ln(10)
		pdf.SetFont("Arial", "I", 9)
		pdf.MultiCell(0, 5, tr(doc.Footer), "", "C", false)
	}

	return output(pdf)
}

func newPDF() *gofpdf.Fpdf {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(10, 15, 10)
	pdf.AddPage()
	return pdf
}

func output(pdf *gofpdf.Fpdf) ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}
