package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
)

// utf8BOM makes spreadsheet tools detect UTF-8 so accented names survive.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Dataset defines tabular export content.
type Dataset struct {
	Headers []string
	Rows    []map[string]string
}

// CSVOption customises a CSVExporter.
type CSVOption func(*CSVExporter)

// WithBOM prefixes the output with a UTF-8 byte order mark.
func WithBOM() CSVOption {
	return func(e *CSVExporter) { e.bom = true }
}

// WithDelimiter replaces the comma separator, e.g. ';' for pt locales.
func WithDelimiter(r rune) CSVOption {
	return func(e *CSVExporter) { e.delimiter = r }
}

// CSVExporter renders Dataset records into CSV bytes. Columns follow Headers;
// keys missing from a row render empty.
type CSVExporter struct {
	bom       bool
	delimiter rune
}

// NewCSVExporter builds a comma separated exporter without BOM unless options say otherwise.
func NewCSVExporter(opts ...CSVOption) *CSVExporter {
	e := &CSVExporter{delimiter: ','}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Render produces CSV encoded bytes for the dataset.
func (e *CSVExporter) Render(data Dataset) ([]byte, error) {
	if len(data.Headers) == 0 {
		return nil, fmt.Errorf("csv requires at least one header")
	}
	buf := &bytes.Buffer{}
	if e.bom {
		buf.Write(utf8BOM)
	}
	writer := csv.NewWriter(buf)
	writer.Comma = e.delimiter
	if err := writer.Write(data.Headers); err != nil {
		return nil, fmt.Errorf("write csv headers: %w", err)
	}
	record := make([]string, len(data.Headers))
	for _, row := range data.Rows {
		for i, header := range data.Headers {
			record[i] = row[header]
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}
