package export

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCSVExporterOrdersColumnsByHeader(t *testing.T) {
	data := Dataset{
		Headers: []string{"rank", "number", "score"},
		Rows: []map[string]string{
			{"number": "INS-000002", "score": "18.00", "rank": "1"},
			{"number": "INS-000001", "score": "15.50", "rank": "2"},
		},
	}
	out, err := NewCSVExporter().Render(data)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "rank,number,score", lines[0])
	assert.Equal(t, "1,INS-000002,18.00", lines[1])

	_, err = NewCSVExporter().Render(Dataset{})
	assert.Error(t, err)
}

func TestCSVExporterBOMAndDelimiter(t *testing.T) {
	out, err := NewCSVExporter(WithBOM(), WithDelimiter(';')).Render(Dataset{
		Headers: []string{"Número", "Nome"},
		Rows:    []map[string]string{{"Número": "INS-000001", "Nome": "João"}},
	})
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(out, utf8BOM))

	lines := strings.Split(strings.TrimSpace(string(out[len(utf8BOM):])), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "Número;Nome", lines[0])
	assert.Equal(t, "INS-000001;João", lines[1])
}

func TestPDFExporterRenderTable(t *testing.T) {
	out, err := NewPDFExporter().Render(Dataset{
		Headers: []string{"number", "name"},
		Rows:    []map[string]string{{"number": "INS-000001", "name": "João"}},
	}, "Ranking")
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF")))
}

func TestPDFExporterRenderDocument(t *testing.T) {
	out, err := NewPDFExporter().RenderDocument(Document{
		Header:     "Escola Exemplo",
		Title:      "Recibo de Pagamento",
		Paragraphs: []string{"Confirmamos a receção do pagamento."},
		Fields:     []Field{{Label: "Valor", Value: "15000.00"}},
		Footer:     "Documento gerado automaticamente",
	})
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF")))

	_, err = NewPDFExporter().RenderDocument(Document{})
	assert.Error(t, err)
}
