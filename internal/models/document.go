package models

import "time"

// DocumentSection categorises a template.
type DocumentSection string

const (
	SectionEnrollment  DocumentSection = "enrollment"
	SectionCertificate DocumentSection = "certificate"
	SectionDeclaration DocumentSection = "declaration"
	SectionAttestation DocumentSection = "attestation"
	SectionDiploma     DocumentSection = "diploma"
	SectionTranscript  DocumentSection = "transcript"
	SectionReceipt     DocumentSection = "receipt"
	SectionInvitation  DocumentSection = "invitation"
	SectionOther       DocumentSection = "other"
)

// DocumentSections lists every accepted section.
var DocumentSections = []DocumentSection{
	SectionEnrollment, SectionCertificate, SectionDeclaration, SectionAttestation,
	SectionDiploma, SectionTranscript, SectionReceipt, SectionInvitation, SectionOther,
}

// DocumentTemplate is a stored text body with {placeholder} variables.
type DocumentTemplate struct {
	ID          string          `db:"id" json:"id"`
	Title       string          `db:"title" json:"title"`
	Section     DocumentSection `db:"section" json:"section"`
	Body        string          `db:"body" json:"body"`
	Description string          `db:"description" json:"description,omitempty"`
	Active      bool            `db:"active" json:"active"`
	CreatedBy   *string         `db:"created_by" json:"created_by,omitempty"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`
}

// DocumentFilter captures list parameters for templates.
type DocumentFilter struct {
	Section  DocumentSection
	Active   *bool
	Search   string
	Page     int
	PageSize int
}

// RenderedDocument is a template body with variables substituted.
type RenderedDocument struct {
	TemplateID string `json:"template_id"`
	Title      string `json:"title"`
	Body       string `json:"body"`
}

// DocumentVariables is the catalogue of placeholders a template may use, with
// the label shown to editors.
var DocumentVariables = map[string]string{
	"nome":               "Nome completo",
	"bilhete_identidade": "Número do Bilhete de Identidade",
	"email":              "Email",
	"telefone":           "Telefone",
	"data_nascimento":    "Data de Nascimento",
	"curso":              "Nome do Curso",
	"numero_inscricao":   "Número de Inscrição",
	"data_inscricao":     "Data de Inscrição",
	"data_hoje":          "Data Atual",
	"nome_escola":        "Nome da Escola",
	"endereco":           "Endereço",
	"sexo":               "Sexo",
	"estado_civil":       "Estado Civil",
	"nacionalidade":      "Nacionalidade",
	"local_nascimento":   "Local de Nascimento",
}
