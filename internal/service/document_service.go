package service

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/siga-api/internal/models"
	"github.com/noah-isme/siga-api/pkg/document"
	appErrors "github.com/noah-isme/siga-api/pkg/errors"
	"github.com/noah-isme/siga-api/pkg/export"
)

type documentRepository interface {
	List(ctx context.Context, filter models.DocumentFilter) ([]models.DocumentTemplate, int, error)
	FindByID(ctx context.Context, id string) (*models.DocumentTemplate, error)
	Create(ctx context.Context, doc *models.DocumentTemplate) error
	Update(ctx context.Context, doc *models.DocumentTemplate) error
	Delete(ctx context.Context, id string) error
}

type applicationLookup interface {
	FindByID(ctx context.Context, id string) (*models.ApplicationDetail, error)
	FindByNumber(ctx context.Context, number string) (*models.ApplicationDetail, error)
}

type schoolConfigReader interface {
	Get(ctx context.Context) (*models.SchoolConfiguration, error)
}

var sexLabels = map[string]string{"M": "Masculino", "F": "Feminino"}

var maritalLabels = map[string]string{"S": "Solteiro(a)", "C": "Casado(a)", "D": "Divorciado(a)", "V": "Viúvo(a)"}

// DocumentRequest is the create and update payload of a template.
type DocumentRequest struct {
	Title       string                 `json:"title" validate:"required,max=200"`
	Section     models.DocumentSection `json:"section" validate:"omitempty,document_section"`
	Body        string                 `json:"body" validate:"required"`
	Description string                 `json:"description"`
	Active      *bool                  `json:"active"`
}

// RenderRequest selects the data a template is rendered with. Variables
// override values derived from the application.
type RenderRequest struct {
	ApplicationID string            `json:"application_id"`
	Variables     map[string]string `json:"variables"`
	Lenient       bool              `json:"lenient"`
}

// DocumentVariable describes one catalogue entry.
type DocumentVariable struct {
	Name  string `json:"name"`
	Label string `json:"label"`
}

// DocumentService manages templates and renders them to text and PDF.
type DocumentService struct {
	repo      documentRepository
	apps      applicationLookup
	config    schoolConfigReader
	pdf       documentPDFRenderer
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewDocumentService constructs the service.
func NewDocumentService(repo documentRepository, apps applicationLookup, config schoolConfigReader, pdf documentPDFRenderer, validate *validator.Validate, logger *zap.Logger) *DocumentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	svc := &DocumentService{repo: repo, apps: apps, config: config, pdf: pdf, validator: validate, logger: logger, now: time.Now}
	svc.validator.RegisterValidation("document_section", func(fl validator.FieldLevel) bool {
		section := models.DocumentSection(fl.Field().String())
		for _, allowed := range models.DocumentSections {
			if section == allowed {
				return true
			}
		}
		return false
	})
	return svc
}

// Variables returns the placeholder catalogue sorted by name.
func (s *DocumentService) Variables() []DocumentVariable {
	out := make([]DocumentVariable, 0, len(models.DocumentVariables))
	for name, label := range models.DocumentVariables {
		out = append(out, DocumentVariable{Name: name, Label: label})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// List returns templates.
func (s *DocumentService) List(ctx context.Context, filter models.DocumentFilter) ([]models.DocumentTemplate, *models.Pagination, error) {
	docs, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list documents")
	}
	return docs, buildPagination(filter.Page, filter.PageSize, total), nil
}

// Get returns a template.
func (s *DocumentService) Get(ctx context.Context, id string) (*models.DocumentTemplate, error) {
	doc, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "document not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load document")
	}
	return doc, nil
}

// Create stores a template after checking its placeholders against the catalogue.
func (s *DocumentService) Create(ctx context.Context, req DocumentRequest, createdBy string) (*models.DocumentTemplate, error) {
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}
	doc := &models.DocumentTemplate{
		Title:       strings.TrimSpace(req.Title),
		Section:     req.Section,
		Body:        req.Body,
		Description: req.Description,
		Active:      true,
		CreatedBy:   optionalString(createdBy),
	}
	if doc.Section == "" {
		doc.Section = models.SectionOther
	}
	if req.Active != nil {
		doc.Active = *req.Active
	}
	if err := s.repo.Create(ctx, doc); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create document")
	}
	return doc, nil
}

// Update overwrites a template.
func (s *DocumentService) Update(ctx context.Context, id string, req DocumentRequest) (*models.DocumentTemplate, error) {
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}
	doc, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	doc.Title = strings.TrimSpace(req.Title)
	if req.Section != "" {
		doc.Section = req.Section
	}
	doc.Body = req.Body
	doc.Description = req.Description
	if req.Active != nil {
		doc.Active = *req.Active
	}
	if err := s.repo.Update(ctx, doc); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "document not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update document")
	}
	return doc, nil
}

// Delete removes a template.
func (s *DocumentService) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "document not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete document")
	}
	return nil
}

// Render substitutes the variables of an application into a template. A
// missing variable fails with ErrMissingVariable unless the request is lenient,
// in which case the error text replaces the body.
func (s *DocumentService) Render(ctx context.Context, id string, req RenderRequest) (*models.RenderedDocument, error) {
	doc, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	vars, err := s.variables(ctx, req)
	if err != nil {
		return nil, err
	}

	rendered := &models.RenderedDocument{TemplateID: doc.ID, Title: doc.Title}
	if req.Lenient {
		rendered.Body = document.RenderOrMessage(doc.Body, vars)
		return rendered, nil
	}
	body, err := document.Render(doc.Body, vars)
	if err != nil {
		return nil, missingVariable(err)
	}
	rendered.Body = body
	return rendered, nil
}

// RenderPDF renders a template and lays it out as a PDF.
func (s *DocumentService) RenderPDF(ctx context.Context, id string, req RenderRequest) ([]byte, error) {
	rendered, err := s.Render(ctx, id, req)
	if err != nil {
		return nil, err
	}
	content, err := s.pdf.RenderDocument(export.Document{
		Header:     s.schoolName(ctx),
		Title:      rendered.Title,
		Paragraphs: splitParagraphs(rendered.Body),
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf")
	}
	return content, nil
}

// ConfirmationPDF renders the enrollment confirmation of an application using
// the school's confirmation template.
func (s *DocumentService) ConfirmationPDF(ctx context.Context, number string) ([]byte, string, error) {
	app, err := s.apps.FindByNumber(ctx, strings.ToUpper(strings.TrimSpace(number)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, "", appErrors.Clone(appErrors.ErrNotFound, "application not found")
		}
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load application")
	}

	template := models.DefaultConfirmationTemplate
	schoolName := "Sistema Escolar"
	if cfg := s.schoolConfig(ctx); cfg != nil {
		schoolName = cfg.SchoolName
		if strings.TrimSpace(cfg.ConfirmationTemplate) != "" {
			template = cfg.ConfirmationTemplate
		}
	}
	body, err := document.Render(template, map[string]string{
		"nome":   app.FullName,
		"curso":  app.CourseName,
		"numero": app.Number,
		"data":   app.SubmittedAt.Format("02/01/2006"),
	})
	if err != nil {
		return nil, "", missingVariable(err)
	}

	fields := []export.Field{
		{Label: "Data de Nascimento", Value: app.BirthDate.Format("02/01/2006")},
		{Label: "Bilhete de Identidade", Value: app.IDCardNumber},
		{Label: "Telefone", Value: app.Phone},
		{Label: "Email", Value: app.Email},
	}
	if app.Score != nil {
		status := "NÃO APROVADO"
		if app.Approved {
			status = "APROVADO"
		}
		fields = append(fields,
			export.Field{Label: "Nota do Teste", Value: formatGrade(*app.Score)},
			export.Field{Label: "Status", Value: status},
		)
	}

	content, err := s.pdf.RenderDocument(export.Document{
		Header:     schoolName,
		Title:      "Confirmação de inscrição",
		Paragraphs: splitParagraphs(body),
		Fields:     fields,
	})
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf")
	}
	return content, "confirmacao_" + app.Number + ".pdf", nil
}

// ApplicationVariables builds the catalogue values for an application.
func ApplicationVariables(app *models.ApplicationDetail, schoolName string, now time.Time) map[string]string {
	return map[string]string{
		"nome":               app.FullName,
		"bilhete_identidade": app.IDCardNumber,
		"email":              app.Email,
		"telefone":           app.Phone,
		"data_nascimento":    app.BirthDate.Format("02/01/2006"),
		"curso":              app.CourseName,
		"numero_inscricao":   app.Number,
		"data_inscricao":     app.SubmittedAt.Format("02/01/2006"),
		"data_hoje":          now.Format("02/01/2006"),
		"nome_escola":        schoolName,
		"endereco":           app.Address,
		"sexo":               labelOr(sexLabels, app.Sex),
		"estado_civil":       labelOr(maritalLabels, app.MaritalStatus),
		"nacionalidade":      app.Nationality,
		"local_nascimento":   app.Birthplace,
	}
}

func (s *DocumentService) variables(ctx context.Context, req RenderRequest) (map[string]string, error) {
	vars := map[string]string{
		"data_hoje":   s.now().Format("02/01/2006"),
		"nome_escola": s.schoolName(ctx),
	}
	if req.ApplicationID != "" {
		app, err := s.apps.FindByID(ctx, req.ApplicationID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrNotFound, "application not found")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load application")
		}
		vars = ApplicationVariables(app, vars["nome_escola"], s.now())
	}
	for k, v := range req.Variables {
		vars[k] = v
	}
	return vars, nil
}

func (s *DocumentService) validateRequest(req DocumentRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Invalid(err, "invalid document payload")
	}
	allowed := make([]string, 0, len(models.DocumentVariables))
	for name := range models.DocumentVariables {
		allowed = append(allowed, name)
	}
	if unknown := document.Unknown(req.Body, allowed); len(unknown) > 0 {
		return appErrors.Clone(appErrors.ErrValidation, "unknown template variables: "+strings.Join(unknown, ", "))
	}
	return nil
}

func (s *DocumentService) schoolConfig(ctx context.Context) *models.SchoolConfiguration {
	if s.config == nil {
		return nil
	}
	cfg, err := s.config.Get(ctx)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("failed to load school configuration", zap.Error(err))
		}
		return nil
	}
	return cfg
}

func (s *DocumentService) schoolName(ctx context.Context) string {
	if cfg := s.schoolConfig(ctx); cfg != nil {
		return cfg.SchoolName
	}
	return ""
}

func missingVariable(err error) error {
	var missing *document.MissingVariableError
	if errors.As(err, &missing) {
		return appErrors.Wrap(err, appErrors.ErrMissingVariable.Code, appErrors.ErrMissingVariable.Status, missing.Error())
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render document")
}

func splitParagraphs(body string) []string {
	var out []string
	for _, line := range strings.Split(body, "\n") {
		if strings.TrimSpace(line) != "" {
			out = append(out, line)
		}
	}
	return out
}

func labelOr(labels map[string]string, key string) string {
	if label, ok := labels[key]; ok {
		return label
	}
	return key
}
