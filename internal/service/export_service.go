package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/siga-api/internal/models"
	appErrors "github.com/noah-isme/siga-api/pkg/errors"
	"github.com/noah-isme/siga-api/pkg/export"
	"github.com/noah-isme/siga-api/pkg/storage"
)

const exportDir = "exports"

type exportApplicationReader interface {
	ListByCourse(ctx context.Context, courseID string) ([]models.Application, error)
}

type exportCourseReader interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
}

type exportStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	CleanupOlderThan(dir string, ttl time.Duration) ([]string, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	DownloadBasePath string
	ResultTTL        time.Duration
	CleanupInterval  time.Duration
}

// ExportService renders course ranking results to CSV or PDF and hands out
// signed download links for them.
type ExportService struct {
	apps    exportApplicationReader
	courses exportCourseReader
	storage exportStorage
	signer  fileSigner
	csv     csvRenderer
	pdf     pdfRenderer
	logger  *zap.Logger
	cfg     ExportConfig
	now     func() time.Time
}

var rankingHeaders = []string{"Posição", "Número", "Nome", "Nota", "Resultado"}

// NewExportService constructs an ExportService.
func NewExportService(apps exportApplicationReader, courses exportCourseReader, storage exportStorage, signer fileSigner, cfg ExportConfig, logger *zap.Logger, csv csvRenderer, pdf pdfRenderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	if cfg.DownloadBasePath == "" {
		cfg.DownloadBasePath = "/api/v1/exports"
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{
		apps:    apps,
		courses: courses,
		storage: storage,
		signer:  signer,
		csv:     csv,
		pdf:     pdf,
		logger:  logger,
		cfg:     cfg,
		now:     time.Now,
	}
}

// ExportRanking renders the ranked applications of a course and stores the file.
func (s *ExportService) ExportRanking(ctx context.Context, courseID string, format models.ExportFormat) (*models.FileLink, error) {
	if format != models.ExportFormatCSV && format != models.ExportFormatPDF {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", format))
	}
	course, err := s.courses.FindByID(ctx, courseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	apps, err := s.apps.ListByCourse(ctx, courseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load applications")
	}

	now := s.now().UTC()
	dataset := rankingDataset(*course, apps, now)
	var payload []byte
	switch format {
	case models.ExportFormatCSV:
		payload, err = s.csv.Render(dataset)
	case models.ExportFormatPDF:
		payload, err = s.pdf.Render(dataset, fmt.Sprintf("Resultados - %s", course.Name))
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}

	filename := path.Join(exportDir, fmt.Sprintf("resultados_%s_%s.%s", sanitizeFilename(course.Code), now.Format("20060102_150405"), format))
	relPath, err := s.storage.Save(filename, payload)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store export")
	}
	token, expiresAt, err := s.signer.Generate(course.ID, relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign export link")
	}
	s.logger.Info("ranking exported", zap.String("course_id", course.ID), zap.String("format", string(format)))
	return &models.FileLink{
		Token:     token,
		URL:       strings.TrimRight(s.cfg.DownloadBasePath, "/") + "/" + token,
		ExpiresAt: expiresAt,
	}, nil
}

// Open resolves a download token to the stored file and its base name.
func (s *ExportService) Open(token string) (*os.File, string, error) {
	_, relPath, _, err := s.signer.Parse(token)
	if err != nil {
		return nil, "", downloadTokenError(err)
	}
	file, err := s.storage.Open(relPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, "", appErrors.Clone(appErrors.ErrNotFound, "export no longer available")
		}
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open export")
	}
	return file, path.Base(relPath), nil
}

// downloadTokenError maps signer failures: an expired link is 410 so the
// client knows to ask for a fresh one, anything else is 404.
func downloadTokenError(err error) error {
	if errors.Is(err, storage.ErrTokenExpired) {
		return appErrors.Wrap(err, appErrors.ErrTokenExpired.Code, appErrors.ErrTokenExpired.Status, "download link expired")
	}
	return appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "download link is invalid")
}

// Cleanup removes exports older than ttl, or the configured ResultTTL when ttl <= 0.
func (s *ExportService) Cleanup(ttl time.Duration) ([]string, error) {
	if ttl <= 0 {
		ttl = s.cfg.ResultTTL
	}
	return s.storage.CleanupOlderThan(exportDir, ttl)
}

// StartCleanup boots a goroutine that purges expired exports periodically.
func (s *ExportService) StartCleanup(ctx context.Context) {
	if s.cfg.CleanupInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.CleanupInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed, err := s.Cleanup(0)
				if err != nil {
					s.logger.Sugar().Warnw("export cleanup failed", "error", err)
					continue
				}
				if len(removed) > 0 {
					s.logger.Sugar().Infow("expired exports removed", "count", len(removed))
				}
			}
		}
	}()
}

func rankingDataset(course models.Course, apps []models.Application, now time.Time) export.Dataset {
	byID := make(map[string]models.Application, len(apps))
	for _, app := range apps {
		byID[app.ID] = app
	}
	rows := make([]map[string]string, 0, len(apps))
	for _, decision := range RankApplications(course, apps, now) {
		app := byID[decision.ApplicationID]
		rank, score, result := "-", "-", "SEM NOTA"
		if decision.Rank > 0 {
			rank = strconv.Itoa(decision.Rank)
		}
		if app.Score != nil {
			score = formatGrade(*app.Score)
			result = "NÃO APROVADO"
			if app.Approved {
				result = "APROVADO"
			}
		}
		rows = append(rows, map[string]string{
			"Posição":   rank,
			"Número":    app.Number,
			"Nome":      app.FullName,
			"Nota":      score,
			"Resultado": result,
		})
	}
	return export.Dataset{Headers: rankingHeaders, Rows: rows}
}

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "na"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".", "__", "_")
	result := replacer.Replace(raw)
	if len(result) > 100 {
		return result[:100]
	}
	return result
}
