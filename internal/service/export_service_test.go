package service

import (
	"context"
	"database/sql"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/siga-api/internal/models"
	appErrors "github.com/noah-isme/siga-api/pkg/errors"
	"github.com/noah-isme/siga-api/pkg/export"
	"github.com/noah-isme/siga-api/pkg/storage"
)

type stubExportCourses struct {
	course *models.Course
}

func (s stubExportCourses) FindByID(ctx context.Context, id string) (*models.Course, error) {
	if s.course == nil || s.course.ID != id {
		return nil, sql.ErrNoRows
	}
	return s.course, nil
}

type stubExportApps struct {
	apps []models.Application
}

func (s stubExportApps) ListByCourse(ctx context.Context, courseID string) ([]models.Application, error) {
	return append([]models.Application(nil), s.apps...), nil
}

func exportApp(id, number, name string, seq int64, score *float64, approved bool) models.Application {
	return models.Application{ID: id, Number: number, FullName: name, Sequence: seq, Score: score, Approved: approved}
}

func newExportServiceForTest(t *testing.T) (*ExportService, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewLocalStorage(dir)
	require.NoError(t, err)

	high, low, under := 17.5, 14.0, 8.0
	course := &models.Course{ID: "c1", Code: "INF 01", Name: "Informática", Capacity: 1, MinimumScore: 10}
	apps := stubExportApps{apps: []models.Application{
		exportApp("a1", "INS-000001", "Ana Costa", 1, &low, false),
		exportApp("a2", "INS-000002", "Bruno Lima", 2, &high, true),
		exportApp("a3", "INS-000003", "Carla Reis", 3, &under, false),
		exportApp("a4", "INS-000004", "Davi Neto", 4, nil, false),
	}}

	signer := storage.NewSignedURLSigner("secret", time.Hour)
	svc := NewExportService(apps, stubExportCourses{course: course}, store, signer, ExportConfig{DownloadBasePath: "/api/v1/exports/", ResultTTL: time.Hour}, zap.NewNop(), export.NewCSVExporter(), export.NewPDFExporter())
	svc.now = func() time.Time { return time.Date(2025, 7, 1, 9, 30, 0, 0, time.UTC) }
	return svc, dir
}

func TestExportServiceRankingCSV(t *testing.T) {
	svc, _ := newExportServiceForTest(t)

	link, err := svc.ExportRanking(context.Background(), "c1", models.ExportFormatCSV)
	require.NoError(t, err)
	require.NotEmpty(t, link.Token)
	assert.Equal(t, "/api/v1/exports/"+link.Token, link.URL)
	assert.True(t, link.ExpiresAt.After(time.Now()))

	file, name, err := svc.Open(link.Token)
	require.NoError(t, err)
	defer file.Close()
	assert.Equal(t, "resultados_INF_01_20250701_093000.csv", name)

	body, err := io.ReadAll(file)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, "Posição,Número,Nome,Nota,Resultado", lines[0])
	assert.Equal(t, "1,INS-000002,Bruno Lima,17.5,APROVADO", lines[1])
	assert.Equal(t, "2,INS-000001,Ana Costa,14,NÃO APROVADO", lines[2])
	assert.Equal(t, "-,INS-000003,Carla Reis,8,NÃO APROVADO", lines[3])
	assert.Equal(t, "-,INS-000004,Davi Neto,-,SEM NOTA", lines[4])
}

func TestExportServiceRankingPDF(t *testing.T) {
	svc, _ := newExportServiceForTest(t)

	link, err := svc.ExportRanking(context.Background(), "c1", models.ExportFormatPDF)
	require.NoError(t, err)

	file, name, err := svc.Open(link.Token)
	require.NoError(t, err)
	defer file.Close()
	assert.True(t, strings.HasSuffix(name, ".pdf"))

	head := make([]byte, 4)
	_, err = io.ReadFull(file, head)
	require.NoError(t, err)
	assert.Equal(t, "%PDF", string(head))
}

func TestExportServiceRankingErrors(t *testing.T) {
	svc, _ := newExportServiceForTest(t)

	_, err := svc.ExportRanking(context.Background(), "c1", models.ExportFormat("xlsx"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	_, err = svc.ExportRanking(context.Background(), "missing", models.ExportFormatCSV)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestExportServiceOpenRejectsBadToken(t *testing.T) {
	svc, _ := newExportServiceForTest(t)

	_, _, err := svc.Open("not-a-token")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestExportServiceOpenAfterCleanup(t *testing.T) {
	svc, dir := newExportServiceForTest(t)

	link, err := svc.ExportRanking(context.Background(), "c1", models.ExportFormatCSV)
	require.NoError(t, err)

	_, relPath, _, err := storage.NewSignedURLSigner("secret", time.Hour).Parse(link.Token)
	require.NoError(t, err)
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(dir, filepath.FromSlash(relPath)), old, old))

	removed, err := svc.Cleanup(0)
	require.NoError(t, err)
	assert.Equal(t, []string{relPath}, removed)

	_, _, err = svc.Open(link.Token)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}
