package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/siga-api/internal/models"
)

func TestCourseListIncludesCounters(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewCourseRepository(db)

	active := true
	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("AS total_applications FROM courses c WHERE c.active = $1 ORDER BY c.name ASC LIMIT 20 OFFSET 0")).
		WithArgs(true).
		WillReturnRows(sqlmock.NewRows([]string{"id", "code", "name", "capacity", "minimum_score", "active", "created_at", "approved_count", "total_applications"}).
			AddRow("course-1", "INF", "Informatica", 30, 10.0, true, now, 12, 40))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM courses c WHERE c.active = $1")).
		WithArgs(true).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	courses, total, err := repo.List(context.Background(), models.CourseFilter{Active: &active})
	require.NoError(t, err)
	require.Len(t, courses, 1)
	assert.Equal(t, 12, courses[0].ApprovedCount)
	assert.Equal(t, 40, courses[0].TotalApplications)
	assert.Equal(t, 1, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCourseFindByIDNotFound(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewCourseRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM courses c WHERE c.id = $1")).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByID(context.Background(), "missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestCourseDeleteRequiresAffectedRow(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewCourseRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM courses WHERE id = $1")).
		WithArgs("course-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM courses WHERE id = $1")).
		WithArgs("course-2").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.Delete(context.Background(), "course-1"))
	assert.ErrorIs(t, repo.Delete(context.Background(), "course-2"), sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRemovePrerequisiteScopedToCourse(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewCourseRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM prerequisite_rules WHERE id = $1 AND course_id = $2")).
		WithArgs("rule-1", "course-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.RemovePrerequisite(context.Background(), "course-1", "rule-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNormalisePage(t *testing.T) {
	page, size := normalisePage(0, 500)
	assert.Equal(t, 1, page)
	assert.Equal(t, 20, size)

	page, size = normalisePage(3, 50)
	assert.Equal(t, 3, page)
	assert.Equal(t, 50, size)
}
