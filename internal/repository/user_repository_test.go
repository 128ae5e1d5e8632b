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

var userRowColumns = []string{"id", "username", "email", "phone", "password_hash", "full_name", "role", "active", "last_login", "created_at", "updated_at"}

func TestFindByLogin(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows(userRowColumns).
		AddRow("1", "secretaria", "user@example.com", nil, "hash", "User", string(models.RoleSecretary), true, now, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE LOWER(username) = LOWER($1) OR LOWER(email) = LOWER($1) OR phone = $1 LIMIT 1")).
		WithArgs("Secretaria").
		WillReturnRows(rows)

	user, err := repo.FindByLogin(context.Background(), "Secretaria")
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", user.Email)
	assert.Equal(t, models.RoleSecretary, user.Role)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserExistsByField(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM users WHERE phone = $1 AND id <> $2 LIMIT 1")).
		WithArgs("923000000", "u1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM users WHERE LOWER(email) = LOWER($1) LIMIT 1")).
		WithArgs("free@example.com").
		WillReturnError(sql.ErrNoRows)

	exists, err := repo.ExistsByField(context.Background(), "phone", "923000000", "u1")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = repo.ExistsByField(context.Background(), "email", "free@example.com", "")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = repo.ExistsByField(context.Background(), "password_hash", "x", "")
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateRefreshToken(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectExec("INSERT INTO refresh_tokens").WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.CreateRefreshToken(context.Background(), &models.RefreshToken{ID: "1", UserID: "u1", Token: "token", ExpiresAt: time.Now(), CreatedAt: time.Now()})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListUsers(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	now := time.Now()
	role := models.RolePending
	listRows := sqlmock.NewRows(userRowColumns).
		AddRow("1", "ana", "a@example.com", "923000000", "hash", "A", string(models.RolePending), true, nil, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE 1=1 AND role = $1 ORDER BY created_at DESC LIMIT 20 OFFSET 0")).
		WithArgs(role).
		WillReturnRows(listRows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM users WHERE 1=1 AND role = $1")).
		WithArgs(role).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	users, total, err := repo.List(context.Background(), models.UserFilter{Role: &role})
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.True(t, users[0].IsPending())
	assert.Equal(t, 1, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateRoleNotFound(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET role = $2")).
		WithArgs("missing", models.RoleTeacher, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateRole(context.Background(), "missing", models.RoleTeacher)
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}
