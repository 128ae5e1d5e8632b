package repository

import (
	"context"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/siga-api/internal/models"
)

func TestNotificationCreateWithRecipients(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewNotificationRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO notifications").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("UNNEST($2::text[])")).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	n := &models.Notification{Title: "Perfil atribuido", Message: "Bem-vindo", Kind: models.NotificationSuccess, Active: true, Recipients: []string{"u1", "u2"}}
	require.NoError(t, repo.Create(context.Background(), n))
	assert.NotEmpty(t, n.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationCreateGlobalSkipsRecipients(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewNotificationRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO notifications").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	n := &models.Notification{Title: "Manutencao", Message: "Sistema offline", Kind: models.NotificationWarning, Global: true, Active: true}
	require.NoError(t, repo.Create(context.Background(), n))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationMarkReadIgnoresDuplicates(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewNotificationRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT DO NOTHING")).
		WithArgs("n1", "u1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.MarkRead(context.Background(), "n1", "u1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
