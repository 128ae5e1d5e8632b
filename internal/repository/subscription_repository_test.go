package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/siga-api/internal/models"
)

func TestDecidePaymentLocksPaymentThenSubscription(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewSubscriptionRepository(db)

	today := time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM subscription_payments WHERE id = $1 FOR UPDATE")).
		WithArgs("pay-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "subscription_id", "plan", "amount", "status"}).
			AddRow("pay-1", "sub-1", "ANNUAL", 120000.0, "PENDING"))
	mock.ExpectQuery(regexp.QuoteMeta("FROM subscriptions WHERE id = $1 FOR UPDATE")).
		WithArgs("sub-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "school_name", "plan", "state", "start_date", "expiration_date"}).
			AddRow("sub-1", "Escola", "MONTHLY", "ACTIVE", today.AddDate(0, 0, -20), today.AddDate(0, 0, 10)))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE subscriptions SET plan")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE subscription_payments SET status")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	sub, payment, err := repo.DecidePayment(context.Background(), "pay-1", func(sub *models.Subscription, payment *models.SubscriptionPayment) (bool, error) {
		sub.ApplyPayment(payment.Plan, payment.Amount, today)
		payment.Status = models.PaymentApproved
		return true, nil
	})
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionActive, sub.State)
	assert.Equal(t, today.AddDate(0, 0, 375), sub.ExpirationDate)
	assert.Equal(t, models.PaymentApproved, payment.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDecidePaymentRollsBackWhenDeciderRefuses(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewSubscriptionRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM subscription_payments WHERE id = $1 FOR UPDATE")).
		WithArgs("pay-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "subscription_id", "status"}).AddRow("pay-1", "sub-1", "APPROVED"))
	mock.ExpectQuery(regexp.QuoteMeta("FROM subscriptions WHERE id = $1 FOR UPDATE")).
		WithArgs("sub-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "state"}).AddRow("sub-1", "ACTIVE"))
	mock.ExpectRollback()

	refused := errors.New("already decided")
	_, _, err := repo.DecidePayment(context.Background(), "pay-1", func(*models.Subscription, *models.SubscriptionPayment) (bool, error) {
		return false, refused
	})
	assert.ErrorIs(t, err, refused)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDecidePaymentLeavesUnchangedSubscriptionAlone(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewSubscriptionRepository(db)

	updated := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM subscription_payments WHERE id = $1 FOR UPDATE")).
		WithArgs("pay-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "subscription_id", "status"}).AddRow("pay-1", "sub-1", "PENDING"))
	mock.ExpectQuery(regexp.QuoteMeta("FROM subscriptions WHERE id = $1 FOR UPDATE")).
		WithArgs("sub-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "state", "updated_at"}).AddRow("sub-1", "ACTIVE", updated))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE subscription_payments SET status")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	sub, payment, err := repo.DecidePayment(context.Background(), "pay-1", func(_ *models.Subscription, payment *models.SubscriptionPayment) (bool, error) {
		payment.Status = models.PaymentRejected
		return false, nil
	})
	require.NoError(t, err)
	assert.Equal(t, updated, sub.UpdatedAt)
	assert.Equal(t, models.PaymentRejected, payment.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindCurrentSubscriptionPrefersActiveStates(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewSubscriptionRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM subscriptions WHERE state IN ($1, $2) ORDER BY expiration_date DESC")).
		WithArgs("ACTIVE", "TRIAL").
		WillReturnRows(sqlmock.NewRows([]string{"id", "state"}).AddRow("sub-1", "TRIAL"))

	sub, err := repo.FindCurrent(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionTrial, sub.State)
	assert.NoError(t, mock.ExpectationsWereMet())
}
