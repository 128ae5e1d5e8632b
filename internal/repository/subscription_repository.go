package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/siga-api/internal/models"
)

const subscriptionColumns = `id, school_name, plan, state, start_date, expiration_date, amount_paid, notes, created_at, updated_at`

const paymentColumns = `id, subscription_id, plan, amount, payment_date, reference, proof_path, status, notes,
        submitted_by, submitted_at, decided_by, decided_at, receipt_path`

// PaymentDecider mutates a locked subscription and payment pair. It reports
// whether the subscription was changed; an unchanged subscription is not
// written back.
type PaymentDecider func(sub *models.Subscription, payment *models.SubscriptionPayment) (subscriptionChanged bool, err error)

// SubscriptionRepository persists subscriptions and their payments.
type SubscriptionRepository struct {
	db *sqlx.DB
}

// NewSubscriptionRepository constructs the repository.
func NewSubscriptionRepository(db *sqlx.DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

// Create inserts a subscription.
func (r *SubscriptionRepository) Create(ctx context.Context, sub *models.Subscription) error {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	sub.CreatedAt = now
	sub.UpdatedAt = now
	const query = `INSERT INTO subscriptions (id, school_name, plan, state, start_date, expiration_date, amount_paid, notes, created_at, updated_at)
VALUES (:id, :school_name, :plan, :state, :start_date, :expiration_date, :amount_paid, :notes, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, sub); err != nil {
		return fmt.Errorf("create subscription: %w", err)
	}
	return nil
}

// FindByID returns a subscription.
func (r *SubscriptionRepository) FindByID(ctx context.Context, id string) (*models.Subscription, error) {
	return r.findOne(ctx, "id = $1", id)
}

// FindBySchoolName returns the subscription of a school.
func (r *SubscriptionRepository) FindBySchoolName(ctx context.Context, name string) (*models.Subscription, error) {
	return r.findOne(ctx, "LOWER(school_name) = LOWER($1)", name)
}

// FindCurrent returns the most recently expiring subscription in ACTIVE or TRIAL state.
func (r *SubscriptionRepository) FindCurrent(ctx context.Context) (*models.Subscription, error) {
	query := fmt.Sprintf(`SELECT %s FROM subscriptions WHERE state IN ($1, $2) ORDER BY expiration_date DESC, created_at LIMIT 1`, subscriptionColumns)
	var sub models.Subscription
	if err := r.db.GetContext(ctx, &sub, query, models.SubscriptionActive, models.SubscriptionTrial); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find current subscription: %w", err)
	}
	return &sub, nil
}

func (r *SubscriptionRepository) findOne(ctx context.Context, where string, arg interface{}) (*models.Subscription, error) {
	query := fmt.Sprintf("SELECT %s FROM subscriptions WHERE %s", subscriptionColumns, where)
	var sub models.Subscription
	if err := r.db.GetContext(ctx, &sub, query, arg); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find subscription: %w", err)
	}
	return &sub, nil
}

// List returns every subscription ordered by school.
func (r *SubscriptionRepository) List(ctx context.Context) ([]models.Subscription, error) {
	query := fmt.Sprintf("SELECT %s FROM subscriptions ORDER BY school_name", subscriptionColumns)
	var subs []models.Subscription
	if err := r.db.SelectContext(ctx, &subs, query); err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	return subs, nil
}

// UpdateState changes the lifecycle state only.
func (r *SubscriptionRepository) UpdateState(ctx context.Context, id string, state models.SubscriptionState) error {
	res, err := r.db.ExecContext(ctx, `UPDATE subscriptions SET state = $2, updated_at = $3 WHERE id = $1`, id, state, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update subscription state: %w", err)
	}
	return requireAffected(res)
}

// CreatePayment inserts a pending payment.
func (r *SubscriptionRepository) CreatePayment(ctx context.Context, payment *models.SubscriptionPayment) error {
	if payment.ID == "" {
		payment.ID = uuid.NewString()
	}
	if payment.SubmittedAt.IsZero() {
		payment.SubmittedAt = time.Now().UTC()
	}
	const query = `INSERT INTO subscription_payments (id, subscription_id, plan, amount, payment_date, reference, proof_path, status, notes, submitted_by, submitted_at)
VALUES (:id, :subscription_id, :plan, :amount, :payment_date, :reference, :proof_path, :status, :notes, :submitted_by, :submitted_at)`
	if _, err := r.db.NamedExecContext(ctx, query, payment); err != nil {
		return fmt.Errorf("create payment: %w", err)
	}
	return nil
}

// FindPayment returns a payment by id.
func (r *SubscriptionRepository) FindPayment(ctx context.Context, id string) (*models.SubscriptionPayment, error) {
	query := fmt.Sprintf("SELECT %s FROM subscription_payments WHERE id = $1", paymentColumns)
	var payment models.SubscriptionPayment
	if err := r.db.GetContext(ctx, &payment, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find payment: %w", err)
	}
	return &payment, nil
}

// ListPayments returns payments newest first.
func (r *SubscriptionRepository) ListPayments(ctx context.Context, filter models.PaymentFilter) ([]models.SubscriptionPayment, int, error) {
	base := "FROM subscription_payments WHERE 1=1"
	var args []interface{}
	if filter.SubscriptionID != "" {
		args = append(args, filter.SubscriptionID)
		base += fmt.Sprintf(" AND subscription_id = $%d", len(args))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		base += fmt.Sprintf(" AND status = $%d", len(args))
	}
	page, size := normalisePage(filter.Page, filter.PageSize)
	query := fmt.Sprintf("SELECT %s %s ORDER BY submitted_at DESC LIMIT %d OFFSET %d", paymentColumns, base, size, (page-1)*size)

	var payments []models.SubscriptionPayment
	if err := r.db.SelectContext(ctx, &payments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list payments: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) "+base, args...); err != nil {
		return nil, 0, fmt.Errorf("count payments: %w", err)
	}
	return payments, total, nil
}

// SetReceiptPath stores the location of the generated receipt.
func (r *SubscriptionRepository) SetReceiptPath(ctx context.Context, paymentID, path string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE subscription_payments SET receipt_path = $2 WHERE id = $1`, paymentID, path)
	if err != nil {
		return fmt.Errorf("set receipt path: %w", err)
	}
	return requireAffected(res)
}

// DecidePayment locks the payment and then its subscription FOR UPDATE, lets
// decide mutate both and persists the result atomically. Concurrent decisions
// on the same subscription are serialised by the subscription row lock.
func (r *SubscriptionRepository) DecidePayment(ctx context.Context, paymentID string, decide PaymentDecider) (*models.Subscription, *models.SubscriptionPayment, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin payment tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var payment models.SubscriptionPayment
	if err = tx.GetContext(ctx, &payment, fmt.Sprintf("SELECT %s FROM subscription_payments WHERE id = $1 FOR UPDATE", paymentColumns), paymentID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("lock payment: %w", err)
	}

	var sub models.Subscription
	if err = tx.GetContext(ctx, &sub, fmt.Sprintf("SELECT %s FROM subscriptions WHERE id = $1 FOR UPDATE", subscriptionColumns), payment.SubscriptionID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("lock subscription: %w", err)
	}

	changed, err := decide(&sub, &payment)
	if err != nil {
		return nil, nil, err
	}

	if changed {
		sub.UpdatedAt = time.Now().UTC()
		const updateSub = `UPDATE subscriptions SET plan = :plan, state = :state, start_date = :start_date, expiration_date = :expiration_date,
amount_paid = :amount_paid, updated_at = :updated_at WHERE id = :id`
		if _, err = tx.NamedExecContext(ctx, updateSub, &sub); err != nil {
			return nil, nil, fmt.Errorf("update subscription: %w", err)
		}
	}

	const updatePayment = `UPDATE subscription_payments SET status = :status, decided_by = :decided_by, decided_at = :decided_at, notes = :notes WHERE id = :id`
	if _, err = tx.NamedExecContext(ctx, updatePayment, &payment); err != nil {
		return nil, nil, fmt.Errorf("update payment: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit payment decision: %w", err)
	}
	return &sub, &payment, nil
}
