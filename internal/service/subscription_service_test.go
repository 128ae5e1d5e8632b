package service

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/siga-api/internal/models"
	"github.com/noah-isme/siga-api/internal/repository"
	appErrors "github.com/noah-isme/siga-api/pkg/errors"
	"github.com/noah-isme/siga-api/pkg/jobs"
	"github.com/noah-isme/siga-api/pkg/storage"
)

type memorySubscriptionRepo struct {
	subs      map[string]*models.Subscription
	payments  map[string]*models.SubscriptionPayment
	receipts  map[string]string
	createErr error
}

func newMemorySubscriptionRepo() *memorySubscriptionRepo {
	return &memorySubscriptionRepo{
		subs:     map[string]*models.Subscription{},
		payments: map[string]*models.SubscriptionPayment{},
		receipts: map[string]string{},
	}
}

func (m *memorySubscriptionRepo) Create(ctx context.Context, sub *models.Subscription) error {
	if m.createErr != nil {
		return m.createErr
	}
	if sub.ID == "" {
		sub.ID = "sub-new"
	}
	copied := *sub
	m.subs[sub.ID] = &copied
	return nil
}

func (m *memorySubscriptionRepo) FindByID(ctx context.Context, id string) (*models.Subscription, error) {
	sub, ok := m.subs[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *sub
	return &copied, nil
}

func (m *memorySubscriptionRepo) FindBySchoolName(ctx context.Context, name string) (*models.Subscription, error) {
	for _, sub := range m.subs {
		if strings.EqualFold(sub.SchoolName, name) {
			copied := *sub
			return &copied, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memorySubscriptionRepo) FindCurrent(ctx context.Context) (*models.Subscription, error) {
	for _, sub := range m.subs {
		if sub.State == models.SubscriptionActive || sub.State == models.SubscriptionTrial {
			copied := *sub
			return &copied, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memorySubscriptionRepo) List(ctx context.Context) ([]models.Subscription, error) {
	var out []models.Subscription
	for _, sub := range m.subs {
		out = append(out, *sub)
	}
	return out, nil
}

func (m *memorySubscriptionRepo) UpdateState(ctx context.Context, id string, state models.SubscriptionState) error {
	sub, ok := m.subs[id]
	if !ok {
		return sql.ErrNoRows
	}
	sub.State = state
	return nil
}

func (m *memorySubscriptionRepo) CreatePayment(ctx context.Context, payment *models.SubscriptionPayment) error {
	copied := *payment
	m.payments[payment.ID] = &copied
	return nil
}

func (m *memorySubscriptionRepo) FindPayment(ctx context.Context, id string) (*models.SubscriptionPayment, error) {
	p, ok := m.payments[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *p
	return &copied, nil
}

func (m *memorySubscriptionRepo) ListPayments(ctx context.Context, filter models.PaymentFilter) ([]models.SubscriptionPayment, int, error) {
	var out []models.SubscriptionPayment
	for _, p := range m.payments {
		if filter.Status == "" || p.Status == filter.Status {
			out = append(out, *p)
		}
	}
	return out, len(out), nil
}

func (m *memorySubscriptionRepo) SetReceiptPath(ctx context.Context, paymentID, path string) error {
	p, ok := m.payments[paymentID]
	if !ok {
		return sql.ErrNoRows
	}
	p.ReceiptPath = &path
	m.receipts[paymentID] = path
	return nil
}

// DecidePayment mirrors the transactional contract: changes are only kept when
// the decider succeeds, and the subscription only when the decider changed it.
func (m *memorySubscriptionRepo) DecidePayment(ctx context.Context, paymentID string, decide repository.PaymentDecider) (*models.Subscription, *models.SubscriptionPayment, error) {
	stored, ok := m.payments[paymentID]
	if !ok {
		return nil, nil, sql.ErrNoRows
	}
	payment := *stored
	sub := *m.subs[payment.SubscriptionID]
	changed, err := decide(&sub, &payment)
	if err != nil {
		return nil, nil, err
	}
	if changed {
		m.subs[sub.ID] = &sub
	}
	m.payments[payment.ID] = &payment
	return &sub, &payment, nil
}

type recordingQueue struct {
	jobs []jobs.Job
}

func (q *recordingQueue) Enqueue(job jobs.Job) error {
	q.jobs = append(q.jobs, job)
	return nil
}

type recordingPaymentMetrics struct {
	statuses []models.PaymentStatus
}

func (r *recordingPaymentMetrics) RecordPaymentDecision(status models.PaymentStatus) {
	r.statuses = append(r.statuses, status)
}

type recordingUserNotifier struct {
	userIDs  []string
	titles   []string
	messages []string
}

func (r *recordingUserNotifier) NotifyUsers(ctx context.Context, userIDs []string, title, message string, kind models.NotificationKind) {
	r.userIDs = append(r.userIDs, userIDs...)
	r.titles = append(r.titles, title)
	r.messages = append(r.messages, message)
}

type subscriptionFixture struct {
	svc      *SubscriptionService
	repo     *memorySubscriptionRepo
	queue    *recordingQueue
	metrics  *recordingPaymentMetrics
	notifier *recordingUserNotifier
	proofs   *storage.LocalStorage
	today    time.Time
}

func newSubscriptionFixture(t *testing.T) *subscriptionFixture {
	t.Helper()
	proofs, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	f := &subscriptionFixture{
		repo:     newMemorySubscriptionRepo(),
		queue:    &recordingQueue{},
		metrics:  &recordingPaymentMetrics{},
		notifier: &recordingUserNotifier{},
		proofs:   proofs,
		today:    time.Date(2025, 6, 10, 14, 0, 0, 0, time.UTC),
	}
	f.svc = NewSubscriptionService(f.repo, SubscriptionDeps{
		Proofs:   proofs,
		Receipts: proofs,
		Signer:   storage.NewSignedURLSigner("secret", time.Hour),
		Queue:    f.queue,
		Metrics:  f.metrics,
		Notifier: f.notifier,
	}, validator.New(), zap.NewNop(), SubscriptionServiceConfig{MaxProofBytes: 1024, AllowedMIMEs: []string{"application/pdf"}})
	f.svc.now = func() time.Time { return f.today }
	return f
}

func (f *subscriptionFixture) seed(sub models.Subscription, payments ...models.SubscriptionPayment) {
	f.repo.subs[sub.ID] = &sub
	for i := range payments {
		p := payments[i]
		f.repo.payments[p.ID] = &p
	}
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestSubscriptionServiceCreateTrial(t *testing.T) {
	f := newSubscriptionFixture(t)

	status, err := f.svc.Create(context.Background(), CreateSubscriptionRequest{SchoolName: "Escola Central", TrialDays: 15})
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionTrial, status.State)
	assert.Equal(t, models.PlanMonthly, status.Plan)
	assert.Equal(t, day(2025, 6, 25), status.ExpirationDate)
	assert.Equal(t, 15, status.DaysRemaining)
	assert.True(t, status.FunctionallyActive)

	_, err = f.svc.Create(context.Background(), CreateSubscriptionRequest{SchoolName: "escola central"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrDuplicate.Code, appErrors.FromError(err).Code)
}

func TestSubscriptionServiceCreateRacingDuplicate(t *testing.T) {
	f := newSubscriptionFixture(t)
	f.repo.createErr = fmt.Errorf("create subscription: %w", &pq.Error{Code: "23505"})

	_, err := f.svc.Create(context.Background(), CreateSubscriptionRequest{SchoolName: "Escola Central"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrDuplicate.Code, appErrors.FromError(err).Code)
}

func TestSubscriptionServiceApproveExtendsActive(t *testing.T) {
	f := newSubscriptionFixture(t)
	submitter := "payer-1"
	f.seed(
		models.Subscription{ID: "s1", SchoolName: "Escola", State: models.SubscriptionActive, Plan: models.PlanMonthly, StartDate: day(2025, 6, 1), ExpirationDate: day(2025, 6, 20)},
		models.SubscriptionPayment{ID: "p1", SubscriptionID: "s1", Plan: models.PlanAnnual, Amount: 120000, Status: models.PaymentPending, SubmittedBy: &submitter},
	)

	decision, err := f.svc.ApprovePayment(context.Background(), "p1", "admin-1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentApproved, decision.Payment.Status)
	require.NotNil(t, decision.Payment.DecidedBy)
	assert.Equal(t, "admin-1", *decision.Payment.DecidedBy)
	assert.Equal(t, day(2025, 6, 20).AddDate(0, 0, 365), decision.Subscription.ExpirationDate)
	assert.Equal(t, day(2025, 6, 1), decision.Subscription.StartDate)
	assert.Equal(t, models.PlanAnnual, decision.Subscription.Plan)
	assert.Equal(t, 120000.0, decision.Subscription.AmountPaid)

	require.Len(t, f.queue.jobs, 1)
	assert.Equal(t, jobs.TypePaymentReceipt, f.queue.jobs[0].Type)
	assert.Equal(t, ReceiptJobPayload{PaymentID: "p1"}, f.queue.jobs[0].Payload)
	assert.Equal(t, []models.PaymentStatus{models.PaymentApproved}, f.metrics.statuses)
	assert.Equal(t, []string{"payer-1"}, f.notifier.userIDs)
}

func TestSubscriptionServiceApproveRestartsExpired(t *testing.T) {
	f := newSubscriptionFixture(t)
	f.seed(
		models.Subscription{ID: "s1", State: models.SubscriptionActive, StartDate: day(2025, 1, 1), ExpirationDate: day(2025, 6, 1)},
		models.SubscriptionPayment{ID: "p1", SubscriptionID: "s1", Plan: models.PlanQuarterly, Amount: 5000, Status: models.PaymentPending},
	)

	decision, err := f.svc.ApprovePayment(context.Background(), "p1", "admin-1")
	require.NoError(t, err)
	assert.Equal(t, day(2025, 6, 10), decision.Subscription.StartDate)
	assert.Equal(t, day(2025, 7, 10), decision.Subscription.ExpirationDate)
	assert.Equal(t, models.SubscriptionActive, decision.Subscription.State)
}

func TestSubscriptionServiceApproveTwiceConflicts(t *testing.T) {
	f := newSubscriptionFixture(t)
	f.seed(
		models.Subscription{ID: "s1", State: models.SubscriptionTrial, StartDate: day(2025, 6, 1), ExpirationDate: day(2025, 7, 1)},
		models.SubscriptionPayment{ID: "p1", SubscriptionID: "s1", Plan: models.PlanMonthly, Amount: 5000, Status: models.PaymentPending},
	)

	_, err := f.svc.ApprovePayment(context.Background(), "p1", "admin-1")
	require.NoError(t, err)
	expiration := f.repo.subs["s1"].ExpirationDate

	_, err = f.svc.ApprovePayment(context.Background(), "p1", "admin-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrStateConflict.Code, appErrors.FromError(err).Code)
	assert.Equal(t, expiration, f.repo.subs["s1"].ExpirationDate)
	assert.Len(t, f.queue.jobs, 1)
}

func TestSubscriptionServiceConcurrentPendingPaymentsEachExtend(t *testing.T) {
	f := newSubscriptionFixture(t)
	f.seed(
		models.Subscription{ID: "s1", State: models.SubscriptionActive, StartDate: day(2025, 6, 1), ExpirationDate: day(2025, 7, 1)},
		models.SubscriptionPayment{ID: "p1", SubscriptionID: "s1", Plan: models.PlanMonthly, Amount: 5000, Status: models.PaymentPending},
		models.SubscriptionPayment{ID: "p2", SubscriptionID: "s1", Plan: models.PlanMonthly, Amount: 5000, Status: models.PaymentPending},
	)

	_, err := f.svc.ApprovePayment(context.Background(), "p1", "admin-1")
	require.NoError(t, err)
	decision, err := f.svc.ApprovePayment(context.Background(), "p2", "admin-1")
	require.NoError(t, err)
	assert.Equal(t, day(2025, 7, 1).AddDate(0, 0, 60), decision.Subscription.ExpirationDate)
}

func TestSubscriptionServiceRejectLeavesSubscription(t *testing.T) {
	f := newSubscriptionFixture(t)
	f.seed(
		models.Subscription{ID: "s1", State: models.SubscriptionActive, StartDate: day(2025, 6, 1), ExpirationDate: day(2025, 7, 1)},
		models.SubscriptionPayment{ID: "p1", SubscriptionID: "s1", Plan: models.PlanMonthly, Amount: 5000, Status: models.PaymentPending},
	)

	before := f.repo.subs["s1"]

	decision, err := f.svc.RejectPayment(context.Background(), "p1", "admin-1", "illegible proof")
	require.NoError(t, err)
	assert.Same(t, before, f.repo.subs["s1"], "rejection must not rewrite the subscription")
	assert.Equal(t, models.PaymentRejected, decision.Payment.Status)
	assert.Equal(t, "illegible proof", decision.Payment.Notes)
	assert.Equal(t, day(2025, 7, 1), f.repo.subs["s1"].ExpirationDate)
	assert.Empty(t, f.queue.jobs)
	assert.Equal(t, []models.PaymentStatus{models.PaymentRejected}, f.metrics.statuses)
}

func TestSubscriptionServiceApproveUnknownPayment(t *testing.T) {
	f := newSubscriptionFixture(t)

	_, err := f.svc.ApprovePayment(context.Background(), "missing", "admin-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestSubscriptionServiceSubmitPaymentStoresProof(t *testing.T) {
	f := newSubscriptionFixture(t)
	f.seed(models.Subscription{ID: "s1", State: models.SubscriptionTrial, ExpirationDate: day(2025, 7, 1)})

	proof := &ProofUpload{Filename: "talao.PDF", ContentType: "application/pdf", Size: 4, Content: strings.NewReader("%PDF")}
	payment, err := f.svc.SubmitPayment(context.Background(), "s1", "payer-1", SubmitPaymentRequest{
		Plan: models.PlanAnnual, Amount: 100, PaymentDate: "2025-06-09", Reference: " REF-1 ",
	}, proof)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPending, payment.Status)
	assert.Equal(t, "REF-1", payment.Reference)
	assert.Equal(t, "proofs/"+payment.ID+".pdf", payment.ProofPath)
	assert.True(t, f.proofs.Exists(payment.ProofPath))

	file, err := f.svc.OpenProof(context.Background(), payment.ID)
	require.NoError(t, err)
	defer file.Close()
	body, err := io.ReadAll(file)
	require.NoError(t, err)
	assert.Equal(t, "%PDF", string(body))
}

func TestSubscriptionServiceSubmitPaymentRejectsBadInput(t *testing.T) {
	f := newSubscriptionFixture(t)
	f.seed(models.Subscription{ID: "s1", State: models.SubscriptionTrial})

	_, err := f.svc.SubmitPayment(context.Background(), "s1", "", SubmitPaymentRequest{Plan: models.PlanAnnual, Amount: 0, PaymentDate: "2025-06-09"}, nil)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	_, err = f.svc.SubmitPayment(context.Background(), "s1", "", SubmitPaymentRequest{Plan: "WEEKLY", Amount: 10, PaymentDate: "2025-06-09"}, nil)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	proof := &ProofUpload{Filename: "x.exe", ContentType: "application/octet-stream", Size: 3, Content: strings.NewReader("bin")}
	_, err = f.svc.SubmitPayment(context.Background(), "s1", "", SubmitPaymentRequest{Plan: models.PlanAnnual, Amount: 10, PaymentDate: "2025-06-09"}, proof)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	assert.Empty(t, f.repo.payments)
}

func TestSubscriptionServiceIsActive(t *testing.T) {
	f := newSubscriptionFixture(t)

	active, err := f.svc.IsActive(context.Background())
	require.NoError(t, err)
	assert.False(t, active)

	f.seed(models.Subscription{ID: "s1", State: models.SubscriptionActive, ExpirationDate: day(2025, 6, 9)})
	active, err = f.svc.IsActive(context.Background())
	require.NoError(t, err)
	assert.False(t, active)

	f.repo.subs["s1"].ExpirationDate = day(2025, 6, 10)
	active, err = f.svc.IsActive(context.Background())
	require.NoError(t, err)
	assert.True(t, active)
}

func TestSubscriptionServiceCancel(t *testing.T) {
	f := newSubscriptionFixture(t)
	f.seed(models.Subscription{ID: "s1", State: models.SubscriptionActive})

	require.NoError(t, f.svc.Cancel(context.Background(), "s1"))
	assert.Equal(t, models.SubscriptionCancelled, f.repo.subs["s1"].State)

	err := f.svc.Cancel(context.Background(), "s1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrStateConflict.Code, appErrors.FromError(err).Code)
}

func TestSubscriptionServiceReceiptLinkRoundTrip(t *testing.T) {
	f := newSubscriptionFixture(t)
	path := "recibo_p1.pdf"
	_, err := f.proofs.Save(path, []byte("%PDF-receipt"))
	require.NoError(t, err)
	f.seed(
		models.Subscription{ID: "s1", State: models.SubscriptionActive},
		models.SubscriptionPayment{ID: "p1", SubscriptionID: "s1", Status: models.PaymentApproved, ReceiptPath: &path},
	)

	link, err := f.svc.ReceiptLink(context.Background(), "p1")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(link.URL, "/api/v1/subscriptions/receipts/"))

	file, name, err := f.svc.OpenReceipt(link.Token)
	require.NoError(t, err)
	defer file.Close()
	assert.Equal(t, "recibo_p1.pdf", name)

	_, _, err = f.svc.OpenReceipt("tampered.token.value.sig")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestSubscriptionServiceReceiptLinkRequiresApproval(t *testing.T) {
	f := newSubscriptionFixture(t)
	f.seed(
		models.Subscription{ID: "s1"},
		models.SubscriptionPayment{ID: "p1", SubscriptionID: "s1", Status: models.PaymentPending},
	)

	_, err := f.svc.ReceiptLink(context.Background(), "p1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrStateConflict.Code, appErrors.FromError(err).Code)
}
