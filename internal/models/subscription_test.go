package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestPlanDaysFallsBackToThirty(t *testing.T) {
	assert.Equal(t, 30, PlanDays(PlanMonthly))
	assert.Equal(t, 365, PlanDays(PlanAnnual))
	assert.Equal(t, 30, PlanDays(PlanQuarterly))
	assert.Equal(t, 30, PlanDays(SubscriptionPlan("WEEKLY")))
}

func TestApplyPaymentExtendsActiveSubscription(t *testing.T) {
	today := day(2024, time.March, 10)
	sub := &Subscription{State: SubscriptionTrial, StartDate: day(2024, time.March, 1), ExpirationDate: today.AddDate(0, 0, 5)}

	sub.ApplyPayment(PlanMonthly, 150, today.Add(15*time.Hour))

	assert.Equal(t, today.AddDate(0, 0, 35), sub.ExpirationDate)
	assert.Equal(t, day(2024, time.March, 1), sub.StartDate)
	assert.Equal(t, SubscriptionActive, sub.State)
	assert.Equal(t, PlanMonthly, sub.Plan)
	assert.Equal(t, 150.0, sub.AmountPaid)
}

func TestApplyPaymentRestartsExpiredSubscription(t *testing.T) {
	today := day(2024, time.March, 10)
	sub := &Subscription{State: SubscriptionActive, StartDate: day(2023, time.March, 1), ExpirationDate: today.AddDate(0, 0, -10)}
	assert.False(t, sub.FunctionallyActive(today))

	sub.ApplyPayment(PlanAnnual, 1200, today)

	assert.Equal(t, today, sub.StartDate)
	assert.Equal(t, today.AddDate(0, 0, 365), sub.ExpirationDate)
	assert.True(t, sub.FunctionallyActive(today))
}

func TestFunctionallyActive(t *testing.T) {
	today := day(2024, time.June, 1)
	cases := []struct {
		name  string
		state SubscriptionState
		exp   time.Time
		want  bool
	}{
		{"active today", SubscriptionActive, today, true},
		{"trial future", SubscriptionTrial, today.AddDate(0, 0, 3), true},
		{"active past", SubscriptionActive, today.AddDate(0, 0, -1), false},
		{"cancelled future", SubscriptionCancelled, today.AddDate(0, 1, 0), false},
		{"expired state", SubscriptionExpired, today.AddDate(0, 1, 0), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sub := &Subscription{State: tc.state, ExpirationDate: tc.exp}
			assert.Equal(t, tc.want, sub.FunctionallyActive(today))
		})
	}

	var missing *Subscription
	assert.False(t, missing.FunctionallyActive(today))
}

func TestDerivedProperties(t *testing.T) {
	sub := &Subscription{StartDate: day(2024, time.January, 1), ExpirationDate: day(2024, time.January, 11)}

	assert.Equal(t, 50, sub.PercentUsed(day(2024, time.January, 6)))
	assert.Equal(t, 0, sub.PercentUsed(day(2023, time.December, 20)))
	assert.Equal(t, 100, sub.PercentUsed(day(2024, time.February, 1)))
	assert.Equal(t, 5, sub.DaysRemaining(day(2024, time.January, 6)))
	assert.Equal(t, 0, sub.DaysRemaining(day(2024, time.February, 1)))

	flat := &Subscription{StartDate: day(2024, time.January, 1), ExpirationDate: day(2024, time.January, 1)}
	assert.Equal(t, 0, flat.PercentUsed(day(2024, time.January, 1)))
}

func TestApplicationAgeAndIDCard(t *testing.T) {
	expiry := day(2024, time.May, 31)
	app := Application{BirthDate: day(2006, time.June, 15), IDCardExpiry: &expiry}

	assert.Equal(t, 17, app.Age(day(2024, time.June, 14)))
	assert.Equal(t, 18, app.Age(day(2024, time.June, 15)))
	assert.False(t, app.IDCardExpired(day(2024, time.May, 31)))
	assert.True(t, app.IDCardExpired(day(2024, time.June, 1)))
	assert.False(t, Application{}.IDCardExpired(day(2024, time.June, 1)))
}
