package deals

import (
	"context"
	"fmt"
	"testing"

	"marketpay/database"
	"marketpay/gateway"
	"marketpay/ledger"
	"marketpay/models"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type fakeStates struct {
	byPayment map[string]*gateway.PaymentState
	err       error
	calls     int
}

func (f *fakeStates) GetPaymentState(ctx context.Context, paymentID string) (*gateway.PaymentState, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if s, ok := f.byPayment[paymentID]; ok {
		return s, nil
	}
	return &gateway.PaymentState{PaymentID: gateway.FlexibleID(paymentID), Status: gateway.StatusConfirmed}, nil
}

func setup(t *testing.T) (*ledger.Ledger, *gorm.DB, *models.User) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	user := models.User{UserCode: "u1", IsActive: true}
	require.NoError(t, db.Create(&user).Error)
	return ledger.New(db, zerolog.Nop()), db, &user
}

func completedDeposit(t *testing.T, l *ledger.Ledger, user *models.User, paymentID, dealID string) {
	t.Helper()
	ctx := context.Background()
	orderID := "deposit_1_" + paymentID
	_, err := l.CreateDepositPending(ctx, user, decimal.NewFromInt(100), paymentID, orderID, "")
	require.NoError(t, err)
	_, err = l.CreditDeposit(ctx, paymentID, orderID, user.ID, decimal.NewFromInt(100), dealID)
	require.NoError(t, err)
}

func TestExplicitTierWins(t *testing.T) {
	l, _, user := setup(t)
	states := &fakeStates{}
	r := NewResolver(l, states, zerolog.Nop())

	dealID, err := r.Resolve(context.Background(), user.ID, "ACC-EXPLICIT")
	require.NoError(t, err)
	require.Equal(t, "ACC-EXPLICIT", dealID)
	require.Zero(t, states.calls, "explicit id must not hit the bank")
}

func TestStoredTier(t *testing.T) {
	l, _, user := setup(t)
	completedDeposit(t, l, user, "P1", "ACC-STORED")

	states := &fakeStates{}
	r := NewResolver(l, states, zerolog.Nop())

	dealID, err := r.Resolve(context.Background(), user.ID, "")
	require.NoError(t, err)
	require.Equal(t, "ACC-STORED", dealID)
	require.Zero(t, states.calls)
}

func TestLiveStateTierRecoversAndPersists(t *testing.T) {
	l, _, user := setup(t)
	completedDeposit(t, l, user, "P1", "")

	states := &fakeStates{byPayment: map[string]*gateway.PaymentState{
		"P1": {PaymentID: "P1", Status: gateway.StatusConfirmed, DealID: "ACC-LIVE"},
	}}
	r := NewResolver(l, states, zerolog.Nop())

	dealID, err := r.Resolve(context.Background(), user.ID, "")
	require.NoError(t, err)
	require.Equal(t, "ACC-LIVE", dealID)
	require.Equal(t, 1, states.calls)

	// recovered id is persisted: next resolution uses the stored tier
	states.calls = 0
	dealID, err = r.Resolve(context.Background(), user.ID, "")
	require.NoError(t, err)
	require.Equal(t, "ACC-LIVE", dealID)
	require.Zero(t, states.calls)
}

func TestSweepTier(t *testing.T) {
	l, _, user := setup(t)
	completedDeposit(t, l, user, "P1", "")
	completedDeposit(t, l, user, "P2", "")

	// the newest deposit has no deal even live; an older one does
	states := &fakeStates{byPayment: map[string]*gateway.PaymentState{
		"P2": {PaymentID: "P2", Status: gateway.StatusConfirmed},
		"P1": {PaymentID: "P1", Status: gateway.StatusConfirmed, DealID: "ACC-OLD"},
	}}
	r := NewResolver(l, states, zerolog.Nop())

	dealID, err := r.Resolve(context.Background(), user.ID, "")
	require.NoError(t, err)
	require.Equal(t, "ACC-OLD", dealID)
}

func TestNoDepositsDiagnostic(t *testing.T) {
	l, _, user := setup(t)
	r := NewResolver(l, &fakeStates{}, zerolog.Nop())

	_, err := r.Resolve(context.Background(), user.ID, "")
	require.ErrorIs(t, err, ErrNoDeposits)
}

func TestNoDealIDDiagnostic(t *testing.T) {
	l, _, user := setup(t)
	completedDeposit(t, l, user, "P1", "")

	// the bank confirms the payment but reports no accumulation
	r := NewResolver(l, &fakeStates{}, zerolog.Nop())

	_, err := r.Resolve(context.Background(), user.ID, "")
	require.ErrorIs(t, err, ErrNoDealID)
}

func TestTransientLookupFailureIsTierError(t *testing.T) {
	l, _, user := setup(t)
	completedDeposit(t, l, user, "P1", "")

	states := &fakeStates{err: &gateway.TransportError{Method: "GetState", Err: context.DeadlineExceeded}}
	r := NewResolver(l, states, zerolog.Nop())

	_, err := r.Resolve(context.Background(), user.ID, "")
	var tierErr *TierError
	require.ErrorAs(t, err, &tierErr)
	require.Equal(t, "live_state", tierErr.Tier)
}
