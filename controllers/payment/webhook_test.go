package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"marketpay/config"
	"marketpay/database"
	"marketpay/gateway"
	"marketpay/ledger"
	"marketpay/models"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const (
	testPayPassword    = "pay-secret"
	testPayoutPassword = "payout-secret"
)

type webhookEnv struct {
	app  *fiber.App
	db   *gorm.DB
	l    *ledger.Ledger
	user *models.User
}

func newWebhookEnv(t *testing.T, bankURL string) *webhookEnv {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	user := models.User{UserCode: "u1", IsActive: true}
	require.NoError(t, db.Create(&user).Error)

	cfg := config.Gateway{
		TerminalKey:            "TK-PAY",
		TerminalPassword:       testPayPassword,
		PayoutTerminalKey:      "TK-PAYOUT",
		PayoutTerminalPassword: testPayoutPassword,
		BaseURL:                bankURL,
		Timeout:                5 * time.Second,
	}
	l := ledger.New(db, zerolog.Nop())
	client := gateway.NewClient(cfg, zerolog.Nop())
	h := NewHandler(db, l, nil, nil, client, nil, cfg, zerolog.Nop())

	app := fiber.New()
	app.Post("/payments/notify", h.Webhook)
	return &webhookEnv{app: app, db: db, l: l, user: &user}
}

// signedBody marshals a notification with a Token computed the way the
// Bank computes it.
func signedBody(t *testing.T, params map[string]any, password string) []byte {
	t.Helper()
	signed := make(map[string]any, len(params)+1)
	for k, v := range params {
		signed[k] = v
	}
	signed["Token"] = gateway.Sign(params, password)
	body, err := json.Marshal(signed)
	require.NoError(t, err)
	return body
}

func (e *webhookEnv) deliver(t *testing.T, body []byte) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/payments/notify", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func (e *webhookEnv) balance(t *testing.T) decimal.Decimal {
	t.Helper()
	var u models.User
	require.NoError(t, e.db.First(&u, e.user.ID).Error)
	return u.Balance
}

func (e *webhookEnv) pendingDeposit(t *testing.T, paymentID string, amount int64) string {
	t.Helper()
	orderID := fmt.Sprintf("deposit_%d_1", e.user.ID)
	_, err := e.l.CreateDepositPending(context.Background(), e.user, decimal.NewFromInt(amount), paymentID, orderID, "")
	require.NoError(t, err)
	return orderID
}

func depositNotification(orderID, paymentID, status string, amountMinor int64) map[string]any {
	return map[string]any{
		"TerminalKey":      "TK-PAY",
		"OrderId":          orderID,
		"PaymentId":        paymentID,
		"Status":           status,
		"Amount":           amountMinor,
		"Success":          true,
		"SpAccumulationId": "ACC-1",
	}
}

func TestDepositCreditedOnceAcrossRedeliveries(t *testing.T) {
	e := newWebhookEnv(t, "")
	orderID := e.pendingDeposit(t, "P1", 1000)

	body := signedBody(t, depositNotification(orderID, "P1", gateway.StatusConfirmed, 100000), testPayPassword)
	for i := 0; i < 3; i++ {
		resp := e.deliver(t, body)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	require.True(t, e.balance(t).Equal(decimal.NewFromInt(1000)), "three deliveries, one credit")

	var trx models.Transaction
	require.NoError(t, e.db.Where("payment_id = ?", "P1").First(&trx).Error)
	require.Equal(t, models.TrxStatusCompleted, trx.Status)
	require.Equal(t, "ACC-1", trx.DealID)

	var outcomes []string
	require.NoError(t, e.db.Model(&models.WebhookEvent{}).Order("id").Pluck("outcome", &outcomes).Error)
	require.Equal(t, []string{"deposit_credited", "duplicate", "duplicate"}, outcomes)
}

func TestBadSignatureRejectedWithoutProcessing(t *testing.T) {
	e := newWebhookEnv(t, "")
	orderID := e.pendingDeposit(t, "P1", 1000)

	body := signedBody(t, depositNotification(orderID, "P1", gateway.StatusConfirmed, 100000), "wrong-password")
	resp := e.deliver(t, body)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	require.True(t, e.balance(t).IsZero())
	var trx models.Transaction
	require.NoError(t, e.db.Where("payment_id = ?", "P1").First(&trx).Error)
	require.Equal(t, models.TrxStatusPending, trx.Status)
}

func TestPayoutTerminalSignatureAccepted(t *testing.T) {
	e := newWebhookEnv(t, "")
	trx, err := e.l.ReserveWithdrawal(context.Background(), e.user.ID, decimal.NewFromInt(100), fmt.Sprintf("withdraw_%d_1", e.user.ID))
	require.ErrorIs(t, err, ledger.ErrInsufficientFunds)
	require.Nil(t, trx)

	// a signed notification for an unknown payout still passes the
	// signature gate and acks as an orphan
	params := map[string]any{
		"TerminalKey": "TK-PAYOUT",
		"OrderId":     fmt.Sprintf("withdraw_%d_9", e.user.ID),
		"PaymentId":   "PO-404",
		"Status":      gateway.StatusCompleted,
		"Success":     true,
	}
	resp := e.deliver(t, signedBody(t, params, testPayoutPassword))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var ev models.WebhookEvent
	require.NoError(t, e.db.Where("payment_id = ?", "PO-404").First(&ev).Error)
	require.Equal(t, "orphan", ev.Outcome)
}

func TestMissingFieldsRejected(t *testing.T) {
	e := newWebhookEnv(t, "")
	params := map[string]any{
		"TerminalKey": "TK-PAY",
		"OrderId":     fmt.Sprintf("deposit_%d_1", e.user.ID),
		"Status":      gateway.StatusConfirmed,
		"Success":     true,
	}
	resp := e.deliver(t, signedBody(t, params, testPayPassword))
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMalformedBodyRejected(t *testing.T) {
	e := newWebhookEnv(t, "")
	resp := e.deliver(t, []byte("{not json"))
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestIntermediateStatusAckedWithoutEffect(t *testing.T) {
	e := newWebhookEnv(t, "")
	orderID := e.pendingDeposit(t, "P1", 1000)

	for _, status := range []string{gateway.StatusAuthorized, "SOMETHING_NEW"} {
		body := signedBody(t, depositNotification(orderID, "P1", status, 100000), testPayPassword)
		resp := e.deliver(t, body)
		require.Equal(t, http.StatusOK, resp.StatusCode, status)
	}

	require.True(t, e.balance(t).IsZero())
	var trx models.Transaction
	require.NoError(t, e.db.Where("payment_id = ?", "P1").First(&trx).Error)
	require.Equal(t, models.TrxStatusPending, trx.Status)
}

func TestDepositRejectionThenConfirmConflicts(t *testing.T) {
	e := newWebhookEnv(t, "")
	orderID := e.pendingDeposit(t, "P1", 1000)

	resp := e.deliver(t, signedBody(t, depositNotification(orderID, "P1", gateway.StatusRejected, 100000), testPayPassword))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var trx models.Transaction
	require.NoError(t, e.db.Where("payment_id = ?", "P1").First(&trx).Error)
	require.Equal(t, models.TrxStatusFailed, trx.Status)

	// a later CONFIRMED contradicts the recorded failure: acked so the
	// Bank stops retrying, flagged for manual reconciliation, no credit
	resp = e.deliver(t, signedBody(t, depositNotification(orderID, "P1", gateway.StatusConfirmed, 100000), testPayPassword))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, e.balance(t).IsZero())

	var ev models.WebhookEvent
	require.NoError(t, e.db.Where("outcome = ?", "conflict").First(&ev).Error)
}

func TestWithdrawalRejectionCreditsBackOnce(t *testing.T) {
	e := newWebhookEnv(t, "")
	require.NoError(t, e.db.Model(e.user).Update("balance", decimal.NewFromInt(500)).Error)

	ctx := context.Background()
	orderID := fmt.Sprintf("withdraw_%d_1", e.user.ID)
	trx, err := e.l.ReserveWithdrawal(ctx, e.user.ID, decimal.NewFromInt(100), orderID)
	require.NoError(t, err)
	require.NoError(t, e.l.AttachPayout(ctx, trx.ID, "PO-1", "ACC-1"))
	require.True(t, e.balance(t).Equal(decimal.NewFromInt(400)))

	params := map[string]any{
		"TerminalKey": "TK-PAYOUT",
		"OrderId":     orderID,
		"PaymentId":   "PO-1",
		"Status":      gateway.StatusRejected,
		"Success":     true,
	}
	body := signedBody(t, params, testPayoutPassword)
	for i := 0; i < 2; i++ {
		resp := e.deliver(t, body)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	require.True(t, e.balance(t).Equal(decimal.NewFromInt(500)), "reversal applies exactly once")
	var got models.Transaction
	require.NoError(t, e.db.First(&got, trx.ID).Error)
	require.Equal(t, models.TrxStatusFailed, got.Status)
}

func TestWithdrawalCompletedWebhook(t *testing.T) {
	e := newWebhookEnv(t, "")
	require.NoError(t, e.db.Model(e.user).Update("balance", decimal.NewFromInt(500)).Error)

	ctx := context.Background()
	orderID := fmt.Sprintf("withdraw_%d_1", e.user.ID)
	trx, err := e.l.ReserveWithdrawal(ctx, e.user.ID, decimal.NewFromInt(100), orderID)
	require.NoError(t, err)
	require.NoError(t, e.l.AttachPayout(ctx, trx.ID, "PO-1", "ACC-1"))

	params := map[string]any{
		"TerminalKey": "TK-PAYOUT",
		"OrderId":     orderID,
		"PaymentId":   "PO-1",
		"Status":      gateway.StatusCompleted,
		"Success":     true,
	}
	resp := e.deliver(t, signedBody(t, params, testPayoutPassword))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.True(t, e.balance(t).Equal(decimal.NewFromInt(400)), "debit stands")
	var got models.Transaction
	require.NoError(t, e.db.First(&got, trx.ID).Error)
	require.Equal(t, models.TrxStatusCompleted, got.Status)
}

func TestUnknownOrderStructureRejected(t *testing.T) {
	e := newWebhookEnv(t, "")
	params := map[string]any{
		"TerminalKey": "TK-PAY",
		"OrderId":     "garbage",
		"PaymentId":   "P1",
		"Status":      gateway.StatusConfirmed,
		"Success":     true,
	}
	resp := e.deliver(t, signedBody(t, params, testPayPassword))
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCardBindingNotificationAcked(t *testing.T) {
	e := newWebhookEnv(t, "")
	params := map[string]any{
		"TerminalKey": "TK-PAY",
		"RequestKey":  "req-123",
		"Status":      "COMPLETED",
		"Success":     true,
		"CardId":      "card-77",
	}
	resp := e.deliver(t, signedBody(t, params, testPayPassword))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var ev models.WebhookEvent
	require.NoError(t, e.db.Where("outcome = ?", "card_bound").First(&ev).Error)
}

func TestDepositAmountFallsBackToRecorded(t *testing.T) {
	e := newWebhookEnv(t, "")
	orderID := e.pendingDeposit(t, "P1", 1000)

	params := depositNotification(orderID, "P1", gateway.StatusConfirmed, 0)
	delete(params, "Amount")
	resp := e.deliver(t, signedBody(t, params, testPayPassword))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// the payload carried no amount; the one recorded at initiation
	// is credited instead of 0.00
	require.True(t, e.balance(t).Equal(decimal.NewFromInt(1000)))
	var trx models.Transaction
	require.NoError(t, e.db.Where("payment_id = ?", "P1").First(&trx).Error)
	require.Equal(t, models.TrxStatusCompleted, trx.Status)
}

func TestDepositWithoutAnyAmountRejected(t *testing.T) {
	e := newWebhookEnv(t, "")

	// no prior record and no Amount: nothing trustworthy to credit
	params := depositNotification(fmt.Sprintf("deposit_%d_1", e.user.ID), "P-UNSEEN", gateway.StatusConfirmed, 0)
	delete(params, "Amount")
	resp := e.deliver(t, signedBody(t, params, testPayPassword))
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.True(t, e.balance(t).IsZero())
}

func TestDuplicateDeliverySkipsRecoveryLookup(t *testing.T) {
	stateCalls := 0
	bank := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stateCalls++
		json.NewEncoder(w).Encode(map[string]any{
			"Success":          true,
			"ErrorCode":        "0",
			"PaymentId":        "P1",
			"Status":           gateway.StatusConfirmed,
			"SpAccumulationId": "ACC-RECOVERED",
		})
	}))
	defer bank.Close()

	e := newWebhookEnv(t, bank.URL+"/")
	orderID := e.pendingDeposit(t, "P1", 1000)

	params := depositNotification(orderID, "P1", gateway.StatusConfirmed, 100000)
	delete(params, "SpAccumulationId")
	body := signedBody(t, params, testPayPassword)
	for i := 0; i < 3; i++ {
		resp := e.deliver(t, body)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	require.Equal(t, 1, stateCalls, "redeliveries of a settled deposit must not query the bank")
	require.True(t, e.balance(t).Equal(decimal.NewFromInt(1000)))
	var trx models.Transaction
	require.NoError(t, e.db.Where("payment_id = ?", "P1").First(&trx).Error)
	require.Equal(t, "ACC-RECOVERED", trx.DealID)
}

func TestDealRecoveryOnMissingAccumulationID(t *testing.T) {
	bank := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/GetState" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"Success":          true,
			"ErrorCode":        "0",
			"PaymentId":        "P1",
			"Status":           gateway.StatusConfirmed,
			"SpAccumulationId": "ACC-RECOVERED",
		})
	}))
	defer bank.Close()

	e := newWebhookEnv(t, bank.URL+"/")
	orderID := e.pendingDeposit(t, "P1", 1000)

	params := depositNotification(orderID, "P1", gateway.StatusConfirmed, 100000)
	delete(params, "SpAccumulationId")
	resp := e.deliver(t, signedBody(t, params, testPayPassword))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.True(t, e.balance(t).Equal(decimal.NewFromInt(1000)))
	var trx models.Transaction
	require.NoError(t, e.db.Where("payment_id = ?", "P1").First(&trx).Error)
	require.Equal(t, "ACC-RECOVERED", trx.DealID)
}
