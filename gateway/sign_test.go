package gateway

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestSignDeterministic(t *testing.T) {
	params := map[string]any{
		"TerminalKey": "term-1",
		"Amount":      int64(100000),
		"OrderId":     "deposit_1_123",
	}

	first := Sign(params, "secret")
	second := Sign(params, "secret")
	require.Equal(t, first, second)
	require.Len(t, first, 64)
}

func TestSignOrderIndependent(t *testing.T) {
	a := map[string]any{
		"OrderId":     "withdraw_7_99",
		"Amount":      int64(5000),
		"TerminalKey": "term-1",
	}
	b := map[string]any{
		"TerminalKey": "term-1",
		"Amount":      int64(5000),
		"OrderId":     "withdraw_7_99",
	}
	require.Equal(t, Sign(a, "secret"), Sign(b, "secret"))
}

func TestSignSkipsNonScalars(t *testing.T) {
	plain := map[string]any{
		"TerminalKey": "term-1",
		"Amount":      int64(100),
	}
	decorated := map[string]any{
		"TerminalKey": "term-1",
		"Amount":      int64(100),
		"DATA":        map[string]string{"Phone": "+79990000000"},
		"Empty":       "",
		"Nothing":     nil,
	}
	require.Equal(t, Sign(plain, "secret"), Sign(decorated, "secret"))
}

func TestSignBooleansAndNumbers(t *testing.T) {
	a := Sign(map[string]any{"CreateSpAccumulation": true, "Amount": int64(1)}, "s")
	b := Sign(map[string]any{"CreateSpAccumulation": "true", "Amount": "1"}, "s")
	require.Equal(t, a, b)

	// json-decoded integers arrive as float64 and must stringify the
	// same as their int forms
	c := Sign(map[string]any{"Amount": float64(100000)}, "s")
	d := Sign(map[string]any{"Amount": int64(100000)}, "s")
	require.Equal(t, c, d)
}

func TestSignSecretChangesDigest(t *testing.T) {
	params := map[string]any{"OrderId": "deposit_1_1"}
	require.NotEqual(t, Sign(params, "one"), Sign(params, "two"))
}

func TestVerify(t *testing.T) {
	params := map[string]any{
		"TerminalKey": "term-1",
		"PaymentId":   "P1",
		"Status":      "CONFIRMED",
		"Amount":      float64(100000),
	}
	token := Sign(params, "secret")

	require.True(t, Verify(params, token, "secret"))
	require.False(t, Verify(params, token, "other-secret"))
	require.False(t, Verify(params, "deadbeef", "secret"))

	params["Amount"] = float64(999)
	require.False(t, Verify(params, token, "secret"))
}

func TestMinorUnits(t *testing.T) {
	require.Equal(t, int64(100000), ToMinorUnits(decimal.NewFromInt(1000)))
	require.Equal(t, int64(1050), ToMinorUnits(decimal.RequireFromString("10.50")))
	require.True(t, decimal.RequireFromString("10.50").Equal(FromMinorUnits(1050)))
	require.True(t, decimal.NewFromInt(1000).Equal(FromMinorUnits(100000)))
}
