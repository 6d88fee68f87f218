package gateway

import (
	"context"
	"net/http"

	"marketpay/config"

	"github.com/rs/zerolog"
)

// PayoutClient is the E2C payout terminal. It carries its own key pair
// and base URL, independent of the deposit terminal.
type PayoutClient struct {
	caller
}

func NewPayoutClient(cfg config.Gateway, log zerolog.Logger) *PayoutClient {
	return &PayoutClient{
		caller: caller{
			terminal:    "payout",
			baseURL:     cfg.PayoutBaseURL(),
			terminalKey: cfg.PayoutTerminalKey,
			password:    cfg.PayoutTerminalPassword,
			httpc:       &http.Client{Timeout: cfg.Timeout},
			log:         log.With().Str("component", "gateway_payout").Logger(),
		},
	}
}

type InitPayoutRequest struct {
	Amount  int64 // minor units
	OrderID string

	// DealID ties the payout to the accumulation the money came from.
	// The Bank refuses payouts without one.
	DealID string

	// Destination: either a bound card id, or phone + SBP member id for
	// an instant-rail payout.
	CardID      string
	Phone       string
	SbpMemberID string
}

type InitPayoutResult struct {
	PaymentID FlexibleID `json:"PaymentId"`
	Status    string     `json:"Status"`
}

func (c *PayoutClient) InitPayout(ctx context.Context, req InitPayoutRequest) (*InitPayoutResult, error) {
	params := map[string]any{
		"Amount":           req.Amount,
		"OrderId":          req.OrderID,
		"SpAccumulationId": req.DealID,
	}
	if req.CardID != "" {
		params["CardId"] = req.CardID
	}
	if req.Phone != "" {
		params["Phone"] = req.Phone
	}
	if req.SbpMemberID != "" {
		params["SbpMemberId"] = req.SbpMemberID
	}

	var out InitPayoutResult
	if err := c.call(ctx, "Init", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ExecutePayout finalizes a card payout. Instant-rail (SBP) payouts are
// final at InitPayout; calling this for them is a protocol error.
func (c *PayoutClient) ExecutePayout(ctx context.Context, paymentID string) (*InitPayoutResult, error) {
	var out InitPayoutResult
	if err := c.call(ctx, "Payment", map[string]any{"PaymentId": paymentID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *PayoutClient) GetPayoutState(ctx context.Context, paymentID string) (*PaymentState, error) {
	var out PaymentState
	if err := c.call(ctx, "GetState", map[string]any{"PaymentId": paymentID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type SbpMember struct {
	MemberID   FlexibleID `json:"MemberId"`
	MemberName string     `json:"MemberName"`
}

func (c *PayoutClient) GetSbpMembers(ctx context.Context) ([]SbpMember, error) {
	var out struct {
		Members []SbpMember `json:"Members"`
	}
	if err := c.call(ctx, "GetSbpMembers", nil, &out); err != nil {
		return nil, err
	}
	return out.Members, nil
}
