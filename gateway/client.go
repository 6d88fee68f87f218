package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"marketpay/config"
	"marketpay/metrics"

	"github.com/rs/zerolog"
)

// Response is the envelope every Bank method answers with.
type Response struct {
	Success   bool   `json:"Success"`
	ErrorCode string `json:"ErrorCode"`
	Message   string `json:"Message"`
	Details   string `json:"Details"`
}

// caller does the shared build params -> inject terminal key -> sign ->
// POST -> decode work for both terminals. It holds no state besides its
// credentials and is safe for concurrent use.
type caller struct {
	terminal    string
	baseURL     string
	terminalKey string
	password    string
	httpc       *http.Client
	log         zerolog.Logger
}

func (c *caller) post(ctx context.Context, method string, params map[string]any) ([]byte, error) {
	if params == nil {
		params = map[string]any{}
	}
	params["TerminalKey"] = c.terminalKey
	params["Token"] = Sign(params, c.password)

	body, err := json.Marshal(params)
	if err != nil {
		return nil, &TransportError{Method: method, Err: fmt.Errorf("marshal request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+method, bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{Method: method, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpc.Do(req)
	metrics.GatewayDuration.WithLabelValues(c.terminal, method).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.GatewayCalls.WithLabelValues(c.terminal, method, "transport_error").Inc()
		return nil, &TransportError{Method: method, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.GatewayCalls.WithLabelValues(c.terminal, method, "transport_error").Inc()
		return nil, &TransportError{Method: method, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.GatewayCalls.WithLabelValues(c.terminal, method, "http_error").Inc()
		return nil, &TransportError{Method: method, Err: fmt.Errorf("status %d: %s", resp.StatusCode, raw)}
	}
	return raw, nil
}

// call posts and decodes into out, surfacing Success=false as *APIError.
func (c *caller) call(ctx context.Context, method string, params map[string]any, out any) error {
	raw, err := c.post(ctx, method, params)
	if err != nil {
		return err
	}

	var env Response
	if err := json.Unmarshal(raw, &env); err != nil {
		metrics.GatewayCalls.WithLabelValues(c.terminal, method, "decode_error").Inc()
		return &TransportError{Method: method, Err: fmt.Errorf("decode response: %w", err)}
	}
	if !env.Success {
		metrics.GatewayCalls.WithLabelValues(c.terminal, method, "rejected").Inc()
		c.log.Warn().
			Str("terminal", c.terminal).
			Str("method", method).
			Str("error_code", env.ErrorCode).
			Str("message", env.Message).
			Msg("bank rejected request")
		return &APIError{Method: method, ErrorCode: env.ErrorCode, Message: env.Message, Details: env.Details}
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			metrics.GatewayCalls.WithLabelValues(c.terminal, method, "decode_error").Inc()
			return &TransportError{Method: method, Err: fmt.Errorf("decode response: %w", err)}
		}
	}
	metrics.GatewayCalls.WithLabelValues(c.terminal, method, "ok").Inc()
	return nil
}

// Client is the deposit-side terminal: payments, deals, customer and
// card management. Payouts go through PayoutClient, a separately
// credentialed terminal.
type Client struct {
	caller
	cfg config.Gateway
}

func NewClient(cfg config.Gateway, log zerolog.Logger) *Client {
	return &Client{
		caller: caller{
			terminal:    "pay",
			baseURL:     cfg.PayBaseURL(),
			terminalKey: cfg.TerminalKey,
			password:    cfg.TerminalPassword,
			httpc:       &http.Client{Timeout: cfg.Timeout},
			log:         log.With().Str("component", "gateway").Logger(),
		},
		cfg: cfg,
	}
}

type InitPaymentRequest struct {
	Amount      int64 // minor units
	OrderID     string
	CustomerKey string
	Description string

	// CreateDeal opens a new Bank-side accumulation for this payment;
	// DealID attaches it to an existing one instead.
	CreateDeal bool
	DealID     string

	Data map[string]string
}

type InitPaymentResult struct {
	PaymentID  FlexibleID `json:"PaymentId"`
	PaymentURL string     `json:"PaymentURL"`
	Status     string     `json:"Status"`
}

func (c *Client) InitPayment(ctx context.Context, req InitPaymentRequest) (*InitPaymentResult, error) {
	params := map[string]any{
		"Amount":          req.Amount,
		"OrderId":         req.OrderID,
		"NotificationURL": c.cfg.NotificationURL,
		"SuccessURL":      c.cfg.SuccessURL,
		"FailURL":         c.cfg.FailURL,
	}
	if req.CustomerKey != "" {
		params["CustomerKey"] = req.CustomerKey
	}
	if req.Description != "" {
		params["Description"] = req.Description
	}
	if req.CreateDeal {
		params["CreateSpAccumulation"] = true
	}
	if req.DealID != "" {
		params["SpAccumulationId"] = req.DealID
	}
	if len(req.Data) > 0 {
		params["DATA"] = req.Data
	}

	var out InitPaymentResult
	if err := c.call(ctx, "Init", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type PaymentState struct {
	PaymentID FlexibleID `json:"PaymentId"`
	OrderID   string     `json:"OrderId"`
	Status    string     `json:"Status"`
	DealID    string     `json:"SpAccumulationId"`
	Amount    int64      `json:"Amount"`
}

func (c *Client) GetPaymentState(ctx context.Context, paymentID string) (*PaymentState, error) {
	var out PaymentState
	if err := c.call(ctx, "GetState", map[string]any{"PaymentId": paymentID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ConfirmPayment(ctx context.Context, paymentID string) (*PaymentState, error) {
	var out PaymentState
	if err := c.call(ctx, "Confirm", map[string]any{"PaymentId": paymentID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CancelPayment reverses or refunds a payment. amount 0 cancels the full
// amount; a partial amount (minor units) refunds that much.
func (c *Client) CancelPayment(ctx context.Context, paymentID string, amount int64) (*PaymentState, error) {
	params := map[string]any{"PaymentId": paymentID}
	if amount > 0 {
		params["Amount"] = amount
	}
	var out PaymentState
	if err := c.call(ctx, "Cancel", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateDeal(ctx context.Context) (string, error) {
	var out struct {
		DealID string `json:"SpAccumulationId"`
	}
	if err := c.call(ctx, "CreateDeal", nil, &out); err != nil {
		return "", err
	}
	return out.DealID, nil
}

func (c *Client) CloseDeal(ctx context.Context, dealID string) error {
	return c.call(ctx, "CloseDeal", map[string]any{"SpAccumulationId": dealID}, nil)
}

func (c *Client) AddCustomer(ctx context.Context, customerKey string) error {
	return c.call(ctx, "AddCustomer", map[string]any{"CustomerKey": customerKey}, nil)
}

type CardBinding struct {
	RequestKey FlexibleID `json:"RequestKey"`
	PaymentURL string     `json:"PaymentURL"`
}

// AddCard starts a card-binding session; the user finishes it on the
// returned PaymentURL and the Bank notifies CardNotificationURL.
func (c *Client) AddCard(ctx context.Context, customerKey string) (*CardBinding, error) {
	params := map[string]any{
		"CustomerKey":     customerKey,
		"NotificationURL": c.cfg.CardNotificationURL,
	}
	var out CardBinding
	if err := c.call(ctx, "AddCard", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type Card struct {
	CardID   FlexibleID `json:"CardId"`
	Pan      string     `json:"Pan"`
	Status   string     `json:"Status"`
	CardType int        `json:"CardType"`
}

// GetCardList is the one method that answers with a bare JSON array
// instead of the Success envelope.
func (c *Client) GetCardList(ctx context.Context, customerKey string) ([]Card, error) {
	raw, err := c.post(ctx, "GetCardList", map[string]any{"CustomerKey": customerKey})
	if err != nil {
		return nil, err
	}

	var cards []Card
	if err := json.Unmarshal(raw, &cards); err != nil {
		// an error still comes back in the envelope shape
		var env Response
		if jerr := json.Unmarshal(raw, &env); jerr == nil && !env.Success {
			metrics.GatewayCalls.WithLabelValues(c.terminal, "GetCardList", "rejected").Inc()
			return nil, &APIError{Method: "GetCardList", ErrorCode: env.ErrorCode, Message: env.Message}
		}
		metrics.GatewayCalls.WithLabelValues(c.terminal, "GetCardList", "decode_error").Inc()
		return nil, &TransportError{Method: "GetCardList", Err: fmt.Errorf("decode response: %w", err)}
	}
	metrics.GatewayCalls.WithLabelValues(c.terminal, "GetCardList", "ok").Inc()
	return cards, nil
}

func (c *Client) RemoveCard(ctx context.Context, customerKey, cardID string) error {
	return c.call(ctx, "RemoveCard", map[string]any{
		"CustomerKey": customerKey,
		"CardId":      cardID,
	}, nil)
}
