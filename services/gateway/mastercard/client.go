package mastercard

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/trezcool/jotutor/core"
	"github.com/trezcool/jotutor/core/payment"
)

const (
	tracerName      = "github.com/trezcool/jotutor/services/gateway/mastercard"
	maxResponseSize = 1 << 20

	opCreateSession = "create_session"
	opVerifyOrder   = "verify_order"

	// legacy session creation: the body carries the operation only
	operationCreateSession = "CREATE_SESSION"

	envMerchantID  = "MASTERCARD_MERCHANT_ID"
	envAPIPassword = "MASTERCARD_API_PASSWORD"
)

type Options struct {
	BaseURL           string
	MerchantID        string
	APIPassword       string
	SessionAPIVersion int
	OrderAPIVersion   int
	SessionOperation  string
	MerchantName      string
	MerchantAddress   string
}

func OptionsFromConfig(conf *core.Config) Options {
	return Options{
		BaseURL:           conf.Gateway.BaseURL,
		MerchantID:        conf.Gateway.MerchantID,
		APIPassword:       conf.Gateway.APIPassword,
		SessionAPIVersion: conf.Gateway.SessionAPIVersion,
		OrderAPIVersion:   conf.Gateway.OrderAPIVersion,
		SessionOperation:  conf.Gateway.SessionOperation,
		MerchantName:      conf.Gateway.MerchantName,
		MerchantAddress:   conf.Gateway.MerchantAddress,
	}
}

// Client talks to the Mastercard Gateway REST API: session creation and order retrieval.
type Client struct {
	opts       Options
	httpClient *http.Client
	tracer     trace.Tracer
	observer   payment.GatewayObserver
}

var _ payment.Gateway = (*Client)(nil)

// NewClient returns a Client. The HTTP client should carry its own timeout; observer may be nil.
func NewClient(opts Options, httpClient *http.Client, observer payment.GatewayObserver) *Client {
	if opts.SessionAPIVersion == 0 {
		opts.SessionAPIVersion = 63
	}
	if opts.OrderAPIVersion == 0 {
		opts.OrderAPIVersion = 100
	}
	if opts.SessionOperation == "" {
		opts.SessionOperation = "CREATE_CHECKOUT_SESSION"
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if observer == nil {
		observer = nopObserver{}
	}
	return &Client{
		opts:       opts,
		httpClient: httpClient,
		tracer:     otel.Tracer(tracerName),
		observer:   observer,
	}
}

type (
	sessionRequest struct {
		APIOperation string              `json:"apiOperation"`
		Order        *orderPayload       `json:"order,omitempty"`
		Interaction  *interactionPayload `json:"interaction,omitempty"`
	}

	orderPayload struct {
		ID          string `json:"id"`
		Amount      string `json:"amount"`
		Currency    string `json:"currency"`
		Description string `json:"description,omitempty"`
	}

	interactionPayload struct {
		Operation string          `json:"operation"`
		Merchant  merchantPayload `json:"merchant"`
		ReturnURL string          `json:"returnUrl,omitempty"`
		CancelURL string          `json:"cancelUrl,omitempty"`
	}

	merchantPayload struct {
		Name    string         `json:"name"`
		Address addressPayload `json:"address"`
	}

	addressPayload struct {
		Line1 string `json:"line1"`
	}

	sessionResponse struct {
		Session struct {
			ID string `json:"id"`
		} `json:"session"`
		SuccessIndicator string `json:"successIndicator"`
	}

	orderResponse struct {
		Status      string          `json:"status"`
		Amount      decimal.Decimal `json:"amount"`
		Currency    string          `json:"currency"`
		Transaction []struct {
			Transaction struct {
				ID string `json:"id"`
			} `json:"transaction"`
		} `json:"transaction"`
	}
)

// CreateSession opens a hosted checkout session.
// Missing credentials fail right away with a *payment.ConfigurationError.
func (c *Client) CreateSession(ctx context.Context, req payment.SessionRequest) (payment.Session, error) {
	if err := c.checkConfig(); err != nil {
		c.observer.ObserveGatewayCall(opCreateSession, "config_error", 0)
		return payment.Session{}, err
	}

	body := sessionRequest{APIOperation: c.opts.SessionOperation}
	if c.opts.SessionOperation != operationCreateSession {
		body.Order = &orderPayload{
			ID:          req.OrderID,
			Amount:      FormatAmount(req.Amount),
			Currency:    req.Currency,
			Description: req.Description,
		}
		body.Interaction = &interactionPayload{
			Operation: "PURCHASE",
			Merchant: merchantPayload{
				Name:    c.opts.MerchantName,
				Address: addressPayload{Line1: c.opts.MerchantAddress},
			},
			ReturnURL: req.ReturnURL,
			CancelURL: req.CancelURL,
		}
	}
	data, err := json.Marshal(body)
	if err != nil {
		return payment.Session{}, errors.Wrap(err, "encoding session request")
	}

	endpoint := fmt.Sprintf("%s/api/rest/version/%d/merchant/%s/session",
		c.opts.BaseURL, c.opts.SessionAPIVersion, url.PathEscape(c.opts.MerchantID))
	status, raw, err := c.do(ctx, opCreateSession, http.MethodPost, endpoint, req.OrderID, data)
	if err != nil {
		return payment.Session{}, err
	}

	if status < 200 || status >= 300 {
		return payment.Session{}, &payment.GatewayError{StatusCode: status, Details: details(raw)}
	}
	var res sessionResponse
	if err = json.Unmarshal(raw, &res); err != nil || res.Session.ID == "" {
		return payment.Session{}, &payment.GatewayError{StatusCode: status, Details: details(raw), Reason: "no session in response"}
	}
	return payment.Session{
		SessionID:        res.Session.ID,
		MerchantID:       c.opts.MerchantID,
		SuccessIndicator: res.SuccessIndicator,
	}, nil
}

// VerifyOrder asks the gateway how the order ended.
// Indicators are checked first: a mismatch never reaches the network.
func (c *Client) VerifyOrder(ctx context.Context, req payment.VerifyRequest) (payment.VerificationResult, error) {
	if err := req.Validate(); err != nil {
		c.observer.ObserveGatewayCall(opVerifyOrder, "rejected", 0)
		return payment.VerificationResult{}, err
	}
	if err := c.checkConfig(); err != nil {
		c.observer.ObserveGatewayCall(opVerifyOrder, "config_error", 0)
		return payment.VerificationResult{}, err
	}

	endpoint := fmt.Sprintf("%s/api/rest/version/%d/merchant/%s/order/%s",
		c.opts.BaseURL, c.opts.OrderAPIVersion, url.PathEscape(c.opts.MerchantID), url.PathEscape(req.OrderID))
	status, raw, err := c.do(ctx, opVerifyOrder, http.MethodGet, endpoint, req.OrderID, nil)
	if err != nil {
		return payment.VerificationResult{}, err
	}

	var res orderResponse
	if err = json.Unmarshal(raw, &res); err != nil {
		return payment.VerificationResult{}, &payment.GatewayError{StatusCode: status, Details: details(raw), Reason: "unreadable order"}
	}

	ok := status >= 200 && status < 300
	if !ok || !payment.IsVerifiedStatus(res.Status) {
		return payment.VerificationResult{Success: false, Status: res.Status, Details: details(raw)}, nil
	}

	result := payment.VerificationResult{
		Success:  true,
		Status:   res.Status,
		Amount:   res.Amount,
		Currency: res.Currency,
	}
	if len(res.Transaction) > 0 {
		result.TransactionID = res.Transaction[0].Transaction.ID
	}
	return result, nil
}

// do sends an authenticated request and reads the response body, whatever its status.
func (c *Client) do(ctx context.Context, op, method, endpoint, orderID string, body []byte) (int, []byte, error) {
	ctx, span := c.tracer.Start(ctx, "mastercard."+op, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("http.method", method),
		attribute.String("http.url", endpoint),
		attribute.String("payment.order_id", orderID),
	)

	start := time.Now()
	outcome := "ok"
	defer func() { c.observer.ObserveGatewayCall(op, outcome, time.Since(start)) }()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		outcome = "network_error"
		span.RecordError(err)
		return 0, nil, errors.Wrap(err, "building request")
	}
	req.Header.Set("Authorization", c.authorization())
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		outcome = "network_error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, nil, &payment.NetworkError{Op: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		outcome = "gateway_error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return resp.StatusCode, nil, &payment.GatewayError{StatusCode: resp.StatusCode, Reason: "reading response: " + err.Error()}
	}
	if resp.StatusCode >= 300 {
		outcome = "gateway_error"
		span.SetStatus(codes.Error, resp.Status)
	}
	return resp.StatusCode, raw, nil
}

// authorization is HTTP Basic auth for user "merchant.<merchantId>".
func (c *Client) authorization() string {
	creds := "merchant." + c.opts.MerchantID + ":" + c.opts.APIPassword
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(creds))
}

func (c *Client) checkConfig() error {
	var missing []string
	if c.opts.MerchantID == "" {
		missing = append(missing, envMerchantID)
	}
	if c.opts.APIPassword == "" {
		missing = append(missing, envAPIPassword)
	}
	if len(missing) > 0 {
		return &payment.ConfigurationError{Missing: missing}
	}
	return nil
}

// FormatAmount renders an amount with at least 2 decimals, as the gateway expects.
func FormatAmount(d decimal.Decimal) string {
	if d.Exponent() >= -2 {
		return d.StringFixed(2)
	}
	return d.String()
}

// details keeps the raw payload as JSON, quoting it when it is not JSON.
func details(raw []byte) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	if json.Valid(raw) {
		return raw
	}
	quoted, _ := json.Marshal(string(raw))
	return quoted
}

type nopObserver struct{}

func (nopObserver) ObserveGatewayCall(string, string, time.Duration) {}
