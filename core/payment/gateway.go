package payment

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type (
	SessionRequest struct {
		OrderID     string
		Amount      decimal.Decimal
		Currency    string
		Description string
		// redirect mode only
		ReturnURL string
		CancelURL string
	}

	Session struct {
		SessionID        string `json:"sessionId"`
		MerchantID       string `json:"merchantId"`
		SuccessIndicator string `json:"successIndicator"`
	}

	// SessionCreator obtains single-use hosted checkout sessions.
	SessionCreator interface {
		CreateSession(ctx context.Context, req SessionRequest) (Session, error)
	}

	VerifyRequest struct {
		OrderID          string
		ResultIndicator  string
		SuccessIndicator string
	}

	VerificationResult struct {
		Success       bool
		Status        string
		Amount        decimal.Decimal
		Currency      string
		TransactionID string
		Details       json.RawMessage // raw gateway payload when Success is false
	}

	// Verifier confirms with the gateway whether an order was paid.
	// It must reject mismatching indicators before any network call.
	Verifier interface {
		VerifyOrder(ctx context.Context, req VerifyRequest) (VerificationResult, error)
	}

	Gateway interface {
		SessionCreator
		Verifier
	}

	// GatewayObserver is notified of every gateway round trip.
	GatewayObserver interface {
		ObserveGatewayCall(op string, outcome string, elapsed time.Duration)
	}
)

// Validate runs the checks every verification starts with: all parameters present, indicators equal.
func (r VerifyRequest) Validate() error {
	if r.OrderID == "" || r.ResultIndicator == "" || r.SuccessIndicator == "" {
		return ErrMissingParameters
	}
	if subtle.ConstantTimeCompare([]byte(r.ResultIndicator), []byte(r.SuccessIndicator)) != 1 {
		return ErrSecurityMismatch
	}
	return nil
}

// IsVerifiedStatus reports whether a gateway order status means the money was taken.
func IsVerifiedStatus(status string) bool {
	return status == "CAPTURED" || status == "AUTHORIZED"
}

type (
	// CheckoutConfig is what the hosted checkout widget is configured with for one attempt.
	CheckoutConfig struct {
		MerchantID  string
		SessionID   string
		OrderID     string
		Amount      decimal.Decimal
		Currency    string
		Description string
		Mode        Mode
		Callbacks   Callbacks
	}

	// Callbacks are the attempt-scoped endpoints the widget reports to.
	Callbacks struct {
		Events string `json:"events"`           // complete | error | cancel, posted by the embedded widget
		Return string `json:"return,omitempty"` // redirect mode completion
		Cancel string `json:"cancel,omitempty"` // redirect mode cancellation
	}

	// Presentation tells the browser how to show the hosted checkout.
	Presentation struct {
		Mode      Mode        `json:"mode"`
		Fallback  Mode        `json:"fallback,omitempty"`
		ScriptURL string      `json:"script_url"`
		Config    interface{} `json:"config"`
		Callbacks Callbacks   `json:"callbacks"`
	}

	// HostedCheckout is the third-party payment widget.
	HostedCheckout interface {
		Configure(ctx context.Context, conf CheckoutConfig) (Presentation, error)
	}
)
