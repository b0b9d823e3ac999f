package payment

import (
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// user-facing messages
const (
	msgSuccess           = "Payment successful. You are now enrolled in the course."
	msgActivationDelayed = "Payment succeeded but activation is delayed. Please contact support."
	msgPending           = "Your transfer request was received and is pending manual review."
	msgPendingNotSaved   = "Your transfer request is pending manual review but could not be saved. Please contact support."
	msgDeclined          = "Payment was declined or could not be processed by your bank. Please try again."
	msgNotConfirmed      = "Payment could not be confirmed. Please try again."
	msgVerifyFailed      = "Payment verification failed or the order was not completed. Please try again."
	msgVerifyTimeout     = "Payment verification timed out. Please contact support before trying again."
	msgUnavailable       = "Card payments are temporarily unavailable. Please try again later or contact support."
	msgSessionFailed     = "Could not start the payment. Please try again."
	msgCancelled         = "Payment was cancelled."
	msgExpired           = "Checkout timed out. Please start again."
	msgProcessing        = "Your payment is being processed."
)

// Attempt is a single checkout attempt, identified by its OrderID.
// Attempts only move forward; a retry is a new Attempt.
type Attempt struct {
	OrderID    string `json:"order_id"`
	SessionID  string `json:"session_id,omitempty"`
	MerchantID string `json:"merchant_id,omitempty"`
	// SuccessIndicator is the gateway secret for this attempt. It is dropped once the attempt ends.
	SuccessIndicator string `json:"success_indicator,omitempty"`
	ResultIndicator  string `json:"result_indicator,omitempty"`

	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
	State    State           `json:"state"`
	Method   Method          `json:"method"`
	Mode     Mode            `json:"mode,omitempty"`

	UserID      string `json:"user_id"`
	UserName    string `json:"user_name"`
	CourseID    string `json:"course_id"`
	CourseTitle string `json:"course_title"`

	// CallbackToken authorizes the browser redirect back from the hosted payment page.
	CallbackToken string `json:"callback_token"`

	TransactionID     string `json:"transaction_id,omitempty"`
	PaymentID         string `json:"payment_id,omitempty"`
	Message           string `json:"message,omitempty"`
	ActivationDelayed bool   `json:"activation_delayed,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// transition moves the attempt to next, wiping the session secrets once it ends.
func (a *Attempt) transition(next State, now time.Time) error {
	if !a.State.CanTransition(next) {
		return errors.Wrapf(ErrInvalidTransition, "%s -> %s", a.State, next)
	}
	a.State = next
	a.UpdatedAt = now
	if next.IsTerminal() {
		a.SuccessIndicator = ""
		a.ResultIndicator = ""
	}
	return nil
}

// fail moves the attempt to Failed with a user-facing message.
func (a *Attempt) fail(msg string, now time.Time) error {
	if err := a.transition(StateFailed, now); err != nil {
		return err
	}
	a.Message = msg
	return nil
}

func (a *Attempt) cancel(msg string, now time.Time) error {
	if err := a.transition(StateCancelled, now); err != nil {
		return err
	}
	a.Message = msg
	return nil
}

// expired reports whether the attempt has been left in a waiting state for too long.
func (a Attempt) expired(now time.Time, checkoutTimeout, verifyTimeout time.Duration) bool {
	switch a.State {
	case StateAwaitingCheckout:
		return checkoutTimeout > 0 && now.Sub(a.UpdatedAt) > checkoutTimeout
	case StateCompleting:
		// a confirmed payment is being recorded
		if a.PaymentID != "" {
			return false
		}
		// the verifying request normally finishes within verifyTimeout; twice that means it is gone
		return verifyTimeout > 0 && now.Sub(a.UpdatedAt) > 2*verifyTimeout
	}
	return false
}

// OutcomeKind is what the student is told.
type OutcomeKind string

const (
	OutcomeSuccess    OutcomeKind = "success"
	OutcomePending    OutcomeKind = "pending"
	OutcomeFailure    OutcomeKind = "failure"
	OutcomeProcessing OutcomeKind = "processing"
)

// Outcome is the user-visible result of an attempt.
type Outcome struct {
	OrderID           string      `json:"order_id"`
	State             State       `json:"state"`
	Kind              OutcomeKind `json:"outcome"`
	Message           string      `json:"message"`
	Retryable         bool        `json:"retryable"`
	ActivationDelayed bool        `json:"activation_delayed,omitempty"`
	TransactionID     string      `json:"transaction_id,omitempty"`
	PaymentID         string      `json:"payment_id,omitempty"`
}

func (a Attempt) Outcome() Outcome {
	o := Outcome{
		OrderID:           a.OrderID,
		State:             a.State,
		Message:           a.Message,
		ActivationDelayed: a.ActivationDelayed,
		TransactionID:     a.TransactionID,
		PaymentID:         a.PaymentID,
	}
	switch a.State {
	case StateVerified:
		o.Kind = OutcomeSuccess
	case StatePending:
		o.Kind = OutcomePending
	case StateFailed, StateCancelled:
		o.Kind = OutcomeFailure
		o.Retryable = true
	default:
		o.Kind = OutcomeProcessing
		if o.Message == "" {
			o.Message = msgProcessing
		}
	}
	return o
}

// View is the attempt as shown to its owner, without secrets.
type View struct {
	OrderID     string          `json:"order_id"`
	State       State           `json:"state"`
	Method      Method          `json:"method"`
	Mode        Mode            `json:"mode,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	CourseID    string          `json:"course_id"`
	CourseTitle string          `json:"course_title"`
	CreatedAt   time.Time       `json:"created_at"`
}

func (a Attempt) View() View {
	return View{
		OrderID:     a.OrderID,
		State:       a.State,
		Method:      a.Method,
		Mode:        a.Mode,
		Amount:      a.Amount,
		Currency:    a.Currency,
		CourseID:    a.CourseID,
		CourseTitle: a.CourseTitle,
		CreatedAt:   a.CreatedAt,
	}
}
