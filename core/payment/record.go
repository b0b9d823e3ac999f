package payment

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type RecordStatus string

const (
	RecordSuccess RecordStatus = "Success"
	RecordPending RecordStatus = "Pending"
	RecordFailed  RecordStatus = "Failed"
)

func (s RecordStatus) IsValid() bool {
	return s == RecordSuccess || s == RecordPending || s == RecordFailed
}

// PaymentMethod is the payment method label stored on records.
type PaymentMethod string

const (
	PaymentCreditCard PaymentMethod = "Credit Card"
	PaymentCliQ       PaymentMethod = "CliQ"
	PaymentManual     PaymentMethod = "Manual"
)

// Record is the durable trace of a verified or pending payment.
type Record struct {
	ID             string          `json:"id" db:"id"`
	Date           time.Time       `json:"date" db:"created_at"`
	UserID         string          `json:"user_id" db:"user_id"`
	UserName       string          `json:"user_name" db:"user_name"`
	CourseID       string          `json:"course_id" db:"course_id"`
	CourseName     string          `json:"course_name" db:"course_name"`
	Amount         decimal.Decimal `json:"amount" db:"amount"`
	Currency       string          `json:"currency" db:"currency"`
	Status         RecordStatus    `json:"status" db:"status"`
	PaymentMethod  PaymentMethod   `json:"payment_method" db:"payment_method"`
	GatewayOrderID string          `json:"gateway_order_id" db:"gateway_order_id"`
	TransactionID  string          `json:"transaction_id" db:"transaction_id"`
}

// NewRecordID keys a record by the gateway transaction when there is one.
func NewRecordID(transactionID string) string {
	if transactionID != "" {
		return transactionID
	}
	return "TX-" + uuid.NewString()
}

// EnrollmentRecorder persists payments and grants course access.
// Both calls are idempotent.
type EnrollmentRecorder interface {
	RecordPayment(ctx context.Context, rec Record) error
	GrantCourseAccess(ctx context.Context, userID, courseID string) error
}

type EventType string

const (
	EventPaymentRecorded  EventType = "payment.recorded"
	EventPaymentActivated EventType = "payment.activated"
)

// Event is published after a payment record changes.
type Event struct {
	Type       EventType       `json:"type"`
	PaymentID  string          `json:"payment_id"`
	OrderID    string          `json:"order_id,omitempty"`
	UserID     string          `json:"user_id"`
	CourseID   string          `json:"course_id"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	Status     RecordStatus    `json:"status"`
	Method     PaymentMethod   `json:"payment_method"`
	OccurredAt time.Time       `json:"occurred_at"`
}

func NewEvent(typ EventType, rec Record, at time.Time) Event {
	return Event{
		Type:       typ,
		PaymentID:  rec.ID,
		OrderID:    rec.GatewayOrderID,
		UserID:     rec.UserID,
		CourseID:   rec.CourseID,
		Amount:     rec.Amount,
		Currency:   rec.Currency,
		Status:     rec.Status,
		Method:     rec.PaymentMethod,
		OccurredAt: at,
	}
}

type EventPublisher interface {
	Publish(ctx context.Context, events ...Event) error
}
