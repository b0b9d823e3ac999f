package enrollment

import (
	"context"
	"errors"
	"time"

	"github.com/trezcool/jotutor/core"
	"github.com/trezcool/jotutor/core/payment"
)

var (
	// errors
	ErrNotActivatable = errors.New("only pending payments can be activated")
	ErrInvalidRecord  = errors.New("invalid payment record")
)

type (
	// QueryFilter narrows QueryPayments; zero values match everything.
	QueryFilter struct {
		Status payment.RecordStatus
		UserID string
	}

	Repository interface {
		// SavePayment inserts rec, or updates the record with the same id.
		// changed is false when an identical record was already stored.
		SavePayment(ctx context.Context, rec payment.Record) (changed bool, err error)
		// GetPayment fails with payment.ErrRecordNotFound.
		GetPayment(ctx context.Context, id string) (payment.Record, error)
		QueryPayments(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]payment.Record, error)
		// GrantAccess is a no-op when the user already has access to the course.
		GrantAccess(ctx context.Context, userID, courseID string, at time.Time) error
		ListEnrolledCourses(ctx context.Context, userID string) ([]string, error)
	}
)

// DefaultOrdering lists payments newest first.
var DefaultOrdering = []core.DBOrdering{{Field: "created_at"}}

// SameRecord reports whether saving b over a changes nothing.
func SameRecord(a, b payment.Record) bool {
	return a.Status == b.Status &&
		a.TransactionID == b.TransactionID &&
		a.GatewayOrderID == b.GatewayOrderID &&
		a.Amount.Equal(b.Amount) &&
		a.Currency == b.Currency &&
		a.PaymentMethod == b.PaymentMethod
}

func validateRecord(rec payment.Record) error {
	switch {
	case rec.ID == "", rec.UserID == "", rec.CourseID == "":
		return ErrInvalidRecord
	case !rec.Status.IsValid():
		return ErrInvalidRecord
	case !rec.Amount.IsPositive():
		return ErrInvalidRecord
	}
	return nil
}
