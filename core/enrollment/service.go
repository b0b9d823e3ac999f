package enrollment

import (
	"context"
	"fmt"
	"net/mail"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/trezcool/jotutor/core"
	"github.com/trezcool/jotutor/core/payment"
	"github.com/trezcool/jotutor/core/user"
)

const (
	tmplReceipt = "payment_receipt"
	tmplPending = "payment_pending"
)

type UserFinder interface {
	GetByID(ctx context.Context, id string) (user.User, error)
}

// Service records payments and grants course access.
// Receipts and events follow every change; their failures are logged only.
type Service struct {
	repo   Repository
	users  UserFinder
	mail   core.EmailService
	events payment.EventPublisher
	logger core.Logger
	now    func() time.Time
}

var _ payment.EnrollmentRecorder = (*Service)(nil)

func NewService(repo Repository, users UserFinder, mail core.EmailService, events payment.EventPublisher, logger core.Logger) *Service {
	return &Service{
		repo:   repo,
		users:  users,
		mail:   mail,
		events: events,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// RecordPayment saves rec. Saving the same record twice is a no-op.
func (svc *Service) RecordPayment(ctx context.Context, rec payment.Record) error {
	if err := validateRecord(rec); err != nil {
		return errors.Wrapf(err, "record %q", rec.ID)
	}
	if rec.Date.IsZero() {
		rec.Date = svc.now()
	}
	changed, err := svc.repo.SavePayment(ctx, rec)
	if err != nil {
		return errors.Wrap(err, "saving payment")
	}
	if changed {
		svc.notify(ctx, payment.EventPaymentRecorded, rec)
	}
	return nil
}

func (svc *Service) GrantCourseAccess(ctx context.Context, userID, courseID string) error {
	if userID == "" || courseID == "" {
		return errors.New("granting course access: user and course are required")
	}
	return errors.Wrap(svc.repo.GrantAccess(ctx, userID, courseID, svc.now()), "granting course access")
}

// ActivatePayment confirms a pending (manual) payment: access is granted and the record becomes Success.
// Activating a payment twice returns it unchanged.
func (svc *Service) ActivatePayment(ctx context.Context, id string) (payment.Record, error) {
	rec, err := svc.repo.GetPayment(ctx, id)
	if err != nil {
		return payment.Record{}, err
	}
	switch rec.Status {
	case payment.RecordSuccess:
		return rec, nil
	case payment.RecordPending:
	default:
		return payment.Record{}, ErrNotActivatable
	}

	if err = svc.GrantCourseAccess(ctx, rec.UserID, rec.CourseID); err != nil {
		return payment.Record{}, err
	}
	rec.Status = payment.RecordSuccess
	changed, err := svc.repo.SavePayment(ctx, rec)
	if err != nil {
		return payment.Record{}, errors.Wrap(err, "activating payment")
	}
	if changed {
		svc.notify(ctx, payment.EventPaymentActivated, rec)
	}
	return rec, nil
}

func (svc *Service) GetPayment(ctx context.Context, id string) (payment.Record, error) {
	return svc.repo.GetPayment(ctx, id)
}

func (svc *Service) QueryPayments(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]payment.Record, error) {
	if filter != nil && filter.Status != "" && !filter.Status.IsValid() {
		return nil, core.NewValidationError(nil, core.FieldError{Field: "status", Error: "must be one of Success, Pending, Failed"})
	}
	if len(ordering) == 0 {
		ordering = DefaultOrdering
	}
	return svc.repo.QueryPayments(ctx, filter, ordering)
}

func (svc *Service) EnrolledCourses(ctx context.Context, userID string) ([]string, error) {
	return svc.repo.ListEnrolledCourses(ctx, userID)
}

// notify emails the student and publishes the event, concurrently.
func (svc *Service) notify(ctx context.Context, typ payment.EventType, rec payment.Record) {
	ctx = context.WithoutCancel(ctx)
	fields := map[string]interface{}{"payment_id": rec.ID, "order_id": rec.GatewayOrderID, "user_id": rec.UserID}

	var g errgroup.Group
	g.Go(func() error {
		return errors.Wrap(svc.events.Publish(ctx, payment.NewEvent(typ, rec, svc.now())), "publishing payment event")
	})
	g.Go(func() error {
		return errors.Wrap(svc.sendEmail(ctx, rec), "emailing payment")
	})
	if err := g.Wait(); err != nil {
		svc.logger.Error(fmt.Sprintf("after recording payment: %v", err), err, fields)
	}
}

type emailData struct {
	UserName   string
	CourseName string
	PaymentID  string
	Amount     string
	Currency   string
	Method     string
	Date       string
}

func (svc *Service) sendEmail(ctx context.Context, rec payment.Record) error {
	var tmpl, subject string
	switch rec.Status {
	case payment.RecordSuccess:
		tmpl, subject = tmplReceipt, "Payment receipt"
	case payment.RecordPending:
		tmpl, subject = tmplPending, "Payment pending review"
	default:
		return nil
	}

	usr, err := svc.users.GetByID(ctx, rec.UserID)
	if err != nil {
		return errors.Wrap(err, "finding user")
	}
	if usr.Email == "" {
		return nil
	}

	name := usr.Name
	if name == "" {
		name = rec.UserName
	}
	svc.mail.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: name, Address: usr.Email}},
		Subject:      subject,
		TemplateName: tmpl,
		TemplateData: emailData{
			UserName:   name,
			CourseName: rec.CourseName,
			PaymentID:  rec.ID,
			Amount:     rec.Amount.StringFixed(2),
			Currency:   rec.Currency,
			Method:     string(rec.PaymentMethod),
			Date:       rec.Date.Format("2006-01-02 15:04 MST"),
		},
	})
	return nil
}
