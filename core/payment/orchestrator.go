package payment

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/jotutor/core"
	"github.com/trezcool/jotutor/core/course"
)

const (
	maxOrderIDTries      = 5
	defaultPollInterval  = time.Second
	defaultRecordTimeout = 30 * time.Second
	msgVerifyError       = "We could not confirm your payment with the bank. Please contact support before trying again."
)

var (
	// errUnchanged aborts a store update that has nothing to do.
	errUnchanged = errors.New("attempt unchanged")

	ErrInvalidCallback = errors.New("invalid checkout event")
)

type (
	Options struct {
		OrderPrefix     string
		Currency        string
		CheckoutTimeout time.Duration // max time in AwaitingCheckout
		VerifyTimeout   time.Duration // max time for the verification call
		RecordTimeout   time.Duration // max time for recording a verified payment
		PollInterval    time.Duration // Wait re-reads the store at least this often
		// Callbacks builds the attempt-scoped callback URLs handed to the hosted checkout.
		Callbacks func(orderID, token string) Callbacks
		Clock     func() time.Time // defaults to time.Now in UTC
	}

	CourseFinder interface {
		GetByID(ctx context.Context, id string) (course.Course, error)
	}

	// Observer is told when checkouts start and end.
	Observer interface {
		CheckoutStarted(method Method)
		CheckoutFinished(method Method, state State, elapsed time.Duration)
	}

	Deps struct {
		Courses  CourseFinder
		Gateway  Gateway
		Checkout HostedCheckout
		Store    AttemptStore
		Recorder EnrollmentRecorder
		Logger   core.Logger
		Observer Observer // optional
	}

	// Orchestrator drives checkout attempts from Start to a terminal state.
	Orchestrator struct {
		opts     Options
		deps     Deps
		notifier *notifier
		now      func() time.Time
	}
)

type (
	StartCheckout struct {
		UserID   string
		UserName string
		CourseID string
		Method   Method
		Mode     Mode
	}

	// Checkout is an attempt as returned to its owner.
	Checkout struct {
		Attempt      View          `json:"attempt"`
		Outcome      Outcome       `json:"outcome"`
		Presentation *Presentation `json:"checkout,omitempty"`
	}

	CallbackKind string

	// Callback is an event reported by the hosted checkout.
	Callback struct {
		Kind            CallbackKind
		ResultIndicator string // complete only
		Reason          string // error only
	}

	// Caller identifies who reports on an attempt: its owner, or the browser holding the callback token.
	Caller struct {
		UserID        string
		CallbackToken string
	}
)

const (
	CallbackComplete CallbackKind = "complete"
	CallbackError    CallbackKind = "error"
	CallbackCancel   CallbackKind = "cancel"
)

func NewOrchestrator(opts Options, deps Deps) *Orchestrator {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.RecordTimeout <= 0 {
		opts.RecordTimeout = defaultRecordTimeout
	}
	if opts.Callbacks == nil {
		opts.Callbacks = func(string, string) Callbacks { return Callbacks{} }
	}
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return time.Now().UTC() }
	}
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}
	return &Orchestrator{
		opts:     opts,
		deps:     deps,
		notifier: newNotifier(),
		now:      opts.Clock,
	}
}

// NewOrderID returns "<prefix>-<last 8 digits of the unix millis>".
func NewOrderID(prefix string, t time.Time) string {
	return fmt.Sprintf("%s-%08d", prefix, t.UnixMilli()%100000000)
}

// Start opens a new checkout attempt for a course.
// Gateway failures are not errors: they end the attempt and are reported in the Outcome.
func (o *Orchestrator) Start(ctx context.Context, req StartCheckout) (Checkout, error) {
	if !req.Method.IsValid() {
		return Checkout{}, ErrInvalidMethod
	}
	if req.Mode == "" {
		req.Mode = ModeEmbedded
	}

	crs, err := o.deps.Courses.GetByID(ctx, req.CourseID)
	if err != nil {
		return Checkout{}, errors.Wrap(err, "finding course")
	}
	amount := crs.CheckoutAmount()
	if !amount.IsPositive() {
		return Checkout{}, ErrInvalidAmount
	}

	now := o.now()
	a, err := o.create(ctx, Attempt{
		Amount:        amount,
		Currency:      o.opts.Currency,
		State:         StateIdle,
		Method:        req.Method,
		Mode:          req.Mode,
		UserID:        req.UserID,
		UserName:      req.UserName,
		CourseID:      crs.ID,
		CourseTitle:   crs.Title,
		CallbackToken: newCallbackToken(),
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	if err != nil {
		return Checkout{}, err
	}
	o.deps.Observer.CheckoutStarted(a.Method)

	if a.Method == MethodManual {
		return o.startManual(ctx, a)
	}
	return o.startCard(ctx, a)
}

func (o *Orchestrator) create(ctx context.Context, a Attempt) (Attempt, error) {
	millis := a.CreatedAt.UnixMilli()
	for i := 0; i < maxOrderIDTries; i++ {
		a.OrderID = NewOrderID(o.opts.OrderPrefix, time.UnixMilli(millis+int64(i)))
		err := o.deps.Store.Create(ctx, a)
		if err == nil {
			return a, nil
		}
		if !errors.Is(err, ErrDuplicateOrder) {
			return Attempt{}, errors.Wrap(err, "creating attempt")
		}
	}
	return Attempt{}, errors.Wrap(ErrDuplicateOrder, "generating order id")
}

// startManual skips the gateway: the attempt is pending until an operator confirms the transfer.
func (o *Orchestrator) startManual(ctx context.Context, a Attempt) (Checkout, error) {
	paymentID := NewRecordID("")
	a, err := o.update(ctx, a.OrderID, func(a *Attempt) error {
		if err := a.transition(StatePending, o.now()); err != nil {
			return err
		}
		a.PaymentID = paymentID
		a.Message = msgPending
		return nil
	})
	if err != nil {
		return Checkout{}, errors.Wrap(err, "marking attempt pending")
	}

	rec := newRecord(a, RecordPending, PaymentCliQ, "", o.now())
	if err = o.deps.Recorder.RecordPayment(context.WithoutCancel(ctx), rec); err != nil {
		o.deps.Logger.Error(fmt.Sprintf("recording pending payment: %v", err), err, logFields(a))
		a = o.annotate(ctx, a, func(a *Attempt) { a.Message = msgPendingNotSaved })
	}
	return Checkout{Attempt: a.View(), Outcome: a.Outcome()}, nil
}

func (o *Orchestrator) startCard(ctx context.Context, a Attempt) (Checkout, error) {
	a, err := o.update(ctx, a.OrderID, func(a *Attempt) error {
		return a.transition(StateSessionRequested, o.now())
	})
	if err != nil {
		return Checkout{}, errors.Wrap(err, "requesting session")
	}

	callbacks := o.opts.Callbacks(a.OrderID, a.CallbackToken)
	sess, err := o.deps.Gateway.CreateSession(ctx, SessionRequest{
		OrderID:     a.OrderID,
		Amount:      a.Amount,
		Currency:    a.Currency,
		Description: a.CourseTitle,
		ReturnURL:   callbacks.Return,
		CancelURL:   callbacks.Cancel,
	})
	if err != nil {
		msg := msgSessionFailed
		var confErr *ConfigurationError
		if errors.As(err, &confErr) {
			msg = msgUnavailable
		}
		o.deps.Logger.Error(fmt.Sprintf("creating gateway session: %v", err), err, logFields(a))
		return o.failed(ctx, a, msg)
	}

	a, err = o.update(ctx, a.OrderID, func(a *Attempt) error {
		if err := a.transition(StateAwaitingCheckout, o.now()); err != nil {
			return err
		}
		a.SessionID = sess.SessionID
		a.MerchantID = sess.MerchantID
		a.SuccessIndicator = sess.SuccessIndicator
		return nil
	})
	if err != nil {
		return Checkout{}, errors.Wrap(err, "awaiting checkout")
	}

	pres, err := o.deps.Checkout.Configure(ctx, CheckoutConfig{
		MerchantID:  a.MerchantID,
		SessionID:   a.SessionID,
		OrderID:     a.OrderID,
		Amount:      a.Amount,
		Currency:    a.Currency,
		Description: a.CourseTitle,
		Mode:        a.Mode,
		Callbacks:   callbacks,
	})
	if err != nil {
		o.deps.Logger.Error(fmt.Sprintf("configuring hosted checkout: %v", err), err, logFields(a))
		return o.failed(ctx, a, msgSessionFailed)
	}
	return Checkout{Attempt: a.View(), Outcome: a.Outcome(), Presentation: &pres}, nil
}

// failed ends an attempt that could not reach the hosted checkout.
func (o *Orchestrator) failed(ctx context.Context, a Attempt, msg string) (Checkout, error) {
	a, err := o.update(ctx, a.OrderID, func(a *Attempt) error { return a.fail(msg, o.now()) })
	if err != nil {
		return Checkout{}, errors.Wrap(err, "failing attempt")
	}
	return Checkout{Attempt: a.View(), Outcome: a.Outcome()}, nil
}

// Handle applies a hosted checkout event to an attempt.
// A repeated complete never verifies twice: it gets the outcome of the first one.
func (o *Orchestrator) Handle(ctx context.Context, orderID string, caller Caller, cb Callback) (Outcome, error) {
	a, err := o.authorize(ctx, orderID, caller)
	if err != nil {
		return Outcome{}, err
	}
	if a, err = o.expire(ctx, a); err != nil {
		return Outcome{}, err
	}

	switch cb.Kind {
	case CallbackComplete:
		return o.complete(ctx, a, cb.ResultIndicator)
	case CallbackError:
		return o.decline(ctx, a, cb.Reason)
	case CallbackCancel:
		return o.cancel(ctx, a)
	}
	return Outcome{}, ErrInvalidCallback
}

func (o *Orchestrator) complete(ctx context.Context, a Attempt, resultIndicator string) (Outcome, error) {
	var won bool
	a, err := o.update(ctx, a.OrderID, func(a *Attempt) error {
		won = false
		if a.State != StateAwaitingCheckout {
			return errUnchanged
		}
		if err := a.transition(StateCompleting, o.now()); err != nil {
			return err
		}
		a.ResultIndicator = resultIndicator
		won = true
		return nil
	})
	if err != nil {
		return Outcome{}, errors.Wrap(err, "completing attempt")
	}
	if !won {
		o.deps.Logger.Info("ignoring repeated checkout completion", logFields(a))
		if a.State == StateCompleting {
			return o.wait(ctx, a.OrderID)
		}
		return a.Outcome(), nil
	}
	return o.verify(ctx, a)
}

// verify runs under its own deadline and survives the caller going away, so that the attempt always ends.
func (o *Orchestrator) verify(ctx context.Context, a Attempt) (Outcome, error) {
	req := VerifyRequest{OrderID: a.OrderID, ResultIndicator: a.ResultIndicator, SuccessIndicator: a.SuccessIndicator}
	if err := req.Validate(); err != nil {
		o.deps.Logger.Warn(fmt.Sprintf("rejecting checkout completion: %v", err), err, logFields(a))
		return o.finish(ctx, a, msgNotConfirmed)
	}

	vctx := context.WithoutCancel(ctx)
	if o.opts.VerifyTimeout > 0 {
		var cancel context.CancelFunc
		vctx, cancel = context.WithTimeout(vctx, o.opts.VerifyTimeout)
		defer cancel()
	}

	res, err := o.deps.Gateway.VerifyOrder(vctx, req)
	switch {
	case err != nil && (errors.Is(err, context.DeadlineExceeded) || vctx.Err() != nil):
		o.deps.Logger.Error("payment verification timed out", errors.Wrap(ErrVerificationTimeout, err.Error()), logFields(a))
		return o.finish(ctx, a, msgVerifyTimeout)
	case err != nil:
		o.deps.Logger.Error(fmt.Sprintf("verifying payment: %v", err), err, logFields(a))
		return o.finish(ctx, a, msgVerifyError)
	case !res.Success:
		o.deps.Logger.Warn(fmt.Sprintf("payment not verified: status %q", res.Status), ErrVerificationFailed, logFields(a))
		return o.finish(ctx, a, msgVerifyFailed)
	case !amountMatches(a, res):
		o.deps.Logger.Error(
			fmt.Sprintf("verified %s %s, expected %s %s", res.Amount, res.Currency, a.Amount, a.Currency),
			ErrAmountMismatch, logFields(a),
		)
		return o.finish(ctx, a, msgNotConfirmed)
	}
	return o.verified(ctx, a, res)
}

// verified claims the attempt for the confirmed payment, records it, then closes the attempt.
// Once claimed, the attempt no longer expires, and a recorder failure does not fail the payment:
// the money was taken, access will follow.
func (o *Orchestrator) verified(ctx context.Context, a Attempt, res VerificationResult) (Outcome, error) {
	rctx := context.WithoutCancel(ctx)
	rec := newRecord(a, RecordSuccess, PaymentCreditCard, res.TransactionID, o.now())

	var claimed bool
	a, err := o.update(rctx, a.OrderID, func(a *Attempt) error {
		claimed = false
		if a.State != StateCompleting {
			return errUnchanged
		}
		a.TransactionID = res.TransactionID
		a.PaymentID = rec.ID
		claimed = true
		return nil
	})
	if err != nil {
		return Outcome{}, errors.Wrap(err, "claiming verified attempt")
	}
	if !claimed {
		// the attempt ended while the gateway answered: the payment is still kept
		o.deps.Logger.Error("payment confirmed after its attempt ended", ErrInvalidTransition, logFields(a))
		if err := o.record(rctx, rec); err != nil {
			o.deps.Logger.Error(fmt.Sprintf("recording verified payment: %v", err), err, logFields(a))
		}
		return a.Outcome(), nil
	}

	var delayed bool
	if err := o.recordWithTimeout(rctx, rec); err != nil {
		o.deps.Logger.Error(fmt.Sprintf("recording verified payment: %v", err), err, logFields(a))
		delayed = true
	}

	a, err = o.update(rctx, a.OrderID, func(a *Attempt) error {
		if err := a.transition(StateVerified, o.now()); err != nil {
			return err
		}
		a.ActivationDelayed = delayed
		a.Message = msgSuccess
		if delayed {
			a.Message = msgActivationDelayed
		}
		return nil
	})
	if err != nil {
		return Outcome{}, errors.Wrap(err, "marking attempt verified")
	}
	return a.Outcome(), nil
}

func (o *Orchestrator) recordWithTimeout(ctx context.Context, rec Record) error {
	ctx, cancel := context.WithTimeout(ctx, o.opts.RecordTimeout)
	defer cancel()
	return o.record(ctx, rec)
}

func (o *Orchestrator) record(ctx context.Context, rec Record) error {
	if err := o.deps.Recorder.RecordPayment(ctx, rec); err != nil {
		return errors.Wrap(err, "recording payment")
	}
	return errors.Wrap(o.deps.Recorder.GrantCourseAccess(ctx, rec.UserID, rec.CourseID), "granting course access")
}

// finish fails a Completing attempt.
func (o *Orchestrator) finish(ctx context.Context, a Attempt, msg string) (Outcome, error) {
	a, err := o.update(context.WithoutCancel(ctx), a.OrderID, func(a *Attempt) error {
		return a.fail(msg, o.now())
	})
	if err != nil {
		return Outcome{}, errors.Wrap(err, "failing attempt")
	}
	return a.Outcome(), nil
}

func (o *Orchestrator) decline(ctx context.Context, a Attempt, reason string) (Outcome, error) {
	a, err := o.update(ctx, a.OrderID, func(a *Attempt) error {
		if a.State != StateAwaitingCheckout {
			return errUnchanged
		}
		return a.fail(msgDeclined, o.now())
	})
	if err != nil {
		return Outcome{}, errors.Wrap(err, "declining attempt")
	}
	if reason != "" {
		o.deps.Logger.Info(fmt.Sprintf("hosted checkout error: %s", reason), logFields(a))
	}
	return a.Outcome(), nil
}

func (o *Orchestrator) cancel(ctx context.Context, a Attempt) (Outcome, error) {
	a, err := o.update(ctx, a.OrderID, func(a *Attempt) error {
		if a.State != StateAwaitingCheckout {
			return errUnchanged
		}
		return a.cancel(msgCancelled, o.now())
	})
	if err != nil {
		return Outcome{}, errors.Wrap(err, "cancelling attempt")
	}
	if a.State == StateCompleting {
		// completion was already reported: its verification decides
		return o.wait(ctx, a.OrderID)
	}
	return a.Outcome(), nil
}

// Status returns the attempt as it stands.
func (o *Orchestrator) Status(ctx context.Context, orderID string, caller Caller) (Checkout, error) {
	a, err := o.authorize(ctx, orderID, caller)
	if err != nil {
		return Checkout{}, err
	}
	if a, err = o.expire(ctx, a); err != nil {
		return Checkout{}, err
	}
	return Checkout{Attempt: a.View(), Outcome: a.Outcome()}, nil
}

// Wait blocks until the attempt ends or ctx is done, then returns its outcome.
func (o *Orchestrator) Wait(ctx context.Context, orderID string, caller Caller) (Outcome, error) {
	if _, err := o.authorize(ctx, orderID, caller); err != nil {
		return Outcome{}, err
	}
	return o.wait(ctx, orderID)
}

func (o *Orchestrator) wait(ctx context.Context, orderID string) (Outcome, error) {
	ticker := time.NewTicker(o.opts.PollInterval)
	defer ticker.Stop()

	for {
		ch, unsubscribe := o.notifier.subscribe(orderID)
		a, err := o.deps.Store.Get(ctx, orderID)
		if err == nil {
			a, err = o.expire(ctx, a)
		}
		if err != nil {
			unsubscribe()
			if ctx.Err() != nil {
				return Outcome{OrderID: orderID, State: StateCompleting, Kind: OutcomeProcessing, Message: msgProcessing}, nil
			}
			return Outcome{}, err
		}
		if a.State.IsTerminal() {
			unsubscribe()
			return a.Outcome(), nil
		}

		select {
		case <-ch:
		case <-ticker.C: // another instance may have moved it
		case <-ctx.Done():
			unsubscribe()
			return a.Outcome(), nil
		}
		unsubscribe()
	}
}

// authorize hides attempts from anyone but their owner or the token holder.
func (o *Orchestrator) authorize(ctx context.Context, orderID string, caller Caller) (Attempt, error) {
	a, err := o.deps.Store.Get(ctx, orderID)
	if err != nil {
		return Attempt{}, err
	}
	switch {
	case caller.UserID != "" && caller.UserID == a.UserID:
		return a, nil
	case caller.CallbackToken != "" &&
		subtle.ConstantTimeCompare([]byte(caller.CallbackToken), []byte(a.CallbackToken)) == 1:
		return a, nil
	}
	return Attempt{}, ErrAttemptNotFound
}

// expire cancels an attempt left waiting for too long.
func (o *Orchestrator) expire(ctx context.Context, a Attempt) (Attempt, error) {
	if !a.expired(o.now(), o.opts.CheckoutTimeout, o.opts.VerifyTimeout) {
		return a, nil
	}
	a, err := o.update(ctx, a.OrderID, func(a *Attempt) error {
		now := o.now()
		if !a.expired(now, o.opts.CheckoutTimeout, o.opts.VerifyTimeout) {
			return errUnchanged
		}
		msg := msgExpired
		if a.State == StateCompleting {
			msg = msgVerifyTimeout
		}
		return a.cancel(msg, now)
	})
	if err != nil {
		return Attempt{}, errors.Wrap(err, "expiring attempt")
	}
	if a.State == StateCancelled {
		o.deps.Logger.Info("checkout attempt expired", logFields(a))
	}
	return a, nil
}

// update wraps AttemptStore.Update: errUnchanged yields the stored attempt,
// and reaching a terminal state wakes up the attempt's waiters.
func (o *Orchestrator) update(ctx context.Context, orderID string, fn func(a *Attempt) error) (Attempt, error) {
	var prev State
	a, err := o.deps.Store.Update(ctx, orderID, func(a *Attempt) error {
		prev = a.State
		return fn(a)
	})
	if errors.Is(err, errUnchanged) {
		return o.deps.Store.Get(ctx, orderID)
	}
	if err != nil {
		return Attempt{}, err
	}
	if a.State != prev && a.State.IsTerminal() {
		o.notifier.notify(orderID)
		o.deps.Observer.CheckoutFinished(a.Method, a.State, a.UpdatedAt.Sub(a.CreatedAt))
	}
	return a, nil
}

// annotate changes non-state fields, best effort.
func (o *Orchestrator) annotate(ctx context.Context, a Attempt, fn func(a *Attempt)) Attempt {
	updated, err := o.deps.Store.Update(context.WithoutCancel(ctx), a.OrderID, func(a *Attempt) error {
		fn(a)
		return nil
	})
	if err != nil {
		o.deps.Logger.Error(fmt.Sprintf("updating attempt: %v", err), err, logFields(a))
		fn(&a)
		return a
	}
	return updated
}

func newCallbackToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func amountMatches(a Attempt, res VerificationResult) bool {
	if !res.Amount.IsZero() && !res.Amount.Equal(a.Amount) {
		return false
	}
	return res.Currency == "" || strings.EqualFold(res.Currency, a.Currency)
}

func newRecord(a Attempt, status RecordStatus, method PaymentMethod, transactionID string, now time.Time) Record {
	id := a.PaymentID
	if id == "" {
		id = NewRecordID(transactionID)
	}
	return Record{
		ID:             id,
		Date:           now,
		UserID:         a.UserID,
		UserName:       a.UserName,
		CourseID:       a.CourseID,
		CourseName:     a.CourseTitle,
		Amount:         a.Amount,
		Currency:       a.Currency,
		Status:         status,
		PaymentMethod:  method,
		GatewayOrderID: a.OrderID,
		TransactionID:  transactionID,
	}
}

// logFields never includes the indicators.
func logFields(a Attempt) map[string]interface{} {
	return map[string]interface{}{
		"order_id":  a.OrderID,
		"state":     a.State,
		"user_id":   a.UserID,
		"course_id": a.CourseID,
	}
}

type nopObserver struct{}

func (nopObserver) CheckoutStarted(Method) {}

func (nopObserver) CheckoutFinished(Method, State, time.Duration) {}
