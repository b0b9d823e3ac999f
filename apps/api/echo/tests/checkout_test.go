package tests

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/jotutor/core"
	"github.com/trezcool/jotutor/core/payment"
)

type checkoutFixture struct {
	*testEnv
	token string
}

func newCheckoutFixture(t *testing.T, opts ...func(conf *core.Config)) checkoutFixture {
	env := setup(t, opts...)
	student := env.createStudent(t, "Lina Haddad", "lina")
	env.createCourse(t)
	return checkoutFixture{testEnv: env, token: getToken(t, env.conf, student)}
}

func (f checkoutFixture) start(t *testing.T, body string) payment.Checkout {
	t.Helper()
	rec := f.do(newAuthRequest(http.MethodPost, "/api/checkout", f.token, []byte(body)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var co payment.Checkout
	unmarshal(t, rec, &co)
	return co
}

func (f checkoutFixture) event(t *testing.T, orderID, token, body string) (int, payment.Outcome) {
	t.Helper()
	rec := f.do(newAuthRequest(http.MethodPost, "/api/checkout/"+orderID+"/events", token, []byte(body)))
	var out payment.Outcome
	if rec.Code == http.StatusOK {
		unmarshal(t, rec, &out)
	}
	return rec.Code, out
}

func callbackToken(t *testing.T, co payment.Checkout) string {
	t.Helper()
	require.NotNil(t, co.Presentation)
	u, err := url.Parse(co.Presentation.Callbacks.Events)
	require.NoError(t, err)
	return u.Query().Get("token")
}

func Test_checkoutApi_start(t *testing.T) {
	f := newCheckoutFixture(t)

	tests := []httpTest{
		{name: "auth required", body: []byte(`{"course_id": "ielts", "method": "card"}`), wantCode: http.StatusUnauthorized,
			wantData: marchallObj(t, errMissingToken)},
		{name: "validation", token: f.token, body: []byte(`{"method": "paypal", "mode": "popup"}`), wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{
				"course_id": "this field is required",
				"method":    "method must be one of [card manual]",
				"mode":      "mode must be one of [embedded redirect]",
			})},
		{name: "unknown course", token: f.token, body: []byte(`{"course_id": "toefl", "method": "card"}`), wantCode: http.StatusNotFound,
			wantData: marchallObj(t, httpErr{Error: "course not found"})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(newAuthRequest(http.MethodPost, "/api/checkout", tt.token, tt.body))
			checkCodeAndData(t, tt, rec)
		})
	}

	t.Run("card", func(t *testing.T) {
		rec := f.do(newAuthRequest(http.MethodPost, "/api/checkout", f.token, []byte(`{"course_id": "ielts", "method": "card"}`)))
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		assert.NotContains(t, rec.Body.String(), testSuccessIndicator)
		var co payment.Checkout
		unmarshal(t, rec, &co)

		assert.True(t, strings.HasPrefix(co.Attempt.OrderID, "JOT-"))
		assert.Equal(t, payment.StateAwaitingCheckout, co.Attempt.State)
		assert.True(t, decimal.NewFromInt(179).Equal(co.Attempt.Amount), "price_jod wins over price")
		assert.Equal(t, "JOD", co.Attempt.Currency)
		assert.Equal(t, payment.OutcomeProcessing, co.Outcome.Kind)

		pres := co.Presentation
		require.NotNil(t, pres)
		assert.Equal(t, payment.ModeEmbedded, pres.Mode)
		assert.Equal(t, payment.ModeRedirect, pres.Fallback)
		assert.Equal(t, f.gateway.URL+"/static/checkout/checkout.min.js", pres.ScriptURL)
		assert.True(t, strings.HasPrefix(pres.Callbacks.Events, "http://api.jotutor.test/api/checkout/"+co.Attempt.OrderID+"/events?token="))
		assert.NotEmpty(t, callbackToken(t, co))

		config, ok := pres.Config.(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, "TESTMERCHANT", config["merchant"])
		assert.Equal(t, map[string]interface{}{"id": testSessionID}, config["session"])
	})

	t.Run("manual", func(t *testing.T) {
		co := f.start(t, `{"course_id": "ielts", "method": "manual"}`)

		assert.Equal(t, payment.StatePending, co.Attempt.State)
		assert.Equal(t, payment.OutcomePending, co.Outcome.Kind)
		assert.Nil(t, co.Presentation)

		recs, err := f.enrollment.QueryPayments(ctxBg, nil, nil)
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, payment.RecordPending, recs[0].Status)
		assert.Equal(t, payment.PaymentCliQ, recs[0].PaymentMethod)
		assert.Equal(t, co.Attempt.OrderID, recs[0].GatewayOrderID)
	})

	t.Run("gateway down", func(t *testing.T) {
		f.gateway.respondSession(http.StatusServiceUnavailable, `{"result":"ERROR"}`)
		defer f.gateway.respondSession(http.StatusOK, `{"session":{"id":"`+testSessionID+`"},"successIndicator":"`+testSuccessIndicator+`"}`)

		co := f.start(t, `{"course_id": "ielts", "method": "card"}`)
		assert.Equal(t, payment.StateFailed, co.Attempt.State)
		assert.Equal(t, payment.OutcomeFailure, co.Outcome.Kind)
		assert.True(t, co.Outcome.Retryable)
		assert.Nil(t, co.Presentation)
	})
}

func Test_checkoutApi_complete(t *testing.T) {
	f := newCheckoutFixture(t)
	co := f.start(t, `{"course_id": "ielts", "method": "card"}`)
	orderID := co.Attempt.OrderID
	complete := `{"event": "complete", "result_indicator": "` + testSuccessIndicator + `"}`

	code, out := f.event(t, orderID, f.token, complete)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, payment.OutcomeSuccess, out.Kind)
	assert.Equal(t, payment.StateVerified, out.State)
	assert.Equal(t, testTransactionID, out.TransactionID)
	assert.Equal(t, testTransactionID, out.PaymentID)
	assert.False(t, out.ActivationDelayed)

	// the browser reports completion again: same outcome, no second verification
	code, again := f.event(t, orderID, f.token, complete)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, out, again)
	assert.Equal(t, 1, f.gateway.OrderCalls())

	rec, err := f.payRepo.GetPayment(ctxBg, testTransactionID)
	require.NoError(t, err)
	assert.Equal(t, payment.RecordSuccess, rec.Status)
	assert.Equal(t, payment.PaymentCreditCard, rec.PaymentMethod)
	assert.Equal(t, orderID, rec.GatewayOrderID)
	assert.Equal(t, "IELTS Preparation", rec.CourseName)

	courses, err := f.enrollment.EnrolledCourses(ctxBg, rec.UserID)
	require.NoError(t, err)
	assert.Equal(t, []string{"ielts"}, courses)

	sent := f.mail.SentMessages()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].Subject, "Payment receipt")
}

func Test_checkoutApi_concurrentCompletion(t *testing.T) {
	f := newCheckoutFixture(t)
	co := f.start(t, `{"course_id": "ielts", "method": "card"}`)
	complete := `{"event": "complete", "result_indicator": "` + testSuccessIndicator + `"}`

	var wg sync.WaitGroup
	bodies := make([][]byte, 4)
	for i := range bodies {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec := f.do(newAuthRequest(http.MethodPost, "/api/checkout/"+co.Attempt.OrderID+"/events", f.token, []byte(complete)))
			bodies[i] = rec.Body.Bytes()
		}(i)
	}
	wg.Wait()

	for _, body := range bodies {
		var out payment.Outcome
		if assert.NoError(t, json.Unmarshal(body, &out)) {
			assert.Equal(t, payment.OutcomeSuccess, out.Kind)
		}
	}
	assert.Equal(t, 1, f.gateway.OrderCalls())

	recs, err := f.enrollment.QueryPayments(ctxBg, nil, nil)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func Test_checkoutApi_events(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		orderStatus int
		orderBody   string
		wantKind    payment.OutcomeKind
		wantState   payment.State
		wantCalls   int
	}{
		{name: "mismatch", body: `{"event": "complete", "result_indicator": "forged"}`,
			wantKind: payment.OutcomeFailure, wantState: payment.StateFailed},
		{name: "not captured", body: `{"event": "complete", "result_indicator": "` + testSuccessIndicator + `"}`,
			orderStatus: http.StatusOK, orderBody: `{"status":"FAILED"}`,
			wantKind: payment.OutcomeFailure, wantState: payment.StateFailed, wantCalls: 1},
		{name: "amount mismatch", body: `{"event": "complete", "result_indicator": "` + testSuccessIndicator + `"}`,
			orderStatus: http.StatusOK, orderBody: `{"status":"CAPTURED","amount":1,"currency":"JOD"}`,
			wantKind: payment.OutcomeFailure, wantState: payment.StateFailed, wantCalls: 1},
		{name: "declined", body: `{"event": "error", "reason": "card declined"}`,
			wantKind: payment.OutcomeFailure, wantState: payment.StateFailed},
		{name: "cancelled", body: `{"event": "cancel"}`,
			wantKind: payment.OutcomeFailure, wantState: payment.StateCancelled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newCheckoutFixture(t)
			if tt.orderStatus != 0 {
				f.gateway.respondOrder(tt.orderStatus, tt.orderBody)
			}
			co := f.start(t, `{"course_id": "ielts", "method": "card"}`)

			code, out := f.event(t, co.Attempt.OrderID, f.token, tt.body)
			require.Equal(t, http.StatusOK, code)
			assert.Equal(t, tt.wantKind, out.Kind)
			assert.Equal(t, tt.wantState, out.State)
			assert.True(t, out.Retryable)
			assert.NotEmpty(t, out.Message)
			assert.Equal(t, tt.wantCalls, f.gateway.OrderCalls())

			recs, err := f.enrollment.QueryPayments(ctxBg, nil, nil)
			require.NoError(t, err)
			assert.Empty(t, recs)
		})
	}
}

func Test_checkoutApi_authorization(t *testing.T) {
	f := newCheckoutFixture(t)
	co := f.start(t, `{"course_id": "ielts", "method": "card"}`)
	orderID := co.Attempt.OrderID
	token := callbackToken(t, co)

	intruder := f.createStudent(t, "Omar Saleh", "omar")
	notFound := marchallObj(t, httpErr{Error: "checkout attempt not found"})

	tests := []httpTest{
		{name: "auth required", path: "/api/checkout/" + orderID, wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{name: "someone else's attempt", path: "/api/checkout/" + orderID, token: getToken(t, f.conf, intruder),
			wantCode: http.StatusNotFound, wantData: notFound},
		{name: "wrong callback token", path: "/api/checkout/" + orderID + "?token=guess", wantCode: http.StatusNotFound, wantData: notFound},
		{name: "unknown attempt", path: "/api/checkout/JOT-00000000", token: f.token, wantCode: http.StatusNotFound, wantData: notFound},
		{name: "owner", path: "/api/checkout/" + orderID, token: f.token, wantCode: http.StatusOK},
		{name: "callback token", path: "/api/checkout/" + orderID + "?token=" + url.QueryEscape(token), wantCode: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(newAuthRequest(http.MethodGet, tt.path, tt.token))
			checkCodeAndData(t, tt, rec)
			if tt.wantCode == http.StatusOK {
				var got payment.Checkout
				unmarshal(t, rec, &got)
				assert.Equal(t, payment.StateAwaitingCheckout, got.Attempt.State)
				assert.NotContains(t, rec.Body.String(), testSuccessIndicator)
			}
		})
	}

	// the widget reports completion with the callback token only
	code, out := f.event(t, orderID, "", `{"event": "complete", "result_indicator": "`+testSuccessIndicator+`"}`)
	assert.Equal(t, http.StatusUnauthorized, code, "no token, no JWT")
	rec := f.do(newRequest(http.MethodPost, "/api/checkout/"+orderID+"/events?token="+url.QueryEscape(token),
		[]byte(`{"event": "complete", "result_indicator": "`+testSuccessIndicator+`"}`)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	unmarshal(t, rec, &out)
	assert.Equal(t, payment.OutcomeSuccess, out.Kind)
}

func Test_checkoutApi_wait(t *testing.T) {
	f := newCheckoutFixture(t)
	co := f.start(t, `{"course_id": "ielts", "method": "card"}`)
	orderID := co.Attempt.OrderID

	done := make(chan payment.Checkout, 1)
	go func() {
		rec := f.do(newAuthRequest(http.MethodGet, "/api/checkout/"+orderID+"?wait=true", f.token))
		var got payment.Checkout
		_ = json.Unmarshal(rec.Body.Bytes(), &got)
		done <- got
	}()

	code, _ := f.event(t, orderID, f.token, `{"event": "cancel"}`)
	require.Equal(t, http.StatusOK, code)

	got := <-done
	assert.Equal(t, payment.StateCancelled, got.Attempt.State)
	assert.Equal(t, payment.OutcomeFailure, got.Outcome.Kind)
}

func Test_checkoutApi_redirects(t *testing.T) {
	t.Run("return", func(t *testing.T) {
		f := newCheckoutFixture(t)
		co := f.start(t, `{"course_id": "ielts", "method": "card", "mode": "redirect"}`)
		require.Equal(t, payment.ModeRedirect, co.Presentation.Mode)
		assert.Empty(t, co.Presentation.Fallback)

		returnURL, err := url.Parse(co.Presentation.Callbacks.Return)
		require.NoError(t, err)
		q := returnURL.Query()
		q.Set("resultIndicator", testSuccessIndicator)

		rec := f.do(newRequest(http.MethodGet, returnURL.Path+"?"+q.Encode()))
		require.Equal(t, http.StatusSeeOther, rec.Code)
		assert.Equal(t, "http://jotutor.test/checkout/result?order_id="+co.Attempt.OrderID+"&outcome=success", rec.Header().Get("Location"))
	})

	t.Run("cancel", func(t *testing.T) {
		f := newCheckoutFixture(t)
		co := f.start(t, `{"course_id": "ielts", "method": "card", "mode": "redirect"}`)

		cancelURL, err := url.Parse(co.Presentation.Callbacks.Cancel)
		require.NoError(t, err)

		rec := f.do(newRequest(http.MethodGet, cancelURL.RequestURI()))
		require.Equal(t, http.StatusSeeOther, rec.Code)
		assert.Equal(t, "http://jotutor.test/checkout/result?order_id="+co.Attempt.OrderID+"&outcome=failure", rec.Header().Get("Location"))
		assert.Zero(t, f.gateway.OrderCalls())
	})

	t.Run("return after the checkout timed out", func(t *testing.T) {
		f := newCheckoutFixture(t, func(conf *core.Config) {
			conf.Checkout.AttemptTimeout = 100 * time.Millisecond
			conf.Checkout.Retention = time.Hour
		})
		co := f.start(t, `{"course_id": "ielts", "method": "card", "mode": "redirect"}`)

		returnURL, err := url.Parse(co.Presentation.Callbacks.Return)
		require.NoError(t, err)
		q := returnURL.Query()
		q.Set("resultIndicator", testSuccessIndicator)

		time.Sleep(150 * time.Millisecond)
		rec := f.do(newRequest(http.MethodGet, returnURL.Path+"?"+q.Encode()))
		require.Equal(t, http.StatusSeeOther, rec.Code, rec.Body.String())
		assert.Equal(t, "http://jotutor.test/checkout/result?order_id="+co.Attempt.OrderID+"&outcome=failure", rec.Header().Get("Location"))
		assert.Zero(t, f.gateway.OrderCalls())

		rec = f.do(newAuthRequest(http.MethodGet, "/api/checkout/"+co.Attempt.OrderID, f.token))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var status payment.Checkout
		unmarshal(t, rec, &status)
		assert.Equal(t, payment.StateCancelled, status.Attempt.State)
	})

	t.Run("no token", func(t *testing.T) {
		f := newCheckoutFixture(t)
		co := f.start(t, `{"course_id": "ielts", "method": "card", "mode": "redirect"}`)

		rec := f.do(newRequest(http.MethodGet, "/api/checkout/"+co.Attempt.OrderID+"/cancel"))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
