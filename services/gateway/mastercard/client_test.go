package mastercard

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/jotutor/core/payment"
)

type gatewayStub struct {
	*httptest.Server
	calls int32

	mu       sync.Mutex
	lastReq  *http.Request
	lastBody []byte
}

func newGatewayStub(t *testing.T, status int, body string) *gatewayStub {
	t.Helper()
	stub := &gatewayStub{}
	stub.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&stub.calls, 1)
		reqBody, _ := io.ReadAll(r.Body)
		stub.mu.Lock()
		stub.lastReq, stub.lastBody = r, reqBody
		stub.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(stub.Close)
	return stub
}

func (s *gatewayStub) Calls() int { return int(atomic.LoadInt32(&s.calls)) }

func newTestClient(baseURL string, observer payment.GatewayObserver) *Client {
	return NewClient(Options{
		BaseURL:         baseURL,
		MerchantID:      "M1",
		APIPassword:     "secret",
		MerchantName:    "JoTutor",
		MerchantAddress: "Amman, Jordan",
	}, &http.Client{Timeout: 5 * time.Second}, observer)
}

type recordingObserver struct {
	outcomes []string
}

func (o *recordingObserver) ObserveGatewayCall(op, outcome string, _ time.Duration) {
	o.outcomes = append(o.outcomes, op+":"+outcome)
}

func TestClient_CreateSession(t *testing.T) {
	ctx := context.Background()
	req := payment.SessionRequest{
		OrderID:     "JOT-12345678",
		Amount:      decimal.NewFromInt(179),
		Currency:    "JOD",
		Description: "IELTS Preparation",
	}

	t.Run("success", func(t *testing.T) {
		stub := newGatewayStub(t, http.StatusCreated, `{"result":"SUCCESS","session":{"id":"S1"},"successIndicator":"SI1"}`)
		obs := new(recordingObserver)

		sess, err := newTestClient(stub.URL, obs).CreateSession(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, payment.Session{SessionID: "S1", MerchantID: "M1", SuccessIndicator: "SI1"}, sess)

		assert.Equal(t, http.MethodPost, stub.lastReq.Method)
		assert.Equal(t, "/api/rest/version/63/merchant/M1/session", stub.lastReq.URL.Path)
		wantAuth := "Basic " + base64.StdEncoding.EncodeToString([]byte("merchant.M1:secret"))
		assert.Equal(t, wantAuth, stub.lastReq.Header.Get("Authorization"))

		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(stub.lastBody, &body))
		assert.Equal(t, "CREATE_CHECKOUT_SESSION", body["apiOperation"])
		assert.Equal(t, map[string]interface{}{
			"id": "JOT-12345678", "amount": "179.00", "currency": "JOD", "description": "IELTS Preparation",
		}, body["order"])
		interaction := body["interaction"].(map[string]interface{})
		assert.Equal(t, "PURCHASE", interaction["operation"])
		assert.Equal(t, map[string]interface{}{"name": "JoTutor", "address": map[string]interface{}{"line1": "Amman, Jordan"}}, interaction["merchant"])
		assert.Equal(t, []string{"create_session:ok"}, obs.outcomes)
	})

	t.Run("legacy operation sends no order", func(t *testing.T) {
		stub := newGatewayStub(t, http.StatusOK, `{"session":{"id":"S1"},"successIndicator":"SI1"}`)
		client := newTestClient(stub.URL, nil)
		client.opts.SessionOperation = "CREATE_SESSION"

		_, err := client.CreateSession(ctx, req)
		require.NoError(t, err)
		assert.JSONEq(t, `{"apiOperation":"CREATE_SESSION"}`, string(stub.lastBody))
	})

	t.Run("missing credentials", func(t *testing.T) {
		stub := newGatewayStub(t, http.StatusOK, `{}`)
		tests := []struct {
			name        string
			merchantID  string
			apiPassword string
			wantMissing []string
		}{
			{name: "both", wantMissing: []string{envMerchantID, envAPIPassword}},
			{name: "password", merchantID: "M1", wantMissing: []string{envAPIPassword}},
			{name: "merchant", apiPassword: "secret", wantMissing: []string{envMerchantID}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				client := NewClient(Options{BaseURL: stub.URL, MerchantID: tt.merchantID, APIPassword: tt.apiPassword}, nil, nil)
				_, err := client.CreateSession(ctx, req)

				var confErr *payment.ConfigurationError
				require.True(t, errors.As(err, &confErr))
				assert.Equal(t, tt.wantMissing, confErr.Missing)
			})
		}
		assert.Equal(t, 0, stub.Calls(), "no request may be sent without credentials")
	})

	t.Run("gateway rejects", func(t *testing.T) {
		stub := newGatewayStub(t, http.StatusUnauthorized, `{"error":{"cause":"INVALID_REQUEST","explanation":"Invalid credentials."},"result":"ERROR"}`)

		_, err := newTestClient(stub.URL, nil).CreateSession(ctx, req)
		var gwErr *payment.GatewayError
		require.True(t, errors.As(err, &gwErr))
		assert.Equal(t, http.StatusUnauthorized, gwErr.StatusCode)
		assert.JSONEq(t, `{"error":{"cause":"INVALID_REQUEST","explanation":"Invalid credentials."},"result":"ERROR"}`, string(gwErr.Details))
	})

	t.Run("no session id", func(t *testing.T) {
		stub := newGatewayStub(t, http.StatusOK, `{"result":"SUCCESS"}`)

		_, err := newTestClient(stub.URL, nil).CreateSession(ctx, req)
		var gwErr *payment.GatewayError
		require.True(t, errors.As(err, &gwErr))
		assert.Equal(t, http.StatusOK, gwErr.StatusCode)
	})

	t.Run("network failure", func(t *testing.T) {
		stub := newGatewayStub(t, http.StatusOK, `{}`)
		stub.Close()

		_, err := newTestClient(stub.URL, nil).CreateSession(ctx, req)
		var netErr *payment.NetworkError
		assert.True(t, errors.As(err, &netErr))
	})
}

func TestClient_VerifyOrder(t *testing.T) {
	ctx := context.Background()
	valid := payment.VerifyRequest{OrderID: "JOT-12345678", ResultIndicator: "SI1", SuccessIndicator: "SI1"}
	captured := `{"status":"CAPTURED","amount":179,"currency":"JOD","transaction":[{"transaction":{"id":"TRX-1"}}]}`

	t.Run("captured", func(t *testing.T) {
		stub := newGatewayStub(t, http.StatusOK, captured)

		res, err := newTestClient(stub.URL, nil).VerifyOrder(ctx, valid)
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.Equal(t, "CAPTURED", res.Status)
		assert.True(t, res.Amount.Equal(decimal.NewFromInt(179)))
		assert.Equal(t, "JOD", res.Currency)
		assert.Equal(t, "TRX-1", res.TransactionID)
		assert.Equal(t, http.MethodGet, stub.lastReq.Method)
		assert.Equal(t, "/api/rest/version/100/merchant/M1/order/JOT-12345678", stub.lastReq.URL.Path)
	})

	t.Run("idempotent", func(t *testing.T) {
		stub := newGatewayStub(t, http.StatusOK, captured)
		client := newTestClient(stub.URL, nil)

		first, err := client.VerifyOrder(ctx, valid)
		require.NoError(t, err)
		second, err := client.VerifyOrder(ctx, valid)
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})

	t.Run("authorized", func(t *testing.T) {
		stub := newGatewayStub(t, http.StatusOK, `{"status":"AUTHORIZED","amount":179,"currency":"JOD","transaction":[]}`)

		res, err := newTestClient(stub.URL, nil).VerifyOrder(ctx, valid)
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.Empty(t, res.TransactionID)
	})

	t.Run("other statuses are not verified", func(t *testing.T) {
		for _, body := range []string{
			`{"status":"FAILED","amount":179}`,
			`{"status":"PENDING"}`,
			`{"status":"CANCELLED"}`,
			`{"status":"SOMETHING_NEW"}`,
			`{"result":"SUCCESS"}`,
		} {
			t.Run(body, func(t *testing.T) {
				stub := newGatewayStub(t, http.StatusOK, body)

				res, err := newTestClient(stub.URL, nil).VerifyOrder(ctx, valid)
				require.NoError(t, err)
				assert.False(t, res.Success)
				assert.JSONEq(t, body, string(res.Details))
			})
		}
	})

	t.Run("gateway error status", func(t *testing.T) {
		stub := newGatewayStub(t, http.StatusNotFound, `{"error":{"cause":"INVALID_REQUEST"},"result":"ERROR"}`)

		res, err := newTestClient(stub.URL, nil).VerifyOrder(ctx, valid)
		require.NoError(t, err)
		assert.False(t, res.Success)
	})

	t.Run("mismatch never calls the gateway", func(t *testing.T) {
		stub := newGatewayStub(t, http.StatusOK, captured)
		obs := new(recordingObserver)

		_, err := newTestClient(stub.URL, obs).VerifyOrder(ctx, payment.VerifyRequest{
			OrderID: "JOT-12345678", ResultIndicator: "WRONG", SuccessIndicator: "SI1",
		})
		assert.Equal(t, payment.ErrSecurityMismatch, err)
		assert.Equal(t, 0, stub.Calls())
		assert.Equal(t, []string{"verify_order:rejected"}, obs.outcomes)
	})

	t.Run("missing parameters", func(t *testing.T) {
		stub := newGatewayStub(t, http.StatusOK, captured)
		client := newTestClient(stub.URL, nil)

		for _, req := range []payment.VerifyRequest{
			{ResultIndicator: "SI1", SuccessIndicator: "SI1"},
			{OrderID: "JOT-1", SuccessIndicator: "SI1"},
			{OrderID: "JOT-1", ResultIndicator: "SI1"},
		} {
			_, err := client.VerifyOrder(ctx, req)
			assert.Equal(t, payment.ErrMissingParameters, err)
		}
		assert.Equal(t, 0, stub.Calls())
	})

	t.Run("unreadable body", func(t *testing.T) {
		stub := newGatewayStub(t, http.StatusBadGateway, `<html>bad gateway</html>`)

		_, err := newTestClient(stub.URL, nil).VerifyOrder(ctx, valid)
		var gwErr *payment.GatewayError
		require.True(t, errors.As(err, &gwErr))
		assert.Equal(t, http.StatusBadGateway, gwErr.StatusCode)
		assert.Equal(t, `"<html>bad gateway</html>"`, string(gwErr.Details))
	})
}

func TestHostedCheckout_Configure(t *testing.T) {
	h := NewHostedCheckout(Options{BaseURL: "https://gw.test", MerchantName: "JoTutor", MerchantAddress: "Amman, Jordan"})
	callbacks := payment.Callbacks{Events: "http://api.test/api/checkout/JOT-1/events"}

	pres, err := h.Configure(context.Background(), payment.CheckoutConfig{
		MerchantID:  "M1",
		SessionID:   "S1",
		OrderID:     "JOT-1",
		Amount:      decimal.RequireFromString("179.5"),
		Currency:    "JOD",
		Description: "IELTS Preparation",
		Callbacks:   callbacks,
	})
	require.NoError(t, err)
	assert.Equal(t, payment.ModeEmbedded, pres.Mode)
	assert.Equal(t, payment.ModeRedirect, pres.Fallback)
	assert.Equal(t, "https://gw.test/static/checkout/checkout.min.js", pres.ScriptURL)
	assert.Equal(t, callbacks, pres.Callbacks)

	data, err := json.Marshal(pres.Config)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"merchant": "M1",
		"session": {"id": "S1"},
		"order": {"amount": "179.50", "currency": "JOD", "description": "IELTS Preparation", "id": "JOT-1"},
		"interaction": {"merchant": {"name": "JoTutor", "address": {"line1": "Amman, Jordan"}}}
	}`, string(data))

	pres, err = h.Configure(context.Background(), payment.CheckoutConfig{MerchantID: "M1", SessionID: "S1", Mode: payment.ModeRedirect})
	require.NoError(t, err)
	assert.Equal(t, payment.ModeRedirect, pres.Mode)
	assert.Empty(t, pres.Fallback)

	_, err = h.Configure(context.Background(), payment.CheckoutConfig{MerchantID: "M1"})
	assert.Error(t, err)
}
