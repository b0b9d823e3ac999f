package tests

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	echoapi "github.com/trezcool/jotutor/apps/api/echo"
	"github.com/trezcool/jotutor/core"
	"github.com/trezcool/jotutor/core/course"
	"github.com/trezcool/jotutor/core/enrollment"
	"github.com/trezcool/jotutor/core/payment"
	"github.com/trezcool/jotutor/core/user"
	emailsvc "github.com/trezcool/jotutor/services/email"
	"github.com/trezcool/jotutor/services/events"
	"github.com/trezcool/jotutor/services/gateway/mastercard"
	"github.com/trezcool/jotutor/storage/cache"
	sqlxrepos "github.com/trezcool/jotutor/storage/database/sqlx"
	"github.com/trezcool/jotutor/testutil"
)

const (
	testSessionID        = "SESSION0002776555"
	testSuccessIndicator = "f1d8c3a2b7e94c05"
	testTransactionID    = "TXN-7781"
	testPassword         = "Str0ng&Secret"
)

var (
	ctxBg = context.Background()

	errMissingToken = httpErr{Error: "missing or malformed jwt"}
)

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
	extra    interface{}
}

// gatewayStub plays the Mastercard Gateway: one canned answer for sessions, one for orders.
type gatewayStub struct {
	*httptest.Server

	mu            sync.Mutex
	sessionStatus int
	sessionBody   string
	orderStatus   int
	orderBody     string
	orderCalls    int
}

func newGatewayStub(t *testing.T) *gatewayStub {
	g := &gatewayStub{
		sessionStatus: http.StatusOK,
		sessionBody:   `{"result":"SUCCESS","session":{"id":"` + testSessionID + `"},"successIndicator":"` + testSuccessIndicator + `"}`,
		orderStatus:   http.StatusOK,
		orderBody: `{"status":"CAPTURED","amount":179,"currency":"JOD",` +
			`"transaction":[{"transaction":{"id":"` + testTransactionID + `"}}]}`,
	}
	g.Server = httptest.NewServer(http.HandlerFunc(g.serve))
	t.Cleanup(g.Close)
	return g
}

func (g *gatewayStub) serve(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	defer g.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/session"):
		w.WriteHeader(g.sessionStatus)
		_, _ = w.Write([]byte(g.sessionBody))
	case r.Method == http.MethodGet && strings.Contains(r.URL.Path, "/order/"):
		g.orderCalls++
		w.WriteHeader(g.orderStatus)
		_, _ = w.Write([]byte(g.orderBody))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (g *gatewayStub) respondSession(status int, body string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sessionStatus, g.sessionBody = status, body
}

func (g *gatewayStub) respondOrder(status int, body string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.orderStatus, g.orderBody = status, body
}

func (g *gatewayStub) OrderCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.orderCalls
}

type testEnv struct {
	conf       *core.Config
	app        *echoapi.Server
	gateway    *gatewayStub
	usrRepo    user.Repository
	crsRepo    course.Repository
	payRepo    enrollment.Repository
	enrollment *enrollment.Service
	mail       *emailsvc.ConsoleService
}

// setup builds the API over a fresh SQLite database and a gateway stub; opts tweak the config first.
func setup(t *testing.T, opts ...func(conf *core.Config)) *testEnv {
	stub := newGatewayStub(t)
	conf := testutil.NewConfig()
	conf.Gateway.BaseURL = stub.URL
	conf.Server.PublicURL = "http://api.jotutor.test"
	conf.FrontendBaseURL = "http://jotutor.test"
	for _, opt := range opts {
		opt(conf)
	}

	logger := testutil.NewLogger(t)
	validate, translator := testutil.NewValidator()

	db := testutil.OpenDB(t)
	usrRepo := sqlxrepos.NewUserRepository(db)
	crsRepo := sqlxrepos.NewCourseRepository(db)
	payRepo := sqlxrepos.NewPaymentRepository(db)

	usrSvc := user.NewService(usrRepo)
	mail := emailsvc.NewConsoleServiceMock(conf, logger)
	enrollSvc := enrollment.NewService(payRepo, usrSvc, mail, events.NewLogPublisher(logger), logger)

	gwOpts := mastercard.OptionsFromConfig(conf)
	gw := mastercard.NewClient(gwOpts, stub.Client(), nil)
	orch := payment.NewOrchestrator(
		payment.Options{
			OrderPrefix:     conf.Checkout.OrderPrefix,
			Currency:        conf.Checkout.Currency,
			CheckoutTimeout: conf.Checkout.AttemptTimeout,
			VerifyTimeout:   2 * time.Second,
			PollInterval:    10 * time.Millisecond,
			Callbacks:       echoapi.CheckoutCallbacks(conf.Server.PublicURL),
		},
		payment.Deps{
			Courses:  course.NewService(crsRepo),
			Gateway:  gw,
			Checkout: mastercard.NewHostedCheckout(gwOpts),
			Store:    cache.NewMemoryAttemptStore(conf.Checkout.AttemptTimeout, conf.Checkout.Retention),
			Recorder: enrollSvc,
			Logger:   logger,
		},
	)

	app := echoapi.NewServer(
		&echoapi.Deps{
			Conf:         conf,
			Logger:       logger,
			Validate:     validate,
			Translator:   translator,
			UserSvc:      usrSvc,
			Gateway:      gw,
			Orchestrator: orch,
			Enrollment:   enrollSvc,
		},
		make(chan os.Signal, 1),
	)

	return &testEnv{
		conf:       conf,
		app:        app,
		gateway:    stub,
		usrRepo:    usrRepo,
		crsRepo:    crsRepo,
		payRepo:    payRepo,
		enrollment: enrollSvc,
		mail:       mail,
	}
}

func (env *testEnv) createStudent(t *testing.T, name, uname string) user.User {
	return testutil.CreateUser(t, env.usrRepo, name, uname, uname+"@jotutor.test", testPassword, []string{user.RoleStudent}, true)
}

func (env *testEnv) createAdmin(t *testing.T) user.User {
	return testutil.CreateUser(t, env.usrRepo, "Admin", "admin", "admin@jotutor.test", testPassword, []string{user.RoleAdmin}, true)
}

func (env *testEnv) createCourse(t *testing.T) course.Course {
	return testutil.CreateCourse(t, env.crsRepo, "ielts", "IELTS Preparation", decimal.NewFromInt(250), decimal.NewFromInt(179))
}

func (env *testEnv) do(req *http.Request, rec *httptest.ResponseRecorder) *httptest.ResponseRecorder {
	env.app.ServeHTTP(rec, req)
	return rec
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

func newRequest(method, path string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	return newAuthRequest(method, path, "", data...)
}

func getToken(t *testing.T, conf *core.Config, usr user.User) string {
	claims := echoapi.GetUserClaims(conf, usr)
	token, err := echoapi.GenerateToken(conf, claims)
	if err != nil {
		t.Fatalf("getToken(): %v", err)
	}
	return token
}

func marchallObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marchallObj(): %v", err)
	}
	return data
}

func marchallList(t *testing.T, objs ...interface{}) []byte {
	data, err := json.Marshal(objs)
	if err != nil {
		t.Fatalf("marchallList(): %v", err)
	}
	return data
}

func unmarshal(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("unmarshal(%s): %v", rec.Body.String(), err)
	}
}

func jsonBytesEqual(t *testing.T, b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	if reflect.DeepEqual(j1, j2) {
		return true, nil
	}
	if _, ok := j1.([]interface{}); !ok {
		return false, nil
	}
	if _, ok := j2.([]interface{}); !ok {
		return false, nil
	}
	return assert.ElementsMatch(t, j1, j2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	t.Helper()
	if rec.Code != tt.wantCode {
		t.Errorf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
	}
	if tt.wantData == nil {
		return
	}
	ok, err := jsonBytesEqual(t, rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}
