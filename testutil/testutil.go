package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/trezcool/jotutor/core"
	"github.com/trezcool/jotutor/core/course"
	"github.com/trezcool/jotutor/core/user"
	logsvc "github.com/trezcool/jotutor/services/logger"
	"github.com/trezcool/jotutor/storage/database"
)

// NewConfig returns the default config, pointed at an in-memory SQLite database.
func NewConfig() *core.Config {
	conf := core.NewConfig()
	conf.TestMode = true
	conf.RollbarToken = ""
	conf.SendgridAPIKey = ""
	conf.Database.Engine = database.EngineSQLite
	conf.Database.Name = ":memory:"
	conf.Gateway.MerchantID = "TESTMERCHANT"
	conf.Gateway.APIPassword = "test-password"
	return conf
}

func NewValidator() (*validator.Validate, ut.Translator) {
	_en := en.New()
	translator, _ := ut.New(_en, _en).GetTranslator("en")
	validate := validator.New()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)
	return validate, translator
}

// testWriter forwards to t.Log until the test ends.
type testWriter struct {
	mu   sync.Mutex
	done bool
	tw   zerolog.TestWriter
}

func (w *testWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done {
		return len(p), nil
	}
	return w.tw.Write(p)
}

func NewLogger(t *testing.T) core.Logger {
	w := &testWriter{tw: zerolog.NewTestWriter(t)}
	t.Cleanup(func() {
		w.mu.Lock()
		w.done = true
		w.mu.Unlock()
	})
	return logsvc.NewRollbarLogger(zerolog.New(w).With().Timestamp().Logger(), NewConfig())
}

// FieldErrors flattens validation errors to {field: message}.
func FieldErrors(t *testing.T, err error, translator ut.Translator) map[string]string {
	t.Helper()
	if err == nil {
		return nil
	}
	fields := make(map[string]string)
	switch e := errors.Cause(err).(type) {
	case validator.ValidationErrors:
		for _, fe := range e {
			fields[fe.Field()] = fe.Translate(translator)
		}
	case *core.ValidationError:
		for _, fe := range e.Fields {
			fields[fe.Field] = fe.Error
		}
	default:
		t.Fatalf("FieldErrors(): unexpected error %v", err)
	}
	return fields
}

// OpenDB returns a migrated in-memory SQLite database, closed with the test.
func OpenDB(t *testing.T) *sqlx.DB {
	t.Helper()
	ctx := context.Background()
	db, err := database.Open(ctx, NewConfig())
	if err != nil {
		t.Fatalf("OpenDB() failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err = database.Migrate(ctx, db); err != nil {
		t.Fatalf("OpenDB() failed: %v", err)
	}
	return db
}

func CreateUser(
	t *testing.T,
	repo user.Repository,
	name, uname, email, pwd string,
	roles []string,
	isActive bool,
	createdAt ...time.Time,
) user.User {
	t.Helper()
	tstamp := time.Now().UTC().Truncate(time.Microsecond)
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	usr := user.User{
		ID:        uuid.NewString(),
		Name:      name,
		Username:  uname,
		Email:     email,
		Roles:     roles,
		IsActive:  isActive,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	}
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("CreateUser() failed: %v", err)
		}
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}
	return usr
}

func CreateCourse(t *testing.T, repo course.Repository, id, title string, price, priceJOD decimal.Decimal) course.Course {
	t.Helper()
	c, err := repo.CreateCourse(context.Background(), course.Course{
		ID:        id,
		Title:     title,
		Price:     price,
		PriceJOD:  priceJOD,
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	})
	if err != nil {
		t.Fatalf("CreateCourse() failed: %v", err)
	}
	return c
}
