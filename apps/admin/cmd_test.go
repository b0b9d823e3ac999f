package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/trezcool/jotutor/core"
	"github.com/trezcool/jotutor/core/course"
	"github.com/trezcool/jotutor/core/enrollment"
	"github.com/trezcool/jotutor/core/payment"
	"github.com/trezcool/jotutor/core/user"
	emailsvc "github.com/trezcool/jotutor/services/email"
	"github.com/trezcool/jotutor/services/events"
	logsvc "github.com/trezcool/jotutor/services/logger"
	sqlxrepos "github.com/trezcool/jotutor/storage/database/sqlx"
	"github.com/trezcool/jotutor/testutil"
)

const testPassword = "Str0ng&Secret"

var (
	usrRepo user.Repository
	crsRepo course.Repository
	payRepo enrollment.Repository
)

func TestMain(m *testing.M) {
	logger := logsvc.NewRollbarLogger(zerolog.Nop(), testutil.NewConfig())
	core.ParseEmailTemplates(logger)
	user.LoadCommonPasswords(logger)

	os.Exit(m.Run())
}

func setup(t *testing.T) (*commandLine, *bytes.Buffer) {
	// set up DB & repos
	db := testutil.OpenDB(t)
	usrRepo = sqlxrepos.NewUserRepository(db)
	crsRepo = sqlxrepos.NewCourseRepository(db)
	payRepo = sqlxrepos.NewPaymentRepository(db)

	conf := testutil.NewConfig()
	logger := testutil.NewLogger(t)
	validate, _ := testutil.NewValidator()
	usrSvc := user.NewService(usrRepo)
	out := new(bytes.Buffer)

	// start CLI
	return &commandLine{
		db:         db,
		usrSvc:     usrSvc,
		crsSvc:     course.NewService(crsRepo),
		enrollment: enrollment.NewService(payRepo, usrSvc, emailsvc.NewConsoleServiceMock(conf, logger), events.NewLogPublisher(logger), logger),
		validate:   validate,
		out:        out,
	}, out
}

type cliTest struct {
	name       string
	args       []string // without program name
	wantErr    error
	wantErrStr string
	extra      interface{}
}

type extra struct {
	pwd string
}

func mockPassword(tt cliTest) {
	readPasswordFunc = func(fd int) ([]byte, error) {
		if extra, ok := tt.extra.(extra); ok {
			return []byte(extra.pwd), nil
		}
		return nil, nil
	}
}

func (tt cliTest) check(t *testing.T, err error) {
	t.Helper()
	switch {
	case err == nil:
		if tt.wantErr != nil || tt.wantErrStr != "" {
			t.Errorf("cli.run() error = nil, wantErr %v %s", tt.wantErr, tt.wantErrStr)
		}
	case tt.wantErr != nil:
		if !errors.Is(err, tt.wantErr) {
			t.Errorf("cli.run() error = %v, wantErr %v", err, tt.wantErr)
		}
	case tt.wantErrStr != "":
		if err.Error() != tt.wantErrStr {
			t.Errorf("cli.run() error.Error() = %s, wantErrStr %s", err.Error(), tt.wantErrStr)
		}
	default:
		t.Errorf("cli.run() unexpected error = %v", err)
	}
}

func Test_commandLine_usage(t *testing.T) {
	cli, out := setup(t)

	tests := []cliTest{
		{name: "no command", wantErr: errHelp},
		{name: "unknown command", args: []string{"lol"}, wantErr: errHelp},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		t.Run(tt.name, func(t *testing.T) {
			out.Reset()
			tt.check(t, cli.run(context.Background(), args))
			if !strings.Contains(out.String(), "activatepayment -id PAYMENT_ID") {
				t.Errorf("usage not printed, got %q", out.String())
			}
		})
	}
}

func Test_commandLine_migrate(t *testing.T) {
	cli, _ := setup(t)

	gooseRunFunc = func(ctx context.Context, db *sqlx.DB, command string, args ...string) error {
		switch command {
		case "up", "up-by-one", "down", "fix", "redo", "reset", "status", "version": // pass
		case "up-to":
			if len(args) == 0 {
				return fmt.Errorf("up-to must be of form: goose [OPTIONS] DRIVER DBSTRING up-to VERSION")
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		case "create":
			if len(args) == 0 {
				return fmt.Errorf("create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]")
			}
		case "down-to":
			if len(args) == 0 {
				return fmt.Errorf("down-to must be of form: goose [OPTIONS] DRIVER DBSTRING down-to VERSION")
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		default:
			return fmt.Errorf("%q: no such command", command)
		}
		return nil
	}

	tests := []cliTest{
		{name: "no subcommand", args: []string{"migrate"}, wantErr: errHelp},
		{name: "unknown subcommand", args: []string{"migrate", "lol"}, wantErrStr: "\"lol\": no such command"},
		{name: "up-to: no args", args: []string{"migrate", "up-to"}, wantErrStr: "up-to must be of form: goose [OPTIONS] DRIVER DBSTRING up-to VERSION"},
		{name: "up-to: non-int arg", args: []string{"migrate", "up-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "create: no args", args: []string{"migrate", "create"}, wantErrStr: "create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]"},
		{name: "down-to: no args", args: []string{"migrate", "down-to"}, wantErrStr: "down-to must be of form: goose [OPTIONS] DRIVER DBSTRING down-to VERSION"},
		{name: "down-to: non-int arg", args: []string{"migrate", "down-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "up", args: []string{"migrate", "up"}},
		{name: "up-by-one", args: []string{"migrate", "up-by-one"}},
		{name: "up-to", args: []string{"migrate", "up-to", "2"}},
		{name: "down", args: []string{"migrate", "down"}},
		{name: "down-to", args: []string{"migrate", "down-to", "1"}},
		{name: "redo", args: []string{"migrate", "redo"}},
		{name: "reset", args: []string{"migrate", "reset"}},
		{name: "status", args: []string{"migrate", "status"}},
		{name: "version", args: []string{"migrate", "version"}},
		{name: "create", args: []string{"migrate", "create", "refund", "sql"}},
		{name: "fix", args: []string{"migrate", "fix"}},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, cli.run(context.Background(), args))
		})
	}
}

func Test_commandLine_addUser(t *testing.T) {
	cli, _ := setup(t)
	ctx := context.Background()

	testutil.CreateUser(t, usrRepo, "Taken", "taken", "taken@jotutor.test", testPassword, nil, true)

	tests := []struct {
		cliTest
		wantInvalid bool
		wantUname   string
		wantAdmin   bool
	}{
		{cliTest: cliTest{name: "no args", args: []string{"adduser"}, wantErr: errHelp}},
		{cliTest: cliTest{name: "no username", args: []string{"adduser", "-name", "Rami"}, wantErr: errHelp}},
		{cliTest: cliTest{name: "no password", args: []string{"adduser", "-name", "Rami", "-username", "rami"}, wantErr: errHelp}},
		{
			cliTest: cliTest{
				name:  "weak password",
				args:  []string{"adduser", "-name", "Rami", "-username", "rami"},
				extra: extra{pwd: "12345678"},
			},
			wantInvalid: true,
		},
		{
			cliTest: cliTest{
				name:  "username taken",
				args:  []string{"adduser", "-name", "Rami", "-username", "Taken"},
				extra: extra{pwd: testPassword},
			},
			wantInvalid: true,
		},
		{
			cliTest:   cliTest{name: "student", args: []string{"adduser", "-name", "Rami", "-username", "Rami", "-email", "rami@jotutor.test"}, extra: extra{pwd: testPassword}},
			wantUname: "rami",
		},
		{
			cliTest:   cliTest{name: "admin", args: []string{"adduser", "-name", "Dana", "-username", "dana", "-admin"}, extra: extra{pwd: testPassword}},
			wantUname: "dana",
			wantAdmin: true,
		},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)
		mockPassword(tt.cliTest)

		t.Run(tt.name, func(t *testing.T) {
			err := cli.run(ctx, args)
			if tt.wantInvalid {
				var verr *core.ValidationError
				var fieldErrs validator.ValidationErrors
				if !errors.As(err, &verr) && !errors.As(err, &fieldErrs) {
					t.Errorf("cli.run() error = %v, want a validation error", err)
				}
				return
			}
			tt.check(t, err)
			if tt.wantUname == "" {
				return
			}
			usr, err := usrRepo.GetUserByUsernameOrEmail(ctx, tt.wantUname)
			if err != nil {
				t.Fatalf("GetUserByUsernameOrEmail() failed, %v", err)
			}
			if !usr.IsActive {
				t.Error("user is not active")
			}
			if usr.IsAdmin() != tt.wantAdmin {
				t.Errorf("usr.IsAdmin() = %v, want %v", usr.IsAdmin(), tt.wantAdmin)
			}
		})
	}
}

func Test_commandLine_addCourse(t *testing.T) {
	cli, out := setup(t)
	ctx := context.Background()

	tests := []cliTest{
		{name: "no args", args: []string{"addcourse"}, wantErr: errHelp},
		{name: "no price", args: []string{"addcourse", "-title", "IELTS"}, wantErr: errHelp},
		{name: "invalid price", args: []string{"addcourse", "-title", "IELTS", "-price", "lol"}, wantErrStr: `invalid price "lol"`},
		{name: "invalid JOD price", args: []string{"addcourse", "-title", "IELTS", "-price", "250", "-pricejod", "lol"}, wantErrStr: `invalid JOD price "lol"`},
		{name: "ok", args: []string{"addcourse", "-title", " IELTS Preparation ", "-price", "250", "-pricejod", "179"}},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, cli.run(ctx, args))
		})
	}

	courses, err := crsRepo.QueryCourses(ctx)
	if err != nil {
		t.Fatalf("QueryCourses() failed, %v", err)
	}
	if len(courses) != 1 {
		t.Fatalf("len(courses) = %d, want 1", len(courses))
	}
	if courses[0].Title != "IELTS Preparation" || !courses[0].CheckoutAmount().Equal(decimal.NewFromInt(179)) {
		t.Errorf("course = %+v", courses[0])
	}
	if !strings.Contains(out.String(), "at 179 JOD") {
		t.Errorf("output = %q", out.String())
	}
}

func seedPayment(t *testing.T, id string, status payment.RecordStatus, usr user.User, crs course.Course, at time.Time) payment.Record {
	t.Helper()
	rec := payment.Record{
		ID:             id,
		Date:           at.UTC().Truncate(time.Second),
		UserID:         usr.ID,
		UserName:       usr.Name,
		CourseID:       crs.ID,
		CourseName:     crs.Title,
		Amount:         crs.CheckoutAmount(),
		Currency:       "JOD",
		Status:         status,
		PaymentMethod:  payment.PaymentManual,
		GatewayOrderID: "JOT-" + id,
	}
	if status == payment.RecordSuccess {
		rec.PaymentMethod = payment.PaymentCreditCard
		rec.TransactionID = id
	}
	if _, err := payRepo.SavePayment(context.Background(), rec); err != nil {
		t.Fatalf("SavePayment() failed, %v", err)
	}
	return rec
}

func Test_commandLine_payments(t *testing.T) {
	cli, out := setup(t)
	ctx := context.Background()

	usr := testutil.CreateUser(t, usrRepo, "Layla Haddad", "layla", "layla@jotutor.test", testPassword, nil, true)
	crs := testutil.CreateCourse(t, crsRepo, "ielts", "IELTS Preparation", decimal.NewFromInt(250), decimal.NewFromInt(179))
	now := time.Now()
	paid := seedPayment(t, "TXN-1", payment.RecordSuccess, usr, crs, now.Add(-time.Hour))
	pending := seedPayment(t, "TX-2", payment.RecordPending, usr, crs, now.Add(-time.Minute))
	failed := seedPayment(t, "TX-3", payment.RecordFailed, usr, crs, now)

	t.Run("list", func(t *testing.T) {
		tests := []struct {
			cliTest
			wantIDs   []string
			unwantIDs []string
		}{
			{cliTest: cliTest{name: "all", args: []string{"listpayments"}}, wantIDs: []string{paid.ID, pending.ID, failed.ID}},
			{cliTest: cliTest{name: "pending", args: []string{"listpayments", "-status", "Pending"}}, wantIDs: []string{pending.ID}, unwantIDs: []string{paid.ID, failed.ID}},
			{cliTest: cliTest{name: "other user", args: []string{"listpayments", "-user", "lol"}}, unwantIDs: []string{paid.ID, pending.ID, failed.ID}},
		}
		for _, tt := range tests {
			args := append([]string{"admin"}, tt.args...)

			t.Run(tt.name, func(t *testing.T) {
				out.Reset()
				tt.check(t, cli.run(ctx, args))
				got := out.String()
				for _, id := range tt.wantIDs {
					if !strings.Contains(got, id) {
						t.Errorf("output misses %s:\n%s", id, got)
					}
				}
				for _, id := range tt.unwantIDs {
					if strings.Contains(got, id) {
						t.Errorf("output has %s:\n%s", id, got)
					}
				}
			})
		}

		t.Run("invalid status", func(t *testing.T) {
			err := cli.run(ctx, []string{"admin", "listpayments", "-status", "lol"})
			var verr *core.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("cli.run() error = %v, want a validation error", err)
			}
			if len(verr.Fields) != 1 || verr.Fields[0].Field != "status" {
				t.Errorf("fields = %+v", verr.Fields)
			}
		})
	})

	t.Run("activate", func(t *testing.T) {
		tests := []cliTest{
			{name: "no args", args: []string{"activatepayment"}, wantErr: errHelp},
			{name: "not found", args: []string{"activatepayment", "-id", "lol"}, wantErr: payment.ErrRecordNotFound},
			{name: "failed payment", args: []string{"activatepayment", "-id", failed.ID}, wantErr: enrollment.ErrNotActivatable},
			{name: "pending payment", args: []string{"activatepayment", "-id", pending.ID}},
			{name: "already active", args: []string{"activatepayment", "-id", pending.ID}},
		}
		for _, tt := range tests {
			args := append([]string{"admin"}, tt.args...)

			t.Run(tt.name, func(t *testing.T) {
				tt.check(t, cli.run(ctx, args))
			})
		}

		rec, err := payRepo.GetPayment(ctx, pending.ID)
		if err != nil {
			t.Fatalf("GetPayment() failed, %v", err)
		}
		if rec.Status != payment.RecordSuccess {
			t.Errorf("rec.Status = %s, want %s", rec.Status, payment.RecordSuccess)
		}
		courses, err := payRepo.ListEnrolledCourses(ctx, usr.ID)
		if err != nil {
			t.Fatalf("ListEnrolledCourses() failed, %v", err)
		}
		if len(courses) != 1 || courses[0] != crs.ID {
			t.Errorf("enrolled courses = %v, want [%s]", courses, crs.ID)
		}
	})
}

func Test_commandLine_resetPassword(t *testing.T) {
	cli, _ := setup(t)
	ctx := context.Background()

	usr := testutil.CreateUser(t, usrRepo, "User", "awe", "awe@jotutor.test", testPassword, nil, true)

	tests := []cliTest{
		{name: "no args", args: []string{"resetpassword"}, wantErr: errHelp},
		{name: "username but no password", args: []string{"resetpassword", "-username", "lol"}, wantErr: errHelp},
		{name: "user not found", args: []string{"resetpassword", "-username", "lol"}, extra: extra{pwd: "N3w&Passw0rd"}, wantErr: user.ErrNotFound},
		{name: "reset with username", args: []string{"resetpassword", "-username", usr.Username}, extra: extra{pwd: "N3w&Passw0rd"}},
		{name: "reset with email", args: []string{"resetpassword", "-username", usr.Email}, extra: extra{pwd: "Oth3r#Phrase"}},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)
		mockPassword(tt)

		t.Run(tt.name, func(t *testing.T) {
			err := cli.run(ctx, args)
			tt.check(t, err)
			if err != nil {
				return
			}
			refreshedUsr, err := usrRepo.GetUserByID(ctx, usr.ID)
			if err != nil {
				t.Fatalf("GetUserByID() failed, %v", err)
			}
			if bytes.Equal(refreshedUsr.PasswordHash, usr.PasswordHash) {
				t.Error("failed to update new password")
			}
		})
	}

	t.Run("weak password", func(t *testing.T) {
		mockPassword(cliTest{extra: extra{pwd: "awe12345"}})
		if err := cli.run(ctx, []string{"admin", "resetpassword", "-username", usr.Username}); err == nil {
			t.Error("cli.run() error = nil, want a validation error")
		}
	})
}
