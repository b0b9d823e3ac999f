package main

import (
	"context"
	"fmt"
	"os"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/trezcool/jotutor/core"
	"github.com/trezcool/jotutor/core/course"
	"github.com/trezcool/jotutor/core/enrollment"
	"github.com/trezcool/jotutor/core/user"
	emailsvc "github.com/trezcool/jotutor/services/email"
	"github.com/trezcool/jotutor/services/events"
	logsvc "github.com/trezcool/jotutor/services/logger"
	"github.com/trezcool/jotutor/storage/database"
	sqlxrepos "github.com/trezcool/jotutor/storage/database/sqlx"
)

var logger core.Logger

func main() {
	conf := core.NewConfig()
	zl := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Str("component", "admin").Logger()
	rollbarLogger := logsvc.NewRollbarLogger(zl, conf)
	rollbarLogger.Enable(!conf.Debug && conf.RollbarToken != "")
	logger = rollbarLogger

	os.Exit(run(conf))
}

func run(conf *core.Config) int {
	ctx := context.Background()

	// set up validation
	_en := en.New()
	translator, _ := ut.New(_en, _en).GetTranslator("en")
	validate := validator.New()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)
	user.LoadCommonPasswords(logger)
	core.ParseEmailTemplates(logger)

	// set up DB
	db, err := database.Open(ctx, conf)
	if err != nil {
		logger.Error(err.Error(), err)
		return 1
	}
	defer func() { _ = db.Close() }()

	// set up services
	usrSvc := user.NewService(sqlxrepos.NewUserRepository(db))
	publisher := events.NewLogPublisher(logger)
	defer func() { _ = publisher.Close() }()

	var mail core.EmailService
	if conf.SendgridAPIKey == "" {
		mail = emailsvc.NewConsoleService(conf, logger)
	} else {
		mail = emailsvc.NewSendgridService(conf, logger)
	}

	// start CLI
	cli := commandLine{
		db:         db,
		usrSvc:     usrSvc,
		crsSvc:     course.NewService(sqlxrepos.NewCourseRepository(db)),
		enrollment: enrollment.NewService(sqlxrepos.NewPaymentRepository(db), usrSvc, mail, publisher, logger),
		validate:   validate,
		out:        os.Stdout,
	}
	if err := cli.run(ctx, os.Args); err != nil {
		if err != errHelp {
			fmt.Fprintf(os.Stderr, "\nerror: %s\n", describeError(err, translator))
		}
		return 1
	}
	return 0
}

// describeError flattens validation errors into "field: message" lines.
func describeError(err error, translator ut.Translator) string {
	msg := err.Error()
	switch e := errors.Cause(err).(type) {
	case *core.ValidationError:
		msg = "validation failed"
		for _, f := range e.Fields {
			msg += fmt.Sprintf("\n  %s: %s", f.Field, f.Error)
		}
	case validator.ValidationErrors:
		msg = "validation failed"
		for _, fe := range e {
			msg += fmt.Sprintf("\n  %s: %s", fe.Field(), fe.Translate(translator))
		}
	}
	return msg
}
