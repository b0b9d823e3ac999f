package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.uber.org/dig"

	echoapi "github.com/trezcool/jotutor/apps/api/echo"
	"github.com/trezcool/jotutor/core"
	"github.com/trezcool/jotutor/core/course"
	"github.com/trezcool/jotutor/core/enrollment"
	"github.com/trezcool/jotutor/core/payment"
	"github.com/trezcool/jotutor/core/user"
	emailsvc "github.com/trezcool/jotutor/services/email"
	"github.com/trezcool/jotutor/services/events"
	"github.com/trezcool/jotutor/services/gateway/mastercard"
	logsvc "github.com/trezcool/jotutor/services/logger"
	"github.com/trezcool/jotutor/services/metrics"
	"github.com/trezcool/jotutor/storage/cache"
	"github.com/trezcool/jotutor/storage/database"
	sqlxrepos "github.com/trezcool/jotutor/storage/database/sqlx"
)

type DBLoggerParam struct {
	dig.In
	Logger core.Logger `name:"dbLogger"`
}

// eventPublisher is a payment.EventPublisher holding a connection.
type eventPublisher interface {
	payment.EventPublisher
	Close() error
}

func newZerolog(conf *core.Config, component string) zerolog.Logger {
	var zl zerolog.Logger
	if conf.Debug {
		zl = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout})
	} else {
		zl = zerolog.New(os.Stdout)
	}
	return zl.With().Timestamp().Str("component", component).Logger()
}

func newLogger(conf *core.Config) core.Logger {
	logger := logsvc.NewRollbarLogger(newZerolog(conf, "api"), conf)
	logger.Enable(!conf.Debug && conf.RollbarToken != "")
	return logger
}

func newDBLogger(conf *core.Config) core.Logger {
	logger := logsvc.NewRollbarLogger(newZerolog(conf, "db"), conf)
	logger.Enable(!conf.Debug && conf.RollbarToken != "")
	return logger
}

func newDB(conf *core.Config, loggerParam DBLoggerParam) (*sqlx.DB, core.DB) {
	setUp := func() (*sqlx.DB, error) {
		ctx := context.Background()
		db, err := database.Open(ctx, conf)
		if err != nil {
			return nil, err
		}
		if err = database.Migrate(ctx, db); err != nil {
			return nil, err
		}
		return db, nil
	}

	db, err := setUp()
	if err != nil {
		loggerParam.Logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	return db, db
}

func newEmailService(conf *core.Config, logger core.Logger) core.EmailService {
	if conf.Debug || conf.SendgridAPIKey == "" {
		return emailsvc.NewConsoleService(conf, logger)
	}
	return emailsvc.NewSendgridService(conf, logger)
}

func newTranslator() ut.Translator {
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	return translator
}

// newEventPublisher publishes to Kafka when brokers are configured, to the logs otherwise.
func newEventPublisher(conf *core.Config, logger core.Logger) eventPublisher {
	if len(conf.Kafka.Brokers) == 0 {
		return events.NewLogPublisher(logger)
	}
	return events.NewKafkaPublisher(events.NewKafkaWriter(conf.Kafka.Brokers, conf.Kafka.Topic))
}

func newAttemptStore(conf *core.Config, logger core.Logger) payment.AttemptStore {
	if conf.Checkout.Store != "redis" {
		return cache.NewMemoryAttemptStore(conf.Checkout.AttemptTimeout, conf.Checkout.Retention)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     conf.Redis.Addr,
		Password: conf.Redis.Password,
		DB:       conf.Redis.DB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		logger.Fatal(fmt.Sprintf("connecting to redis at %s: %v", conf.Redis.Addr, err), err)
	}
	return cache.NewRedisAttemptStore(rdb, conf.Checkout.AttemptTimeout, conf.Checkout.Retention)
}

func newGatewayClient(conf *core.Config, observer payment.GatewayObserver) *mastercard.Client {
	httpClient := &http.Client{Timeout: conf.Gateway.RequestTimeout}
	return mastercard.NewClient(mastercard.OptionsFromConfig(conf), httpClient, observer)
}

func newHostedCheckout(conf *core.Config) payment.HostedCheckout {
	return mastercard.NewHostedCheckout(mastercard.OptionsFromConfig(conf))
}

func newEnrollmentService(
	repo enrollment.Repository,
	usrSvc user.ServiceInterface,
	mail core.EmailService,
	publisher eventPublisher,
	logger core.Logger,
) *enrollment.Service {
	return enrollment.NewService(repo, usrSvc, mail, publisher, logger)
}

type orchestratorParams struct {
	dig.In

	Conf     *core.Config
	Courses  *course.Service
	Gateway  *mastercard.Client
	Checkout payment.HostedCheckout
	Store    payment.AttemptStore
	Recorder *enrollment.Service
	Logger   core.Logger
	Metrics  *metrics.Collector
}

func newOrchestrator(p orchestratorParams) *payment.Orchestrator {
	return payment.NewOrchestrator(
		payment.Options{
			OrderPrefix:     p.Conf.Checkout.OrderPrefix,
			Currency:        p.Conf.Checkout.Currency,
			CheckoutTimeout: p.Conf.Checkout.AttemptTimeout,
			VerifyTimeout:   p.Conf.Checkout.VerifyTimeout,
			Callbacks:       echoapi.CheckoutCallbacks(p.Conf.Server.PublicURL),
		},
		payment.Deps{
			Courses:  p.Courses,
			Gateway:  p.Gateway,
			Checkout: p.Checkout,
			Store:    p.Store,
			Recorder: p.Recorder,
			Logger:   p.Logger,
			Observer: p.Metrics,
		},
	)
}

type serverParams struct {
	dig.In

	Conf         *core.Config
	Logger       core.Logger
	Validate     *validator.Validate
	Translator   ut.Translator
	UserSvc      user.ServiceInterface
	Gateway      *mastercard.Client
	Orchestrator *payment.Orchestrator
	Enrollment   *enrollment.Service
}

func newServer(p serverParams) *echoapi.Server {
	return echoapi.NewServer(
		&echoapi.Deps{
			Conf:         p.Conf,
			Logger:       p.Logger,
			Validate:     p.Validate,
			Translator:   p.Translator,
			UserSvc:      p.UserSvc,
			Gateway:      p.Gateway,
			Orchestrator: p.Orchestrator,
			Enrollment:   p.Enrollment,
		},
		nil, /* shutdown on SIGINT|SIGTERM */
	)
}

// newContainer returns the API's dependency injection dig.Container.
func newContainer() *dig.Container {
	c := dig.New()

	must(c.Provide(core.NewConfig))
	must(c.Provide(newLogger))
	must(c.Provide(newDBLogger, dig.Name("dbLogger")))
	must(c.Provide(newDB))
	must(c.Provide(newEmailService))
	must(c.Provide(validator.New))
	must(c.Provide(newTranslator))

	must(c.Provide(sqlxrepos.NewUserRepository))
	must(c.Provide(sqlxrepos.NewCourseRepository))
	must(c.Provide(sqlxrepos.NewPaymentRepository))

	must(c.Provide(user.NewService))
	must(c.Provide(course.NewService))
	must(c.Provide(newEventPublisher))
	must(c.Provide(newEnrollmentService))

	must(c.Provide(metrics.NewCollector))
	must(c.Provide(func(m *metrics.Collector) payment.GatewayObserver { return m }))
	must(c.Provide(newGatewayClient))
	must(c.Provide(newHostedCheckout))
	must(c.Provide(newAttemptStore))
	must(c.Provide(newOrchestrator))
	must(c.Provide(newServer))

	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}
