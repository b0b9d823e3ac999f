package core

import (
	"fmt"
	"log"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	serverConfig struct {
		Host                      string
		Addr                      string
		PublicURL                 string // base URL the gateway redirects back to
		DebugHost                 string
		ShutdownTimeout           time.Duration
		JWTExpirationDelta        time.Duration
		JWTRefreshExpirationDelta time.Duration
	}

	databaseConfig struct {
		Engine     string // postgres | sqlite
		Host       string
		Port       string
		Name       string
		User       string
		Password   string
		DisableTLS bool
	}

	// gatewayConfig holds the card-payment gateway settings.
	// MerchantID and APIPassword may be empty: the card path then fails with a configuration error at call time.
	gatewayConfig struct {
		BaseURL           string
		MerchantID        string
		APIPassword       string
		SessionAPIVersion int
		OrderAPIVersion   int
		SessionOperation  string
		MerchantName      string
		MerchantAddress   string
		RequestTimeout    time.Duration
	}

	checkoutConfig struct {
		OrderPrefix    string
		Currency       string
		AttemptTimeout time.Duration // AwaitingCheckout
		VerifyTimeout  time.Duration // Completing
		Retention      time.Duration // how long terminal attempts are kept around for duplicate callbacks
		Store          string        // memory | redis
	}

	redisConfig struct {
		Addr     string
		Password string
		DB       int
	}

	kafkaConfig struct {
		Brokers []string
		Topic   string
	}

	tracingConfig struct {
		JaegerEndpoint string
	}

	Config struct {
		Env              string
		Build            string
		Debug            bool
		TestMode         bool
		AppName          string
		SecretKey        string
		FrontendBaseURL  string
		defaultFromEmail string
		RollbarToken     string
		SendgridAPIKey   string

		Server   serverConfig
		Database databaseConfig
		Gateway  gatewayConfig
		Checkout checkoutConfig
		Redis    redisConfig
		Kafka    kafkaConfig
		Tracing  tracingConfig
	}
)

func (c *Config) DefaultFromEmail() mail.Address {
	return mail.Address{Name: c.AppName, Address: c.defaultFromEmail}
}

// Address returns the database "host:port".
func (c databaseConfig) Address() string {
	return c.Host + ":" + c.Port
}

// HasCredentials reports whether merchant credentials are configured.
func (c gatewayConfig) HasCredentials() bool {
	return c.MerchantID != "" && c.APIPassword != ""
}

func NewConfig() *Config {
	v := viper.New()

	// defaults
	v.SetTypeByDefaultValue(true)
	v.SetDefault("debug", true)
	v.SetDefault("build", "dev")
	v.SetDefault("appName", "JoTutor")
	v.SetDefault("secretKey", "v#1t_5k0y!r&c2v3x(9m+l@h7b*q4$w=zn^0g8e)f%a6p-dj")
	v.SetDefault("frontendBaseURL", "http://localhost:3000")
	v.SetDefault("defaultFromEmail", "noreply@localhost")
	v.SetDefault("rollbarToken", "")
	v.SetDefault("sendgridApiKey", "")

	v.SetDefault("serverHost", "localhost")
	v.SetDefault("serverAddr", ":8000")
	v.SetDefault("serverPublicUrl", "http://localhost:8000")
	v.SetDefault("serverDebugHost", ":4000")
	v.SetDefault("serverShutdownTimeout", 5*time.Second)
	v.SetDefault("jwtExpirationDelta", 7*24*time.Hour)
	v.SetDefault("jwtRefreshExpirationDelta", 4*time.Hour)

	v.SetDefault("dbEngine", "postgres")
	v.SetDefault("dbHost", "localhost")
	v.SetDefault("dbPort", "5432")
	v.SetDefault("dbName", "jotutor")
	v.SetDefault("dbUser", "postgres")
	v.SetDefault("dbPassword", "")
	v.SetDefault("dbDisableTLS", true)

	v.SetDefault("mastercardGatewayUrl", "https://ap-gateway.mastercard.com")
	v.SetDefault("mastercardMerchantId", "")
	v.SetDefault("mastercardApiPassword", "")
	v.SetDefault("mastercardSessionApiVersion", 63)
	v.SetDefault("mastercardOrderApiVersion", 100)
	v.SetDefault("mastercardSessionOperation", "CREATE_CHECKOUT_SESSION")
	v.SetDefault("mastercardMerchantName", "JoTutor")
	v.SetDefault("mastercardMerchantAddress", "Amman, Jordan")
	v.SetDefault("mastercardRequestTimeout", 20*time.Second)

	v.SetDefault("checkoutOrderPrefix", "JOT")
	v.SetDefault("checkoutCurrency", "JOD")
	v.SetDefault("checkoutAttemptTimeout", 30*time.Minute)
	v.SetDefault("checkoutVerifyTimeout", 30*time.Second)
	v.SetDefault("checkoutRetention", time.Hour)
	v.SetDefault("checkoutStore", "memory")

	v.SetDefault("redisAddr", "localhost:6379")
	v.SetDefault("redisPassword", "")
	v.SetDefault("redisDb", 0)

	v.SetDefault("kafkaBrokers", "")
	v.SetDefault("kafkaTopic", "payments")

	v.SetDefault("jaegerEndpoint", "")

	env := strings.ToUpper(os.Getenv("ENV")) // DEV (local; default), TEST, QA, PROD
	if env == "" {
		env = "DEV"
	}
	if env == "TEST" {
		v.SetDefault("testMode", true)
	} else {
		v.SetDefault("testMode", false)
	}
	v.SetEnvPrefix(env)

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join("config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	v.AutomaticEnv()

	// gateway credentials keep their well-known names, unprefixed
	_ = v.BindEnv("mastercardGatewayUrl", "MASTERCARD_GATEWAY_URL")
	_ = v.BindEnv("mastercardMerchantId", "MASTERCARD_MERCHANT_ID")
	_ = v.BindEnv("mastercardApiPassword", "MASTERCARD_API_PASSWORD")

	return &Config{
		Env:              env,
		Build:            v.GetString("build"),
		Debug:            v.GetBool("debug"),
		TestMode:         v.GetBool("testMode"),
		AppName:          v.GetString("appName"),
		SecretKey:        v.GetString("secretKey"),
		FrontendBaseURL:  strings.TrimSuffix(v.GetString("frontendBaseURL"), "/"),
		defaultFromEmail: v.GetString("defaultFromEmail"),
		RollbarToken:     v.GetString("rollbarToken"),
		SendgridAPIKey:   v.GetString("sendgridApiKey"),

		Server: serverConfig{
			Host:                      v.GetString("serverHost"),
			Addr:                      v.GetString("serverAddr"),
			PublicURL:                 strings.TrimSuffix(v.GetString("serverPublicUrl"), "/"),
			DebugHost:                 v.GetString("serverDebugHost"),
			ShutdownTimeout:           v.GetDuration("serverShutdownTimeout"),
			JWTExpirationDelta:        v.GetDuration("jwtExpirationDelta"),
			JWTRefreshExpirationDelta: v.GetDuration("jwtRefreshExpirationDelta"),
		},
		Database: databaseConfig{
			Engine:     v.GetString("dbEngine"),
			Host:       v.GetString("dbHost"),
			Port:       v.GetString("dbPort"),
			Name:       v.GetString("dbName"),
			User:       v.GetString("dbUser"),
			Password:   v.GetString("dbPassword"),
			DisableTLS: v.GetBool("dbDisableTLS"),
		},
		Gateway: gatewayConfig{
			BaseURL:           strings.TrimSuffix(v.GetString("mastercardGatewayUrl"), "/"),
			MerchantID:        strings.TrimSpace(v.GetString("mastercardMerchantId")),
			APIPassword:       strings.TrimSpace(v.GetString("mastercardApiPassword")),
			SessionAPIVersion: v.GetInt("mastercardSessionApiVersion"),
			OrderAPIVersion:   v.GetInt("mastercardOrderApiVersion"),
			SessionOperation:  v.GetString("mastercardSessionOperation"),
			MerchantName:      v.GetString("mastercardMerchantName"),
			MerchantAddress:   v.GetString("mastercardMerchantAddress"),
			RequestTimeout:    v.GetDuration("mastercardRequestTimeout"),
		},
		Checkout: checkoutConfig{
			OrderPrefix:    v.GetString("checkoutOrderPrefix"),
			Currency:       strings.ToUpper(v.GetString("checkoutCurrency")),
			AttemptTimeout: v.GetDuration("checkoutAttemptTimeout"),
			VerifyTimeout:  v.GetDuration("checkoutVerifyTimeout"),
			Retention:      v.GetDuration("checkoutRetention"),
			Store:          v.GetString("checkoutStore"),
		},
		Redis: redisConfig{
			Addr:     v.GetString("redisAddr"),
			Password: v.GetString("redisPassword"),
			DB:       v.GetInt("redisDb"),
		},
		Kafka: kafkaConfig{
			Brokers: splitList(v.GetString("kafkaBrokers")),
			Topic:   v.GetString("kafkaTopic"),
		},
		Tracing: tracingConfig{
			JaegerEndpoint: v.GetString("jaegerEndpoint"),
		},
	}
}

// String hides secrets; handy for startup logs.
func (c *Config) String() string {
	return fmt.Sprintf(
		"env=%s build=%s debug=%t db=%s://%s/%s gateway=%s merchant_configured=%t checkout_store=%s",
		c.Env, c.Build, c.Debug, c.Database.Engine, c.Database.Address(), c.Database.Name,
		c.Gateway.BaseURL, c.Gateway.HasCredentials(), c.Checkout.Store,
	)
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
