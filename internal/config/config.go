package config

import (
	"fmt"

	env "github.com/caarlos0/env/v11"
)

type Config struct {
	DatabaseURL   string `env:"DATABASE_URL,required"`
	JWTSecret     string `env:"JWT_SECRET,required"`
	WebhookSecret string `env:"WEBHOOK_SECRET,required"`
	GatewayURL    string `env:"GATEWAY_URL" envDefault:"http://mock-gateway:8081"`
	Port          int    `env:"PORT" envDefault:"8080"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`
	AppEnv        string `env:"APP_ENV" envDefault:"production"`

	// Fee schedule. The processing fee mirrors the external processor's
	// published schedule and is frozen into each payment at creation time.
	CommissionRate    float64 `env:"COMMISSION_RATE" envDefault:"0.15"`
	ProcessingFeePct  float64 `env:"PROCESSING_FEE_PCT" envDefault:"0.029"`
	ProcessingFeeFlat int64   `env:"PROCESSING_FEE_FLAT" envDefault:"30"`

	GatewayTimeoutS      int `env:"GATEWAY_TIMEOUT_S" envDefault:"5"`
	GatewayMaxRetryWaitS int `env:"GATEWAY_MAX_RETRY_WAIT_S" envDefault:"10"`

	RateLimitRequests int `env:"RATE_LIMIT_REQUESTS" envDefault:"10"`
	RateLimitWindowS  int `env:"RATE_LIMIT_WINDOW_S" envDefault:"60"`

	FraudFailedPaymentThreshold   int `env:"FRAUD_FAILED_PAYMENT_THRESHOLD" envDefault:"3"`
	FraudFailedPaymentCritical    int `env:"FRAUD_FAILED_PAYMENT_CRITICAL" envDefault:"6"`
	FraudFailedPaymentWindowH     int `env:"FRAUD_FAILED_PAYMENT_WINDOW_H" envDefault:"24"`
	FraudDisputeRecurrenceWindowD int `env:"FRAUD_DISPUTE_RECURRENCE_WINDOW_D" envDefault:"90"`
	FraudRapidRefundWindowH       int `env:"FRAUD_RAPID_REFUND_WINDOW_H" envDefault:"24"`

	DBMaxOpenConns     int `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	DBMaxIdleConns     int `env:"DB_MAX_IDLE_CONNS" envDefault:"10"`
	DBConnMaxLifetimeS int `env:"DB_CONN_MAX_LIFETIME_S" envDefault:"300"`
	DBConnMaxIdleTimeS int `env:"DB_CONN_MAX_IDLE_TIME_S" envDefault:"60"`
}

func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return &cfg, nil
}
