package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/nyaruka/phonenumbers"

	"github.com/LeventeLantos/credit-dispatch/internal/model"
)

type Config struct {
	Server      ServerConfig
	Log         LogConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Gateway     GatewayConfig
	Dispatch    DispatchConfig
	Reservation ReservationConfig
}

type ServerConfig struct {
	Address string
}

type LogConfig struct {
	Level  string
	Format string
}

type DatabaseConfig struct {
	PostgresURL string
	MaxConns    int
	AutoMigrate bool
}

type RedisConfig struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
	TTL      time.Duration
}

// GatewayConfig carries the provider credentials. They are passed through
// to the gateway untouched.
type GatewayConfig struct {
	URL         string
	ProfileID   string
	Password    string
	SenderID   string
	// Region is the ISO 3166 code used to read numbers stored without a
	// leading +, e.g. "US" or "GB".
	Region     string
	Timeout    time.Duration
	RatePerSec int
}

type DispatchConfig struct {
	Strategy      model.Strategy
	DebitPolicy   model.DebitPolicy
	ContentMax    int
	BatchSize     int
	FanOut        int
	BatchDelay    time.Duration
	MaxRecipients int
	PageSize      int
}

type ReservationConfig struct {
	TTL           time.Duration
	SweepInterval time.Duration
}

func LoadAll() (*Config, error) {
	var errs []error

	postgresURL, err := requireEnv("POSTGRES_URL")
	errs = appendErr(errs, err)
	gatewayURL, err := requireEnv("GATEWAY_URL")
	errs = appendErr(errs, err)

	intVal := func(key string, def int) int {
		v, err := getEnvInt(key, def)
		errs = appendErr(errs, err)
		return v
	}
	boolVal := func(key string, def bool) bool {
		v, err := getEnvBool(key, def)
		errs = appendErr(errs, err)
		return v
	}

	cfg := &Config{
		Server: ServerConfig{
			Address: getEnv("SERVER_ADDRESS", ":8080"),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Database: DatabaseConfig{
			PostgresURL: postgresURL,
			MaxConns:    intVal("DB_MAX_CONNS", 10),
			AutoMigrate: boolVal("DB_AUTO_MIGRATE", false),
		},
		Gateway: GatewayConfig{
			URL:        gatewayURL,
			ProfileID:  os.Getenv("GATEWAY_PROFILE_ID"),
			Password:   os.Getenv("GATEWAY_PASSWORD"),
			SenderID:   os.Getenv("GATEWAY_SENDER_ID"),
			Region:     strings.ToUpper(getEnv("GATEWAY_DEFAULT_REGION", "US")),
			Timeout:    time.Duration(intVal("GATEWAY_TIMEOUT_SECONDS", 10)) * time.Second,
			RatePerSec: intVal("GATEWAY_RATE_PER_SEC", 0),
		},
		Dispatch: DispatchConfig{
			Strategy:      model.Strategy(getEnv("DISPATCH_STRATEGY", string(model.PerRecipient))),
			DebitPolicy:   model.DebitPolicy(getEnv("DISPATCH_DEBIT_POLICY", string(model.DebitSuccess))),
			ContentMax:    intVal("CONTENT_MAX", 160),
			BatchSize:     intVal("DISPATCH_BATCH_SIZE", 1000),
			FanOut:        intVal("DISPATCH_FANOUT", 50),
			BatchDelay:    time.Duration(intVal("DISPATCH_BATCH_DELAY_MS", 1000)) * time.Millisecond,
			MaxRecipients: intVal("DISPATCH_MAX_RECIPIENTS", 10000),
			PageSize:      intVal("DISPATCH_PAGE_SIZE", 500),
		},
		Reservation: ReservationConfig{
			TTL:           time.Duration(intVal("RESERVATION_TTL_SECONDS", 900)) * time.Second,
			SweepInterval: time.Duration(intVal("RESERVATION_SWEEP_SECONDS", 60)) * time.Second,
		},
	}

	redisCfg, err := loadRedisConfig()
	errs = appendErr(errs, err)
	cfg.Redis = redisCfg

	if err := joinErrors(errs); err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadRedisConfig() (RedisConfig, error) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		return RedisConfig{Enabled: false}, nil
	}

	var errs []error
	db, err := getEnvInt("REDIS_DB", 0)
	errs = appendErr(errs, err)
	ttl, err := getEnvInt("REDIS_TTL_SECONDS", 86400)
	errs = appendErr(errs, err)

	return RedisConfig{
		Enabled:  true,
		Address:  addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       db,
		TTL:      time.Duration(ttl) * time.Second,
	}, joinErrors(errs)
}

func validate(cfg *Config) error {
	var errs []error
	d := cfg.Dispatch

	if !d.Strategy.Valid() {
		errs = append(errs, fmt.Errorf("DISPATCH_STRATEGY must be %q or %q, got %q", model.PerRecipient, model.Bulk, d.Strategy))
	}
	if !d.DebitPolicy.Valid() {
		errs = append(errs, fmt.Errorf("DISPATCH_DEBIT_POLICY must be %q or %q, got %q", model.DebitSuccess, model.DebitAttempted, d.DebitPolicy))
	}
	if d.ContentMax <= 0 {
		errs = append(errs, errors.New("CONTENT_MAX must be > 0"))
	}
	if d.BatchSize <= 0 {
		errs = append(errs, errors.New("DISPATCH_BATCH_SIZE must be > 0"))
	}
	if d.FanOut <= 0 {
		errs = append(errs, errors.New("DISPATCH_FANOUT must be > 0"))
	}
	if d.BatchDelay < 0 {
		errs = append(errs, errors.New("DISPATCH_BATCH_DELAY_MS must be >= 0"))
	}
	if d.MaxRecipients <= 0 {
		errs = append(errs, errors.New("DISPATCH_MAX_RECIPIENTS must be > 0"))
	}
	if d.PageSize <= 0 {
		errs = append(errs, errors.New("DISPATCH_PAGE_SIZE must be > 0"))
	}
	if cfg.Gateway.Timeout <= 0 {
		errs = append(errs, errors.New("GATEWAY_TIMEOUT_SECONDS must be > 0"))
	}
	if phonenumbers.GetCountryCodeForRegion(cfg.Gateway.Region) == 0 {
		errs = append(errs, fmt.Errorf("GATEWAY_DEFAULT_REGION must be a known region code, got %q", cfg.Gateway.Region))
	}
	if cfg.Gateway.RatePerSec < 0 {
		errs = append(errs, errors.New("GATEWAY_RATE_PER_SEC must be >= 0"))
	}
	if cfg.Database.MaxConns <= 0 {
		errs = append(errs, errors.New("DB_MAX_CONNS must be > 0"))
	}
	if cfg.Reservation.TTL <= 0 {
		errs = append(errs, errors.New("RESERVATION_TTL_SECONDS must be > 0"))
	}
	if longest := longestBatch(cfg); longest > 0 && cfg.Reservation.TTL > 0 && cfg.Reservation.TTL <= longest {
		errs = append(errs, fmt.Errorf("RESERVATION_TTL_SECONDS must exceed the longest possible batch (%s)", longest))
	}
	if cfg.Reservation.SweepInterval <= 0 {
		errs = append(errs, errors.New("RESERVATION_SWEEP_SECONDS must be > 0"))
	}
	return joinErrors(errs)
}

// longestBatch bounds one batch: its gateway calls run FanOut at a time, each
// under the gateway timeout, and it may be preceded by the batch delay.
// Holds are renewed between batches, so they must outlive this.
func longestBatch(cfg *Config) time.Duration {
	d := cfg.Dispatch
	if d.BatchSize <= 0 || d.FanOut <= 0 || cfg.Gateway.Timeout <= 0 {
		return 0
	}
	rounds := 1
	if d.Strategy != model.Bulk {
		rounds = (d.BatchSize + d.FanOut - 1) / d.FanOut
	}
	return time.Duration(rounds)*cfg.Gateway.Timeout + max(d.BatchDelay, 0)
}

func requireEnv(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("missing required env var: %s", key)
	}
	return val, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("invalid int for env %s: %q", key, v)
	}
	return i, nil
}

func getEnvBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("invalid bool for env %s: %q", key, v)
	}
	return b, nil
}

func appendErr(errs []error, err error) []error {
	if err != nil {
		return append(errs, err)
	}
	return errs
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}
