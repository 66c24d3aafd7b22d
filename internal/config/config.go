// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	yaml "go.yaml.in/yaml/v3"

	"github.com/unclebandit/linkcast-backend/internal/model"
)

type Config struct {
	HTTPAddr      string
	AMQPURL       string
	CredentialsDB string
	DB            DBConfig
	Log           LogConfig
	Session       SessionConfig
	Broadcast     BroadcastConfig
}

type DBConfig struct {
	User     string
	Password string
	Host     string
	Port     string
	Name     string
}

// DSN renders the postgres connection string.
func (c DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", c.User, c.Password, c.Host, c.Port, c.Name)
}

type LogConfig struct {
	Level   string
	Console bool
}

// SessionConfig is the reconnect policy and send throttle for linked accounts.
type SessionConfig struct {
	PairingTimeout         time.Duration
	RateLimitCooldown      time.Duration
	AuthFailedCooldown     time.Duration
	RetryDelay             time.Duration
	MaxAutoRetries         int
	ConnectAttemptInterval time.Duration
	SendRatePerSecond      float64
	SendBurst              int
	// The bundled adapter is a simulator; a real platform client plugs in
	// through protocol.Factory.
	MockScanAfter time.Duration
	MockFailRate  float64
}

type BroadcastConfig struct {
	Defaults     model.AntiBlockingConfig
	ScheduleSpec string
}

func Defaults() Config {
	return Config{
		HTTPAddr:      ":8080",
		CredentialsDB: "credentials.db",
		DB:            DBConfig{Host: "localhost", Port: "5432", Name: "linkcast"},
		Log:           LogConfig{Level: "info", Console: true},
		Session: SessionConfig{
			PairingTimeout:         60 * time.Second,
			RateLimitCooldown:      30 * time.Minute,
			AuthFailedCooldown:     15 * time.Minute,
			RetryDelay:             5 * time.Second,
			MaxAutoRetries:         1,
			ConnectAttemptInterval: 10 * time.Second,
			SendRatePerSecond:      1,
			SendBurst:              1,
			MockScanAfter:          3 * time.Second,
			MockFailRate:           0.05,
		},
		Broadcast: BroadcastConfig{
			Defaults: model.AntiBlockingConfig{
				DelayMs:            5000,
				JitterPercent:      20,
				RotationCooldownMs: 3000,
				Rotation:           model.RotationSequential,
				HourlyCap:          100,
				TypingMinMs:        1000,
				TypingMaxMs:        3000,
				BusinessStartHour:  9,
				BusinessEndHour:    18,
				Timezone:           "UTC",
			},
			ScheduleSpec: "@every 1m",
		},
	}
}

// fileConfig mirrors the YAML layout. Durations stay strings until validated.
type fileConfig struct {
	HTTPAddr string `yaml:"http_addr"`
	Session  struct {
		PairingTimeout         string   `yaml:"pairing_timeout"`
		RateLimitCooldown      string   `yaml:"rate_limit_cooldown"`
		AuthFailedCooldown     string   `yaml:"auth_failed_cooldown"`
		RetryDelay             string   `yaml:"retry_delay"`
		MaxAutoRetries         *int     `yaml:"max_auto_retries"`
		ConnectAttemptInterval string   `yaml:"connect_attempt_interval"`
		SendRatePerSecond      float64  `yaml:"send_rate_per_second"`
		SendBurst              int      `yaml:"send_burst"`
		MockScanAfter          string   `yaml:"mock_scan_after"`
		MockFailRate           *float64 `yaml:"mock_fail_rate"`
	} `yaml:"session"`
	Broadcast struct {
		Defaults     model.AntiBlockingConfig `yaml:"defaults"`
		ScheduleSpec string                   `yaml:"schedule"`
	} `yaml:"broadcast"`
}

// Load reads .env (optional), the YAML file at CONFIG_FILE (optional, default
// config.yaml) and then the process environment, later sources winning.
func Load() (Config, error) {
	// Missing .env is fine; OS env is authoritative.
	_ = godotenv.Load()

	cfg := Defaults()
	path := getenv("CONFIG_FILE", "config.yaml")
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := applyYAML(&cfg, data); err != nil {
			return cfg, fmt.Errorf("config %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}

	applyEnv(&cfg)
	return cfg, nil
}

func applyYAML(cfg *Config, data []byte) error {
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("yaml unmarshal: %w", err)
	}
	if fc.HTTPAddr != "" {
		cfg.HTTPAddr = fc.HTTPAddr
	}

	s := &cfg.Session
	var err error
	if s.PairingTimeout, err = parseDurationOrDefault("session.pairing_timeout", fc.Session.PairingTimeout, s.PairingTimeout); err != nil {
		return err
	}
	if s.RateLimitCooldown, err = parseDurationOrDefault("session.rate_limit_cooldown", fc.Session.RateLimitCooldown, s.RateLimitCooldown); err != nil {
		return err
	}
	if s.AuthFailedCooldown, err = parseDurationOrDefault("session.auth_failed_cooldown", fc.Session.AuthFailedCooldown, s.AuthFailedCooldown); err != nil {
		return err
	}
	if s.RetryDelay, err = parseDurationOrDefault("session.retry_delay", fc.Session.RetryDelay, s.RetryDelay); err != nil {
		return err
	}
	if s.ConnectAttemptInterval, err = parseDurationOrDefault("session.connect_attempt_interval", fc.Session.ConnectAttemptInterval, s.ConnectAttemptInterval); err != nil {
		return err
	}
	if s.MockScanAfter, err = parseDurationOrDefault("session.mock_scan_after", fc.Session.MockScanAfter, s.MockScanAfter); err != nil {
		return err
	}
	if fc.Session.MockFailRate != nil {
		if r := *fc.Session.MockFailRate; r < 0 || r > 1 {
			return fmt.Errorf("session.mock_fail_rate: must be within [0, 1]")
		}
		s.MockFailRate = *fc.Session.MockFailRate
	}
	if fc.Session.MaxAutoRetries != nil {
		if *fc.Session.MaxAutoRetries < 0 {
			return fmt.Errorf("session.max_auto_retries: must be >= 0")
		}
		s.MaxAutoRetries = *fc.Session.MaxAutoRetries
	}
	if fc.Session.SendRatePerSecond > 0 {
		s.SendRatePerSecond = fc.Session.SendRatePerSecond
	}
	if fc.Session.SendBurst > 0 {
		s.SendBurst = fc.Session.SendBurst
	}

	cfg.Broadcast.Defaults = fc.Broadcast.Defaults.WithDefaults(cfg.Broadcast.Defaults)
	if fc.Broadcast.ScheduleSpec != "" {
		cfg.Broadcast.ScheduleSpec = fc.Broadcast.ScheduleSpec
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.HTTPAddr = getenv("HTTP_ADDR", cfg.HTTPAddr)
	cfg.AMQPURL = getenv("AMQP_URL", cfg.AMQPURL)
	cfg.CredentialsDB = getenv("CREDENTIALS_DB", cfg.CredentialsDB)

	cfg.DB.User = getenv("DB_USER", cfg.DB.User)
	cfg.DB.Password = getenv("DB_PASSWORD", cfg.DB.Password)
	cfg.DB.Host = getenv("DB_HOST", cfg.DB.Host)
	cfg.DB.Port = getenv("DB_PORT", cfg.DB.Port)
	cfg.DB.Name = getenv("DB_NAME", cfg.DB.Name)

	cfg.Log.Level = getenv("LOG_LEVEL", cfg.Log.Level)
	if v, err := strconv.ParseBool(os.Getenv("LOG_CONSOLE")); err == nil {
		cfg.Log.Console = v
	}
}

func parseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
