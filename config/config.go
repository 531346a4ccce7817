// Package config loads service configuration: struct defaults, an optional
// YAML file, then environment overrides, validated before use.
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Supported instruments and chart options.
var (
	Symbols         = []string{"BTCUSDT", "ETHUSDT", "DOGEUSDT"}
	Intervals       = []string{"1m", "5m", "15m", "1h", "1d"}
	LookbackOptions = []int{5, 10, 20, 50, 100, 150, 200}
)

// Config holds all application configuration.
type Config struct {
	Market struct {
		Symbol   string `yaml:"symbol" default:"BTCUSDT" validate:"oneof=BTCUSDT ETHUSDT DOGEUSDT"`
		Interval string `yaml:"interval" default:"1m" validate:"oneof=1m 5m 15m 1h 1d"`
		Lookback int    `yaml:"lookback" default:"100" validate:"oneof=5 10 20 50 100 150 200"`
		Window   int    `yaml:"window" default:"20" validate:"gte=2,lte=200"`
	} `yaml:"market"`

	Binance struct {
		BaseURL string        `yaml:"base_url" default:"https://api.binance.com" validate:"required,url"`
		Timeout time.Duration `yaml:"timeout" default:"7s" validate:"gt=0"`
		Debug   bool          `yaml:"debug"`
	} `yaml:"binance"`

	Server struct {
		HTTPAddr        string        `yaml:"http_addr" default:":8080" validate:"required"`
		MetricsAddr     string        `yaml:"metrics_addr" default:":9090" validate:"required"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
	} `yaml:"server"`

	Ledger struct {
		Backend    string `yaml:"backend" default:"sqlite" validate:"oneof=sqlite redis memory"`
		SQLitePath string `yaml:"sqlite_path" default:"data/trades.db" validate:"required_if=Backend sqlite"`
		Redis      struct {
			Addr         string        `yaml:"addr" default:"localhost:6379"`
			Password     string        `yaml:"password"`
			DB           int           `yaml:"db" validate:"gte=0"`
			KeyPrefix    string        `yaml:"key_prefix" default:"bandsim"`
			MaxFailures  int           `yaml:"max_failures" default:"5" validate:"gte=1"`
			ResetTimeout time.Duration `yaml:"reset_timeout" default:"10s"`
		} `yaml:"redis"`
		HealthInterval time.Duration `yaml:"health_interval" default:"15s"`
	} `yaml:"ledger"`

	Notify struct {
		WebhookURL     string `yaml:"webhook_url" validate:"omitempty,url"`
		TelegramToken  string `yaml:"telegram_token"`
		TelegramChatID string `yaml:"telegram_chat_id" validate:"required_with=TelegramToken"`
		MinLevel       string `yaml:"min_level" default:"INFO" validate:"oneof=INFO WARNING CRITICAL"`
	} `yaml:"notify"`

	LogLevel string `yaml:"log_level" default:"info" validate:"oneof=debug info warn error"`
}

var validate = validator.New()

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty) and environment variables, in that order.
func Load(path string) (*Config, error) {
	c := &Config{}
	if err := defaults.Set(c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, c); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := c.applyEnv(); err != nil {
		return nil, err
	}

	c.Market.Symbol = strings.ToUpper(c.Market.Symbol)
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			msgs = append(msgs, fmt.Sprintf("%s: failed %q (%s)", fe.Namespace(), fe.Tag(), fe.Param()))
		}
		return errors.New(strings.Join(msgs, "; "))
	}
	return err
}

func (c *Config) applyEnv() error {
	setString(&c.Market.Symbol, "BANDSIM_SYMBOL")
	setString(&c.Market.Interval, "BANDSIM_INTERVAL")
	setString(&c.Binance.BaseURL, "BINANCE_BASE_URL")
	setString(&c.Server.HTTPAddr, "HTTP_ADDR")
	setString(&c.Server.MetricsAddr, "METRICS_ADDR")
	setString(&c.Ledger.Backend, "LEDGER_BACKEND")
	setString(&c.Ledger.SQLitePath, "SQLITE_PATH")
	setString(&c.Ledger.Redis.Addr, "REDIS_ADDR")
	setString(&c.Ledger.Redis.Password, "REDIS_PASSWORD")
	setString(&c.Ledger.Redis.KeyPrefix, "REDIS_KEY_PREFIX")
	setString(&c.Notify.WebhookURL, "WEBHOOK_URL")
	setString(&c.Notify.TelegramToken, "TELEGRAM_BOT_TOKEN")
	setString(&c.Notify.TelegramChatID, "TELEGRAM_CHAT_ID")
	setString(&c.LogLevel, "LOG_LEVEL")

	for key, dst := range map[string]*int{
		"BANDSIM_LOOKBACK": &c.Market.Lookback,
		"BANDSIM_WINDOW":   &c.Market.Window,
		"REDIS_DB":         &c.Ledger.Redis.DB,
	} {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("config: %s=%q is not an integer", key, v)
			}
			*dst = n
		}
	}
	if v := os.Getenv("BINANCE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: BINANCE_TIMEOUT=%q: %w", v, err)
		}
		c.Binance.Timeout = d
	}
	return nil
}

func setString(dst *string, key string) {
	if v := getEnv(key, ""); v != "" {
		*dst = v
	}
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

// Summary logs the effective settings, without secrets.
func (c *Config) Summary() {
	log.Printf("[config] market=%s/%s lookback=%d window=%d", c.Market.Symbol, c.Market.Interval, c.Market.Lookback, c.Market.Window)
	log.Printf("[config] ledger=%s http=%s metrics=%s", c.Ledger.Backend, c.Server.HTTPAddr, c.Server.MetricsAddr)
}
