// Package config loads resendgate settings from defaults, an optional YAML
// file, the environment and command-line flags, in increasing precedence.
//
// Environment variables use the RESENDGATE_ prefix with dots replaced by
// underscores (RESENDGATE_HTTP_TIMEOUT=5s). Credentials are also read from
// WPP_AUTH_USER and WPP_AUTH_PASS.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/roach88/resendgate/internal/gateway"
)

//go:embed schema.cue
var schemaSource string

// ErrMissingCredentials is returned by RequireCredentials when no user or
// password is configured.
var ErrMissingCredentials = errors.New("credentials required: set WPP_AUTH_USER and WPP_AUTH_PASS")

// Config is the complete configuration.
type Config struct {
	Endpoints EndpointsConfig `mapstructure:"endpoints"`
	Auth      AuthConfig      `mapstructure:"auth"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Batch     BatchConfig     `mapstructure:"batch"`
	Paths     PathsConfig     `mapstructure:"paths"`
	Log       LogConfig       `mapstructure:"log"`
}

// EndpointsConfig holds the remote service URLs.
type EndpointsConfig struct {
	OrderURL   string `mapstructure:"order_url"`
	ProductURL string `mapstructure:"product_url"`
	OrdersURL  string `mapstructure:"orders_url"`
	ResendURL  string `mapstructure:"resend_url"`
	AuthURL    string `mapstructure:"auth_url"`
}

// AuthConfig holds the session credentials.
type AuthConfig struct {
	User string `mapstructure:"user"`
	Pass string `mapstructure:"pass"`
}

// HTTPConfig tunes the shared HTTP client.
type HTTPConfig struct {
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	RateLimit    float64       `mapstructure:"rate_limit"` // requests per second, 0 = unlimited
	Burst        int           `mapstructure:"burst"`
	MaxIdleConns int           `mapstructure:"max_idle_conns"`
}

// BatchConfig sizes the evaluation worker pool.
type BatchConfig struct {
	Workers int `mapstructure:"workers"`
}

// PathsConfig locates inputs and outputs.
type PathsConfig struct {
	InputDir  string `mapstructure:"input_dir"`
	OutputDir string `mapstructure:"output_dir"`
	Output    string `mapstructure:"output"`
	DB        string `mapstructure:"db"`
	Fixtures  string `mapstructure:"fixtures"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level string `mapstructure:"level"`
	File  bool   `mapstructure:"file"` // write validation_log_<ts>.log to the output dir
}

// flagKeys maps command-line flags onto configuration keys.
var flagKeys = map[string]string{
	"input-dir":  "paths.input_dir",
	"output-dir": "paths.output_dir",
	"output":     "paths.output",
	"db":         "paths.db",
	"fixtures":   "paths.fixtures",
	"workers":    "batch.workers",
	"timeout":    "http.timeout",
}

// Load builds the configuration. configPath may be empty, in which case
// ./resendgate.yaml is read when present. flags may be nil; only flags the
// user actually set override other sources.
func Load(configPath string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("resendgate")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("RESENDGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("auth.user", "RESENDGATE_AUTH_USER", "WPP_AUTH_USER"); err != nil {
		return nil, fmt.Errorf("bind env: %w", err)
	}
	if err := v.BindEnv("auth.pass", "RESENDGATE_AUTH_PASS", "WPP_AUTH_PASS"); err != nil {
		return nil, fmt.Errorf("bind env: %w", err)
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	const admin = "https://wpp-admin-wprod.aws.wiley.com/services/wpp-admin-app"

	v.SetDefault("endpoints.order_url", admin+"/orderManagement/orders/{order_id}")
	v.SetDefault("endpoints.product_url", admin+"/productDetails/v1/article/{article_id}")
	v.SetDefault("endpoints.orders_url", admin+"/orderManagement/orders")
	v.SetDefault("endpoints.resend_url", "http://as-order-svc-wprod.aws.wiley.com:8080/v1/orders/resend")
	v.SetDefault("endpoints.auth_url", admin+"/authenticate")

	v.SetDefault("auth.user", "")
	v.SetDefault("auth.pass", "")

	v.SetDefault("http.timeout", "10s")
	v.SetDefault("http.max_retries", 3)
	v.SetDefault("http.retry_backoff", "500ms")
	v.SetDefault("http.rate_limit", 0)
	v.SetDefault("http.burst", 20)
	v.SetDefault("http.max_idle_conns", 20)

	v.SetDefault("batch.workers", 10)

	v.SetDefault("paths.input_dir", "./input")
	v.SetDefault("paths.output_dir", "./output")
	v.SetDefault("paths.output", "")
	v.SetDefault("paths.db", "")
	v.SetDefault("paths.fixtures", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", true)
}

// schemaView is the configuration as checked against schema.cue. Durations
// are expressed in nanoseconds.
type schemaView struct {
	Endpoints struct {
		OrderURL   string `json:"order_url"`
		ProductURL string `json:"product_url"`
		OrdersURL  string `json:"orders_url"`
		ResendURL  string `json:"resend_url"`
		AuthURL    string `json:"auth_url"`
	} `json:"endpoints"`
	Auth struct {
		User string `json:"user"`
		Pass string `json:"pass"`
	} `json:"auth"`
	HTTP struct {
		Timeout      int64   `json:"timeout"`
		MaxRetries   int     `json:"max_retries"`
		RetryBackoff int64   `json:"retry_backoff"`
		RateLimit    float64 `json:"rate_limit"`
		Burst        int     `json:"burst"`
		MaxIdleConns int     `json:"max_idle_conns"`
	} `json:"http"`
	Batch struct {
		Workers int `json:"workers"`
	} `json:"batch"`
	Paths struct {
		InputDir  string `json:"input_dir"`
		OutputDir string `json:"output_dir"`
		Output    string `json:"output"`
		DB        string `json:"db"`
		Fixtures  string `json:"fixtures"`
	} `json:"paths"`
	Log struct {
		Level string `json:"level"`
		File  bool   `json:"file"`
	} `json:"log"`
}

func (c *Config) view() schemaView {
	var s schemaView
	s.Endpoints.OrderURL = c.Endpoints.OrderURL
	s.Endpoints.ProductURL = c.Endpoints.ProductURL
	s.Endpoints.OrdersURL = c.Endpoints.OrdersURL
	s.Endpoints.ResendURL = c.Endpoints.ResendURL
	s.Endpoints.AuthURL = c.Endpoints.AuthURL
	s.Auth.User = c.Auth.User
	s.Auth.Pass = c.Auth.Pass
	s.HTTP.Timeout = int64(c.HTTP.Timeout)
	s.HTTP.MaxRetries = c.HTTP.MaxRetries
	s.HTTP.RetryBackoff = int64(c.HTTP.RetryBackoff)
	s.HTTP.RateLimit = c.HTTP.RateLimit
	s.HTTP.Burst = c.HTTP.Burst
	s.HTTP.MaxIdleConns = c.HTTP.MaxIdleConns
	s.Batch.Workers = c.Batch.Workers
	s.Paths.InputDir = c.Paths.InputDir
	s.Paths.OutputDir = c.Paths.OutputDir
	s.Paths.Output = c.Paths.Output
	s.Paths.DB = c.Paths.DB
	s.Paths.Fixtures = c.Paths.Fixtures
	s.Log.Level = c.Log.Level
	s.Log.File = c.Log.File
	return s
}

// Validate checks the configuration against the embedded CUE schema.
func (c *Config) Validate() error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	value := ctx.Encode(c.view())
	if err := value.Err(); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := def.Unify(value).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// RequireCredentials fails when the live gateway has no credentials.
func (c *Config) RequireCredentials() error {
	if c.Auth.User == "" || c.Auth.Pass == "" {
		return ErrMissingCredentials
	}
	return nil
}

// GatewayOptions maps the configuration onto HTTP gateway options.
func (c *Config) GatewayOptions(log *zap.Logger) gateway.HTTPOptions {
	return gateway.HTTPOptions{
		Endpoints: gateway.Endpoints{
			OrderURL:   c.Endpoints.OrderURL,
			ProductURL: c.Endpoints.ProductURL,
			OrdersURL:  c.Endpoints.OrdersURL,
			ResendURL:  c.Endpoints.ResendURL,
			AuthURL:    c.Endpoints.AuthURL,
		},
		Timeout:      c.HTTP.Timeout,
		MaxRetries:   c.HTTP.MaxRetries,
		RetryBackoff: c.HTTP.RetryBackoff,
		RateLimit:    c.HTTP.RateLimit,
		Burst:        c.HTTP.Burst,
		MaxIdleConns: c.HTTP.MaxIdleConns,
		Logger:       log,
	}
}
