package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/angeloszaimis/http-load-balancer/internal/strategy"
)

const (
	EnvDev     = "dev"
	EnvStaging = "staging"
	EnvProd    = "prod"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

var ErrInvalidConfig = errors.New("invalid configuration")

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Environment     string        `mapstructure:"environment"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type RoutingConfig struct {
	Policy string `mapstructure:"policy"`
}

type HealthCheckConfig struct {
	Path string `mapstructure:"path"`
	// Interval is a bare number of seconds or a duration string.
	Interval string        `mapstructure:"interval"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type ProxyConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

type AdminConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Backends    []string          `mapstructure:"backends"`
	Routing     RoutingConfig     `mapstructure:"routing"`
	HealthCheck HealthCheckConfig `mapstructure:"health_check"`
	Proxy       ProxyConfig       `mapstructure:"proxy"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limit"`
	Admin       AdminConfig       `mapstructure:"admin"`
	Logging     LoggingConfig     `mapstructure:"logging"`

	// SourceFile is the config file that was read, empty when none was found.
	SourceFile string `mapstructure:"-"`
}

// Load builds the configuration from, in increasing precedence: defaults,
// config.yaml (./config, . or --config), environment variables and args.
func Load(args []string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	flags := newFlagSet()
	if err := flags.Parse(args); err != nil {
		return nil, err
	}
	if err := bindFlags(v, flags); err != nil {
		return nil, err
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if path, _ := flags.GetString("config"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.SourceFile = v.ConfigFileUsed()
	cfg.Backends = normalizeBackends(cfg.Backends)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.environment", EnvDev)
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("routing.policy", string(strategy.PolicyRoundRobin))
	v.SetDefault("health_check.path", "/health")
	v.SetDefault("health_check.interval", "5")
	v.SetDefault("health_check.timeout", "5s")
	v.SetDefault("proxy.timeout", "30s")
	v.SetDefault("rate_limit.requests_per_second", 0)
	v.SetDefault("rate_limit.burst", 0)
	v.SetDefault("admin.enabled", true)
	v.SetDefault("admin.address", ":9090")
	v.SetDefault("logging.level", LogLevelInfo)
}

func newFlagSet() *pflag.FlagSet {
	flags := pflag.NewFlagSet("load-balancer", pflag.ContinueOnError)
	flags.SortFlags = false

	flags.StringP("config", "c", "", "path to a config file (default: config.yaml in ./config or .)")
	flags.IntP("port", "p", 8080, "port to listen on for proxied traffic")
	flags.String("host", "", "interface to listen on (default: all)")
	flags.String("env", EnvDev, "environment: dev, staging or prod")
	flags.StringSliceP("target-servers", "t", nil, "comma separated backend URLs, e.g. http://localhost:8081,http://localhost:8082")
	flags.StringP("routing-policy", "r", string(strategy.PolicyRoundRobin), "routing policy: round-robin or random")
	flags.String("health-check-path", "/health", "path probed on every backend")
	flags.String("health-check-interval", "5", "seconds (or a duration such as 500ms) between health probes")
	flags.Duration("proxy-timeout", 30*time.Second, "timeout for a forwarded request")
	flags.String("admin-address", ":9090", "address of the admin listener serving /health, /metrics and /status")
	flags.String("log-level", LogLevelInfo, "log level: debug, info, warn or error")

	return flags
}

var flagKeys = map[string]string{
	"port":                  "server.port",
	"host":                  "server.host",
	"env":                   "server.environment",
	"target-servers":        "backends",
	"routing-policy":        "routing.policy",
	"health-check-path":     "health_check.path",
	"health-check-interval": "health_check.interval",
	"proxy-timeout":         "proxy.timeout",
	"admin-address":         "admin.address",
	"log-level":             "logging.level",
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for name, key := range flagKeys {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

func normalizeBackends(raw []string) []string {
	backends := make([]string, 0, len(raw))
	for _, entry := range raw {
		for _, part := range strings.Split(entry, ",") {
			if part = strings.TrimSpace(part); part != "" {
				backends = append(backends, part)
			}
		}
	}
	return backends
}

// ListenAddress is the proxy listener's host:port.
func (c *Config) ListenAddress() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// IntervalDuration parses Interval. A bare number is taken as seconds.
func (h HealthCheckConfig) IntervalDuration() (time.Duration, error) {
	return parseInterval(h.Interval)
}

func (r RateLimitConfig) Enabled() bool {
	return r.RequestsPerSecond > 0
}

func parseInterval(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if seconds, err := strconv.ParseFloat(raw, 64); err == nil {
		return time.Duration(seconds * float64(time.Second)), nil
	}
	return time.ParseDuration(raw)
}

var healthPathPattern = regexp.MustCompile(`^/\S*$`)

func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Server,
			validation.By(func(value interface{}) error {
				sc, ok := value.(ServerConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a ServerConfig")
				}
				return validation.ValidateStruct(&sc,
					validation.Field(&sc.Host, is.Host),
					validation.Field(&sc.Port,
						validation.Required,
						validation.Min(1),
						validation.Max(65535),
					),
					validation.Field(&sc.Environment,
						validation.Required,
						validation.In(EnvDev, EnvStaging, EnvProd),
					),
					validation.Field(&sc.ShutdownTimeout, validation.By(validatePositiveDuration)),
				)
			}),
		),
		validation.Field(&c.Backends,
			validation.Required,
			validation.Length(1, 0),
			validation.Each(validation.By(validateBackendURL)),
			validation.By(validateUniqueBackends),
		),
		validation.Field(&c.Routing,
			validation.By(func(value interface{}) error {
				rc, ok := value.(RoutingConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a RoutingConfig")
				}
				return validation.ValidateStruct(&rc,
					validation.Field(&rc.Policy,
						validation.Required,
						validation.In(string(strategy.PolicyRoundRobin), string(strategy.PolicyRandom)),
					),
				)
			}),
		),
		validation.Field(&c.HealthCheck,
			validation.By(func(value interface{}) error {
				hc, ok := value.(HealthCheckConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a HealthCheckConfig")
				}
				return validation.ValidateStruct(&hc,
					validation.Field(&hc.Path,
						validation.Required,
						validation.Match(healthPathPattern).Error("must start with / and contain no spaces"),
					),
					validation.Field(&hc.Interval,
						validation.Required,
						validation.By(validateInterval),
					),
					validation.Field(&hc.Timeout, validation.By(validatePositiveDuration)),
				)
			}),
		),
		validation.Field(&c.Proxy,
			validation.By(func(value interface{}) error {
				pc, ok := value.(ProxyConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a ProxyConfig")
				}
				return validation.ValidateStruct(&pc,
					validation.Field(&pc.Timeout, validation.By(validatePositiveDuration)),
				)
			}),
		),
		validation.Field(&c.RateLimit,
			validation.By(func(value interface{}) error {
				rc, ok := value.(RateLimitConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a RateLimitConfig")
				}
				return validation.ValidateStruct(&rc,
					validation.Field(&rc.RequestsPerSecond, validation.Min(0.0)),
					validation.Field(&rc.Burst, validation.Min(0)),
				)
			}),
		),
		validation.Field(&c.Admin,
			validation.By(func(value interface{}) error {
				ac, ok := value.(AdminConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be an AdminConfig")
				}
				return validation.ValidateStruct(&ac,
					validation.Field(&ac.Address,
						validation.When(ac.Enabled,
							validation.Required,
							validation.By(validateHostPort),
						),
					),
				)
			}),
		),
		validation.Field(&c.Logging,
			validation.By(func(value interface{}) error {
				lc, ok := value.(LoggingConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a LoggingConfig")
				}
				return validation.ValidateStruct(&lc,
					validation.Field(&lc.Level,
						validation.Required,
						validation.In(LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError),
					),
				)
			}),
		),
	)
}

func validateHostPort(value interface{}) error {
	addr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return validation.NewError("validation_invalid_hostport", "must be in host:port format")
	}

	if port == "" {
		return validation.NewError("validation_invalid_port", "port cannot be empty")
	}

	if host != "" {
		if err := is.Host.Validate(host); err != nil {
			return validation.NewError("validation_invalid_host", "invalid host")
		}
	}

	return nil
}

func validateInterval(value interface{}) error {
	raw, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	d, err := parseInterval(raw)
	if err != nil {
		return validation.NewError("validation_invalid_duration", "must be a number of seconds or a valid duration (e.g., 5, 500ms, 1m)")
	}
	if d <= 0 {
		return validation.NewError("validation_invalid_duration", "must be greater than zero")
	}

	return nil
}

func validatePositiveDuration(value interface{}) error {
	d, ok := value.(time.Duration)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a duration")
	}

	if d <= 0 {
		return validation.NewError("validation_invalid_duration", "must be greater than zero")
	}

	return nil
}

func validateBackendURL(value interface{}) error {
	serverURL, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	if serverURL == "" {
		return validation.NewError("validation_empty_url", "backend URL cannot be empty")
	}

	parsedURL, err := url.Parse(serverURL)
	if err != nil {
		return validation.NewError("validation_invalid_url", "must be a valid URL")
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return validation.NewError("validation_invalid_scheme", "URL must use http or https scheme")
	}

	if parsedURL.Host == "" {
		return validation.NewError("validation_missing_host", "URL must have a host")
	}

	return nil
}

func validateUniqueBackends(value interface{}) error {
	backends, ok := value.([]string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a list of URLs")
	}

	seen := make(map[string]struct{}, len(backends))
	for _, b := range backends {
		key := strings.TrimRight(b, "/")
		if _, dup := seen[key]; dup {
			return validation.NewError("validation_duplicate_backend", fmt.Sprintf("duplicate backend %s", b))
		}
		seen[key] = struct{}{}
	}

	return nil
}
