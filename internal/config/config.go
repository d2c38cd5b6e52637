package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/metricsheet/metricsheet/pkg/period"
	"github.com/metricsheet/metricsheet/pkg/sheet"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultListen         = ":8080"
	DefaultSourceInterval = time.Minute
	DefaultHistoryDriver  = "none"
)

// Config is the top-level configuration. Fields map 1:1 to config.example.yaml.
type Config struct {
	Server  ServerConfig   `yaml:"server"`
	Sheet   SheetConfig    `yaml:"sheet"`
	History HistoryConfig  `yaml:"history"`
	Sources []SourceConfig `yaml:"sources"`
	Alerts  AlertsConfig   `yaml:"alerts"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	// Listen is the address the REST API and WebSocket stream bind to.
	Listen string `yaml:"listen"`

	// Auth configures request authentication for the API.
	Auth AuthConfig `yaml:"auth"`
}

// AuthConfig configures shared-key request authentication.
type AuthConfig struct {
	// KeyEnv is the name of the environment variable holding the expected
	// API key. An empty or unresolvable key disables authentication.
	KeyEnv string `yaml:"key_env"`

	// Header is the request header the key is read from.
	// Defaults to "x-api-key" if empty; "Authorization: Bearer <key>" is
	// accepted either way.
	Header string `yaml:"header"`
}

// Key returns the expected API key resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// EffectiveHeader returns the configured header name, or the default "x-api-key".
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return "x-api-key"
}

// SheetConfig declares the metric table.
type SheetConfig struct {
	// Quarters and Years enable the two rollup granularities.
	Quarters bool `yaml:"quarters"`
	Years    bool `yaml:"years"`

	// Metrics is the ordered metric list. Order matters: compute
	// expressions are evaluated top to bottom, so a metric should be
	// declared after the metrics its expression reads.
	Metrics []MetricConfig `yaml:"metrics"`
}

// MetricConfig declares one metric row.
type MetricConfig struct {
	// Name is the metric identifier used in writes, expressions,
	// alert conditions, and the API.
	Name string `yaml:"name"`

	// Compute is an optional derivation expression: a single metric name
	// or number, or "lhs op rhs" with op one of + - * /.
	Compute string `yaml:"compute"`

	// Aggregate is an optional rollup rule: first | last | sum | average.
	Aggregate string `yaml:"aggregate"`
}

// HistoryConfig selects the change-history backend.
type HistoryConfig struct {
	// Driver is one of: sqlite | postgres | none.
	Driver string `yaml:"driver"`

	// DSN is the connection string: a file path for sqlite, a postgres
	// URL or key=value DSN for postgres.
	DSN string `yaml:"dsn"`

	// DSNEnv names an environment variable holding the DSN, for setups
	// where it carries credentials. Takes precedence over DSN when set.
	DSNEnv string `yaml:"dsn_env"`
}

// ResolvedDSN returns the DSN, preferring the environment indirection.
func (h HistoryConfig) ResolvedDSN() string {
	if h.DSNEnv != "" {
		return os.Getenv(h.DSNEnv)
	}
	return h.DSN
}

// SourceConfig declares one ingest source feeding writes into the sheet.
type SourceConfig struct {
	// Name tags the source's batches in history and logs.
	Name string `yaml:"name"`

	// Type is one of: prometheus | csv.
	Type string `yaml:"type"`

	// Endpoint is the exposition URL polled by a prometheus source.
	Endpoint string `yaml:"endpoint"`

	// Path is the file read by a csv source.
	Path string `yaml:"path"`

	// Interval is how often the source is polled. Default: 1m.
	Interval time.Duration `yaml:"interval"`

	// Metrics maps exposition families to sheet metrics (prometheus only).
	Metrics []FamilyMapping `yaml:"metrics"`
}

// FamilyMapping routes one Prometheus metric family into a sheet metric.
type FamilyMapping struct {
	Family string `yaml:"family"`
	Metric string `yaml:"metric"`
}

// AlertsConfig holds alerting rules and webhook delivery targets.
type AlertsConfig struct {
	Rules    []AlertRule     `yaml:"rules"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// AlertRule defines one threshold condition over changed cells.
type AlertRule struct {
	// Name is the human-readable alert identifier, used as the
	// deduplication key together with the triggering period.
	Name string `yaml:"name"`

	// Condition is "metric op threshold", e.g. "churnedMRR > 1000".
	Condition string `yaml:"condition"`

	// Period optionally pins the rule to one period key ("2024-04",
	// "2024-36", "2024"). Empty means any period.
	Period string `yaml:"period"`

	// Severity is one of: critical | warning | info. Defaults to warning.
	Severity string `yaml:"severity"`

	// Cooldown suppresses re-fires per (rule, period) for this duration.
	Cooldown time.Duration `yaml:"cooldown"`
}

// WebhookConfig defines one webhook delivery target.
type WebhookConfig struct {
	// Type is one of: slack | http.
	Type string `yaml:"type"`

	// URLEnv is the name of the environment variable holding the webhook URL.
	URLEnv string `yaml:"url_env"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string {
	if w.URLEnv == "" {
		return ""
	}
	return os.Getenv(w.URLEnv)
}

// Load reads and parses the YAML config file at path. Missing optional
// fields are filled with defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// TableConfig compiles the declared metrics into the engine configuration,
// resolving aggregate names and compute expressions. Load has already run
// this once, so post-Load calls cannot fail on a loaded config.
func (c *Config) TableConfig() (sheet.Config, error) {
	declared := make(map[string]bool, len(c.Sheet.Metrics))
	for _, m := range c.Sheet.Metrics {
		declared[m.Name] = true
	}

	out := sheet.Config{Quarters: c.Sheet.Quarters, Years: c.Sheet.Years}
	for _, m := range c.Sheet.Metrics {
		metric := sheet.Metric{Name: m.Name}
		if m.Compute != "" {
			fn, err := CompileExpr(m.Compute, declared)
			if err != nil {
				return sheet.Config{}, fmt.Errorf("metric %q: %w", m.Name, err)
			}
			metric.Compute = fn
		}
		if m.Aggregate != "" {
			fn, ok := sheet.AggregateByName(m.Aggregate)
			if !ok {
				return sheet.Config{}, fmt.Errorf("metric %q: unknown aggregate %q: want first|last|sum|average", m.Name, m.Aggregate)
			}
			metric.Aggregate = fn
		}
		out.Metrics = append(out.Metrics, metric)
	}
	return out, nil
}

// MetricNames returns the declared metric names in declaration order.
func (c *Config) MetricNames() []string {
	out := make([]string, len(c.Sheet.Metrics))
	for i, m := range c.Sheet.Metrics {
		out[i] = m.Name
	}
	return out
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Listen: DefaultListen,
		},
		History: HistoryConfig{
			Driver: DefaultHistoryDriver,
		},
	}
}

// validate checks required fields and structural constraints.
func validate(cfg *Config) error {
	if cfg.Server.Listen == "" {
		return fmt.Errorf("server.listen is required")
	}

	if len(cfg.Sheet.Metrics) == 0 {
		return fmt.Errorf("sheet.metrics must declare at least one metric")
	}
	seen := make(map[string]bool, len(cfg.Sheet.Metrics))
	for i, m := range cfg.Sheet.Metrics {
		if m.Name == "" {
			return fmt.Errorf("sheet.metrics[%d]: name is required", i)
		}
		if seen[m.Name] {
			return fmt.Errorf("sheet.metrics[%d]: metric %q declared twice", i, m.Name)
		}
		seen[m.Name] = true
	}
	// Compiling the sheet catches unknown aggregates and bad expressions.
	if _, err := cfg.TableConfig(); err != nil {
		return err
	}

	switch cfg.History.Driver {
	case "sqlite", "postgres":
		if cfg.History.DSN == "" && cfg.History.DSNEnv == "" {
			return fmt.Errorf("history: driver %q needs dsn or dsn_env", cfg.History.Driver)
		}
	case "none", "":
	default:
		return fmt.Errorf("history.driver %q unknown: want sqlite|postgres|none", cfg.History.Driver)
	}

	for i := range cfg.Sources {
		src := &cfg.Sources[i]
		if src.Name == "" {
			return fmt.Errorf("sources[%d]: name is required", i)
		}
		if src.Interval == 0 {
			src.Interval = DefaultSourceInterval
		}
		if src.Interval < 0 {
			return fmt.Errorf("sources[%d] %q: interval must be positive", i, src.Name)
		}
		switch src.Type {
		case "prometheus":
			if src.Endpoint == "" {
				return fmt.Errorf("sources[%d] %q: endpoint is required", i, src.Name)
			}
			if len(src.Metrics) == 0 {
				return fmt.Errorf("sources[%d] %q: at least one family mapping is required", i, src.Name)
			}
			for j, fm := range src.Metrics {
				if fm.Family == "" {
					return fmt.Errorf("sources[%d] %q: metrics[%d]: family is required", i, src.Name, j)
				}
				if !seen[fm.Metric] {
					return fmt.Errorf("sources[%d] %q: metrics[%d]: metric %q not declared in sheet.metrics", i, src.Name, j, fm.Metric)
				}
			}
		case "csv":
			if src.Path == "" {
				return fmt.Errorf("sources[%d] %q: path is required", i, src.Name)
			}
		default:
			return fmt.Errorf("sources[%d] %q: unknown type %q: want prometheus|csv", i, src.Name, src.Type)
		}
	}

	for i, rule := range cfg.Alerts.Rules {
		if rule.Name == "" {
			return fmt.Errorf("alerts.rules[%d]: name is required", i)
		}
		if rule.Condition == "" {
			return fmt.Errorf("alerts.rules[%d] %q: condition is required", i, rule.Name)
		}
		switch rule.Severity {
		case "critical", "warning", "info", "":
		default:
			return fmt.Errorf("alerts.rules[%d] %q: severity %q unknown: want critical|warning|info", i, rule.Name, rule.Severity)
		}
		if rule.Period != "" {
			if _, err := period.FromKey(rule.Period); err != nil {
				return fmt.Errorf("alerts.rules[%d] %q: %w", i, rule.Name, err)
			}
		}
		if rule.Cooldown < 0 {
			return fmt.Errorf("alerts.rules[%d] %q: cooldown must not be negative", i, rule.Name)
		}
	}
	for i, wh := range cfg.Alerts.Webhooks {
		switch wh.Type {
		case "slack", "http":
		default:
			return fmt.Errorf("alerts.webhooks[%d]: type %q unknown: want slack|http", i, wh.Type)
		}
	}

	return nil
}
