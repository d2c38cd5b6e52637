package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const validYAML = `
server:
  listen: ":9090"
  auth:
    key_env: MS_TEST_KEY
sheet:
  quarters: true
  years: true
  metrics:
    - name: beginningMRR
      aggregate: first
    - name: newMRR
      aggregate: sum
    - name: churnedMRR
      aggregate: sum
    - name: netNewMRR
      compute: "newMRR - churnedMRR"
      aggregate: sum
    - name: endingMRR
      compute: "beginningMRR + netNewMRR"
      aggregate: last
history:
  driver: sqlite
  dsn: test.db
sources:
  - name: billing
    type: prometheus
    endpoint: "http://billing:9090/metrics"
    interval: 30s
    metrics:
      - family: billing_mrr_new_total
        metric: newMRR
alerts:
  rules:
    - name: churn-spike
      condition: "churnedMRR > 1000"
      severity: warning
      cooldown: 30m
  webhooks:
    - type: slack
      url_env: MS_TEST_WEBHOOK
`

func TestLoad_Valid(t *testing.T) {
	cfg := loadFromString(t, validYAML)

	if cfg.Server.Listen != ":9090" {
		t.Errorf("server.listen: got %q", cfg.Server.Listen)
	}
	if !cfg.Sheet.Quarters || !cfg.Sheet.Years {
		t.Error("rollup toggles: both should be enabled")
	}
	if len(cfg.Sheet.Metrics) != 5 {
		t.Fatalf("metrics: got %d, want 5", len(cfg.Sheet.Metrics))
	}
	if cfg.Sheet.Metrics[3].Compute != "newMRR - churnedMRR" {
		t.Errorf("netNewMRR compute: got %q", cfg.Sheet.Metrics[3].Compute)
	}
	if cfg.History.Driver != "sqlite" || cfg.History.DSN != "test.db" {
		t.Errorf("history: got %+v", cfg.History)
	}
	if len(cfg.Sources) != 1 || cfg.Sources[0].Interval != 30*time.Second {
		t.Errorf("sources: got %+v", cfg.Sources)
	}
	if len(cfg.Alerts.Rules) != 1 || cfg.Alerts.Rules[0].Cooldown != 30*time.Minute {
		t.Errorf("alert rules: got %+v", cfg.Alerts.Rules)
	}
}

func TestLoad_Defaults(t *testing.T) {
	yaml := `
sheet:
  metrics:
    - name: mrr
sources:
  - name: finance
    type: csv
    path: data.csv
`
	cfg := loadFromString(t, yaml)

	if cfg.Server.Listen != DefaultListen {
		t.Errorf("default listen: got %q, want %q", cfg.Server.Listen, DefaultListen)
	}
	if cfg.History.Driver != DefaultHistoryDriver {
		t.Errorf("default history driver: got %q, want %q", cfg.History.Driver, DefaultHistoryDriver)
	}
	if cfg.Sources[0].Interval != DefaultSourceInterval {
		t.Errorf("default source interval: got %v, want %v", cfg.Sources[0].Interval, DefaultSourceInterval)
	}
}

func TestLoad_NoMetrics(t *testing.T) {
	yaml := `
sheet:
  quarters: true
`
	if _, err := loadStringErr(t, yaml); err == nil {
		t.Fatal("expected error for empty metric list, got nil")
	}
}

func TestLoad_DuplicateMetric(t *testing.T) {
	yaml := `
sheet:
  metrics:
    - name: mrr
    - name: mrr
`
	if _, err := loadStringErr(t, yaml); err == nil {
		t.Fatal("expected error for duplicate metric, got nil")
	}
}

func TestLoad_UnknownAggregate(t *testing.T) {
	yaml := `
sheet:
  metrics:
    - name: mrr
      aggregate: median
`
	if _, err := loadStringErr(t, yaml); err == nil {
		t.Fatal("expected error for unknown aggregate, got nil")
	}
}

func TestLoad_BadComputeExpression(t *testing.T) {
	tests := []struct {
		name string
		expr string
	}{
		{"undeclared operand", "revenue - cost"},
		{"unknown operator", "mrr ^ 2"},
		{"too many tokens", "mrr + mrr + mrr"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			yaml := `
sheet:
  metrics:
    - name: mrr
    - name: derived
      compute: "` + tc.expr + `"
`
			if _, err := loadStringErr(t, yaml); err == nil {
				t.Fatalf("expected error for expression %q, got nil", tc.expr)
			}
		})
	}
}

func TestLoad_HistoryDriverNeedsDSN(t *testing.T) {
	yaml := `
sheet:
  metrics:
    - name: mrr
history:
  driver: postgres
`
	if _, err := loadStringErr(t, yaml); err == nil {
		t.Fatal("expected error for postgres without dsn, got nil")
	}
}

func TestLoad_UnknownHistoryDriver(t *testing.T) {
	yaml := `
sheet:
  metrics:
    - name: mrr
history:
  driver: redis
  dsn: something
`
	if _, err := loadStringErr(t, yaml); err == nil {
		t.Fatal("expected error for unknown history driver, got nil")
	}
}

func TestLoad_SourceValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown type", `
sheet:
  metrics:
    - name: mrr
sources:
  - name: src
    type: graphite
    endpoint: "http://x"
`},
		{"prometheus without endpoint", `
sheet:
  metrics:
    - name: mrr
sources:
  - name: src
    type: prometheus
    metrics:
      - family: fam
        metric: mrr
`},
		{"prometheus without mappings", `
sheet:
  metrics:
    - name: mrr
sources:
  - name: src
    type: prometheus
    endpoint: "http://x"
`},
		{"mapping to undeclared metric", `
sheet:
  metrics:
    - name: mrr
sources:
  - name: src
    type: prometheus
    endpoint: "http://x"
    metrics:
      - family: fam
        metric: revenue
`},
		{"csv without path", `
sheet:
  metrics:
    - name: mrr
sources:
  - name: src
    type: csv
`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := loadStringErr(t, tc.yaml); err == nil {
				t.Fatal("expected validation error, got nil")
			}
		})
	}
}

func TestLoad_AlertValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad severity", `
sheet:
  metrics:
    - name: mrr
alerts:
  rules:
    - name: r
      condition: "mrr > 1"
      severity: shouting
`},
		{"bad period pin", `
sheet:
  metrics:
    - name: mrr
alerts:
  rules:
    - name: r
      condition: "mrr > 1"
      period: "2023-13"
`},
		{"bad webhook type", `
sheet:
  metrics:
    - name: mrr
alerts:
  webhooks:
    - type: carrier-pigeon
      url_env: X
`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := loadStringErr(t, tc.yaml); err == nil {
				t.Fatal("expected validation error, got nil")
			}
		})
	}
}

func TestTableConfig_BuildsMetrics(t *testing.T) {
	cfg := loadFromString(t, validYAML)

	tc, err := cfg.TableConfig()
	if err != nil {
		t.Fatalf("TableConfig: %v", err)
	}
	if len(tc.Metrics) != 5 {
		t.Fatalf("metrics: got %d, want 5", len(tc.Metrics))
	}
	if !tc.Quarters || !tc.Years {
		t.Error("rollup toggles not carried over")
	}
	if tc.Metrics[0].Aggregate == nil || tc.Metrics[0].Compute != nil {
		t.Error("beginningMRR: want aggregate only")
	}
	if tc.Metrics[3].Compute == nil {
		t.Error("netNewMRR: compute rule missing")
	}
}

func TestAuthConfig_Key(t *testing.T) {
	t.Setenv("MS_TEST_KEY", "supersecret")
	a := AuthConfig{KeyEnv: "MS_TEST_KEY"}
	if got := a.Key(); got != "supersecret" {
		t.Errorf("Key(): got %q, want %q", got, "supersecret")
	}
}

func TestAuthConfig_EffectiveHeader(t *testing.T) {
	if got := (AuthConfig{}).EffectiveHeader(); got != "x-api-key" {
		t.Errorf("default header: got %q", got)
	}
	if got := (AuthConfig{Header: "x-sheet-key"}).EffectiveHeader(); got != "x-sheet-key" {
		t.Errorf("explicit header: got %q", got)
	}
}

func TestHistoryConfig_ResolvedDSN(t *testing.T) {
	t.Setenv("MS_TEST_DSN", "postgres://u:p@db/metricsheet")
	h := HistoryConfig{Driver: "postgres", DSN: "fallback", DSNEnv: "MS_TEST_DSN"}
	if got := h.ResolvedDSN(); got != "postgres://u:p@db/metricsheet" {
		t.Errorf("ResolvedDSN: got %q, want env value", got)
	}
	h.DSNEnv = ""
	if got := h.ResolvedDSN(); got != "fallback" {
		t.Errorf("ResolvedDSN without env: got %q, want fallback", got)
	}
}

func TestWebhookConfig_URL(t *testing.T) {
	t.Setenv("MS_TEST_WEBHOOK", "https://hooks.example.com/T000/B000")
	w := WebhookConfig{Type: "slack", URLEnv: "MS_TEST_WEBHOOK"}
	if got := w.URL(); got != "https://hooks.example.com/T000/B000" {
		t.Errorf("URL(): got %q", got)
	}
}

// loadFromString writes yaml to a temp file and calls Load, failing on error.
func loadFromString(t *testing.T, content string) *Config {
	t.Helper()
	cfg, err := loadStringErr(t, content)
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	return cfg
}

// loadStringErr writes yaml to a temp file and calls Load, returning any error.
func loadStringErr(t *testing.T, content string) (*Config, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return Load(path)
}
