package alerts

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/metricsheet/metricsheet/internal/config"
	"github.com/metricsheet/metricsheet/internal/history"
	"github.com/metricsheet/metricsheet/pkg/period"
	"github.com/metricsheet/metricsheet/pkg/sheet"
)

const (
	defaultCooldown   = 15 * time.Minute
	maxHistoryLen     = 200
	recentWindowHours = 1
)

// Alert represents a single alert event produced by the rule engine.
type Alert struct {
	ID         string     `json:"id"`
	RuleName   string     `json:"rule_name"`
	Metric     string     `json:"metric"`
	Period     string     `json:"period"`
	Severity   string     `json:"severity"`
	Message    string     `json:"message"`
	Value      string     `json:"value"`
	FiredAt    time.Time  `json:"fired_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	State      string     `json:"state"` // "firing" | "resolved"
}

// compiledRule pairs a configured rule with its parsed condition and
// optional period pin.
type compiledRule struct {
	cfg  config.AlertRule
	cond condition
	pin  *period.Period
}

// Engine evaluates alert rules against applied batches and delivers
// webhook notifications when rules fire or resolve.
//
// Engine is safe for concurrent use.
type Engine struct {
	rules    []compiledRule
	webhooks []config.WebhookConfig

	mu       sync.Mutex
	active   map[string]*Alert    // key: "ruleName:periodKey"
	lastFire map[string]time.Time // last fire time per key (for cooldown)
	history  []*Alert             // recently resolved alerts
	client   *http.Client
	now      func() time.Time
}

// New compiles cfg's rules against the declared metric names. An
// Engine with empty rules is valid — Evaluate becomes a no-op.
func New(cfg config.AlertsConfig, metrics []string) (*Engine, error) {
	declared := make(map[string]bool, len(metrics))
	for _, m := range metrics {
		declared[m] = true
	}

	rules := make([]compiledRule, 0, len(cfg.Rules))
	for _, r := range cfg.Rules {
		cond, err := compileCondition(r.Condition, declared)
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", r.Name, err)
		}
		var pin *period.Period
		if r.Period != "" {
			p, err := period.FromKey(r.Period)
			if err != nil {
				return nil, fmt.Errorf("rule %q: %w", r.Name, err)
			}
			pin = &p
		}
		rules = append(rules, compiledRule{cfg: r, cond: cond, pin: pin})
	}

	return &Engine{
		rules:    rules,
		webhooks: cfg.Webhooks,
		active:   make(map[string]*Alert),
		lastFire: make(map[string]time.Time),
		client:   &http.Client{Timeout: 10 * time.Second},
		now:      time.Now,
	}, nil
}

// Evaluate tests the configured rules against every change in batch.
// Alerts that fire are stored and webhook delivery is triggered
// asynchronously. Alerts whose cell no longer satisfies the condition
// are resolved.
func (e *Engine) Evaluate(batch history.Batch) {
	if len(e.rules) == 0 {
		return
	}

	for _, c := range batch.Changes {
		for i := range e.rules {
			rule := &e.rules[i]
			if rule.cond.metric != c.Metric {
				continue
			}
			if rule.pin != nil && *rule.pin != c.Period {
				continue
			}
			e.apply(rule, c)
		}
	}
}

// apply runs one rule against one changed cell, firing or resolving.
func (e *Engine) apply(rule *compiledRule, c sheet.Change) {
	key := rule.cfg.Name + ":" + c.Period.Key()
	fires := c.New.Valid && rule.cond.holds(c.New.Decimal)
	now := e.now()

	e.mu.Lock()

	if fires {
		cooldown := rule.cfg.Cooldown
		if cooldown <= 0 {
			cooldown = defaultCooldown
		}
		if now.Sub(e.lastFire[key]) <= cooldown {
			e.mu.Unlock()
			return
		}

		sev := rule.cfg.Severity
		if sev == "" {
			sev = "warning"
		}
		value := c.New.Decimal.String()
		a := &Alert{
			ID:       fmt.Sprintf("%s:%s:%d", rule.cfg.Name, c.Period.Key(), now.UnixNano()),
			RuleName: rule.cfg.Name,
			Metric:   c.Metric,
			Period:   c.Period.Key(),
			Severity: sev,
			Value:    value,
			Message: fmt.Sprintf("%s fired on %s — %s = %s",
				rule.cfg.Name, c.Period.Key(), rule.cfg.Condition, value),
			FiredAt: now,
			State:   "firing",
		}
		e.active[key] = a
		e.lastFire[key] = now
		alertCopy := *a
		e.mu.Unlock()

		slog.Warn("alert fired",
			"rule", rule.cfg.Name,
			"metric", c.Metric,
			"period", c.Period.Key(),
			"value", value,
			"severity", sev,
		)
		go e.deliver(&alertCopy)
		return
	}

	a, ok := e.active[key]
	if !ok || a.State != "firing" {
		e.mu.Unlock()
		return
	}
	resolved := now
	a.State = "resolved"
	a.ResolvedAt = &resolved
	delete(e.active, key)

	e.history = append(e.history, a)
	if len(e.history) > maxHistoryLen {
		e.history = e.history[len(e.history)-maxHistoryLen:]
	}
	alertCopy := *a
	e.mu.Unlock()

	slog.Info("alert resolved",
		"rule", rule.cfg.Name,
		"metric", c.Metric,
		"period", c.Period.Key(),
	)
	go e.deliver(&alertCopy)
}

// Active returns copies of all currently firing alerts plus any alerts
// resolved within the past hour.
func (e *Engine) Active() []Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := e.now().Add(-recentWindowHours * time.Hour)
	out := make([]Alert, 0, len(e.active))

	for _, a := range e.active {
		out = append(out, *a)
	}
	for _, a := range e.history {
		if a.ResolvedAt != nil && a.ResolvedAt.After(cutoff) {
			out = append(out, *a)
		}
	}
	return out
}
