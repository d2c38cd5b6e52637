package ingest

import (
	"context"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/metricsheet/metricsheet/internal/config"
	"github.com/metricsheet/metricsheet/pkg/period"
	"github.com/metricsheet/metricsheet/pkg/sheet"
)

// promSource scrapes a Prometheus exposition endpoint and maps metric
// families onto sheet metrics for the current month.
type promSource struct {
	name     string
	endpoint string
	mappings []config.FamilyMapping
	client   *http.Client
}

func newPromSource(src config.SourceConfig) *promSource {
	return &promSource{
		name:     src.Name,
		endpoint: src.Endpoint,
		mappings: src.Metrics,
		client:   &http.Client{Timeout: defaultFetchTimeout},
	}
}

func (s *promSource) Name() string { return s.name }

// Fetch scrapes the endpoint and produces one write per configured
// family, summing labelled series into a single value. A family absent
// from the scrape produces no write, leaving the cell untouched.
func (s *promSource) Fetch(ctx context.Context) ([]sheet.Write, error) {
	mfs, err := fetchMetrics(ctx, s.client, s.endpoint)
	if err != nil {
		return nil, err
	}

	p := period.FromTime(time.Now().UTC())
	writes := make([]sheet.Write, 0, len(s.mappings))
	for _, m := range s.mappings {
		mf, ok := mfs[m.Family]
		if !ok {
			continue
		}
		writes = append(writes, sheet.Write{
			Metric: m.Metric,
			Period: p,
			Value:  sheet.Present(decimal.NewFromFloat(sumFamily(mf))),
		})
	}
	return writes, nil
}
