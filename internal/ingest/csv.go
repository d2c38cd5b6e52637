package ingest

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"

	"github.com/shopspring/decimal"

	"github.com/metricsheet/metricsheet/pkg/period"
	"github.com/metricsheet/metricsheet/pkg/sheet"
)

// csvSource re-reads a file of raw cells on every poll.
type csvSource struct {
	name string
	path string
}

func (s *csvSource) Name() string { return s.name }

func (s *csvSource) Fetch(_ context.Context) ([]sheet.Write, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseCSV(f)
}

// ParseCSV reads writes from r. The header must be exactly
// metric,period,value. An empty value field clears the cell; any
// malformed row fails the whole parse.
func ParseCSV(r io.Reader) ([]sheet.Write, error) {
	cr := csv.NewReader(r)

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("ingest: read csv header: %w", err)
	}
	if len(header) != 3 || header[0] != "metric" || header[1] != "period" || header[2] != "value" {
		return nil, fmt.Errorf("ingest: csv header must be metric,period,value, got %v", header)
	}

	var writes []sheet.Write
	line := 1
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("ingest: csv line %d: %w", line, err)
		}
		if record[0] == "" {
			return nil, fmt.Errorf("ingest: csv line %d: empty metric", line)
		}
		p, err := period.FromKey(record[1])
		if err != nil {
			return nil, fmt.Errorf("ingest: csv line %d: %w", line, err)
		}
		value := sheet.Absent()
		if record[2] != "" {
			d, err := decimal.NewFromString(record[2])
			if err != nil {
				return nil, fmt.Errorf("ingest: csv line %d: bad value %q", line, record[2])
			}
			value = sheet.Present(d)
		}
		writes = append(writes, sheet.Write{Metric: record[0], Period: p, Value: value})
	}
	return writes, nil
}
