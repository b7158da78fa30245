package metrics

import (
	"context"
	"time"

	"github.com/zombor/bill-splitter/internal/scanning"
)

type instrumentedScanner struct {
	scanning.Scanner
	name    string
	metrics *ScanMetrics
}

// InstrumentScanner wraps s so every ScanBill call is counted and timed under
// the given scanner name.
func InstrumentScanner(s scanning.Scanner, name string, m *ScanMetrics) scanning.Scanner {
	if m == nil {
		return s
	}
	return &instrumentedScanner{Scanner: s, name: name, metrics: m}
}

func (s *instrumentedScanner) ScanBill(ctx context.Context, imageData []byte, contentType string) (*scanning.BillData, error) {
	start := time.Now()
	data, err := s.Scanner.ScanBill(ctx, imageData, contentType)
	s.metrics.Duration.WithLabelValues(s.name).Observe(DurationMillis(time.Since(start)))

	result := "success"
	if err != nil {
		result = "error"
	}
	s.metrics.Total.WithLabelValues(s.name, result).Inc()

	return data, err
}
