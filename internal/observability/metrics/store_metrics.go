package metrics

import (
	"context"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RowCounter reports the number of stored readings.
type RowCounter interface {
	Count(ctx context.Context) (int64, error)
}

func registerStoreMetrics(counter RowCounter, logger *log.Logger) {
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "readings_stored",
			Help: "Readings held by the reading store",
		},
		func() float64 {
			return queryCount(counter, logger)
		},
	))
}

func queryCount(counter RowCounter, logger *log.Logger) float64 {
	if counter == nil {
		return 0
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	count, err := counter.Count(ctx)
	if err != nil {
		if logger != nil {
			logger.Printf("metrics query failed: %v", err)
		}
		return 0
	}
	if count < 0 {
		return 0
	}
	return float64(count)
}
