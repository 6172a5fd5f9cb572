// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package world

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Metrics struct {
	Runs          prometheus.Counter
	CorpusSize    prometheus.Gauge
	CoverageScore prometheus.Gauge
	Artifacts     *prometheus.CounterVec

	mu       sync.Mutex
	lastRuns uint64
}

// NewMetrics creates the fuzzer metrics and registers them with reg. A nil
// reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Runs: f.NewCounter(prometheus.CounterOpts{
			Name: "fuzzcheck_runs_total",
			Help: "Number of target executions.",
		}),
		CorpusSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "fuzzcheck_corpus_size",
			Help: "Number of units in the corpus.",
		}),
		CoverageScore: f.NewGauge(prometheus.GaugeOpts{
			Name: "fuzzcheck_coverage_score",
			Help: "Summed importance of all features held by the corpus.",
		}),
		Artifacts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fuzzcheck_artifacts_total",
			Help: "Number of artifacts saved, by kind.",
		}, []string{"kind"}),
	}
}

func (m *Metrics) observe(s Stats) {
	m.mu.Lock()
	if s.Runs > m.lastRuns {
		m.Runs.Add(float64(s.Runs - m.lastRuns))
		m.lastRuns = s.Runs
	}
	m.mu.Unlock()
	m.CorpusSize.Set(float64(s.CorpusSize))
	m.CoverageScore.Set(s.CoverageScore)
}

// ServeMetrics exposes g on addr under /metrics until ctx is done.
func ServeMetrics(ctx context.Context, addr string, g prometheus.Gatherer, log *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	log.Info("serving metrics", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
