// Package exporter exposes seed metrics to Prometheus.
package exporter

import (
	"context"
	"net/http"
	"time"

	"github.com/func/seeder/seed"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Namespace is the metrics namespace.
const Namespace = "seeder"

// StatePending is reported for seeds without a status.
const StatePending = "pending"

// Seeds lists the known seeds.
type Seeds interface {
	Refs() []seed.Ref
}

// Statuses provides the latest statuses of seeds.
type Statuses interface {
	Statuses(ctx context.Context, namespace string) (map[string]seed.Status, error)
}

var (
	totalDesc = prometheus.NewDesc(
		prometheus.BuildFQName(Namespace, "", "seeds_total"),
		"Number of seeds.",
		nil, nil,
	)
	statusDesc = prometheus.NewDesc(
		prometheus.BuildFQName(Namespace, "", "seeds_status"),
		"Status of a seed. The state label holds the state of the latest reconciliation.",
		[]string{"namespace", "name", "state"}, nil,
	)
)

// A Collector collects seed metrics on every scrape.
type Collector struct {
	Seeds    Seeds
	Statuses Statuses

	// Timeout bounds reading statuses. Defaults to 5 seconds.
	Timeout time.Duration

	// Logger logs failed status reads. If not set, logs are discarded.
	Logger *zap.Logger
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- totalDesc
	ch <- statusDesc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	refs := c.Seeds.Refs()
	ch <- prometheus.MustNewConstMetric(totalDesc, prometheus.GaugeValue, float64(len(refs)))

	timeout := c.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	statuses := make(map[string]map[string]seed.Status)
	for _, ref := range refs {
		byName, ok := statuses[ref.Namespace]
		if !ok {
			var err error
			byName, err = c.Statuses.Statuses(ctx, ref.Namespace)
			if err != nil {
				c.logger().Warn("Could not read statuses", zap.String("namespace", ref.Namespace), zap.Error(err))
				byName = map[string]seed.Status{}
			}
			statuses[ref.Namespace] = byName
		}
		state := StatePending
		if st, ok := byName[ref.Name]; ok && st.State != "" {
			state = st.State
		}
		ch <- prometheus.MustNewConstMetric(statusDesc, prometheus.GaugeValue, 1, ref.Namespace, ref.Name, state)
	}
}

func (c *Collector) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

// Handler returns the HTTP handler serving /metrics from the given gatherer
// and a /healthz liveness endpoint.
func Handler(g prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux
}

// Serve serves h on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, h http.Handler, logger *zap.Logger) error {
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 10 * time.Second}
	errc := make(chan error, 1)
	go func() {
		logger.Info("Serving metrics", zap.String("address", addr))
		errc <- srv.ListenAndServe()
	}()
	select {
	case err := <-errc:
		return errors.Wrap(err, "serve metrics")
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutdown metrics server")
	}
	return nil
}
