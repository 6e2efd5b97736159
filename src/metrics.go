package gateway

/*------------------------------------------------------------------
 *
 * Purpose:	Prometheus counters/gauges for the gateway (C11).
 *
 * Description:	Modeled on the teacher's igate.go stats_* counters,
 *		generalized from process-local integers to a real
 *		exporter since this corpus's prometheus/client_golang
 *		dependency otherwise goes unused.
 *
 *------------------------------------------------------------------*/

import (
	"context"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every counter/gauge the gateway exports.
type Metrics struct {
	ReportsAccepted  prometheus.Counter
	ReportsRejected  *prometheus.CounterVec
	ReportsDuplicate prometheus.Counter
	PublishAttempts  *prometheus.CounterVec
	FlushTicks       prometheus.Counter
	NotificationsSent      *prometheus.CounterVec
	NotificationsCollapsed prometheus.Counter
	RadioConnected   prometheus.Gauge
	PendingReports   prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics builds a fresh set of collectors registered against a
// private registry (never the global default, so multiple gateway
// instances can coexist in one process during tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		ReportsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meshgate_reports_accepted_total",
			Help: "Reports accepted by the policy engine.",
		}),
		ReportsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meshgate_reports_rejected_total",
			Help: "Reports rejected by the policy engine, by reason.",
		}, []string{"reason"}),
		ReportsDuplicate: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meshgate_reports_duplicate_total",
			Help: "Reports suppressed as duplicates.",
		}),
		PublishAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meshgate_publish_attempts_total",
			Help: "Upstream publish attempts, by result.",
		}, []string{"result"}),
		FlushTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meshgate_flush_ticks_total",
			Help: "Flush worker tick iterations.",
		}),
		NotificationsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meshgate_notifications_sent_total",
			Help: "Acks transmitted to the radio, by kind.",
		}, []string{"kind"}),
		NotificationsCollapsed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meshgate_notifications_collapsed_total",
			Help: "Acks collapsed into a summary by the anti-spam budget.",
		}),
		RadioConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "meshgate_radio_connected",
			Help: "1 if the serial radio endpoint is currently open.",
		}),
		PendingReports: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "meshgate_pending_reports",
			Help: "Current count of PENDING reports in the store.",
		}),
		registry: reg,
	}

	reg.MustRegister(
		m.ReportsAccepted,
		m.ReportsRejected,
		m.ReportsDuplicate,
		m.PublishAttempts,
		m.FlushTicks,
		m.NotificationsSent,
		m.NotificationsCollapsed,
		m.RadioConnected,
		m.PendingReports,
	)

	return m
}

// Serve binds a metrics HTTP endpoint at addr. Bind failures are logged
// and otherwise ignored: metrics are an observability nicety, not a
// load-bearing part of the gateway's own correctness.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *log.Logger) {
	if addr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("metrics: server exited", "addr", addr, "err", err)
		}
	}()
}
