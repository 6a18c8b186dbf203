// Package metrics exposes ftpd server activity to Prometheus.
package metrics

import (
	"strconv"
	"time"

	"github.com/gonzalop/ftpd/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var _ server.MetricsCollector = (*Collector)(nil)

// Collector is the Prometheus implementation of server.MetricsCollector.
// A nil *Collector is valid and records nothing.
type Collector struct {
	commandsTotal    *prometheus.CounterVec
	commandDuration  *prometheus.HistogramVec
	transfersTotal   *prometheus.CounterVec
	transferBytes    *prometheus.CounterVec
	transferDuration *prometheus.HistogramVec
	connectionsTotal *prometheus.CounterVec
	activeSessions   prometheus.Gauge
	loginsTotal      *prometheus.CounterVec
}

// NewCollector registers the ftpd metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		commandsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ftpd_commands_total",
				Help: "Total number of FTP commands by verb and outcome",
			},
			[]string{"command", "success"},
		),
		commandDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "ftpd_command_duration_seconds",
				Help: "Time spent handling FTP commands, including data transfers",
				Buckets: []float64{
					0.001, // 1ms - replies with no filesystem access
					0.01,  // 10ms
					0.1,   // 100ms - directory listings
					1,     // 1s
					10,    // 10s - large transfers
					60,    // 1m
					600,   // 10m
				},
			},
			[]string{"command"},
		),
		transfersTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ftpd_transfers_total",
				Help: "Total number of data transfers by operation and outcome",
			},
			[]string{"operation", "success"},
		),
		transferBytes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ftpd_transfer_bytes_total",
				Help: "Total bytes moved over data connections",
			},
			[]string{"operation"},
		),
		transferDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ftpd_transfer_duration_seconds",
				Help:    "Duration of data transfers",
				Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
			},
			[]string{"operation"},
		),
		connectionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ftpd_connections_total",
				Help: "Control connections by result",
			},
			[]string{"result"},
		),
		activeSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "ftpd_active_sessions",
				Help: "Number of running sessions",
			},
		),
		loginsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ftpd_logins_total",
				Help: "Successful logins by user name",
			},
			[]string{"user"},
		),
	}
}

func (c *Collector) RecordCommand(cmd string, success bool, duration time.Duration) {
	if c == nil {
		return
	}
	c.commandsTotal.WithLabelValues(cmd, strconv.FormatBool(success)).Inc()
	c.commandDuration.WithLabelValues(cmd).Observe(duration.Seconds())
}

func (c *Collector) RecordTransfer(operation string, bytes int64, duration time.Duration, success bool) {
	if c == nil {
		return
	}
	c.transfersTotal.WithLabelValues(operation, strconv.FormatBool(success)).Inc()
	c.transferBytes.WithLabelValues(operation).Add(float64(bytes))
	c.transferDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordConnection counts accepted connections under "accepted" and
// rejected ones under their reason.
func (c *Collector) RecordConnection(accepted bool, reason string) {
	if c == nil {
		return
	}
	if accepted {
		reason = "accepted"
	}
	c.connectionsTotal.WithLabelValues(reason).Inc()
}

func (c *Collector) RecordSessionStart() {
	if c == nil {
		return
	}
	c.activeSessions.Inc()
}

func (c *Collector) RecordSessionEnd() {
	if c == nil {
		return
	}
	c.activeSessions.Dec()
}

func (c *Collector) RecordLogin(user string) {
	if c == nil {
		return
	}
	c.loginsTotal.WithLabelValues(user).Inc()
}
