// Package metrics provides Prometheus instrumentation for the coordination
// server.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/edgenet/edgenet/internal/logger"
)

// Metrics holds the server's Prometheus collectors.
//
// All methods handle a nil receiver gracefully, so callers never need to
// guard for metrics being disabled.
type Metrics struct {
	// SessionsActive tracks currently connected sessions.
	SessionsActive prometheus.Gauge

	// DevicesRegistered tracks currently registered devices.
	DevicesRegistered prometheus.Gauge

	// AuthFailuresTotal counts failed authentication attempts.
	AuthFailuresTotal prometheus.Counter

	// LockoutsTotal counts accounts blocked for exceeding the failure
	// threshold.
	LockoutsTotal prometheus.Counter

	// CommandsTotal counts dispatched commands by verb.
	CommandsTotal *prometheus.CounterVec
}

// NewMetrics creates the server metrics. Pass nil to create metrics without
// registration (testing, metrics disabled).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "edgenet_sessions_active",
				Help: "Current number of connected client sessions",
			},
		),

		DevicesRegistered: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "edgenet_devices_registered",
				Help: "Current number of registered edge devices",
			},
		),

		AuthFailuresTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "edgenet_auth_failures_total",
				Help: "Total failed authentication attempts",
			},
		),

		LockoutsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "edgenet_lockouts_total",
				Help: "Total accounts blocked after exceeding the failure threshold",
			},
		),

		CommandsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edgenet_commands_total",
				Help: "Total dispatched commands by verb",
			},
			[]string{"verb"},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.SessionsActive,
			m.DevicesRegistered,
			m.AuthFailuresTotal,
			m.LockoutsTotal,
			m.CommandsTotal,
		)
	}

	return m
}

// SessionOpened records a new client session. Safe to call on nil receiver.
func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.SessionsActive.Inc()
}

// SessionClosed records a finished client session. Safe on nil receiver.
func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
}

// DeviceRegistered records a device joining the registry. Safe on nil receiver.
func (m *Metrics) DeviceRegistered() {
	if m == nil {
		return
	}
	m.DevicesRegistered.Inc()
}

// DeviceUnregistered records a device leaving the registry. Safe on nil receiver.
func (m *Metrics) DeviceUnregistered() {
	if m == nil {
		return
	}
	m.DevicesRegistered.Dec()
}

// AuthFailure records one failed authentication attempt. Safe on nil receiver.
func (m *Metrics) AuthFailure() {
	if m == nil {
		return
	}
	m.AuthFailuresTotal.Inc()
}

// Lockout records one account lockout. Safe on nil receiver.
func (m *Metrics) Lockout() {
	if m == nil {
		return
	}
	m.LockoutsTotal.Inc()
}

// CommandDispatched records one dispatched command. Safe on nil receiver.
func (m *Metrics) CommandDispatched(verb string) {
	if m == nil {
		return
	}
	m.CommandsTotal.WithLabelValues(verb).Inc()
}

// Serve exposes the given registry on /metrics at addr until ctx is
// cancelled.
func Serve(ctx context.Context, addr string, gatherer prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Metrics server shutdown error", "error", err)
		}
	}()

	logger.Info("Metrics server started", "address", addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
