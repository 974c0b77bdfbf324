// Package metrics exposes Prometheus metrics for debugger sessions.
package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dshills/wtldebug/internal/debug"
	"github.com/dshills/wtldebug/internal/debug/wtl"
)

// Collector records session activity. It implements debug.Observer.
type Collector struct {
	registry *prometheus.Registry

	commands      *prometheus.CounterVec
	commandErrors *prometheus.CounterVec
	messages      *prometheus.CounterVec
	drain         *prometheus.HistogramVec
}

// NewCollector creates a collector backed by its own registry.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		commands: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "wtldebug",
				Name:      "commands_total",
				Help:      "Commands sent to the WTL debugger.",
			},
			[]string{"command"},
		),
		commandErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "wtldebug",
				Name:      "command_errors_total",
				Help:      "Commands that ended in an error, by error kind.",
			},
			[]string{"command", "kind"},
		),
		messages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "wtldebug",
				Name:      "messages_total",
				Help:      "Status messages received from the WTL debugger.",
			},
			[]string{"status"},
		),
		drain: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "wtldebug",
				Name:      "drain_seconds",
				Help:      "Time from sending a command to its terminal status.",
				Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 30, 120, 600},
			},
			[]string{"command"},
		),
	}
}

// MessageReceived implements debug.Observer.
func (c *Collector) MessageReceived(ev debug.MessageEvent) {
	c.messages.WithLabelValues(ev.Message.Status).Inc()
}

// CommandCompleted implements debug.Observer.
func (c *Collector) CommandCompleted(ev debug.CommandEvent) {
	if errors.Is(ev.Err, wtl.ErrSessionClosed) {
		// Nothing was sent.
		return
	}

	c.commands.WithLabelValues(ev.Command).Inc()
	if ev.Err != nil {
		c.commandErrors.WithLabelValues(ev.Command, errorKind(ev.Err)).Inc()
		return
	}
	c.drain.WithLabelValues(ev.Command).Observe(ev.Duration.Seconds())
}

// Registry returns the registry holding the collector's metrics.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the metrics in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func errorKind(err error) string {
	var connErr *wtl.ConnectionError
	var decodeErr *wtl.ProtocolDecodeError
	var remoteErr *wtl.RemoteError

	switch {
	case errors.As(err, &connErr):
		return "connection"
	case errors.As(err, &decodeErr):
		return "protocol"
	case errors.As(err, &remoteErr):
		return "remote"
	default:
		return "other"
	}
}
