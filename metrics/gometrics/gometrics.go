// Package gometrics adapts server.MetricsCollector to rcrowley/go-metrics,
// so command, transfer, connection, and authentication counters can be
// exported through any of go-metrics' existing reporters (graphite,
// InfluxDB, a periodic log line, or a raw JSON dump).
package gometrics

import (
	"io"
	"log/slog"
	"time"

	metrics "github.com/rcrowley/go-metrics"
)

// Collector records FTP server activity into a go-metrics Registry.
type Collector struct {
	registry metrics.Registry
}

// New creates a Collector backed by a fresh go-metrics Registry.
func New() *Collector {
	return &Collector{registry: metrics.NewRegistry()}
}

// Registry returns the underlying go-metrics Registry, for wiring into any
// of go-metrics' reporters (metrics.Log, graphite.Graphite, WriteJSON, ...).
func (c *Collector) Registry() metrics.Registry {
	return c.registry
}

// RecordCommand implements server.MetricsCollector.
func (c *Collector) RecordCommand(cmd string, success bool, duration time.Duration) {
	metrics.GetOrRegisterTimer("ftp.command."+cmd+".duration", c.registry).Update(duration)
	counterName := "ftp.command." + cmd + ".success"
	if !success {
		counterName = "ftp.command." + cmd + ".failure"
	}
	metrics.GetOrRegisterCounter(counterName, c.registry).Inc(1)
}

// RecordTransfer implements server.MetricsCollector.
func (c *Collector) RecordTransfer(operation string, bytes int64, duration time.Duration) {
	metrics.GetOrRegisterMeter("ftp.transfer."+operation+".bytes", c.registry).Mark(bytes)
	metrics.GetOrRegisterTimer("ftp.transfer."+operation+".duration", c.registry).Update(duration)
}

// RecordConnection implements server.MetricsCollector.
func (c *Collector) RecordConnection(accepted bool, reason string) {
	if accepted {
		metrics.GetOrRegisterCounter("ftp.connections.accepted", c.registry).Inc(1)
		return
	}
	metrics.GetOrRegisterCounter("ftp.connections.rejected."+reason, c.registry).Inc(1)
}

// RecordAuthentication implements server.MetricsCollector.
func (c *Collector) RecordAuthentication(success bool, user string) {
	if success {
		metrics.GetOrRegisterCounter("ftp.auth.success", c.registry).Inc(1)
		return
	}
	metrics.GetOrRegisterCounter("ftp.auth.failure", c.registry).Inc(1)
}

// LogPeriodically starts a goroutine that logs a snapshot of every metric
// in the registry every interval, using go-metrics' own slog-style
// registry walk rather than its bundled log.Logger writer.
func (c *Collector) LogPeriodically(logger *slog.Logger, interval time.Duration) {
	go func() {
		for range time.Tick(interval) {
			c.registry.Each(func(name string, i interface{}) {
				switch m := i.(type) {
				case metrics.Counter:
					logger.Info("metric", "name", name, "count", m.Count())
				case metrics.Meter:
					logger.Info("metric", "name", name, "rate1", m.Rate1())
				case metrics.Timer:
					logger.Info("metric", "name", name, "mean_ns", m.Mean(), "count", m.Count())
				}
			})
		}
	}()
}

// WriteJSON writes a single JSON snapshot of every metric in the registry
// to w.
func (c *Collector) WriteJSON(w io.Writer) {
	metrics.WriteJSONOnce(c.registry, w)
}
