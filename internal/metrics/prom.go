package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tabwire_build_info",
			Help: "Build information",
		},
		[]string{"date", "sha", "version"},
	)

	commands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tabwire_commands_total",
			Help: "Browser commands routed, by action and outcome",
		},
		[]string{"action", "outcome"},
	)

	commandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tabwire_command_duration_seconds",
			Help:    "Browser command round-trip duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"action"},
	)

	agentConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tabwire_agent_connections",
			Help: "Live agent connections on the bridge",
		},
	)

	reconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tabwire_session_reconnects_total",
			Help: "Session reconnect attempts",
		},
	)

	frames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tabwire_frames_total",
			Help: "Protocol frames processed, by type and direction",
		},
		[]string{"type", "dir"},
	)
)

// Register registers all metrics with the provided registerer.
func Register(r prometheus.Registerer) {
	r.MustRegister(buildInfo, commands, commandDuration, agentConnections, reconnects, frames)
}

// SetBuildInfo sets the build info metric.
func SetBuildInfo(version, sha, date string) {
	buildInfo.WithLabelValues(date, sha, version).Set(1)
}

// RecordCommand increments the command counter and observes its duration.
func RecordCommand(action string, dur time.Duration, success bool) {
	outcome := "success"
	if !success {
		outcome = "error"
	}
	commands.WithLabelValues(action, outcome).Inc()
	commandDuration.WithLabelValues(action).Observe(dur.Seconds())
}

// SetAgentConnections records the live agent connection count.
func SetAgentConnections(n int) {
	agentConnections.Set(float64(n))
}

// RecordReconnect counts one reconnect attempt.
func RecordReconnect() {
	reconnects.Inc()
}

// RecordFrame counts one processed frame; dir is "in" or "out".
func RecordFrame(frameType, dir string) {
	frames.WithLabelValues(frameType, dir).Inc()
}
