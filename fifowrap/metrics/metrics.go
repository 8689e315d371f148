// Package metrics turns supervisor events into Prometheus metrics.
package metrics

import (
	"sync"
	"time"

	"git.unix.lgbt/diamondburned/fifowrap/fifowrap"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "fifowrap"

// Journaler is a fifowrap.Journaler that records every event it sees as
// metrics instead of writing it anywhere.
type Journaler struct {
	commands       prometheus.Counter
	linkErrors     prometheus.Counter
	relayErrors    prometheus.Counter
	relayStarts    prometheus.Counter
	relayRevokes   prometheus.Counter
	signals        *prometheus.CounterVec
	childUp        prometheus.Gauge
	childExits     *prometheus.CounterVec
	shutdownStage  *prometheus.GaugeVec
	shutdownResult *prometheus.CounterVec
	shutdownTime   prometheus.Histogram
	warnings       *prometheus.CounterVec

	mutex         sync.Mutex
	shutdownStart time.Time
}

var _ fifowrap.Journaler = (*Journaler)(nil)

// New creates a metrics journaler with its collectors registered to reg.
func New(reg prometheus.Registerer) *Journaler {
	f := promauto.With(reg)

	return &Journaler{
		commands: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_relayed_total",
			Help:      "Total commands read from the FIFO and forwarded to the child",
		}),
		linkErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "link_write_errors_total",
			Help:      "Total failed writes into the child's standard input",
		}),
		relayErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_errors_total",
			Help:      "Total FIFO open or read errors",
		}),
		relayStarts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_starts_total",
			Help:      "Total relay instances started",
		}),
		relayRevokes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_revokes_total",
			Help:      "Total relay instances revoked after not stopping in time",
		}),
		signals: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_total",
			Help:      "Total signals received by signal name and outcome",
		}, []string{"signal", "outcome"}),
		childUp: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "child_up",
			Help:      "Whether the child process is running",
		}),
		childExits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "child_exits_total",
			Help:      "Total child exits by result",
		}, []string{"result"}),
		shutdownStage: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "shutdown_stage",
			Help:      "Set to 1 for the shutdown stage currently in effect",
		}, []string{"stage"}),
		shutdownResult: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "shutdowns_total",
			Help:      "Total finished shutdowns by result",
		}, []string{"result"}),
		shutdownTime: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "shutdown_duration_seconds",
			Help:      "Time from the stop command to the end of the shutdown",
			Buckets:   []float64{1, 5, 10, 30, 60, 90, 120},
		}),
		warnings: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "warnings_total",
			Help:      "Total non-fatal errors by component",
		}, []string{"component"}),
	}
}

// Write records the event. It never fails.
func (m *Journaler) Write(ev fifowrap.Event) error {
	switch ev := ev.(type) {
	case *fifowrap.EventCommandRelayed:
		m.commands.Inc()
	case *fifowrap.EventLinkWriteError:
		m.linkErrors.Inc()
	case *fifowrap.EventRelayError:
		m.relayErrors.Inc()
	case *fifowrap.EventRelayStarted:
		m.relayStarts.Inc()
	case *fifowrap.EventRelayStopped:
		if ev.Forced {
			m.relayRevokes.Inc()
		}
	case *fifowrap.EventSignalReceived:
		m.signals.WithLabelValues(ev.Signal, "handled").Inc()
	case *fifowrap.EventSignalIgnored:
		m.signals.WithLabelValues(ev.Signal, "ignored").Inc()
	case *fifowrap.EventChildSpawned:
		m.childUp.Set(1)
	case *fifowrap.EventChildExited:
		m.childUp.Set(0)
		m.childExits.WithLabelValues(exitResult(ev.IsClean())).Inc()
	case *fifowrap.EventShutdownStage:
		m.enterStage(ev.Stage)
	case *fifowrap.EventShutdownFinished:
		m.finishShutdown(ev.Success)
	case *fifowrap.EventWarning:
		m.warnings.WithLabelValues(ev.Component).Inc()
	}

	return nil
}

var stages = []fifowrap.ShutdownStage{
	fifowrap.StageGraceful,
	fifowrap.StageTerminate,
	fifowrap.StageKill,
}

func (m *Journaler) enterStage(stage fifowrap.ShutdownStage) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if stage == fifowrap.StageGraceful {
		m.shutdownStart = time.Now()
	}

	for _, s := range stages {
		v := 0.0
		if s == stage {
			v = 1
		}
		m.shutdownStage.WithLabelValues(string(s)).Set(v)
	}
}

func (m *Journaler) finishShutdown(success bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if !m.shutdownStart.IsZero() {
		m.shutdownTime.Observe(time.Since(m.shutdownStart).Seconds())
		m.shutdownStart = time.Time{}
	}

	m.shutdownResult.WithLabelValues(exitResult(success)).Inc()
}

func exitResult(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
