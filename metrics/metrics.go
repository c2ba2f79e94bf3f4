// metrics.go - Prometheus counters for the engine and the bridge

/*
 ██▓ ███▄    █ ▄▄▄█████▓ █    ██  ██▓▄▄▄█████▓ ██▓ ▒█████   ███▄    █    ▓█████  ███▄    █   ▄████  ██▓ ███▄    █ ▓█████
▓██▒ ██ ▀█   █ ▓  ██▒ ▓▒ ██  ▓██▒▓██▒▓  ██▒ ▓▒▓██▒▒██▒  ██▒ ██ ▀█   █    ▓█   ▀  ██ ▀█   █  ██▒ ▀█▒▓██▒ ██ ▀█   █ ▓█   ▀
▒██▒▓██  ▀█ ██▒▒ ▓██░ ▒░▓██  ▒██░▒██▒▒ ▓██░ ▒░▒██▒▒██░  ██▒▓██  ▀█ ██▒   ▒███   ▓██  ▀█ ██▒▒██░▄▄▄░▒██▒▓██  ▀█ ██▒▒███
░██░▓██▒  ▐▌██▒░ ▓██▓ ░ ▓▓█  ░██░░██░░ ▓██▓ ░ ░██░▒██   ██░▓██▒  ▐▌██▒   ▒▓█  ▄ ▓██▒  ▐▌██▒░▓█  ██▓░██░▓██▒  ▐▌██▒▒▓█  ▄
░██░▒██░   ▓██░  ▒██▒ ░ ▒▒█████▓ ░██░  ▒██▒ ░ ░██░░ ████▓▒░▒██░   ▓██░   ░▒████▒▒██░   ▓██░░▒▓███▀▒░██░▒██░   ▓██░░▒████▒
░▓  ░ ▒░   ▒ ▒   ▒ ░░   ░▒▓▒ ▒ ▒ ░▓    ▒ ░░   ░▓  ░ ▒░▒░▒░ ░ ▒░   ▒ ▒    ░░ ▒░ ░░ ▒░   ▒ ▒  ░▒   ▒ ░▓  ░ ▒░   ▒ ▒ ░░ ▒░ ░
 ▒ ░░ ░░   ░ ▒░    ░    ░░▒░ ░ ░  ▒ ░    ░     ▒ ░  ░ ▒ ▒░ ░ ░░   ░ ▒░    ░ ░  ░░ ░░   ░ ▒░  ░   ░  ▒ ░░ ░░   ░ ▒░ ░ ░  ░
 ▒ ░   ░   ░ ░   ░       ░░░ ░ ░  ▒ ░  ░       ▒ ░░ ░ ░ ▒     ░   ░ ░       ░      ░   ░ ░ ░ ░   ░  ▒ ░   ░   ░ ░    ░
 ░           ░             ░      ░            ░      ░ ░           ░       ░  ░         ░       ░  ░           ░    ░  ░

(c) 2024 - 2026 Zayn Otley
https://github.com/IntuitionAmiga/IntuitionEngine
License: GPLv3 or later
*/

// Package metrics exposes engine and bridge activity to Prometheus.
//
// Nothing here is touched by the real-time thread. The renderer keeps its
// own atomic counters and the control side publishes the deltas once per
// frame. Every method is safe on a nil *Metrics, which records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "audiobridge"

type Metrics struct {
	blocksRendered     prometheus.Counter
	framesRendered     prometheus.Counter
	processorFaults    prometheus.Counter
	activations        prometheus.Counter
	activationFailures prometheus.Counter
	deactivations      *prometheus.CounterVec
	mutations          *prometheus.CounterVec
	engineActive       prometheus.Gauge
	graphNodes         prometheus.Gauge
	trackedEntities    *prometheus.GaugeVec
}

// New registers the collectors with reg. Passing prometheus.DefaultRegisterer
// exposes them on the default /metrics handler.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		blocksRendered: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "blocks_rendered_total",
			Help:      "Processing blocks rendered by the audio thread.",
		}),
		framesRendered: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "frames_rendered_total",
			Help:      "Sample frames rendered by the audio thread.",
		}),
		processorFaults: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "processor_faults_total",
			Help:      "Processors silenced after a panic.",
		}),
		activations: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "activations_total",
			Help:      "Successful Inactive to Active transitions.",
		}),
		activationFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "activation_failures_total",
			Help:      "Activations refused with a device error.",
		}),
		deactivations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "deactivations_total",
			Help:      "Active to Inactive transitions by reason.",
		}, []string{"reason"}),
		mutations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "mutations_total",
			Help:      "Deferred graph mutations applied, by result.",
		}, []string{"result"}),
		engineActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "active",
			Help:      "1 while the engine holds a live device stream.",
		}),
		graphNodes: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "graph",
			Name:      "nodes",
			Help:      "Nodes in the graph, excluding the input and output nodes.",
		}),
		trackedEntities: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "tracked_entities",
			Help:      "Entities with a live node, by component.",
		}, []string{"component"}),
	}
}

// RecordRendered adds rendered blocks and frames.
func (m *Metrics) RecordRendered(blocks, frames uint64) {
	if m == nil {
		return
	}
	m.blocksRendered.Add(float64(blocks))
	m.framesRendered.Add(float64(frames))
}

// RecordFaults adds silenced processors.
func (m *Metrics) RecordFaults(n uint64) {
	if m == nil || n == 0 {
		return
	}
	m.processorFaults.Add(float64(n))
}

// RecordActivation records an activation attempt.
func (m *Metrics) RecordActivation(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.activationFailures.Inc()
		return
	}
	m.activations.Inc()
	m.engineActive.Set(1)
}

// RecordDeactivation records a transition back to Inactive. reason is
// "requested" or "stream_error".
func (m *Metrics) RecordDeactivation(reason string) {
	if m == nil {
		return
	}
	m.deactivations.WithLabelValues(reason).Inc()
	m.engineActive.Set(0)
}

// RecordMutation records an applied or failed deferred mutation.
func (m *Metrics) RecordMutation(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.mutations.WithLabelValues("failed").Inc()
		return
	}
	m.mutations.WithLabelValues("applied").Inc()
}

func (m *Metrics) SetGraphNodes(n int) {
	if m == nil {
		return
	}
	m.graphNodes.Set(float64(n))
}

func (m *Metrics) SetTracked(component string, n int) {
	if m == nil {
		return
	}
	m.trackedEntities.WithLabelValues(component).Set(float64(n))
}
