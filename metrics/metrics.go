package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ardnew/microscpi/bridge"
	"github.com/ardnew/microscpi/device/class/tmc"
	"github.com/ardnew/microscpi/scpi"
	"github.com/ardnew/microscpi/transport"
)

const namespace = "microscpi"

// Metrics counts engine, bridge, USBTMC and line transport events. It
// implements the observer interfaces of each layer, so one value can be
// handed to all of them.
type Metrics struct {
	registry *prometheus.Registry

	commands        *prometheus.CounterVec
	errors          *prometheus.CounterVec
	messages        *prometheus.CounterVec
	messageBytes    prometheus.Counter
	chunksDropped   prometheus.Counter
	transfersSent   prometheus.Counter
	bytesSent       prometheus.Counter
	controlRequests *prometheus.CounterVec
	responses       prometheus.Counter
	responseBytes   prometheus.Histogram
	responsesLost   prometheus.Counter
	lines           *prometheus.CounterVec
	clients         *prometheus.GaugeVec
}

// New returns metrics registered on a private registry, together with the
// Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "SCPI commands dispatched, by command path and form.",
		}, []string{"command", "form"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Error records pushed to the error queue, by code.",
		}, []string{"code"}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "usbtmc",
			Name:      "messages_received_total",
			Help:      "Reassembled Bulk-OUT messages, by MsgID.",
		}, []string{"msg"}),
		messageBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "usbtmc",
			Name:      "message_bytes_received_total",
			Help:      "Payload bytes of reassembled Bulk-OUT messages.",
		}),
		chunksDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "usbtmc",
			Name:      "chunks_dropped_total",
			Help:      "Bulk-OUT packets discarded by the reassembler.",
		}),
		transfersSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "usbtmc",
			Name:      "transfers_sent_total",
			Help:      "Bulk-IN transfers handed to the endpoint.",
		}),
		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "usbtmc",
			Name:      "bytes_sent_total",
			Help:      "Bulk-IN bytes including headers and padding.",
		}),
		controlRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "usbtmc",
			Name:      "control_requests_total",
			Help:      "Class control requests, by request and result.",
		}, []string{"request", "result"}),
		responses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "responses_queued_total",
			Help:      "Responses placed on the response queue.",
		}),
		responseBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "response_size_bytes",
			Help:      "Size of queued responses.",
			Buckets:   prometheus.ExponentialBuckets(8, 4, 6),
		}),
		responsesLost: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "responses_dropped_total",
			Help:      "Responses discarded because the queue was full.",
		}),
		lines: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lines_total",
			Help:      "Program message lines received by line transports.",
		}, []string{"transport"}),
		clients: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "clients",
			Help:      "Connected line transport clients.",
		}, []string{"transport"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.commands,
		m.errors,
		m.messages,
		m.messageBytes,
		m.chunksDropped,
		m.transfersSent,
		m.bytesSent,
		m.controlRequests,
		m.responses,
		m.responseBytes,
		m.responsesLost,
		m.lines,
		m.clients,
	)
	return m
}

// Registry returns the registry holding every collector.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// CommandDispatched implements [scpi.Observer].
func (m *Metrics) CommandDispatched(path string, query bool) {
	form := "set"
	if query {
		form = "query"
	}
	m.commands.WithLabelValues(path, form).Inc()
}

// ErrorPushed implements [scpi.Observer].
func (m *Metrics) ErrorPushed(e scpi.Error) {
	m.errors.WithLabelValues(strconv.Itoa(e.Code)).Inc()
}

// MessageReceived implements [tmc.Observer].
func (m *Metrics) MessageReceived(msgID uint8, size int) {
	m.messages.WithLabelValues(tmc.MsgName(msgID)).Inc()
	m.messageBytes.Add(float64(size))
}

// ChunkDropped implements [tmc.Observer].
func (m *Metrics) ChunkDropped() {
	m.chunksDropped.Inc()
}

// TransferSent implements [tmc.Observer].
func (m *Metrics) TransferSent(size int) {
	m.transfersSent.Inc()
	m.bytesSent.Add(float64(size))
}

// ControlRequest implements [tmc.Observer].
func (m *Metrics) ControlRequest(request uint8, stalled bool) {
	result := "ok"
	if stalled {
		result = "stall"
	}
	m.controlRequests.WithLabelValues(tmc.RequestName(request), result).Inc()
}

// ResponseQueued implements [bridge.Observer].
func (m *Metrics) ResponseQueued(size int) {
	m.responses.Inc()
	m.responseBytes.Observe(float64(size))
}

// ResponseDropped implements [bridge.Observer].
func (m *Metrics) ResponseDropped() {
	m.responsesLost.Inc()
}

// LineReceived counts one program message line on the named transport.
func (m *Metrics) LineReceived(name string) {
	m.lines.WithLabelValues(name).Inc()
}

// ClientConnected adjusts the client gauge of the named transport by delta.
func (m *Metrics) ClientConnected(name string, delta int) {
	m.clients.WithLabelValues(name).Add(float64(delta))
}

var (
	_ scpi.Observer      = (*Metrics)(nil)
	_ tmc.Observer       = (*Metrics)(nil)
	_ bridge.Observer    = (*Metrics)(nil)
	_ transport.Observer = (*Metrics)(nil)
)
