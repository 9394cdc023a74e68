package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector aggregates the daemon's operational metrics. All components share
// one instance; registration happens against the registerer passed in so tests
// can use an isolated registry.
type Collector struct {
	devicesDiscovered *prometheus.CounterVec
	framesRelayed     prometheus.Counter
	relayBytes        prometheus.Counter
	relayClients      prometheus.Gauge
	rtpPacketsSent    prometheus.Counter
	stateTransitions  *prometheus.CounterVec
	soapRequests      *prometheus.CounterVec
}

func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		devicesDiscovered: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "castbridge_devices_discovered_total",
			Help: "Devices observed by discovery, by type",
		}, []string{"device_type"}),

		framesRelayed: factory.NewCounter(prometheus.CounterOpts{
			Name: "castbridge_frames_relayed_total",
			Help: "Encoded frames fanned out by the streaming relay",
		}),

		relayBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "castbridge_relay_bytes_total",
			Help: "Total payload bytes written to relay clients",
		}),

		relayClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "castbridge_relay_clients_active",
			Help: "Currently connected relay clients",
		}),

		rtpPacketsSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "castbridge_rtp_packets_sent_total",
			Help: "RTP packets sent to the Miracast sink",
		}),

		stateTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "castbridge_cast_state_transitions_total",
			Help: "Cast session state transitions, by target phase",
		}, []string{"phase"}),

		soapRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "castbridge_soap_requests_total",
			Help: "SOAP actions sent to DLNA renderers, by action and outcome",
		}, []string{"action", "outcome"}),
	}
}

func (c *Collector) DeviceDiscovered(deviceType string) {
	c.devicesDiscovered.WithLabelValues(deviceType).Inc()
}

func (c *Collector) FrameRelayed(payloadBytes int) {
	c.framesRelayed.Inc()
	c.relayBytes.Add(float64(payloadBytes))
}

func (c *Collector) RelayClientConnected()    { c.relayClients.Inc() }
func (c *Collector) RelayClientDisconnected() { c.relayClients.Dec() }

func (c *Collector) RTPPacketSent() { c.rtpPacketsSent.Inc() }

func (c *Collector) StateTransition(phase string) {
	c.stateTransitions.WithLabelValues(phase).Inc()
}

func (c *Collector) SOAPRequest(action string, ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	c.soapRequests.WithLabelValues(action, outcome).Inc()
}
