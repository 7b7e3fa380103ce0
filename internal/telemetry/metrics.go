// Package telemetry registers Prometheus metrics for the relay bridge.
package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	InboundForwarded       prometheus.Counter
	OutboundSent           prometheus.Counter
	AttachmentsReuploaded  prometheus.Counter
	AttachmentPlaceholders prometheus.Counter
	RelaysEstablished      prometheus.Counter
	RelaysClosed           prometheus.Counter
	RelaysPruned           prometheus.Counter
	ActiveRelays           prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		InboundForwarded = promauto.NewCounter(prometheus.CounterOpts{Name: "relay_inbound_forwarded_total", Help: "DMs forwarded from users into relay channels"})
		OutboundSent = promauto.NewCounter(prometheus.CounterOpts{Name: "relay_outbound_sent_total", Help: "Owner messages delivered to user DMs"})
		AttachmentsReuploaded = promauto.NewCounter(prometheus.CounterOpts{Name: "relay_attachments_reuploaded_total", Help: "Attachments re-uploaded into relay channels"})
		AttachmentPlaceholders = promauto.NewCounter(prometheus.CounterOpts{Name: "relay_attachment_placeholders_total", Help: "Attachments replaced by a textual placeholder"})
		RelaysEstablished = promauto.NewCounter(prometheus.CounterOpts{Name: "relay_established_total", Help: "Relay mappings created or attached"})
		RelaysClosed = promauto.NewCounter(prometheus.CounterOpts{Name: "relay_closed_total", Help: "Relay mappings closed by the owner"})
		RelaysPruned = promauto.NewCounter(prometheus.CounterOpts{Name: "relay_pruned_total", Help: "Relay mappings pruned after their channel disappeared"})
		ActiveRelays = promauto.NewGauge(prometheus.GaugeOpts{Name: "relay_active", Help: "Currently cached relay mappings"})
	})
}

// The Inc/Set helpers tolerate an uninitialized registry so service code and
// its tests never have to call Init first.

func Inc(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}

func SetActiveRelays(n int) {
	if ActiveRelays != nil {
		ActiveRelays.Set(float64(n))
	}
}
