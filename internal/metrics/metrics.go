package metrics

import (
	"sync"
	"time"

	"github.com/berfenger/ecopilot2mqtt/pkg/ecoproto"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "ecopilot_"

	ANNOUNCEMENT_RESULT_NEW       = "new"
	ANNOUNCEMENT_RESULT_DUPLICATE = "duplicate"
	ANNOUNCEMENT_RESULT_UPDATED   = "updated"
	ANNOUNCEMENT_RESULT_INVALID   = "invalid"
)

var (
	registerOnce sync.Once

	framesDecoded     *prometheus.CounterVec
	decodeErrors      *prometheus.CounterVec
	readings          *prometheus.CounterVec
	reconnects        *prometheus.CounterVec
	connectLatency    *prometheus.HistogramVec
	sessionsConnected prometheus.Gauge
	announcements     *prometheus.CounterVec
)

// Init registers the collectors on the default registry. Recording helpers are no-ops before Init.
func Init() {
	registerOnce.Do(func() {
		framesDecoded = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "frames_decoded_total",
				Help: "Total frames decoded by device type",
			},
			[]string{"device_type"},
		)
		decodeErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "decode_errors_total",
				Help: "Total discarded frames by device type and reason",
			},
			[]string{"device_type", "reason"},
		)
		readings = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "readings_total",
				Help: "Total readings emitted by quality",
			},
			[]string{"quality"},
		)
		reconnects = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "reconnects_total",
				Help: "Total scheduled reconnects by device type",
			},
			[]string{"device_type"},
		)
		connectLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "connect_latency_seconds",
				Help:    "Device connect latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		sessionsConnected = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "sessions_connected",
				Help: "Device sessions currently connected",
			},
		)
		announcements = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "discovery_announcements_total",
				Help: "Total discovery announcements by result",
			},
			[]string{"result"},
		)

		prometheus.MustRegister(
			framesDecoded,
			decodeErrors,
			readings,
			reconnects,
			connectLatency,
			sessionsConnected,
			announcements,
		)
	})
}

// DecoderInstrument bridges the stream decoder callbacks of one device type to the collectors.
func DecoderInstrument(deviceType string) ecoproto.DecoderInstrument {
	return ecoproto.DecoderInstrument{
		FrameDecoded: func(string) {
			IncFrameDecoded(deviceType)
		},
		DecodeFailed: func(_ string, reason ecoproto.DecodeReason) {
			IncDecodeError(deviceType, reason.String())
		},
	}
}

func IncFrameDecoded(deviceType string) {
	if framesDecoded != nil {
		framesDecoded.WithLabelValues(deviceType).Inc()
	}
}

func IncDecodeError(deviceType, reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if decodeErrors != nil {
		decodeErrors.WithLabelValues(deviceType, reason).Inc()
	}
}

func IncReading(quality string) {
	if readings != nil {
		readings.WithLabelValues(quality).Inc()
	}
}

func IncReconnect(deviceType string) {
	if reconnects != nil {
		reconnects.WithLabelValues(deviceType).Inc()
	}
}

func ObserveConnect(err error, duration time.Duration) {
	result := "success"
	if err != nil {
		result = "error"
	}
	if connectLatency != nil {
		connectLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

func SessionConnected() {
	if sessionsConnected != nil {
		sessionsConnected.Inc()
	}
}

func SessionDisconnected() {
	if sessionsConnected != nil {
		sessionsConnected.Dec()
	}
}

func IncAnnouncement(result string) {
	if announcements != nil {
		announcements.WithLabelValues(result).Inc()
	}
}
