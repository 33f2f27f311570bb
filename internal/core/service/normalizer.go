package service

import (
	"errors"
	"strconv"
	"time"

	"github.com/berfenger/ecopilot2mqtt/internal/core/capability"
	"github.com/berfenger/ecopilot2mqtt/internal/core/domain"
	"github.com/berfenger/ecopilot2mqtt/pkg/ecoproto"

	"go.uber.org/zap"
)

type sample struct {
	value float64
	at    time.Time
}

// Normalizer turns decoded frames into readings. It keeps the last sample of every rate metric and
// is owned by a single device session.
type Normalizer struct {
	table   *capability.Table
	samples map[string]map[string]sample
	logger  *zap.Logger
}

func NewNormalizer(table *capability.Table, logger *zap.Logger) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{
		table:   table,
		samples: map[string]map[string]sample{},
		logger:  logger,
	}
}

// ProtocolVersion resolves the descriptor version for a device: the device setting wins over the
// version found in the frame header.
func ProtocolVersion(device domain.EcoPilotDevice, frame ecoproto.Frame) string {
	if device.ProtocolVersion != "" {
		return device.ProtocolVersion
	}
	if frame.ProtocolVersion != "" {
		return frame.ProtocolVersion
	}
	return capability.DEFAULT_PROTOCOL_VERSION
}

func (n *Normalizer) Normalize(device domain.EcoPilotDevice, frame ecoproto.Frame) []domain.Reading {
	if !frame.Valid {
		return nil
	}
	ts := frame.ReceivedAt
	if ts.IsZero() {
		ts = time.Now()
	}

	version := ProtocolVersion(device, frame)
	descriptor, err := n.table.Lookup(device.Type, version)
	passthrough := err != nil
	if passthrough && !errors.Is(err, capability.ErrNotFound) {
		n.logger.Warn("normalizer: descriptor lookup failed", zap.String("device", device.Id), zap.Error(err))
	}

	readings := make([]domain.Reading, 0, len(frame.Fields))
	for _, field := range frame.Fields {
		if field.Name == ecoproto.FIELD_COMMAND {
			continue
		}
		var metric capability.Metric
		ok := false
		if !passthrough {
			metric, ok = descriptor.Metric(field.Name)
		}
		if !ok {
			readings = append(readings, passthroughReading(device.Id, field, ts))
			continue
		}
		readings = append(readings, n.normalizeField(device.Id, metric, field, ts)...)
	}
	return readings
}

// Forget drops the rate samples of a device, the next frame starts a fresh series.
func (n *Normalizer) Forget(deviceId string) {
	delete(n.samples, deviceId)
}

func passthroughReading(deviceId string, field ecoproto.Field, ts time.Time) domain.Reading {
	unit := field.Unit
	if unit == "" {
		unit = domain.UNIT_RAW
	}
	return domain.Reading{
		DeviceId:  deviceId,
		Kind:      domain.METRIC_KIND_UNKNOWN,
		Field:     field.Name,
		Value:     field.Value,
		Text:      field.Text,
		Numeric:   field.Numeric,
		Unit:      unit,
		Timestamp: ts,
		Quality:   domain.QualityGood,
	}
}

func (n *Normalizer) normalizeField(deviceId string, metric capability.Metric, field ecoproto.Field, ts time.Time) []domain.Reading {
	reading := domain.Reading{
		DeviceId:  deviceId,
		Kind:      metric.MetricKind(),
		Field:     field.Name,
		Unit:      metric.Unit,
		Timestamp: ts,
		Quality:   domain.QualityGood,
	}

	if metric.Text {
		reading.Text = field.Text
		if field.Numeric {
			reading.Text = strconv.FormatFloat(field.Value, 'f', -1, 64)
		}
		return []domain.Reading{reading}
	}
	if !field.Numeric {
		reading.Text = field.Text
		reading.Quality = domain.QualityInvalid
		return []domain.Reading{reading}
	}

	reading.Numeric = true
	reading.Value = metric.ApplyScale(field.Value)
	if !metric.InRange(reading.Value) {
		reading.Quality = domain.QualityInvalid
		return []domain.Reading{reading}
	}
	if !metric.Derived() {
		return []domain.Reading{reading}
	}

	series := n.samples[deviceId]
	if series == nil {
		series = map[string]sample{}
		n.samples[deviceId] = series
	}
	prev, seen := series[field.Name]
	series[field.Name] = sample{value: reading.Value, at: ts}
	if !seen {
		return []domain.Reading{reading}
	}

	delta := reading.Value - prev.value
	if metric.Cumulative && delta < 0 {
		n.logger.Debug("normalizer: counter decreased", zap.String("device", deviceId), zap.String("field", field.Name),
			zap.Float64("previous", prev.value), zap.Float64("value", reading.Value))
		reading.Quality = domain.QualityStale
		return []domain.Reading{reading}
	}
	elapsed := ts.Sub(prev.at).Seconds()
	if elapsed <= 0 {
		return []domain.Reading{reading}
	}

	rate := domain.Reading{
		DeviceId:  deviceId,
		Kind:      metric.RateKind(),
		Field:     field.Name,
		Value:     metric.ApplyRateScale(delta / elapsed),
		Numeric:   true,
		Unit:      metric.DerivedUnit(),
		Timestamp: ts,
		Quality:   domain.QualityGood,
	}
	return []domain.Reading{reading, rate}
}
