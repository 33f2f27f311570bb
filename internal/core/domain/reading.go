package domain

import (
	"fmt"
	"strings"
	"time"
)

const (
	METRIC_KIND_UNKNOWN = "unknown"
	UNIT_RAW            = "raw"
	RATE_SUFFIX         = "_rate"
)

type Quality int

const (
	QualityGood Quality = iota
	QualityStale
	QualityInvalid
)

func (q Quality) String() string {
	switch q {
	case QualityGood:
		return "good"
	case QualityStale:
		return "stale"
	case QualityInvalid:
		return "invalid"
	default:
		return fmt.Sprintf("Quality(%d)", int(q))
	}
}

func (q Quality) MarshalText() ([]byte, error) {
	return []byte(q.String()), nil
}

// Reading is a normalized measurement. Passthrough readings carry METRIC_KIND_UNKNOWN and keep the
// source field name in Field.
type Reading struct {
	DeviceId  string    `json:"device_id"`
	Kind      string    `json:"metric_kind"`
	Field     string    `json:"field"`
	Value     float64   `json:"value"`
	Text      string    `json:"text,omitempty"`
	Numeric   bool      `json:"numeric"`
	Unit      string    `json:"unit"`
	Timestamp time.Time `json:"timestamp"`
	Quality   Quality   `json:"quality"`
}

// MetricId identifies the series a reading supersedes.
func (r Reading) MetricId() string {
	if r.Kind == METRIC_KIND_UNKNOWN {
		return METRIC_KIND_UNKNOWN + "_" + strings.Trim(idSanitizer.ReplaceAllString(strings.ToLower(r.Field), "_"), "_")
	}
	return r.Kind
}

func (r Reading) IsRate() bool {
	return strings.HasSuffix(r.Kind, RATE_SUFFIX)
}
