package capability

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"

	"github.com/berfenger/ecopilot2mqtt/internal/core/domain"

	"gopkg.in/yaml.v3"
)

const DEFAULT_PROTOCOL_VERSION = "1"

var ErrNotFound = errors.New("capability descriptor not found")

var switchKeyPattern = regexp.MustCompile(`^[a-z0-9_]+$`)

// Metric describes one field a device may emit.
type Metric struct {
	Field      string   `yaml:"field"`
	Kind       string   `yaml:"kind,omitempty"`
	Unit       string   `yaml:"unit,omitempty"`
	Min        *float64 `yaml:"min,omitempty"`
	Max        *float64 `yaml:"max,omitempty"`
	Scale      float64  `yaml:"scale,omitempty"`
	Text       bool     `yaml:"text,omitempty"`
	Binary     bool     `yaml:"binary,omitempty"`
	Rate       bool     `yaml:"rate,omitempty"`
	Cumulative bool     `yaml:"cumulative,omitempty"`
	RateUnit   string   `yaml:"rate_unit,omitempty"`
	RateScale  float64  `yaml:"rate_scale,omitempty"`
}

func (m Metric) MetricKind() string {
	if m.Kind != "" {
		return m.Kind
	}
	return m.Field
}

// Derived reports whether a rate metric is computed from this metric.
func (m Metric) Derived() bool {
	return !m.Text && (m.Rate || m.Cumulative)
}

func (m Metric) RateKind() string {
	return m.MetricKind() + domain.RATE_SUFFIX
}

func (m Metric) DerivedUnit() string {
	if m.RateUnit != "" {
		return m.RateUnit
	}
	return m.Unit + "/sec"
}

func (m Metric) ApplyScale(value float64) float64 {
	if m.Scale == 0 {
		return value
	}
	return value * m.Scale
}

func (m Metric) ApplyRateScale(value float64) float64 {
	if m.RateScale == 0 {
		return value
	}
	return value * m.RateScale
}

func (m Metric) InRange(value float64) bool {
	if m.Min != nil && value < *m.Min {
		return false
	}
	if m.Max != nil && value > *m.Max {
		return false
	}
	return true
}

type Descriptor struct {
	DeviceType      domain.DeviceType `yaml:"device_type"`
	ProtocolVersion string            `yaml:"protocol_version"`
	Metrics         []Metric          `yaml:"metrics"`
	Switches        []Switch          `yaml:"switches,omitempty"`
}

// Switch is an on/off control the device accepts through the switch command. StateField names
// the binary metric that reports its current position, if any.
type Switch struct {
	Key        string `yaml:"key"`
	StateField string `yaml:"state_field,omitempty"`
	Config     bool   `yaml:"config,omitempty"`
}

func (d Descriptor) Metric(field string) (Metric, bool) {
	for i := range d.Metrics {
		if d.Metrics[i].Field == field {
			return d.Metrics[i], true
		}
	}
	return Metric{}, false
}

func (d Descriptor) Switch(key string) (Switch, bool) {
	for i := range d.Switches {
		if d.Switches[i].Key == key {
			return d.Switches[i], true
		}
	}
	return Switch{}, false
}

// SwitchState reports whether the field is the state of a switch.
func (d Descriptor) SwitchState(field string) bool {
	for i := range d.Switches {
		if d.Switches[i].StateField == field {
			return true
		}
	}
	return false
}

type key struct {
	deviceType domain.DeviceType
	version    string
}

// Table is immutable once built.
type Table struct {
	descriptors map[key]Descriptor
}

func NewTable(descriptors ...Descriptor) (*Table, error) {
	t := &Table{descriptors: map[key]Descriptor{}}
	for _, d := range descriptors {
		if err := t.add(d); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// With returns a new table where the given descriptors replace entries with the same key.
func (t *Table) With(descriptors ...Descriptor) (*Table, error) {
	next := &Table{descriptors: make(map[key]Descriptor, len(t.descriptors)+len(descriptors))}
	for k, d := range t.descriptors {
		next.descriptors[k] = d
	}
	for _, d := range descriptors {
		if err := next.add(d); err != nil {
			return nil, err
		}
	}
	return next, nil
}

func (t *Table) add(d Descriptor) error {
	if !d.DeviceType.Valid() {
		return fmt.Errorf("descriptor: %w: %q", domain.ErrUnsupportedDeviceType, d.DeviceType)
	}
	if d.ProtocolVersion == "" {
		d.ProtocolVersion = DEFAULT_PROTOCOL_VERSION
	}
	fields := map[string]bool{}
	units := map[string]string{}
	for _, m := range d.Metrics {
		if m.Field == "" {
			return fmt.Errorf("descriptor %s/%s: metric without field", d.DeviceType, d.ProtocolVersion)
		}
		if fields[m.Field] {
			return fmt.Errorf("descriptor %s/%s: duplicated field %q", d.DeviceType, d.ProtocolVersion, m.Field)
		}
		fields[m.Field] = true
		kind := m.MetricKind()
		if kind == domain.METRIC_KIND_UNKNOWN {
			return fmt.Errorf("descriptor %s/%s: field %q uses reserved kind %q", d.DeviceType, d.ProtocolVersion, m.Field, kind)
		}
		if unit, ok := units[kind]; ok && unit != m.Unit {
			return fmt.Errorf("descriptor %s/%s: kind %q declared with units %q and %q", d.DeviceType, d.ProtocolVersion, kind, unit, m.Unit)
		}
		units[kind] = m.Unit
		if m.Min != nil && m.Max != nil && *m.Min > *m.Max {
			return fmt.Errorf("descriptor %s/%s: field %q has min > max", d.DeviceType, d.ProtocolVersion, m.Field)
		}
		if m.Binary && m.Text {
			return fmt.Errorf("descriptor %s/%s: field %q cannot be binary and text", d.DeviceType, d.ProtocolVersion, m.Field)
		}
	}
	keys := map[string]bool{}
	for _, sw := range d.Switches {
		if !switchKeyPattern.MatchString(sw.Key) {
			return fmt.Errorf("descriptor %s/%s: invalid switch key %q", d.DeviceType, d.ProtocolVersion, sw.Key)
		}
		if keys[sw.Key] {
			return fmt.Errorf("descriptor %s/%s: duplicated switch %q", d.DeviceType, d.ProtocolVersion, sw.Key)
		}
		keys[sw.Key] = true
		if sw.StateField == "" {
			continue
		}
		if m, ok := d.Metric(sw.StateField); !ok || !m.Binary {
			return fmt.Errorf("descriptor %s/%s: switch %q state %q is not a binary metric", d.DeviceType, d.ProtocolVersion, sw.Key, sw.StateField)
		}
	}
	t.descriptors[key{deviceType: d.DeviceType, version: d.ProtocolVersion}] = d
	return nil
}

func (t *Table) Lookup(deviceType domain.DeviceType, protocolVersion string) (Descriptor, error) {
	if protocolVersion == "" {
		protocolVersion = DEFAULT_PROTOCOL_VERSION
	}
	d, ok := t.descriptors[key{deviceType: deviceType, version: protocolVersion}]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %s/%s", ErrNotFound, deviceType, protocolVersion)
	}
	return d, nil
}

func (t *Table) Versions(deviceType domain.DeviceType) []string {
	var versions []string
	for k := range t.descriptors {
		if k.deviceType == deviceType {
			versions = append(versions, k.version)
		}
	}
	sort.Strings(versions)
	return versions
}

type descriptorFile struct {
	Descriptors []Descriptor `yaml:"descriptors"`
}

// LoadFile reads additional descriptors from a yaml file.
func LoadFile(path string) ([]Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file descriptorFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("capabilities file %s: %w", path, err)
	}
	return file.Descriptors, nil
}
