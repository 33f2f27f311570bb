package capability

import "github.com/berfenger/ecopilot2mqtt/internal/core/domain"

const (
	UNIT_KWH     = "kWh"
	UNIT_KW      = "kW"
	UNIT_WATT    = "W"
	UNIT_VOLT    = "V"
	UNIT_AMPERE  = "A"
	UNIT_HERTZ   = "Hz"
	UNIT_M3      = "m3"
	UNIT_M3H     = "m3/h"
	UNIT_LITERS  = "liters"
	UNIT_LPM     = "L/min"
	UNIT_LPH     = "L/h"
	UNIT_PERCENT = "%"
	UNIT_CELSIUS = "C"
	UNIT_CM      = "cm"
	UNIT_DBM     = "dBm"
	UNIT_SECONDS = "s"
)

func bound(v float64) *float64 {
	return &v
}

func energyCounter(field string) Metric {
	return Metric{Field: field, Unit: UNIT_KWH, Min: bound(0), Cumulative: true, RateUnit: UNIT_KW, RateScale: 3600}
}

// P1 telegrams report power in kW, exposed in W.
func p1Power(field string) Metric {
	return Metric{Field: field, Unit: UNIT_WATT, Min: bound(0), Scale: 1000}
}

func flag(field string) Metric {
	return Metric{Field: field, Binary: true, Min: bound(0), Max: bound(1)}
}

func counter(field string) Metric {
	return Metric{Field: field, Min: bound(0)}
}

func diagnostics() []Metric {
	return []Metric{
		{Field: "wifi_strength", Unit: UNIT_DBM, Min: bound(-120), Max: bound(0)},
		{Field: "uptime", Unit: UNIT_SECONDS, Min: bound(0)},
	}
}

func p1Metrics() []Metric {
	metrics := []Metric{
		energyCounter("energy_import"),
		energyCounter("energy_import_t1"),
		energyCounter("energy_import_t2"),
		energyCounter("energy_import_t3"),
		energyCounter("energy_import_t4"),
		energyCounter("energy_export"),
		energyCounter("energy_export_t1"),
		energyCounter("energy_export_t2"),
		energyCounter("energy_export_t3"),
		energyCounter("energy_export_t4"),
		p1Power("power_import"),
		p1Power("power_export"),
		p1Power("power_import_l1"),
		p1Power("power_import_l2"),
		p1Power("power_import_l3"),
		p1Power("power_export_l1"),
		p1Power("power_export_l2"),
		p1Power("power_export_l3"),
	}
	for _, phase := range []string{"l1", "l2", "l3"} {
		metrics = append(metrics,
			Metric{Field: "voltage_" + phase, Unit: UNIT_VOLT, Min: bound(0), Max: bound(400)},
			Metric{Field: "current_" + phase, Unit: UNIT_AMPERE, Min: bound(0), Max: bound(200)},
			counter("voltage_sag_"+phase),
			counter("voltage_swell_"+phase),
		)
	}
	metrics = append(metrics,
		Metric{Field: "frequency", Unit: UNIT_HERTZ, Min: bound(45), Max: bound(65)},
		counter("any_power_fail_count"),
		counter("long_power_fail_count"),
		Metric{Field: "tariff_indicator", Min: bound(1), Max: bound(4)},
		Metric{Field: "dsmr_version", Text: true},
		Metric{Field: "equipment_id", Text: true},
		Metric{Field: "timestamp", Text: true},
		Metric{Field: "message", Text: true},
		Metric{Field: "gas_consumed", Unit: UNIT_M3, Min: bound(0), Cumulative: true, RateUnit: UNIT_M3H, RateScale: 3600},
	)
	return metrics
}

func tankMetrics() []Metric {
	return append([]Metric{
		{Field: "level", Unit: UNIT_LITERS, Min: bound(0), Max: bound(100000), Rate: true},
		{Field: "level_percent", Unit: UNIT_PERCENT, Min: bound(0), Max: bound(100)},
		{Field: "volume", Unit: UNIT_LITERS, Min: bound(0), Max: bound(100000)},
		{Field: "distance", Unit: UNIT_CM, Min: bound(0), Max: bound(1000)},
		{Field: "temperature", Unit: UNIT_CELSIUS, Min: bound(-40), Max: bound(85)},
		{Field: "battery_level", Unit: UNIT_PERCENT, Min: bound(0), Max: bound(100)},
		{Field: "battery_voltage", Unit: UNIT_VOLT, Min: bound(0), Max: bound(5)},
	}, diagnostics()...)
}

func plugMetrics() []Metric {
	return append([]Metric{
		energyCounter("energy_import"),
		energyCounter("energy_export"),
		{Field: "power", Unit: UNIT_WATT, Min: bound(-4000), Max: bound(4000)},
		{Field: "voltage", Unit: UNIT_VOLT, Min: bound(0), Max: bound(400)},
		{Field: "current", Unit: UNIT_AMPERE, Min: bound(0), Max: bound(20)},
		{Field: "frequency", Unit: UNIT_HERTZ, Min: bound(45), Max: bound(65)},
		{Field: "temperature", Unit: UNIT_CELSIUS, Min: bound(-40), Max: bound(120)},
		flag("power_on"),
		flag("switch_lock"),
		flag("restore_state"),
	}, diagnostics()...)
}

func plugSwitches() []Switch {
	return []Switch{
		{Key: "power_on", StateField: "power_on"},
		{Key: "switch_lock", StateField: "switch_lock", Config: true},
		{Key: "restore_state", StateField: "restore_state", Config: true},
	}
}

func driveLKMetrics() []Metric {
	return append([]Metric{
		{Field: "water_flow", Unit: UNIT_LPM, Min: bound(0)},
		{Field: "water_consumed", Unit: UNIT_M3, Min: bound(0), Cumulative: true, RateUnit: UNIT_LPM, RateScale: 60000},
		{Field: "oil_consumed", Unit: UNIT_LITERS, Min: bound(0), Cumulative: true, RateUnit: UNIT_LPH, RateScale: 3600},
		{Field: "oil_remaining", Unit: UNIT_LITERS, Min: bound(0), Rate: true},
		flag("burner_state"),
		{Field: "burner_runtime", Unit: UNIT_SECONDS, Min: bound(0), Cumulative: true},
		{Field: "temperature", Unit: UNIT_CELSIUS, Min: bound(-40), Max: bound(120)},
		flag("relay1_state"),
		flag("relay2_state"),
	}, diagnostics()...)
}

func driveLKSwitches() []Switch {
	return []Switch{
		{Key: "relay1", StateField: "relay1_state"},
		{Key: "relay2", StateField: "relay2_state"},
	}
}

func hubMetrics(wifi bool) []Metric {
	metrics := []Metric{
		energyCounter("energy_import"),
		energyCounter("energy_export"),
		{Field: "power", Unit: UNIT_WATT},
		{Field: "gas_consumed", Unit: UNIT_M3, Min: bound(0), Cumulative: true, RateUnit: UNIT_M3H, RateScale: 3600},
		{Field: "water_consumed", Unit: UNIT_M3, Min: bound(0), Cumulative: true, RateUnit: UNIT_LPM, RateScale: 60000},
		{Field: "uptime", Unit: UNIT_SECONDS, Min: bound(0)},
	}
	if wifi {
		metrics = append(metrics, Metric{Field: "wifi_strength", Unit: UNIT_DBM, Min: bound(-120), Max: bound(0)})
	}
	return metrics
}

// DefaultDescriptors is the built-in catalogue, protocol version 1 for every device type.
func DefaultDescriptors() []Descriptor {
	return []Descriptor{
		{DeviceType: domain.DEVICE_TYPE_TANK, ProtocolVersion: DEFAULT_PROTOCOL_VERSION, Metrics: tankMetrics()},
		{DeviceType: domain.DEVICE_TYPE_P1, ProtocolVersion: DEFAULT_PROTOCOL_VERSION, Metrics: p1Metrics()},
		{DeviceType: domain.DEVICE_TYPE_DRIVE_P1, ProtocolVersion: DEFAULT_PROTOCOL_VERSION, Metrics: p1Metrics()},
		{DeviceType: domain.DEVICE_TYPE_PLUG, ProtocolVersion: DEFAULT_PROTOCOL_VERSION, Metrics: plugMetrics(), Switches: plugSwitches()},
		{DeviceType: domain.DEVICE_TYPE_DRIVE_LK, ProtocolVersion: DEFAULT_PROTOCOL_VERSION, Metrics: driveLKMetrics(), Switches: driveLKSwitches()},
		{DeviceType: domain.DEVICE_TYPE_HUB, ProtocolVersion: DEFAULT_PROTOCOL_VERSION, Metrics: hubMetrics(true)},
		{DeviceType: domain.DEVICE_TYPE_HUB_ETH, ProtocolVersion: DEFAULT_PROTOCOL_VERSION, Metrics: hubMetrics(false)},
	}
}

func DefaultTable() *Table {
	t, err := NewTable(DefaultDescriptors()...)
	if err != nil {
		panic(err)
	}
	return t
}

// LoadTable builds the default table extended with the descriptors of an optional yaml file.
func LoadTable(path string) (*Table, error) {
	t := DefaultTable()
	if path == "" {
		return t, nil
	}
	descriptors, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	return t.With(descriptors...)
}
