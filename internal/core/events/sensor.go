package events

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/berfenger/ecopilot2mqtt/internal/core/capability"
	. "github.com/berfenger/ecopilot2mqtt/internal/core/domain"

	"github.com/carlmjohnson/versioninfo"
)

const (
	SENSOR_ID_BRIDGE_STATE        = "bridge"
	BUTTON_ID_IDENTIFY            = "identify"
	STATE_CLASS_MEASUREMENT       = "measurement"
	STATE_CLASS_TOTAL_INCREASING  = "total_increasing"
	DEVICE_CLASS_BATTERY          = "battery"
	DEVICE_CLASS_CURRENT          = "current"
	DEVICE_CLASS_DURATION         = "duration"
	DEVICE_CLASS_ENERGY           = "energy"
	DEVICE_CLASS_FREQUENCY        = "frequency"
	DEVICE_CLASS_GAS              = "gas"
	DEVICE_CLASS_POWER            = "power"
	DEVICE_CLASS_SIGNAL_STRENGTH  = "signal_strength"
	DEVICE_CLASS_TEMPERATURE      = "temperature"
	DEVICE_CLASS_VOLTAGE          = "voltage"
	DEVICE_CLASS_VOLUME_FLOW_RATE = "volume_flow_rate"
	DEVICE_CLASS_VOLUME           = "volume"
	DEVICE_CLASS_VOLUME_STORAGE   = "volume_storage"
	DEVICE_CLASS_WATER            = "water"
	DEVICE_CLASS_CONNECTIVITY     = "connectivity"
	DEVICE_CLASS_IDENTIFY         = "identify"
	DEVICE_CLASS_RUNNING          = "running"
	DEVICE_CLASS_OUTLET           = "outlet"
	DEVICE_CLASS_SWITCH           = "switch"
	ENTITY_CLASS_DIAGNOSTIC       = "diagnostic"
	ENTITY_CLASS_CONFIG           = "config"
	SENSOR_TYPE_SENSOR            = "sensor"
	SENSOR_TYPE_BINARY            = "binary_sensor"
	BINARY_STATE_ON               = "1"
	BINARY_STATE_OFF              = "0"
)

// home assistant spelling of device units
var haUnits = map[string]string{
	capability.UNIT_LITERS:  "L",
	capability.UNIT_M3:      "m³",
	capability.UNIT_M3H:     "m³/h",
	capability.UNIT_CELSIUS: "°C",
	"sec":                   "s",
	UNIT_RAW:                "",
}

var diagnosticKinds = map[string]bool{
	"wifi_strength":   true,
	"uptime":          true,
	"battery_voltage": true,
}

func BridgeDevice(baseTopic string) Device {
	return Device{
		Id:           fmt.Sprintf("ecopilot_bridge_%s", md5HashShort(baseTopic)),
		Manufacturer: "ACasal",
		Model:        "EcoPilot2MQTT",
		Version:      versioninfo.Short(),
		Name:         fmt.Sprintf("EcoPilot bridge %s", md5HashShort(baseTopic)),
	}
}

// HADevice maps a registered device onto a Home Assistant device attached to the bridge.
func HADevice(device EcoPilotDevice, bridge Device) Device {
	version := device.ProtocolVersion
	if version != "" {
		version = "protocol v" + version
	}
	return Device{
		Id:           fmt.Sprintf("ecopilot_%s", device.Id),
		Manufacturer: MANUFACTURER,
		Model:        device.Type.Model(),
		Version:      version,
		Name:         device.DisplayName(),
		ViaDevice:    bridge.Id,
	}
}

func IdDevice(device Device) Device {
	return Device{
		Id:   device.Id,
		Name: device.Name,
	}
}

func BridgeSensors(bridgeDevice Device) []GenericSensor {
	return []GenericSensor{{
		Device:         bridgeDevice,
		Id:             SENSOR_ID_BRIDGE_STATE,
		SensorType:     SENSOR_TYPE_BINARY,
		Name:           "Connection state",
		DeviceClass:    DEVICE_CLASS_CONNECTIVITY,
		EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
		UniqueId:       uniqueId(bridgeDevice.Id, SENSOR_ID_BRIDGE_STATE),
	}}
}

// SensorId is the id of the entity publishing one metric of a device.
func SensorId(deviceId, metricId string) string {
	return fmt.Sprintf("%s_%s", deviceId, metricId)
}

// DeviceSensors returns one sensor per metric of the descriptor, plus one per derived rate. Only
// the first sensor carries the full device description. Switch states are published through
// their switch.
func DeviceSensors(device Device, deviceId string, descriptor capability.Descriptor) []GenericSensor {
	var sensors []GenericSensor
	for _, metric := range descriptor.Metrics {
		if descriptor.SwitchState(metric.Field) {
			continue
		}
		sensors = append(sensors, metricSensor(device, deviceId, metric))
		if metric.Derived() {
			sensors = append(sensors, rateSensor(device, deviceId, metric))
		}
	}
	for i := range sensors {
		if i > 0 {
			sensors[i].Device = IdDevice(device)
		}
	}
	return sensors
}

func metricSensor(device Device, deviceId string, metric capability.Metric) GenericSensor {
	kind := metric.MetricKind()
	id := SensorId(deviceId, kind)
	sensor := GenericSensor{
		Device:         device,
		Id:             id,
		SensorType:     SENSOR_TYPE_SENSOR,
		Name:           humanize(kind),
		UniqueId:       uniqueId(device.Id, kind),
		AvailabilityId: deviceId,
	}
	if metric.Text {
		sensor.EntityCategory = ENTITY_CLASS_DIAGNOSTIC
		return sensor
	}
	if metric.Binary {
		sensor.SensorType = SENSOR_TYPE_BINARY
		sensor.PayloadOn = BINARY_STATE_ON
		sensor.PayloadOff = BINARY_STATE_OFF
		if kind == "burner_state" {
			sensor.DeviceClass = DEVICE_CLASS_RUNNING
			sensor.Icon = "mdi:fire"
		}
		return sensor
	}
	sensor.UnitOfMeasurement = HAUnit(metric.Unit)
	sensor.DeviceClass = deviceClass(kind, metric.Unit)
	sensor.StateClass = STATE_CLASS_MEASUREMENT
	if metric.Cumulative {
		sensor.StateClass = STATE_CLASS_TOTAL_INCREASING
		if sensor.DeviceClass == DEVICE_CLASS_VOLUME_STORAGE {
			sensor.DeviceClass = DEVICE_CLASS_VOLUME
		}
	}
	if diagnosticKinds[kind] {
		sensor.EntityCategory = ENTITY_CLASS_DIAGNOSTIC
	}
	if kind == "level" {
		sensor.Icon = "mdi:storage-tank"
	}
	return sensor
}

func rateSensor(device Device, deviceId string, metric capability.Metric) GenericSensor {
	kind := metric.RateKind()
	unit := metric.DerivedUnit()
	sensor := GenericSensor{
		Device:            device,
		Id:                SensorId(deviceId, kind),
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              humanize(kind),
		UniqueId:          uniqueId(device.Id, kind),
		UnitOfMeasurement: HAUnit(unit),
		DeviceClass:       deviceClass(kind, unit),
		StateClass:        STATE_CLASS_MEASUREMENT,
		AvailabilityId:    deviceId,
	}
	if sensor.DeviceClass == "" {
		sensor.Icon = "mdi:chart-line-variant"
	}
	return sensor
}

// PassthroughSensor describes a field without capability metadata, published as a raw value.
func PassthroughSensor(device Device, reading Reading) GenericSensor {
	metricId := reading.MetricId()
	return GenericSensor{
		Device:            IdDevice(device),
		Id:                SensorId(reading.DeviceId, metricId),
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              reading.Field,
		UniqueId:          uniqueId(device.Id, metricId),
		UnitOfMeasurement: HAUnit(reading.Unit),
		EntityCategory:    ENTITY_CLASS_DIAGNOSTIC,
		EnabledByDefault:  optionalBool(false),
		AvailabilityId:    reading.DeviceId,
	}
}

func IdentifyButton(device Device, deviceId string) GenericButton {
	return GenericButton{
		Device:         IdDevice(device),
		Id:             deviceId,
		Name:           "Identify",
		UniqueId:       uniqueId(device.Id, BUTTON_ID_IDENTIFY),
		DeviceClass:    DEVICE_CLASS_IDENTIFY,
		AvailabilityId: deviceId,
	}
}

// DeviceSwitches returns one switch per writable control of the descriptor.
func DeviceSwitches(device Device, deviceId string, descriptor capability.Descriptor) []GenericSwitch {
	var switches []GenericSwitch
	for _, sw := range descriptor.Switches {
		entity := GenericSwitch{
			Device:         IdDevice(device),
			Id:             SensorId(deviceId, sw.Key),
			DeviceId:       deviceId,
			Key:            sw.Key,
			Name:           humanize(sw.Key),
			UniqueId:       uniqueId(device.Id, "switch_"+sw.Key),
			DeviceClass:    DEVICE_CLASS_SWITCH,
			AvailabilityId: deviceId,
		}
		if sw.StateField != "" {
			if metric, ok := descriptor.Metric(sw.StateField); ok {
				entity.StateSensorId = SensorId(deviceId, metric.MetricKind())
			}
		}
		if sw.Config {
			entity.EntityCategory = ENTITY_CLASS_CONFIG
		}
		if sw.Key == "power_on" {
			entity.Name = "Power"
			entity.DeviceClass = DEVICE_CLASS_OUTLET
		}
		switches = append(switches, entity)
	}
	return switches
}

// HAUnit translates a device unit into the unit Home Assistant expects. Derived units like
// "liters/sec" are translated part by part.
func HAUnit(unit string) string {
	if u, ok := haUnits[unit]; ok {
		return u
	}
	if base, per, ok := strings.Cut(unit, "/"); ok {
		if u, ok := haUnits[base]; ok {
			base = u
		}
		if u, ok := haUnits[per]; ok {
			per = u
		}
		return base + "/" + per
	}
	return unit
}

func deviceClass(kind, unit string) string {
	switch {
	case kind == "gas_consumed" || kind == "gas_consumed"+RATE_SUFFIX:
		if unit == capability.UNIT_M3 {
			return DEVICE_CLASS_GAS
		}
		return DEVICE_CLASS_VOLUME_FLOW_RATE
	case kind == "water_consumed":
		return DEVICE_CLASS_WATER
	case kind == "battery_level":
		return DEVICE_CLASS_BATTERY
	}
	switch unit {
	case capability.UNIT_KWH:
		return DEVICE_CLASS_ENERGY
	case capability.UNIT_KW, capability.UNIT_WATT:
		return DEVICE_CLASS_POWER
	case capability.UNIT_VOLT:
		return DEVICE_CLASS_VOLTAGE
	case capability.UNIT_AMPERE:
		return DEVICE_CLASS_CURRENT
	case capability.UNIT_HERTZ:
		return DEVICE_CLASS_FREQUENCY
	case capability.UNIT_CELSIUS:
		return DEVICE_CLASS_TEMPERATURE
	case capability.UNIT_DBM:
		return DEVICE_CLASS_SIGNAL_STRENGTH
	case capability.UNIT_SECONDS:
		return DEVICE_CLASS_DURATION
	case capability.UNIT_LITERS, capability.UNIT_M3:
		return DEVICE_CLASS_VOLUME_STORAGE
	case capability.UNIT_LPM, capability.UNIT_LPH, capability.UNIT_M3H:
		return DEVICE_CLASS_VOLUME_FLOW_RATE
	}
	return ""
}

func humanize(kind string) string {
	name := strings.ReplaceAll(kind, "_", " ")
	if name == "" {
		return name
	}
	return strings.ToUpper(name[:1]) + name[1:]
}

func uniqueId(baseId, id string) string {
	return fmt.Sprintf("uid_%s_%s", baseId, id)
}

func md5Hash(text string) string {
	hash := md5.Sum([]byte(text))
	return hex.EncodeToString(hash[:])
}

func md5HashShort(text string) string {
	hash := md5Hash(text)
	return hash[0:8]
}

func optionalBool(value bool) *bool {
	return &value
}
