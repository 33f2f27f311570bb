package events

import (
	"testing"
	"time"

	"github.com/berfenger/ecopilot2mqtt/internal/core/capability"
	"github.com/berfenger/ecopilot2mqtt/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sensorById(sensors []domain.GenericSensor, id string) (domain.GenericSensor, bool) {
	for _, s := range sensors {
		if s.Id == id {
			return s, true
		}
	}
	return domain.GenericSensor{}, false
}

func TestDeviceSensors(t *testing.T) {

	assert := assert.New(t)
	require := require.New(t)

	tank := domain.EcoPilotDevice{Id: "tanksense_t1", Type: domain.DEVICE_TYPE_TANK, ProtocolVersion: "1"}
	bridge := BridgeDevice("ecopilot")
	device := HADevice(tank, bridge)
	assert.Equal("ecopilot_tanksense_t1", device.Id)
	assert.Equal(bridge.Id, device.ViaDevice)
	assert.Equal(domain.MANUFACTURER, device.Manufacturer)
	assert.Equal("protocol v1", device.Version)

	descriptor, err := capability.DefaultTable().Lookup(domain.DEVICE_TYPE_TANK, "1")
	require.NoError(err)
	sensors := DeviceSensors(device, tank.Id, descriptor)
	require.NotEmpty(sensors)

	// only the first sensor describes the device
	assert.Equal(device, sensors[0].Device)
	assert.Equal(IdDevice(device), sensors[1].Device)

	level, ok := sensorById(sensors, "tanksense_t1_level")
	require.True(ok)
	assert.Equal("L", level.UnitOfMeasurement)
	assert.Equal(DEVICE_CLASS_VOLUME_STORAGE, level.DeviceClass)
	assert.Equal(STATE_CLASS_MEASUREMENT, level.StateClass)
	assert.Equal("tanksense_t1", level.AvailabilityId)

	rate, ok := sensorById(sensors, "tanksense_t1_level_rate")
	require.True(ok)
	assert.Equal("L/s", rate.UnitOfMeasurement)
	assert.Equal("Level rate", rate.Name)

	temperature, ok := sensorById(sensors, "tanksense_t1_temperature")
	require.True(ok)
	assert.Equal("°C", temperature.UnitOfMeasurement)
	assert.Equal(DEVICE_CLASS_TEMPERATURE, temperature.DeviceClass)
}

func TestMeterSensors(t *testing.T) {

	assert := assert.New(t)
	require := require.New(t)

	descriptor, err := capability.DefaultTable().Lookup(domain.DEVICE_TYPE_P1, "")
	require.NoError(err)
	sensors := DeviceSensors(domain.Device{Id: "ecopilot_p1"}, "p1", descriptor)

	energy, ok := sensorById(sensors, "p1_energy_import")
	require.True(ok)
	assert.Equal(DEVICE_CLASS_ENERGY, energy.DeviceClass)
	assert.Equal(STATE_CLASS_TOTAL_INCREASING, energy.StateClass)

	power, ok := sensorById(sensors, "p1_energy_import_rate")
	require.True(ok)
	assert.Equal(DEVICE_CLASS_POWER, power.DeviceClass)
	assert.Equal("kW", power.UnitOfMeasurement)

	gas, ok := sensorById(sensors, "p1_gas_consumed")
	require.True(ok)
	assert.Equal(DEVICE_CLASS_GAS, gas.DeviceClass)
	assert.Equal("m³", gas.UnitOfMeasurement)

	version, ok := sensorById(sensors, "p1_dsmr_version")
	require.True(ok)
	assert.Empty(version.UnitOfMeasurement)
	assert.Equal(ENTITY_CLASS_DIAGNOSTIC, version.EntityCategory)

	_, ok = sensorById(sensors, "p1_dsmr_version_rate")
	assert.False(ok)
}

func TestBinarySensorsAndSwitches(t *testing.T) {

	assert := assert.New(t)
	require := require.New(t)

	drive, err := capability.DefaultTable().Lookup(domain.DEVICE_TYPE_DRIVE_LK, "")
	require.NoError(err)
	haDev := domain.Device{Id: "ecopilot_drive_1"}
	sensors := DeviceSensors(haDev, "drive_1", drive)

	burner, ok := sensorById(sensors, "drive_1_burner_state")
	require.True(ok)
	assert.Equal(SENSOR_TYPE_BINARY, burner.SensorType)
	assert.Equal(DEVICE_CLASS_RUNNING, burner.DeviceClass)
	assert.Equal("1", burner.PayloadOn)
	assert.Equal("0", burner.PayloadOff)
	assert.Empty(burner.StateClass)
	assert.Empty(burner.UnitOfMeasurement)

	// relay states are published through their switches
	_, ok = sensorById(sensors, "drive_1_relay1_state")
	assert.False(ok)

	switches := DeviceSwitches(haDev, "drive_1", drive)
	require.Len(switches, 2)
	assert.Equal("drive_1_relay1", switches[0].Id)
	assert.Equal("relay1", switches[0].Key)
	assert.Equal("drive_1", switches[0].DeviceId)
	assert.Equal("drive_1_relay1_state", switches[0].StateSensorId)
	assert.Equal("uid_ecopilot_drive_1_switch_relay1", switches[0].UniqueId)
	assert.Empty(switches[0].EntityCategory)

	plug, err := capability.DefaultTable().Lookup(domain.DEVICE_TYPE_PLUG, "")
	require.NoError(err)
	plugSwitches := DeviceSwitches(haDev, "plug_1", plug)
	require.Len(plugSwitches, 3)
	assert.Equal("Power", plugSwitches[0].Name)
	assert.Equal(DEVICE_CLASS_OUTLET, plugSwitches[0].DeviceClass)
	assert.Equal(ENTITY_CLASS_CONFIG, plugSwitches[1].EntityCategory)

	tank, err := capability.DefaultTable().Lookup(domain.DEVICE_TYPE_TANK, "")
	require.NoError(err)
	assert.Empty(DeviceSwitches(haDev, "tank_1", tank))
}

func TestPassthroughAndButton(t *testing.T) {

	assert := assert.New(t)

	device := domain.Device{Id: "ecopilot_plug_1", Name: "Plug", Model: "ecoPlug"}
	reading := domain.Reading{DeviceId: "plug_1", Kind: domain.METRIC_KIND_UNKNOWN, Field: "Fan Speed", Unit: domain.UNIT_RAW, Numeric: true}

	sensor := PassthroughSensor(device, reading)
	assert.Equal("plug_1_unknown_fan_speed", sensor.Id)
	assert.Empty(sensor.UnitOfMeasurement)
	assert.False(*sensor.EnabledByDefault)
	assert.Equal(IdDevice(device), sensor.Device)

	button := IdentifyButton(device, "plug_1")
	assert.Equal("plug_1", button.Id)
	assert.Equal("plug_1", button.AvailabilityId)
	assert.Equal(DEVICE_CLASS_IDENTIFY, button.DeviceClass)
}

func TestHAUnit(t *testing.T) {

	assert := assert.New(t)

	assert.Equal("L", HAUnit("liters"))
	assert.Equal("L/s", HAUnit("liters/sec"))
	assert.Equal("m³/h", HAUnit("m3/h"))
	assert.Equal("°C", HAUnit("C"))
	assert.Equal("kW", HAUnit("kW"))
	assert.Equal("L/min", HAUnit("L/min"))
	assert.Equal("", HAUnit("raw"))
}

func TestReadingToUpdateEvent(t *testing.T) {

	assert := assert.New(t)
	require := require.New(t)

	now := time.Now()
	evt, ok := ReadingToUpdateEvent(domain.Reading{
		DeviceId: "tank", Kind: "level", Field: "level", Value: 480, Numeric: true, Unit: "liters", Timestamp: now,
	})
	require.True(ok)
	float, ok := evt.(domain.FloatSensorUpdateEvent)
	require.True(ok)
	assert.Equal("tank_level", float.SensorId())
	assert.Equal(480.0, float.Value)
	assert.Equal(uint(0), float.Decimals)

	evt, ok = ReadingToUpdateEvent(domain.Reading{
		DeviceId: "tank", Kind: "level_rate", Field: "level", Value: -0.3333, Numeric: true, Timestamp: now,
	})
	require.True(ok)
	assert.Equal(uint(4), evt.(domain.FloatSensorUpdateEvent).Decimals)

	evt, ok = ReadingToUpdateEvent(domain.Reading{
		DeviceId: "p1", Kind: "dsmr_version", Field: "dsmr_version", Text: "50", Timestamp: now,
	})
	require.True(ok)
	text, ok := evt.(domain.TextSensorUpdateEvent)
	require.True(ok)
	assert.Equal("50", text.Value)
	assert.Equal("p1_dsmr_version", text.SensorId())

	_, ok = ReadingToUpdateEvent(domain.Reading{DeviceId: "tank", Kind: "level", Numeric: true, Quality: domain.QualityInvalid})
	assert.False(ok)
}
