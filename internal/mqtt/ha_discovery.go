package mqtt

import (
	"fmt"

	"github.com/berfenger/ecopilot2mqtt/internal/core/domain"
	"github.com/berfenger/ecopilot2mqtt/internal/core/events"
)

const AVAILABILITY_MODE_ALL = "all"

type HADiscoveryConfig struct {
	Device            HADiscoveryDevice      `json:"device"`
	StateTopic        string                 `json:"state_topic,omitempty"`
	CommandTopic      string                 `json:"command_topic,omitempty"`
	StateClass        string                 `json:"state_class,omitempty"`
	DeviceClass       string                 `json:"device_class,omitempty"`
	UnitOfMeasurement string                 `json:"unit_of_measurement,omitempty"`
	Availability      []HADiscoveryAvailable `json:"availability,omitempty"`
	AvailabilityMode  string                 `json:"availability_mode,omitempty"`
	EntityCategory    string                 `json:"entity_category,omitempty"`
	Name              string                 `json:"name"`
	UniqueId          string                 `json:"unique_id"`
	Platform          string                 `json:"platform"`
	EnabledByDefault  *bool                  `json:"enabled_by_default,omitempty"`
	PayloadOn         string                 `json:"payload_on,omitempty"`
	PayloadOff        string                 `json:"payload_off,omitempty"`
	PayloadPress      string                 `json:"payload_press,omitempty"`
	StateOn           string                 `json:"state_on,omitempty"`
	StateOff          string                 `json:"state_off,omitempty"`
	Optimistic        bool                   `json:"optimistic,omitempty"`
	Icon              string                 `json:"icon,omitempty"`
}

type HADiscoveryAvailable struct {
	Topic string `json:"topic"`
}

type HADiscoveryDevice struct {
	Id           []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Version      string   `json:"sw_version,omitempty"`
	Model        string   `json:"model,omitempty"`
	Name         string   `json:"name,omitempty"`
	ViaDevice    string   `json:"via_device,omitempty"`
}

func (c *MQTTClient) HADiscoverySensorTopic(sensor domain.GenericSensor) string {
	return fmt.Sprintf("%s/%s/%s/%s/config", c.cfg.HADiscoveryTopic, sensor.SensorType, sensor.Device.Id, sensor.Id)
}

func (c *MQTTClient) HADiscoveryButtonTopic(button domain.GenericButton) string {
	return fmt.Sprintf("%s/button/%s/%s/config", c.cfg.HADiscoveryTopic, button.Device.Id, IdentifyButtonId(button.Id))
}

func (c *MQTTClient) HADiscoverySwitchTopic(sw domain.GenericSwitch) string {
	return fmt.Sprintf("%s/switch/%s/%s/config", c.cfg.HADiscoveryTopic, sw.Device.Id, sw.Id)
}

func GenericSensorToHADiscoveryMessage(client *MQTTClient, sensor domain.GenericSensor) HADiscoveryConfig {
	topic := client.SensorStateTopic(sensor.Id)
	if sensor.Id == events.SENSOR_ID_BRIDGE_STATE {
		topic = client.BridgeStateTopic()
	}
	disConfig := HADiscoveryConfig{
		Device:            device(sensor.Device),
		StateTopic:        topic,
		StateClass:        sensor.StateClass,
		DeviceClass:       sensor.DeviceClass,
		UnitOfMeasurement: sensor.UnitOfMeasurement,
		EntityCategory:    sensor.EntityCategory,
		Name:              sensor.Name,
		UniqueId:          sensor.UniqueId,
		Icon:              sensor.Icon,
		EnabledByDefault:  sensor.EnabledByDefault,
		PayloadOn:         sensor.PayloadOn,
		PayloadOff:        sensor.PayloadOff,
		Platform:          "mqtt",
	}
	client.setAvailability(&disConfig, sensor.AvailabilityId)
	if sensor.Id == events.SENSOR_ID_BRIDGE_STATE {
		// the bridge state sensor must stay available to report offline
		disConfig.Availability = nil
		disConfig.AvailabilityMode = ""
		disConfig.PayloadOn = MQTT_PAYLOAD_ONLINE
		disConfig.PayloadOff = MQTT_PAYLOAD_OFFLINE
	}
	return disConfig
}

func GenericButtonToHADiscoveryMessage(client *MQTTClient, button domain.GenericButton) HADiscoveryConfig {
	disConfig := HADiscoveryConfig{
		Device:       device(button.Device),
		CommandTopic: client.ButtonCommandTopic(IdentifyButtonId(button.Id)),
		DeviceClass:  button.DeviceClass,
		Name:         button.Name,
		UniqueId:     button.UniqueId,
		Icon:         button.Icon,
		Platform:     "mqtt",
		PayloadPress: MQTT_PAYLOAD_PRESS,
	}
	client.setAvailability(&disConfig, button.AvailabilityId)
	return disConfig
}

// GenericSwitchToHADiscoveryMessage maps a switch onto its discovery config. The state comes from
// the binary metric of the switch, the switch is optimistic without one.
func GenericSwitchToHADiscoveryMessage(client *MQTTClient, sw domain.GenericSwitch) HADiscoveryConfig {
	disConfig := HADiscoveryConfig{
		Device:         device(sw.Device),
		CommandTopic:   client.SwitchCommandTopic(sw.DeviceId, sw.Key),
		DeviceClass:    sw.DeviceClass,
		EntityCategory: sw.EntityCategory,
		Name:           sw.Name,
		UniqueId:       sw.UniqueId,
		Icon:           sw.Icon,
		Platform:       "mqtt",
		PayloadOn:      MQTT_PAYLOAD_ON,
		PayloadOff:     MQTT_PAYLOAD_OFF,
	}
	if sw.StateSensorId != "" {
		disConfig.StateTopic = client.SensorStateTopic(sw.StateSensorId)
		disConfig.StateOn = events.BINARY_STATE_ON
		disConfig.StateOff = events.BINARY_STATE_OFF
	} else {
		disConfig.Optimistic = true
	}
	client.setAvailability(&disConfig, sw.AvailabilityId)
	return disConfig
}

func (c *MQTTClient) setAvailability(disConfig *HADiscoveryConfig, deviceId string) {
	disConfig.Availability = []HADiscoveryAvailable{{Topic: c.BridgeStateTopic()}}
	if deviceId != "" {
		disConfig.Availability = append(disConfig.Availability, HADiscoveryAvailable{Topic: c.DeviceAvailabilityTopic(deviceId)})
		disConfig.AvailabilityMode = AVAILABILITY_MODE_ALL
	}
}

func device(d domain.Device) HADiscoveryDevice {
	return HADiscoveryDevice{
		Id:           []string{d.Id},
		Manufacturer: d.Manufacturer,
		Version:      d.Version,
		Model:        d.Model,
		Name:         d.Name,
		ViaDevice:    d.ViaDevice,
	}
}
