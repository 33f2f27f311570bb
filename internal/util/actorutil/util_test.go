package actorutil

import (
	"testing"

	"github.com/berfenger/ecopilot2mqtt/internal/core/domain"
	"github.com/berfenger/ecopilot2mqtt/internal/mqtt"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsedMQTTCommandToCommand(t *testing.T) {

	assert := assert.New(t)
	require := require.New(t)

	cmd, err := ParsedMQTTCommandToCommand(mqtt.ParsedMQTTCommand{DeviceId: "plug_1", Command: mqtt.MQTT_COMMAND_IDENTIFY})
	require.NoError(err)
	assert.Equal(domain.SendIdentifyRequest{DeviceId: "plug_1"}, cmd)

	cmd, err = ParsedMQTTCommandToCommand(mqtt.ParsedMQTTCommand{DeviceId: "plug_1", Command: mqtt.MQTT_COMMAND_SWITCH, Switch: "power_on", Payload: "ON"})
	require.NoError(err)
	assert.Equal(domain.SetSwitchRequest{DeviceId: "plug_1", Switch: "power_on", On: true}, cmd)

	cmd, err = ParsedMQTTCommandToCommand(mqtt.ParsedMQTTCommand{DeviceId: "plug_1", Command: mqtt.MQTT_COMMAND_SWITCH, Switch: "power_on", Payload: "off"})
	require.NoError(err)
	assert.Equal(domain.SetSwitchRequest{DeviceId: "plug_1", Switch: "power_on"}, cmd)

	for _, parsed := range []mqtt.ParsedMQTTCommand{
		{DeviceId: "plug_1", Command: mqtt.MQTT_COMMAND_SWITCH, Switch: "power_on", Payload: "toggle"},
		{DeviceId: "plug_1", Command: mqtt.MQTT_COMMAND_SWITCH, Payload: "ON"},
		{Command: mqtt.MQTT_COMMAND_IDENTIFY},
		{DeviceId: "plug_1", Command: "reboot"},
	} {
		_, err := ParsedMQTTCommandToCommand(parsed)
		assert.ErrorIs(err, mqtt.ErrInvalidCommand, parsed)
	}
}
