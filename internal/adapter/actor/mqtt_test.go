package actor

import (
	"testing"
	"time"

	"github.com/berfenger/ecopilot2mqtt/internal/core/domain"
	"github.com/berfenger/ecopilot2mqtt/internal/core/events"
	"github.com/berfenger/ecopilot2mqtt/internal/mqtt"
	"github.com/berfenger/ecopilot2mqtt/internal/util"
	"github.com/berfenger/ecopilot2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestTestMQTTActor(t *testing.T) {

	require := require.New(t)

	cfg := util.LoadTestConfig()
	logger := zap.Must(zap.NewDevelopment())
	as := actorutil.NewActorSystemWithZapLogger(logger)
	defer as.Shutdown()

	context := as.Root
	pid := context.Spawn(actor.PropsFromProducer(func() actor.Actor { return NewTestMQTTActor(&cfg, logger) }))

	result, err := context.RequestFuture(pid, domain.ActorHealthRequest{}, 2*time.Second).Result()
	require.NoError(err)
	resp, ok := result.(domain.ActorHealthResponse)
	require.True(ok)
	require.True(resp.Healthy)

	result, err = context.RequestFuture(pid, domain.PublishSensorUpdateRequest{
		Event: events.DeviceAvailabilityEvent("plug_1", true),
	}, 2*time.Second).Result()
	require.NoError(err)
	_, ok = result.(domain.PublishSensorUpdateResponse)
	require.True(ok)
}

func TestEvent2MQTTMessage(t *testing.T) {

	assert := assert.New(t)
	require := require.New(t)

	cfg := util.LoadTestConfig()
	state := NewTestMQTTActor(&cfg, zap.NewNop())
	state.client = mqtt.CreateMQTTClient(&cfg, mqtt.OptsFromConfig(&cfg), nil, nil)

	evt, ok := events.ReadingToUpdateEvent(domain.Reading{
		DeviceId: "tank", Kind: "level_rate", Value: -0.33333, Numeric: true,
	})
	require.True(ok)
	msg := state.event2MQTTMessage(evt)
	require.NotNil(msg)
	assert.Equal("ecopilot/sensor/tank_level_rate/state", msg.topic)
	assert.Equal("-0.3333", msg.message)
	assert.False(msg.retain)

	msg = state.event2MQTTMessage(events.DeviceAvailabilityEvent("tank", false))
	require.NotNil(msg)
	assert.Equal("ecopilot/tank/availability", msg.topic)
	assert.Equal(mqtt.MQTT_PAYLOAD_OFFLINE, msg.message)
	assert.True(msg.retain)

	msg = state.event2MQTTMessage(events.BridgeStateEvent(true))
	require.NotNil(msg)
	assert.Equal("ecopilot/bridge/state", msg.topic)
	assert.Equal(mqtt.MQTT_PAYLOAD_ONLINE, msg.message)

	assert.Nil(state.event2MQTTMessage("not an event"))
}
