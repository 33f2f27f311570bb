package actor

import (
	"io"
	"net"
	"testing"
	"time"

	adactor "github.com/berfenger/ecopilot2mqtt/internal/adapter/actor"
	"github.com/berfenger/ecopilot2mqtt/internal/config"
	"github.com/berfenger/ecopilot2mqtt/internal/core/capability"
	"github.com/berfenger/ecopilot2mqtt/internal/core/domain"
	"github.com/berfenger/ecopilot2mqtt/internal/mqtt"
	"github.com/berfenger/ecopilot2mqtt/internal/util"
	"github.com/berfenger/ecopilot2mqtt/pkg/ecoproto"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func spawnMaster(t *testing.T, cfg config.Config, browser *fakeBrowser) (*actor.RootContext, *actor.PID, *eventCollector) {
	logCfg := zap.NewDevelopmentConfig()
	logCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)
	logger := zap.Must(logCfg.Build())

	as := actor.NewActorSystem()
	t.Cleanup(as.Shutdown)

	es := &eventstream.EventStream{}
	events := collectEvents(es)

	props := actor.PropsFromProducer(func() actor.Actor {
		master := NewMasterOfPuppetsActor(&cfg, capability.DefaultTable(), &net.Dialer{}, nil, es, func() *adactor.MQTTActor {
			return adactor.NewTestMQTTActor(&cfg, logger)
		}, logger)
		if browser != nil {
			master.browser = browser
		}
		return master
	})
	pid, err := as.Root.SpawnNamed(props, domain.ACTOR_ID_MASTER)
	require.NoError(t, err)
	return as.Root, pid, events
}

func TestMasterActor(t *testing.T) {

	assert := assert.New(t)
	require := require.New(t)

	cfg := util.LoadTestConfig()
	cfg.Discovery.Enable = true
	root, pid, _ := spawnMaster(t, cfg, newFakeBrowser())

	// the bridge actor waits for the MQTT actor before reporting its final state
	require.Eventually(func() bool {
		resp, err := healthCheck(root, pid)
		return err == nil && resp.Healthy
	}, waitTimeout, 100*time.Millisecond)

	resp, err := healthCheck(root, pid)
	require.NoError(err)
	assert.Equal(domain.ACTOR_ID_MASTER, resp.Id)
	assert.Equal("ok", resp.State)
}

func TestMasterRoutesDeviceRequests(t *testing.T) {

	assert := assert.New(t)
	require := require.New(t)

	device := newFakeDevice(t)
	root, pid, events := spawnMaster(t, util.LoadTestConfig(), nil)

	res, err := root.RequestFuture(pid, domain.RegisterDeviceRequest{Address: device.address(), Type: "tank"}, waitTimeout).Result()
	require.NoError(err)
	reg, ok := res.(domain.RegisterDeviceResponse)
	require.True(ok)
	require.False(reg.HasResponseError())

	res, err = root.RequestFuture(pid, domain.GetDevicesRequest{}, waitTimeout).Result()
	require.NoError(err)
	list := res.(domain.GetDevicesResponse).Devices
	require.Len(list, 1)
	assert.Equal(reg.DeviceId, list[0].Id)

	res, err = root.RequestFuture(pid, domain.UnregisterDeviceRequest{DeviceId: reg.DeviceId}, waitTimeout).Result()
	require.NoError(err)
	assert.False(res.(domain.UnregisterDeviceResponse).HasResponseError())

	require.Eventually(func() bool {
		return events.count(isRemoved) == 1
	}, waitTimeout, 10*time.Millisecond)

	res, err = root.RequestFuture(pid, domain.SendIdentifyRequest{DeviceId: reg.DeviceId}, waitTimeout).Result()
	require.NoError(err)
	assert.ErrorIs(res.(domain.SendIdentifyResponse).GetResponseError(), domain.ErrDeviceNotFound)
}

func TestMasterRoutesMQTTIdentify(t *testing.T) {

	assert := assert.New(t)
	require := require.New(t)

	cfg := util.LoadTestConfig()
	cfg.Connection.ReadTimeoutMillis = 5000
	device := newFakeDevice(t)
	root, pid, events := spawnMaster(t, cfg, nil)

	res, err := root.RequestFuture(pid, domain.RegisterDeviceRequest{Address: device.address(), Type: "tank"}, waitTimeout).Result()
	require.NoError(err)
	reg := res.(domain.RegisterDeviceResponse)
	require.False(reg.HasResponseError())

	conn := device.accept(t)
	require.Eventually(func() bool {
		return events.count(isOnline) == 1
	}, waitTimeout, 10*time.Millisecond)

	root.Send(pid, adactor.ParsedCommand{Command: &mqtt.ParsedMQTTCommand{
		DeviceId: reg.DeviceId,
		Command:  mqtt.MQTT_COMMAND_IDENTIFY,
		Payload:  mqtt.MQTT_PAYLOAD_PRESS,
	}})

	expected, err := ecoproto.LineProtocol{}.Encode(ecoproto.Command{Name: ecoproto.COMMAND_IDENTIFY, Sequence: 1})
	require.NoError(err)
	require.NoError(conn.SetReadDeadline(time.Now().Add(waitTimeout)))
	received := make([]byte, len(expected))
	_, err = io.ReadFull(conn, received)
	require.NoError(err)
	assert.Equal(expected, received)
}

func TestMasterRoutesMQTTSwitch(t *testing.T) {

	assert := assert.New(t)
	require := require.New(t)

	cfg := util.LoadTestConfig()
	cfg.Connection.ReadTimeoutMillis = 5000
	device := newFakeDevice(t)
	root, pid, events := spawnMaster(t, cfg, nil)

	res, err := root.RequestFuture(pid, domain.RegisterDeviceRequest{Address: device.address(), Type: "plug"}, waitTimeout).Result()
	require.NoError(err)
	reg := res.(domain.RegisterDeviceResponse)
	require.False(reg.HasResponseError())

	conn := device.accept(t)
	require.Eventually(func() bool {
		return events.count(isOnline) == 1
	}, waitTimeout, 10*time.Millisecond)

	root.Send(pid, adactor.ParsedCommand{Command: &mqtt.ParsedMQTTCommand{
		DeviceId: reg.DeviceId,
		Command:  mqtt.MQTT_COMMAND_SWITCH,
		Switch:   "power_on",
		Payload:  mqtt.MQTT_PAYLOAD_ON,
	}})

	expected, err := ecoproto.BinaryProtocol{}.Encode(ecoproto.Command{Name: ecoproto.COMMAND_SWITCH, Sequence: 1, Target: "power_on", On: true})
	require.NoError(err)
	require.NoError(conn.SetReadDeadline(time.Now().Add(waitTimeout)))
	received := make([]byte, len(expected))
	_, err = io.ReadFull(conn, received)
	require.NoError(err)
	assert.Equal(expected, received)
}
