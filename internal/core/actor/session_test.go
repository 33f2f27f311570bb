package actor

import (
	"bytes"
	"io"
	"net"
	"testing"
	"time"

	"github.com/berfenger/ecopilot2mqtt/internal/core/capability"
	"github.com/berfenger/ecopilot2mqtt/internal/core/domain"
	"github.com/berfenger/ecopilot2mqtt/internal/core/port"
	"github.com/berfenger/ecopilot2mqtt/internal/core/service"
	"github.com/berfenger/ecopilot2mqtt/internal/util"
	"github.com/berfenger/ecopilot2mqtt/pkg/ecoproto"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testSessionSettings() SessionSettings {
	cfg := util.LoadTestConfig()
	return SessionSettingsFromConfig(cfg.Connection)
}

func spawnSession(t *testing.T, device domain.EcoPilotDevice, settings SessionSettings) (*actor.RootContext, *actor.PID, *eventCollector) {
	return spawnSessionWithDialer(t, device, settings, &net.Dialer{})
}

func spawnSessionWithDialer(t *testing.T, device domain.EcoPilotDevice, settings SessionSettings, dialer port.Dialer) (*actor.RootContext, *actor.PID, *eventCollector) {
	logger := zap.NewNop()
	as := actor.NewActorSystem()
	t.Cleanup(as.Shutdown)

	es := &eventstream.EventStream{}
	events := collectEvents(es)
	normalizer := service.NewNormalizer(capability.DefaultTable(), logger)

	pid := as.Root.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return NewDeviceSessionActor(device, settings, dialer, normalizer, es, logger)
	}))
	return as.Root, pid, events
}

func tankFrame(t *testing.T, seq uint32, level float64) []byte {
	data, err := ecoproto.LineProtocol{}.EncodeFrame(ecoproto.Frame{
		Sequence:    seq,
		HasSequence: true,
		Fields:      []ecoproto.Field{ecoproto.NumberField("level", level, "liters")},
	})
	require.NoError(t, err)
	return data
}

func p1Telegram(t *testing.T, voltage float64) []byte {
	data, err := ecoproto.P1Protocol{}.EncodeFrame(ecoproto.Frame{
		Fields: []ecoproto.Field{
			ecoproto.NumberField("energy_import", 1234.567, "kWh"),
			ecoproto.NumberField("voltage_l1", voltage, "V"),
		},
	})
	require.NoError(t, err)
	return data
}

func TestSessionEmitsReadingsInOrder(t *testing.T) {

	assert := assert.New(t)
	require := require.New(t)

	device := newFakeDevice(t)
	tank := domain.EcoPilotDevice{Id: "tanksense_1", Type: domain.DEVICE_TYPE_TANK, Address: device.address()}
	settings := testSessionSettings()
	settings.ReadTimeout = 5 * time.Second
	_, _, events := spawnSession(t, tank, settings)

	conn := device.accept(t)
	_, err := conn.Write(tankFrame(t, 1, 500))
	require.NoError(err)
	_, err = conn.Write(tankFrame(t, 2, 480))
	require.NoError(err)

	require.Eventually(func() bool {
		return len(events.readings("level")) >= 2
	}, waitTimeout, 10*time.Millisecond)

	all := events.all()
	require.NotEmpty(all)
	online, ok := all[0].(domain.DeviceOnline)
	require.True(ok, "first event is DeviceOnline")
	assert.Equal("tanksense_1", online.DeviceId)
	assert.Equal(device.address(), online.Device.Address)

	levels := events.readings("level")
	assert.Equal(500.0, levels[0].Value)
	assert.Equal(480.0, levels[1].Value)
	assert.Equal(domain.QualityGood, levels[1].Quality)
	assert.Equal("tanksense_1", levels[1].DeviceId)
}

func TestSessionDiscardsCorruptTelegram(t *testing.T) {

	assert := assert.New(t)
	require := require.New(t)

	device := newFakeDevice(t)
	meter := domain.EcoPilotDevice{Id: "eco_p1_1", Type: domain.DEVICE_TYPE_P1, Address: device.address()}
	settings := testSessionSettings()
	settings.ReadTimeout = 5 * time.Second
	root, pid, events := spawnSession(t, meter, settings)

	conn := device.accept(t)
	corrupt := bytes.Replace(p1Telegram(t, 230.1), []byte("230.100"), []byte("231.100"), 1)
	_, err := conn.Write(corrupt)
	require.NoError(err)
	_, err = conn.Write(p1Telegram(t, 229.8))
	require.NoError(err)

	require.Eventually(func() bool {
		return len(events.readings("voltage_l1")) >= 1
	}, waitTimeout, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	voltages := events.readings("voltage_l1")
	require.Len(voltages, 1)
	assert.InDelta(229.8, voltages[0].Value, 0.001)
	assert.Equal(0, events.count(isOffline))

	health, err := healthCheck(root, pid)
	require.NoError(err)
	assert.Equal("connected", health.State)
}

func TestSessionReadTimeoutReconnects(t *testing.T) {

	assert := assert.New(t)
	require := require.New(t)

	device := newFakeDevice(t)
	tank := domain.EcoPilotDevice{Id: "tanksense_2", Type: domain.DEVICE_TYPE_TANK, Address: device.address()}
	_, _, events := spawnSession(t, tank, testSessionSettings())

	// the device never writes anything
	first := device.accept(t)
	require.NotNil(first)

	require.Eventually(func() bool {
		return events.count(isOffline) == 1
	}, waitTimeout, 10*time.Millisecond)

	second := device.accept(t)
	require.NotNil(second)
	require.Eventually(func() bool {
		return events.count(isOnline) == 2
	}, waitTimeout, 10*time.Millisecond)

	var offline domain.DeviceOffline
	for _, evt := range events.all() {
		if o, ok := evt.(domain.DeviceOffline); ok {
			offline = o
		}
	}
	var connErr *domain.ConnectionError
	require.ErrorAs(offline.Reason, &connErr)
	assert.Equal(domain.ConnectionTimeout, connErr.Kind)
}

func TestSessionReportsOfflineOncePerOutage(t *testing.T) {

	assert := assert.New(t)

	tank := domain.EcoPilotDevice{Id: "tanksense_3", Type: domain.DEVICE_TYPE_TANK, Address: closedAddress(t)}
	root, pid, events := spawnSession(t, tank, testSessionSettings())

	// several refused attempts with a 50ms base delay
	time.Sleep(600 * time.Millisecond)

	assert.Equal(1, events.count(isOffline))
	assert.Equal(0, events.count(isOnline))

	res, err := root.RequestFuture(pid, domain.SendIdentifyRequest{DeviceId: "tanksense_3"}, waitTimeout).Result()
	assert.NoError(err)
	resp, ok := res.(domain.SendIdentifyResponse)
	assert.True(ok)
	assert.ErrorIs(resp.GetResponseError(), domain.ErrNotConnected)
}

func TestSessionIdentifyWritesCommand(t *testing.T) {

	assert := assert.New(t)
	require := require.New(t)

	device := newFakeDevice(t)
	tank := domain.EcoPilotDevice{Id: "tanksense_4", Type: domain.DEVICE_TYPE_TANK, Address: device.address()}
	settings := testSessionSettings()
	settings.ReadTimeout = 5 * time.Second
	root, pid, events := spawnSession(t, tank, settings)

	conn := device.accept(t)
	require.Eventually(func() bool {
		return events.count(isOnline) == 1
	}, waitTimeout, 10*time.Millisecond)

	res, err := root.RequestFuture(pid, domain.SendIdentifyRequest{DeviceId: "tanksense_4"}, waitTimeout).Result()
	require.NoError(err)
	resp, ok := res.(domain.SendIdentifyResponse)
	require.True(ok)
	assert.False(resp.HasResponseError())

	expected, err := ecoproto.LineProtocol{}.Encode(ecoproto.Command{Name: ecoproto.COMMAND_IDENTIFY, Sequence: 1})
	require.NoError(err)
	require.NoError(conn.SetReadDeadline(time.Now().Add(waitTimeout)))
	received := make([]byte, len(expected))
	_, err = io.ReadFull(conn, received)
	require.NoError(err)
	assert.Equal(expected, received)
}

func TestSessionBackoffGrowsAndResetsAfterReconnect(t *testing.T) {

	assert := assert.New(t)
	require := require.New(t)

	device := newFakeDevice(t)
	tank := domain.EcoPilotDevice{Id: "tanksense_6", Type: domain.DEVICE_TYPE_TANK, Address: device.address()}
	settings := testSessionSettings()
	settings.ReadTimeout = 5 * time.Second
	settings.Backoff = service.BackoffConfig{Min: 50 * time.Millisecond, Max: time.Second, Multiplier: 2}
	dialer := &timedDialer{failures: 3}
	_, _, events := spawnSessionWithDialer(t, tank, settings, dialer)

	conn := device.accept(t)
	require.Eventually(func() bool {
		return events.count(isOnline) == 1
	}, waitTimeout, 10*time.Millisecond)

	dials := dialer.dials()
	require.Len(dials, 4)
	const margin = 10 * time.Millisecond
	var gaps []time.Duration
	for i, want := range []time.Duration{50 * time.Millisecond, 100 * time.Millisecond, 200 * time.Millisecond} {
		gap := dials[i+1].Sub(dials[i])
		assert.True(gap >= want-margin, "gap %d is %v, expected at least %v", i, gap, want)
		gaps = append(gaps, gap)
	}
	assert.True(gaps[1] > gaps[0] && gaps[2] > gaps[1], "delays grow: %v", gaps)

	closed := time.Now()
	require.NoError(conn.Close())
	device.accept(t)
	require.Eventually(func() bool {
		return events.count(isOnline) == 2
	}, waitTimeout, 10*time.Millisecond)

	dials = dialer.dials()
	require.Len(dials, 5)
	delay := dials[4].Sub(closed)
	assert.True(delay >= 50*time.Millisecond-margin, "reconnect after %v", delay)
	// without a reset the next delay would be 400ms
	assert.True(delay < 300*time.Millisecond, "reconnect after %v", delay)
}

func TestSessionSwitchCommand(t *testing.T) {

	assert := assert.New(t)
	require := require.New(t)

	device := newFakeDevice(t)
	drive := domain.EcoPilotDevice{Id: "ecodrive_lk_1", Type: domain.DEVICE_TYPE_DRIVE_LK, Address: closedAddress(t)}
	settings := testSessionSettings()
	settings.ReadTimeout = 5 * time.Second
	root, pid, events := spawnSession(t, drive, settings)

	require.Eventually(func() bool {
		return events.count(isOffline) == 1
	}, waitTimeout, 10*time.Millisecond)
	res, err := root.RequestFuture(pid, domain.SetSwitchRequest{DeviceId: drive.Id, Switch: "relay1", On: true}, waitTimeout).Result()
	require.NoError(err)
	assert.ErrorIs(res.(domain.SetSwitchResponse).GetResponseError(), domain.ErrNotConnected)

	drive.Address = device.address()
	root.Send(pid, UpdateSessionRequest{Device: drive})
	conn := device.accept(t)
	require.Eventually(func() bool {
		return events.count(isOnline) == 1
	}, waitTimeout, 10*time.Millisecond)

	res, err = root.RequestFuture(pid, domain.SetSwitchRequest{DeviceId: drive.Id, Switch: "relay1", On: true}, waitTimeout).Result()
	require.NoError(err)
	assert.False(res.(domain.SetSwitchResponse).HasResponseError())

	expected, err := ecoproto.BinaryProtocol{}.Encode(ecoproto.Command{Name: ecoproto.COMMAND_SWITCH, Sequence: 1, Target: "relay1", On: true})
	require.NoError(err)
	require.NoError(conn.SetReadDeadline(time.Now().Add(waitTimeout)))
	received := make([]byte, len(expected))
	_, err = io.ReadFull(conn, received)
	require.NoError(err)
	assert.Equal(expected, received)

	frame, err := ecoproto.BinaryProtocol{}.Decode(received)
	require.NoError(err)
	cmd, err := ecoproto.ParseCommand(frame.Command())
	require.NoError(err)
	assert.Equal("relay1", cmd.Target)
	assert.True(cmd.On)
}
