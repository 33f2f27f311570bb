package actor

import (
	"testing"
	"time"

	"github.com/berfenger/ecopilot2mqtt/internal/config"
	"github.com/berfenger/ecopilot2mqtt/internal/core/domain"
	"github.com/berfenger/ecopilot2mqtt/internal/core/port"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func spawnDiscovery(t *testing.T, cfg config.DiscoveryConfig) (*fakeBrowser, chan any) {
	as := actor.NewActorSystem()
	t.Cleanup(as.Shutdown)

	supervisor, messages := spawnInbox(as.Root)
	browser := newFakeBrowser()
	as.Root.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return NewDiscoveryActor(cfg, browser, supervisor, zap.NewNop())
	}))
	return browser, messages
}

func assertSilent(t *testing.T, messages chan any, d time.Duration) {
	select {
	case msg := <-messages:
		assert.Failf(t, "unexpected message", "%T %+v", msg, msg)
	case <-time.After(d):
	}
}

func TestDiscoveryDeduplicatesAnnouncements(t *testing.T) {

	assert := assert.New(t)
	require := require.New(t)

	browser, messages := spawnDiscovery(t, config.DiscoveryConfig{
		ScanIntervalMillis: 1000,
		GracePeriodMillis:  3600 * 1000,
		DedupWindowMillis:  500,
	})

	t0 := time.Now()
	announce := func(address string, at time.Time) {
		browser.announcements <- port.Announcement{
			Instance:        "tank-1",
			Address:         address,
			ProductName:     "tankSense",
			ProductModel:    "tanksense",
			Serial:          "T-001",
			ProtocolVersion: "1",
			SeenAt:          at,
		}
	}

	announce("10.0.0.5:4000", t0)
	msg, ok := receive(t, messages, waitTimeout).(domain.DeviceDiscovered)
	require.True(ok)
	assert.Equal("tanksense_t_001", msg.DeviceId)
	assert.Equal(domain.DEVICE_TYPE_TANK, msg.Type)
	assert.Equal("10.0.0.5:4000", msg.Address)
	assert.Equal("T-001", msg.Serial)

	// repeats and moves inside the window are dropped
	announce("10.0.0.5:4000", t0.Add(100*time.Millisecond))
	announce("10.0.0.6:4000", t0.Add(200*time.Millisecond))
	// same address after the window is not news
	announce("10.0.0.5:4000", t0.Add(time.Second))
	assertSilent(t, messages, 200*time.Millisecond)

	announce("10.0.0.7:4000", t0.Add(2*time.Second))
	moved, ok := receive(t, messages, waitTimeout).(domain.DeviceDiscovered)
	require.True(ok)
	assert.Equal("tanksense_t_001", moved.DeviceId)
	assert.Equal("10.0.0.7:4000", moved.Address)
}

func TestDiscoveryIgnoresUnknownProducts(t *testing.T) {

	browser, messages := spawnDiscovery(t, config.DiscoveryConfig{
		ScanIntervalMillis: 1000,
		GracePeriodMillis:  3600 * 1000,
		DedupWindowMillis:  500,
	})

	browser.announcements <- port.Announcement{Instance: "printer", Address: "10.0.0.9:631", ProductModel: "laserjet"}
	browser.announcements <- port.Announcement{Instance: "p1", Address: "10.0.0.10", ProductModel: "eco-p1"}

	assertSilent(t, messages, 300*time.Millisecond)
}

func TestDiscoveryReportsLostDevices(t *testing.T) {

	assert := assert.New(t)
	require := require.New(t)

	browser, messages := spawnDiscovery(t, config.DiscoveryConfig{
		ScanIntervalMillis: 100,
		GracePeriodMillis:  300,
		DedupWindowMillis:  50,
	})

	browser.announcements <- port.Announcement{
		Instance:     "plug",
		Address:      "10.0.0.11:4000",
		ProductModel: "ecoPlug",
		SeenAt:       time.Now(),
	}
	discovered, ok := receive(t, messages, waitTimeout).(domain.DeviceDiscovered)
	require.True(ok)
	assert.Equal(domain.DEVICE_TYPE_PLUG, discovered.Type)

	lost, ok := receive(t, messages, waitTimeout).(domain.DeviceLost)
	require.True(ok)
	assert.Equal(discovered.DeviceId, lost.DeviceId)

	// a returning device is announced again
	browser.announcements <- port.Announcement{
		Instance:     "plug",
		Address:      "10.0.0.11:4000",
		ProductModel: "ecoPlug",
		SeenAt:       time.Now(),
	}
	again, ok := receive(t, messages, waitTimeout).(domain.DeviceDiscovered)
	require.True(ok)
	assert.Equal(discovered.DeviceId, again.DeviceId)
}
