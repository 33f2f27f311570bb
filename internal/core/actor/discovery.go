package actor

import (
	"context"
	"fmt"
	"time"

	"github.com/berfenger/ecopilot2mqtt/internal/config"
	"github.com/berfenger/ecopilot2mqtt/internal/core/domain"
	"github.com/berfenger/ecopilot2mqtt/internal/core/port"
	"github.com/berfenger/ecopilot2mqtt/internal/metrics"
	"github.com/berfenger/ecopilot2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/scheduler"
	"go.uber.org/zap"
)

// DiscoveryActor turns network announcements into DeviceDiscovered and DeviceLost messages for the
// supervisor.
type DiscoveryActor struct {
	config     config.DiscoveryConfig
	browser    port.Browser
	supervisor *actor.PID
	behavior   actor.Behavior
	scheduler  *scheduler.TimerScheduler
	cancelTick scheduler.CancelFunc
	stopBrowse context.CancelFunc
	known      map[string]*knownDevice
	now        func() time.Time

	logger *zap.Logger
}

type knownDevice struct {
	address       string
	lastSeen      time.Time
	lastForwarded time.Time
}

type announcementReceived struct {
	announcement port.Announcement
}

type browseStopped struct {
	err error
}

type sweepTick struct {
}

func NewDiscoveryActor(config config.DiscoveryConfig, browser port.Browser, supervisor *actor.PID, logger *zap.Logger) *DiscoveryActor {
	act := &DiscoveryActor{
		config:     config,
		browser:    browser,
		supervisor: supervisor,
		behavior:   actor.NewBehavior(),
		known:      map[string]*knownDevice{},
		now:        time.Now,
		logger:     actorutil.ActorLogger(domain.ACTOR_ID_DISCOVERY, logger),
	}
	act.behavior.Become(act.BrowsingReceive)
	return act
}

func (state *DiscoveryActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *DiscoveryActor) BrowsingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("discovery@browsing started", zap.String("service", state.config.Service))
		state.scheduler = scheduler.NewTimerScheduler(ctx)
		state.startBrowse(ctx)
		state.cancelTick = state.scheduler.RequestOnce(state.config.ScanInterval(), ctx.Self(), sweepTick{})
	case announcementReceived:
		state.onAnnouncement(ctx, msg.announcement)
	case sweepTick:
		state.sweep(ctx)
		state.cancelTick = state.scheduler.RequestOnce(state.config.ScanInterval(), ctx.Self(), sweepTick{})
	case browseStopped:
		if msg.err != nil {
			// let the parent restart the browser
			state.logger.Error("discovery@browsing browser failed", zap.Error(msg.err))
			panic(msg.err)
		}
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_DISCOVERY,
			Healthy: true,
			State:   fmt.Sprintf("%d known", len(state.known)),
		})
	case *actor.Stopping:
		state.stop()
	case *actor.Restarting:
		state.stop()
	default:
		state.logger.Debug("discovery@browsing default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *DiscoveryActor) startBrowse(ctx actor.Context) {
	browseCtx, cancel := context.WithCancel(context.Background())
	state.stopBrowse = cancel

	root := ctx.ActorSystem().Root
	self := ctx.Self()
	browser := state.browser
	announcements := make(chan port.Announcement, 16)

	go func() {
		for a := range announcements {
			root.Send(self, announcementReceived{announcement: a})
		}
	}()
	go func() {
		err := browser.Browse(browseCtx, announcements)
		close(announcements)
		if browseCtx.Err() != nil {
			return
		}
		root.Send(self, browseStopped{err: err})
	}()
}

func (state *DiscoveryActor) onAnnouncement(ctx actor.Context, a port.Announcement) {
	deviceType, err := domain.ParseDeviceType(a.ProductModel)
	if err != nil && a.ProductName != "" {
		deviceType, err = domain.ParseDeviceType(a.ProductName)
	}
	if err == nil {
		err = domain.ValidateAddress(a.Address)
	}
	if err != nil {
		state.logger.Debug("discovery@browsing invalid announcement", zap.String("instance", a.Instance), zap.Error(err))
		metrics.IncAnnouncement(metrics.ANNOUNCEMENT_RESULT_INVALID)
		return
	}

	now := a.SeenAt
	if now.IsZero() {
		now = state.now()
	}
	id := domain.DeviceId(deviceType, a.Serial, a.Address)
	known, ok := state.known[id]
	if !ok {
		state.logger.Info("discovery@browsing new device", zap.String("device", id), zap.String("address", a.Address))
		state.known[id] = &knownDevice{address: a.Address, lastSeen: now, lastForwarded: now}
		metrics.IncAnnouncement(metrics.ANNOUNCEMENT_RESULT_NEW)
		state.forward(ctx, id, deviceType, a)
		return
	}

	known.lastSeen = now
	if now.Sub(known.lastForwarded) < state.config.DedupWindow() || known.address == a.Address {
		metrics.IncAnnouncement(metrics.ANNOUNCEMENT_RESULT_DUPLICATE)
		return
	}
	state.logger.Info("discovery@browsing device moved", zap.String("device", id), zap.String("from", known.address),
		zap.String("to", a.Address))
	known.address = a.Address
	known.lastForwarded = now
	metrics.IncAnnouncement(metrics.ANNOUNCEMENT_RESULT_UPDATED)
	state.forward(ctx, id, deviceType, a)
}

func (state *DiscoveryActor) forward(ctx actor.Context, id string, deviceType domain.DeviceType, a port.Announcement) {
	ctx.Send(state.supervisor, domain.DeviceDiscovered{
		DeviceId:        id,
		Type:            deviceType,
		Address:         a.Address,
		ProtocolVersion: a.ProtocolVersion,
		Name:            a.ProductName,
		Serial:          a.Serial,
	})
}

func (state *DiscoveryActor) sweep(ctx actor.Context) {
	now := state.now()
	for id, known := range state.known {
		if now.Sub(known.lastSeen) > state.config.GracePeriod() {
			state.logger.Info("discovery@browsing device lost", zap.String("device", id))
			delete(state.known, id)
			ctx.Send(state.supervisor, domain.DeviceLost{DeviceId: id})
		}
	}
}

func (state *DiscoveryActor) stop() {
	if state.stopBrowse != nil {
		state.stopBrowse()
		state.stopBrowse = nil
	}
	if state.cancelTick != nil {
		state.cancelTick()
		state.cancelTick = nil
	}
}
