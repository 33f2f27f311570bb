package engine

import (
	"context"
	"net"
	"time"

	"github.com/berfenger/ecopilot2mqtt/internal/config"
	coreactor "github.com/berfenger/ecopilot2mqtt/internal/core/actor"
	"github.com/berfenger/ecopilot2mqtt/internal/core/capability"
	"github.com/berfenger/ecopilot2mqtt/internal/core/domain"
	"github.com/berfenger/ecopilot2mqtt/internal/core/port"
	"github.com/berfenger/ecopilot2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"go.uber.org/zap"
)

const DefaultRequestTimeout = 10 * time.Second

// Engine is the host interface of the ingestion engine. Every call goes through the master actor.
type Engine struct {
	system      *actor.ActorSystem
	master      *actor.PID
	eventStream *eventstream.EventStream
	timeout     time.Duration
	logger      *zap.Logger
}

type Options struct {
	Config            *config.Config
	Table             *capability.Table
	Dialer            port.Dialer
	Browser           port.Browser
	MQTTActorProvider coreactor.MQTTActorProvider
	Logger            *zap.Logger
}

// Subscription detaches a subscriber from the engine events.
type Subscription struct {
	eventStream *eventstream.EventStream
	sub         *eventstream.Subscription
}

func (s *Subscription) Unsubscribe() {
	s.eventStream.Unsubscribe(s.sub)
}

// Start spawns the actor system and the master actor.
func Start(opts Options) (*Engine, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	table := opts.Table
	if table == nil {
		table = capability.DefaultTable()
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = &net.Dialer{}
	}

	system := actorutil.NewActorSystemWithZapLogger(logger)
	es := &eventstream.EventStream{}

	props := actor.PropsFromProducer(func() actor.Actor {
		return coreactor.NewMasterOfPuppetsActor(opts.Config, table, dialer, opts.Browser, es, opts.MQTTActorProvider, logger)
	})
	pid, err := system.Root.SpawnNamed(props, domain.ACTOR_ID_MASTER)
	if err != nil {
		system.Shutdown()
		return nil, err
	}

	return &Engine{
		system:      system,
		master:      pid,
		eventStream: es,
		timeout:     DefaultRequestTimeout,
		logger:      logger,
	}, nil
}

func (e *Engine) RegisterDevice(ctx context.Context, address, deviceType string) (string, error) {
	res, err := request[domain.RegisterDeviceResponse](ctx, e, domain.RegisterDeviceRequest{
		Address: address,
		Type:    deviceType,
	})
	if err != nil {
		return "", err
	}
	return res.DeviceId, res.GetResponseError()
}

func (e *Engine) UnregisterDevice(ctx context.Context, deviceId string) error {
	res, err := request[domain.UnregisterDeviceResponse](ctx, e, domain.UnregisterDeviceRequest{
		DeviceId: deviceId,
	})
	if err != nil {
		return err
	}
	return res.GetResponseError()
}

// SendIdentify writes the identify command of the device. The session is not affected by a failure.
func (e *Engine) SendIdentify(ctx context.Context, deviceId string) error {
	res, err := request[domain.SendIdentifyResponse](ctx, e, domain.SendIdentifyRequest{
		DeviceId: deviceId,
	})
	if err != nil {
		return err
	}
	return res.GetResponseError()
}

// SetSwitch writes a switch command. Unknown switches are rejected before reaching the device.
func (e *Engine) SetSwitch(ctx context.Context, deviceId, key string, on bool) error {
	res, err := request[domain.SetSwitchResponse](ctx, e, domain.SetSwitchRequest{
		DeviceId: deviceId,
		Switch:   key,
		On:       on,
	})
	if err != nil {
		return err
	}
	return res.GetResponseError()
}

func (e *Engine) Devices(ctx context.Context) ([]domain.EcoPilotDevice, error) {
	res, err := request[domain.GetDevicesResponse](ctx, e, domain.GetDevicesRequest{})
	if err != nil {
		return nil, err
	}
	return res.Devices, res.GetResponseError()
}

func (e *Engine) Health(ctx context.Context) (domain.ActorHealthResponse, error) {
	return request[domain.ActorHealthResponse](ctx, e, domain.ActorHealthRequest{})
}

// Subscribe delivers host events (DeviceDiscovered, DeviceOnline, DeviceOffline, DeviceRemoved and
// ReadingUpdated) to fn, in publication order. fn runs on the publishing goroutine and must not block.
func (e *Engine) Subscribe(fn func(evt any)) *Subscription {
	sub := e.eventStream.SubscribeWithPredicate(fn, IsHostEvent)
	return &Subscription{eventStream: e.eventStream, sub: sub}
}

func IsHostEvent(evt any) bool {
	switch evt.(type) {
	case domain.DeviceDiscovered, domain.DeviceOnline, domain.DeviceOffline, domain.DeviceRemoved, domain.ReadingUpdated:
		return true
	}
	return false
}

func (e *Engine) Shutdown() {
	if err := e.system.Root.StopFuture(e.master).Wait(); err != nil {
		e.logger.Warn("engine stop failed", zap.Error(err))
	}
	e.system.Shutdown()
}

func request[T any](ctx context.Context, e *Engine, msg any) (T, error) {
	var zero T
	timeout := e.timeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	if timeout <= 0 {
		return zero, context.DeadlineExceeded
	}
	res, err := e.system.Root.RequestFuture(e.master, msg, timeout).Result()
	if err != nil {
		return zero, err
	}
	typed, ok := res.(T)
	if !ok {
		return zero, &UnexpectedResponseError{Response: res}
	}
	return typed, nil
}
