package actor

import (
	"errors"
	"fmt"
	"time"

	"github.com/berfenger/ecopilot2mqtt/internal/config"
	"github.com/berfenger/ecopilot2mqtt/internal/core/capability"
	"github.com/berfenger/ecopilot2mqtt/internal/core/domain"
	"github.com/berfenger/ecopilot2mqtt/internal/core/events"
	"github.com/berfenger/ecopilot2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"go.uber.org/zap"
)

// HADiscoveryActor mirrors device lifecycle and readings into MQTT: availability, sensor states
// and Home Assistant discovery configs.
type HADiscoveryActor struct {
	config       *config.Config
	table        *capability.Table
	eventStream  *eventstream.EventStream
	subscription *eventstream.Subscription
	mqttActor    *actor.PID
	behavior     actor.Behavior
	stash        *actorutil.Stash
	bridge       domain.Device
	devices      map[string]*haDevice

	logger *zap.Logger
}

type haDevice struct {
	device      domain.Device
	sensors     []domain.GenericSensor
	buttons     []domain.GenericButton
	switches    []domain.GenericSwitch
	passthrough map[string]bool
}

func NewHADiscoveryActor(config *config.Config, table *capability.Table, eventStream *eventstream.EventStream,
	mqttActor *actor.PID, logger *zap.Logger) *HADiscoveryActor {
	act := &HADiscoveryActor{
		config:      config,
		table:       table,
		eventStream: eventStream,
		mqttActor:   mqttActor,
		behavior:    actor.NewBehavior(),
		stash:       &actorutil.Stash{},
		bridge:      events.BridgeDevice(config.MQTT.BaseTopic),
		devices:     map[string]*haDevice{},
		logger:      actorutil.ActorLogger(domain.ACTOR_ID_HA_DISCOVERY, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *HADiscoveryActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *HADiscoveryActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("hadiscovery@starting started")
		// events published while MQTT connects are stashed
		state.subscribe(ctx)
		actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.mqttActor, domain.ActorHealthRequest{}, 15*time.Second), func(err error) any {
			return domain.ActorHealthResponse{
				Id:      domain.ACTOR_ID_MQTT,
				Healthy: false,
			}
		})
	case domain.ActorHealthResponse:
		state.logger.Debug("hadiscovery@starting ActorHealthResponse", zap.String("sender", msg.Id), zap.Bool("healthy", msg.Healthy))
		if !msg.Healthy {
			panic(errors.New("MQTT actor is not healthy"))
		}
		if state.config.MQTT.HADiscoveryEnable {
			ctx.Send(state.mqttActor, domain.PublishDiscoveryRequest{
				Sensors: events.BridgeSensors(state.bridge),
			})
		}
		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_HA_DISCOVERY,
			Healthy: true,
			State:   "starting",
		})
	case *actor.Stopping:
		state.unsubscribe()
	case *actor.Restarting:
		state.unsubscribe()
	default:
		state.logger.Debug("hadiscovery@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *HADiscoveryActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.DeviceOnline:
		entry := state.announce(ctx, msg.Device)
		state.logger.Debug("hadiscovery@default device online", zap.String("device", msg.DeviceId), zap.Int("sensors", len(entry.sensors)))
		state.publishState(ctx, events.DeviceAvailabilityEvent(msg.DeviceId, true))
	case domain.DeviceOffline:
		state.publishState(ctx, events.DeviceAvailabilityEvent(msg.DeviceId, false))
	case domain.DeviceRemoved:
		state.publishState(ctx, events.DeviceAvailabilityEvent(msg.DeviceId, false))
		entry, ok := state.devices[msg.DeviceId]
		if !ok {
			return
		}
		delete(state.devices, msg.DeviceId)
		if state.config.MQTT.HADiscoveryEnable {
			state.logger.Debug("hadiscovery@default remove discovery", zap.String("device", msg.DeviceId))
			ctx.Send(state.mqttActor, domain.RemoveDiscoveryRequest{
				Sensors:  entry.sensors,
				Buttons:  entry.buttons,
				Switches: entry.switches,
			})
		}
	case domain.ReadingUpdated:
		state.onReading(ctx, msg.Reading)
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_HA_DISCOVERY,
			Healthy: true,
			State:   fmt.Sprintf("%d devices", len(state.devices)),
		})
	case *actor.Stopping:
		state.unsubscribe()
	case *actor.Restarting:
		state.unsubscribe()
	default:
		state.logger.Debug("hadiscovery@default default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *HADiscoveryActor) subscribe(ctx actor.Context) {
	root := ctx.ActorSystem().Root
	self := ctx.Self()
	state.subscription = state.eventStream.Subscribe(func(evt any) {
		switch evt.(type) {
		case domain.DeviceOnline, domain.DeviceOffline, domain.DeviceRemoved, domain.ReadingUpdated:
			root.Send(self, evt)
		}
	})
}

func (state *HADiscoveryActor) unsubscribe() {
	if state.subscription != nil {
		state.eventStream.Unsubscribe(state.subscription)
		state.subscription = nil
	}
}

// announce publishes the discovery configs of a device. Configs are retained, so publishing them
// again on every reconnect is harmless.
func (state *HADiscoveryActor) announce(ctx actor.Context, device domain.EcoPilotDevice) *haDevice {
	haDev := events.HADevice(device, state.bridge)
	entry := &haDevice{
		device:      haDev,
		buttons:     []domain.GenericButton{events.IdentifyButton(haDev, device.Id)},
		passthrough: map[string]bool{},
	}
	if previous, ok := state.devices[device.Id]; ok {
		entry.passthrough = previous.passthrough
		for _, sensor := range previous.sensors {
			if entry.passthrough[sensor.Id] {
				entry.sensors = append(entry.sensors, sensor)
			}
		}
	}
	descriptor, err := state.table.Lookup(device.Type, device.ProtocolVersion)
	if err != nil {
		state.logger.Warn("hadiscovery@default no capabilities, fields are published raw", zap.String("device", device.Id), zap.Error(err))
	} else {
		entry.sensors = append(events.DeviceSensors(haDev, device.Id, descriptor), entry.sensors...)
		entry.switches = events.DeviceSwitches(haDev, device.Id, descriptor)
	}
	state.devices[device.Id] = entry

	if state.config.MQTT.HADiscoveryEnable {
		ctx.Send(state.mqttActor, domain.PublishDiscoveryRequest{
			Sensors:  entry.sensors,
			Buttons:  entry.buttons,
			Switches: entry.switches,
		})
	}
	return entry
}

func (state *HADiscoveryActor) onReading(ctx actor.Context, reading domain.Reading) {
	if entry, ok := state.devices[reading.DeviceId]; ok && reading.Kind == domain.METRIC_KIND_UNKNOWN {
		sensor := events.PassthroughSensor(entry.device, reading)
		if !entry.passthrough[sensor.Id] {
			entry.passthrough[sensor.Id] = true
			entry.sensors = append(entry.sensors, sensor)
			if state.config.MQTT.HADiscoveryEnable {
				ctx.Send(state.mqttActor, domain.PublishDiscoveryRequest{
					Sensors: []domain.GenericSensor{sensor},
				})
			}
		}
	}
	if evt, ok := events.ReadingToUpdateEvent(reading); ok {
		state.publishState(ctx, evt)
	}
}

func (state *HADiscoveryActor) publishState(ctx actor.Context, evt domain.SensorUpdateEvent) {
	ctx.Send(state.mqttActor, domain.PublishSensorUpdateRequest{
		Event: evt,
	})
}
