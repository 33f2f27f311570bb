package actor

import (
	"fmt"
	"log"
	"sort"
	"sync/atomic"
	"time"

	"github.com/berfenger/ecopilot2mqtt/internal/config"
	"github.com/berfenger/ecopilot2mqtt/internal/core/capability"
	"github.com/berfenger/ecopilot2mqtt/internal/core/domain"
	"github.com/berfenger/ecopilot2mqtt/internal/core/port"
	"github.com/berfenger/ecopilot2mqtt/internal/core/service"
	"github.com/berfenger/ecopilot2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"go.uber.org/zap"
)

// SupervisorActor owns the device registry and one session actor per registered device.
type SupervisorActor struct {
	config      *config.Config
	settings    SessionSettings
	table       *capability.Table
	dialer      port.Dialer
	eventStream *eventstream.EventStream
	behavior    actor.Behavior

	devices  map[string]*deviceEntry
	removing map[string]string // session pid id => device id

	logger *zap.Logger
}

type deviceEntry struct {
	device   domain.EcoPilotDevice
	session  *actor.PID
	identity *atomic.Pointer[domain.EcoPilotDevice]
	producer actor.Producer
}

func NewSupervisorActor(config *config.Config, table *capability.Table, dialer port.Dialer,
	eventStream *eventstream.EventStream, logger *zap.Logger) *SupervisorActor {
	act := &SupervisorActor{
		config:      config,
		settings:    SessionSettingsFromConfig(config.Connection),
		table:       table,
		dialer:      dialer,
		eventStream: eventStream,
		behavior:    actor.NewBehavior(),
		devices:     map[string]*deviceEntry{},
		removing:    map[string]string{},
		logger:      actorutil.ActorLogger(domain.ACTOR_ID_SUPERVISOR, logger),
	}
	act.behavior.Become(act.DefaultReceive)
	return act
}

// SupervisorProps spawns sessions with a restart strategy: a failing session is restarted and
// reconnects from scratch.
func SupervisorProps(producer func() *SupervisorActor) *actor.Props {
	decider := func(reason interface{}) actor.Directive {
		log.Printf("handling failure for session. reason: %v", reason)
		return actor.RestartDirective
	}
	return actor.PropsFromProducer(func() actor.Actor {
		return producer()
	}, actor.WithSupervisor(actor.NewOneForOneStrategy(10, 10*time.Second, decider)))
}

func (state *SupervisorActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *SupervisorActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("supervisor@default started")
		for _, d := range state.config.Devices {
			id, err := state.register(ctx, d.Address, d.Type, d.Name)
			if err != nil {
				state.logger.Error("supervisor@default invalid static device", zap.String("address", d.Address), zap.Error(err))
				continue
			}
			state.logger.Info("supervisor@default static device registered", zap.String("device", id))
		}
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_SUPERVISOR,
			Healthy: true,
			State:   fmt.Sprintf("%d devices", len(state.devices)),
		})
	case domain.RegisterDeviceRequest:
		state.logger.Debug("supervisor@default RegisterDeviceRequest", zap.String("address", msg.Address), zap.String("type", msg.Type))
		id, err := state.register(ctx, msg.Address, msg.Type, msg.Name)
		actorutil.ForRequest(msg).Respond(ctx, domain.RegisterDeviceResponse{
			ActorResponseMixIn: domain.ErrorResponse(err),
			DeviceId:           id,
		})
	case domain.UnregisterDeviceRequest:
		state.logger.Debug("supervisor@default UnregisterDeviceRequest", zap.String("device", msg.DeviceId))
		err := state.remove(ctx, msg.DeviceId)
		actorutil.ForRequest(msg).Respond(ctx, domain.UnregisterDeviceResponse{
			ActorResponseMixIn: domain.ErrorResponse(err),
		})
	case domain.SendIdentifyRequest:
		entry, ok := state.devices[msg.DeviceId]
		if !ok {
			actorutil.ForRequest(msg).Respond(ctx, domain.SendIdentifyResponse{
				ActorResponseMixIn: domain.ErrorResponse(fmt.Errorf("%w: %s", domain.ErrDeviceNotFound, msg.DeviceId)),
			})
			return
		}
		ctx.Forward(entry.session)
	case domain.SetSwitchRequest:
		entry, ok := state.devices[msg.DeviceId]
		if !ok {
			actorutil.ForRequest(msg).Respond(ctx, domain.SetSwitchResponse{
				ActorResponseMixIn: domain.ErrorResponse(fmt.Errorf("%w: %s", domain.ErrDeviceNotFound, msg.DeviceId)),
			})
			return
		}
		if !state.hasSwitch(entry.device, msg.Switch) {
			actorutil.ForRequest(msg).Respond(ctx, domain.SetSwitchResponse{
				ActorResponseMixIn: domain.ErrorResponse(fmt.Errorf("%w: %s on %s", domain.ErrUnknownSwitch, msg.Switch, msg.DeviceId)),
			})
			return
		}
		ctx.Forward(entry.session)
	case domain.GetDevicesRequest:
		actorutil.ForRequest(msg).Respond(ctx, domain.GetDevicesResponse{
			Devices: state.snapshot(),
		})
	case domain.DeviceDiscovered:
		state.onDiscovered(ctx, msg)
	case domain.DeviceLost:
		entry, ok := state.devices[msg.DeviceId]
		if !ok || entry.device.Source != domain.DEVICE_SOURCE_DISCOVERY {
			return
		}
		state.logger.Info("supervisor@default device lost", zap.String("device", msg.DeviceId))
		state.remove(ctx, msg.DeviceId)
	case sessionStateChanged:
		if entry, ok := state.devices[msg.DeviceId]; ok {
			entry.device.State = msg.State
		}
	case *actor.Terminated:
		if id, ok := state.removing[msg.Who.Id]; ok {
			delete(state.removing, msg.Who.Id)
			state.logger.Info("supervisor@default device removed", zap.String("device", id))
			state.eventStream.Publish(domain.DeviceRemoved{DeviceId: id})
		}
	case *actor.Stopping:
		state.logger.Debug("supervisor@default stopping")
	default:
		state.logger.Debug("supervisor@default default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *SupervisorActor) register(ctx actor.Context, address, typ, name string) (string, error) {
	deviceType, err := domain.ParseDeviceType(typ)
	if err != nil {
		return "", err
	}
	if err := domain.ValidateAddress(address); err != nil {
		return "", err
	}
	if entry := state.findByAddress(deviceType, address); entry != nil {
		return entry.device.Id, nil
	}
	device := domain.EcoPilotDevice{
		Id:              domain.DeviceId(deviceType, "", address),
		Type:            deviceType,
		Address:         address,
		ProtocolVersion: state.config.ProtocolVersion(string(deviceType)),
		Name:            name,
		State:           domain.DeviceStateDiscovered,
		Source:          domain.DEVICE_SOURCE_MANUAL,
	}
	if err := state.add(ctx, device); err != nil {
		return "", err
	}
	return device.Id, nil
}

func (state *SupervisorActor) onDiscovered(ctx actor.Context, msg domain.DeviceDiscovered) {
	version := state.config.ProtocolVersion(string(msg.Type))
	if version == "" {
		version = msg.ProtocolVersion
	}
	if entry, ok := state.devices[msg.DeviceId]; ok {
		if entry.device.Address == msg.Address && entry.device.ProtocolVersion == version {
			return
		}
		state.logger.Info("supervisor@default device changed", zap.String("device", msg.DeviceId), zap.String("address", msg.Address))
		entry.device.Address = msg.Address
		entry.device.ProtocolVersion = version
		updated := entry.device
		entry.identity.Store(&updated)
		ctx.Send(entry.session, UpdateSessionRequest{Device: entry.device})
		return
	}
	if entry := state.findByAddress(msg.Type, msg.Address); entry != nil {
		// already registered by hand, the manual id is kept
		if entry.device.Serial == "" {
			entry.device.Serial = msg.Serial
		}
		return
	}
	device := domain.EcoPilotDevice{
		Id:              msg.DeviceId,
		Type:            msg.Type,
		Address:         msg.Address,
		ProtocolVersion: version,
		Name:            msg.Name,
		Serial:          msg.Serial,
		State:           domain.DeviceStateDiscovered,
		Source:          domain.DEVICE_SOURCE_DISCOVERY,
	}
	if err := state.add(ctx, device); err != nil {
		state.logger.Error("supervisor@default could not start session", zap.String("device", device.Id), zap.Error(err))
	}
}

func (state *SupervisorActor) add(ctx actor.Context, device domain.EcoPilotDevice) error {
	if _, ok := state.devices[device.Id]; ok {
		return fmt.Errorf("device %s already registered", device.Id)
	}
	identity := &atomic.Pointer[domain.EcoPilotDevice]{}
	identity.Store(&device)
	producer := state.sessionProducer(identity)
	pid := ctx.SpawnPrefix(actor.PropsFromProducer(producer), fmt.Sprintf("%s_%s", domain.ACTOR_ID_SESSION, device.Id))
	state.devices[device.Id] = &deviceEntry{device: device, session: pid, identity: identity, producer: producer}
	state.logger.Info("supervisor@default device added", zap.String("device", device.Id), zap.String("address", device.Address),
		zap.String("source", string(device.Source)))
	state.eventStream.Publish(domain.DeviceDiscovered{
		DeviceId:        device.Id,
		Type:            device.Type,
		Address:         device.Address,
		ProtocolVersion: device.ProtocolVersion,
		Name:            device.Name,
		Serial:          device.Serial,
	})
	return nil
}

func (state *SupervisorActor) hasSwitch(device domain.EcoPilotDevice, key string) bool {
	descriptor, err := state.table.Lookup(device.Type, device.ProtocolVersion)
	if err != nil {
		return false
	}
	_, ok := descriptor.Switch(key)
	return ok
}

// sessionProducer builds session actors from the latest identity of the device, so a restarted
// session dials the current address.
func (state *SupervisorActor) sessionProducer(identity *atomic.Pointer[domain.EcoPilotDevice]) actor.Producer {
	settings := state.settings
	dialer := state.dialer
	table := state.table
	eventStream := state.eventStream
	logger := state.logger
	return func() actor.Actor {
		return NewDeviceSessionActor(*identity.Load(), settings, dialer, service.NewNormalizer(table, logger), eventStream, logger)
	}
}

func (state *SupervisorActor) remove(ctx actor.Context, deviceId string) error {
	entry, ok := state.devices[deviceId]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrDeviceNotFound, deviceId)
	}
	delete(state.devices, deviceId)
	state.removing[entry.session.Id] = deviceId
	ctx.Stop(entry.session)
	return nil
}

func (state *SupervisorActor) findByAddress(deviceType domain.DeviceType, address string) *deviceEntry {
	for _, entry := range state.devices {
		if entry.device.Type == deviceType && entry.device.Address == address {
			return entry
		}
	}
	return nil
}

func (state *SupervisorActor) snapshot() []domain.EcoPilotDevice {
	devices := make([]domain.EcoPilotDevice, 0, len(state.devices))
	for _, entry := range state.devices {
		devices = append(devices, entry.device)
	}
	sort.Slice(devices, func(i, j int) bool {
		return devices[i].Id < devices[j].Id
	})
	return devices
}
