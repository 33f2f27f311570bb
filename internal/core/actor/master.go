package actor

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	adactor "github.com/berfenger/ecopilot2mqtt/internal/adapter/actor"
	"github.com/berfenger/ecopilot2mqtt/internal/config"
	"github.com/berfenger/ecopilot2mqtt/internal/core/capability"
	"github.com/berfenger/ecopilot2mqtt/internal/core/domain"
	"github.com/berfenger/ecopilot2mqtt/internal/core/port"
	. "github.com/berfenger/ecopilot2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"go.uber.org/zap"
)

type MQTTActorProvider func() *adactor.MQTTActor

// MasterOfPuppetsActor spawns the engine actors and routes external requests to them.
type MasterOfPuppetsActor struct {
	config   *config.Config
	behavior actor.Behavior
	stash    *Stash

	currentHealthCheck healthCheckResult
	eventStream        *eventstream.EventStream
	table              *capability.Table
	dialer             port.Dialer
	browser            port.Browser
	supervisorActor    *actor.PID
	discoveryActor     *actor.PID
	mqttActor          *actor.PID
	haDiscoveryActor   *actor.PID
	mqttActorProvider  MQTTActorProvider
	logger             *zap.Logger
}

type healthCheckResult struct {
	expected  []string
	healthy   map[string]bool
	received  int
	respondTo *actor.PID
}

// NewMasterOfPuppetsActor builds the root actor. MQTT actors are only spawned when mqttActorProvider is
// set, discovery only when browser is set.
func NewMasterOfPuppetsActor(config *config.Config, table *capability.Table, dialer port.Dialer, browser port.Browser,
	eventStream *eventstream.EventStream, mqttActorProvider MQTTActorProvider, logger *zap.Logger) *MasterOfPuppetsActor {
	act := &MasterOfPuppetsActor{
		config:            config,
		behavior:          actor.NewBehavior(),
		stash:             &Stash{},
		logger:            ActorLogger(domain.ACTOR_ID_MASTER, logger),
		eventStream:       eventStream,
		table:             table,
		dialer:            dialer,
		browser:           browser,
		mqttActorProvider: mqttActorProvider,
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *MasterOfPuppetsActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *MasterOfPuppetsActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("master@starting started")

		var err error
		// MQTT first, so the bridge sees the first sessions going online
		if state.mqttActorProvider != nil {
			if state.mqttActor, err = state.startMQTTActor(ctx); err != nil {
				panic(err)
			}
			if state.haDiscoveryActor, err = state.startHADiscoveryActor(ctx); err != nil {
				panic(err)
			}
		}

		if state.supervisorActor, err = state.startSupervisorActor(ctx); err != nil {
			panic(err)
		}

		if state.browser != nil {
			if state.discoveryActor, err = state.startDiscoveryActor(ctx); err != nil {
				panic(err)
			}
		}

		state.currentHealthCheck = healthCheckResult{expected: state.children()}
		state.currentHealthCheck.reset()

		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	default:
		state.logger.Debug("master@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterOfPuppetsActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("master@default ActorHealthRequest")
		state.currentHealthCheck.reset()
		state.currentHealthCheck.respondTo = ctx.Sender()
		for _, id := range state.currentHealthCheck.expected {
			id := id
			PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.child(id), domain.ActorHealthRequest{}, 500*time.Millisecond), func(err error) any {
				return domain.ActorHealthResponse{
					Id:      id,
					Healthy: false,
				}
			})
		}

		ctx.SetReceiveTimeout(1 * time.Second)

		state.behavior.BecomeStacked(state.HealthCheckReceive)
	case adactor.ParsedCommand:
		// redirect parsedCommand to the supervisor
		state.logger.Debug("master@default parsedCommand", zap.Any("command", msg.Command))
		if msg.Command != nil {
			cmd, err := ParsedMQTTCommandToCommand(*msg.Command)
			if err != nil {
				state.logger.Warn("master@default invalid command", zap.Error(err))
				return
			}
			ctx.Request(state.supervisorActor, cmd)
		}
	case domain.SendIdentifyResponse:
		if msg.HasResponseError() {
			state.logger.Warn("master@default identify failed", zap.Error(msg.GetResponseError()))
		}
	case domain.SetSwitchResponse:
		if msg.HasResponseError() {
			state.logger.Warn("master@default switch failed", zap.Error(msg.GetResponseError()))
		}
	case domain.RegisterDeviceRequest, domain.UnregisterDeviceRequest, domain.SendIdentifyRequest, domain.SetSwitchRequest,
		domain.GetDevicesRequest:
		ctx.Forward(state.supervisorActor)
	case *actor.Terminated:
		// the registry cannot be rebuilt from here
		if state.supervisorActor != nil && msg.Who.Id == state.supervisorActor.Id {
			state.logger.Error("master@default supervisor terminated")
			panic(errors.New("supervisor terminated"))
		}
	default:
		state.logger.Debug("master@default unhandled", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *MasterOfPuppetsActor) HealthCheckReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.ReceiveTimeout:
		// if some actor does not respond to healthCheck, assume not healthy
		ctx.CancelReceiveTimeout()
		state.currentHealthCheck.respond(ctx)
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	case domain.ActorHealthResponse:
		state.logger.Debug("master@healthcheck ActorHealthResponse", zap.String("sender", msg.Id), zap.Bool("healthy", msg.Healthy))
		state.currentHealthCheck.received++
		if msg.Healthy {
			state.currentHealthCheck.healthy[msg.Id] = true
		}
		if state.currentHealthCheck.allReceived() {
			ctx.CancelReceiveTimeout()
			state.currentHealthCheck.respond(ctx)

			state.behavior.UnbecomeStacked()
			state.stash.UnstashAll(ctx)
		} else {
			ctx.SetReceiveTimeout(1 * time.Second)
		}
	default:
		state.logger.Debug("master@healthcheck stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterOfPuppetsActor) children() []string {
	ids := []string{domain.ACTOR_ID_SUPERVISOR}
	if state.mqttActor != nil {
		ids = append(ids, domain.ACTOR_ID_MQTT, domain.ACTOR_ID_HA_DISCOVERY)
	}
	if state.discoveryActor != nil {
		ids = append(ids, domain.ACTOR_ID_DISCOVERY)
	}
	return ids
}

func (state *MasterOfPuppetsActor) child(id string) *actor.PID {
	switch id {
	case domain.ACTOR_ID_MQTT:
		return state.mqttActor
	case domain.ACTOR_ID_HA_DISCOVERY:
		return state.haDiscoveryActor
	case domain.ACTOR_ID_DISCOVERY:
		return state.discoveryActor
	default:
		return state.supervisorActor
	}
}

func (state *MasterOfPuppetsActor) startSupervisorActor(ctx actor.Context) (*actor.PID, error) {
	props := SupervisorProps(func() *SupervisorActor {
		return NewSupervisorActor(state.config, state.table, state.dialer, state.eventStream, state.logger)
	})
	return ctx.SpawnNamed(props, domain.ACTOR_ID_SUPERVISOR)
}

func (state *MasterOfPuppetsActor) startDiscoveryActor(ctx actor.Context) (*actor.PID, error) {

	supervisor := actor.NewExponentialBackoffStrategy(10*time.Second, 1*time.Second)

	supervisorActor := state.supervisorActor
	props := actor.PropsFromProducer(func() actor.Actor {
		return NewDiscoveryActor(state.config.Discovery, state.browser, supervisorActor, state.logger)
	}, actor.WithSupervisor(supervisor))
	return ctx.SpawnNamed(props, domain.ACTOR_ID_DISCOVERY)
}

func (state *MasterOfPuppetsActor) startHADiscoveryActor(ctx actor.Context) (*actor.PID, error) {

	decider := func(reason interface{}) actor.Directive {
		log.Printf("handling failure for child. reason: %v", reason)
		return actor.RestartDirective
	}
	supervisor := actor.NewOneForOneStrategy(10, 10*time.Second, decider)

	mqttActor := state.mqttActor
	haDiscProps := actor.PropsFromProducer(func() actor.Actor {
		return NewHADiscoveryActor(state.config, state.table, state.eventStream, mqttActor, state.logger)
	}, actor.WithSupervisor(supervisor))
	return ctx.SpawnNamed(haDiscProps, domain.ACTOR_ID_HA_DISCOVERY)
}

func (state *MasterOfPuppetsActor) startMQTTActor(ctx actor.Context) (*actor.PID, error) {

	supervisor := actor.NewExponentialBackoffStrategy(10*time.Second, 1*time.Second)

	mqttProps := actor.PropsFromProducer(func() actor.Actor {
		return state.mqttActorProvider()
	}, actor.WithSupervisor(supervisor))
	return ctx.SpawnNamed(mqttProps, domain.ACTOR_ID_MQTT)
}

func (state *healthCheckResult) reset() {
	state.healthy = map[string]bool{}
	state.received = 0
}

func (state *healthCheckResult) allReceived() bool {
	return state.received >= len(state.expected)
}

func (state *healthCheckResult) unhealthy() []string {
	var ids []string
	for _, id := range state.expected {
		if !state.healthy[id] {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (state *healthCheckResult) respond(ctx actor.Context) {
	unhealthy := state.unhealthy()
	resp := domain.ActorHealthResponse{
		Id:      domain.ACTOR_ID_MASTER,
		Healthy: len(unhealthy) == 0,
		State:   "ok",
	}
	if len(unhealthy) > 0 {
		resp.State = "unhealthy: " + strings.Join(unhealthy, ",")
	}
	if state.respondTo != nil {
		ctx.Send(state.respondTo, resp)
	}
}
