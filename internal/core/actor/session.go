package actor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/berfenger/ecopilot2mqtt/internal/config"
	"github.com/berfenger/ecopilot2mqtt/internal/core/domain"
	"github.com/berfenger/ecopilot2mqtt/internal/core/port"
	"github.com/berfenger/ecopilot2mqtt/internal/core/service"
	"github.com/berfenger/ecopilot2mqtt/internal/metrics"
	"github.com/berfenger/ecopilot2mqtt/internal/util/actorutil"
	"github.com/berfenger/ecopilot2mqtt/pkg/ecoproto"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/asynkron/protoactor-go/scheduler"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const readBufferSize = 4096

type SessionSettings struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	Backoff        service.BackoffConfig
}

func SessionSettingsFromConfig(cfg config.ConnectionConfig) SessionSettings {
	return SessionSettings{
		ConnectTimeout: cfg.ConnectTimeout(),
		ReadTimeout:    cfg.ReadTimeout(),
		WriteTimeout:   cfg.WriteTimeout(),
		Backoff: service.BackoffConfig{
			Min:        cfg.BackoffMin(),
			Max:        cfg.BackoffMax(),
			Multiplier: service.DEFAULT_BACKOFF_MULTIPLIER,
			Jitter:     cfg.BackoffJitter,
		},
	}
}

// DeviceSessionActor owns the network session of one device.
type DeviceSessionActor struct {
	device          domain.EcoPilotDevice
	settings        SessionSettings
	dialer          port.Dialer
	protocol        ecoproto.Protocol
	decoder         *ecoproto.StreamDecoder
	normalizer      *service.Normalizer
	backoff         *service.Backoff
	eventStream     *eventstream.EventStream
	behavior        actor.Behavior
	scheduler       *scheduler.TimerScheduler
	cancelReconnect scheduler.CancelFunc
	conn            net.Conn
	session         uuid.UUID
	sequence        uint32
	online          bool
	offlineReported bool

	logger *zap.Logger
}

// UpdateSessionRequest replaces the device identity of a running session. An address change
// reconnects immediately.
type UpdateSessionRequest struct {
	Device domain.EcoPilotDevice
}

// sessionStateChanged is reported to the parent supervisor.
type sessionStateChanged struct {
	DeviceId string
	State    domain.DeviceState
	Err      error
}

type connectResult struct {
	session uuid.UUID
	conn    net.Conn
	err     error
	elapsed time.Duration
}

type dataChunk struct {
	session uuid.UUID
	data    []byte
}

type readFailed struct {
	session uuid.UUID
	err     error
}

type reconnectTick struct {
}

// commandResult completes a command write. respond builds the reply for the requester.
type commandResult struct {
	replyTo *actor.PID
	respond func(error) domain.ActorResponse
	err     error
}

func NewDeviceSessionActor(device domain.EcoPilotDevice, settings SessionSettings, dialer port.Dialer,
	normalizer *service.Normalizer, eventStream *eventstream.EventStream, logger *zap.Logger) *DeviceSessionActor {
	protocol := device.Type.Protocol()
	logger = actorutil.ActorLogger(fmt.Sprintf("%s/%s", domain.ACTOR_ID_SESSION, device.Id), logger)
	act := &DeviceSessionActor{
		device:      device,
		settings:    settings,
		dialer:      dialer,
		protocol:    protocol,
		decoder:     ecoproto.NewStreamDecoder(protocol, logger, metrics.DecoderInstrument(string(device.Type))),
		normalizer:  normalizer,
		backoff:     service.NewBackoff(settings.Backoff),
		eventStream: eventStream,
		behavior:    actor.NewBehavior(),
		logger:      logger,
	}
	act.behavior.Become(act.ConnectingReceive)
	return act
}

func (state *DeviceSessionActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *DeviceSessionActor) ConnectingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("session@connecting started")
		state.scheduler = scheduler.NewTimerScheduler(ctx)
		state.connect(ctx)
	case connectResult:
		if msg.session != state.session {
			if msg.conn != nil {
				msg.conn.Close()
			}
			return
		}
		metrics.ObserveConnect(msg.err, msg.elapsed)
		if msg.err != nil {
			state.logger.Warn("session@connecting connect failed", zap.String("address", state.device.Address), zap.Error(msg.err))
			state.goOffline(ctx, domain.ClassifyConnectionError(msg.err))
			return
		}
		state.connected(ctx, msg.conn)
	case domain.SendIdentifyRequest:
		actorutil.ForRequest(msg).Respond(ctx, identifyResponse(domain.ErrNotConnected))
	case domain.SetSwitchRequest:
		actorutil.ForRequest(msg).Respond(ctx, setSwitchResponse(domain.ErrNotConnected))
	default:
		state.commonReceive(ctx, "connecting")
	}
}

func (state *DeviceSessionActor) ConnectedReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case dataChunk:
		if msg.session != state.session {
			return
		}
		state.decoder.Write(msg.data)
		for _, frame := range state.decoder.Drain() {
			state.publishReadings(state.normalizer.Normalize(state.device, frame))
		}
	case readFailed:
		if msg.session != state.session {
			return
		}
		state.logger.Warn("session@connected read failed", zap.Error(msg.err))
		state.goOffline(ctx, domain.ClassifyConnectionError(msg.err))
	case domain.SendIdentifyRequest:
		state.logger.Debug("session@connected SendIdentifyRequest")
		state.sendCommand(ctx, ecoproto.Command{Name: ecoproto.COMMAND_IDENTIFY},
			actorutil.ForRequest(msg).ReplyTo(ctx), identifyResponse)
	case domain.SetSwitchRequest:
		state.logger.Debug("session@connected SetSwitchRequest", zap.String("switch", msg.Switch), zap.Bool("on", msg.On))
		state.sendCommand(ctx, ecoproto.Command{Name: ecoproto.COMMAND_SWITCH, Target: msg.Switch, On: msg.On},
			actorutil.ForRequest(msg).ReplyTo(ctx), setSwitchResponse)
	default:
		state.commonReceive(ctx, "connected")
	}
}

func (state *DeviceSessionActor) OfflineReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case reconnectTick:
		state.logger.Debug("session@offline reconnect", zap.Int("attempt", state.backoff.Attempts()))
		state.cancelReconnect = nil
		state.behavior.Become(state.ConnectingReceive)
		state.connect(ctx)
	case domain.SendIdentifyRequest:
		actorutil.ForRequest(msg).Respond(ctx, identifyResponse(domain.ErrNotConnected))
	case domain.SetSwitchRequest:
		actorutil.ForRequest(msg).Respond(ctx, setSwitchResponse(domain.ErrNotConnected))
	case connectResult:
		if msg.conn != nil {
			msg.conn.Close()
		}
	default:
		state.commonReceive(ctx, "offline")
	}
}

func (state *DeviceSessionActor) commonReceive(ctx actor.Context, stateName string) {
	switch msg := ctx.Message().(type) {
	case UpdateSessionRequest:
		addressChanged := msg.Device.Address != state.device.Address
		state.device = msg.Device
		if addressChanged {
			state.logger.Info(fmt.Sprintf("session@%s address changed", stateName), zap.String("address", msg.Device.Address))
			state.teardown()
			state.backoff.Reset()
			state.behavior.Become(state.ConnectingReceive)
			state.connect(ctx)
		}
	case commandResult:
		if msg.err != nil {
			state.logger.Warn(fmt.Sprintf("session@%s command failed", stateName), zap.Error(msg.err))
		}
		if msg.replyTo != nil {
			ctx.Send(msg.replyTo, msg.respond(msg.err))
		}
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{
			Id:      state.device.Id,
			Healthy: true,
			State:   stateName,
		})
	case dataChunk, readFailed, reconnectTick:
		// stale message of a previous connection
	case *actor.Stopping:
		state.logger.Debug(fmt.Sprintf("session@%s stopping", stateName))
		state.teardown()
		state.normalizer.Forget(state.device.Id)
	case *actor.Restarting:
		state.teardown()
	case *actor.Stopped:
	default:
		state.logger.Debug(fmt.Sprintf("session@%s default recv", stateName), zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *DeviceSessionActor) connect(ctx actor.Context) {
	state.session = uuid.New()
	state.setState(ctx, domain.DeviceStateConnecting, nil)

	session := state.session
	address := state.device.Address
	timeout := state.settings.ConnectTimeout
	dialer := state.dialer
	start := time.Now()
	state.logger.Debug("session@connecting dial", zap.String("address", address), zap.String("session", session.String()))

	actorutil.NewBackgroundTaskNoError(ctx, func() *connectResult {
		dialCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		conn, err := dialer.DialContext(dialCtx, "tcp", address)
		return &connectResult{session: session, conn: conn, err: err, elapsed: time.Since(start)}
	}).WithTimeout(timeout + time.Second).Recover(func(err error) connectResult {
		return connectResult{session: session, err: err, elapsed: time.Since(start)}
	}).PipeTo(ctx.Self())
}

func (state *DeviceSessionActor) connected(ctx actor.Context, conn net.Conn) {
	state.logger.Info("session@connecting connected", zap.String("address", state.device.Address))
	state.conn = conn
	state.online = true
	state.offlineReported = false
	state.backoff.Reset()
	state.decoder.Reset()
	metrics.SessionConnected()

	state.setState(ctx, domain.DeviceStateConnected, nil)
	state.eventStream.Publish(domain.DeviceOnline{DeviceId: state.device.Id, Device: state.device})

	go readLoop(ctx.ActorSystem().Root, ctx.Self(), conn, state.session, state.settings.ReadTimeout)
	state.behavior.Become(state.ConnectedReceive)
}

func (state *DeviceSessionActor) goOffline(ctx actor.Context, err error) {
	state.closeConn()
	state.decoder.Reset()

	if !state.offlineReported {
		state.offlineReported = true
		state.eventStream.Publish(domain.DeviceOffline{DeviceId: state.device.Id, Reason: err})
	}
	state.setState(ctx, domain.DeviceStateOffline, err)

	delay := state.backoff.Next()
	metrics.IncReconnect(string(state.device.Type))
	state.logger.Info("session@offline reconnect scheduled", zap.Duration("delay", delay), zap.Error(err))
	state.cancelReconnect = state.scheduler.RequestOnce(delay, ctx.Self(), reconnectTick{})
	state.behavior.Become(state.OfflineReceive)
}

func (state *DeviceSessionActor) setState(ctx actor.Context, deviceState domain.DeviceState, err error) {
	state.device.State = deviceState
	if parent := ctx.Parent(); parent != nil {
		ctx.Send(parent, sessionStateChanged{DeviceId: state.device.Id, State: deviceState, Err: err})
	}
}

func (state *DeviceSessionActor) publishReadings(readings []domain.Reading) {
	for _, r := range readings {
		metrics.IncReading(r.Quality.String())
		state.eventStream.Publish(domain.ReadingUpdated{Reading: r})
	}
}

// sendCommand writes a command frame outside of the actor goroutine. A failed write is reported to
// the requester and leaves the session untouched.
func (state *DeviceSessionActor) sendCommand(ctx actor.Context, cmd ecoproto.Command, replyTo *actor.PID, respond func(error) domain.ActorResponse) {
	state.sequence++
	cmd.Sequence = state.sequence
	payload, err := state.protocol.Encode(cmd)
	if err != nil {
		ctx.Send(ctx.Self(), commandResult{replyTo: replyTo, respond: respond, err: err})
		return
	}
	conn := state.conn
	timeout := state.settings.WriteTimeout
	actorutil.NewBackgroundTaskNoError(ctx, func() *commandResult {
		if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return &commandResult{replyTo: replyTo, respond: respond, err: err}
		}
		_, err := conn.Write(payload)
		return &commandResult{replyTo: replyTo, respond: respond, err: err}
	}).WithTimeout(timeout + time.Second).Recover(func(err error) commandResult {
		return commandResult{replyTo: replyTo, respond: respond, err: err}
	}).PipeTo(ctx.Self())
}

func identifyResponse(err error) domain.ActorResponse {
	return domain.SendIdentifyResponse{ActorResponseMixIn: domain.ErrorResponse(err)}
}

func setSwitchResponse(err error) domain.ActorResponse {
	return domain.SetSwitchResponse{ActorResponseMixIn: domain.ErrorResponse(err)}
}

func (state *DeviceSessionActor) closeConn() {
	if state.online {
		state.online = false
		metrics.SessionDisconnected()
	}
	if state.conn != nil {
		state.conn.Close()
		state.conn = nil
	}
}

func (state *DeviceSessionActor) teardown() {
	if state.cancelReconnect != nil {
		state.cancelReconnect()
		state.cancelReconnect = nil
	}
	state.closeConn()
	state.decoder.Reset()
	// results of an in-flight dial are dropped
	state.session = uuid.Nil
}

// readLoop forwards bytes read from conn to the session actor until the connection fails. Every
// read is bounded by the idle timeout.
func readLoop(root *actor.RootContext, self *actor.PID, conn net.Conn, session uuid.UUID, idle time.Duration) {
	buf := make([]byte, readBufferSize)
	for {
		if err := conn.SetReadDeadline(time.Now().Add(idle)); err != nil {
			root.Send(self, readFailed{session: session, err: err})
			return
		}
		n, err := conn.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			root.Send(self, dataChunk{session: session, data: chunk})
		}
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				err = &domain.ConnectionError{Kind: domain.ConnectionReset, Err: err}
			}
			root.Send(self, readFailed{session: session, err: err})
			return
		}
	}
}
