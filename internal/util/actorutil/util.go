package actorutil

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/berfenger/ecopilot2mqtt/internal/core/domain"
	"github.com/berfenger/ecopilot2mqtt/internal/mqtt"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/lmittmann/tint"
	"go.uber.org/zap"
)

func PipeToSelfWithRecover(ctx actor.Context, future *actor.Future, mapFn func(error) any) {
	ctx.ReenterAfter(future, func(msg any, err error) {
		if err != nil {
			ctx.Send(ctx.Self(), mapFn(err))
			return
		}
		ctx.Send(ctx.Self(), msg)
	})
}

func NewActorSystemWithZapLogger(logger *zap.Logger) *actor.ActorSystem {
	stdOutLogger := zap.NewStdLog(logger)

	var slogLevel slog.Level = slog.LevelInfo

	switch logger.Level() {
	case zap.DebugLevel:
		slogLevel = slog.LevelDebug
	case zap.InfoLevel:
		slogLevel = slog.LevelInfo
	case zap.WarnLevel:
		slogLevel = slog.LevelWarn
	case zap.ErrorLevel:
		slogLevel = slog.LevelError
	case zap.PanicLevel:
		slogLevel = slog.LevelError
	}

	return actor.NewActorSystem(actor.WithLoggerFactory(func(system *actor.ActorSystem) *slog.Logger {

		// create a new logger
		return slog.New(tint.NewHandler(stdOutLogger.Writer(), &tint.Options{
			Level:      slogLevel,
			TimeFormat: time.DateTime,
		}))
	}))
}

func ActorLogger(actorName string, logger *zap.Logger) *zap.Logger {
	return logger.With(zap.String("actor", actorName))
}

// ParsedMQTTCommandToCommand maps a command received over MQTT to a device request.
func ParsedMQTTCommandToCommand(cmd mqtt.ParsedMQTTCommand) (domain.DeviceRequest, error) {
	switch cmd.Command {
	case mqtt.MQTT_COMMAND_IDENTIFY:
		if cmd.DeviceId == "" {
			return nil, fmt.Errorf("%w: missing device id", mqtt.ErrInvalidCommand)
		}
		return domain.SendIdentifyRequest{
			DeviceId: cmd.DeviceId,
		}, nil
	case mqtt.MQTT_COMMAND_SWITCH:
		if cmd.DeviceId == "" || cmd.Switch == "" {
			return nil, fmt.Errorf("%w: missing device or switch", mqtt.ErrInvalidCommand)
		}
		var on bool
		switch strings.ToUpper(strings.TrimSpace(cmd.Payload)) {
		case mqtt.MQTT_PAYLOAD_ON, "1", "TRUE":
			on = true
		case mqtt.MQTT_PAYLOAD_OFF, "0", "FALSE":
		default:
			return nil, fmt.Errorf("%w: invalid switch payload %q", mqtt.ErrInvalidCommand, cmd.Payload)
		}
		return domain.SetSwitchRequest{
			DeviceId: cmd.DeviceId,
			Switch:   cmd.Switch,
			On:       on,
		}, nil
	}
	return nil, fmt.Errorf("%w: %s", mqtt.ErrInvalidCommand, cmd.Command)
}
