// Command ecosim simulates one EcoPilot device on the local network: it announces itself over mDNS
// and streams telemetry frames to every connected client.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os/signal"
	"syscall"
	"time"

	"github.com/berfenger/ecopilot2mqtt/internal/adapter/discovery"
	"github.com/berfenger/ecopilot2mqtt/internal/core/capability"
	"github.com/berfenger/ecopilot2mqtt/internal/core/domain"
	"github.com/berfenger/ecopilot2mqtt/pkg/ecoproto"

	"github.com/enbility/zeroconf/v3"
	"github.com/google/uuid"
	_ "github.com/joho/godotenv/autoload"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

type simConfig struct {
	Type            string `mapstructure:"type"`
	Port            int    `mapstructure:"port"`
	Serial          string `mapstructure:"serial"`
	ProtocolVersion string `mapstructure:"protocol_version"`
	IntervalMillis  uint32 `mapstructure:"interval_millis"`
	Announce        bool   `mapstructure:"announce"`
	Service         string `mapstructure:"service"`
	Domain          string `mapstructure:"domain"`
}

func main() {

	viper.SetDefault("type", "tank")
	viper.SetDefault("port", 7700)
	viper.SetDefault("serial", "")
	viper.SetDefault("protocol_version", capability.DEFAULT_PROTOCOL_VERSION)
	viper.SetDefault("interval_millis", 2000)
	viper.SetDefault("announce", true)
	viper.SetDefault("service", "_ecopilot._tcp")
	viper.SetDefault("domain", "local.")
	viper.SetEnvPrefix("ecosim")
	viper.AutomaticEnv()

	var cfg simConfig
	if err := viper.Unmarshal(&cfg); err != nil {
		slog.Error("config errors", "error", err)
		return
	}

	logger := zap.Must(zap.NewDevelopment())
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("simulator failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg simConfig, logger *zap.Logger) error {
	deviceType, err := domain.ParseDeviceType(cfg.Type)
	if err != nil {
		return err
	}
	descriptor, err := capability.DefaultTable().Lookup(deviceType, cfg.ProtocolVersion)
	if err != nil {
		return err
	}
	if cfg.Serial == "" {
		cfg.Serial = uuid.NewString()[:8]
	}

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return err
	}
	defer listener.Close()
	logger.Info("device listening", zap.String("type", string(deviceType)), zap.String("serial", cfg.Serial), zap.Stringer("address", listener.Addr()))

	if cfg.Announce {
		server, err := zeroconf.Register(
			fmt.Sprintf("%s-%s", deviceType.ModelId(), cfg.Serial),
			cfg.Service,
			cfg.Domain,
			listener.Addr().(*net.TCPAddr).Port,
			announcementTXT(deviceType, cfg.Serial, cfg.ProtocolVersion),
			nil,
		)
		if err != nil {
			return fmt.Errorf("mdns register: %w", err)
		}
		defer server.Shutdown()
	}

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	interval := time.Duration(cfg.IntervalMillis) * time.Millisecond
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			logger.Warn("accept failed", zap.Error(err))
			continue
		}
		go serve(ctx, conn, deviceType.Protocol(), descriptor, interval, logger.With(zap.Stringer("client", conn.RemoteAddr())))
	}
}

func announcementTXT(deviceType domain.DeviceType, serial, protocolVersion string) []string {
	return []string{
		discovery.TXT_PRODUCT_NAME + "=" + deviceType.Model(),
		discovery.TXT_PRODUCT_MODEL + "=" + deviceType.Model(),
		discovery.TXT_SERIAL_NUMBER + "=" + serial,
		discovery.TXT_PROTOCOL_VERSION + "=" + protocolVersion,
	}
}

func serve(ctx context.Context, conn net.Conn, protocol ecoproto.Protocol, descriptor capability.Descriptor,
	interval time.Duration, logger *zap.Logger) {
	defer conn.Close()
	logger.Info("client connected")

	encoder, ok := protocol.(ecoproto.FrameEncoder)
	if !ok {
		logger.Error("protocol cannot encode frames", zap.String("protocol", protocol.Name()))
		return
	}

	commands := make(chan ecoproto.Command, 8)
	go readCommands(conn, protocol, commands, logger)

	gen := newGenerator(descriptor, time.Now().UnixNano())
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-commands:
			if !gen.apply(cmd) {
				logger.Warn("unknown switch", zap.String("switch", cmd.Target))
			}
		case now := <-ticker.C:
			data, err := encoder.EncodeFrame(gen.next(now.Sub(last)))
			last = now
			if err != nil {
				logger.Error("frame encoding failed", zap.Error(err))
				return
			}
			if _, err := conn.Write(data); err != nil {
				logger.Info("client gone", zap.Error(err))
				return
			}
		}
	}
}

// readCommands logs every command received and hands switch commands to the serving loop.
func readCommands(conn net.Conn, protocol ecoproto.Protocol, commands chan<- ecoproto.Command, logger *zap.Logger) {
	decoder := ecoproto.NewStreamDecoder(protocol, logger)
	buf := make([]byte, 1024)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		decoder.Write(buf[:n])
		for _, frame := range decoder.Drain() {
			text := frame.Command()
			if text == "" {
				continue
			}
			cmd, err := ecoproto.ParseCommand(text)
			if err != nil {
				logger.Warn("invalid command", zap.String("command", text), zap.Error(err))
				continue
			}
			logger.Info("command received", zap.String("command", text), zap.Uint32("sequence", frame.Sequence))
			if cmd.Name != ecoproto.COMMAND_SWITCH {
				continue
			}
			select {
			case commands <- cmd:
			default:
				logger.Warn("switch command dropped", zap.String("switch", cmd.Target))
			}
		}
	}
}
