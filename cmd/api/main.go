package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	adactor "github.com/berfenger/ecopilot2mqtt/internal/adapter/actor"
	"github.com/berfenger/ecopilot2mqtt/internal/adapter/discovery"
	"github.com/berfenger/ecopilot2mqtt/internal/config"
	"github.com/berfenger/ecopilot2mqtt/internal/core/actor"
	"github.com/berfenger/ecopilot2mqtt/internal/core/capability"
	"github.com/berfenger/ecopilot2mqtt/internal/core/engine"
	"github.com/berfenger/ecopilot2mqtt/internal/core/port"
	"github.com/berfenger/ecopilot2mqtt/internal/metrics"
	"github.com/berfenger/ecopilot2mqtt/internal/server"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func gracefulShutdown(apiServer *http.Server, done chan bool) {
	// Create context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Listen for the interrupt signal.
	<-ctx.Done()

	log.Println("shutting down gracefully, press Ctrl+C again to force")

	// The context is used to inform the server it has 5 seconds to finish
	// the request it is currently handling
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown with error: %v", err)
	}

	log.Println("Server exiting")

	// Notify the main goroutine that the shutdown is complete
	done <- true
}

func main() {

	// load and print config
	cfg, err := initConfig()
	if err != nil {
		slog.Error("config errors", "error", err)
		return
	}
	safePrintConfig(*cfg)

	// zap logger
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)

	logger := zap.Must(zapCfg.Build())

	defer logger.Sync()

	if cfg.Metrics {
		metrics.Init()
	}

	table, err := capability.LoadTable(cfg.CapabilitiesFile)
	if err != nil {
		slog.Error("capability table errors", "file", cfg.CapabilitiesFile, "error", err)
		return
	}

	browser, err := browserProvider(cfg, logger)
	if err != nil {
		slog.Error("discovery errors", "error", err)
		return
	}

	eng, err := engine.Start(engine.Options{
		Config:            cfg,
		Table:             table,
		Dialer:            &net.Dialer{},
		Browser:           browser,
		MQTTActorProvider: mqttActorProvider(cfg, logger),
		Logger:            logger,
	})
	if err != nil {
		slog.Error("engine start errors", "error", err)
		return
	}

	server := server.NewServer(*cfg, eng)
	// Create a done channel to signal when the shutdown is complete
	done := make(chan bool, 1)

	// Run graceful shutdown in a separate goroutine
	go gracefulShutdown(server, done)

	err = server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		panic(fmt.Sprintf("http server error: %s", err))
	}

	// Wait for the graceful shutdown to complete
	<-done
	log.Println("Graceful shutdown complete.")

	eng.Shutdown()
}

func initConfig() (*config.Config, error) {

	// alias PORT => ECOPILOT_PORT
	if port := os.Getenv("PORT"); port != "" {
		os.Setenv("ECOPILOT_PORT", port)
	}

	setConfigDefaults()

	viper.SetEnvPrefix("ecopilot")
	viper.AutomaticEnv()

	// if defined, try to load config from yaml file
	if cfgFile := os.Getenv("CONFIG_FILE"); cfgFile != "" {
		if _, err := os.Stat(cfgFile); err == nil {
			slog.Info("Using config", "file", cfgFile)
			viper.SetConfigFile(cfgFile)

			err = viper.ReadInConfig()
			if err != nil {
				slog.Error("Error reading config file", "error", err)
			}
		}
	}

	var cfg config.Config

	err := viper.Unmarshal(&cfg)
	if err != nil {
		return nil, err
	}

	// parse log level
	switch viper.GetString("log_level") {
	case "trace":
		cfg.LogLevel = zap.DebugLevel
	case "debug":
		cfg.LogLevel = zap.DebugLevel
	case "info":
		cfg.LogLevel = zap.InfoLevel
	case "error":
		cfg.LogLevel = zap.ErrorLevel
	case "warn":
		cfg.LogLevel = zap.WarnLevel
	case "fatal":
		cfg.LogLevel = zap.FatalLevel
	default:
		cfg.LogLevel = zap.InfoLevel
	}

	// check and fix base topic
	baseTopic, err := config.CheckMQTTTopic(cfg.MQTT.BaseTopic)
	if err != nil {
		return nil, errors.New("invalid base topic. can only contain letters, numbers and underscores")
	}
	cfg.MQTT.BaseTopic = baseTopic

	// check and fix homeassistant discovery topic
	hadBaseTopic, err := config.CheckMQTTTopic(cfg.MQTT.HADiscoveryTopic)
	if err != nil {
		return nil, errors.New("invalid homeassistant discovery topic. can only contain letters, numbers and underscores")
	}
	cfg.MQTT.HADiscoveryTopic = hadBaseTopic

	// check bounds
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func browserProvider(cfg *config.Config, logger *zap.Logger) (port.Browser, error) {
	if !cfg.Discovery.Enable {
		return nil, nil
	}
	browser, err := discovery.NewZeroconfBrowser(cfg.Discovery, logger)
	if err != nil {
		return nil, err
	}
	return browser, nil
}

func mqttActorProvider(cfg *config.Config, logger *zap.Logger) actor.MQTTActorProvider {
	if !cfg.MQTT.Enable {
		return nil
	}
	return func() *adactor.MQTTActor {
		return adactor.NewMQTTActor(cfg, logger)
	}
}

func setConfigDefaults() {
	viper.SetDefault("log_level", "warn")
	viper.SetDefault("mqtt.enable", true)
	viper.SetDefault("mqtt.host", "localhost")
	viper.SetDefault("mqtt.port", 1883)
	viper.SetDefault("mqtt.ha_discovery_enable", false)
	viper.SetDefault("mqtt.base_topic", "ecopilot")
	viper.SetDefault("mqtt.ha_discovery_topic", "homeassistant")
	viper.SetDefault("discovery.enable", true)
	viper.SetDefault("discovery.service", "_ecopilot._tcp")
	viper.SetDefault("discovery.domain", "local.")
	viper.SetDefault("discovery.scan_interval_millis", 10000)
	viper.SetDefault("discovery.grace_period_millis", 60000)
	viper.SetDefault("discovery.dedup_window_millis", 2000)
	viper.SetDefault("connection.connect_timeout_millis", 5000)
	viper.SetDefault("connection.read_timeout_millis", 30000)
	viper.SetDefault("connection.write_timeout_millis", 5000)
	viper.SetDefault("connection.backoff_min_millis", 1000)
	viper.SetDefault("connection.backoff_max_millis", 60000)
	viper.SetDefault("connection.backoff_jitter", 0.1)
	viper.SetDefault("metrics", true)
	viper.SetDefault("port", 8080)
}

func safePrintConfig(cfg config.Config) {
	cfg.MQTT.Username = "*redacted*"
	cfg.MQTT.Password = "*redacted*"
	slog.Info("Using", "config", cfg)
}
