package util

import (
	"github.com/berfenger/ecopilot2mqtt/internal/config"

	"go.uber.org/zap"
)

func LoadTestConfig() config.Config {
	return config.Config{
		LogLevel: zap.DebugLevel,
		Discovery: config.DiscoveryConfig{
			Enable:             false,
			Service:            "_ecopilot._tcp",
			Domain:             "local.",
			ScanIntervalMillis: 1000,
			GracePeriodMillis:  3000,
			DedupWindowMillis:  500,
		},
		Connection: config.ConnectionConfig{
			ConnectTimeoutMillis: 500,
			ReadTimeoutMillis:    300,
			WriteTimeoutMillis:   500,
			BackoffMinMillis:     50,
			BackoffMaxMillis:     400,
			BackoffJitter:        0,
		},
		MQTT: config.MQTTConfig{
			Host:             "localhost",
			Port:             1883,
			BaseTopic:        "ecopilot",
			HADiscoveryTopic: "homeassistant",
		},
		Port: 8080,
	}
}
