package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
)

type Config struct {
	LogLevel         zapcore.Level
	Discovery        DiscoveryConfig   `mapstructure:"discovery"`
	Connection       ConnectionConfig  `mapstructure:"connection"`
	ProtocolVersions map[string]string `mapstructure:"protocol_versions"`
	CapabilitiesFile string            `mapstructure:"capabilities_file"`
	Devices          []StaticDevice    `mapstructure:"devices"`
	MQTT             MQTTConfig        `mapstructure:"mqtt"`
	Port             uint              `mapstructure:"port"`
	HttpLog          bool              `mapstructure:"http_log"`
	Metrics          bool              `mapstructure:"metrics"`
}

type DiscoveryConfig struct {
	Enable             bool     `mapstructure:"enable"`
	Service            string   `mapstructure:"service"`
	Domain             string   `mapstructure:"domain"`
	Interfaces         []string `mapstructure:"interfaces"`
	ScanIntervalMillis uint32   `mapstructure:"scan_interval_millis"`
	GracePeriodMillis  uint32   `mapstructure:"grace_period_millis"`
	DedupWindowMillis  uint32   `mapstructure:"dedup_window_millis"`
}

type ConnectionConfig struct {
	ConnectTimeoutMillis uint32  `mapstructure:"connect_timeout_millis"`
	ReadTimeoutMillis    uint32  `mapstructure:"read_timeout_millis"`
	WriteTimeoutMillis   uint32  `mapstructure:"write_timeout_millis"`
	BackoffMinMillis     uint32  `mapstructure:"backoff_min_millis"`
	BackoffMaxMillis     uint32  `mapstructure:"backoff_max_millis"`
	BackoffJitter        float64 `mapstructure:"backoff_jitter"`
}

type StaticDevice struct {
	Address string
	Type    string
	Name    string
}

type MQTTConfig struct {
	Enable            bool
	Host              string
	Port              int
	Username          string
	Password          string
	BaseTopic         string `mapstructure:"base_topic"`
	HADiscoveryEnable bool   `mapstructure:"ha_discovery_enable"`
	HADiscoveryTopic  string `mapstructure:"ha_discovery_topic"`
}

func millis(v uint32) time.Duration {
	return time.Duration(v) * time.Millisecond
}

func (c DiscoveryConfig) ScanInterval() time.Duration { return millis(c.ScanIntervalMillis) }
func (c DiscoveryConfig) GracePeriod() time.Duration  { return millis(c.GracePeriodMillis) }
func (c DiscoveryConfig) DedupWindow() time.Duration  { return millis(c.DedupWindowMillis) }

func (c ConnectionConfig) ConnectTimeout() time.Duration { return millis(c.ConnectTimeoutMillis) }
func (c ConnectionConfig) ReadTimeout() time.Duration    { return millis(c.ReadTimeoutMillis) }
func (c ConnectionConfig) WriteTimeout() time.Duration   { return millis(c.WriteTimeoutMillis) }
func (c ConnectionConfig) BackoffMin() time.Duration     { return millis(c.BackoffMinMillis) }
func (c ConnectionConfig) BackoffMax() time.Duration     { return millis(c.BackoffMaxMillis) }

// ProtocolVersion returns the configured protocol version override for a device type, if any.
func (c Config) ProtocolVersion(deviceType string) string {
	if c.ProtocolVersions == nil {
		return ""
	}
	return c.ProtocolVersions[strings.ToLower(deviceType)]
}

// Validate checks config bounds.
func (c Config) Validate() error {
	if c.Discovery.ScanIntervalMillis < 1000 {
		return errors.New("config param discovery.scan_interval_millis should be >= 1000")
	}
	if c.Discovery.GracePeriodMillis < c.Discovery.ScanIntervalMillis {
		return errors.New("config param discovery.grace_period_millis should be >= discovery.scan_interval_millis")
	}
	if c.Connection.ConnectTimeoutMillis == 0 {
		return errors.New("config param connection.connect_timeout_millis should be > 0")
	}
	if c.Connection.ReadTimeoutMillis == 0 {
		return errors.New("config param connection.read_timeout_millis should be > 0")
	}
	if c.Connection.BackoffMinMillis == 0 {
		return errors.New("config param connection.backoff_min_millis should be > 0")
	}
	if c.Connection.BackoffMaxMillis < c.Connection.BackoffMinMillis {
		return errors.New("config param connection.backoff_max_millis should be >= connection.backoff_min_millis")
	}
	if c.Connection.BackoffJitter < 0 || c.Connection.BackoffJitter > 1 {
		return errors.New("config param connection.backoff_jitter should be in [0, 1]")
	}
	for i, d := range c.Devices {
		if d.Address == "" || d.Type == "" {
			return fmt.Errorf("config param devices[%d] needs address and type", i)
		}
	}
	return nil
}

func CheckMQTTTopic(baseTopic string) (string, error) {
	// check and fix base topic
	lowerBaseTopic := strings.ToLower(baseTopic)
	baseTopicRegexp := regexp.MustCompile("^[a-z0-9_]+$")
	matches := baseTopicRegexp.FindAllStringSubmatch(lowerBaseTopic, 1)
	if len(matches) <= 0 {
		return "", errors.New("invalid topic. can only contain letters, numbers and underscores")
	}
	return lowerBaseTopic, nil
}
