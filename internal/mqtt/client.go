package mqtt

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"regexp"
	"strings"
	"time"

	"github.com/berfenger/ecopilot2mqtt/internal/config"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	MQTT_PAYLOAD_ONLINE  = "online"
	MQTT_PAYLOAD_OFFLINE = "offline"
	MQTT_PAYLOAD_PRESS   = "PRESS"
	MQTT_PAYLOAD_ON      = "ON"
	MQTT_PAYLOAD_OFF     = "OFF"

	MQTT_COMMAND_IDENTIFY = "identify"
	MQTT_COMMAND_SWITCH   = "switch"
	BUTTON_SUFFIX         = "_" + MQTT_COMMAND_IDENTIFY
)

var ErrInvalidCommand = errors.New("invalid command")

func OptsFromConfig(cfg *config.Config) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.MQTT.Host, cfg.MQTT.Port))
	opts.SetClientID(fmt.Sprintf("ecopilot_%d", rand.IntN(1000)))
	if cfg.MQTT.Username != "" && cfg.MQTT.Password != "" {
		opts.SetUsername(cfg.MQTT.Username)
		opts.SetPassword(cfg.MQTT.Password)
	}
	opts.SetAutoReconnect(true)
	opts.WillEnabled = true
	opts.WillPayload = []byte(MQTT_PAYLOAD_OFFLINE)
	opts.WillRetained = true
	opts.WillTopic = bridgeStateTopic(cfg.MQTT.BaseTopic)
	opts.WillQos = 0

	return opts
}

func CreateMQTTClient(cfg *config.Config, opts *mqtt.ClientOptions, onConnectHandler func(client mqtt.Client),
	onConnectionLostHandler func(mqtt.Client, error)) *MQTTClient {
	if onConnectHandler != nil {
		opts.OnConnect = onConnectHandler
	}
	if onConnectionLostHandler != nil {
		opts.OnConnectionLost = onConnectionLostHandler
	}
	return newMQTTClient(mqtt.NewClient(opts), cfg.MQTT)
}

func newMQTTClient(client mqtt.Client, cfg config.MQTTConfig) *MQTTClient {
	if cfg.HADiscoveryTopic == "" {
		cfg.HADiscoveryTopic = "homeassistant"
	}
	return &MQTTClient{
		client:              client,
		cfg:                 cfg,
		buttonCommandRegexp: buttonCommandExtractor(cfg.BaseTopic),
		switchCommandRegexp: switchCommandExtractor(cfg.BaseTopic),
	}
}

type MQTTClient struct {
	client              mqtt.Client
	cfg                 config.MQTTConfig
	buttonCommandRegexp *regexp.Regexp
	switchCommandRegexp *regexp.Regexp
}

type ParsedMQTTCommand struct {
	DeviceId string
	Command  string
	Switch   string
	Payload  string
}

func (c *MQTTClient) baseTopic() string {
	return c.cfg.BaseTopic
}

func (c *MQTTClient) BridgeStateTopic() string {
	return bridgeStateTopic(c.baseTopic())
}

func (c *MQTTClient) DeviceAvailabilityTopic(deviceId string) string {
	return fmt.Sprintf("%s/%s/availability", c.baseTopic(), deviceId)
}

func (c *MQTTClient) SensorStateTopic(sensorId string) string {
	return fmt.Sprintf("%s/sensor/%s/state", c.baseTopic(), sensorId)
}

func (c *MQTTClient) ButtonCommandTopic(buttonId string) string {
	return fmt.Sprintf("%s/button/%s/press", c.baseTopic(), buttonId)
}

func (c *MQTTClient) SwitchCommandTopic(deviceId, key string) string {
	return fmt.Sprintf("%s/switch/%s/%s/set", c.baseTopic(), deviceId, key)
}

// IdentifyButtonId is the id of the identify button of a device.
func IdentifyButtonId(deviceId string) string {
	return deviceId + BUTTON_SUFFIX
}

func (c *MQTTClient) ParseMQTTCommand(msg mqtt.Message) (*ParsedMQTTCommand, error) {
	if c.switchCommandRegexp.MatchString(msg.Topic()) {
		return c.parseSwitchCommand(msg.Topic(), string(msg.Payload()))
	}
	return c.parseButtonCommand(msg.Topic(), string(msg.Payload()))
}

func (c *MQTTClient) parseButtonCommand(topic string, payload string) (*ParsedMQTTCommand, error) {
	matches := c.buttonCommandRegexp.FindAllStringSubmatch(topic, 1)
	if len(matches) == 0 || len(matches[0]) != 2 {
		return nil, ErrInvalidCommand
	}
	buttonId := matches[0][1]
	if !strings.HasSuffix(buttonId, BUTTON_SUFFIX) || len(buttonId) == len(BUTTON_SUFFIX) {
		return nil, fmt.Errorf("%w: unknown button %s", ErrInvalidCommand, buttonId)
	}
	return &ParsedMQTTCommand{
		DeviceId: strings.TrimSuffix(buttonId, BUTTON_SUFFIX),
		Command:  MQTT_COMMAND_IDENTIFY,
		Payload:  payload,
	}, nil
}

func (c *MQTTClient) parseSwitchCommand(topic string, payload string) (*ParsedMQTTCommand, error) {
	matches := c.switchCommandRegexp.FindAllStringSubmatch(topic, 1)
	if len(matches) == 0 || len(matches[0]) != 3 {
		return nil, ErrInvalidCommand
	}
	return &ParsedMQTTCommand{
		DeviceId: matches[0][1],
		Command:  MQTT_COMMAND_SWITCH,
		Switch:   matches[0][2],
		Payload:  payload,
	}, nil
}

func (c *MQTTClient) Publish(topic string, payload any, qos byte, retain bool, continuation func(error), timeout time.Duration) {
	token := c.client.Publish(topic, qos, retain, payload)
	go func() {
		didTO := token.WaitTimeout(timeout)
		if !didTO {
			continuation(errors.New("MQTT publish timed out"))
		} else {
			continuation(token.Error())
		}
	}()
}

func (c *MQTTClient) Subscribe(topic string, qos byte, handler mqtt.MessageHandler, continuation func(error), timeout time.Duration) {
	token := c.client.Subscribe(topic, qos, handler)
	go func() {
		didTO := token.WaitTimeout(timeout)
		if !didTO {
			continuation(errors.New("MQTT subscribe timed out"))
		} else {
			continuation(token.Error())
		}
	}()
}

// SubscribeToCommandTopic subscribes the handler to button presses and switch commands.
func (c *MQTTClient) SubscribeToCommandTopic(handler mqtt.MessageHandler, continuation func(error), timeout time.Duration) {
	token := c.client.SubscribeMultiple(map[string]byte{
		c.commandTopic():       1,
		c.switchCommandTopic(): 1,
	}, handler)
	go func() {
		didTO := token.WaitTimeout(timeout)
		if !didTO {
			continuation(errors.New("MQTT subscribe timed out"))
		} else {
			continuation(token.Error())
		}
	}()
}

func (c *MQTTClient) Unsubscribe(topic string, continuation func(error), timeout time.Duration) {
	token := c.client.Unsubscribe(topic)
	go func() {
		didTO := token.WaitTimeout(timeout)
		if !didTO {
			continuation(errors.New("MQTT unsubscribe timed out"))
		} else {
			continuation(token.Error())
		}
	}()
}

func (c *MQTTClient) Connect(continuation func(error), timeout time.Duration) {
	token := c.client.Connect()
	go func() {
		didTO := token.WaitTimeout(timeout)
		if !didTO {
			continuation(errors.New("MQTT connect timed out"))
		} else {
			continuation(token.Error())
		}
	}()
}

func (c *MQTTClient) Disconnect(timeout time.Duration) {
	c.client.Disconnect(uint(timeout.Milliseconds()))
}

func (c *MQTTClient) commandTopic() string {
	return fmt.Sprintf("%s/button/+/press", c.baseTopic())
}

func (c *MQTTClient) switchCommandTopic() string {
	return fmt.Sprintf("%s/switch/+/+/set", c.baseTopic())
}

func buttonCommandExtractor(baseTopic string) *regexp.Regexp {
	return regexp.MustCompile(fmt.Sprintf("^%s/button/([a-zA-Z0-9_\\-]+)/press$", regexp.QuoteMeta(baseTopic)))
}

func switchCommandExtractor(baseTopic string) *regexp.Regexp {
	return regexp.MustCompile(fmt.Sprintf("^%s/switch/([a-zA-Z0-9_\\-]+)/([a-z0-9_]+)/set$", regexp.QuoteMeta(baseTopic)))
}

func bridgeStateTopic(baseTopic string) string {
	return fmt.Sprintf("%s/bridge/state", baseTopic)
}
