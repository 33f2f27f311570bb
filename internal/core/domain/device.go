package domain

import (
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"

	"github.com/berfenger/ecopilot2mqtt/pkg/ecoproto"
)

type DeviceType string

const (
	DEVICE_TYPE_TANK     DeviceType = "tank"
	DEVICE_TYPE_P1       DeviceType = "p1"
	DEVICE_TYPE_PLUG     DeviceType = "plug"
	DEVICE_TYPE_DRIVE_P1 DeviceType = "drive-p1"
	DEVICE_TYPE_DRIVE_LK DeviceType = "drive-lk"
	DEVICE_TYPE_HUB      DeviceType = "hub"
	DEVICE_TYPE_HUB_ETH  DeviceType = "hub-eth"

	MANUFACTURER = "Domintell"
)

type deviceModel struct {
	model    string
	modelId  string
	protocol func() ecoproto.Protocol
}

func p1Protocol() ecoproto.Protocol     { return ecoproto.P1Protocol{} }
func lineProtocol() ecoproto.Protocol   { return ecoproto.LineProtocol{} }
func binaryProtocol() ecoproto.Protocol { return ecoproto.BinaryProtocol{} }

var deviceModels = map[DeviceType]deviceModel{
	DEVICE_TYPE_TANK:     {model: "tankSense", modelId: "tanksense", protocol: lineProtocol},
	DEVICE_TYPE_P1:       {model: "ecoP1", modelId: "eco-p1", protocol: p1Protocol},
	DEVICE_TYPE_PLUG:     {model: "ecoPlug", modelId: "ecoplug", protocol: binaryProtocol},
	DEVICE_TYPE_DRIVE_P1: {model: "ecoDrive-P1", modelId: "ecodrive-p1", protocol: p1Protocol},
	DEVICE_TYPE_DRIVE_LK: {model: "ecoDrive-LK", modelId: "ecodrive-lk", protocol: binaryProtocol},
	DEVICE_TYPE_HUB:      {model: "hubSense", modelId: "hubsense-wifi", protocol: binaryProtocol},
	DEVICE_TYPE_HUB_ETH:  {model: "hubSense-ETH", modelId: "hubsense-eth", protocol: binaryProtocol},
}

func DeviceTypes() []DeviceType {
	return []DeviceType{
		DEVICE_TYPE_TANK, DEVICE_TYPE_P1, DEVICE_TYPE_PLUG, DEVICE_TYPE_DRIVE_P1,
		DEVICE_TYPE_DRIVE_LK, DEVICE_TYPE_HUB, DEVICE_TYPE_HUB_ETH,
	}
}

// ParseDeviceType accepts a type key ("tank"), a product model ("tankSense") or a model id ("tanksense").
func ParseDeviceType(value string) (DeviceType, error) {
	v := strings.ToLower(strings.TrimSpace(value))
	for t, m := range deviceModels {
		if v == string(t) || v == strings.ToLower(m.model) || v == m.modelId {
			return t, nil
		}
	}
	return "", &ConfigurationError{Field: "type", Value: value, Err: ErrUnsupportedDeviceType}
}

func (t DeviceType) Valid() bool {
	_, ok := deviceModels[t]
	return ok
}

func (t DeviceType) Model() string {
	return deviceModels[t].model
}

func (t DeviceType) ModelId() string {
	return deviceModels[t].modelId
}

// Protocol returns the wire protocol spoken by devices of this type, nil for unknown types.
func (t DeviceType) Protocol() ecoproto.Protocol {
	m, ok := deviceModels[t]
	if !ok {
		return nil
	}
	return m.protocol()
}

type DeviceState int

const (
	DeviceStateDiscovered DeviceState = iota
	DeviceStateConnecting
	DeviceStateConnected
	DeviceStateOffline
	DeviceStateRemoved
)

func (s DeviceState) String() string {
	switch s {
	case DeviceStateDiscovered:
		return "discovered"
	case DeviceStateConnecting:
		return "connecting"
	case DeviceStateConnected:
		return "connected"
	case DeviceStateOffline:
		return "offline"
	case DeviceStateRemoved:
		return "removed"
	default:
		return fmt.Sprintf("DeviceState(%d)", int(s))
	}
}

func (s DeviceState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *DeviceState) UnmarshalText(text []byte) error {
	for state := DeviceStateDiscovered; state <= DeviceStateRemoved; state++ {
		if state.String() == string(text) {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("unknown device state %q", text)
}

type DeviceSource string

const (
	DEVICE_SOURCE_DISCOVERY DeviceSource = "discovery"
	DEVICE_SOURCE_MANUAL    DeviceSource = "manual"
)

type EcoPilotDevice struct {
	Id              string       `json:"id"`
	Type            DeviceType   `json:"type"`
	Address         string       `json:"address"`
	ProtocolVersion string       `json:"protocol_version,omitempty"`
	Name            string       `json:"name,omitempty"`
	Serial          string       `json:"serial,omitempty"`
	State           DeviceState  `json:"state"`
	Source          DeviceSource `json:"source"`
}

func (d EcoPilotDevice) DisplayName() string {
	if d.Name != "" {
		return d.Name
	}
	return fmt.Sprintf("%s %s", d.Type.Model(), d.Id)
}

var idSanitizer = regexp.MustCompile("[^a-z0-9]+")

// DeviceId derives the stable id of a device: the model id plus the serial number when known,
// otherwise plus the network address.
func DeviceId(deviceType DeviceType, serial, address string) string {
	suffix := serial
	if suffix == "" {
		suffix = address
	}
	suffix = strings.Trim(idSanitizer.ReplaceAllString(strings.ToLower(suffix), "_"), "_")
	return fmt.Sprintf("%s_%s", deviceType.ModelId(), suffix)
}

// ValidateAddress checks a host:port device address.
func ValidateAddress(address string) error {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return &ConfigurationError{Field: "address", Value: address, Err: fmt.Errorf("%w: %v", ErrInvalidAddress, err)}
	}
	if host == "" {
		return &ConfigurationError{Field: "address", Value: address, Err: fmt.Errorf("%w: empty host", ErrInvalidAddress)}
	}
	p, err := strconv.ParseUint(port, 10, 16)
	if err != nil || p == 0 {
		return &ConfigurationError{Field: "address", Value: address, Err: fmt.Errorf("%w: invalid port %q", ErrInvalidAddress, port)}
	}
	return nil
}
