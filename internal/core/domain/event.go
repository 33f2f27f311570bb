package domain

import "fmt"

// Host events, published on the engine event stream.

type DeviceDiscovered struct {
	DeviceId        string
	Type            DeviceType
	Address         string
	ProtocolVersion string
	Name            string
	Serial          string
}

// DeviceLost is reported by discovery when a device stops announcing.
type DeviceLost struct {
	DeviceId string
}

// DeviceOnline carries a snapshot of the device taken when its session connected.
type DeviceOnline struct {
	DeviceId string
	Device   EcoPilotDevice
}

type DeviceOffline struct {
	DeviceId string
	Reason   error
}

type DeviceRemoved struct {
	DeviceId string
}

type ReadingUpdated struct {
	Reading
}

// Sensor update events, consumed by the MQTT adapter.

type SensorUpdateEventMixIn struct {
	Id string
}

type SensorUpdateEvent interface {
	SensorUpdateEvent() string
	SensorId() string
}

func (e SensorUpdateEventMixIn) SensorUpdateEvent() string {
	return fmt.Sprintf("%T", e)
}

func (e SensorUpdateEventMixIn) SensorId() string {
	return e.Id
}

type FloatSensorUpdateEvent struct {
	SensorUpdateEventMixIn
	Value    float64
	Decimals uint
}

type TextSensorUpdateEvent struct {
	SensorUpdateEventMixIn
	Value string
}

type BridgeStateUpdateEvent struct {
	SensorUpdateEventMixIn
	Value bool
}

type DeviceAvailabilityUpdateEvent struct {
	SensorUpdateEventMixIn
	Value bool
}
