package domain

import "fmt"

// DeviceRequest

type DeviceRequest interface {
	ActorRequest
	DeviceCommand() string
}

type DeviceRequestMixIn struct {
	ActorRequestMixIn
}

func (r DeviceRequestMixIn) DeviceCommand() string {
	return fmt.Sprintf("%T", r)
}

// Device commands

type RegisterDeviceRequest struct {
	DeviceRequestMixIn
	Address string
	Type    string
	Name    string
}

type RegisterDeviceResponse struct {
	ActorResponseMixIn
	DeviceId string
}

type UnregisterDeviceRequest struct {
	DeviceRequestMixIn
	DeviceId string
}

type UnregisterDeviceResponse struct {
	ActorResponseMixIn
}

type SendIdentifyRequest struct {
	DeviceRequestMixIn
	DeviceId string
}

type SendIdentifyResponse struct {
	ActorResponseMixIn
}

type SetSwitchRequest struct {
	DeviceRequestMixIn
	DeviceId string
	Switch   string
	On       bool
}

type SetSwitchResponse struct {
	ActorResponseMixIn
}

// ensure interface compliance
var (
	_ DeviceRequest = (*RegisterDeviceRequest)(nil)
	_ DeviceRequest = (*UnregisterDeviceRequest)(nil)
	_ DeviceRequest = (*SendIdentifyRequest)(nil)
	_ DeviceRequest = (*SetSwitchRequest)(nil)
)
