package domain

const (
	ACTOR_ID_MASTER       = "master"
	ACTOR_ID_SUPERVISOR   = "supervisor"
	ACTOR_ID_DISCOVERY    = "discovery"
	ACTOR_ID_SESSION      = "session"
	ACTOR_ID_MQTT         = "mqtt"
	ACTOR_ID_HA_DISCOVERY = "hadiscovery"
)

type GetDevicesRequest struct {
	ActorRequestMixIn
}

type GetDevicesResponse struct {
	ActorResponseMixIn
	Devices []EcoPilotDevice
}

type PublishMessageRequest struct {
	ActorRequestMixIn
	Topic   string
	Payload string
	Retain  bool
}

type PublishMessageResponse struct {
	ActorResponseMixIn
}

type PublishSensorUpdateRequest struct {
	ActorRequestMixIn
	Retain bool
	Event  SensorUpdateEvent
}

type PublishSensorUpdateResponse struct {
	ActorResponseMixIn
}

type PublishDiscoveryRequest struct {
	ActorRequestMixIn
	Sensors  []GenericSensor
	Buttons  []GenericButton
	Switches []GenericSwitch
}

type PublishDiscoveryResponse struct {
	ActorResponseMixIn
}

// RemoveDiscoveryRequest clears previously published discovery configs.
type RemoveDiscoveryRequest struct {
	ActorRequestMixIn
	Sensors  []GenericSensor
	Buttons  []GenericButton
	Switches []GenericSwitch
}

type ActorHealthRequest struct {
	ActorRequestMixIn
}

type ActorHealthResponse struct {
	ActorResponseMixIn
	Id      string
	Healthy bool
	State   string
}
