package events

import (
	"math"

	"github.com/berfenger/ecopilot2mqtt/internal/core/capability"
	. "github.com/berfenger/ecopilot2mqtt/internal/core/domain"
)

// ReadingToUpdateEvent maps a reading onto the state update of its sensor. Invalid readings carry
// no state and are not published.
func ReadingToUpdateEvent(reading Reading) (SensorUpdateEvent, bool) {
	if reading.Quality == QualityInvalid {
		return nil, false
	}
	id := SensorId(reading.DeviceId, reading.MetricId())
	if !reading.Numeric {
		return TextSensorUpdateEvent{
			SensorUpdateEventMixIn: SensorUpdateEventMixIn{
				Id: id,
			},
			Value: reading.Text,
		}, true
	}
	return FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: id,
		},
		Value:    reading.Value,
		Decimals: decimals(reading),
	}, true
}

func DeviceAvailabilityEvent(deviceId string, online bool) DeviceAvailabilityUpdateEvent {
	return DeviceAvailabilityUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: deviceId,
		},
		Value: online,
	}
}

func BridgeStateEvent(online bool) BridgeStateUpdateEvent {
	return BridgeStateUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_BRIDGE_STATE,
		},
		Value: online,
	}
}

func decimals(reading Reading) uint {
	switch {
	case reading.IsRate():
		return 4
	case reading.Unit == capability.UNIT_KWH || reading.Unit == capability.UNIT_M3:
		return 3
	case reading.Value == math.Trunc(reading.Value):
		return 0
	default:
		return 2
	}
}
