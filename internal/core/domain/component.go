package domain

// Home Assistant components

type Device struct {
	Id           string
	Name         string
	Version      string
	Model        string
	Manufacturer string
	ViaDevice    string
}

type GenericSensor struct {
	Device            Device
	Id                string
	SensorType        string
	Name              string
	UniqueId          string
	UnitOfMeasurement string
	StateClass        string // measurement, total_increasing
	DeviceClass       string // energy, power, water, gas, volume_storage, ...
	EntityCategory    string // diagnostic, config, nil
	EnabledByDefault  *bool
	Icon              string
	AvailabilityId    string // device id whose availability topic gates the entity
	PayloadOn         string // binary sensors only
	PayloadOff        string
}

type GenericButton struct {
	Device         Device
	Id             string
	Name           string
	UniqueId       string
	Icon           string
	DeviceClass    string
	AvailabilityId string
}

type GenericSwitch struct {
	Device         Device
	Id             string
	DeviceId       string
	Key            string
	Name           string
	UniqueId       string
	StateSensorId  string // optimistic when empty
	EntityCategory string
	Icon           string
	DeviceClass    string
	AvailabilityId string
}
