package homeassistant

import "github.com/nerrad567/easywallbox-bridge/internal/bridges/wallbox"

// Entity components.
const (
	ComponentBinarySensor = "binary_sensor"
	ComponentSensor       = "sensor"
	ComponentNumber       = "number"
	ComponentSwitch       = "switch"
	ComponentButton       = "button"
)

// Entity is one discovery entry before the shared fields are filled in.
type Entity struct {
	Component string
	ObjectID  string
	Config    Config
}

// Current limits accepted by the wallbox, in amperes.
const (
	minChargeCurrent = 6
	maxChargeCurrent = 32
)

// Entities returns the entity set for the topic tree below base.
func Entities(base string) []Entity {
	state := func(name string) string {
		f, _ := wallbox.FieldByName(name)
		return wallbox.StateTopic(base, f)
	}
	set := func(name string) string {
		return wallbox.CommandTopic(base, "set/"+name)
	}

	return []Entity{
		{
			Component: ComponentBinarySensor,
			ObjectID:  "connectivity",
			Config: Config{
				Name:        "Connectivity",
				DeviceClass: "connectivity",
				StateTopic:  wallbox.ConnectivityTopic(base),
				PayloadOn:   wallbox.PayloadOn,
				PayloadOff:  wallbox.PayloadOff,
			},
		},
		{
			Component: ComponentSensor,
			ObjectID:  "message",
			Config: Config{
				Name:           "Last Message",
				StateTopic:     wallbox.MessageTopic(base),
				Icon:           "mdi:message-text-outline",
				EntityCategory: "diagnostic",
			},
		},
		numberEntity(wallbox.FieldUserLimit, "User Current Limit", "mdi:current-ac",
			minChargeCurrent, state(wallbox.FieldUserLimit), set(wallbox.FieldUserLimit)),
		numberEntity(wallbox.FieldSafeLimit, "Safe Current Limit", "mdi:shield-check",
			minChargeCurrent, state(wallbox.FieldSafeLimit), set(wallbox.FieldSafeLimit)),
		numberEntity(wallbox.FieldDPMLimit, "DPM Current Limit", "mdi:transmission-tower",
			0, state(wallbox.FieldDPMLimit), set(wallbox.FieldDPMLimit)),
		{
			Component: ComponentSwitch,
			ObjectID:  wallbox.FieldDPM,
			Config: Config{
				Name:         "Dynamic Power Management",
				StateTopic:   state(wallbox.FieldDPM),
				CommandTopic: set(wallbox.FieldDPM),
				PayloadOn:    wallbox.PayloadOn,
				PayloadOff:   wallbox.PayloadOff,
				Icon:         "mdi:home-lightning-bolt",
			},
		},
		buttonEntity("start_charge", "Start Charging", "mdi:ev-plug-type2", set("start_charge"), "start"),
		buttonEntity("stop_charge", "Stop Charging", "mdi:ev-plug-type2-off", set("stop_charge"), "stop"),
		buttonEntity("refresh", "Refresh Data", "mdi:refresh", set("refresh"), "refresh"),
		buttonEntity("read_voltage", "Read Voltage", "mdi:flash", set("read_voltage"), "voltage"),
		buttonEntity("reconnect", "Reconnect", "mdi:bluetooth-connect",
			wallbox.ControlTopic(base), wallbox.ControlReconnect),
	}
}

func numberEntity(name, title, icon string, minimum float64, stateTopic, commandTopic string) Entity {
	return Entity{
		Component: ComponentNumber,
		ObjectID:  name,
		Config: Config{
			Name:              title,
			StateTopic:        stateTopic,
			CommandTopic:      commandTopic,
			Min:               &minimum,
			Max:               float64Ptr(maxChargeCurrent),
			Step:              float64Ptr(1),
			Mode:              "box",
			UnitOfMeasurement: "A",
			DeviceClass:       "current",
			Icon:              icon,
		},
	}
}

func buttonEntity(objectID, title, icon, commandTopic, press string) Entity {
	return Entity{
		Component: ComponentButton,
		ObjectID:  objectID,
		Config: Config{
			Name:         title,
			CommandTopic: commandTopic,
			PayloadPress: press,
			Icon:         icon,
		},
	}
}

func float64Ptr(v float64) *float64 { return &v }
