package wallbox

import "strings"

// DefaultTopicBase is the topic prefix used when none is configured.
const DefaultTopicBase = "easywallbox"

// Topic suffixes below the base.
const (
	suffixAvailability = "availability"
	suffixMessage      = "message"
	suffixControl      = "control"
	suffixConnectivity = "sensor/connectivity/state"
	suffixHealth       = "bridge/health"
)

// Availability and switch payloads.
const (
	PayloadOnline  = "online"
	PayloadOffline = "offline"
	PayloadOn      = "ON"
	PayloadOff     = "OFF"

	// ControlReconnect is the control payload that forces a reconnect.
	ControlReconnect = "reconnect"
)

// AvailabilityTopic returns {base}/availability. The MQTT last will is
// registered on this topic.
func AvailabilityTopic(base string) string {
	return base + "/" + suffixAvailability
}

// MessageTopic returns {base}/message, the raw line passthrough.
func MessageTopic(base string) string {
	return base + "/" + suffixMessage
}

// ControlTopic returns {base}/control.
func ControlTopic(base string) string {
	return base + "/" + suffixControl
}

// ConnectivityTopic returns the connectivity sensor state topic.
func ConnectivityTopic(base string) string {
	return base + "/" + suffixConnectivity
}

// HealthTopic returns {base}/bridge/health.
func HealthTopic(base string) string {
	return base + "/" + suffixHealth
}

// StateTopic returns the retained state topic of f, for example
// easywallbox/number/user_limit/state.
func StateTopic(base string, f Field) string {
	return base + "/" + f.Component + "/" + f.Name + "/state"
}

// CommandTopic returns {base}/{suffix}.
func CommandTopic(base, suffix string) string {
	return base + "/" + suffix
}

// TopicSuffix strips base from topic. The second result is false when
// topic is not below base.
func TopicSuffix(base, topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, base+"/")
	if !ok || rest == "" {
		return "", false
	}
	return rest, true
}
