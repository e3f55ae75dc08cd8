package homeassistant

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/nerrad567/easywallbox-bridge/internal/bridges/wallbox"
)

// Defaults applied by NewDiscovery.
const (
	DefaultPrefix = "homeassistant"
	DefaultNodeID = "easywallbox"
)

// Device metadata shown in Home Assistant.
const (
	deviceName         = "EasyWallbox"
	deviceManufacturer = "Free2Move"
	deviceModel        = "EasyWallbox"
)

// ErrNoDeviceID is returned when the wallbox address is missing.
var ErrNoDeviceID = errors.New("homeassistant: device id required")

// ErrNoPublisher is returned when no publisher is supplied.
var ErrNoPublisher = errors.New("homeassistant: publisher required")

// ErrPublishFailed wraps publish errors.
var ErrPublishFailed = errors.New("homeassistant: publish failed")

// Publisher sends a message to the broker.
// *mqtt.Client satisfies it.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Logger is the structured logger used by this package.
type Logger interface {
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
}

// Config is one discovery document. Empty fields are omitted.
type Config struct {
	Name              string   `json:"name"`
	UniqueID          string   `json:"unique_id"`
	ObjectID          string   `json:"object_id,omitempty"`
	StateTopic        string   `json:"state_topic,omitempty"`
	CommandTopic      string   `json:"command_topic,omitempty"`
	PayloadOn         string   `json:"payload_on,omitempty"`
	PayloadOff        string   `json:"payload_off,omitempty"`
	PayloadPress      string   `json:"payload_press,omitempty"`
	Min               *float64 `json:"min,omitempty"`
	Max               *float64 `json:"max,omitempty"`
	Step              *float64 `json:"step,omitempty"`
	Mode              string   `json:"mode,omitempty"`
	UnitOfMeasurement string   `json:"unit_of_measurement,omitempty"`
	DeviceClass       string   `json:"device_class,omitempty"`
	EntityCategory    string   `json:"entity_category,omitempty"`
	Icon              string   `json:"icon,omitempty"`

	AvailabilityTopic   string  `json:"availability_topic"`
	PayloadAvailable    string  `json:"payload_available"`
	PayloadNotAvailable string  `json:"payload_not_available"`
	Device              *Device `json:"device,omitempty"`
}

// Device groups the entities under one Home Assistant device.
type Device struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
	SWVersion    string   `json:"sw_version,omitempty"`
}

// Options configures a Discovery publisher.
type Options struct {
	// Prefix is the discovery prefix; defaults to "homeassistant".
	Prefix string
	// NodeID groups the config topics; defaults to "easywallbox".
	NodeID string
	// TopicBase is the bridge topic base.
	TopicBase string
	// DeviceID identifies the wallbox, normally its radio address.
	DeviceID string
	// Version is reported as the device software version.
	Version string
	QoS     byte

	Publisher Publisher
	Logger    Logger
}

// Discovery publishes the entity configs for one wallbox.
type Discovery struct {
	opts     Options
	entities []Entity
}

// NewDiscovery creates a discovery publisher.
func NewDiscovery(opts Options) (*Discovery, error) {
	if strings.TrimSpace(opts.DeviceID) == "" {
		return nil, ErrNoDeviceID
	}
	if opts.Publisher == nil {
		return nil, ErrNoPublisher
	}
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	if opts.NodeID == "" {
		opts.NodeID = DefaultNodeID
	}
	if opts.TopicBase == "" {
		opts.TopicBase = wallbox.DefaultTopicBase
	}

	return &Discovery{
		opts:     opts,
		entities: Entities(opts.TopicBase),
	}, nil
}

// ConfigTopic returns {prefix}/{component}/{node_id}/{object_id}/config.
func (d *Discovery) ConfigTopic(e Entity) string {
	return d.opts.Prefix + "/" + e.Component + "/" + d.opts.NodeID + "/" + e.ObjectID + "/config"
}

// UniqueID returns easywallbox_{device}_{object_id}.
func (d *Discovery) UniqueID(objectID string) string {
	return "easywallbox_" + sanitizeID(d.opts.DeviceID) + "_" + objectID
}

// Document builds the full config of e.
func (d *Discovery) Document(e Entity) Config {
	cfg := e.Config
	cfg.UniqueID = d.UniqueID(e.ObjectID)
	cfg.ObjectID = d.opts.NodeID + "_" + e.ObjectID
	cfg.AvailabilityTopic = wallbox.AvailabilityTopic(d.opts.TopicBase)
	cfg.PayloadAvailable = wallbox.PayloadOnline
	cfg.PayloadNotAvailable = wallbox.PayloadOffline
	cfg.Device = &Device{
		Identifiers:  []string{d.opts.DeviceID},
		Name:         deviceName,
		Manufacturer: deviceManufacturer,
		Model:        deviceModel,
		SWVersion:    d.opts.Version,
	}
	return cfg
}

// PublishDiscovery publishes every entity config as a retained message.
// All entities are attempted; the returned error joins the failures.
func (d *Discovery) PublishDiscovery() error {
	var errs []error
	for _, e := range d.entities {
		payload, err := json.Marshal(d.Document(e))
		if err != nil {
			errs = append(errs, fmt.Errorf("marshal %s: %w", e.ObjectID, err))
			continue
		}
		topic := d.ConfigTopic(e)
		if err := d.opts.Publisher.Publish(topic, payload, d.opts.QoS, true); err != nil {
			errs = append(errs, fmt.Errorf("%w: %s: %w", ErrPublishFailed, topic, err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		d.logWarn("discovery partially published", "failed", len(errs), "total", len(d.entities))
		return err
	}
	d.logInfo("published discovery configs", "entities", len(d.entities), "prefix", d.opts.Prefix)
	return nil
}

// sanitizeID lowercases id and drops address separators.
func sanitizeID(id string) string {
	return strings.NewReplacer(":", "", "-", "", " ", "").Replace(strings.ToLower(id))
}

func (d *Discovery) logInfo(msg string, kv ...any) {
	if d.opts.Logger != nil {
		d.opts.Logger.Info(msg, kv...)
	}
}

func (d *Discovery) logWarn(msg string, kv ...any) {
	if d.opts.Logger != nil {
		d.opts.Logger.Warn(msg, kv...)
	}
}
