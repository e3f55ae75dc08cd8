package wallbox

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// storeTimeout bounds a single state store operation.
const storeTimeout = 5 * time.Second

// Command sources, used as metric labels.
const (
	sourceMQTT    = "mqtt"
	sourceAPI     = "api"
	sourceVerify  = "verify"
	sourceRefresh = "refresh"
	sourceControl = "control"
)

// MQTTClient is the interface for MQTT operations.
// This allows mocking in tests and flexibility in implementation.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error

	// Unsubscribe removes a subscription made with Subscribe.
	Unsubscribe(topic string) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// DeviceLink is the connection capability the coordinator drives.
// *ConnectionManager satisfies it.
type DeviceLink interface {
	CommandWriter
	ReportFault(err error)
	State() State
	Lines() <-chan Line
	SetOnConnectionChange(fn func(connected bool))
}

// StateStore persists the confirmed device state across restarts (optional).
type StateStore interface {
	LoadSnapshot(ctx context.Context) (Snapshot, error)
	SaveField(ctx context.Context, field string, value FieldValue) error
}

// Telemetry receives confirmed numeric device values (optional).
type Telemetry interface {
	WriteDeviceMetric(deviceID string, measurement string, value float64)
}

// DiscoveryPublisher announces the bridge entities to a dashboard (optional).
type DiscoveryPublisher interface {
	PublishDiscovery() error
}

// CoordinatorOptions holds configuration for creating a coordinator.
type CoordinatorOptions struct {
	// TopicBase is the MQTT prefix. Default: DefaultTopicBase.
	TopicBase string

	// QoS for subscriptions and publishes.
	QoS byte

	// DeviceID tags telemetry points. Usually the wallbox address.
	DeviceID string

	// MQTT is the broker client. Required.
	MQTT MQTTClient

	// Link is the wallbox connection. Required.
	Link DeviceLink

	// Queue is the dispatch queue. Default: a new CommandQueue.
	Queue *CommandQueue

	// Mapper maps topics to commands. Default: DefaultRoutes.
	Mapper *Mapper

	// Store, Telemetry and Discovery are optional.
	Store     StateStore
	Telemetry Telemetry
	Discovery DiscoveryPublisher

	// RefreshOnConnect queues the refresh batch after every authentication
	// so state topics are populated without user action.
	RefreshOnConnect bool

	// PollInterval bounds dispatcher waits. Default: 1 second.
	PollInterval time.Duration

	// OnStatusChange is called after every confirmed state or
	// connectivity change (optional).
	OnStatusChange func(Status)

	// Logger is optional.
	Logger Logger

	// Metrics is optional.
	Metrics *Metrics
}

// Coordinator routes MQTT commands to the wallbox and wallbox responses to
// MQTT state. Settings are only published once the wallbox confirms them:
// every successful index write is followed by a read of the same index.
type Coordinator struct {
	base      string
	qos       byte
	deviceID  string
	mqtt      MQTTClient
	link      DeviceLink
	queue     *CommandQueue
	mapper    *Mapper
	store     StateStore
	telemetry Telemetry
	discovery DiscoveryPublisher
	refresh   bool
	poll      time.Duration
	onStatus  func(Status)
	metrics   *Metrics

	state *DeviceState

	// Topics subscribed in Start, released in Stop.
	subscribed []string

	lastMu     sync.RWMutex
	lastData   string
	lastDataAt time.Time

	// Shutdown coordination
	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context
	ctxCancel context.CancelFunc

	logger   Logger
	loggerMu sync.RWMutex
}

// NewCoordinator creates a coordinator. Call Start to begin operation.
func NewCoordinator(opts CoordinatorOptions) (*Coordinator, error) {
	if opts.MQTT == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.Link == nil {
		return nil, fmt.Errorf("device link is required")
	}

	base := strings.TrimSuffix(opts.TopicBase, "/")
	if base == "" {
		base = DefaultTopicBase
	}
	queue := opts.Queue
	if queue == nil {
		queue = NewCommandQueue()
	}
	mapper := opts.Mapper
	if mapper == nil {
		mapper = NewMapper(DefaultRoutes())
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Coordinator{
		base:      base,
		qos:       opts.QoS,
		deviceID:  opts.DeviceID,
		mqtt:      opts.MQTT,
		link:      opts.Link,
		queue:     queue,
		mapper:    mapper,
		store:     opts.Store,
		telemetry: opts.Telemetry,
		discovery: opts.Discovery,
		refresh:   opts.RefreshOnConnect,
		poll:      durationOr(opts.PollInterval, defaultTakeTimeout),
		onStatus:  opts.OnStatusChange,
		metrics:   opts.Metrics,
		state:     NewDeviceState(),
		done:      make(chan struct{}),
		ctx:       ctx,
		ctxCancel: cancel,
		logger:    opts.Logger,
	}, nil
}

// SetLogger sets the logger.
func (c *Coordinator) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// Queue returns the dispatch queue.
func (c *Coordinator) Queue() *CommandQueue {
	return c.queue
}

// Start restores persisted state, subscribes to command topics and starts
// the dispatch and line-handling loops.
func (c *Coordinator) Start(ctx context.Context) error {
	c.link.SetOnConnectionChange(c.handleConnectionChange)
	c.restoreState(ctx)
	c.publishAvailability(c.link.IsConnected())

	topics := make([]string, 0, len(c.mapper.SubscriptionSuffixes())+1)
	for _, suffix := range c.mapper.SubscriptionSuffixes() {
		topics = append(topics, CommandTopic(c.base, suffix))
	}
	topics = append(topics, ControlTopic(c.base))
	for _, topic := range topics {
		if err := c.mqtt.Subscribe(topic, c.qos, c.handleMQTTMessage); err != nil {
			return fmt.Errorf("subscribe to %s: %w", topic, err)
		}
		c.subscribed = append(c.subscribed, topic)
		c.logDebug("subscribed", "topic", topic)
	}

	dispatcher, err := NewDispatcher(DispatcherOptions{
		Queue:        c.queue,
		Writer:       c.link,
		OnWritten:    c.afterWrite,
		PollInterval: c.poll,
		Logger:       c.currentLogger(),
		Metrics:      c.metrics,
	})
	if err != nil {
		return fmt.Errorf("creating dispatcher: %w", err)
	}

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		//nolint:errcheck // Run only returns nil
		dispatcher.Run(c.ctx)
	}()
	go c.lineLoop()

	c.publishDiscovery()

	c.logInfo("coordinator started", "topic_base", c.base)
	return nil
}

// Stop releases the command subscriptions and ends the dispatch and line
// loops. Queued commands are discarded. Safe to call multiple times.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		c.unsubscribe()
		close(c.done)
		c.ctxCancel()
		c.wg.Wait()
		c.logInfo("coordinator stopped")
	})
}

// unsubscribe drops the Start subscriptions so the broker stops routing
// commands to a bridge that will not dispatch them.
func (c *Coordinator) unsubscribe() {
	if !c.mqtt.IsConnected() {
		return
	}
	for _, topic := range c.subscribed {
		if err := c.mqtt.Unsubscribe(topic); err != nil {
			c.logWarn("unsubscribe failed", "topic", topic, "error", err)
		}
	}
	c.subscribed = nil
}

// Submit maps suffix and payload to commands and queues them in order.
// Returns how many commands were queued; zero means nothing matched.
func (c *Coordinator) Submit(suffix, payload string) int {
	return c.submit(sourceAPI, suffix, payload)
}

// Refresh queues the refresh batch.
func (c *Coordinator) Refresh() int {
	return c.enqueue(sourceRefresh, RefreshCommands())
}

// RequestReconnect queues the force-reconnect sentinel.
func (c *Coordinator) RequestReconnect() {
	c.queue.Enqueue(ForceReconnect)
	c.metrics.recordEnqueued(sourceControl, 1)
}

// OnMQTTConnect republishes availability and discovery. Wire it to the
// broker client's on-connect hook so a broker restart is recovered.
func (c *Coordinator) OnMQTTConnect() {
	c.publishAvailability(c.link.IsConnected())
	c.publishDiscovery()
}

// Status returns the dashboard view of the bridge.
func (c *Coordinator) Status() Status {
	c.lastMu.RLock()
	last, lastAt := c.lastData, c.lastDataAt
	c.lastMu.RUnlock()

	return Status{
		BLEConnected:  c.link.IsConnected(),
		MQTTConnected: c.mqtt.IsConnected(),
		LinkState:     c.link.State().String(),
		LastData:      last,
		LastDataAt:    lastAt,
		QueueDepth:    c.queue.Len(),
		State:         c.state.Snapshot(),
	}
}

// handleMQTTMessage processes an incoming command message.
func (c *Coordinator) handleMQTTMessage(topic string, payload []byte) {
	suffix, ok := TopicSuffix(c.base, topic)
	if !ok {
		c.logDebug("ignoring message outside topic base", "topic", topic)
		return
	}

	if suffix == suffixControl {
		c.handleControl(strings.TrimSpace(string(payload)))
		return
	}

	c.submit(sourceMQTT, suffix, string(payload))
}

func (c *Coordinator) handleControl(action string) {
	switch strings.ToLower(action) {
	case ControlReconnect:
		c.logInfo("reconnect requested")
		c.RequestReconnect()
	default:
		c.logDebug("unknown control action", "action", action)
	}
}

func (c *Coordinator) submit(source, suffix, payload string) int {
	cmds := c.mapper.Map(suffix, payload)
	if len(cmds) == 0 {
		c.logDebug("no command for message", "suffix", suffix, "payload", payload)
		return 0
	}
	return c.enqueue(source, cmds)
}

func (c *Coordinator) enqueue(source string, texts []string) int {
	cmds := make([]Command, len(texts))
	for i, t := range texts {
		cmds[i] = NewCommand(t)
	}
	c.queue.Enqueue(cmds...)
	c.metrics.recordEnqueued(source, len(cmds))
	c.metrics.setQueueDepth(c.queue.Len())
	c.logDebug("commands queued", "source", source, "count", len(cmds))
	return len(cmds)
}

// afterWrite queues the verifying read for every index write.
func (c *Coordinator) afterWrite(cmd Command) {
	read, ok := PairedRead(cmd.Text())
	if !ok {
		return
	}
	c.queue.Enqueue(NewCommand(read))
	c.metrics.recordEnqueued(sourceVerify, 1)
}

// lineLoop consumes framed lines until shutdown.
func (c *Coordinator) lineLoop() {
	defer c.wg.Done()

	lines := c.link.Lines()
	for {
		select {
		case <-c.done:
			return
		case line := <-lines:
			c.handleLine(line)
		}
	}
}

// handleLine publishes the raw line and applies recognised responses.
func (c *Coordinator) handleLine(line Line) {
	text := strings.TrimSpace(line.Text)
	if text == "" {
		return
	}

	now := time.Now()
	c.lastMu.Lock()
	c.lastData = text
	c.lastDataAt = now
	c.lastMu.Unlock()

	c.publish(MessageTopic(c.base), text, false)

	resp := ParseResponse(text)
	c.metrics.recordResponse(resp.Kind)

	switch resp.Kind {
	case ResponseIndexValue:
		field, ok := FieldForIndex(resp.Index)
		if !ok {
			c.logDebug("unmonitored index", "index", resp.Index, "value", resp.Value)
			return
		}
		c.updateField(field, resp.Value, now)

	case ResponseDPMStatus:
		field, _ := FieldByName(FieldDPM)
		c.updateField(field, resp.Value, now)

	case ResponseAuthOK:
		c.logInfo("wallbox accepted PIN")

	case ResponseAuthFailed, ResponseAuthError:
		c.logError("wallbox rejected PIN", ErrAuthRejected)
		c.link.ReportFault(ErrAuthRejected)

	case ResponseBusy, ResponseSyntaxError, ResponseWriteFailed:
		c.logWarn("wallbox reported error", "response", resp.Kind.String(), "channel", line.Channel.String())

	case ResponseLogoutOK:
		c.logDebug("wallbox logout acknowledged")

	default:
		c.logDebug("unrecognised line", "line", text, "channel", line.Channel.String())
	}
}

// updateField records a confirmed value and publishes it.
func (c *Coordinator) updateField(field Field, raw string, at time.Time) {
	value := field.stateValue(raw)
	changed := c.state.Set(field.Name, value, at)

	c.publish(StateTopic(c.base, field), value, true)

	if c.telemetry != nil {
		if n, err := strconv.ParseFloat(raw, 64); err == nil {
			c.telemetry.WriteDeviceMetric(c.deviceID, field.Name, n)
		}
	}

	if !changed {
		return
	}

	if c.store != nil {
		ctx, cancel := context.WithTimeout(c.ctx, storeTimeout)
		err := c.store.SaveField(ctx, field.Name, FieldValue{Value: value, UpdatedAt: at})
		cancel()
		if err != nil {
			c.logError("failed to persist state", err)
		}
	}

	c.logInfo("wallbox state changed", "field", field.Name, "value", value)
	c.notifyStatus()
}

func (c *Coordinator) handleConnectionChange(connected bool) {
	c.publishAvailability(connected)

	if connected && c.refresh {
		c.Refresh()
	}
	c.notifyStatus()
}

func (c *Coordinator) publishAvailability(connected bool) {
	availability, connectivity := PayloadOffline, PayloadOff
	if connected {
		availability, connectivity = PayloadOnline, PayloadOn
	}
	c.publish(AvailabilityTopic(c.base), availability, true)
	c.publish(ConnectivityTopic(c.base), connectivity, true)
}

func (c *Coordinator) publishDiscovery() {
	if c.discovery == nil {
		return
	}
	if err := c.discovery.PublishDiscovery(); err != nil {
		c.logError("failed to publish discovery", err)
	}
}

func (c *Coordinator) restoreState(ctx context.Context) {
	if c.store == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	snap, err := c.store.LoadSnapshot(ctx)
	if err != nil {
		c.logError("failed to load persisted state", err)
		return
	}
	c.state.Restore(snap)
	c.logInfo("restored wallbox state", "fields", len(snap))
}

// publish sends payload. Failures are logged and counted, never returned.
func (c *Coordinator) publish(topic, payload string, retained bool) {
	if err := c.mqtt.Publish(topic, []byte(payload), c.qos, retained); err != nil {
		c.metrics.recordPublishError()
		c.logError("publish failed", fmt.Errorf("%s: %w", topic, err))
	}
}

func (c *Coordinator) notifyStatus() {
	if c.onStatus != nil {
		c.onStatus(c.Status())
	}
}

func (c *Coordinator) currentLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

func (c *Coordinator) logInfo(msg string, keysAndValues ...any) {
	if logger := c.currentLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (c *Coordinator) logWarn(msg string, keysAndValues ...any) {
	if logger := c.currentLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

func (c *Coordinator) logError(msg string, err error) {
	if logger := c.currentLogger(); logger != nil {
		logger.Error(msg, "error", err)
	}
}

func (c *Coordinator) logDebug(msg string, keysAndValues ...any) {
	if logger := c.currentLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}
