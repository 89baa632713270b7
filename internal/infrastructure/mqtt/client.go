package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/vigil-core/internal/infrastructure/config"
)

// MessageHandler receives messages delivered on a subscribed topic. Paho
// invokes handlers on its own goroutines, so they must not block for long.
// A returned error is logged; it does not affect message acknowledgement.
type MessageHandler func(topic string, payload []byte) error

// Logger is the narrow logging surface the client needs.
// Both *logging.Logger and *slog.Logger satisfy it.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Client is the single broker connection shared by the telemetry bridge and
// the command tracker. It keeps a routing table of active subscriptions so
// they survive broker reconnects, republishes the retained system status on
// every connect, and registers an LWT so the broker announces an unclean
// death on vigil/system/status.
//
// All methods are safe for concurrent use.
type Client struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig

	// connected mirrors the broker session state. Set optimistically after
	// the initial Connect succeeds because paho fires the OnConnect handler
	// asynchronously.
	connected atomic.Bool

	// mu guards the routing table and the optional hooks below.
	mu            sync.Mutex
	subscriptions map[string]subscription
	onConnect     func()
	onDisconnect  func(err error)
	logger        Logger
}

// subscription is one row of the routing table, replayed after a reconnect.
type subscription struct {
	qos     byte
	handler MessageHandler
}

// Connect dials the broker described by cfg and returns a ready client.
// The connection carries an offline LWT, auto-reconnect with backoff from
// cfg.Reconnect, and an online status published retained on each (re)connect.
// Fails with ErrConnectionFailed if the broker does not answer within the
// connect timeout.
func Connect(cfg config.MQTTConfig) (*Client, error) {
	c := &Client{
		cfg:           cfg,
		subscriptions: make(map[string]subscription),
	}

	opts := buildClientOptions(cfg)
	configureLWT(opts, cfg.Broker.ClientID)
	opts.SetOnConnectHandler(func(_ pahomqtt.Client) { c.brokerUp() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.brokerDown(err) })

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c.connected.Store(true)
	return c, nil
}

// brokerUp runs on every successful (re)connect: replays the routing table,
// announces the service online, then fires the user hook.
func (c *Client) brokerUp() {
	c.connected.Store(true)

	c.mu.Lock()
	for topic, sub := range c.subscriptions {
		// Failures here surface through the next HealthCheck.
		c.client.Subscribe(topic, sub.qos, c.route(sub.handler))
	}
	hook := c.onConnect
	c.mu.Unlock()

	c.client.Publish(Topics{}.SystemStatus(), byte(c.cfg.QoS), true,
		buildOnlinePayload(c.cfg.Broker.ClientID))

	if hook != nil {
		hook()
	}
}

// brokerDown runs when the session drops; paho keeps retrying in the
// background until brokerUp fires again.
func (c *Client) brokerDown(err error) {
	c.connected.Store(false)

	c.mu.Lock()
	hook := c.onDisconnect
	c.mu.Unlock()
	if hook != nil {
		hook(err)
	}
}

// Close publishes a graceful offline status, which replaces the retained
// online payload so subscribers can tell a clean shutdown from a crash LWT,
// then disconnects with a short quiesce for in-flight publishes.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	if c.IsConnected() {
		token := c.client.Publish(Topics{}.SystemStatus(), byte(c.cfg.QoS), true,
			buildOfflinePayload(c.cfg.Broker.ClientID))
		token.WaitTimeout(defaultPublishTimeout)
	}

	c.client.Disconnect(defaultDisconnectQuiesce)
	c.connected.Store(false)
	return nil
}

// HealthCheck reports whether the broker session is currently up.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected reports the last known session state.
func (c *Client) IsConnected() bool {
	return c.connected.Load() && c.client.IsConnected()
}

// SetOnConnect registers a hook invoked on the initial connect and on every
// reconnect, after subscriptions have been replayed.
func (c *Client) SetOnConnect(hook func()) {
	c.mu.Lock()
	c.onConnect = hook
	c.mu.Unlock()
}

// SetOnDisconnect registers a hook invoked when the broker session drops.
func (c *Client) SetOnDisconnect(hook func(err error)) {
	c.mu.Lock()
	c.onDisconnect = hook
	c.mu.Unlock()
}

// SetLogger supplies a logger for handler errors and recovered panics.
// Without one, handler failures are dropped silently.
func (c *Client) SetLogger(logger Logger) {
	c.mu.Lock()
	c.logger = logger
	c.mu.Unlock()
}

func (c *Client) currentLogger() Logger {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.logger
}

// route adapts a MessageHandler to paho's callback shape. A panicking
// handler must not take down the paho read loop, so panics are recovered
// and logged.
func (c *Client) route(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				if logger := c.currentLogger(); logger != nil {
					logger.Error("MQTT handler panic recovered",
						"topic", msg.Topic(),
						"panic", r,
					)
				}
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			if logger := c.currentLogger(); logger != nil {
				logger.Warn("MQTT handler returned error",
					"topic", msg.Topic(),
					"error", err,
				)
			}
		}
	}
}
