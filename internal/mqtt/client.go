// client.go: paho based implementation of Client.
package mqtt

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/tphakala/safetynet-go/internal/errors"
	"github.com/tphakala/safetynet-go/internal/logger"
)

const (
	defaultConnectTimeout    = 10 * time.Second
	defaultPublishTimeout    = 5 * time.Second
	defaultDisconnectTimeout = 250 * time.Millisecond
)

type subscription struct {
	qos     byte
	handler MessageHandler
}

// client implements the Client interface.
type client struct {
	config   Config
	log      logger.Logger
	observer Observer

	mu             sync.Mutex
	internalClient pahomqtt.Client
	subscriptions  map[string]subscription
}

// NewClient creates a new MQTT client. Connect must be called before use.
func NewClient(config Config, log logger.Logger, observer Observer) (Client, error) {
	u, err := url.Parse(config.Broker)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, errors.Newf("invalid broker URL %q", config.Broker).
			Component("mqtt").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = defaultConnectTimeout
	}
	if config.PublishTimeout <= 0 {
		config.PublishTimeout = defaultPublishTimeout
	}
	if config.DisconnectTimeout <= 0 {
		config.DisconnectTimeout = defaultDisconnectTimeout
	}
	if log == nil {
		log = logger.NewDiscardLogger()
	}
	if observer == nil {
		observer = nopObserver{}
	}
	return &client{
		config:        config,
		log:           log.Module("mqtt"),
		observer:      observer,
		subscriptions: make(map[string]subscription),
	}, nil
}

// Connect establishes the broker connection. A broker that does not answer within
// the connect timeout is logged, and paho keeps retrying in the background.
func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.internalClient != nil {
		c.mu.Unlock()
		return nil
	}

	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(c.config.Broker)
	opts.SetClientID(c.config.ClientID)
	opts.SetUsername(c.config.Username)
	opts.SetPassword(c.config.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(time.Minute)
	opts.SetOrderMatters(true)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)
	opts.SetReconnectingHandler(func(pahomqtt.Client, *pahomqtt.ClientOptions) {
		c.log.Info("reconnecting to broker", logger.String("broker", c.config.Broker))
	})

	c.internalClient = pahomqtt.NewClient(opts)
	token := c.internalClient.Connect()
	c.mu.Unlock()

	timeout := c.config.ConnectTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = min(timeout, time.Until(deadline))
	}

	if !token.WaitTimeout(timeout) {
		c.log.Warn("broker not reachable yet, retrying in background",
			logger.String("broker", c.config.Broker),
			logger.Duration("waited", timeout))
		return nil
	}
	if err := token.Error(); err != nil {
		return errors.New(fmt.Errorf("connection error: %w", err)).
			Component("mqtt").
			Category(errors.CategoryMQTTConnection).
			Context("broker", c.config.Broker).
			Build()
	}
	return nil
}

// Subscribe records the subscription and applies it immediately when connected.
// onConnect re-applies all recorded subscriptions after every reconnect.
func (c *client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	c.mu.Lock()
	c.subscriptions[topic] = subscription{qos: qos, handler: handler}
	internal := c.internalClient
	c.mu.Unlock()

	if internal == nil || !internal.IsConnected() {
		return nil
	}
	return c.subscribe(internal, topic, subscription{qos: qos, handler: handler})
}

func (c *client) subscribe(internal pahomqtt.Client, topic string, sub subscription) error {
	token := internal.Subscribe(topic, sub.qos, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		c.observer.MQTTMessage(msg.Topic())
		sub.handler(msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(c.config.ConnectTimeout) {
		return errors.Newf("subscribe to %s timed out", topic).
			Component("mqtt").
			Category(errors.CategoryMQTTSubscribe).
			Build()
	}
	if err := token.Error(); err != nil {
		return errors.New(err).
			Component("mqtt").
			Category(errors.CategoryMQTTSubscribe).
			Context("topic", topic).
			Build()
	}
	c.log.Debug("subscribed", logger.String("topic", topic))
	return nil
}

// Publish sends a message to the specified topic on the MQTT broker.
func (c *client) Publish(ctx context.Context, topic string, payload []byte) error {
	c.mu.Lock()
	internal := c.internalClient
	c.mu.Unlock()

	if internal == nil || !internal.IsConnected() {
		return errors.Newf("not connected to MQTT broker").
			Component("mqtt").
			Category(errors.CategoryMQTTConnection).
			Build()
	}

	token := internal.Publish(topic, 1, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.config.PublishTimeout):
		return errors.Newf("publish to %s timed out", topic).
			Component("mqtt").
			Category(errors.CategoryTimeout).
			Build()
	}
	return token.Error()
}

// IsConnected returns true if the client is currently connected to the MQTT broker.
func (c *client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.internalClient != nil && c.internalClient.IsConnected()
}

// Disconnect closes the connection to the MQTT broker.
func (c *client) Disconnect() {
	c.mu.Lock()
	internal := c.internalClient
	c.internalClient = nil
	c.mu.Unlock()

	if internal != nil {
		internal.Disconnect(uint(c.config.DisconnectTimeout.Milliseconds()))
		c.observer.MQTTConnected(false)
	}
}

func (c *client) onConnect(internal pahomqtt.Client) {
	c.log.Info("connected to broker", logger.String("broker", c.config.Broker))
	c.observer.MQTTConnected(true)

	c.mu.Lock()
	subs := make(map[string]subscription, len(c.subscriptions))
	for topic, sub := range c.subscriptions {
		subs[topic] = sub
	}
	c.mu.Unlock()

	// Runs on paho's connection goroutine; subscribing inline would block it.
	go func() {
		for topic, sub := range subs {
			if err := c.subscribe(internal, topic, sub); err != nil {
				c.log.Error("resubscribe failed", logger.String("topic", topic), logger.Error(err))
			}
		}
	}()
}

func (c *client) onConnectionLost(_ pahomqtt.Client, err error) {
	c.log.Warn("connection to broker lost", logger.String("broker", c.config.Broker), logger.Error(err))
	c.observer.MQTTConnected(false)
}
