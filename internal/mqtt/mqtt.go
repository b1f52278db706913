// mqtt.go: Package mqtt carries the change feed and the position feed over an MQTT broker.
package mqtt

import (
	"context"
	"time"
)

// MessageHandler receives the topic and payload of one message.
type MessageHandler func(topic string, payload []byte)

// Client defines the MQTT operations the feeds need.
type Client interface {
	// Connect starts the connection. The client keeps retrying in the background
	// when the broker is unreachable.
	Connect(ctx context.Context) error

	// Subscribe registers handler for topic. Subscriptions survive reconnects.
	Subscribe(topic string, qos byte, handler MessageHandler) error

	// Publish sends a message to topic.
	Publish(ctx context.Context, topic string, payload []byte) error

	IsConnected() bool

	Disconnect()
}

// Config holds the configuration for the MQTT client.
type Config struct {
	Broker            string
	ClientID          string
	Username          string
	Password          string
	ConnectTimeout    time.Duration
	PublishTimeout    time.Duration
	DisconnectTimeout time.Duration
}

// Observer is notified about connection state changes. The metrics package implements it.
type Observer interface {
	MQTTConnected(connected bool)
	MQTTMessage(topic string)
}

type nopObserver struct{}

func (nopObserver) MQTTConnected(bool) {}
func (nopObserver) MQTTMessage(string) {}
