// Package mqttfeed binds the MQTT transport to the change feed hub and the geo context.
package mqttfeed

import (
	"context"
	"encoding/json"
	"strings"
	"sync/atomic"

	"github.com/tphakala/safetynet-go/internal/feed"
	"github.com/tphakala/safetynet-go/internal/geo"
	"github.com/tphakala/safetynet-go/internal/logger"
	"github.com/tphakala/safetynet-go/internal/mqtt"
)

// Publisher accepts raw change envelopes. *feed.Hub implements it.
type Publisher interface {
	Publish(c feed.Change)
}

// PositionSink accepts position samples. *geo.Context implements it.
type PositionSink interface {
	Update(s geo.Sample) bool
}

// Config names the topics to consume.
type Config struct {
	TopicPrefix   string
	PositionTopic string
}

// Source consumes change and position topics.
type Source struct {
	client    mqtt.Client
	config    Config
	publisher Publisher
	positions PositionSink
	log       logger.Logger

	undecodable atomic.Uint64
	positionsIn atomic.Uint64
}

// New creates a source. positions may be nil, which disables the position feed.
func New(client mqtt.Client, config Config, publisher Publisher, positions PositionSink, log logger.Logger) *Source {
	if log == nil {
		log = logger.NewDiscardLogger()
	}
	config.TopicPrefix = strings.TrimSuffix(config.TopicPrefix, "/")
	return &Source{
		client:    client,
		config:    config,
		publisher: publisher,
		positions: positions,
		log:       log.Module("mqttfeed"),
	}
}

// ChangeTopic returns the topic filter matching every table.
func (s *Source) ChangeTopic() string {
	return s.config.TopicPrefix + "/+"
}

// Start registers the subscriptions and connects. Subscriptions are re-applied by
// the client after every reconnect.
func (s *Source) Start(ctx context.Context) error {
	if err := s.client.Subscribe(s.ChangeTopic(), 1, s.handleChange); err != nil {
		return err
	}
	if s.positions != nil && s.config.PositionTopic != "" {
		if err := s.client.Subscribe(s.config.PositionTopic, 0, s.handlePosition); err != nil {
			return err
		}
	}
	return s.client.Connect(ctx)
}

// Stop disconnects from the broker.
func (s *Source) Stop() {
	s.client.Disconnect()
}

// Undecodable returns how many messages were not valid JSON envelopes.
func (s *Source) Undecodable() uint64 {
	return s.undecodable.Load()
}

func (s *Source) handleChange(topic string, payload []byte) {
	var c feed.Change
	if err := json.Unmarshal(payload, &c); err != nil {
		s.undecodable.Add(1)
		s.log.Warn("dropping undecodable change message",
			logger.String("topic", topic),
			logger.Int("bytes", len(payload)),
			logger.Error(err))
		return
	}
	if c.Table == "" {
		c.Table = s.tableFromTopic(topic)
	}
	s.publisher.Publish(c)
}

func (s *Source) tableFromTopic(topic string) string {
	return strings.TrimPrefix(topic, s.config.TopicPrefix+"/")
}

func (s *Source) handlePosition(topic string, payload []byte) {
	var sample geo.Sample
	if err := json.Unmarshal(payload, &sample); err != nil {
		s.log.Warn("dropping undecodable position sample", logger.String("topic", topic), logger.Error(err))
		return
	}
	if !s.positions.Update(sample) {
		s.log.Debug("position sample ignored",
			logger.Float64("lat", sample.Lat),
			logger.Float64("lng", sample.Lng),
			logger.Time("timestamp", sample.Timestamp))
		return
	}
	s.positionsIn.Add(1)
}
