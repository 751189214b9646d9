package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"faultline/internal/domain"
	"faultline/internal/queue"
)

// ConfigTopic overrides the default alert topic for a kafka channel.
const ConfigTopic = "topic"

// ProducerFactory opens a producer for a topic.
type ProducerFactory func(topic string) queue.Producer

// KafkaTransport publishes the message JSON to a topic, keyed by fingerprint
// hash so every alert for one error group lands on the same partition.
type KafkaTransport struct {
	defaultTopic string
	newProducer  ProducerFactory

	mu        sync.Mutex
	producers map[string]queue.Producer
}

// NewKafkaTransport creates a kafka transport. Producers are opened lazily,
// one per topic.
func NewKafkaTransport(defaultTopic string, newProducer ProducerFactory) *KafkaTransport {
	return &KafkaTransport{
		defaultTopic: defaultTopic,
		newProducer:  newProducer,
		producers:    make(map[string]queue.Producer),
	}
}

// Send publishes msg to the channel's topic.
func (t *KafkaTransport) Send(ctx context.Context, ch domain.NotificationChannel, msg *Message) error {
	topic := ch.Config[ConfigTopic]
	if topic == "" {
		topic = t.defaultTopic
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal alert message: %w", err)
	}

	err = t.producer(topic).Publish(ctx, &queue.Message{
		Key:   []byte(msg.Hash),
		Value: payload,
		Headers: map[string]string{
			queue.HeaderKind:     queue.KindAlert,
			queue.HeaderSeverity: string(msg.Severity),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to publish alert: %w", err)
	}
	return nil
}

func (t *KafkaTransport) producer(topic string) queue.Producer {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.producers[topic]
	if !ok {
		p = t.newProducer(topic)
		t.producers[topic] = p
	}
	return p
}

// Close closes every producer opened so far.
func (t *KafkaTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var errs []error
	for topic, p := range t.producers {
		if err := p.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close producer for %s: %w", topic, err))
		}
	}
	t.producers = make(map[string]queue.Producer)
	return errors.Join(errs...)
}
