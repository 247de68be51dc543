package bus

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/IBM/sarama"
	"github.com/charmbracelet/log"
)

// Producer publishes JSON messages to the event bus. One shared instance
// serves the ingestion pipeline, the block registry and the admin API.
type Producer struct {
	producer sarama.SyncProducer
}

func NewProducer(brokers, clientID string) (*Producer, error) {
	cfg := sarama.NewConfig()
	cfg.ClientID = clientID
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForLocal

	producer, err := sarama.NewSyncProducer(SplitBrokers(brokers), cfg)
	if err != nil {
		return nil, fmt.Errorf("bus: create producer: %w", err)
	}

	return &Producer{producer: producer}, nil
}

// Publish serializes payload as JSON and sends it to topic, keyed so
// per-tenant messages stay ordered within a partition.
func (p *Producer) Publish(topic, key string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("bus: marshal payload for %s: %w", topic, err)
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.ByteEncoder(data),
	}
	if key != "" {
		msg.Key = sarama.StringEncoder(key)
	}

	if _, _, err := p.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("bus: send to %s: %w", topic, err)
	}
	return nil
}

func (p *Producer) Close() error {
	return p.producer.Close()
}

// EnsureTopics creates the configured topics when the broker does not have
// them yet. Pre-existing topics are fine; any other failure is reported so
// startup can log it, publishing still works once the topics appear.
func EnsureTopics(brokers, clientID string, topics []string) error {
	cfg := sarama.NewConfig()
	cfg.ClientID = clientID

	admin, err := sarama.NewClusterAdmin(SplitBrokers(brokers), cfg)
	if err != nil {
		return fmt.Errorf("bus: create cluster admin: %w", err)
	}
	defer func() {
		if err := admin.Close(); err != nil {
			log.Warn("Error closing kafka admin client", "error", err)
		}
	}()

	detail := &sarama.TopicDetail{NumPartitions: 1, ReplicationFactor: 1}

	var errs []error
	for _, topic := range topics {
		if topic == "" {
			continue
		}
		if err := admin.CreateTopic(topic, detail, false); err != nil {
			var topicErr *sarama.TopicError
			if errors.As(err, &topicErr) && topicErr.Err == sarama.ErrTopicAlreadyExists {
				continue
			}
			errs = append(errs, fmt.Errorf("bus: create topic %s: %w", topic, err))
		}
	}
	return errors.Join(errs...)
}

// SplitBrokers turns the comma-separated broker setting into an address
// list, dropping blanks and surrounding whitespace.
func SplitBrokers(brokers string) []string {
	parts := strings.Split(brokers, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
