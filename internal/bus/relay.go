package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/IBM/sarama"
	"github.com/charmbracelet/log"
)

// Relay subscribes to the dashboard topics and forwards every message it
// receives, unmodified, to all connected live subscribers.
type Relay struct {
	group  sarama.ConsumerGroup
	hub    *Hub
	topics []string

	ready     chan struct{}
	readyOnce sync.Once
	errMu     sync.Mutex
	runErr    error
}

func NewRelay(brokers, groupID string, topics []string, hub *Hub) (*Relay, error) {
	cfg := sarama.NewConfig()
	cfg.Consumer.Return.Errors = true
	cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	cfg.Consumer.Group.Rebalance.Strategy = sarama.NewBalanceStrategyRoundRobin()

	group, err := sarama.NewConsumerGroup(SplitBrokers(brokers), groupID, cfg)
	if err != nil {
		return nil, fmt.Errorf("bus: create relay consumer group: %w", err)
	}

	return &Relay{
		group:  group,
		hub:    hub,
		topics: topics,
		ready:  make(chan struct{}),
	}, nil
}

// Start launches the consume loop and returns once the group is ready. A
// consume loop that dies before the first session surfaces its error here
// rather than leaving the caller waiting.
func (r *Relay) Start(ctx context.Context) error {
	go func() {
		for {
			if err := r.group.Consume(ctx, r.topics, r); err != nil {
				if ctx.Err() == nil {
					log.Error("Relay consumer error", "error", err)
				}
				r.fail(err)
				return
			}
			if ctx.Err() != nil {
				r.markReady()
				return
			}
		}
	}()

	if err := r.waitReady(ctx); err != nil {
		return err
	}
	log.Info("Dashboard relay started", "topics", r.topics)
	return nil
}

func (r *Relay) markReady() {
	r.readyOnce.Do(func() { close(r.ready) })
}

func (r *Relay) fail(err error) {
	r.errMu.Lock()
	if r.runErr == nil {
		r.runErr = err
	}
	r.errMu.Unlock()
	r.markReady()
}

func (r *Relay) waitReady(ctx context.Context) error {
	select {
	case <-r.ready:
	case <-ctx.Done():
		return ctx.Err()
	}

	r.errMu.Lock()
	defer r.errMu.Unlock()
	return r.runErr
}

func (r *Relay) Close() error {
	return r.group.Close()
}

// Setup runs at the start of every session; readiness fires only for the
// first one.
func (r *Relay) Setup(sarama.ConsumerGroupSession) error {
	r.markReady()
	return nil
}

func (r *Relay) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

func (r *Relay) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message := <-claim.Messages():
			if message == nil {
				return nil
			}
			r.hub.Broadcast(message.Topic, message.Value)
			session.MarkMessage(message, "")
		case <-session.Context().Done():
			return nil
		}
	}
}
