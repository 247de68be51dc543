package detect

import (
	"context"
	"encoding/json"
	"sync"

	"shrike/internal/blocklist"
	"shrike/internal/bus"
	"shrike/internal/classify"
	"shrike/internal/config"
	"shrike/internal/domain"
	"shrike/internal/metrics"

	"github.com/IBM/sarama"
	"github.com/charmbracelet/log"
)

// Detector replays the visit stream from the bus and applies a second,
// stream-oriented rule set to it. It exists to catch patterns that only
// emerge across many requests, independently of the inline pipeline checks.
type Detector struct {
	group    sarama.ConsumerGroup
	topic    string
	engine   *classify.Engine
	counters *classify.CounterStore
	registry *blocklist.Registry

	ready     chan struct{}
	readyOnce sync.Once
	errMu     sync.Mutex
	runErr    error
	wg        sync.WaitGroup
}

func NewDetector(engine *classify.Engine, counters *classify.CounterStore, registry *blocklist.Registry) (*Detector, error) {
	cfg := config.GetConfig()

	saramaConfig := sarama.NewConfig()
	saramaConfig.ClientID = cfg.Kafka.ClientID
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}

	groupID := cfg.Kafka.DetectorGroup
	if groupID == "" {
		groupID = "traffic-monitor"
	}
	topic := cfg.Kafka.DetectorTopic
	if topic == "" {
		topic = "visitor-logs"
	}

	group, err := sarama.NewConsumerGroup(bus.SplitBrokers(cfg.Kafka.Brokers), groupID, saramaConfig)
	if err != nil {
		return nil, err
	}

	return &Detector{
		group:    group,
		topic:    topic,
		engine:   engine,
		counters: counters,
		registry: registry,
		ready:    make(chan struct{}),
	}, nil
}

// Start joins the consumer group and blocks until the first generation is
// ready, then consumes in the background until ctx is cancelled. If the
// consume loop dies before the first session is established, Start returns
// the error instead of waiting forever.
func (d *Detector) Start(ctx context.Context) error {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for {
			if err := d.group.Consume(ctx, []string{d.topic}, d); err != nil {
				if ctx.Err() == nil {
					log.Error("Detector consumer session failed", "topic", d.topic, "error", err)
				}
				d.fail(err)
				return
			}
			if ctx.Err() != nil {
				d.markReady()
				return
			}
		}
	}()

	if err := d.waitReady(ctx); err != nil {
		return err
	}
	log.Info("Anomaly detector consuming", "topic", d.topic)
	return nil
}

func (d *Detector) markReady() {
	d.readyOnce.Do(func() { close(d.ready) })
}

func (d *Detector) fail(err error) {
	d.errMu.Lock()
	if d.runErr == nil {
		d.runErr = err
	}
	d.errMu.Unlock()
	d.markReady()
}

func (d *Detector) waitReady(ctx context.Context) error {
	select {
	case <-d.ready:
	case <-ctx.Done():
		return ctx.Err()
	}

	d.errMu.Lock()
	defer d.errMu.Unlock()
	return d.runErr
}

func (d *Detector) Close() error {
	err := d.group.Close()
	d.wg.Wait()
	return err
}

// Setup is run at the beginning of a new session, before ConsumeClaim.
// Rebalances re-run it, so readiness is signalled at most once.
func (d *Detector) Setup(sarama.ConsumerGroupSession) error {
	d.markReady()
	return nil
}

// Cleanup is run at the end of a session, once all ConsumeClaim goroutines
// have exited.
func (d *Detector) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim processes visit records from a single partition.
func (d *Detector) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case <-session.Context().Done():
			return nil
		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			d.handle(session.Context(), message.Value)
			session.MarkMessage(message, "")
		}
	}
}

func (d *Detector) handle(ctx context.Context, payload []byte) {
	var record domain.VisitLog
	if err := json.Unmarshal(payload, &record); err != nil {
		metrics.ParseFailures.Inc()
		log.Debug("Skipping undecodable visit message", "error", err)
		return
	}
	if record.IP == "" {
		return
	}

	verdict := d.engine.Classify(&record)
	if !verdict.Suspicious {
		return
	}

	log.Info("Detector flagged visitor", "ip", record.IP, "reason", verdict.Reason)

	if err := d.registry.Block(ctx, record.IP, verdict.Reason, false); err != nil {
		log.Error("Failed to persist detector block", "ip", record.IP, "error", err)
	}
	d.counters.Reset(record.IP)
}
