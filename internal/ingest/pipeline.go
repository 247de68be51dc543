package ingest

import (
	"context"
	"sync"
	"time"

	"shrike/internal/blocklist"
	"shrike/internal/classify"
	"shrike/internal/config"
	"shrike/internal/database"
	"shrike/internal/enrich"
	"shrike/internal/metrics"
	"shrike/internal/useragent"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/semaphore"
)

const defaultWorkers = 32

// Publisher is the slice of the event bus the pipeline needs.
type Publisher interface {
	Publish(topic, key string, payload any) error
}

// Pipeline consumes raw access-log lines and turns each into an enriched,
// classified, persisted and published visit record. Lines are processed
// concurrently under a worker bound; a record that trips a rule gets its
// source IP blocked before the record is stored.
type Pipeline struct {
	resolver enrich.Resolver
	engine   *classify.Engine
	counters *classify.CounterStore
	registry *blocklist.Registry
	events   Publisher
}

func NewPipeline(resolver enrich.Resolver, engine *classify.Engine, counters *classify.CounterStore, registry *blocklist.Registry, events Publisher) *Pipeline {
	return &Pipeline{
		resolver: resolver,
		engine:   engine,
		counters: counters,
		registry: registry,
		events:   events,
	}
}

// Run drains lines until the channel closes or ctx is cancelled. In-flight
// records get a grace period to finish before Run returns.
func (p *Pipeline) Run(ctx context.Context, lines <-chan string) {
	cfg := config.GetConfig()

	workers := int64(cfg.Ingest.Workers)
	if workers <= 0 {
		workers = defaultWorkers
	}
	sem := semaphore.NewWeighted(workers)

	var wg sync.WaitGroup

	for {
		select {
		case <-ctx.Done():
			p.drain(&wg)
			return
		case line, ok := <-lines:
			if !ok {
				p.drain(&wg)
				return
			}

			metrics.LinesRead.Inc()

			if err := sem.Acquire(ctx, 1); err != nil {
				p.drain(&wg)
				return
			}

			wg.Add(1)
			go func(line string) {
				defer wg.Done()
				defer sem.Release(1)
				p.process(ctx, line)
			}(line)
		}
	}
}

// drain waits for in-flight records, bounded by the configured grace period.
func (p *Pipeline) drain(wg *sync.WaitGroup) {
	grace := time.Duration(config.GetConfig().Ingest.DrainGraceSeconds) * time.Second
	if grace <= 0 {
		grace = 10 * time.Second
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(grace):
		log.Warn("Pipeline drain grace period elapsed with records still in flight")
	}
}

func (p *Pipeline) process(ctx context.Context, line string) {
	record, err := ParseLine(line)
	if err != nil {
		metrics.ParseFailures.Inc()
		log.Debug("Skipping malformed access log line", "error", err)
		return
	}

	cfg := config.GetConfig()

	lookupCtx, cancel := context.WithTimeout(ctx, cfg.EnrichmentTimeout())
	location, err := p.resolver.Resolve(lookupCtx, record.IP)
	cancel()
	if err != nil {
		log.Debug("Enrichment lookup failed, continuing without origin data", "ip", record.IP, "error", err)
	}

	record.Country = location.Country
	record.Region = location.Region
	record.City = location.City
	record.Latitude = location.Latitude
	record.Longitude = location.Longitude
	if location.Org != "" {
		org := location.Org
		record.ASNOrg = &org
	}

	client := useragent.Parse(record.UserAgent)
	record.Browser = client.Browser
	record.OS = client.OS
	record.Device = client.Device

	verdict := p.engine.Classify(record)
	record.Suspicious = verdict.Suspicious
	if verdict.Suspicious {
		reason := verdict.Reason
		record.SuspicionReason = &reason

		if err := p.registry.Block(ctx, record.IP, reason, false); err != nil {
			log.Error("Failed to persist block for suspicious IP", "ip", record.IP, "error", err)
		}
		p.counters.Reset(record.IP)
	}

	metrics.VisitsProcessed.WithLabelValues(boolLabel(verdict.Suspicious)).Inc()

	if err := database.InsertVisit(ctx, record); err != nil {
		metrics.StoreErrors.WithLabelValues("visit").Inc()
		log.Error("Failed to store visit record", "ip", record.IP, "error", err)
	}

	topic := cfg.Kafka.Topics.Visits
	if topic == "" {
		topic = "visits"
	}
	if err := p.events.Publish(topic, record.ProjectDomain, record); err != nil {
		metrics.PublishErrors.WithLabelValues(topic).Inc()
		log.Error("Failed to publish visit event", "topic", topic, "error", err)
	}
}

func boolLabel(value bool) string {
	if value {
		return "true"
	}
	return "false"
}
