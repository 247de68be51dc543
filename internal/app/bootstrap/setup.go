package bootstrap

import (
	"context"

	"shrike/internal/blocklist"
	"shrike/internal/bus"
	"shrike/internal/classify"
	"shrike/internal/config"
	"shrike/internal/database"
	"shrike/internal/detect"
	"shrike/internal/enrich"
	"shrike/internal/ingest"
	"shrike/internal/support"

	"github.com/charmbracelet/log"
)

// Runtime holds the wired application components and the background workers
// feeding them.
type Runtime struct {
	Registry *blocklist.Registry
	Hub      *bus.Hub

	producer *bus.Producer
	relay    *bus.Relay
	detector *detect.Detector
	resolver enrich.Resolver
}

// Setup wires the whole processing chain: database, event bus, blocklist,
// enrichment, the tailing pipeline, the stream detector and the dashboard
// relay. Failures in hard dependencies are fatal; optional pieces (Kafka
// topic admin, the detector) degrade with a warning.
func Setup(ctx context.Context) *Runtime {
	config.ReadSettings()

	if support.GetEnvBool("CONFIG_REDIS_SYNC", true) {
		if redisClient, err := support.GetRedisClient(); err != nil {
			log.Warn("Redis unavailable, settings stay instance-local", "error", err)
		} else {
			config.EnableRedisSynchronization(ctx, redisClient)
		}
	}

	cfg := config.GetConfig()

	if _, err := database.SetupDB(); err != nil {
		log.Fatalf("failed to set up database: %v", err)
	}

	topics := dashboardTopics(cfg)
	if err := bus.EnsureTopics(cfg.Kafka.Brokers, cfg.Kafka.ClientID, topics); err != nil {
		log.Warn("Could not ensure bus topics, continuing with broker defaults", "error", err)
	}

	producer, err := bus.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.ClientID)
	if err != nil {
		log.Fatalf("failed to connect bus producer: %v", err)
	}

	// BLOCKLIST_ENFORCE overrides the settings file, so firewall writes can
	// be disabled per host without editing shared configuration.
	var enforcer blocklist.Enforcer
	if support.GetEnvBool("BLOCKLIST_ENFORCE", cfg.Blocklist.Enforce) {
		enforcer = blocklist.IPTablesEnforcer{}
	}
	registry := blocklist.NewRegistry(enforcer, producer)
	if err := registry.Initialize(ctx); err != nil {
		log.Fatalf("failed to hydrate blocklist: %v", err)
	}

	resolver := enrich.NewFromConfig(cfg)
	counters := classify.NewCounterStore()
	engine := classify.NewEngine(counters, cfg.Rules.PipelineRules)

	pipeline := ingest.NewPipeline(resolver, engine, counters, registry, producer)
	tailer := ingest.NewTailer(cfg.Ingest.AccessLogPath)
	if err := tailer.Preflight(); err != nil {
		log.Fatalf("access log unreadable: %v", err)
	}

	hub := bus.NewHub()
	relayGroup := cfg.Kafka.RelayGroup
	if relayGroup == "" {
		relayGroup = "dashboard-group"
	}
	relay, err := bus.NewRelay(cfg.Kafka.Brokers, relayGroup, topics, hub)
	if err != nil {
		log.Fatalf("failed to join relay consumer group: %v", err)
	}

	detector, err := detect.NewDetector(
		classify.NewEngine(counters, cfg.Rules.DetectorRules),
		counters,
		registry,
	)
	if err != nil {
		log.Warn("Anomaly detector unavailable", "error", err)
	}

	// Routines

	go tailer.Run(ctx)
	go pipeline.Run(ctx, tailer.Lines())
	go registry.StartRetentionSweep(ctx)
	if err := relay.Start(ctx); err != nil {
		log.Warn("Dashboard relay unavailable", "error", err)
	}
	if detector != nil {
		if err := detector.Start(ctx); err != nil {
			log.Warn("Anomaly detector not consuming", "error", err)
		}
	}

	return &Runtime{
		Registry: registry,
		Hub:      hub,
		producer: producer,
		relay:    relay,
		detector: detector,
		resolver: resolver,
	}
}

// dashboardTopics lists the topics mirrored onto the live dashboard, with
// defaults for anything the settings file leaves blank.
func dashboardTopics(cfg config.Config) []string {
	named := []struct{ value, fallback string }{
		{cfg.Kafka.Topics.Visits, "visits"},
		{cfg.Kafka.Topics.Suspicious, "suspicious-events"},
		{cfg.Kafka.Topics.Leads, "leads"},
		{cfg.Kafka.Topics.Deployments, "deployments"},
	}

	topics := make([]string, 0, len(named))
	for _, topic := range named {
		if topic.value == "" {
			topic.value = topic.fallback
		}
		topics = append(topics, topic.value)
	}
	return topics
}

// Close releases bus connections and the enrichment databases.
func (r *Runtime) Close() {
	if r.detector != nil {
		if err := r.detector.Close(); err != nil {
			log.Warn("error closing detector consumer", "error", err)
		}
	}
	if err := r.relay.Close(); err != nil {
		log.Warn("error closing relay consumer", "error", err)
	}
	if err := r.producer.Close(); err != nil {
		log.Warn("error closing bus producer", "error", err)
	}
	if closer, ok := r.resolver.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			log.Warn("error closing enrichment databases", "error", err)
		}
	}
}
