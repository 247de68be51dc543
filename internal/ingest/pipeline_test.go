package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"shrike/internal/blocklist"
	"shrike/internal/classify"
	"shrike/internal/config"
	"shrike/internal/database"
	"shrike/internal/domain"
	"shrike/internal/enrich"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupPipelineTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_fk=1", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite database: %v", err)
	}

	if err := db.AutoMigrate(&domain.VisitLog{}, &domain.BlockedIP{}); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}

	database.DB = db
	t.Cleanup(func() {
		database.DB = nil
	})

	return db
}

type staticResolver struct {
	location enrich.Location
}

func (s staticResolver) Resolve(context.Context, string) (enrich.Location, error) {
	return s.location, nil
}

type recordingPublisher struct {
	mu       sync.Mutex
	messages []publishedMessage
}

type publishedMessage struct {
	topic   string
	key     string
	payload []byte
}

func (r *recordingPublisher) Publish(topic, key string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, publishedMessage{topic: topic, key: key, payload: data})
	return nil
}

func (r *recordingPublisher) byTopic(topic string) []publishedMessage {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []publishedMessage
	for _, msg := range r.messages {
		if msg.topic == topic {
			out = append(out, msg)
		}
	}
	return out
}

func setupPipelineConfig(t *testing.T, rules []string) {
	t.Helper()

	var cfg config.Config
	cfg.Rules.PipelineRules = rules
	cfg.Rules.MaliciousPaths = []string{"/wp-admin/setup-config.php", "/.env"}
	cfg.Kafka.Topics.Visits = "visits"
	cfg.Kafka.Topics.Suspicious = "suspicious-events"
	cfg.Ingest.Workers = 4
	cfg.Ingest.DrainGraceSeconds = 5
	config.SetConfigForTests(cfg)
	t.Cleanup(func() {
		config.SetConfigForTests(config.Config{})
	})
}

func newTestPipeline(events *recordingPublisher, location enrich.Location) (*Pipeline, *blocklist.Registry) {
	counters := classify.NewCounterStore()
	engine := classify.NewEngine(counters, config.GetConfig().Rules.PipelineRules)
	registry := blocklist.NewRegistry(nil, events)
	resolver := staticResolver{location: location}
	return NewPipeline(resolver, engine, counters, registry, events), registry
}

func runPipeline(t *testing.T, pipeline *Pipeline, lines ...string) {
	t.Helper()

	feed := make(chan string, len(lines))
	for _, line := range lines {
		feed <- line
	}
	close(feed)

	done := make(chan struct{})
	go func() {
		pipeline.Run(context.Background(), feed)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("pipeline did not drain in time")
	}
}

func TestPipelineStoresAndPublishesCleanVisit(t *testing.T) {
	db := setupPipelineTestDB(t)
	setupPipelineConfig(t, []string{classify.RuleMaliciousPath})

	events := &recordingPublisher{}
	lat, lng := 48.85, 2.35
	pipeline, registry := newTestPipeline(events, enrich.Location{
		Country:   "FR",
		City:      "Paris",
		Latitude:  &lat,
		Longitude: &lng,
		Org:       "Example ISP",
	})

	runPipeline(t, pipeline, sampleLine)

	var stored []domain.VisitLog
	if err := db.Find(&stored).Error; err != nil {
		t.Fatalf("query visits: %v", err)
	}
	if len(stored) != 1 {
		t.Fatalf("stored %d visits, want 1", len(stored))
	}

	visit := stored[0]
	if visit.Suspicious {
		t.Errorf("clean request marked suspicious, reason %v", visit.SuspicionReason)
	}
	if visit.Country != "FR" || visit.City != "Paris" {
		t.Errorf("enrichment not applied: country=%q city=%q", visit.Country, visit.City)
	}
	if visit.ASNOrg == nil || *visit.ASNOrg != "Example ISP" {
		t.Errorf("ASNOrg = %v", visit.ASNOrg)
	}
	if visit.Browser == "" || visit.OS == "" {
		t.Errorf("user agent not parsed: browser=%q os=%q", visit.Browser, visit.OS)
	}
	if registry.IsBlocked(visit.IP) {
		t.Errorf("clean visitor %s was blocked", visit.IP)
	}

	visits := events.byTopic("visits")
	if len(visits) != 1 {
		t.Fatalf("published %d visit events, want 1", len(visits))
	}
	if visits[0].key != "shop.example.com" {
		t.Errorf("visit event key = %q, want project domain", visits[0].key)
	}
}

func TestPipelineBlocksSuspiciousVisitor(t *testing.T) {
	db := setupPipelineTestDB(t)
	setupPipelineConfig(t, []string{classify.RuleMaliciousPath})

	events := &recordingPublisher{}
	pipeline, registry := newTestPipeline(events, enrich.Location{})

	line := `198.51.100.9 - example.com [10/Oct/2025:13:55:36 +0000] "GET /.env HTTP/1.1" 404 153 "-" "curl/8.4.0"`
	runPipeline(t, pipeline, line)

	if !registry.IsBlocked("198.51.100.9") {
		t.Fatal("scanner IP was not blocked")
	}

	var visit domain.VisitLog
	if err := db.First(&visit).Error; err != nil {
		t.Fatalf("query visit: %v", err)
	}
	if !visit.Suspicious {
		t.Error("visit not marked suspicious")
	}
	if visit.SuspicionReason == nil || *visit.SuspicionReason != classify.ReasonMaliciousPath {
		t.Errorf("SuspicionReason = %v", visit.SuspicionReason)
	}

	var blocked []domain.BlockedIP
	if err := db.Find(&blocked).Error; err != nil {
		t.Fatalf("query blocked ips: %v", err)
	}
	if len(blocked) != 1 || blocked[0].IP != "198.51.100.9" {
		t.Fatalf("blocked rows = %+v, want one row for scanner", blocked)
	}

	suspicious := events.byTopic("suspicious-events")
	if len(suspicious) != 1 {
		t.Fatalf("published %d block events, want 1", len(suspicious))
	}
	var event blocklist.Event
	if err := json.Unmarshal(suspicious[0].payload, &event); err != nil {
		t.Fatalf("decode block event: %v", err)
	}
	if event.Type != blocklist.EventBlock || event.IP != "198.51.100.9" {
		t.Errorf("block event = %+v", event)
	}
}

func TestPipelineSkipsMalformedLines(t *testing.T) {
	db := setupPipelineTestDB(t)
	setupPipelineConfig(t, []string{classify.RuleMaliciousPath})

	events := &recordingPublisher{}
	pipeline, _ := newTestPipeline(events, enrich.Location{})

	runPipeline(t, pipeline, "not an access log line", sampleLine)

	var count int64
	if err := db.Model(&domain.VisitLog{}).Count(&count).Error; err != nil {
		t.Fatalf("count visits: %v", err)
	}
	if count != 1 {
		t.Errorf("stored %d visits, want only the valid line", count)
	}
}
