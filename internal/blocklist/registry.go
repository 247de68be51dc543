package blocklist

import (
	"context"
	"errors"
	"sync"
	"time"

	"shrike/internal/config"
	"shrike/internal/database"
	"shrike/internal/domain"
	"shrike/internal/metrics"

	"github.com/charmbracelet/log"
)

const defaultBlockReason = "Suspicious activity"

// Event is the payload published to the suspicious-events topic for every
// block and unblock action.
type Event struct {
	Type      string    `json:"type"`
	IP        string    `json:"ip"`
	Reason    string    `json:"reason,omitempty"`
	Permanent bool      `json:"permanent"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	EventBlock   = "BLOCK_IP"
	EventUnblock = "UNBLOCK_IP"
)

// EventPublisher forwards block lifecycle events to the event bus. Publish
// failures are the publisher's concern; the registry never rolls back on
// them.
type EventPublisher interface {
	Publish(topic, key string, payload any) error
}

// Registry owns the blocked-IP set: the durable rows, the in-memory
// membership cache the edge middleware consults, and the per-process
// de-duplication of firewall enforcement. The durable record stays
// authoritative; the cache is rebuilt from it on startup.
type Registry struct {
	mu     sync.Mutex
	active map[string]struct{}

	enforcer Enforcer
	events   EventPublisher
}

func NewRegistry(enforcer Enforcer, events EventPublisher) *Registry {
	if enforcer == nil {
		enforcer = NopEnforcer{}
	}
	return &Registry{
		active:   make(map[string]struct{}),
		enforcer: enforcer,
		events:   events,
	}
}

// Initialize hydrates the in-memory membership cache from the durable store.
func (r *Registry) Initialize(ctx context.Context) error {
	entries, err := database.ListBlockedIPs(ctx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.active = make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		r.active[entry.IP] = struct{}{}
	}
	return nil
}

// Block records ip as blocked. Re-blocking refreshes the stored reason,
// permanence and timestamp but triggers the firewall side effect at most
// once per process lifetime. A failed durable write is logged and the
// in-memory block still applies, so the edge check keeps holding the line.
func (r *Registry) Block(ctx context.Context, ip, reason string, permanent bool) error {
	if ip == "" {
		return errors.New("blocklist: ip is required")
	}
	if reason == "" {
		reason = defaultBlockReason
	}

	now := time.Now().UTC()
	storeErr := database.UpsertBlockedIP(ctx, domain.BlockedIP{
		IP:        ip,
		Reason:    reason,
		Permanent: permanent,
		CreatedAt: now,
	})
	if storeErr != nil {
		metrics.StoreErrors.WithLabelValues("blocked_ip").Inc()
		log.Error("Failed to persist block entry", "ip", ip, "error", storeErr)
	}

	r.mu.Lock()
	_, alreadyBlocked := r.active[ip]
	r.active[ip] = struct{}{}
	r.mu.Unlock()

	if !alreadyBlocked {
		metrics.BlockActions.WithLabelValues("block").Inc()
		log.Warn("IP blocked", "ip", ip, "reason", reason, "permanent", permanent)
		if err := r.enforcer.Deny(ip); err != nil {
			log.Error("Firewall enforcement failed, durable block stands", "ip", ip, "error", err)
		}
	}

	r.publish(Event{Type: EventBlock, IP: ip, Reason: reason, Permanent: permanent, Timestamp: now})

	return storeErr
}

// Unblock removes the durable entry and drops ip from the membership cache,
// re-arming enforcement for a future block.
func (r *Registry) Unblock(ctx context.Context, ip string) error {
	if ip == "" {
		return errors.New("blocklist: ip is required")
	}

	storeErr := database.DeleteBlockedIP(ctx, ip)
	if storeErr != nil {
		metrics.StoreErrors.WithLabelValues("blocked_ip").Inc()
		log.Error("Failed to delete block entry", "ip", ip, "error", storeErr)
	}

	r.mu.Lock()
	_, wasBlocked := r.active[ip]
	delete(r.active, ip)
	r.mu.Unlock()

	if wasBlocked {
		metrics.BlockActions.WithLabelValues("unblock").Inc()
		log.Info("IP unblocked", "ip", ip)
		if err := r.enforcer.Allow(ip); err != nil {
			log.Warn("Failed to remove firewall rule", "ip", ip, "error", err)
		}
	}

	r.publish(Event{Type: EventUnblock, IP: ip, Timestamp: time.Now().UTC()})

	return storeErr
}

// IsBlocked is the fast-path membership check the edge middleware runs on
// every inbound request.
func (r *Registry) IsBlocked(ip string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, found := r.active[ip]
	return found
}

// ListBlocked returns all durable block entries, newest first.
func (r *Registry) ListBlocked(ctx context.Context) ([]domain.BlockedIP, error) {
	return database.ListBlockedIPs(ctx)
}

func (r *Registry) publish(event Event) {
	if r.events == nil {
		return
	}

	topic := config.GetConfig().Kafka.Topics.Suspicious
	if topic == "" {
		topic = "suspicious-events"
	}
	if err := r.events.Publish(topic, event.IP, event); err != nil {
		metrics.PublishErrors.WithLabelValues(topic).Inc()
		log.Warn("Failed to publish block event", "type", event.Type, "ip", event.IP, "error", err)
	}
}
