package blocklist

import (
	"context"
	"errors"
	"time"

	"shrike/internal/config"
	"shrike/internal/database"
	"shrike/internal/support"

	"github.com/charmbracelet/log"
)

const sweepLockKey = "shrike:leader:block_retention_sweep"

// StartRetentionSweep runs the periodic purge of expired temporary blocks.
// The sweep is leadership-locked so only one instance prunes the shared
// table; when redis is unreachable the sweep falls back to running locally.
func (r *Registry) StartRetentionSweep(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	err := support.RunWithLeader(ctx, sweepLockKey, support.DefaultLeadershipTTL, func(leaderCtx context.Context) {
		r.runSweepLoop(leaderCtx)
	})
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}

	log.Warn("Retention sweep running without leader lock", "error", err)
	r.runSweepLoop(ctx)
}

func (r *Registry) runSweepLoop(ctx context.Context) {
	ticker := time.NewTicker(config.GetConfig().SweepInterval())
	defer ticker.Stop()

	r.SweepExpired(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.SweepExpired(ctx)
		}
	}
}

// SweepExpired removes temporary entries older than the retention window.
// Permanent entries are never touched. Removed IPs leave the membership
// cache and their firewall rules are withdrawn.
func (r *Registry) SweepExpired(ctx context.Context) {
	cfg := config.GetConfig()
	cutoff := time.Now().UTC().Add(-cfg.RetentionWindow())

	expired, err := database.PurgeExpiredBlocks(ctx, cutoff)
	if err != nil {
		log.Error("Block retention sweep failed", "error", err)
		return
	}
	if len(expired) == 0 {
		return
	}

	r.mu.Lock()
	for _, ip := range expired {
		delete(r.active, ip)
	}
	r.mu.Unlock()

	for _, ip := range expired {
		if err := r.enforcer.Allow(ip); err != nil {
			log.Warn("Failed to remove firewall rule for expired block", "ip", ip, "error", err)
		}
		r.publish(Event{Type: EventUnblock, IP: ip, Timestamp: time.Now().UTC()})
	}

	log.Info("Expired temporary blocks removed", "count", len(expired))
}
