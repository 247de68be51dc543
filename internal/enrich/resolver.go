package enrich

import (
	"context"

	"shrike/internal/config"

	"github.com/charmbracelet/log"
)

// Location holds the network-origin attributes resolved for an IP. A zero
// Location is the "no data" result the pipeline falls back to whenever a
// lookup fails or times out.
type Location struct {
	Country   string   `json:"country"`
	Region    string   `json:"region"`
	City      string   `json:"city"`
	Latitude  *float64 `json:"lat"`
	Longitude *float64 `json:"lon"`
	Org       string   `json:"org"`
}

func (l Location) IsZero() bool {
	return l.Country == "" && l.Region == "" && l.City == "" &&
		l.Latitude == nil && l.Longitude == nil && l.Org == ""
}

// Resolver resolves an IP address to geographic and network-origin data.
// Implementations are best-effort: callers treat an error as a zero Location.
type Resolver interface {
	Resolve(ctx context.Context, ip string) (Location, error)
}

// NewFromConfig builds the resolver chain the pipeline uses: the remote
// lookup service when an endpoint is configured, the local GeoLite databases
// otherwise, both behind the short-horizon cache.
func NewFromConfig(cfg config.Config) Resolver {
	var base Resolver

	if cfg.Enrichment.Endpoint != "" {
		base = NewHTTPResolver(cfg.Enrichment.Endpoint, cfg.Enrichment.APIKey, cfg.EnrichmentTimeout())
		log.Info("Enrichment using remote lookup service", "endpoint", cfg.Enrichment.Endpoint)
	} else {
		geo, err := NewGeoLiteResolver(cfg.Enrichment.CityDBPath, cfg.Enrichment.ASNDBPath)
		if err != nil {
			log.Warn("Enrichment databases unavailable, records will carry no origin data", "error", err)
			return nopResolver{}
		}
		base = geo
		log.Info("Enrichment using local GeoLite databases")
	}

	return NewCachedResolver(base, cfg.EnrichmentCacheTTL())
}

type nopResolver struct{}

func (nopResolver) Resolve(context.Context, string) (Location, error) {
	return Location{}, nil
}
