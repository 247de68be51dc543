package enrich

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"
)

// GeoLiteResolver reads the GeoLite2 City and ASN databases from disk.
// Either database may be absent; missing data simply leaves the matching
// fields empty.
type GeoLiteResolver struct {
	cityDB *geoip2.Reader
	asnDB  *geoip2.Reader
}

func NewGeoLiteResolver(cityPath, asnPath string) (*GeoLiteResolver, error) {
	resolver := &GeoLiteResolver{}

	if cityPath != "" {
		db, err := geoip2.Open(cityPath)
		if err == nil {
			resolver.cityDB = db
		}
	}
	if asnPath != "" {
		db, err := geoip2.Open(asnPath)
		if err == nil {
			resolver.asnDB = db
		}
	}

	if resolver.cityDB == nil && resolver.asnDB == nil {
		return nil, errors.New("enrich: no GeoLite database could be opened")
	}
	return resolver, nil
}

func (r *GeoLiteResolver) Resolve(_ context.Context, ipAddress string) (Location, error) {
	ip := net.ParseIP(ipAddress)
	if ip == nil {
		return Location{}, fmt.Errorf("enrich: invalid IP %q", ipAddress)
	}

	var loc Location

	if r.cityDB != nil {
		record, err := r.cityDB.City(ip)
		if err == nil {
			loc.Country = record.Country.IsoCode
			loc.City = record.City.Names["en"]
			if len(record.Subdivisions) > 0 {
				loc.Region = record.Subdivisions[0].IsoCode
			}
			if record.Location.Latitude != 0 || record.Location.Longitude != 0 {
				lat, lng := record.Location.Latitude, record.Location.Longitude
				loc.Latitude = &lat
				loc.Longitude = &lng
			}
		}
	}

	if r.asnDB != nil {
		record, err := r.asnDB.ASN(ip)
		if err == nil {
			loc.Org = record.AutonomousSystemOrganization
		}
	}

	return loc, nil
}

func (r *GeoLiteResolver) Close() error {
	var errs []error
	if r.cityDB != nil {
		errs = append(errs, r.cityDB.Close())
	}
	if r.asnDB != nil {
		errs = append(errs, r.asnDB.Close())
	}
	return errors.Join(errs...)
}
