package domain

import "time"

// VisitLog is one observed HTTP request reconstructed from the access log.
// The path is stored percent-decoded so classification and queries see the
// same bytes the rules were evaluated against.
type VisitLog struct {
	ID uint64 `gorm:"primaryKey;autoIncrement" json:"-"`

	ProjectDomain string `gorm:"size:255;index" json:"projectDomain"`
	IP            string `gorm:"size:45;not null;index" json:"ip"`

	Method    string `gorm:"size:16" json:"method"`
	Path      string `gorm:"size:2048" json:"path"`
	Status    int    `json:"status"`
	BytesSent int64  `json:"bytesSent"`
	Referer   string `gorm:"size:2048" json:"referer"`
	UserAgent string `gorm:"size:1024" json:"userAgent"`

	Browser string `gorm:"size:128" json:"browser"`
	OS      string `gorm:"size:128" json:"os"`
	Device  string `gorm:"size:128" json:"device"`

	Country   string   `gorm:"size:8" json:"country"`
	Region    string   `gorm:"size:128" json:"region"`
	City      string   `gorm:"size:128" json:"city"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	ASNOrg    *string  `gorm:"size:255" json:"asnOrg"`

	Suspicious      bool    `gorm:"index" json:"suspicious"`
	SuspicionReason *string `gorm:"size:255" json:"suspicionReason"`

	Timestamp time.Time `json:"timestamp"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"-"`
}
