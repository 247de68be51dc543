package domain

import "time"

// BlockedIP is one IP under block. At most one row exists per IP; re-blocking
// refreshes Reason, Permanent and CreatedAt in place. Temporary rows are
// removed by the retention sweep, permanent rows only by an explicit unblock.
type BlockedIP struct {
	ID uint64 `gorm:"primaryKey;autoIncrement" json:"-"`

	// IP holds the address string (normalized, e.g. 192.0.2.1).
	IP string `gorm:"size:45;uniqueIndex;not null" json:"ip"`

	Reason    string    `gorm:"size:255;not null;default:'Suspicious activity'" json:"reason"`
	Permanent bool      `gorm:"not null;default:false" json:"permanent"`
	CreatedAt time.Time `json:"createdAt"`
}
