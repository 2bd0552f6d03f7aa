package domain

import "time"

// Idempotency remembers which VideoRequest a client-supplied key produced,
// keyed by (scope, key), so retried intake calls return the original record.
type Idempotency struct {
	ID        string    `gorm:"type:varchar(64);primaryKey"`
	Scope     string    `gorm:"type:varchar(64);not null;uniqueIndex:ux_scope_key,priority:1"`
	Key       string    `gorm:"type:varchar(255);not null;uniqueIndex:ux_scope_key,priority:2"`
	RequestID uint64    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime"`
	ExpiresAt time.Time `gorm:"not null;index"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }
