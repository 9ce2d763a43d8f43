// Package models provides data model definitions for the sync engine.
package models

import (
	"encoding/json"
	"time"
)

// Resolution is the strategy applied to a conflict. The zero value means
// the conflict is still open.
type Resolution string

const (
	ResolutionNone   Resolution = ""
	ResolutionLocal  Resolution = "local"
	ResolutionServer Resolution = "server"
	ResolutionMerge  Resolution = "merge"
	ResolutionManual Resolution = "manual"
)

// Valid reports whether r is one of the four recognised strategies.
func (r Resolution) Valid() bool {
	switch r {
	case ResolutionLocal, ResolutionServer, ResolutionMerge, ResolutionManual:
		return true
	}
	return false
}

// Conflict records a local unsynced edit that collided with a newer
// server version. Rows are kept after resolution as an audit trail.
type Conflict struct {
	ID              UUID            `db:"id" json:"id"`
	EntityType      string          `db:"entity_type" json:"entity_type"`
	EntityID        string          `db:"entity_id" json:"entity_id"`
	LocalSnapshot   json.RawMessage `db:"local_snapshot" json:"local_snapshot"`
	RemoteSnapshot  json.RawMessage `db:"remote_snapshot" json:"remote_snapshot"`
	LocalUpdatedAt  time.Time       `db:"local_updated_at" json:"local_updated_at"`
	RemoteUpdatedAt time.Time       `db:"remote_updated_at" json:"remote_updated_at"`
	DetectedAt      time.Time       `db:"detected_at" json:"detected_at"`
	Resolution      Resolution      `db:"resolution" json:"resolution,omitempty"`
	ResolvedAt      *time.Time      `db:"resolved_at" json:"resolved_at,omitempty"`
	ResolvedData    json.RawMessage `db:"resolved_data" json:"resolved_data,omitempty"`
}

// TableName returns the table name for Conflict.
func (Conflict) TableName() string {
	return "conflicts"
}

// IsResolved reports whether a resolution has been applied.
func (c *Conflict) IsResolved() bool {
	return c.Resolution != ResolutionNone
}
