// Package models provides data model definitions for the sync engine.
package models

import (
	"encoding/json"
	"time"
)

// MirrorStatus tells whether a mirrored entity has unsent local changes.
type MirrorStatus string

const (
	MirrorStatusPending MirrorStatus = "pending"
	MirrorStatusSynced  MirrorStatus = "synced"
)

// MirrorRecord is the locally cached copy of a server-owned entity.
type MirrorRecord struct {
	EntityType string          `db:"entity_type" json:"entity_type"`
	ID         string          `db:"id" json:"id"`
	Data       json.RawMessage `db:"data" json:"data"`
	UpdatedAt  time.Time       `db:"updated_at" json:"updated_at"`
	SyncStatus MirrorStatus    `db:"sync_status" json:"sync_status"`
}

// TableName returns the table name for MirrorRecord.
func (MirrorRecord) TableName() string {
	return "mirror_records"
}

// Record decodes the stored JSON object.
func (m *MirrorRecord) Record() (Record, error) {
	return DecodeRecord(m.Data)
}
