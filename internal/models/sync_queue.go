// Package models provides data model definitions for the sync engine.
package models

import (
	"encoding/json"
	"time"
)

// Operation is the kind of local mutation a queue item carries.
type Operation string

const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

// Valid reports whether op is one of the recognised operations.
func (op Operation) Valid() bool {
	switch op {
	case OperationCreate, OperationUpdate, OperationDelete:
		return true
	}
	return false
}

// QueueStatus is the lifecycle state of a queue item.
type QueueStatus string

const (
	QueueStatusPending QueueStatus = "pending"
	QueueStatusSyncing QueueStatus = "syncing"
	QueueStatusSynced  QueueStatus = "synced"
	QueueStatusError   QueueStatus = "error"
)

// QueueItem represents a pending local mutation.
type QueueItem struct {
	Seq        int64           `db:"seq" json:"-"`
	ID         UUID            `db:"id" json:"id"`
	Operation  Operation       `db:"operation" json:"operation"`
	EntityType string          `db:"entity_type" json:"entity_type"`
	EntityID   string          `db:"entity_id" json:"entity_id"`
	Payload    json.RawMessage `db:"payload" json:"payload"` // null for delete
	EnqueuedAt time.Time       `db:"enqueued_at" json:"enqueued_at"`
	Status     QueueStatus     `db:"status" json:"status"`
	RetryCount int             `db:"retry_count" json:"retry_count"`
	LastError  string          `db:"last_error" json:"last_error,omitempty"`
}

// TableName returns the table name for QueueItem.
func (QueueItem) TableName() string {
	return "sync_queue"
}
