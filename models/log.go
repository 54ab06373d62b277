package models

import "time"

const LogTable = "gear_logs"

// Action is the audit verb recorded for every state change.
type Action string

const (
	ActionCheckout   Action = "CHECKOUT"
	ActionReturn     Action = "RETURN"
	ActionVerify     Action = "VERIFY"
	ActionEdit       Action = "EDIT" // manual edits and automatic closures
	ActionAddItem    Action = "ADD_ITEM"
	ActionRemoveItem Action = "REMOVE_ITEM"
	ActionCreate     Action = "CREATE"
	ActionCleanup    Action = "CLEANUP"
	ActionUser       Action = "USER"
)

// Log is append-only. UserID is nil for system actions.
type Log struct {
	ID        string    `gorm:"size:64;primaryKey" json:"id"`
	Action    Action    `gorm:"size:32;index;not null" json:"action"`
	EntityID  string    `gorm:"size:64;index;not null" json:"entityId"`
	UserID    *string   `gorm:"size:64;index" json:"userId,omitempty"`
	Timestamp time.Time `gorm:"index;not null" json:"timestamp"`
	Details   string    `gorm:"type:text" json:"details"`
}

func (Log) TableName() string { return LogTable }
