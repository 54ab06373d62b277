// models/transaction.go
package models

import (
	"slices"
	"time"
)

const TransactionTable = "gear_transactions"

type TransactionStatus string

const (
	TxnOpen   TransactionStatus = "OPEN"
	TxnClosed TransactionStatus = "CLOSED"
)

type Transaction struct {
	ID              string               `gorm:"size:32;primaryKey" json:"id"` // TXN-XXXXXX
	UserID          string               `gorm:"size:64;index;not null" json:"userId"`
	AdditionalUsers []string             `gorm:"type:jsonb;serializer:json" json:"additionalUsers"`
	Items           []string             `gorm:"type:jsonb;serializer:json" json:"items"`
	// Pending lists items already in Items whose checkout has not been
	// confirmed yet. Empty outside an in-flight or interrupted checkout.
	Pending         []string             `gorm:"type:jsonb;serializer:json" json:"pending,omitempty"`
	Conditions      map[string]Condition `gorm:"column:pre_checkout_conditions;type:jsonb;serializer:json" json:"preCheckoutConditions"`
	Status          TransactionStatus    `gorm:"size:16;index;not null;default:'OPEN'" json:"status"`
	Project         string               `gorm:"size:255" json:"project"`
	TimestampOut    time.Time            `gorm:"index;not null" json:"timestampOut"`
	ClosedAt        *time.Time           `json:"closedAt,omitempty"`
	Version         int64                `gorm:"not null;default:1" json:"version"` // bumped on every write
	CreatedAt       time.Time            `json:"createdAt"`
	UpdatedAt       time.Time            `json:"updatedAt"`
}

func (Transaction) TableName() string { return TransactionTable }

func (t *Transaction) HasItem(equipmentID string) bool {
	return slices.Contains(t.Items, equipmentID)
}

// Involves reports whether userID holds the transaction, as primary or
// additional holder.
func (t *Transaction) Involves(userID string) bool {
	return t.UserID == userID || slices.Contains(t.AdditionalUsers, userID)
}

// Clone returns a deep copy so callers can stage edits without touching t.
func (t *Transaction) Clone() *Transaction {
	c := *t
	c.AdditionalUsers = slices.Clone(t.AdditionalUsers)
	c.Items = slices.Clone(t.Items)
	c.Pending = slices.Clone(t.Pending)
	if t.Conditions != nil {
		c.Conditions = make(map[string]Condition, len(t.Conditions))
		for k, v := range t.Conditions {
			c.Conditions[k] = v
		}
	}
	if t.ClosedAt != nil {
		at := *t.ClosedAt
		c.ClosedAt = &at
	}
	return &c
}
