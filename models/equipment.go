// models/equipment.go
package models

import "time"

const EquipmentTable = "gear_equipment"

type EquipmentStatus string

const (
	StatusAvailable           EquipmentStatus = "AVAILABLE"
	StatusCheckedOut          EquipmentStatus = "CHECKED_OUT"
	StatusPendingVerification EquipmentStatus = "PENDING_VERIFICATION"
	StatusMaintenance         EquipmentStatus = "MAINTENANCE"
	StatusDamaged             EquipmentStatus = "DAMAGED"
	StatusLost                EquipmentStatus = "LOST"
)

// Held reports whether the status keeps the item with a holder.
// Only held statuses may carry an assignment.
func (s EquipmentStatus) Held() bool {
	return s == StatusCheckedOut || s == StatusPendingVerification
}

func (s EquipmentStatus) Valid() bool {
	switch s {
	case StatusAvailable, StatusCheckedOut, StatusPendingVerification,
		StatusMaintenance, StatusDamaged, StatusLost:
		return true
	}
	return false
}

type Condition string

const (
	ConditionOK             Condition = "OK"
	ConditionScratches      Condition = "SCRATCHES"
	ConditionNotFunctioning Condition = "NOT_FUNCTIONING"
	ConditionNeedsBattery   Condition = "NEEDS_BATTERY"
	ConditionLooseMount     Condition = "LOOSE_MOUNT"
	ConditionDamaged        Condition = "DAMAGED"
)

func (c Condition) Valid() bool {
	switch c {
	case ConditionOK, ConditionScratches, ConditionNotFunctioning,
		ConditionNeedsBattery, ConditionLooseMount, ConditionDamaged:
		return true
	}
	return false
}

type Equipment struct {
	ID         string          `gorm:"size:64;primaryKey" json:"id"`
	Barcode    string          `gorm:"size:120;uniqueIndex;not null" json:"barcode"` // printed on the label
	Name       string          `gorm:"size:200;not null" json:"name"`
	Category   string          `gorm:"size:120;index" json:"category"`
	Location   string          `gorm:"size:120" json:"location"`
	Status     EquipmentStatus `gorm:"size:32;index;not null;default:'AVAILABLE'" json:"status"`
	Condition  Condition       `gorm:"size:32;not null;default:'OK'" json:"condition"`
	AssignedTo *string         `gorm:"size:64;index" json:"assignedTo"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

func (Equipment) TableName() string { return EquipmentTable }

// Assignee returns the holder id or "" when unassigned.
func (e *Equipment) Assignee() string {
	if e.AssignedTo == nil {
		return ""
	}
	return *e.AssignedTo
}
