package lifecycle

import (
	"fmt"

	"gear_checkout/models"
)

// Op names an equipment transition.
type Op string

const (
	OpCheckout Op = "checkout"
	OpReturn   Op = "return"
	OpVerify   Op = "verify"
	OpRelease  Op = "release" // removal from an open transaction
	OpEdit     Op = "edit"
)

type transition struct {
	from map[models.EquipmentStatus]struct{} // nil = any status
	to   map[models.EquipmentStatus]struct{}
}

var equipmentTransitions = map[Op]transition{
	OpCheckout: {
		from: toSet(models.StatusAvailable),
		to:   toSet(models.StatusCheckedOut),
	},
	OpReturn: {
		from: toSet(models.StatusCheckedOut),
		to:   toSet(models.StatusPendingVerification),
	},
	OpVerify: {
		from: toSet(models.StatusPendingVerification),
		to:   toSet(models.StatusAvailable, models.StatusDamaged, models.StatusMaintenance),
	},
	OpRelease: {
		from: toSet(models.StatusCheckedOut, models.StatusPendingVerification),
		to:   toSet(models.StatusAvailable),
	},
	OpEdit: {
		to: toSet(models.StatusAvailable, models.StatusMaintenance, models.StatusDamaged, models.StatusLost),
	},
}

func toSet(states ...models.EquipmentStatus) map[models.EquipmentStatus]struct{} {
	out := make(map[models.EquipmentStatus]struct{}, len(states))
	for _, s := range states {
		out[s] = struct{}{}
	}
	return out
}

// CanTransition reports whether op may move an item from one status to another.
func CanTransition(op Op, from, to models.EquipmentStatus) bool {
	t, ok := equipmentTransitions[op]
	if !ok {
		return false
	}
	if t.from != nil {
		if _, ok := t.from[from]; !ok {
			return false
		}
	}
	_, ok = t.to[to]
	return ok
}

// checkTransition returns InvalidState when the current status does not
// admit op and Validation when the requested target is not an outcome of op.
func checkTransition(op Op, e *models.Equipment, to models.EquipmentStatus) error {
	t, ok := equipmentTransitions[op]
	if !ok {
		return fmt.Errorf("unknown transition %q", op)
	}
	if _, ok := t.to[to]; !ok {
		return validation("equipment", e.ID, "invalid_target_status", fmt.Sprintf("%s cannot produce %s", op, to))
	}
	if t.from != nil {
		if _, ok := t.from[e.Status]; !ok {
			return invalidState("equipment", e.ID, "invalid_status_for_"+string(op), "current status "+string(e.Status))
		}
	}
	return nil
}

// Outstanding reports whether an item still blocks its transaction from closing.
func Outstanding(s models.EquipmentStatus) bool { return s.Held() }

// Resolved reports whether a transaction over these items may close.
// An empty item list never qualifies: an emptied transaction stays open
// as a record until someone acts on it.
func Resolved(items []models.Equipment) bool {
	if len(items) == 0 {
		return false
	}
	for _, it := range items {
		if Outstanding(it.Status) {
			return false
		}
	}
	return true
}

// CheckAssignment enforces assignedTo set <=> status held.
func CheckAssignment(e *models.Equipment) error {
	held := e.Status.Held()
	assigned := e.Assignee() != ""
	if held && !assigned {
		return fmt.Errorf("equipment %s: status %s requires an assignee", e.ID, e.Status)
	}
	if !held && assigned {
		return fmt.Errorf("equipment %s: status %s must not carry an assignee", e.ID, e.Status)
	}
	return nil
}
