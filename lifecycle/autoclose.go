package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log"

	"gear_checkout/models"
)

// autoClose closes every OPEN transaction holding equipmentID whose items
// are all resolved. Failures are logged; ReconcileStaleTransactions picks
// up anything left open.
func (e *Engine) autoClose(ctx context.Context, equipmentID, actorID, trigger string) []string {
	open, err := e.store.OpenTransactionsWithItem(ctx, equipmentID)
	if err != nil {
		log.Printf("[lifecycle] auto-close lookup for %s failed: %v", equipmentID, err)
		return nil
	}
	var closed []string
	for i := range open {
		ok, err := e.closeIfResolved(ctx, &open[i], actorID, trigger)
		if err != nil {
			log.Printf("[lifecycle] auto-close of %s failed: %v", open[i].ID, err)
			continue
		}
		if ok {
			closed = append(closed, open[i].ID)
		}
	}
	return closed
}

// closeIfResolved re-reads every item of t and closes t when none is
// outstanding. Losing the close to another actor is not an error and does
// not log twice.
func (e *Engine) closeIfResolved(ctx context.Context, t *models.Transaction, actorID, trigger string) (bool, error) {
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		if t.Status != models.TxnOpen {
			return false, nil
		}
		// a checkout still in flight, or one reconcile has not repaired yet
		if len(t.Pending) > 0 {
			return false, nil
		}
		items, err := e.currentItems(ctx, t)
		if err != nil {
			return false, err
		}
		if !Resolved(items) {
			return false, nil
		}
		next := t.Clone()
		closedAt := e.now()
		next.Status = models.TxnClosed
		next.ClosedAt = &closedAt
		err = e.store.UpdateTransaction(ctx, next)
		if err == nil {
			e.obs.ObserveClose(trigger)
			e.record(ctx, models.ActionEdit, next.ID, actorID,
				fmt.Sprintf("Transaction auto-closed (%s): all %d item(s) returned and resolved", trigger, len(next.Items)))
			*t = *next
			return true, nil
		}
		if !errors.Is(err, ErrStaleWrite) {
			return false, fmt.Errorf("close transaction %s: %w", t.ID, err)
		}
		fresh, gerr := e.store.GetTransaction(ctx, t.ID)
		if gerr != nil {
			return false, fmt.Errorf("reload transaction %s: %w", t.ID, gerr)
		}
		*t = *fresh
	}
	return false, conflict("transaction", t.ID, "concurrent_update", "")
}

func (e *Engine) currentItems(ctx context.Context, t *models.Transaction) ([]models.Equipment, error) {
	items := make([]models.Equipment, 0, len(t.Items))
	for _, id := range t.Items {
		it, err := e.store.GetEquipment(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("transaction %s item %s: %w", t.ID, id, err)
		}
		items = append(items, *it)
	}
	return items, nil
}
