package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"strings"
	"time"

	"gear_checkout/models"
)

// PendingGrace is how long a transaction may carry pending items before
// reconcile treats its checkout as interrupted.
const PendingGrace = 2 * time.Minute

type ReconcileReport struct {
	Scanned int      `json:"scanned"`
	Closed  []string `json:"closed"`
	// Interrupted are transactions whose checkout never confirmed every
	// item; Dangling are the items reconcile dropped from them because they
	// were never checked out to the holder.
	Interrupted []string `json:"interrupted"`
	Dangling    []string `json:"dangling"`
	// Orphans are held items that no OPEN transaction references. They are
	// reported for a human to resolve, never changed here.
	Orphans  []string      `json:"orphans"`
	Failures []ItemFailure `json:"failures"`
}

// ReconcileStaleTransactions repairs interrupted checkouts and closes every
// OPEN transaction whose items are all resolved. Safe to run at any time; a
// second run with nothing to do changes nothing.
func (e *Engine) ReconcileStaleTransactions(ctx context.Context, actorID string) (rep *ReconcileReport, err error) {
	defer func() { e.obs.ObserveOperation("reconcile", err) }()

	open, err := e.store.ListTransactions(ctx, TransactionFilter{Status: models.TxnOpen})
	if err != nil {
		return nil, fmt.Errorf("list open transactions: %w", err)
	}
	rep = &ReconcileReport{
		Closed:      []string{},
		Interrupted: []string{},
		Dangling:    []string{},
		Orphans:     []string{},
		Failures:    []ItemFailure{},
	}
	referenced := map[string]struct{}{}
	for i := range open {
		t := &open[i]
		rep.Scanned++
		if len(t.Pending) > 0 && e.now().Sub(t.UpdatedAt) >= PendingGrace {
			dropped, rerr := e.repairPending(ctx, t, actorID)
			if rerr != nil {
				log.Printf("[lifecycle] reconcile %s: %v", t.ID, rerr)
				rep.Failures = append(rep.Failures, ItemFailure{ID: t.ID, Reason: rerr.Error()})
			} else {
				rep.Interrupted = append(rep.Interrupted, t.ID)
				rep.Dangling = append(rep.Dangling, dropped...)
				if t.Status == models.TxnClosed {
					rep.Closed = append(rep.Closed, t.ID)
					continue
				}
			}
		}
		closed, cerr := e.closeIfResolved(ctx, t, actorID, "reconcile")
		if cerr != nil {
			log.Printf("[lifecycle] reconcile %s: %v", t.ID, cerr)
			rep.Failures = append(rep.Failures, ItemFailure{ID: t.ID, Reason: cerr.Error()})
		}
		if closed {
			rep.Closed = append(rep.Closed, t.ID)
			continue
		}
		for _, id := range t.Items {
			referenced[id] = struct{}{}
		}
	}

	all, err := e.store.ListEquipment(ctx, EquipmentFilter{})
	if err != nil {
		return rep, fmt.Errorf("list equipment: %w", err)
	}
	for _, it := range all {
		if !it.Status.Held() {
			continue
		}
		if _, ok := referenced[it.ID]; !ok {
			rep.Orphans = append(rep.Orphans, it.ID)
		}
	}
	if len(rep.Orphans) > 0 {
		log.Printf("[lifecycle] reconcile found %d held item(s) outside any open transaction: %v", len(rep.Orphans), rep.Orphans)
	}
	return rep, nil
}

// repairPending settles an interrupted checkout: pending items that reached
// the holder stay, everything else is dropped from the transaction. A
// transaction left empty is closed.
func (e *Engine) repairPending(ctx context.Context, t *models.Transaction, actorID string) ([]string, error) {
	pending := slices.Clone(t.Pending)
	var drop []ItemFailure
	var dropped []string
	for _, id := range pending {
		it, err := e.store.GetEquipment(ctx, id)
		if err != nil && !errors.Is(err, ErrRecordNotFound) {
			return nil, fmt.Errorf("load equipment %s: %w", id, err)
		}
		if err == nil && it.Status.Held() && it.Assignee() == t.UserID {
			continue
		}
		drop = append(drop, ItemFailure{ID: id, Reason: "never_checked_out"})
		dropped = append(dropped, id)
	}
	if err := e.settle(ctx, t, pending, drop, actorID, true); err != nil {
		return nil, err
	}
	e.record(ctx, models.ActionEdit, t.ID, actorID,
		fmt.Sprintf("Repaired interrupted checkout: confirmed %d pending item(s), dropped [%s]",
			len(pending)-len(dropped), strings.Join(dropped, ", ")))
	return dropped, nil
}

type CleanupReport struct {
	Scanned  int           `json:"scanned"`
	Repaired []string      `json:"repaired"`
	Failures []ItemFailure `json:"failures"`
}

// CleanupStaleAssignments clears assignedTo on items whose status does not
// hold them. Transactions are not touched. Idempotent.
func (e *Engine) CleanupStaleAssignments(ctx context.Context, actorID string) (rep *CleanupReport, err error) {
	defer func() { e.obs.ObserveOperation("cleanup", err) }()

	assigned, err := e.store.ListEquipment(ctx, EquipmentFilter{Assigned: true})
	if err != nil {
		return nil, fmt.Errorf("list assigned equipment: %w", err)
	}
	rep = &CleanupReport{Repaired: []string{}, Failures: []ItemFailure{}}
	for _, it := range assigned {
		if it.Status.Held() || it.AssignedTo == nil {
			continue
		}
		rep.Scanned++
		stale := it.Assignee()
		if uerr := e.store.UpdateEquipment(ctx, it.ID, it.Status, EquipmentPatch{Unassign: true}); uerr != nil {
			rep.Failures = append(rep.Failures, ItemFailure{ID: it.ID, Reason: uerr.Error()})
			continue
		}
		rep.Repaired = append(rep.Repaired, it.ID)
		e.record(ctx, models.ActionCleanup, it.ID, actorID,
			fmt.Sprintf("Cleared stale assignment to %s on %s item %s", stale, it.Status, it.Barcode))
	}
	return rep, nil
}
