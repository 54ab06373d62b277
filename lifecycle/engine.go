// Package lifecycle owns every status change of equipment and transactions
// and the audit entries that describe them. Handlers must not write
// status, assignment or item membership any other way.
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

	"github.com/google/uuid"
)

// Observer receives operation outcomes, e.g. for metrics.
type Observer interface {
	ObserveOperation(op string, err error)
	ObserveClose(trigger string)
	ObserveBacklog(event string)
}

type nopObserver struct{}

func (nopObserver) ObserveOperation(string, error) {}
func (nopObserver) ObserveClose(string)            {}
func (nopObserver) ObserveBacklog(string)          {}

type Engine struct {
	store   Store
	backlog Backlog
	obs     Observer
	now     func() time.Time
	txnID   func() string
}

type Option func(*Engine)

func WithBacklog(b Backlog) Option { return func(e *Engine) { e.backlog = b } }

func WithObserver(o Observer) Option { return func(e *Engine) { e.obs = o } }

func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// WithTransactionIDs overrides transaction id generation.
func WithTransactionIDs(gen func() string) Option { return func(e *Engine) { e.txnID = gen } }

func New(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:   store,
		backlog: NewMemoryBacklog(),
		obs:     nopObserver{},
		now:     func() time.Time { return time.Now().UTC() },
		txnID:   NewTransactionID,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

const txnAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// NewTransactionID returns a human-readable id such as TXN-7KQ2MD.
func NewTransactionID() string {
	raw := uuid.New()
	var b strings.Builder
	b.WriteString("TXN-")
	for i := 0; i < 6; i++ {
		b.WriteByte(txnAlphabet[int(raw[i])%len(txnAlphabet)])
	}
	return b.String()
}

// maxWriteAttempts bounds read-validate-write retries on ErrStaleWrite.
const maxWriteAttempts = 3

// ─── Checkout ───────────────────────────────────────────────────────────────

type CheckoutRequest struct {
	EquipmentIDs        []string
	HolderID            string
	AdditionalHolderIDs []string
	Project             string
	ActorID             string
}

// ItemFailure explains why one item of a batch was not processed.
type ItemFailure struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

type CheckoutResult struct {
	Transaction *models.Transaction `json:"transaction"`
	// Skipped lists items that passed validation but were taken by a
	// concurrent actor before they could be flipped.
	Skipped []ItemFailure `json:"skipped,omitempty"`
}

// Checkout validates every item before mutating any, creates the OPEN
// transaction, then checks items out one by one.
func (e *Engine) Checkout(ctx context.Context, req CheckoutRequest) (res *CheckoutResult, err error) {
	defer func() { e.obs.ObserveOperation("checkout", err) }()

	if len(req.EquipmentIDs) == 0 {
		return nil, validation("transaction", "", "empty_items", "at least one item is required")
	}
	seen := make(map[string]struct{}, len(req.EquipmentIDs))
	dups := map[string]string{}
	for _, id := range req.EquipmentIDs {
		if _, ok := seen[id]; ok {
			dups[id] = "duplicate"
		}
		seen[id] = struct{}{}
	}
	if len(dups) > 0 {
		verr := validation("transaction", "", "duplicate_items", "")
		verr.Items = dups
		return nil, verr
	}
	if strings.TrimSpace(req.HolderID) == "" {
		return nil, validation("transaction", "", "missing_holder", "")
	}

	holder, err := e.store.GetUser(ctx, req.HolderID)
	if err != nil {
		return nil, e.lookupErr(err, "user", req.HolderID)
	}
	if !holder.Active {
		return nil, validation("user", holder.ID, "inactive_holder", "")
	}
	additional, err := e.additionalHolders(ctx, holder.ID, req.AdditionalHolderIDs)
	if err != nil {
		return nil, err
	}

	items := make([]*models.Equipment, 0, len(req.EquipmentIDs))
	missing := map[string]string{}
	unavailable := map[string]string{}
	for _, id := range req.EquipmentIDs {
		it, gerr := e.store.GetEquipment(ctx, id)
		if errors.Is(gerr, ErrRecordNotFound) {
			missing[id] = "not_found"
			continue
		}
		if gerr != nil {
			return nil, fmt.Errorf("load equipment %s: %w", id, gerr)
		}
		if !CanTransition(OpCheckout, it.Status, models.StatusCheckedOut) {
			unavailable[id] = string(it.Status)
		}
		items = append(items, it)
	}
	if len(missing) > 0 {
		nerr := notFound("equipment", "")
		nerr.Items = missing
		return nil, nerr
	}
	if len(unavailable) > 0 {
		verr := validation("equipment", "", "not_available", "")
		verr.Items = unavailable
		return nil, verr
	}
	claimed := map[string]string{}
	for _, it := range items {
		open, oerr := e.store.OpenTransactionsWithItem(ctx, it.ID)
		if oerr != nil {
			return nil, fmt.Errorf("open transactions for %s: %w", it.ID, oerr)
		}
		if len(open) > 0 {
			claimed[it.ID] = open[0].ID
		}
	}
	if len(claimed) > 0 {
		cerr := conflict("equipment", "", "claimed_by_open_transaction", "")
		cerr.Items = claimed
		return nil, cerr
	}

	// Items are listed as pending before any is flipped, so an interrupted
	// checkout leaves an under-filled transaction that reconcile can repair
	// instead of held items that belong to nothing.
	txn := &models.Transaction{
		UserID:          holder.ID,
		AdditionalUsers: additional,
		Items:           make([]string, 0, len(items)),
		Pending:         make([]string, 0, len(items)),
		Conditions:      make(map[string]models.Condition, len(items)),
		Status:          models.TxnOpen,
		Project:         strings.TrimSpace(req.Project),
		TimestampOut:    e.now(),
		Version:         1,
	}
	for _, it := range items {
		txn.Items = append(txn.Items, it.ID)
		txn.Pending = append(txn.Pending, it.ID)
		txn.Conditions[it.ID] = it.Condition
	}
	if err := e.insertTransaction(ctx, txn); err != nil {
		return nil, err
	}

	res = &CheckoutResult{Transaction: txn}
	checkedOut := models.StatusCheckedOut
	holderID := holder.ID
	for _, it := range items {
		uerr := e.store.UpdateEquipment(ctx, it.ID, models.StatusAvailable, EquipmentPatch{
			Status: &checkedOut,
			Assign: &holderID,
		})
		if uerr != nil {
			reason := "not_available"
			if !errors.Is(uerr, ErrStaleWrite) && !errors.Is(uerr, ErrRecordNotFound) {
				reason = "write_failed"
			}
			res.Skipped = append(res.Skipped, ItemFailure{ID: it.ID, Reason: reason})
		}
	}

	if err := e.settle(ctx, txn, slices.Clone(txn.Pending), res.Skipped, req.ActorID, true); err != nil {
		return nil, err
	}
	if len(txn.Items) == 0 {
		return nil, conflict("transaction", txn.ID, "all_items_taken", "every item was checked out concurrently")
	}

	e.record(ctx, models.ActionCheckout, txn.ID, req.ActorID,
		fmt.Sprintf("Checked out %d item(s) [%s] to %s for project %q",
			len(txn.Items), strings.Join(txn.Items, ", "), holder.ID, txn.Project))
	return res, nil
}

func (e *Engine) additionalHolders(ctx context.Context, holderID string, ids []string) ([]string, error) {
	out := make([]string, 0, len(ids))
	seen := map[string]struct{}{holderID: {}}
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		if _, err := e.store.GetUser(ctx, id); err != nil {
			return nil, e.lookupErr(err, "user", id)
		}
		out = append(out, id)
	}
	return out, nil
}

func (e *Engine) insertTransaction(ctx context.Context, txn *models.Transaction) error {
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		txn.ID = e.txnID()
		err := e.store.InsertTransaction(ctx, txn)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrDuplicate) {
			return fmt.Errorf("insert transaction: %w", err)
		}
	}
	return conflict("transaction", txn.ID, "id_exhausted", "could not allocate a transaction id")
}

// settle clears the pending marker of every id in done and drops the items
// in drop from the transaction. With closeEmpty, a transaction left with no
// items is closed so it does not linger as an empty checkout.
func (e *Engine) settle(ctx context.Context, txn *models.Transaction, done []string, drop []ItemFailure, actorID string, closeEmpty bool) error {
	gone := make(map[string]struct{}, len(drop))
	for _, d := range drop {
		gone[d.ID] = struct{}{}
	}
	finished := make(map[string]struct{}, len(done))
	for _, id := range done {
		finished[id] = struct{}{}
	}
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		if txn.Status != models.TxnOpen {
			return invalidState("transaction", txn.ID, "transaction_closed", "")
		}
		next := txn.Clone()
		next.Items = next.Items[:0]
		for _, id := range txn.Items {
			if _, ok := gone[id]; ok {
				delete(next.Conditions, id)
				continue
			}
			next.Items = append(next.Items, id)
		}
		next.Pending = next.Pending[:0]
		for _, id := range txn.Pending {
			_, fin := finished[id]
			_, dropped := gone[id]
			if !fin && !dropped {
				next.Pending = append(next.Pending, id)
			}
		}
		if closeEmpty && len(next.Items) == 0 {
			closedAt := e.now()
			next.Status = models.TxnClosed
			next.ClosedAt = &closedAt
		}
		err := e.store.UpdateTransaction(ctx, next)
		if err == nil {
			*txn = *next
			if txn.Status == models.TxnClosed {
				e.obs.ObserveClose("checkout_empty")
				e.record(ctx, models.ActionEdit, txn.ID, actorID, "Transaction closed: no items could be checked out")
			}
			return nil
		}
		if !errors.Is(err, ErrStaleWrite) {
			return fmt.Errorf("settle transaction %s: %w", txn.ID, err)
		}
		fresh, gerr := e.store.GetTransaction(ctx, txn.ID)
		if gerr != nil {
			return fmt.Errorf("reload transaction %s: %w", txn.ID, gerr)
		}
		*txn = *fresh
	}
	return conflict("transaction", txn.ID, "concurrent_update", "")
}

// ─── Return and verification ────────────────────────────────────────────────

// SubmitReturn marks a checked-out item as awaiting verification. The
// holder stays assigned so the verifier knows who brought it back.
func (e *Engine) SubmitReturn(ctx context.Context, equipmentID string, reported models.Condition, actorID string) (err error) {
	defer func() { e.obs.ObserveOperation("return", err) }()

	if !reported.Valid() {
		return validation("equipment", equipmentID, "invalid_condition", string(reported))
	}
	it, err := e.store.GetEquipment(ctx, equipmentID)
	if err != nil {
		return e.lookupErr(err, "equipment", equipmentID)
	}
	pending := models.StatusPendingVerification
	if err := checkTransition(OpReturn, it, pending); err != nil {
		return err
	}
	err = e.store.UpdateEquipment(ctx, it.ID, it.Status, EquipmentPatch{Status: &pending, Condition: &reported})
	if err != nil {
		return e.writeErr(ctx, err, it.ID, OpReturn)
	}
	e.record(ctx, models.ActionReturn, it.ID, actorID,
		fmt.Sprintf("Returned %s (held by %s) in condition %s", it.Barcode, it.Assignee(), reported))
	e.confirmPending(ctx, it.ID, it.Assignee(), actorID)
	return nil
}

// confirmPending clears the pending marker of an item whose checkout is
// proven by a return. Failures are logged; reconcile keeps held items anyway.
func (e *Engine) confirmPending(ctx context.Context, equipmentID, holderID, actorID string) {
	open, err := e.store.OpenTransactionsWithItem(ctx, equipmentID)
	if err != nil {
		log.Printf("[lifecycle] pending lookup for %s failed: %v", equipmentID, err)
		return
	}
	for i := range open {
		t := &open[i]
		if t.UserID != holderID || !slices.Contains(t.Pending, equipmentID) {
			continue
		}
		if err := e.settle(ctx, t, []string{equipmentID}, nil, actorID, false); err != nil {
			log.Printf("[lifecycle] confirm %s on %s: %v", equipmentID, t.ID, err)
		}
	}
}

// ItemResult is the outcome of a single-item change that may close a
// transaction.
type ItemResult struct {
	Equipment *models.Equipment `json:"equipment"`
	// ClosedTransactionID is set when this verification closed a transaction.
	ClosedTransactionID string `json:"closedTransactionId,omitempty"`
}

func (r *ItemResult) AutoClosed() bool { return r.ClosedTransactionID != "" }

// Verify resolves a pending item to outcome and closes its transaction
// when nothing in it is outstanding any more.
func (e *Engine) Verify(ctx context.Context, equipmentID string, outcome models.EquipmentStatus, actorID string) (res *ItemResult, err error) {
	defer func() { e.obs.ObserveOperation("verify", err) }()

	it, err := e.store.GetEquipment(ctx, equipmentID)
	if err != nil {
		return nil, e.lookupErr(err, "equipment", equipmentID)
	}
	if err := checkTransition(OpVerify, it, outcome); err != nil {
		return nil, err
	}
	err = e.store.UpdateEquipment(ctx, it.ID, it.Status, EquipmentPatch{Status: &outcome, Unassign: true})
	if err != nil {
		return nil, e.writeErr(ctx, err, it.ID, OpVerify)
	}
	holder := it.Assignee()
	it.Status = outcome
	it.AssignedTo = nil
	e.record(ctx, models.ActionVerify, it.ID, actorID,
		fmt.Sprintf("Verified %s returned by %s as %s (condition %s)", it.Barcode, holder, outcome, it.Condition))

	res = &ItemResult{Equipment: it}
	closed := e.autoClose(ctx, it.ID, actorID, "verify")
	if len(closed) > 0 {
		res.ClosedTransactionID = closed[0]
	}
	return res, nil
}

// ─── Transaction membership ─────────────────────────────────────────────────

// AddItemToTransaction checks an available item out into an OPEN transaction
// under the transaction's primary holder. Like checkout, the item is listed
// as pending first and flipped second.
func (e *Engine) AddItemToTransaction(ctx context.Context, txnID, equipmentID, actorID string) (txn *models.Transaction, err error) {
	defer func() { e.obs.ObserveOperation("add_item", err) }()

	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		t, err := e.store.GetTransaction(ctx, txnID)
		if err != nil {
			return nil, e.lookupErr(err, "transaction", txnID)
		}
		if t.Status != models.TxnOpen {
			return nil, invalidState("transaction", t.ID, "transaction_closed", "")
		}
		if t.HasItem(equipmentID) {
			return nil, conflict("transaction", t.ID, "already_in_transaction", equipmentID)
		}
		it, err := e.store.GetEquipment(ctx, equipmentID)
		if err != nil {
			return nil, e.lookupErr(err, "equipment", equipmentID)
		}
		if !CanTransition(OpCheckout, it.Status, models.StatusCheckedOut) {
			return nil, conflict("equipment", it.ID, "not_available", "current status "+string(it.Status))
		}
		if other, err := e.otherOpenTransaction(ctx, it.ID, t.ID); err != nil {
			return nil, err
		} else if other != "" {
			return nil, conflict("equipment", it.ID, "claimed_by_open_transaction", other)
		}

		next := t.Clone()
		next.Items = append(next.Items, it.ID)
		next.Pending = append(next.Pending, it.ID)
		if next.Conditions == nil {
			next.Conditions = map[string]models.Condition{}
		}
		next.Conditions[it.ID] = it.Condition
		if err := e.store.UpdateTransaction(ctx, next); err != nil {
			if errors.Is(err, ErrStaleWrite) {
				continue
			}
			return nil, fmt.Errorf("update transaction %s: %w", t.ID, err)
		}

		checkedOut := models.StatusCheckedOut
		holder := t.UserID
		if uerr := e.store.UpdateEquipment(ctx, it.ID, models.StatusAvailable, EquipmentPatch{Status: &checkedOut, Assign: &holder}); uerr != nil {
			if derr := e.settle(ctx, next, []string{it.ID}, []ItemFailure{{ID: it.ID}}, actorID, false); derr != nil {
				return nil, fmt.Errorf("undo add of %s after %v: %w", it.ID, uerr, derr)
			}
			if errors.Is(uerr, ErrStaleWrite) {
				return nil, conflict("equipment", it.ID, "not_available", "taken concurrently")
			}
			return nil, fmt.Errorf("check out %s: %w", it.ID, uerr)
		}
		if serr := e.settle(ctx, next, []string{it.ID}, nil, actorID, false); serr != nil {
			// the item is out and listed; reconcile clears the marker later
			log.Printf("[lifecycle] add %s to %s: %v", it.ID, next.ID, serr)
		}
		e.record(ctx, models.ActionAddItem, next.ID, actorID,
			fmt.Sprintf("Added %s (%s) to transaction, assigned to %s", it.ID, it.Barcode, holder))
		return next, nil
	}
	return nil, conflict("transaction", txnID, "concurrent_update", "")
}

// RemoveItemFromTransaction takes an item out of an OPEN transaction and
// releases it. Removal is a correction, not a return, so it never closes
// the transaction, even when it removes the last outstanding item.
func (e *Engine) RemoveItemFromTransaction(ctx context.Context, txnID, equipmentID, actorID string) (txn *models.Transaction, err error) {
	defer func() { e.obs.ObserveOperation("remove_item", err) }()

	var next *models.Transaction
	for attempt := 0; attempt < maxWriteAttempts && next == nil; attempt++ {
		t, err := e.store.GetTransaction(ctx, txnID)
		if err != nil {
			return nil, e.lookupErr(err, "transaction", txnID)
		}
		if t.Status != models.TxnOpen {
			return nil, invalidState("transaction", t.ID, "transaction_closed", "")
		}
		if !t.HasItem(equipmentID) {
			return nil, &Error{Kind: KindNotFound, Entity: "transaction", ID: t.ID, Reason: "item_not_in_transaction", Detail: equipmentID}
		}
		candidate := t.Clone()
		candidate.Items = candidate.Items[:0]
		for _, id := range t.Items {
			if id != equipmentID {
				candidate.Items = append(candidate.Items, id)
			}
		}
		delete(candidate.Conditions, equipmentID)
		candidate.Pending = slices.DeleteFunc(candidate.Pending, func(id string) bool { return id == equipmentID })
		if err := e.store.UpdateTransaction(ctx, candidate); err != nil {
			if errors.Is(err, ErrStaleWrite) {
				continue
			}
			return nil, fmt.Errorf("update transaction %s: %w", t.ID, err)
		}
		next = candidate
	}
	if next == nil {
		return nil, conflict("transaction", txnID, "concurrent_update", "")
	}

	if err := e.release(ctx, equipmentID); err != nil {
		return nil, err
	}
	e.record(ctx, models.ActionRemoveItem, next.ID, actorID,
		fmt.Sprintf("Removed %s from transaction and released it", equipmentID))
	return next, nil
}

// release makes a removed item AVAILABLE and unassigned, whatever state it
// was in.
func (e *Engine) release(ctx context.Context, equipmentID string) error {
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		it, err := e.store.GetEquipment(ctx, equipmentID)
		if err != nil {
			return e.lookupErr(err, "equipment", equipmentID)
		}
		if it.Status == models.StatusAvailable && it.AssignedTo == nil {
			return nil
		}
		available := models.StatusAvailable
		err = e.store.UpdateEquipment(ctx, it.ID, it.Status, EquipmentPatch{Status: &available, Unassign: true})
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrStaleWrite) {
			return fmt.Errorf("release %s: %w", it.ID, err)
		}
	}
	return conflict("equipment", equipmentID, "concurrent_update", "")
}

func (e *Engine) otherOpenTransaction(ctx context.Context, equipmentID, exclude string) (string, error) {
	open, err := e.store.OpenTransactionsWithItem(ctx, equipmentID)
	if err != nil {
		return "", fmt.Errorf("open transactions for %s: %w", equipmentID, err)
	}
	for _, t := range open {
		if t.ID != exclude {
			return t.ID, nil
		}
	}
	return "", nil
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func (e *Engine) lookupErr(err error, entity, id string) error {
	if errors.Is(err, ErrRecordNotFound) {
		return notFound(entity, id)
	}
	return fmt.Errorf("load %s %s: %w", entity, id, err)
}

// writeErr turns a lost compare-and-set into InvalidState naming the status
// the concurrent actor left behind.
func (e *Engine) writeErr(ctx context.Context, err error, equipmentID string, op Op) error {
	if !errors.Is(err, ErrStaleWrite) {
		return fmt.Errorf("%s %s: %w", op, equipmentID, err)
	}
	detail := "changed concurrently"
	if fresh, gerr := e.store.GetEquipment(ctx, equipmentID); gerr == nil {
		detail = "changed concurrently to " + string(fresh.Status)
	}
	return invalidState("equipment", equipmentID, "invalid_status_for_"+string(op), detail)
}
