package lifecycle_test

import (
	"context"
	"regexp"
	"sync"
	"testing"

	"gear_checkout/lifecycle"
	"gear_checkout/memstore"
	"gear_checkout/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingObserver struct {
	mu     sync.Mutex
	closes []string
	ops    map[string]int
}

func (o *recordingObserver) ObserveOperation(op string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.ops == nil {
		o.ops = map[string]int{}
	}
	o.ops[op]++
}

func (o *recordingObserver) ObserveClose(trigger string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closes = append(o.closes, trigger)
}

func (o *recordingObserver) ObserveBacklog(string) {}

type fixture struct {
	ctx context.Context
	st  *memstore.Store
	eng *lifecycle.Engine
	obs *recordingObserver
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := memstore.New()
	obs := &recordingObserver{}
	f := &fixture{ctx: context.Background(), st: st, obs: obs}
	f.eng = lifecycle.New(st, lifecycle.WithObserver(obs))
	for _, u := range []models.User{
		{ID: "alice", Email: "alice@studio.test", DisplayName: "Alice", Role: models.RoleStaff, Active: true},
		{ID: "bob", Email: "bob@studio.test", DisplayName: "Bob", Role: models.RoleStaff, Active: true},
		{ID: "mgr", Email: "mgr@studio.test", DisplayName: "Manager", Role: models.RoleManager, Active: true},
		{ID: "gone", Email: "gone@studio.test", DisplayName: "Former", Role: models.RoleStaff, Active: false},
	} {
		u := u
		require.NoError(t, st.CreateUser(f.ctx, &u))
	}
	return f
}

func (f *fixture) item(id string, status models.EquipmentStatus, holder string) {
	e := models.Equipment{
		ID:        id,
		Barcode:   "BC-" + id,
		Name:      "Item " + id,
		Category:  "camera",
		Status:    status,
		Condition: models.ConditionOK,
	}
	if holder != "" {
		h := holder
		e.AssignedTo = &h
	}
	f.st.PutEquipment(e)
}

func (f *fixture) get(t *testing.T, id string) *models.Equipment {
	t.Helper()
	e, err := f.st.GetEquipment(f.ctx, id)
	require.NoError(t, err)
	return e
}

func (f *fixture) txn(t *testing.T, id string) *models.Transaction {
	t.Helper()
	tx, err := f.st.GetTransaction(f.ctx, id)
	require.NoError(t, err)
	return tx
}

func (f *fixture) actions() []models.Action {
	var out []models.Action
	for _, l := range f.st.Logs() {
		out = append(out, l.Action)
	}
	return out
}

func (f *fixture) checkout(t *testing.T, holder string, ids ...string) *models.Transaction {
	t.Helper()
	res, err := f.eng.Checkout(f.ctx, lifecycle.CheckoutRequest{EquipmentIDs: ids, HolderID: holder, Project: "Spot", ActorID: holder})
	require.NoError(t, err)
	require.Empty(t, res.Skipped)
	return res.Transaction
}

func requireKind(t *testing.T, err error, kind lifecycle.Kind, reason string) *lifecycle.Error {
	t.Helper()
	require.Error(t, err)
	var le *lifecycle.Error
	require.ErrorAs(t, err, &le)
	assert.Equal(t, kind, le.Kind)
	if reason != "" {
		assert.Equal(t, reason, le.Reason)
	}
	return le
}

var txnIDPattern = regexp.MustCompile(`^TXN-[A-HJ-NP-Z2-9]{6}$`)

// ─── Checkout ───────────────────────────────────────────────────────────────

func TestCheckoutCreatesOpenTransaction(t *testing.T) {
	f := newFixture(t)
	f.item("cam1", models.StatusAvailable, "")
	f.item("lens1", models.StatusAvailable, "")

	res, err := f.eng.Checkout(f.ctx, lifecycle.CheckoutRequest{
		EquipmentIDs:        []string{"cam1", "lens1"},
		HolderID:            "alice",
		AdditionalHolderIDs: []string{"bob", "alice", "bob"},
		Project:             "  Brand film ",
		ActorID:             "alice",
	})
	require.NoError(t, err)

	tx := res.Transaction
	assert.Regexp(t, txnIDPattern, tx.ID)
	assert.Equal(t, models.TxnOpen, tx.Status)
	assert.Equal(t, []string{"cam1", "lens1"}, tx.Items)
	assert.Equal(t, []string{"bob"}, tx.AdditionalUsers)
	assert.Equal(t, "Brand film", tx.Project)
	assert.Equal(t, map[string]models.Condition{"cam1": models.ConditionOK, "lens1": models.ConditionOK}, tx.Conditions)
	assert.Nil(t, tx.ClosedAt)

	for _, id := range []string{"cam1", "lens1"} {
		e := f.get(t, id)
		assert.Equal(t, models.StatusCheckedOut, e.Status)
		assert.Equal(t, "alice", e.Assignee())
	}

	logs := f.st.Logs()
	require.Len(t, logs, 1)
	assert.Equal(t, models.ActionCheckout, logs[0].Action)
	assert.Equal(t, tx.ID, logs[0].EntityID)
	require.NotNil(t, logs[0].UserID)
	assert.Equal(t, "alice", *logs[0].UserID)
}

func TestCheckoutValidatesEverythingBeforeMutating(t *testing.T) {
	f := newFixture(t)
	f.item("cam1", models.StatusAvailable, "")
	f.item("cam2", models.StatusMaintenance, "")
	f.item("cam3", models.StatusCheckedOut, "bob")

	_, err := f.eng.Checkout(f.ctx, lifecycle.CheckoutRequest{EquipmentIDs: []string{"cam1", "cam2", "cam3"}, HolderID: "alice"})
	le := requireKind(t, err, lifecycle.KindValidation, "not_available")
	assert.Equal(t, map[string]string{"cam2": "MAINTENANCE", "cam3": "CHECKED_OUT"}, le.Items)
	assert.ErrorIs(t, err, lifecycle.ErrValidation)

	assert.Equal(t, models.StatusAvailable, f.get(t, "cam1").Status)
	assert.Nil(t, f.get(t, "cam1").AssignedTo)
	all, err := f.st.ListTransactions(f.ctx, lifecycle.TransactionFilter{})
	require.NoError(t, err)
	assert.Empty(t, all)
	assert.Empty(t, f.st.Logs())
}

func TestCheckoutInputErrors(t *testing.T) {
	f := newFixture(t)
	f.item("cam1", models.StatusAvailable, "")

	cases := []struct {
		name   string
		req    lifecycle.CheckoutRequest
		kind   lifecycle.Kind
		reason string
	}{
		{"empty", lifecycle.CheckoutRequest{HolderID: "alice"}, lifecycle.KindValidation, "empty_items"},
		{"duplicates", lifecycle.CheckoutRequest{EquipmentIDs: []string{"cam1", "cam1"}, HolderID: "alice"}, lifecycle.KindValidation, "duplicate_items"},
		{"no holder", lifecycle.CheckoutRequest{EquipmentIDs: []string{"cam1"}}, lifecycle.KindValidation, "missing_holder"},
		{"unknown holder", lifecycle.CheckoutRequest{EquipmentIDs: []string{"cam1"}, HolderID: "nobody"}, lifecycle.KindNotFound, "not_found"},
		{"inactive holder", lifecycle.CheckoutRequest{EquipmentIDs: []string{"cam1"}, HolderID: "gone"}, lifecycle.KindValidation, "inactive_holder"},
		{"unknown co-holder", lifecycle.CheckoutRequest{EquipmentIDs: []string{"cam1"}, HolderID: "alice", AdditionalHolderIDs: []string{"ghost"}}, lifecycle.KindNotFound, "not_found"},
		{"unknown item", lifecycle.CheckoutRequest{EquipmentIDs: []string{"cam1", "cam9"}, HolderID: "alice"}, lifecycle.KindNotFound, "not_found"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.eng.Checkout(f.ctx, tc.req)
			requireKind(t, err, tc.kind, tc.reason)
			assert.Equal(t, models.StatusAvailable, f.get(t, "cam1").Status)
		})
	}
	assert.Empty(t, f.st.Logs())
}

func TestCheckoutRejectsItemClaimedByOpenTransaction(t *testing.T) {
	f := newFixture(t)
	f.item("cam1", models.StatusAvailable, "")
	f.item("cam2", models.StatusCheckedOut, "bob")
	// cam1 was verified back but its transaction is still open on cam2
	f.st.PutTransaction(models.Transaction{ID: "TXN-AAAAAA", UserID: "bob", Items: []string{"cam1", "cam2"}, Status: models.TxnOpen})

	_, err := f.eng.Checkout(f.ctx, lifecycle.CheckoutRequest{EquipmentIDs: []string{"cam1"}, HolderID: "alice"})
	le := requireKind(t, err, lifecycle.KindConflict, "claimed_by_open_transaction")
	assert.Equal(t, map[string]string{"cam1": "TXN-AAAAAA"}, le.Items)
	assert.Equal(t, models.StatusAvailable, f.get(t, "cam1").Status)
}

// racingStore lets a "concurrent actor" move items right after the
// transaction row is written.
type racingStore struct {
	*memstore.Store
	afterInsert func()
}

func (r *racingStore) InsertTransaction(ctx context.Context, t *models.Transaction) error {
	if err := r.Store.InsertTransaction(ctx, t); err != nil {
		return err
	}
	if r.afterInsert != nil {
		r.afterInsert()
	}
	return nil
}

func TestCheckoutDropsItemsTakenConcurrently(t *testing.T) {
	f := newFixture(t)
	f.item("cam1", models.StatusAvailable, "")
	f.item("cam2", models.StatusAvailable, "")
	rs := &racingStore{Store: f.st, afterInsert: func() { f.item("cam2", models.StatusMaintenance, "") }}
	eng := lifecycle.New(rs)

	res, err := eng.Checkout(f.ctx, lifecycle.CheckoutRequest{EquipmentIDs: []string{"cam1", "cam2"}, HolderID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, []lifecycle.ItemFailure{{ID: "cam2", Reason: "not_available"}}, res.Skipped)
	assert.Equal(t, []string{"cam1"}, res.Transaction.Items)

	stored := f.txn(t, res.Transaction.ID)
	assert.Equal(t, []string{"cam1"}, stored.Items)
	assert.NotContains(t, stored.Conditions, "cam2")
	assert.Equal(t, models.TxnOpen, stored.Status)
	assert.Equal(t, models.StatusMaintenance, f.get(t, "cam2").Status)
	assert.Nil(t, f.get(t, "cam2").AssignedTo)
}

func TestCheckoutAllItemsTakenClosesEmptyTransaction(t *testing.T) {
	f := newFixture(t)
	f.item("cam1", models.StatusAvailable, "")
	rs := &racingStore{Store: f.st, afterInsert: func() { f.item("cam1", models.StatusLost, "") }}
	eng := lifecycle.New(rs)

	_, err := eng.Checkout(f.ctx, lifecycle.CheckoutRequest{EquipmentIDs: []string{"cam1"}, HolderID: "alice"})
	le := requireKind(t, err, lifecycle.KindConflict, "all_items_taken")

	stored := f.txn(t, le.ID)
	assert.Equal(t, models.TxnClosed, stored.Status)
	assert.Empty(t, stored.Items)
	assert.NotNil(t, stored.ClosedAt)
	assert.NotContains(t, f.actions(), models.ActionCheckout)
}

func TestConcurrentCheckoutOfOneItemHasOneWinner(t *testing.T) {
	f := newFixture(t)
	f.item("cam1", models.StatusAvailable, "")

	holders := []string{"alice", "bob", "mgr", "alice", "bob", "mgr"}
	errs := make([]error, len(holders))
	var wg sync.WaitGroup
	for i, h := range holders {
		wg.Add(1)
		go func(i int, h string) {
			defer wg.Done()
			_, errs[i] = f.eng.Checkout(f.ctx, lifecycle.CheckoutRequest{EquipmentIDs: []string{"cam1"}, HolderID: h})
		}(i, h)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.Contains(t, []lifecycle.Kind{lifecycle.KindValidation, lifecycle.KindConflict}, lifecycle.KindOf(err))
	}
	assert.Equal(t, 1, wins)

	open, err := f.st.OpenTransactionsWithItem(f.ctx, "cam1")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, f.get(t, "cam1").Assignee(), open[0].UserID)
}

// ─── Return and verify ──────────────────────────────────────────────────────

func TestSubmitReturnKeepsHolderAndRecordsCondition(t *testing.T) {
	f := newFixture(t)
	f.item("cam1", models.StatusAvailable, "")
	f.checkout(t, "alice", "cam1")

	require.NoError(t, f.eng.SubmitReturn(f.ctx, "cam1", models.ConditionScratches, "alice"))

	e := f.get(t, "cam1")
	assert.Equal(t, models.StatusPendingVerification, e.Status)
	assert.Equal(t, models.ConditionScratches, e.Condition)
	assert.Equal(t, "alice", e.Assignee())
	assert.Equal(t, []models.Action{models.ActionCheckout, models.ActionReturn}, f.actions())
}

func TestSubmitReturnRejections(t *testing.T) {
	f := newFixture(t)
	f.item("cam1", models.StatusAvailable, "")

	err := f.eng.SubmitReturn(f.ctx, "cam1", models.ConditionOK, "alice")
	requireKind(t, err, lifecycle.KindInvalidState, "invalid_status_for_return")

	err = f.eng.SubmitReturn(f.ctx, "cam1", "BROKEN", "alice")
	requireKind(t, err, lifecycle.KindValidation, "invalid_condition")

	err = f.eng.SubmitReturn(f.ctx, "nope", models.ConditionOK, "alice")
	requireKind(t, err, lifecycle.KindNotFound, "not_found")
	assert.ErrorIs(t, err, lifecycle.ErrNotFound)

	assert.Empty(t, f.st.Logs())
}

func TestVerifyRejections(t *testing.T) {
	f := newFixture(t)
	f.item("cam1", models.StatusCheckedOut, "alice")
	f.item("cam2", models.StatusPendingVerification, "alice")

	_, err := f.eng.Verify(f.ctx, "cam1", models.StatusAvailable, "mgr")
	requireKind(t, err, lifecycle.KindInvalidState, "invalid_status_for_verify")

	for _, bad := range []models.EquipmentStatus{models.StatusCheckedOut, models.StatusPendingVerification, models.StatusLost, "GONE"} {
		_, err = f.eng.Verify(f.ctx, "cam2", bad, "mgr")
		requireKind(t, err, lifecycle.KindValidation, "invalid_target_status")
	}
	assert.Equal(t, models.StatusPendingVerification, f.get(t, "cam2").Status)
	assert.Empty(t, f.st.Logs())
}

func TestFullLifecycleClosesOnLastVerification(t *testing.T) {
	f := newFixture(t)
	f.item("cam1", models.StatusAvailable, "")
	f.item("lens1", models.StatusAvailable, "")
	tx := f.checkout(t, "alice", "cam1", "lens1")

	require.NoError(t, f.eng.SubmitReturn(f.ctx, "cam1", models.ConditionOK, "alice"))
	res, err := f.eng.Verify(f.ctx, "cam1", models.StatusAvailable, "mgr")
	require.NoError(t, err)
	assert.False(t, res.AutoClosed())
	assert.Equal(t, models.StatusAvailable, res.Equipment.Status)
	assert.Nil(t, f.get(t, "cam1").AssignedTo)
	assert.Equal(t, models.TxnOpen, f.txn(t, tx.ID).Status)

	require.NoError(t, f.eng.SubmitReturn(f.ctx, "lens1", models.ConditionDamaged, "alice"))
	res, err = f.eng.Verify(f.ctx, "lens1", models.StatusDamaged, "mgr")
	require.NoError(t, err)
	assert.True(t, res.AutoClosed())
	assert.Equal(t, tx.ID, res.ClosedTransactionID)

	closed := f.txn(t, tx.ID)
	assert.Equal(t, models.TxnClosed, closed.Status)
	require.NotNil(t, closed.ClosedAt)
	assert.Equal(t, []string{"cam1", "lens1"}, closed.Items)

	assert.Equal(t, []models.Action{
		models.ActionCheckout,
		models.ActionReturn, models.ActionVerify,
		models.ActionReturn, models.ActionVerify, models.ActionEdit,
	}, f.actions())
	last := f.st.Logs()[5]
	assert.Equal(t, tx.ID, last.EntityID)
	assert.Contains(t, last.Details, "auto-closed")
	assert.Equal(t, []string{"verify"}, f.obs.closes)
}

func TestVerifyIsNotRepeatable(t *testing.T) {
	f := newFixture(t)
	f.item("cam1", models.StatusAvailable, "")
	tx := f.checkout(t, "alice", "cam1")
	require.NoError(t, f.eng.SubmitReturn(f.ctx, "cam1", models.ConditionOK, "alice"))
	res, err := f.eng.Verify(f.ctx, "cam1", models.StatusMaintenance, "mgr")
	require.NoError(t, err)
	assert.Equal(t, tx.ID, res.ClosedTransactionID)
	before := len(f.st.Logs())

	_, err = f.eng.Verify(f.ctx, "cam1", models.StatusMaintenance, "mgr")
	requireKind(t, err, lifecycle.KindInvalidState, "invalid_status_for_verify")
	err = f.eng.SubmitReturn(f.ctx, "cam1", models.ConditionOK, "alice")
	requireKind(t, err, lifecycle.KindInvalidState, "invalid_status_for_return")

	assert.Len(t, f.st.Logs(), before)
	assert.Equal(t, models.TxnClosed, f.txn(t, tx.ID).Status)
}

func TestVerificationOrderDoesNotMatter(t *testing.T) {
	orders := [][]string{{"a", "b", "c"}, {"c", "b", "a"}, {"b", "a", "c"}}
	for _, order := range orders {
		f := newFixture(t)
		for _, id := range order {
			f.item(id, models.StatusAvailable, "")
		}
		tx := f.checkout(t, "bob", "a", "b", "c")
		for _, id := range order {
			require.NoError(t, f.eng.SubmitReturn(f.ctx, id, models.ConditionOK, "bob"))
		}
		for i, id := range order {
			res, err := f.eng.Verify(f.ctx, id, models.StatusAvailable, "mgr")
			require.NoError(t, err)
			assert.Equal(t, i == len(order)-1, res.AutoClosed(), "order %v step %d", order, i)
		}
		assert.Equal(t, models.TxnClosed, f.txn(t, tx.ID).Status)
	}
}

func TestConcurrentVerificationsCloseOnce(t *testing.T) {
	f := newFixture(t)
	f.item("cam1", models.StatusAvailable, "")
	f.item("cam2", models.StatusAvailable, "")
	tx := f.checkout(t, "alice", "cam1", "cam2")
	require.NoError(t, f.eng.SubmitReturn(f.ctx, "cam1", models.ConditionOK, "alice"))
	require.NoError(t, f.eng.SubmitReturn(f.ctx, "cam2", models.ConditionOK, "alice"))

	var wg sync.WaitGroup
	results := make([]*lifecycle.ItemResult, 2)
	for i, id := range []string{"cam1", "cam2"} {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			res, err := f.eng.Verify(f.ctx, id, models.StatusAvailable, "mgr")
			assert.NoError(t, err)
			results[i] = res
		}(i, id)
	}
	wg.Wait()

	closes := 0
	for _, r := range results {
		require.NotNil(t, r)
		if r.AutoClosed() {
			closes++
		}
	}
	assert.Equal(t, 1, closes)
	assert.Equal(t, models.TxnClosed, f.txn(t, tx.ID).Status)

	edits := 0
	for _, a := range f.actions() {
		if a == models.ActionEdit {
			edits++
		}
	}
	assert.Equal(t, 1, edits)
}

func TestNewTransactionIDShape(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		id := lifecycle.NewTransactionID()
		assert.Regexp(t, txnIDPattern, id)
		seen[id] = true
	}
	assert.Greater(t, len(seen), 190)
}
