package lifecycle_test

import (
	"testing"

	"gear_checkout/lifecycle"
	"gear_checkout/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddItemToOpenTransaction(t *testing.T) {
	f := newFixture(t)
	f.item("cam1", models.StatusAvailable, "")
	f.item("tripod", models.StatusAvailable, "")
	f.st.PutEquipment(models.Equipment{ID: "mic", Barcode: "BC-mic", Name: "Mic", Status: models.StatusAvailable, Condition: models.ConditionNeedsBattery})
	tx := f.checkout(t, "alice", "cam1")

	got, err := f.eng.AddItemToTransaction(f.ctx, tx.ID, "mic", "mgr")
	require.NoError(t, err)
	assert.Equal(t, []string{"cam1", "mic"}, got.Items)
	assert.Equal(t, models.ConditionNeedsBattery, got.Conditions["mic"])

	mic := f.get(t, "mic")
	assert.Equal(t, models.StatusCheckedOut, mic.Status)
	assert.Equal(t, "alice", mic.Assignee())

	_, err = f.eng.AddItemToTransaction(f.ctx, tx.ID, "tripod", "mgr")
	require.NoError(t, err)
	assert.Equal(t, []string{"cam1", "mic", "tripod"}, f.txn(t, tx.ID).Items)

	assert.Equal(t, []models.Action{models.ActionCheckout, models.ActionAddItem, models.ActionAddItem}, f.actions())
}

func TestAddItemRejections(t *testing.T) {
	f := newFixture(t)
	f.item("cam1", models.StatusAvailable, "")
	f.item("cam2", models.StatusDamaged, "")
	f.item("cam3", models.StatusAvailable, "")
	f.item("cam4", models.StatusCheckedOut, "bob")
	tx := f.checkout(t, "alice", "cam1")
	f.st.PutTransaction(models.Transaction{ID: "TXN-CLOSED", UserID: "bob", Items: []string{"cam4"}, Status: models.TxnClosed})
	// cam3 is referenced by another open transaction
	f.st.PutTransaction(models.Transaction{ID: "TXN-OTHER1", UserID: "bob", Items: []string{"cam3", "cam4"}, Status: models.TxnOpen})
	logs := len(f.st.Logs())

	_, err := f.eng.AddItemToTransaction(f.ctx, tx.ID, "cam1", "mgr")
	requireKind(t, err, lifecycle.KindConflict, "already_in_transaction")

	_, err = f.eng.AddItemToTransaction(f.ctx, tx.ID, "cam2", "mgr")
	requireKind(t, err, lifecycle.KindConflict, "not_available")

	_, err = f.eng.AddItemToTransaction(f.ctx, tx.ID, "cam3", "mgr")
	requireKind(t, err, lifecycle.KindConflict, "claimed_by_open_transaction")

	_, err = f.eng.AddItemToTransaction(f.ctx, tx.ID, "ghost", "mgr")
	requireKind(t, err, lifecycle.KindNotFound, "not_found")

	_, err = f.eng.AddItemToTransaction(f.ctx, "TXN-NOPE00", "cam3", "mgr")
	requireKind(t, err, lifecycle.KindNotFound, "not_found")

	_, err = f.eng.AddItemToTransaction(f.ctx, "TXN-CLOSED", "cam3", "mgr")
	requireKind(t, err, lifecycle.KindInvalidState, "transaction_closed")

	assert.Equal(t, []string{"cam1"}, f.txn(t, tx.ID).Items)
	assert.Equal(t, models.StatusAvailable, f.get(t, "cam3").Status)
	assert.Len(t, f.st.Logs(), logs)
}

func TestRemoveItemReleasesIt(t *testing.T) {
	f := newFixture(t)
	f.item("cam1", models.StatusAvailable, "")
	f.item("cam2", models.StatusAvailable, "")
	tx := f.checkout(t, "alice", "cam1", "cam2")

	got, err := f.eng.RemoveItemFromTransaction(f.ctx, tx.ID, "cam1", "mgr")
	require.NoError(t, err)
	assert.Equal(t, []string{"cam2"}, got.Items)
	assert.NotContains(t, got.Conditions, "cam1")

	e := f.get(t, "cam1")
	assert.Equal(t, models.StatusAvailable, e.Status)
	assert.Nil(t, e.AssignedTo)
	assert.Equal(t, models.ActionRemoveItem, f.actions()[len(f.actions())-1])
}

func TestRemoveItemReleasesPendingItem(t *testing.T) {
	f := newFixture(t)
	f.item("cam1", models.StatusAvailable, "")
	f.item("cam2", models.StatusAvailable, "")
	tx := f.checkout(t, "alice", "cam1", "cam2")
	require.NoError(t, f.eng.SubmitReturn(f.ctx, "cam1", models.ConditionLooseMount, "alice"))

	_, err := f.eng.RemoveItemFromTransaction(f.ctx, tx.ID, "cam1", "mgr")
	require.NoError(t, err)
	e := f.get(t, "cam1")
	assert.Equal(t, models.StatusAvailable, e.Status)
	assert.Nil(t, e.AssignedTo)
}

func TestRemovingLastOutstandingItemDoesNotClose(t *testing.T) {
	f := newFixture(t)
	f.item("cam1", models.StatusAvailable, "")
	f.item("cam2", models.StatusAvailable, "")
	tx := f.checkout(t, "alice", "cam1", "cam2")
	require.NoError(t, f.eng.SubmitReturn(f.ctx, "cam2", models.ConditionOK, "alice"))
	res, err := f.eng.Verify(f.ctx, "cam2", models.StatusAvailable, "mgr")
	require.NoError(t, err)
	require.False(t, res.AutoClosed())

	_, err = f.eng.RemoveItemFromTransaction(f.ctx, tx.ID, "cam1", "mgr")
	require.NoError(t, err)

	stored := f.txn(t, tx.ID)
	assert.Equal(t, models.TxnOpen, stored.Status)
	assert.Equal(t, []string{"cam2"}, stored.Items)
	assert.NotContains(t, f.actions()[1:], models.ActionEdit)

	// the next reconciliation picks it up
	rep, err := f.eng.ReconcileStaleTransactions(f.ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{tx.ID}, rep.Closed)
}

func TestRemoveResolvedItemMakesItAvailable(t *testing.T) {
	f := newFixture(t)
	f.item("cam1", models.StatusAvailable, "")
	f.item("cam2", models.StatusAvailable, "")
	tx := f.checkout(t, "alice", "cam1", "cam2")
	require.NoError(t, f.eng.SubmitReturn(f.ctx, "cam2", models.ConditionDamaged, "alice"))
	_, err := f.eng.Verify(f.ctx, "cam2", models.StatusDamaged, "mgr")
	require.NoError(t, err)

	_, err = f.eng.RemoveItemFromTransaction(f.ctx, tx.ID, "cam2", "mgr")
	require.NoError(t, err)
	cam2 := f.get(t, "cam2")
	assert.Equal(t, models.StatusAvailable, cam2.Status)
	assert.Nil(t, cam2.AssignedTo)
	assert.Equal(t, models.ConditionDamaged, cam2.Condition)
	assert.Equal(t, models.StatusCheckedOut, f.get(t, "cam1").Status)
}

func TestRemoveItemRejections(t *testing.T) {
	f := newFixture(t)
	f.item("cam1", models.StatusAvailable, "")
	f.item("cam2", models.StatusAvailable, "")
	tx := f.checkout(t, "alice", "cam1")
	f.st.PutTransaction(models.Transaction{ID: "TXN-CLOSED", UserID: "bob", Items: []string{"cam2"}, Status: models.TxnClosed})

	_, err := f.eng.RemoveItemFromTransaction(f.ctx, tx.ID, "cam2", "mgr")
	requireKind(t, err, lifecycle.KindNotFound, "item_not_in_transaction")

	_, err = f.eng.RemoveItemFromTransaction(f.ctx, "TXN-CLOSED", "cam2", "mgr")
	requireKind(t, err, lifecycle.KindInvalidState, "transaction_closed")

	_, err = f.eng.RemoveItemFromTransaction(f.ctx, "TXN-NOPE00", "cam1", "mgr")
	requireKind(t, err, lifecycle.KindNotFound, "not_found")

	assert.Equal(t, models.StatusCheckedOut, f.get(t, "cam1").Status)
}

func TestClosedTransactionIsFrozen(t *testing.T) {
	f := newFixture(t)
	f.item("cam1", models.StatusAvailable, "")
	f.item("cam2", models.StatusAvailable, "")
	tx := f.checkout(t, "alice", "cam1")
	require.NoError(t, f.eng.SubmitReturn(f.ctx, "cam1", models.ConditionOK, "alice"))
	_, err := f.eng.Verify(f.ctx, "cam1", models.StatusAvailable, "mgr")
	require.NoError(t, err)
	closed := f.txn(t, tx.ID)
	require.Equal(t, models.TxnClosed, closed.Status)

	_, err = f.eng.AddItemToTransaction(f.ctx, tx.ID, "cam2", "mgr")
	requireKind(t, err, lifecycle.KindInvalidState, "transaction_closed")
	_, err = f.eng.RemoveItemFromTransaction(f.ctx, tx.ID, "cam1", "mgr")
	requireKind(t, err, lifecycle.KindInvalidState, "transaction_closed")

	// a direct write against the closed row is refused by the store too
	attempt := closed.Clone()
	attempt.Status = models.TxnOpen
	assert.ErrorIs(t, f.st.UpdateTransaction(f.ctx, attempt), lifecycle.ErrStaleWrite)
	assert.Equal(t, closed, f.txn(t, tx.ID))
}
