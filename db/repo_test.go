package db

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"gear_checkout/lifecycle"
	"gear_checkout/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs against a scratch database named by TEST_DATABASE_URL; every table is
// truncated first.
func testRepo(t *testing.T) *Repo {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	conn, err := ConnectDB(dsn, 1)
	require.NoError(t, err)
	require.NoError(t, conn.Exec(fmt.Sprintf("TRUNCATE %s, %s, %s, %s, %s, %s",
		models.EquipmentTable, models.TransactionTable, models.LogTable, models.UserTable, models.CredentialTable, models.InviteTable)).Error)
	t.Cleanup(func() {
		if sqlDB, err := conn.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return NewRepo(conn)
}

func TestRepoEquipmentCompareAndSet(t *testing.T) {
	r := testRepo(t)
	ctx := context.Background()

	require.NoError(t, r.InsertEquipment(ctx, &models.Equipment{ID: "cam1", Barcode: "BC-1", Name: "Cam", Status: models.StatusAvailable, Condition: models.ConditionOK}))
	err := r.InsertEquipment(ctx, &models.Equipment{ID: "cam2", Barcode: "BC-1", Name: "Dup", Status: models.StatusAvailable, Condition: models.ConditionOK})
	assert.ErrorIs(t, err, lifecycle.ErrDuplicate)

	it, err := r.FindEquipmentByBarcode(ctx, "bc-1")
	require.NoError(t, err)
	assert.Equal(t, "cam1", it.ID)

	out := models.StatusCheckedOut
	holder := "alice"
	require.NoError(t, r.UpdateEquipment(ctx, "cam1", models.StatusAvailable, lifecycle.EquipmentPatch{Status: &out, Assign: &holder}))

	// second writer still expects AVAILABLE
	err = r.UpdateEquipment(ctx, "cam1", models.StatusAvailable, lifecycle.EquipmentPatch{Status: &out, Assign: &holder})
	assert.ErrorIs(t, err, lifecycle.ErrStaleWrite)
	err = r.UpdateEquipment(ctx, "nope", models.StatusAvailable, lifecycle.EquipmentPatch{Status: &out})
	assert.ErrorIs(t, err, lifecycle.ErrRecordNotFound)

	got, err := r.GetEquipment(ctx, "cam1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCheckedOut, got.Status)
	assert.Equal(t, "alice", got.Assignee())

	held, err := r.ListEquipment(ctx, lifecycle.EquipmentFilter{AssignedTo: "alice"})
	require.NoError(t, err)
	assert.Len(t, held, 1)
}

func TestRepoTransactionVersioning(t *testing.T) {
	r := testRepo(t)
	ctx := context.Background()

	txn := &models.Transaction{ID: "TXN-AAAAAA", UserID: "alice", Items: []string{"cam1", "cam2"},
		Conditions: map[string]models.Condition{"cam1": models.ConditionOK}, Status: models.TxnOpen, TimestampOut: time.Now().UTC()}
	require.NoError(t, r.InsertTransaction(ctx, txn))
	assert.Equal(t, int64(1), txn.Version)

	open, err := r.OpenTransactionsWithItem(ctx, "cam2")
	require.NoError(t, err)
	require.Len(t, open, 1)

	stale := txn.Clone()
	txn.Items = []string{"cam1"}
	require.NoError(t, r.UpdateTransaction(ctx, txn))
	assert.Equal(t, int64(2), txn.Version)

	stale.Items = []string{"cam2"}
	assert.ErrorIs(t, r.UpdateTransaction(ctx, stale), lifecycle.ErrStaleWrite)

	open, err = r.OpenTransactionsWithItem(ctx, "cam2")
	require.NoError(t, err)
	assert.Empty(t, open)

	now := time.Now().UTC()
	txn.Status = models.TxnClosed
	txn.ClosedAt = &now
	require.NoError(t, r.UpdateTransaction(ctx, txn))

	// closed rows no longer match the compare-and-set
	txn.Items = nil
	assert.ErrorIs(t, r.UpdateTransaction(ctx, txn), lifecycle.ErrStaleWrite)

	got, err := r.GetTransaction(ctx, "TXN-AAAAAA")
	require.NoError(t, err)
	assert.Equal(t, models.TxnClosed, got.Status)
	assert.Equal(t, []string{"cam1"}, got.Items)
}

func TestRepoEngineRoundTrip(t *testing.T) {
	r := testRepo(t)
	ctx := context.Background()
	require.NoError(t, r.CreateUser(ctx, &models.User{ID: "alice", Email: "alice@studio.test", DisplayName: "Alice", Role: models.RoleStaff, Active: true}))
	eng := lifecycle.New(r)

	_, err := eng.CreateEquipment(ctx, lifecycle.NewEquipment{ID: "cam1", Barcode: "BC-1"}, "mgr")
	require.NoError(t, err)
	res, err := eng.Checkout(ctx, lifecycle.CheckoutRequest{EquipmentIDs: []string{"cam1"}, HolderID: "alice", ActorID: "alice"})
	require.NoError(t, err)
	require.NoError(t, eng.SubmitReturn(ctx, "cam1", models.ConditionOK, "alice"))
	vr, err := eng.Verify(ctx, "cam1", models.StatusAvailable, "mgr")
	require.NoError(t, err)
	assert.Equal(t, res.Transaction.ID, vr.ClosedTransactionID)

	logs, err := r.ListLogs(ctx, lifecycle.LogFilter{Limit: 50})
	require.NoError(t, err)
	assert.Len(t, logs, 5) // create, checkout, return, verify, close
}

func TestRepoInvitesAndCredentials(t *testing.T) {
	r := testRepo(t)
	ctx := context.Background()
	require.NoError(t, r.CreateUser(ctx, &models.User{ID: "alice", Email: "alice@studio.test", DisplayName: "Alice", Role: models.RoleStaff, Active: true}))

	require.NoError(t, r.CreateInvite(ctx, &models.Invite{UserID: "alice", Token: "tok1", ExpiresAt: time.Now().Add(time.Hour), CreatedBy: "root"}))
	inv, err := r.GetInvite(ctx, "tok1")
	require.NoError(t, err)
	assert.True(t, inv.Usable(time.Now()))

	require.NoError(t, r.MarkInviteUsed(ctx, "tok1"))
	assert.ErrorIs(t, r.MarkInviteUsed(ctx, "tok1"), lifecycle.ErrStaleWrite)
	assert.ErrorIs(t, r.MarkInviteUsed(ctx, "nope"), lifecycle.ErrRecordNotFound)

	require.NoError(t, r.AddCredential(ctx, &models.Credential{UserID: "alice", CredentialID: []byte{1, 2, 3}, PublicKey: []byte{9}, Transports: []string{"internal"}}))
	assert.ErrorIs(t, r.AddCredential(ctx, &models.Credential{UserID: "alice", CredentialID: []byte{1, 2, 3}, PublicKey: []byte{9}}), lifecycle.ErrDuplicate)

	require.NoError(t, r.TouchCredential(ctx, []byte{1, 2, 3}, 7, false))
	c, err := r.FindCredential(ctx, []byte{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, "alice", c.UserID)
	assert.EqualValues(t, 7, c.SignCount)
	assert.NotNil(t, c.LastUsedAt)
	assert.Equal(t, []string{"internal"}, c.Transports)

	list, err := r.ListCredentials(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
