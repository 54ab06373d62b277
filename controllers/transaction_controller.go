package controllers

import (
	"net/http"
	"strings"

	"gear_checkout/app"
	"gear_checkout/lifecycle"
	"gear_checkout/models"

	"github.com/gin-gonic/gin"
)

type TransactionController struct{ *Srv }

func NewTransactionController(s *Srv) *TransactionController {
	return &TransactionController{Srv: s}
}

type checkoutReq struct {
	EquipmentIDs    []string `json:"equipmentIds"`
	Barcodes        []string `json:"barcodes"`
	UserID          string   `json:"userId"` // defaults to the caller
	AdditionalUsers []string `json:"additionalUsers"`
	Project         string   `json:"project"`
}

// POST /api/transactions
// Staff check out to themselves; managers may name any holder.
func (tc *TransactionController) Checkout(c *gin.Context) {
	var in checkoutReq
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}
	ctx := c.Request.Context()
	actor := app.CurrentUserID(c)

	holder := strings.TrimSpace(in.UserID)
	if holder == "" {
		holder = actor
	}
	if holder != actor && !app.CurrentRole(c).AtLeast(models.RoleManager) {
		c.JSON(http.StatusForbidden, app.H{"error": "only managers may check out for someone else"})
		return
	}

	ids := append([]string{}, in.EquipmentIDs...)
	for _, code := range in.Barcodes {
		it, err := tc.Engine.ResolveBarcode(ctx, code)
		if err != nil {
			respondErr(c, err)
			return
		}
		ids = append(ids, it.ID)
	}

	res, err := tc.Engine.Checkout(ctx, lifecycle.CheckoutRequest{
		EquipmentIDs:        ids,
		HolderID:            holder,
		AdditionalHolderIDs: in.AdditionalUsers,
		Project:             in.Project,
		ActorID:             actor,
	})
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

// GET /api/transactions?status=&userId=
// Staff only see their own transactions.
func (tc *TransactionController) List(c *gin.Context) {
	f := lifecycle.TransactionFilter{
		Status: models.TransactionStatus(strings.ToUpper(c.Query("status"))),
		UserID: c.Query("userId"),
	}
	if !app.CurrentRole(c).AtLeast(models.RoleManager) {
		f.UserID = app.CurrentUserID(c)
	}
	ts, err := tc.Engine.ListTransactions(c.Request.Context(), f)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, app.H{"items": ts})
}

// GET /api/transactions/:id
// Staff may only read transactions they hold.
func (tc *TransactionController) Get(c *gin.Context) {
	t, err := tc.Engine.Transaction(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	if !app.CurrentRole(c).AtLeast(models.RoleManager) && !t.Involves(app.CurrentUserID(c)) {
		c.JSON(http.StatusForbidden, app.H{"error": "not your transaction"})
		return
	}
	c.JSON(http.StatusOK, t)
}

// POST /api/transactions/:id/items (manager)
func (tc *TransactionController) AddItem(c *gin.Context) {
	var in struct {
		EquipmentID string `json:"equipmentId"`
		Barcode     string `json:"barcode"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}
	ctx := c.Request.Context()
	id := strings.TrimSpace(in.EquipmentID)
	if id == "" {
		it, err := tc.Engine.ResolveBarcode(ctx, in.Barcode)
		if err != nil {
			respondErr(c, err)
			return
		}
		id = it.ID
	}
	t, err := tc.Engine.AddItemToTransaction(ctx, c.Param("id"), id, app.CurrentUserID(c))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// DELETE /api/transactions/:id/items/:itemId (manager)
func (tc *TransactionController) RemoveItem(c *gin.Context) {
	t, err := tc.Engine.RemoveItemFromTransaction(c.Request.Context(), c.Param("id"), c.Param("itemId"), app.CurrentUserID(c))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}
