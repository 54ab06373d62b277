// controllers/equipment_controller.go
package controllers

import (
	"net/http"

	"gear_checkout/app"
	"gear_checkout/lifecycle"
	"gear_checkout/models"

	"github.com/gin-gonic/gin"
)

type EquipmentController struct{ *Srv }

func NewEquipmentController(s *Srv) *EquipmentController { return &EquipmentController{Srv: s} }

// POST /api/equipment (manager)
func (ec *EquipmentController) Create(c *gin.Context) {
	var in struct {
		ID        string           `json:"id"`
		Barcode   string           `json:"barcode" binding:"required"`
		Name      string           `json:"name"`
		Category  string           `json:"category"`
		Location  string           `json:"location"`
		Condition models.Condition `json:"condition"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}
	it, err := ec.Engine.CreateEquipment(c.Request.Context(), lifecycle.NewEquipment{
		ID:        in.ID,
		Barcode:   in.Barcode,
		Name:      in.Name,
		Category:  in.Category,
		Location:  in.Location,
		Condition: in.Condition,
	}, app.CurrentUserID(c))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, it)
}

// GET /api/equipment?status=&category=&assignedTo=&q=
func (ec *EquipmentController) List(c *gin.Context) {
	f := lifecycle.EquipmentFilter{
		Status:     models.EquipmentStatus(c.Query("status")),
		Category:   c.Query("category"),
		AssignedTo: c.Query("assignedTo"),
		Query:      c.Query("q"),
	}
	items, err := ec.Engine.ListEquipment(c.Request.Context(), f)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, app.H{"items": items})
}

// GET /api/equipment/:id
func (ec *EquipmentController) Get(c *gin.Context) {
	it, err := ec.Engine.Equipment(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, it)
}

// GET /api/barcodes/:code
func (ec *EquipmentController) ByBarcode(c *gin.Context) {
	it, err := ec.Engine.ResolveBarcode(c.Request.Context(), c.Param("code"))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, it)
}

// PATCH /api/equipment/:id (manager)
func (ec *EquipmentController) Edit(c *gin.Context) {
	var in struct {
		Status    *models.EquipmentStatus `json:"status"`
		Condition *models.Condition       `json:"condition"`
		Name      *string                 `json:"name"`
		Category  *string                 `json:"category"`
		Location  *string                 `json:"location"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}
	res, err := ec.Engine.EditEquipment(c.Request.Context(), c.Param("id"), lifecycle.EquipmentEdit{
		Status:    in.Status,
		Condition: in.Condition,
		Name:      in.Name,
		Category:  in.Category,
		Location:  in.Location,
	}, app.CurrentUserID(c))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// POST /api/equipment/:id/return
func (ec *EquipmentController) Return(c *gin.Context) {
	var in struct {
		Condition models.Condition `json:"condition" binding:"required"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}
	ctx := c.Request.Context()
	id := c.Param("id")
	actor := app.CurrentUserID(c)
	if !app.CurrentRole(c).AtLeast(models.RoleManager) {
		it, err := ec.Engine.Equipment(ctx, id)
		if err != nil {
			respondErr(c, err)
			return
		}
		if it.Assignee() != "" && it.Assignee() != actor {
			c.JSON(http.StatusForbidden, app.H{"error": "item is checked out to someone else"})
			return
		}
	}
	if err := ec.Engine.SubmitReturn(ctx, id, in.Condition, actor); err != nil {
		respondErr(c, err)
		return
	}
	it, err := ec.Engine.Equipment(ctx, id)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, it)
}

// POST /api/equipment/:id/verify (manager)
func (ec *EquipmentController) Verify(c *gin.Context) {
	var in struct {
		Outcome models.EquipmentStatus `json:"outcome" binding:"required"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}
	res, err := ec.Engine.Verify(c.Request.Context(), c.Param("id"), in.Outcome, app.CurrentUserID(c))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// GET /api/me/equipment: what the caller is holding right now.
func (ec *EquipmentController) Mine(c *gin.Context) {
	items, err := ec.Engine.ListEquipment(c.Request.Context(), lifecycle.EquipmentFilter{
		AssignedTo: app.CurrentUserID(c),
	})
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, app.H{"items": items})
}
