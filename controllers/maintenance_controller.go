package controllers

import (
	"net/http"

	"gear_checkout/app"

	"github.com/gin-gonic/gin"
)

type MaintenanceController struct{ *Srv }

func NewMaintenanceController(s *Srv) *MaintenanceController {
	return &MaintenanceController{Srv: s}
}

// POST /api/admin/maintenance/reconcile
func (mc *MaintenanceController) Reconcile(c *gin.Context) {
	rep, err := mc.Engine.ReconcileStaleTransactions(c.Request.Context(), app.CurrentUserID(c))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, rep)
}

// POST /api/admin/maintenance/cleanup-assignments
func (mc *MaintenanceController) CleanupAssignments(c *gin.Context) {
	rep, err := mc.Engine.CleanupStaleAssignments(c.Request.Context(), app.CurrentUserID(c))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, rep)
}

// POST /api/admin/maintenance/flush-audit
func (mc *MaintenanceController) FlushAudit(c *gin.Context) {
	ctx := c.Request.Context()
	n, err := mc.Engine.FlushAuditBacklog(ctx)
	left, _ := mc.Engine.AuditBacklogLen(ctx)
	if err != nil {
		c.JSON(http.StatusBadGateway, app.H{"error": err.Error(), "flushed": n, "remaining": left})
		return
	}
	c.JSON(http.StatusOK, app.H{"flushed": n, "remaining": left})
}

// GET /api/admin/maintenance/audit-backlog
func (mc *MaintenanceController) AuditBacklog(c *gin.Context) {
	n, err := mc.Engine.AuditBacklogLen(c.Request.Context())
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, app.H{"remaining": n})
}
