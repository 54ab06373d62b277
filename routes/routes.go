package routes

import (
	"gear_checkout/app"
	"gear_checkout/controllers"
	"gear_checkout/models"

	"github.com/gin-gonic/gin"
)

func RegisterRoutes(r *gin.Engine, a *app.App) {
	s := controllers.GetSrv(a)
	uc := controllers.GetUserController(s)
	eqCtl := controllers.NewEquipmentController(s)
	txCtl := controllers.NewTransactionController(s)
	logCtl := controllers.NewLogController(s)
	mntCtl := controllers.NewMaintenanceController(s)

	authMW := app.AuthRequired(a.Sessions, a.Users, a.Config)
	seenMW := app.TouchLastSeen(a.Users, a.RDB, a.Config.SeenThrottle)
	managerMW := app.RoleAtLeast(models.RoleManager)
	adminMW := app.RoleAtLeast(models.RoleAdmin)

	r.GET("/healthz", func(c *app.Ctx) { c.JSON(200, app.H{"ok": true}) })
	if a.Config.MetricsEnabled {
		r.GET("/metrics", app.MetricsHandler())
	}

	// ------------------------------
	// passkeys (public)
	// ------------------------------
	wa := r.Group("/webauthn")
	{
		wa.POST("/register/begin", s.BeginRegistration)
		wa.POST("/register/finish", s.FinishRegistration)
		wa.POST("/login/begin", s.BeginLogin)
		wa.POST("/login/finish", s.FinishLogin)
	}

	api := r.Group("/api", authMW, seenMW)

	api.GET("/me", uc.Me)
	api.GET("/me/equipment", eqCtl.Mine)
	api.GET("/me/passkeys", s.ListPasskeys)
	api.POST("/me/passkeys/begin", s.BeginAddPasskey)
	api.POST("/me/passkeys/finish", s.FinishAddPasskey)
	api.POST("/auth/logout", uc.Logout)

	// ------------------------------
	// equipment
	// ------------------------------
	api.GET("/equipment", eqCtl.List)
	api.GET("/barcodes/:code", eqCtl.ByBarcode)
	api.GET("/equipment/:id", eqCtl.Get)
	api.POST("/equipment/:id/return", eqCtl.Return)
	api.POST("/equipment", managerMW, eqCtl.Create)
	api.PATCH("/equipment/:id", managerMW, eqCtl.Edit)
	api.POST("/equipment/:id/verify", managerMW, eqCtl.Verify)

	// ------------------------------
	// transactions
	// ------------------------------
	api.POST("/transactions", txCtl.Checkout)
	api.GET("/transactions", txCtl.List)
	api.GET("/transactions/:id", txCtl.Get)
	api.POST("/transactions/:id/items", managerMW, txCtl.AddItem)
	api.DELETE("/transactions/:id/items/:itemId", managerMW, txCtl.RemoveItem)

	// ------------------------------
	// admin
	// ------------------------------
	users := api.Group("/users", adminMW)
	{
		users.POST("", uc.CreateUser)
		users.GET("", uc.ListUsers) // ?q=&page=&size=
		users.GET("/:id", uc.GetUser)
		users.PUT("/:id/role", uc.SetRole)
		users.PUT("/:id/active", uc.SetActive)
		users.POST("/:id/invites", uc.CreateInvite)
		users.POST("/:id/sessions", uc.IssueSession)
		users.DELETE("/:id/sessions", uc.RevokeSessions)
	}

	api.GET("/logs", adminMW, logCtl.List)

	mnt := api.Group("/admin/maintenance", adminMW)
	{
		mnt.POST("/reconcile", mntCtl.Reconcile)
		mnt.POST("/cleanup-assignments", mntCtl.CleanupAssignments)
		mnt.POST("/flush-audit", mntCtl.FlushAudit)
		mnt.GET("/audit-backlog", mntCtl.AuditBacklog)
	}
}
