package controllers

import (
	"net/http"
	"strconv"
	"time"

	"gear_checkout/app"
	"gear_checkout/lifecycle"
	"gear_checkout/models"

	"github.com/gin-gonic/gin"
)

type LogController struct{ *Srv }

func NewLogController(s *Srv) *LogController { return &LogController{Srv: s} }

// GET /api/logs?entityId=&action=&userId=&from=&to=&limit=&offset=
// from/to are RFC 3339; to is exclusive.
func (lc *LogController) List(c *gin.Context) {
	f := lifecycle.LogFilter{
		EntityID: c.Query("entityId"),
		Action:   models.Action(c.Query("action")),
		UserID:   c.Query("userId"),
	}
	var err error
	if f.From, err = parseTime(c.Query("from")); err != nil {
		badRequest(c, err)
		return
	}
	if f.To, err = parseTime(c.Query("to")); err != nil {
		badRequest(c, err)
		return
	}
	f.Limit, _ = strconv.Atoi(c.DefaultQuery("limit", "100"))
	f.Offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))

	logs, err := lc.Engine.ListLogs(c.Request.Context(), f)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, app.H{"items": logs})
}

func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, v)
}
