package logs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"LIBRIS-backend/internal/platform/apierr"
	"LIBRIS-backend/internal/platform/auth"
)

type Handler struct{ svc *Service }

func RegisterRoutes(r gin.IRoutes, svc *Service) {
	h := &Handler{svc: svc}

	r.POST("/outside-books", auth.RequirePermission(auth.PermLogsWrite), h.CreateLog)
	r.GET("/outside-books", auth.RequirePermission(auth.PermLogsRead), h.ListLogs)
	r.GET("/me/outside-books", auth.RequirePermission(auth.PermLogsWrite), h.ListMyLogs)
}

func (h *Handler) CreateLog(c *gin.Context) {
	var req CreateLogRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apierr.Body(apierr.CodeInvalidArgument, "invalid json"))
		return
	}
	// 職員以外は自分の分しか記録できない
	if role, _ := auth.RoleFrom(c); !auth.Can(role, auth.PermLogsRead) {
		mid := auth.MemberIDFrom(c)
		if mid == "" {
			c.JSON(http.StatusForbidden, apierr.Body(apierr.CodeForbidden, "account is not linked to a member"))
			return
		}
		req.MemberID = mid
	}
	req.LoggedBy = auth.UserIDFrom(c)

	res, err := h.svc.CreateLog(c.Request.Context(), req)
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

// GET /outside-books?member_id=&q=&from=&to=&limit=
func (h *Handler) ListLogs(c *gin.Context) {
	f := LogFilter{Query: c.Query("q")}
	if v := c.Query("member_id"); v != "" {
		f.MemberID = &v
	}
	for _, p := range []struct {
		key string
		dst **time.Time
	}{{"from", &f.From}, {"to", &f.To}} {
		if v := c.Query(p.key); v != "" {
			t, err := ParseDateArg(v)
			if err != nil {
				c.JSON(http.StatusBadRequest, apierr.Body(apierr.CodeInvalidArgument, p.key+" must be YYYY-MM-DD or RFC3339"))
				return
			}
			*p.dst = &t
		}
	}

	res, err := h.svc.ListLogs(c.Request.Context(), f, limitFrom(c))
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) ListMyLogs(c *gin.Context) {
	res, err := h.svc.ListMemberLogs(c.Request.Context(), auth.MemberIDFrom(c), limitFrom(c))
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func limitFrom(c *gin.Context) int {
	v, err := strconv.Atoi(c.Query("limit"))
	if err != nil {
		return defaultLimit
	}
	return v
}
