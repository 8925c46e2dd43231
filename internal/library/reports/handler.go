package reports

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"LIBRIS-backend/internal/library/loans"
	"LIBRIS-backend/internal/library/members"
	"LIBRIS-backend/internal/platform/apierr"
	"LIBRIS-backend/internal/platform/auth"
)

type Handler struct{ svc *Service }

func RegisterRoutes(r gin.IRoutes, svc *Service) {
	h := &Handler{svc: svc}
	read := auth.RequirePermission(auth.PermReportsRead)
	r.GET("/reports/stats", read, h.Stats)
	r.GET("/reports/active-loans.csv", read, h.ActiveLoansCSV)
}

func (h *Handler) Stats(c *gin.Context) {
	res, err := h.svc.Stats(c.Request.Context())
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// GET /reports/active-loans.csv?encoding=sjis&member_type=student&q=...&overdue=true
func (h *Handler) ActiveLoansCSV(c *gin.Context) {
	f := loans.ActiveFilter{Search: c.Query("q")}
	if v := c.Query("member_type"); v != "" {
		t := members.MemberType(v)
		f.MemberType = &t
	}
	f.OverdueOnly = c.Query("overdue") == "true"

	enc := Encoding(c.DefaultQuery("encoding", string(EncodingUTF8)))
	buf, err := h.svc.ActiveLoansCSV(c.Request.Context(), f, enc)
	if err != nil {
		apierr.Respond(c, err)
		return
	}

	charset := "utf-8"
	if enc == EncodingShiftJIS {
		charset = "shift_jis"
	}
	name := fmt.Sprintf("active-loans-%s.csv", h.svc.clock.Now().Format("20060102"))
	c.Header("Content-Disposition", `attachment; filename="`+name+`"`)
	c.Data(http.StatusOK, "text/csv; charset="+charset, buf)
}
