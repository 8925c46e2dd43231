package loans

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"LIBRIS-backend/internal/library/members"
	"LIBRIS-backend/internal/platform/apierr"
	"LIBRIS-backend/internal/platform/auth"
)

type Handler struct{ svc *Service }

func RegisterRoutes(r gin.IRoutes, svc *Service) {
	h := &Handler{svc: svc}

	r.POST("/loans", auth.RequirePermission(auth.PermLoansIssue), h.Issue)
	r.POST("/loans/:key/return", auth.RequirePermission(auth.PermLoansReturn), h.Return)

	readAll := auth.RequirePermission(auth.PermLoansReadAll)
	r.GET("/loans", readAll, h.ListLoans)
	r.GET("/loans/active", readAll, h.ListActive)
	r.GET("/loans/:key", readAll, h.GetLoan) // key = loan_id or ULID

	r.GET("/me/loans", auth.RequirePermission(auth.PermLoansReadOwn), h.ListMyLoans)
}

func (h *Handler) Issue(c *gin.Context) {
	var req IssueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apierr.Body(apierr.CodeInvalidArgument, "invalid json"))
		return
	}
	req.IssuedBy = auth.UserIDFrom(c)

	res, err := h.svc.Issue(c.Request.Context(), req)
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	// グループのプレフィックス込みのパス（/api/v1/loans）に続ける
	c.Header("Location", strings.TrimSuffix(c.FullPath(), "/")+"/"+res.LoanULID)
	c.JSON(http.StatusCreated, res)
}

func (h *Handler) Return(c *gin.Context) {
	var req ReturnRequest
	// ボディは省略可。chunked（ContentLength=-1）でも読む
	if c.Request.Body != nil && c.Request.Body != http.NoBody {
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			c.JSON(http.StatusBadRequest, apierr.Body(apierr.CodeInvalidArgument, "invalid json"))
			return
		}
	}
	req.ReceivedBy = auth.UserIDFrom(c)

	res, err := h.svc.Return(c.Request.Context(), c.Param("key"), req)
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) GetLoan(c *gin.Context) {
	res, err := h.svc.GetLoan(c.Request.Context(), c.Param("key"))
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// GET /loans/active?member_type=student&q=yamada&overdue=true
func (h *Handler) ListActive(c *gin.Context) {
	f := ActiveFilter{Search: c.Query("q")}
	if v := c.Query("member_type"); v != "" {
		t := members.MemberType(v)
		f.MemberType = &t
	}
	if v := c.Query("member_id"); v != "" {
		f.MemberID = &v
	}
	f.OverdueOnly = parseBool(c.Query("overdue"))

	res, err := h.svc.CollectActive(c.Request.Context(), f)
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// GET /loans?member_id=&accession_number=&status=&from=&to=&limit=&offset=&order=
func (h *Handler) ListLoans(c *gin.Context) {
	var f LoanFilter
	if v := c.Query("member_id"); v != "" {
		f.MemberID = &v
	}
	if v := c.Query("accession_number"); v != "" {
		f.AccessionNumber = &v
	}
	if v := c.Query("status"); v != "" {
		f.Status = &v
	}
	if v := c.Query("from"); v != "" {
		t, err := ParseTimeArg(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, apierr.Body(apierr.CodeInvalidArgument, "from must be YYYY-MM-DD or RFC3339"))
			return
		}
		f.From = &t
	}
	if v := c.Query("to"); v != "" {
		t, err := ParseTimeArg(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, apierr.Body(apierr.CodeInvalidArgument, "to must be YYYY-MM-DD or RFC3339"))
			return
		}
		f.To = &t
	}

	res, err := h.svc.ListLoans(c.Request.Context(), f, pageFrom(c))
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// GET /me/loans : トークンに紐づく利用者の貸出のみ
func (h *Handler) ListMyLoans(c *gin.Context) {
	var status *string
	if v := c.Query("status"); v != "" {
		status = &v
	}
	res, err := h.svc.ListMemberLoans(c.Request.Context(), auth.MemberIDFrom(c), status, pageFrom(c))
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func pageFrom(c *gin.Context) Page {
	return Page{
		Limit:  parseIntDefault(c.Query("limit"), 50),
		Offset: parseIntDefault(c.Query("offset"), 0),
		Order:  c.DefaultQuery("order", "desc"),
	}
}

func parseIntDefault(s string, d int) int {
	if s == "" {
		return d
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return d
	}
	return v
}

func parseBool(s string) bool {
	switch strings.ToLower(s) {
	case "1", "true", "yes":
		return true
	}
	return false
}
