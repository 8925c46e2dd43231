package members

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"LIBRIS-backend/internal/platform/apierr"
	"LIBRIS-backend/internal/platform/auth"
)

type Handler struct{ svc *Service }

func RegisterRoutes(r gin.IRoutes, svc *Service) {
	h := &Handler{svc: svc}

	read := auth.RequirePermission(auth.PermMembersRead)
	write := auth.RequirePermission(auth.PermMembersWrite)

	r.GET("/members", read, h.ListMembers) // 貸出画面の利用者検索もここ
	r.GET("/members/:member_id", read, h.GetMember)
	r.POST("/members", write, h.CreateMember)
	r.PUT("/members/:member_id", write, h.UpdateMember)
	r.PATCH("/members/:member_id/status", write, h.SetStatus)
	r.DELETE("/members/:member_id", auth.RequirePermission(auth.PermMembersDelete), h.DeleteMember)
}

func (h *Handler) CreateMember(c *gin.Context) {
	var req CreateMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apierr.Body(apierr.CodeInvalidArgument, "invalid json"))
		return
	}
	res, err := h.svc.CreateMember(c.Request.Context(), req)
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.Header("Location", "/members/"+res.MemberID)
	c.JSON(http.StatusCreated, res)
}

func (h *Handler) GetMember(c *gin.Context) {
	res, err := h.svc.GetMember(c.Request.Context(), c.Param("member_id"))
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) ListMembers(c *gin.Context) {
	f := MemberQuery{Query: c.Query("q")}
	if v := c.Query("member_type"); v != "" {
		t := MemberType(v)
		f.Type = &t
	}
	if v := c.Query("status"); v != "" {
		st := Status(v)
		f.Status = &st
	}
	p := Page{
		Limit:  atoiDef(c.Query("limit"), 50),
		Offset: atoiDef(c.Query("offset"), 0),
	}
	res, err := h.svc.ListMembers(c.Request.Context(), f, p)
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) UpdateMember(c *gin.Context) {
	var req UpdateMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apierr.Body(apierr.CodeInvalidArgument, "invalid json"))
		return
	}
	res, err := h.svc.UpdateMember(c.Request.Context(), c.Param("member_id"), req)
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) SetStatus(c *gin.Context) {
	var req SetStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apierr.Body(apierr.CodeInvalidArgument, "invalid json"))
		return
	}
	res, err := h.svc.SetStatus(c.Request.Context(), c.Param("member_id"), req.Status)
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) DeleteMember(c *gin.Context) {
	if err := h.svc.DeleteMember(c.Request.Context(), c.Param("member_id")); err != nil {
		apierr.Respond(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func atoiDef(s string, d int) int {
	if s == "" {
		return d
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return d
	}
	return v
}
