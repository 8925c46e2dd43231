package catalog

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"LIBRIS-backend/internal/platform/apierr"
	"LIBRIS-backend/internal/platform/auth"
)

type Handler struct{ svc *Service }

func RegisterRoutes(r gin.IRoutes, svc *Service) {
	h := &Handler{svc: svc}

	read := auth.RequirePermission(auth.PermCatalogRead)
	write := auth.RequirePermission(auth.PermCatalogWrite)

	r.GET("/books", read, h.ListBooks)
	r.GET("/books/:accession_number", read, h.GetBook)

	r.POST("/books", write, h.CreateBook)
	r.PUT("/books/:accession_number", write, h.UpdateBook)
	r.DELETE("/books/:accession_number", write, h.DeleteBook)

	// 複本の受入・除籍
	r.POST("/books/:accession_number/copies", write, h.AddCopies)
	r.DELETE("/books/:accession_number/copies", write, h.WithdrawCopies)
}

func (h *Handler) CreateBook(c *gin.Context) {
	var req CreateBookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apierr.Body(apierr.CodeInvalidArgument, "invalid json"))
		return
	}
	res, err := h.svc.CreateBook(c.Request.Context(), req)
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.Header("Location", "/books/"+res.AccessionNumber)
	c.JSON(http.StatusCreated, res)
}

func (h *Handler) GetBook(c *gin.Context) {
	res, err := h.svc.GetBook(c.Request.Context(), c.Param("accession_number"))
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) ListBooks(c *gin.Context) {
	f := BookQuery{Query: c.Query("q")}
	if v := c.Query("category"); v != "" {
		f.Category = &v
	}
	if v := c.Query("available"); v == "true" || v == "1" {
		f.AvailableOnly = true
	}
	p := Page{
		Limit:  parseIntDefault(c.Query("limit"), 50),
		Offset: parseIntDefault(c.Query("offset"), 0),
		Order:  strings.ToLower(c.DefaultQuery("order", "asc")),
	}
	res, err := h.svc.ListBooks(c.Request.Context(), f, p)
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) UpdateBook(c *gin.Context) {
	var req UpdateBookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apierr.Body(apierr.CodeInvalidArgument, "invalid json"))
		return
	}
	res, err := h.svc.UpdateBook(c.Request.Context(), c.Param("accession_number"), req)
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) DeleteBook(c *gin.Context) {
	if err := h.svc.DeleteBook(c.Request.Context(), c.Param("accession_number")); err != nil {
		apierr.Respond(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) AddCopies(c *gin.Context) {
	var req CopiesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apierr.Body(apierr.CodeInvalidArgument, "invalid json"))
		return
	}
	res, err := h.svc.AddCopies(c.Request.Context(), c.Param("accession_number"), req.Count)
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) WithdrawCopies(c *gin.Context) {
	var req CopiesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apierr.Body(apierr.CodeInvalidArgument, "invalid json"))
		return
	}
	res, err := h.svc.WithdrawCopies(c.Request.Context(), c.Param("accession_number"), req.Count)
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// ---------- helpers ----------

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
