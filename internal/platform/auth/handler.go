package auth

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"LIBRIS-backend/internal/platform/apierr"
)

type AuthHandler struct{ svc AuthService }

// RegisterPublicRoutes: 認証不要
func RegisterPublicRoutes(r gin.IRoutes, svc AuthService) {
	h := &AuthHandler{svc: svc}
	r.POST("/login", h.Login)
}

// RegisterRoutes: アカウント管理（admin のみ）
func RegisterRoutes(r gin.IRoutes, svc AuthService) {
	h := &AuthHandler{svc: svc}
	write := RequirePermission(PermAccountsWrite)
	r.POST("/accounts", write, h.Register)
	r.DELETE("/accounts/:id", write, h.DeleteAccount)
	r.PATCH("/accounts/:id", write, h.ChangeUsername) // “ユーザー名変更” = id変更
}

type LoginRequest struct {
	ID       string `json:"id" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apierr.Body(apierr.CodeInvalidArgument, "invalid request"))
		return
	}

	token, err := h.svc.Login(c.Request.Context(), req.ID, req.Password)
	if err != nil {
		if !errors.Is(err, ErrAuthFailed) {
			_ = c.Error(err)
		}
		c.JSON(http.StatusUnauthorized, apierr.Body(apierr.CodeUnauthorized, "invalid id or password"))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":   token,
		"message": "login successful",
	})
}

type RegisterRequest struct {
	ID       string  `json:"id" binding:"required"`
	Password string  `json:"password" binding:"required"`
	Role     *string `json:"role,omitempty"` // 未指定なら student
	MemberID *string `json:"member_id,omitempty"`
}

func (h *AuthHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apierr.Body(apierr.CodeInvalidArgument, "invalid request"))
		return
	}

	in := RegisterInput{ID: req.ID, Password: req.Password, Role: RoleStudent}
	if req.Role != nil && *req.Role != "" {
		in.Role = Role(*req.Role)
	}
	if req.MemberID != nil {
		in.MemberID = *req.MemberID
	}

	if err := h.svc.Register(c.Request.Context(), in); err != nil {
		switch {
		case errors.Is(err, ErrAlreadyExists):
			c.JSON(http.StatusConflict, apierr.Body(apierr.CodeConflict, "id already exists"))
		case errors.Is(err, ErrInvalidRole), errors.Is(err, ErrInvalidInput):
			c.JSON(http.StatusBadRequest, apierr.Body(apierr.CodeInvalidArgument, err.Error()))
		default:
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, apierr.Body(apierr.CodeInternal, "register failed"))
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{"message": "registered"})
}

func (h *AuthHandler) DeleteAccount(c *gin.Context) {
	id := c.Param("id")

	if err := h.svc.Delete(c.Request.Context(), id); err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, apierr.Body(apierr.CodeNotFound, "not found"))
			return
		}
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, apierr.Body(apierr.CodeInternal, "delete failed"))
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "deleted"})
}

type ChangeUsernameRequest struct {
	NewID string `json:"new_id" binding:"required"`
}

func (h *AuthHandler) ChangeUsername(c *gin.Context) {
	oldID := c.Param("id")

	var req ChangeUsernameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apierr.Body(apierr.CodeInvalidArgument, "invalid request"))
		return
	}

	if err := h.svc.ChangeID(c.Request.Context(), oldID, req.NewID); err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			c.JSON(http.StatusNotFound, apierr.Body(apierr.CodeNotFound, "not found"))
		case errors.Is(err, ErrAlreadyExists):
			c.JSON(http.StatusConflict, apierr.Body(apierr.CodeConflict, "new id already exists"))
		default:
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, apierr.Body(apierr.CodeInternal, "change id failed"))
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "username changed"})
}
