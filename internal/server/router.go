package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"LIBRIS-backend/internal/library/catalog"
	"LIBRIS-backend/internal/library/loans"
	"LIBRIS-backend/internal/library/logs"
	"LIBRIS-backend/internal/library/members"
	"LIBRIS-backend/internal/library/reports"
	"LIBRIS-backend/internal/platform/apierr"
	"LIBRIS-backend/internal/platform/auth"
	"LIBRIS-backend/internal/platform/db"
	"LIBRIS-backend/internal/platform/middleware"
)

const APIPrefix = "/api/v1"

// NewRouter はミドルウェアと全ルートを組み立てる
func NewRouter(cfg *db.Config, conn *sqlx.DB) *gin.Engine {
	r := gin.New()
	r.Use(
		middleware.RequestID(),
		gin.LoggerWithFormatter(middleware.AccessLogFormatter),
		gin.Recovery(),
		middleware.ErrorLog(),
	)
	_ = r.SetTrustedProxies(nil)

	if cfg.Mode == "dev" {
		// CORS（開発中のみ必要）
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.Server.AllowOrigin,
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", middleware.HeaderRequestID},
			ExposeHeaders:    []string{"Content-Length", "Content-Disposition", middleware.HeaderRequestID},
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowCredentials: true,
		}))
	}

	// ヘルス（DB疎通込み）
	r.GET("/healthz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := conn.PingContext(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db unreachable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	authSvc := auth.NewService(conn, []byte(cfg.Auth.JWTSecret), cfg.Auth.TokenTTL)
	loanSvc := loans.NewService(conn, loans.PolicyFromConfig(cfg.Loans))

	api := r.Group(APIPrefix)
	auth.RegisterPublicRoutes(api, authSvc)

	secured := api.Group("", auth.RequireAuth(authSvc.Secret()))
	auth.RegisterRoutes(secured, authSvc)
	catalog.RegisterRoutes(secured, catalog.NewService(conn))
	members.RegisterRoutes(secured, members.NewService(conn))
	loans.RegisterRoutes(secured, loanSvc)
	reports.RegisterRoutes(secured, reports.NewService(conn, loanSvc))
	logs.RegisterRoutes(secured, logs.NewService(conn))

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, apierr.Body(apierr.CodeNotFound, "no such route"))
	})
	return r
}
