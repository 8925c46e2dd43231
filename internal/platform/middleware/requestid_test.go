package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_RequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID(), ErrorLog())
	r.GET("/ok", func(c *gin.Context) { c.String(http.StatusOK, c.GetString(CtxRequestIDKey)) })
	r.GET("/fail", func(c *gin.Context) {
		_ = c.Error(errors.New("db down"))
		c.Status(http.StatusInternalServerError)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok", nil))
	id := w.Header().Get(HeaderRequestID)
	_, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.Equal(t, id, w.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/ok", nil)
	req.Header.Set(HeaderRequestID, "client-supplied")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "client-supplied", w.Header().Get(HeaderRequestID))

	req = httptest.NewRequest(http.MethodGet, "/ok", nil)
	req.Header.Set(HeaderRequestID, strings.Repeat("x", 100))
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.NotEqual(t, strings.Repeat("x", 100), w.Header().Get(HeaderRequestID))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/fail", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func Test_AccessLogFormatter(t *testing.T) {
	line := AccessLogFormatter(gin.LogFormatterParams{
		TimeStamp:  time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC),
		StatusCode: 201,
		Method:     http.MethodPost,
		Path:       "/api/v1/loans",
		Keys:       map[string]any{CtxRequestIDKey: "abc"},
	})
	assert.Contains(t, line, "201")
	assert.Contains(t, line, "/api/v1/loans")
	assert.Contains(t, line, "req=abc")
}
