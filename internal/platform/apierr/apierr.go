package apierr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// ===== Error model (catalog / members / loans 共通) =====

type Code string

const (
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	CodeUnauthorized    Code = "UNAUTHORIZED"
	CodeForbidden       Code = "FORBIDDEN"
	CodeNotFound        Code = "NOT_FOUND"
	CodeConflict        Code = "CONFLICT" // 同時更新の競合・参照中の削除など
	CodeUnavailable     Code = "UNAVAILABLE"
	CodeIneligible      Code = "INELIGIBLE"
	CodeAlreadyReturned Code = "ALREADY_RETURNED"
	CodeInternal        Code = "INTERNAL"
)

type APIError struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

func ErrInvalid(msg string) *APIError         { return &APIError{Code: CodeInvalidArgument, Message: msg} }
func ErrUnauthorized(msg string) *APIError    { return &APIError{Code: CodeUnauthorized, Message: msg} }
func ErrForbidden(msg string) *APIError       { return &APIError{Code: CodeForbidden, Message: msg} }
func ErrNotFound(msg string) *APIError        { return &APIError{Code: CodeNotFound, Message: msg} }
func ErrConflict(msg string) *APIError        { return &APIError{Code: CodeConflict, Message: msg} }
func ErrUnavailable(msg string) *APIError     { return &APIError{Code: CodeUnavailable, Message: msg} }
func ErrIneligible(msg string) *APIError      { return &APIError{Code: CodeIneligible, Message: msg} }
func ErrAlreadyReturned(msg string) *APIError { return &APIError{Code: CodeAlreadyReturned, Message: msg} }
func ErrInternal(msg string) *APIError        { return &APIError{Code: CodeInternal, Message: msg} }

// CodeOf: err のコード。*APIError 以外は CodeInternal 扱い。
func CodeOf(err error) Code {
	var api *APIError
	if errors.As(err, &api) {
		return api.Code
	}
	return CodeInternal
}

func ToHTTPStatus(err error) int {
	switch CodeOf(err) {
	case CodeInvalidArgument:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict, CodeUnavailable, CodeAlreadyReturned:
		return http.StatusConflict
	case CodeIneligible:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// ---------- handler helpers ----------

type errorDTO struct {
	Error *APIError `json:"error"`
}

func Body(code Code, msg string) errorDTO {
	return errorDTO{Error: &APIError{Code: code, Message: msg}}
}

func BodyFrom(err error) errorDTO {
	var api *APIError
	if errors.As(err, &api) {
		return errorDTO{Error: api}
	}
	// 内部エラーの詳細はクライアントへ出さない
	return Body(CodeInternal, "internal error")
}

// Respond はコードに対応するステータスで返す。内部エラーは c.Error 経由で ErrorLog が記録する。
func Respond(c *gin.Context, err error) {
	if CodeOf(err) == CodeInternal {
		_ = c.Error(err)
	}
	c.JSON(ToHTTPStatus(err), BodyFrom(err))
}
