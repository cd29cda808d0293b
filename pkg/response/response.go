package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// AppError represents a failure that maps to a specific HTTP status.
type AppError struct {
	HTTPStatus int    // HTTP status code (e.g. 400, 404, 500)
	Message    string // Human-readable error message
	Err        error  // underlying cause, never sent to the client
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Pre-defined error constructors

func NewBadRequest(msg string) *AppError {
	return &AppError{HTTPStatus: http.StatusBadRequest, Message: msg}
}

func NewUnauthorized(msg string) *AppError {
	return &AppError{HTTPStatus: http.StatusUnauthorized, Message: msg}
}

func NewForbidden(msg string) *AppError {
	return &AppError{HTTPStatus: http.StatusForbidden, Message: msg}
}

func NewNotFound(msg string) *AppError {
	return &AppError{HTTPStatus: http.StatusNotFound, Message: msg}
}

func NewConflict(msg string) *AppError {
	return &AppError{HTTPStatus: http.StatusConflict, Message: msg}
}

func NewServerError(msg string) *AppError {
	return &AppError{HTTPStatus: http.StatusInternalServerError, Message: msg}
}

// --- Gin response helpers ---

// Success sends a 200 OK response. The fields are merged into the body next
// to "success": true.
func Success(c *gin.Context, fields gin.H) {
	c.JSON(http.StatusOK, body(fields))
}

// Created sends a 201 Created response.
func Created(c *gin.Context, fields gin.H) {
	c.JSON(http.StatusCreated, body(fields))
}

func body(fields gin.H) gin.H {
	out := gin.H{"success": true}
	for k, v := range fields {
		if k == "success" {
			continue
		}
		out[k] = v
	}
	return out
}

// Error sends a failure response. An *AppError anywhere in the chain decides
// the status and message; anything else becomes a generic 500 so internal
// details never reach the client.
func Error(c *gin.Context, err error) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		Fail(c, appErr.HTTPStatus, appErr.Message)
		return
	}
	Fail(c, http.StatusInternalServerError, "internal server error")
}

// Fail aborts the request with {"success": false, "error": msg}.
func Fail(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"error":   msg,
	})
}

// Convenience error response functions

func BadRequest(c *gin.Context, msg string) {
	Fail(c, http.StatusBadRequest, msg)
}

func Unauthorized(c *gin.Context, msg string) {
	Fail(c, http.StatusUnauthorized, msg)
}

func Forbidden(c *gin.Context, msg string) {
	Fail(c, http.StatusForbidden, msg)
}

func NotFound(c *gin.Context, msg string) {
	Fail(c, http.StatusNotFound, msg)
}

func TooManyRequests(c *gin.Context, msg string) {
	Fail(c, http.StatusTooManyRequests, msg)
}

func ServerError(c *gin.Context, msg string) {
	Fail(c, http.StatusInternalServerError, msg)
}
