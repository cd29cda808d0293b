package handlers

import (
	"errors"
	"strings"

	"github.com/constructa/erp/backend/internal/repository"
	"github.com/constructa/erp/backend/internal/services"
	"github.com/constructa/erp/backend/pkg/logger"
	"github.com/constructa/erp/backend/pkg/response"
	"github.com/gin-gonic/gin"
)

// toAppError maps domain errors to HTTP errors. Unknown errors become a
// generic 500 and are logged with the request id.
func toAppError(c *gin.Context, err error) *response.AppError {
	var appErr *response.AppError
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, services.ErrValidation):
		msg := strings.TrimPrefix(err.Error(), services.ErrValidation.Error()+": ")
		return &response.AppError{HTTPStatus: 400, Message: msg, Err: err}
	case errors.Is(err, repository.ErrNotFound):
		return &response.AppError{HTTPStatus: 404, Message: "config not found", Err: err}
	case errors.Is(err, repository.ErrDuplicateKey):
		return &response.AppError{HTTPStatus: 409, Message: "config already exists", Err: err}
	}

	logger.FromGin(c).Error().Err(err).Msg("[Handler] Request failed")
	return &response.AppError{HTTPStatus: 500, Message: "internal server error", Err: err}
}

func fail(c *gin.Context, err error) {
	response.Error(c, toAppError(c, err))
}
