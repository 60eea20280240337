package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"auctionhouse/internal/service"
)

type apiResponse struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    any            `json:"data,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

type apiError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func Ok(c *gin.Context, data any, meta map[string]any) {
	c.JSON(http.StatusOK, apiResponse{
		Code:    0,
		Message: "ok",
		Data:    data,
		Meta:    meta,
	})
}

func Error(c *gin.Context, status int, message string, meta map[string]any) {
	c.JSON(status, apiResponse{
		Code:    status,
		Message: message,
		Meta:    meta,
	})
}

// Fail translates a service error into its HTTP shape. Unknown errors are a
// 500 with no detail leaked.
func Fail(c *gin.Context, err error) {
	var serr *service.Error
	if errors.As(err, &serr) {
		c.JSON(serr.Status, apiError{
			Code:    serr.Code,
			Message: serr.Message,
			Details: serr.Details,
		})
		return
	}
	c.JSON(http.StatusInternalServerError, apiError{
		Code:    "INTERNAL",
		Message: "internal error",
	})
}
