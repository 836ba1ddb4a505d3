package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	billingdomain "github.com/shiftwise/guardbill/internal/billing/domain"
	customerdomain "github.com/shiftwise/guardbill/internal/customer/domain"
	"go.uber.org/zap"
)

var errInvalidRequest = errors.New("invalid_request")

func AbortWithError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, errInvalidRequest):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, billingdomain.ErrAggregateNotFound),
		errors.Is(err, customerdomain.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		zap.L().Error("request failed", zap.Error(err), zap.String("path", c.FullPath()))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}
