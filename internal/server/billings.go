package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	billingdomain "github.com/shiftwise/guardbill/internal/billing/domain"
	"github.com/shiftwise/guardbill/pkg/db/pagination"
)

func (s *Server) ListBillings(c *gin.Context) {
	var query struct {
		pagination.Pagination
		CustomerID  string `form:"customer_id"`
		BillingDate string `form:"billing_date"`
		Status      string `form:"status"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, errInvalidRequest)
		return
	}

	pageSize := query.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}

	afterKey := ""
	if token := strings.TrimSpace(query.PageToken); token != "" {
		cursor, err := pagination.DecodeCursor(token)
		if err != nil {
			AbortWithError(c, errInvalidRequest)
			return
		}
		afterKey = cursor.Key
	}

	items, err := s.reader.List(c.Request.Context(), s.db, billingdomain.ListFilter{
		CustomerID:  strings.TrimSpace(query.CustomerID),
		BillingDate: strings.TrimSpace(query.BillingDate),
		Status:      strings.TrimSpace(query.Status),
		AfterKey:    afterKey,
		Limit:       pageSize + 1,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	pageInfo := pagination.BuildCursorPageInfo(items, pageSize, func(agg *billingdomain.BillingAggregate) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{Key: agg.Key})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo.HasMore && len(items) > pageSize {
		items = items[:pageSize]
	}

	c.JSON(http.StatusOK, gin.H{"data": items, "page_info": pageInfo})
}

func (s *Server) GetBilling(c *gin.Context) {
	key := strings.TrimSpace(c.Param("key"))
	if key == "" {
		AbortWithError(c, errInvalidRequest)
		return
	}

	agg, err := s.store.Get(c.Request.Context(), s.db, key)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if agg == nil {
		AbortWithError(c, billingdomain.ErrAggregateNotFound)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": agg})
}
