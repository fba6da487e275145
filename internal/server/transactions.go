package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/creditline/internal/authorization"
	ledgerdomain "github.com/smallbiznis/creditline/internal/ledger/domain"
	"github.com/smallbiznis/creditline/pkg/db/pagination"
)

// ListTransactions scopes authorization to tenant_id, else to the tenant of
// user_id, else to the platform.
func (s *Server) ListTransactions(c *gin.Context) {
	var query struct {
		pagination.Pagination
		UserID   string `form:"user_id"`
		TenantID string `form:"tenant_id"`
		Type     string `form:"type"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	query.UserID = strings.TrimSpace(query.UserID)
	query.TenantID = strings.TrimSpace(query.TenantID)

	scope := query.TenantID
	if scope == "" && query.UserID != "" {
		user, err := s.userSvc.Get(c.Request.Context(), query.UserID)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		scope = user.TenantID
	}
	if scope == "" {
		scope = authorization.PlatformDomain
	}
	if err := s.authorize(c, scope, authorization.ObjectTransaction, authorization.ActionTransactionView); err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.ledgerSvc.ListTransactions(c.Request.Context(), ledgerdomain.ListTransactionsRequest{
		UserID:    query.UserID,
		TenantID:  query.TenantID,
		Type:      strings.TrimSpace(query.Type),
		PageToken: query.PageToken,
		PageSize:  int32(query.PageSize),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Transactions, "page_info": resp.PageInfo})
}
