package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/creditline/internal/authorization"
	licensepooldomain "github.com/smallbiznis/creditline/internal/licensepool/domain"
	tenantdomain "github.com/smallbiznis/creditline/internal/tenant/domain"
	"github.com/smallbiznis/creditline/pkg/db/pagination"
)

func (s *Server) CreateTenant(c *gin.Context) {
	var req tenantdomain.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if err := s.authorize(c, authorization.PlatformDomain, authorization.ObjectTenant, authorization.ActionTenantCreate); err != nil {
		AbortWithError(c, err)
		return
	}

	tenant, err := s.tenantSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": tenant})
}

func (s *Server) ListTenants(c *gin.Context) {
	var query struct {
		pagination.Pagination
		Status string `form:"status"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if err := s.authorize(c, authorization.PlatformDomain, authorization.ObjectTenant, authorization.ActionTenantView); err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.tenantSvc.List(c.Request.Context(), tenantdomain.ListRequest{
		Status:    strings.TrimSpace(query.Status),
		PageToken: query.PageToken,
		PageSize:  int32(query.PageSize),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Tenants, "page_info": resp.PageInfo})
}

func (s *Server) GetTenant(c *gin.Context) {
	id := pathID(c.Param("id"))
	if err := s.authorize(c, id, authorization.ObjectTenant, authorization.ActionTenantView); err != nil {
		AbortWithError(c, err)
		return
	}

	tenant, err := s.tenantSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": tenant})
}

func (s *Server) UpdateTenant(c *gin.Context) {
	id := pathID(c.Param("id"))
	var req tenantdomain.UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if err := s.authorize(c, id, authorization.ObjectTenant, authorization.ActionTenantUpdate); err != nil {
		AbortWithError(c, err)
		return
	}

	tenant, err := s.tenantSvc.Update(c.Request.Context(), id, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": tenant})
}

func (s *Server) DeleteTenant(c *gin.Context) {
	id := pathID(c.Param("id"))
	if err := s.authorize(c, id, authorization.ObjectTenant, authorization.ActionTenantDelete); err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.tenantSvc.Delete(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (s *Server) ListTenantPools(c *gin.Context) {
	id := pathID(c.Param("id"))
	if err := s.authorize(c, id, authorization.ObjectPool, authorization.ActionPoolView); err != nil {
		AbortWithError(c, err)
		return
	}

	pools, err := s.poolSvc.GetTenantPools(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": pools})
}

func (s *Server) UpsertTenantPool(c *gin.Context) {
	id := pathID(c.Param("id"))
	var req struct {
		TotalCount *int64 `json:"total_count"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.TotalCount == nil {
		AbortWithError(c, newValidationError("total_count", "invalid_total_count", "total_count is required"))
		return
	}
	if err := s.authorize(c, id, authorization.ObjectPool, authorization.ActionPoolUpdate); err != nil {
		AbortWithError(c, err)
		return
	}

	pool, err := s.poolSvc.CreateOrUpdatePool(c.Request.Context(), licensepooldomain.CreateOrUpdatePoolRequest{
		TenantID:   id,
		TierID:     pathID(c.Param("tier_id")),
		TotalCount: *req.TotalCount,
		CreatedBy:  actorID(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": pool})
}

func (s *Server) GetTenantCredits(c *gin.Context) {
	id := pathID(c.Param("id"))
	if err := s.authorize(c, id, authorization.ObjectCredits, authorization.ActionCreditsView); err != nil {
		AbortWithError(c, err)
		return
	}

	summary, err := s.creditsSvc.GetTenantCreditSummary(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": summary})
}
