package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/creditline/internal/authorization"
	licensetierdomain "github.com/smallbiznis/creditline/internal/licensetier/domain"
)

func (s *Server) CreateTier(c *gin.Context) {
	var req licensetierdomain.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if err := s.authorize(c, authorization.PlatformDomain, authorization.ObjectLicenseTier, authorization.ActionTierCreate); err != nil {
		AbortWithError(c, err)
		return
	}
	req.CreatedBy = actorID(c)

	tier, err := s.tierSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": tier})
}

// ListTiers is a public catalog read.
func (s *Server) ListTiers(c *gin.Context) {
	activeOnly, err := parseOptionalBool(c.Query("active_only"))
	if err != nil {
		AbortWithError(c, newValidationError("active_only", "invalid_active_only", "invalid active_only"))
		return
	}

	req := licensetierdomain.ListRequest{}
	if activeOnly != nil {
		req.ActiveOnly = *activeOnly
	}
	tiers, err := s.tierSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": tiers})
}

func (s *Server) GetTier(c *gin.Context) {
	tier, err := s.tierSvc.Get(c.Request.Context(), pathID(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": tier})
}

func (s *Server) UpdateTier(c *gin.Context) {
	var req licensetierdomain.UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if err := s.authorize(c, authorization.PlatformDomain, authorization.ObjectLicenseTier, authorization.ActionTierUpdate); err != nil {
		AbortWithError(c, err)
		return
	}

	tier, err := s.tierSvc.Update(c.Request.Context(), pathID(c.Param("id")), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": tier})
}

func (s *Server) DeleteTier(c *gin.Context) {
	if err := s.authorize(c, authorization.PlatformDomain, authorization.ObjectLicenseTier, authorization.ActionTierDelete); err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.tierSvc.Delete(c.Request.Context(), pathID(c.Param("id"))); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
