package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/creditline/internal/authorization"
	licensepooldomain "github.com/smallbiznis/creditline/internal/licensepool/domain"
	userdomain "github.com/smallbiznis/creditline/internal/user/domain"
)

// userInScope loads the path user and authorizes the caller in its tenant.
func (s *Server) userInScope(c *gin.Context, object, action string) (*userdomain.User, error) {
	user, err := s.userSvc.Get(c.Request.Context(), pathID(c.Param("id")))
	if err != nil {
		return nil, err
	}
	if err := s.authorize(c, user.TenantID, object, action); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *Server) CreateUser(c *gin.Context) {
	var req userdomain.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if err := s.authorize(c, pathID(req.TenantID), authorization.ObjectUser, authorization.ActionUserCreate); err != nil {
		AbortWithError(c, err)
		return
	}
	// Only platform superadmins mint other superadmins.
	if req.IsPlatformSuperadmin {
		if err := s.authorize(c, authorization.PlatformDomain, authorization.ObjectUser, authorization.ActionUserCreate); err != nil {
			AbortWithError(c, err)
			return
		}
	}

	user, err := s.userSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": user})
}

func (s *Server) GetUser(c *gin.Context) {
	user, err := s.userInScope(c, authorization.ObjectUser, authorization.ActionUserView)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": user})
}

func (s *Server) AssignLicense(c *gin.Context) {
	var req licensepooldomain.AssignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	user, err := s.userInScope(c, authorization.ObjectLicense, authorization.ActionLicenseAssign)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	req.UserID = user.ID
	req.AssignedBy = actorID(c)
	updated, err := s.poolSvc.Assign(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": updated})
}

func (s *Server) UnassignLicense(c *gin.Context) {
	user, err := s.userInScope(c, authorization.ObjectLicense, authorization.ActionLicenseUnassign)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	updated, err := s.poolSvc.Unassign(c.Request.Context(), user.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": updated})
}

func (s *Server) UpgradeLicense(c *gin.Context) {
	var req licensepooldomain.UpgradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	user, err := s.userInScope(c, authorization.ObjectLicense, authorization.ActionLicenseUpgrade)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	req.UserID = user.ID
	req.UpgradedBy = actorID(c)
	updated, err := s.poolSvc.Upgrade(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": updated})
}
