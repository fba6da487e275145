package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/creditline/internal/authorization"
	subscriptiondomain "github.com/smallbiznis/creditline/internal/subscription/domain"
)

// subscriptionInScope loads the path subscription and authorizes the caller
// in its tenant.
func (s *Server) subscriptionInScope(c *gin.Context, action string) (*subscriptiondomain.Subscription, error) {
	sub, err := s.subscriptionSvc.Get(c.Request.Context(), pathID(c.Param("id")))
	if err != nil {
		return nil, err
	}
	if err := s.authorize(c, sub.TenantID, authorization.ObjectSubscription, action); err != nil {
		return nil, err
	}
	return sub, nil
}

func (s *Server) CreateSubscription(c *gin.Context) {
	var req subscriptiondomain.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if err := s.authorize(c, pathID(req.TenantID), authorization.ObjectSubscription, authorization.ActionSubscriptionCreate); err != nil {
		AbortWithError(c, err)
		return
	}
	req.CreatedBy = actorID(c)

	sub, err := s.subscriptionSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": sub})
}

func (s *Server) GetSubscription(c *gin.Context) {
	sub, err := s.subscriptionInScope(c, authorization.ActionSubscriptionView)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": sub})
}

func (s *Server) RenewSubscription(c *gin.Context) {
	sub, err := s.subscriptionInScope(c, authorization.ActionSubscriptionRenew)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	result, err := s.subscriptionSvc.Renew(c.Request.Context(), sub.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) CancelSubscription(c *gin.Context) {
	var req subscriptiondomain.CancelRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}
	sub, err := s.subscriptionInScope(c, authorization.ActionSubscriptionCancel)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	req.SubscriptionID = sub.ID
	req.CancelledBy = actorID(c)
	cancelled, err := s.subscriptionSvc.Cancel(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": cancelled})
}

func (s *Server) ChangeSubscriptionTier(c *gin.Context) {
	var req subscriptiondomain.ChangeTierRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	sub, err := s.subscriptionInScope(c, authorization.ActionSubscriptionChangeTier)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	req.SubscriptionID = sub.ID
	req.ChangedBy = actorID(c)
	changed, err := s.subscriptionSvc.ChangeTier(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": changed})
}

func (s *Server) ListSubscriptionHistory(c *gin.Context) {
	sub, err := s.subscriptionInScope(c, authorization.ActionSubscriptionView)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	history, err := s.subscriptionSvc.ListHistory(c.Request.Context(), sub.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": history})
}
