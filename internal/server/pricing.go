package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/creditline/internal/authorization"
	"go.uber.org/zap"
)

// ReloadPricing re-reads the model pricing table from its file.
func (s *Server) ReloadPricing(c *gin.Context) {
	if err := s.authorize(c, authorization.PlatformDomain, authorization.ObjectPricing, authorization.ActionPricingReload); err != nil {
		AbortWithError(c, err)
		return
	}
	if s.pricingTable == nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}
	if err := s.pricingTable.Reload(); err != nil {
		AbortWithError(c, err)
		return
	}

	table := s.pricingTable.Get()
	s.log.Info("pricing table reloaded", zap.String("actor", actorID(c)), zap.Int("models", len(table.Models)))
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"models": len(table.Models)}})
}
