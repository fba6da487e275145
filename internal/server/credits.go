package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/creditline/internal/authorization"
	ledgerdomain "github.com/smallbiznis/creditline/internal/ledger/domain"
)

func (s *Server) GetUserCredits(c *gin.Context) {
	user, err := s.userInScope(c, authorization.ObjectCredits, authorization.ActionCreditsView)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status, err := s.creditsSvc.GetUserCreditStatus(c.Request.Context(), user.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": status})
}

func (s *Server) AddCredits(c *gin.Context) {
	var req ledgerdomain.AddRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	user, err := s.userInScope(c, authorization.ObjectCredits, authorization.ActionCreditsAdd)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	req.UserID = user.ID
	req.CreatedBy = actorID(c)
	txn, err := s.ledgerSvc.Add(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": txn})
}

func (s *Server) RefundCredits(c *gin.Context) {
	var req ledgerdomain.RefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	user, err := s.userInScope(c, authorization.ObjectCredits, authorization.ActionCreditsRefund)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	req.UserID = user.ID
	req.RefundedBy = actorID(c)
	txn, err := s.creditsSvc.Refund(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": txn})
}

type checkCreditsRequest struct {
	EstimatedCredits int64  `json:"estimated_credits"`
	FlowID           string `json:"flow_id"`
}

// CheckCredits answers whether the user may start an execution now. Without
// an explicit estimate the flow's recent average is used.
func (s *Server) CheckCredits(c *gin.Context) {
	var req checkCreditsRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}
	user, err := s.userInScope(c, authorization.ObjectCredits, authorization.ActionCreditsCheck)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	estimated, err := s.estimateCredits(c, req.EstimatedCredits, req.FlowID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	result, err := s.creditsSvc.CheckCanExecute(c.Request.Context(), user.ID, estimated)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) estimateCredits(c *gin.Context, estimated int64, flowID string) (int64, error) {
	flowID = strings.TrimSpace(flowID)
	if estimated > 0 || flowID == "" {
		return estimated, nil
	}
	return s.creditsSvc.EstimateCreditsForFlow(c.Request.Context(), flowID)
}

func (s *Server) GetUserLimits(c *gin.Context) {
	user, err := s.userInScope(c, authorization.ObjectLimits, authorization.ActionLimitsView)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status, err := s.limitsSvc.GetUserLimitsStatus(c.Request.Context(), user.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": status})
}
