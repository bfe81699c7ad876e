package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	creditdomain "github.com/smallbiznis/tradecredit/internal/credit/domain"
	"github.com/smallbiznis/tradecredit/internal/money"
	"github.com/smallbiznis/tradecredit/pkg/db/pagination"
)

func (s *Server) GetCreditSummary(c *gin.Context) {
	companyID, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.creditSvc.GetCreditSummary(c.Request.Context(), companyID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type checkCreditRequest struct {
	Amount money.Amount  `json:"amount"`
	UserID *snowflake.ID `json:"user_id"`
}

// CheckCredit answers whether an order of the given amount would be
// admitted. With a user_id the user's personal limit is checked too.
func (s *Server) CheckCredit(c *gin.Context) {
	companyID, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req checkCreditRequest
	if err := c.ShouldBindJSON(&req); err != nil || !req.Amount.Set {
		AbortWithError(c, newValidationError("amount", "invalid_amount", "amount is required"))
		return
	}

	if req.UserID != nil {
		decision, err := s.creditSvc.CanAuthorize(c.Request.Context(), companyID, req.UserID, req.Amount.Decimal)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": decision})
		return
	}

	admission, err := s.creditSvc.CanCreateOrder(c.Request.Context(), companyID, req.Amount.Decimal)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": admission})
}

func (s *Server) ListCreditTransactions(c *gin.Context) {
	companyID, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var query pagination.Pagination
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.creditSvc.ListTransactions(c.Request.Context(), companyID, query)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type adjustCreditLimitRequest struct {
	CreditLimit money.Amount `json:"credit_limit"`
	Notes       string       `json:"notes"`
}

func (s *Server) AdjustCreditLimit(c *gin.Context) {
	companyID, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req adjustCreditLimitRequest
	if err := c.ShouldBindJSON(&req); err != nil || !req.CreditLimit.Set {
		AbortWithError(c, newValidationError("credit_limit", "invalid_credit_limit", "credit_limit is required"))
		return
	}

	resp, err := s.creditSvc.AdjustCreditLimit(c.Request.Context(), creditdomain.AdjustCreditLimitRequest{
		CompanyID: companyID,
		NewLimit:  req.CreditLimit.Decimal,
		Actor:     actorFrom(c),
		Notes:     strings.TrimSpace(req.Notes),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type setUserCreditLimitRequest struct {
	CreditLimit money.Amount `json:"credit_limit"`
}

// SetUserCreditLimit sets or, with a null credit_limit, clears a user's
// personal sub-limit.
func (s *Server) SetUserCreditLimit(c *gin.Context) {
	userID, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req setUserCreditLimitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("credit_limit", "invalid_credit_limit", "invalid credit_limit"))
		return
	}

	var limit *decimal.Decimal
	if req.CreditLimit.Set {
		limit = &req.CreditLimit.Decimal
	}

	resp, err := s.creditSvc.SetUserCreditLimit(c.Request.Context(), userID, limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
