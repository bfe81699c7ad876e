package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/tradecredit/internal/money"
	orderdomain "github.com/smallbiznis/tradecredit/internal/order/domain"
)

type createOrderRequest struct {
	CompanyID       snowflake.ID  `json:"company_id"`
	UserID          *snowflake.ID `json:"user_id"`
	OrderTotal      money.Amount  `json:"order_total"`
	OrderStatus     string        `json:"order_status"`
	OrderNumber     string        `json:"order_number"`
	ExternalDraftID string        `json:"external_draft_id"`
	Notes           string        `json:"notes"`
}

func (s *Server) CreateOrder(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if req.CompanyID <= 0 {
		AbortWithError(c, newValidationError("company_id", "invalid_company_id", "company_id is required"))
		return
	}
	if !req.OrderTotal.Set {
		AbortWithError(c, newValidationError("order_total", "invalid_order_total", "order_total is required"))
		return
	}

	var userID snowflake.ID
	if req.UserID != nil {
		userID = *req.UserID
	}

	resp, err := s.orderSvc.CreateOrder(c.Request.Context(), orderdomain.CreateOrderRequest{
		CompanyID:       req.CompanyID,
		UserID:          userID,
		OrderTotal:      req.OrderTotal.Decimal,
		OrderStatus:     orderdomain.OrderStatus(strings.ToLower(strings.TrimSpace(req.OrderStatus))),
		OrderNumber:     strings.TrimSpace(req.OrderNumber),
		ExternalDraftID: strings.TrimSpace(req.ExternalDraftID),
		Notes:           strings.TrimSpace(req.Notes),
		Actor:           actorFrom(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) GetOrder(c *gin.Context) {
	orderID, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.orderSvc.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type processPaymentRequest struct {
	Amount money.Amount `json:"amount"`
	Method string       `json:"method"`
	Notes  string       `json:"notes"`
}

func (s *Server) ProcessPayment(c *gin.Context) {
	orderID, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req processPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil || !req.Amount.Set {
		AbortWithError(c, newValidationError("amount", "invalid_amount", "amount is required"))
		return
	}

	resp, err := s.orderSvc.ProcessPayment(c.Request.Context(), orderdomain.ProcessPaymentRequest{
		OrderID: orderID,
		Amount:  req.Amount.Decimal,
		Method:  req.Method,
		Notes:   strings.TrimSpace(req.Notes),
		Actor:   actorFrom(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type cancelOrderRequest struct {
	Notes string `json:"notes"`
}

func (s *Server) CancelOrder(c *gin.Context) {
	orderID, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req cancelOrderRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}

	resp, err := s.orderSvc.CancelOrder(c.Request.Context(), orderdomain.CancelOrderRequest{
		OrderID: orderID,
		Actor:   actorFrom(c),
		Notes:   strings.TrimSpace(req.Notes),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type updateOrderStatusRequest struct {
	OrderStatus string `json:"order_status"`
}

func (s *Server) UpdateOrderStatus(c *gin.Context) {
	orderID, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req updateOrderStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.orderSvc.UpdateOrderStatus(c.Request.Context(), orderID, orderdomain.OrderStatus(req.OrderStatus))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
