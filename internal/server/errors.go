package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	companydomain "github.com/smallbiznis/tradecredit/internal/company/domain"
	creditdomain "github.com/smallbiznis/tradecredit/internal/credit/domain"
	"github.com/smallbiznis/tradecredit/internal/money"
	orderdomain "github.com/smallbiznis/tradecredit/internal/order/domain"
	"github.com/smallbiznis/tradecredit/pkg/db/pagination"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
	Details map[string]any    `json:"details,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrInvalidRequest = errors.New("invalid_request")
	ErrNotFound       = errors.New("not_found")
	ErrInternal       = errors.New("internal_error")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

type validationRule struct {
	err     error
	field   string
	code    string
	message string
}

// Order matters: wrapped sentinels come before the errors they wrap.
var validationRules = []validationRule{
	{creditdomain.ErrLimitBelowUsage, "credit_limit", "limit_below_usage", "credit limit is below the credit already used"},
	{orderdomain.ErrPaymentExceedsBalance, "amount", "payment_exceeds_balance", "payment exceeds the remaining balance"},
	{money.ErrInvalidAmount, "amount", "invalid_amount", "amount must be a positive decimal"},
	{creditdomain.ErrInvalidTransaction, "transaction_type", "invalid_transaction", "invalid transaction type"},
	{creditdomain.ErrInvalidRestoreReason, "reason", "invalid_restore_reason", "invalid restore reason"},
	{orderdomain.ErrInvalidStatus, "order_status", "invalid_status", "invalid order status"},
	{orderdomain.ErrInvalidPaymentMethod, "method", "invalid_payment_method", "invalid payment method"},
	{pagination.ErrInvalidPageToken, "page_token", "invalid_page_token", "invalid page token"},
	{companydomain.ErrInvalidShop, "shop_id", "invalid_shop", "invalid shop"},
	{companydomain.ErrInvalidRequest, "request", "invalid_request", "invalid request"},
	{ErrInvalidRequest, "request", "invalid_request", "invalid request"},
}

var conflictErrors = []error{
	orderdomain.ErrAlreadyPaid,
	orderdomain.ErrAlreadyCancelled,
	orderdomain.ErrOrderNotCancellable,
	orderdomain.ErrInvalidTransition,
	creditdomain.ErrDeductAfterPayment,
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	var exceeded *creditdomain.CreditExceededError
	if errors.As(err, &exceeded) {
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "credit_exceeded",
			Message: err.Error(),
			Details: map[string]any{
				"limiting_factor": exceeded.LimitingFactor,
				"requested":       exceeded.Requested.String(),
				"available":       exceeded.Available.String(),
				"shortfall":       exceeded.Shortfall.String(),
			},
		}
	}

	var overpaid *orderdomain.PaymentExceedsBalanceError
	if errors.As(err, &overpaid) {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: overpaid.Error(),
			Errors: []ValidationError{{
				Field:   "amount",
				Code:    "payment_exceeds_balance",
				Message: "payment exceeds the remaining balance",
			}},
			Details: map[string]any{
				"remaining_balance": overpaid.Remaining.String(),
			},
		}
	}

	if rule, ok := matchValidationRule(err); ok {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{{
				Field:   rule.field,
				Code:    rule.code,
				Message: rule.message,
			}},
		}
	}

	switch {
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: notFoundMessage(err),
		}
	case isConflictError(err):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: err.Error(),
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err)
	if status == http.StatusInternalServerError {
		return payload.Type, "internal"
	}
	if len(payload.Errors) > 0 {
		return payload.Type, payload.Errors[0].Code
	}
	return payload.Type, payload.Type
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func matchValidationRule(err error) (validationRule, bool) {
	for _, rule := range validationRules {
		if errors.Is(err, rule.err) {
			return rule, true
		}
	}
	return validationRule{}, false
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, companydomain.ErrCompanyNotFound),
		errors.Is(err, companydomain.ErrUserNotFound),
		errors.Is(err, orderdomain.ErrOrderNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func notFoundMessage(err error) string {
	switch {
	case errors.Is(err, companydomain.ErrCompanyNotFound):
		return "company not found"
	case errors.Is(err, companydomain.ErrUserNotFound):
		return "user not found"
	case errors.Is(err, orderdomain.ErrOrderNotFound):
		return "order not found"
	default:
		return "not found"
	}
}

func isConflictError(err error) bool {
	for _, target := range conflictErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
