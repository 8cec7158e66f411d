// Package errors defines the coded, recoverable errors the brokerage core
// emits. Every precondition failure maps to exactly one code and one HTTP
// status; no code is ever swallowed by the API layer.
package errors

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Code identifies an error kind across service and API boundaries.
type Code string

const (
	CodeAssetNotFound            Code = "asset_not_found"
	CodeAssetNotFoundForCustomer Code = "asset_not_found_for_customer"
	CodeInsufficientBalance      Code = "insufficient_balance"
	CodeOrderNotFound            Code = "order_not_found"
	CodeInvalidOrderStatus       Code = "invalid_order_status"
	CodeInvalidOrderSide         Code = "invalid_order_side"
	CodePriceMismatch            Code = "price_mismatch"
	CodeAssetMismatch            Code = "asset_mismatch"
	CodeForbidden                Code = "forbidden"
	CodeInvalidAmount            Code = "invalid_amount"
	CodeCustomerNotFound         Code = "customer_not_found"
	CodeDuplicateAsset           Code = "duplicate_asset"
	CodeDuplicateCustomer        Code = "duplicate_customer"
	CodeUnauthorized             Code = "unauthorized"
	CodeValidation               Code = "validation_failed"
	CodeInternal                 Code = "internal_error"
)

// Error is a coded domain error. Two Errors match under errors.Is when their
// codes are equal, so callers can compare against the sentinels below while
// services attach operation-specific detail.
type Error struct {
	Code    Code   `json:"code"`
	Status  int    `json:"-"`
	Message string `json:"message"`
}

func (e *Error) Error() string { return e.Message }

// Is matches on code, not message.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// WithMessage returns a copy of e carrying a more specific message.
func (e *Error) WithMessage(msg string) *Error {
	return &Error{Code: e.Code, Status: e.Status, Message: msg}
}

var (
	ErrAssetNotFound            = &Error{CodeAssetNotFound, http.StatusNotFound, "asset not found"}
	ErrAssetNotFoundForCustomer = &Error{CodeAssetNotFoundForCustomer, http.StatusNotFound, "asset not found for customer"}
	ErrInsufficientBalance      = &Error{CodeInsufficientBalance, http.StatusUnprocessableEntity, "insufficient balance"}
	ErrOrderNotFound            = &Error{CodeOrderNotFound, http.StatusNotFound, "order not found"}
	ErrInvalidOrderStatus       = &Error{CodeInvalidOrderStatus, http.StatusConflict, "order is not in a valid status for this operation"}
	ErrInvalidOrderSide         = &Error{CodeInvalidOrderSide, http.StatusBadRequest, "invalid order side"}
	ErrPriceMismatch            = &Error{CodePriceMismatch, http.StatusConflict, "order prices do not match"}
	ErrAssetMismatch            = &Error{CodeAssetMismatch, http.StatusConflict, "order assets do not match"}
	ErrForbidden                = &Error{CodeForbidden, http.StatusForbidden, "not authorized for this operation"}
	ErrInvalidAmount            = &Error{CodeInvalidAmount, http.StatusBadRequest, "amount must be greater than zero"}
	ErrCustomerNotFound         = &Error{CodeCustomerNotFound, http.StatusNotFound, "customer not found"}
	ErrDuplicateAsset           = &Error{CodeDuplicateAsset, http.StatusConflict, "asset with this symbol already exists"}
	ErrDuplicateCustomer        = &Error{CodeDuplicateCustomer, http.StatusConflict, "username or email already registered"}
	ErrUnauthorized             = &Error{CodeUnauthorized, http.StatusUnauthorized, "authentication required"}
	ErrValidationFailed         = &Error{CodeValidation, http.StatusBadRequest, "request validation failed"}
)

// Handle writes err as a JSON response. Unknown error types become a 500
// without leaking internals.
func Handle(c *gin.Context, err error) {
	var e *Error
	if errors.As(err, &e) {
		c.JSON(e.Status, gin.H{"error": e.Message, "code": e.Code})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error", "code": CodeInternal})
}
