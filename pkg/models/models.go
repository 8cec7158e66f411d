package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TRY is the cash leg of every trade. It is held as a regular ledger row.
const TRY = "TRY"

// Order sides
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Order statuses
const (
	StatusPending  = "PENDING"
	StatusMatched  = "MATCHED"
	StatusCanceled = "CANCELED"
)

// Customer roles
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Customer represents a brokerage customer
type Customer struct {
	ID           uuid.UUID `json:"id" gorm:"primaryKey;type:uuid" validate:"required,uuid"`
	Name         string    `json:"name" validate:"required,min=1,max=50"`
	Surname      string    `json:"surname" validate:"required,min=1,max=50"`
	Email        string    `json:"email" gorm:"uniqueIndex" validate:"required,email,max=254"`
	Username     string    `json:"username" gorm:"uniqueIndex" validate:"required,min=3,max=30,alphanum"`
	PasswordHash string    `json:"-" gorm:"column:password_hash"`
	Role         string    `json:"role" gorm:"default:user" validate:"required,oneof=user admin"` // user, admin
	IsDeleted    bool      `json:"is_deleted" gorm:"default:false"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// AssetBalance represents a customer's holding of one asset.
// Total is the owned quantity, Usable the part not reserved by open orders.
// Invariant: 0 <= Usable <= Total.
type AssetBalance struct {
	ID         uuid.UUID       `json:"id" gorm:"primaryKey;type:uuid" validate:"required,uuid"`
	CustomerID uuid.UUID       `json:"customer_id" gorm:"type:uuid;index:idx_balance_customer_symbol,unique" validate:"required,uuid"`
	Symbol     string          `json:"symbol" gorm:"index:idx_balance_customer_symbol,unique" validate:"required"`
	Total      decimal.Decimal `json:"total" gorm:"type:decimal(20,8)"`
	Usable     decimal.Decimal `json:"usable" gorm:"type:decimal(20,8)"`
	IsDeleted  bool            `json:"is_deleted" gorm:"default:false"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// AssetListing represents a tradable asset in the catalog together with its
// reference price. CurrentPrice moves only as a side effect of a fill.
type AssetListing struct {
	ID           uuid.UUID       `json:"id" gorm:"primaryKey;type:uuid" validate:"required,uuid"`
	Symbol       string          `json:"symbol" gorm:"uniqueIndex" validate:"required,max=10"`
	FullName     string          `json:"full_name" validate:"required,max=100"`
	CurrentPrice decimal.Decimal `json:"current_price" gorm:"type:decimal(20,8)" validate:"required"`
	IsDeleted    bool            `json:"is_deleted" gorm:"default:false"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Order represents a limit order. Orders are append-only: they are never
// deleted, only transitioned between PENDING, MATCHED and CANCELED. Quantity
// shrinks on partial fills.
type Order struct {
	ID         uuid.UUID       `json:"id" gorm:"primaryKey;type:uuid" validate:"required,uuid"`
	CustomerID uuid.UUID       `json:"customer_id" gorm:"type:uuid;index" validate:"required,uuid"`
	Symbol     string          `json:"symbol" gorm:"index" validate:"required"`
	Side       string          `json:"side" validate:"required,oneof=BUY SELL"`
	Price      decimal.Decimal `json:"price" gorm:"type:decimal(20,8)" validate:"required"`
	Quantity   decimal.Decimal `json:"quantity" gorm:"type:decimal(20,8)" validate:"required"`
	Status     string          `json:"status" gorm:"index" validate:"required,oneof=PENDING MATCHED CANCELED"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// RegisterRequest represents a customer registration request
type RegisterRequest struct {
	Name     string `json:"name" binding:"required" validate:"required,min=1,max=50"`
	Surname  string `json:"surname" binding:"required" validate:"required,min=1,max=50"`
	Email    string `json:"email" binding:"required,email" validate:"required,email,max=254"`
	Username string `json:"username" binding:"required,min=3,max=30" validate:"required,min=3,max=30,alphanum"`
	Password string `json:"password" binding:"required,min=8" validate:"required,min=8,max=128"`
}

// LoginRequest represents a login request
type LoginRequest struct {
	Username string `json:"username" binding:"required" validate:"required,max=254"`
	Password string `json:"password" binding:"required" validate:"required,min=8,max=128"`
}

// UpdateCustomerRequest represents a customer profile update request
type UpdateCustomerRequest struct {
	Name    string `json:"name" binding:"required" validate:"required,min=1,max=50"`
	Surname string `json:"surname" binding:"required" validate:"required,min=1,max=50"`
	Email   string `json:"email" binding:"required,email" validate:"required,email,max=254"`
}

// LoginResponse represents a login response
type LoginResponse struct {
	Token      string    `json:"token"`
	CustomerID uuid.UUID `json:"customer_id"`
	Username   string    `json:"username"`
	Role       string    `json:"role"`
}

// OrderRequest represents an order placement request
type OrderRequest struct {
	Symbol   string          `json:"symbol" binding:"required" validate:"required"`
	Side     string          `json:"side" binding:"required,oneof=BUY SELL" validate:"required,oneof=BUY SELL"`
	Price    decimal.Decimal `json:"price" binding:"required" validate:"required"`
	Quantity decimal.Decimal `json:"quantity" binding:"required" validate:"required"`
}

// CashRequest represents a deposit or withdrawal request
type CashRequest struct {
	Amount decimal.Decimal `json:"amount" binding:"required" validate:"required"`
}

// ListingRequest represents an asset catalog create/update request
type ListingRequest struct {
	Symbol       string          `json:"symbol" binding:"required" validate:"required,max=10"`
	FullName     string          `json:"full_name" binding:"required" validate:"required,max=100"`
	CurrentPrice decimal.Decimal `json:"current_price" binding:"required" validate:"required"`
}

// MatchRequest represents an operator request to pair two pending orders
type MatchRequest struct {
	BuyOrderID  uuid.UUID `json:"buy_order_id" binding:"required" validate:"required"`
	SellOrderID uuid.UUID `json:"sell_order_id" binding:"required" validate:"required"`
}

// CustomerAssets groups a customer's holdings for admin reporting
type CustomerAssets struct {
	CustomerID uuid.UUID       `json:"customer_id"`
	Username   string          `json:"username"`
	Balances   []*AssetBalance `json:"balances"`
}
