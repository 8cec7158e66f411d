// Package ledger maintains per (customer, asset) balance rows. Each row keeps
// the owned quantity (Total) and the part not reserved by open orders
// (Usable). The order engine composes the package-level helpers inside a
// single gorm transaction so that multi-row settlements commit atomically.
package ledger

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Aidin1998/brokerage/pkg/errors"
	"github.com/Aidin1998/brokerage/pkg/models"
)

// LedgerService defines asset balance operations
type LedgerService interface {
	Start() error
	Stop() error
	Credit(ctx context.Context, customerID uuid.UUID, symbol string, amount decimal.Decimal) (*models.AssetBalance, error)
	Reserve(ctx context.Context, customerID uuid.UUID, symbol string, amount decimal.Decimal) error
	Release(ctx context.Context, customerID uuid.UUID, symbol string, amount decimal.Decimal) error
	GetBalance(ctx context.Context, customerID uuid.UUID, symbol string) (*models.AssetBalance, error)
	GetBalancesForCustomer(ctx context.Context, customerID uuid.UUID) ([]*models.AssetBalance, error)
	GetAllGroupedByCustomer(ctx context.Context) ([]*models.CustomerAssets, error)
}

// Service implements LedgerService
type Service struct {
	logger *zap.Logger
	db     *gorm.DB
}

// NewService creates a new LedgerService
func NewService(logger *zap.Logger, db *gorm.DB) (LedgerService, error) {
	return &Service{logger: logger, db: db}, nil
}

// Start starts the ledger service
func (s *Service) Start() error {
	s.logger.Info("Ledger service started")
	return nil
}

// Stop stops the ledger service
func (s *Service) Stop() error {
	s.logger.Info("Ledger service stopped")
	return nil
}

// find loads the balance row for (customerID, symbol). Non-credit operations
// fail with AssetNotFoundForCustomer when the row does not exist.
func find(db *gorm.DB, customerID uuid.UUID, symbol string) (*models.AssetBalance, error) {
	var balance models.AssetBalance
	err := db.Where("customer_id = ? AND symbol = ? AND is_deleted = ?", customerID, symbol, false).First(&balance).Error
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.ErrAssetNotFoundForCustomer.WithMessage(
				fmt.Sprintf("no %s balance for customer %s", symbol, customerID))
		}
		return nil, fmt.Errorf("failed to find balance: %w", err)
	}
	return &balance, nil
}

// findOrCreate upserts the balance row at a zero baseline. Credits create
// rows lazily; everything else goes through find.
func findOrCreate(db *gorm.DB, customerID uuid.UUID, symbol string) (*models.AssetBalance, error) {
	balance, err := find(db, customerID, symbol)
	if err == nil {
		return balance, nil
	}
	if !stderrors.Is(err, errors.ErrAssetNotFoundForCustomer) {
		return nil, err
	}
	now := time.Now()
	balance = &models.AssetBalance{
		ID:         uuid.New(),
		CustomerID: customerID,
		Symbol:     symbol,
		Total:      decimal.Zero,
		Usable:     decimal.Zero,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := db.Create(balance).Error; err != nil {
		return nil, fmt.Errorf("failed to create balance: %w", err)
	}
	return balance, nil
}

func save(db *gorm.DB, balance *models.AssetBalance) error {
	balance.UpdatedAt = time.Now()
	if err := db.Save(balance).Error; err != nil {
		return fmt.Errorf("failed to save balance: %w", err)
	}
	return nil
}

// Credit adds newly owned quantity: Total and Usable both grow. The row is
// created at a zero baseline on first credit.
func Credit(db *gorm.DB, customerID uuid.UUID, symbol string, amount decimal.Decimal) (*models.AssetBalance, error) {
	if !amount.IsPositive() {
		return nil, errors.ErrInvalidAmount
	}
	balance, err := findOrCreate(db, customerID, symbol)
	if err != nil {
		return nil, err
	}
	balance.Total = balance.Total.Add(amount)
	balance.Usable = balance.Usable.Add(amount)
	if err := save(db, balance); err != nil {
		return nil, err
	}
	return balance, nil
}

// CreditFilled credits the received leg of a fill: the buyer's asset or the
// seller's cash. Identical mutation to Credit, named for the call site.
func CreditFilled(db *gorm.DB, customerID uuid.UUID, symbol string, amount decimal.Decimal) (*models.AssetBalance, error) {
	return Credit(db, customerID, symbol, amount)
}

// Reserve encumbers quantity for an open order: Usable shrinks, Total is
// untouched. Fails with InsufficientBalance before any mutation.
func Reserve(db *gorm.DB, customerID uuid.UUID, symbol string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return errors.ErrInvalidAmount
	}
	balance, err := find(db, customerID, symbol)
	if err != nil {
		return err
	}
	if balance.Usable.LessThan(amount) {
		return errors.ErrInsufficientBalance.WithMessage(
			fmt.Sprintf("insufficient %s balance: usable %s, requested %s", symbol, balance.Usable, amount))
	}
	balance.Usable = balance.Usable.Sub(amount)
	return save(db, balance)
}

// Release returns an unconsumed reservation to Usable. Only order
// cancellation unwinds a reservation without a settlement.
func Release(db *gorm.DB, customerID uuid.UUID, symbol string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return errors.ErrInvalidAmount
	}
	balance, err := find(db, customerID, symbol)
	if err != nil {
		return err
	}
	balance.Usable = balance.Usable.Add(amount)
	return save(db, balance)
}

// Settle consumes a reservation at execution time: Total shrinks, Usable was
// already reduced when the reservation was taken.
func Settle(db *gorm.DB, customerID uuid.UUID, symbol string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return errors.ErrInvalidAmount
	}
	balance, err := find(db, customerID, symbol)
	if err != nil {
		return err
	}
	balance.Total = balance.Total.Sub(amount)
	return save(db, balance)
}

// Debit removes owned, unreserved quantity: Total and Usable both shrink.
// Used by withdrawals; fails with InsufficientBalance if Usable < amount.
func Debit(db *gorm.DB, customerID uuid.UUID, symbol string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return errors.ErrInvalidAmount
	}
	balance, err := find(db, customerID, symbol)
	if err != nil {
		return err
	}
	if balance.Usable.LessThan(amount) {
		return errors.ErrInsufficientBalance.WithMessage(
			fmt.Sprintf("insufficient %s balance: usable %s, requested %s", symbol, balance.Usable, amount))
	}
	balance.Total = balance.Total.Sub(amount)
	balance.Usable = balance.Usable.Sub(amount)
	return save(db, balance)
}

// Credit credits a customer's balance in its own transaction
func (s *Service) Credit(ctx context.Context, customerID uuid.UUID, symbol string, amount decimal.Decimal) (*models.AssetBalance, error) {
	var balance *models.AssetBalance
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		balance, err = Credit(tx, customerID, symbol, amount)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Debug("balance credited",
		zap.String("customer_id", customerID.String()),
		zap.String("symbol", symbol),
		zap.String("amount", amount.String()))
	return balance, nil
}

// Reserve reserves quantity against a customer's balance in its own transaction
func (s *Service) Reserve(ctx context.Context, customerID uuid.UUID, symbol string, amount decimal.Decimal) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return Reserve(tx, customerID, symbol, amount)
	})
}

// Release releases a reservation in its own transaction
func (s *Service) Release(ctx context.Context, customerID uuid.UUID, symbol string, amount decimal.Decimal) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return Release(tx, customerID, symbol, amount)
	})
}

// GetBalance returns one balance row for a customer
func (s *Service) GetBalance(ctx context.Context, customerID uuid.UUID, symbol string) (*models.AssetBalance, error) {
	return find(s.db.WithContext(ctx), customerID, symbol)
}

// GetBalancesForCustomer returns all non-deleted balance rows for a customer
func (s *Service) GetBalancesForCustomer(ctx context.Context, customerID uuid.UUID) ([]*models.AssetBalance, error) {
	var balances []*models.AssetBalance
	err := s.db.WithContext(ctx).
		Where("customer_id = ? AND is_deleted = ?", customerID, false).
		Order("symbol").
		Find(&balances).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find balances: %w", err)
	}
	return balances, nil
}

// GetAllGroupedByCustomer returns every customer's holdings for admin reporting
func (s *Service) GetAllGroupedByCustomer(ctx context.Context) ([]*models.CustomerAssets, error) {
	var customers []*models.Customer
	if err := s.db.WithContext(ctx).Where("is_deleted = ?", false).Order("username").Find(&customers).Error; err != nil {
		return nil, fmt.Errorf("failed to find customers: %w", err)
	}

	grouped := make([]*models.CustomerAssets, 0, len(customers))
	for _, customer := range customers {
		balances, err := s.GetBalancesForCustomer(ctx, customer.ID)
		if err != nil {
			return nil, err
		}
		grouped = append(grouped, &models.CustomerAssets{
			CustomerID: customer.ID,
			Username:   customer.Username,
			Balances:   balances,
		})
	}
	return grouped, nil
}
