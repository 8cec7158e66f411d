// Package catalog is the directory of tradable assets and their reference
// prices. The reference price is written only by the order engine as a side
// effect of a fill; catalog CRUD never touches customer balances.
package catalog

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

// CatalogService defines asset listing operations
type CatalogService interface {
	Start() error
	Stop() error
	List(ctx context.Context) ([]*models.AssetListing, error)
	GetBySymbol(ctx context.Context, symbol string) (*models.AssetListing, error)
	Add(ctx context.Context, req *models.ListingRequest) (*models.AssetListing, error)
	Update(ctx context.Context, id uuid.UUID, req *models.ListingRequest) (*models.AssetListing, error)
	SoftDelete(ctx context.Context, id uuid.UUID) error
	Restore(ctx context.Context, id uuid.UUID) error
}

// Service implements CatalogService
type Service struct {
	logger *zap.Logger
	db     *gorm.DB
}

// NewService creates a new CatalogService
func NewService(logger *zap.Logger, db *gorm.DB) (CatalogService, error) {
	return &Service{logger: logger, db: db}, nil
}

// Start starts the catalog service
func (s *Service) Start() error {
	s.logger.Info("Catalog service started")
	return nil
}

// Stop stops the catalog service
func (s *Service) Stop() error {
	s.logger.Info("Catalog service stopped")
	return nil
}

// GetBySymbol resolves a listing. Soft-deleted symbols are invisible to the
// order engine, so a deleted listing fails the same way as an unknown one.
func GetBySymbol(db *gorm.DB, symbol string) (*models.AssetListing, error) {
	var listing models.AssetListing
	err := db.Where("symbol = ? AND is_deleted = ?", symbol, false).First(&listing).Error
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.ErrAssetNotFound.WithMessage(fmt.Sprintf("asset %s not found", symbol))
		}
		return nil, fmt.Errorf("failed to find listing: %w", err)
	}
	return &listing, nil
}

// UpdatePrice overwrites the reference price. Called only by the order
// engine after an immediate fill or a completed match.
func UpdatePrice(db *gorm.DB, listingID uuid.UUID, price decimal.Decimal) error {
	err := db.Model(&models.AssetListing{}).
		Where("id = ?", listingID).
		Updates(map[string]interface{}{"current_price": price, "updated_at": time.Now()}).Error
	if err != nil {
		return fmt.Errorf("failed to update reference price: %w", err)
	}
	return nil
}

// List returns all non-deleted listings
func (s *Service) List(ctx context.Context) ([]*models.AssetListing, error) {
	var listings []*models.AssetListing
	err := s.db.WithContext(ctx).Where("is_deleted = ?", false).Order("symbol").Find(&listings).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list assets: %w", err)
	}
	return listings, nil
}

// GetBySymbol resolves a listing by symbol
func (s *Service) GetBySymbol(ctx context.Context, symbol string) (*models.AssetListing, error) {
	return GetBySymbol(s.db.WithContext(ctx), symbol)
}

// Add creates a new listing. Symbols are unique across the catalog,
// including soft-deleted rows.
func (s *Service) Add(ctx context.Context, req *models.ListingRequest) (*models.AssetListing, error) {
	if !req.CurrentPrice.IsPositive() {
		return nil, errors.ErrInvalidAmount.WithMessage("reference price must be greater than zero")
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.AssetListing{}).Where("symbol = ?", req.Symbol).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("failed to check symbol: %w", err)
	}
	if count > 0 {
		return nil, errors.ErrDuplicateAsset
	}

	now := time.Now()
	listing := &models.AssetListing{
		ID:           uuid.New(),
		Symbol:       req.Symbol,
		FullName:     req.FullName,
		CurrentPrice: req.CurrentPrice,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.db.WithContext(ctx).Create(listing).Error; err != nil {
		return nil, fmt.Errorf("failed to create listing: %w", err)
	}

	s.logger.Info("asset listed",
		zap.String("symbol", listing.Symbol),
		zap.String("price", listing.CurrentPrice.String()))
	return listing, nil
}

// Update rewrites symbol, name and reference price of a listing
func (s *Service) Update(ctx context.Context, id uuid.UUID, req *models.ListingRequest) (*models.AssetListing, error) {
	if !req.CurrentPrice.IsPositive() {
		return nil, errors.ErrInvalidAmount.WithMessage("reference price must be greater than zero")
	}

	listing, err := s.findByID(ctx, id)
	if err != nil {
		return nil, err
	}

	listing.Symbol = req.Symbol
	listing.FullName = req.FullName
	listing.CurrentPrice = req.CurrentPrice
	listing.UpdatedAt = time.Now()
	if err := s.db.WithContext(ctx).Save(listing).Error; err != nil {
		return nil, fmt.Errorf("failed to update listing: %w", err)
	}
	return listing, nil
}

// SoftDelete hides a listing from the engine without losing its history
func (s *Service) SoftDelete(ctx context.Context, id uuid.UUID) error {
	return s.setDeleted(ctx, id, true)
}

// Restore makes a soft-deleted listing visible again
func (s *Service) Restore(ctx context.Context, id uuid.UUID) error {
	return s.setDeleted(ctx, id, false)
}

func (s *Service) findByID(ctx context.Context, id uuid.UUID) (*models.AssetListing, error) {
	var listing models.AssetListing
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&listing).Error
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.ErrAssetNotFound
		}
		return nil, fmt.Errorf("failed to find listing: %w", err)
	}
	return &listing, nil
}

func (s *Service) setDeleted(ctx context.Context, id uuid.UUID, deleted bool) error {
	listing, err := s.findByID(ctx, id)
	if err != nil {
		return err
	}
	listing.IsDeleted = deleted
	listing.UpdatedAt = time.Now()
	if err := s.db.WithContext(ctx).Save(listing).Error; err != nil {
		return fmt.Errorf("failed to update listing: %w", err)
	}
	return nil
}
