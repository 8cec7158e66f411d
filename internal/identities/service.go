// Package identities owns customer accounts and the authenticated caller
// identity the rest of the system consumes. Token validation hands the API
// layer a customer id and role; the order engine itself never parses tokens.
package identities

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/Aidin1998/brokerage/pkg/errors"
	"github.com/Aidin1998/brokerage/pkg/models"
)

// IdentityService defines customer identity operations
type IdentityService interface {
	Start() error
	Stop() error
	Register(ctx context.Context, req *models.RegisterRequest) (*models.Customer, error)
	Login(ctx context.Context, req *models.LoginRequest) (*models.LoginResponse, error)
	ValidateToken(token string) (uuid.UUID, string, error)
	IsAdmin(ctx context.Context, customerID uuid.UUID) (bool, error)
	GetCustomer(ctx context.Context, id, actorID uuid.UUID) (*models.Customer, error)
	UpdateCustomer(ctx context.Context, id, actorID uuid.UUID, req *models.UpdateCustomerRequest) (*models.Customer, error)
}

// Service implements IdentityService
type Service struct {
	logger             *zap.Logger
	db                 *gorm.DB
	jwtSecret          []byte
	jwtExpirationHours int
}

// NewService creates a new IdentityService
func NewService(logger *zap.Logger, db *gorm.DB, jwtSecret string, jwtExpirationHours int) (IdentityService, error) {
	if jwtExpirationHours <= 0 {
		jwtExpirationHours = 24
	}
	svc := &Service{
		logger:             logger,
		db:                 db,
		jwtSecret:          []byte(jwtSecret),
		jwtExpirationHours: jwtExpirationHours,
	}
	return svc, nil
}

// Start starts the identities service
func (s *Service) Start() error {
	s.logger.Info("Identities service started")
	return nil
}

// Stop stops the identities service
func (s *Service) Stop() error {
	s.logger.Info("Identities service stopped")
	return nil
}

// Register creates a customer and grants the zero-balance TRY ledger row
// every account starts with.
func (s *Service) Register(ctx context.Context, req *models.RegisterRequest) (*models.Customer, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Customer{}).
		Where("username = ? OR email = ?", req.Username, req.Email).
		Count(&count).Error
	if err != nil {
		return nil, fmt.Errorf("failed to check customer: %w", err)
	}
	if count > 0 {
		return nil, errors.ErrDuplicateCustomer
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := time.Now()
	customer := &models.Customer{
		ID:           uuid.New(),
		Name:         req.Name,
		Surname:      req.Surname,
		Email:        req.Email,
		Username:     req.Username,
		PasswordHash: string(hash),
		Role:         models.RoleUser,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(customer).Error; err != nil {
			return fmt.Errorf("failed to create customer: %w", err)
		}
		cash := &models.AssetBalance{
			ID:         uuid.New(),
			CustomerID: customer.ID,
			Symbol:     models.TRY,
			Total:      decimal.Zero,
			Usable:     decimal.Zero,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := tx.Create(cash).Error; err != nil {
			return fmt.Errorf("failed to create cash balance: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("customer registered",
		zap.String("customer_id", customer.ID.String()),
		zap.String("username", customer.Username))
	return customer, nil
}

// Login verifies credentials and issues a signed token carrying the role claim
func (s *Service) Login(ctx context.Context, req *models.LoginRequest) (*models.LoginResponse, error) {
	var customer models.Customer
	err := s.db.WithContext(ctx).
		Where("username = ? AND is_deleted = ?", req.Username, false).
		First(&customer).Error
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.ErrUnauthorized.WithMessage("invalid credentials")
		}
		return nil, fmt.Errorf("failed to find customer: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(customer.PasswordHash), []byte(req.Password)); err != nil {
		return nil, errors.ErrUnauthorized.WithMessage("invalid credentials")
	}

	claims := jwt.MapClaims{
		"sub":  customer.ID.String(),
		"role": customer.Role,
		"exp":  time.Now().Add(time.Duration(s.jwtExpirationHours) * time.Hour).Unix(),
		"iat":  time.Now().Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	return &models.LoginResponse{
		Token:      token,
		CustomerID: customer.ID,
		Username:   customer.Username,
		Role:       customer.Role,
	}, nil
}

// ValidateToken parses a token and returns the caller's id and role
func (s *Service) ValidateToken(tokenString string) (uuid.UUID, string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return uuid.Nil, "", errors.ErrUnauthorized.WithMessage("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return uuid.Nil, "", errors.ErrUnauthorized.WithMessage("invalid token claims")
	}
	sub, _ := claims["sub"].(string)
	role, _ := claims["role"].(string)
	customerID, err := uuid.Parse(sub)
	if err != nil {
		return uuid.Nil, "", errors.ErrUnauthorized.WithMessage("invalid token subject")
	}
	return customerID, role, nil
}

// IsAdmin reports whether the customer holds the admin role
func (s *Service) IsAdmin(ctx context.Context, customerID uuid.UUID) (bool, error) {
	customer, err := findByID(s.db.WithContext(ctx), customerID)
	if err != nil {
		return false, err
	}
	return customer.Role == models.RoleAdmin, nil
}

// GetCustomer returns a customer record, visible to its owner or an admin
func (s *Service) GetCustomer(ctx context.Context, id, actorID uuid.UUID) (*models.Customer, error) {
	actor, err := findByID(s.db.WithContext(ctx), actorID)
	if err != nil {
		return nil, err
	}
	if actor.Role != models.RoleAdmin && actor.ID != id {
		return nil, errors.ErrForbidden
	}
	return findByID(s.db.WithContext(ctx), id)
}

// UpdateCustomer rewrites a customer's profile, visible to its owner or an
// admin. A changed email must stay unique across non-deleted customers.
func (s *Service) UpdateCustomer(ctx context.Context, id, actorID uuid.UUID, req *models.UpdateCustomerRequest) (*models.Customer, error) {
	actor, err := findByID(s.db.WithContext(ctx), actorID)
	if err != nil {
		return nil, err
	}
	if actor.Role != models.RoleAdmin && actor.ID != id {
		return nil, errors.ErrForbidden
	}

	customer, err := findByID(s.db.WithContext(ctx), id)
	if err != nil {
		return nil, err
	}

	if req.Email != customer.Email {
		var count int64
		err := s.db.WithContext(ctx).Model(&models.Customer{}).
			Where("email = ? AND id <> ?", req.Email, id).
			Count(&count).Error
		if err != nil {
			return nil, fmt.Errorf("failed to check email: %w", err)
		}
		if count > 0 {
			return nil, errors.ErrDuplicateCustomer
		}
	}

	customer.Name = req.Name
	customer.Surname = req.Surname
	customer.Email = req.Email
	customer.UpdatedAt = time.Now()
	if err := s.db.WithContext(ctx).Save(customer).Error; err != nil {
		return nil, fmt.Errorf("failed to update customer: %w", err)
	}

	s.logger.Info("customer updated", zap.String("customer_id", customer.ID.String()))
	return customer, nil
}

// findByID loads a non-deleted customer. Shared with the order engine's
// actor checks.
func findByID(db *gorm.DB, id uuid.UUID) (*models.Customer, error) {
	var customer models.Customer
	err := db.Where("id = ? AND is_deleted = ?", id, false).First(&customer).Error
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.ErrCustomerNotFound
		}
		return nil, fmt.Errorf("failed to find customer: %w", err)
	}
	return &customer, nil
}

// FindByID exposes the customer lookup to other services
func FindByID(db *gorm.DB, id uuid.UUID) (*models.Customer, error) {
	return findByID(db, id)
}
