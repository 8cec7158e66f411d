// Package orders is the order lifecycle engine. It places, cancels and
// matches limit orders against the ledger, and models deposits and
// withdrawals as immediately-settled pseudo-orders on the cash asset.
//
// Every operation checks all preconditions before the first mutation and
// applies its mutations inside one gorm transaction, so a failure commits
// nothing. A service-level mutex serializes operations: reserve, release and
// settle sequences on the same balance rows must never interleave.
package orders

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Aidin1998/brokerage/internal/catalog"
	"github.com/Aidin1998/brokerage/internal/identities"
	"github.com/Aidin1998/brokerage/internal/ledger"
	"github.com/Aidin1998/brokerage/pkg/errors"
	"github.com/Aidin1998/brokerage/pkg/metrics"
	"github.com/Aidin1998/brokerage/pkg/models"
)

// OrderService defines the order lifecycle operations
type OrderService interface {
	Start() error
	Stop() error
	CreateOrder(ctx context.Context, customerID uuid.UUID, req *models.OrderRequest) (*models.Order, error)
	CancelOrder(ctx context.Context, orderID, actorID uuid.UUID) error
	ApproveMatch(ctx context.Context, buyOrderID, sellOrderID uuid.UUID) (*models.Order, *models.Order, error)
	Deposit(ctx context.Context, customerID uuid.UUID, amount decimal.Decimal) (*models.Order, error)
	Withdraw(ctx context.Context, customerID uuid.UUID, amount decimal.Decimal) (*models.Order, error)
	GetOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	GetOrdersForCustomer(ctx context.Context, customerID uuid.UUID, from, to time.Time) ([]*models.Order, error)
}

// Service implements OrderService
type Service struct {
	logger *zap.Logger
	db     *gorm.DB

	// mu serializes lifecycle operations. Balance rows are
	// read-modify-written inside each transaction; two interleaved
	// operations on the same row would lose an update.
	mu sync.Mutex
}

// NewService creates a new OrderService
func NewService(logger *zap.Logger, db *gorm.DB) (OrderService, error) {
	return &Service{logger: logger, db: db}, nil
}

// Start starts the order service
func (s *Service) Start() error {
	s.logger.Info("Order service started")
	return nil
}

// Stop stops the order service
func (s *Service) Stop() error {
	s.logger.Info("Order service stopped")
	return nil
}

// CreateOrder places a limit order. The covering balance (cash notional for
// BUY, asset quantity for SELL) is reserved up front; an order whose price
// equals the catalog reference price fills immediately.
func (s *Service) CreateOrder(ctx context.Context, customerID uuid.UUID, req *models.OrderRequest) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.observe(time.Now())

	if req.Side != models.SideBuy && req.Side != models.SideSell {
		return nil, s.reject(errors.ErrInvalidOrderSide.WithMessage(fmt.Sprintf("unknown side %q", req.Side)))
	}
	if !req.Price.IsPositive() || !req.Quantity.IsPositive() {
		return nil, s.reject(errors.ErrInvalidAmount.WithMessage("price and quantity must be greater than zero"))
	}

	var order *models.Order
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := identities.FindByID(tx, customerID); err != nil {
			return err
		}
		listing, err := catalog.GetBySymbol(tx, req.Symbol)
		if err != nil {
			return err
		}

		notional := req.Price.Mul(req.Quantity)

		// Reservation is the single failing step; it runs before any
		// other ledger mutation.
		if req.Side == models.SideBuy {
			err = ledger.Reserve(tx, customerID, models.TRY, notional)
		} else {
			err = ledger.Reserve(tx, customerID, req.Symbol, req.Quantity)
		}
		if err != nil {
			return err
		}

		now := time.Now()
		order = &models.Order{
			ID:         uuid.New(),
			CustomerID: customerID,
			Symbol:     req.Symbol,
			Side:       req.Side,
			Price:      req.Price,
			Quantity:   req.Quantity,
			Status:     models.StatusPending,
			CreatedAt:  now,
			UpdatedAt:  now,
		}

		// Exact reference-price equality fills immediately; anything
		// else rests pending with the reservation standing.
		if req.Price.Equal(listing.CurrentPrice) {
			if req.Side == models.SideBuy {
				if err := ledger.Settle(tx, customerID, models.TRY, notional); err != nil {
					return err
				}
				if _, err := ledger.CreditFilled(tx, customerID, req.Symbol, req.Quantity); err != nil {
					return err
				}
			} else {
				if err := ledger.Settle(tx, customerID, req.Symbol, req.Quantity); err != nil {
					return err
				}
				if _, err := ledger.CreditFilled(tx, customerID, models.TRY, notional); err != nil {
					return err
				}
			}
			if err := catalog.UpdatePrice(tx, listing.ID, req.Price); err != nil {
				return err
			}
			order.Status = models.StatusMatched
		}

		if err := tx.Create(order).Error; err != nil {
			return fmt.Errorf("failed to create order: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, s.reject(err)
	}

	metrics.OrdersProcessed.WithLabelValues(order.Side).Inc()
	s.logger.Info("order created",
		zap.String("order_id", order.ID.String()),
		zap.String("customer_id", customerID.String()),
		zap.String("symbol", order.Symbol),
		zap.String("side", order.Side),
		zap.String("status", order.Status))
	return order, nil
}

// CancelOrder cancels a pending order and releases its reservation. Allowed
// to the order's owner or an admin; this is the only transition that unwinds
// a reservation without a settlement.
func (s *Service) CancelOrder(ctx context.Context, orderID, actorID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.observe(time.Now())

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := findOrder(tx, orderID, "order")
		if err != nil {
			return err
		}
		actor, err := identities.FindByID(tx, actorID)
		if err != nil {
			return err
		}
		if actor.Role != models.RoleAdmin && order.CustomerID != actor.ID {
			return errors.ErrForbidden.WithMessage("only the owner or an admin may cancel an order")
		}
		if order.Status != models.StatusPending {
			return errors.ErrInvalidOrderStatus.WithMessage("only pending orders can be canceled")
		}

		if order.Side == models.SideBuy {
			err = ledger.Release(tx, order.CustomerID, models.TRY, order.Price.Mul(order.Quantity))
		} else {
			err = ledger.Release(tx, order.CustomerID, order.Symbol, order.Quantity)
		}
		if err != nil {
			return err
		}

		order.Status = models.StatusCanceled
		order.UpdatedAt = time.Now()
		if err := tx.Save(order).Error; err != nil {
			return fmt.Errorf("failed to save order: %w", err)
		}

		s.logger.Info("order canceled",
			zap.String("order_id", order.ID.String()),
			zap.String("actor_id", actorID.String()))
		return nil
	})
	if err != nil {
		return s.reject(err)
	}
	return nil
}

// ApproveMatch settles two operator-nominated pending orders against each
// other. All four ledger legs and both order updates commit atomically; the
// unmatched remainder of either order stays pending with its reservation
// intact, since only the matched portion is settled.
func (s *Service) ApproveMatch(ctx context.Context, buyOrderID, sellOrderID uuid.UUID) (*models.Order, *models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.observe(time.Now())

	var buyOrder, sellOrder *models.Order
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		buyOrder, err = findOrder(tx, buyOrderID, "buy order")
		if err != nil {
			return err
		}
		sellOrder, err = findOrder(tx, sellOrderID, "sell order")
		if err != nil {
			return err
		}

		if buyOrder.Status != models.StatusPending || sellOrder.Status != models.StatusPending {
			return errors.ErrInvalidOrderStatus.WithMessage("only pending orders can be matched")
		}
		if buyOrder.Side != models.SideBuy || sellOrder.Side != models.SideSell {
			return errors.ErrInvalidOrderSide.WithMessage("match requires a buy order and a sell order")
		}
		if !buyOrder.Price.Equal(sellOrder.Price) {
			return errors.ErrPriceMismatch
		}
		if buyOrder.Symbol != sellOrder.Symbol {
			return errors.ErrAssetMismatch
		}

		matched := decimal.Min(buyOrder.Quantity, sellOrder.Quantity)
		proceeds := sellOrder.Price.Mul(matched)

		listing, err := catalog.GetBySymbol(tx, buyOrder.Symbol)
		if err != nil {
			return err
		}
		if err := catalog.UpdatePrice(tx, listing.ID, buyOrder.Price); err != nil {
			return err
		}

		// Buyer: consume the cash reservation, receive the asset.
		if err := ledger.Settle(tx, buyOrder.CustomerID, models.TRY, proceeds); err != nil {
			return err
		}
		if _, err := ledger.CreditFilled(tx, buyOrder.CustomerID, buyOrder.Symbol, matched); err != nil {
			return err
		}

		// Seller: receive the cash, consume the asset reservation.
		if _, err := ledger.CreditFilled(tx, sellOrder.CustomerID, models.TRY, proceeds); err != nil {
			return err
		}
		if err := ledger.Settle(tx, sellOrder.CustomerID, sellOrder.Symbol, matched); err != nil {
			return err
		}

		now := time.Now()
		for _, order := range []*models.Order{buyOrder, sellOrder} {
			remaining := order.Quantity.Sub(matched)
			if remaining.IsPositive() {
				order.Quantity = remaining
			} else {
				order.Status = models.StatusMatched
			}
			order.UpdatedAt = now
			if err := tx.Save(order).Error; err != nil {
				return fmt.Errorf("failed to save order: %w", err)
			}
		}

		kind := "full"
		if buyOrder.Status == models.StatusPending || sellOrder.Status == models.StatusPending {
			kind = "partial"
		}
		metrics.MatchesExecuted.WithLabelValues(kind).Inc()

		s.logger.Info("orders matched",
			zap.String("buy_order_id", buyOrder.ID.String()),
			zap.String("sell_order_id", sellOrder.ID.String()),
			zap.String("symbol", buyOrder.Symbol),
			zap.String("matched_quantity", matched.String()),
			zap.String("proceeds", proceeds.String()))
		return nil
	})
	if err != nil {
		return nil, nil, s.reject(err)
	}
	return buyOrder, sellOrder, nil
}

// Deposit credits cash and appends a settled price-1 BUY order as the audit
// record of the movement.
func (s *Service) Deposit(ctx context.Context, customerID uuid.UUID, amount decimal.Decimal) (*models.Order, error) {
	return s.moveCash(ctx, customerID, amount, models.SideBuy)
}

// Withdraw removes usable cash and appends a settled price-1 SELL order.
func (s *Service) Withdraw(ctx context.Context, customerID uuid.UUID, amount decimal.Decimal) (*models.Order, error) {
	return s.moveCash(ctx, customerID, amount, models.SideSell)
}

func (s *Service) moveCash(ctx context.Context, customerID uuid.UUID, amount decimal.Decimal, side string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.observe(time.Now())

	if !amount.IsPositive() {
		return nil, s.reject(errors.ErrInvalidAmount)
	}

	var order *models.Order
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := identities.FindByID(tx, customerID); err != nil {
			return err
		}
		// The cash asset must be listed; deposits settle against it.
		if _, err := catalog.GetBySymbol(tx, models.TRY); err != nil {
			return err
		}

		if side == models.SideBuy {
			if _, err := ledger.Credit(tx, customerID, models.TRY, amount); err != nil {
				return err
			}
		} else {
			if err := ledger.Debit(tx, customerID, models.TRY, amount); err != nil {
				return err
			}
		}

		now := time.Now()
		order = &models.Order{
			ID:         uuid.New(),
			CustomerID: customerID,
			Symbol:     models.TRY,
			Side:       side,
			Price:      decimal.NewFromInt(1),
			Quantity:   amount,
			Status:     models.StatusMatched,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := tx.Create(order).Error; err != nil {
			return fmt.Errorf("failed to create cash order: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, s.reject(err)
	}

	s.logger.Info("cash moved",
		zap.String("customer_id", customerID.String()),
		zap.String("side", order.Side),
		zap.String("amount", amount.String()))
	return order, nil
}

// GetOrder returns one order by id
func (s *Service) GetOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	return findOrder(s.db.WithContext(ctx), orderID, "order")
}

// GetOrdersForCustomer returns a customer's orders, newest first, optionally
// bounded by a creation date range. Zero time values leave that bound open.
func (s *Service) GetOrdersForCustomer(ctx context.Context, customerID uuid.UUID, from, to time.Time) ([]*models.Order, error) {
	if _, err := identities.FindByID(s.db.WithContext(ctx), customerID); err != nil {
		return nil, err
	}

	query := s.db.WithContext(ctx).Where("customer_id = ?", customerID)
	if !from.IsZero() {
		query = query.Where("created_at >= ?", from)
	}
	if !to.IsZero() {
		query = query.Where("created_at <= ?", to)
	}

	var orders []*models.Order
	if err := query.Order("created_at DESC").Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("failed to find orders: %w", err)
	}
	return orders, nil
}

func findOrder(db *gorm.DB, orderID uuid.UUID, label string) (*models.Order, error) {
	var order models.Order
	err := db.Where("id = ?", orderID).First(&order).Error
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.ErrOrderNotFound.WithMessage(label + " not found")
		}
		return nil, fmt.Errorf("failed to find order: %w", err)
	}
	return &order, nil
}

func (s *Service) observe(start time.Time) {
	metrics.OrderLatency.Observe(time.Since(start).Seconds())
}

// reject counts typed rejections by code and passes the error through.
func (s *Service) reject(err error) error {
	var e *errors.Error
	if stderrors.As(err, &e) {
		metrics.OrdersRejected.WithLabelValues(string(e.Code)).Inc()
	}
	return err
}
