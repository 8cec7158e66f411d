package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Aidin1998/brokerage/pkg/errors"
	"github.com/Aidin1998/brokerage/pkg/models"
)

// --- AUTH HANDLERS ---

func (s *Server) register(c *gin.Context) {
	var req models.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errors.Handle(c, errors.ErrValidationFailed.WithMessage(err.Error()))
		return
	}
	if err := s.validator.Struct(&req); err != nil {
		errors.Handle(c, errors.ErrValidationFailed.WithMessage(err.Error()))
		return
	}

	customer, err := s.identities.Register(c.Request.Context(), &req)
	if err != nil {
		errors.Handle(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"customer": customer})
}

func (s *Server) login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errors.Handle(c, errors.ErrValidationFailed.WithMessage(err.Error()))
		return
	}

	resp, err := s.identities.Login(c.Request.Context(), &req)
	if err != nil {
		errors.Handle(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// --- CUSTOMER HANDLERS ---

func (s *Server) getCustomer(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		errors.Handle(c, errors.ErrValidationFailed.WithMessage("invalid customer id"))
		return
	}

	customer, err := s.identities.GetCustomer(c.Request.Context(), id, callerID(c))
	if err != nil {
		errors.Handle(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"customer": customer})
}

func (s *Server) updateCustomer(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		errors.Handle(c, errors.ErrValidationFailed.WithMessage("invalid customer id"))
		return
	}
	var req models.UpdateCustomerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errors.Handle(c, errors.ErrValidationFailed.WithMessage(err.Error()))
		return
	}

	customer, err := s.identities.UpdateCustomer(c.Request.Context(), id, callerID(c), &req)
	if err != nil {
		errors.Handle(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"customer": customer})
}

func (s *Server) getCustomerAssets(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		errors.Handle(c, errors.ErrValidationFailed.WithMessage("invalid customer id"))
		return
	}
	if c.GetString("role") != models.RoleAdmin && id != callerID(c) {
		errors.Handle(c, errors.ErrForbidden)
		return
	}

	balances, err := s.ledger.GetBalancesForCustomer(c.Request.Context(), id)
	if err != nil {
		errors.Handle(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"balances": balances})
}

func (s *Server) listCustomerOrders(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		errors.Handle(c, errors.ErrValidationFailed.WithMessage("invalid customer id"))
		return
	}
	if c.GetString("role") != models.RoleAdmin && id != callerID(c) {
		errors.Handle(c, errors.ErrForbidden)
		return
	}

	from, err := parseDateParam(c.Query("from"))
	if err != nil {
		errors.Handle(c, errors.ErrValidationFailed.WithMessage("invalid from date"))
		return
	}
	to, err := parseDateParam(c.Query("to"))
	if err != nil {
		errors.Handle(c, errors.ErrValidationFailed.WithMessage("invalid to date"))
		return
	}

	orderList, err := s.orders.GetOrdersForCustomer(c.Request.Context(), id, from, to)
	if err != nil {
		errors.Handle(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orderList})
}

// parseDateParam accepts RFC3339 timestamps or plain dates; empty means open
func parseDateParam(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", value)
}

// --- ORDER HANDLERS ---

func (s *Server) createOrder(c *gin.Context) {
	var req models.OrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errors.Handle(c, errors.ErrValidationFailed.WithMessage(err.Error()))
		return
	}

	order, err := s.orders.CreateOrder(c.Request.Context(), callerID(c), &req)
	if err != nil {
		errors.Handle(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"order": order})
}

func (s *Server) getOrder(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		errors.Handle(c, errors.ErrValidationFailed.WithMessage("invalid order id"))
		return
	}

	order, err := s.orders.GetOrder(c.Request.Context(), id)
	if err != nil {
		errors.Handle(c, err)
		return
	}
	if c.GetString("role") != models.RoleAdmin && order.CustomerID != callerID(c) {
		errors.Handle(c, errors.ErrForbidden)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order})
}

func (s *Server) cancelOrder(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		errors.Handle(c, errors.ErrValidationFailed.WithMessage("invalid order id"))
		return
	}

	if err := s.orders.CancelOrder(c.Request.Context(), id, callerID(c)); err != nil {
		errors.Handle(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order_id": id, "status": models.StatusCanceled})
}

// --- CASH HANDLERS ---

// cashTarget resolves who the movement applies to. Admins may act on another
// customer via the customer_id query parameter.
func (s *Server) cashTarget(c *gin.Context) (uuid.UUID, error) {
	target := callerID(c)
	if raw := c.Query("customer_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return uuid.Nil, errors.ErrValidationFailed.WithMessage("invalid customer id")
		}
		if id != target && c.GetString("role") != models.RoleAdmin {
			return uuid.Nil, errors.ErrForbidden
		}
		target = id
	}
	return target, nil
}

func (s *Server) deposit(c *gin.Context) {
	var req models.CashRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errors.Handle(c, errors.ErrValidationFailed.WithMessage(err.Error()))
		return
	}
	target, err := s.cashTarget(c)
	if err != nil {
		errors.Handle(c, err)
		return
	}

	order, err := s.orders.Deposit(c.Request.Context(), target, req.Amount)
	if err != nil {
		errors.Handle(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"order": order})
}

func (s *Server) withdraw(c *gin.Context) {
	var req models.CashRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errors.Handle(c, errors.ErrValidationFailed.WithMessage(err.Error()))
		return
	}
	target, err := s.cashTarget(c)
	if err != nil {
		errors.Handle(c, err)
		return
	}

	order, err := s.orders.Withdraw(c.Request.Context(), target, req.Amount)
	if err != nil {
		errors.Handle(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"order": order})
}

// --- CATALOG HANDLERS ---

func (s *Server) listAssets(c *gin.Context) {
	listings, err := s.catalog.List(c.Request.Context())
	if err != nil {
		errors.Handle(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"assets": listings})
}

func (s *Server) getAsset(c *gin.Context) {
	listing, err := s.catalog.GetBySymbol(c.Request.Context(), c.Param("symbol"))
	if err != nil {
		errors.Handle(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"asset": listing})
}

// --- ADMIN HANDLERS ---

func (s *Server) approveMatch(c *gin.Context) {
	var req models.MatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errors.Handle(c, errors.ErrValidationFailed.WithMessage(err.Error()))
		return
	}

	buyOrder, sellOrder, err := s.orders.ApproveMatch(c.Request.Context(), req.BuyOrderID, req.SellOrderID)
	if err != nil {
		errors.Handle(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"buy_order": buyOrder, "sell_order": sellOrder})
}

func (s *Server) listAllBalances(c *gin.Context) {
	grouped, err := s.ledger.GetAllGroupedByCustomer(c.Request.Context())
	if err != nil {
		errors.Handle(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"customers": grouped})
}

func (s *Server) addAsset(c *gin.Context) {
	var req models.ListingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errors.Handle(c, errors.ErrValidationFailed.WithMessage(err.Error()))
		return
	}

	listing, err := s.catalog.Add(c.Request.Context(), &req)
	if err != nil {
		errors.Handle(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"asset": listing})
}

func (s *Server) updateAsset(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		errors.Handle(c, errors.ErrValidationFailed.WithMessage("invalid asset id"))
		return
	}
	var req models.ListingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errors.Handle(c, errors.ErrValidationFailed.WithMessage(err.Error()))
		return
	}

	listing, err := s.catalog.Update(c.Request.Context(), id, &req)
	if err != nil {
		errors.Handle(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"asset": listing})
}

func (s *Server) deleteAsset(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		errors.Handle(c, errors.ErrValidationFailed.WithMessage("invalid asset id"))
		return
	}
	if err := s.catalog.SoftDelete(c.Request.Context(), id); err != nil {
		errors.Handle(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"asset_id": id, "deleted": true})
}

func (s *Server) restoreAsset(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		errors.Handle(c, errors.ErrValidationFailed.WithMessage("invalid asset id"))
		return
	}
	if err := s.catalog.Restore(c.Request.Context(), id); err != nil {
		errors.Handle(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"asset_id": id, "deleted": false})
}
