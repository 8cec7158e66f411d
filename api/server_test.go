package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/Aidin1998/brokerage/api"
	"github.com/Aidin1998/brokerage/internal/catalog"
	"github.com/Aidin1998/brokerage/internal/database"
	"github.com/Aidin1998/brokerage/internal/identities"
	"github.com/Aidin1998/brokerage/internal/ledger"
	"github.com/Aidin1998/brokerage/internal/orders"
	"github.com/Aidin1998/brokerage/pkg/models"
)

type testEnv struct {
	router *gin.Engine
	db     *gorm.DB
}

// setupEnv wires the whole service stack against in-memory SQLite and seeds
// the cash listing plus an admin account.
func setupEnv(t *testing.T) *testEnv {
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()

	db, err := database.NewSQLiteDB()
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	now := time.Now()
	require.NoError(t, db.Create(&models.AssetListing{
		ID: uuid.New(), Symbol: models.TRY, FullName: "Turkish Lira",
		CurrentPrice: decimal.NewFromInt(1), CreatedAt: now, UpdatedAt: now,
	}).Error)

	hash, err := bcrypt.GenerateFromPassword([]byte("admin-password"), bcrypt.MinCost)
	require.NoError(t, err)
	require.NoError(t, db.Create(&models.Customer{
		ID: uuid.New(), Name: "System", Surname: "Admin",
		Email: "admin@test.local", Username: "admin",
		PasswordHash: string(hash), Role: models.RoleAdmin,
		CreatedAt: now, UpdatedAt: now,
	}).Error)

	identitiesSvc, err := identities.NewService(logger, db, "test-secret", 1)
	require.NoError(t, err)
	ledgerSvc, err := ledger.NewService(logger, db)
	require.NoError(t, err)
	catalogSvc, err := catalog.NewService(logger, db)
	require.NoError(t, err)
	ordersSvc, err := orders.NewService(logger, db)
	require.NoError(t, err)

	srv := api.NewServer(logger, identitiesSvc, ledgerSvc, catalogSvc, ordersSvc, "1000-S")
	return &testEnv{router: srv.Router(), db: db}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) registerAndLogin(t *testing.T, username string) (uuid.UUID, string) {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/v1/auth/register", "", models.RegisterRequest{
		Name: "Test", Surname: "User",
		Email: username + "@test.local", Username: username, Password: "password123",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return e.login(t, username, "password123")
}

func (e *testEnv) login(t *testing.T, username, password string) (uuid.UUID, string) {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/v1/auth/login", "", models.LoginRequest{
		Username: username, Password: password,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp models.LoginResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.CustomerID, resp.Token
}

func TestHealthCheck(t *testing.T) {
	env := setupEnv(t)
	w := env.do(t, http.MethodGet, "/api/v1/health", "", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	env := setupEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/orders", "", models.OrderRequest{})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, http.MethodPost, "/api/v1/orders", "garbage-token", models.OrderRequest{})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRegisterLoginFlow(t *testing.T) {
	env := setupEnv(t)
	customerID, token := env.registerAndLogin(t, "alice")

	// Owner can read its own profile and starts with a zero cash balance
	w := env.do(t, http.MethodGet, "/api/v1/customers/"+customerID.String()+"/assets", token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		Balances []*models.AssetBalance `json:"balances"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Balances, 1)
	assert.Equal(t, models.TRY, resp.Balances[0].Symbol)
	assert.True(t, resp.Balances[0].Total.IsZero())
}

func TestCustomerCannotReadOthers(t *testing.T) {
	env := setupEnv(t)
	aliceID, _ := env.registerAndLogin(t, "alice")
	_, bobToken := env.registerAndLogin(t, "bob")

	w := env.do(t, http.MethodGet, "/api/v1/customers/"+aliceID.String()+"/assets", bobToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, http.MethodGet, "/api/v1/customers/"+aliceID.String()+"/orders", bobToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAdminRoutesRejectUsers(t *testing.T) {
	env := setupEnv(t)
	_, token := env.registerAndLogin(t, "alice")

	w := env.do(t, http.MethodPost, "/api/v1/admin/assets", token, models.ListingRequest{
		Symbol: "AAPL", FullName: "Apple Inc.", CurrentPrice: decimal.NewFromInt(150),
	})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestDepositOrderMatchFlow(t *testing.T) {
	env := setupEnv(t)
	_, adminToken := env.login(t, "admin", "admin-password")
	buyerID, buyerToken := env.registerAndLogin(t, "buyer")
	sellerID, sellerToken := env.registerAndLogin(t, "seller")

	// Admin lists a tradable asset
	w := env.do(t, http.MethodPost, "/api/v1/admin/assets", adminToken, models.ListingRequest{
		Symbol: "AAPL", FullName: "Apple Inc.", CurrentPrice: decimal.NewFromInt(150),
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	// Buyer funds the account
	w = env.do(t, http.MethodPost, "/api/v1/deposit", buyerToken, models.CashRequest{Amount: decimal.NewFromInt(10000)})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	// No HTTP route grants asset holdings directly, so seed the seller
	_, err := ledger.Credit(env.db, sellerID, "AAPL", decimal.NewFromInt(50))
	require.NoError(t, err)

	// Both orders rest at 140, away from the 150 reference price
	var orderResp struct {
		Order *models.Order `json:"order"`
	}
	w = env.do(t, http.MethodPost, "/api/v1/orders", buyerToken, models.OrderRequest{
		Symbol: "AAPL", Side: models.SideBuy, Price: decimal.NewFromInt(140), Quantity: decimal.NewFromInt(10),
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &orderResp))
	buyOrder := orderResp.Order
	require.Equal(t, models.StatusPending, buyOrder.Status)

	w = env.do(t, http.MethodPost, "/api/v1/orders", sellerToken, models.OrderRequest{
		Symbol: "AAPL", Side: models.SideSell, Price: decimal.NewFromInt(140), Quantity: decimal.NewFromInt(10),
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	orderResp.Order = nil
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &orderResp))
	sellOrder := orderResp.Order

	// Only the admin may pair them
	w = env.do(t, http.MethodPost, "/api/v1/admin/match", buyerToken, models.MatchRequest{
		BuyOrderID: buyOrder.ID, SellOrderID: sellOrder.ID,
	})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, http.MethodPost, "/api/v1/admin/match", adminToken, models.MatchRequest{
		BuyOrderID: buyOrder.ID, SellOrderID: sellOrder.ID,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// Buyer ends with the shares and 8600 cash
	w = env.do(t, http.MethodGet, "/api/v1/customers/"+buyerID.String()+"/assets", buyerToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var balResp struct {
		Balances []*models.AssetBalance `json:"balances"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &balResp))
	bySymbol := map[string]*models.AssetBalance{}
	for _, b := range balResp.Balances {
		bySymbol[b.Symbol] = b
	}
	require.Contains(t, bySymbol, "AAPL")
	assert.True(t, bySymbol["AAPL"].Total.Equal(decimal.NewFromInt(10)))
	assert.True(t, bySymbol[models.TRY].Total.Equal(decimal.NewFromInt(8600)))
}

func TestWithdrawOverBalance(t *testing.T) {
	env := setupEnv(t)
	_, token := env.registerAndLogin(t, "alice")

	w := env.do(t, http.MethodPost, "/api/v1/deposit", token, models.CashRequest{Amount: decimal.NewFromInt(100)})
	require.Equal(t, http.StatusCreated, w.Code)

	w = env.do(t, http.MethodPost, "/api/v1/withdraw", token, models.CashRequest{Amount: decimal.NewFromInt(101)})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "insufficient_balance", resp["code"])
}

func TestCancelOrderOverHTTP(t *testing.T) {
	env := setupEnv(t)
	_, adminToken := env.login(t, "admin", "admin-password")
	_, token := env.registerAndLogin(t, "alice")

	w := env.do(t, http.MethodPost, "/api/v1/admin/assets", adminToken, models.ListingRequest{
		Symbol: "AAPL", FullName: "Apple Inc.", CurrentPrice: decimal.NewFromInt(150),
	})
	require.Equal(t, http.StatusCreated, w.Code)
	w = env.do(t, http.MethodPost, "/api/v1/deposit", token, models.CashRequest{Amount: decimal.NewFromInt(1000)})
	require.Equal(t, http.StatusCreated, w.Code)

	var orderResp struct {
		Order *models.Order `json:"order"`
	}
	w = env.do(t, http.MethodPost, "/api/v1/orders", token, models.OrderRequest{
		Symbol: "AAPL", Side: models.SideBuy, Price: decimal.NewFromInt(140), Quantity: decimal.NewFromInt(5),
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &orderResp))

	w = env.do(t, http.MethodDelete, "/api/v1/orders/"+orderResp.Order.ID.String(), token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.do(t, http.MethodGet, "/api/v1/orders/"+orderResp.Order.ID.String(), token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &orderResp))
	assert.Equal(t, models.StatusCanceled, orderResp.Order.Status)
}
