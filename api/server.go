package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	limiter "github.com/ulule/limiter/v3"
	ginlimiter "github.com/ulule/limiter/v3/drivers/middleware/gin"
	memory "github.com/ulule/limiter/v3/drivers/store/memory"
	"go.uber.org/zap"

	"github.com/Aidin1998/brokerage/internal/catalog"
	"github.com/Aidin1998/brokerage/internal/identities"
	"github.com/Aidin1998/brokerage/internal/ledger"
	"github.com/Aidin1998/brokerage/internal/orders"
	"github.com/Aidin1998/brokerage/pkg/errors"
)

// Server represents the API server
type Server struct {
	router      *gin.Engine
	logger      *zap.Logger
	identities  identities.IdentityService
	ledger      ledger.LedgerService
	catalog     catalog.CatalogService
	orders      orders.OrderService
	validator   *validator.Validate
	rateLimiter gin.HandlerFunc
}

// NewServer creates a new API server with injected service interfaces.
// rateLimit uses the limiter period format, e.g. "100-M".
func NewServer(
	logger *zap.Logger,
	identitiesSvc identities.IdentityService,
	ledgerSvc ledger.LedgerService,
	catalogSvc catalog.CatalogService,
	ordersSvc orders.OrderService,
	rateLimit string,
) *Server {
	server := &Server{
		logger:     logger,
		identities: identitiesSvc,
		ledger:     ledgerSvc,
		catalog:    catalogSvc,
		orders:     ordersSvc,
		validator:  validator.New(),
	}

	router := gin.New()
	router.Use(ginzap.Ginzap(logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(logger, true))

	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	if rateLimit == "" {
		rateLimit = "100-M"
	}
	rate, err := limiter.NewRateFromFormatted(rateLimit)
	if err != nil {
		logger.Warn("invalid rate limit format, falling back to 100-M", zap.String("rate_limit", rateLimit))
		rate, _ = limiter.NewRateFromFormatted("100-M")
	}
	server.rateLimiter = ginlimiter.NewMiddleware(limiter.New(memory.NewStore(), rate))

	server.router = router
	server.registerRoutes()
	return server
}

// Start starts the API server
func (s *Server) Start(addr string) error {
	s.logger.Info("Starting API server", zap.String("addr", addr))
	return s.router.Run(addr)
}

// Router returns the internal Gin engine for testing purposes
func (s *Server) Router() *gin.Engine {
	return s.router
}

// registerRoutes registers all API routes
func (s *Server) registerRoutes() {
	public := s.router.Group("/api/v1")
	{
		public.GET("/metrics", gin.WrapH(promhttp.Handler()))
		public.GET("/health", s.healthCheck)

		auth := public.Group("/auth")
		{
			auth.POST("/register", s.register)
			auth.POST("/login", s.login)
		}

		// The catalog is public read; write operations live under /admin.
		public.GET("/assets", s.listAssets)
		public.GET("/assets/:symbol", s.getAsset)
	}

	// Authenticated customer routes
	protected := s.router.Group("/api/v1")
	protected.Use(s.authMiddleware(), s.rateLimiter)
	{
		protected.GET("/customers/:id", s.getCustomer)
		protected.PUT("/customers/:id", s.updateCustomer)
		protected.GET("/customers/:id/assets", s.getCustomerAssets)
		protected.GET("/customers/:id/orders", s.listCustomerOrders)

		protected.POST("/orders", s.createOrder)
		protected.GET("/orders/:id", s.getOrder)
		protected.DELETE("/orders/:id", s.cancelOrder)

		protected.POST("/deposit", s.deposit)
		protected.POST("/withdraw", s.withdraw)
	}

	// Admin routes
	admin := s.router.Group("/api/v1/admin")
	admin.Use(s.authMiddleware(), s.adminMiddleware(), s.rateLimiter)
	{
		admin.POST("/match", s.approveMatch)
		admin.GET("/balances", s.listAllBalances)

		admin.POST("/assets", s.addAsset)
		admin.PUT("/assets/:id", s.updateAsset)
		admin.DELETE("/assets/:id", s.deleteAsset)
		admin.POST("/assets/:id/restore", s.restoreAsset)
	}
}

// healthCheck handles the health check endpoint
func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now(),
	})
}

// authMiddleware validates the bearer token and stores the caller's id and
// role on the request context.
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			c.Abort()
			return
		}
		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization format"})
			c.Abort()
			return
		}

		customerID, role, err := s.identities.ValidateToken(strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			errors.Handle(c, err)
			c.Abort()
			return
		}

		c.Set("customerID", customerID)
		c.Set("role", role)
		c.Next()
	}
}

// adminMiddleware requires the admin role set by authMiddleware
func (s *Server) adminMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString("role") != "admin" {
			errors.Handle(c, errors.ErrForbidden)
			c.Abort()
			return
		}
		c.Next()
	}
}

// callerID returns the authenticated customer id set by authMiddleware
func callerID(c *gin.Context) uuid.UUID {
	id, _ := c.Get("customerID")
	customerID, _ := id.(uuid.UUID)
	return customerID
}
