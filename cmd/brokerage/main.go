package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/Aidin1998/brokerage/api"
	"github.com/Aidin1998/brokerage/internal/catalog"
	"github.com/Aidin1998/brokerage/internal/config"
	"github.com/Aidin1998/brokerage/internal/database"
	"github.com/Aidin1998/brokerage/internal/identities"
	"github.com/Aidin1998/brokerage/internal/ledger"
	"github.com/Aidin1998/brokerage/internal/orders"
	"github.com/Aidin1998/brokerage/pkg/logger"
	"github.com/Aidin1998/brokerage/pkg/models"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	// Create logger
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}
	zapLogger, err := logger.NewLogger(logLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		zapLogger.Fatal("Failed to load configuration", zap.Error(err))
	}

	// Connect to the database. An empty DSN runs on in-memory SQLite, which
	// is only good for local development.
	var db *gorm.DB
	if cfg.Database.DSN != "" {
		db, err = database.NewPostgresDB(cfg.Database.DSN, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime)
	} else {
		zapLogger.Warn("No database DSN configured, using in-memory SQLite")
		db, err = database.NewSQLiteDB()
	}
	if err != nil {
		zapLogger.Fatal("Failed to connect to database", zap.Error(err))
	}

	if err := database.Migrate(db); err != nil {
		zapLogger.Fatal("Failed to run migrations", zap.Error(err))
	}
	if err := seed(db, cfg, zapLogger); err != nil {
		zapLogger.Fatal("Failed to seed database", zap.Error(err))
	}

	// Create services
	identitiesSvc, err := identities.NewService(zapLogger, db, cfg.JWT.Secret, cfg.JWT.ExpirationHours)
	if err != nil {
		zapLogger.Fatal("Failed to create identities service", zap.Error(err))
	}

	ledgerSvc, err := ledger.NewService(zapLogger, db)
	if err != nil {
		zapLogger.Fatal("Failed to create ledger service", zap.Error(err))
	}

	catalogSvc, err := catalog.NewService(zapLogger, db)
	if err != nil {
		zapLogger.Fatal("Failed to create catalog service", zap.Error(err))
	}

	ordersSvc, err := orders.NewService(zapLogger, db)
	if err != nil {
		zapLogger.Fatal("Failed to create order service", zap.Error(err))
	}

	// Schedule DB pool metrics collection every 30s
	tickerDB := time.NewTicker(30 * time.Second)
	go func() {
		for range tickerDB.C {
			database.CollectPoolStats(db, "primary")
		}
	}()

	// Create API server
	apiServer := api.NewServer(zapLogger, identitiesSvc, ledgerSvc, catalogSvc, ordersSvc, cfg.Server.RateLimit)

	// Start services
	if err := identitiesSvc.Start(); err != nil {
		zapLogger.Fatal("Failed to start identities service", zap.Error(err))
	}
	if err := ledgerSvc.Start(); err != nil {
		zapLogger.Fatal("Failed to start ledger service", zap.Error(err))
	}
	if err := catalogSvc.Start(); err != nil {
		zapLogger.Fatal("Failed to start catalog service", zap.Error(err))
	}
	if err := ordersSvc.Start(); err != nil {
		zapLogger.Fatal("Failed to start order service", zap.Error(err))
	}

	// Start HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	go func() {
		if err := apiServer.Start(addr); err != nil {
			zapLogger.Fatal("Failed to start API server", zap.Error(err))
		}
	}()

	// Wait for interrupt to shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zapLogger.Info("Shutting down server...")
	tickerDB.Stop()

	// Stop services
	if err := ordersSvc.Stop(); err != nil {
		zapLogger.Error("Failed to stop order service", zap.Error(err))
	}
	if err := catalogSvc.Stop(); err != nil {
		zapLogger.Error("Failed to stop catalog service", zap.Error(err))
	}
	if err := ledgerSvc.Stop(); err != nil {
		zapLogger.Error("Failed to stop ledger service", zap.Error(err))
	}
	if err := identitiesSvc.Stop(); err != nil {
		zapLogger.Error("Failed to stop identities service", zap.Error(err))
	}

	zapLogger.Info("Server exited properly")
}

// seed guarantees the TRY listing every deposit settles against and, when
// configured, a bootstrap admin account.
func seed(db *gorm.DB, cfg *config.Config, zapLogger *zap.Logger) error {
	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.AssetListing{}).Where("symbol = ?", models.TRY).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			now := time.Now()
			if err := tx.Create(&models.AssetListing{
				ID:           uuid.New(),
				Symbol:       models.TRY,
				FullName:     "Turkish Lira",
				CurrentPrice: decimal.NewFromInt(1),
				CreatedAt:    now,
				UpdatedAt:    now,
			}).Error; err != nil {
				return err
			}
			zapLogger.Info("Seeded cash listing", zap.String("symbol", models.TRY))
		}

		if cfg.Seed.AdminPassword == "" {
			return nil
		}
		if err := tx.Model(&models.Customer{}).Where("username = ?", cfg.Seed.AdminUsername).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return nil
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(cfg.Seed.AdminPassword), bcrypt.DefaultCost)
		if err != nil {
			return err
		}
		now := time.Now()
		admin := &models.Customer{
			ID:           uuid.New(),
			Name:         "System",
			Surname:      "Admin",
			Email:        cfg.Seed.AdminUsername + "@localhost",
			Username:     cfg.Seed.AdminUsername,
			PasswordHash: string(hash),
			Role:         models.RoleAdmin,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := tx.Create(admin).Error; err != nil {
			return err
		}
		if err := tx.Create(&models.AssetBalance{
			ID:         uuid.New(),
			CustomerID: admin.ID,
			Symbol:     models.TRY,
			Total:      decimal.Zero,
			Usable:     decimal.Zero,
			CreatedAt:  now,
			UpdatedAt:  now,
		}).Error; err != nil {
			return err
		}
		zapLogger.Info("Seeded admin account", zap.String("username", admin.Username))
		return nil
	})
}
