// internal/interfaces/http/routes/routes.go
package routes

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/your-org/inventory-backend/internal/config"
	"github.com/your-org/inventory-backend/internal/domain/ledger"
	"github.com/your-org/inventory-backend/internal/domain/reservation"
	"github.com/your-org/inventory-backend/internal/domain/user"
	"github.com/your-org/inventory-backend/internal/domain/valuation"
	"github.com/your-org/inventory-backend/internal/infrastructure/database/postgres"
	"github.com/your-org/inventory-backend/internal/infrastructure/database/redis"
	"github.com/your-org/inventory-backend/internal/interfaces/http/handlers"
	"github.com/your-org/inventory-backend/internal/interfaces/http/middleware"
	"github.com/your-org/inventory-backend/internal/pkg/lock"
)

// Services bundles the domain services shared by HTTP handlers and
// background jobs. Built once at startup: the ledger's keyed position locks
// and the reservation locks only serialize callers that share the instance.
type Services struct {
	Operators    *user.Service
	Valuation    *valuation.Service
	Ledger       *ledger.Service
	MovementLog  *ledger.MovementLog
	Reservations *reservation.Service
	Sweeper      *reservation.Sweeper
}

// NewServices wires repositories, locks and services over the given
// connections
func NewServices(db *gorm.DB, redisClient *goredis.Client, cfg *config.Config) *Services {
	logger := newLogger(cfg)
	locks := lock.NewKeyedMutex()

	layerRepo := postgres.NewLayerRepository(db)
	positionRepo := postgres.NewPositionRepository(db)
	movementRepo := postgres.NewMovementRepository(db)
	reservationRepo := postgres.NewReservationRepository(db)

	valuationSvc := valuation.NewService(layerRepo, logger)
	ledgerSvc := ledger.NewService(positionRepo, movementRepo, valuationSvc, locks, cfg, logger)
	movementLog := ledger.NewMovementLog(ledgerSvc, cfg, logger)
	reservationSvc := reservation.NewService(reservationRepo, ledgerSvc, locks, cfg, logger)

	sweepLock := redis.NewSweepLock(&redis.Client{Redis: redisClient}, uuid.New().String())
	notifier := &reservation.LogNotifier{Logger: logger}
	sweeper := reservation.NewSweeper(reservationSvc, reservationRepo, sweepLock, notifier, cfg, logger)

	return &Services{
		Operators:    user.NewService(db, cfg),
		Valuation:    valuationSvc,
		Ledger:       ledgerSvc,
		MovementLog:  movementLog,
		Reservations: reservationSvc,
		Sweeper:      sweeper,
	}
}

func newLogger(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()
	if cfg.Logging.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	}
	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}

// SetupRoutes registers all API routes
func SetupRoutes(rg *gin.RouterGroup, svcs *Services, cfg *config.Config) {
	setupAuthRoutes(rg, svcs, cfg)
	setupStockRoutes(rg, svcs, cfg)
	setupMovementRoutes(rg, svcs, cfg)
	setupValuationRoutes(rg, svcs, cfg)
	setupReservationRoutes(rg, svcs, cfg)
	setupAdminRoutes(rg, svcs, cfg)
}

// setupAuthRoutes sets up operator authentication routes
func setupAuthRoutes(rg *gin.RouterGroup, svcs *Services, cfg *config.Config) {
	authHandler := handlers.NewAuthHandler(svcs.Operators, cfg)

	auth := rg.Group("/auth")
	{
		// Public auth endpoints
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.RefreshToken)

		// Protected auth endpoints
		protected := auth.Group("")
		protected.Use(middleware.AuthMiddleware(cfg))
		{
			protected.GET("/profile", authHandler.GetProfile)
			protected.PUT("/password", authHandler.ChangePassword)
		}
	}
}

// setupStockRoutes sets up stock position and bucket operation routes
func setupStockRoutes(rg *gin.RouterGroup, svcs *Services, cfg *config.Config) {
	stockHandler := handlers.NewStockHandler(svcs.Ledger, cfg)

	stock := rg.Group("/stock")
	stock.Use(middleware.AuthMiddleware(cfg))
	stock.Use(middleware.Tenant())
	{
		stock.POST("/positions", stockHandler.Provision)
		stock.GET("/positions/:id", stockHandler.GetPosition)
		stock.DELETE("/positions/:id", stockHandler.Deactivate)
		stock.GET("/availability", stockHandler.GetAvailability)

		stock.POST("/receive", stockHandler.Receive)
		stock.POST("/adjust", stockHandler.Adjust)
		stock.POST("/transfer", stockHandler.Transfer)

		stock.POST("/reserve", stockHandler.Reserve)
		stock.POST("/release", stockHandler.Release)
		stock.POST("/allocate", stockHandler.Allocate)
		stock.POST("/unallocate", stockHandler.ReleaseAllocated)
		stock.POST("/pick", stockHandler.Pick)
		stock.POST("/ship", stockHandler.Ship)
	}
}

// setupMovementRoutes sets up movement log routes
func setupMovementRoutes(rg *gin.RouterGroup, svcs *Services, cfg *config.Config) {
	movementHandler := handlers.NewMovementHandler(svcs.MovementLog, cfg)

	movements := rg.Group("/movements")
	movements.Use(middleware.AuthMiddleware(cfg))
	movements.Use(middleware.Tenant())
	{
		movements.GET("/positions/:id", movementHandler.History)
		movements.GET("/positions/:id/replay", movementHandler.Replay)
		movements.GET("/document", movementHandler.Related)
		movements.POST("/:id/reverse", movementHandler.Reverse)
	}
}

// setupValuationRoutes sets up valuation layer routes
func setupValuationRoutes(rg *gin.RouterGroup, svcs *Services, cfg *config.Config) {
	valuationHandler := handlers.NewValuationHandler(svcs.Valuation, cfg)

	val := rg.Group("/valuation")
	val.Use(middleware.AuthMiddleware(cfg))
	val.Use(middleware.Tenant())
	{
		val.GET("/positions/:id", valuationHandler.Snapshot)
		val.POST("/layers/:id/landed-costs", valuationHandler.AllocateLandedCosts)
	}
}

// setupReservationRoutes sets up reservation lifecycle routes
func setupReservationRoutes(rg *gin.RouterGroup, svcs *Services, cfg *config.Config) {
	reservationHandler := handlers.NewReservationHandler(svcs.Reservations, cfg)

	reservations := rg.Group("/reservations")
	reservations.Use(middleware.AuthMiddleware(cfg))
	reservations.Use(middleware.Tenant())
	{
		reservations.POST("", reservationHandler.Create)
		reservations.GET("/:id", reservationHandler.Get)
		reservations.POST("/:id/allocate", reservationHandler.Allocate)
		reservations.POST("/:id/cancel", reservationHandler.Cancel)
		reservations.PUT("/:id/expiry", reservationHandler.ExtendExpiry)
		reservations.POST("/:id/escalate", reservationHandler.Escalate)

		reservations.POST("/items/:id/allocate", reservationHandler.AllocateItem)
		reservations.POST("/items/:id/fulfill", reservationHandler.Fulfill)
	}
}

// setupAdminRoutes sets up admin-only routes
func setupAdminRoutes(rg *gin.RouterGroup, svcs *Services, cfg *config.Config) {
	authHandler := handlers.NewAuthHandler(svcs.Operators, cfg)

	admin := rg.Group("/admin")
	admin.Use(middleware.AuthMiddleware(cfg))
	admin.Use(middleware.AdminMiddleware())
	{
		admin.POST("/operators", authHandler.Register)
	}
}
