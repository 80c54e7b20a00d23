package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	_ "libraryapi/api/swagger" // swagger docs
	"libraryapi/internal/auth"
	"libraryapi/internal/booklock"
	"libraryapi/internal/config"
	"libraryapi/internal/database"
	"libraryapi/internal/handler"
	"libraryapi/internal/middleware"
	"libraryapi/internal/repository"
	"libraryapi/internal/service"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// @title           Library Reservation API
// @version         1.0
// @description     Book catalog and reservation engine with permission based access control.
// @host            localhost:8080
// @BasePath        /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	if err := run(); err != nil {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevelValue()}))
	slog.SetDefault(logger)
	gin.SetMode(cfg.GinMode)

	db, err := database.NewConnection(cfg.DBDriver, cfg.DSN())
	if err != nil {
		return fmt.Errorf("database connection failed (%s): %w", cfg.DBDriver, err)
	}
	logger.Info("connected to database", "driver", cfg.DBDriver)

	var locker booklock.Locker = booklock.NewKeyedMutex()
	if cfg.RedisURL != "" {
		client, err := booklock.NewRedisClient(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		defer client.Close()
		locker = booklock.NewRedisLocker(client, cfg.LockWait, logger)
		logger.Info("using redis book locks")
	}

	// Set up dependencies (Repository -> Service -> Handler)
	bookRepo := repository.NewBookRepository(db)
	reservationRepo := repository.NewReservationRepository(db)
	userRepo := repository.NewUserRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	statisticsRepo := repository.NewStatisticsRepository(db)
	txManager := repository.NewTransactionManager(db)

	issuer := auth.NewIssuer(cfg.JWTSecret, cfg.JWTTTL)
	loanPeriod := service.DefaultLoanPeriod
	if cfg.LoanDays > 0 {
		loanPeriod = time.Duration(cfg.LoanDays) * 24 * time.Hour
	}

	userService := service.NewUserService(userRepo, auditRepo, txManager, issuer, logger)
	catalogService := service.NewCatalogService(bookRepo, reservationRepo, auditRepo, txManager, locker, logger)
	reservationService := service.NewReservationService(bookRepo, reservationRepo, auditRepo, txManager, locker, loanPeriod, logger)
	auditService := service.NewAuditService(auditRepo)
	statisticsService := service.NewStatisticsService(statisticsRepo)

	authMW := middleware.NewAuth(issuer, userService, cfg.GinMode == gin.ReleaseMode)

	// Initialize Handlers
	userHandler := handler.NewUserHandler(userService, authMW, cfg.JWTTTL)
	bookHandler := handler.NewBookHandler(catalogService, authMW)
	reservationHandler := handler.NewReservationHandler(reservationService, authMW)
	auditHandler := handler.NewAuditHandler(auditService, authMW)
	statisticsHandler := handler.NewStatisticsHandler(statisticsService, authMW)

	router := gin.Default()

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.CORSOrigins
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", "Accept"}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	router.Use(cors.New(corsConfig))

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "OK"})
	})

	api := router.Group("/api")
	userHandler.RegisterRoutes(api)
	bookHandler.RegisterRoutes(api)
	reservationHandler.RegisterRoutes(api)
	auditHandler.RegisterRoutes(api)
	statisticsHandler.RegisterRoutes(api)

	logger.Info("server listening", "port", cfg.Port)
	return router.Run(":" + cfg.Port)
}
