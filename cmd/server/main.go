package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/happy-code-egg/ruidao-sub004/internal/auth"
	"github.com/happy-code-egg/ruidao-sub004/internal/config"
	"github.com/happy-code-egg/ruidao-sub004/internal/database"
	"github.com/happy-code-egg/ruidao-sub004/internal/middleware"
	"github.com/happy-code-egg/ruidao-sub004/internal/org"
	"github.com/happy-code-egg/ruidao-sub004/internal/workflow"
	"github.com/happy-code-egg/ruidao-sub004/internal/workflow/model"
)

func main() {
	// Load configuration from config file and environment variables
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	slog.Info("configuration loaded successfully",
		"db_host", cfg.Database.Host,
		"db_port", cfg.Database.Port,
		"db_name", cfg.Database.Name,
		"db_sslmode", cfg.Database.SSLMode,
	)

	slog.Info("server configuration",
		"port", cfg.Server.Port,
	)

	// Initialize database connection
	db, err := database.New(&cfg.Database)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer func() {
		if err := database.Close(db); err != nil {
			slog.Error("failed to close database", "error", err)
		}
	}()

	if err := database.Migrate(db); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	// Perform health check
	if err := database.HealthCheck(db); err != nil {
		log.Fatalf("database health check failed: %v", err)
	}

	// Initialize the workflow manager on top of the org directory
	orgService := org.NewService(db)
	wm := workflow.NewManager(db, orgService)

	// Terminal-status events are logged until business modules register
	// their own subscribers.
	wm.Subscribe("patent_application", logTerminalEvent)
	wm.Subscribe("trademark_application", logTerminalEvent)

	// Set up HTTP routes
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger(), middleware.CORS(cfg.CORS), auth.Identify())

	router.GET("/healthz", func(c *gin.Context) {
		if err := database.HealthCheck(db); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api/v1")
	wm.RegisterRoutes(api)

	serverAddr := fmt.Sprintf(":%d", cfg.Server.Port)
	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	// Channel to listen for interrupt signals
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// Start server in a goroutine
	go func() {
		slog.Info("starting server", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("failed to start server", "error", err)
			quit <- syscall.SIGTERM
		}
	}()

	// Wait for interrupt signal
	<-quit
	slog.Info("shutting down server...")

	// Create a context with timeout for graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Attempt graceful shutdown of HTTP server
	if err := server.Shutdown(ctx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	} else {
		slog.Info("server gracefully stopped")
	}

	// Stop the workflow manager's event listener
	slog.Info("stopping workflow event listener...")
	wm.StopEventListener()

	slog.Info("server stopped")
}

func logTerminalEvent(ctx context.Context, event model.WorkflowEventNotification) {
	slog.InfoContext(ctx, "workflow reached terminal status",
		"businessType", event.BusinessType,
		"businessID", event.BusinessID,
		"title", event.BusinessTitle,
		"status", event.Status,
	)
}
