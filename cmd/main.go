package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	_ "github.com/lib/pq"

	"github.com/ecommerce-microservices/stock-service/internal/clients"
	"github.com/ecommerce-microservices/stock-service/internal/config"
	"github.com/ecommerce-microservices/stock-service/internal/handlers"
	"github.com/ecommerce-microservices/stock-service/internal/messaging"
	"github.com/ecommerce-microservices/stock-service/internal/repository"
	"github.com/ecommerce-microservices/stock-service/internal/resilience"
	"github.com/ecommerce-microservices/stock-service/internal/service"
)

func main() {
	log.Println("Starting Stock Service...")

	cfg := config.Load()

	db, err := initDatabase(cfg.Database)
	if err != nil {
		log.Fatalf("Database connection error: %v", err)
	}
	defer db.Close()

	stockRepo := repository.NewStockRepository(db)
	if err := stockRepo.EnsureSchema(); err != nil {
		log.Fatalf("Database schema error: %v", err)
	}

	registry := resilience.NewRegistry(resilience.Config{
		MaxAttempts:      cfg.Resilience.MaxAttempts,
		Backoff:          cfg.Resilience.Backoff,
		FailureThreshold: cfg.Resilience.FailureThreshold,
		Cooldown:         cfg.Resilience.Cooldown,
		HalfOpenMax:      cfg.Resilience.HalfOpenMax,
	})

	productClient := clients.NewProductClient(cfg.Clients.ProductServiceURL, cfg.Clients.CallTimeout, registry)
	userClient := clients.NewUserClient(cfg.Clients.UserServiceURL, cfg.Clients.CallTimeout, registry)
	stockService := service.NewStockService(stockRepo, productClient)
	stockHandler := handlers.NewStockHandler(stockService, userClient)

	rabbitClient := messaging.NewClient(cfg.RabbitMQ)
	if err := rabbitClient.Connect(); err != nil {
		log.Fatalf("RabbitMQ connection error: %v", err)
	}
	defer rabbitClient.Close()

	// No degraded mode for message intake: a broken topology is fatal.
	if err := rabbitClient.DeclareTopology(); err != nil {
		log.Fatalf("RabbitMQ topology error: %v", err)
	}

	publisher := messaging.NewPublisher(rabbitClient)
	consumer := messaging.NewConsumer(rabbitClient, publisher, stockService, cfg.RabbitMQ)
	if err := consumer.Start(context.Background()); err != nil {
		log.Fatalf("RabbitMQ consumption error: %v", err)
	}
	defer consumer.Stop()

	app := setupFiberApp()
	setupRoutes(app, stockHandler)

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down Stock Service...")
		consumer.Stop()
		if err := app.Shutdown(); err != nil {
			log.Printf("Shutdown error: %v", err)
		}
	}()

	log.Printf("Stock Service running on: http://localhost:%s", cfg.HTTPPort)
	if err := app.Listen(":" + cfg.HTTPPort); err != nil {
		log.Fatalf("Server startup error: %v", err)
	}
}

func initDatabase(cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("database open error: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("database ping error: %w", err)
	}

	log.Printf("Database connection successful: %s", cfg.Name)
	return db, nil
}

func setupFiberApp() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName: "Stock Service v1.0",
	})

	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${method} ${path} - ${latency}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization,X-Request-ID",
	}))

	return app
}

func setupRoutes(app *fiber.App, stockHandler *handlers.StockHandler) {
	api := app.Group("/api/v1")
	api.Get("/health", stockHandler.HealthCheck)
	api.Post("/stock", stockHandler.AddStock)
	api.Put("/stock/writedown", stockHandler.WriteDownStock)
	api.Get("/stock/:productId", stockHandler.FindByProductID)
	api.Get("/stock", stockHandler.FindAll)

	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"success": false,
			"message": "Route not found",
		})
	})
}
