package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every knob the stock service consumes from the environment.
type Config struct {
	HTTPPort string

	Database DatabaseConfig
	RabbitMQ RabbitMQConfig
	Clients  ClientsConfig

	Resilience ResilienceConfig
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
}

type RabbitMQConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	VHost    string

	Exchange   string
	RoutingKey string
	Queue      string

	DLXExchange   string
	DLXRoutingKey string
	DLXQueue      string

	MinConsumers    int
	MaxConsumers    int
	Prefetch        int
	RedeliveryLimit int

	ConnectRetryCount int
	ConnectRetryDelay time.Duration
}

type ClientsConfig struct {
	ProductServiceURL string
	UserServiceURL    string
	CallTimeout       time.Duration
}

// ResilienceConfig drives the retry/circuit-breaker strategy shared by the
// downstream client adapters.
type ResilienceConfig struct {
	MaxAttempts      int
	Backoff          time.Duration
	FailureThreshold int
	Cooldown         time.Duration
	HalfOpenMax      int
}

// Load collects configuration from environment variables with defaults.
func Load() Config {
	rabbitPort, _ := strconv.Atoi(getEnvOrDefault("RABBITMQ_PORT", "5672"))

	return Config{
		HTTPPort: getEnvOrDefault("PORT", "8004"),
		Database: DatabaseConfig{
			Host:     getEnvOrDefault("DB_HOST", "localhost"),
			Port:     getEnvOrDefault("DB_PORT", "5432"),
			User:     getEnvOrDefault("DB_USER", "postgres"),
			Password: getEnvOrDefault("DB_PASSWORD", "postgres"),
			Name:     getEnvOrDefault("DB_NAME", "stock_db"),
		},
		RabbitMQ: RabbitMQConfig{
			Host:              getEnvOrDefault("RABBITMQ_HOST", "localhost"),
			Port:              rabbitPort,
			Username:          getEnvOrDefault("RABBITMQ_USERNAME", "guest"),
			Password:          getEnvOrDefault("RABBITMQ_PASSWORD", "guest"),
			VHost:             getEnvOrDefault("RABBITMQ_VHOST", "/"),
			Exchange:          getEnvOrDefault("RABBITMQ_EXCHANGE", "purchase.exchange"),
			RoutingKey:        getEnvOrDefault("RABBITMQ_ROUTING_KEY", "purchase.created"),
			Queue:             getEnvOrDefault("RABBITMQ_QUEUE", "purchase-queue"),
			DLXExchange:       getEnvOrDefault("RABBITMQ_DLX_EXCHANGE", "purchase.exchange.dlx"),
			DLXRoutingKey:     getEnvOrDefault("RABBITMQ_DLX_ROUTING_KEY", "purchase.created.dlx"),
			DLXQueue:          getEnvOrDefault("RABBITMQ_DLX_QUEUE", "purchase-queue.dlx"),
			MinConsumers:      atoiEnv("RABBITMQ_MIN_CONSUMERS", 3),
			MaxConsumers:      atoiEnv("RABBITMQ_MAX_CONSUMERS", 10),
			Prefetch:          atoiEnv("RABBITMQ_PREFETCH", 1),
			RedeliveryLimit:   atoiEnv("RABBITMQ_REDELIVERY_LIMIT", 3),
			ConnectRetryCount: atoiEnv("RABBITMQ_RETRY_COUNT", 3),
			ConnectRetryDelay: time.Second * 5,
		},
		Clients: ClientsConfig{
			ProductServiceURL: getEnvOrDefault("PRODUCT_SERVICE_URL", "http://localhost:8001"),
			UserServiceURL:    getEnvOrDefault("USER_SERVICE_URL", "http://localhost:8002"),
			CallTimeout:       durEnvMillis("CLIENT_TIMEOUT_MS", 2000),
		},
		Resilience: ResilienceConfig{
			MaxAttempts:      atoiEnv("RESILIENCE_MAX_ATTEMPTS", 3),
			Backoff:          durEnvMillis("RESILIENCE_BACKOFF_MS", 200),
			FailureThreshold: atoiEnv("RESILIENCE_FAILURE_THRESHOLD", 5),
			Cooldown:         durEnvMillis("RESILIENCE_COOLDOWN_MS", 10000),
			HalfOpenMax:      atoiEnv("RESILIENCE_HALF_OPEN_MAX", 2),
		},
	}
}

// ConnectionURL renders the AMQP URL for the configured broker.
func (c RabbitMQConfig) ConnectionURL() string {
	vhost := c.VHost
	if vhost != "/" && !strings.HasPrefix(vhost, "/") {
		vhost = "/" + vhost
	}
	return fmt.Sprintf("amqp://%s:%s@%s:%d%s",
		c.Username, c.Password, c.Host, c.Port, vhost)
}

// ConnectionString renders the Postgres DSN.
func (c DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.Host, c.Port, c.User, c.Password, c.Name,
	)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func atoiEnv(key string, defaultValue int) int {
	value, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

func durEnvMillis(key string, defaultMillis int) time.Duration {
	return time.Duration(atoiEnv(key, defaultMillis)) * time.Millisecond
}
