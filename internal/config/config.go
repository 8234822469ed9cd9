package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// HTTP holds HTTP server configuration.
type HTTP struct {
	Host string
	Port int
}

// GRPC configures the gRPC health endpoint used by orchestrators.
type GRPC struct {
	Enabled bool
	Host    string
	Port    int
}

// CORS lists the browser origins allowed to call the API.
type CORS struct {
	AllowOrigins []string
}

// Access configures role resolution and result windowing.
type Access struct {
	DefaultRole  string
	CreatedAfter time.Time
}

// Cache configures caching behavior and backend selection.
type Cache struct {
	Enabled    bool
	Driver     string
	DefaultTTL time.Duration
	KeyPrefix  string
	Redis      Redis
}

// Redis contains redis-specific connection settings.
type Redis struct {
	Addr     string
	Password string
	DB       int
}

// Messaging configures the message bus used by the application.
type Messaging struct {
	Driver        string
	Enabled       bool
	Kafka         Kafka
	ConsumerGroup string
	Workers       Worker
}

// Kafka holds Kafka connection details.
type Kafka struct {
	Brokers        []string
	ClientID       string
	Topic          string
	CommitInterval time.Duration
	MinBytes       int
	MaxBytes       int
	ConnectTimeout time.Duration
}

// Worker configures background worker concurrency and polling.
type Worker struct {
	Enabled      bool
	PollInterval time.Duration
	Concurrency  int
}

// Database selects the storage driver and holds its connection settings.
// Driver is one of mongo, postgres, mysql, sqlite or memory.
type Database struct {
	Driver          string
	WriterDSN       string
	ReaderDSN       string
	MaxOpenConns    int
	MaxIdleConns    int
	MaxConnLifetime time.Duration
	Mongo           Mongo
}

// Mongo holds document store settings.
type Mongo struct {
	URI              string
	Database         string
	OrdersCollection string
	UsersCollection  string
	ConnectTimeout   time.Duration
}

// Tracking configures the third-party delivery tracker lookup.
type Tracking struct {
	Enabled bool
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Observability contains logging, tracing, and metrics configuration.
type Observability struct {
	ServiceName     string
	Environment     string
	LogLevel        string
	LogEncoding     string
	EnableTracing   bool
	TraceExporter   string
	TraceEndpoint   string
	TraceInsecure   bool
	EnableMetrics   bool
	MetricsExporter string
	PrometheusPath  string
}

// Config wraps all application configuration knobs.
type Config struct {
	HTTP          HTTP
	GRPC          GRPC
	CORS          CORS
	Access        Access
	Cache         Cache
	Messaging     Messaging
	Database      Database
	Tracking      Tracking
	Observability Observability
}

// Module wires the configuration loader into the Fx graph.
var Module = fx.Provide(New)

var loadEnvOnce sync.Once

const defaultCreatedAfter = "2025-01-01"

// New builds a Config from environment variables or defaults.
func New() (Config, error) {
	loadEnvOnce.Do(func() {
		_ = godotenv.Load()
	})

	env := &envReader{}
	cfg := Config{
		HTTP: HTTP{
			Host: env.text("HTTP_HOST", "0.0.0.0"),
			Port: env.number("HTTP_PORT", 5050),
		},
		GRPC: GRPC{
			Enabled: env.flag("GRPC_ENABLED", false),
			Host:    env.text("GRPC_HOST", "0.0.0.0"),
			Port:    env.number("GRPC_PORT", 9090),
		},
		CORS: CORS{
			AllowOrigins: env.list("CORS_ALLOW_ORIGINS", []string{"http://localhost:5173"}),
		},
		Access: Access{
			DefaultRole:  env.text("ACCESS_DEFAULT_ROLE", "jpmc"),
			CreatedAfter: env.date("ACCESS_CREATED_AFTER", defaultCreatedAfter),
		},
		Cache: Cache{
			Enabled:    env.flag("CACHE_ENABLED", true),
			Driver:     env.text("CACHE_DRIVER", "redis"),
			DefaultTTL: env.duration("CACHE_DEFAULT_TTL", time.Minute*5),
			KeyPrefix:  env.text("CACHE_KEY_PREFIX", "pharmadesk:"),
			Redis: Redis{
				Addr:     env.text("REDIS_ADDR", "127.0.0.1:6379"),
				Password: env.text("REDIS_PASSWORD", ""),
				DB:       env.number("REDIS_DB", 0),
			},
		},
		Messaging: Messaging{
			Driver:  env.text("MESSAGING_DRIVER", "kafka"),
			Enabled: env.flag("MESSAGING_ENABLED", true),
			Kafka: Kafka{
				Brokers:        env.list("KAFKA_BROKERS", []string{"127.0.0.1:9092"}),
				ClientID:       env.text("KAFKA_CLIENT_ID", "pharmadesk"),
				Topic:          env.text("KAFKA_TOPIC", "orders.events"),
				CommitInterval: env.duration("KAFKA_COMMIT_INTERVAL", time.Second),
				MinBytes:       env.number("KAFKA_MIN_BYTES", 10e3),
				MaxBytes:       env.number("KAFKA_MAX_BYTES", 10e6),
				ConnectTimeout: env.duration("KAFKA_CONNECT_TIMEOUT", 5*time.Second),
			},
			ConsumerGroup: env.text("KAFKA_CONSUMER_GROUP", "pharmadesk-audit"),
			Workers: Worker{
				Enabled:      env.flag("WORKER_ENABLED", true),
				PollInterval: env.duration("WORKER_POLL_INTERVAL", time.Second),
				Concurrency:  env.number("WORKER_CONCURRENCY", 2),
			},
		},
		Database: Database{
			Driver:          strings.ToLower(strings.TrimSpace(env.text("DB_DRIVER", "mongo"))),
			WriterDSN:       env.text("DB_WRITER_DSN", ""),
			ReaderDSN:       env.text("DB_READER_DSN", ""),
			MaxOpenConns:    env.number("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    env.number("DB_MAX_IDLE_CONNS", 25),
			MaxConnLifetime: env.duration("DB_MAX_CONN_LIFETIME", time.Minute*5),
			Mongo: Mongo{
				URI:              env.text("MONGO_URI", "mongodb://localhost:27017"),
				Database:         env.text("MONGO_DATABASE", "pharmadesk"),
				OrdersCollection: env.text("MONGO_ORDERS_COLLECTION", "orders"),
				UsersCollection:  env.text("MONGO_USERS_COLLECTION", "appusers"),
				ConnectTimeout:   env.duration("MONGO_CONNECT_TIMEOUT", 10*time.Second),
			},
		},
		Tracking: Tracking{
			Enabled: env.flag("TRACKING_ENABLED", false),
			BaseURL: env.text("TRACKING_BASE_URL", ""),
			APIKey:  env.text("TRACKING_API_KEY", ""),
			Timeout: env.duration("TRACKING_TIMEOUT", 5*time.Second),
		},
		Observability: Observability{
			ServiceName:     env.text("OBS_SERVICE_NAME", "pharmadesk"),
			Environment:     env.text("OBS_ENVIRONMENT", "local"),
			LogLevel:        env.text("OBS_LOG_LEVEL", "info"),
			LogEncoding:     env.text("OBS_LOG_ENCODING", "json"),
			EnableTracing:   env.flag("OBS_ENABLE_TRACING", false),
			TraceExporter:   env.text("OBS_TRACE_EXPORTER", "stdout"),
			TraceEndpoint:   env.text("OBS_OTLP_ENDPOINT", "localhost:4317"),
			TraceInsecure:   env.flag("OBS_OTLP_INSECURE", true),
			EnableMetrics:   env.flag("OBS_ENABLE_METRICS", true),
			MetricsExporter: env.text("OBS_METRICS_EXPORTER", "prometheus"),
			PrometheusPath:  env.text("OBS_PROMETHEUS_PATH", "/metrics"),
		},
	}

	if err := env.err(); err != nil {
		return Config{}, err
	}
	if err := cfg.normalize(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) normalize() error {
	if cfg.HTTP.Port <= 0 {
		return fmt.Errorf("invalid HTTP port: %d", cfg.HTTP.Port)
	}
	if cfg.GRPC.Enabled && cfg.GRPC.Port <= 0 {
		return fmt.Errorf("invalid gRPC port: %d", cfg.GRPC.Port)
	}

	cfg.Access.DefaultRole = strings.ToLower(strings.TrimSpace(cfg.Access.DefaultRole))
	if cfg.Access.DefaultRole == "" {
		return fmt.Errorf("ACCESS_DEFAULT_ROLE must not be empty")
	}

	if !cfg.Cache.Enabled {
		cfg.Cache.Driver = "noop"
	}

	switch cfg.Cache.Driver {
	case "redis", "noop":
		// supported
	default:
		return fmt.Errorf("unsupported cache driver: %s", cfg.Cache.Driver)
	}

	if cfg.Cache.Driver == "redis" && cfg.Cache.Redis.Addr == "" {
		return fmt.Errorf("missing REDIS_ADDR for redis cache")
	}

	if cfg.Cache.DefaultTTL < 0 {
		cfg.Cache.DefaultTTL = time.Minute * 5
	}

	cfg.Observability.LogLevel = strings.ToLower(strings.TrimSpace(cfg.Observability.LogLevel))
	if cfg.Observability.LogLevel == "" {
		cfg.Observability.LogLevel = "info"
	}
	cfg.Observability.LogEncoding = strings.ToLower(strings.TrimSpace(cfg.Observability.LogEncoding))
	if cfg.Observability.LogEncoding == "" {
		cfg.Observability.LogEncoding = "json"
	}
	cfg.Observability.TraceExporter = strings.ToLower(strings.TrimSpace(cfg.Observability.TraceExporter))
	if cfg.Observability.TraceExporter == "" {
		cfg.Observability.TraceExporter = "stdout"
	}
	cfg.Observability.MetricsExporter = strings.ToLower(strings.TrimSpace(cfg.Observability.MetricsExporter))
	if cfg.Observability.MetricsExporter == "" {
		cfg.Observability.MetricsExporter = "prometheus"
	}

	if cfg.Observability.PrometheusPath == "" {
		cfg.Observability.PrometheusPath = "/metrics"
	} else if !strings.HasPrefix(cfg.Observability.PrometheusPath, "/") {
		cfg.Observability.PrometheusPath = "/" + cfg.Observability.PrometheusPath
	}

	if !cfg.Messaging.Enabled {
		cfg.Messaging.Driver = "noop"
	}

	switch cfg.Messaging.Driver {
	case "kafka", "noop":
		// supported
	default:
		return fmt.Errorf("unsupported messaging driver: %s", cfg.Messaging.Driver)
	}

	if cfg.Messaging.Driver == "kafka" {
		if len(cfg.Messaging.Kafka.Brokers) == 0 {
			return fmt.Errorf("KAFKA_BROKERS must be provided")
		}
		if cfg.Messaging.Kafka.Topic == "" {
			return fmt.Errorf("KAFKA_TOPIC must be provided")
		}
		if cfg.Messaging.ConsumerGroup == "" {
			return fmt.Errorf("KAFKA_CONSUMER_GROUP must be provided")
		}
	}

	if cfg.Messaging.Workers.Concurrency <= 0 {
		cfg.Messaging.Workers.Concurrency = 1
	}
	if cfg.Messaging.Workers.PollInterval <= 0 {
		cfg.Messaging.Workers.PollInterval = time.Second
	}

	switch cfg.Database.Driver {
	case "mongo":
		if cfg.Database.Mongo.URI == "" {
			return fmt.Errorf("missing MONGO_URI")
		}
		if cfg.Database.Mongo.Database == "" {
			return fmt.Errorf("missing MONGO_DATABASE")
		}
		if cfg.Database.Mongo.ConnectTimeout <= 0 {
			cfg.Database.Mongo.ConnectTimeout = 10 * time.Second
		}
	case "postgres", "mysql", "sqlite":
		if cfg.Database.WriterDSN == "" {
			return fmt.Errorf("missing DB_WRITER_DSN")
		}
		if cfg.Database.ReaderDSN == "" {
			cfg.Database.ReaderDSN = cfg.Database.WriterDSN
		}
	case "memory":
		// in-process store, nothing to validate
	default:
		return fmt.Errorf("unsupported database driver: %s", cfg.Database.Driver)
	}

	if cfg.Tracking.Enabled && cfg.Tracking.BaseURL == "" {
		return fmt.Errorf("TRACKING_BASE_URL must be provided when tracking is enabled")
	}
	if cfg.Tracking.Timeout <= 0 {
		cfg.Tracking.Timeout = 5 * time.Second
	}

	return nil
}

// IsSQL reports whether the configured storage driver is served through bun.
func (d Database) IsSQL() bool {
	switch d.Driver {
	case "postgres", "mysql", "sqlite":
		return true
	default:
		return false
	}
}
