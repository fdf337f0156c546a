package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Ledger selects and configures the status ledger backend.
type Ledger struct {
	Kind             string `toml:"kind"`
	Collection       string `toml:"collection"`
	SQLitePath       string `toml:"sqlite_path"`
	MongoURI         string `toml:"mongo_uri"`
	MongoDB          string `toml:"mongo_db"`
	FirestoreProject string `toml:"firestore_project"`
}

// Blob selects where uploaded files are persisted.
type Blob struct {
	Kind           string `toml:"kind"`
	UploadDir      string `toml:"upload_dir"`
	Bucket         string `toml:"bucket"`
	MinioEndpoint  string `toml:"minio_endpoint"`
	MinioAccessKey string `toml:"minio_access_key"`
	MinioSecretKey string `toml:"minio_secret_key"`
	MinioUseSSL    bool   `toml:"minio_use_ssl"`
}

// Broker configures the ingestion queue and publish retry policy.
type Broker struct {
	Kind                 string `toml:"kind"`
	URL                  string `toml:"url"`
	Queue                string `toml:"queue"`
	ServiceBusConnection string `toml:"servicebus_connection"`
	MaxAttempts          int    `toml:"max_attempts"`
	RetryDelayMS         int    `toml:"retry_delay_ms"`
	Jitter               bool   `toml:"jitter"`
}

// RetryDelay is the base backoff delay.
func (b Broker) RetryDelay() time.Duration {
	return time.Duration(b.RetryDelayMS) * time.Millisecond
}

type Config struct {
	Addr                string `toml:"addr"`
	DataDir             string `toml:"data_dir"`
	LogLevel            string `toml:"log_level"`
	MarkPublishFailures bool   `toml:"mark_publish_failures"`
	WorkerConcurrency   int    `toml:"worker_concurrency"`

	Ledger Ledger `toml:"ledger"`
	Blob   Blob   `toml:"blob"`
	Broker Broker `toml:"broker"`
}

const (
	LedgerSQLite    = "sqlite"
	LedgerMongo     = "mongo"
	LedgerFirestore = "firestore"

	BlobLocal = "local"
	BlobMinio = "minio"
	BlobGCS   = "gcs"

	BrokerRedis       = "redis"
	BrokerCloudEvents = "cloudevents"
	BrokerServiceBus  = "servicebus"
)

// Default returns the configuration used when nothing is set.
func Default() Config {
	dataDir := filepath.Join("..", "..", "local-data")
	return Config{
		Addr:                ":8080",
		DataDir:             dataDir,
		LogLevel:            "info",
		MarkPublishFailures: true,
		WorkerConcurrency:   1,
		Ledger: Ledger{
			Kind:       LedgerSQLite,
			Collection: "pipeline_status",
			MongoDB:    "overheid",
		},
		Blob: Blob{
			Kind:      BlobLocal,
			UploadDir: "/uploads",
		},
		Broker: Broker{
			Kind:         BrokerRedis,
			URL:          "redis://localhost:6379/0",
			Queue:        "ingestion-queue",
			MaxAttempts:  5,
			RetryDelayMS: 1000,
		},
	}
}

// Load builds the configuration from defaults, the optional TOML file named
// by DOCPIPE_CONFIG, and environment variables, in increasing precedence.
func Load() (Config, error) {
	cfg := Default()
	if path := strings.TrimSpace(os.Getenv("DOCPIPE_CONFIG")); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// applyEnv overlays environment variables. Malformed numeric or boolean
// values are reported rather than replaced by the default.
func applyEnv(cfg *Config) error {
	var env envReader
	cfg.Addr = getenv("DOCPIPE_ADDR", cfg.Addr)
	cfg.DataDir = getenv("DOCPIPE_DATA_DIR", cfg.DataDir)
	cfg.LogLevel = getenv("LOG_LEVEL", cfg.LogLevel)
	cfg.MarkPublishFailures = env.bool("MARK_PUBLISH_FAILURES", cfg.MarkPublishFailures)
	cfg.WorkerConcurrency = env.int("WORKER_CONCURRENCY", cfg.WorkerConcurrency)

	cfg.Ledger.Kind = strings.ToLower(getenv("LEDGER_KIND", cfg.Ledger.Kind))
	cfg.Ledger.Collection = getenv("MONGO_STATUS_COLLECTION", cfg.Ledger.Collection)
	cfg.Ledger.SQLitePath = getenv("LEDGER_SQLITE_PATH", cfg.Ledger.SQLitePath)
	cfg.Ledger.MongoDB = getenv("MONGO_DB", cfg.Ledger.MongoDB)
	cfg.Ledger.MongoURI = getenv("MONGO_URI", cfg.Ledger.MongoURI)
	if cfg.Ledger.MongoURI == "" && cfg.Ledger.Kind == LedgerMongo {
		cfg.Ledger.MongoURI = mongoURIFromParts(cfg.Ledger.MongoDB)
	}
	cfg.Ledger.FirestoreProject = getenv("FIRESTORE_PROJECT", getenv("GCP_PROJECT", cfg.Ledger.FirestoreProject))

	cfg.Blob.Kind = strings.ToLower(getenv("BLOB_KIND", cfg.Blob.Kind))
	cfg.Blob.UploadDir = getenv("WEBAPP_UPLOAD_DIR", cfg.Blob.UploadDir)
	cfg.Blob.Bucket = getenv("BLOB_BUCKET", cfg.Blob.Bucket)
	cfg.Blob.MinioEndpoint = getenv("MINIO_ENDPOINT", cfg.Blob.MinioEndpoint)
	cfg.Blob.MinioAccessKey = getenv("MINIO_ACCESS_KEY", cfg.Blob.MinioAccessKey)
	cfg.Blob.MinioSecretKey = getenv("MINIO_SECRET_KEY", cfg.Blob.MinioSecretKey)
	cfg.Blob.MinioUseSSL = env.bool("MINIO_USE_SSL", cfg.Blob.MinioUseSSL)

	cfg.Broker.Kind = strings.ToLower(getenv("BROKER_KIND", cfg.Broker.Kind))
	cfg.Broker.URL = getenv("BROKER_URL", cfg.Broker.URL)
	cfg.Broker.Queue = getenv("INGESTION_QUEUE", getenv("AZURE_DOCUMENT_INGESTION_QUEUE", cfg.Broker.Queue))
	cfg.Broker.ServiceBusConnection = getenv("AZURE_SERVICEBUS_CONNECTION_STRING", cfg.Broker.ServiceBusConnection)
	cfg.Broker.MaxAttempts = env.int("SB_SEND_RETRIES", cfg.Broker.MaxAttempts)
	cfg.Broker.RetryDelayMS = env.int("SB_SEND_RETRY_DELAY_MS", cfg.Broker.RetryDelayMS)
	cfg.Broker.Jitter = env.bool("SB_SEND_RETRY_JITTER", cfg.Broker.Jitter)
	return errors.Join(env.errs...)
}

// maxPublishAttempts bounds SB_SEND_RETRIES.
const maxPublishAttempts = 100

// Validate rejects unknown backends and unusable retry settings.
func (c Config) Validate() error {
	var errs []error
	switch c.Ledger.Kind {
	case LedgerSQLite, LedgerMongo, LedgerFirestore:
	default:
		errs = append(errs, fmt.Errorf("unknown ledger kind %q", c.Ledger.Kind))
	}
	switch c.Blob.Kind {
	case BlobLocal:
	case BlobMinio, BlobGCS:
		if c.Blob.Bucket == "" {
			errs = append(errs, fmt.Errorf("blob kind %q requires BLOB_BUCKET", c.Blob.Kind))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown blob kind %q", c.Blob.Kind))
	}
	switch c.Broker.Kind {
	case BrokerRedis, BrokerCloudEvents:
		if c.Broker.URL == "" {
			errs = append(errs, fmt.Errorf("broker kind %q requires BROKER_URL", c.Broker.Kind))
		}
	case BrokerServiceBus:
		if c.Broker.ServiceBusConnection == "" {
			errs = append(errs, errors.New("AZURE_SERVICEBUS_CONNECTION_STRING is not set"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown broker kind %q", c.Broker.Kind))
	}
	if c.Broker.Queue == "" {
		errs = append(errs, errors.New("ingestion queue name must not be empty"))
	}
	if c.Broker.MaxAttempts <= 0 || c.Broker.MaxAttempts > maxPublishAttempts {
		errs = append(errs, fmt.Errorf("max publish attempts must be between 1 and %d, got %d", maxPublishAttempts, c.Broker.MaxAttempts))
	}
	if c.Broker.RetryDelayMS < 0 {
		errs = append(errs, fmt.Errorf("retry delay must not be negative, got %d", c.Broker.RetryDelayMS))
	}
	if c.WorkerConcurrency <= 0 {
		errs = append(errs, fmt.Errorf("worker concurrency must be positive, got %d", c.WorkerConcurrency))
	}
	return errors.Join(errs...)
}

// SQLitePath resolves the ledger database path, defaulting into DataDir.
func (c Config) SQLitePath() string {
	if c.Ledger.SQLitePath != "" {
		return c.Ledger.SQLitePath
	}
	return filepath.Join(c.DataDir, "status.db")
}

func mongoURIFromParts(db string) string {
	host := getenv("MONGO_HOST", "mongodb")
	port := getenv("MONGO_PORT", "27017")
	user := getenv("MONGO_USER", "mongoadmin")
	pwd := getenv("MONGO_PASSWORD", "mongopass")
	authDB := getenv("MONGO_AUTH_DB", "admin")
	u := url.URL{
		Scheme:   "mongodb",
		User:     url.UserPassword(user, pwd),
		Host:     host + ":" + port,
		Path:     "/" + db,
		RawQuery: "authSource=" + url.QueryEscape(authDB),
	}
	return u.String()
}

func getenv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// envReader parses typed environment values and collects parse failures.
type envReader struct {
	errs []error
}

func (e *envReader) int(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: invalid integer %q", key, raw))
		return fallback
	}
	return v
}

func (e *envReader) bool(key string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: invalid boolean %q", key, raw))
		return fallback
	}
	return v
}
