// Package config handles loading and parsing of firebridge configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for firebridge.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Logging       LoggingConfig       `yaml:"logging"`
	Bridge        BridgeConfig        `yaml:"bridge"`
	DocStore      DocStoreConfig      `yaml:"docstore"`
	Storage       StorageConfig       `yaml:"storage"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP gateway settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// ShutdownTimeout is the graceful shutdown window in seconds.
	ShutdownTimeout int `yaml:"shutdown_timeout"`
	// MaxUploadSize caps the request body accepted by the upload endpoint.
	MaxUploadSize int64 `yaml:"max_upload_size"`
	// FileRoot is the directory uploads by file reference may read from.
	// When empty, file-reference uploads are refused.
	FileRoot string `yaml:"file_root"`
}

// LoggingConfig holds log/slog settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// BridgeConfig holds worker pool settings for the async bridge.
type BridgeConfig struct {
	// Workers bounds how many vendor calls run at once.
	Workers int `yaml:"workers"`
	// OperationTimeout in seconds. Zero means vendor calls may run forever.
	OperationTimeout int `yaml:"operation_timeout"`
}

// Timeout returns OperationTimeout as a duration.
func (b BridgeConfig) Timeout() time.Duration {
	return time.Duration(b.OperationTimeout) * time.Second
}

// DocStoreConfig selects and configures the document backend.
type DocStoreConfig struct {
	// Backend is one of "memory", "sqlite", "bolt", "firestore", "dynamodb",
	// "cosmos".
	Backend   string          `yaml:"backend"`
	SQLite    SQLiteConfig    `yaml:"sqlite"`
	Bolt      BoltConfig      `yaml:"bolt"`
	Firestore FirestoreConfig `yaml:"firestore"`
	DynamoDB  DynamoDBConfig  `yaml:"dynamodb"`
	Cosmos    CosmosConfig    `yaml:"cosmos"`
}

// SQLiteConfig holds SQLite document store settings.
type SQLiteConfig struct {
	// Path is the filesystem path for the SQLite database file.
	Path string `yaml:"path"`
}

// BoltConfig holds bbolt document store settings.
type BoltConfig struct {
	// Path is the filesystem path for the bbolt database file.
	Path string `yaml:"path"`
}

// FirestoreConfig holds Cloud Firestore settings.
type FirestoreConfig struct {
	ProjectID string `yaml:"project_id"`
	// Database is the Firestore database ID. Empty selects "(default)".
	Database        string `yaml:"database"`
	CredentialsFile string `yaml:"credentials_file"`
}

// DynamoDBConfig holds DynamoDB document store settings.
type DynamoDBConfig struct {
	Table       string `yaml:"table"`
	Region      string `yaml:"region"`
	EndpointURL string `yaml:"endpoint_url"`
	// AccessKeyID and SecretAccessKey are optional static credentials.
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// CosmosConfig holds Azure Cosmos DB settings.
type CosmosConfig struct {
	Endpoint  string `yaml:"endpoint"`
	MasterKey string `yaml:"master_key"`
	Database  string `yaml:"database"`
	Container string `yaml:"container"`
}

// StorageConfig selects and configures the object backend.
type StorageConfig struct {
	// Backend is one of "memory", "local", "sqlite", "gcp", "aws", "azure".
	Backend string `yaml:"backend"`
	// URLExpiry is the lifetime of signed download URLs in seconds.
	URLExpiry int                `yaml:"url_expiry"`
	Local     LocalConfig        `yaml:"local"`
	SQLite    SQLiteObjectConfig `yaml:"sqlite"`
	// MemoryBaseURL prefixes object keys in URLs handed out by the memory
	// backend. Empty yields mem:/// URLs.
	MemoryBaseURL string `yaml:"memory_base_url"`
	// GCPBucket is the GCS bucket name for the GCP backend.
	GCPBucket string `yaml:"gcp_bucket"`
	// GCPProject is the GCP project ID.
	GCPProject string `yaml:"gcp_project"`
	// GCPPrefix is the optional key prefix in the GCS bucket.
	GCPPrefix          string `yaml:"gcp_prefix"`
	GCPCredentialsFile string `yaml:"gcp_credentials_file"`
	// AWSBucket is the S3 bucket name for the AWS backend.
	AWSBucket string `yaml:"aws_bucket"`
	// AWSRegion is the AWS region of the bucket.
	AWSRegion string `yaml:"aws_region"`
	// AWSPrefix is the optional key prefix in the S3 bucket.
	AWSPrefix          string `yaml:"aws_prefix"`
	AWSEndpointURL     string `yaml:"aws_endpoint_url"`
	AWSUsePathStyle    bool   `yaml:"aws_use_path_style"`
	AWSAccessKeyID     string `yaml:"aws_access_key_id"`
	AWSSecretAccessKey string `yaml:"aws_secret_access_key"`
	// AzureContainer is the container name for the Azure backend.
	AzureContainer string `yaml:"azure_container"`
	// AzureAccount is used to construct the account URL:
	// https://{account}.blob.core.windows.net
	AzureAccount string `yaml:"azure_account"`
	// AzureAccountURL overrides the URL constructed from AzureAccount.
	AzureAccountURL string `yaml:"azure_account_url"`
	// AzurePrefix is the optional key prefix in the Azure container.
	AzurePrefix             string `yaml:"azure_prefix"`
	AzureConnectionString   string `yaml:"azure_connection_string"`
	AzureUseManagedIdentity bool   `yaml:"azure_use_managed_identity"`
}

// Expiry returns URLExpiry as a duration.
func (s StorageConfig) Expiry() time.Duration {
	return time.Duration(s.URLExpiry) * time.Second
}

// LocalConfig holds local filesystem storage settings.
type LocalConfig struct {
	// RootDir is the base directory for stored objects.
	RootDir string `yaml:"root_dir"`
	// BaseURL is the public prefix objects are served under. Empty yields
	// file:// URLs.
	BaseURL string `yaml:"base_url"`
}

// SQLiteObjectConfig holds settings for object bytes kept in SQLite.
type SQLiteObjectConfig struct {
	Path string `yaml:"path"`
	// BaseURL is the public prefix objects are served under. Empty yields
	// sqlite:/// URLs.
	BaseURL string `yaml:"base_url"`
}

// ObservabilityConfig toggles the metrics endpoint.
type ObservabilityConfig struct {
	Metrics bool `yaml:"metrics"`
}

// Load reads a YAML configuration file from the given path and returns
// a parsed Config with defaults applied. If the primary path fails, it falls
// back to firebridge.example.yaml in the same or the parent directory.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		fallbackPaths := []string{
			filepath.Join(filepath.Dir(path), "firebridge.example.yaml"),
			filepath.Join(filepath.Dir(path), "..", "firebridge.example.yaml"),
		}
		var fallbackErr error
		for _, fp := range fallbackPaths {
			data, fallbackErr = os.ReadFile(fp)
			if fallbackErr == nil {
				break
			}
		}
		if fallbackErr != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a Config with every default applied, for callers that run
// without a configuration file.
func Default() *Config {
	return defaultConfig()
}

// Validate checks settings that have no usable default.
func (c *Config) Validate() error {
	switch c.DocStore.Backend {
	case "memory", "sqlite", "bolt":
	case "firestore":
		if c.DocStore.Firestore.ProjectID == "" {
			return fmt.Errorf("docstore.firestore.project_id is required when backend is 'firestore'")
		}
	case "dynamodb":
		if c.DocStore.DynamoDB.Table == "" {
			return fmt.Errorf("docstore.dynamodb.table is required when backend is 'dynamodb'")
		}
	case "cosmos":
		if c.DocStore.Cosmos.Database == "" || c.DocStore.Cosmos.Container == "" {
			return fmt.Errorf("docstore.cosmos.database and docstore.cosmos.container are required when backend is 'cosmos'")
		}
	default:
		return fmt.Errorf("unknown docstore backend %q", c.DocStore.Backend)
	}

	switch c.Storage.Backend {
	case "memory", "local", "sqlite":
	case "gcp":
		if c.Storage.GCPBucket == "" {
			return fmt.Errorf("storage.gcp_bucket is required when backend is 'gcp'")
		}
	case "aws":
		if c.Storage.AWSBucket == "" {
			return fmt.Errorf("storage.aws_bucket is required when backend is 'aws'")
		}
	case "azure":
		if c.Storage.AzureContainer == "" {
			return fmt.Errorf("storage.azure_container is required when backend is 'azure'")
		}
		if c.Storage.AzureAccountURL == "" && c.Storage.AzureAccount == "" && c.Storage.AzureConnectionString == "" {
			return fmt.Errorf("storage.azure_account, storage.azure_account_url or storage.azure_connection_string is required when backend is 'azure'")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}

	if c.Bridge.OperationTimeout < 0 {
		return fmt.Errorf("bridge.operation_timeout must not be negative")
	}
	return nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ShutdownTimeout: 30,
			MaxUploadSize:   32 << 20,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Bridge: BridgeConfig{
			Workers: 8,
		},
		DocStore: DocStoreConfig{
			Backend: "memory",
			SQLite: SQLiteConfig{
				Path: "./data/documents.db",
			},
			Bolt: BoltConfig{
				Path: "./data/documents.bolt",
			},
		},
		Storage: StorageConfig{
			Backend:   "memory",
			URLExpiry: 3600,
			Local: LocalConfig{
				RootDir: "./data/objects",
			},
			SQLite: SQLiteObjectConfig{
				Path: "./data/objects.db",
			},
			AWSRegion: "us-east-1",
		},
		Observability: ObservabilityConfig{
			Metrics: true,
		},
	}
}

// applyDefaults fills in any fields that are still at their zero value
// after YAML unmarshaling.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30
	}
	if cfg.Server.MaxUploadSize == 0 {
		cfg.Server.MaxUploadSize = 32 << 20
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Bridge.Workers <= 0 {
		cfg.Bridge.Workers = 8
	}
	if cfg.DocStore.Backend == "" {
		cfg.DocStore.Backend = "memory"
	}
	if cfg.DocStore.SQLite.Path == "" {
		cfg.DocStore.SQLite.Path = "./data/documents.db"
	}
	if cfg.DocStore.Bolt.Path == "" {
		cfg.DocStore.Bolt.Path = "./data/documents.bolt"
	}
	if cfg.DocStore.DynamoDB.Region == "" {
		cfg.DocStore.DynamoDB.Region = "us-east-1"
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "memory"
	}
	if cfg.Storage.URLExpiry <= 0 {
		cfg.Storage.URLExpiry = 3600
	}
	if cfg.Storage.Local.RootDir == "" {
		cfg.Storage.Local.RootDir = "./data/objects"
	}
	if cfg.Storage.SQLite.Path == "" {
		cfg.Storage.SQLite.Path = "./data/objects.db"
	}
	if cfg.Storage.AWSRegion == "" {
		cfg.Storage.AWSRegion = "us-east-1"
	}
}
