// Package config loads the run configuration: a TOML file overlaid by
// OCPAGG_* environment variables, plus an optional YAML run manifest
// supplying run identity. No package-level global is read from inside
// any other component; Config is always passed explicitly from the
// orchestrator.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/pelletier/go-toml/v2"

	"github.com/jordigilh/ocpaggregator/internal/ocperrors"
)

// RunIdentity is the tuple that must be supplied once per run: an object
// store scope plus the database schema's identity columns.
type RunIdentity struct {
	OrgID        string
	ProviderKind string
	SourceUUID   string
	ClusterID    string
	ClusterAlias string
	Year         string
	Month        string
}

// Config is the fully-resolved, explicit configuration struct threaded
// from the orchestrator into every component that needs it.
type Config struct {
	Identity RunIdentity

	ObjectStoreEndpoint        string
	ObjectStoreRegion          string
	ObjectStoreAccessKeyID     string
	ObjectStoreSecretAccessKey string
	ObjectStoreUseSSL          bool
	ObjectStoreBucket          string
	ObjectStoreRetryAttempts   int

	DatabaseHost     string
	DatabasePort     int
	DatabaseName     string
	DatabaseUser     string
	DatabasePassword string
	DatabaseSSLMode  string
	DatabaseSchema   string

	RedisURL string

	CheckpointPath string

	UseStreaming    bool
	ParallelChunks  bool
	MaxWorkers      int
	ChunkSize       int
	ColumnFiltering bool
	UseCategorical  bool
	UseArrowCompute bool
	UseBulkCopy     bool
	BatchSize       int
	Truncate        bool

	Schedule string

	HTTPListenAddr string
}

// fileConfig is the TOML-file shape; fields mirror Config but every field
// is optional (zero value means "not set, env or default decides").
type fileConfig struct {
	ObjectStore struct {
		Endpoint        string `toml:"endpoint"`
		Region          string `toml:"region"`
		AccessKeyID     string `toml:"access_key_id"`
		SecretAccessKey string `toml:"secret_access_key"`
		UseSSL          bool   `toml:"use_ssl"`
		Bucket          string `toml:"bucket"`
		RetryAttempts   int    `toml:"retry_attempts"`
	} `toml:"object_store"`

	Database struct {
		Host     string `toml:"host"`
		Port     int    `toml:"port"`
		Name     string `toml:"name"`
		User     string `toml:"user"`
		Password string `toml:"password"`
		SSLMode  string `toml:"sslmode"`
		Schema   string `toml:"schema"`
	} `toml:"database"`

	Redis struct {
		URL string `toml:"url"`
	} `toml:"redis"`

	Checkpoint struct {
		Path string `toml:"path"`
	} `toml:"checkpoint"`

	Run struct {
		UseStreaming    bool  `toml:"use_streaming"`
		ParallelChunks  bool  `toml:"parallel_chunks"`
		MaxWorkers      int   `toml:"max_workers"`
		ChunkSize       int   `toml:"chunk_size"`
		ColumnFiltering *bool `toml:"column_filtering"`
		UseCategorical  *bool `toml:"use_categorical"`
		UseArrowCompute *bool `toml:"use_arrow_compute"`
		UseBulkCopy     bool  `toml:"use_bulk_copy"`
		BatchSize       int   `toml:"batch_size"`
	} `toml:"run"`

	Schedule string `toml:"schedule"`

	HTTP struct {
		ListenAddr string `toml:"listen_addr"`
	} `toml:"http"`
}

func defaults() Config {
	return Config{
		ObjectStoreRetryAttempts: 5,
		ColumnFiltering:          true,
		UseCategorical:           true,
		UseArrowCompute:          true,
		ChunkSize:                50000,
		MaxWorkers:               4,
		BatchSize:                1000,
		DatabaseSSLMode:          "require",
		CheckpointPath:           "/var/lib/ocpaggregator/checkpoint.db",
		HTTPListenAddr:           ":8080",
	}
}

// Load reads path (if it exists), overlays OCPAGG_* environment variables,
// and returns the resolved Config. A missing file is not an error — every
// field can also come from the environment — but a malformed file is a
// ConfigError, fatal before any I/O.
func Load(path string) (Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return Config{}, ocperrors.NewConfig("failed to read config file "+path, err)
		}
		if err == nil {
			var fc fileConfig
			if err := toml.Unmarshal(data, &fc); err != nil {
				return Config{}, ocperrors.NewConfig("failed to parse config file "+path, err)
			}
			applyFile(&cfg, &fc)
		}
	}

	applyEnv(&cfg)

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyFile(cfg *Config, fc *fileConfig) {
	if fc.ObjectStore.Endpoint != "" {
		cfg.ObjectStoreEndpoint = fc.ObjectStore.Endpoint
	}
	if fc.ObjectStore.Region != "" {
		cfg.ObjectStoreRegion = fc.ObjectStore.Region
	}
	if fc.ObjectStore.AccessKeyID != "" {
		cfg.ObjectStoreAccessKeyID = fc.ObjectStore.AccessKeyID
	}
	if fc.ObjectStore.SecretAccessKey != "" {
		cfg.ObjectStoreSecretAccessKey = fc.ObjectStore.SecretAccessKey
	}
	cfg.ObjectStoreUseSSL = fc.ObjectStore.UseSSL
	if fc.ObjectStore.Bucket != "" {
		cfg.ObjectStoreBucket = fc.ObjectStore.Bucket
	}
	if fc.ObjectStore.RetryAttempts > 0 {
		cfg.ObjectStoreRetryAttempts = fc.ObjectStore.RetryAttempts
	}

	if fc.Database.Host != "" {
		cfg.DatabaseHost = fc.Database.Host
	}
	if fc.Database.Port > 0 {
		cfg.DatabasePort = fc.Database.Port
	}
	if fc.Database.Name != "" {
		cfg.DatabaseName = fc.Database.Name
	}
	if fc.Database.User != "" {
		cfg.DatabaseUser = fc.Database.User
	}
	if fc.Database.Password != "" {
		cfg.DatabasePassword = fc.Database.Password
	}
	if fc.Database.SSLMode != "" {
		cfg.DatabaseSSLMode = fc.Database.SSLMode
	}
	if fc.Database.Schema != "" {
		cfg.DatabaseSchema = fc.Database.Schema
	}

	if fc.Redis.URL != "" {
		cfg.RedisURL = fc.Redis.URL
	}
	if fc.Checkpoint.Path != "" {
		cfg.CheckpointPath = fc.Checkpoint.Path
	}

	cfg.UseStreaming = fc.Run.UseStreaming
	cfg.ParallelChunks = fc.Run.ParallelChunks
	if fc.Run.MaxWorkers > 0 {
		cfg.MaxWorkers = fc.Run.MaxWorkers
	}
	if fc.Run.ChunkSize > 0 {
		cfg.ChunkSize = fc.Run.ChunkSize
	}
	if fc.Run.ColumnFiltering != nil {
		cfg.ColumnFiltering = *fc.Run.ColumnFiltering
	}
	if fc.Run.UseCategorical != nil {
		cfg.UseCategorical = *fc.Run.UseCategorical
	}
	if fc.Run.UseArrowCompute != nil {
		cfg.UseArrowCompute = *fc.Run.UseArrowCompute
	}
	cfg.UseBulkCopy = fc.Run.UseBulkCopy
	if fc.Run.BatchSize > 0 {
		cfg.BatchSize = fc.Run.BatchSize
	}

	if fc.Schedule != "" {
		cfg.Schedule = fc.Schedule
	}
	if fc.HTTP.ListenAddr != "" {
		cfg.HTTPListenAddr = fc.HTTP.ListenAddr
	}
}

// applyEnv overlays OCPAGG_* variables, the highest-precedence source, on
// top of file and manifest values.
func applyEnv(cfg *Config) {
	str(&cfg.ObjectStoreEndpoint, "OCPAGG_OBJECT_STORE_ENDPOINT")
	str(&cfg.ObjectStoreRegion, "OCPAGG_OBJECT_STORE_REGION")
	str(&cfg.ObjectStoreAccessKeyID, "OCPAGG_OBJECT_STORE_ACCESS_KEY_ID")
	str(&cfg.ObjectStoreSecretAccessKey, "OCPAGG_OBJECT_STORE_SECRET_ACCESS_KEY")
	boolVal(&cfg.ObjectStoreUseSSL, "OCPAGG_OBJECT_STORE_USE_SSL")
	str(&cfg.ObjectStoreBucket, "OCPAGG_OBJECT_STORE_BUCKET")
	intVal(&cfg.ObjectStoreRetryAttempts, "OCPAGG_OBJECT_STORE_RETRY_ATTEMPTS")

	str(&cfg.DatabaseHost, "OCPAGG_DB_HOST")
	intVal(&cfg.DatabasePort, "OCPAGG_DB_PORT")
	str(&cfg.DatabaseName, "OCPAGG_DB_NAME")
	str(&cfg.DatabaseUser, "OCPAGG_DB_USER")
	str(&cfg.DatabasePassword, "OCPAGG_DB_PASSWORD")
	str(&cfg.DatabaseSSLMode, "OCPAGG_DB_SSLMODE")
	str(&cfg.DatabaseSchema, "OCPAGG_DB_SCHEMA")

	str(&cfg.RedisURL, "OCPAGG_REDIS_URL")
	str(&cfg.CheckpointPath, "OCPAGG_CHECKPOINT_PATH")

	boolVal(&cfg.UseStreaming, "OCPAGG_USE_STREAMING")
	boolVal(&cfg.ParallelChunks, "OCPAGG_PARALLEL_CHUNKS")
	intVal(&cfg.MaxWorkers, "OCPAGG_MAX_WORKERS")
	intVal(&cfg.ChunkSize, "OCPAGG_CHUNK_SIZE")
	boolVal(&cfg.ColumnFiltering, "OCPAGG_COLUMN_FILTERING")
	boolVal(&cfg.UseCategorical, "OCPAGG_USE_CATEGORICAL")
	boolVal(&cfg.UseArrowCompute, "OCPAGG_USE_ARROW_COMPUTE")
	boolVal(&cfg.UseBulkCopy, "OCPAGG_USE_BULK_COPY")
	intVal(&cfg.BatchSize, "OCPAGG_BATCH_SIZE")
	boolVal(&cfg.Truncate, "OCPAGG_TRUNCATE")

	str(&cfg.Schedule, "OCPAGG_SCHEDULE")
	str(&cfg.HTTPListenAddr, "OCPAGG_HTTP_LISTEN_ADDR")

	str(&cfg.Identity.OrgID, "OCPAGG_ORG_ID")
	str(&cfg.Identity.ProviderKind, "OCPAGG_PROVIDER_KIND")
	str(&cfg.Identity.SourceUUID, "OCPAGG_SOURCE_UUID")
	str(&cfg.Identity.ClusterID, "OCPAGG_CLUSTER_ID")
	str(&cfg.Identity.ClusterAlias, "OCPAGG_CLUSTER_ALIAS")
	str(&cfg.Identity.Year, "OCPAGG_YEAR")
	str(&cfg.Identity.Month, "OCPAGG_MONTH")
}

func str(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

func boolVal(dst *bool, env string) {
	if v := os.Getenv(env); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func intVal(dst *int, env string) {
	if v := os.Getenv(env); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

// ApplyManifest merges a parsed run manifest into cfg at the lowest
// precedence: it only fills fields still empty after file and environment
// overlays (env beats file beats manifest beats defaults).
func ApplyManifest(cfg *Config, m *RunManifest) {
	if m == nil {
		return
	}
	if cfg.Identity.OrgID == "" {
		cfg.Identity.OrgID = m.Metadata.OrgID
	}
	if cfg.Identity.SourceUUID == "" {
		cfg.Identity.SourceUUID = m.Spec.SourceUUID
	}
	if cfg.Identity.ClusterID == "" {
		cfg.Identity.ClusterID = m.Spec.ClusterID
	}
	if cfg.Identity.ClusterAlias == "" {
		cfg.Identity.ClusterAlias = m.Spec.ClusterAlias
	}
	if cfg.Identity.Year == "" && m.Spec.Year > 0 {
		cfg.Identity.Year = fmt.Sprintf("%04d", m.Spec.Year)
	}
	if cfg.Identity.Month == "" && m.Spec.Month > 0 {
		cfg.Identity.Month = fmt.Sprintf("%02d", m.Spec.Month)
	}
	if !cfg.Truncate {
		cfg.Truncate = m.Spec.Truncate
	}
}

func validate(cfg Config) error {
	missing := []string{}
	if cfg.ObjectStoreEndpoint == "" {
		missing = append(missing, "object store endpoint")
	}
	if cfg.ObjectStoreBucket == "" {
		missing = append(missing, "object store bucket")
	}
	if cfg.DatabaseHost == "" {
		missing = append(missing, "database host")
	}
	if cfg.Identity.SourceUUID == "" {
		missing = append(missing, "source uuid")
	}
	if cfg.Identity.Year == "" {
		missing = append(missing, "year")
	}
	if cfg.Identity.Month == "" {
		missing = append(missing, "month")
	}
	if len(missing) > 0 {
		return ocperrors.NewConfig(fmt.Sprintf("missing required configuration: %v", missing), nil)
	}
	return nil
}
