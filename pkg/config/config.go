// Package config provides configuration management for the materialization service.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Materialization    MaterializationConfig    `mapstructure:"materialization"`
	Database           DatabaseConfig           `mapstructure:"database"`
	Storage            StorageConfig            `mapstructure:"storage"`
	APM                APMConfig                `mapstructure:"apm"`
	Redis              RedisConfig              `mapstructure:"redis"`
	Queue              QueueConfig              `mapstructure:"queue"`
	SegmentationVolume SegmentationVolumeConfig `mapstructure:"segmentation_volume"`
	ChunkedGraph       ChunkedGraphConfig       `mapstructure:"chunked_graph"`
	Log                LogConfig                `mapstructure:"log"`
}

// MaterializationConfig holds defaults for materialization runs, the
// per-workflow parameters §6 lists for run_spatial_lookup_workflow.
type MaterializationConfig struct {
	Version      string `mapstructure:"version"`
	DataDir      string `mapstructure:"data_dir"`
	ChunkSizeX   int64  `mapstructure:"chunk_size_x"`
	ChunkSizeY   int64  `mapstructure:"chunk_size_y"`
	ChunkSizeZ   int64  `mapstructure:"chunk_size_z"`
	ResolverPool int    `mapstructure:"resolver_pool"`

	// ChunkScaleFactor multiplies the 1024-voxel base edge used by the
	// row-estimate chunking strategy (§4.1).
	ChunkScaleFactor int `mapstructure:"chunk_scale_factor"`
	// SupervoxelBatchSize caps how many points are scattered against the
	// segmentation volume per round trip.
	SupervoxelBatchSize int `mapstructure:"supervoxel_batch_size"`
	// GetRootIDs resolves supervoxels to root IDs against the chunked graph
	// when true; false leaves root columns at zero.
	GetRootIDs bool `mapstructure:"get_root_ids"`
	// ResumeFromCheckpoint reuses an existing checkpoint's progress rather
	// than starting over when true.
	ResumeFromCheckpoint bool `mapstructure:"resume_from_checkpoint"`

	// CoordResolutionX/Y/Z is the default voxel resolution (nm/voxel) an
	// annotation table's points are stored in, applied when a run doesn't
	// override it. No default is specified upstream; this adopts the
	// common connectomics EM-imaging convention (4, 4, 40) nm/voxel.
	CoordResolutionX float64 `mapstructure:"coord_resolution_x"`
	CoordResolutionY float64 `mapstructure:"coord_resolution_y"`
	CoordResolutionZ float64 `mapstructure:"coord_resolution_z"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Type     string `mapstructure:"type"` // postgres or mysql
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	MaxConns int    `mapstructure:"max_conns"`
}

// StorageConfig holds object storage configuration for completion/repair reports.
type StorageConfig struct {
	Type      string `mapstructure:"type"` // cos or local
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	SecretID  string `mapstructure:"secret_id"`
	SecretKey string `mapstructure:"secret_key"`
	Domain    string `mapstructure:"domain"`
	Scheme    string `mapstructure:"scheme"`
	LocalPath string `mapstructure:"local_path"`
}

// APMConfig holds APM callback configuration.
type APMConfig struct {
	URL           string `mapstructure:"url"`
	RequestYunAPI bool   `mapstructure:"request_yunapi"`
	Enabled       bool   `mapstructure:"enabled"`
}

// RedisConfig holds the checkpoint store's Redis connection settings.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// QueueConfig holds the asynq task runtime settings.
type QueueConfig struct {
	RedisAddr     string `mapstructure:"redis_addr"`
	Concurrency   int    `mapstructure:"concurrency"`
	QueuePriority string `mapstructure:"queue_priority"` // e.g. "ingest:3,repair:2,default:1"
}

// SegmentationVolumeConfig holds the default segmentation volume source.
type SegmentationVolumeConfig struct {
	SourceURL string `mapstructure:"source_url"` // e.g. segmat://gs://bucket/path
}

// ChunkedGraphConfig holds the chunked graph service endpoint.
type ChunkedGraphConfig struct {
	ServiceURL string `mapstructure:"service_url"`
	AuthToken  string `mapstructure:"auth_token"`
	Timeout    int    `mapstructure:"timeout_seconds"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"` // json or text
}

// Load reads configuration from the specified file path.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/segmat")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			fmt.Println("Config file not found, using defaults")
		} else if os.IsNotExist(err) {
			fmt.Printf("Config file %s not found, using defaults\n", configPath)
		} else {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadFromReader loads configuration from an io.Reader (useful for testing).
func LoadFromReader(configType string, content []byte) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType(configType)
	if err := v.ReadConfig(bytes.NewReader(content)); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("materialization.version", "1.0.0")
	v.SetDefault("materialization.data_dir", "./data")
	v.SetDefault("materialization.chunk_size_x", 512)
	v.SetDefault("materialization.chunk_size_y", 512)
	v.SetDefault("materialization.chunk_size_z", 512)
	v.SetDefault("materialization.resolver_pool", 5)
	v.SetDefault("materialization.chunk_scale_factor", 1)
	v.SetDefault("materialization.supervoxel_batch_size", 50)
	v.SetDefault("materialization.get_root_ids", true)
	v.SetDefault("materialization.resume_from_checkpoint", true)
	v.SetDefault("materialization.coord_resolution_x", 4)
	v.SetDefault("materialization.coord_resolution_y", 4)
	v.SetDefault("materialization.coord_resolution_z", 40)

	v.SetDefault("database.type", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.max_conns", 10)

	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.local_path", "./storage")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("queue.redis_addr", "localhost:6379")
	v.SetDefault("queue.concurrency", 10)
	v.SetDefault("queue.queue_priority", "ingest:3,repair:2,default:1")

	v.SetDefault("chunked_graph.timeout_seconds", 30)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.output_path", "./logs")
	v.SetDefault("log.format", "text")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Database.Type != "postgres" && c.Database.Type != "mysql" {
		return fmt.Errorf("unsupported database type: %s", c.Database.Type)
	}

	if c.Queue.Concurrency < 1 {
		return fmt.Errorf("queue concurrency must be at least 1")
	}

	return nil
}

// EnsureDataDir creates the data directory if it doesn't exist.
func (c *Config) EnsureDataDir() error {
	if c.Materialization.DataDir == "" {
		return nil
	}
	return os.MkdirAll(c.Materialization.DataDir, 0755)
}

// GetRunDir returns the run-specific directory path for reports.
func (c *Config) GetRunDir(runID string) string {
	return filepath.Join(c.Materialization.DataDir, runID)
}
