// Package config provides configuration management for the EO product
// toolkit. It handles loading and validating configuration from YAML
// files and environment variables.
package config

// AppConfig represents the complete application configuration
type AppConfig struct {
	Log      LogConfig      `koanf:"log"`
	Store    StoreConfig    `koanf:"store"`
	Mappings MappingsConfig `koanf:"mappings"`
	Array    ArrayConfig    `koanf:"array"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// StoreConfig holds storage backend configuration
type StoreConfig struct {
	// DefaultFormat names the backend used when a target URL is not
	// recognized by any registered backend.
	DefaultFormat string `koanf:"default_format"`
	RedisPrefix   string `koanf:"redis_prefix"`
}

// MappingsConfig holds product-type mapping configuration
type MappingsConfig struct {
	// Dir is the directory scanned for *.json mapping files.
	Dir string `koanf:"dir"`
}

// ArrayConfig holds array engine configuration
type ArrayConfig struct {
	ChunkSize int `koanf:"chunk_size"`
}
