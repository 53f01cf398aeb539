package config

// DefaultAppConfig returns an AppConfig struct with sensible default values
func DefaultAppConfig() AppConfig {
	return AppConfig{
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Store: StoreConfig{
			DefaultFormat: "zarr",
			RedisPrefix:   "eopf:",
		},
		Mappings: MappingsConfig{
			Dir: "mappings",
		},
		Array: ArrayConfig{
			ChunkSize: 1 << 16,
		},
	}
}
