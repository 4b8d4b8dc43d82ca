package config

import "time"

// DefaultConfig returns the full default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server:   DefaultServerConfig(),
		Store:    DefaultStoreConfig(),
		Redis:    DefaultRedisConfig(),
		Database: DefaultDatabaseConfig(),
		Executor: DefaultExecutorConfig(),
		Approval: DefaultApprovalConfig(),
		Log:      DefaultLogConfig(),
	}
}

// DefaultServerConfig returns the default server settings.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		EventRateLimit:  100,
		EventBurst:      200,
	}
}

// DefaultStoreConfig returns the default store settings.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Backend:         "memory",
		Retention:       24 * time.Hour,
		CleanupInterval: time.Hour,
	}
}

// DefaultRedisConfig returns the default Redis settings.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultDatabaseConfig returns the default SQLite settings.
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Path:            "taskmesh.db",
		MaxOpenConns:    10,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Hour,
	}
}

// DefaultExecutorConfig returns the default wrapper settings.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		MaxRetries:      3,
		RetryDelay:      time.Second,
		ApprovalTimeout: 5 * time.Minute,
	}
}

// DefaultApprovalConfig returns the default approval policy settings.
func DefaultApprovalConfig() ApprovalConfig {
	return ApprovalConfig{}
}

// DefaultLogConfig returns the default logging settings.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:        "info",
		Format:       "json",
		OutputPaths:  []string{"stdout"},
		EnableCaller: true,
	}
}
