package main

import (
	"context"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/taskmesh/taskmesh/api/handlers"
	"github.com/taskmesh/taskmesh/api/ws"
	"github.com/taskmesh/taskmesh/approval"
	"github.com/taskmesh/taskmesh/checkpoint"
	"github.com/taskmesh/taskmesh/config"
	"github.com/taskmesh/taskmesh/executor"
	"github.com/taskmesh/taskmesh/internal/server"
	"github.com/taskmesh/taskmesh/metrics"
	"github.com/taskmesh/taskmesh/orchestrator"
)

// Server wires the orchestrator, websocket hub, and HTTP listener.
type Server struct {
	cfg     *config.Config
	logger  *zap.Logger
	orch    *orchestrator.Orchestrator
	store   checkpoint.Store
	hub     *ws.Hub
	manager *server.Manager

	cleanupDone chan struct{}
}

// NewServer builds the full service from configuration.
func NewServer(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	store, err := buildStore(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build checkpoint store: %w", err)
	}

	collector := metrics.NewCollector("taskmesh", nil, logger)

	var policy approval.Policy = approval.NoApproval{}
	if cfg.Approval.AlwaysRequire || len(cfg.Approval.RequireApprovalOperations) > 0 {
		policy = &approval.DefaultPolicy{
			RequireApprovalOperations: cfg.Approval.RequireApprovalOperations,
			AlwaysRequire:             cfg.Approval.AlwaysRequire,
		}
	}

	orch := orchestrator.New(orchestrator.Options{
		Store:  store,
		Policy: policy,
		Executor: executor.Config{
			MaxRetries:      cfg.Executor.MaxRetries,
			RetryDelay:      cfg.Executor.RetryDelay,
			RetryableOnly:   cfg.Executor.RetryableOnly,
			ApprovalTimeout: cfg.Executor.ApprovalTimeout,
		},
		Logger:    logger,
		Collector: collector,
	})

	hub := ws.NewHub(orch.Bus(), cfg.Server.EventRateLimit, cfg.Server.EventBurst, logger)

	mux := handlers.Routes(orch, hub, Version, logger)
	mux.Handle("GET /metrics", promhttp.Handler())

	manager := server.NewManager(mux, server.Config{
		Addr:            fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     120 * time.Second,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, logger)

	return &Server{
		cfg:         cfg,
		logger:      logger,
		orch:        orch,
		store:       store,
		hub:         hub,
		manager:     manager,
		cleanupDone: make(chan struct{}),
	}, nil
}

// Start brings up the HTTP listener and the retention cleanup loop.
func (s *Server) Start() error {
	if err := s.manager.Start(); err != nil {
		return err
	}
	go s.cleanupLoop()
	return nil
}

// WaitForShutdown blocks until a signal or serve failure, then tears
// everything down in dependency order.
func (s *Server) WaitForShutdown() {
	s.manager.WaitForShutdown()
	s.Shutdown()
}

// Shutdown stops the cleanup loop, the hub, and the orchestrator.
func (s *Server) Shutdown() {
	close(s.cleanupDone)
	s.hub.Close()
	if err := s.orch.Close(); err != nil {
		s.logger.Error("orchestrator close failed", zap.Error(err))
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := s.manager.Shutdown(ctx); err != nil {
		s.logger.Error("server shutdown failed", zap.Error(err))
	}
}

// cleanupLoop periodically prunes expired closed threads.
func (s *Server) cleanupLoop() {
	interval := s.cfg.Store.CleanupInterval
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.cleanupDone:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			if err := s.store.Cleanup(ctx); err != nil {
				s.logger.Warn("store cleanup failed", zap.Error(err))
			}
			cancel()
		}
	}
}

// buildStore selects the checkpoint store backend from configuration.
func buildStore(cfg *config.Config, logger *zap.Logger) (checkpoint.Store, error) {
	switch cfg.Store.Backend {
	case "", "memory":
		return checkpoint.NewMemoryStore(cfg.Store.Retention), nil

	case "sqlite":
		db, err := gorm.Open(sqlite.Open(cfg.Database.Path), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite database: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
		sqlDB.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
		return checkpoint.NewGormStore(db, cfg.Store.Retention, logger)

	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
		})
		if err := client.Ping(context.Background()).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return checkpoint.NewRedisStore(client, "taskmesh:", cfg.Store.Retention, logger)

	default:
		return nil, fmt.Errorf("unsupported store backend: %s (supported: memory, sqlite, redis)", cfg.Store.Backend)
	}
}
