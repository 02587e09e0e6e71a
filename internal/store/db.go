package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/glebarez/sqlite"
	"golang.org/x/sync/singleflight"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"procodus.dev/energy-replay/pkg/metrics"
)

// Supported database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config holds the database configuration.
type Config struct {
	Logger  *slog.Logger
	Metrics *metrics.StoreMetrics // Optional metrics

	Driver   string
	Host     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	// Path is the sqlite file or DSN, used when Driver is DriverSQLite.
	Path string
	Port int

	// ThresholdType selects the statistic EnsureThreshold persists.
	ThresholdType ThresholdType
}

// Store provides the persistence operations used by the replay pipeline.
type Store struct {
	logger        *slog.Logger
	db            *gorm.DB
	metrics       *metrics.StoreMetrics
	thresholdType ThresholdType
	thresholds    singleflight.Group
}

// Open connects to the configured database and runs migrations.
func Open(cfg *Config) (*Store, error) {
	if cfg == nil {
		return nil, errors.New("database config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	dialector, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}

	cfg.Logger.Info("connecting to database",
		"driver", cfg.Driver,
		"host", cfg.Host,
		"port", cfg.Port,
		"dbname", cfg.DBName,
	)

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent), // Use slog instead of GORM's logger
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	if cfg.Driver == DriverSQLite {
		// sqlite serializes writers; a single connection avoids SQLITE_BUSY.
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(100)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	cfg.Logger.Info("database connection established")

	if err := runMigrations(db, cfg.Logger); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	thresholdType := cfg.ThresholdType
	if thresholdType == "" {
		thresholdType = ThresholdMuPlus2Sigma
	}

	return &Store{
		logger:        cfg.Logger,
		db:            db,
		metrics:       cfg.Metrics,
		thresholdType: thresholdType,
	}, nil
}

func dialectorFor(cfg *Config) (gorm.Dialector, error) {
	switch cfg.Driver {
	case DriverPostgres, "":
		if cfg.Host == "" {
			return nil, errors.New("database host cannot be empty")
		}
		if cfg.Port <= 0 {
			return nil, errors.New("database port must be positive")
		}
		if cfg.User == "" {
			return nil, errors.New("database user cannot be empty")
		}
		if cfg.DBName == "" {
			return nil, errors.New("database name cannot be empty")
		}
		dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)
		return postgres.Open(dsn), nil
	case DriverSQLite:
		if cfg.Path == "" {
			return nil, errors.New("sqlite path cannot be empty")
		}
		return sqlite.Open(cfg.Path), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// runMigrations creates the replay tables if they are absent.
func runMigrations(db *gorm.DB, logger *slog.Logger) error {
	logger.Info("running database migrations")

	if err := db.AutoMigrate(
		&HistoricalSample{},
		&PeakThreshold{},
		&PredictionLog{},
	); err != nil {
		return fmt.Errorf("auto-migration failed: %w", err)
	}

	logger.Info("database migrations completed successfully")
	return nil
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}

	s.logger.Info("closing database connection")
	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	s.logger.Info("database connection closed")
	return nil
}

// observe records the outcome of a database operation.
func (s *Store) observe(operation, table string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}

	status := "success"
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		status = "error"
	}
	s.metrics.OperationsTotal.WithLabelValues(operation, table, status).Inc()
	s.metrics.OperationDuration.WithLabelValues(operation, table).Observe(time.Since(start).Seconds())
}
