package config

import (
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"
)

// NewDB creates a new database connection using configuration settings
func NewDB(cfg *Config) (*gorm.DB, error) {
	dialector, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}

	gormConfig := &gorm.Config{}

	// Set logging level based on application environment
	if cfg.IsDevelopment() {
		gormConfig.Logger = gormlogger.Default.LogMode(gormlogger.Warn)
	} else {
		gormConfig.Logger = gormlogger.Default.LogMode(gormlogger.Error)
	}

	// Add retry mechanism
	var db *gorm.DB
	retries := cfg.Database.Retries
	if retries < 1 {
		retries = 1
	}
	delay := 5 * time.Second

	for i := 0; i < retries; i++ {
		db, err = gorm.Open(dialector, gormConfig)
		if err == nil {
			break
		}
		if i < retries-1 {
			time.Sleep(delay)
		}
	}

	if err != nil {
		return nil, fmt.Errorf("failed to connect to database after %d retries: %w", retries, err)
	}

	if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
		return nil, fmt.Errorf("failed to install tracing plugin: %w", err)
	}

	// Configure connection pool
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database connection: %w", err)
	}

	if cfg.Database.Driver == "sqlite" {
		// sqlite serializes writers
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(cfg.Database.MaxConns)
		sqlDB.SetConnMaxLifetime(time.Hour)
		sqlDB.SetConnMaxIdleTime(10 * time.Minute)
	}

	return db, nil
}

func dialectorFor(cfg *Config) (gorm.Dialector, error) {
	switch cfg.Database.Driver {
	case "postgres", "":
		dsn := fmt.Sprintf(
			"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
			cfg.Database.Host,
			cfg.Database.Port,
			cfg.Database.User,
			cfg.Database.Password,
			cfg.Database.Name,
			cfg.Database.SSLMode,
		)
		return postgres.Open(dsn), nil
	case "sqlite":
		return sqlite.Open(cfg.Database.Path), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}
}

// TestConnection checks if the database connection is working
func TestConnection(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database connection: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}
