package database

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	// registers the cgo-free "sqlite" driver used by type sqlite-pure
	_ "modernc.org/sqlite"
)

var DB *gorm.DB

// DatabaseConfig selects the run history store.
type DatabaseConfig struct {
	Type     string `yaml:"type"`     // sqlite, sqlite-pure
	Database string `yaml:"database"` // file path or ":memory:"
}

// DefaultDatabaseConfig returns the default database configuration.
func DefaultDatabaseConfig() *DatabaseConfig {
	return &DatabaseConfig{
		Type:     "sqlite",
		Database: "gpuhub.db",
	}
}

// Open connects to the configured database without touching the global DB.
func Open(config *DatabaseConfig) (*gorm.DB, error) {
	if config.Database == "" {
		config.Database = "gpuhub.db"
	}
	if config.Database != ":memory:" {
		dbDir := filepath.Dir(config.Database)
		if dbDir != "." && dbDir != "" {
			if err := os.MkdirAll(dbDir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %v", err)
			}
		}
	}

	var dialector gorm.Dialector
	switch config.Type {
	case "sqlite":
		dialector = sqlite.Open(config.Database)
	case "sqlite-pure":
		dialector = sqlite.New(sqlite.Config{DriverName: "sqlite", DSN: config.Database})
	default:
		return nil, fmt.Errorf("unsupported database type: %s", config.Type)
	}

	logLevel := logger.Error
	if os.Getenv("DB_DEBUG") == "true" {
		logLevel = logger.Info
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %v", err)
	}

	// sqlite allows one writer; a single connection also keeps ":memory:" shared
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&RunLog{}, &AchievementEvent{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %v", err)
	}
	return db, nil
}

// InitDatabase opens the database and installs it as the global DB.
func InitDatabase(config *DatabaseConfig) error {
	db, err := Open(config)
	if err != nil {
		return err
	}
	DB = db
	log.Printf("Database connected successfully (type: %s)", config.Type)
	return nil
}

// GetDB returns the global database, nil when none is configured.
func GetDB() *gorm.DB {
	return DB
}

// CloseDB closes the global database.
func CloseDB() error {
	if DB == nil {
		return nil
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}
	DB = nil
	return sqlDB.Close()
}
