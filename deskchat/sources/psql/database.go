package psql

import (
	"context"
	"fmt"

	"deskchat/deskchat/config"
	"deskchat/deskchat/sources/psql/models"
	"deskchat/deskchat/utils/logging"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Database struct {
	DB *gorm.DB
}

func NewDatabase(ctx context.Context, cfg config.Config) (*Database, error) {
	var dialector gorm.Dialector
	switch cfg.DBDriver {
	case config.DriverSQLite:
		dialector = sqlite.Open(cfg.SQLitePath + "?_busy_timeout=5000&_foreign_keys=on")
	default:
		connStr := fmt.Sprintf(
			"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
			cfg.DBHost,
			cfg.DBPort,
			cfg.DBUser,
			cfg.DBPassword,
			cfg.DBName,
		)
		dialector = postgres.Open(connStr)
	}
	logging.AppLogger.Info("connecting to database",
		zap.String("driver", cfg.DBDriver),
		zap.String("host", cfg.DBHost),
		zap.String("name", cfg.DBName),
	)
	return Open(ctx, dialector, cfg.DBDriver == config.DriverSQLite)
}

// Open connects through dialector and migrates the schema. A sqlite database
// is pinned to one connection since it serializes writers anyway.
func Open(ctx context.Context, dialector gorm.Dialector, singleConn bool) (*Database, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if singleConn {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	err = db.WithContext(ctx).
		AutoMigrate(
			&models.Agent{},
			&models.Chat{},
			&models.Message{},
		)
	if err != nil {
		return nil, fmt.Errorf("failed to auto-migrate: %w", err)
	}

	return &Database{DB: db}, nil
}

func (db *Database) Ping(ctx context.Context) error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (db *Database) Close() {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return
	}
	sqlDB.Close()
}
