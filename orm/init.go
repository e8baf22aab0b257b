package orm

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"xasdb/config"
)

// DB is the postgres-backed dataset store.
type DB struct {
	dbGorm *gorm.DB
}

// Open connects to postgres and migrates the schema.
func Open(cfg config.Database) (*DB, error) {
	dsn := fmt.Sprintf(
		"host='%s' port='%d' user='%s' password='%s' dbname='%s' sslmode='%s'",
		cfg.Host,
		cfg.Port,
		cfg.Username,
		cfg.Password,
		cfg.Database,
		cfg.SSLMode,
	)

	if cfg.Password != "" {
		dsnRedacted := strings.ReplaceAll(dsn, cfg.Password, "*****")
		log.Debug().Msgf("connecting to postgres: %s", dsnRedacted)
	}

	dbGorm, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, &DatabaseError{Inner: fmt.Errorf("connecting to database: %w", err)}
	}

	err = dbGorm.AutoMigrate(
		&User{},
		&Dataset{},
		&SpectralArray{},
		&ModeTag{},
		&Attachment{},
		&DownloadRecord{},
	)
	if err != nil {
		return nil, &DatabaseError{Inner: fmt.Errorf("migrating schema: %w", err)}
	}

	log.Debug().Msg("connected to the database")

	return &DB{dbGorm: dbGorm}, nil
}

// UseTransaction returns a store view bound to an open transaction.
func (db *DB) UseTransaction(tx *gorm.DB) *DB {
	return &DB{dbGorm: tx}
}
