package database

import (
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	_ "github.com/go-sql-driver/mysql"
)

// Open creates the shared MySQL connection pool. Every repository receives
// this handle at construction; nothing in the codebase reaches for a global.
func Open(dsn string, maxOpen, maxIdle int) (*sqlx.DB, error) {
	db, err := sqlx.Connect("mysql", dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(5 * time.Minute)

	log.Info().Int("maxOpenConns", maxOpen).Msg("Database connection pool established")
	return db, nil
}
