// internal/db/db.go
package db

import (
	"database/sql"

	_ "github.com/lib/pq"
	log "github.com/sirupsen/logrus"
)

var DB *sql.DB

// Init opens the Postgres pool and verifies connectivity. Fatal on failure;
// nothing in this service works without the store.
func Init(dsn string) {
	var err error
	DB, err = sql.Open("postgres", dsn)
	if err != nil {
		log.WithError(err).Fatal("failed to open DB")
	}

	if err = DB.Ping(); err != nil {
		log.WithError(err).Fatal("failed to ping DB")
	}

	log.Info("connected to database")
}
