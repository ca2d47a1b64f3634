package commands

import (
	"database/sql"

	"github.com/tabwatch/tabwatch/config"
	"github.com/tabwatch/tabwatch/db"
	"github.com/tabwatch/tabwatch/errors"
	"github.com/tabwatch/tabwatch/logger"
)

// openDatabase opens and migrates a database at the given path. An empty
// path falls back to the configured one.
func openDatabase(dbPath string) (*sql.DB, error) {
	if dbPath == "" {
		path, err := config.GetDatabasePath()
		if err != nil {
			return nil, errors.Wrap(err, "failed to get database path")
		}
		if path == "" {
			dbPath = "tabwatch.db"
		} else {
			dbPath = path
		}
	}

	database, err := db.Open(dbPath, logger.Logger)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database at %s", dbPath)
	}

	if err := db.Migrate(database, logger.Logger); err != nil {
		database.Close()
		return nil, errors.Wrapf(err, "failed to run migrations on %s", dbPath)
	}

	return database, nil
}
