package storage

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"

	"frais/internal/core"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// database/sql does not export this one.
const errDatabaseClosed = "sql: database is closed"

// classify maps driver failures onto the core error taxonomy. The original
// error stays in the chain.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, core.ErrConflict) || errors.Is(err, core.ErrConnectivity) || errors.Is(err, core.ErrNotFound) {
		return err
	}

	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_CONSTRAINT:
			return fmt.Errorf("%w: %w", core.ErrConflict, err)
		case sqlite3.SQLITE_CANTOPEN, sqlite3.SQLITE_IOERR, sqlite3.SQLITE_NOTADB:
			return fmt.Errorf("%w: %w", core.ErrConnectivity, err)
		}
		return err
	}

	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) || err.Error() == errDatabaseClosed {
		return fmt.Errorf("%w: %w", core.ErrConnectivity, err)
	}
	return err
}
