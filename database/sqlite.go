package database

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// OpenSQLite opens the shared bridge store.
//
// _txlock=immediate makes every BeginTx issue BEGIN IMMEDIATE, so the
// write lock is taken up front. The check-then-insert operations
// (coordination lock acquire, reserve check-and-reserve, fee aggregate
// recompute) rely on this: two transactions can never both read the same
// aggregate and then both write.
func OpenSQLite(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_txlock=immediate&_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
