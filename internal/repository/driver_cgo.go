//go:build sqlite_cgo

package repository

// Build with CGO_ENABLED=1 go build -tags sqlite_cgo ./...
import (
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteDriverName драйвер database/sql для SQLite
const SQLiteDriverName = "sqlite3"
