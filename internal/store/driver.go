package store

import (
	"fmt"
	"strings"
)

// Store backends
const (
	DriverJSON   = "json"
	DriverSQLite = "sqlite"
)

// OpenDriver opens the configured backend. Only an unknown driver is an error;
// unreadable data always yields an empty store.
func OpenDriver(driver, path string) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", DriverJSON:
		return Open(path), nil
	case DriverSQLite, "sqlite3":
		return OpenSQLite(path), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q (want %q or %q)", driver, DriverJSON, DriverSQLite)
	}
}
