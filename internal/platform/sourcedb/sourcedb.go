// Package sourcedb opens the legacy ERP/MES connections read by the sync source adapter.
package sourcedb

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	_ "github.com/microsoft/go-mssqldb"
)

// DefaultDriver is the driver of the production ERP and MES databases.
const DefaultDriver = "sqlserver"

// Connect opens a pooled sqlx handle and verifies connectivity. Supported drivers
// are "sqlserver" and "sqlite3"; maxOpen <= 0 leaves the pool unbounded.
func Connect(ctx context.Context, driver, dsn string, maxOpen int) (*sqlx.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("source DSN is empty")
	}
	driver = strings.TrimSpace(driver)
	if driver == "" {
		driver = DefaultDriver
	}
	switch driver {
	case "sqlserver", "mssql", "sqlite3":
	default:
		return nil, fmt.Errorf("unsupported source driver %q", driver)
	}
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
		db.SetMaxIdleConns(maxOpen)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
