//go:build !cgo

package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	sqlite "modernc.org/sqlite"
)

const driverName = "demuxmgr-sqlite"

func init() {
	sql.Register(driverName, &sqlite.Driver{})
}

func openDB(ctx context.Context, dsn string) (*sql.DB, error) {
	if strings.HasPrefix(dsn, "libsql://") || strings.HasPrefix(dsn, "https://") {
		return nil, errors.New("libsql URL requires cgo-enabled build")
	}
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping registry: %w", err)
	}
	return db, nil
}
