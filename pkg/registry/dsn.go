package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config locates the registry database.
type Config struct {
	// Path is a local database file. ":memory:" opens a private in-memory
	// database, used by tests.
	Path string

	// URL is a libsql server URL (libsql://...). Requires a cgo build.
	URL string

	// AuthToken is sent with URL unless the URL already carries one.
	AuthToken string
}

const memoryPath = ":memory:"

// file returns the cleaned local database path, or "" for remote and
// in-memory registries.
func (c Config) file() string {
	p := strings.TrimSpace(c.Path)
	if strings.TrimSpace(c.URL) != "" || p == "" || p == memoryPath {
		return ""
	}
	return filepath.Clean(p)
}

// dsn returns the driver DSN, creating the parent directory of a local file.
func (c Config) dsn() (string, error) {
	if u := strings.TrimSpace(c.URL); u != "" {
		if c.AuthToken == "" || strings.Contains(u, "authToken=") {
			return u, nil
		}
		sep := "?"
		if strings.Contains(u, "?") {
			sep = "&"
		}
		return u + sep + "authToken=" + url.QueryEscape(c.AuthToken), nil
	}
	if strings.TrimSpace(c.Path) == memoryPath {
		return memoryPath, nil
	}
	path := c.file()
	if path == "" {
		return "", errors.New("registry path or url is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create registry directory: %w", err)
	}
	return "file:" + path, nil
}

// tuneLocal pins local databases to one connection. File databases also
// switch to WAL so a reopened store sees every committed update.
func tuneLocal(ctx context.Context, db *sql.DB, dsn string) error {
	if !strings.HasPrefix(dsn, "file:") && dsn != memoryPath {
		return nil
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if dsn == memoryPath {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	var mode string
	if err := db.QueryRowContext(ctx, "PRAGMA journal_mode=WAL").Scan(&mode); err != nil {
		return fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	return nil
}
