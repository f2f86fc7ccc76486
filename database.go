package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waLog "go.mau.fi/whatsmeow/util/log"
)

// credentialDSN picks the sqlstore dialect for cfg: postgres when
// DATABASE_URL points at one, otherwise a sqlite file in the session dir.
func credentialDSN(cfg *BotConfig) (dialect, dsn string) {
	url := strings.TrimSpace(cfg.DatabaseURL)
	if strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://") {
		return "postgres", url
	}
	if url != "" {
		return "sqlite3", url
	}
	path := filepath.Join(cfg.SessionDir, "session.db")
	return "sqlite3", "file:" + path + "?_foreign_keys=on"
}

// openCredentialStore opens the device store and returns the first device,
// creating an empty one when nothing is paired yet.
func openCredentialStore(ctx context.Context, cfg *BotConfig) (*sqlstore.Container, *store.Device, error) {
	dialect, dsn := credentialDSN(cfg)
	if dialect == "sqlite3" {
		if err := os.MkdirAll(cfg.SessionDir, 0o700); err != nil {
			return nil, nil, fmt.Errorf("session dir: %w", err)
		}
	}

	rawDB, err := sql.Open(dialect, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", dialect, err)
	}
	if dialect == "postgres" {
		rawDB.SetMaxOpenConns(20)
		rawDB.SetMaxIdleConns(5)
		rawDB.SetConnMaxLifetime(30 * time.Minute)
	} else {
		rawDB.SetMaxOpenConns(1)
	}

	container := sqlstore.NewWithDB(rawDB, dialect, waLog.Stdout("Database", "ERROR", true))
	if err := container.Upgrade(ctx); err != nil {
		rawDB.Close()
		return nil, nil, fmt.Errorf("upgrade credential tables: %w", err)
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		rawDB.Close()
		return nil, nil, fmt.Errorf("load device: %w", err)
	}
	return container, device, nil
}
