// Package sqlite — персистентный бэкенд документов для одного узла.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/Dakshin211/soulsync-vibes-connect/internal/store/docstore"
)

type Backend struct {
	db   *sql.DB
	feed *docstore.Feed
}

var _ docstore.Backend = (*Backend)(nil)

// Open готовит базу по пути path и создаёт схему.
func Open(path string) (*Backend, error) {
	if path == "" {
		return nil, errors.New("database path is empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("ensure db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// один writer: Mutate сериализуется на уровне соединения
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(`PRAGMA busy_timeout = 5000; PRAGMA journal_mode = WAL;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure sqlite: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS store_docs (
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		body TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (collection, id)
	);`); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &Backend{db: db, feed: docstore.NewFeed()}, nil
}

func (b *Backend) Load(ctx context.Context, key docstore.DocKey) ([]byte, error) {
	var body string
	err := b.db.QueryRowContext(ctx,
		`SELECT body FROM store_docs WHERE collection = ? AND id = ?`,
		key.Collection, key.ID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", key, err)
	}
	return []byte(body), nil
}

func (b *Backend) LoadAll(ctx context.Context, collection string) (map[string][]byte, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT id, body FROM store_docs WHERE collection = ?`, collection)
	if err != nil {
		return nil, fmt.Errorf("load all %s: %w", collection, err)
	}
	defer rows.Close()

	out := map[string][]byte{}
	for rows.Next() {
		var id, body string
		if err := rows.Scan(&id, &body); err != nil {
			return nil, err
		}
		out[id] = []byte(body)
	}
	return out, rows.Err()
}

func (b *Backend) Mutate(ctx context.Context, key docstore.DocKey, fn docstore.MutateFunc) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var cur []byte
	var body string
	err = tx.QueryRowContext(ctx,
		`SELECT body FROM store_docs WHERE collection = ? AND id = ?`,
		key.Collection, key.ID).Scan(&body)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("select %s: %w", key, err)
	default:
		cur = []byte(body)
	}

	next, err := fn(cur)
	if err != nil {
		return err
	}
	if next == nil {
		_, err = tx.ExecContext(ctx,
			`DELETE FROM store_docs WHERE collection = ? AND id = ?`, key.Collection, key.ID)
	} else {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO store_docs (collection, id, body, updated_at) VALUES (?, ?, ?, CURRENT_TIMESTAMP)
			 ON CONFLICT (collection, id) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`,
			key.Collection, key.ID, string(next))
	}
	if err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	b.feed.Publish(key)
	return nil
}

func (b *Backend) Watch(ctx context.Context) (<-chan docstore.DocKey, error) {
	return b.feed.Watch(ctx)
}

func (b *Backend) Close() error { return b.db.Close() }
