package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Dakshin211/soulsync-vibes-connect/internal/store/docstore"
)

const changesChannel = "store_changes"

// DocBackend хранит документы в store_docs; запись под SELECT ... FOR UPDATE,
// уведомления других узлов через pg_notify / LISTEN.
type DocBackend struct {
	db *pgxpool.Pool
}

var _ docstore.Backend = (*DocBackend)(nil)

func NewDocBackend(db *pgxpool.Pool) *DocBackend {
	return &DocBackend{db: db}
}

func (r *DocBackend) Load(ctx context.Context, key docstore.DocKey) ([]byte, error) {
	var body []byte
	err := r.db.QueryRow(ctx,
		`SELECT body::text FROM store_docs WHERE collection=$1 AND id=$2 AND body IS NOT NULL`,
		key.Collection, key.ID).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", key, err)
	}
	return body, nil
}

func (r *DocBackend) LoadAll(ctx context.Context, collection string) (map[string][]byte, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, body::text FROM store_docs WHERE collection=$1 AND body IS NOT NULL`, collection)
	if err != nil {
		return nil, fmt.Errorf("load all %s: %w", collection, err)
	}
	defer rows.Close()

	out := map[string][]byte{}
	for rows.Next() {
		var id string
		var body []byte
		if err := rows.Scan(&id, &body); err != nil {
			return nil, err
		}
		out[id] = body
	}
	return out, rows.Err()
}

// Mutate — защищён от гонок блокировкой строки документа.
// Пустая строка вставляется заранее, чтобы конкурентные создатели тоже ждали.
func (r *DocBackend) Mutate(ctx context.Context, key docstore.DocKey, fn docstore.MutateFunc) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO store_docs (collection, id, body) VALUES ($1, $2, NULL) ON CONFLICT DO NOTHING`,
		key.Collection, key.ID); err != nil {
		return fmt.Errorf("reserve %s: %w", key, err)
	}

	var cur []byte
	if err := tx.QueryRow(ctx,
		`SELECT body::text FROM store_docs WHERE collection=$1 AND id=$2 FOR UPDATE`,
		key.Collection, key.ID).Scan(&cur); err != nil {
		return fmt.Errorf("lock %s: %w", key, err)
	}

	next, err := fn(cur)
	if err != nil {
		return err
	}

	if next == nil {
		_, err = tx.Exec(ctx, `DELETE FROM store_docs WHERE collection=$1 AND id=$2`, key.Collection, key.ID)
	} else {
		_, err = tx.Exec(ctx,
			`UPDATE store_docs SET body=$3::jsonb, updated_at=now() WHERE collection=$1 AND id=$2`,
			key.Collection, key.ID, string(next))
	}
	if err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, changesChannel, key.String()); err != nil {
		return fmt.Errorf("notify %s: %w", key, err)
	}
	return tx.Commit(ctx)
}

// Watch держит отдельное соединение под LISTEN; при ошибке канал закрывается.
func (r *DocBackend) Watch(ctx context.Context) (<-chan docstore.DocKey, error) {
	conn, err := r.db.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire listener: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+changesChannel); err != nil {
		conn.Release()
		return nil, fmt.Errorf("listen: %w", err)
	}

	// соединение с активным LISTEN не возвращаем в пул
	listener := conn.Hijack()
	out := make(chan docstore.DocKey, 256)
	go func() {
		defer close(out)
		defer listener.Close(context.Background())
		for {
			n, err := listener.WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() == nil {
					slog.Error("postgres.Watch:", slog.Any("err", err))
				}
				return
			}
			coll, id, ok := strings.Cut(n.Payload, "/")
			if !ok {
				continue
			}
			select {
			case out <- docstore.DocKey{Collection: coll, ID: id}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close не закрывает пул: им владеет вызывающий.
func (r *DocBackend) Close() error { return nil }
