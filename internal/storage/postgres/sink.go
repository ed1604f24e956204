package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/bulkimport/internal/core"
)

// Sink is a core.RecordSink writing records as JSONB documents into
// import_records, keyed by dataset and record key.
type Sink struct {
	pool *pgxpool.Pool
}

func NewSink(pool *pgxpool.Pool) *Sink {
	return &Sink{pool: pool}
}

func (s *Sink) Begin(ctx context.Context) (core.SinkTx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &sinkTx{tx: tx}, nil
}

type sinkTx struct {
	tx pgx.Tx
	n  int
}

// Write stores one record inside its own savepoint so a rejected row does
// not abort the surrounding transaction.
func (t *sinkTx) Write(ctx context.Context, dataset string, strategy core.Strategy, rec core.Record) error {
	data, err := sonic.Marshal(rec.Values)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	query := `INSERT INTO import_records (dataset, key, data) VALUES ($1, $2, $3)`
	if strategy == core.StrategyUpsert {
		query += ` ON CONFLICT (dataset, key) DO UPDATE SET data = EXCLUDED.data, imported_at = now()`
	}

	t.n++
	sp := fmt.Sprintf("sp_%d", t.n)
	if _, err := t.tx.Exec(ctx, "SAVEPOINT "+sp); err != nil {
		return fmt.Errorf("create savepoint: %w", err)
	}

	if _, err := t.tx.Exec(ctx, query, dataset, rec.Key, string(data)); err != nil {
		_, _ = t.tx.Exec(ctx, "ROLLBACK TO SAVEPOINT "+sp)
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%w: %s", core.ErrDuplicateKey, rec.Key)
		}
		return err
	}

	_, _ = t.tx.Exec(ctx, "RELEASE SAVEPOINT "+sp)
	return nil
}

func (t *sinkTx) HasKey(ctx context.Context, dataset, key string) (bool, error) {
	var ok bool
	err := t.tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM import_records WHERE dataset = $1 AND key = $2)`,
		dataset, key,
	).Scan(&ok)
	return ok, err
}

func (t *sinkTx) Clear(ctx context.Context, dataset string) (int64, error) {
	tag, err := t.tx.Exec(ctx, `DELETE FROM import_records WHERE dataset = $1`, dataset)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (t *sinkTx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

// Rollback ignores an already closed transaction.
func (t *sinkTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}

// Count returns the number of stored records of a dataset.
func (s *Sink) Count(ctx context.Context, dataset string) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM import_records WHERE dataset = $1`, dataset).Scan(&n)
	return n, err
}
