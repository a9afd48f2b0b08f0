package relay

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

const (
	postgresEntriesTableName = "relay_entries"
	postgresOperationTimeout = 5 * time.Second
	postgresFeedPollInterval = 250 * time.Millisecond
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// PostgresMailbox stores mailbox entries in one postgres table. Every write
// takes a value from a shared sequence so subscribers can follow a subtree by
// polling for rows newer than the last sequence they saw. Writers hold a
// transaction-scoped advisory lock around nextval and commit, so sequence
// order is commit order and no row becomes visible below a cursor that has
// already passed it. Deletes are soft so the feed can report them.
type PostgresMailbox struct {
	dsn          string
	tableName    string
	pollInterval time.Duration
	openDB       sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

var _ Mailbox = (*PostgresMailbox)(nil)

func NewPostgresMailbox(dsn string) (*PostgresMailbox, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("relay: empty postgres dsn")
	}
	return &PostgresMailbox{
		dsn:          dsn,
		tableName:    postgresEntriesTableName,
		pollInterval: postgresFeedPollInterval,
		openDB:       sql.Open,
	}, nil
}

func (p *PostgresMailbox) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}

func (p *PostgresMailbox) ensureReady() error {
	p.initOnce.Do(func() {
		db, err := p.openDB("postgres", p.dsn)
		if err != nil {
			p.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
		defer cancel()

		stmts := []string{
			fmt.Sprintf("CREATE SEQUENCE IF NOT EXISTS %s", p.sequence()),
			fmt.Sprintf(`
				CREATE TABLE IF NOT EXISTS %s (
					path TEXT PRIMARY KEY,
					parent TEXT NOT NULL,
					key TEXT NOT NULL,
					value TEXT NOT NULL,
					created_seq BIGINT NOT NULL,
					seq BIGINT NOT NULL,
					deleted BOOLEAN NOT NULL DEFAULT FALSE
				)`, p.table()),
			fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (parent, seq)",
				postgresQuoteIdentifier(p.tableName+"_parent_seq_idx"), p.table()),
		}
		for _, stmt := range stmts {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				_ = db.Close()
				p.initErr = fmt.Errorf("failed to prepare relay schema: %w", err)
				return
			}
		}
		p.db = db
	})
	return p.initErr
}

func (p *PostgresMailbox) table() string {
	return postgresQuoteIdentifier(p.tableName)
}

func (p *PostgresMailbox) sequence() string {
	return postgresQuoteIdentifier(p.tableName + "_seq")
}

func (p *PostgresMailbox) Put(ctx context.Context, path string, value json.RawMessage) error {
	path, err := CleanPath(path)
	if err != nil {
		return err
	}
	if !json.Valid(value) {
		return ErrMalformed
	}
	if err := p.ensureReady(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	parent, key := splitChild(path)
	query := fmt.Sprintf(`
		WITH s AS (SELECT nextval('%[2]s') AS n)
		INSERT INTO %[1]s AS e (path, parent, key, value, created_seq, seq, deleted)
		SELECT $1, $2, $3, $4, s.n, s.n, FALSE FROM s
		ON CONFLICT (path) DO UPDATE SET
			value = EXCLUDED.value,
			seq = EXCLUDED.seq,
			created_seq = CASE WHEN e.deleted THEN EXCLUDED.created_seq ELSE e.created_seq END,
			deleted = FALSE`, p.table(), p.sequence())
	return p.write(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, query, path, parent, key, string(value)); err != nil {
			return fmt.Errorf("failed to put relay entry: %w", err)
		}
		return nil
	})
}

func (p *PostgresMailbox) Get(ctx context.Context, path string) (json.RawMessage, error) {
	path, err := CleanPath(path)
	if err != nil {
		return nil, err
	}
	if err := p.ensureReady(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	var value string
	query := fmt.Sprintf("SELECT value FROM %s WHERE path = $1 AND NOT deleted", p.table())
	err = p.db.QueryRowContext(ctx, query, path).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get relay entry: %w", err)
	}
	return json.RawMessage(value), nil
}

func (p *PostgresMailbox) Update(ctx context.Context, path string, fields map[string]any) error {
	path, err := CleanPath(path)
	if err != nil {
		return err
	}
	if err := p.ensureReady(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	return p.write(ctx, func(tx *sql.Tx) error {
		var current string
		query := fmt.Sprintf("SELECT value FROM %s WHERE path = $1 AND NOT deleted FOR UPDATE", p.table())
		err := tx.QueryRowContext(ctx, query, path).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to read relay entry: %w", err)
		}
		merged, err := mergeFields(json.RawMessage(current), fields)
		if err != nil {
			return ErrMalformed
		}

		query = fmt.Sprintf("UPDATE %s SET value = $2, seq = nextval('%s') WHERE path = $1", p.table(), p.sequence())
		if _, err := tx.ExecContext(ctx, query, path, string(merged)); err != nil {
			return fmt.Errorf("failed to update relay entry: %w", err)
		}
		return nil
	})
}

func (p *PostgresMailbox) Delete(ctx context.Context, path string) error {
	path, err := CleanPath(path)
	if err != nil {
		return err
	}
	if err := p.ensureReady(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf("UPDATE %s SET deleted = TRUE, seq = nextval('%s') WHERE path = $1 AND NOT deleted",
		p.table(), p.sequence())
	return p.write(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, query, path); err != nil {
			return fmt.Errorf("failed to delete relay entry: %w", err)
		}
		return nil
	})
}

// write runs fn in a transaction that holds the table's writer lock until
// commit.
func (p *PostgresMailbox) write(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", p.tableName); err != nil {
		return fmt.Errorf("failed to lock relay writers: %w", err)
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type postgresFeedRow struct {
	key     string
	value   string
	seq     int64
	deleted bool
}

func (p *PostgresMailbox) Subscribe(ctx context.Context, subtree string) (*Subscription, error) {
	subtree, err := CleanPath(subtree)
	if err != nil {
		return nil, err
	}
	if err := p.ensureReady(); err != nil {
		return nil, err
	}

	// The cursor is taken before the snapshot, so a write that lands in
	// between is reported twice rather than lost.
	var cursor int64
	qctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()
	err = p.db.QueryRowContext(qctx,
		fmt.Sprintf("SELECT COALESCE(MAX(seq), 0) FROM %s WHERE parent = $1", p.table()), subtree,
	).Scan(&cursor)
	if err != nil {
		return nil, fmt.Errorf("failed to read relay cursor: %w", err)
	}
	snapshot, err := p.queryFeed(qctx,
		fmt.Sprintf("SELECT key, value, seq, deleted FROM %s WHERE parent = $1 AND NOT deleted ORDER BY created_seq", p.table()),
		subtree)
	if err != nil {
		return nil, err
	}

	sub, subCtx := newSubscription(ctx)
	go func() {
		sub.finish(subCtx, p.follow(subCtx, sub, subtree, cursor, snapshot))
	}()
	return sub, nil
}

func (p *PostgresMailbox) follow(ctx context.Context, sub *Subscription, subtree string, cursor int64, snapshot []postgresFeedRow) error {
	known := make(map[string]int64, len(snapshot))
	for _, row := range snapshot {
		known[row.key] = row.seq
		ev := Event{Kind: EventAdded, Path: subtree + "/" + row.key, Key: row.key, Value: json.RawMessage(row.value)}
		if !sub.send(ctx, ev) {
			return ctx.Err()
		}
	}

	query := fmt.Sprintf("SELECT key, value, seq, deleted FROM %s WHERE parent = $1 AND seq > $2 ORDER BY seq", p.table())
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		qctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
		rows, err := p.queryFeed(qctx, query, subtree, cursor)
		cancel()
		if err != nil {
			return err
		}
		for _, row := range rows {
			cursor = row.seq
			ev := Event{Path: subtree + "/" + row.key, Key: row.key}
			seen, isKnown := known[row.key]
			switch {
			case isKnown && row.seq <= seen:
				continue
			case row.deleted:
				if !isKnown {
					continue
				}
				delete(known, row.key)
				ev.Kind = EventRemoved
			case isKnown:
				known[row.key] = row.seq
				ev.Kind = EventChanged
				ev.Value = json.RawMessage(row.value)
			default:
				known[row.key] = row.seq
				ev.Kind = EventAdded
				ev.Value = json.RawMessage(row.value)
			}
			if !sub.send(ctx, ev) {
				return ctx.Err()
			}
		}
	}
}

func (p *PostgresMailbox) queryFeed(ctx context.Context, query string, args ...any) ([]postgresFeedRow, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query relay feed: %w", err)
	}
	defer rows.Close()

	var out []postgresFeedRow
	for rows.Next() {
		var row postgresFeedRow
		if err := rows.Scan(&row.key, &row.value, &row.seq, &row.deleted); err != nil {
			return nil, fmt.Errorf("failed to scan relay feed: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate relay feed: %w", err)
	}
	return out, nil
}

func postgresQuoteIdentifier(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return "\"\""
	}
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}
