package docstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"batepapo/cmd/internal/chat"
	"batepapo/cmd/internal/ids"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgUniqueViolation = "23505"

// PostgresStore is a chat.Store backed by PostgreSQL.
//
// Ownership model:
// - PostgresStore does NOT own the pgx pool. The caller must close the pool.
//
// Messages carry a bigserial seq used for ordering; the public id is a ULID.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "chat").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("docstore: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("docstore: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed chat.Store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "chat",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("docstore: nil pool")
	}
	return st, nil
}

// EnsureSchema creates the schema, tables and indexes if they are missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	participants := s.table("participants")
	messages := s.table("messages")

	stmts := []string{
		`CREATE SCHEMA IF NOT EXISTS ` + pgx.Identifier{s.schema}.Sanitize(),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
  name        TEXT PRIMARY KEY,
  last_status BIGINT NOT NULL
)`, participants),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS participants_last_status_idx ON %s (last_status)`, participants),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
  seq       BIGSERIAL PRIMARY KEY,
  id        TEXT NOT NULL UNIQUE,
  sender    TEXT NOT NULL,
  recipient TEXT NOT NULL,
  body      TEXT NOT NULL,
  kind      TEXT NOT NULL CHECK (kind IN ('message', 'private_message', 'status')),
  time      TEXT NOT NULL
)`, messages),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS messages_recipient_idx ON %s (recipient, seq DESC)`, messages),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS messages_sender_idx ON %s (sender, seq DESC)`, messages),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Ping acquires a connection and pings it.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// ListParticipants returns participants ordered by name.
func (s *PostgresStore) ListParticipants(ctx context.Context) ([]chat.Participant, error) {
	return s.queryParticipants(ctx,
		`SELECT name, last_status FROM `+s.table("participants")+` ORDER BY name`)
}

// GetParticipant returns the participant named name or chat.ErrNotFound.
func (s *PostgresStore) GetParticipant(ctx context.Context, name string) (chat.Participant, error) {
	var p chat.Participant
	err := s.pool.QueryRow(ctx,
		`SELECT name, last_status FROM `+s.table("participants")+` WHERE name = $1`,
		name,
	).Scan(&p.Name, &p.LastStatus)
	if errors.Is(err, pgx.ErrNoRows) {
		return chat.Participant{}, chat.ErrNotFound
	}
	return p, err
}

// CreateParticipant inserts p and notice in one transaction.
func (s *PostgresStore) CreateParticipant(ctx context.Context, p chat.Participant, notice chat.Message) (chat.Message, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return chat.Message{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+s.table("participants")+` (name, last_status) VALUES ($1, $2)`,
		p.Name, p.LastStatus,
	); err != nil {
		if isUniqueViolation(err) {
			return chat.Message{}, chat.ErrConflict
		}
		return chat.Message{}, fmt.Errorf("insert participant: %w", err)
	}

	stored, err := s.insertMessage(ctx, tx, notice)
	if err != nil {
		return chat.Message{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return chat.Message{}, err
	}
	return stored, nil
}

// TouchParticipant raises last_status with GREATEST so it never moves backwards.
func (s *PostgresStore) TouchParticipant(ctx context.Context, name string, lastStatus int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+s.table("participants")+`
		    SET last_status = GREATEST(last_status, $2)
		  WHERE name = $1`,
		name, lastStatus,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return chat.ErrNotFound
	}
	return nil
}

// ListStale returns participants with last_status < cutoff.
func (s *PostgresStore) ListStale(ctx context.Context, cutoff int64) ([]chat.Participant, error) {
	return s.queryParticipants(ctx,
		`SELECT name, last_status FROM `+s.table("participants")+` WHERE last_status < $1 ORDER BY name`,
		cutoff)
}

// DeleteStale removes participants with last_status < cutoff.
func (s *PostgresStore) DeleteStale(ctx context.Context, cutoff int64) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM `+s.table("participants")+` WHERE last_status < $1`,
		cutoff,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) queryParticipants(ctx context.Context, sql string, args ...any) ([]chat.Participant, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]chat.Participant, 0, 16)
	for rows.Next() {
		var p chat.Participant
		if err := rows.Scan(&p.Name, &p.LastStatus); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// AppendMessage inserts m with a fresh ULID.
func (s *PostgresStore) AppendMessage(ctx context.Context, m chat.Message) (chat.Message, error) {
	return s.insertMessage(ctx, s.pool, m)
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (s *PostgresStore) insertMessage(ctx context.Context, db execer, m chat.Message) (chat.Message, error) {
	id, err := ids.NewULID(time.Now().UTC())
	if err != nil {
		return chat.Message{}, err
	}
	m.ID = id

	if _, err := db.Exec(ctx,
		`INSERT INTO `+s.table("messages")+` (id, sender, recipient, body, kind, time)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		m.ID, m.From, m.To, m.Text, m.Type, m.Time,
	); err != nil {
		return chat.Message{}, fmt.Errorf("insert message: %w", err)
	}
	return m, nil
}

const messageColumns = `id, sender, recipient, body, kind, time`

func scanMessage(row pgx.Row) (chat.Message, error) {
	var m chat.Message
	err := row.Scan(&m.ID, &m.From, &m.To, &m.Text, &m.Type, &m.Time)
	return m, err
}

// GetMessage returns message id or chat.ErrNotFound. Ids are ULIDs, so
// anything else is not found without a round trip.
func (s *PostgresStore) GetMessage(ctx context.Context, id string) (chat.Message, error) {
	if !ids.IsULID(id) {
		return chat.Message{}, chat.ErrNotFound
	}
	m, err := scanMessage(s.pool.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM `+s.table("messages")+` WHERE id = $1`,
		id,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return chat.Message{}, chat.ErrNotFound
	}
	return m, err
}

// ListVisible reads newest first with LIMIT, then restores seq ASC order.
func (s *PostgresStore) ListVisible(ctx context.Context, viewer string, limit int) ([]chat.Message, error) {
	sql := `SELECT ` + messageColumns + `
	          FROM ` + s.table("messages") + `
	         WHERE recipient = $1 OR recipient = $2 OR sender = $1
	         ORDER BY seq DESC`
	args := []any{viewer, chat.Broadcast}
	if limit > 0 {
		sql += ` LIMIT $3`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]chat.Message, 0, 64)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.Reverse(out)
	return out, nil
}

// UpdateMessage replaces recipient, body and kind of message id.
func (s *PostgresStore) UpdateMessage(ctx context.Context, id string, in chat.MessageInput) (chat.Message, error) {
	if !ids.IsULID(id) {
		return chat.Message{}, chat.ErrNotFound
	}
	m, err := scanMessage(s.pool.QueryRow(ctx,
		`UPDATE `+s.table("messages")+`
		    SET recipient = $2, body = $3, kind = $4
		  WHERE id = $1
		RETURNING `+messageColumns,
		id, in.To, in.Text, in.Type,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return chat.Message{}, chat.ErrNotFound
	}
	return m, err
}

// DeleteMessage removes message id.
func (s *PostgresStore) DeleteMessage(ctx context.Context, id string) error {
	if !ids.IsULID(id) {
		return chat.ErrNotFound
	}
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM `+s.table("messages")+` WHERE id = $1`,
		id,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return chat.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) table(name string) string {
	return pgIdent(s.schema, name)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}

var _ chat.Store = (*PostgresStore)(nil)
