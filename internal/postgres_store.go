package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lychee-technology/ria/internal/wire"
	"go.uber.org/zap"
)

// entityRecordPool is the subset of pgxpool.Pool the store needs, so that
// pgxmock can stand in for it.
type entityRecordPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// PostgresStore keeps entity records as JSONB rows keyed by type and key.
type PostgresStore struct {
	pool  entityRecordPool
	table string
}

// NewPostgresStore creates a store over table.
func NewPostgresStore(pool entityRecordPool, table string) *PostgresStore {
	return &PostgresStore{pool: pool, table: sanitizeIdentifier(table)}
}

// EnsureSchema creates the record table when it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	type_name TEXT NOT NULL,
	entity_key TEXT NOT NULL,
	version BIGINT NOT NULL,
	data JSONB NOT NULL,
	PRIMARY KEY (type_name, entity_key)
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create table %s: %w", s.table, err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, typeName, key string) (*EntityRecord, error) {
	query := fmt.Sprintf("SELECT version, data FROM %s WHERE type_name = $1 AND entity_key = $2", s.table)
	var (
		version int64
		data    []byte
	)
	if err := s.pool.QueryRow(ctx, query, typeName, key).Scan(&version, &data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s%s", ErrRecordNotFound, typeName, key)
		}
		return nil, fmt.Errorf("failed to query record %s%s: %w", typeName, key, err)
	}
	values, err := decodeRecordData(data)
	if err != nil {
		return nil, fmt.Errorf("record %s%s: %w", typeName, key, err)
	}
	return &EntityRecord{TypeName: typeName, Key: key, Version: version, Values: values}, nil
}

func (s *PostgresStore) List(ctx context.Context, typeName string) ([]*EntityRecord, error) {
	query := fmt.Sprintf("SELECT entity_key, version, data FROM %s WHERE type_name = $1 ORDER BY entity_key", s.table)
	rows, err := s.pool.Query(ctx, query, typeName)
	if err != nil {
		return nil, fmt.Errorf("failed to query records of %s: %w", typeName, err)
	}
	defer rows.Close()

	var out []*EntityRecord
	for rows.Next() {
		r := &EntityRecord{TypeName: typeName}
		var data []byte
		if err := rows.Scan(&r.Key, &r.Version, &data); err != nil {
			return nil, fmt.Errorf("failed to scan record row: %w", err)
		}
		if r.Values, err = decodeRecordData(data); err != nil {
			return nil, fmt.Errorf("record %s%s: %w", typeName, r.Key, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating record rows: %w", err)
	}
	return out, nil
}

// Apply runs the mutations in one transaction. A version or existence check
// failing rolls back every earlier write.
func (s *PostgresStore) Apply(ctx context.Context, mutations []Mutation) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, m := range mutations {
		if err := s.applyOne(ctx, tx, m); err != nil {
			zap.S().Debugw("change set rolled back", "record", m.Record.String(), "kind", m.Kind.String(), "error", err)
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *PostgresStore) applyOne(ctx context.Context, tx pgx.Tx, m Mutation) error {
	r := m.Record
	var (
		tag pgconn.CommandTag
		err error
	)
	switch m.Kind {
	case MutationInsert:
		data, encErr := json.Marshal(r.Values)
		if encErr != nil {
			return fmt.Errorf("failed to encode %s: %w", r, encErr)
		}
		query := fmt.Sprintf("INSERT INTO %s (type_name, entity_key, version, data) VALUES ($1, $2, $3, $4) ON CONFLICT DO NOTHING", s.table)
		tag, err = tx.Exec(ctx, query, r.TypeName, r.Key, r.Version, string(data))
		if err == nil && tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: %s", ErrRecordExists, r)
		}
	case MutationUpdate:
		data, encErr := json.Marshal(r.Values)
		if encErr != nil {
			return fmt.Errorf("failed to encode %s: %w", r, encErr)
		}
		query := fmt.Sprintf("UPDATE %s SET version = $3, data = $4 WHERE type_name = $1 AND entity_key = $2 AND version = $5", s.table)
		tag, err = tx.Exec(ctx, query, r.TypeName, r.Key, r.Version, string(data), m.ExpectedVersion)
		if err == nil && tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: %s expected at %d", ErrVersionMismatch, r, m.ExpectedVersion)
		}
	case MutationDelete:
		query := fmt.Sprintf("DELETE FROM %s WHERE type_name = $1 AND entity_key = $2 AND version = $3", s.table)
		tag, err = tx.Exec(ctx, query, r.TypeName, r.Key, m.ExpectedVersion)
		if err == nil && tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: %s expected at %d", ErrVersionMismatch, r, m.ExpectedVersion)
		}
	default:
		return fmt.Errorf("unknown mutation kind %s", m.Kind)
	}
	if err != nil {
		return fmt.Errorf("failed to %s %s: %w", m.Kind, r, err)
	}
	return nil
}

func decodeRecordData(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode record data: %w", err)
	}
	values, _ := wire.Normalize(raw).(map[string]any)
	return values, nil
}
