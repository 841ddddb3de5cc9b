package docstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/anfrage-erp/anfrage/internal/platform/db"
)

//go:embed schema.sql
var schemaSQL string

const notifyChannel = "docstore_changes"

// Postgres stores every collection in one JSONB table. Timestamps are written as
// fixed-width UTC strings and change notifications travel over LISTEN/NOTIFY.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
	subs   *registry

	listenOnce sync.Once
	ctx        context.Context
	cancel     context.CancelFunc
}

type changeNotice struct {
	Collection string `json:"collection"`
	ID         string `json:"id"`
}

// NewPostgres constructs a gateway on top of an existing pool.
func NewPostgres(pool *pgxpool.Pool, logger *slog.Logger) *Postgres {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Postgres{pool: pool, logger: logger, subs: newRegistry(), ctx: ctx, cancel: cancel}
}

// EnsureSchema creates the backing tables when missing.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("docstore/postgres: ensure schema: %w", err)
	}
	return nil
}

// Create inserts doc and notifies listeners in the same transaction.
func (p *Postgres) Create(ctx context.Context, collection string, doc Document) (string, error) {
	id := doc.ID()
	if id == "" {
		id = uuid.NewString()
	}
	body, err := encodeJSON(stripID(doc))
	if err != nil {
		return "", err
	}
	err = db.WithTx(ctx, p.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `INSERT INTO documents (collection, id, data) VALUES ($1, $2, $3::jsonb)`, collection, id, body); err != nil {
			return err
		}
		return notify(ctx, tx, collection, id)
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return "", ErrDuplicate
		}
		return "", fmt.Errorf("docstore/postgres: create: %w", err)
	}
	return id, nil
}

// Get loads one document.
func (p *Postgres) Get(ctx context.Context, collection, id string) (Document, error) {
	var raw []byte
	err := p.pool.QueryRow(ctx, `SELECT data FROM documents WHERE collection = $1 AND id = $2`, collection, id).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("docstore/postgres: get: %w", err)
	}
	return decodeRow(id, raw)
}

// Update merges partial into the top level of the stored document.
func (p *Postgres) Update(ctx context.Context, collection, id string, partial Document) error {
	return p.UpdateIf(ctx, collection, id, nil, partial)
}

// UpdateIf merges partial when the stored document contains expect.
func (p *Postgres) UpdateIf(ctx context.Context, collection, id string, expect, partial Document) error {
	body, err := encodeJSON(stripID(partial))
	if err != nil {
		return err
	}
	// Nil expectations match an absent or null field; jsonb containment cannot express
	// that, so they become IS NULL clauses.
	present := Document{}
	query := `UPDATE documents SET data = data || $3::jsonb, updated_at = now()
			WHERE collection = $1 AND id = $2 AND data @> $4::jsonb`
	var absent []any
	for k, v := range expect {
		if v == nil {
			absent = append(absent, k)
			query += fmt.Sprintf(" AND (data->>$%d) IS NULL", 4+len(absent))
			continue
		}
		present[k] = v
	}
	cond, err := encodeJSON(present)
	if err != nil {
		return err
	}
	args := append([]any{collection, id, body, cond}, absent...)
	err = db.WithTx(ctx, p.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("docstore/postgres: update: %w", err)
		}
		if tag.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM documents WHERE collection = $1 AND id = $2)`, collection, id).Scan(&exists); err != nil {
				return fmt.Errorf("docstore/postgres: update check: %w", err)
			}
			if !exists {
				return ErrNotFound
			}
			return ErrConflict
		}
		return notify(ctx, tx, collection, id)
	})
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "40001" {
		return ErrConflict
	}
	return err
}

// Delete removes one document.
func (p *Postgres) Delete(ctx context.Context, collection, id string) error {
	return db.WithTx(ctx, p.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM documents WHERE collection = $1 AND id = $2`, collection, id)
		if err != nil {
			return fmt.Errorf("docstore/postgres: delete: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return notify(ctx, tx, collection, id)
	})
}

// Query translates q into a JSONB containment query.
func (p *Postgres) Query(ctx context.Context, collection string, q Query) ([]Document, error) {
	if err := validateQuery(q); err != nil {
		return nil, err
	}
	var sb strings.Builder
	args := []any{collection}
	sb.WriteString(`SELECT id, data FROM documents WHERE collection = $1`)
	for _, f := range q.Where {
		cond, err := encodeJSON(Document{f.Field: f.Value})
		if err != nil {
			return nil, err
		}
		args = append(args, cond)
		fmt.Fprintf(&sb, " AND data @> $%d::jsonb", len(args))
	}
	if q.OrderBy != "" {
		args = append(args, q.OrderBy)
		dir := "ASC NULLS FIRST"
		if q.Desc {
			dir = "DESC NULLS LAST"
		}
		fmt.Fprintf(&sb, " ORDER BY data -> $%d::text %s, id", len(args), dir)
	} else {
		sb.WriteString(" ORDER BY id")
	}
	if q.Limit > 0 {
		args = append(args, q.Limit)
		fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	}

	rows, err := p.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("docstore/postgres: query: %w", err)
	}
	defer rows.Close()

	var out []Document
	for rows.Next() {
		var (
			id  string
			raw []byte
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("docstore/postgres: scan: %w", err)
		}
		doc, err := decodeRow(id, raw)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

// Subscribe delivers the current snapshot and then one snapshot per notification.
func (p *Postgres) Subscribe(ctx context.Context, target Target, onChange func(Snapshot), onError func(error)) (func(), error) {
	if err := validateTarget(target); err != nil {
		return nil, err
	}
	if p.ctx.Err() != nil {
		return nil, ErrClosed
	}
	snap, err := p.load(ctx, target)
	if err != nil {
		return nil, err
	}
	sub := newSubscription(target, onChange, onError)
	cancel := p.subs.add(sub)
	sub.push(snap)

	p.listenOnce.Do(func() { go p.listen() })

	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-sub.done:
		}
	}()
	return cancel, nil
}

// Next advances the named sequence to max(seq, floor) + 1 in one statement.
func (p *Postgres) Next(ctx context.Context, counter string, floor int64) (int64, error) {
	var seq int64
	err := p.pool.QueryRow(ctx, `
		INSERT INTO document_sequences (name, seq)
		VALUES ($1, $2::bigint + 1)
		ON CONFLICT (name)
		DO UPDATE SET seq = GREATEST(document_sequences.seq, $2::bigint) + 1
		RETURNING seq
	`, counter, floor).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("docstore/postgres: next %s: %w", counter, err)
	}
	return seq, nil
}

// Close stops the listener and all subscriptions. The pool is owned by the caller.
func (p *Postgres) Close(ctx context.Context) error {
	p.cancel()
	p.subs.closeAll()
	return nil
}

func (p *Postgres) load(ctx context.Context, target Target) (Snapshot, error) {
	snap := Snapshot{Collection: target.Collection, ID: target.ID, Docs: []Document{}}
	if target.ID != "" {
		doc, err := p.Get(ctx, target.Collection, target.ID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return snap, nil
			}
			return snap, err
		}
		snap.Docs = append(snap.Docs, doc)
		return snap, nil
	}
	docs, err := p.Query(ctx, target.Collection, Query{})
	if err != nil {
		return snap, err
	}
	snap.Docs = append(snap.Docs, docs...)
	return snap, nil
}

func (p *Postgres) listen() {
	for p.ctx.Err() == nil {
		if err := p.listenConn(); err != nil && p.ctx.Err() == nil {
			p.logger.Warn("docstore listener", slog.Any("error", err))
			for _, sub := range p.subs.all() {
				sub.fail(err)
			}
			select {
			case <-p.ctx.Done():
			case <-time.After(time.Second):
			}
		}
	}
}

func (p *Postgres) listenConn() error {
	conn, err := p.pool.Acquire(p.ctx)
	if err != nil {
		return err
	}
	defer conn.Release()
	if _, err := conn.Exec(p.ctx, "LISTEN "+notifyChannel); err != nil {
		return err
	}
	for {
		n, err := conn.Conn().WaitForNotification(p.ctx)
		if err != nil {
			return err
		}
		var notice changeNotice
		if err := json.Unmarshal([]byte(n.Payload), &notice); err != nil {
			p.logger.Warn("docstore notification payload", slog.Any("error", err))
			continue
		}
		p.dispatch(notice)
	}
}

func (p *Postgres) dispatch(notice changeNotice) {
	for _, sub := range p.subs.matching(notice.Collection, notice.ID) {
		snap, err := p.load(p.ctx, sub.target)
		if err != nil {
			sub.fail(err)
			continue
		}
		sub.push(snap)
	}
}

func notify(ctx context.Context, tx pgx.Tx, collection, id string) error {
	payload, err := json.Marshal(changeNotice{Collection: collection, ID: id})
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, string(payload))
	return err
}

func encodeJSON(doc Document) ([]byte, error) {
	body, err := json.Marshal(toJSONValue(doc))
	if err != nil {
		return nil, fmt.Errorf("docstore/postgres: encode: %w", err)
	}
	return body, nil
}

// toJSONValue rewrites temporal values into TimeLayout strings.
func toJSONValue(v any) any {
	switch t := v.(type) {
	case time.Time:
		if t.IsZero() {
			return nil
		}
		return FormatTime(t)
	case *time.Time:
		if t == nil || t.IsZero() {
			return nil
		}
		return FormatTime(*t)
	case Document:
		return toJSONValue(map[string]any(t))
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = toJSONValue(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = toJSONValue(e)
		}
		return out
	case []map[string]any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = toJSONValue(e)
		}
		return out
	}
	return v
}

func decodeRow(id string, raw []byte) (Document, error) {
	doc := Document{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("docstore/postgres: decode %s: %w", id, err)
	}
	doc[FieldID] = id
	return doc, nil
}

var _ Gateway = (*Postgres)(nil)
