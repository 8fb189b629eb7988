package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	_ "modernc.org/sqlite"

	"github.com/xiy/echomem/pkg/types"
)

//go:embed schema.sql
var schemaSQL string

// SQLiteStore persists documents in a single SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	logger *log.Logger
}

// OpenSQLite opens and initializes the SQLite store.
func OpenSQLite(ctx context.Context, dbPath string, logger *log.Logger) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) init(ctx context.Context) error {
	for _, stmt := range splitSQLStatements(schemaSQL) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("run schema stmt: %w", err)
		}
	}
	return nil
}

func splitSQLStatements(s string) []string {
	parts := strings.Split(s, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p+";")
	}
	return out
}

func (s *SQLiteStore) upsert(ctx context.Context, userID, kind, id string, doc any, at time.Time) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal %s doc: %w", kind, err)
	}
	const q = `INSERT OR REPLACE INTO records (user_id, kind, id, doc, updated_at)
VALUES (?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q, userID, kind, id, string(data), at.UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("upsert %s: %w", kind, err)
	}
	return nil
}

// replaceKind swaps a whole collection in one transaction so a crash
// mid-write never leaves a half-replaced set.
func (s *SQLiteStore) replaceKind(ctx context.Context, userID, kind string, ids []string, docs []any, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE user_id = ? AND kind = ?`, userID, kind); err != nil {
		return fmt.Errorf("clear %s: %w", kind, err)
	}
	const q = `INSERT INTO records (user_id, kind, id, doc, updated_at) VALUES (?, ?, ?, ?, ?)`
	ts := at.UTC().Format(time.RFC3339Nano)
	for i, doc := range docs {
		data, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("marshal %s doc: %w", kind, err)
		}
		if _, err := tx.ExecContext(ctx, q, userID, kind, ids[i], string(data), ts); err != nil {
			return fmt.Errorf("insert %s: %w", kind, err)
		}
	}
	return tx.Commit()
}

// loadKind streams every document of one kind through decode. Malformed
// rows are logged and skipped so one bad record never blocks a boot.
func (s *SQLiteStore) loadKind(ctx context.Context, userID, kind string, decode func(data []byte) error) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, doc FROM records WHERE user_id = ? AND kind = ? ORDER BY updated_at ASC, id ASC`,
		userID, kind)
	if err != nil {
		return fmt.Errorf("load %s: %w", kind, err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, doc string
		if err := rows.Scan(&id, &doc); err != nil {
			return fmt.Errorf("scan %s row: %w", kind, err)
		}
		if err := decode([]byte(doc)); err != nil {
			s.logger.Warn("skipping malformed record", "kind", kind, "id", id, "error", err)
		}
	}
	return rows.Err()
}

func (s *SQLiteStore) SaveEvent(ctx context.Context, userID string, ev types.Event) error {
	return s.upsert(ctx, userID, kindEvent, ev.ID, ev, ev.End)
}

func (s *SQLiteStore) Events(ctx context.Context, userID string) ([]types.Event, error) {
	var out []types.Event
	err := s.loadKind(ctx, userID, kindEvent, func(data []byte) error {
		var ev types.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			return err
		}
		types.MigrateEvent(&ev)
		out = append(out, ev)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (s *SQLiteStore) PruneEvents(ctx context.Context, userID string, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM records WHERE user_id = ? AND kind = ? AND updated_at < ?`,
		userID, kindEvent, before.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) ReplaceFacts(ctx context.Context, userID string, facts []types.SemanticFact) error {
	ids := make([]string, len(facts))
	docs := make([]any, len(facts))
	for i, f := range facts {
		ids[i] = f.ID
		docs[i] = f
	}
	return s.replaceKind(ctx, userID, kindFact, ids, docs, time.Now())
}

func (s *SQLiteStore) Facts(ctx context.Context, userID string) ([]types.SemanticFact, error) {
	var out []types.SemanticFact
	err := s.loadKind(ctx, userID, kindFact, func(data []byte) error {
		var f types.SemanticFact
		if err := json.Unmarshal(data, &f); err != nil {
			return err
		}
		types.MigrateFact(&f)
		out = append(out, f)
		return nil
	})
	return out, err
}

func (s *SQLiteStore) ReplaceCommitments(ctx context.Context, userID string, commitments []types.Commitment) error {
	ids := make([]string, len(commitments))
	docs := make([]any, len(commitments))
	for i, c := range commitments {
		ids[i] = c.ID
		docs[i] = c
	}
	return s.replaceKind(ctx, userID, kindCommitment, ids, docs, time.Now())
}

func (s *SQLiteStore) Commitments(ctx context.Context, userID string) ([]types.Commitment, error) {
	var out []types.Commitment
	err := s.loadKind(ctx, userID, kindCommitment, func(data []byte) error {
		var c types.Commitment
		if err := json.Unmarshal(data, &c); err != nil {
			return err
		}
		types.MigrateCommitment(&c)
		out = append(out, c)
		return nil
	})
	return out, err
}

func (s *SQLiteStore) ReplaceABMItems(ctx context.Context, userID string, items []types.ABMItem) error {
	ids := make([]string, len(items))
	docs := make([]any, len(items))
	for i, it := range items {
		ids[i] = it.ID
		docs[i] = it
	}
	return s.replaceKind(ctx, userID, kindABMItem, ids, docs, time.Now())
}

func (s *SQLiteStore) ABMItems(ctx context.Context, userID string) ([]types.ABMItem, error) {
	var out []types.ABMItem
	err := s.loadKind(ctx, userID, kindABMItem, func(data []byte) error {
		var it types.ABMItem
		if err := json.Unmarshal(data, &it); err != nil {
			return err
		}
		types.MigrateABMItem(&it)
		out = append(out, it)
		return nil
	})
	return out, err
}

func (s *SQLiteStore) ReplaceEchoPatterns(ctx context.Context, userID string, patterns []types.EchoPattern) error {
	ids := make([]string, len(patterns))
	docs := make([]any, len(patterns))
	for i, p := range patterns {
		ids[i] = p.ID
		docs[i] = p
	}
	return s.replaceKind(ctx, userID, kindEchoPattern, ids, docs, time.Now())
}

func (s *SQLiteStore) EchoPatterns(ctx context.Context, userID string) ([]types.EchoPattern, error) {
	var out []types.EchoPattern
	err := s.loadKind(ctx, userID, kindEchoPattern, func(data []byte) error {
		var p types.EchoPattern
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		out = append(out, p)
		return nil
	})
	return out, err
}

func (s *SQLiteStore) SaveCanon(ctx context.Context, userID string, c types.Canon) error {
	return s.upsert(ctx, userID, kindCanon, singletonID, c, c.LastUpdated)
}

func (s *SQLiteStore) Canon(ctx context.Context, userID string) (types.Canon, bool, error) {
	var c types.Canon
	found := false
	err := s.loadKind(ctx, userID, kindCanon, func(data []byte) error {
		if err := json.Unmarshal(data, &c); err != nil {
			return err
		}
		found = true
		return nil
	})
	return c, found, err
}

func (s *SQLiteStore) SaveRelationship(ctx context.Context, userID string, rel types.RelationshipState) error {
	return s.upsert(ctx, userID, kindRelationship, singletonID, rel, rel.LastInteraction)
}

func (s *SQLiteStore) Relationship(ctx context.Context, userID string) (types.RelationshipState, bool, error) {
	var rel types.RelationshipState
	found := false
	err := s.loadKind(ctx, userID, kindRelationship, func(data []byte) error {
		if err := json.Unmarshal(data, &rel); err != nil {
			return err
		}
		types.MigrateRelationship(&rel)
		found = true
		return nil
	})
	return rel, found, err
}

func (s *SQLiteStore) SaveDigest(ctx context.Context, userID string, d types.DailyDigest) error {
	return s.upsert(ctx, userID, kindDigest, d.Date, d, time.Now())
}

func (s *SQLiteStore) Digests(ctx context.Context, userID string, limit int) ([]types.DailyDigest, error) {
	var out []types.DailyDigest
	err := s.loadKind(ctx, userID, kindDigest, func(data []byte) error {
		var d types.DailyDigest
		if err := json.Unmarshal(data, &d); err != nil {
			return err
		}
		out = append(out, d)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date > out[j].Date })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *SQLiteStore) Users(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT user_id FROM records ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Stats(ctx context.Context, userID string) (Stats, error) {
	var st Stats
	counts := map[string]*int64{
		kindEvent:       &st.Events,
		kindFact:        &st.Facts,
		kindCommitment:  &st.Commitments,
		kindABMItem:     &st.ABMItems,
		kindEchoPattern: &st.Patterns,
		kindDigest:      &st.Digests,
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, count(*) FROM records WHERE user_id = ? GROUP BY kind`, userID)
	if err != nil {
		return st, fmt.Errorf("stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var kind string
		var n int64
		if err := rows.Scan(&kind, &n); err != nil {
			return st, fmt.Errorf("scan stats row: %w", err)
		}
		if dst, ok := counts[kind]; ok {
			*dst = n
		}
	}
	return st, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
