// Package store persists call records, drafts, documents and audio blobs.
// It is the shipped implementation of the hosted record backend; the session
// core consumes only the ports.CallRecordStore interface.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"callscribe/internal/domain"
	"callscribe/internal/ports"
)

var (
	ErrNotFound      = ports.ErrNotFound
	ErrDraftNotFound = ports.ErrDraftNotFound
)

// SQLiteStore implements ports.CallRecordStore using SQLite plus an
// on-disk blob bucket.
type SQLiteStore struct {
	db      *sql.DB
	blobDir string
}

// NewSQLite opens (and if needed creates) the backing database.
func NewSQLite(dbPath, blobDir string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	if err := os.MkdirAll(blobDir, 0o755); err != nil {
		return nil, fmt.Errorf("create blob directory: %w", err)
	}

	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db, blobDir: blobDir}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS calls (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		company TEXT NOT NULL DEFAULT '',
		meeting_link TEXT NOT NULL DEFAULT '',
		bot_id TEXT NOT NULL DEFAULT '',
		assistant_id TEXT NOT NULL DEFAULT '',
		thread_id TEXT NOT NULL DEFAULT '',
		audio_path TEXT NOT NULL DEFAULT '',
		duration_seconds INTEGER NOT NULL DEFAULT 0,
		action_items_json TEXT NOT NULL DEFAULT '[]',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_calls_owner ON calls(owner_id);

	CREATE TABLE IF NOT EXISTS drafts (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		company TEXT NOT NULL DEFAULT '',
		meeting_link TEXT NOT NULL DEFAULT '',
		bot_id TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		call_id TEXT NOT NULL,
		name TEXT NOT NULL,
		url TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_documents_call ON documents(call_id);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateOrReuse inserts the call if it does not exist and returns the stored
// row either way. The same call id may be submitted twice (retried
// navigation), so creation has to be idempotent.
func (s *SQLiteStore) CreateOrReuse(ctx context.Context, callID, ownerID string, fields ports.CallFields) (domain.CallRecord, error) {
	if callID == "" {
		callID = uuid.NewString()
	}
	now := time.Now().Unix()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO calls (id, owner_id, title, company, meeting_link, bot_id, assistant_id, thread_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		callID, ownerID,
		deref(fields.Title), deref(fields.Company), deref(fields.MeetingLink),
		deref(fields.BotID), deref(fields.AssistantID), deref(fields.ThreadID),
		now, now,
	)
	if err != nil {
		return domain.CallRecord{}, fmt.Errorf("create call: %w", err)
	}
	return s.Get(ctx, callID)
}

func (s *SQLiteStore) Get(ctx context.Context, callID string) (domain.CallRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, title, company, meeting_link, bot_id, assistant_id, thread_id,
		       audio_path, duration_seconds, action_items_json, created_at, updated_at
		FROM calls WHERE id = ?`, callID)

	var (
		record    domain.CallRecord
		itemsJSON string
		createdAt int64
		updatedAt int64
	)
	err := row.Scan(&record.ID, &record.OwnerID, &record.Title, &record.Company,
		&record.MeetingLink, &record.BotID, &record.AssistantID, &record.ThreadID,
		&record.AudioPath, &record.DurationSeconds, &itemsJSON, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.CallRecord{}, ErrNotFound
	}
	if err != nil {
		return domain.CallRecord{}, fmt.Errorf("get call: %w", err)
	}

	if err := json.Unmarshal([]byte(itemsJSON), &record.ActionItems); err != nil {
		record.ActionItems = nil
	}
	record.CreatedAt = time.Unix(createdAt, 0)
	record.UpdatedAt = time.Unix(updatedAt, 0)
	return record, nil
}

// Update applies the non-nil fields.
func (s *SQLiteStore) Update(ctx context.Context, callID string, fields ports.CallFields) error {
	sets := []string{"updated_at = ?"}
	args := []any{time.Now().Unix()}

	appendSet := func(column string, value *string) {
		if value != nil {
			sets = append(sets, column+" = ?")
			args = append(args, *value)
		}
	}
	appendSet("title", fields.Title)
	appendSet("company", fields.Company)
	appendSet("meeting_link", fields.MeetingLink)
	appendSet("bot_id", fields.BotID)
	appendSet("assistant_id", fields.AssistantID)
	appendSet("thread_id", fields.ThreadID)
	appendSet("audio_path", fields.AudioPath)
	if fields.DurationSeconds != nil {
		sets = append(sets, "duration_seconds = ?")
		args = append(args, *fields.DurationSeconds)
	}
	if fields.ActionItems != nil {
		encoded, err := json.Marshal(fields.ActionItems)
		if err != nil {
			return fmt.Errorf("encode action items: %w", err)
		}
		sets = append(sets, "action_items_json = ?")
		args = append(args, string(encoded))
	}

	args = append(args, callID)
	result, err := s.db.ExecContext(ctx,
		"UPDATE calls SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("update call: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) AppendDocuments(ctx context.Context, callID string, docs []domain.Document) error {
	for _, doc := range docs {
		id := doc.ID
		if id == "" {
			id = uuid.NewString()
		}
		if _, err := s.db.ExecContext(ctx,
			"INSERT OR REPLACE INTO documents (id, call_id, name, url) VALUES (?, ?, ?, ?)",
			id, callID, doc.Name, doc.URL); err != nil {
			return fmt.Errorf("append document: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Documents(ctx context.Context, callID string) ([]domain.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, call_id, name, url FROM documents WHERE call_id = ? ORDER BY id", callID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []domain.Document
	for rows.Next() {
		var doc domain.Document
		if err := rows.Scan(&doc.ID, &doc.CallID, &doc.Name, &doc.URL); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// CreateDraft stores a pre-scheduled call.
func (s *SQLiteStore) CreateDraft(ctx context.Context, draft domain.Draft) (domain.Draft, error) {
	if draft.ID == "" {
		draft.ID = uuid.NewString()
	}
	draft.CreatedAt = time.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO drafts (id, owner_id, title, company, meeting_link, bot_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		draft.ID, draft.OwnerID, draft.Title, draft.Company, draft.MeetingLink, draft.BotID,
		draft.CreatedAt.Unix())
	if err != nil {
		return domain.Draft{}, fmt.Errorf("create draft: %w", err)
	}
	return draft, nil
}

func (s *SQLiteStore) GetDraft(ctx context.Context, draftID string) (domain.Draft, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, title, company, meeting_link, bot_id, created_at
		FROM drafts WHERE id = ?`, draftID)

	var (
		draft     domain.Draft
		createdAt int64
	)
	err := row.Scan(&draft.ID, &draft.OwnerID, &draft.Title, &draft.Company,
		&draft.MeetingLink, &draft.BotID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Draft{}, ErrDraftNotFound
	}
	if err != nil {
		return domain.Draft{}, fmt.Errorf("get draft: %w", err)
	}
	draft.CreatedAt = time.Unix(createdAt, 0)
	return draft, nil
}

func (s *SQLiteStore) DeleteDraft(ctx context.Context, draftID string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM drafts WHERE id = ?", draftID)
	if err != nil {
		return fmt.Errorf("delete draft: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return ErrDraftNotFound
	}
	return nil
}

// UploadBlob writes bytes into the bucket and returns the storage path.
func (s *SQLiteStore) UploadBlob(ctx context.Context, bucket, path string, data []byte) (string, error) {
	clean := filepath.Clean(path)
	if strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("invalid blob path %q", path)
	}

	full := filepath.Join(s.blobDir, bucket, clean)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("create blob path: %w", err)
	}
	if err := os.WriteFile(full, data, 0o600); err != nil {
		return "", fmt.Errorf("write blob: %w", err)
	}
	return filepath.ToSlash(filepath.Join(bucket, clean)), nil
}

// SignedURL mints a time-limited access URL for a stored blob.
func (s *SQLiteStore) SignedURL(ctx context.Context, path string, ttl time.Duration) (string, error) {
	full := filepath.Join(s.blobDir, filepath.FromSlash(path))
	if _, err := os.Stat(full); err != nil {
		return "", fmt.Errorf("blob %q: %w", path, ErrNotFound)
	}

	query := url.Values{}
	query.Set("token", uuid.NewString())
	query.Set("expires", strconv.FormatInt(time.Now().Add(ttl).Unix(), 10))
	return "file://" + filepath.ToSlash(full) + "?" + query.Encode(), nil
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
