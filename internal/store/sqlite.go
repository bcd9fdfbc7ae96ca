package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// defaultDSNParams makes every write transaction take the write lock up front
// (BEGIN IMMEDIATE) so that append+trim runs serialized per database.
const defaultDSNParams = "_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on&_txlock=immediate"

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	if !strings.Contains(dataSourceName, "?") {
		dataSourceName += "?" + defaultDSNParams
	}
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err = store.initSchema(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			external_id INTEGER UNIQUE NOT NULL,
			username TEXT,
			first_name TEXT,
			last_name TEXT,
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS turns (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL REFERENCES users (id) ON DELETE CASCADE,
			role TEXT NOT NULL CHECK (role IN ('user', 'assistant', 'system')),
			content TEXT NOT NULL,
			token_count INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_turns_user_created ON turns (user_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS documents (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			title TEXT NOT NULL,
			source TEXT,
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_created ON documents (created_at)`,
		`CREATE TABLE IF NOT EXISTS document_chunks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			document_id INTEGER NOT NULL REFERENCES documents (id) ON DELETE CASCADE,
			chunk_index INTEGER NOT NULL,
			text TEXT NOT NULL,
			embedding_json TEXT NOT NULL -- JSON array of float32
		)`,
		`CREATE INDEX IF NOT EXISTS idx_document_chunks_document ON document_chunks (document_id, chunk_index)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// User methods

// GetOrCreateUser returns the user for profile.ExternalID, inserting it on
// first sight. Display fields are only written on creation.
func (s *SQLiteStore) GetOrCreateUser(ctx context.Context, profile UserProfile) (*User, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (external_id, username, first_name, last_name, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (external_id) DO NOTHING`,
		profile.ExternalID,
		nullString(profile.Username),
		nullString(profile.FirstName),
		nullString(profile.LastName),
		time.Now().UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}

	user, err := s.GetUserByExternalID(ctx, profile.ExternalID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("user %d missing after insert", profile.ExternalID)
	}
	return user, nil
}

func (s *SQLiteStore) GetUserByExternalID(ctx context.Context, externalID int64) (*User, error) {
	var (
		user                          User
		username, firstName, lastName sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, external_id, username, first_name, last_name, created_at FROM users WHERE external_id = ?",
		externalID,
	).Scan(&user.ID, &user.ExternalID, &username, &firstName, &lastName, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // User not found
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	user.Username = stringPtr(username)
	user.FirstName = stringPtr(firstName)
	user.LastName = stringPtr(lastName)
	return &user, nil
}

// Turn methods

// AppendTurn inserts turn and evicts the user's turns beyond the newest
// keepLast inside one transaction. It fills in turn.ID and turn.CreatedAt
// (when zero) and returns the number of evicted turns.
func (s *SQLiteStore) AppendTurn(ctx context.Context, turn *Turn, keepLast int) (int64, error) {
	if keepLast <= 0 {
		return 0, fmt.Errorf("keepLast must be positive, got %d", keepLast)
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin turn transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"INSERT INTO turns (user_id, role, content, token_count, created_at) VALUES (?, ?, ?, ?, ?)",
		turn.UserID, string(turn.Role), turn.Content, turn.TokenCount, turn.CreatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to execute turn insert: %w", err)
	}
	turn.ID, _ = res.LastInsertId()

	res, err = tx.ExecContext(ctx,
		`DELETE FROM turns
		 WHERE user_id = ? AND id NOT IN (
			SELECT id FROM turns WHERE user_id = ?
			ORDER BY created_at DESC, id DESC
			LIMIT ?
		 )`,
		turn.UserID, turn.UserID, keepLast,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to trim turns: %w", err)
	}
	evicted, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit turn: %w", err)
	}
	return evicted, nil
}

// ListTurns returns the user's turns in chronological order.
func (s *SQLiteStore) ListTurns(ctx context.Context, userID int64) ([]Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, role, content, token_count, created_at
		 FROM turns WHERE user_id = ?
		 ORDER BY created_at ASC, id ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var turn Turn
		var role string
		if err := rows.Scan(&turn.ID, &turn.UserID, &role, &turn.Content, &turn.TokenCount, &turn.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan turn row: %w", err)
		}
		turn.Role = Role(role)
		turns = append(turns, turn)
	}
	return turns, rows.Err()
}

func (s *SQLiteStore) DeleteTurns(ctx context.Context, userID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM turns WHERE user_id = ?", userID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete turns: %w", err)
	}
	deleted, _ := res.RowsAffected()
	return deleted, nil
}

// DailyUsage sums the user's turns created in [from, to).
func (s *SQLiteStore) DailyUsage(ctx context.Context, userID int64, from, to time.Time) (DailyUsage, error) {
	var usage DailyUsage
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(token_count), 0)
		 FROM turns
		 WHERE user_id = ? AND created_at >= ? AND created_at < ?`,
		userID, from.UTC(), to.UTC(),
	).Scan(&usage.Turns, &usage.Tokens)
	if err != nil {
		return DailyUsage{}, fmt.Errorf("failed to query daily usage: %w", err)
	}
	return usage, nil
}

// Document methods

// CreateDocument persists doc together with its chunks atomically. A
// document with no chunks is valid and still stored.
func (s *SQLiteStore) CreateDocument(ctx context.Context, doc *Document, chunks []Chunk) error {
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin document transaction: %w", err)
	}
	defer tx.Rollback()

	var source any
	if doc.Source != nil {
		source = *doc.Source
	}
	res, err := tx.ExecContext(ctx,
		"INSERT INTO documents (title, source, created_at) VALUES (?, ?, ?)",
		doc.Title, source, doc.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to execute document insert: %w", err)
	}
	doc.ID, _ = res.LastInsertId()

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO document_chunks (document_id, chunk_index, text, embedding_json) VALUES (?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	for i := range chunks {
		chunk := &chunks[i]
		embeddingBytes, err := json.Marshal(chunk.Embedding)
		if err != nil {
			return fmt.Errorf("failed to marshal embedding for chunk %d: %w", chunk.ChunkIndex, err)
		}
		chunk.DocumentID = doc.ID
		res, err := stmt.ExecContext(ctx, doc.ID, chunk.ChunkIndex, chunk.Text, string(embeddingBytes))
		if err != nil {
			return fmt.Errorf("failed to execute chunk insert: %w", err)
		}
		chunk.ID, _ = res.LastInsertId()
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit document: %w", err)
	}
	doc.ChunkCount = len(chunks)
	return nil
}

func (s *SQLiteStore) ListDocuments(ctx context.Context) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT d.id, d.title, d.source, d.created_at, COUNT(c.id)
		 FROM documents d
		 LEFT JOIN document_chunks c ON c.document_id = d.id
		 GROUP BY d.id
		 ORDER BY d.created_at DESC, d.id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var doc Document
		var source sql.NullString
		if err := rows.Scan(&doc.ID, &doc.Title, &source, &doc.CreatedAt, &doc.ChunkCount); err != nil {
			return nil, fmt.Errorf("failed to scan document row: %w", err)
		}
		doc.Source = stringPtr(source)
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// DeleteDocument removes a document and all of its chunks. It reports
// whether the document existed.
func (s *SQLiteStore) DeleteDocument(ctx context.Context, documentID int64) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin document delete: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM document_chunks WHERE document_id = ?", documentID); err != nil {
		return false, fmt.Errorf("failed to delete document chunks: %w", err)
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", documentID)
	if err != nil {
		return false, fmt.Errorf("failed to delete document: %w", err)
	}
	affected, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit document delete: %w", err)
	}
	return affected > 0, nil
}

// Chunk methods (for RAG)

// ListChunks returns every stored chunk ordered by id.
func (s *SQLiteStore) ListChunks(ctx context.Context) ([]Chunk, error) {
	return s.queryChunks(ctx,
		"SELECT id, document_id, chunk_index, text, embedding_json FROM document_chunks ORDER BY id ASC")
}

func (s *SQLiteStore) ListChunksByDocument(ctx context.Context, documentID int64) ([]Chunk, error) {
	return s.queryChunks(ctx,
		`SELECT id, document_id, chunk_index, text, embedding_json
		 FROM document_chunks WHERE document_id = ? ORDER BY chunk_index ASC`,
		documentID)
}

func (s *SQLiteStore) queryChunks(ctx context.Context, query string, args ...any) ([]Chunk, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query document_chunks: %w", err)
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var chunk Chunk
		var embeddingJSON string
		if err := rows.Scan(&chunk.ID, &chunk.DocumentID, &chunk.ChunkIndex, &chunk.Text, &embeddingJSON); err != nil {
			return nil, fmt.Errorf("failed to scan chunk row: %w", err)
		}
		if err := json.Unmarshal([]byte(embeddingJSON), &chunk.Embedding); err != nil {
			slog.Warn("failed to unmarshal chunk embedding, skipping chunk", "chunk_id", chunk.ID, "err", err)
			continue
		}
		chunks = append(chunks, chunk)
	}
	return chunks, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}
