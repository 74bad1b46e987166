package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteConversationStore persists conversations across restarts.
type SQLiteConversationStore struct {
	db *sql.DB
}

func NewSQLiteConversationStore(dataSourceName string) (*SQLiteConversationStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	// A single connection keeps ":memory:" databases coherent and serializes writers.
	db.SetMaxOpenConns(1)

	store := &SQLiteConversationStore{db: db}
	if err = store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteConversationStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteConversationStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS conversations (
        id TEXT PRIMARY KEY, -- UUID
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );

    CREATE TABLE IF NOT EXISTS messages (
        seq INTEGER PRIMARY KEY AUTOINCREMENT,
        conversation_id TEXT NOT NULL,
        role TEXT NOT NULL,
        content TEXT NOT NULL,
        timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
        FOREIGN KEY (conversation_id) REFERENCES conversations (id) ON DELETE CASCADE
    );

    CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages (conversation_id, seq);
    `
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteConversationStore) Create() (string, error) {
	id := uuid.NewString()
	if _, err := s.db.Exec("INSERT INTO conversations (id, created_at) VALUES (?, ?)", id, time.Now()); err != nil {
		return "", fmt.Errorf("failed to insert conversation: %w", err)
	}
	return id, nil
}

func (s *SQLiteConversationStore) Append(conversationID, role, content string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("INSERT OR IGNORE INTO conversations (id, created_at) VALUES (?, ?)", conversationID, time.Now()); err != nil {
		return fmt.Errorf("failed to ensure conversation: %w", err)
	}

	stmt, err := tx.Prepare("INSERT INTO messages (conversation_id, role, content, timestamp) VALUES (?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare message insert: %w", err)
	}
	defer stmt.Close()

	if _, err := stmt.Exec(conversationID, role, content, time.Now()); err != nil {
		return fmt.Errorf("failed to execute message insert: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteConversationStore) Get(conversationID string) ([]Message, error) {
	rows, err := s.db.Query("SELECT role, content, timestamp FROM messages WHERE conversation_id = ? ORDER BY seq ASC", conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.Role, &msg.Content, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func (s *SQLiteConversationStore) Delete(conversationID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM messages WHERE conversation_id = ?", conversationID); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM conversations WHERE id = ?", conversationID); err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	return tx.Commit()
}
