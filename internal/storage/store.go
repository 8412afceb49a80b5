package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sqlite "modernc.org/sqlite"
)

const (
	sqliteConstraintCode = 19
	defaultBusyTimeout   = 5000
)

// Store wraps the SQLite handle and exposes helper methods used by the server.
type Store struct {
	db *sql.DB
}

// User represents a row in the users table.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	Email        string
	CreatedAt    time.Time
}

// FileRecord is the catalogue entry for one fully uploaded file in a room.
// A record only ever exists for a transfer that reached its declared size.
type FileRecord struct {
	ID         string
	RoomID     string
	Filename   string
	StoredName string
	Uploader   string
	SizeBytes  int64
	SHA256     string
	UploadedAt time.Time
}

// ErrUserExists is returned when attempting to insert a duplicate username.
var ErrUserExists = errors.New("user already exists")

// NewStore initializes the SQLite database at the provided path. Call Close when done.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = "sharehub.db"
	}
	dsn := buildDSN(path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", defaultBusyTimeout)); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying DB connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func buildDSN(path string) string {
	switch {
	case strings.HasPrefix(path, "sqlite://"):
		path = path[len("sqlite://"):]
	case strings.HasPrefix(path, "file:"), strings.HasPrefix(path, ":memory:"):
		// already in a form sqlite understands
	default:
		path = "file:" + path
	}
	separator := "?"
	if strings.Contains(path, "?") {
		separator = "&"
	}
	return fmt.Sprintf("%s%s_pragma=busy_timeout=%d&_pragma=foreign_keys=ON", path, separator, defaultBusyTimeout)
}

// Migrate runs the schema creation statements.
func (s *Store) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			email TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS file_records (
			id TEXT PRIMARY KEY,
			room_id TEXT NOT NULL,
			filename TEXT NOT NULL,
			stored_name TEXT NOT NULL UNIQUE,
			uploader TEXT NOT NULL,
			size_bytes INTEGER NOT NULL,
			sha256 TEXT NOT NULL DEFAULT '',
			uploaded_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE INDEX IF NOT EXISTS idx_file_records_room ON file_records(room_id);`,
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	for _, stmt := range statements {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// CreateUser inserts a new user. ErrUserExists is returned on conflicts.
func (s *Store) CreateUser(ctx context.Context, username, passwordHash, email string) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO users(username, password_hash, email, created_at) VALUES(?, ?, ?, ?)`,
		username, passwordHash, email, time.Now().UTC())
	if err != nil {
		if isConstraintError(err) {
			return 0, ErrUserExists
		}
		return 0, err
	}
	return result.LastInsertId()
}

// GetUserByUsername fetches a user by username. Returns nil when absent.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, username, password_hash, email, created_at FROM users WHERE username = ?`, username)
	var user User
	if err := row.Scan(&user.ID, &user.Username, &user.PasswordHash, &user.Email, &user.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

// CreateFileRecord commits a completed upload to the catalogue.
func (s *Store) CreateFileRecord(ctx context.Context, rec FileRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO file_records(id, room_id, filename, stored_name, uploader, size_bytes, sha256, uploaded_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.RoomID, rec.Filename, rec.StoredName, rec.Uploader, rec.SizeBytes, rec.SHA256, rec.UploadedAt.UTC())
	return err
}

// ListRoomFiles returns the catalogue for one room, oldest first.
func (s *Store) ListRoomFiles(ctx context.Context, roomID string) ([]FileRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, room_id, filename, stored_name, uploader, size_bytes, sha256, uploaded_at
		FROM file_records
		WHERE room_id = ?
		ORDER BY uploaded_at ASC, id ASC
	`, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []FileRecord
	for rows.Next() {
		var rec FileRecord
		if err := rows.Scan(&rec.ID, &rec.RoomID, &rec.Filename, &rec.StoredName, &rec.Uploader, &rec.SizeBytes, &rec.SHA256, &rec.UploadedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// FindRoomFile resolves a filename within a room. When the same name was
// uploaded more than once the most recent upload wins.
func (s *Store) FindRoomFile(ctx context.Context, roomID, filename string) (*FileRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, room_id, filename, stored_name, uploader, size_bytes, sha256, uploaded_at
		FROM file_records
		WHERE room_id = ? AND filename = ?
		ORDER BY uploaded_at DESC, id DESC
		LIMIT 1
	`, roomID, filename)
	var rec FileRecord
	if err := row.Scan(&rec.ID, &rec.RoomID, &rec.Filename, &rec.StoredName, &rec.Uploader, &rec.SizeBytes, &rec.SHA256, &rec.UploadedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// RoomFileStats returns the file count and aggregate byte total for a room.
func (s *Store) RoomFileStats(ctx context.Context, roomID string) (count int64, totalBytes int64, err error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1), COALESCE(SUM(size_bytes), 0) FROM file_records WHERE room_id = ?`, roomID)
	if err := row.Scan(&count, &totalBytes); err != nil {
		return 0, 0, err
	}
	return count, totalBytes, nil
}

func isConstraintError(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code() == sqliteConstraintCode
	}
	return false
}
