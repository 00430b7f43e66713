// Package database implements the sqlite-backed user accounts store.
package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"

	"cloudstore/internal/database/migrations"
)

// ErrUsernameTaken is returned by CreateUser when the username exists.
var ErrUsernameTaken = errors.New("username already taken")

// User is one account row. PassHash is a bcrypt hash, never a password.
type User struct {
	ID        int64
	Username  string
	PassHash  string
	IsAdmin   bool
	CreatedAt time.Time
}

// UserStore provides access to the user accounts database.
type UserStore struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the sqlite database at path.
// path can be ":memory:" for an in-memory database.
func Open(path string) (*UserStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite defaults foreign keys to OFF for backward compatibility.
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return &UserStore{db: db, path: path}, nil
}

// Migrate brings the schema to the latest version.
func (s *UserStore) Migrate() error {
	return migrations.Up(s.db)
}

// CheckMigrations verifies the schema is current without changing it.
func (s *UserStore) CheckMigrations() error {
	return migrations.CheckStatus(s.db)
}

// Close closes the underlying database connection.
func (s *UserStore) Close() error {
	return s.db.Close()
}

// CreateUser inserts a new account and returns it.
// Returns ErrUsernameTaken if the username is already in use.
func (s *UserStore) CreateUser(username, passHash string, isAdmin bool) (*User, error) {
	now := time.Now().UTC()
	res, err := s.db.Exec(
		"INSERT INTO users (username, pass_hash, is_admin, created_at) VALUES (?, ?, ?, ?)",
		username, passHash, boolToInt(isAdmin), now.Unix(),
	)
	if err != nil {
		var serr sqlite3.Error
		if errors.As(err, &serr) && serr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return nil, ErrUsernameTaken
		}
		return nil, fmt.Errorf("inserting user: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading inserted user id: %w", err)
	}

	return &User{
		ID:        id,
		Username:  username,
		PassHash:  passHash,
		IsAdmin:   isAdmin,
		CreatedAt: time.Unix(now.Unix(), 0).UTC(),
	}, nil
}

// FindByUsername returns the user with the given username, or nil if absent.
func (s *UserStore) FindByUsername(username string) (*User, error) {
	row := s.db.QueryRow(
		"SELECT id, username, pass_hash, is_admin, created_at FROM users WHERE username = ?",
		username,
	)
	return scanUser(row)
}

// FindByID returns the user with the given id, or nil if absent.
func (s *UserStore) FindByID(id int64) (*User, error) {
	row := s.db.QueryRow(
		"SELECT id, username, pass_hash, is_admin, created_at FROM users WHERE id = ?",
		id,
	)
	return scanUser(row)
}

// ListUsers returns all accounts, admins first then by username.
func (s *UserStore) ListUsers() ([]*User, error) {
	rows, err := s.db.Query(
		"SELECT id, username, pass_hash, is_admin, created_at FROM users ORDER BY is_admin DESC, username ASC",
	)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanUserRow(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	return users, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row *sql.Row) (*User, error) {
	u, err := scanUserRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return u, err
}

func scanUserRow(row rowScanner) (*User, error) {
	var u User
	var isAdmin int
	var createdAt int64
	if err := row.Scan(&u.ID, &u.Username, &u.PassHash, &isAdmin, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning user: %w", err)
	}
	u.IsAdmin = isAdmin != 0
	u.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &u, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
