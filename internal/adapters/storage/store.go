// Package storage persists users, rooms and session snapshots in an
// embedded sqlite database. It is the authoritative side of room
// membership; the live layer only ever reads it.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/Swaymbhu-git/SlateAssist/internal/domain"
)

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// WAL so the websocket path never waits on REST writers.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, err
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, err
	}

	if err := createTables(db); err != nil {
		return nil, err
	}

	log.Info().Str("module", "storage").Str("path", dbPath).Msg("database initialized")
	return &Store{db: db}, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS rooms (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (owner_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS room_members (
		room_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		PRIMARY KEY (room_id, user_id),
		FOREIGN KEY (room_id) REFERENCES rooms(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS room_snapshots (
		room_id TEXT PRIMARY KEY,
		buffer TEXT NOT NULL,
		revision INTEGER NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (room_id) REFERENCES rooms(id) ON DELETE CASCADE
	);
	`
	_, err := db.Exec(schema)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

// --- users ---

func (s *Store) CreateUser(ctx context.Context, u *domain.User, passwordHash string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, username, email, password_hash) VALUES (?, ?, ?, ?)`,
		string(u.ID), u.Username, u.Email, passwordHash)
	return err
}

func (s *Store) GetUser(ctx context.Context, id domain.UserID) (*domain.User, error) {
	var u domain.User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, email FROM users WHERE id = ?`, string(id)).
		Scan(&u.ID, &u.Username, &u.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUserByEmail also returns the stored password hash for login checks.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*domain.User, string, error) {
	var u domain.User
	var hash string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, email, password_hash FROM users WHERE email = ?`, email).
		Scan(&u.ID, &u.Username, &u.Email, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", domain.ErrUserNotFound
	}
	if err != nil {
		return nil, "", err
	}
	return &u, hash, nil
}

// --- rooms / membership ---

// CreateRoom inserts the room with the owner as its first member.
func (s *Store) CreateRoom(ctx context.Context, roomID domain.RoomID, owner domain.UserID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO rooms (id, owner_id) VALUES (?, ?)`, string(roomID), string(owner)); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO room_members (room_id, user_id) VALUES (?, ?)`, string(roomID), string(owner)); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) GetRoom(ctx context.Context, roomID domain.RoomID) (*domain.MembershipRecord, error) {
	rec := &domain.MembershipRecord{RoomID: roomID}
	err := s.db.QueryRowContext(ctx,
		`SELECT owner_id FROM rooms WHERE id = ?`, string(roomID)).Scan(&rec.Owner)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrRoomNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM room_members WHERE room_id = ?`, string(roomID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id domain.UserID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		rec.Members = append(rec.Members, id)
	}
	return rec, rows.Err()
}

// AddMember is idempotent: inviting an existing member changes nothing.
func (s *Store) AddMember(ctx context.Context, roomID domain.RoomID, userID domain.UserID) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO room_members (room_id, user_id) VALUES (?, ?)`,
		string(roomID), string(userID))
	return err
}

func (s *Store) RemoveMember(ctx context.Context, roomID domain.RoomID, userID domain.UserID) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM room_members WHERE room_id = ? AND user_id = ?`,
		string(roomID), string(userID))
	return err
}

// --- snapshots ---

func (s *Store) SaveSnapshot(ctx context.Context, roomID domain.RoomID, buffer string, revision uint64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO room_snapshots (room_id, buffer, revision, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(room_id) DO UPDATE SET
			buffer = excluded.buffer,
			revision = excluded.revision,
			updated_at = CURRENT_TIMESTAMP`,
		string(roomID), buffer, int64(revision))
	return err
}

func (s *Store) GetSnapshot(ctx context.Context, roomID domain.RoomID) (string, uint64, error) {
	var buffer string
	var revision int64
	err := s.db.QueryRowContext(ctx,
		`SELECT buffer, revision FROM room_snapshots WHERE room_id = ?`, string(roomID)).
		Scan(&buffer, &revision)
	if errors.Is(err, sql.ErrNoRows) {
		return "", 0, nil
	}
	if err != nil {
		return "", 0, err
	}
	return buffer, uint64(revision), nil
}
