package db

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

var ErrRoomExists = errors.New("room already exists")

// Database is the room directory: issued rooms and their stored exports.
type Database struct {
	db *sql.DB
}

type Room struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatorID string    `json:"creator_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Export records an artifact written to storage.
type Export struct {
	ID         string    `json:"id"`
	RoomID     string    `json:"room_id"`
	Format     string    `json:"format"`
	StorageKey string    `json:"key"`
	Size       int64     `json:"size"`
	CreatedAt  time.Time `json:"created_at"`
}

func New(dbPath string) (*Database, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create database dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return &Database{db: db}, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS rooms (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		creator_id TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS exports (
		id TEXT PRIMARY KEY,
		room_id TEXT NOT NULL,
		format TEXT NOT NULL,
		storage_key TEXT NOT NULL,
		size INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_exports_room_id ON exports(room_id, created_at DESC);
	`

	_, err := db.Exec(schema)
	return err
}

func (d *Database) Close() error {
	return d.db.Close()
}

// Room operations

func (d *Database) CreateRoom(id, name, creatorID string) error {
	res, err := d.db.Exec(
		"INSERT OR IGNORE INTO rooms (id, name, creator_id) VALUES (?, ?, ?)",
		id, name, creatorID,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrRoomExists
	}
	return nil
}

// GetRoom returns nil, nil when the room is not registered.
func (d *Database) GetRoom(id string) (*Room, error) {
	row := d.db.QueryRow(
		"SELECT id, name, creator_id, created_at, updated_at FROM rooms WHERE id = ?",
		id,
	)

	var room Room
	err := row.Scan(&room.ID, &room.Name, &room.CreatorID, &room.CreatedAt, &room.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &room, nil
}

func (d *Database) ListRooms(limit, offset int) ([]Room, error) {
	rows, err := d.db.Query(
		"SELECT id, name, creator_id, created_at, updated_at FROM rooms ORDER BY updated_at DESC, id ASC LIMIT ? OFFSET ?",
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms []Room
	for rows.Next() {
		var room Room
		if err := rows.Scan(&room.ID, &room.Name, &room.CreatorID, &room.CreatedAt, &room.UpdatedAt); err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

func (d *Database) UpdateRoomTimestamp(id string) error {
	_, err := d.db.Exec(
		"UPDATE rooms SET updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		id,
	)
	return err
}

func (d *Database) DeleteRoom(id string) error {
	_, err := d.db.Exec("DELETE FROM rooms WHERE id = ?", id)
	return err
}

// Export operations

func (d *Database) CreateExport(e Export) error {
	_, err := d.db.Exec(
		"INSERT INTO exports (id, room_id, format, storage_key, size) VALUES (?, ?, ?, ?, ?)",
		e.ID, e.RoomID, e.Format, e.StorageKey, e.Size,
	)
	return err
}

func (d *Database) GetExport(id string) (*Export, error) {
	var e Export
	err := d.db.QueryRow(
		"SELECT id, room_id, format, storage_key, size, created_at FROM exports WHERE id = ?",
		id,
	).Scan(&e.ID, &e.RoomID, &e.Format, &e.StorageKey, &e.Size, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// ListExports lists exports newest first; an empty roomID lists every room.
func (d *Database) ListExports(roomID string, limit, offset int) ([]Export, error) {
	query := "SELECT id, room_id, format, storage_key, size, created_at FROM exports"
	args := []any{}
	if roomID != "" {
		query += " WHERE room_id = ?"
		args = append(args, roomID)
	}
	query += " ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	exports := []Export{}
	for rows.Next() {
		var e Export
		if err := rows.Scan(&e.ID, &e.RoomID, &e.Format, &e.StorageKey, &e.Size, &e.CreatedAt); err != nil {
			return nil, err
		}
		exports = append(exports, e)
	}
	return exports, rows.Err()
}

func (d *Database) DeleteExport(id string) error {
	_, err := d.db.Exec("DELETE FROM exports WHERE id = ?", id)
	return err
}

// Stats

func (d *Database) GetStats() (map[string]any, error) {
	stats := make(map[string]any)

	var roomCount int
	if err := d.db.QueryRow("SELECT COUNT(*) FROM rooms").Scan(&roomCount); err != nil {
		return nil, err
	}
	stats["room_count"] = roomCount

	var exportCount int
	if err := d.db.QueryRow("SELECT COUNT(*) FROM exports").Scan(&exportCount); err != nil {
		return nil, err
	}
	stats["export_count"] = exportCount

	return stats, nil
}
