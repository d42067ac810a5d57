package store

import (
	"database/sql"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Namespace prefix for snapshot keys, versioned so the blob format can
// change without clobbering old rows.
const keyPrefix = "doc:v1:"

type Store struct {
	db *sql.DB
}

type Room struct {
	ID        string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func New(dbPath string) (*Store, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, err
	}

	if err := createTables(db); err != nil {
		return nil, err
	}

	log.Printf("Store initialized at %s", dbPath)
	return &Store{db: db}, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS rooms (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS snapshots (
		doc_key TEXT PRIMARY KEY,
		snapshot_data BLOB NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`

	_, err := db.Exec(schema)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Snapshot operations

// GetSnapshot returns the stored blob for a document id, reporting
// whether one exists.
func (s *Store) GetSnapshot(docID string) ([]byte, bool, error) {
	var data []byte
	err := s.db.QueryRow(
		"SELECT snapshot_data FROM snapshots WHERE doc_key = ?",
		keyPrefix+docID,
	).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// PutSnapshot stores the full serialized state for a document id,
// replacing any previous blob, and touches the room metadata row.
func (s *Store) PutSnapshot(docID string, data []byte) error {
	if err := s.CreateRoom(docID, ""); err != nil {
		return err
	}

	_, err := s.db.Exec(`
		INSERT INTO snapshots (doc_key, snapshot_data, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(doc_key) DO UPDATE SET
			snapshot_data = excluded.snapshot_data,
			updated_at = CURRENT_TIMESTAMP
	`, keyPrefix+docID, data)
	if err != nil {
		return err
	}

	return s.touchRoom(docID)
}

// Room metadata operations

func (s *Store) CreateRoom(id, name string) error {
	_, err := s.db.Exec(
		"INSERT OR IGNORE INTO rooms (id, name) VALUES (?, ?)",
		id, name,
	)
	return err
}

func (s *Store) GetRoom(id string) (*Room, error) {
	row := s.db.QueryRow(
		"SELECT id, name, created_at, updated_at FROM rooms WHERE id = ?",
		id,
	)

	var room Room
	err := row.Scan(&room.ID, &room.Name, &room.CreatedAt, &room.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &room, nil
}

func (s *Store) ListRooms(limit, offset int) ([]Room, error) {
	rows, err := s.db.Query(
		"SELECT id, name, created_at, updated_at FROM rooms ORDER BY updated_at DESC LIMIT ? OFFSET ?",
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms []Room
	for rows.Next() {
		var room Room
		if err := rows.Scan(&room.ID, &room.Name, &room.CreatedAt, &room.UpdatedAt); err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

func (s *Store) touchRoom(id string) error {
	_, err := s.db.Exec(
		"UPDATE rooms SET updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		id,
	)
	return err
}

// DeleteRoom removes the metadata row and the snapshot blob.
func (s *Store) DeleteRoom(id string) error {
	if _, err := s.db.Exec("DELETE FROM snapshots WHERE doc_key = ?", keyPrefix+id); err != nil {
		return err
	}
	_, err := s.db.Exec("DELETE FROM rooms WHERE id = ?", id)
	return err
}

// Stats

func (s *Store) Stats() (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	var roomCount int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM rooms").Scan(&roomCount); err != nil {
		return nil, err
	}
	stats["room_count"] = roomCount

	var snapshotCount int
	var snapshotBytes sql.NullInt64
	if err := s.db.QueryRow("SELECT COUNT(*), SUM(LENGTH(snapshot_data)) FROM snapshots").Scan(&snapshotCount, &snapshotBytes); err != nil {
		return nil, err
	}
	stats["snapshot_count"] = snapshotCount
	stats["snapshot_bytes"] = snapshotBytes.Int64

	return stats, nil
}
