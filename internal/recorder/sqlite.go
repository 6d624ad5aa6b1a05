// Package recorder provides the SQLite chat record sink: records keyed
// by their primary tuple, attachments stored once per content hash.
package recorder

import (
	"database/sql"
	"fmt"
	"strconv"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"github.com/darkskygit/ChatImporter/internal/record"
)

const schema = `
CREATE TABLE IF NOT EXISTS records (
	chat_type   TEXT NOT NULL,
	owner_id    TEXT NOT NULL,
	group_id    TEXT NOT NULL,
	sender_id   TEXT NOT NULL,
	sender_name TEXT NOT NULL,
	content     TEXT NOT NULL,
	timestamp   INTEGER NOT NULL,
	metadata    BLOB,
	PRIMARY KEY (chat_type, owner_id, group_id, sender_id, timestamp)
);
CREATE TABLE IF NOT EXISTS blobs (
	hash INTEGER PRIMARY KEY,
	blob BLOB NOT NULL
);
`

// SqliteChatRecorder implements record.ChatRecorder on a local SQLite
// database.
type SqliteChatRecorder struct {
	db *sql.DB
}

var _ record.ChatRecorder = (*SqliteChatRecorder)(nil)

// NewSqliteChatRecorder opens (creating when absent) the record store.
func NewSqliteChatRecorder(path string) (*SqliteChatRecorder, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_journal_mode=WAL", path))
	if err != nil {
		return nil, fmt.Errorf("open record db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init record db: %w", err)
	}
	return &SqliteChatRecorder{db: db}, nil
}

// GetBlob retrieves a stored attachment by content hash.
func (r *SqliteChatRecorder) GetBlob(hash int64) ([]byte, error) {
	var blob []byte
	err := r.db.QueryRow("SELECT blob FROM blobs WHERE hash = ?", hash).Scan(&blob)
	if err != nil {
		return nil, fmt.Errorf("blob %d: %w", hash, err)
	}
	return blob, nil
}

// InsertOrUpdateRecord stores the record and its attachments. When a
// record already exists at the same primary key and both sides carry
// metadata, the merger fuses them before the update.
func (r *SqliteChatRecorder) InsertOrUpdateRecord(rt record.RecordType, merger record.MetadataMerger) (bool, error) {
	rec := rt.Record

	for key, blob := range rt.Attaches {
		hash, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			log.Warn().Str("key", key).Msg("attachment key is not a content hash")
			continue
		}
		if _, err := r.db.Exec("INSERT OR IGNORE INTO blobs (hash, blob) VALUES (?, ?)", hash, blob); err != nil {
			return false, fmt.Errorf("store blob %d: %w", hash, err)
		}
	}

	var oldMetadata []byte
	err := r.db.QueryRow(
		`SELECT metadata FROM records
		 WHERE chat_type = ? AND owner_id = ? AND group_id = ? AND sender_id = ? AND timestamp = ?`,
		rec.ChatType, rec.OwnerID, rec.GroupID, rec.SenderID, rec.Timestamp,
	).Scan(&oldMetadata)
	switch {
	case err == sql.ErrNoRows:
		// First sight of this primary key.
	case err != nil:
		return false, fmt.Errorf("lookup record: %w", err)
	default:
		if merger != nil && len(oldMetadata) > 0 && len(rec.Metadata) > 0 {
			rec.Metadata = merger(r, rt.Attaches, oldMetadata, rec.Metadata)
		}
	}

	_, err = r.db.Exec(
		`INSERT INTO records (chat_type, owner_id, group_id, sender_id, sender_name, content, timestamp, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (chat_type, owner_id, group_id, sender_id, timestamp)
		 DO UPDATE SET sender_name = excluded.sender_name,
		               content = excluded.content,
		               metadata = excluded.metadata`,
		rec.ChatType, rec.OwnerID, rec.GroupID, rec.SenderID, rec.SenderName,
		rec.Content, rec.Timestamp, rec.Metadata,
	)
	if err != nil {
		return false, fmt.Errorf("store record: %w", err)
	}
	return true, nil
}

// RefreshIndex refreshes the query planner statistics after a bulk
// import.
func (r *SqliteChatRecorder) RefreshIndex() error {
	if _, err := r.db.Exec("ANALYZE"); err != nil {
		return fmt.Errorf("refresh index: %w", err)
	}
	return nil
}

// Close releases the underlying database.
func (r *SqliteChatRecorder) Close() error {
	return r.db.Close()
}
