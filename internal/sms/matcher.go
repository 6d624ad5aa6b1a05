// Package sms extracts the device SMS/iMessage store out of a backup
// into the canonical record schema.
package sms

import (
	"database/sql"
	"fmt"
	"os"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"github.com/darkskygit/ChatImporter/internal/backup"
	"github.com/darkskygit/ChatImporter/internal/record"
)

const (
	smsDomain = "HomeDomain"
	smsPath   = "Library/SMS/sms.db"
)

// coreDataEpoch is the CoreData reference date the message store counts
// nanoseconds from.
var coreDataEpoch = time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)

// Matcher produces records from the backup's sms.db.
type Matcher struct {
	scratch string
	db      *sql.DB
	owner   string
}

// NewMatcher locates sms.db in the backup at root and opens a private
// scratch copy of it.
func NewMatcher(root, owner string, prompt backup.PasscodePrompt) (*Matcher, error) {
	b, err := backup.OpenAndIndex(root, prompt)
	if err != nil {
		return nil, err
	}

	file, err := b.FindExact(smsDomain, smsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to find sms database: %w", err)
	}
	data, err := b.ReadFile(file)
	if err != nil {
		return nil, err
	}

	f, err := os.CreateTemp("", "chatimporter-sms-*.sqlite")
	if err != nil {
		return nil, fmt.Errorf("create scratch db: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("write scratch db: %w", err)
	}
	f.Close()

	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?mode=ro&cache=private", f.Name()))
	if err != nil {
		os.Remove(f.Name())
		return nil, fmt.Errorf("open sms db: %w", err)
	}
	return &Matcher{scratch: f.Name(), db: db, owner: owner}, nil
}

// Close releases the scratch database.
func (m *Matcher) Close() {
	m.db.Close()
	os.Remove(m.scratch)
}

// MetadataMerger is nil: SMS records carry no merge-aware metadata.
func (m *Matcher) MetadataMerger() record.MetadataMerger {
	return nil
}

func (m *Matcher) chatIDs() ([]int64, error) {
	rows, err := m.db.Query("SELECT DISTINCT chat_id FROM chat_message_join")
	if err != nil {
		return nil, fmt.Errorf("chat ids: %w", err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// hasIsSpam probes the schema: old message stores predate the is_spam
// column.
func (m *Matcher) hasIsSpam() (bool, error) {
	var count int
	err := m.db.QueryRow(
		"SELECT COUNT(*) FROM pragma_table_info('message') WHERE name='is_spam'").Scan(&count)
	if err != nil {
		return false, err
	}
	return count == 1, nil
}

func (m *Matcher) recordLines(chatID int64) ([]record.RecordType, error) {
	hasIsSpam, err := m.hasIsSpam()
	if err != nil {
		return nil, err
	}
	spamColumn := "0"
	if hasIsSpam {
		spamColumn = "message.is_spam"
	}
	rows, err := m.db.Query(fmt.Sprintf(`
		SELECT
			message.ROWID,
			handle.id,
			IFNULL(message.text, ''),
			message.handle_id,
			message.service,
			message.date,
			message.is_from_me,
			message.destination_caller_id,
			%s
		FROM chat_message_join
		INNER JOIN message
			ON message.rowid = chat_message_join.message_id
		INNER JOIN handle
			ON handle.rowid = message.handle_id
		WHERE chat_message_join.chat_id = ?
		ORDER BY date ASC`, spamColumn), chatID)
	if err != nil {
		return nil, fmt.Errorf("chat %d: %w", chatID, err)
	}
	defer rows.Close()

	var out []record.RecordType
	for rows.Next() {
		var (
			id       int64
			target   string
			text     string
			handleID int64
			service  string
			date     int64
			isFromMe bool
			callerID string
			isSpam   bool
		)
		if err := rows.Scan(&id, &target, &text, &handleID, &service, &date, &isFromMe, &callerID, &isSpam); err != nil {
			return nil, err
		}
		senderID, senderName := target, target
		if isFromMe {
			senderID, senderName = callerID, m.owner
		}
		out = append(out, record.NewRecordType(record.Record{
			ChatType:   "iOS " + service,
			OwnerID:    callerID,
			GroupID:    target,
			SenderID:   senderID,
			SenderName: senderName,
			Content:    text,
			Timestamp:  coreDataEpoch.Add(time.Duration(date)).UnixMilli(),
		}))
	}
	return out, rows.Err()
}

// Records streams every chat of the message store.
func (m *Matcher) Records() ([]record.RecordType, error) {
	ids, err := m.chatIDs()
	if err != nil {
		return nil, err
	}
	var out []record.RecordType
	for _, id := range ids {
		records, err := m.recordLines(id)
		if err != nil {
			log.Warn().Int64("chat", id).Err(err).Msg("failed to get sms records")
			continue
		}
		out = append(out, records...)
	}
	return out, nil
}
