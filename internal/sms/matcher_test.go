package sms_test

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darkskygit/ChatImporter/internal/backup/backuptest"
	"github.com/darkskygit/ChatImporter/internal/sms"
)

// CoreData nanoseconds for 2020-01-01 00:00:00 UTC.
const newYear2020 = int64(599529600000000000)

func writeSMSBackup(t *testing.T, root string, withSpamColumn bool) {
	t.Helper()
	scratch := t.TempDir()

	spamColumn := ""
	if withSpamColumn {
		spamColumn = ", is_spam INTEGER DEFAULT 0"
	}
	smsDB, err := backuptest.SqliteBlob(scratch, func(db *sql.DB) error {
		stmts := []string{
			"CREATE TABLE handle (ROWID INTEGER PRIMARY KEY, id TEXT)",
			`CREATE TABLE message (
				ROWID INTEGER PRIMARY KEY, text TEXT, handle_id INTEGER,
				service TEXT, date INTEGER, is_from_me INTEGER,
				destination_caller_id TEXT` + spamColumn + `)`,
			"CREATE TABLE chat_message_join (chat_id INTEGER, message_id INTEGER)",
			"INSERT INTO handle (ROWID, id) VALUES (1, '+111')",
		}
		for _, stmt := range stmts {
			if _, err := db.Exec(stmt); err != nil {
				return err
			}
		}
		if _, err := db.Exec(
			`INSERT INTO message (ROWID, text, handle_id, service, date, is_from_me, destination_caller_id)
			 VALUES (1, 'happy new year', 1, 'iMessage', ?, 1, '+111')`, newYear2020); err != nil {
			return err
		}
		_, err := db.Exec("INSERT INTO chat_message_join (chat_id, message_id) VALUES (5, 1)")
		return err
	})
	require.NoError(t, err)

	err = backuptest.NewBuilder().
		AddFile("HomeDomain", "Library/SMS/sms.db", smsDB).
		Write(root)
	require.NoError(t, err)
}

func TestSMSExtraction(t *testing.T) {
	root := t.TempDir()
	writeSMSBackup(t, root, false)

	m, err := sms.NewMatcher(root, "DarkSky", nil)
	require.NoError(t, err)
	defer m.Close()

	records, err := m.Records()
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0].Record
	assert.Equal(t, "iOS iMessage", rec.ChatType)
	assert.Equal(t, "+111", rec.OwnerID)
	assert.Equal(t, "+111", rec.GroupID)
	assert.Equal(t, "+111", rec.SenderID)
	assert.Equal(t, "DarkSky", rec.SenderName)
	assert.Equal(t, "happy new year", rec.Content)
	assert.Equal(t, int64(1577836800000), rec.Timestamp)
}

// The is_spam probe tolerates both schema generations.
func TestSMSExtractionWithSpamColumn(t *testing.T) {
	root := t.TempDir()
	writeSMSBackup(t, root, true)

	m, err := sms.NewMatcher(root, "DarkSky", nil)
	require.NoError(t, err)
	defer m.Close()

	records, err := m.Records()
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestSMSMissingDatabase(t *testing.T) {
	root := t.TempDir()
	err := backuptest.NewBuilder().Write(root)
	require.NoError(t, err)

	_, err = sms.NewMatcher(root, "DarkSky", nil)
	assert.Error(t, err)
}

func TestSMSMergerAbsent(t *testing.T) {
	root := t.TempDir()
	writeSMSBackup(t, root, false)

	m, err := sms.NewMatcher(root, "DarkSky", nil)
	require.NoError(t, err)
	defer m.Close()
	assert.Nil(t, m.MetadataMerger())
}
