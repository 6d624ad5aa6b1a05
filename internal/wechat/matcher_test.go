package wechat_test

import (
	"database/sql"
	"fmt"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darkskygit/ChatImporter/internal/backup/backuptest"
	"github.com/darkskygit/ChatImporter/internal/wechat"
)

const (
	appDomain = "AppDomain-com.tencent.xin"
	account   = "1a2b3c4d5e6f7a8b9c0d1e2f3a4b5c6d"
	aliceHash = "6384e2b2184bcbf58eccf10ca7a6563c" // md5("alice")
)

// remarkBlob builds a length-prefixed remark.
func remarkBlob(remark string) []byte {
	return append([]byte{0x0A, byte(len(remark))}, []byte(remark)...)
}

// writeWeChatBackup fabricates a complete single-account backup with
// one contact and the given chat rows.
func writeWeChatBackup(t *testing.T, root string) {
	t.Helper()
	scratch := t.TempDir()

	contactDB, err := backuptest.SqliteBlob(scratch, func(db *sql.DB) error {
		if _, err := db.Exec(
			"CREATE TABLE Friend (userName TEXT, dbContactRemark BLOB, dbContactHeadImage BLOB, type INTEGER)"); err != nil {
			return err
		}
		_, err := db.Exec(
			"INSERT INTO Friend VALUES (?, ?, ?, ?)",
			"alice", remarkBlob("Alice"), []byte{}, 1)
		return err
	})
	require.NoError(t, err)

	messageDB, err := backuptest.SqliteBlob(scratch, func(db *sql.DB) error {
		if _, err := db.Exec(fmt.Sprintf(
			`CREATE TABLE Chat_%s (
				MesLocalID INTEGER, MesSvrID INTEGER, CreateTime INTEGER,
				Message TEXT, Status INTEGER, ImgStatus INTEGER,
				Type INTEGER, Des INTEGER)`, aliceHash)); err != nil {
			return err
		}
		_, err := db.Exec(fmt.Sprintf("INSERT INTO Chat_%s VALUES (1, 424242, 1700000000, 'hi', 2, 0, 1, 1)", aliceHash))
		return err
	})
	require.NoError(t, err)

	sessionDB, err := backuptest.SqliteBlob(scratch, func(db *sql.DB) error {
		_, err := db.Exec("CREATE TABLE SessionAbstract (UsrName TEXT)")
		return err
	})
	require.NoError(t, err)

	settings, err := backuptest.SettingsArchive("me_wxid", "Me", "http://wx.qlogo.cn/mmhead/abc/132")
	require.NoError(t, err)

	err = backuptest.NewBuilder().
		AddFile(appDomain, "Documents/"+account+"/DB/WCDB_Contact.sqlite", contactDB).
		AddFile(appDomain, "Documents/"+account+"/DB/MM.sqlite", messageDB).
		AddFile(appDomain, "Documents/"+account+"/session/session.db", sessionDB).
		AddFile(appDomain, "Documents/"+account+"/mmsetting.archive", settings).
		Write(root)
	require.NoError(t, err)
}

// An unencrypted backup with one Normal message yields exactly one
// canonical record.
func TestMatcherSingleNormalMessage(t *testing.T) {
	root := t.TempDir()
	writeWeChatBackup(t, root)

	m, err := wechat.NewMatcher(root, nil, nil)
	require.NoError(t, err)
	defer m.Close()

	records, err := m.Records()
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0].Record
	assert.Equal(t, "WeChat", rec.ChatType)
	assert.Equal(t, "me_wxid", rec.OwnerID)
	assert.Equal(t, "alice", rec.GroupID)
	assert.Equal(t, "alice", rec.SenderID)
	assert.Equal(t, "Alice", rec.SenderName)
	assert.Equal(t, "hi", rec.Content)
	assert.Nil(t, rec.Metadata)

	// The timestamp is the stored second scaled to millis plus the
	// deterministic sub-second offset.
	base := int64(1700000000) * 1000
	assert.GreaterOrEqual(t, rec.Timestamp, base)
	assert.Less(t, rec.Timestamp, base+1000)
}

// Repeated extraction is pure: identical records, timestamps included.
func TestMatcherExtractionDeterministic(t *testing.T) {
	root := t.TempDir()
	writeWeChatBackup(t, root)

	extract := func() int64 {
		m, err := wechat.NewMatcher(root, nil, nil)
		require.NoError(t, err)
		defer m.Close()
		records, err := m.Records()
		require.NoError(t, err)
		require.Len(t, records, 1)
		return records[0].Record.Timestamp
	}
	assert.Equal(t, extract(), extract())
}

// Targeting by contact remark substring selects the chat; a foreign
// name selects nothing.
func TestMatcherTargeting(t *testing.T) {
	root := t.TempDir()
	writeWeChatBackup(t, root)

	m, err := wechat.NewMatcher(root, []string{"Alice"}, nil)
	require.NoError(t, err)
	records, err := m.Records()
	m.Close()
	require.NoError(t, err)
	assert.Len(t, records, 1)

	m, err = wechat.NewMatcher(root, []string{"nobody-here"}, nil)
	require.NoError(t, err)
	records, err = m.Records()
	m.Close()
	require.NoError(t, err)
	assert.Empty(t, records)
}

// The empty targeting list extracts every contacted chat.
func TestMatcherEmptyTargeting(t *testing.T) {
	root := t.TempDir()
	writeWeChatBackup(t, root)

	m, err := wechat.NewMatcher(root, []string{}, nil)
	require.NoError(t, err)
	defer m.Close()
	records, err := m.Records()
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

// A shard holding only its contact database (no messages database,
// settings archive or session database) is dropped at discovery.
func TestMatcherDropsIncompleteUser(t *testing.T) {
	root := t.TempDir()
	scratch := t.TempDir()

	contactDB, err := backuptest.SqliteBlob(scratch, func(db *sql.DB) error {
		_, err := db.Exec("CREATE TABLE Friend (userName TEXT, dbContactRemark BLOB, dbContactHeadImage BLOB, type INTEGER)")
		return err
	})
	require.NoError(t, err)

	err = backuptest.NewBuilder().
		AddFile(appDomain, "Documents/"+account+"/DB/WCDB_Contact.sqlite", contactDB).
		Write(root)
	require.NoError(t, err)

	m, err := wechat.NewMatcher(root, nil, nil)
	require.NoError(t, err)
	defer m.Close()
	records, err := m.Records()
	require.NoError(t, err)
	assert.Empty(t, records)
}
