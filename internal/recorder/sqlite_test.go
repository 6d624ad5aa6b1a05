package recorder

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darkskygit/ChatImporter/internal/record"
)

func openTestRecorder(t *testing.T) *SqliteChatRecorder {
	t.Helper()
	r, err := NewSqliteChatRecorder(filepath.Join(t.TempDir(), "record.db"))
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func testRecord(t *testing.T) record.RecordType {
	t.Helper()
	blob := record.NewBlob([]byte("image bytes"))
	meta, err := record.NewAttachMetadata().
		WithType(3).
		WithHash("img", blob.Hash).
		Marshal()
	require.NoError(t, err)
	return record.NewRecordTypeWithAttaches(record.Record{
		ChatType:   "WeChat",
		OwnerID:    "me",
		GroupID:    "alice",
		SenderID:   "alice",
		SenderName: "Alice",
		Content:    "[img]",
		Timestamp:  1700000000123,
		Metadata:   meta,
	}, record.Attachments{record.HashKey(blob.Hash): blob.Data})
}

func TestInsertAndRetrieveBlob(t *testing.T) {
	r := openTestRecorder(t)
	rt := testRecord(t)

	ok, err := r.InsertOrUpdateRecord(rt, record.MergeMetadata)
	require.NoError(t, err)
	assert.True(t, ok)

	hash := record.NewBlob([]byte("image bytes")).Hash
	blob, err := r.GetBlob(hash)
	require.NoError(t, err)
	assert.Equal(t, []byte("image bytes"), blob)

	_, err = r.GetBlob(hash + 1)
	assert.Error(t, err)
}

// Importing the same record twice converges: one row, byte-identical
// metadata, no override warnings.
func TestIdempotentReimport(t *testing.T) {
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = prev })

	r := openTestRecorder(t)
	rt := testRecord(t)

	ok, err := r.InsertOrUpdateRecord(rt, record.MergeMetadata)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = r.InsertOrUpdateRecord(rt, record.MergeMetadata)
	require.NoError(t, err)
	require.True(t, ok)

	var count int
	require.NoError(t, r.db.QueryRow("SELECT COUNT(*) FROM records").Scan(&count))
	assert.Equal(t, 1, count)

	var metadata []byte
	require.NoError(t, r.db.QueryRow("SELECT metadata FROM records").Scan(&metadata))
	assert.Equal(t, []byte(rt.Record.Metadata), metadata)

	assert.NotContains(t, buf.String(), "metadata override")
}

func TestReimportMergesMetadata(t *testing.T) {
	r := openTestRecorder(t)

	oldMeta, err := record.NewAttachMetadata().WithType(3).WithTag("old_only", "kept").Marshal()
	require.NoError(t, err)
	newMeta, err := record.NewAttachMetadata().WithType(3).WithTag("new_only", "added").Marshal()
	require.NoError(t, err)

	rt := testRecord(t)
	rt.Record.Metadata = oldMeta
	_, err = r.InsertOrUpdateRecord(rt, record.MergeMetadata)
	require.NoError(t, err)

	rt.Record.Metadata = newMeta
	_, err = r.InsertOrUpdateRecord(rt, record.MergeMetadata)
	require.NoError(t, err)

	var metadata []byte
	require.NoError(t, r.db.QueryRow("SELECT metadata FROM records").Scan(&metadata))
	merged, err := record.UnmarshalMetadata(metadata)
	require.NoError(t, err)
	assert.Equal(t, record.StringValue("kept"), merged.Fields["old_only"])
	assert.Equal(t, record.StringValue("added"), merged.Fields["new_only"])
}

func TestRefreshIndex(t *testing.T) {
	r := openTestRecorder(t)
	assert.NoError(t, r.RefreshIndex())
}
