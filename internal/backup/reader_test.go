package backup_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darkskygit/ChatImporter/internal/backup"
)

func TestReadFileUnencrypted(t *testing.T) {
	b := openTestBackup(t)

	file, err := b.FindExact("HomeDomain", "Library/SMS/sms.db")
	require.NoError(t, err)

	data, err := b.ReadFile(file)
	require.NoError(t, err)
	assert.Equal(t, []byte("sms"), data)
}

func TestReadFileNotOnDisk(t *testing.T) {
	b := openTestBackup(t)

	missing := backup.BackupFile{
		FileID:       "ffffffffffffffffffffffffffffffffffffffff",
		Domain:       "HomeDomain",
		RelativePath: "Library/nope",
	}
	_, err := b.ReadFile(missing)
	assert.ErrorIs(t, err, backup.ErrNotOnDisk)
}
