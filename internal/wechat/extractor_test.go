package wechat

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/darkskygit/ChatImporter/internal/backup"
)

func TestAccountIDForPath(t *testing.T) {
	tests := []struct {
		path    string
		want    string
		matched bool
	}{
		{"Documents/abc123/DB/MM.sqlite", "abc123", true},
		{"Documents/abc123/session/session.db", "abc123", true},
		{"Library/whatever", "", false},
		{"Documents/", "", false},
		// MMappedKV derives the account from the file extension.
		{"Documents/MMappedKV/mmsetting.archive.abc123", genMD5("abc123"), true},
		{"Documents/MMappedKV/mmsetting.archive.abc123.crc", genMD5("abc123"), true},
		// The empty-extension digest skips the file.
		{"Documents/MMappedKV/mmsetting", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, ok := accountIDForPath(tt.path)
			assert.Equal(t, tt.matched, ok)
			if tt.matched {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestDiscoveredNameOK(t *testing.T) {
	assert.True(t, discoveredNameOK("WCDB_Contact.sqlite"))
	assert.True(t, discoveredNameOK("MM.sqlite"))
	assert.True(t, discoveredNameOK("message_12.sqlite"))
	assert.True(t, discoveredNameOK("mmsetting.archive"))
	assert.True(t, discoveredNameOK("mmsetting.archive.abc"))
	assert.True(t, discoveredNameOK("session.db"))
	assert.False(t, discoveredNameOK("Contact.sqlite"))
}

func TestUserStateTransitions(t *testing.T) {
	u := &UserDB{state: StatePartial}
	assert.Equal(t, "partial", u.State().String())

	// Incomplete shards stay Partial.
	assert.False(t, u.IsComplete())
	assert.Equal(t, StatePartial, u.State())

	u.contact = &scratchFile{}
	u.messages = []*scratchFile{{}}
	u.session = &scratchFile{}
	u.kvSetting = &backup.BackupFile{}
	assert.True(t, u.IsComplete())
	assert.Equal(t, StateComplete, u.State())

	// Producing and Exhausted are one-shot and forward-only.
	u.state = StateBuilt
	u.Exhaust()
	assert.Equal(t, StateBuilt, u.State(), "Exhaust only fires from Producing")
	u.state = StateProducing
	u.Exhaust()
	assert.Equal(t, StateExhausted, u.State())
}
