package wechat

import (
	"fmt"
	"path"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/darkskygit/ChatImporter/internal/backup"
	"github.com/darkskygit/ChatImporter/internal/record"
)

// backupDomain is the app sandbox domain of the messaging app inside
// the device backup.
const backupDomain = "AppDomain-com.tencent.xin"

// discoveryGlobs locate the per-account databases and archives.
var discoveryGlobs = []string{
	"*/WCDB_Contact.sqlite",
	"*/MM.sqlite",
	"*/message_*.sqlite",
	"*/mmsetting.archive",
	"*/mmsetting.archive.*",
	"*/session/session.db",
}

// Extractor coordinates the backup index, the per-account shards and
// the record pipeline.
type Extractor struct {
	backup *backup.Backup
	users  map[string]*UserDB
}

// NewExtractor opens the backup at root, unlocking it with the prompt
// when encrypted, and discovers every complete account shard.
func NewExtractor(root string, prompt backup.PasscodePrompt) (*Extractor, error) {
	b, err := backup.OpenAndIndex(root, prompt)
	if err != nil {
		return nil, err
	}
	return &Extractor{backup: b, users: discoverUsers(b)}, nil
}

// accountIDForPath derives the shard account id of a discovered file:
// the first path component after Documents/. MMappedKV pseudo-directory
// entries derive it from the file extension instead; an id equal to the
// empty-string digest skips the file.
func accountIDForPath(rel string) (string, bool) {
	trimmed := strings.TrimPrefix(rel, "Documents/")
	if trimmed == rel {
		return "", false
	}
	account := trimmed
	if idx := strings.Index(trimmed, "/"); idx >= 0 {
		account = trimmed[:idx]
	}
	if account == "" {
		return "", false
	}
	if account != "MMappedKV" {
		return account, true
	}
	name := path.Base(rel)
	ext := strings.TrimPrefix(path.Ext(name), ".")
	if ext == "crc" {
		base := strings.TrimSuffix(name, ".crc")
		ext = strings.TrimPrefix(path.Ext(base), ".")
	}
	account = genMD5(ext)
	if account == emptyMD5 {
		return "", false
	}
	return account, true
}

// discoveredNameOK filters glob hits down to the known file names.
func discoveredNameOK(name string) bool {
	switch name {
	case "WCDB_Contact.sqlite", "MM.sqlite", "session.db":
		return true
	}
	return strings.HasPrefix(name, "message_") || strings.HasPrefix(name, "mmsetting.archive")
}

// discoverUsers assimilates every discovered file into its account
// shard, drops incomplete shards, and builds the rest.
func discoverUsers(b *backup.Backup) map[string]*UserDB {
	shards := make(map[string]*UserDB)
	for _, pattern := range discoveryGlobs {
		for _, file := range b.FindWildcard(backupDomain, pattern) {
			name := path.Base(file.RelativePath)
			if !discoveredNameOK(name) {
				log.Warn().Str("path", file.RelativePath).Msg("unknown file name")
				continue
			}
			account, ok := accountIDForPath(file.RelativePath)
			if !ok {
				log.Warn().Str("path", file.RelativePath).Msg("unmatched path")
				continue
			}
			if shard, ok := shards[account]; ok {
				shard.Assimilate(b, file)
			} else {
				shards[account] = NewUserDB(b, account, file,
					b.FindWildcard(backupDomain, fmt.Sprintf("Documents/%s/*", account)))
			}
		}
	}

	users := make(map[string]*UserDB, len(shards))
	for account, shard := range shards {
		if !shard.IsComplete() {
			shard.Close()
			continue
		}
		if err := shard.Build(b); err != nil {
			log.Warn().Str("account", account).Err(err).Msg("failed to init user")
			shard.Close()
			continue
		}
		users[account] = shard
	}
	return users
}

// Users lists the built account ids.
func (e *Extractor) Users() []string {
	out := make([]string, 0, len(e.users))
	for id := range e.users {
		out = append(out, id)
	}
	return out
}

// UserDB returns the shard of an account id.
func (e *Extractor) UserDB(id string) (*UserDB, bool) {
	u, ok := e.users[id]
	return u, ok
}

// Backup exposes the underlying backup index.
func (e *Extractor) Backup() *backup.Backup {
	return e.backup
}

// Close releases every shard's scratch databases.
func (e *Extractor) Close() {
	for _, u := range e.users {
		u.Close()
	}
}

// Records extracts every chat of the shard matching name, transforming
// rows into canonical records.
func (u *UserDB) Records(b *backup.Backup, name string, skipResource bool) []record.RecordType {
	if u.state == StateBuilt {
		u.state = StateProducing
	}
	var out []record.RecordType
	for _, chatID := range u.FindContacts(name) {
		log.Info().Str("name", name).Str("chat", chatID).Msg("extracting")
		contact, ok := u.contacts[chatID]
		if !ok {
			log.Warn().Str("chat", chatID).Msg("failed to get chat contact")
			continue
		}
		lines, err := u.loadRecordLines(chatID, skipResource)
		if err != nil {
			log.Warn().Str("chat", chatID).Err(err).Msg("failed to get chat lines")
			continue
		}
		out = append(out, u.TransformRecordLines(b, contact, lines)...)
	}
	return out
}

// Exhaust marks the shard fully drained.
func (u *UserDB) Exhaust() {
	if u.state == StateProducing {
		u.state = StateExhausted
	}
}
