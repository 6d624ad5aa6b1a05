package wechat

import (
	"database/sql"
	"fmt"
	"os"
	"path"
	"regexp"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"github.com/darkskygit/ChatImporter/internal/backup"
)

// UserState tracks a per-account shard through its one-shot,
// forward-only lifecycle.
type UserState int

const (
	// StatePartial: discovery is still assimilating files.
	StatePartial UserState = iota
	// StateComplete: the completeness invariant holds.
	StateComplete
	// StateBuilt: settings, contacts and chats loaded.
	StateBuilt
	// StateProducing: record extraction has started.
	StateProducing
	// StateExhausted: every targeted chat has been drained.
	StateExhausted
)

func (s UserState) String() string {
	switch s {
	case StatePartial:
		return "partial"
	case StateComplete:
		return "complete"
	case StateBuilt:
		return "built"
	case StateProducing:
		return "producing"
	case StateExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// scratchFile is a private on-disk copy of a database blob; the SQL
// engine needs databases on disk. It lives exactly as long as the
// owning UserDB.
type scratchFile struct {
	path string
}

func newScratchFile(data []byte) (*scratchFile, error) {
	f, err := os.CreateTemp("", "chatimporter-*.sqlite")
	if err != nil {
		return nil, fmt.Errorf("%w: create scratch db: %v", ErrDatabase, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("%w: write scratch db: %v", ErrDatabase, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return nil, fmt.Errorf("%w: close scratch db: %v", ErrDatabase, err)
	}
	return &scratchFile{path: f.Name()}, nil
}

func (s *scratchFile) Remove() {
	if s != nil && s.path != "" {
		os.Remove(s.path)
		s.path = ""
	}
}

// openReadOnly opens a scratch database read-only with a private cache.
func openReadOnly(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?mode=ro&cache=private", path))
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrDatabase, path, err)
	}
	return db, nil
}

// UserDB is one account shard inside the backup: the per-user databases
// and archives, plus the indexes built from them. The databases,
// archives and indexes are populated during discovery and Build and not
// changed afterwards; the lifecycle state keeps advancing while records
// are produced, and Close releases the scratch databases.
type UserDB struct {
	Account string

	state UserState

	contact   *scratchFile
	messages  []*scratchFile
	session   *scratchFile
	setting   *backup.BackupFile
	kvSetting *backup.BackupFile

	// accountFiles indexes every file under Documents/<account>/ by
	// relative path for O(1) attachment lookups.
	accountFiles map[string]backup.BackupFile

	chats    map[string]string   // chat-table hash -> table name
	contacts map[string]*Contact // md5(wxid) -> contact

	wxid string
	name string
	head string
}

var messagesDBPattern = regexp.MustCompile(`^message_\d+\.sqlite$`)

// NewUserDB opens a shard for account and assimilates its first file.
// accountFiles is the Documents/<account>/ subtree of the manifest.
func NewUserDB(b *backup.Backup, account string, file backup.BackupFile, accountFiles []backup.BackupFile) *UserDB {
	index := make(map[string]backup.BackupFile, len(accountFiles))
	for _, f := range accountFiles {
		index[f.RelativePath] = f
	}
	u := &UserDB{
		Account:      account,
		accountFiles: index,
		chats:        make(map[string]string),
		contacts:     make(map[string]*Contact),
	}
	u.assimilate(b, file)
	return u
}

// Assimilate folds another discovered file into the shard.
func (u *UserDB) Assimilate(b *backup.Backup, file backup.BackupFile) {
	u.assimilate(b, file)
}

func (u *UserDB) assimilate(b *backup.Backup, file backup.BackupFile) {
	filename := path.Base(file.RelativePath)
	isDatabase := filename == "WCDB_Contact.sqlite" ||
		filename == "MM.sqlite" ||
		filename == "session.db" ||
		messagesDBPattern.MatchString(filename)

	switch {
	case isDatabase:
		log.Debug().
			Str("account", u.Account).
			Str("fileid", file.FileID).
			Str("path", file.RelativePath).
			Msg("extracting database")
		data, err := b.ReadFile(file)
		if err != nil {
			log.Warn().Str("path", file.RelativePath).Err(err).Msg("failed to extract file")
			return
		}
		scratch, err := newScratchFile(data)
		if err != nil {
			log.Warn().Str("path", file.RelativePath).Err(err).Msg("failed to extract file")
			return
		}
		switch {
		case filename == "WCDB_Contact.sqlite":
			u.contact = scratch
		case filename == "session.db":
			u.session = scratch
		default:
			u.messages = append(u.messages, scratch)
		}
	case filename == "mmsetting.archive":
		f := file
		u.setting = &f
	case strings.HasPrefix(filename, "mmsetting.archive."):
		f := file
		u.kvSetting = &f
	}
}

// Close releases every scratch database of the shard.
func (u *UserDB) Close() {
	u.contact.Remove()
	u.session.Remove()
	for _, m := range u.messages {
		m.Remove()
	}
	u.messages = nil
}

// State reports the shard's lifecycle state.
func (u *UserDB) State() UserState {
	return u.state
}

// IsComplete checks the completeness invariant: a contact database, at
// least one messages database, at least one settings archive, and the
// session database must all be present. A passing check advances
// Partial to Complete.
func (u *UserDB) IsComplete() bool {
	complete := u.contact != nil &&
		len(u.messages) > 0 &&
		(u.setting != nil || u.kvSetting != nil) &&
		u.session != nil
	if !complete {
		log.Warn().
			Str("account", u.Account).
			Str("wxid", u.wxid).
			Str("name", u.name).
			Bool("contact", u.contact != nil).
			Bool("messages", len(u.messages) > 0).
			Bool("setting", u.setting != nil).
			Bool("kv_setting", u.kvSetting != nil).
			Bool("session", u.session != nil).
			Msg("user db lost some metadata")
		return false
	}
	if u.state == StatePartial {
		u.state = StateComplete
	}
	return true
}

// Build loads settings, contacts and chats, in that order. A failure
// keeps the shard in Complete with the cause logged by the caller.
func (u *UserDB) Build(b *backup.Backup) error {
	if u.state != StateComplete {
		return fmt.Errorf("cannot build user %s in state %s", u.Account, u.state)
	}
	if err := u.loadSettings(b); err != nil {
		return err
	}
	if err := u.loadContacts(); err != nil {
		return err
	}
	if err := u.loadChats(); err != nil {
		return err
	}
	u.state = StateBuilt
	return nil
}

func (u *UserDB) loadSettings(b *backup.Backup) error {
	if u.setting != nil {
		data, err := b.ReadFile(*u.setting)
		if err != nil {
			return fmt.Errorf("read %s: %w", u.setting.RelativePath, err)
		}
		settings, err := parseSettingsArchive(data)
		if err != nil {
			log.Warn().Str("path", u.setting.RelativePath).Err(err).Msg("failed to load settings")
		} else {
			u.wxid = settings.WXID
			u.name = settings.Name
			u.head = settings.Head
		}
	}
	if u.kvSetting != nil {
		data, err := b.ReadFile(*u.kvSetting)
		if err != nil {
			return fmt.Errorf("read %s: %w", u.kvSetting.RelativePath, err)
		}
		settings := accountSettings{WXID: u.wxid, Name: u.name, Head: u.head}
		settings.fillFromKV(decodeKVMap(data))
		u.wxid, u.name, u.head = settings.WXID, settings.Name, settings.Head
	}
	if u.wxid == "" || u.name == "" || u.head == "" {
		log.Warn().
			Str("wxid", u.wxid).
			Str("name", u.name).
			Str("head", u.head).
			Msg("lost some account info")
	}
	return nil
}

func (u *UserDB) loadContacts() error {
	db, err := openReadOnly(u.contact.path)
	if err != nil {
		return err
	}
	defer db.Close()

	rows, err := db.Query("SELECT userName, dbContactRemark, dbContactHeadImage, type FROM Friend")
	if err != nil {
		return fmt.Errorf("%w: Friend table: %v", ErrSchemaMismatch, err)
	}
	defer rows.Close()

	for rows.Next() {
		var c Contact
		if err := rows.Scan(&c.Name, &c.Remark, &c.Head, &c.UserType); err != nil {
			log.Warn().Err(err).Msg("failed to parse contact")
			continue
		}
		contact := c
		u.contacts[genMD5(contact.Name)] = &contact
	}
	return rows.Err()
}

const chatTableQuery = `SELECT name FROM sqlite_master WHERE type='table' AND name LIKE 'Chat\_%' ESCAPE '\'`

func (u *UserDB) loadChats() error {
	for _, scratch := range u.messages {
		db, err := openReadOnly(scratch.path)
		if err != nil {
			return err
		}
		rows, err := db.Query(chatTableQuery)
		if err != nil {
			db.Close()
			return fmt.Errorf("%w: sqlite_master: %v", ErrDatabase, err)
		}
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				log.Warn().Err(err).Msg("failed to parse chat list")
				continue
			}
			hash := strings.TrimPrefix(name, "Chat_")
			if _, ok := u.contacts[hash]; !ok && hash != u.Account {
				log.Warn().Str("hash", hash).Msg("contact info for chat not exists")
			}
			u.chats[hash] = name
		}
		err = rows.Err()
		rows.Close()
		db.Close()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrDatabase, err)
		}
	}
	return nil
}

// findChatTables returns the scratch message databases that contain
// Chat_<hash>.
func (u *UserDB) findChatTables(hash string) []*scratchFile {
	query := fmt.Sprintf(`SELECT name FROM sqlite_master WHERE type='table' AND name LIKE 'Chat\_%s' ESCAPE '\'`, hash)
	var out []*scratchFile
	for _, scratch := range u.messages {
		db, err := openReadOnly(scratch.path)
		if err != nil {
			continue
		}
		var name string
		err = db.QueryRow(query).Scan(&name)
		db.Close()
		if err == nil {
			out = append(out, scratch)
		}
	}
	return out
}

// loadRecordLines reads every row of the chat identified by userName,
// which may be a chat-table hash or a wxid.
func (u *UserDB) loadRecordLines(userName string, skipResource bool) ([]RecordLine, error) {
	hash := userName
	if _, ok := u.chats[hash]; !ok {
		hash = genMD5(userName)
	}
	var lines []RecordLine
	for _, scratch := range u.findChatTables(hash) {
		db, err := openReadOnly(scratch.path)
		if err != nil {
			return nil, err
		}
		rows, err := db.Query(fmt.Sprintf(
			"SELECT MesLocalID, MesSvrID, CreateTime, Message, Status, ImgStatus, Type, Des FROM Chat_%s", hash))
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: Chat_%s: %v", ErrSchemaMismatch, hash, err)
		}
		for rows.Next() {
			var (
				line    RecordLine
				rawType uint32
			)
			if err := rows.Scan(
				&line.LocalID, &line.ServerID, &line.CreatedTime, &line.Message,
				&line.Status, &line.ImgStatus, &rawType, &line.IsIncoming,
			); err != nil {
				log.Warn().Err(err).Msg("failed to parse chat line")
				continue
			}
			line.Type = msgTypeFromRaw(rawType)
			line.SkipResource = skipResource
			lines = append(lines, line)
		}
		err = rows.Err()
		rows.Close()
		db.Close()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
		}
	}
	return lines, nil
}

// ChatIDs lists every chat-table hash of the shard.
func (u *UserDB) ChatIDs() []string {
	out := make([]string, 0, len(u.chats))
	for hash := range u.chats {
		out = append(out, hash)
	}
	return out
}

// FindContacts returns the chat-table hashes of contacts matching name:
// every contact with a chat table when name is empty, otherwise
// contacts whose hash equals name or whose name or decoded remark
// contains it.
func (u *UserDB) FindContacts(name string) []string {
	var out []string
	for hash, c := range u.contacts {
		if _, ok := u.chats[hash]; !ok {
			log.Debug().
				Str("hash", hash).
				Str("name", c.Name).
				Str("remark", c.RemarkText()).
				Msg("chat table not found")
			continue
		}
		if name == "" || hash == name ||
			strings.Contains(c.Name, name) ||
			strings.Contains(c.RemarkText(), name) {
			log.Warn().
				Str("hash", hash).
				Str("name", c.Name).
				Str("remark", c.RemarkText()).
				Msg("chat table found")
			out = append(out, hash)
		}
	}
	return out
}

// RecordNames resolves the targeting input: nil means every chat-table
// hash, an empty list means every known contact that has a chat table,
// and explicit names pass through for substring matching.
func (u *UserDB) RecordNames(names []string) []string {
	switch {
	case names == nil:
		return u.ChatIDs()
	case len(names) == 0:
		return u.FindContacts("")
	default:
		return names
	}
}
