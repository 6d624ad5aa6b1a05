package backup

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/gobwas/glob"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
	"howett.net/plist"
)

// stagedManifestName is the stable name the decrypted manifest database
// is staged under inside the caller's home directory.
const stagedManifestName = "Downloads/decrypted_database.sqlite"

// ParseManifest loads the file catalog from Manifest.db, decrypting it
// first when the backup is encrypted. Rows materialize into Files in the
// manifest's insertion order.
func (b *Backup) ParseManifest() error {
	b.Files = b.Files[:0]

	dbPath := filepath.Join(b.Path, "Manifest.db")
	if b.Manifest.IsEncrypted {
		staged, err := b.stageDecryptedManifest(dbPath)
		if err != nil {
			return err
		}
		dbPath = staged
	}

	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?mode=ro&immutable=1", dbPath))
	if err != nil {
		return fmt.Errorf("%w: open manifest db: %v", ErrBackupMalformed, err)
	}
	defer db.Close()

	rows, err := db.Query("SELECT fileid, domain, relativePath, flags, file FROM Files")
	if err != nil {
		return fmt.Errorf("%w: query manifest db: %v", ErrBackupMalformed, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			file BackupFile
			blob []byte
		)
		if err := rows.Scan(&file.FileID, &file.Domain, &file.RelativePath, &file.Flags, &blob); err != nil {
			return fmt.Errorf("%w: scan manifest row: %v", ErrBackupMalformed, err)
		}
		info, err := parseFileInfo(blob)
		if err != nil {
			log.Error().Str("file", file.RelativePath).Err(err).Msg("failed to parse file info")
		} else {
			file.Info = info
		}
		b.Files = append(b.Files, file)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("%w: iterate manifest rows: %v", ErrBackupMalformed, err)
	}
	log.Debug().Int("files", len(b.Files)).Msg("manifest materialized")
	return nil
}

// stageDecryptedManifest decrypts Manifest.db with the unwrapped
// manifest key and writes it under the home directory so the SQL engine
// can open it from disk.
func (b *Backup) stageDecryptedManifest(dbPath string) (string, error) {
	if len(b.Manifest.manifestKeyUnwrapped) == 0 {
		return "", fmt.Errorf("%w: manifest key not unlocked", ErrKeybagLocked)
	}
	contents, err := os.ReadFile(dbPath)
	if err != nil {
		return "", fmt.Errorf("%w: Manifest.db: %v", ErrBackupMalformed, err)
	}
	dec, err := decryptWithKey(b.Manifest.manifestKeyUnwrapped, contents)
	if err != nil {
		return "", err
	}
	log.Debug().Int("bytes", len(dec)).Msg("decrypted manifest database")

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("%w: resolve home directory: %v", ErrBackupMalformed, err)
	}
	staged := filepath.Join(home, filepath.FromSlash(stagedManifestName))
	if err := os.MkdirAll(filepath.Dir(staged), 0o755); err != nil {
		return "", fmt.Errorf("%w: stage manifest: %v", ErrBackupMalformed, err)
	}
	if err := os.WriteFile(staged, dec, 0o600); err != nil {
		return "", fmt.Errorf("%w: stage manifest: %v", ErrBackupMalformed, err)
	}
	log.Trace().Str("path", staged).Msg("staged decrypted manifest database")
	return staged, nil
}

// keyedArchive is the shape of an NSKeyedArchiver property list.
type keyedArchive struct {
	Objects []interface{}          `plist:"$objects"`
	Top     map[string]interface{} `plist:"$top"`
}

// parseFileInfo walks the keyed-archiver graph of a manifest file blob:
// $top.root references the MBFile dictionary, whose EncryptionKey in
// turn references an NSMutableData object.
func parseFileInfo(blob []byte) (*FileInfo, error) {
	var archive keyedArchive
	if _, err := plist.Unmarshal(blob, &archive); err != nil {
		return nil, fmt.Errorf("decode file plist: %w", err)
	}
	root, ok := archiveObject(&archive, archive.Top["root"])
	if !ok {
		return nil, fmt.Errorf("file plist has no $top root")
	}
	dict, ok := root.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("file plist root is not a dictionary")
	}

	info := &FileInfo{
		Size:            asUint64(dict["Size"]),
		ProtectionClass: uint32(asUint64(dict["ProtectionClass"])),
	}
	if keyObj, ok := archiveObject(&archive, dict["EncryptionKey"]); ok {
		if keyDict, ok := keyObj.(map[string]interface{}); ok {
			if data, ok := keyDict["NS.data"].([]byte); ok {
				class, wrapped, err := fileKeyClass(data)
				if err != nil {
					return nil, err
				}
				if info.ProtectionClass == 0 {
					info.ProtectionClass = class
				}
				info.WrappedKey = wrapped
			}
		}
	}
	return info, nil
}

// archiveObject resolves a $objects reference, tolerating direct values.
func archiveObject(archive *keyedArchive, ref interface{}) (interface{}, bool) {
	uid, ok := ref.(plist.UID)
	if !ok {
		if ref == nil {
			return nil, false
		}
		return ref, true
	}
	if int(uid) >= len(archive.Objects) {
		return nil, false
	}
	return archive.Objects[uid], true
}

func asUint64(v interface{}) uint64 {
	switch n := v.(type) {
	case uint64:
		return n
	case int64:
		return uint64(n)
	case int:
		return uint64(n)
	case uint32:
		return uint64(n)
	case int32:
		return uint64(n)
	}
	return 0
}

// FindExact returns the single manifest entry for domain/path.
func (b *Backup) FindExact(domain, path string) (BackupFile, error) {
	for _, file := range b.Files {
		if file.Domain == domain && file.RelativePath == path {
			return file, nil
		}
	}
	return BackupFile{}, fmt.Errorf("%w: %s %s", ErrFileNotInManifest, domain, path)
}

// FindWildcard returns every entry of domain whose relative path matches
// the glob pattern; `*` spans any run of characters, `?` matches one.
// Results keep the manifest's insertion order.
func (b *Backup) FindWildcard(domain, pattern string) []BackupFile {
	matcher, err := glob.Compile(pattern)
	if err != nil {
		log.Warn().Str("pattern", pattern).Err(err).Msg("bad wildcard pattern")
		return nil
	}
	var out []BackupFile
	for _, file := range b.Files {
		if file.Domain == domain && matcher.Match(file.RelativePath) {
			out = append(out, file)
		}
	}
	return out
}

// FindRegex returns every entry of domain whose relative path matches
// the regular expression. An invalid pattern yields no matches.
func (b *Backup) FindRegex(domain, pattern string) []BackupFile {
	matcher, err := regexp.Compile(pattern)
	if err != nil {
		log.Warn().Str("pattern", pattern).Err(err).Msg("bad regex pattern")
		return nil
	}
	var out []BackupFile
	for _, file := range b.Files {
		if file.Domain == domain && matcher.MatchString(file.RelativePath) {
			out = append(out, file)
		}
	}
	return out
}

// FindFileID returns the manifest entry with the given file id.
func (b *Backup) FindFileID(fileid string) (BackupFile, error) {
	for _, file := range b.Files {
		if file.FileID == fileid {
			return file, nil
		}
	}
	return BackupFile{}, fmt.Errorf("%w: fileid %s", ErrFileNotInManifest, fileid)
}

// VerifyFileIDs checks the file-id identity law on the materialized
// catalog and reports the first violation.
func (b *Backup) VerifyFileIDs() error {
	for _, file := range b.Files {
		if want := ComputeFileID(file.Domain, file.RelativePath); want != file.FileID {
			return fmt.Errorf("%w: fileid %s does not match %s-%s", ErrBackupMalformed, file.FileID, file.Domain, file.RelativePath)
		}
	}
	return nil
}
