// Package backuptest fabricates minimal on-disk device backups for
// tests: the three top-level plists, a manifest database, and the
// sharded blob tree.
package backuptest

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"howett.net/plist"

	"github.com/darkskygit/ChatImporter/internal/backup"
)

// File is one entry of the fabricated backup.
type File struct {
	Domain       string
	RelativePath string
	Data         []byte
}

// Builder accumulates files and writes a complete unencrypted backup
// root.
type Builder struct {
	files []File
}

// NewBuilder returns an empty backup builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// AddFile appends a file to the backup.
func (b *Builder) AddFile(domain, relativePath string, data []byte) *Builder {
	b.files = append(b.files, File{Domain: domain, RelativePath: relativePath, Data: data})
	return b
}

// Write materializes the backup under root: plists, Manifest.db and the
// two-hex-prefix blob tree. Entries land in insertion order.
func (b *Builder) Write(root string) error {
	if err := writePlist(filepath.Join(root, "Status.plist"), map[string]interface{}{
		"UUID":          "0000-TEST",
		"BackupState":   "new",
		"SnapshotState": "finished",
		"IsFullBackup":  true,
		"Version":       "3.3",
		"Date":          time.Unix(1700000000, 0).UTC(),
	}); err != nil {
		return err
	}
	if err := writePlist(filepath.Join(root, "Info.plist"), map[string]interface{}{
		"Device Name":     "Test Device",
		"Product Type":    "iPhone0,0",
		"Product Version": "13.0",
	}); err != nil {
		return err
	}
	if err := writePlist(filepath.Join(root, "Manifest.plist"), map[string]interface{}{
		"IsEncrypted":    false,
		"WasPasscodeSet": false,
		"Version":        "10.0",
		"Date":           time.Unix(1700000000, 0).UTC(),
		"Lockdown": map[string]interface{}{
			"DeviceName":     "Test Device",
			"ProductVersion": "13.0",
		},
	}); err != nil {
		return err
	}

	db, err := sql.Open("sqlite3", filepath.Join(root, "Manifest.db"))
	if err != nil {
		return err
	}
	defer db.Close()
	if _, err := db.Exec(
		"CREATE TABLE Files (fileid TEXT, domain TEXT, relativePath TEXT, flags INTEGER, file BLOB)"); err != nil {
		return err
	}

	for _, f := range b.files {
		fileid := backup.ComputeFileID(f.Domain, f.RelativePath)
		info, err := FileInfoBlob(uint64(len(f.Data)), nil)
		if err != nil {
			return err
		}
		if _, err := db.Exec(
			"INSERT INTO Files (fileid, domain, relativePath, flags, file) VALUES (?, ?, ?, ?, ?)",
			fileid, f.Domain, f.RelativePath, 1, info); err != nil {
			return err
		}
		blobPath := filepath.Join(root, fileid[:2], fileid)
		if err := os.MkdirAll(filepath.Dir(blobPath), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(blobPath, f.Data, 0o644); err != nil {
			return err
		}
	}
	return nil
}

func writePlist(path string, v interface{}) error {
	data, err := plist.Marshal(v, plist.XMLFormat)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// FileInfoBlob encodes the keyed-archiver file blob of a manifest row.
// encryptionKey, when non-nil, is stored as the NS.data payload.
func FileInfoBlob(size uint64, encryptionKey []byte) ([]byte, error) {
	objects := []interface{}{
		"$null",
		map[string]interface{}{
			"Size":            size,
			"ProtectionClass": uint64(0),
		},
	}
	root := objects[1].(map[string]interface{})
	if encryptionKey != nil {
		root["EncryptionKey"] = plist.UID(2)
		objects = append(objects, map[string]interface{}{"NS.data": encryptionKey})
	}
	archive := map[string]interface{}{
		"$version":  uint64(100000),
		"$archiver": "NSKeyedArchiver",
		"$objects":  objects,
		"$top":      map[string]interface{}{"root": plist.UID(1)},
	}
	return plist.Marshal(archive, plist.BinaryFormat)
}

// SettingsArchive encodes a minimal mmsetting.archive whose $objects
// carry the wxid, display name and head image URL.
func SettingsArchive(wxid, name, head string) ([]byte, error) {
	objects := []interface{}{"$null", "settings", wxid, name}
	if head != "" {
		objects = append(objects, head)
	}
	archive := map[string]interface{}{
		"$version":  uint64(100000),
		"$archiver": "NSKeyedArchiver",
		"$objects":  objects,
		"$top":      map[string]interface{}{"root": plist.UID(1)},
	}
	return plist.Marshal(archive, plist.BinaryFormat)
}

// SqliteBlob builds an on-disk SQLite database in dir via build and
// returns its raw bytes, for embedding databases into backups.
func SqliteBlob(dir string, build func(db *sql.DB) error) ([]byte, error) {
	path := filepath.Join(dir, fmt.Sprintf("blob-%d.sqlite", time.Now().UnixNano()))
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if err := build(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := db.Close(); err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}
