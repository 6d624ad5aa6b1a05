package backup

import (
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// FileInfo is the decoded per-file binary plist from the manifest
// database. On an encrypted backup WrappedKey is always present;
// UnwrappedKey is populated exactly once, after the keybag unlock.
type FileInfo struct {
	Size            uint64
	ProtectionClass uint32
	WrappedKey      []byte
	UnwrappedKey    []byte
}

// UnwrapKey unwraps the file key against the keybag. No-op when the file
// carries no wrapped key or was already unwrapped.
func (fi *FileInfo) UnwrapKey(kb *KeyBag) error {
	if len(fi.WrappedKey) == 0 || len(fi.UnwrappedKey) != 0 {
		return nil
	}
	key, err := kb.UnwrapKeyForClass(fi.ProtectionClass, fi.WrappedKey)
	if err != nil {
		return err
	}
	fi.UnwrappedKey = key
	return nil
}

// BackupFile is one manifest row: a file of the backed-up device,
// addressed by its 40-hex file id. Immutable after manifest load.
type BackupFile struct {
	FileID       string
	Domain       string
	RelativePath string
	Flags        int64
	Info         *FileInfo
}

// ComputeFileID derives the manifest file id of a domain/path pair:
// lowercase hex SHA-1 of "<domain>-<relativePath>".
func ComputeFileID(domain, relativePath string) string {
	sum := sha1.Sum([]byte(domain + "-" + relativePath))
	return hex.EncodeToString(sum[:])
}

// fileKeyClass reads the protection class prefix off a manifest
// EncryptionKey blob: 4 bytes little-endian class, then the wrapped key.
func fileKeyClass(blob []byte) (uint32, []byte, error) {
	if len(blob) < 4 {
		return 0, nil, fmt.Errorf("%w: encryption key blob too short", ErrCorruptBlob)
	}
	return binary.LittleEndian.Uint32(blob[:4]), blob[4:], nil
}
