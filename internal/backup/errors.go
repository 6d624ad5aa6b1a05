package backup

import "errors"

// Error kinds surfaced by backup parsing and decryption. Callers match
// with errors.Is; wrapped errors carry the offending path or file id.
var (
	// ErrBackupMalformed indicates the backup root is missing one of the
	// required top-level plists or the manifest database is unreadable.
	ErrBackupMalformed = errors.New("backup malformed")

	// ErrKeybagLocked is returned when a decrypt is requested before the
	// keybag has been unlocked with a passcode.
	ErrKeybagLocked = errors.New("keybag locked")

	// ErrWrongPasscode is returned when any class key fails to unwrap
	// after passcode derivation.
	ErrWrongPasscode = errors.New("wrong passcode")

	// ErrFileNotInManifest is returned by exact lookups that match no
	// manifest row.
	ErrFileNotInManifest = errors.New("file not in manifest")

	// ErrNotOnDisk is returned when a manifest entry has no backing blob
	// under the backup root.
	ErrNotOnDisk = errors.New("file in manifest but not on disk")

	// ErrDecryptFailure covers AES layer failures on file payloads.
	ErrDecryptFailure = errors.New("decrypt failure")

	// ErrNoEncryptionKey is returned when an encrypted backup carries a
	// file record without a wrapped key.
	ErrNoEncryptionKey = errors.New("no encryption key for file")

	// ErrCorruptBlob is returned when an AES key unwrap integrity check
	// fails on data that should already be trusted.
	ErrCorruptBlob = errors.New("corrupt key blob")
)
