package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"howett.net/plist"
)

// Status mirrors Status.plist.
type Status struct {
	UUID          string    `plist:"UUID"`
	BackupState   string    `plist:"BackupState"`
	SnapshotState string    `plist:"SnapshotState"`
	IsFullBackup  bool      `plist:"IsFullBackup"`
	Version       string    `plist:"Version"`
	Date          time.Time `plist:"Date"`
}

// Info mirrors the subset of Info.plist the importer reports on.
type Info struct {
	DeviceName     string    `plist:"Device Name"`
	DisplayName    string    `plist:"Display Name"`
	ProductType    string    `plist:"Product Type"`
	ProductVersion string    `plist:"Product Version"`
	SerialNumber   string    `plist:"Serial Number"`
	LastBackupDate time.Time `plist:"Last Backup Date"`
}

// Lockdown is the device descriptor nested in Manifest.plist.
type Lockdown struct {
	DeviceName     string `plist:"DeviceName"`
	ProductType    string `plist:"ProductType"`
	ProductVersion string `plist:"ProductVersion"`
	SerialNumber   string `plist:"SerialNumber"`
	UniqueDeviceID string `plist:"UniqueDeviceID"`
}

// Manifest mirrors Manifest.plist plus the unlock state derived from it.
type Manifest struct {
	BackupKeyBag   []byte    `plist:"BackupKeyBag"`
	ManifestKey    []byte    `plist:"ManifestKey"`
	IsEncrypted    bool      `plist:"IsEncrypted"`
	WasPasscodeSet bool      `plist:"WasPasscodeSet"`
	Version        string    `plist:"Version"`
	Date           time.Time `plist:"Date"`
	Lockdown       Lockdown  `plist:"Lockdown"`

	keybag               *KeyBag
	manifestKeyUnwrapped []byte
}

// Keybag returns the parsed keybag, or nil before ParseKeybag.
func (m *Manifest) Keybag() *KeyBag {
	return m.keybag
}

// Backup is a device backup rooted at Path. Construction runs in three
// phases: Open parses the top-level plists, the keybag is parsed and
// unlocked when the backup is encrypted, and ParseManifest materializes
// the file catalog.
type Backup struct {
	Path     string
	Status   Status
	Info     Info
	Manifest Manifest
	Files    []BackupFile
}

// PasscodePrompt supplies the backup passcode when the manifest is
// encrypted.
type PasscodePrompt func() (string, error)

// OpenAndIndex runs the full three-phase construction: top-level
// plists, keybag unlock (prompting for the passcode when the backup is
// encrypted), manifest materialization and file-key unwrapping.
func OpenAndIndex(root string, prompt PasscodePrompt) (*Backup, error) {
	b, err := Open(root)
	if err != nil {
		return nil, err
	}
	if b.Manifest.IsEncrypted {
		if err := b.ParseKeybag(); err != nil {
			return nil, err
		}
		log.Debug().Msg("trying decrypt of backup keybag")
		if kb := b.Manifest.Keybag(); kb != nil {
			if prompt == nil {
				return nil, fmt.Errorf("%w: encrypted backup without a passcode prompt", ErrKeybagLocked)
			}
			passcode, err := prompt()
			if err != nil {
				return nil, err
			}
			if err := kb.UnlockWithPasscode(passcode); err != nil {
				return nil, err
			}
		}
		if err := b.UnlockManifestKey(); err != nil {
			return nil, err
		}
		if err := b.ParseManifest(); err != nil {
			return nil, err
		}
		return b, b.UnwrapFileKeys()
	}
	return b, b.ParseManifest()
}

// Open parses Status.plist, Info.plist and Manifest.plist under root.
func Open(root string) (*Backup, error) {
	b := &Backup{Path: root}
	if err := unmarshalPlist(filepath.Join(root, "Status.plist"), &b.Status); err != nil {
		return nil, err
	}
	if err := unmarshalPlist(filepath.Join(root, "Info.plist"), &b.Info); err != nil {
		return nil, err
	}
	if err := unmarshalPlist(filepath.Join(root, "Manifest.plist"), &b.Manifest); err != nil {
		return nil, err
	}
	return b, nil
}

func unmarshalPlist(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrBackupMalformed, filepath.Base(path), err)
	}
	if _, err := plist.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrBackupMalformed, filepath.Base(path), err)
	}
	return nil
}

// ParseKeybag parses the keybag embedded in Manifest.plist.
func (b *Backup) ParseKeybag() error {
	if len(b.Manifest.BackupKeyBag) == 0 {
		return nil
	}
	kb, err := ParseKeybag(b.Manifest.BackupKeyBag)
	if err != nil {
		return err
	}
	b.Manifest.keybag = kb
	return nil
}

// UnlockManifestKey unwraps the manifest database key against the
// unlocked keybag. The ManifestKey blob is a 4-byte little-endian
// protection class followed by the wrapped key.
func (b *Backup) UnlockManifestKey() error {
	if len(b.Manifest.ManifestKey) == 0 {
		return nil
	}
	if b.Manifest.keybag == nil {
		return fmt.Errorf("%w: manifest key present but keybag missing", ErrBackupMalformed)
	}
	class, wrapped, err := fileKeyClass(b.Manifest.ManifestKey)
	if err != nil {
		return err
	}
	key, err := b.Manifest.keybag.UnwrapKeyForClass(class, wrapped)
	if err != nil {
		return err
	}
	b.Manifest.manifestKeyUnwrapped = key
	return nil
}

// UnwrapFileKeys unwraps every file's encryption key against the keybag.
// Files whose class key is unavailable keep a nil unwrapped key; the
// reader fails them individually.
func (b *Backup) UnwrapFileKeys() error {
	kb := b.Manifest.keybag
	if kb == nil {
		return nil
	}
	log.Info().Msg("unwrapping file keys")
	for i := range b.Files {
		fi := b.Files[i].Info
		if fi == nil {
			continue
		}
		if err := fi.UnwrapKey(kb); err != nil {
			log.Warn().
				Str("file", b.Files[i].RelativePath).
				Err(err).
				Msg("failed to unwrap file key")
		}
	}
	log.Info().Msg("unwrapping file keys done")
	return nil
}
