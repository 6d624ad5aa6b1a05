package backup

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

// ReadFile resolves a manifest entry to its on-disk blob under
// <root>/<fileid[0:2]>/<fileid>, decrypts it when the backup is
// encrypted, and truncates the plaintext to the declared file size.
func (b *Backup) ReadFile(file BackupFile) ([]byte, error) {
	if len(file.FileID) < 2 {
		return nil, fmt.Errorf("%w: fileid %q", ErrNotOnDisk, file.FileID)
	}
	path := filepath.Join(b.Path, file.FileID[:2], file.FileID)
	log.Trace().Str("path", path).Msg("reading backup file")

	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotOnDisk, file.RelativePath)
	}

	if !b.Manifest.IsEncrypted {
		return contents, nil
	}

	if file.Info == nil {
		return nil, fmt.Errorf("%w: %s has no file info", ErrNoEncryptionKey, file.RelativePath)
	}
	if len(file.Info.UnwrappedKey) == 0 {
		if len(file.Info.WrappedKey) == 0 {
			return nil, fmt.Errorf("%w: %s", ErrNoEncryptionKey, file.RelativePath)
		}
		return nil, fmt.Errorf("%w: %s", ErrKeybagLocked, file.RelativePath)
	}

	dec, err := decryptWithKey(file.Info.UnwrappedKey, contents)
	if err != nil {
		return nil, err
	}
	if size := int(file.Info.Size); size < len(dec) {
		dec = dec[:size]
	}
	return dec, nil
}
