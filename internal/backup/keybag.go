package backup

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/pbkdf2"
)

// classKey is one protection-class entry of the keybag. The wrapped form
// is always present; Key is populated by UnlockWithPasscode.
type classKey struct {
	UUID       uuid.UUID
	Class      uint32
	Wrap       uint32
	KeyType    uint32
	WrappedKey []byte
	Key        []byte
}

// wrapPasscode marks class keys wrapped under the passcode-derived key.
// Keys carrying only the device-UID bit cannot be unwrapped off-device.
const wrapPasscode = 2

// KeyBag holds the backup keybag: the passcode derivation parameters
// from the header and one class key per protection class.
type KeyBag struct {
	UUID uuid.UUID
	Type uint32
	Wrap uint32

	salt       []byte
	iterations int
	dpsl       []byte
	dpic       int

	classKeys map[uint32]*classKey
	unlocked  bool
}

// ParseKeybag parses the BackupKeyBag TLV stream: 4-byte ASCII tag,
// 4-byte big-endian length, value. Header tags accumulate onto the bag
// until the first class entry; each subsequent UUID tag opens a new
// class entry.
func ParseKeybag(data []byte) (*KeyBag, error) {
	kb := &KeyBag{classKeys: make(map[uint32]*classKey)}

	var current *classKey
	sawHeaderUUID := false
	for pos := 0; pos < len(data); {
		if pos+8 > len(data) {
			return nil, fmt.Errorf("%w: truncated keybag tag at %d", ErrBackupMalformed, pos)
		}
		tag := string(data[pos : pos+4])
		length := int(binary.BigEndian.Uint32(data[pos+4 : pos+8]))
		pos += 8
		if pos+length > len(data) {
			return nil, fmt.Errorf("%w: truncated keybag value for %s", ErrBackupMalformed, tag)
		}
		value := data[pos : pos+length]
		pos += length

		switch tag {
		case "VERS", "HMCK", "DPWT", "TYPE":
			if tag == "TYPE" && current == nil {
				kb.Type = beUint32(value)
			}
			// Remaining header bookkeeping is not needed for unlock.
		case "UUID":
			if !sawHeaderUUID {
				sawHeaderUUID = true
				kb.UUID, _ = uuid.FromBytes(value)
				continue
			}
			current = &classKey{}
			current.UUID, _ = uuid.FromBytes(value)
		case "WRAP":
			if current == nil {
				kb.Wrap = beUint32(value)
			} else {
				current.Wrap = beUint32(value)
			}
		case "SALT":
			kb.salt = append([]byte(nil), value...)
		case "ITER":
			kb.iterations = int(beUint32(value))
		case "DPSL":
			kb.dpsl = append([]byte(nil), value...)
		case "DPIC":
			kb.dpic = int(beUint32(value))
		case "CLAS":
			if current != nil {
				current.Class = beUint32(value)
				kb.classKeys[current.Class] = current
			}
		case "KTYP":
			if current != nil {
				current.KeyType = beUint32(value)
			}
		case "WPKY":
			if current != nil {
				current.WrappedKey = append([]byte(nil), value...)
			}
		default:
			log.Trace().Str("tag", tag).Int("len", length).Msg("ignoring keybag tag")
		}
	}

	if len(kb.salt) == 0 || kb.iterations == 0 {
		return nil, fmt.Errorf("%w: keybag missing passcode derivation parameters", ErrBackupMalformed)
	}
	if len(kb.classKeys) == 0 {
		return nil, fmt.Errorf("%w: keybag carries no class keys", ErrBackupMalformed)
	}
	return kb, nil
}

func beUint32(b []byte) uint32 {
	if len(b) < 4 {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

// UnlockWithPasscode derives the keybag unlock key from the passcode and
// unwraps every passcode-wrapped class key. Derivation runs in two PBKDF2
// stages: SHA-256 over the DPSL/DPIC parameters, then SHA-1 over
// SALT/ITER. Any unwrap failure rejects the whole keybag.
func (kb *KeyBag) UnlockWithPasscode(passcode string) error {
	derived := []byte(passcode)
	if kb.dpic > 0 && len(kb.dpsl) > 0 {
		derived = pbkdf2.Key(derived, kb.dpsl, kb.dpic, 32, sha256.New)
	}
	derived = pbkdf2.Key(derived, kb.salt, kb.iterations, 32, sha1.New)

	for _, ck := range kb.classKeys {
		if len(ck.WrappedKey) == 0 || ck.Wrap&wrapPasscode == 0 {
			continue
		}
		key, err := aesUnwrapKey(derived, ck.WrappedKey)
		if err != nil {
			kb.unlocked = false
			return fmt.Errorf("%w: class %d", ErrWrongPasscode, ck.Class)
		}
		ck.Key = key
	}
	kb.unlocked = true
	log.Debug().Int("classes", len(kb.classKeys)).Msg("keybag unlocked")
	return nil
}

// Unlocked reports whether UnlockWithPasscode has succeeded.
func (kb *KeyBag) Unlocked() bool {
	return kb.unlocked
}

// UnwrapKeyForClass unwraps a per-file wrapped key against the class key
// of the given protection class.
func (kb *KeyBag) UnwrapKeyForClass(class uint32, wrapped []byte) ([]byte, error) {
	if !kb.unlocked {
		return nil, ErrKeybagLocked
	}
	ck, ok := kb.classKeys[class]
	if !ok || len(ck.Key) == 0 {
		return nil, fmt.Errorf("%w: protection class %d", ErrNoEncryptionKey, class)
	}
	key, err := aesUnwrapKey(ck.Key, wrapped)
	if err != nil {
		return nil, err
	}
	return key, nil
}
