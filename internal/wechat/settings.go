package wechat

import (
	"fmt"
	"strings"

	"howett.net/plist"
)

// accountSettings is the account identity pulled from the settings
// archives: the wxid, the display name and the head image URL. Fields
// missing from both archives stay empty.
type accountSettings struct {
	WXID string
	Name string
	Head string
}

// settingsArchive is the keyed-archiver shape of mmsetting.archive.
type settingsArchive struct {
	Objects []interface{} `plist:"$objects"`
}

// parseSettingsArchive reads the identity fields out of the archived
// settings container: $objects[2] is the wxid, $objects[3] the display
// name, and the head image is the first URL in the array that starts
// with http:// and mentions both mmhead and /132. Missing indices leave
// the target field empty.
func parseSettingsArchive(data []byte) (accountSettings, error) {
	var archive settingsArchive
	if _, err := plist.Unmarshal(data, &archive); err != nil {
		return accountSettings{}, fmt.Errorf("%w: %v", ErrPlistMalformed, err)
	}
	var settings accountSettings
	if len(archive.Objects) > 2 {
		settings.WXID, _ = archive.Objects[2].(string)
	}
	if len(archive.Objects) > 3 {
		settings.Name, _ = archive.Objects[3].(string)
	}
	for _, obj := range archive.Objects {
		s, ok := obj.(string)
		if !ok {
			continue
		}
		if strings.HasPrefix(s, "http://") && strings.Contains(s, "mmhead") && strings.Contains(s, "/132") {
			settings.Head = s
			break
		}
	}
	return settings, nil
}

// Key-value settings archive slots carrying the same identity fields.
const (
	kvKeyWXID = "86"
	kvKeyName = "88"
	kvKeyHead = "headimgurl"
)

// fillFromKV backfills identity fields the plist archive left empty.
func (s *accountSettings) fillFromKV(m kvMap) {
	if s.WXID == "" {
		s.WXID = m.Lookup(kvKeyWXID)
	}
	if s.Name == "" {
		s.Name = m.Lookup(kvKeyName)
	}
	if s.Head == "" {
		s.Head = m.Lookup(kvKeyHead)
	}
}
