package wechat

import (
	"fmt"
	"regexp"
	"unicode/utf8"
)

// remarkMagic opens a length-prefixed contact remark blob.
const remarkMagic = 0x0A

// Contact is one row of the per-account Friend table. The remark and
// head image columns are raw binary blobs; their decoders fail benignly.
type Contact struct {
	Name     string
	Remark   []byte
	Head     []byte
	UserType int
}

// ContactFromName synthesizes a name-only contact for senders that are
// absent from the contact table.
func ContactFromName(name string) *Contact {
	return &Contact{Name: name}
}

// decodeRemark parses a length-prefixed remark blob: magic byte 0x0A, a
// length byte, then that many bytes of UTF-8. Returns the remark and
// the number of bytes consumed.
func decodeRemark(data []byte) (string, int, error) {
	if len(data) < 2 || data[0] != remarkMagic {
		return "", 0, fmt.Errorf("remark blob has no length prefix")
	}
	length := int(data[1])
	if len(data) < 2+length {
		return "", 0, fmt.Errorf("remark blob shorter than its declared length")
	}
	payload := data[2 : 2+length]
	if !utf8.Valid(payload) {
		return "", 0, fmt.Errorf("remark payload is not UTF-8")
	}
	return string(payload), 2 + length, nil
}

// RemarkText decodes the remark blob; any parse failure yields the
// empty remark.
func (c *Contact) RemarkText() string {
	remark, _, err := decodeRemark(c.Remark)
	if err != nil {
		return ""
	}
	return remark
}

// IsGroup reports whether the contact names a group chat room.
func (c *Contact) IsGroup() bool {
	return hasChatroomSuffix(c.Name)
}

var headImageURLPattern = regexp.MustCompile(`(http://[a-zA-Z\./_\d]*/0)([^a-zA-Z\./_\d]|$)`)

// HeadImageURL scrapes the avatar URL out of the head image blob.
func (c *Contact) HeadImageURL() (string, bool) {
	if !utf8.Valid(c.Head) {
		return "", false
	}
	m := headImageURLPattern.FindStringSubmatch(string(c.Head))
	if m == nil {
		return "", false
	}
	return m[1], true
}

const chatroomSuffix = "@chatroom"

func hasChatroomSuffix(name string) bool {
	return len(name) >= len(chatroomSuffix) && name[len(name)-len(chatroomSuffix):] == chatroomSuffix
}
