package wechat

import (
	"encoding/binary"
	"fmt"
	"math/bits"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spaolacci/murmur3"

	"github.com/darkskygit/ChatImporter/internal/backup"
	"github.com/darkskygit/ChatImporter/internal/record"
)

// subSecondSeed seeds the server-id hash behind the deterministic
// sub-second timestamp offset. Changing it breaks idempotent re-import.
const subSecondSeed = 42

// subSecondOffset derives the sub-second disambiguation in [0, 1000):
// the first 64-bit word of murmur3-x64-128 over the big-endian server
// id, widened, scaled by 1000, floor-divided by 2^32 and reduced mod
// 1000. Pure, so a fixed line always lands on the same millisecond.
func subSecondOffset(serverID int64) int64 {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(serverID))
	h1, _ := murmur3.Sum128WithSeed(buf[:], subSecondSeed)
	hi, lo := bits.Mul64(h1, 1000)
	return int64((hi<<32 | lo>>32) % 1000)
}

var (
	firstLineSenderPattern = regexp.MustCompile(`^\s*(.*?)\s*?:\s*?\n`)

	fromUserAttrPattern       = regexp.MustCompile(`fromusername\s*?=\s*?"(.*?)"`)
	fromUserTagPattern        = regexp.MustCompile(`<fromusername>((?s).*?)</fromusername>`)
	fromUserTagCDataPattern   = regexp.MustCompile(`<fromusername><!\[CDATA\[((?s).*?)]]></fromusername>`)
	lineSeparatorReplacer     = strings.NewReplacer("\u2028", " ", "\u2029", " ")
	fromUserFallbackMsgTypes  = []MsgType{MsgBigEmoji, MsgCustomApp, MsgVideo, MsgVoipStatus, MsgSystem, MsgRevoke}
	contentPlaceholderByTypes = map[MsgType]string{
		MsgImage:              "[img]",
		MsgVideo:              "[video]",
		MsgShortVideo:         "[video]",
		MsgVoice:              "[voice]",
		MsgBigEmoji:           "[emoji]",
		MsgContactShare:       "[contact]",
		MsgWeWorkContactShare: "[contact]",
		MsgLocation:           "[location]",
		MsgCustomApp:          "[app]",
		MsgVoipContent:        "[voip]",
		MsgVoipStatus:         "[voip]",
		MsgSystem:             "[system]",
		MsgRevoke:             "[revoke]",
	}
)

// senderFromPayload resolves the sender named by the fromusername
// attribute or tag of an XML-ish payload.
func (u *UserDB) senderFromPayload(content string) (*Contact, bool) {
	for _, pattern := range []*regexp.Regexp{fromUserAttrPattern, fromUserTagPattern, fromUserTagCDataPattern} {
		m := pattern.FindStringSubmatch(content)
		if m == nil || len(m) != 2 || m[1] == "" {
			continue
		}
		if c, ok := u.contacts[genMD5(m[1])]; ok {
			return c, true
		}
		return ContactFromName(m[1]), true
	}
	return nil, false
}

// senderFromHeader parses the leading "<id>:\n" line of a group message
// body, resolving the id against the contact index and stripping the
// header from the content.
func (u *UserDB) senderFromHeader(content string) (*Contact, string, bool) {
	if m := firstLineSenderPattern.FindStringSubmatch(content); m != nil && len(m) == 2 && m[1] != "" {
		contact, ok := u.contacts[genMD5(m[1])]
		if !ok {
			contact = ContactFromName(m[1])
		}
		stripped := ""
		if idx := strings.Index(content, "\n"); idx >= 0 {
			stripped = content[idx+1:]
		}
		return contact, stripped, true
	}
	return nil, "", false
}

func msgTypeIn(t MsgType, set []MsgType) bool {
	for _, m := range set {
		if t == m {
			return true
		}
	}
	return false
}

// deriveSender computes (sender id, sender name, content) for a line
// per the group-line heuristics. Incoming group rows without any
// resolvable sender fail and are dropped by the caller.
func (u *UserDB) deriveSender(line RecordLine, contact *Contact) (string, string, string, error) {
	if !line.IsIncoming {
		// Outgoing: the account itself, with any leading sender header
		// stripped off the body.
		if content, ok := splitOwnHeader(line.Message); ok {
			return u.wxid, u.name, content, nil
		}
		return u.wxid, u.name, line.Message, nil
	}
	if !contact.IsGroup() {
		return contact.Name, contact.RemarkText(), line.Message, nil
	}
	if sender, content, ok := u.senderFromHeader(line.Message); ok {
		return sender.Name, sender.RemarkText(), content, nil
	}
	if msgTypeIn(line.Type, fromUserFallbackMsgTypes) {
		if sender, ok := u.senderFromPayload(line.Message); ok {
			return sender.Name, sender.RemarkText(), line.Message, nil
		}
	}
	return "", "", "", fmt.Errorf("%w: %s, %d, %d, %v",
		ErrGroupSenderUnresolvable, genMD5(contact.Name), line.LocalID, line.CreatedTime, line.Type)
}

// splitOwnHeader strips a leading "<id>:\n" header off an outgoing
// message body.
func splitOwnHeader(content string) (string, bool) {
	m := firstLineSenderPattern.FindStringSubmatch(content)
	if m == nil || len(m) != 2 || m[1] == "" {
		return "", false
	}
	stripped := ""
	if idx := strings.Index(content, "\n"); idx >= 0 {
		stripped = content[idx+1:]
	}
	return stripped, true
}

// TransformRecordLine normalizes one raw row into the canonical record
// schema, resolving attachments and per-type metadata.
func (u *UserDB) TransformRecordLine(b *backup.Backup, line RecordLine, contact *Contact) (record.RecordType, error) {
	senderID, senderName, content, err := u.deriveSender(line, contact)
	if err != nil {
		return record.RecordType{}, err
	}

	hashedUser := genMD5(contact.Name)
	var (
		metadata    record.AttachMetadata
		hasMetadata bool
		attaches    record.Attachments
	)

	switch line.Type {
	case MsgNormal:
		content = lineSeparatorReplacer.Replace(content)
	case MsgImage:
		if meta, files, ok := line.GetImage(b, u.accountFiles, u.Account, hashedUser); ok {
			metadata, attaches = meta, files
		} else {
			metadata = line.ImageMetadata()
		}
		hasMetadata = true
	case MsgVideo, MsgShortVideo:
		if meta, files, ok := line.GetVideo(b, u.accountFiles, u.Account, hashedUser); ok {
			metadata, attaches = meta, files
		} else {
			metadata = line.VideoMetadata()
		}
		hasMetadata = true
	case MsgVoice:
		if meta, files, ok := line.GetAudio(b, u.accountFiles, u.Account, hashedUser); ok {
			metadata, attaches = meta, files
		} else {
			metadata = line.AudioMetadata()
		}
		hasMetadata = true
	case MsgBigEmoji:
		metadata, hasMetadata = line.EmojiMetadata(), true
	case MsgContactShare, MsgWeWorkContactShare:
		metadata, hasMetadata = line.ContactMetadata(), true
	case MsgLocation:
		metadata, hasMetadata = line.LocationMetadata(), true
	case MsgCustomApp:
		metadata, attaches = line.GetCustomApp(b, u.Account, hashedUser)
		hasMetadata = true
	case MsgVoipContent:
		metadata = record.NewAttachMetadata().WithTag("type", line.Message)
		hasMetadata = true
	case MsgVoipStatus:
		metadata, hasMetadata = line.VoipStatusMetadata(), true
	case MsgSystem:
		metadata = record.NewAttachMetadata().WithTag("content", line.Message)
		hasMetadata = true
	case MsgRevoke:
		metadata, hasMetadata = line.RevokeMetadata(), true
	}

	if hasMetadata {
		if placeholder, ok := contentPlaceholderByTypes[line.Type]; ok {
			content = placeholder
		}
	}

	rec := record.Record{
		ChatType:   "WeChat",
		OwnerID:    u.wxid,
		GroupID:    contact.Name,
		SenderID:   senderID,
		SenderName: senderName,
		Content:    content,
		Timestamp:  line.CreatedTime*1000 + subSecondOffset(line.ServerID),
	}
	if hasMetadata {
		meta := metadata.WithType(int(line.Type))
		raw, err := meta.Marshal()
		if err != nil {
			log.Warn().Err(err).Msg("failed to serialize metadata")
		} else {
			rec.Metadata = raw
		}
		return record.NewRecordTypeWithAttaches(rec, attaches), nil
	}
	return record.NewRecordType(rec), nil
}

// TransformRecordLines maps rows to records, dropping rows that fail
// with a logged error.
func (u *UserDB) TransformRecordLines(b *backup.Backup, contact *Contact, lines []RecordLine) []record.RecordType {
	out := make([]record.RecordType, 0, len(lines))
	for _, line := range lines {
		rt, err := u.TransformRecordLine(b, line, contact)
		if err != nil {
			log.Error().Err(err).Msg("failed to transform record line")
			continue
		}
		out = append(out, rt)
	}
	return out
}
