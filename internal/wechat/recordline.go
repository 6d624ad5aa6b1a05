package wechat

import (
	"math"
	"regexp"

	"github.com/rs/zerolog/log"

	"github.com/darkskygit/ChatImporter/internal/record"
)

// MsgType is the message type tag of a chat table row.
type MsgType uint32

const (
	MsgNormal             MsgType = 1
	MsgImage              MsgType = 3
	MsgVoice              MsgType = 34
	MsgContactShare       MsgType = 42
	MsgVideo              MsgType = 43
	MsgBigEmoji           MsgType = 47
	MsgLocation           MsgType = 48
	MsgCustomApp          MsgType = 49
	MsgVoipContent        MsgType = 50
	MsgShortVideo         MsgType = 62
	MsgVoipStatus         MsgType = 64
	MsgWeWorkContactShare MsgType = 66
	MsgSystem             MsgType = 10000
	MsgRevoke             MsgType = 10002
	MsgUnknown            MsgType = math.MaxUint32
)

// msgTypeFromRaw classifies a raw type tag. Unknown tags map to
// MsgUnknown with a warning, never an error.
func msgTypeFromRaw(raw uint32) MsgType {
	switch t := MsgType(raw); t {
	case MsgNormal, MsgImage, MsgVoice, MsgContactShare, MsgVideo, MsgBigEmoji,
		MsgLocation, MsgCustomApp, MsgVoipContent, MsgShortVideo, MsgVoipStatus,
		MsgWeWorkContactShare, MsgSystem, MsgRevoke:
		return t
	default:
		log.Warn().Uint32("type", raw).Msg("unknown message type")
		return MsgUnknown
	}
}

// RecordLine is one raw row of a Chat_<hash> table.
type RecordLine struct {
	LocalID      int64
	ServerID     int64
	CreatedTime  int64
	Message      string
	Status       int
	ImgStatus    int
	Type         MsgType
	IsIncoming   bool
	SkipResource bool
}

// The message bodies of non-Normal types carry XML-ish fragments that
// are not well-formed XML; fields are pulled with anchored patterns,
// preferring CDATA variants, and empty captures are filtered out.
var (
	clientIDPattern = regexp.MustCompile(`clientmsgid\s*?=\s*?"(.*?)"`)
	bufferIDPattern = regexp.MustCompile(`bufid\s*?=\s*?"(.*?)"`)

	cdnThumbPattern = regexp.MustCompile(`cdnthumburl\s*?=\s*?"(.*?)"`)
	cdnSmallPattern = regexp.MustCompile(`cdnmidimgurl\s*?=\s*?"(.*?)"`)
	cdnHDPattern    = regexp.MustCompile(`cdnbigimgurl\s*?=\s*?"(.*?)"`)
	aesKeyPattern   = regexp.MustCompile(`aeskey\s*?=\s*?"(.*?)"`)

	cdnVideoPattern = regexp.MustCompile(`cdnvideourl\s*?=\s*?"(.*?)"`)

	emojiMD5Pattern   = regexp.MustCompile(`md5\s*?=\s*?"(.*?)"`)
	cdnURLPattern     = regexp.MustCompile(`cdnurl\s*?=\s*?"(.*?)"`)
	encryptURLPattern = regexp.MustCompile(`encrypturl\s*?=\s*?"(.*?)"`)
	externURLPattern  = regexp.MustCompile(`externurl\s*?=\s*?"(.*?)"`)

	nicknamePattern   = regexp.MustCompile(`nickname\s*?=\s*?"(.*?)"`)
	usernamePattern   = regexp.MustCompile(`username\s*?=\s*?"(.*?)"`)
	cityPattern       = regexp.MustCompile(`city\s*?=\s*?"(.*?)"`)
	provincePattern   = regexp.MustCompile(`province\s*?=\s*?"(.*?)"`)
	openIMDescPattern = regexp.MustCompile(`openimdesc\s*?=\s*?"(.*?)"`)
	bigHeadPattern    = regexp.MustCompile(`bigheadimgurl\s*?=\s*?"(.*?)"`)
	smallHeadPattern  = regexp.MustCompile(`smallheadimgurl\s*?=\s*?"(.*?)"`)

	locationXPattern     = regexp.MustCompile(` x\s*?=\s*?"(.*?)"`)
	locationYPattern     = regexp.MustCompile(` y\s*?=\s*?"(.*?)"`)
	locationLabelPattern = regexp.MustCompile(`label\s*?=\s*?"(.*?)"`)
	locationNamePattern  = regexp.MustCompile(`poiname\s*?=\s*?"(.*?)"`)

	titlePattern       = regexp.MustCompile(`<title>(.*?)</title>`)
	titleCDataPattern  = regexp.MustCompile(`<title><!\[CDATA\[((?s).*?)]]></title>`)
	desPattern         = regexp.MustCompile(`<des>((?s).*?)</des>`)
	desCDataPattern    = regexp.MustCompile(`<des><!\[CDATA\[((?s).*?)]]></des>`)
	thumbURLPattern    = regexp.MustCompile(`<thumburl><!\[CDATA\[((?s).*?)]]></thumburl>`)
	appNamePattern     = regexp.MustCompile(`<appname>(.*?)</appname>`)
	urlPattern         = regexp.MustCompile(`<url>(.*?)</url>`)
	urlCDataPattern    = regexp.MustCompile(`<url><!\[CDATA\[((?s).*?)]]></url>`)
	recordPattern      = regexp.MustCompile(`<recorditem>((?s).*?)</recorditem>`)
	recordCDataPattern = regexp.MustCompile(`<recorditem><!\[CDATA\[((?s).*?)]]></recorditem>`)

	voipContentPattern = regexp.MustCompile(`msgContent\s*?=\s*?"(.*?)"`)

	revokePattern      = regexp.MustCompile(`<revokecontent>(.*?)</revokecontent>`)
	revokeCDataPattern = regexp.MustCompile(`<revokecontent><!\[CDATA\[((?s).*?)]]></revokecontent>`)
)

// matchString extracts the single capture of pattern from the message
// body, hex-decoding then base64-encoding binary-looking values into
// stable descriptors. Empty captures yield no field.
func (l RecordLine) matchString(pattern *regexp.Regexp) (string, bool) {
	m := pattern.FindStringSubmatch(l.Message)
	if m == nil || len(m) != 2 || m[1] == "" {
		return "", false
	}
	return hex2b64(m[1]), true
}

type fieldSpec struct {
	key      string
	patterns []*regexp.Regexp
}

// extractFields runs each spec's patterns in order and keeps the first
// hit per field.
func (l RecordLine) extractFields(specs []fieldSpec) record.AttachMetadata {
	metadata := record.NewAttachMetadata()
	for _, spec := range specs {
		for _, pattern := range spec.patterns {
			if val, ok := l.matchString(pattern); ok {
				metadata = metadata.WithTag(spec.key, val)
				break
			}
		}
	}
	return metadata
}

// AudioMetadata extracts voice message descriptors.
func (l RecordLine) AudioMetadata() record.AttachMetadata {
	return l.extractFields([]fieldSpec{
		{"bufid", []*regexp.Regexp{bufferIDPattern}},
		{"clientid", []*regexp.Regexp{clientIDPattern}},
	})
}

// ImageMetadata extracts image CDN descriptors.
func (l RecordLine) ImageMetadata() record.AttachMetadata {
	return l.extractFields([]fieldSpec{
		{"thum_cdn", []*regexp.Regexp{cdnThumbPattern}},
		{"img_cdn", []*regexp.Regexp{cdnSmallPattern}},
		{"hd_cdn", []*regexp.Regexp{cdnHDPattern}},
		{"key", []*regexp.Regexp{aesKeyPattern}},
	})
}

// VideoMetadata extracts video CDN descriptors.
func (l RecordLine) VideoMetadata() record.AttachMetadata {
	return l.extractFields([]fieldSpec{
		{"cdn", []*regexp.Regexp{cdnVideoPattern}},
		{"key", []*regexp.Regexp{aesKeyPattern}},
	})
}

// EmojiMetadata extracts sticker descriptors.
func (l RecordLine) EmojiMetadata() record.AttachMetadata {
	return l.extractFields([]fieldSpec{
		{"md5", []*regexp.Regexp{emojiMD5Pattern}},
		{"cdn", []*regexp.Regexp{cdnURLPattern}},
		{"key", []*regexp.Regexp{aesKeyPattern}},
		{"enc", []*regexp.Regexp{encryptURLPattern}},
		{"extern", []*regexp.Regexp{externURLPattern}},
	})
}

// ContactMetadata extracts shared-contact descriptors; the head image
// prefers the big avatar over the small one.
func (l RecordLine) ContactMetadata() record.AttachMetadata {
	return l.extractFields([]fieldSpec{
		{"nickname", []*regexp.Regexp{nicknamePattern}},
		{"username", []*regexp.Regexp{usernamePattern}},
		{"city", []*regexp.Regexp{cityPattern}},
		{"province", []*regexp.Regexp{provincePattern}},
		{"openimdesc", []*regexp.Regexp{openIMDescPattern}},
		{"head", []*regexp.Regexp{bigHeadPattern, smallHeadPattern}},
	})
}

// LocationMetadata extracts coordinates and labels; x and y become
// floats, staying strings when they fail to parse.
func (l RecordLine) LocationMetadata() record.AttachMetadata {
	metadata := record.NewAttachMetadata()
	if val, ok := l.matchString(locationXPattern); ok {
		metadata = metadata.WithFloat("x", val)
	}
	if val, ok := l.matchString(locationYPattern); ok {
		metadata = metadata.WithFloat("y", val)
	}
	if val, ok := l.matchString(locationLabelPattern); ok {
		metadata = metadata.WithTag("label", val)
	}
	if val, ok := l.matchString(locationNamePattern); ok {
		metadata = metadata.WithTag("name", val)
	}
	return metadata
}

// CustomAppMetadata extracts app-share descriptors, preferring CDATA
// variants.
func (l RecordLine) CustomAppMetadata() record.AttachMetadata {
	return l.extractFields([]fieldSpec{
		{"title", []*regexp.Regexp{titleCDataPattern, titlePattern}},
		{"description", []*regexp.Regexp{desCDataPattern, desPattern}},
		{"thum", []*regexp.Regexp{thumbURLPattern}},
		{"record", []*regexp.Regexp{recordCDataPattern, recordPattern}},
		{"app", []*regexp.Regexp{appNamePattern}},
		{"url", []*regexp.Regexp{urlCDataPattern, urlPattern}},
	})
}

// VoipStatusMetadata extracts the call status body.
func (l RecordLine) VoipStatusMetadata() record.AttachMetadata {
	return l.extractFields([]fieldSpec{
		{"content", []*regexp.Regexp{voipContentPattern}},
	})
}

// RevokeMetadata extracts the revocation notice, preferring CDATA.
func (l RecordLine) RevokeMetadata() record.AttachMetadata {
	return l.extractFields([]fieldSpec{
		{"revoke", []*regexp.Regexp{revokeCDataPattern, revokePattern}},
	})
}
