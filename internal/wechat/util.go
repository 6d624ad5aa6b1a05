package wechat

import (
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"regexp"
)

// emptyMD5 is md5("") — the marker of an MMappedKV file whose extension
// carries no account id.
const emptyMD5 = "d41d8cd98f00b204e9800998ecf8427e"

// genMD5 is the identity digest of the chat schema: lowercase hex MD5.
func genMD5(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// hex2b64 converts a hex-encoded binary descriptor to base64 for a
// stable string form. Unparseable hex passes through opaque.
func hex2b64(s string) string {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return s
	}
	return base64.StdEncoding.EncodeToString(raw)
}

// regexpQuote escapes a path fragment interpolated into a path query.
func regexpQuote(s string) string {
	return regexp.QuoteMeta(s)
}
