package wechat

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenMD5(t *testing.T) {
	assert.Equal(t, emptyMD5, genMD5(""))
	assert.Equal(t, "6384e2b2184bcbf58eccf10ca7a6563c", genMD5("alice"))
}

func TestHex2B64(t *testing.T) {
	// "abc" hex-decodes from 616263 and base64-encodes to YWJj.
	assert.Equal(t, "YWJj", hex2b64("616263"))
	// Unparseable hex passes through opaque.
	assert.Equal(t, "not hex!", hex2b64("not hex!"))
	assert.Equal(t, "", hex2b64(""))
}
