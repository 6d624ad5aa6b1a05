package wechat

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

// kvEntry encodes one <varint-length><bytes> slot.
func kvEntry(payload []byte) []byte {
	if len(payload) >= 0x80 {
		panic("test entries stay single-byte sized")
	}
	return append([]byte{byte(len(payload))}, payload...)
}

// buildKV assembles a kv archive: 8-byte prologue, alternating
// key/value slots, and a trailing pad byte so the final entry stays
// strictly within bounds.
func buildKV(slots ...[]byte) []byte {
	out := make([]byte, kvPrologueSize)
	for _, slot := range slots {
		out = append(out, kvEntry(slot)...)
	}
	return append(out, 0x00)
}

func TestDecodeKVMapStrings(t *testing.T) {
	data := buildKV(
		[]byte("86"), []byte("wxid_test"),
		[]byte("88"), []byte("DarkSky"),
	)
	m := decodeKVMap(data)
	assert.Equal(t, "wxid_test", m.Lookup("86"))
	assert.Equal(t, "DarkSky", m.Lookup("88"))
	assert.Equal(t, "", m.Lookup("absent"))
}

func TestDecodeKVMapInnerString(t *testing.T) {
	// The value itself starts with a valid length prefix strictly
	// within bounds: decode the inner string.
	inner := append([]byte{4}, []byte("abcd")...)
	m := decodeKVMap(buildKV([]byte("headimgurl"), inner))
	assert.Equal(t, "abcd", m.Lookup("headimgurl"))
}

func TestDecodeKVMapRawValue(t *testing.T) {
	m := decodeKVMap(buildKV([]byte("bin"), []byte{0xFF, 0xFE, 0xFD}))
	assert.Equal(t, "", m.Lookup("bin"))
}

func TestDecodeKVMapTruncated(t *testing.T) {
	data := buildKV([]byte("86"), []byte("wxid_test"))
	// Cut into the middle of the value: decoding stops at the last
	// whole entry and the partial pair is dropped.
	m := decodeKVMap(data[:len(data)-4])
	assert.Equal(t, "", m.Lookup("86"))
}

func TestDecodeKVMapEmpty(t *testing.T) {
	assert.Empty(t, decodeKVMap(nil))
	assert.Empty(t, decodeKVMap(make([]byte, kvPrologueSize)))
}

func TestParseVarintSingleByte(t *testing.T) {
	size, n := parseVarint([]byte{0x7F}, 0)
	assert.Equal(t, 0x7F, size)
	assert.Equal(t, 1, n)
}

func TestParseVarintMultiByte(t *testing.T) {
	// 0x96 0x01 = 150 little-endian base-128.
	size, n := parseVarint([]byte{0x96, 0x01}, 0)
	assert.Equal(t, 150, size)
	assert.Equal(t, 2, n)
}

func TestParseVarintTruncatesToFourBytes(t *testing.T) {
	data := bytes.Repeat([]byte{0x80}, 6)
	_, n := parseVarint(data, 0)
	assert.Equal(t, 4, n)
}
