package record

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadataValueTaggedUnion(t *testing.T) {
	tests := []struct {
		name string
		val  MetadataValue
		json string
	}{
		{"int", IntValue(-3187113544986954829), `{"int":-3187113544986954829}`},
		{"float", FloatValue(120.125), `{"float":120.125}`},
		{"string", StringValue("mmcdn://thumb"), `{"string":"mmcdn://thumb"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.val)
			require.NoError(t, err)
			assert.JSONEq(t, tt.json, string(data))

			var back MetadataValue
			require.NoError(t, json.Unmarshal(data, &back))
			assert.Equal(t, tt.val, back)
		})
	}
}

func TestMetadataValueUnmarshalRejectsUnknownTag(t *testing.T) {
	var v MetadataValue
	err := json.Unmarshal([]byte(`{"bytes":"AA=="}`), &v)
	assert.ErrorIs(t, err, ErrSerialization)
}

func TestAttachMetadataRoundTrip(t *testing.T) {
	meta := NewAttachMetadata().
		WithType(3).
		WithHash("thum", 42).
		WithTag("key", "YWJj").
		WithFloat("x", "120.125")

	raw, err := meta.Marshal()
	require.NoError(t, err)

	back, err := UnmarshalMetadata(raw)
	require.NoError(t, err)
	assert.Equal(t, meta.MType, back.MType)
	assert.Equal(t, meta.Fields, back.Fields)

	// Marshal is deterministic, so round-tripping is byte-stable.
	again, err := back.Marshal()
	require.NoError(t, err)
	assert.Equal(t, raw, again)
}

func TestAttachMetadataOmitsEmptyFields(t *testing.T) {
	raw, err := NewAttachMetadata().WithType(1).Marshal()
	require.NoError(t, err)
	assert.Equal(t, `{"mtype":1}`, string(raw))
}

func TestWithFloatKeepsUnparseableString(t *testing.T) {
	meta := NewAttachMetadata().WithFloat("x", "not-a-float")
	v := meta.Fields["x"]
	_, isInt := v.Int()
	assert.False(t, isInt)
	assert.Equal(t, "not-a-float", v.String())
}

func TestMetadataValueHash(t *testing.T) {
	assert.Equal(t, int64(7), IntValue(7).Hash())
	assert.Equal(t, int64(0), StringValue("7").Hash())
	assert.Equal(t, int64(0), FloatValue(7).Hash())
}
