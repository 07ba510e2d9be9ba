package codec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodePreservesType(t *testing.T) {
	now := time.Date(2026, 3, 14, 15, 9, 26, 535897932, time.UTC)
	values := []any{
		nil,
		true,
		int(-42),
		int8(-8),
		int16(1600),
		int32(-320000),
		int64(1 << 62),
		uint(42),
		uint8(255),
		uint16(65535),
		uint32(1 << 31),
		uint64(1<<64 - 1),
		float32(1.5),
		float64(3.141592653589793),
		"",
		"hello, 世界",
		[]byte{0, 1, 2, 0xff},
		now,
		90 * time.Second,
	}

	for _, v := range values {
		data, err := Encode(v)
		require.NoError(t, err)

		got, err := Decode(data)
		require.NoError(t, err)
		require.Equal(t, v, got)
		require.IsType(t, v, got)
	}
}

func TestFalseUsesReservedLiteral(t *testing.T) {
	data, err := Encode(false)
	require.NoError(t, err)
	require.Equal(t, FalseLiteral, data)
	require.True(t, IsFalse(data))

	v, err := Decode(FalseLiteral)
	require.NoError(t, err)
	require.Equal(t, false, v)

	// A failed decode is an error, never a false value.
	_, err = Decode([]byte("garbage"))
	require.ErrorIs(t, err, ErrMalformed)
}

func TestNestedValues(t *testing.T) {
	v := map[string]any{
		"name":  "widget",
		"count": int64(3),
		"tags":  []any{"a", "b", map[string]any{"deep": true}},
		"empty": map[string]any{},
		"none":  nil,
	}

	data, err := Encode(v)
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)
	require.Equal(t, v, got)
}

func TestEncodeIsDeterministic(t *testing.T) {
	v := map[string]any{"b": 1, "a": 2, "c": 3}

	first, err := Encode(v)
	require.NoError(t, err)
	for range 10 {
		again, err := Encode(v)
		require.NoError(t, err)
		require.Equal(t, first, again)
	}
}

func TestEncodeUnsupportedType(t *testing.T) {
	type custom struct{ A int }

	_, err := Encode(custom{A: 1})
	require.ErrorIs(t, err, ErrUnsupportedType)

	_, err = Encode([]any{make(chan int)})
	require.ErrorIs(t, err, ErrUnsupportedType)
}

func TestDecodeMalformed(t *testing.T) {
	valid, err := Encode("hello")
	require.NoError(t, err)

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"unknown tag", []byte{'z'}},
		{"truncated string", valid[:len(valid)-1]},
		{"trailing bytes", append(append([]byte{}, valid...), 'x')},
		{"huge length", []byte{tagString, 0xff, 0xff, 0xff, 0xff, 0x0f}},
		{"int8 overflow", []byte{tagInt8, 0x80, 0x04}},
		{"short float", []byte{tagFloat64, 1, 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.data)
			require.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestDecodeRejectsDeepNesting(t *testing.T) {
	var data []byte
	for range MaxDepth + 2 {
		data = append(data, tagList, 1)
	}
	data = append(data, tagNil)

	_, err := Decode(data)
	require.ErrorIs(t, err, ErrMalformed)
}
