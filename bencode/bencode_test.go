package bencode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []Value{
		Int64(0),
		Int64(42),
		Int64(-7),
		StringFrom(""),
		StringFrom("spam"),
		List([]Value{StringFrom("a"), Int64(1)}),
		Dict(map[string]Value{"a": Int64(1), "z": StringFrom("last")}),
	}
	for _, v := range cases {
		encoded := Encode(v)
		decoded, err := Decode(encoded)
		require.NoError(t, err)
		assert.Equal(t, v, decoded)
	}
}

func TestEncodeDictKeysAreLexicographic(t *testing.T) {
	v := Dict(map[string]Value{"zeta": Int64(1), "alpha": Int64(2), "mid": Int64(3)})
	got := string(Encode(v))
	assert.Equal(t, "d5:alphai2e3:midi3e4:zetai1ee", got)
}

func TestDecodeKnownForm(t *testing.T) {
	v, err := Decode([]byte("d3:cow3:moo4:spam4:eggse"))
	require.NoError(t, err)
	require.Equal(t, KindDict, v.Kind)
	assert.Equal(t, "moo", string(v.Dict["cow"].Str))
	assert.Equal(t, "eggs", string(v.Dict["spam"].Str))
}

func TestDecodeTruncatedString(t *testing.T) {
	_, err := Decode([]byte("5:hi"))
	require.Error(t, err)
	assert.IsType(t, &ProtocolError{}, errorsCause(err))
}

func TestDecodeBadLengthPrefix(t *testing.T) {
	_, err := Decode([]byte("x:hi"))
	require.Error(t, err)
}

func TestDecodeTrailingBytes(t *testing.T) {
	_, err := Decode([]byte("i1ee"))
	require.Error(t, err)
}

func TestDecodeNonStringDictKey(t *testing.T) {
	_, err := Decode([]byte("di1ei2ee"))
	require.Error(t, err)
}

func TestDecodeUnterminatedInt(t *testing.T) {
	_, err := Decode([]byte("i42"))
	require.Error(t, err)
}

func errorsCause(err error) error {
	type causer interface{ Cause() error }
	if c, ok := err.(causer); ok {
		return c.Cause()
	}
	return err
}
