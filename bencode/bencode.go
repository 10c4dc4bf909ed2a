// Package bencode implements the bencoding used by the BitTorrent DHT wire
// protocol: integers, byte strings, lists, and string-keyed dictionaries.
package bencode

import (
	"sort"

	"github.com/pkg/errors"
)

// ProtocolError is returned for any malformed bencode input: truncation, a
// bad length prefix, trailing garbage, or a non-string dictionary key.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return "bencode: " + e.Reason
}

func newProtocolError(reason string) error {
	return errors.WithStack(&ProtocolError{Reason: reason})
}

// Value is the decoded shape of a bencoded item. Exactly one of the fields
// below is meaningful, selected by Kind.
type Value struct {
	Kind Kind
	Int  int64
	Str  []byte
	List []Value
	Dict map[string]Value
}

// Kind tags which field of a Value holds the decoded payload.
type Kind int

const (
	KindInt Kind = iota
	KindString
	KindList
	KindDict
)

// Int64 constructs an integer Value.
func Int64(v int64) Value { return Value{Kind: KindInt, Int: v} }

// String constructs a byte-string Value.
func String(v []byte) Value { return Value{Kind: KindString, Str: v} }

// StringFrom constructs a byte-string Value from a Go string.
func StringFrom(v string) Value { return Value{Kind: KindString, Str: []byte(v)} }

// List constructs a list Value.
func List(v []Value) Value { return Value{Kind: KindList, List: v} }

// Dict constructs a dictionary Value.
func Dict(v map[string]Value) Value { return Value{Kind: KindDict, Dict: v} }

// Encode serializes v into bencode form.
func Encode(v Value) []byte {
	buf := make([]byte, 0, 64)
	return appendValue(buf, v)
}

func appendValue(buf []byte, v Value) []byte {
	switch v.Kind {
	case KindInt:
		buf = append(buf, 'i')
		buf = appendInt(buf, v.Int)
		buf = append(buf, 'e')
	case KindString:
		buf = appendInt(buf, int64(len(v.Str)))
		buf = append(buf, ':')
		buf = append(buf, v.Str...)
	case KindList:
		buf = append(buf, 'l')
		for _, item := range v.List {
			buf = appendValue(buf, item)
		}
		buf = append(buf, 'e')
	case KindDict:
		buf = append(buf, 'd')
		keys := make([]string, 0, len(v.Dict))
		for k := range v.Dict {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			buf = appendValue(buf, StringFrom(k))
			buf = appendValue(buf, v.Dict[k])
		}
		buf = append(buf, 'e')
	}
	return buf
}

func appendInt(buf []byte, n int64) []byte {
	if n == 0 {
		return append(buf, '0')
	}
	neg := n < 0
	if neg {
		n = -n
	}
	start := len(buf)
	for n > 0 {
		buf = append(buf, byte('0'+n%10))
		n /= 10
	}
	if neg {
		buf = append(buf, '-')
	}
	// digits were appended least-significant first; reverse the tail.
	reverse(buf[start:])
	return buf
}

func reverse(b []byte) {
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
}

// Decode parses exactly one bencoded item from data and errors if any bytes
// remain unconsumed afterwards.
func Decode(data []byte) (Value, error) {
	v, rest, err := decodeValue(data)
	if err != nil {
		return Value{}, err
	}
	if len(rest) != 0 {
		return Value{}, newProtocolError("trailing bytes after top-level value")
	}
	return v, nil
}

func decodeValue(data []byte) (Value, []byte, error) {
	if len(data) == 0 {
		return Value{}, nil, newProtocolError("unexpected end of input")
	}
	switch {
	case data[0] == 'i':
		return decodeInt(data)
	case data[0] == 'l':
		return decodeList(data)
	case data[0] == 'd':
		return decodeDict(data)
	case data[0] >= '0' && data[0] <= '9':
		return decodeString(data)
	default:
		return Value{}, nil, newProtocolError("unrecognized value tag")
	}
}

func decodeInt(data []byte) (Value, []byte, error) {
	end := indexByte(data[1:], 'e')
	if end < 0 {
		return Value{}, nil, newProtocolError("unterminated integer")
	}
	digits := data[1 : 1+end]
	if len(digits) == 0 {
		return Value{}, nil, newProtocolError("empty integer")
	}
	n, err := parseInt(digits)
	if err != nil {
		return Value{}, nil, err
	}
	return Int64(n), data[1+end+1:], nil
}

func parseInt(digits []byte) (int64, error) {
	neg := false
	if digits[0] == '-' {
		neg = true
		digits = digits[1:]
		if len(digits) == 0 {
			return 0, newProtocolError("malformed integer sign")
		}
	}
	if digits[0] == '0' && len(digits) > 1 {
		return 0, newProtocolError("integer has leading zero")
	}
	if neg && digits[0] == '0' {
		return 0, newProtocolError("negative zero integer")
	}
	var n int64
	for _, b := range digits {
		if b < '0' || b > '9' {
			return 0, newProtocolError("non-digit in integer")
		}
		n = n*10 + int64(b-'0')
	}
	if neg {
		n = -n
	}
	return n, nil
}

func decodeString(data []byte) (Value, []byte, error) {
	colon := indexByte(data, ':')
	if colon < 0 {
		return Value{}, nil, newProtocolError("missing length-prefix separator")
	}
	n, err := parseInt(data[:colon])
	if err != nil {
		return Value{}, nil, err
	}
	if n < 0 {
		return Value{}, nil, newProtocolError("negative string length")
	}
	start := colon + 1
	end := start + int(n)
	if end > len(data) {
		return Value{}, nil, newProtocolError("string length exceeds remaining input")
	}
	return String(data[start:end]), data[end:], nil
}

func decodeList(data []byte) (Value, []byte, error) {
	rest := data[1:]
	items := []Value{}
	for {
		if len(rest) == 0 {
			return Value{}, nil, newProtocolError("unterminated list")
		}
		if rest[0] == 'e' {
			return List(items), rest[1:], nil
		}
		var item Value
		var err error
		item, rest, err = decodeValue(rest)
		if err != nil {
			return Value{}, nil, err
		}
		items = append(items, item)
	}
}

func decodeDict(data []byte) (Value, []byte, error) {
	rest := data[1:]
	dict := map[string]Value{}
	for {
		if len(rest) == 0 {
			return Value{}, nil, newProtocolError("unterminated dict")
		}
		if rest[0] == 'e' {
			return Dict(dict), rest[1:], nil
		}
		var key Value
		var err error
		key, rest, err = decodeValue(rest)
		if err != nil {
			return Value{}, nil, err
		}
		if key.Kind != KindString {
			return Value{}, nil, newProtocolError("dict key is not a string")
		}
		var val Value
		val, rest, err = decodeValue(rest)
		if err != nil {
			return Value{}, nil, err
		}
		dict[string(key.Str)] = val
	}
}

func indexByte(data []byte, b byte) int {
	for i, c := range data {
		if c == b {
			return i
		}
	}
	return -1
}
