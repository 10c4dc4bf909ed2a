// Package krpc encodes and decodes the bencoded KRPC message envelope used
// by the mainline DHT, and the compact node-info wire format it carries.
package krpc

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/cowtools/mainlinedht/bencode"
)

// MessageType is the wire value of the top-level "y" key.
type MessageType string

const (
	TypeQuery    MessageType = "q"
	TypeResponse MessageType = "r"
	TypeError    MessageType = "e"
)

// Error codes per BEP-5.
const (
	ErrorGeneric        = 201
	ErrorServer         = 202
	ErrorProtocol       = 203
	ErrorMethodUnknown  = 204
)

// Message is the decoded shape of one KRPC envelope.
type Message struct {
	T string      // transaction id, verbatim bytes
	Y MessageType

	Q string         // query verb, when Y == TypeQuery
	A map[string]bencode.Value // query arguments, when Y == TypeQuery

	R map[string]bencode.Value // response result, when Y == TypeResponse

	ErrCode int    // when Y == TypeError
	ErrMsg  string // when Y == TypeError
}

// Encode serializes m into its bencoded wire form.
func Encode(m Message) []byte {
	dict := map[string]bencode.Value{
		"t": bencode.StringFrom(m.T),
		"y": bencode.StringFrom(string(m.Y)),
	}
	switch m.Y {
	case TypeQuery:
		dict["q"] = bencode.StringFrom(m.Q)
		dict["a"] = bencode.Dict(m.A)
	case TypeResponse:
		dict["r"] = bencode.Dict(m.R)
	case TypeError:
		dict["e"] = bencode.List([]bencode.Value{
			bencode.Int64(int64(m.ErrCode)),
			bencode.StringFrom(m.ErrMsg),
		})
	}
	return bencode.Encode(bencode.Dict(dict))
}

// Decode parses a raw UDP payload into a Message. Any malformed input
// (bad bencode, missing/malformed t or y, malformed a/r/e) is reported as
// an error and the datagram should be dropped by the caller.
func Decode(data []byte) (Message, error) {
	v, err := bencode.Decode(data)
	if err != nil {
		return Message{}, errors.Wrap(err, "krpc: decode envelope")
	}
	if v.Kind != bencode.KindDict {
		return Message{}, errors.New("krpc: top-level value is not a dict")
	}

	tv, ok := v.Dict["t"]
	if !ok || tv.Kind != bencode.KindString {
		return Message{}, errors.New("krpc: missing or malformed t")
	}
	yv, ok := v.Dict["y"]
	if !ok || yv.Kind != bencode.KindString {
		return Message{}, errors.New("krpc: missing or malformed y")
	}

	m := Message{T: string(tv.Str), Y: MessageType(yv.Str)}

	switch m.Y {
	case TypeQuery:
		qv, ok := v.Dict["q"]
		if !ok || qv.Kind != bencode.KindString {
			return Message{}, errors.New("krpc: query missing q")
		}
		av, ok := v.Dict["a"]
		if !ok || av.Kind != bencode.KindDict {
			return Message{}, errors.New("krpc: query missing a")
		}
		m.Q = string(qv.Str)
		m.A = av.Dict
	case TypeResponse:
		rv, ok := v.Dict["r"]
		if !ok || rv.Kind != bencode.KindDict {
			return Message{}, errors.New("krpc: response missing r")
		}
		m.R = rv.Dict
	case TypeError:
		ev, ok := v.Dict["e"]
		if !ok || ev.Kind != bencode.KindList || len(ev.List) != 2 {
			return Message{}, errors.New("krpc: error missing e")
		}
		if ev.List[0].Kind != bencode.KindInt || ev.List[1].Kind != bencode.KindString {
			return Message{}, errors.New("krpc: malformed e")
		}
		m.ErrCode = int(ev.List[0].Int)
		m.ErrMsg = string(ev.List[1].Str)
	default:
		return Message{}, errors.Errorf("krpc: unknown message type %q", m.Y)
	}
	return m, nil
}

// EncodeTid encodes a 16-bit transaction id as its 2-byte big-endian wire form.
func EncodeTid(tid uint16) string {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, tid)
	return string(b)
}

// DictString fetches a required string field from a KRPC args/result dict.
func DictString(d map[string]bencode.Value, key string) ([]byte, bool) {
	v, ok := d[key]
	if !ok || v.Kind != bencode.KindString {
		return nil, false
	}
	return v.Str, true
}

// DictInt fetches an optional integer field, returning def if absent.
func DictInt(d map[string]bencode.Value, key string, def int64) int64 {
	v, ok := d[key]
	if !ok || v.Kind != bencode.KindInt {
		return def
	}
	return v.Int
}
