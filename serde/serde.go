// Package serde converts arbitrary flow values to and from typed byte
// payloads, and normalizes values into plain JSON-shaped trees.
//
// Every payload written by the checkpoint saver, the result cache and the
// long-term store is tagged with its encoding so that it can be decoded by
// a later process regardless of which encoding was preferred at write time.
package serde

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Encoding tags.
const (
	EncodingNull    = "null"
	EncodingBytes   = "bytes"
	EncodingJSON    = "json"
	EncodingMsgpack = "msgpack"
)

// Serializer dumps values to tagged payloads and loads them back.
type Serializer interface {
	DumpsTyped(v any) (encoding string, data []byte, err error)
	LoadsTyped(encoding string, data []byte) (any, error)
}

// Typed is the default Serializer. Values are canonicalized before they are
// encoded, so a loaded value has the same shape as the value a caller would
// observe in memory after Canonicalize.
type Typed struct {
	preferJSON bool
}

// Option configures a Typed serializer.
type Option func(*Typed)

// WithJSON makes the serializer write JSON instead of msgpack.
func WithJSON() Option {
	return func(t *Typed) { t.preferJSON = true }
}

// New returns a Typed serializer. Msgpack is the default write encoding.
func New(opts ...Option) *Typed {
	t := &Typed{}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

var _ Serializer = (*Typed)(nil)

// DumpsTyped encodes v. nil becomes the "null" encoding with no data and a
// raw byte slice is stored untouched under "bytes".
func (t *Typed) DumpsTyped(v any) (string, []byte, error) {
	switch b := v.(type) {
	case nil:
		return EncodingNull, nil, nil
	case []byte:
		return EncodingBytes, b, nil
	}

	c := Canonicalize(v)
	if t.preferJSON {
		data, err := json.Marshal(c)
		if err != nil {
			return "", nil, fmt.Errorf("serde: json encode: %w", err)
		}
		return EncodingJSON, data, nil
	}

	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(c); err != nil {
		return "", nil, fmt.Errorf("serde: msgpack encode: %w", err)
	}
	return EncodingMsgpack, buf.Bytes(), nil
}

// LoadsTyped decodes a payload produced by DumpsTyped.
func (t *Typed) LoadsTyped(encoding string, data []byte) (any, error) {
	switch encoding {
	case EncodingNull, "empty":
		return nil, nil
	case EncodingBytes:
		return data, nil
	case EncodingJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		var v any
		if err := dec.Decode(&v); err != nil {
			return nil, fmt.Errorf("serde: json decode: %w", err)
		}
		return Canonicalize(v), nil
	case EncodingMsgpack:
		dec := msgpack.NewDecoder(bytes.NewReader(data))
		dec.UseLooseInterfaceDecoding(true)
		v, err := dec.DecodeInterface()
		if err != nil {
			return nil, fmt.Errorf("serde: msgpack decode: %w", err)
		}
		return Canonicalize(v), nil
	default:
		return nil, fmt.Errorf("serde: unknown encoding %q", encoding)
	}
}
