// Package canonjson produces deterministic JSON: object keys sorted
// lexicographically, no insignificant whitespace, and number literals
// carried through unmodified. Every hashed payload in the round-up
// pipeline goes through this encoding, so two parties that serialize
// the same document always hash the same bytes.
package canonjson

import (
	"bytes"
	"encoding/json"
	"errors"
	"sort"
)

var ErrInvalidDocument = errors.New("canonjson: invalid document")

// Marshal encodes v into its canonical JSON form. v may be any value
// accepted by encoding/json, including json.RawMessage for documents
// that were received off the wire.
func Marshal(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return nil, ErrInvalidDocument
	}
	// Reject trailing garbage after the first document.
	if dec.More() {
		return nil, ErrInvalidDocument
	}
	var buf bytes.Buffer
	if err := encode(&buf, doc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encode(buf *bytes.Buffer, v interface{}) error {
	switch t := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeString(buf, k); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := encode(buf, t[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case []interface{}:
		buf.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encode(buf, e); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case json.Number:
		// The literal is preserved byte for byte; producers are
		// responsible for emitting the shortest exact decimal form.
		buf.WriteString(string(t))
	case string:
		return encodeString(buf, t)
	case bool:
		if t {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case nil:
		buf.WriteString("null")
	default:
		return ErrInvalidDocument
	}
	return nil
}

// encodeString writes s as a JSON string without HTML escaping:
// `&`, `<` and `>` stay literal so the bytes match what a peer
// serializer emits for the same document.
func encodeString(buf *bytes.Buffer, s string) error {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return err
	}
	// Encode terminates the value with a newline.
	buf.Truncate(buf.Len() - 1)
	return nil
}
