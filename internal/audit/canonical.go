// Package audit implements the signed, hash-chained, append-only audit log.
package audit

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"
)

// Canonicalize renders v as deterministic JSON: object keys sorted
// lexicographically at every nesting level, arrays preserve order, no
// insignificant whitespace, UTF-8 bytes. The Reasoning Graph snapshot
// signer must use the same routine so hashes produced by either component
// are byte-identical for the same logical payload.
func Canonicalize(v interface{}) ([]byte, error) {
	normalized, err := normalize(v)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := writeCanonical(&buf, normalized); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// normalize round-trips v through encoding/json so struct values, maps, and
// already-decoded interface{} trees are handled uniformly.
func normalize(v interface{}) (interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal for canonicalization: %w", err)
	}
	var decoded interface{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode for canonicalization: %w", err)
	}
	return decoded, nil
}

func writeCanonical(buf *bytes.Buffer, v interface{}) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case json.Number:
		buf.WriteString(val.String())
	case string:
		encoded, err := json.Marshal(val)
		if err != nil {
			return err
		}
		buf.Write(encoded)
	case []interface{}:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			keyBytes, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(keyBytes)
			buf.WriteByte(':')
			if err := writeCanonical(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("canonicalize: unsupported type %T", v)
	}
	return nil
}

// HashEvent computes hash = SHA256(eventType || canonical(payload) || prevHash || ts).
func HashEvent(eventType string, payload interface{}, prevHash string, ts string) ([32]byte, error) {
	canonicalPayload, err := Canonicalize(payload)
	if err != nil {
		return [32]byte{}, fmt.Errorf("canonicalize payload: %w", err)
	}

	h := sha256.New()
	h.Write([]byte(eventType))
	h.Write(canonicalPayload)
	h.Write([]byte(prevHash))
	h.Write([]byte(ts))

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out, nil
}
