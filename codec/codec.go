// Package codec converts application values to and from the transport-
// neutral byte encoding the bus uses on the wire. Unlike pymq's Python
// original, the target type is never recovered from the payload itself:
// callers always supply it, either as a handler's declared parameter type
// or as an explicit argument to Decode.
package codec

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DecodeError is returned when a payload cannot be reconstructed against
// the declared target type. Path points at the first field where decoding
// failed, as struct field names dot-separated from the root (e.g.
// "inner.name"); slice indices and map keys do not appear in it.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("codec: decode error: %v", e.Err)
	}
	return fmt.Sprintf("codec: decode error at %s: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// pathOf extracts the dot-separated field path from the decoding errors
// encoding/json reports a location for. json.UnmarshalTypeError already
// carries the nested struct field path (e.g. "inner.name"); a json.SyntaxError
// has no field concept, so its byte offset stands in instead.
func pathOf(err error) string {
	switch e := err.(type) {
	case *json.UnmarshalTypeError:
		return e.Field
	case *json.SyntaxError:
		return fmt.Sprintf("offset:%d", e.Offset)
	default:
		return ""
	}
}

// EncodeError is returned when a value cannot be serialized, e.g. because
// it contains a type the encoder has no representation for (channels,
// functions, complex numbers).
type EncodeError struct {
	Err error
}

func (e *EncodeError) Error() string { return fmt.Sprintf("codec: encode error: %v", e.Err) }
func (e *EncodeError) Unwrap() error { return e.Err }

// Encode produces the wire representation of v. v must be a value whose
// type declares how it serializes (struct tags, or a primitive/slice/map
// of supported element types).
func Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, &EncodeError{Err: err}
	}
	return data, nil
}

// Decode reconstructs a value from data into target, which must be a
// non-nil pointer to the declared type (a struct, primitive, slice, or
// map). Nested records and collections are decoded according to target's
// own declared field types, recursively, exactly as encoding/json does for
// struct fields -- this is pymq's "declared type drives decoding" policy
// with Go's native reflection standing in for the Python runtime's type
// hints.
func Decode(data []byte, target any) error {
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		return &DecodeError{Path: pathOf(err), Err: err}
	}
	return nil
}

// DecodeLenient behaves like Decode but tolerates payload fields that are
// not present on target, matching pymq's "field names in the encoded map
// are matched to fields of the declared record type" policy, which never
// treats an extra field as an error.
func DecodeLenient(data []byte, target any) error {
	if err := json.Unmarshal(data, target); err != nil {
		return &DecodeError{Path: pathOf(err), Err: err}
	}
	return nil
}
