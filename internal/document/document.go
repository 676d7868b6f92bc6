package document

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Document is the merged order/customer/payment view kept in the document
// store. Values follow encoding/json conventions: nested objects are
// map[string]any, arrays are []any and numbers are json.Number once decoded.
type Document map[string]any

// FieldError reports a field that is absent or does not have the expected shape.
type FieldError struct {
	Path    string
	Missing bool
	Reason  string
}

func (e *FieldError) Error() string {
	if e.Missing {
		return fmt.Sprintf("field %q is missing", e.Path)
	}
	return fmt.Sprintf("field %q: %s", e.Path, e.Reason)
}

// IsMissing reports whether err is a FieldError for an absent field.
func IsMissing(err error) bool {
	var fe *FieldError
	return errors.As(err, &fe) && fe.Missing
}

func missing(path string) error { return &FieldError{Path: path, Missing: true} }

func wrongType(path string, v any) error {
	return &FieldError{Path: path, Reason: fmt.Sprintf("unexpected type %T", v)}
}

// Decode parses JSON into a Document keeping numbers as json.Number.
func Decode(data []byte) (Document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var d Document
	if err := dec.Decode(&d); err != nil {
		return nil, errors.Wrap(err, "decode document")
	}
	if d == nil {
		d = Document{}
	}
	return d, nil
}

// Encode serializes the document as JSON.
func (d Document) Encode() ([]byte, error) {
	b, err := json.Marshal(map[string]any(d))
	if err != nil {
		return nil, errors.Wrap(err, "encode document")
	}
	return b, nil
}

// Normalize round-trips the document through JSON so that values built in
// Go (ints, typed maps) compare equal to values read back from storage.
func (d Document) Normalize() (Document, error) {
	b, err := d.Encode()
	if err != nil {
		return nil, err
	}
	return Decode(b)
}

// Get resolves a dot-delimited path. Numeric segments index into arrays.
// Null values are reported as missing.
func (d Document) Get(path string) (any, error) {
	var cur any = map[string]any(d)
	segs := strings.Split(path, ".")
	for i, seg := range segs {
		at := strings.Join(segs[:i+1], ".")
		switch v := cur.(type) {
		case map[string]any:
			child, ok := v[seg]
			if !ok || child == nil {
				return nil, missing(at)
			}
			cur = child
		case Document:
			child, ok := v[seg]
			if !ok || child == nil {
				return nil, missing(at)
			}
			cur = child
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil {
				return nil, &FieldError{Path: at, Reason: "array index expected"}
			}
			if idx < 0 || idx >= len(v) || v[idx] == nil {
				return nil, missing(at)
			}
			cur = v[idx]
		default:
			return nil, wrongType(at, cur)
		}
	}
	return cur, nil
}

// Has reports whether path resolves to a non-null value.
func (d Document) Has(path string) bool {
	_, err := d.Get(path)
	return err == nil
}

func (d Document) String(path string) (string, error) {
	v, err := d.Get(path)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", wrongType(path, v)
	}
	return s, nil
}

// Int resolves path to an integer, accepting JSON numbers and decimal strings.
func (d Document) Int(path string) (int64, error) {
	v, err := d.Get(path)
	if err != nil {
		return 0, err
	}
	n, ok := AsInt(v)
	if !ok {
		return 0, wrongType(path, v)
	}
	return n, nil
}

func (d Document) Map(path string) (map[string]any, error) {
	v, err := d.Get(path)
	if err != nil {
		return nil, err
	}
	m, ok := asMap(v)
	if !ok {
		return nil, wrongType(path, v)
	}
	return m, nil
}

func (d Document) Slice(path string) ([]any, error) {
	v, err := d.Get(path)
	if err != nil {
		return nil, err
	}
	s, ok := v.([]any)
	if !ok {
		return nil, wrongType(path, v)
	}
	return s, nil
}

// Objects resolves path to an array of objects, e.g. line items.
func (d Document) Objects(path string) ([]Document, error) {
	items, err := d.Slice(path)
	if err != nil {
		return nil, err
	}
	out := make([]Document, len(items))
	for i, item := range items {
		m, ok := asMap(item)
		if !ok {
			return nil, wrongType(path+"."+strconv.Itoa(i), item)
		}
		out[i] = Document(m)
	}
	return out, nil
}

// Set assigns value at path, creating intermediate objects as needed.
func (d Document) Set(path string, value any) error {
	segs := strings.Split(path, ".")
	cur := map[string]any(d)
	for i, seg := range segs[:len(segs)-1] {
		next, ok := cur[seg]
		if !ok || next == nil {
			m := map[string]any{}
			cur[seg] = m
			cur = m
			continue
		}
		m, ok := asMap(next)
		if !ok {
			return wrongType(strings.Join(segs[:i+1], "."), next)
		}
		cur = m
	}
	cur[segs[len(segs)-1]] = value
	return nil
}

// Clone returns a deep copy of the document.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	return Document(cloneValue(map[string]any(d)).(map[string]any))
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, c := range t {
			out[k] = cloneValue(c)
		}
		return out
	case Document:
		return cloneValue(map[string]any(t))
	case []any:
		out := make([]any, len(t))
		for i, c := range t {
			out[i] = cloneValue(c)
		}
		return out
	default:
		return v
	}
}

// AsInt coerces the numeric representations found in decoded documents.
func AsInt(v any) (int64, bool) {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		f, err := n.Float64()
		if err != nil || f != float64(int64(f)) {
			return 0, false
		}
		return int64(f), true
	case float64:
		if n != float64(int64(n)) {
			return 0, false
		}
		return int64(n), true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		if err != nil {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Document:
		return map[string]any(m), true
	default:
		return nil, false
	}
}
