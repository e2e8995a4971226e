package seed

import (
	"bytes"
	"encoding/json"
	"reflect"
	"strings"

	"github.com/pkg/errors"
)

// A Record is a set of attributes, decoded from a seed document or returned
// by a cloud adapter. Nested values are records (or plain string keyed maps),
// lists, strings, numbers, booleans or nil.
type Record map[string]interface{}

// AsRecord converts a map value to a Record. The second return value is false
// if v is not a string keyed map.
func AsRecord(v interface{}) (Record, bool) {
	switch m := v.(type) {
	case Record:
		return m, true
	case map[string]interface{}:
		return Record(m), true
	case nil:
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, false
	}
	out := make(Record, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		out[iter.Key().String()] = iter.Value().Interface()
	}
	return out, true
}

// List converts a slice value to a list of interfaces. The second return
// value is false if v is not a slice.
func List(v interface{}) ([]interface{}, bool) {
	switch l := v.(type) {
	case []interface{}:
		return l, true
	case nil:
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice || rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil, false
	}
	out := make([]interface{}, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// Attr returns a string attribute. Returns an empty string if the attribute
// is not set or is not a string.
func (r Record) Attr(key string) string {
	s, _ := r[key].(string)
	return s
}

// ID returns the id attribute.
func (r Record) ID() string {
	switch v := r["id"].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	return Copy(r).(Record)
}

// Copy returns a deep copy of a value. Maps are returned as records.
func Copy(v interface{}) interface{} {
	if m, ok := AsRecord(v); ok {
		out := make(Record, len(m))
		for k, val := range m {
			out[k] = Copy(val)
		}
		return out
	}
	if l, ok := List(v); ok {
		out := make([]interface{}, len(l))
		for i, val := range l {
			out[i] = Copy(val)
		}
		return out
	}
	return v
}

// Without returns a shallow copy of the record without the given keys.
func (r Record) Without(keys ...string) Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	for _, k := range keys {
		delete(out, k)
	}
	return out
}

// Only returns a shallow copy of the record with only the given keys.
func (r Record) Only(keys ...string) Record {
	out := make(Record, len(keys))
	for _, k := range keys {
		if v, ok := r[k]; ok {
			out[k] = v
		}
	}
	return out
}

// Canonical normalizes a value through a JSON round trip. Numbers become
// float64, maps become map[string]interface{} and slices []interface{}.
func Canonical(v interface{}) (interface{}, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "encode")
	}
	var out interface{}
	dec := json.NewDecoder(bytes.NewReader(b))
	if err := dec.Decode(&out); err != nil {
		return nil, errors.Wrap(err, "decode")
	}
	return out, nil
}

// CanonicalRecord normalizes a record. See Canonical.
func CanonicalRecord(r Record) (Record, error) {
	if r == nil {
		return nil, nil
	}
	v, err := Canonical(r)
	if err != nil {
		return nil, err
	}
	m, ok := AsRecord(v)
	if !ok {
		return nil, errors.Errorf("canonical record is %s", typeName(v))
	}
	return m, nil
}

// Equal reports whether two values are deeply equal after canonical
// encoding. Numeric types and map ordering do not matter.
func Equal(a, b interface{}) bool {
	ab, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bb, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ab, bb)
}

// ChangedItems returns the items in next that are not present in prev.
func ChangedItems(prev, next []interface{}) []interface{} {
	var out []interface{}
	for _, n := range next {
		found := false
		for _, p := range prev {
			if Equal(n, p) {
				found = true
				break
			}
		}
		if !found {
			out = append(out, n)
		}
	}
	return out
}

var secretKeys = map[string]bool{
	"password":     true,
	"secret":       true,
	"userpassword": true,
	"cam_password": true,
}

// Redacted is the value secrets are replaced with by Redact.
const Redacted = "********"

// Redact returns a copy of the record with secret values replaced. Use it
// before logging records.
func Redact(r Record) Record {
	if r == nil {
		return nil
	}
	return redactValue(r).(Record)
}

func redactValue(v interface{}) interface{} {
	if m, ok := AsRecord(v); ok {
		out := make(Record, len(m))
		for k, val := range m {
			if secretKeys[strings.ToLower(k)] && val != nil {
				out[k] = Redacted
				continue
			}
			out[k] = redactValue(val)
		}
		return out
	}
	if l, ok := List(v); ok {
		out := make([]interface{}, len(l))
		for i, val := range l {
			out[i] = redactValue(val)
		}
		return out
	}
	return v
}

// Prune returns a copy of next where the list attributes named by keys only
// hold the items that are not present in the same attribute of prev. A nil
// prev returns next unchanged. Attributes that become empty are removed.
func Prune(prev, next Record, keys ...string) Record {
	out := next.Clone()
	if prev == nil {
		return out
	}
	for _, k := range keys {
		n, ok := List(out[k])
		if !ok {
			continue
		}
		p, _ := List(prev[k])
		changed := ChangedItems(p, n)
		if len(changed) == 0 {
			delete(out, k)
			continue
		}
		out[k] = changed
	}
	return out
}
