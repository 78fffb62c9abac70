// Package body decodes, compares and rewrites structured HTTP bodies.
//
// JSON (application/json and any +json media type) and URL-encoded forms are
// structured. Any other body is compared and kept byte for byte.
package body

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"mime"
	"net/url"
	"reflect"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Kind is the structure of a body, derived from its declared content type.
type Kind int

const (
	KindRaw Kind = iota
	KindJSON
	KindForm
)

// KindOf returns the Kind of a body declared with contentType.
func KindOf(contentType string) Kind {
	if contentType == "" {
		return KindRaw
	}

	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return KindRaw
	}

	switch {
	case mediaType == "application/json", strings.HasSuffix(mediaType, "+json"):
		return KindJSON
	case mediaType == "application/x-www-form-urlencoded":
		return KindForm
	default:
		return KindRaw
	}
}

// Removal is the type of Remove.
type Removal struct{}

// Remove is used as a replacement value to delete the key instead of replacing its value.
var Remove = Removal{}

// Equal compares two bodies.
// When both bodies declare the same structured kind and both decode, they are compared
// structurally: JSON object key order and form key order do not matter. When sortLists is
// true, JSON arrays and form value lists are compared regardless of their order.
// Otherwise, the raw bytes are compared.
func Equal(a []byte, aContentType string, b []byte, bContentType string, sortLists bool) bool {
	kind := KindOf(aContentType)
	if kind != KindOf(bContentType) {
		return bytes.Equal(a, b)
	}

	switch kind {
	case KindJSON:
		va, errA := decodeJSON(a)
		vb, errB := decodeJSON(b)
		if errA != nil || errB != nil {
			return bytes.Equal(a, b)
		}
		return reflect.DeepEqual(normaliseJSON(va, sortLists), normaliseJSON(vb, sortLists))

	case KindForm:
		va, errA := url.ParseQuery(string(a))
		vb, errB := url.ParseQuery(string(b))
		if errA != nil || errB != nil {
			return bytes.Equal(a, b)
		}
		return ValuesEqual(va, vb, sortLists)

	default:
		return bytes.Equal(a, b)
	}
}

// ValuesEqual compares multi-valued maps such as url.Values and http.Header.
// Key order never matters. Value lists are compared in order, unless sortLists is true.
func ValuesEqual(a, b map[string][]string, sortLists bool) bool {
	if len(a) != len(b) {
		return false
	}

	for k, va := range a {
		vb, ok := b[k]
		if !ok || len(va) != len(vb) {
			return false
		}

		if sortLists {
			va = sortedCopy(va)
			vb = sortedCopy(vb)
		}

		for i := range va {
			if va[i] != vb[i] {
				return false
			}
		}
	}

	return true
}

// Rewrite applies static replacements to the top-level keys of a structured body.
// Only keys present in the body are replaced; a replacement value of Remove deletes the key.
// Raw bodies, bodies that do not decode and
// JSON bodies that are not objects are returned unchanged.
func Rewrite(data []byte, contentType string, replacements map[string]interface{}) ([]byte, error) {
	if len(replacements) == 0 || len(data) == 0 {
		return data, nil
	}

	switch KindOf(contentType) {
	case KindJSON:
		v, err := decodeJSON(data)
		if err != nil {
			return data, nil
		}

		obj, ok := v.(map[string]interface{})
		if !ok {
			return data, nil
		}

		for k, r := range replacements {
			if _, exists := obj[k]; !exists {
				continue
			}

			if _, ok := r.(Removal); ok {
				delete(obj, k)
				continue
			}
			obj[k] = r
		}

		return encodeJSON(obj)

	case KindForm:
		values, err := url.ParseQuery(string(data))
		if err != nil {
			return data, nil
		}

		return []byte(url.Values(ReplaceValues(values, replacements, nil)).Encode()), nil

	default:
		return data, nil
	}
}

// ReplaceValues returns a copy of m with replacements applied to the keys present in m.
// A replacement may be Remove, a string, a []string or any value formatted with fmt.Sprint.
// When key is not nil, it canonicalises the replacement keys (e.g. http.CanonicalHeaderKey).
func ReplaceValues(m map[string][]string, replacements map[string]interface{}, key func(string) string) map[string][]string {
	if m == nil {
		return nil
	}

	out := make(map[string][]string, len(m))
	for k, v := range m {
		out[k] = append([]string(nil), v...)
	}

	for k, r := range replacements {
		if key != nil {
			k = key(k)
		}

		if _, ok := out[k]; !ok {
			continue
		}

		switch r := r.(type) {
		case Removal:
			delete(out, k)
		case string:
			out[k] = []string{r}
		case []string:
			out[k] = append([]string(nil), r...)
		default:
			out[k] = []string{fmt.Sprint(r)}
		}
	}

	return out
}

func decodeJSON(data []byte) (interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, errors.WithStack(err)
	}

	if dec.More() {
		return nil, errors.New("trailing data after JSON value")
	}

	return v, nil
}

func encodeJSON(v interface{}) ([]byte, error) {
	var buf bytes.Buffer

	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(v); err != nil {
		return nil, errors.Wrap(err, "encode JSON body")
	}

	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func normaliseJSON(v interface{}, sortLists bool) interface{} {
	switch v := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, e := range v {
			out[k] = normaliseJSON(e, sortLists)
		}
		return out

	case []interface{}:
		out := make([]interface{}, len(v))
		for i, e := range v {
			out[i] = normaliseJSON(e, sortLists)
		}

		if sortLists {
			keys := make([]string, len(out))
			for i := range out {
				// fmt prints maps with sorted keys.
				keys[i] = fmt.Sprintf("%#v", out[i])
			}
			sort.Sort(byKey{keys: keys, values: out})
		}
		return out

	case json.Number:
		r, ok := new(big.Rat).SetString(v.String())
		if !ok {
			return v
		}
		return number(r.RatString())

	default:
		return v
	}
}

// number is the exact value of a JSON number: 1, 1.0 and 1e0 are the same number.
type number string

type byKey struct {
	keys   []string
	values []interface{}
}

func (b byKey) Len() int           { return len(b.keys) }
func (b byKey) Less(i, j int) bool { return b.keys[i] < b.keys[j] }
func (b byKey) Swap(i, j int) {
	b.keys[i], b.keys[j] = b.keys[j], b.keys[i]
	b.values[i], b.values[j] = b.values[j], b.values[i]
}

func sortedCopy(s []string) []string {
	c := append([]string(nil), s...)
	sort.Strings(c)
	return c
}
