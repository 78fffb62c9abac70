// Package filter holds the filters applied to interactions before they are recorded.
//
// Each filter slot is either unset, a static replacement or a dynamic hook. A slot that
// is configured both ways is a configuration error: there is no implicit precedence.
// Slots are resolved once, when a cassette is inserted, into plain functions.
package filter

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/seborama/scenevcr/body"
	"github.com/seborama/scenevcr/cassette/scene"
	vcrerr "github.com/seborama/scenevcr/errors"
)

// Kind is the variant held by a Slot.
type Kind int

const (
	KindNone Kind = iota
	KindStatic
	KindDynamic
)

// Slot holds the configuration of one filter.
// S is the static replacement type and D the dynamic hook type.
type Slot[S any, D any] struct {
	static     S
	dynamic    D
	hasStatic  bool
	hasDynamic bool
}

// SetStatic configures the static replacement of the slot.
func (s *Slot[S, D]) SetStatic(v S) {
	s.static = v
	s.hasStatic = true
}

// SetDynamic configures the dynamic hook of the slot.
func (s *Slot[S, D]) SetDynamic(fn D) {
	s.dynamic = fn
	s.hasDynamic = true
}

// Kind returns the variant configured on the slot.
// A conflicting slot reports KindDynamic; Validate reports the conflict.
func (s Slot[S, D]) Kind() Kind {
	switch {
	case s.hasDynamic:
		return KindDynamic
	case s.hasStatic:
		return KindStatic
	default:
		return KindNone
	}
}

func (s Slot[S, D]) validate(name string) error {
	if s.hasStatic && s.hasDynamic {
		return vcrerr.Kindf(vcrerr.ErrInvalidConfiguration, "filter '%s' has both a static replacement and a dynamic hook", name)
	}

	return nil
}

func (s Slot[S, D]) or(fallback Slot[S, D]) Slot[S, D] {
	if s.hasStatic || s.hasDynamic {
		return s
	}

	return fallback
}

// HostFunc returns false for hosts whose requests must not be recorded.
type HostFunc func(host string) bool

// PathFunc rewrites a URL path.
type PathFunc func(path string) string

// ValuesFunc rewrites query parameters.
type ValuesFunc func(url.Values) url.Values

// HeaderFunc rewrites request headers.
type HeaderFunc func(http.Header) http.Header

// BodyFunc rewrites a body declared with contentType.
type BodyFunc func(data []byte, contentType string) []byte

// Set holds the filter slots of a configuration.
//
// Static replacements: Host is an allow-list of host names where '*.' prefixes match any
// sub-domain; Path maps exact paths to their replacement; Query, Header, RequestBody and
// ResponseBody map keys to their replacement value, or to body.Remove.
type Set struct {
	Host         Slot[[]string, HostFunc]
	Path         Slot[map[string]string, PathFunc]
	Query        Slot[map[string]interface{}, ValuesFunc]
	Header       Slot[map[string]interface{}, HeaderFunc]
	RequestBody  Slot[map[string]interface{}, BodyFunc]
	ResponseBody Slot[map[string]interface{}, BodyFunc]
}

// Merge returns the slots of overrides, falling back to those of defaults where unset.
func Merge(defaults, overrides Set) Set {
	return Set{
		Host:         overrides.Host.or(defaults.Host),
		Path:         overrides.Path.or(defaults.Path),
		Query:        overrides.Query.or(defaults.Query),
		Header:       overrides.Header.or(defaults.Header),
		RequestBody:  overrides.RequestBody.or(defaults.RequestBody),
		ResponseBody: overrides.ResponseBody.or(defaults.ResponseBody),
	}
}

// Validate returns ErrInvalidConfiguration when a slot is configured both ways.
func (s Set) Validate() error {
	for _, err := range []error{
		s.Host.validate("host"),
		s.Path.validate("path"),
		s.Query.validate("query"),
		s.Header.validate("header"),
		s.RequestBody.validate("request body"),
		s.ResponseBody.validate("response body"),
	} {
		if err != nil {
			return err
		}
	}

	return nil
}

// Resolved holds the filters of a Set as functions. Unset slots resolve to the identity.
type Resolved struct {
	Host         HostFunc
	Path         PathFunc
	Query        ValuesFunc
	Header       HeaderFunc
	RequestBody  BodyFunc
	ResponseBody BodyFunc
}

// Resolve validates s and resolves each slot to a function.
func (s Set) Resolve() (Resolved, error) {
	if err := s.Validate(); err != nil {
		return Resolved{}, err
	}

	r := Resolved{
		Host:         func(string) bool { return true },
		Path:         func(p string) string { return p },
		Query:        func(v url.Values) url.Values { return v },
		Header:       func(h http.Header) http.Header { return h },
		RequestBody:  func(b []byte, _ string) []byte { return b },
		ResponseBody: func(b []byte, _ string) []byte { return b },
	}

	switch s.Host.Kind() {
	case KindStatic:
		r.Host = allowHosts(s.Host.static)
	case KindDynamic:
		r.Host = s.Host.dynamic
	}

	switch s.Path.Kind() {
	case KindStatic:
		paths := s.Path.static
		r.Path = func(p string) string {
			if replacement, ok := paths[p]; ok {
				return replacement
			}
			return p
		}
	case KindDynamic:
		r.Path = s.Path.dynamic
	}

	switch s.Query.Kind() {
	case KindStatic:
		replacements := s.Query.static
		r.Query = func(v url.Values) url.Values {
			return body.ReplaceValues(v, replacements, nil)
		}
	case KindDynamic:
		r.Query = s.Query.dynamic
	}

	switch s.Header.Kind() {
	case KindStatic:
		replacements := s.Header.static
		r.Header = func(h http.Header) http.Header {
			return body.ReplaceValues(h, replacements, http.CanonicalHeaderKey)
		}
	case KindDynamic:
		r.Header = s.Header.dynamic
	}

	r.RequestBody = resolveBody(s.RequestBody, r.RequestBody)
	r.ResponseBody = resolveBody(s.ResponseBody, r.ResponseBody)

	return r, nil
}

func resolveBody(slot Slot[map[string]interface{}, BodyFunc], identity BodyFunc) BodyFunc {
	switch slot.Kind() {
	case KindStatic:
		replacements := slot.static
		return func(data []byte, contentType string) []byte {
			rewritten, err := body.Rewrite(data, contentType, replacements)
			if err != nil {
				return data
			}
			return rewritten
		}
	case KindDynamic:
		return slot.dynamic
	default:
		return identity
	}
}

func allowHosts(hosts []string) HostFunc {
	return func(host string) bool {
		host = strings.ToLower(host)

		for _, allowed := range hosts {
			allowed = strings.ToLower(allowed)

			if strings.HasPrefix(allowed, "*.") {
				if strings.HasSuffix(host, allowed[1:]) {
					return true
				}
				continue
			}

			if host == allowed {
				return true
			}
		}

		return false
	}
}

// Request applies the host, path, query, header and request body filters to a copy of req.
// ok is false when the host filter excludes the request.
func (r Resolved) Request(req *scene.Request) (filtered *scene.Request, ok bool) {
	if req == nil {
		return nil, true
	}

	filtered = req.Clone()

	if filtered.URL != nil {
		if !r.Host(filtered.URL.Hostname()) {
			return nil, false
		}

		if p := r.Path(filtered.URL.Path); p != filtered.URL.Path {
			filtered.URL.Path = p
			filtered.URL.RawPath = ""
		}

		if filtered.URL.RawQuery != "" {
			query := filtered.URL.Query()
			if q := r.Query(filtered.URL.Query()); !body.ValuesEqual(query, q, false) {
				filtered.URL.RawQuery = q.Encode()
			}
		}
	}

	if filtered.Header != nil {
		filtered.Header = r.Header(filtered.Header)
	}

	if len(filtered.Body) > 0 {
		filtered.Body = r.RequestBody(filtered.Body, filtered.ContentType())
	}

	return filtered, true
}

// ResponseBodyOf applies the response body filter to a copy of data.
func (r Resolved) ResponseBodyOf(resp *scene.Response, data []byte) []byte {
	if len(data) == 0 {
		return data
	}

	contentType := ""
	if resp != nil {
		contentType = resp.Header.Get("Content-Type")
	}

	return r.ResponseBody(append([]byte(nil), data...), contentType)
}
