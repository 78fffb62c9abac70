package scenevcr

import (
	"net/http"
	"sort"
	"strings"
	"sync"

	"golang.org/x/text/unicode/norm"

	"github.com/seborama/scenevcr/body"
	"github.com/seborama/scenevcr/cassette"
	"github.com/seborama/scenevcr/cassette/scene"
	vcrerr "github.com/seborama/scenevcr/errors"
)

// Matcher is a function that compares one dimension of an observed request with a
// request stored on a cassette.
type Matcher func(observed, stored *scene.Request) bool

// Names of the built-in matchers.
const (
	MatchMethod  = "method"
	MatchURI     = "uri"
	MatchScheme  = "scheme"
	MatchHost    = "host"
	MatchPort    = "port"
	MatchPath    = "path"
	MatchQuery   = "query"
	MatchHeaders = "headers"
	MatchBody    = "body"
)

// DefaultMatchers is the matcher subset used when a cassette does not select one.
var DefaultMatchers = []string{MatchMethod, MatchScheme, MatchHost, MatchPort, MatchPath, MatchQuery}

// DefaultMethodMatcher compares HTTP methods.
func DefaultMethodMatcher(observed, stored *scene.Request) bool {
	return observed.Method == stored.Method
}

// DefaultURIMatcher compares the full URLs.
func DefaultURIMatcher(observed, stored *scene.Request) bool {
	return urlString(observed) == urlString(stored)
}

// DefaultSchemeMatcher compares URL schemes, case-insensitively.
func DefaultSchemeMatcher(observed, stored *scene.Request) bool {
	if observed.URL == nil || stored.URL == nil {
		return observed.URL == stored.URL
	}

	return strings.EqualFold(observed.URL.Scheme, stored.URL.Scheme)
}

// DefaultHostMatcher compares host names, case-insensitively and without the port.
func DefaultHostMatcher(observed, stored *scene.Request) bool {
	if observed.URL == nil || stored.URL == nil {
		return observed.URL == stored.URL
	}

	return strings.EqualFold(observed.URL.Hostname(), stored.URL.Hostname())
}

// DefaultPortMatcher compares ports. A missing port is the default port of the scheme.
func DefaultPortMatcher(observed, stored *scene.Request) bool {
	if observed.URL == nil || stored.URL == nil {
		return observed.URL == stored.URL
	}

	return effectivePort(observed) == effectivePort(stored)
}

// DefaultPathMatcher compares URL paths after Unicode NFC normalisation.
func DefaultPathMatcher(observed, stored *scene.Request) bool {
	if observed.URL == nil || stored.URL == nil {
		return observed.URL == stored.URL
	}

	return norm.NFC.String(observed.URL.Path) == norm.NFC.String(stored.URL.Path)
}

// DefaultQueryMatcher compares query parameters regardless of their order.
// Repeated parameters must appear in the same order.
func DefaultQueryMatcher(observed, stored *scene.Request) bool {
	return queryMatcher(false)(observed, stored)
}

// DefaultHeaderMatcher compares headers. Header names are canonicalised and the values
// of a header are compared regardless of their order.
func DefaultHeaderMatcher(observed, stored *scene.Request) bool {
	return headersEqual(observed.Header, stored.Header)
}

// DefaultBodyMatcher compares bodies: JSON and form bodies are compared structurally
// when both requests declare the same structured content type, other bodies byte for byte.
func DefaultBodyMatcher(observed, stored *scene.Request) bool {
	return bodyMatcher(false)(observed, stored)
}

func queryMatcher(sortLists bool) Matcher {
	return func(observed, stored *scene.Request) bool {
		if observed.URL == nil || stored.URL == nil {
			return observed.URL == stored.URL
		}

		return body.ValuesEqual(observed.URL.Query(), stored.URL.Query(), sortLists)
	}
}

func bodyMatcher(sortLists bool) Matcher {
	return func(observed, stored *scene.Request) bool {
		return body.Equal(observed.Body, observed.ContentType(), stored.Body, stored.ContentType(), sortLists)
	}
}

func urlString(req *scene.Request) string {
	if req.URL == nil {
		return ""
	}

	return req.URL.String()
}

func effectivePort(req *scene.Request) string {
	if port := req.URL.Port(); port != "" {
		return port
	}

	switch strings.ToLower(req.URL.Scheme) {
	case "https", "wss":
		return "443"
	case "http", "ws":
		return "80"
	default:
		return ""
	}
}

func headersEqual(h1, h2 http.Header) bool {
	c1, c2 := canonicalHeader(h1), canonicalHeader(h2)

	if len(c1) != len(c2) {
		return false
	}

	for key, values1 := range c1 {
		values2, ok := c2[key]
		if !ok || len(values1) != len(values2) {
			return false
		}

		m := make(map[string]int)
		for _, v := range values1 {
			m[v]++
		}
		for _, v := range values2 {
			m[v]--
		}
		for _, count := range m {
			if count != 0 {
				return false
			}
		}
	}

	return true
}

func canonicalHeader(h http.Header) map[string][]string {
	c := make(map[string][]string, len(h))
	for key, values := range h {
		key = http.CanonicalHeaderKey(key)
		c[key] = append(c[key], values...)
	}

	return c
}

type registeredMatcher struct {
	match Matcher

	// sorted is the variant used with sorted-list comparison, when the matcher has one.
	sorted Matcher
}

// MatcherRegistry maps matcher names to matchers.
// It is initialised with the built-in matchers.
type MatcherRegistry struct {
	mu       sync.RWMutex
	matchers map[string]registeredMatcher
}

// NewMatcherRegistry creates a registry holding the built-in matchers.
func NewMatcherRegistry() *MatcherRegistry {
	return &MatcherRegistry{
		matchers: map[string]registeredMatcher{
			MatchMethod:  {match: DefaultMethodMatcher},
			MatchURI:     {match: DefaultURIMatcher},
			MatchScheme:  {match: DefaultSchemeMatcher},
			MatchHost:    {match: DefaultHostMatcher},
			MatchPort:    {match: DefaultPortMatcher},
			MatchPath:    {match: DefaultPathMatcher},
			MatchQuery:   {match: DefaultQueryMatcher, sorted: queryMatcher(true)},
			MatchHeaders: {match: DefaultHeaderMatcher},
			MatchBody:    {match: DefaultBodyMatcher, sorted: bodyMatcher(true)},
		},
	}
}

// Register adds a matcher under name. An existing matcher of the same name is replaced.
func (r *MatcherRegistry) Register(name string, m Matcher) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.matchers[name] = registeredMatcher{match: m}
}

// RegisterExpression compiles a CEL expression and registers it as a matcher under name.
// See NewExpressionMatcher.
func (r *MatcherRegistry) RegisterExpression(name, expression string) error {
	m, err := NewExpressionMatcher(expression)
	if err != nil {
		return err
	}

	r.Register(name, m)

	return nil
}

// Unregister removes the matcher registered under name, built-in or not.
// Cassettes that select it fail to insert until a matcher is registered again.
func (r *MatcherRegistry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.matchers, name)
}

// Names returns the registered matcher names, sorted.
func (r *MatcherRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.matchers))
	for name := range r.matchers {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// Composite returns the logical AND of the matchers named. An empty selection matches
// every request. ErrInvalidConfiguration is returned for an unknown name.
func (r *MatcherRegistry) Composite(names []string, sortLists bool) (cassette.MatchFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matchers := make([]Matcher, 0, len(names))

	for _, name := range names {
		rm, ok := r.matchers[name]
		if !ok {
			return nil, vcrerr.Kindf(vcrerr.ErrInvalidConfiguration, "unknown matcher '%s'", name)
		}

		if sortLists && rm.sorted != nil {
			matchers = append(matchers, rm.sorted)
			continue
		}

		matchers = append(matchers, rm.match)
	}

	return func(observed, stored *scene.Request) bool {
		if observed == nil || stored == nil {
			return observed == stored
		}

		for _, m := range matchers {
			if !m(observed, stored) {
				return false
			}
		}

		return true
	}, nil
}
