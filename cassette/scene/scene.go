// Package scene models one recorded HTTP interaction as an ordered sequence of typed events.
//
// A Chapter groups the Scenes of a single request lifecycle:
//
//	Request -> Response -> Data* -> Error? -> Closing
//
// The Response scene may be absent only when the chapter records an Error (the transport
// failed before any response was received).
package scene

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

// Type is the kind of a Scene.
type Type int

// Scene types, in the order they appear within a chapter.
const (
	TypeRequest Type = iota
	TypeResponse
	TypeData
	TypeError
	TypeClosing
)

var typeNames = map[Type]string{
	TypeRequest:  "request",
	TypeResponse: "response",
	TypeData:     "data",
	TypeError:    "error",
	TypeClosing:  "closing",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}

	return "unknown"
}

// ParseType returns the Type named by s.
func ParseType(s string) (Type, error) {
	for t, name := range typeNames {
		if name == strings.ToLower(s) {
			return t, nil
		}
	}

	return 0, errors.Errorf("unknown scene type '%s'", s)
}

// Request is the stored form of an HTTP request.
type Request struct {
	Method string
	URL    *url.URL
	Header http.Header
	Body   []byte
}

// Clone returns a deep copy of r or nil if r is nil.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}

	return &Request{
		Method: r.Method,
		URL:    cloneURL(r.URL),
		Header: cloneHeader(r.Header),
		Body:   cloneBytes(r.Body),
	}
}

// ContentType returns the media type declared by the request headers.
func (r *Request) ContentType() string {
	if r == nil {
		return ""
	}

	return r.Header.Get("Content-Type")
}

// Response is the stored form of an HTTP response, without its body.
// The body is held by the Data scenes of the chapter.
type Response struct {
	StatusCode int
	Status     string
	Header     http.Header

	// URL is the effective URL of the response which may differ from the request URL
	// when redirects were followed.
	URL *url.URL
}

// Clone returns a deep copy of r or nil if r is nil.
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}

	return &Response{
		StatusCode: r.StatusCode,
		Status:     r.Status,
		Header:     cloneHeader(r.Header),
		URL:        cloneURL(r.URL),
	}
}

// Error is a recorded transport failure.
type Error struct {
	Domain  string
	Code    int
	Message string
	Details map[string]string
}

// Clone returns a deep copy of e or nil if e is nil.
func (e *Error) Clone() *Error {
	if e == nil {
		return nil
	}

	var details map[string]string
	if e.Details != nil {
		details = make(map[string]string, len(e.Details))
		for k, v := range e.Details {
			details[k] = v
		}
	}

	return &Error{
		Domain:  e.Domain,
		Code:    e.Code,
		Message: e.Message,
		Details: details,
	}
}

func (e *Error) Error() string {
	if e.Domain == "" {
		return e.Message
	}

	return e.Domain + ": " + e.Message
}

// Scene is one typed event of a chapter.
// Exactly one payload field is set, according to Type: Request, Response, Data or Error.
// A Closing scene carries no payload.
type Scene struct {
	ChapterID string
	Type      Type

	Request  *Request
	Response *Response
	Data     []byte
	Error    *Error

	// Playing is true while the scene has been handed out for playback but not yet acknowledged.
	Playing bool
	// Played is true once the scene's playback has been acknowledged.
	Played bool
}

// NewRequestScene creates a Request scene.
func NewRequestScene(chapterID string, req *Request) Scene {
	return Scene{ChapterID: chapterID, Type: TypeRequest, Request: req}
}

// NewResponseScene creates a Response scene.
func NewResponseScene(chapterID string, resp *Response) Scene {
	return Scene{ChapterID: chapterID, Type: TypeResponse, Response: resp}
}

// NewDataScene creates a Data scene.
func NewDataScene(chapterID string, data []byte) Scene {
	return Scene{ChapterID: chapterID, Type: TypeData, Data: data}
}

// NewErrorScene creates an Error scene.
func NewErrorScene(chapterID string, e *Error) Scene {
	return Scene{ChapterID: chapterID, Type: TypeError, Error: e}
}

// NewClosingScene creates a Closing scene.
func NewClosingScene(chapterID string) Scene {
	return Scene{ChapterID: chapterID, Type: TypeClosing}
}

// Clone returns a deep copy of s.
func (s Scene) Clone() Scene {
	s.Request = s.Request.Clone()
	s.Response = s.Response.Clone()
	s.Data = cloneBytes(s.Data)
	s.Error = s.Error.Clone()

	return s
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}

	c := make([]byte, len(b))
	copy(c, b)

	return c
}

func cloneHeader(h http.Header) http.Header {
	if h == nil {
		return nil
	}

	return h.Clone()
}

func cloneURL(aURL *url.URL) *url.URL {
	if aURL == nil {
		return nil
	}

	u := *aURL

	if aURL.User != nil {
		if password, ok := aURL.User.Password(); ok {
			u.User = url.UserPassword(aURL.User.Username(), password)
		} else {
			u.User = url.User(aURL.User.Username())
		}
	}

	return &u
}
