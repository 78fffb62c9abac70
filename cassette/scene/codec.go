package scene

import (
	"encoding/base64"
	"net/http"
	"net/url"
	"unicode/utf8"

	"github.com/pkg/errors"

	"github.com/seborama/scenevcr/compression"
	vcrerr "github.com/seborama/scenevcr/errors"
)

// Body record encodings.
const (
	EncodingText       = "text"
	EncodingBase64     = "base64"
	EncodingGzipBase64 = "gzip+base64"
)

// ChapterRecord is the persisted form of a Chapter.
type ChapterRecord struct {
	ID     string   `json:"id" yaml:"id"`
	Scenes []Record `json:"scenes" yaml:"scenes"`
}

// Record is the persisted form of a Scene.
// Only the payload that corresponds to Type is set.
type Record struct {
	Chapter  string          `json:"chapter" yaml:"chapter"`
	Type     string          `json:"type" yaml:"type"`
	Request  *RequestRecord  `json:"request,omitempty" yaml:"request,omitempty"`
	Response *ResponseRecord `json:"response,omitempty" yaml:"response,omitempty"`
	Data     *BodyRecord     `json:"data,omitempty" yaml:"data,omitempty"`
	Error    *ErrorRecord    `json:"error,omitempty" yaml:"error,omitempty"`
}

// RequestRecord is the persisted form of a Request.
type RequestRecord struct {
	Method        string              `json:"method" yaml:"method"`
	URL           string              `json:"url" yaml:"url"`
	Headers       map[string][]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	HeadersBase64 map[string][]string `json:"headersBase64,omitempty" yaml:"headersBase64,omitempty"`
	Body          *BodyRecord         `json:"body,omitempty" yaml:"body,omitempty"`
}

// ResponseRecord is the persisted form of a Response.
type ResponseRecord struct {
	StatusCode    int                 `json:"statusCode" yaml:"statusCode"`
	Status        string              `json:"status,omitempty" yaml:"status,omitempty"`
	Headers       map[string][]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	HeadersBase64 map[string][]string `json:"headersBase64,omitempty" yaml:"headersBase64,omitempty"`
	URL           string              `json:"url,omitempty" yaml:"url,omitempty"`
}

// ErrorRecord is the persisted form of an Error.
// When Encoding is EncodingBase64, Message and the Details values are base64 encoded.
type ErrorRecord struct {
	Domain   string            `json:"domain,omitempty" yaml:"domain,omitempty"`
	Code     int               `json:"code,omitempty" yaml:"code,omitempty"`
	Encoding string            `json:"encoding,omitempty" yaml:"encoding,omitempty"`
	Message  string            `json:"message" yaml:"message"`
	Details  map[string]string `json:"details,omitempty" yaml:"details,omitempty"`
}

// BodyRecord holds binary-safe body bytes. Encoding states how Value must be decoded.
type BodyRecord struct {
	Encoding string `json:"encoding" yaml:"encoding"`
	Value    string `json:"value" yaml:"value"`
}

// Encoder converts chapters to their persisted form.
type Encoder struct {
	// CompressThreshold is the body size in bytes above which bodies are gzipped.
	// Zero disables compression.
	CompressThreshold int
}

// EncodeChapter converts ch to its persisted form.
func (e Encoder) EncodeChapter(ch Chapter) (ChapterRecord, error) {
	rec := ChapterRecord{ID: ch.ID, Scenes: make([]Record, 0, len(ch.Scenes))}

	for i := range ch.Scenes {
		r, err := e.EncodeScene(ch.Scenes[i])
		if err != nil {
			return ChapterRecord{}, errors.Wrapf(err, "chapter '%s' scene %d", ch.ID, i)
		}

		rec.Scenes = append(rec.Scenes, r)
	}

	return rec, nil
}

// EncodeScene converts s to its persisted form.
func (e Encoder) EncodeScene(s Scene) (Record, error) {
	rec := Record{Chapter: s.ChapterID, Type: s.Type.String()}

	var err error

	switch s.Type {
	case TypeRequest:
		rec.Request, err = e.encodeRequest(s.Request)

	case TypeResponse:
		rec.Response = encodeResponse(s.Response)

	case TypeData:
		rec.Data, err = e.encodeBody(s.Data)
		if rec.Data == nil {
			rec.Data = &BodyRecord{Encoding: EncodingText}
		}

	case TypeError:
		rec.Error = encodeError(s.Error)

	case TypeClosing:

	default:
		return Record{}, vcrerr.Kindf(vcrerr.ErrFormat, "unknown scene type %d", s.Type)
	}

	return rec, err
}

func (e Encoder) encodeRequest(req *Request) (*RequestRecord, error) {
	if req == nil {
		return nil, vcrerr.Kindf(vcrerr.ErrFormat, "request scene without request")
	}

	body, err := e.encodeBody(req.Body)
	if err != nil {
		return nil, err
	}

	rec := &RequestRecord{
		Method: req.Method,
		Body:   body,
	}
	rec.Headers, rec.HeadersBase64 = encodeHeader(req.Header)

	if req.URL != nil {
		rec.URL = req.URL.String()
	}

	return rec, nil
}

func encodeResponse(resp *Response) *ResponseRecord {
	if resp == nil {
		return nil
	}

	rec := &ResponseRecord{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
	}
	rec.Headers, rec.HeadersBase64 = encodeHeader(resp.Header)

	if resp.URL != nil {
		rec.URL = resp.URL.String()
	}

	return rec
}

func encodeError(e *Error) *ErrorRecord {
	if e == nil {
		return nil
	}

	rec := &ErrorRecord{
		Domain:  e.Domain,
		Code:    e.Code,
		Message: e.Message,
		Details: e.Clone().Details,
	}

	valid := utf8.ValidString(rec.Message)
	for _, v := range rec.Details {
		valid = valid && utf8.ValidString(v)
	}

	if valid {
		return rec
	}

	rec.Encoding = EncodingBase64
	rec.Message = base64.StdEncoding.EncodeToString([]byte(rec.Message))
	for k, v := range rec.Details {
		rec.Details[k] = base64.StdEncoding.EncodeToString([]byte(v))
	}

	return rec
}

func (e Encoder) encodeBody(b []byte) (*BodyRecord, error) {
	if len(b) == 0 {
		return nil, nil
	}

	if e.CompressThreshold > 0 && len(b) > e.CompressThreshold {
		gz, err := compression.Compress(b)
		if err != nil {
			return nil, errors.Wrap(err, "compress body")
		}

		return &BodyRecord{Encoding: EncodingGzipBase64, Value: base64.StdEncoding.EncodeToString(gz)}, nil
	}

	if utf8.Valid(b) {
		return &BodyRecord{Encoding: EncodingText, Value: string(b)}, nil
	}

	return &BodyRecord{Encoding: EncodingBase64, Value: base64.StdEncoding.EncodeToString(b)}, nil
}

// DecodeChapter converts a persisted chapter back to a Chapter.
// The result is validated: a chapter with a broken scene order is a format error.
func DecodeChapter(rec ChapterRecord) (Chapter, error) {
	if rec.ID == "" {
		return Chapter{}, vcrerr.Kindf(vcrerr.ErrFormat, "chapter record has no 'id'")
	}

	ch := Chapter{ID: rec.ID, Scenes: make([]Scene, 0, len(rec.Scenes))}

	for i := range rec.Scenes {
		s, err := DecodeScene(rec.Scenes[i])
		if err != nil {
			return Chapter{}, errors.Wrapf(err, "chapter '%s' scene %d", rec.ID, i)
		}

		ch.Scenes = append(ch.Scenes, s)
	}

	if err := ch.Validate(); err != nil {
		return Chapter{}, err
	}

	return ch, nil
}

// DecodeScene converts a persisted record back to a Scene.
func DecodeScene(rec Record) (Scene, error) {
	if rec.Chapter == "" {
		return Scene{}, vcrerr.Kindf(vcrerr.ErrFormat, "record has no 'chapter'")
	}

	t, err := ParseType(rec.Type)
	if err != nil {
		return Scene{}, vcrerr.Kindf(vcrerr.ErrFormat, "%s", err)
	}

	s := Scene{ChapterID: rec.Chapter, Type: t}

	switch t {
	case TypeRequest:
		s.Request, err = decodeRequest(rec.Request)

	case TypeResponse:
		s.Response, err = decodeResponse(rec.Response)

	case TypeData:
		if rec.Data == nil {
			return Scene{}, vcrerr.Kindf(vcrerr.ErrFormat, "data record has no 'data'")
		}
		s.Data, err = decodeBody(rec.Data)

	case TypeError:
		if rec.Error == nil {
			return Scene{}, vcrerr.Kindf(vcrerr.ErrFormat, "error record has no 'error'")
		}
		s.Error, err = decodeError(rec.Error)

	case TypeClosing:
	}

	if err != nil {
		return Scene{}, err
	}

	return s, nil
}

func decodeRequest(rec *RequestRecord) (*Request, error) {
	if rec == nil {
		return nil, vcrerr.Kindf(vcrerr.ErrFormat, "request record has no 'request'")
	}

	if rec.Method == "" {
		return nil, vcrerr.Kindf(vcrerr.ErrFormat, "request record has no 'method'")
	}

	if rec.URL == "" {
		return nil, vcrerr.Kindf(vcrerr.ErrFormat, "request record has no 'url'")
	}

	u, err := url.Parse(rec.URL)
	if err != nil {
		return nil, vcrerr.Kindf(vcrerr.ErrFormat, "request 'url': %s", err)
	}

	body, err := decodeBody(rec.Body)
	if err != nil {
		return nil, err
	}

	header, err := decodeHeader(rec.Headers, rec.HeadersBase64)
	if err != nil {
		return nil, errors.Wrap(err, "request")
	}

	return &Request{
		Method: rec.Method,
		URL:    u,
		Header: header,
		Body:   body,
	}, nil
}

func decodeResponse(rec *ResponseRecord) (*Response, error) {
	if rec == nil {
		return nil, vcrerr.Kindf(vcrerr.ErrFormat, "response record has no 'response'")
	}

	if rec.StatusCode <= 0 {
		return nil, vcrerr.Kindf(vcrerr.ErrFormat, "response record has no 'statusCode'")
	}

	header, err := decodeHeader(rec.Headers, rec.HeadersBase64)
	if err != nil {
		return nil, errors.Wrap(err, "response")
	}

	resp := &Response{
		StatusCode: rec.StatusCode,
		Status:     rec.Status,
		Header:     header,
	}

	if rec.URL != "" {
		u, err := url.Parse(rec.URL)
		if err != nil {
			return nil, vcrerr.Kindf(vcrerr.ErrFormat, "response 'url': %s", err)
		}
		resp.URL = u
	}

	return resp, nil
}

func decodeError(rec *ErrorRecord) (*Error, error) {
	e := &Error{
		Domain:  rec.Domain,
		Code:    rec.Code,
		Message: rec.Message,
		Details: rec.Details,
	}

	switch rec.Encoding {
	case "", EncodingText:
		return e, nil

	case EncodingBase64:
		msg, err := base64.StdEncoding.DecodeString(rec.Message)
		if err != nil {
			return nil, vcrerr.Kindf(vcrerr.ErrFormat, "base64 error message: %s", err)
		}
		e.Message = string(msg)

		if len(rec.Details) > 0 {
			e.Details = make(map[string]string, len(rec.Details))
		}
		for k, v := range rec.Details {
			d, err := base64.StdEncoding.DecodeString(v)
			if err != nil {
				return nil, vcrerr.Kindf(vcrerr.ErrFormat, "base64 error detail '%s': %s", k, err)
			}
			e.Details[k] = string(d)
		}

		return e, nil

	default:
		return nil, vcrerr.Kindf(vcrerr.ErrFormat, "unknown error encoding '%s'", rec.Encoding)
	}
}

func decodeBody(rec *BodyRecord) ([]byte, error) {
	if rec == nil {
		return nil, nil
	}

	switch rec.Encoding {
	case EncodingText:
		if rec.Value == "" {
			return nil, nil
		}
		return []byte(rec.Value), nil

	case EncodingBase64:
		b, err := base64.StdEncoding.DecodeString(rec.Value)
		if err != nil {
			return nil, vcrerr.Kindf(vcrerr.ErrFormat, "base64 body: %s", err)
		}
		if len(b) == 0 {
			return nil, nil
		}
		return b, nil

	case EncodingGzipBase64:
		gz, err := base64.StdEncoding.DecodeString(rec.Value)
		if err != nil {
			return nil, vcrerr.Kindf(vcrerr.ErrFormat, "gzip+base64 body: %s", err)
		}

		if len(gz) == 0 {
			return nil, nil
		}

		b, err := compression.Decompress(gz)
		if err != nil {
			return nil, vcrerr.Kindf(vcrerr.ErrFormat, "gzip+base64 body: %s", err)
		}
		if len(b) == 0 {
			return nil, nil
		}
		return b, nil

	default:
		return nil, vcrerr.Kindf(vcrerr.ErrFormat, "unknown body encoding '%s'", rec.Encoding)
	}
}

// encodeHeader splits h in two: the keys whose values are all valid UTF-8 are kept as text,
// the others have every value base64 encoded so that obs-text bytes survive a JSON document.
func encodeHeader(h http.Header) (text, b64 map[string][]string) {
	for k, v := range h {
		valid := true
		for _, s := range v {
			if !utf8.ValidString(s) {
				valid = false
				break
			}
		}

		vCopy := make([]string, len(v))

		if valid {
			copy(vCopy, v)
			if text == nil {
				text = make(map[string][]string, len(h))
			}
			text[k] = vCopy
			continue
		}

		for i, s := range v {
			vCopy[i] = base64.StdEncoding.EncodeToString([]byte(s))
		}
		if b64 == nil {
			b64 = make(map[string][]string)
		}
		b64[k] = vCopy
	}

	return text, b64
}

func decodeHeader(text, b64 map[string][]string) (http.Header, error) {
	if len(text) == 0 && len(b64) == 0 {
		return nil, nil
	}

	h := make(http.Header, len(text)+len(b64))
	for k, v := range text {
		vCopy := make([]string, len(v))
		copy(vCopy, v)
		h[k] = vCopy
	}

	for k, v := range b64 {
		if _, ok := h[k]; ok {
			return nil, vcrerr.Kindf(vcrerr.ErrFormat, "header '%s' is both in 'headers' and 'headersBase64'", k)
		}

		vals := make([]string, len(v))
		for i, s := range v {
			b, err := base64.StdEncoding.DecodeString(s)
			if err != nil {
				return nil, vcrerr.Kindf(vcrerr.ErrFormat, "base64 header '%s': %s", k, err)
			}
			vals[i] = string(b)
		}
		h[k] = vals
	}

	return h, nil
}
