package scene

import (
	"bytes"

	"github.com/pkg/errors"

	vcrerr "github.com/seborama/scenevcr/errors"
)

// Chapter is the ordered set of scenes of one request lifecycle.
type Chapter struct {
	ID     string
	Scenes []Scene
}

// NewChapter creates a Chapter. The scenes' chapter identifier is set to id.
func NewChapter(id string, scenes ...Scene) Chapter {
	ch := Chapter{ID: id, Scenes: make([]Scene, len(scenes))}

	for i := range scenes {
		ch.Scenes[i] = scenes[i]
		ch.Scenes[i].ChapterID = id
	}

	return ch
}

// Clone returns a deep copy of the chapter.
func (c Chapter) Clone() Chapter {
	clone := Chapter{ID: c.ID}

	if c.Scenes != nil {
		clone.Scenes = make([]Scene, len(c.Scenes))
		for i := range c.Scenes {
			clone.Scenes[i] = c.Scenes[i].Clone()
		}
	}

	return clone
}

// Request returns the chapter's recorded request, or nil.
func (c Chapter) Request() *Request {
	for i := range c.Scenes {
		if c.Scenes[i].Type == TypeRequest {
			return c.Scenes[i].Request
		}
	}

	return nil
}

// Response returns the chapter's recorded response, or nil.
func (c Chapter) Response() *Response {
	for i := range c.Scenes {
		if c.Scenes[i].Type == TypeResponse {
			return c.Scenes[i].Response
		}
	}

	return nil
}

// Body returns the concatenation of the chapter's Data scenes.
func (c Chapter) Body() []byte {
	var buf bytes.Buffer

	for i := range c.Scenes {
		if c.Scenes[i].Type == TypeData {
			buf.Write(c.Scenes[i].Data)
		}
	}

	return buf.Bytes()
}

// Err returns the chapter's recorded transport error, or nil.
func (c Chapter) Err() *Error {
	for i := range c.Scenes {
		if c.Scenes[i].Type == TypeError {
			return c.Scenes[i].Error
		}
	}

	return nil
}

// IsClosed returns true when the chapter ends with its Closing scene.
func (c Chapter) IsClosed() bool {
	return len(c.Scenes) > 0 && c.Scenes[len(c.Scenes)-1].Type == TypeClosing
}

// allowedNext lists, for each scene type, the types that may follow it.
var allowedNext = map[Type][]Type{
	TypeRequest:  {TypeResponse, TypeError},
	TypeResponse: {TypeData, TypeError, TypeClosing},
	TypeData:     {TypeData, TypeError, TypeClosing},
	TypeError:    {TypeClosing},
	TypeClosing:  {},
}

// Validate checks the chapter's scene order and payloads.
func (c Chapter) Validate() error {
	if c.ID == "" {
		return errors.Wrap(vcrerr.ErrFormat, "chapter has no identifier")
	}

	if len(c.Scenes) == 0 || c.Scenes[0].Type != TypeRequest {
		return vcrerr.Kindf(vcrerr.ErrFormat, "chapter '%s' must start with a request scene", c.ID)
	}

	for i := range c.Scenes {
		s := &c.Scenes[i]

		if s.ChapterID != c.ID {
			return vcrerr.Kindf(vcrerr.ErrFormat, "scene %d belongs to chapter '%s', not '%s'", i, s.ChapterID, c.ID)
		}

		if err := validatePayload(s); err != nil {
			return vcrerr.Kindf(vcrerr.ErrFormat, "chapter '%s' scene %d: %s", c.ID, i, err)
		}

		if i == 0 {
			continue
		}

		if !isAllowedAfter(c.Scenes[i-1].Type, s.Type) {
			return vcrerr.Kindf(vcrerr.ErrFormat, "chapter '%s': %s scene cannot follow %s scene", c.ID, s.Type, c.Scenes[i-1].Type)
		}
	}

	if !c.IsClosed() {
		return vcrerr.Kindf(vcrerr.ErrFormat, "chapter '%s' has no closing scene", c.ID)
	}

	return nil
}

func isAllowedAfter(prev, next Type) bool {
	for _, t := range allowedNext[prev] {
		if t == next {
			return true
		}
	}

	return false
}

func validatePayload(s *Scene) error {
	switch s.Type {
	case TypeRequest:
		if s.Request == nil {
			return errors.New("request scene without request")
		}
	case TypeResponse:
		if s.Response == nil {
			return errors.New("response scene without response")
		}
	case TypeData:
		if len(s.Data) == 0 {
			return errors.New("empty data scene")
		}
	case TypeError:
		if s.Error == nil {
			return errors.New("error scene without error")
		}
	case TypeClosing:
	default:
		return errors.Errorf("unknown scene type %d", s.Type)
	}

	return nil
}
