package cassette

import (
	"bytes"
	"context"
	"log/slog"
	"sync"

	"github.com/pkg/errors"

	"github.com/seborama/scenevcr/cassette/scene"
	vcrerr "github.com/seborama/scenevcr/errors"
)

// Recording accumulates the scenes of a new chapter.
// Nothing reaches the cassette until the recording is sealed by RecordCompletion or
// RecordError.
type Recording struct {
	k7 *Cassette

	// id and seq are reserved by Begin so that concurrent recordings of the same
	// request are numbered and ordered as they started.
	id  string
	seq int64

	mu       sync.Mutex
	request  *scene.Request
	response *scene.Response
	data     bytes.Buffer
	done     bool
}

// Begin starts the recording of req.
// The host, path, query, header and request body filters then the before-record request
// hook are applied to a copy of req to produce the stored request.
// ErrUnauthorizedWrite is returned when the cassette is write protected and
// ErrIgnoredRequest when a filter or the hook excludes the request.
func (k7 *Cassette) Begin(req *scene.Request) (*Recording, error) {
	if k7.WriteProtected() {
		return nil, vcrerr.Kindf(vcrerr.ErrUnauthorizedWrite, "cassette '%s' is write protected (record mode '%s')", k7.name, k7.recordMode)
	}

	stored, ok := k7.filters.Request(req)
	if !ok {
		return nil, vcrerr.Kindf(vcrerr.ErrIgnoredRequest, "host filter excludes %s", req.URL)
	}

	if k7.beforeRecordRequest != nil {
		stored = k7.beforeRecordRequest(stored)
		if stored == nil {
			return nil, vcrerr.Kindf(vcrerr.ErrIgnoredRequest, "before-record hook excludes %s", req.URL)
		}
	}

	k7.mu.Lock()
	defer k7.mu.Unlock()

	k7.recordingSeq++
	id := k7.newChapterID(stored)
	k7.ids[id] = struct{}{}

	return &Recording{k7: k7, id: id, seq: k7.recordingSeq, request: stored}, nil
}

// RecordResponse records the response. A later call replaces the response, e.g. when
// a redirect was followed.
func (r *Recording) RecordResponse(resp *scene.Response) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.done {
		return errors.New("recording is already sealed")
	}

	r.response = resp.Clone()

	return nil
}

// RecordData appends a chunk of the response body.
func (r *Recording) RecordData(chunk []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.done {
		return errors.New("recording is already sealed")
	}

	r.data.Write(chunk)

	return nil
}

// Clear discards the body data accumulated so far, e.g. when the transfer restarts.
func (r *Recording) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.data.Reset()
}

// Abandon discards the recording. Nothing is added to the cassette.
func (r *Recording) Abandon() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.done {
		r.release()
	}

	r.done = true
	r.data.Reset()
}

// release gives the reserved chapter id back.
func (r *Recording) release() {
	r.k7.mu.Lock()
	defer r.k7.mu.Unlock()

	delete(r.k7.ids, r.id)
}

// RecordCompletion seals the chapter after a successful transfer.
func (r *Recording) RecordCompletion(ctx context.Context) error {
	return r.seal(ctx, nil)
}

// RecordError seals the chapter with a transport error.
func (r *Recording) RecordError(ctx context.Context, e *scene.Error) error {
	if e == nil {
		return errors.New("nil error")
	}

	return r.seal(ctx, e)
}

func (r *Recording) seal(ctx context.Context, e *scene.Error) error {
	r.mu.Lock()

	if r.done {
		r.mu.Unlock()
		return errors.New("recording is already sealed")
	}
	r.done = true

	resp := r.response
	data := append([]byte(nil), r.data.Bytes()...)
	r.data.Reset()

	r.mu.Unlock()

	k7 := r.k7

	if resp == nil && e == nil {
		r.release()
		return vcrerr.Kindf(vcrerr.ErrFormat, "no response recorded for %s %s", r.request.Method, r.request.URL)
	}

	data = k7.filters.ResponseBodyOf(resp, data)

	if resp != nil && k7.beforeRecordResponse != nil {
		resp, data = k7.beforeRecordResponse(resp, data)
		if resp == nil {
			r.release()
			k7.logger.Debug("chapter suppressed by before-record response hook",
				slog.String("cassette", k7.name),
				slog.String("method", r.request.Method),
				slog.String("url", r.request.URL.String()))
			return nil
		}
	}

	scenes := []scene.Scene{scene.NewRequestScene("", r.request)}
	if resp != nil {
		scenes = append(scenes, scene.NewResponseScene("", resp))
		if len(data) > 0 {
			scenes = append(scenes, scene.NewDataScene("", data))
		}
	}
	if e != nil {
		scenes = append(scenes, scene.NewErrorScene("", e.Clone()))
	}
	scenes = append(scenes, scene.NewClosingScene(""))

	ch := scene.NewChapter(r.id, scenes...)
	if err := ch.Validate(); err != nil {
		r.release()
		return err
	}

	k7.mu.Lock()
	k7.addRecordedChapter(ch, r.seq)
	k7.mu.Unlock()

	k7.logger.Debug("chapter recorded",
		slog.String("cassette", k7.name),
		slog.String("chapter", ch.ID),
		slog.String("method", r.request.Method),
		slog.String("url", r.request.URL.String()))

	if !k7.autoSave {
		return nil
	}

	return k7.Save(ctx)
}
