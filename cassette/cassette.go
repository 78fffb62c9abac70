// Package cassette holds recorded chapters and plays them back or records new ones
// according to the record and playback modes.
package cassette

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/seborama/scenevcr/cassette/scene"
	vcrerr "github.com/seborama/scenevcr/errors"
	"github.com/seborama/scenevcr/fileio"
	"github.com/seborama/scenevcr/filter"
	"github.com/seborama/scenevcr/stats"
)

// Cassette contains a set of chapters.
type Cassette struct {
	name string

	store                fileio.Store
	crypter              Crypter
	encoder              scene.Encoder
	recordMode           RecordMode
	playbackMode         PlaybackMode
	match                MatchFunc
	filters              filter.Resolved
	beforeRecordRequest  RequestHook
	beforeRecordResponse ResponseHook
	autoSave             bool
	logger               *slog.Logger

	// mu serialises every state transition. cond is signalled whenever a chapter
	// reaches its closing scene or a playback is aborted.
	mu       sync.Mutex
	cond     *sync.Cond
	chapters []*chapterState
	ids      map[string]struct{}
	existed  bool

	// recordingSeq numbers recordings in the order Begin was called.
	recordingSeq int64
	dirty    bool

	chaptersLoaded   int32
	chaptersRecorded int32
	chaptersPlayed   int32

	saveMu sync.Mutex
}

type chapterState struct {
	chapter scene.Chapter

	// playhead is the index of the next scene to play.
	// A chapter is closed when its playhead is past its last scene.
	playhead int
	reserved bool
	recorded bool

	// seq is the Begin order of a chapter recorded in this session.
	seq int64
}

func (cs *chapterState) closed() bool {
	return cs.playhead >= len(cs.chapter.Scenes)
}

func newCassette(name string, options ...Option) *Cassette {
	k7 := &Cassette{
		name:     name,
		store:    &fileio.OSFile{},
		autoSave: true,
		logger:   slog.Default(),
		ids:      map[string]struct{}{},
	}
	k7.cond = sync.NewCond(&k7.mu)

	for _, option := range options {
		option(k7)
	}

	if k7.filters.Host == nil {
		k7.filters, _ = filter.Set{}.Resolve()
	}

	return k7
}

// Name returns the cassette name, i.e. its location in the store.
func (k7 *Cassette) Name() string {
	return k7.name
}

// RecordMode returns the cassette record mode.
func (k7 *Cassette) RecordMode() RecordMode {
	return k7.recordMode
}

// PlaybackMode returns the cassette playback mode.
func (k7 *Cassette) PlaybackMode() PlaybackMode {
	return k7.playbackMode
}

// WriteProtected returns true when no chapter may be recorded onto the cassette.
func (k7 *Cassette) WriteProtected() bool {
	k7.mu.Lock()
	defer k7.mu.Unlock()

	return k7.writeProtected()
}

func (k7 *Cassette) writeProtected() bool {
	return k7.recordMode == RecordNone || (k7.recordMode == RecordOnce && k7.existed)
}

// Existed returns true when the cassette was found in the store at load time.
func (k7 *Cassette) Existed() bool {
	k7.mu.Lock()
	defer k7.mu.Unlock()

	return k7.existed
}

// NumberOfChapters returns the number of chapters contained in the cassette.
func (k7 *Cassette) NumberOfChapters() int32 {
	if k7 == nil {
		return 0
	}

	k7.mu.Lock()
	defer k7.mu.Unlock()

	return int32(len(k7.chapters))
}

// PlayCount returns the number of chapters that were played back from the cassette
// to their closing scene.
func (k7 *Cassette) PlayCount() int32 {
	k7.mu.Lock()
	defer k7.mu.Unlock()

	return k7.chaptersPlayed
}

// AllPlayed returns true when every chapter has reached its closing scene.
// Chapters recorded during this session are closed. A cassette without chapters is
// all played.
func (k7 *Cassette) AllPlayed() bool {
	k7.mu.Lock()
	defer k7.mu.Unlock()

	for _, cs := range k7.chapters {
		if !cs.closed() {
			return false
		}
	}

	return true
}

// Stats returns the cassette's Stats.
func (k7 *Cassette) Stats() *stats.Stats {
	if k7 == nil {
		return nil
	}

	k7.mu.Lock()
	defer k7.mu.Unlock()

	return &stats.Stats{
		TotalChapters:    int32(len(k7.chapters)),
		ChaptersLoaded:   k7.chaptersLoaded,
		ChaptersRecorded: k7.chaptersRecorded,
		ChaptersPlayed:   k7.chaptersPlayed,
	}
}

// Chapters returns a copy of the chapters on the cassette, in record order.
// The scenes' Playing and Played flags reflect the current playback state.
func (k7 *Cassette) Chapters() []scene.Chapter {
	k7.mu.Lock()
	defer k7.mu.Unlock()

	chapters := make([]scene.Chapter, len(k7.chapters))
	for i, cs := range k7.chapters {
		chapters[i] = cs.chapter.Clone()
	}

	return chapters
}

// Requests returns a copy of the stored requests, in record order.
func (k7 *Cassette) Requests() []*scene.Request {
	k7.mu.Lock()
	defer k7.mu.Unlock()

	requests := make([]*scene.Request, len(k7.chapters))
	for i, cs := range k7.chapters {
		requests[i] = cs.chapter.Request().Clone()
	}

	return requests
}

// Responses returns a copy of the stored responses, in record order.
// The response of a chapter that recorded a transport error may be nil.
func (k7 *Cassette) Responses() []*scene.Response {
	k7.mu.Lock()
	defer k7.mu.Unlock()

	responses := make([]*scene.Response, len(k7.chapters))
	for i, cs := range k7.chapters {
		responses[i] = cs.chapter.Response().Clone()
	}

	return responses
}

// CanPlay returns true when an unplayed chapter matches req.
func (k7 *Cassette) CanPlay(req *scene.Request) bool {
	observed, ok := k7.filters.Request(req)
	if !ok {
		return false
	}

	k7.mu.Lock()
	defer k7.mu.Unlock()

	return k7.findPlayable(observed) != nil
}

// Play reserves the first unplayed chapter that matches req, in record order, and
// returns its Playback. The chapter's request scene is marked played.
func (k7 *Cassette) Play(req *scene.Request) (*Playback, error) {
	observed, ok := k7.filters.Request(req)
	if !ok {
		return nil, vcrerr.Kindf(vcrerr.ErrNoMatchingChapter, "host of %s %s is filtered out", req.Method, req.URL)
	}

	k7.mu.Lock()
	defer k7.mu.Unlock()

	cs := k7.findPlayable(observed)
	if cs == nil {
		return nil, vcrerr.Kindf(vcrerr.ErrNoMatchingChapter, "%s %s", req.Method, req.URL)
	}

	cs.reserved = true
	cs.chapter.Scenes[0].Played = true
	cs.playhead = 1

	return &Playback{k7: k7, cs: cs}, nil
}

func (k7 *Cassette) findPlayable(observed *scene.Request) *chapterState {
	for _, cs := range k7.chapters {
		if cs.reserved || cs.playhead != 0 {
			continue
		}

		if k7.match == nil || k7.match(observed, cs.chapter.Request()) {
			return cs
		}
	}

	return nil
}

// earlierClosed returns true when every chapter recorded before cs is closed.
func (k7 *Cassette) earlierClosed(cs *chapterState) bool {
	for _, other := range k7.chapters {
		if other == cs {
			return true
		}

		if !other.closed() {
			return false
		}
	}

	return true
}

// waitTurn blocks until cs may emit its scenes under the playback mode.
// k7.mu must be held.
func (k7 *Cassette) waitTurn(ctx context.Context, cs *chapterState) error {
	if k7.playbackMode != Chronological {
		return nil
	}

	if k7.earlierClosed(cs) {
		return nil
	}

	stop := context.AfterFunc(ctx, func() {
		k7.mu.Lock()
		defer k7.mu.Unlock()
		k7.cond.Broadcast()
	})
	defer stop()

	for !k7.earlierClosed(cs) {
		if err := ctx.Err(); err != nil {
			return err
		}

		k7.cond.Wait()
	}

	return nil
}

// insertionPoint returns the index at which a newly recorded chapter is inserted:
// before the first chapter that is not closed.
func (k7 *Cassette) insertionPoint() int {
	for i, cs := range k7.chapters {
		if !cs.closed() {
			return i
		}
	}

	return len(k7.chapters)
}

// newChapterID derives the identifier of a chapter from its stored request and the
// number of chapters of the same identity already on the cassette or being recorded.
func (k7 *Cassette) newChapterID(req *scene.Request) string {
	identity := req.Method + " "
	if req.URL != nil {
		identity += req.URL.String()
	}

	for occurrence := 0; ; occurrence++ {
		id := uuid.NewSHA1(uuid.NameSpaceURL, []byte(fmt.Sprintf("%s#%d", identity, occurrence))).String()
		if _, exists := k7.ids[id]; !exists {
			return id
		}
	}
}

func (k7 *Cassette) addRecordedChapter(ch scene.Chapter, seq int64) {
	for i := range ch.Scenes {
		ch.Scenes[i].Played = true
	}

	cs := &chapterState{chapter: ch, playhead: len(ch.Scenes), recorded: true, seq: seq}

	// a recording that began earlier goes before those that began later but finished first
	at := k7.insertionPoint()
	for at > 0 && k7.chapters[at-1].recorded && k7.chapters[at-1].seq > seq {
		at--
	}
	k7.chapters = append(k7.chapters, nil)
	copy(k7.chapters[at+1:], k7.chapters[at:])
	k7.chapters[at] = cs

	k7.ids[ch.ID] = struct{}{}
	k7.chaptersRecorded++
	k7.dirty = true

	k7.cond.Broadcast()
}
