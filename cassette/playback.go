package cassette

import (
	"context"
	"io"

	"github.com/seborama/scenevcr/cassette/scene"
	vcrerr "github.com/seborama/scenevcr/errors"
)

// Playback streams the scenes of a reserved chapter.
// Each scene returned by Next must be acknowledged with Ack before the next one is
// emitted.
type Playback struct {
	k7      *Cassette
	cs      *chapterState
	pending bool
	aborted bool
}

// ChapterID returns the identifier of the chapter being played.
func (p *Playback) ChapterID() string {
	return p.cs.chapter.ID
}

// Next returns a copy of the next scene of the chapter: its response, data, error
// and finally its closing scene. io.EOF is returned once the closing scene has been
// acknowledged.
// In Chronological mode, Next blocks until every chapter recorded before this one is
// closed, or until ctx is done.
func (p *Playback) Next(ctx context.Context) (scene.Scene, error) {
	k7 := p.k7

	k7.mu.Lock()
	defer k7.mu.Unlock()

	if p.aborted {
		return scene.Scene{}, io.EOF
	}

	if p.pending {
		return scene.Scene{}, vcrerr.Kindf(vcrerr.ErrSceneNotAcknowledged, "chapter '%s' scene %d", p.cs.chapter.ID, p.cs.playhead)
	}

	if p.cs.closed() {
		return scene.Scene{}, io.EOF
	}

	if err := k7.waitTurn(ctx, p.cs); err != nil {
		return scene.Scene{}, err
	}

	s := &p.cs.chapter.Scenes[p.cs.playhead]
	s.Playing = true
	p.pending = true

	return s.Clone(), nil
}

// Ack confirms that the scene last returned by Next was delivered.
// Acknowledging the closing scene completes the chapter.
func (p *Playback) Ack() {
	k7 := p.k7

	k7.mu.Lock()
	defer k7.mu.Unlock()

	if !p.pending || p.aborted {
		return
	}

	s := &p.cs.chapter.Scenes[p.cs.playhead]
	s.Playing = false
	s.Played = true

	p.pending = false
	p.cs.playhead++

	if p.cs.closed() {
		p.cs.reserved = false
		k7.chaptersPlayed++
		k7.cond.Broadcast()
	}
}

// Abort rolls the chapter back to its state before Play so that it can be matched
// again. It has no effect once the chapter is closed.
func (p *Playback) Abort() {
	k7 := p.k7

	k7.mu.Lock()
	defer k7.mu.Unlock()

	if p.aborted || p.cs.closed() {
		return
	}

	for i := range p.cs.chapter.Scenes {
		p.cs.chapter.Scenes[i].Playing = false
		p.cs.chapter.Scenes[i].Played = false
	}

	p.cs.playhead = 0
	p.cs.reserved = false
	p.pending = false
	p.aborted = true

	k7.cond.Broadcast()
}
