package cassette

import (
	"log/slog"

	"github.com/seborama/scenevcr/cassette/scene"
	"github.com/seborama/scenevcr/fileio"
	"github.com/seborama/scenevcr/filter"
)

// RecordMode governs whether new chapters may be recorded and what happens to the
// chapters already on the cassette.
type RecordMode int

const (
	// RecordOnce records only when no cassette existed at load time.
	// An existing cassette is preserved verbatim.
	RecordOnce RecordMode = iota

	// RecordNew always records unmatched requests. New chapters are inserted at the
	// cassette playhead, i.e. before the first chapter that has not been played yet.
	RecordNew

	// RecordNone never records: the cassette is read-only.
	RecordNone

	// RecordAll discards the cassette at load time and records every request.
	RecordAll
)

var recordModeNames = map[RecordMode]string{
	RecordOnce: "once",
	RecordNew:  "new",
	RecordNone: "none",
	RecordAll:  "all",
}

func (m RecordMode) String() string {
	if name, ok := recordModeNames[m]; ok {
		return name
	}

	return "unknown"
}

// PlaybackMode governs the ordering of playback across chapters.
type PlaybackMode int

const (
	// Chronological playback only emits the scenes of a chapter once every chapter recorded
	// before it has been played to its closing scene.
	Chronological PlaybackMode = iota

	// Momentary playback streams each chapter as soon as it is matched.
	Momentary
)

func (m PlaybackMode) String() string {
	switch m {
	case Chronological:
		return "chronological"
	case Momentary:
		return "momentary"
	default:
		return "unknown"
	}
}

// MatchFunc is the composite predicate used to match an observed request to a
// stored request.
type MatchFunc func(observed, stored *scene.Request) bool

// RequestHook is the last chance to alter a request before it is recorded.
// Returning nil excludes the request from recording.
type RequestHook func(req *scene.Request) *scene.Request

// ResponseHook is the last chance to alter a response and its body before they are recorded.
// Returning a nil response suppresses the chapter.
type ResponseHook func(resp *scene.Response, body []byte) (*scene.Response, []byte)

// Crypter encrypts and decrypts cassettes at rest.
type Crypter interface {
	Encrypt(plaintext []byte) ([]byte, []byte, error)
	Decrypt(ciphertext, nonce []byte) ([]byte, error)
}

// Option defines a signature for options that can be passed
// to load a Cassette.
type Option func(*Cassette)

// WithStore sets the storage backend. The default is the local filesystem.
func WithStore(store fileio.Store) Option {
	return func(k7 *Cassette) {
		k7.store = store
	}
}

// WithCrypter enables cassette encryption.
func WithCrypter(crypter Crypter) Option {
	return func(k7 *Cassette) {
		k7.crypter = crypter
	}
}

// WithRecordMode sets the record mode. The default is RecordOnce.
func WithRecordMode(mode RecordMode) Option {
	return func(k7 *Cassette) {
		k7.recordMode = mode
	}
}

// WithPlaybackMode sets the playback mode. The default is Chronological.
func WithPlaybackMode(mode PlaybackMode) Option {
	return func(k7 *Cassette) {
		k7.playbackMode = mode
	}
}

// WithMatcher sets the request match predicate. A nil predicate matches every request.
func WithMatcher(match MatchFunc) Option {
	return func(k7 *Cassette) {
		k7.match = match
	}
}

// WithFilters sets the filters applied to requests and responses.
func WithFilters(filters filter.Resolved) Option {
	return func(k7 *Cassette) {
		k7.filters = filters
	}
}

// WithBeforeRecordRequest sets the hook called on each request before it is recorded.
func WithBeforeRecordRequest(hook RequestHook) Option {
	return func(k7 *Cassette) {
		k7.beforeRecordRequest = hook
	}
}

// WithBeforeRecordResponse sets the hook called on each response before it is recorded.
func WithBeforeRecordResponse(hook ResponseHook) Option {
	return func(k7 *Cassette) {
		k7.beforeRecordResponse = hook
	}
}

// WithCompressThreshold gzips persisted bodies larger than threshold bytes.
func WithCompressThreshold(threshold int) Option {
	return func(k7 *Cassette) {
		k7.encoder.CompressThreshold = threshold
	}
}

// WithAutoSave controls whether the cassette is saved after each recorded chapter.
// The default is true.
func WithAutoSave(autoSave bool) Option {
	return func(k7 *Cassette) {
		k7.autoSave = autoSave
	}
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(k7 *Cassette) {
		k7.logger = logger
	}
}
