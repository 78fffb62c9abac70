package scenevcr

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/seborama/scenevcr/cassette"
	"github.com/seborama/scenevcr/cassette/scene"
	vcrerr "github.com/seborama/scenevcr/errors"
)

const tracerName = "github.com/seborama/scenevcr"

// PrintedCircuitBoard is a structure that holds some facilities that are passed to
// the VCR machine to influence its internal behaviour.
type PrintedCircuitBoard struct {
	registry         *MatcherRegistry
	cassetteDefaults CassetteSettings
	logger           *slog.Logger
	tracer           trace.Tracer
}

func newPrintedCircuitBoard(vcrSettings *VCRSettings) (*PrintedCircuitBoard, error) {
	registry := NewMatcherRegistry()
	for _, register := range vcrSettings.registrations {
		if err := register(registry); err != nil {
			return nil, err
		}
	}

	logger := vcrSettings.logger
	if logger == nil {
		logger = slog.Default()
	}

	tp := vcrSettings.tracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	return &PrintedCircuitBoard{
		registry:         registry,
		cassetteDefaults: NewCassetteSettings(vcrSettings.cassetteDefaults...),
		logger:           logger,
		tracer:           tp.Tracer(tracerName),
	}, nil
}

// loadCassette merges the cassette settings over the VCR defaults and loads the cassette.
func (pcb *PrintedCircuitBoard) loadCassette(ctx context.Context, cassetteName string, settings ...CassetteSetting) (*cassette.Cassette, error) {
	cfg, err := pcb.cassetteDefaults.Merge(NewCassetteSettings(settings...))
	if err != nil {
		return nil, err
	}

	k7Opts, err := pcb.cassetteOptions(cfg)
	if err != nil {
		return nil, errors.Wrapf(err, "cassette '%s'", cassetteName)
	}

	if cfg.Root != nil {
		cassetteName = filepath.Join(*cfg.Root, cassetteName)
	}

	return cassette.LoadCassette(ctx, cassetteName, k7Opts...)
}

func (pcb *PrintedCircuitBoard) cassetteOptions(cfg CassetteSettings) ([]cassette.Option, error) {
	filters, err := cfg.Filters.Resolve()
	if err != nil {
		return nil, err
	}

	matchers := DefaultMatchers
	if cfg.Matchers != nil {
		matchers = cfg.Matchers
	}

	match, err := pcb.registry.Composite(matchers, cfg.SortLists != nil && *cfg.SortLists)
	if err != nil {
		return nil, err
	}

	k7Opts := []cassette.Option{
		cassette.WithMatcher(match),
		cassette.WithFilters(filters),
		cassette.WithBeforeRecordRequest(cfg.BeforeRecordRequest),
		cassette.WithBeforeRecordResponse(cfg.BeforeRecordResponse),
		cassette.WithLogger(pcb.logger),
	}

	if cfg.RecordMode != nil {
		k7Opts = append(k7Opts, cassette.WithRecordMode(*cfg.RecordMode))
	}

	if cfg.PlaybackMode != nil {
		k7Opts = append(k7Opts, cassette.WithPlaybackMode(*cfg.PlaybackMode))
	}

	if cfg.Store != nil {
		k7Opts = append(k7Opts, cassette.WithStore(cfg.Store))
	}

	if cfg.Crypter != nil {
		crypter, err := cfg.Crypter()
		if err != nil {
			return nil, err
		}
		k7Opts = append(k7Opts, cassette.WithCrypter(crypter))
	}

	if cfg.CompressThreshold != nil {
		k7Opts = append(k7Opts, cassette.WithCompressThreshold(*cfg.CompressThreshold))
	}

	if cfg.AutoSave != nil {
		k7Opts = append(k7Opts, cassette.WithAutoSave(*cfg.AutoSave))
	}

	return k7Opts, nil
}

// playChapter plays the chapter of k7 that matches request back as an HTTP response.
// The playback is rolled back when ctx is done before the chapter is closed.
func (pcb *PrintedCircuitBoard) playChapter(ctx context.Context, k7 *cassette.Cassette, request *scene.Request, httpRequest *http.Request) (*http.Response, string, error) {
	p, err := k7.Play(request)
	if err != nil {
		return nil, "", err
	}

	var (
		response    *scene.Response
		data        []byte
		recordedErr *scene.Error
	)

	for {
		s, err := p.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			p.Abort()
			return nil, p.ChapterID(), err
		}

		switch s.Type {
		case scene.TypeResponse:
			response = s.Response
		case scene.TypeData:
			data = append(data, s.Data...)
		case scene.TypeError:
			recordedErr = s.Error
		}

		p.Ack()
	}

	pcb.logger.Debug("chapter played",
		slog.String("cassette", k7.Name()),
		slog.String("chapter", p.ChapterID()),
		slog.String("method", httpRequest.Method),
		slog.String("url", httpRequest.URL.String()))

	if recordedErr != nil {
		return nil, p.ChapterID(), recordedErr.ToGoError()
	}

	return scene.ToHTTPResponse(response, data, httpRequest), p.ChapterID(), nil
}

// recordChapter performs the live request and records it on k7 as the response body
// is read. The chapter is sealed when the body reaches its end or is closed.
func (pcb *PrintedCircuitBoard) recordChapter(ctx context.Context, k7 *cassette.Cassette, rec *cassette.Recording, httpRequest *http.Request, transport http.RoundTripper) (*http.Response, error) {
	pcb.logger.Info("recording live request",
		slog.String("cassette", k7.Name()),
		slog.String("method", httpRequest.Method),
		slog.String("url", httpRequest.URL.String()))

	httpResponse, err := transport.RoundTrip(httpRequest)
	if err != nil {
		if ctx.Err() != nil {
			rec.Abandon()
			return nil, err
		}

		if recErr := rec.RecordError(ctx, scene.FromGoError(err)); recErr != nil {
			return nil, errors.Wrap(recErr, "record transport error")
		}

		return nil, err
	}

	if err := rec.RecordResponse(scene.FromHTTPResponse(httpResponse)); err != nil {
		_ = httpResponse.Body.Close()
		return nil, err
	}

	body := &recordingBody{
		ctx:    ctx,
		body:   httpResponse.Body,
		rec:    rec,
		logger: pcb.logger,
	}

	if httpResponse.Body == nil {
		if err := body.seal(nil); err != nil {
			return nil, err
		}
		return httpResponse, nil
	}

	httpResponse.Body = body

	return httpResponse, nil
}

// recordingBody records the chunks of a live response body as they are read.
type recordingBody struct {
	ctx    context.Context
	body   io.ReadCloser
	rec    *cassette.Recording
	logger *slog.Logger

	once    sync.Once
	sealErr error
}

func (b *recordingBody) Read(p []byte) (int, error) {
	n, err := b.body.Read(p)
	if n > 0 {
		if recErr := b.rec.RecordData(p[:n]); recErr != nil {
			b.logger.Warn("response data not recorded", slog.String("error", recErr.Error()))
		}
	}

	switch {
	case err == io.EOF:
		if sealErr := b.seal(nil); sealErr != nil {
			return n, sealErr
		}
	case err != nil:
		_ = b.seal(err)
	}

	return n, err
}

// Close reads what remains of the body so that the chapter is complete, then closes it.
// It blocks until the server ends the body or the request context is cancelled.
func (b *recordingBody) Close() error {
	_, drainErr := io.Copy(io.Discard, b)
	if drainErr != nil {
		b.logger.Debug("response body not fully read", slog.String("error", drainErr.Error()))
	}

	closeErr := b.body.Close()

	if b.sealErr != nil {
		return b.sealErr
	}

	return closeErr
}

func (b *recordingBody) seal(readErr error) error {
	b.once.Do(func() {
		switch {
		case readErr == nil:
			b.sealErr = b.rec.RecordCompletion(b.ctx)

		case b.ctx.Err() != nil:
			// the transfer was cancelled: nothing reaches the cassette.
			b.rec.Clear()
			b.rec.Abandon()

		default:
			b.sealErr = b.rec.RecordError(b.ctx, scene.FromGoError(readErr))
		}
	})

	return b.sealErr
}

// errNoMatchingChapter reports a request that cannot be played nor recorded.
func errNoMatchingChapter(k7 *cassette.Cassette, httpRequest *http.Request, cause error) error {
	return vcrerr.Wrapf(vcrerr.ErrNoMatchingChapter, cause, "cassette '%s': %s %s", k7.Name(), httpRequest.Method, httpRequest.URL)
}
