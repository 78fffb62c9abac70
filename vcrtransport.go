package scenevcr

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/seborama/scenevcr/cassette"
	"github.com/seborama/scenevcr/cassette/scene"
	vcrerr "github.com/seborama/scenevcr/errors"
)

// Outcomes of a round trip, as reported on its span.
const (
	outcomePlayed      = "played"
	outcomeRecorded    = "recorded"
	outcomePassThrough = "passthrough"
)

// vcrTransport is the heart of VCR. It implements
// http.RoundTripper that wraps over the default
// one provided by Go's http package or a custom one
// if provided when calling NewVCR.
type vcrTransport struct {
	mu        sync.RWMutex
	pcb       *PrintedCircuitBoard
	cassette  *cassette.Cassette
	transport http.RoundTripper
}

// RoundTrip is an implementation of http.RoundTripper.
// A request that matches a chapter of the cassette is played back. Otherwise, when the
// record mode permits it, the live request is performed and recorded. Requests excluded
// from recording by a filter or a hook go to the live server.
func (t *vcrTransport) RoundTrip(httpRequest *http.Request) (*http.Response, error) {
	pcb, k7, transport := t.snapshot()

	ctx, span := pcb.tracer.Start(httpRequest.Context(), "scenevcr.RoundTrip",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", httpRequest.Method),
			attribute.String("url.full", httpRequest.URL.String()),
		),
	)
	defer span.End()

	httpResponse, err := t.roundTrip(ctx, span, pcb, k7, transport, httpRequest)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "round trip failed")
		return nil, err
	}

	span.SetAttributes(attribute.Int("http.response.status_code", httpResponse.StatusCode))

	return httpResponse, nil
}

func (t *vcrTransport) roundTrip(ctx context.Context, span trace.Span, pcb *PrintedCircuitBoard, k7 *cassette.Cassette, transport http.RoundTripper, httpRequest *http.Request) (*http.Response, error) {
	if k7 == nil {
		return nil, vcrerr.Kindf(vcrerr.ErrInvalidConfiguration, "no cassette is inserted")
	}

	span.SetAttributes(attribute.String("scenevcr.cassette", k7.Name()))

	request, err := scene.FromHTTPRequest(httpRequest)
	if err != nil {
		return nil, err
	}

	if k7.CanPlay(request) {
		httpResponse, chapterID, err := pcb.playChapter(ctx, k7, request, httpRequest)
		if chapterID != "" {
			span.SetAttributes(
				attribute.String("scenevcr.outcome", outcomePlayed),
				attribute.String("scenevcr.chapter", chapterID),
			)
			return httpResponse, err
		}

		// another request reserved the chapter first.
		if !errors.Is(err, vcrerr.ErrNoMatchingChapter) {
			return nil, err
		}
	}

	rec, err := k7.Begin(request)
	switch {
	case errors.Is(err, vcrerr.ErrIgnoredRequest):
		pcb.logger.Debug("request not recorded",
			slog.String("cassette", k7.Name()),
			slog.String("reason", err.Error()))
		span.SetAttributes(attribute.String("scenevcr.outcome", outcomePassThrough))
		return transport.RoundTrip(httpRequest)

	case errors.Is(err, vcrerr.ErrUnauthorizedWrite):
		return nil, errNoMatchingChapter(k7, httpRequest, err)

	case err != nil:
		return nil, err
	}

	span.SetAttributes(attribute.String("scenevcr.outcome", outcomeRecorded))

	return pcb.recordChapter(ctx, k7, rec, httpRequest, transport)
}

func (t *vcrTransport) snapshot() (*PrintedCircuitBoard, *cassette.Cassette, http.RoundTripper) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.pcb, t.cassette, t.transport
}

func (t *vcrTransport) currentCassette() *cassette.Cassette {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.cassette
}
