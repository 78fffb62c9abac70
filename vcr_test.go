package scenevcr_test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/seborama/scenevcr"
	"github.com/seborama/scenevcr/body"
	"github.com/seborama/scenevcr/cassette"
	"github.com/seborama/scenevcr/cassette/scene"
	vcrerr "github.com/seborama/scenevcr/errors"
	"github.com/seborama/scenevcr/stats"
)

func TestVCR_RecordAndPlayBack(t *testing.T) {
	ctx := context.Background()
	srv, hits := newTestServer(t)
	k7Name := filepath.Join(t.TempDir(), "k7")

	vcr := newVCR(t, scenevcr.WithCassette(k7Name))

	resp, data := get(t, vcr, srv.URL+"/status/200")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, data)
	assert.Equal(t, &stats.Stats{TotalChapters: 1, ChaptersRecorded: 1}, vcr.Stats())

	require.NoError(t, vcr.Eject(ctx))
	assert.Nil(t, vcr.Cassette())
	assert.FileExists(t, k7Name+".json")

	require.NoError(t, vcr.Insert(ctx, k7Name))

	resp, data = get(t, vcr, srv.URL+"/status/200")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, data)

	assert.EqualValues(t, 1, hits.Load())
	assert.EqualValues(t, 1, vcr.NumberOfChapters())
	assert.EqualValues(t, 1, vcr.PlayCount())
	assert.True(t, vcr.AllPlayed())
	assert.Equal(t, &stats.Stats{TotalChapters: 1, ChaptersLoaded: 1, ChaptersPlayed: 1}, vcr.Stats())
}

func TestVCR_WithoutCassette(t *testing.T) {
	srv, hits := newTestServer(t)

	vcr := newVCR(t)

	assert.Equal(t, &stats.Stats{}, vcr.Stats())
	assert.Zero(t, vcr.NumberOfChapters())

	_, err := vcr.HTTPClient().Get(srv.URL + "/hello") //nolint:bodyclose
	require.Error(t, err)
	assert.True(t, errors.Is(err, vcrerr.ErrInvalidConfiguration))
	assert.Zero(t, hits.Load())
}

func TestVCR_InsertTwice(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	vcr := newVCR(t, scenevcr.WithCassette(filepath.Join(dir, "first")))

	err := vcr.Insert(ctx, filepath.Join(dir, "second"))
	require.Error(t, err)
	assert.Equal(t, filepath.Join(dir, "first.json"), vcr.Cassette().Name())

	require.NoError(t, vcr.Eject(ctx))
	require.NoError(t, vcr.Eject(ctx))
	require.NoError(t, vcr.Insert(ctx, filepath.Join(dir, "second")))
}

func TestVCR_CassetteDefaults(t *testing.T) {
	dir := t.TempDir()

	vcr := newVCR(t,
		scenevcr.WithCassetteDefaults(
			scenevcr.WithCassettesRoot(dir),
			scenevcr.WithRecordMode(cassette.RecordAll),
			scenevcr.WithPlaybackMode(cassette.Momentary),
		),
		scenevcr.WithCassette("k7", scenevcr.WithRecordMode(cassette.RecordNew)),
	)

	k7 := vcr.Cassette()
	require.NotNil(t, k7)
	assert.Equal(t, filepath.Join(dir, "k7.json"), k7.Name())
	assert.Equal(t, cassette.RecordNew, k7.RecordMode())
	assert.Equal(t, cassette.Momentary, k7.PlaybackMode())
}

func TestVCR_RecordOnce_NoMatchingChapter(t *testing.T) {
	ctx := context.Background()
	srv, hits := newTestServer(t)
	k7Name := filepath.Join(t.TempDir(), "k7")

	vcr := newVCR(t, scenevcr.WithCassette(k7Name, scenevcr.WithRecordMode(cassette.RecordOnce)))

	get(t, vcr, srv.URL+"/a")
	require.NoError(t, vcr.Eject(ctx))
	require.NoError(t, vcr.Insert(ctx, k7Name, scenevcr.WithRecordMode(cassette.RecordOnce)))

	_, err := vcr.HTTPClient().Get(srv.URL + "/b") //nolint:bodyclose
	require.Error(t, err)
	assert.True(t, errors.Is(err, vcrerr.ErrNoMatchingChapter))
	assert.True(t, errors.Is(err, vcrerr.ErrUnauthorizedWrite))

	// the chapter of /a plays once only
	_, data := get(t, vcr, srv.URL+"/a")
	assert.Equal(t, "Hello, /a", string(data))

	_, err = vcr.HTTPClient().Get(srv.URL + "/a") //nolint:bodyclose
	assert.True(t, errors.Is(err, vcrerr.ErrNoMatchingChapter))

	assert.EqualValues(t, 1, hits.Load())
}

func TestVCR_RecordNew_AppendsChapters(t *testing.T) {
	ctx := context.Background()
	srv, hits := newTestServer(t)
	k7Name := filepath.Join(t.TempDir(), "k7")

	vcr := newVCR(t, scenevcr.WithCassette(k7Name))
	get(t, vcr, srv.URL+"/a")
	require.NoError(t, vcr.Eject(ctx))

	require.NoError(t, vcr.Insert(ctx, k7Name, scenevcr.WithRecordMode(cassette.RecordNew)))
	get(t, vcr, srv.URL+"/a")
	get(t, vcr, srv.URL+"/b")
	assert.Equal(t, &stats.Stats{TotalChapters: 2, ChaptersLoaded: 1, ChaptersRecorded: 1, ChaptersPlayed: 1}, vcr.Stats())
	require.NoError(t, vcr.Eject(ctx))

	require.NoError(t, vcr.Insert(ctx, k7Name))
	assert.EqualValues(t, 2, vcr.NumberOfChapters())
	assert.EqualValues(t, 2, hits.Load())
}

func TestVCR_RequestBodyFilter(t *testing.T) {
	ctx := context.Background()
	srv, hits := newTestServer(t)
	k7Name := filepath.Join(t.TempDir(), "k7")

	settings := []scenevcr.CassetteSetting{
		scenevcr.WithRequestBodyFilter(map[string]interface{}{"a": body.Remove}),
	}

	vcr := newVCR(t, scenevcr.WithCassette(k7Name, settings...))

	_, data := post(t, vcr, srv.URL+"/echo", `{"a":1,"b":2}`)
	assert.JSONEq(t, `{"a":1,"b":2}`, string(data))

	requests := vcr.Cassette().Requests()
	require.Len(t, requests, 1)
	assert.JSONEq(t, `{"b":2}`, string(requests[0].Body))

	require.NoError(t, vcr.Eject(ctx))
	require.NoError(t, vcr.Insert(ctx, k7Name, settings...))

	_, data = post(t, vcr, srv.URL+"/echo", `{"a":1,"b":2}`)
	assert.JSONEq(t, `{"a":1,"b":2}`, string(data))
	assert.EqualValues(t, 1, hits.Load())
	assert.EqualValues(t, 1, vcr.PlayCount())
}

func TestVCR_HostFilter_PassThrough(t *testing.T) {
	ctx := context.Background()
	srv, hits := newTestServer(t)
	k7Name := filepath.Join(t.TempDir(), "k7")

	vcr := newVCR(t, scenevcr.WithCassette(k7Name, scenevcr.WithHostFilter("example.com")))

	_, data := get(t, vcr, srv.URL+"/hello")
	assert.Equal(t, "Hello, /hello", string(data))

	_, data = get(t, vcr, srv.URL+"/hello")
	assert.Equal(t, "Hello, /hello", string(data))

	assert.EqualValues(t, 2, hits.Load())
	assert.Zero(t, vcr.NumberOfChapters())

	require.NoError(t, vcr.Eject(ctx))
	assert.NoFileExists(t, k7Name+".json")
}

func TestVCR_TransportError(t *testing.T) {
	ctx := context.Background()
	k7Name := filepath.Join(t.TempDir(), "k7")

	live := &failingTransport{}

	vcr := newVCR(t,
		scenevcr.WithClient(&http.Client{Transport: live}),
		scenevcr.WithCassette(k7Name),
	)

	_, err := vcr.HTTPClient().Get("http://example.com/unreachable") //nolint:bodyclose
	require.Error(t, err)

	var opErr *net.OpError
	require.True(t, errors.As(err, &opErr))

	require.NoError(t, vcr.Eject(ctx))
	require.NoError(t, vcr.Insert(ctx, k7Name))

	_, err = vcr.HTTPClient().Get("http://example.com/unreachable") //nolint:bodyclose
	require.Error(t, err)

	opErr = nil
	require.True(t, errors.As(err, &opErr))
	assert.Equal(t, "dial", opErr.Op)
	assert.Equal(t, "tcp", opErr.Net)
	assert.Equal(t, "connection refused", opErr.Err.Error())

	assert.EqualValues(t, 1, live.calls.Load())
	assert.EqualValues(t, 1, vcr.PlayCount())
}

func TestVCR_CassetteCrypto(t *testing.T) {
	ctx := context.Background()
	srv, hits := newTestServer(t)
	dir := t.TempDir()

	keyFile := filepath.Join(dir, "k7.key")
	require.NoError(t, os.WriteFile(keyFile, []byte("0123456789abcdef0123456789abcdef"), 0o600))

	k7Name := filepath.Join(dir, "k7")

	vcr := newVCR(t, scenevcr.WithCassette(k7Name, scenevcr.WithCassetteCrypto(keyFile)))
	get(t, vcr, srv.URL+"/secret")
	require.NoError(t, vcr.Eject(ctx))

	data, err := os.ReadFile(k7Name + ".json")
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("$ENC:V2$")))
	assert.NotContains(t, string(data), "/secret")

	// without the key, the cassette cannot be read
	err = vcr.Insert(ctx, k7Name)
	assert.True(t, errors.Is(err, vcrerr.ErrCorruptCassette))

	require.NoError(t, vcr.Insert(ctx, k7Name, scenevcr.WithCassetteCrypto(keyFile)))

	_, data = get(t, vcr, srv.URL+"/secret")
	assert.Equal(t, "Hello, /secret", string(data))
	assert.EqualValues(t, 1, hits.Load())
}

func TestVCR_InvalidMatchers(t *testing.T) {
	ctx := context.Background()
	k7Name := filepath.Join(t.TempDir(), "k7")

	vcr := newVCR(t)

	err := vcr.Insert(ctx, k7Name, scenevcr.WithMatchers(scenevcr.MatchMethod, "nope"))
	assert.True(t, errors.Is(err, vcrerr.ErrInvalidConfiguration))
	assert.Nil(t, vcr.Cassette())

	_, err = scenevcr.NewVCR(scenevcr.WithExpressionMatcher("broken", `observed.method ==`))
	assert.True(t, errors.Is(err, vcrerr.ErrInvalidConfiguration))

	err = vcr.RegisterExpressionMatcher("broken", `"not a bool"`)
	assert.True(t, errors.Is(err, vcrerr.ErrInvalidConfiguration))
	assert.NotContains(t, vcr.MatcherNames(), "broken")
}

func TestVCR_ExpressionMatcher(t *testing.T) {
	ctx := context.Background()
	srv, hits := newTestServer(t)
	k7Name := filepath.Join(t.TempDir(), "k7")

	settings := []scenevcr.CassetteSetting{
		scenevcr.WithMatchers(scenevcr.MatchMethod, scenevcr.MatchPath, "api-version"),
		scenevcr.WithPlaybackMode(cassette.Momentary),
	}

	vcr := newVCR(t,
		scenevcr.WithExpressionMatcher("api-version", `observed.headers["X-Api-Version"] == stored.headers["X-Api-Version"]`),
		scenevcr.WithCassette(k7Name, settings...),
	)

	for _, version := range []string{"1", "2"} {
		_, data := getWithHeader(t, vcr, srv.URL+"/version", "X-Api-Version", version)
		assert.Equal(t, "v"+version, string(data))
	}

	require.NoError(t, vcr.Eject(ctx))
	require.NoError(t, vcr.Insert(ctx, k7Name, settings...))

	for _, version := range []string{"2", "1"} {
		_, data := getWithHeader(t, vcr, srv.URL+"/version", "X-Api-Version", version)
		assert.Equal(t, "v"+version, string(data))
	}

	assert.EqualValues(t, 2, hits.Load())
	assert.True(t, vcr.AllPlayed())
}

func TestVCR_RegisterMatcher(t *testing.T) {
	ctx := context.Background()
	srv, hits := newTestServer(t)
	k7Name := filepath.Join(t.TempDir(), "k7")

	vcr := newVCR(t)
	vcr.RegisterMatcher("anything", func(_, _ *scene.Request) bool { return true })
	assert.Contains(t, vcr.MatcherNames(), "anything")

	require.NoError(t, vcr.Insert(ctx, k7Name, scenevcr.WithMatchers("anything")))
	get(t, vcr, srv.URL+"/a")
	require.NoError(t, vcr.Eject(ctx))

	require.NoError(t, vcr.Insert(ctx, k7Name, scenevcr.WithMatchers("anything")))
	_, data := get(t, vcr, srv.URL+"/b")
	assert.Equal(t, "Hello, /a", string(data))
	require.NoError(t, vcr.Eject(ctx))

	vcr.UnregisterMatcher("anything")
	err := vcr.Insert(ctx, k7Name, scenevcr.WithMatchers("anything"))
	assert.True(t, errors.Is(err, vcrerr.ErrInvalidConfiguration))

	assert.EqualValues(t, 1, hits.Load())
}

func TestVCR_Reconfigure(t *testing.T) {
	ctx := context.Background()
	srv, _ := newTestServer(t)
	dir := t.TempDir()

	vcr := newVCR(t,
		scenevcr.WithMatcher("custom", scenevcr.DefaultMethodMatcher),
		scenevcr.WithCassette(filepath.Join(dir, "a"), scenevcr.WithAutoSave(false)),
	)
	client := vcr.HTTPClient()

	get(t, vcr, srv.URL+"/x")
	assert.NoFileExists(t, filepath.Join(dir, "a.json"))
	assert.Contains(t, vcr.MatcherNames(), "custom")

	err := vcr.Reconfigure(ctx,
		scenevcr.WithLogger(quietLogger()),
		scenevcr.WithCassette(filepath.Join(dir, "b")),
	)
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(dir, "a.json"))
	assert.Equal(t, filepath.Join(dir, "b.json"), vcr.Cassette().Name())
	assert.Zero(t, vcr.NumberOfChapters())
	assert.NotContains(t, vcr.MatcherNames(), "custom")
	assert.Same(t, client, vcr.HTTPClient())
}

func TestVCR_Tracing(t *testing.T) {
	ctx := context.Background()
	srv, _ := newTestServer(t)
	k7Name := filepath.Join(t.TempDir(), "k7")

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	vcr := newVCR(t,
		scenevcr.WithTracerProvider(tp),
		scenevcr.WithCassette(k7Name),
	)

	get(t, vcr, srv.URL+"/traced")
	require.NoError(t, vcr.Eject(ctx))
	require.NoError(t, vcr.Insert(ctx, k7Name))
	get(t, vcr, srv.URL+"/traced")

	_, err := vcr.HTTPClient().Get(srv.URL + "/missing") //nolint:bodyclose
	require.Error(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 3)

	for _, span := range spans {
		assert.Equal(t, "scenevcr.RoundTrip", span.Name())
		assert.Equal(t, trace.SpanKindClient, span.SpanKind())
		assert.Equal(t, k7Name+".json", spanAttribute(span, "scenevcr.cassette"))
	}

	assert.Equal(t, "recorded", spanAttribute(spans[0], "scenevcr.outcome"))
	assert.Equal(t, "played", spanAttribute(spans[1], "scenevcr.outcome"))
	assert.NotEmpty(t, spanAttribute(spans[1], "scenevcr.chapter"))
	assert.Equal(t, "GET", spanAttribute(spans[1], "http.request.method"))
	assert.Equal(t, "Error", spans[2].Status().Code.String())
}

func TestVCR_Concurrency(t *testing.T) {
	ctx := context.Background()
	srv, hits := newTestServer(t)
	k7Name := filepath.Join(t.TempDir(), "k7")

	const n = 20

	vcr := newVCR(t, scenevcr.WithCassette(k7Name, scenevcr.WithPlaybackMode(cassette.Momentary)))

	run := func(t *testing.T) {
		for i := 0; i < n; i++ {
			path := fmt.Sprintf("/item/%d", i)

			t.Run(path, func(t *testing.T) {
				t.Parallel()

				_, data := get(t, vcr, srv.URL+path)
				assert.Equal(t, "Hello, "+path, string(data))
			})
		}
	}

	t.Run("record", run)
	assert.EqualValues(t, n, vcr.NumberOfChapters())
	require.NoError(t, vcr.Eject(ctx))

	require.NoError(t, vcr.Insert(ctx, k7Name, scenevcr.WithPlaybackMode(cassette.Momentary)))
	t.Run("play", run)

	assert.EqualValues(t, n, hits.Load())
	assert.EqualValues(t, n, vcr.PlayCount())
	assert.True(t, vcr.AllPlayed())
}

func TestVCR_CancelledMidBody(t *testing.T) {
	ctx := context.Background()
	k7Name := filepath.Join(t.TempDir(), "k7")

	release := make(chan struct{})
	defer close(release)

	// the body never ends on its own
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "partial")
		w.(http.Flusher).Flush()

		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()

	vcr := newVCR(t, scenevcr.WithCassette(k7Name))

	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, srv.URL+"/stream", nil)
	require.NoError(t, err)

	resp, err := vcr.HTTPClient().Do(req)
	require.NoError(t, err)

	buf := make([]byte, len("partial"))
	_, err = io.ReadFull(resp.Body, buf)
	require.NoError(t, err)
	assert.Equal(t, "partial", string(buf))

	cancel()

	// Close returns once the context is cancelled
	_ = resp.Body.Close()

	assert.Zero(t, vcr.NumberOfChapters())
	assert.Zero(t, vcr.Stats().ChaptersRecorded)

	require.NoError(t, vcr.Eject(ctx))
	assert.NoFileExists(t, k7Name+".json")

	// the same request is recorded afresh once it completes
	srv2, _ := newTestServer(t)
	require.NoError(t, vcr.Insert(ctx, k7Name))
	_, data := get(t, vcr, srv2.URL+"/stream")
	assert.Equal(t, "Hello, /stream", string(data))
	assert.EqualValues(t, 1, vcr.NumberOfChapters())
}

type failingTransport struct {
	calls atomic.Int32
}

func (f *failingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	f.calls.Add(1)

	return nil, &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
}

// newTestServer serves:
// /status/200 with an empty body,
// /echo with the request body,
// /version with the X-Api-Version header prefixed with 'v',
// anything else with a greeting to the path.
func newTestServer(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()

	hits := &atomic.Int32{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)

		switch {
		case r.URL.Path == "/status/200":
			w.WriteHeader(http.StatusOK)

		case r.URL.Path == "/echo":
			w.Header().Set("Content-Type", r.Header.Get("Content-Type"))
			_, _ = io.Copy(w, r.Body)

		case r.URL.Path == "/version":
			_, _ = fmt.Fprintf(w, "v%s", r.Header.Get("X-Api-Version"))

		default:
			_, _ = fmt.Fprintf(w, "Hello, %s", r.URL.Path)
		}
	}))
	t.Cleanup(srv.Close)

	return srv, hits
}

func newVCR(t *testing.T, settings ...scenevcr.Setting) *scenevcr.ControlPanel {
	t.Helper()

	vcr, err := scenevcr.NewVCR(append([]scenevcr.Setting{scenevcr.WithLogger(quietLogger())}, settings...)...)
	require.NoError(t, err)

	return vcr
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func get(t *testing.T, vcr *scenevcr.ControlPanel, rawURL string) (*http.Response, []byte) {
	t.Helper()

	return do(t, vcr, http.MethodGet, rawURL, nil, nil)
}

func getWithHeader(t *testing.T, vcr *scenevcr.ControlPanel, rawURL, key, value string) (*http.Response, []byte) {
	t.Helper()

	return do(t, vcr, http.MethodGet, rawURL, http.Header{key: {value}}, nil)
}

func post(t *testing.T, vcr *scenevcr.ControlPanel, rawURL, jsonBody string) (*http.Response, []byte) {
	t.Helper()

	return do(t, vcr, http.MethodPost, rawURL, http.Header{"Content-Type": {"application/json"}}, strings.NewReader(jsonBody))
}

// do sends the request and reads the whole response body, which completes the chapter.
func do(t *testing.T, vcr *scenevcr.ControlPanel, method, rawURL string, header http.Header, reqBody io.Reader) (*http.Response, []byte) {
	t.Helper()

	req, err := http.NewRequest(method, rawURL, reqBody)
	require.NoError(t, err)

	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := vcr.HTTPClient().Do(req)
	require.NoError(t, err)

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	return resp, data
}

func spanAttribute(span sdktrace.ReadOnlySpan, key string) string {
	for _, kv := range span.Attributes() {
		if string(kv.Key) == key {
			return kv.Value.Emit()
		}
	}

	return ""
}
