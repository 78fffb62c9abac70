package scene_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/url"
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/pkg/errors"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seborama/scenevcr/cassette/scene"
	vcrerr "github.com/seborama/scenevcr/errors"
)

func TestEncodeChapter_Golden(t *testing.T) {
	ch := scene.NewChapter("chapter-1",
		scene.NewRequestScene("", &scene.Request{
			Method: "GET",
			URL:    mustParseURL(t, "https://example.com/status/200?x=1"),
			Header: http.Header{"Accept": {"application/json"}},
		}),
		scene.NewResponseScene("", &scene.Response{
			StatusCode: 200,
			Status:     "200 OK",
			Header:     http.Header{"Content-Type": {"application/json"}},
			URL:        mustParseURL(t, "https://example.com/status/200?x=1"),
		}),
		scene.NewDataScene("", []byte(`{"ok":true}`)),
		scene.NewDataScene("", []byte{0xff, 0x00}),
		scene.NewClosingScene(""),
	)

	rec, err := scene.Encoder{}.EncodeChapter(ch)
	require.NoError(t, err)

	data, err := json.MarshalIndent(rec, "", "  ")
	require.NoError(t, err)

	g := goldie.New(t)
	g.Assert(t, t.Name(), data)
}

func TestCodec_RoundTrip(t *testing.T) {
	largeBody := bytes.Repeat([]byte("0123456789"), 100)

	tt := []*struct {
		name         string
		encoder      scene.Encoder
		chapter      scene.Chapter
		wantEncoding string
	}{
		{
			name:    "text body",
			encoder: scene.Encoder{},
			chapter: scene.NewChapter("c1",
				scene.NewRequestScene("", &scene.Request{
					Method: "POST",
					URL:    mustParseURL(t, "https://example.com/api"),
					Header: http.Header{"Content-Type": {"application/json"}, "X-Multi": {"a", "b"}},
					Body:   []byte(`{"name":"x"}`),
				}),
				scene.NewResponseScene("", &scene.Response{StatusCode: 201}),
				scene.NewDataScene("", []byte("created")),
				scene.NewClosingScene(""),
			),
			wantEncoding: scene.EncodingText,
		},
		{
			name:    "binary body",
			encoder: scene.Encoder{},
			chapter: scene.NewChapter("c1",
				scene.NewRequestScene("", &scene.Request{
					Method: "PUT",
					URL:    mustParseURL(t, "https://example.com/blob"),
					Body:   []byte{0x00, 0xfe, 0xff},
				}),
				scene.NewResponseScene("", &scene.Response{StatusCode: 204, Status: "204 No Content"}),
				scene.NewClosingScene(""),
			),
			wantEncoding: scene.EncodingBase64,
		},
		{
			name:    "compressed body",
			encoder: scene.Encoder{CompressThreshold: 64},
			chapter: scene.NewChapter("c1",
				scene.NewRequestScene("", &scene.Request{
					Method: "POST",
					URL:    mustParseURL(t, "https://example.com/upload"),
					Body:   largeBody,
				}),
				scene.NewResponseScene("", &scene.Response{StatusCode: 200}),
				scene.NewDataScene("", largeBody),
				scene.NewClosingScene(""),
			),
			wantEncoding: scene.EncodingGzipBase64,
		},
		{
			name:    "transport error",
			encoder: scene.Encoder{},
			chapter: scene.NewChapter("c1",
				scene.NewRequestScene("", &scene.Request{
					Method: "GET",
					URL:    mustParseURL(t, "https://example.com/"),
					Body:   []byte("q"),
				}),
				scene.NewErrorScene("", &scene.Error{
					Domain:  scene.DomainNetOp,
					Code:    61,
					Message: "connection refused",
					Details: map[string]string{"op": "dial", "net": "tcp"},
				}),
				scene.NewClosingScene(""),
			),
			wantEncoding: scene.EncodingText,
		},
	}

	for _, tc := range tt {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			rec, err := tc.encoder.EncodeChapter(tc.chapter)
			require.NoError(t, err)
			require.NotNil(t, rec.Scenes[0].Request.Body)
			assert.Equal(t, tc.wantEncoding, rec.Scenes[0].Request.Body.Encoding)

			got, err := scene.DecodeChapter(rec)
			require.NoError(t, err)
			assert.Equal(t, tc.chapter, got)
		})
	}
}

func TestDecodeScene_Errors(t *testing.T) {
	tt := []*struct {
		name   string
		record scene.Record
	}{
		{
			name:   "unknown type",
			record: scene.Record{Chapter: "c1", Type: "intermission"},
		},
		{
			name:   "no chapter",
			record: scene.Record{Type: "closing"},
		},
		{
			name:   "request without method",
			record: scene.Record{Chapter: "c1", Type: "request", Request: &scene.RequestRecord{URL: "https://example.com/"}},
		},
		{
			name:   "request without url",
			record: scene.Record{Chapter: "c1", Type: "request", Request: &scene.RequestRecord{Method: "GET"}},
		},
		{
			name:   "request without payload",
			record: scene.Record{Chapter: "c1", Type: "request"},
		},
		{
			name:   "response without status code",
			record: scene.Record{Chapter: "c1", Type: "response", Response: &scene.ResponseRecord{Status: "OK"}},
		},
		{
			name:   "data without payload",
			record: scene.Record{Chapter: "c1", Type: "data"},
		},
		{
			name:   "error without payload",
			record: scene.Record{Chapter: "c1", Type: "error"},
		},
		{
			name:   "unknown body encoding",
			record: scene.Record{Chapter: "c1", Type: "data", Data: &scene.BodyRecord{Encoding: "rot13", Value: "uryyb"}},
		},
		{
			name:   "bad base64",
			record: scene.Record{Chapter: "c1", Type: "data", Data: &scene.BodyRecord{Encoding: scene.EncodingBase64, Value: "%%%"}},
		},
		{
			name:   "bad gzip",
			record: scene.Record{Chapter: "c1", Type: "data", Data: &scene.BodyRecord{Encoding: scene.EncodingGzipBase64, Value: "aGVsbG8="}},
		},
		{
			name:   "unknown body encoding with an empty value",
			record: scene.Record{Chapter: "c1", Type: "data", Data: &scene.BodyRecord{Encoding: "rot13"}},
		},
		{
			name:   "bad base64 header",
			record: scene.Record{Chapter: "c1", Type: "response", Response: &scene.ResponseRecord{StatusCode: 200, HeadersBase64: map[string][]string{"X-Latin": {"%%%"}}}},
		},
		{
			name: "header in both maps",
			record: scene.Record{Chapter: "c1", Type: "response", Response: &scene.ResponseRecord{
				StatusCode:    200,
				Headers:       map[string][]string{"X-Latin": {"cafe"}},
				HeadersBase64: map[string][]string{"X-Latin": {"Y2Fm6Q=="}},
			}},
		},
		{
			name:   "unknown error encoding",
			record: scene.Record{Chapter: "c1", Type: "error", Error: &scene.ErrorRecord{Encoding: "rot13", Message: "x"}},
		},
		{
			name:   "bad base64 error message",
			record: scene.Record{Chapter: "c1", Type: "error", Error: &scene.ErrorRecord{Encoding: scene.EncodingBase64, Message: "%%%"}},
		},
	}

	for _, tc := range tt {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			_, err := scene.DecodeScene(tc.record)
			require.Error(t, err)
			assert.True(t, errors.Is(err, vcrerr.ErrFormat), err.Error())
		})
	}
}

func TestCodec_NonUTF8Text(t *testing.T) {
	latin := "caf\xe9"

	ch := scene.NewChapter("c1",
		scene.NewRequestScene("", &scene.Request{
			Method: "GET",
			URL:    mustParseURL(t, "https://example.com/menu"),
			Header: http.Header{"Accept": {"text/plain"}, "X-Latin": {"plain", latin}},
		}),
		scene.NewResponseScene("", &scene.Response{
			StatusCode: 200,
			Header:     http.Header{"X-Latin": {latin}},
		}),
		scene.NewErrorScene("", &scene.Error{
			Domain:  "net",
			Message: "read " + latin,
			Details: map[string]string{"op": "read", "addr": latin},
		}),
		scene.NewClosingScene(""),
	)

	rec, err := scene.Encoder{}.EncodeChapter(ch)
	require.NoError(t, err)

	assert.Equal(t, map[string][]string{"Accept": {"text/plain"}}, rec.Scenes[0].Request.Headers)
	assert.Equal(t, map[string][]string{"X-Latin": {"cGxhaW4=", "Y2Fm6Q=="}}, rec.Scenes[0].Request.HeadersBase64)
	assert.Nil(t, rec.Scenes[1].Response.Headers)
	assert.Equal(t, scene.EncodingBase64, rec.Scenes[2].Error.Encoding)

	data, err := json.Marshal(rec)
	require.NoError(t, err)

	var got scene.ChapterRecord
	require.NoError(t, json.Unmarshal(data, &got))

	decoded, err := scene.DecodeChapter(got)
	require.NoError(t, err)

	assert.Equal(t, []string{"plain", latin}, decoded.Scenes[0].Request.Header["X-Latin"])
	assert.Equal(t, []string{"text/plain"}, decoded.Scenes[0].Request.Header["Accept"])
	assert.Equal(t, []string{latin}, decoded.Scenes[1].Response.Header["X-Latin"])
	assert.Equal(t, "read "+latin, decoded.Scenes[2].Error.Message)
	assert.Equal(t, map[string]string{"op": "read", "addr": latin}, decoded.Scenes[2].Error.Details)
}

func TestDecodeChapter_RejectsBrokenOrder(t *testing.T) {
	rec := scene.ChapterRecord{
		ID: "c1",
		Scenes: []scene.Record{
			{Chapter: "c1", Type: "request", Request: &scene.RequestRecord{Method: "GET", URL: "https://example.com/"}},
			{Chapter: "c1", Type: "closing"},
		},
	}

	_, err := scene.DecodeChapter(rec)
	require.Error(t, err)
	assert.True(t, errors.Is(err, vcrerr.ErrFormat))
}

func TestCodec_RoundTripProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("decode(encode(chapter)) == chapter", prop.ForAll(
		func(path string, reqBody []byte, chunks [][]byte, status int, withError bool, threshold int) bool {
			ch, err := buildChapter(path, reqBody, chunks, status, withError)
			if err != nil {
				return false
			}

			rec, err := scene.Encoder{CompressThreshold: threshold}.EncodeChapter(ch)
			if err != nil {
				return false
			}

			got, err := scene.DecodeChapter(rec)
			if err != nil {
				return false
			}

			return reflect.DeepEqual(ch, got)
		},
		gen.AlphaString(),
		gen.SliceOf(gen.UInt8()),
		gen.SliceOf(gen.SliceOf(gen.UInt8())),
		gen.IntRange(100, 599),
		gen.Bool(),
		gen.IntRange(0, 64),
	))

	properties.TestingRun(t)
}

func buildChapter(path string, reqBody []byte, chunks [][]byte, status int, withError bool) (scene.Chapter, error) {
	u, err := url.Parse("https://example.com/" + path)
	if err != nil {
		return scene.Chapter{}, err
	}

	if len(reqBody) == 0 {
		reqBody = nil
	}

	scenes := []scene.Scene{
		scene.NewRequestScene("", &scene.Request{Method: "POST", URL: u, Body: reqBody}),
		scene.NewResponseScene("", &scene.Response{StatusCode: status}),
	}

	for _, c := range chunks {
		if len(c) == 0 {
			continue
		}
		scenes = append(scenes, scene.NewDataScene("", c))
	}

	if withError {
		scenes = append(scenes, scene.NewErrorScene("", &scene.Error{Domain: "io", Message: "unexpected EOF"}))
	}

	scenes = append(scenes, scene.NewClosingScene(""))

	return scene.NewChapter("prop", scenes...), nil
}
