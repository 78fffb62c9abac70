/*
Package scenevcr records and replays HTTP interactions for offline unit / behavioural / integration tests thereby acting as an HTTP mock.

Each interaction is recorded on a cassette as a chapter: an ordered sequence of scenes
(request, response, body data, transport error and closing). On later runs, requests that
match a chapter are played back from the cassette rather than sent to the live server.

A VCR is an http.Client:

	vcr, err := scenevcr.NewVCR(
		scenevcr.WithCassette("testdata/my-cassette",
			scenevcr.WithRecordMode(cassette.RecordOnce),
			scenevcr.WithMatchers(scenevcr.MatchMethod, scenevcr.MatchPath)),
	)
	...
	resp, err := vcr.HTTPClient().Get("https://example.com/api")
	...
	err = vcr.Eject(ctx)

Cassettes are JSON documents by default, YAML when their name ends in ".yaml" or ".yml",
and gzipped when their name ends in ".gz". They can be encrypted with WithCassetteCrypto.

Matchers are selected by name. Custom matchers are registered with WithMatcher, or as CEL
expressions with WithExpressionMatcher.
*/
package scenevcr
