package scenevcr

import (
	"context"
	"net/http"

	"github.com/pkg/errors"

	"github.com/seborama/scenevcr/cassette"
	"github.com/seborama/scenevcr/stats"
)

// ControlPanel holds the parts of a VCR that can be interacted with.
type ControlPanel struct {
	// client is the HTTP client associated with the VCR.
	client *http.Client
}

// HTTPClient returns the http.Client that contains the VCR.
func (controlPanel *ControlPanel) HTTPClient() *http.Client {
	return controlPanel.client
}

// Insert loads a cassette into the VCR.
// The cassette settings override the cassette defaults of the VCR.
// Only one cassette can be inserted at a time.
func (controlPanel *ControlPanel) Insert(ctx context.Context, cassetteName string, settings ...CassetteSetting) error {
	return controlPanel.vcrTransport().insertCassette(ctx, cassetteName, settings...)
}

// Eject saves the cassette per its record mode and removes it from the VCR.
// The cassette is removed even when it cannot be saved.
func (controlPanel *ControlPanel) Eject(ctx context.Context) error {
	return controlPanel.vcrTransport().ejectCassette(ctx)
}

// Reconfigure ejects the cassette and replaces the whole VCR configuration, matcher
// registrations included, with settings.
func (controlPanel *ControlPanel) Reconfigure(ctx context.Context, settings ...Setting) error {
	return controlPanel.vcrTransport().reconfigure(ctx, settings...)
}

// Cassette returns the inserted cassette, or nil.
func (controlPanel *ControlPanel) Cassette() *cassette.Cassette {
	return controlPanel.vcrTransport().currentCassette()
}

// Stats returns Stats about the cassette and VCR session.
func (controlPanel *ControlPanel) Stats() *stats.Stats {
	k7 := controlPanel.Cassette()
	if k7 == nil {
		return &stats.Stats{}
	}

	return k7.Stats()
}

// NumberOfChapters returns the number of chapters contained in the cassette.
func (controlPanel *ControlPanel) NumberOfChapters() int32 {
	k7 := controlPanel.Cassette()
	if k7 == nil {
		return 0
	}

	return k7.NumberOfChapters()
}

// PlayCount returns the number of chapters played back to their end.
func (controlPanel *ControlPanel) PlayCount() int32 {
	k7 := controlPanel.Cassette()
	if k7 == nil {
		return 0
	}

	return k7.PlayCount()
}

// AllPlayed returns true when every chapter of the cassette was played back.
func (controlPanel *ControlPanel) AllPlayed() bool {
	k7 := controlPanel.Cassette()
	if k7 == nil {
		return false
	}

	return k7.AllPlayed()
}

// RegisterMatcher adds a matcher the cassettes inserted next can select by name.
func (controlPanel *ControlPanel) RegisterMatcher(name string, m Matcher) {
	controlPanel.matchers().Register(name, m)
}

// RegisterExpressionMatcher compiles a CEL expression and registers it as a matcher.
func (controlPanel *ControlPanel) RegisterExpressionMatcher(name, expression string) error {
	return errors.Wrapf(controlPanel.matchers().RegisterExpression(name, expression), "matcher '%s'", name)
}

// UnregisterMatcher removes a matcher.
func (controlPanel *ControlPanel) UnregisterMatcher(name string) {
	controlPanel.matchers().Unregister(name)
}

// MatcherNames returns the names of the registered matchers.
func (controlPanel *ControlPanel) MatcherNames() []string {
	return controlPanel.matchers().Names()
}

func (controlPanel *ControlPanel) matchers() *MatcherRegistry {
	pcb, _, _ := controlPanel.vcrTransport().snapshot()
	return pcb.registry
}

func (controlPanel *ControlPanel) vcrTransport() *vcrTransport {
	return controlPanel.client.Transport.(*vcrTransport)
}
