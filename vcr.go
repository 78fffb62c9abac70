package scenevcr

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/pkg/errors"
)

// NewVCR creates a new VCR.
//
// The VCR is an http.Client whose transport plays recorded chapters back and records
// new ones. When no client is provided, a client over http.DefaultTransport is used.
// The transport of a provided client performs the live requests; the client itself is
// not modified.
//
// A recorded chapter holds the whole response body. Closing a live response body before
// its end reads the remainder first, so closing a long-poll or streaming response waits
// for the server to end it. Cancel the request context to stop early: the chapter is
// then discarded.
func NewVCR(settings ...Setting) (*ControlPanel, error) {
	vcrSettings := &VCRSettings{}
	for _, option := range settings {
		option(vcrSettings)
	}

	pcb, err := newPrintedCircuitBoard(vcrSettings)
	if err != nil {
		return nil, err
	}

	client := &http.Client{}
	if vcrSettings.client != nil {
		*client = *vcrSettings.client
	}

	client.Transport = &vcrTransport{
		pcb:       pcb,
		transport: liveTransport(vcrSettings.client),
	}

	controlPanel := &ControlPanel{client: client}

	if vcrSettings.cassetteName != "" {
		if err := controlPanel.Insert(context.Background(), vcrSettings.cassetteName, vcrSettings.cassetteSettings...); err != nil {
			return nil, err
		}
	}

	return controlPanel, nil
}

func liveTransport(client *http.Client) http.RoundTripper {
	if client == nil || client.Transport == nil {
		return http.DefaultTransport
	}

	return client.Transport
}

func (t *vcrTransport) insertCassette(ctx context.Context, cassetteName string, settings ...CassetteSetting) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cassette != nil {
		return errors.Errorf("failed to load cassette '%s': another cassette ('%s') is already inserted", cassetteName, t.cassette.Name())
	}

	k7, err := t.pcb.loadCassette(ctx, cassetteName, settings...)
	if err != nil {
		return err
	}

	t.pcb.logger.Debug("cassette inserted",
		slog.String("cassette", k7.Name()),
		slog.String("record_mode", k7.RecordMode().String()),
		slog.String("playback_mode", k7.PlaybackMode().String()),
		slog.Int("chapters", int(k7.NumberOfChapters())))

	t.cassette = k7

	return nil
}

func (t *vcrTransport) ejectCassette(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.ejectLocked(ctx)
}

func (t *vcrTransport) ejectLocked(ctx context.Context) error {
	k7 := t.cassette
	if k7 == nil {
		return nil
	}

	t.cassette = nil

	if err := k7.Save(ctx); err != nil {
		return errors.Wrapf(err, "eject cassette '%s'", k7.Name())
	}

	t.pcb.logger.Debug("cassette ejected",
		slog.String("cassette", k7.Name()),
		slog.Int("played", int(k7.PlayCount())),
		slog.Bool("all_played", k7.AllPlayed()))

	return nil
}

func (t *vcrTransport) reconfigure(ctx context.Context, settings ...Setting) error {
	vcrSettings := &VCRSettings{}
	for _, option := range settings {
		option(vcrSettings)
	}

	pcb, err := newPrintedCircuitBoard(vcrSettings)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	ejectErr := t.ejectLocked(ctx)

	t.pcb = pcb
	t.transport = liveTransport(vcrSettings.client)

	if ejectErr != nil {
		return ejectErr
	}

	if vcrSettings.cassetteName == "" {
		return nil
	}

	k7, err := pcb.loadCassette(ctx, vcrSettings.cassetteName, vcrSettings.cassetteSettings...)
	if err != nil {
		return err
	}

	t.cassette = k7

	return nil
}
