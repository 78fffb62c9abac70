package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/seborama/scenevcr/cassette"
	"github.com/seborama/scenevcr/cassette/scene"
)

type chapterSummary struct {
	ID         string `json:"id"`
	Method     string `json:"method"`
	URL        string `json:"url"`
	StatusCode int    `json:"statusCode,omitempty"`
	Error      string `json:"error,omitempty"`
	BodySize   int    `json:"bodySize"`
	Scenes     int    `json:"scenes"`
}

type cassetteSummary struct {
	Name     string           `json:"name"`
	Chapters []chapterSummary `json:"chapters"`
}

func newInspectCommand(rootOpts *rootOptions) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "inspect <cassette>",
		Short: "List the chapters of a cassette",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k7, _, err := rootOpts.loadCassette(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			summary := summarise(k7)

			switch format {
			case "json":
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return errors.Wrap(enc.Encode(summary), "encode summary")
			case "text":
				return printSummary(cmd.OutOrStdout(), summary)
			default:
				return errors.Errorf("invalid format '%s': must be one of text, json", format)
			}
		},
	}

	cmd.Flags().StringVar(&format, "format", "text", "output format (text|json)")

	return cmd
}

func summarise(k7 *cassette.Cassette) cassetteSummary {
	summary := cassetteSummary{
		Name:     k7.Name(),
		Chapters: []chapterSummary{},
	}

	for _, ch := range k7.Chapters() {
		summary.Chapters = append(summary.Chapters, summariseChapter(ch))
	}

	return summary
}

func summariseChapter(ch scene.Chapter) chapterSummary {
	cs := chapterSummary{
		ID:       ch.ID,
		BodySize: len(ch.Body()),
		Scenes:   len(ch.Scenes),
	}

	if req := ch.Request(); req != nil {
		cs.Method = req.Method
		if req.URL != nil {
			cs.URL = req.URL.String()
		}
	}

	if resp := ch.Response(); resp != nil {
		cs.StatusCode = resp.StatusCode
	}

	if e := ch.Err(); e != nil {
		cs.Error = e.Error()
	}

	return cs
}

func printSummary(w io.Writer, summary cassetteSummary) error {
	if _, err := fmt.Fprintf(w, "cassette %s: %d chapter(s)\n", summary.Name, len(summary.Chapters)); err != nil {
		return err
	}

	for _, cs := range summary.Chapters {
		outcome := fmt.Sprintf("%d (%d bytes)", cs.StatusCode, cs.BodySize)
		if cs.Error != "" {
			outcome = "error: " + cs.Error
		}

		if _, err := fmt.Fprintf(w, "%s  %s %s -> %s\n", cs.ID, cs.Method, cs.URL, outcome); err != nil {
			return err
		}
	}

	return nil
}
