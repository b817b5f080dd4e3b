// Package transcode adapts the external ffmpeg encoder into a synchronous
// engine the encoding pipeline can call per job.
package transcode

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Rendition describes one output variant of the HLS ladder.
type Rendition struct {
	Name    string
	Bitrate int
}

// Engine produces a directory of rendition files from a raw source file. The
// call blocks until the encode finishes or fails; the pipeline does not
// inspect progress.
type Engine interface {
	Transcode(ctx context.Context, jobID, sourcePath string) (string, error)
}

// ParseLadder parses a comma separated ladder description such as
// "480p:1400,720p:2800,1080p:5000". The bitrate (in kbit/s) is optional.
func ParseLadder(raw string) ([]Rendition, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	ladder := make([]Rendition, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, bitrate, found := strings.Cut(part, ":")
		rendition := Rendition{Name: strings.TrimSpace(name)}
		if rendition.Name == "" {
			return nil, fmt.Errorf("ladder entry %q is missing a name", part)
		}
		if found {
			value, err := strconv.Atoi(strings.TrimSpace(bitrate))
			if err != nil || value <= 0 {
				return nil, fmt.Errorf("ladder entry %q has an invalid bitrate", part)
			}
			rendition.Bitrate = value
		}
		ladder = append(ladder, rendition)
	}
	if len(ladder) == 0 {
		return nil, nil
	}
	return ladder, nil
}
