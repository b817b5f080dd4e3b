package transcode

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLadder(t *testing.T) {
	ladder, err := ParseLadder(" 480p:1400, 720p:2800 ,1080p ")
	if err != nil {
		t.Fatalf("ParseLadder error: %v", err)
	}
	want := []Rendition{{Name: "480p", Bitrate: 1400}, {Name: "720p", Bitrate: 2800}, {Name: "1080p"}}
	if len(ladder) != len(want) {
		t.Fatalf("expected %d renditions, got %d", len(want), len(ladder))
	}
	for i := range want {
		if ladder[i] != want[i] {
			t.Fatalf("rendition %d: expected %+v, got %+v", i, want[i], ladder[i])
		}
	}
}

func TestParseLadderRejectsBadBitrate(t *testing.T) {
	if _, err := ParseLadder("720p:fast"); err == nil {
		t.Fatal("expected error for non-numeric bitrate")
	}
	if _, err := ParseLadder(":2800"); err == nil {
		t.Fatal("expected error for missing name")
	}
}

func TestBuildTranscodePlanSingleVariant(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "job-1")
	plan, err := buildTranscodePlan("/tmp/in.mp4", dir, nil)
	if err != nil {
		t.Fatalf("buildTranscodePlan error: %v", err)
	}
	joined := strings.Join(plan.args, " ")
	if !strings.Contains(joined, "-hls_playlist_type vod") {
		t.Fatalf("expected vod playlist type in args: %s", joined)
	}
	if strings.Contains(joined, "-var_stream_map") {
		t.Fatalf("single variant must not use var_stream_map: %s", joined)
	}
	if plan.args[len(plan.args)-1] != plan.master {
		t.Fatalf("expected master playlist as final arg, got %s", plan.args[len(plan.args)-1])
	}
	if _, err := os.Stat(plan.outputDir); err != nil {
		t.Fatalf("output dir not created: %v", err)
	}
}

func TestBuildTranscodePlanLadder(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "job-2")
	ladder := []Rendition{
		{Name: "720p", Bitrate: 2800},
		{Name: "720p"},
		{Name: "1080p", Bitrate: 5000},
	}
	plan, err := buildTranscodePlan("/tmp/in.mp4", dir, ladder)
	if err != nil {
		t.Fatalf("buildTranscodePlan error: %v", err)
	}
	var streamMap string
	for i, arg := range plan.args {
		if arg == "-var_stream_map" && i+1 < len(plan.args) {
			streamMap = plan.args[i+1]
		}
	}
	if streamMap == "" {
		t.Fatalf("expected var_stream_map in args: %v", plan.args)
	}
	if !strings.Contains(streamMap, "name:720p bandwidth:2800000") {
		t.Fatalf("expected bandwidth entry for 720p, got %q", streamMap)
	}
	if !strings.Contains(streamMap, "name:720p-1") {
		t.Fatalf("expected deduplicated variant name, got %q", streamMap)
	}
	for _, name := range []string{"720p", "720p-1", "1080p"} {
		if _, err := os.Stat(filepath.Join(plan.outputDir, name)); err != nil {
			t.Fatalf("variant dir %s not created: %v", name, err)
		}
	}
}

func TestLogWriterSplitsLines(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	writer := newLogWriter(logger, "job-1", "stderr")
	// The writer must consume everything it is handed even when the chunk has
	// no trailing newline.
	chunk := []byte("frame=  10\nframe=  20\npartial")
	n, err := writer.Write(chunk)
	if err != nil {
		t.Fatalf("Write error: %v", err)
	}
	if n != len(chunk) {
		t.Fatalf("expected %d bytes consumed, got %d", len(chunk), n)
	}
}

func TestSanitizeVariantName(t *testing.T) {
	cases := map[string]string{
		"720p":        "720p",
		"Full HD":     "Full-HD",
		"weird/!name": "weirdname",
		"   ":         "",
	}
	for input, want := range cases {
		if got := sanitizeVariantName(input); got != want {
			t.Fatalf("sanitizeVariantName(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestNewFFmpegDefaults(t *testing.T) {
	engine, err := NewFFmpeg(FFmpegConfig{OutputRoot: t.TempDir()})
	if err != nil {
		t.Fatalf("NewFFmpeg error: %v", err)
	}
	if engine.binary != "ffmpeg" {
		t.Fatalf("expected default binary ffmpeg, got %s", engine.binary)
	}
	if engine.timeout != defaultTranscodeTimeout {
		t.Fatalf("expected default timeout, got %s", engine.timeout)
	}
}

func TestNewFFmpegRequiresOutputRoot(t *testing.T) {
	if _, err := NewFFmpeg(FFmpegConfig{}); err == nil {
		t.Fatal("expected error for missing output root")
	}
}
