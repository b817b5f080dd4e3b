package transcode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// FFmpegConfig configures the ffmpeg-backed engine.
type FFmpegConfig struct {
	Binary     string
	OutputRoot string
	Renditions []Rendition
	Timeout    time.Duration
	Logger     *slog.Logger
}

// FFmpeg shells out to ffmpeg to produce an HLS rendition set on local disk.
type FFmpeg struct {
	binary     string
	outputRoot string
	renditions []Rendition
	timeout    time.Duration
	logger     *slog.Logger
}

const defaultTranscodeTimeout = 30 * time.Minute

// NewFFmpeg constructs the engine, applying defaults for the binary name and
// run timeout.
func NewFFmpeg(cfg FFmpegConfig) (*FFmpeg, error) {
	root := strings.TrimSpace(cfg.OutputRoot)
	if root == "" {
		return nil, fmt.Errorf("output root is required")
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(absRoot, 0o755); err != nil {
		return nil, fmt.Errorf("prepare output root: %w", err)
	}
	binary := strings.TrimSpace(cfg.Binary)
	if binary == "" {
		binary = "ffmpeg"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTranscodeTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &FFmpeg{
		binary:     binary,
		outputRoot: absRoot,
		renditions: cloneRenditions(cfg.Renditions),
		timeout:    timeout,
		logger:     logger,
	}, nil
}

// Transcode runs ffmpeg over the source file and returns the directory that
// holds the produced playlists and segments.
func (f *FFmpeg) Transcode(ctx context.Context, jobID, sourcePath string) (string, error) {
	if strings.TrimSpace(jobID) == "" {
		return "", fmt.Errorf("job id is required")
	}
	plan, err := buildTranscodePlan(sourcePath, filepath.Join(f.outputRoot, jobID), f.renditions)
	if err != nil {
		return "", err
	}

	runCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, f.binary, plan.args...)
	cmd.Stdout = newLogWriter(f.logger, jobID, "stdout")
	cmd.Stderr = newLogWriter(f.logger, jobID, "stderr")

	started := time.Now()
	if err := cmd.Run(); err != nil {
		if ctxErr := runCtx.Err(); ctxErr != nil && (errors.Is(ctxErr, context.DeadlineExceeded) || errors.Is(ctxErr, context.Canceled)) {
			err = ctxErr
		}
		if removeErr := os.RemoveAll(plan.outputDir); removeErr != nil {
			f.logger.Warn("failed to clear aborted output", "job_id", jobID, "error", removeErr)
		}
		return "", fmt.Errorf("ffmpeg: %w", err)
	}
	f.logger.Info("transcode finished", "job_id", jobID, "output_dir", plan.outputDir, "duration_ms", time.Since(started).Milliseconds())
	return plan.outputDir, nil
}

type transcodePlan struct {
	args      []string
	outputDir string
	master    string
}

func buildTranscodePlan(input, outputDir string, ladder []Rendition) (*transcodePlan, error) {
	if strings.TrimSpace(input) == "" {
		return nil, fmt.Errorf("input source is required")
	}
	if strings.TrimSpace(outputDir) == "" {
		return nil, fmt.Errorf("output directory is required")
	}
	absDir, err := filepath.Abs(outputDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(absDir, 0o755); err != nil {
		return nil, err
	}

	variants := cloneRenditions(ladder)
	if len(variants) == 0 {
		variants = append(variants, Rendition{Name: "default"})
	}

	master := filepath.ToSlash(filepath.Join(absDir, "index.m3u8"))
	args := []string{
		"-y",
		"-i", input,
		"-c:v", "copy",
		"-c:a", "copy",
		"-f", "hls",
		"-hls_time", "6",
		"-hls_list_size", "0",
		"-hls_playlist_type", "vod",
	}

	if len(variants) == 1 {
		args = append(args, master)
	} else {
		used := make(map[string]int)
		varStreamMap := make([]string, 0, len(variants))
		segmentPattern := filepath.ToSlash(filepath.Join(absDir, "%v", "segment_%06d.ts"))
		for idx := range variants {
			base := sanitizeVariantName(variants[idx].Name)
			if base == "" {
				base = fmt.Sprintf("variant-%d", idx)
			}
			count := used[base]
			name := base
			if count > 0 {
				name = fmt.Sprintf("%s-%d", base, count)
			}
			used[base] = count + 1
			if err := os.MkdirAll(filepath.Join(absDir, name), 0o755); err != nil {
				return nil, err
			}
			entry := fmt.Sprintf("v:0,a:0 name:%s", name)
			if variants[idx].Bitrate > 0 {
				entry = fmt.Sprintf("%s bandwidth:%d", entry, variants[idx].Bitrate*1000)
			}
			varStreamMap = append(varStreamMap, entry)
		}
		args = append(args,
			"-master_pl_name", "index.m3u8",
			"-hls_segment_filename", segmentPattern,
			"-var_stream_map", strings.Join(varStreamMap, " "),
			filepath.ToSlash(filepath.Join(absDir, "%v", "index.m3u8")),
		)
	}

	return &transcodePlan{args: args, outputDir: absDir, master: master}, nil
}

type logWriter struct {
	logger *slog.Logger
	jobID  string
	stream string
}

func newLogWriter(logger *slog.Logger, jobID, stream string) *logWriter {
	return &logWriter{logger: logger, jobID: jobID, stream: stream}
}

func (w *logWriter) Write(p []byte) (int, error) {
	total := len(p)
	for len(p) > 0 {
		idx := bytes.IndexByte(p, '\n')
		var line []byte
		if idx == -1 {
			line = p
			p = nil
		} else {
			line = p[:idx]
			p = p[idx+1:]
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		w.logger.Debug("ffmpeg output", "job_id", w.jobID, "stream", w.stream, "line", string(line))
	}
	return total, nil
}

func sanitizeVariantName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('-')
		}
	}
	return b.String()
}

func cloneRenditions(r []Rendition) []Rendition {
	if len(r) == 0 {
		return nil
	}
	out := make([]Rendition, len(r))
	copy(out, r)
	return out
}
