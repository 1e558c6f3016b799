// Package ffmpeg renders vertical clips by shelling out to ffmpeg.
package ffmpeg

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/clipforge/clipforge/internal/domain/subtitles"
	"github.com/clipforge/clipforge/internal/ports"
	"github.com/clipforge/clipforge/internal/types"
)

// teaserLen is the hook length prepended ahead of the clip body when a
// peak offset survives validation.
const teaserLen = 6.0

type Adapter struct {
	ffmpeg  string
	ffprobe string
	style   subtitles.Style
	fontDir string
	log     zerolog.Logger
}

func New(ffmpegPath, ffprobePath, fontDir string, style subtitles.Style, log zerolog.Logger) *Adapter {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &Adapter{ffmpeg: ffmpegPath, ffprobe: ffprobePath, style: style, fontDir: fontDir, log: log}
}

// Render cuts [Start, End) from the source, converts it to 1080x1920,
// burns captions when requested and prepends a teaser when PeakOffset
// is positive. Teaser failure degrades to the plain clip.
func (a *Adapter) Render(ctx context.Context, req ports.RenderRequest) (ports.RenderResult, error) {
	var assFile string
	if req.Captions {
		start := dur(req.Start)
		end := dur(req.End)
		title := req.Title
		if req.PeakOffset > 0 {
			// The teaser already carries the title, so the body starts
			// straight with captions.
			title = ""
		}
		doc := subtitles.RenderASS(req.Transcript, start, end, title, a.style)
		f, err := os.CreateTemp("", "captions-*.ass")
		if err != nil {
			return ports.RenderResult{}, fmt.Errorf("caption temp file: %w", err)
		}
		if _, err := f.WriteString(doc); err != nil {
			f.Close()
			return ports.RenderResult{}, fmt.Errorf("write captions: %w", err)
		}
		f.Close()
		assFile = f.Name()
		defer os.Remove(assFile)
	}

	if err := a.cut(ctx, req.MediaPath, req.OutputPath, req.Start, req.End, assFile); err != nil {
		return ports.RenderResult{}, types.Transient("render failed", err)
	}

	if req.PeakOffset > 0 {
		a.prependTeaser(ctx, req)
	}

	fi, err := os.Stat(req.OutputPath)
	if err != nil {
		return ports.RenderResult{}, types.Transient("render produced no output", err)
	}
	actual, err := a.ProbeDuration(ctx, req.OutputPath)
	if err != nil {
		return ports.RenderResult{}, types.Transient("probe output", err)
	}
	return ports.RenderResult{Path: req.OutputPath, Duration: actual, SizeBytes: fi.Size()}, nil
}

func (a *Adapter) cut(ctx context.Context, in, out string, start, end float64, assFile string) error {
	vf := "scale=1080:1920:force_original_aspect_ratio=decrease,pad=1080:1920:(ow-iw)/2:(oh-ih)/2:black"
	if assFile != "" {
		vf += ",ass=" + escapeFilterPath(assFile)
		if a.fontDir != "" {
			vf += ":fontsdir=" + escapeFilterPath(a.fontDir)
		}
	}
	cmd := exec.CommandContext(ctx, a.ffmpeg,
		"-y",
		"-ss", fmtSeconds(start),
		"-to", fmtSeconds(end),
		"-i", in,
		"-vf", vf,
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-b:v", "3500k",
		"-maxrate", "4500k",
		"-c:a", "aac",
		"-b:a", "128k",
		"-movflags", "+faststart",
		out,
	)
	b, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg cut: %w\n%s", err, tail(string(b), 300))
	}
	return nil
}

// prependTeaser renders a short hook starting at the peak and concats
// it ahead of the finished clip. Every step here is best-effort: on any
// failure the main clip stays as rendered.
func (a *Adapter) prependTeaser(ctx context.Context, req ports.RenderRequest) {
	peakStart := req.Start + req.PeakOffset
	peakEnd := peakStart + teaserLen
	if peakEnd > req.End {
		peakEnd = req.End
	}

	teaser := req.OutputPath + ".teaser.mp4"
	combined := req.OutputPath + ".combined.mp4"
	defer os.Remove(teaser)
	defer os.Remove(combined)

	var assFile string
	if req.Title != "" {
		doc := teaserTitleASS(req.Title, peakEnd-peakStart, a.style)
		f, err := os.CreateTemp("", "teaser-*.ass")
		if err == nil {
			if _, werr := f.WriteString(doc); werr == nil {
				assFile = f.Name()
			}
			f.Close()
			defer os.Remove(f.Name())
		}
	}
	if err := a.cut(ctx, req.MediaPath, teaser, peakStart, peakEnd, assFile); err != nil {
		a.log.Warn().Err(err).Msg("teaser render failed, keeping plain clip")
		return
	}
	if fi, err := os.Stat(teaser); err != nil || fi.Size() < 10_000 {
		a.log.Warn().Msg("teaser output too small, keeping plain clip")
		return
	}

	cmd := exec.CommandContext(ctx, a.ffmpeg,
		"-y",
		"-i", teaser,
		"-i", req.OutputPath,
		"-filter_complex", "[0:v][0:a][1:v][1:a]concat=n=2:v=1:a=1[v][a]",
		"-map", "[v]",
		"-map", "[a]",
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-b:v", "3500k",
		"-c:a", "aac",
		"-b:a", "128k",
		"-movflags", "+faststart",
		combined,
	)
	if b, err := cmd.CombinedOutput(); err != nil {
		a.log.Warn().Err(err).Str("out", tail(string(b), 200)).Msg("teaser concat failed, keeping plain clip")
		return
	}
	if err := os.Rename(combined, req.OutputPath); err != nil {
		a.log.Warn().Err(err).Msg("teaser swap failed, keeping plain clip")
	}
}

func (a *Adapter) ProbeDuration(ctx context.Context, mediaPath string) (float64, error) {
	cmd := exec.CommandContext(ctx, a.ffprobe,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		mediaPath,
	)
	b, err := cmd.CombinedOutput()
	if err != nil {
		return 0, fmt.Errorf("ffprobe duration: %w\n%s", err, string(b))
	}
	s := strings.TrimSpace(string(b))
	sec, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", s, err)
	}
	return sec, nil
}

// ExtractAudio converts media to mono 16k audio sized for remote ASR.
func (a *Adapter) ExtractAudio(ctx context.Context, in, out string) error {
	cmd := exec.CommandContext(ctx, a.ffmpeg,
		"-y",
		"-i", in,
		"-vn",
		"-acodec", "aac",
		"-b:a", "64k",
		"-ar", "16000",
		"-ac", "1",
		out,
	)
	b, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg extract audio: %w\n%s", err, tail(string(b), 300))
	}
	return nil
}

// teaserTitleASS is a single title event covering the whole teaser,
// fading out at the end.
func teaserTitleASS(title string, d float64, st subtitles.Style) string {
	st.TitleIntro = dur(d)
	return subtitles.RenderASS(types.Transcript{}, 0, dur(d), title, st)
}

func fmtSeconds(v float64) string { return strconv.FormatFloat(v, 'f', 3, 64) }

func escapeFilterPath(p string) string {
	p = strings.ReplaceAll(p, "\\", "\\\\")
	p = strings.ReplaceAll(p, ":", "\\:")
	return p
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

func dur(sec float64) time.Duration { return time.Duration(sec * float64(time.Second)) }
