// Package ytdlp fetches source media by shelling out to yt-dlp.
package ytdlp

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog"

	"github.com/clipforge/clipforge/internal/types"
)

// Capped at 1080p: the output is cropped and scaled to 1080x1920 so
// anything sharper is wasted bytes.
const videoFormat = "bestvideo[height<=1080][ext=mp4]+bestaudio[ext=m4a]/best[height<=1080][ext=mp4]/best[height<=1080]/best"

const audioFormat = "bestaudio[ext=m4a]/bestaudio"

type Adapter struct {
	bin string
	log zerolog.Logger
}

func New(binPath string, log zerolog.Logger) *Adapter {
	if binPath == "" {
		binPath = "yt-dlp"
	}
	return &Adapter{bin: binPath, log: log}
}

// Fetch downloads the full media file into destDir and returns its
// path. The first attempt impersonates a browser; some hosts block the
// impersonated UA, so a failure retries with the flag dropped.
func (a *Adapter) Fetch(ctx context.Context, locator, destDir string) (string, error) {
	tmpl := filepath.Join(destDir, "source.%(ext)s")
	args := []string{
		"-f", videoFormat,
		"--merge-output-format", "mp4",
		"-o", tmpl,
		"--no-playlist",
		"--retries", "3",
		"--fragment-retries", "3",
		"--concurrent-fragments", "8",
	}
	if err := a.run(ctx, locator, args); err != nil {
		return "", types.Transient("download failed", err)
	}
	p, err := newestMatch(destDir, "source*", []string{".mp4", ".mkv", ".webm"})
	if err != nil {
		return "", types.Permanent("download produced no media file")
	}
	return p, nil
}

// FetchAudio grabs the audio-only stream, which lands in seconds even
// for hour-long sources, so transcription can start while Fetch is
// still running.
func (a *Adapter) FetchAudio(ctx context.Context, locator, destDir string) (string, error) {
	tmpl := filepath.Join(destDir, "audio_only.%(ext)s")
	args := []string{
		"-f", audioFormat,
		"-o", tmpl,
		"--no-playlist",
		"--retries", "2",
		"--concurrent-fragments", "8",
	}
	if err := a.run(ctx, locator, args); err != nil {
		return "", types.Transient("audio download failed", err)
	}
	p, err := newestMatch(destDir, "audio_only*", []string{".m4a", ".mp3", ".webm", ".ogg", ".opus"})
	if err != nil {
		return "", types.Permanent("audio download produced no file")
	}
	return p, nil
}

func (a *Adapter) run(ctx context.Context, locator string, args []string) error {
	withImp := append([]string{"--impersonate", "chrome-120"}, args...)
	cmd := exec.CommandContext(ctx, a.bin, append(withImp, locator)...)
	out, err := cmd.CombinedOutput()
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	a.log.Warn().Str("locator", locator).Msg("impersonated fetch failed, retrying plain")

	cmd = exec.CommandContext(ctx, a.bin, append(args, locator)...)
	out, err = cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("yt-dlp: %w\n%s", err, tail(string(out), 300))
	}
	return nil
}

// newestMatch returns the largest file in dir matching the glob with an
// allowed extension. yt-dlp can leave partial sidecar files behind, so
// size is the tiebreak, not mtime.
func newestMatch(dir, glob string, exts []string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, glob))
	if err != nil {
		return "", err
	}
	type sized struct {
		path string
		size int64
	}
	var candidates []sized
	for _, m := range matches {
		ok := false
		for _, e := range exts {
			if filepath.Ext(m) == e {
				ok = true
				break
			}
		}
		if !ok {
			continue
		}
		fi, err := os.Stat(m)
		if err != nil {
			continue
		}
		candidates = append(candidates, sized{m, fi.Size()})
	}
	if len(candidates) == 0 {
		return "", fmt.Errorf("no output matching %s in %s", glob, dir)
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].size > candidates[j].size })
	return candidates[0].path, nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
