// Package render fans accepted clips out to a bounded worker pool,
// applies the post-render quality gate, and pipelines uploads with
// ongoing renders.
package render

import (
	"context"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/clipforge/clipforge/internal/job"
	"github.com/clipforge/clipforge/internal/limits"
	"github.com/clipforge/clipforge/internal/ports"
	"github.com/clipforge/clipforge/internal/types"
)

type Config struct {
	// MaxWorkers caps the per-job pool. Rendering is CPU-bound; more
	// workers than this only starve the shared render slots.
	MaxWorkers int
	// MinBytes rejects outputs below this size.
	MinBytes int64
	// DurationTolerance rejects outputs whose rendered duration drifts
	// further than this many seconds from the request.
	DurationTolerance float64

	// Teaser placement window: the peak must sit at least TeaserMinOffset
	// into the clip and leave TeaserTailroom before its end.
	TeaserMinOffset float64
	TeaserTailroom  float64
}

func DefaultConfig() Config {
	return Config{
		MaxWorkers:        4,
		MinBytes:          100_000,
		DurationTolerance: 10,
		TeaserMinOffset:   2,
		TeaserTailroom:    7,
	}
}

type Deps struct {
	Renderer ports.Renderer
	Uploader ports.Uploader // nil disables upload
	Limits   *limits.Controller
	Log      zerolog.Logger
}

type Coordinator struct {
	cfg Config
	d   Deps
}

func New(cfg Config, d Deps) *Coordinator {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = DefaultConfig().MaxWorkers
	}
	return &Coordinator{cfg: cfg, d: d}
}

// RenderAll renders every accepted clip through a pool of
// min(len(clips), MaxWorkers) workers. Each worker holds a shared
// render slot only while rendering; gate checks and upload run outside
// it so upload of one clip overlaps rendering of the next. Failures
// are isolated per clip. The returned list is re-sorted into source
// order regardless of completion order.
func (c *Coordinator) RenderAll(
	ctx context.Context,
	jb *job.Job,
	mediaPath, outDir string,
	clips []types.AcceptedClip,
	tr types.Transcript,
	captions bool,
) []types.AcceptedClip {
	if len(clips) == 0 {
		return nil
	}

	workers := c.cfg.MaxWorkers
	if len(clips) < workers {
		workers = len(clips)
	}

	var uploadOnce sync.Once
	results := make([]types.AcceptedClip, len(clips))
	idxCh := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range idxCh {
				results[i] = c.renderOne(ctx, jb, mediaPath, outDir, clips[i], len(clips), tr, captions, &uploadOnce)
			}
		}()
	}
	for i := range clips {
		idxCh <- i
	}
	close(idxCh)
	wg.Wait()

	var out []types.AcceptedClip
	for _, r := range results {
		if r.Status == types.ClipRendered || r.Status == types.ClipUploaded {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

func (c *Coordinator) renderOne(
	ctx context.Context,
	jb *job.Job,
	mediaPath, outDir string,
	clip types.AcceptedClip,
	total int,
	tr types.Transcript,
	captions bool,
	uploadOnce *sync.Once,
) types.AcceptedClip {
	log := c.d.Log.With().Int("clip", clip.Index+1).Str("title", clip.Title).Logger()
	log.Info().Float64("duration", clip.Duration()).Msgf("rendering %d/%d", clip.Index+1, total)
	jb.Log("info", fmt.Sprintf("rendering %d/%d: %s", clip.Index+1, total, clip.Title))

	res, err := c.renderUnderSlot(ctx, mediaPath, outDir, clip, tr, captions)
	if err != nil {
		log.Warn().Err(err).Msg("clip render failed")
		jb.Log("warn", fmt.Sprintf("clip %d failed: %s", clip.Index+1, types.Reason(err)))
		clip.Status = types.ClipFailed
		return clip
	}

	if reason := c.gateReject(clip, res); reason != "" {
		log.Warn().Int64("bytes", res.SizeBytes).Float64("rendered", res.Duration).Msgf("quality gate rejected clip: %s", reason)
		jb.Log("warn", fmt.Sprintf("clip %d quality gate failed: %s", clip.Index+1, reason))
		_ = os.Remove(res.Path)
		clip.Status = types.ClipFailed
		return clip
	}

	clip.Status = types.ClipRendered
	clip.OutputPath = res.Path
	clip.RenderedDuration = res.Duration
	clip.SizeBytes = res.SizeBytes

	if c.d.Uploader != nil {
		// First successful render opens the uploading stage; it overlaps
		// clipping until the last worker drains.
		uploadOnce.Do(func() { jb.BeginStage(job.StageUploading) })
		url, err := c.d.Uploader.Store(ctx, res.Path, uploadKey(jb.ID(), res.Path))
		if err != nil {
			log.Warn().Err(err).Msg("upload failed, dropping clip")
			jb.Log("warn", fmt.Sprintf("clip %d upload failed: %v", clip.Index+1, err))
			clip.Status = types.ClipFailed
			return clip
		}
		clip.Status = types.ClipUploaded
		clip.URL = url
	}

	jb.AddClip(job.ClipRecord{
		Index:    clip.Index,
		Title:    clip.Title,
		Path:     clip.OutputPath,
		URL:      clip.URL,
		Duration: clip.RenderedDuration,
		Size:     clip.SizeBytes,
	})
	log.Info().Int64("bytes", clip.SizeBytes).Msg("clip done")
	return clip
}

// renderUnderSlot acquires a shared render slot for the duration of the
// render only. The slot is freed before gate checks and upload.
func (c *Coordinator) renderUnderSlot(
	ctx context.Context,
	mediaPath, outDir string,
	clip types.AcceptedClip,
	tr types.Transcript,
	captions bool,
) (ports.RenderResult, error) {
	release, err := c.d.Limits.Acquire(ctx, limits.PoolRender)
	if err != nil {
		return ports.RenderResult{}, fmt.Errorf("acquire render slot: %w", err)
	}
	defer release()

	return c.d.Renderer.Render(ctx, ports.RenderRequest{
		MediaPath:  mediaPath,
		OutputPath: outputPath(outDir, clip),
		Start:      clip.Start,
		End:        clip.End,
		Title:      clip.Title,
		Captions:   captions,
		Transcript: tr,
		PeakOffset: c.teaserOffset(clip, tr),
	})
}

func (c *Coordinator) gateReject(clip types.AcceptedClip, res ports.RenderResult) string {
	if res.SizeBytes < c.cfg.MinBytes {
		return fmt.Sprintf("%d bytes is below the %d byte minimum", res.SizeBytes, c.cfg.MinBytes)
	}
	if drift := math.Abs(res.Duration - clip.Duration()); drift > c.cfg.DurationTolerance {
		return fmt.Sprintf("rendered %.1fs vs requested %.1fs", res.Duration, clip.Duration())
	}
	return ""
}

// teaserOffset validates the proposed highlight offset: it must leave
// room inside the clip and have actual speech nearby, otherwise it is
// shifted to the densest segment in the clip window or dropped. A
// teaser is decoration; nothing here may fail the clip.
func (c *Coordinator) teaserOffset(clip types.AcceptedClip, tr types.Transcript) float64 {
	if clip.PeakOffset == nil {
		return 0
	}
	off := *clip.PeakOffset
	dur := clip.Duration()
	if off < c.cfg.TeaserMinOffset || off > dur-c.cfg.TeaserTailroom {
		return 0
	}
	if hasSpeechNear(tr, clip.Start+off) {
		return off
	}
	// No speech at the proposed peak: shift to the wordiest segment
	// inside the usable window.
	var best *types.Segment
	for i := range tr.Segments {
		s := &tr.Segments[i]
		if s.Start < clip.Start+c.cfg.TeaserMinOffset || s.End > clip.End-c.cfg.TeaserTailroom {
			continue
		}
		if best == nil || wordCount(s.Text) > wordCount(best.Text) {
			best = s
		}
	}
	if best == nil {
		return 0
	}
	return best.Start - clip.Start
}

func hasSpeechNear(tr types.Transcript, at float64) bool {
	for _, s := range tr.Segments {
		if s.Start >= at-2 && s.End <= at+4 && len(strings.TrimSpace(s.Text)) > 10 {
			return true
		}
	}
	return false
}

func wordCount(s string) int { return len(strings.Fields(s)) }

func outputPath(outDir string, clip types.AcceptedClip) string {
	safe := make([]rune, 0, len(clip.Title))
	for _, r := range strings.ToLower(clip.Title) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			safe = append(safe, r)
		case r == ' ', r == '-', r == '_':
			safe = append(safe, '_')
		}
	}
	name := strings.Trim(string(safe), "_")
	if len(name) > 40 {
		name = name[:40]
	}
	if name == "" {
		name = "clip"
	}
	return fmt.Sprintf("%s/clip_%02d_%s.mp4", outDir, clip.Index+1, name)
}

func uploadKey(jobID, path string) string {
	parts := strings.Split(path, "/")
	return fmt.Sprintf("%s/%s", jobID, parts[len(parts)-1])
}
