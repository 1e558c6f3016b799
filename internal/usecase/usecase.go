// Package usecase drives one job through the pipeline: fetch,
// transcribe, analyze, select, render. Collaborator failures are mapped
// to stage outcomes here; nothing below this layer touches the job
// document's terminal state.
package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clipforge/clipforge/internal/cache"
	"github.com/clipforge/clipforge/internal/domain/moments"
	"github.com/clipforge/clipforge/internal/job"
	"github.com/clipforge/clipforge/internal/limits"
	"github.com/clipforge/clipforge/internal/ports"
	"github.com/clipforge/clipforge/internal/render"
	"github.com/clipforge/clipforge/internal/types"
)

// Chunking thresholds for the reasoning transcript, in characters.
const (
	chunkSize    = 40000
	chunkOverlap = 5000
)

type Deps struct {
	Fetcher ports.Fetcher
	// Transcribers are tried in order; ports.ErrInputTooLarge moves to
	// the next backend without burning retries.
	Transcribers []ports.Transcriber
	// Proposers are the reasoning chain, tried in order per chunk.
	Proposers []ports.Proposer
	// Fallback runs when every proposer failed on every chunk.
	Fallback ports.Proposer
	Coord    *render.Coordinator
	Cache    *cache.Store
	Limits   *limits.Controller
	Meta     ports.MetadataFetcher
	Sink     job.StatusSink
	Retry    limits.RetryPolicy
	Selector moments.Config
	Log      zerolog.Logger
}

type Usecase struct{ d Deps }

func New(d Deps) Usecase { return Usecase{d: d} }

type Input struct {
	Locator     string
	OutDir      string
	MaxClips    int
	MinDuration float64
	MaxDuration float64
	Captions    bool
	// Reanalyze reuses the cached transcript and media but re-runs the
	// reasoning and selection stages.
	Reanalyze bool
	// Model is recorded in the cache entry for traceability.
	Model string
}

type Result struct {
	JobID string
	Clips []types.AcceptedClip
	// Reason is set when the job ended in a terminal failure. Clips may
	// still be non-empty: whatever rendered before the failure is kept.
	Reason string
}

func (u Usecase) Run(ctx context.Context, in Input) Result {
	jobID := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	jb := job.New(jobID, in.Locator, u.d.Sink)
	log := u.d.Log.With().Str("jobId", jobID).Logger()

	if err := os.MkdirAll(in.OutDir, 0o755); err != nil {
		jb.SetError("cannot create output directory")
		return Result{JobID: jobID, Reason: "cannot create output directory"}
	}
	workDir, err := os.MkdirTemp("", "clipforge-"+jobID+"-")
	if err != nil {
		jb.SetError("cannot create work directory")
		return Result{JobID: jobID, Reason: "cannot create work directory"}
	}
	defer os.RemoveAll(workDir)

	if n, err := u.d.Cache.Sweep(); err == nil && n > 0 {
		log.Info().Int("removed", n).Msg("swept expired media cache")
	}

	// Best-effort title fetch before download so error jobs still carry
	// one.
	if u.d.Meta != nil {
		tctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if title, err := u.d.Meta.Title(tctx, in.Locator); err == nil && title != "" {
			jb.SetTitle(title)
		}
		cancel()
	}

	res := u.run(ctx, jb, in, workDir, log)
	res.JobID = jobID
	u.appendHistory(jb, res)
	return res
}

func (u Usecase) run(ctx context.Context, jb *job.Job, in Input, workDir string, log zerolog.Logger) Result {
	contentID := cache.ContentID(in.Locator)
	entry, _ := u.d.Cache.Get(contentID)

	var (
		tr        types.Transcript
		clips     []types.AcceptedClip
		class     types.Classification
		mediaPath string
		videoCh   chan fetchResult
	)

	cachedAnalysis := entry != nil && len(entry.Moments) > 0 && !in.Reanalyze
	cachedTranscript := entry != nil && len(entry.Transcript.Segments) > 0
	mediaPath = u.d.Cache.MediaPath(contentID)

	// stage: downloading
	if mediaPath != "" {
		jb.BeginStage(job.StageDownloading)
		jb.EndStage(job.StageDownloading, job.StageCached)
		log.Info().Str("media", mediaPath).Msg("media cache hit")
	} else {
		jb.BeginStage(job.StageDownloading)
		videoCh = make(chan fetchResult, 1)
		go func() {
			p, err := u.d.Fetcher.Fetch(ctx, in.Locator, workDir)
			videoCh <- fetchResult{path: p, err: err}
		}()
	}

	// stage: transcribing
	switch {
	case cachedAnalysis || cachedTranscript:
		tr = entry.Transcript
		jb.BeginStage(job.StageTranscribing)
		jb.EndStage(job.StageTranscribing, job.StageCached)
		if entry.Title != "" {
			jb.SetTitle(entry.Title)
		}
	default:
		// The audio-only stream lands in seconds; transcription starts
		// on it while the full fetch keeps running in the background.
		asrInput := ""
		if videoCh != nil {
			if audioPath, err := u.d.Fetcher.FetchAudio(ctx, in.Locator, workDir); err == nil {
				asrInput = audioPath
			} else {
				log.Warn().Err(err).Msg("audio-only fetch failed, waiting for full media")
			}
		}
		if asrInput == "" {
			p, err := u.waitForMedia(jb, contentID, &videoCh, mediaPath)
			if err != nil {
				return u.fail(jb, job.StageDownloading, err)
			}
			mediaPath = p
			asrInput = p
		}

		jb.BeginStage(job.StageTranscribing)
		var err error
		tr, err = u.transcribe(ctx, asrInput, log)
		if err != nil {
			return u.fail(jb, job.StageTranscribing, err)
		}
		if len(tr.Segments) == 0 {
			return u.fail(jb, job.StageTranscribing, types.Permanent("no speech detected in source"))
		}
		jb.EndStage(job.StageTranscribing, job.StageOK)
	}
	jb.SetSourceDuration(tr.Duration())

	// stage: analyzing
	if cachedAnalysis {
		clips = entry.Moments
		class = entry.Classification
		jb.BeginStage(job.StageAnalyzing)
		jb.EndStage(job.StageAnalyzing, job.StageCached)
		log.Info().Int("clips", len(clips)).Msg("analysis cache hit")
	} else {
		jb.BeginStage(job.StageAnalyzing)
		sel, err := u.analyze(ctx, jb, tr, in, mediaPath, log)
		if err != nil {
			return u.fail(jb, job.StageAnalyzing, err)
		}
		if len(sel.Clips) == 0 {
			return u.fail(jb, job.StageAnalyzing, types.Permanent("no strong moments found"))
		}
		clips = sel.Clips
		class = sel.Classification
		jb.EndStage(job.StageAnalyzing, job.StageOK)

		snap := jb.Snapshot()
		if err := u.d.Cache.Put(contentID, cache.Entry{
			SourceURL:      in.Locator,
			Title:          snap.Title,
			Duration:       tr.Duration(),
			Classification: class,
			Transcript:     tr,
			Moments:        clips,
			Model:          in.Model,
			CachedAt:       time.Now().UTC(),
		}); err != nil {
			log.Warn().Err(err).Msg("analysis cache write failed")
		}
	}
	log.Info().Int("clips", len(clips)).Str("contentType", string(class)).Msg("moments selected")

	// stage: clipping / uploading
	p, err := u.waitForMedia(jb, contentID, &videoCh, mediaPath)
	if err != nil {
		return u.fail(jb, job.StageDownloading, err)
	}
	mediaPath = p

	jb.BeginStage(job.StageClipping)
	done := u.d.Coord.RenderAll(ctx, jb, mediaPath, in.OutDir, clips, tr, in.Captions)
	if len(done) == 0 {
		return Result{Clips: nil, Reason: u.terminate(jb, job.StageClipping, types.Permanent("every clip failed to render"))}
	}
	jb.EndStage(job.StageClipping, job.StageOK)
	jb.EndStage(job.StageUploading, job.StageOK)
	jb.SetDone()

	return Result{Clips: done}
}

type fetchResult struct {
	path string
	err  error
}

// waitForMedia resolves the full media path: the cached blob when one
// exists, otherwise the background fetch result, which is then copied
// into the media cache for the TTL window.
func (u Usecase) waitForMedia(jb *job.Job, contentID string, videoCh *chan fetchResult, cached string) (string, error) {
	if cached != "" {
		return cached, nil
	}
	if *videoCh == nil {
		return "", types.Permanent("no media available")
	}
	res := <-*videoCh
	*videoCh = nil
	if res.err != nil {
		return "", res.err
	}
	jb.EndStage(job.StageDownloading, job.StageOK)
	if p, err := u.d.Cache.PutMedia(contentID, res.path); err == nil {
		return p, nil
	}
	return res.path, nil
}

// transcribe walks the backend chain, each attempt holding a
// reasoning-pool slot so rate-limited ASR calls are bounded across
// jobs. Transient failures retry under the shared policy;
// ErrInputTooLarge skips straight to the next backend.
func (u Usecase) transcribe(ctx context.Context, mediaPath string, log zerolog.Logger) (types.Transcript, error) {
	var lastErr error
	for _, t := range u.d.Transcribers {
		var tr types.Transcript
		err := limits.WithRetry(ctx, u.d.Retry, func(ctx context.Context) error {
			release, err := u.d.Limits.Acquire(ctx, limits.PoolReason)
			if err != nil {
				return err
			}
			defer release()
			var terr error
			tr, terr = t.Transcribe(ctx, mediaPath)
			return terr
		})
		if err == nil {
			log.Info().Str("backend", t.Name()).Int("segments", len(tr.Segments)).Msg("transcribed")
			return tr, nil
		}
		lastErr = err
		if errors.Is(err, ports.ErrInputTooLarge) {
			log.Info().Str("backend", t.Name()).Msg("input too large, moving to next backend")
			continue
		}
		// A terminal failure is about the source media, not this
		// backend; another backend would waste minutes re-decoding it.
		if types.IsTerminal(err) {
			return types.Transcript{}, err
		}
		log.Warn().Err(err).Str("backend", t.Name()).Msg("transcription backend failed")
		if ctx.Err() != nil {
			return types.Transcript{}, ctx.Err()
		}
	}
	if lastErr == nil {
		lastErr = types.Permanent("no transcription backend configured")
	}
	return types.Transcript{}, lastErr
}

// analyze chunks the transcript, gathers proposals under the reasoning
// pool and runs the selection pipeline on all batches together.
// mediaPath is forwarded when the media has already landed so
// video-capable backends can watch the source; it is empty while the
// full fetch is still running.
func (u Usecase) analyze(ctx context.Context, jb *job.Job, tr types.Transcript, in Input, mediaPath string, log zerolog.Logger) (moments.Result, error) {
	filtered := filterLowDensity(tr)
	text := timestampedText(filtered)
	windows := chunkText(text, chunkSize, chunkOverlap)
	log.Info().Int("windows", len(windows)).Int("chars", len(text)).Msg("analyzing transcript")

	var batches []moments.Batch
	for i, w := range windows {
		req := ports.ProposeRequest{
			Text:           w,
			Transcript:     filtered,
			Chunk:          i + 1,
			Chunks:         len(windows),
			TargetClips:    in.MaxClips,
			MinDuration:    in.MinDuration,
			MaxDuration:    in.MaxDuration,
			SourceDuration: tr.Duration(),
			MediaPath:      mediaPath,
		}
		prop, err := u.propose(ctx, req, log)
		if err != nil {
			if ctx.Err() != nil {
				return moments.Result{}, ctx.Err()
			}
			jb.Log("warn", fmt.Sprintf("analysis window %d/%d failed: %s", i+1, len(windows), types.Reason(err)))
			continue
		}
		batches = append(batches, moments.Batch{Moments: prop.Moments, Classification: prop.Classification})
	}

	if len(batches) == 0 && u.d.Fallback != nil {
		log.Warn().Msg("all reasoning backends failed, using even-split fallback")
		jb.Log("warn", "reasoning unavailable, falling back to even splits")
		prop, err := u.d.Fallback.Propose(ctx, ports.ProposeRequest{
			Transcript:     tr,
			TargetClips:    in.MaxClips,
			MinDuration:    in.MinDuration,
			MaxDuration:    in.MaxDuration,
			SourceDuration: tr.Duration(),
		})
		if err != nil {
			return moments.Result{}, err
		}
		batches = append(batches, moments.Batch{Moments: prop.Moments, Classification: prop.Classification})
	}

	cfg := u.d.Selector
	if in.MinDuration > 0 {
		cfg.MinDuration = in.MinDuration
	}
	if in.MaxDuration > 0 {
		cfg.MaxDuration = in.MaxDuration
	}
	if in.MaxClips > 0 {
		cfg.HardMax = in.MaxClips
	}
	sel := moments.Select(batches, tr.Duration(), cfg)
	for _, n := range sel.Notes {
		jb.Log("info", n)
	}
	return sel, nil
}

// propose runs one reasoning window through the proposer chain, each
// attempt holding a reasoning-pool slot for the duration of the call.
func (u Usecase) propose(ctx context.Context, req ports.ProposeRequest, log zerolog.Logger) (types.Proposal, error) {
	var lastErr error
	for _, p := range u.d.Proposers {
		var prop types.Proposal
		err := limits.WithRetry(ctx, u.d.Retry, func(ctx context.Context) error {
			release, err := u.d.Limits.Acquire(ctx, limits.PoolReason)
			if err != nil {
				return err
			}
			defer release()
			var perr error
			prop, perr = p.Propose(ctx, req)
			return perr
		})
		if err == nil {
			return prop, nil
		}
		lastErr = err
		log.Warn().Err(err).Str("backend", p.Name()).Int("window", req.Chunk).Msg("proposer failed")
		if ctx.Err() != nil {
			return types.Proposal{}, ctx.Err()
		}
	}
	if lastErr == nil {
		lastErr = types.Permanent("no reasoning backend configured")
	}
	return types.Proposal{}, lastErr
}

// fail records the terminal outcome and returns the failure result.
func (u Usecase) fail(jb *job.Job, stage job.Stage, err error) Result {
	return Result{Reason: u.terminate(jb, stage, err)}
}

func (u Usecase) terminate(jb *job.Job, stage job.Stage, err error) string {
	reason := types.Reason(err)
	jb.EndStage(stage, job.StageFailed)
	jb.SetError(reason)
	u.d.Log.Error().Str("jobId", jb.ID()).Str("stage", string(stage)).Str("reason", reason).Msg("job failed")
	return reason
}

// appendHistory adds one summary record per finished job to a JSON
// lines file next to the cache. Best-effort.
func (u Usecase) appendHistory(jb *job.Job, res Result) {
	snap := jb.Snapshot()
	rec := map[string]any{
		"job_id":   snap.ID,
		"source":   snap.Source,
		"title":    snap.Title,
		"stage":    snap.Stage,
		"clips":    len(res.Clips),
		"error":    res.Reason,
		"finished": time.Now().UTC().Format(time.RFC3339),
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return
	}
	path := filepath.Join(u.d.Cache.Dir(), "history.jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = f.Write(append(b, '\n'))
}

// filterLowDensity drops transcript segments that are mostly silence or
// music before they reach the prompt. Segments with at least 3 words
// always survive, and the filter never removes more than half the
// transcript.
func filterLowDensity(tr types.Transcript) types.Transcript {
	const minWPM = 80.0
	if len(tr.Segments) == 0 {
		return tr
	}
	kept := make([]types.Segment, 0, len(tr.Segments))
	for _, s := range tr.Segments {
		d := s.End - s.Start
		if d <= 0 {
			kept = append(kept, s)
			continue
		}
		words := len(strings.Fields(s.Text))
		wpm := float64(words) / d * 60.0
		if wpm >= minWPM || words >= 3 {
			kept = append(kept, s)
		}
	}
	if len(kept)*2 < len(tr.Segments) {
		return tr
	}
	return types.Transcript{Segments: kept}
}

// timestampedText renders the transcript as "[mm:ss] text" lines, the
// form the reasoning prompt consumes.
func timestampedText(tr types.Transcript) string {
	var b strings.Builder
	for _, s := range tr.Segments {
		sec := int(s.Start)
		fmt.Fprintf(&b, "[%02d:%02d] %s\n", sec/60, sec%60, s.Text)
	}
	return b.String()
}

// chunkText splits text into overlapping windows. Text at or under the
// window size stays whole.
func chunkText(text string, size, overlap int) []string {
	if len(text) <= size {
		return []string{text}
	}
	var out []string
	pos := 0
	for pos < len(text) {
		end := pos + size
		if end >= len(text) {
			out = append(out, text[pos:])
			break
		}
		out = append(out, text[pos:end])
		pos = end - overlap
	}
	return out
}
