// Package pipeline turns a Config into a wired, ready-to-run pipeline:
// it builds every adapter, the shared pools and the cache, and hands
// them to the orchestrator.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/clipforge/clipforge/internal/cache"
	"github.com/clipforge/clipforge/internal/domain/moments"
	"github.com/clipforge/clipforge/internal/domain/subtitles"
	"github.com/clipforge/clipforge/internal/job"
	"github.com/clipforge/clipforge/internal/limits"
	"github.com/clipforge/clipforge/internal/ports"
	"github.com/clipforge/clipforge/internal/ports/adapters/fallback"
	"github.com/clipforge/clipforge/internal/ports/adapters/ffmpeg"
	"github.com/clipforge/clipforge/internal/ports/adapters/gemini"
	"github.com/clipforge/clipforge/internal/ports/adapters/groq"
	"github.com/clipforge/clipforge/internal/ports/adapters/oembed"
	"github.com/clipforge/clipforge/internal/ports/adapters/openrouter"
	"github.com/clipforge/clipforge/internal/ports/adapters/redisink"
	"github.com/clipforge/clipforge/internal/ports/adapters/s3"
	"github.com/clipforge/clipforge/internal/ports/adapters/whispercpp"
	"github.com/clipforge/clipforge/internal/ports/adapters/ytdlp"
	"github.com/clipforge/clipforge/internal/render"
	"github.com/clipforge/clipforge/internal/types"
	"github.com/clipforge/clipforge/internal/usecase"
)

type Config struct {
	URL    string
	OutDir string

	Clips       int
	MinDuration float64
	MaxDuration float64
	Captions    bool
	Reanalyze   bool

	// CacheDir holds the analysis cache, the media cache and the job
	// history file. Defaults to ".cache".
	CacheDir string
	CacheTTL time.Duration

	// Shared pool sizes across every job in the process.
	RenderPool int
	ReasonPool int

	YtdlpPath   string
	FFmpegPath  string
	FFprobePath string
	// FontDir is handed to the subtitle burn filter so the caption font
	// resolves without a system install.
	FontDir string

	WhisperBin   string
	WhisperModel string

	GroqAPIKey  string
	GroqBaseURL string

	// Gemini, when keyed, runs ahead of OpenRouter and watches the
	// video natively instead of only reading the transcript.
	GeminiAPIKey  string
	GeminiModel   string
	GeminiBaseURL string

	OpenRouterAPIKey  string
	OpenRouterModel   string
	OpenRouterBaseURL string

	// S3 upload is optional; an empty bucket disables it.
	S3 s3.Config

	// RedisAddr enables the job status sink; empty disables it.
	RedisAddr    string
	RedisChannel string

	Log zerolog.Logger
}

// Defaults mirror the shipped configuration: six concurrent renders,
// two concurrent reasoning calls, a day of media cache.
func DefaultConfig() Config {
	return Config{
		OutDir:      "out",
		Clips:       5,
		MinDuration: 45,
		MaxDuration: 90,
		Captions:    true,
		CacheDir:    ".cache",
		CacheTTL:    24 * time.Hour,
		RenderPool:  6,
		ReasonPool:  2,
		YtdlpPath:   "yt-dlp",
		FFmpegPath:  "ffmpeg",
		FFprobePath: "ffprobe",
	}
}

func (c Config) Validate() error {
	if c.URL == "" {
		return errors.New("url is empty")
	}
	u, err := url.Parse(c.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("url %q is not absolute", c.URL)
	}
	if c.Clips <= 0 {
		return errors.New("clips must be > 0")
	}
	if c.MinDuration <= 0 {
		return errors.New("min duration must be > 0")
	}
	if c.MaxDuration < c.MinDuration {
		return errors.New("max duration must be >= min duration")
	}
	if c.GroqAPIKey == "" && c.WhisperModel == "" {
		return errors.New("no transcription backend: set GROQ_API_KEY or a whisper model path")
	}
	return nil
}

// Run wires the adapters and drives one job to completion. The clip
// manifest is written next to the clips; a terminal job failure is
// returned as an error after any surviving clips are recorded.
func Run(ctx context.Context, cfg Config) (usecase.Result, error) {
	if err := cfg.Validate(); err != nil {
		return usecase.Result{}, fmt.Errorf("config: %w", err)
	}
	log := cfg.Log

	store, err := cache.New(cfg.CacheDir, cfg.CacheTTL)
	if err != nil {
		return usecase.Result{}, fmt.Errorf("open cache: %w", err)
	}

	ctl := limits.NewController(map[string]int{
		limits.PoolRender: cfg.RenderPool,
		limits.PoolReason: cfg.ReasonPool,
	})

	renderer := ffmpeg.New(cfg.FFmpegPath, cfg.FFprobePath, cfg.FontDir, subtitles.DefaultStyle(), log)

	var transcribers []ports.Transcriber
	if cfg.GroqAPIKey != "" {
		transcribers = append(transcribers, groq.New(cfg.GroqAPIKey, cfg.GroqBaseURL, renderer))
	}
	if cfg.WhisperModel != "" {
		transcribers = append(transcribers, whispercpp.New(cfg.WhisperBin, cfg.WhisperModel, cfg.FFmpegPath))
	}

	var proposers []ports.Proposer
	if cfg.GeminiAPIKey != "" {
		proposers = append(proposers, gemini.New(cfg.GeminiAPIKey, cfg.GeminiModel, cfg.GeminiBaseURL))
	}
	proposers = append(proposers, openrouter.New(cfg.OpenRouterAPIKey, cfg.OpenRouterModel, cfg.OpenRouterBaseURL))

	var uploader ports.Uploader
	if cfg.S3.Bucket != "" {
		up, err := s3.New(ctx, cfg.S3)
		if err != nil {
			return usecase.Result{}, fmt.Errorf("s3: %w", err)
		}
		uploader = up
	}

	var sink job.StatusSink
	if rs := redisink.New(cfg.RedisAddr, cfg.RedisChannel, log); rs != nil {
		sink = rs
	}

	coord := render.New(render.DefaultConfig(), render.Deps{
		Renderer: renderer,
		Uploader: uploader,
		Limits:   ctl,
		Log:      log,
	})

	uc := usecase.New(usecase.Deps{
		Fetcher:      ytdlp.New(cfg.YtdlpPath, log),
		Transcribers: transcribers,
		Proposers:    proposers,
		Fallback:     fallback.New(),
		Coord:        coord,
		Cache:        store,
		Limits:       ctl,
		Meta:         oembed.New(),
		Sink:         sink,
		Retry:        limits.DefaultRetryPolicy(types.IsTransient),
		Selector:     moments.DefaultConfig(),
		Log:          log,
	})

	res := uc.Run(ctx, usecase.Input{
		Locator:     cfg.URL,
		OutDir:      cfg.OutDir,
		MaxClips:    cfg.Clips,
		MinDuration: cfg.MinDuration,
		MaxDuration: cfg.MaxDuration,
		Captions:    cfg.Captions,
		Reanalyze:   cfg.Reanalyze,
		Model:       cfg.OpenRouterModel,
	})

	if len(res.Clips) > 0 {
		if err := writeManifest(cfg.OutDir, res); err != nil {
			log.Warn().Err(err).Msg("manifest write failed")
		}
	}
	if res.Reason != "" {
		return res, errors.New(res.Reason)
	}
	return res, nil
}

func writeManifest(outDir string, res usecase.Result) error {
	b, err := json.MarshalIndent(map[string]any{
		"job_id": res.JobID,
		"clips":  res.Clips,
	}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(outDir, "manifest.json"), b, 0o644)
}

var (
	_ ports.Fetcher       = (*ytdlp.Adapter)(nil)
	_ ports.Transcriber   = (*whispercpp.Adapter)(nil)
	_ ports.Transcriber   = (*groq.Adapter)(nil)
	_ ports.Proposer      = (*gemini.Adapter)(nil)
	_ ports.Proposer      = (*openrouter.Adapter)(nil)
	_ ports.Proposer      = (*fallback.Adapter)(nil)
	_ ports.Renderer      = (*ffmpeg.Adapter)(nil)
	_ groq.AudioExtractor = (*ffmpeg.Adapter)(nil)
	_ ports.Uploader      = (*s3.Adapter)(nil)
	_ job.StatusSink      = (*redisink.Sink)(nil)
)
