package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/clipforge/clipforge/internal/pipeline"
	"github.com/clipforge/clipforge/internal/ports/adapters/s3"
)

func run(cmd *cobra.Command, url string) error {
	cfg := pipeline.DefaultConfig()
	cfg.URL = url
	cfg.OutDir, _ = cmd.Flags().GetString("out")
	cfg.Clips, _ = cmd.Flags().GetInt("clips")
	cfg.MinDuration, _ = cmd.Flags().GetFloat64("min")
	cfg.MaxDuration, _ = cmd.Flags().GetFloat64("max")
	cfg.Captions, _ = cmd.Flags().GetBool("captions")
	cfg.Reanalyze, _ = cmd.Flags().GetBool("reanalyze")

	cfg.CacheDir = getenvDefault("CLIPFORGE_CACHE_DIR", cfg.CacheDir)
	cfg.RenderPool = getenvInt("CLIPFORGE_RENDER_POOL", cfg.RenderPool)
	cfg.ReasonPool = getenvInt("CLIPFORGE_REASON_POOL", cfg.ReasonPool)

	cfg.YtdlpPath = getenvDefault("YTDLP_PATH", cfg.YtdlpPath)
	cfg.FFmpegPath = getenvDefault("FFMPEG_PATH", cfg.FFmpegPath)
	cfg.FFprobePath = getenvDefault("FFPROBE_PATH", cfg.FFprobePath)
	cfg.FontDir = os.Getenv("CLIPFORGE_FONT_DIR")

	cfg.WhisperBin = getenvDefault("WHISPER_BIN", ".cache/bin/whisper.cpp")
	cfg.WhisperModel = os.Getenv("WHISPER_MODEL")

	cfg.GroqAPIKey = os.Getenv("GROQ_API_KEY")
	cfg.GroqBaseURL = os.Getenv("GROQ_BASE_URL")

	cfg.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	cfg.GeminiModel = os.Getenv("GEMINI_MODEL")
	cfg.GeminiBaseURL = os.Getenv("GEMINI_BASE_URL")

	cfg.OpenRouterAPIKey = os.Getenv("OPENROUTER_API_KEY")
	cfg.OpenRouterModel = os.Getenv("OPENROUTER_MODEL")
	cfg.OpenRouterBaseURL = os.Getenv("OPENROUTER_BASE_URL")
	if m, _ := cmd.Flags().GetString("model"); m != "" {
		cfg.OpenRouterModel = m
	}

	cfg.S3 = s3.Config{
		Region:        os.Getenv("S3_REGION"),
		Endpoint:      os.Getenv("S3_ENDPOINT"),
		AccessKey:     os.Getenv("S3_ACCESS_KEY"),
		SecretKey:     os.Getenv("S3_SECRET_KEY"),
		Bucket:        os.Getenv("S3_BUCKET"),
		PublicBaseURL: os.Getenv("S3_PUBLIC_BASE_URL"),
	}
	cfg.RedisAddr = os.Getenv("REDIS_ADDR")
	cfg.RedisChannel = os.Getenv("REDIS_CHANNEL")

	cfg.Log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		With().Timestamp().Logger()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, 3*time.Hour)
	defer cancelTimeout()

	res, err := pipeline.Run(ctx, cfg)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "job %s: %d clip(s) in %s\n", res.JobID, len(res.Clips), cfg.OutDir)
	return nil
}

func getenvDefault(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

func getenvInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
