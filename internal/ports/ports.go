// Package ports declares the interfaces the pipeline needs from its
// external collaborators. Adapters live in subpackages; the orchestrator
// only sees these contracts.
package ports

import (
	"context"
	"errors"

	"github.com/clipforge/clipforge/internal/types"
)

// Fetcher downloads source media. FetchAudio is the lighter, faster
// variant used to start transcription while the full fetch continues.
type Fetcher interface {
	Fetch(ctx context.Context, locator, destDir string) (string, error)
	FetchAudio(ctx context.Context, locator, destDir string) (string, error)
}

// Transcriber produces a word-level transcript from local media.
// Backends are interchangeable; the orchestrator tries them in order
// and the first success wins.
type Transcriber interface {
	Name() string
	Transcribe(ctx context.Context, mediaPath string) (types.Transcript, error)
}

// ErrInputTooLarge signals that a remote transcription backend cannot
// accept the input and the next backend in the chain should run.
var ErrInputTooLarge = errors.New("input exceeds backend size limit")

// ProposeRequest is one reasoning call. Text is the timestamped
// transcript window; Transcript carries the structured form for
// backends that do not consume prompt text.
type ProposeRequest struct {
	Text        string
	Transcript  types.Transcript
	Chunk       int // 1-based window index; 0 when the text was not chunked
	Chunks      int
	TargetClips int
	MinDuration float64
	MaxDuration float64
	// SourceDuration bounds the timestamps the backend may propose.
	SourceDuration float64
	// MediaPath is the local media file when it has already landed.
	// Backends with native video understanding consume it; text-only
	// backends ignore it. May be empty.
	MediaPath string
}

// Proposer asks a reasoning backend for candidate moments.
type Proposer interface {
	Name() string
	Propose(ctx context.Context, req ProposeRequest) (types.Proposal, error)
}

// RenderRequest describes one clip render. PeakOffset, when positive,
// asks for a short teaser cut from that offset prepended ahead of the
// clip body; teaser failure must degrade to a plain clip, not an error.
type RenderRequest struct {
	MediaPath  string
	OutputPath string
	Start      float64
	End        float64
	Title      string
	Captions   bool
	Transcript types.Transcript
	PeakOffset float64
}

// RenderResult reports what actually landed on disk, probed from the
// output so the quality gate can catch silent encoder failures.
type RenderResult struct {
	Path      string
	Duration  float64
	SizeBytes int64
}

type Renderer interface {
	Render(ctx context.Context, req RenderRequest) (RenderResult, error)
	ProbeDuration(ctx context.Context, mediaPath string) (float64, error)
}

// Uploader persists a finished artifact and returns its public
// reference.
type Uploader interface {
	Store(ctx context.Context, localPath, key string) (string, error)
}

// MetadataFetcher resolves a human-readable title for the source.
// Best-effort; failures are ignored.
type MetadataFetcher interface {
	Title(ctx context.Context, locator string) (string, error)
}
