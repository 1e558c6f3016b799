package usecase

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/clipforge/clipforge/internal/cache"
	"github.com/clipforge/clipforge/internal/domain/moments"
	"github.com/clipforge/clipforge/internal/limits"
	"github.com/clipforge/clipforge/internal/ports"
	"github.com/clipforge/clipforge/internal/render"
	"github.com/clipforge/clipforge/internal/types"
)

const testLocator = "https://youtu.be/abc123def45"

type fakeFetcher struct {
	fetchCalls int32
	audioCalls int32
	failAudio  bool
	failVideo  bool
}

func (f *fakeFetcher) Fetch(_ context.Context, _, destDir string) (string, error) {
	atomic.AddInt32(&f.fetchCalls, 1)
	if f.failVideo {
		return "", types.Transient("download failed", errors.New("boom"))
	}
	p := filepath.Join(destDir, "source.mp4")
	if err := os.WriteFile(p, []byte("media"), 0o644); err != nil {
		return "", err
	}
	return p, nil
}

func (f *fakeFetcher) FetchAudio(_ context.Context, _, destDir string) (string, error) {
	atomic.AddInt32(&f.audioCalls, 1)
	if f.failAudio {
		return "", types.Transient("audio download failed", errors.New("boom"))
	}
	p := filepath.Join(destDir, "audio_only.m4a")
	if err := os.WriteFile(p, []byte("audio"), 0o644); err != nil {
		return "", err
	}
	return p, nil
}

type fakeTranscriber struct {
	name  string
	tr    types.Transcript
	err   error
	calls int32
}

func (f *fakeTranscriber) Name() string { return f.name }
func (f *fakeTranscriber) Transcribe(context.Context, string) (types.Transcript, error) {
	atomic.AddInt32(&f.calls, 1)
	return f.tr, f.err
}

type fakeProposer struct {
	name  string
	prop  types.Proposal
	err   error
	calls int32
}

func (f *fakeProposer) Name() string { return f.name }
func (f *fakeProposer) Propose(context.Context, ports.ProposeRequest) (types.Proposal, error) {
	atomic.AddInt32(&f.calls, 1)
	return f.prop, f.err
}

type fakeRenderer struct {
	fail bool
}

func (f *fakeRenderer) Render(_ context.Context, req ports.RenderRequest) (ports.RenderResult, error) {
	if f.fail {
		return ports.RenderResult{}, errors.New("encoder exploded")
	}
	return ports.RenderResult{
		Path:      req.OutputPath,
		Duration:  req.End - req.Start,
		SizeBytes: 500_000,
	}, nil
}

func (f *fakeRenderer) ProbeDuration(context.Context, string) (float64, error) { return 0, nil }

func testTranscript() types.Transcript {
	var segs []types.Segment
	for start := 0.0; start < 1500; start += 10 {
		segs = append(segs, types.Segment{
			Start: start,
			End:   start + 10,
			Text:  "solid spoken content about the market every ten seconds",
		})
	}
	return types.Transcript{Segments: segs}
}

func score(n int) *int { return &n }

func testProposal() types.Proposal {
	return types.Proposal{
		Classification: types.ClassEducational,
		Moments: []types.CandidateMoment{
			{Start: types.Seconds(10), End: types.Seconds(70), Title: "first", HookScore: score(9)},
			{Start: types.Seconds(400), End: types.Seconds(460), Title: "second", HookScore: score(9)},
			{Start: types.Seconds(800), End: types.Seconds(860), Title: "third", HookScore: score(9)},
		},
	}
}

type env struct {
	fetcher    *fakeFetcher
	transcribe *fakeTranscriber
	propose    *fakeProposer
	renderer   *fakeRenderer
	store      *cache.Store
	u          Usecase
}

func newEnv(t *testing.T) *env {
	t.Helper()
	store, err := cache.New(t.TempDir(), 24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	e := &env{
		fetcher:    &fakeFetcher{},
		transcribe: &fakeTranscriber{name: "fake-asr", tr: testTranscript()},
		propose:    &fakeProposer{name: "fake-llm", prop: testProposal()},
		renderer:   &fakeRenderer{},
		store:      store,
	}
	ctl := limits.NewController(map[string]int{limits.PoolRender: 2, limits.PoolReason: 2})
	coord := render.New(render.DefaultConfig(), render.Deps{
		Renderer: e.renderer,
		Limits:   ctl,
		Log:      zerolog.Nop(),
	})
	e.u = New(Deps{
		Fetcher:      e.fetcher,
		Transcribers: []ports.Transcriber{e.transcribe},
		Proposers:    []ports.Proposer{e.propose},
		Coord:        coord,
		Cache:        store,
		Limits:       ctl,
		Retry:        limits.RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond, Retryable: types.IsTransient},
		Selector:     moments.DefaultConfig(),
		Log:          zerolog.Nop(),
	})
	return e
}

func testInput(t *testing.T) Input {
	return Input{
		Locator:     testLocator,
		OutDir:      t.TempDir(),
		MaxClips:    5,
		MinDuration: 45,
		MaxDuration: 90,
	}
}

func TestRun_FullPipeline(t *testing.T) {
	e := newEnv(t)
	res := e.u.Run(context.Background(), testInput(t))

	if res.Reason != "" {
		t.Fatalf("unexpected failure: %s", res.Reason)
	}
	if len(res.Clips) != 3 {
		t.Fatalf("expected 3 clips, got %d", len(res.Clips))
	}
	for i := 1; i < len(res.Clips); i++ {
		if res.Clips[i-1].Start > res.Clips[i].Start {
			t.Fatal("clips not chronological")
		}
	}
	if atomic.LoadInt32(&e.fetcher.audioCalls) != 1 || atomic.LoadInt32(&e.fetcher.fetchCalls) != 1 {
		t.Fatalf("expected one audio and one full fetch, got %d/%d", e.fetcher.audioCalls, e.fetcher.fetchCalls)
	}

	// A second run hits both caches: no fetch, no ASR, no reasoning.
	res2 := e.u.Run(context.Background(), testInput(t))
	if res2.Reason != "" {
		t.Fatalf("cached run failed: %s", res2.Reason)
	}
	if atomic.LoadInt32(&e.fetcher.fetchCalls) != 1 {
		t.Fatal("cached run should not fetch media again")
	}
	if atomic.LoadInt32(&e.transcribe.calls) != 1 {
		t.Fatal("cached run should not transcribe again")
	}
	if atomic.LoadInt32(&e.propose.calls) != 1 {
		t.Fatal("cached run should not call the reasoning backend again")
	}
}

func TestRun_ReanalyzeReusesTranscript(t *testing.T) {
	e := newEnv(t)
	in := testInput(t)
	if res := e.u.Run(context.Background(), in); res.Reason != "" {
		t.Fatalf("seed run failed: %s", res.Reason)
	}

	in.Reanalyze = true
	e.transcribe.err = errors.New("must not be called")
	e.transcribe.tr = types.Transcript{}
	res := e.u.Run(context.Background(), in)

	if res.Reason != "" {
		t.Fatalf("reanalyze run failed: %s", res.Reason)
	}
	if atomic.LoadInt32(&e.transcribe.calls) != 1 {
		t.Fatal("reanalyze must reuse the cached transcript")
	}
	if atomic.LoadInt32(&e.propose.calls) != 2 {
		t.Fatalf("reanalyze must re-run the reasoning stage, got %d calls", e.propose.calls)
	}
}

func TestRun_NoSpeechIsPermanent(t *testing.T) {
	e := newEnv(t)
	e.transcribe.tr = types.Transcript{}
	res := e.u.Run(context.Background(), testInput(t))

	if res.Reason != "no speech detected in source" {
		t.Fatalf("unexpected reason: %q", res.Reason)
	}
	if len(res.Clips) != 0 {
		t.Fatal("no clips expected from a silent source")
	}
	if atomic.LoadInt32(&e.propose.calls) != 0 {
		t.Fatal("analysis must not run without a transcript")
	}
}

func TestRun_ProposerFailureFallsBack(t *testing.T) {
	e := newEnv(t)
	e.propose.err = types.Corrupt("unparseable model output", errors.New("garbage"))
	// Wire the even-split fallback the way production does.
	d := e.u.d
	d.Fallback = &evenSplit{}
	e.u = New(d)

	res := e.u.Run(context.Background(), testInput(t))
	if res.Reason != "" {
		t.Fatalf("expected fallback to save the job, got %q", res.Reason)
	}
	if len(res.Clips) == 0 {
		t.Fatal("expected clips from the even-split fallback")
	}
}

type evenSplit struct{}

func (*evenSplit) Name() string { return "even-split" }
func (*evenSplit) Propose(_ context.Context, req ports.ProposeRequest) (types.Proposal, error) {
	s := 7
	var ms []types.CandidateMoment
	for cur := 0.0; cur < req.SourceDuration && len(ms) < req.TargetClips; cur += req.MaxDuration + 200 {
		ms = append(ms, types.CandidateMoment{
			Start:     types.Seconds(cur),
			End:       types.Seconds(cur + req.MaxDuration),
			Title:     "Clip",
			HookScore: &s,
		})
	}
	return types.Proposal{Classification: types.ClassOther, Moments: ms}, nil
}

func TestRun_AllClipsFailingFailsTheJob(t *testing.T) {
	e := newEnv(t)
	e.renderer.fail = true
	res := e.u.Run(context.Background(), testInput(t))

	if res.Reason != "every clip failed to render" {
		t.Fatalf("unexpected reason: %q", res.Reason)
	}
}

func TestRun_AudioFetchFailureFallsBackToVideo(t *testing.T) {
	e := newEnv(t)
	e.fetcher.failAudio = true
	res := e.u.Run(context.Background(), testInput(t))

	if res.Reason != "" {
		t.Fatalf("unexpected failure: %s", res.Reason)
	}
	if len(res.Clips) == 0 {
		t.Fatal("expected clips when only the audio fast path fails")
	}
}

func TestRun_DownloadFailureIsTerminal(t *testing.T) {
	e := newEnv(t)
	e.fetcher.failAudio = true
	e.fetcher.failVideo = true
	res := e.u.Run(context.Background(), testInput(t))

	if res.Reason == "" {
		t.Fatal("expected a failure reason")
	}
	if len(res.Clips) != 0 {
		t.Fatal("no clips expected without media")
	}
}

func TestChunkText(t *testing.T) {
	small := strings.Repeat("a", 100)
	if got := chunkText(small, 1000, 100); len(got) != 1 || got[0] != small {
		t.Fatalf("small text must stay whole, got %d windows", len(got))
	}

	big := strings.Repeat("b", 2500)
	got := chunkText(big, 1000, 200)
	if len(got) != 3 {
		t.Fatalf("expected 3 windows, got %d", len(got))
	}
	if len(got[0]) != 1000 || len(got[1]) != 1000 {
		t.Fatalf("inner windows must be full-size, got %d/%d", len(got[0]), len(got[1]))
	}
	// Windows overlap by 200 chars, so the last starts at 1600.
	if len(got[2]) != 900 {
		t.Fatalf("unexpected tail window size %d", len(got[2]))
	}
}

func TestFilterLowDensity(t *testing.T) {
	tr := types.Transcript{Segments: []types.Segment{
		{Start: 0, End: 10, Text: "rich segment with plenty of spoken words in it here now"},
		{Start: 10, End: 40, Text: "um"},
		{Start: 40, End: 50, Text: "another segment with plenty of spoken words in it here"},
		{Start: 50, End: 60, Text: "and one more segment with plenty of spoken words here"},
	}}
	got := filterLowDensity(tr)
	if len(got.Segments) != 3 {
		t.Fatalf("expected sparse segment dropped, got %d segments", len(got.Segments))
	}

	// A transcript that is mostly sparse keeps everything.
	sparse := types.Transcript{Segments: []types.Segment{
		{Start: 0, End: 30, Text: "um"},
		{Start: 30, End: 60, Text: "uh"},
		{Start: 60, End: 70, Text: "plenty of words in this one segment right here friends"},
	}}
	if got := filterLowDensity(sparse); len(got.Segments) != 3 {
		t.Fatalf("filter must never drop more than half, got %d", len(got.Segments))
	}
}

func TestTimestampedText(t *testing.T) {
	tr := types.Transcript{Segments: []types.Segment{
		{Start: 65, End: 70, Text: "hello there"},
	}}
	got := timestampedText(tr)
	if got != "[01:05] hello there\n" {
		t.Fatalf("unexpected format: %q", got)
	}
}

// slowTranscriber records peak concurrency across calls.
type slowTranscriber struct {
	active, peak int32
}

func (s *slowTranscriber) Name() string { return "slow" }
func (s *slowTranscriber) Transcribe(context.Context, string) (types.Transcript, error) {
	n := atomic.AddInt32(&s.active, 1)
	for {
		p := atomic.LoadInt32(&s.peak)
		if n <= p || atomic.CompareAndSwapInt32(&s.peak, p, n) {
			break
		}
	}
	time.Sleep(10 * time.Millisecond)
	atomic.AddInt32(&s.active, -1)
	return testTranscript(), nil
}

func TestTranscribe_BoundedByReasonPool(t *testing.T) {
	t.Parallel()

	slow := &slowTranscriber{}
	u := New(Deps{
		Transcribers: []ports.Transcriber{slow},
		Limits:       limits.NewController(map[string]int{limits.PoolReason: 1}),
		Retry:        limits.RetryPolicy{MaxAttempts: 1, Retryable: types.IsTransient},
		Log:          zerolog.Nop(),
	})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := u.transcribe(context.Background(), "/media/source.mp4", zerolog.Nop()); err != nil {
				t.Errorf("transcribe: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&slow.peak); got != 1 {
		t.Fatalf("peak concurrent transcription calls = %d with reason pool size 1", got)
	}
}

func TestTranscribe_TerminalFailureStopsChain(t *testing.T) {
	t.Parallel()

	first := &fakeTranscriber{name: "a", err: types.Permanent("unreadable media")}
	second := &fakeTranscriber{name: "b", tr: testTranscript()}
	u := New(Deps{
		Transcribers: []ports.Transcriber{first, second},
		Limits:       limits.NewController(map[string]int{limits.PoolReason: 2}),
		Retry:        limits.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, Retryable: types.IsTransient},
		Log:          zerolog.Nop(),
	})

	_, err := u.transcribe(context.Background(), "/media/source.mp4", zerolog.Nop())
	if types.Reason(err) != "unreadable media" {
		t.Fatalf("expected the terminal failure surfaced, got %v", err)
	}
	if atomic.LoadInt32(&first.calls) != 1 {
		t.Fatalf("permanent failure must not retry, got %d calls", first.calls)
	}
	if atomic.LoadInt32(&second.calls) != 0 {
		t.Fatal("terminal failure must not reach the next backend")
	}
}
