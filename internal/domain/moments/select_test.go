package moments

import (
	"testing"

	"github.com/clipforge/clipforge/internal/types"
)

func intp(v int) *int { return &v }

func cand(start, end float64, title string, score int) types.CandidateMoment {
	return types.CandidateMoment{
		Start:     types.Seconds(start),
		End:       types.Seconds(end),
		Title:     title,
		HookScore: intp(score),
	}
}

func baseConfig() Config {
	cfg := DefaultConfig()
	cfg.MinDuration = 45
	cfg.MaxDuration = 90
	cfg.MinGaps = map[types.Classification]float64{types.ClassOther: 120}
	return cfg
}

func TestSelect_ChunkedSourceScenario(t *testing.T) {
	t.Parallel()

	// Two overlapping chunk windows over a 1830s source. Pairs of
	// near-duplicate candidates merge by score; the 1820s candidate is
	// clamped against the source end and dropped.
	batches := []Batch{
		{
			Classification: types.ClassOther,
			Moments: []types.CandidateMoment{
				cand(10, 70, "a1", 8),
				cand(400, 460, "b1", 9),
				cand(900, 960, "c1", 8),
			},
		},
		{
			Classification: types.ClassOther,
			Moments: []types.CandidateMoment{
				cand(35, 95, "a2", 9),
				cand(402, 462, "b2", 8),
				cand(905, 965, "c2", 9),
				cand(1820, 1880, "tail", 9),
			},
		},
	}

	res := Select(batches, 1830, baseConfig())

	if len(res.Clips) != 3 {
		t.Fatalf("expected 3 accepted clips, got %d: %+v", len(res.Clips), res.Clips)
	}
	wantStarts := []float64{35, 400, 905}
	wantTitles := []string{"a2", "b1", "c2"}
	for i, c := range res.Clips {
		if c.Start != wantStarts[i] {
			t.Fatalf("clip %d start = %.0f, want %.0f", i, c.Start, wantStarts[i])
		}
		if c.Title != wantTitles[i] {
			t.Fatalf("clip %d title = %q, want %q (higher score must win merge)", i, c.Title, wantTitles[i])
		}
		if c.Index != i {
			t.Fatalf("clip %d carries index %d", i, c.Index)
		}
	}
}

func TestSelect_DurationBounds(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	batches := []Batch{{
		Classification: types.ClassOther,
		Moments: []types.CandidateMoment{
			cand(0, 200, "too long", 9),     // clamped to max
			cand(300, 330, "extendable", 9), // 30s >= 0.4*45=18s -> extended to 45s
			cand(600, 610, "broken", 9),     // 10s < 18s -> dropped
			cand(900, 890, "inverted", 9),   // end <= start -> dropped
		},
	}}

	res := Select(batches, 3600, cfg)
	if len(res.Clips) != 2 {
		t.Fatalf("expected 2 clips, got %d: %+v", len(res.Clips), res.Clips)
	}
	for _, c := range res.Clips {
		d := c.Duration()
		if d < cfg.MinDuration || d > cfg.MaxDuration {
			t.Fatalf("clip %q duration %.1fs outside [%.0f, %.0f]", c.Title, d, cfg.MinDuration, cfg.MaxDuration)
		}
	}
	if res.Clips[0].Duration() != cfg.MaxDuration {
		t.Fatalf("expected long clip clamped to max, got %.1fs", res.Clips[0].Duration())
	}
	if res.Clips[1].Duration() != cfg.MinDuration {
		t.Fatalf("expected short clip extended to min, got %.1fs", res.Clips[1].Duration())
	}
}

func TestSelect_GapEnforcement(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	batches := []Batch{{
		Classification: types.ClassOther,
		Moments: []types.CandidateMoment{
			cand(0, 60, "first", 8),
			cand(50, 110, "clustered better", 9), // conflicts with "first", higher score
			cand(100, 160, "clustered worse", 7), // conflicts with winner, lower score
			cand(500, 560, "far", 8),
		},
	}}

	res := Select(batches, 3600, cfg)
	var titles []string
	for _, c := range res.Clips {
		titles = append(titles, c.Title)
	}
	want := []string{"clustered better", "far"}
	if len(titles) != len(want) {
		t.Fatalf("expected %v, got %v", want, titles)
	}
	for i := range want {
		if titles[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, titles)
		}
	}
	for i := 1; i < len(res.Clips); i++ {
		if res.Clips[i].Start-res.Clips[i-1].Start < 120 {
			t.Fatalf("adjacent clips closer than min gap: %+v", res.Clips)
		}
	}
}

func TestSelect_GapTieKeepsEarlier(t *testing.T) {
	t.Parallel()

	batches := []Batch{{
		Classification: types.ClassOther,
		Moments: []types.CandidateMoment{
			cand(0, 60, "early", 8),
			cand(30, 90, "late", 8),
		},
	}}
	res := Select(batches, 3600, baseConfig())
	if len(res.Clips) != 1 || res.Clips[0].Title != "early" {
		t.Fatalf("equal scores must keep the earlier candidate, got %+v", res.Clips)
	}
}

func TestSelect_MergeTieKeepsEarlier(t *testing.T) {
	t.Parallel()

	batches := []Batch{
		{Classification: types.ClassOther, Moments: []types.CandidateMoment{cand(100, 160, "early", 8)}},
		{Classification: types.ClassOther, Moments: []types.CandidateMoment{cand(110, 170, "late", 8)}},
	}
	res := Select(batches, 3600, baseConfig())
	if len(res.Clips) != 1 || res.Clips[0].Title != "early" {
		t.Fatalf("equal-score merge must keep the earlier candidate, got %+v", res.Clips)
	}
}

func TestSelect_SingleBatchSkipsMerge(t *testing.T) {
	t.Parallel()

	// Two close-by candidates in ONE batch are a gap conflict, not a
	// cross-batch duplicate; both survive to the gap step and the
	// higher score wins there.
	batches := []Batch{{
		Classification: types.ClassOther,
		Moments: []types.CandidateMoment{
			cand(100, 160, "a", 7),
			cand(120, 180, "b", 9),
		},
	}}
	res := Select(batches, 3600, baseConfig())
	if len(res.Clips) != 1 || res.Clips[0].Title != "b" {
		t.Fatalf("expected gap conflict resolution, got %+v", res.Clips)
	}
}

func TestSelect_ScoreThresholdByClassification(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	// rant threshold is 8; a 10-minute source gets no relaxation.
	batches := []Batch{{
		Classification: types.ClassRant,
		Moments: []types.CandidateMoment{
			cand(0, 60, "weak", 7),
			cand(300, 360, "strong", 8),
		},
	}}
	res := Select(batches, 900, cfg)
	if len(res.Clips) != 1 || res.Clips[0].Title != "strong" {
		t.Fatalf("expected rant threshold 8 to drop the weak clip, got %+v", res.Clips)
	}
	if res.Classification != types.ClassRant {
		t.Fatalf("classification = %s", res.Classification)
	}
}

func TestSelect_ThresholdRelaxedForLongSources(t *testing.T) {
	t.Parallel()

	batches := []Batch{{
		Classification: types.ClassRant,
		Moments:        []types.CandidateMoment{cand(0, 60, "borderline", 7)},
	}}
	// 25-minute source: rant threshold 8 relaxes to 7.
	res := Select(batches, 1500, baseConfig())
	if len(res.Clips) != 1 {
		t.Fatalf("expected relaxed threshold to keep the clip, got %+v", res.Clips)
	}
}

func TestSelect_MissingScoreDefaults(t *testing.T) {
	t.Parallel()

	m := types.CandidateMoment{Start: types.Seconds(0), End: types.Seconds(60), Title: "unscored"}
	res := Select([]Batch{{Classification: types.ClassOther, Moments: []types.CandidateMoment{m}}}, 900, baseConfig())
	if len(res.Clips) != 1 || res.Clips[0].Score != 7 {
		t.Fatalf("missing hook score must default to 7, got %+v", res.Clips)
	}
}

func TestSelect_NormalizeRejectsGarbage(t *testing.T) {
	t.Parallel()

	batches := []Batch{{
		Classification: types.ClassOther,
		Moments: []types.CandidateMoment{
			{Start: types.Timecode{}, End: types.Seconds(60), Title: "empty start", HookScore: intp(9)},
			cand(100, 160, "good", 9),
		},
	}}
	res := Select(batches, 900, baseConfig())
	if len(res.Clips) != 1 || res.Clips[0].Title != "good" {
		t.Fatalf("expected garbage timestamp dropped, got %+v", res.Clips)
	}
}

func TestSelect_TargetCapKeepsHighestScores(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	cfg.HardMax = 2
	batches := []Batch{{
		Classification: types.ClassOther,
		Moments: []types.CandidateMoment{
			cand(0, 60, "low", 7),
			cand(500, 560, "high", 10),
			cand(1000, 1060, "mid", 8),
		},
	}}
	res := Select(batches, 3600, cfg)
	if len(res.Clips) != 2 {
		t.Fatalf("expected hard max of 2, got %d", len(res.Clips))
	}
	// Highest scores kept, chronological order restored.
	if res.Clips[0].Title != "high" || res.Clips[1].Title != "mid" {
		t.Fatalf("unexpected cap result: %+v", res.Clips)
	}
	if res.Clips[0].Start > res.Clips[1].Start {
		t.Fatal("accepted clips must be chronologically ordered")
	}
}

func TestSelect_ShortSourceTarget(t *testing.T) {
	t.Parallel()

	var ms []types.CandidateMoment
	for i := 0; i < 4; i++ {
		ms = append(ms, cand(float64(i)*130, float64(i)*130+60, "m", 9))
	}
	// 8-minute source: one clip per five minutes -> target 1.
	res := Select([]Batch{{Classification: types.ClassOther, Moments: ms}}, 8*60, baseConfig())
	if len(res.Clips) != 1 {
		t.Fatalf("expected short-source target of 1, got %d", len(res.Clips))
	}
}

func TestSelect_Idempotent(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	batches := []Batch{{
		Classification: types.ClassOther,
		Moments: []types.CandidateMoment{
			cand(10, 70, "one", 9),
			cand(400, 460, "two", 8),
			cand(900, 960, "three", 9),
		},
	}}
	first := Select(batches, 1830, cfg)
	if len(first.Clips) != 3 {
		t.Fatalf("setup: expected 3 clips, got %d", len(first.Clips))
	}

	again := make([]types.CandidateMoment, 0, len(first.Clips))
	for _, c := range first.Clips {
		sc := c.Score
		again = append(again, types.CandidateMoment{
			Start:     types.Seconds(c.Start),
			End:       types.Seconds(c.End),
			Title:     c.Title,
			HookScore: &sc,
		})
	}
	second := Select([]Batch{{Classification: first.Classification, Moments: again}}, 1830, cfg)

	if len(second.Clips) != len(first.Clips) {
		t.Fatalf("revalidation changed clip count: %d -> %d", len(first.Clips), len(second.Clips))
	}
	for i := range first.Clips {
		a, b := first.Clips[i], second.Clips[i]
		if a.Start != b.Start || a.End != b.End || a.Title != b.Title || a.Score != b.Score {
			t.Fatalf("revalidation changed clip %d: %+v -> %+v", i, a, b)
		}
	}
}

func TestSelect_EmptyInput(t *testing.T) {
	t.Parallel()

	res := Select(nil, 1830, baseConfig())
	if len(res.Clips) != 0 {
		t.Fatalf("expected no clips, got %+v", res.Clips)
	}
	if res.Classification != types.ClassOther {
		t.Fatalf("expected default classification, got %s", res.Classification)
	}
}
