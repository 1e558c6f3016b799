// Package moments turns raw reasoning-backend output into a validated,
// non-overlapping, duration- and spacing-constrained clip list. It is
// pure: no I/O, no clocks, deterministic for identical input.
package moments

import (
	"fmt"
	"sort"

	"github.com/clipforge/clipforge/internal/types"
)

// Batch is the output of one reasoning call. Multiple batches occur
// when the transcript was chunked into overlapping windows.
type Batch struct {
	Moments        []types.CandidateMoment
	Classification types.Classification
}

// Config holds every tunable the selection pipeline uses. The numbers
// are defaults observed to work, not law; callers may override any.
type Config struct {
	MinDuration float64
	MaxDuration float64

	// DefaultTarget is the clip count for mid-length sources; the
	// effective target is derived from source duration (see targetFor).
	DefaultTarget int
	// HardMax caps the target regardless of duration. Zero disables it.
	HardMax int

	// MergeWindow merges cross-batch candidates whose starts are closer
	// than this many seconds.
	MergeWindow float64
	// ExtendFraction: a candidate at least this fraction of MinDuration
	// is extended to MinDuration; anything shorter is a broken timestamp.
	ExtendFraction float64
	// EndBuffer keeps clip ends this many seconds from the source end.
	EndBuffer float64

	// DefaultScore substitutes for a missing hook score.
	DefaultScore int
	// ScoreFloor is the lowest the relaxed threshold may drop to.
	ScoreFloor int
	// RelaxAfter relaxes the score threshold for sources longer than
	// this many seconds.
	RelaxAfter float64

	Thresholds map[types.Classification]int
	MinGaps    map[types.Classification]float64
}

func DefaultConfig() Config {
	return Config{
		MinDuration:    45,
		MaxDuration:    90,
		DefaultTarget:  5,
		MergeWindow:    30,
		ExtendFraction: 0.4,
		EndBuffer:      2,
		DefaultScore:   7,
		ScoreFloor:     5,
		RelaxAfter:     20 * 60,
		Thresholds: map[types.Classification]int{
			types.ClassRant:        8,
			types.ClassInterview:   7,
			types.ClassPodcast:     7,
			types.ClassEducational: 7,
			types.ClassOther:       7,
		},
		MinGaps: map[types.Classification]float64{
			types.ClassRant:        120,
			types.ClassInterview:   240,
			types.ClassPodcast:     240,
			types.ClassEducational: 180,
			types.ClassOther:       180,
		},
	}
}

// Result carries the accepted clips plus human-readable notes about
// what was dropped and why, for the caller to log.
type Result struct {
	Clips          []types.AcceptedClip
	Classification types.Classification
	Notes          []string
}

// candidate is a normalized moment flowing through the pipeline. seq is
// the encounter order used to break score ties deterministically.
type candidate struct {
	start, end float64
	title      string
	reason     string
	score      int
	peak       *float64
	seq        int
}

// Select runs the canonical pipeline: normalize, cross-batch merge,
// duration clamp, bounds check, score threshold, minimum-gap scan,
// target-count cap. The order is fixed.
func Select(batches []Batch, totalDuration float64, cfg Config) Result {
	res := Result{Classification: majorityClassification(batches)}

	cands := normalize(batches, cfg, &res)
	if len(batches) > 1 {
		cands = mergeClose(cands, cfg, &res)
	}
	cands = clampDurations(cands, cfg, &res)
	cands = boundsCheck(cands, totalDuration, cfg, &res)
	cands = scoreFilter(cands, totalDuration, res.Classification, cfg, &res)
	cands = enforceGap(cands, totalDuration, res.Classification, cfg, &res)
	cands = capTarget(cands, totalDuration, cfg, &res)

	res.Clips = make([]types.AcceptedClip, 0, len(cands))
	for i, c := range cands {
		res.Clips = append(res.Clips, types.AcceptedClip{
			Index:      i,
			Start:      c.start,
			End:        c.end,
			Title:      c.title,
			Reason:     c.reason,
			Score:      c.score,
			PeakOffset: c.peak,
			Status:     types.ClipPending,
		})
	}
	return res
}

func majorityClassification(batches []Batch) types.Classification {
	counts := map[types.Classification]int{}
	for _, b := range batches {
		counts[types.ParseClassification(string(b.Classification))]++
	}
	best := types.ClassOther
	bestN := 0
	// Deterministic iteration: check the known set in a fixed order.
	for _, c := range []types.Classification{
		types.ClassInterview, types.ClassEducational, types.ClassRant,
		types.ClassPodcast, types.ClassOther,
	} {
		if counts[c] > bestN {
			best, bestN = c, counts[c]
		}
	}
	return best
}

// normalize parses timestamps, rejecting candidates whose start or end
// cannot be read as seconds or mm:ss[.ff].
func normalize(batches []Batch, cfg Config, res *Result) []candidate {
	var out []candidate
	seq := 0
	for _, b := range batches {
		for _, m := range b.Moments {
			start, err := m.Start.Seconds()
			if err != nil {
				res.note("dropping %q: unreadable start %q", m.Title, m.Start.Raw())
				continue
			}
			end, err := m.End.Seconds()
			if err != nil {
				res.note("dropping %q: unreadable end %q", m.Title, m.End.Raw())
				continue
			}
			score := cfg.DefaultScore
			if m.HookScore != nil {
				score = *m.HookScore
			}
			out = append(out, candidate{
				start:  start,
				end:    end,
				title:  m.Title,
				reason: m.Reason,
				score:  score,
				peak:   m.PeakOffset,
				seq:    seq,
			})
			seq++
		}
	}
	return out
}

// mergeClose collapses candidates from overlapping chunk windows whose
// starts sit within MergeWindow of the previous kept candidate. The
// higher score wins; on a tie the earlier candidate stays.
func mergeClose(cands []candidate, cfg Config, res *Result) []candidate {
	if len(cands) < 2 {
		return cands
	}
	sortByStart(cands)
	out := cands[:1]
	for _, c := range cands[1:] {
		last := &out[len(out)-1]
		if c.start-last.start < cfg.MergeWindow {
			if c.score > last.score {
				res.note("merged %q into %q (higher score)", last.title, c.title)
				*last = c
			} else {
				res.note("merged %q into %q", c.title, last.title)
			}
			continue
		}
		out = append(out, c)
	}
	return out
}

func clampDurations(cands []candidate, cfg Config, res *Result) []candidate {
	out := cands[:0]
	dropBelow := cfg.ExtendFraction * cfg.MinDuration
	for _, c := range cands {
		d := c.end - c.start
		switch {
		case d <= 0:
			res.note("dropping %q: invalid duration %.0fs", c.title, d)
		case d > cfg.MaxDuration:
			res.note("clamped %q %.0fs -> %.0fs", c.title, d, cfg.MaxDuration)
			c.end = c.start + cfg.MaxDuration
			out = append(out, c)
		case d < cfg.MinDuration:
			if d < dropBelow {
				res.note("dropping %q: %.0fs is below the %.0fs drop threshold", c.title, d, dropBelow)
				continue
			}
			res.note("extended %q %.0fs -> %.0fs", c.title, d, cfg.MinDuration)
			c.end = c.start + cfg.MinDuration
			out = append(out, c)
		default:
			out = append(out, c)
		}
	}
	return out
}

// boundsCheck drops candidates starting past the usable source end and
// clamps ends into it, re-validating the minimum duration. The
// reasoning backend occasionally hallucinates timestamps past the end
// of the source; seeking there produces empty output downstream.
func boundsCheck(cands []candidate, totalDuration float64, cfg Config, res *Result) []candidate {
	if totalDuration <= 0 {
		return cands
	}
	maxTS := totalDuration - cfg.EndBuffer
	out := cands[:0]
	for _, c := range cands {
		if c.start >= maxTS {
			res.note("dropping %q: start %.0fs is past source end (%.0fs)", c.title, c.start, maxTS)
			continue
		}
		if c.end > maxTS {
			c.end = maxTS
		}
		if c.end-c.start < cfg.MinDuration {
			res.note("dropping %q: only %.0fs left after bounds clamp", c.title, c.end-c.start)
			continue
		}
		out = append(out, c)
	}
	return out
}

func scoreFilter(cands []candidate, totalDuration float64, class types.Classification, cfg Config, res *Result) []candidate {
	thr := cfg.Thresholds[class]
	if thr == 0 {
		thr = cfg.Thresholds[types.ClassOther]
	}
	// Long sources get a relaxed threshold: filtering aggressively on a
	// two-hour source starves the target count.
	if totalDuration > cfg.RelaxAfter && thr-1 >= cfg.ScoreFloor {
		thr--
	}
	out := cands[:0]
	for _, c := range cands {
		if c.score < thr {
			res.note("dropping %q: score %d below threshold %d", c.title, c.score, thr)
			continue
		}
		out = append(out, c)
	}
	return out
}

// enforceGap greedily keeps candidates whose starts are at least the
// classification gap after the previously kept start. On a conflict the
// higher score survives; a discarded candidate is never reconsidered.
func enforceGap(cands []candidate, totalDuration float64, class types.Classification, cfg Config, res *Result) []candidate {
	if len(cands) < 2 {
		return cands
	}
	gap := gapFor(totalDuration, class, cfg)
	if gap <= 0 {
		return cands
	}
	sortByStart(cands)
	out := cands[:1]
	for _, c := range cands[1:] {
		last := &out[len(out)-1]
		if c.start-last.start >= gap {
			out = append(out, c)
			continue
		}
		if c.score > last.score {
			res.note("gap conflict: %q replaces %q", c.title, last.title)
			*last = c
		} else {
			res.note("gap conflict: dropping %q (within %.0fs of %q)", c.title, gap, last.title)
		}
	}
	return out
}

// gapFor scales the classification gap down for shorter sources: a
// 240s spacing makes no sense in a twelve-minute video.
func gapFor(totalDuration float64, class types.Classification, cfg Config) float64 {
	gap := cfg.MinGaps[class]
	if gap == 0 {
		gap = cfg.MinGaps[types.ClassOther]
	}
	mins := totalDuration / 60
	switch {
	case totalDuration <= 0:
		return gap
	case mins < 15:
		return min(gap, 90)
	case mins < 30:
		return min(gap, 100)
	default:
		return min(gap, 120)
	}
}

// capTarget keeps the highest-scoring clips up to the dynamic target,
// then restores chronological order.
func capTarget(cands []candidate, totalDuration float64, cfg Config, res *Result) []candidate {
	target := targetFor(totalDuration, cfg)
	if len(cands) <= target {
		sortByStart(cands)
		return cands
	}
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].score != cands[j].score {
			return cands[i].score > cands[j].score
		}
		return cands[i].seq < cands[j].seq
	})
	res.note("capping %d candidates to target %d", len(cands), target)
	cands = cands[:target]
	sortByStart(cands)
	return cands
}

// targetFor derives the clip target from the source duration: short
// sources yield about one clip per five minutes, long ones allow more.
func targetFor(totalDuration float64, cfg Config) int {
	mins := totalDuration / 60
	target := cfg.DefaultTarget
	switch {
	case totalDuration <= 0:
		// Unknown duration: fall through to the configured target.
	case mins < 10:
		target = int(mins / 5)
		if target < 1 {
			target = 1
		}
	case mins > 30:
		if target < 8 {
			target = 8
		}
	}
	if cfg.HardMax > 0 && target > cfg.HardMax {
		target = cfg.HardMax
	}
	if target < 1 {
		target = 1
	}
	return target
}

func sortByStart(cands []candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].start != cands[j].start {
			return cands[i].start < cands[j].start
		}
		return cands[i].seq < cands[j].seq
	})
}

func (r *Result) note(format string, args ...any) {
	r.Notes = append(r.Notes, fmt.Sprintf(format, args...))
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
