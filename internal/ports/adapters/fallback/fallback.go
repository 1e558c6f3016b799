// Package fallback is the proposer of last resort: it splits the
// source into even windows so the pipeline still produces clips when
// every reasoning backend has failed.
package fallback

import (
	"context"
	"fmt"

	"github.com/clipforge/clipforge/internal/ports"
	"github.com/clipforge/clipforge/internal/types"
)

type Adapter struct{}

func New() *Adapter { return &Adapter{} }

func (*Adapter) Name() string { return "even-split" }

func (*Adapter) Propose(_ context.Context, req ports.ProposeRequest) (types.Proposal, error) {
	total := req.SourceDuration
	if total <= 0 {
		total = req.Transcript.Duration()
	}
	if total <= 0 || req.TargetClips <= 0 {
		return types.Proposal{Classification: types.ClassOther}, nil
	}

	clipDur := total / float64(req.TargetClips)
	if clipDur > req.MaxDuration {
		clipDur = req.MaxDuration
	}
	if clipDur < req.MinDuration {
		clipDur = req.MinDuration
	}

	var moments []types.CandidateMoment
	score := 7
	for cur := 0.0; cur < total && len(moments) < req.TargetClips; {
		end := cur + clipDur
		if end > total {
			end = total
		}
		moments = append(moments, types.CandidateMoment{
			Start:     types.Seconds(cur),
			End:       types.Seconds(end),
			Title:     fmt.Sprintf("Clip %d", len(moments)+1),
			Reason:    "auto-split",
			HookScore: &score,
		})
		cur = end + 2
	}
	return types.Proposal{Classification: types.ClassOther, Moments: moments}, nil
}
