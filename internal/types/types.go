package types

// Transcript is the word-level transcription of a source video.
type Transcript struct {
	Segments []Segment `json:"segments"`
}

type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
	Words []Word  `json:"words,omitempty"`
}

type Word struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Word  string  `json:"word"`
}

// Duration reports the end of the last segment, which is the closest
// thing to a total source duration the transcript carries.
func (t Transcript) Duration() float64 {
	if len(t.Segments) == 0 {
		return 0
	}
	return t.Segments[len(t.Segments)-1].End
}

func (t Transcript) WordCount() int {
	n := 0
	for _, s := range t.Segments {
		n += len(s.Words)
	}
	return n
}

// Classification is the coarse content category reported by the
// reasoning backend. It tunes score thresholds and clip spacing.
type Classification string

const (
	ClassInterview   Classification = "interview"
	ClassEducational Classification = "educational"
	ClassRant        Classification = "rant"
	ClassPodcast     Classification = "podcast"
	ClassOther       Classification = "other"
)

// ParseClassification maps arbitrary backend output onto the known set.
func ParseClassification(s string) Classification {
	switch Classification(s) {
	case ClassInterview, ClassEducational, ClassRant, ClassPodcast:
		return Classification(s)
	default:
		return ClassOther
	}
}

// CandidateMoment is one time range proposed by the reasoning backend.
// Timestamps arrive unvalidated and possibly as "mm:ss" strings; the
// selector normalizes them before anything else touches them.
type CandidateMoment struct {
	Start      Timecode `json:"start"`
	End        Timecode `json:"end"`
	Title      string   `json:"title"`
	Reason     string   `json:"reason"`
	HookScore  *int     `json:"hook_score,omitempty"`
	HookReason string   `json:"hook_reason,omitempty"`
	// PeakOffset is an optional highlight position, in seconds from the
	// moment start, prepended ahead of the clip body as a teaser.
	PeakOffset *float64 `json:"peak_offset,omitempty"`
}

// Proposal is the full output of one reasoning call.
type Proposal struct {
	Classification Classification    `json:"content_type"`
	Moments        []CandidateMoment `json:"clips"`
}

// ClipStatus tracks an accepted clip through rendering and upload.
type ClipStatus string

const (
	ClipPending  ClipStatus = "pending"
	ClipRendered ClipStatus = "rendered"
	ClipUploaded ClipStatus = "uploaded"
	ClipFailed   ClipStatus = "failed"
)

// AcceptedClip is a CandidateMoment that survived validation. The
// selector creates it; the render coordinator completes it.
type AcceptedClip struct {
	Index      int      `json:"index"`
	Start      float64  `json:"start"`
	End        float64  `json:"end"`
	Title      string   `json:"title"`
	Reason     string   `json:"reason"`
	Score      int      `json:"score"`
	PeakOffset *float64 `json:"peak_offset,omitempty"`

	Status           ClipStatus `json:"status"`
	OutputPath       string     `json:"output_path,omitempty"`
	URL              string     `json:"url,omitempty"`
	RenderedDuration float64    `json:"rendered_duration,omitempty"`
	SizeBytes        int64      `json:"size_bytes,omitempty"`
}

func (c AcceptedClip) Duration() float64 { return c.End - c.Start }
