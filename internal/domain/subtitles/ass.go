package subtitles

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/clipforge/clipforge/internal/types"
)

// Style holds the caption layout knobs for vertical 1080x1920 output.
type Style struct {
	Font           string
	FontSize       int
	MarginV        int
	ChunkSize      int
	Highlight      bool
	HighlightColor string

	TitleFont     string
	TitleFontSize int
	TitleMarginV  int
	// TitleIntro is how long the clip title occupies the caption zone
	// before the first caption chunk appears. Zero pins the title at
	// the top for the whole clip instead.
	TitleIntro time.Duration
}

func DefaultStyle() Style {
	return Style{
		Font:           "Montserrat ExtraBold",
		FontSize:       78,
		MarginV:        350,
		ChunkSize:      3,
		Highlight:      true,
		HighlightColor: "#ffff00",
		TitleFont:      "Montserrat ExtraBold",
		TitleFontSize:  78,
		TitleMarginV:   200,
		TitleIntro:     3500 * time.Millisecond,
	}
}

// RenderASS builds a vertical-video ASS document for the clip window
// [start, end). Words are grouped into fixed-size uppercase chunks with
// one highlighted keyword per chunk. When the transcript has no usable
// word timestamps the segment text is shown as a single plain event.
func RenderASS(tr types.Transcript, start, end time.Duration, title string, st Style) string {
	if st.ChunkSize <= 0 {
		st.ChunkSize = DefaultStyle().ChunkSize
	}

	var b strings.Builder
	b.WriteString(header(st))
	b.WriteString("\n[Events]\n")
	b.WriteString("Format: Layer, Start, End, Style, Name, MarginL, MarginR, MarginV, Effect, Text\n")

	captionsAfter := time.Duration(0)
	if title != "" {
		if st.TitleIntro > 0 {
			// Title owns the caption zone first, fading out as chunks
			// take over.
			fmt.Fprintf(&b, "Dialogue: 0,%s,%s,Title,,0,0,0,,{\\fad(0,350)}%s\n",
				assTime(0), assTime(st.TitleIntro), wrapTitle(title))
			captionsAfter = st.TitleIntro
		} else {
			fmt.Fprintf(&b, "Dialogue: 0,%s,%s,TitleTop,,0,0,0,,%s\n",
				assTime(0), assTime(end-start+time.Second), wrapTitle(title))
		}
	}

	words := collectWords(tr, start, end)
	if len(words) == 0 {
		if text := collectSegmentText(tr, start, end); text != "" {
			fmt.Fprintf(&b, "Dialogue: 0,%s,%s,Default,,0,0,0,,%s\n",
				assTime(captionsAfter), assTime(end-start), sanitize(text))
		}
		return b.String()
	}

	for i := 0; i < len(words); i += st.ChunkSize {
		chunk := words[i:min(i+st.ChunkSize, len(words))]
		cs, ce := chunk[0].Start, chunk[len(chunk)-1].End
		// Chunks that finish during the title intro are dropped, ones
		// that merely start inside it are delayed.
		if ce <= captionsAfter {
			continue
		}
		if cs < captionsAfter {
			cs = captionsAfter
		}
		fmt.Fprintf(&b, "Dialogue: 0,%s,%s,Default,,0,0,0,,%s\n",
			assTime(cs), assTime(ce), chunkText(chunk, st))
	}
	return b.String()
}

type wword struct {
	Start time.Duration
	End   time.Duration
	Text  string
}

func collectWords(tr types.Transcript, start, end time.Duration) []wword {
	var out []wword
	for _, s := range tr.Segments {
		for _, w := range s.Words {
			ws := dur(w.Start)
			we := dur(w.End)
			if we <= start || ws >= end {
				continue
			}
			text := strings.TrimSpace(w.Word)
			if text == "" {
				continue
			}
			if ws < start {
				ws = start
			}
			if we > end {
				we = end
			}
			// Event times are clip-local: each clip gets its own
			// subtitle file cut from the full transcript.
			out = append(out, wword{Start: ws - start, End: we - start, Text: sanitize(text)})
		}
	}
	return out
}

func collectSegmentText(tr types.Transcript, start, end time.Duration) string {
	var parts []string
	for _, s := range tr.Segments {
		if dur(s.End) <= start || dur(s.Start) >= end {
			continue
		}
		if t := strings.TrimSpace(s.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

func chunkText(chunk []wword, st Style) string {
	upper := make([]string, len(chunk))
	for i, w := range chunk {
		upper[i] = strings.ToUpper(w.Text)
	}
	if !st.Highlight {
		return strings.Join(upper, " ")
	}
	kw := keywordIndex(upper)
	parts := make([]string, len(upper))
	for i, w := range upper {
		if i == kw {
			parts[i] = "{\\c" + hexToASSColor(st.HighlightColor) + "}" + w + "{\\c&HFFFFFF&}"
		} else {
			parts[i] = w
		}
	}
	return strings.Join(parts, " ")
}

// keywordIndex picks the word to highlight in a chunk. Longer words and
// words carrying digits win; plain filler loses.
func keywordIndex(words []string) int {
	best, bestScore := 0, 0
	for i, w := range words {
		score := len([]rune(w))
		for _, r := range w {
			if unicode.IsDigit(r) {
				score += 15
				break
			}
		}
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	return best
}

// wrapTitle uppercases the title and splits it near the midpoint when
// it will not fit on one line.
func wrapTitle(text string) string {
	text = sanitize(strings.ToUpper(strings.TrimSpace(text)))
	const maxChars = 16
	if len([]rune(text)) <= maxChars {
		return text
	}
	words := strings.Fields(text)
	if len(words) < 2 {
		return text
	}
	bestSplit, bestDiff := 1, len(text)
	for i := 1; i < len(words); i++ {
		l1 := len(strings.Join(words[:i], " "))
		l2 := len(strings.Join(words[i:], " "))
		diff := l1 - l2
		if diff < 0 {
			diff = -diff
		}
		if diff < bestDiff {
			bestSplit, bestDiff = i, diff
		}
	}
	return strings.Join(words[:bestSplit], " ") + "\\N" + strings.Join(words[bestSplit:], " ")
}

func header(st Style) string {
	return fmt.Sprintf(strings.TrimSpace(`
[Script Info]
ScriptType: v4.00+
WrapStyle: 0
ScaledBorderAndShadow: yes
YCbCr Matrix: TV.709
PlayResX: 1080
PlayResY: 1920

[V4+ Styles]
Format: Name, Fontname, Fontsize, PrimaryColour, SecondaryColour, OutlineColour, BackColour, Bold, Italic, Underline, StrikeOut, ScaleX, ScaleY, Spacing, Angle, BorderStyle, Outline, Shadow, Alignment, MarginL, MarginR, MarginV, Encoding
Style: Default,%s,%d,&H00FFFFFF,&H000000FF,&H00000000,&H80000000,-1,0,0,0,100,100,0,0,1,5,2,2,40,40,%d,1
Style: Title,%s,%d,&H00FFFFFF,&H000000FF,&H00000000,&H80000000,-1,0,0,0,100,100,0,0,1,5,2,2,40,40,%d,1
Style: TitleTop,%s,%d,&H00FFFFFF,&H000000FF,&H00000000,&H80000000,-1,0,0,0,100,100,0,0,1,5,2,8,60,60,%d,1
`),
		st.Font, st.FontSize, st.MarginV,
		st.TitleFont, st.TitleFontSize, st.MarginV,
		st.TitleFont, st.TitleFontSize, st.TitleMarginV,
	)
}

// hexToASSColor converts "#rrggbb" to the &Hbbggrr& form ASS expects.
func hexToASSColor(hex string) string {
	h := strings.TrimPrefix(hex, "#")
	if len(h) != 6 {
		return "&HFFFFFF&"
	}
	return "&H" + h[4:6] + h[2:4] + h[0:2] + "&"
}

func assTime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	hs := int(d / time.Hour)
	d -= time.Duration(hs) * time.Hour
	ms := int(d / time.Minute)
	d -= time.Duration(ms) * time.Minute
	s := int(d / time.Second)
	d -= time.Duration(s) * time.Second
	cs := int(d / (10 * time.Millisecond))
	return fmt.Sprintf("%d:%02d:%02d.%02d", hs, ms, s, cs)
}

func sanitize(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "{", "(")
	s = strings.ReplaceAll(s, "}", ")")
	return strings.TrimSpace(s)
}

func dur(sec float64) time.Duration { return time.Duration(sec * float64(time.Second)) }
