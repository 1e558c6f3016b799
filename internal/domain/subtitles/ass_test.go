package subtitles

import (
	"strings"
	"testing"
	"time"

	"github.com/clipforge/clipforge/internal/types"
)

func wordyTranscript() types.Transcript {
	return types.Transcript{Segments: []types.Segment{
		{Start: 0, End: 4, Text: "the market broke out at 4200", Words: []types.Word{
			{Start: 0.0, End: 0.4, Word: "the"},
			{Start: 0.4, End: 1.1, Word: "market"},
			{Start: 1.1, End: 1.8, Word: "broke"},
			{Start: 1.8, End: 2.2, Word: "out"},
			{Start: 2.2, End: 2.5, Word: "at"},
			{Start: 2.5, End: 3.4, Word: "4200"},
		}},
	}}
}

func TestRenderASS_ChunksAndHighlights(t *testing.T) {
	st := DefaultStyle()
	st.TitleIntro = 0
	ass := RenderASS(wordyTranscript(), 0, 4*time.Second, "", st)

	// 6 words at chunk size 3 is exactly two Dialogue events.
	if got := strings.Count(ass, "Dialogue:"); got != 2 {
		t.Fatalf("expected 2 caption events, got %d:\n%s", got, ass)
	}
	if !strings.Contains(ass, "MARKET") {
		t.Fatalf("captions must be uppercased:\n%s", ass)
	}
	// "#ffff00" in BGR order.
	if !strings.Contains(ass, "{\\c&H00ffff&}") {
		t.Fatalf("expected a highlighted keyword per chunk:\n%s", ass)
	}
	if !strings.Contains(ass, "PlayResX: 1080") || !strings.Contains(ass, "PlayResY: 1920") {
		t.Fatalf("expected vertical play resolution:\n%s", ass)
	}
}

func TestRenderASS_TitleIntroDelaysCaptions(t *testing.T) {
	st := DefaultStyle()
	st.TitleIntro = 2 * time.Second
	ass := RenderASS(wordyTranscript(), 0, 4*time.Second, "big move", st)

	if !strings.Contains(ass, ",Title,") {
		t.Fatalf("expected a title event:\n%s", ass)
	}
	if !strings.Contains(ass, "BIG MOVE") {
		t.Fatalf("title must be uppercased:\n%s", ass)
	}
	// First chunk ends at 1.8s, inside the intro, so it is dropped;
	// the second starts at 1.8s and is delayed to the intro boundary.
	if strings.Contains(ass, "THE MARKET BROKE") {
		t.Fatalf("chunk ending inside the title intro must be dropped:\n%s", ass)
	}
	if !strings.Contains(ass, "Dialogue: 0,0:00:02.00,0:00:03.40,") {
		t.Fatalf("expected surviving chunk delayed past the intro:\n%s", ass)
	}
}

func TestRenderASS_PlainFallbackWithoutWords(t *testing.T) {
	tr := types.Transcript{Segments: []types.Segment{
		{Start: 0, End: 3, Text: "no word timestamps here"},
	}}
	st := DefaultStyle()
	st.TitleIntro = 0
	ass := RenderASS(tr, 0, 3*time.Second, "", st)

	if got := strings.Count(ass, "Dialogue:"); got != 1 {
		t.Fatalf("expected a single plain event, got %d:\n%s", got, ass)
	}
	if !strings.Contains(ass, "no word timestamps here") {
		t.Fatalf("fallback must carry the segment text:\n%s", ass)
	}
}

func TestWrapTitle_SplitsNearMidpoint(t *testing.T) {
	got := wrapTitle("the biggest move of the year")
	if !strings.Contains(got, "\\N") {
		t.Fatalf("long title should wrap, got %q", got)
	}
	if got != "THE BIGGEST\\NMOVE OF THE YEAR" {
		t.Fatalf("unexpected split: %q", got)
	}
}

func TestAssTime_Format(t *testing.T) {
	got := assTime(61*time.Second + 234*time.Millisecond)
	if got != "0:01:01.23" {
		t.Fatalf("unexpected assTime: %s", got)
	}
}

func TestHexToASSColor(t *testing.T) {
	if got := hexToASSColor("#ff8800"); got != "&H0088ff&" {
		t.Fatalf("unexpected color conversion: %s", got)
	}
	if got := hexToASSColor("nonsense"); got != "&HFFFFFF&" {
		t.Fatalf("bad input must fall back to white, got %s", got)
	}
}
