// Package groq transcribes audio through the Groq Whisper API. It is
// the fast path; inputs above the API size limit hand off to the local
// backend via ports.ErrInputTooLarge.
package groq

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/clipforge/clipforge/internal/ports"
	"github.com/clipforge/clipforge/internal/types"
)

const (
	defaultBaseURL = "https://api.groq.com/openai/v1"
	asrModel       = "whisper-large-v3-turbo"
	// The API rejects uploads near 25MB; staying under 24MB leaves
	// room for the multipart envelope.
	maxUploadBytes = 24 << 20
)

// AudioExtractor shrinks media to an upload-friendly audio file. The
// ffmpeg adapter satisfies it.
type AudioExtractor interface {
	ExtractAudio(ctx context.Context, in, out string) error
}

type Adapter struct {
	key     string
	baseURL string
	audio   AudioExtractor
	client  *http.Client
}

func New(apiKey, baseURL string, audio AudioExtractor) *Adapter {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Adapter{
		key:     apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		audio:   audio,
		client:  &http.Client{Timeout: 5 * time.Minute},
	}
}

func (a *Adapter) Name() string { return "groq" }

func (a *Adapter) Transcribe(ctx context.Context, mediaPath string) (types.Transcript, error) {
	workDir, err := os.MkdirTemp("", "groq-")
	if err != nil {
		return types.Transcript{}, err
	}
	defer os.RemoveAll(workDir)

	// Audio-only upload: 64k mono AAC keeps an hour of speech well
	// under the size limit.
	audio := filepath.Join(workDir, "audio.m4a")
	if err := a.audio.ExtractAudio(ctx, mediaPath, audio); err != nil {
		return types.Transcript{}, types.Transient("audio extraction failed", err)
	}

	fi, err := os.Stat(audio)
	if err != nil {
		return types.Transcript{}, err
	}
	if fi.Size() > maxUploadBytes {
		return types.Transcript{}, fmt.Errorf("%w: %d bytes", ports.ErrInputTooLarge, fi.Size())
	}

	body, contentType, err := buildMultipart(audio)
	if err != nil {
		return types.Transcript{}, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", a.baseURL+"/audio/transcriptions", bytes.NewReader(body))
	if err != nil {
		return types.Transcript{}, err
	}
	req.Header.Set("Authorization", "Bearer "+a.key)
	req.Header.Set("Content-Type", contentType)

	resp, err := a.client.Do(req)
	if err != nil {
		return types.Transcript{}, types.Transient("groq request failed", err)
	}
	defer resp.Body.Close()

	rb, err := io.ReadAll(resp.Body)
	if err != nil {
		return types.Transcript{}, types.Transient("groq read body", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return types.Transcript{}, types.Transient(
			fmt.Sprintf("groq status %d", resp.StatusCode),
			fmt.Errorf("%s", truncate(string(rb), 300)))
	}
	if resp.StatusCode != http.StatusOK {
		return types.Transcript{}, fmt.Errorf("groq status %d: %s", resp.StatusCode, truncate(string(rb), 300))
	}

	return parseVerboseJSON(rb), nil
}

func buildMultipart(audioPath string) ([]byte, string, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return nil, "", err
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", err
	}
	for k, v := range map[string]string{
		"model":           asrModel,
		"response_format": "verbose_json",
		"language":        "en",
	} {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}
	for _, g := range []string{"word", "segment"} {
		if err := w.WriteField("timestamp_granularities[]", g); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

// parseVerboseJSON maps the verbose_json response onto a Transcript.
// Words arrive in a flat top-level array and are re-attached to their
// segment by timestamp.
func parseVerboseJSON(b []byte) types.Transcript {
	var tr types.Transcript
	gjson.GetBytes(b, "segments").ForEach(func(_, seg gjson.Result) bool {
		tr.Segments = append(tr.Segments, types.Segment{
			Start: seg.Get("start").Float(),
			End:   seg.Get("end").Float(),
			Text:  strings.TrimSpace(seg.Get("text").String()),
		})
		return true
	})
	gjson.GetBytes(b, "words").ForEach(func(_, w gjson.Result) bool {
		word := types.Word{
			Start: w.Get("start").Float(),
			End:   w.Get("end").Float(),
			Word:  strings.TrimSpace(w.Get("word").String()),
		}
		for i := range tr.Segments {
			if tr.Segments[i].Start <= word.Start && word.Start <= tr.Segments[i].End {
				tr.Segments[i].Words = append(tr.Segments[i].Words, word)
				break
			}
		}
		return true
	})
	return tr
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
