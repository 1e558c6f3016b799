// Package gemini asks Gemini for candidate moments with the source
// video attached, so the model ranks on visuals and energy, not just
// the transcript. When the media has not landed yet or is too large to
// inline, the request degrades to transcript-only against the same
// prompt.
package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/clipforge/clipforge/internal/ports"
	"github.com/clipforge/clipforge/internal/ports/adapters/openrouter"
	"github.com/clipforge/clipforge/internal/types"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com"
	defaultModel   = "gemini-2.0-flash"
	// Inline video is capped by the API; larger sources fall back to
	// the transcript-only request.
	maxInlineBytes = 20 << 20
)

type Adapter struct {
	key     string
	model   string
	baseURL string
	client  *http.Client
}

func New(apiKey, model, baseURL string) *Adapter {
	if model == "" {
		model = defaultModel
	}
	// Model names may arrive provider-prefixed ("google/gemini-...").
	if i := strings.LastIndex(model, "/"); i >= 0 {
		model = model[i+1:]
	}
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Adapter{
		key:     apiKey,
		model:   model,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 5 * time.Minute},
	}
}

func (a *Adapter) Name() string { return "gemini/" + a.model }

func (a *Adapter) Propose(ctx context.Context, req ports.ProposeRequest) (types.Proposal, error) {
	parts := a.buildParts(req)

	body, err := json.Marshal(map[string]any{
		"contents": []map[string]any{
			{"parts": parts},
		},
		"generationConfig": map[string]any{
			"responseMimeType": "application/json",
		},
	})
	if err != nil {
		return types.Proposal{}, err
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", a.baseURL, a.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return types.Proposal{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", a.key)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return types.Proposal{}, ctx.Err()
		}
		return types.Proposal{}, types.Transient("gemini request failed", err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return types.Proposal{}, types.Transient("gemini response read failed", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return types.Proposal{}, types.Transient(fmt.Sprintf("gemini status %d", resp.StatusCode), fmt.Errorf("%s", b))
	}
	if resp.StatusCode != http.StatusOK {
		return types.Proposal{}, fmt.Errorf("gemini status %d: %s", resp.StatusCode, b)
	}

	text := strings.TrimSpace(gjson.GetBytes(b, "candidates.0.content.parts.0.text").String())
	if text == "" {
		return types.Proposal{}, types.Corrupt("gemini returned no content", nil)
	}
	prop, err := openrouter.ParseProposal(text)
	if err != nil {
		return types.Proposal{}, types.Corrupt("unparseable model output", err)
	}
	return prop, nil
}

// buildParts assembles the request parts: inline video plus the prompt
// when the media fits, the prompt alone otherwise.
func (a *Adapter) buildParts(req ports.ProposeRequest) []map[string]any {
	prompt := openrouter.BuildPrompt(req)
	if req.MediaPath == "" {
		return []map[string]any{{"text": prompt}}
	}
	fi, err := os.Stat(req.MediaPath)
	if err != nil || fi.Size() > maxInlineBytes {
		return []map[string]any{{"text": prompt}}
	}
	data, err := os.ReadFile(req.MediaPath)
	if err != nil {
		return []map[string]any{{"text": prompt}}
	}
	videoPrompt := "Watch the full video including audio and visuals. Pay attention to exciting visual moments, strong reactions, music and energy peaks, on-screen action, not just what is said.\n\n" + prompt
	return []map[string]any{
		{"inline_data": map[string]any{
			"mime_type": "video/mp4",
			"data":      base64.StdEncoding.EncodeToString(data),
		}},
		{"text": videoPrompt},
	}
}
