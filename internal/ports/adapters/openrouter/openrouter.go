// Package openrouter asks an OpenRouter-hosted model for candidate
// moments. Responses are JSON by contract but treated as hostile input:
// everything goes through a tolerant re-parse before the job is allowed
// to fail on it.
package openrouter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/clipforge/clipforge/internal/ports"
	"github.com/clipforge/clipforge/internal/types"
)

const (
	defaultBaseURL = "https://openrouter.ai/api/v1"
	// Keyless operation routes to the free tier so the pipeline stays
	// usable without configuration.
	freeModel = "google/gemini-2.0-flash-exp:free"
)

type Adapter struct {
	client openai.Client
	model  string
}

func New(apiKey, model, baseURL string) *Adapter {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if apiKey == "" {
		apiKey = "no-key"
		model = freeModel
	}
	client := openai.NewClient(
		option.WithAPIKey(apiKey),
		option.WithBaseURL(baseURL),
	)
	return &Adapter{client: client, model: model}
}

func (a *Adapter) Name() string { return "openrouter/" + a.model }

func (a *Adapter) Propose(ctx context.Context, req ports.ProposeRequest) (types.Proposal, error) {
	resp, err := a.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(BuildPrompt(req)),
		},
		Model: a.model,
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{Type: "json_object"},
		},
	})
	if err != nil {
		return types.Proposal{}, classify(err)
	}
	if len(resp.Choices) == 0 {
		return types.Proposal{}, types.Corrupt("model returned no choices", nil)
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return types.Proposal{}, types.Corrupt("model returned empty content", nil)
	}

	prop, err := ParseProposal(content)
	if err != nil {
		return types.Proposal{}, types.Corrupt("unparseable model output", err)
	}
	return prop, nil
}

// classify maps transport failures onto the retry taxonomy: rate limits
// and server errors are worth a retry, everything else is not.
func classify(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == 429 || apiErr.StatusCode >= 500 {
			return types.Transient(fmt.Sprintf("openrouter status %d", apiErr.StatusCode), err)
		}
		return fmt.Errorf("openrouter: %w", err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return types.Transient("openrouter request failed", err)
}

// BuildPrompt renders the shared moment-selection prompt. The gemini
// adapter prepends its video preamble to the same text so both
// backends select against identical rules.
func BuildPrompt(req ports.ProposeRequest) string {
	var b strings.Builder
	b.WriteString("You are a viral short-form content editor. Analyze the transcript and identify the content type and the best clips.\n\n")
	b.WriteString("Identify the content type as one of: interview, educational, rant, podcast, other. Return it as \"content_type\" in the top-level JSON object.\n\n")
	b.WriteString("THE #1 RULE: Every clip must tell a COMPLETE STORY. The viewer must understand what's happening without any other context. Never cut mid-thought or mid-explanation.\n\n")
	b.WriteString("WHAT MAKES A GREAT CLIP:\n")
	b.WriteString("1. Full story arcs: clear setup, development, payoff\n")
	b.WriteString("2. Strategy or knowledge explanations with a clear before/after\n")
	b.WriteString("3. Strong opinions: \"Everyone is wrong about X, here's why\"\n")
	b.WriteString("4. Lessons from real experience\n")
	b.WriteString("5. Predictions with reasoning\n\n")
	b.WriteString("NEVER select: random snippets with no context, clips starting or ending mid-sentence, greetings and intros, off-topic chat or silence.\n\n")
	fmt.Fprintf(&b, "DURATION RULES:\n- MINIMUM %.0f seconds. Try hard to find segments this long.\n- MAXIMUM %.0f seconds\n- Pad 2-3 seconds before the speaker starts and after they finish\n",
		req.MinDuration, req.MaxDuration)
	if req.SourceDuration > 0 {
		fmt.Fprintf(&b, "- VIDEO LENGTH: %.0fs. ALL start/end values MUST be below %.0fs. Never hallucinate past the end.\n",
			req.SourceDuration, req.SourceDuration)
	}
	b.WriteString("\nReturn a JSON object with \"content_type\" and \"clips\" keys. No markdown fences. Just JSON.\n\n")
	b.WriteString("CRITICAL: \"start\" and \"end\" MUST be numbers in SECONDS (e.g. 56.0, 173.5), not \"mm:ss\" timestamps.\n\n")
	b.WriteString("Also include \"hook_score\" (1-10) and \"hook_reason\" for the opening 5 seconds of each clip, and an optional \"peak_offset\" (seconds from clip start of the most shareable beat, or null).\n\n")
	fmt.Fprintf(&b, "Return EXACTLY %d clips if the video has enough content. Spread them across the ENTIRE video with no overlaps. If the video is too short for that many, return as many as genuinely fit.\n\n", req.TargetClips)
	if req.Chunks > 1 {
		fmt.Fprintf(&b, "This is window %d of %d of a longer transcript.\n\n", req.Chunk, req.Chunks)
	}
	b.WriteString("TRANSCRIPT:\n")
	b.WriteString(req.Text)
	return b.String()
}

var (
	fenceRE         = regexp.MustCompile("```(?:json)?")
	trailingCommaRE = regexp.MustCompile(`,\s*([}\]])`)
)

// ParseProposal decodes model output into a Proposal, degrading through
// the repair steps the strict decoder rejects: fence stripping, object
// or bare-array extraction, trailing comma removal.
func ParseProposal(text string) (types.Proposal, error) {
	if p, ok := tryDecode(text); ok {
		return p, nil
	}

	t := strings.TrimSpace(fenceRE.ReplaceAllString(text, ""))
	if p, ok := tryDecode(t); ok {
		return p, nil
	}

	if start, end := strings.Index(t, "{"), strings.LastIndex(t, "}"); start >= 0 && end > start {
		if p, ok := tryDecode(trailingCommaRE.ReplaceAllString(t[start:end+1], "$1")); ok {
			return p, nil
		}
	}
	// Some models return the clips array with no wrapping object.
	if start, end := strings.Index(t, "["), strings.LastIndex(t, "]"); start >= 0 && end > start {
		arr := trailingCommaRE.ReplaceAllString(t[start:end+1], "$1")
		var moments []types.CandidateMoment
		if err := json.Unmarshal([]byte(arr), &moments); err == nil && len(moments) > 0 {
			return types.Proposal{Classification: types.ClassOther, Moments: moments}, nil
		}
	}

	return types.Proposal{}, fmt.Errorf("no decodable JSON in %q", truncate(text, 200))
}

func tryDecode(s string) (types.Proposal, bool) {
	var p types.Proposal
	if err := json.Unmarshal([]byte(s), &p); err != nil || len(p.Moments) == 0 {
		return types.Proposal{}, false
	}
	p.Classification = types.ParseClassification(string(p.Classification))
	return p, true
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
