// Package whispercpp runs local transcription through the whisper.cpp
// CLI. It is the fallback backend when remote ASR is unavailable or
// rejects the input.
package whispercpp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/clipforge/clipforge/internal/types"
)

type Adapter struct {
	bin    string
	model  string
	ffmpeg string
}

func New(binPath, modelPath, ffmpegPath string) *Adapter {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &Adapter{bin: binPath, model: modelPath, ffmpeg: ffmpegPath}
}

func (a *Adapter) Name() string { return "whisper.cpp" }

func (a *Adapter) Transcribe(ctx context.Context, mediaPath string) (types.Transcript, error) {
	workDir, err := os.MkdirTemp("", "whisper-")
	if err != nil {
		return types.Transcript{}, err
	}
	defer os.RemoveAll(workDir)

	// whisper.cpp wants mono 16k wav regardless of the source container.
	wav := filepath.Join(workDir, "audio.wav")
	cmd := exec.CommandContext(ctx, a.ffmpeg,
		"-y", "-i", mediaPath, "-vn", "-ac", "1", "-ar", "16000", "-f", "wav", wav)
	if b, err := cmd.CombinedOutput(); err != nil {
		return types.Transcript{}, types.Transient("audio extraction failed", fmt.Errorf("%w\n%s", err, string(b)))
	}

	outPrefix := filepath.Join(workDir, "whisper")
	cmd = exec.CommandContext(ctx, a.bin,
		"-m", a.model,
		"-f", wav,
		"-oj",
		"-of", outPrefix,
		"-owts",
	)
	if b, err := cmd.CombinedOutput(); err != nil {
		return types.Transcript{}, types.Transient("whisper.cpp failed", fmt.Errorf("%w\n%s", err, string(b)))
	}

	jb, err := os.ReadFile(outPrefix + ".json")
	if err != nil {
		return types.Transcript{}, err
	}
	var tr types.Transcript
	if err := json.Unmarshal(jb, &tr); err != nil {
		return types.Transcript{}, err
	}
	for i := range tr.Segments {
		tr.Segments[i].Text = strings.TrimSpace(tr.Segments[i].Text)
		for j := range tr.Segments[i].Words {
			tr.Segments[i].Words[j].Word = strings.TrimSpace(tr.Segments[i].Words[j].Word)
		}
	}
	return tr, nil
}
