package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// TTS synthesizes reply text into an MP3 artifact on disk using the
// OpenAI speech API. The artifact path travels untouched through the
// pipeline; the WhatsApp channel uploads and sends it.
type TTS struct {
	apiBase string
	apiKey  string
	model   string
	voice   string
	dir     string
	client  *http.Client
	logger  *slog.Logger
}

type TTSConfig struct {
	APIBase string
	APIKey  string
	Model   string // e.g. "tts-1"
	Voice   string // e.g. "alloy", "echo", "nova", "shimmer"
	Dir     string // where artifacts are written
	Logger  *slog.Logger
}

func NewTTS(cfg TTSConfig) *TTS {
	if cfg.APIBase == "" {
		cfg.APIBase = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "tts-1"
	}
	if cfg.Voice == "" {
		cfg.Voice = "alloy"
	}
	if cfg.Dir == "" {
		cfg.Dir = os.TempDir()
	}
	return &TTS{
		apiBase: cfg.APIBase,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		voice:   cfg.Voice,
		dir:     cfg.Dir,
		client:  SharedHTTPClient(60 * time.Second),
		logger:  cfg.Logger,
	}
}

type ttsRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
	Voice string `json:"voice"`
}

// Synthesize converts text to speech and writes the MP3 to the artifact
// directory, returning its path.
func (t *TTS) Synthesize(ctx context.Context, text string) (string, error) {
	jsonBody, err := json.Marshal(ttsRequest{Model: t.model, Input: text, Voice: t.voice})
	if err != nil {
		return "", fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.apiBase+"/audio/speech", bytes.NewReader(jsonBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+t.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("speech API request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("speech API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	if err := os.MkdirAll(t.dir, 0o755); err != nil {
		return "", fmt.Errorf("create audio dir: %w", err)
	}
	path := filepath.Join(t.dir, uuid.NewString()+".mp3")
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create artifact: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, resp.Body); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("write artifact: %w", err)
	}

	t.logger.Debug("audio artifact written", "path", path)
	return path, nil
}
