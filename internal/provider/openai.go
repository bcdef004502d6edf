package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"relaybot/internal/domain"
)

// OpenAI implements domain.Completer against OpenAI-compatible chat
// completion APIs. It supports both single-shot and streamed delivery;
// either way callers receive one assembled reply.
type OpenAI struct {
	apiKey  string
	apiBase string
	model   string
	stream  bool
	client  *http.Client
	logger  *slog.Logger
}

type OpenAIConfig struct {
	APIKey  string
	APIBase string
	Model   string
	Stream  bool
	Timeout time.Duration
	Logger  *slog.Logger
}

func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.APIBase == "" {
		cfg.APIBase = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	return &OpenAI{
		apiKey:  cfg.APIKey,
		apiBase: cfg.APIBase,
		model:   cfg.Model,
		stream:  cfg.Stream,
		client:  SharedHTTPClient(cfg.Timeout),
		logger:  cfg.Logger,
	}
}

func (o *OpenAI) Name() string { return "openai" }

func (o *OpenAI) streamingEnabled() bool { return o.stream }

func (o *OpenAI) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", o.apiBase+"/models", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+o.apiKey)
	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("openai not reachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("openai: invalid API key")
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("openai returned %d", resp.StatusCode)
	}
	return nil
}

type oaiRequest struct {
	Model    string       `json:"model"`
	Messages []oaiMessage `json:"messages"`
	Stream   bool         `json:"stream"`
}

type oaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type oaiResponse struct {
	Choices []struct {
		Message oaiMessage `json:"message"`
	} `json:"choices"`
}

type oaiStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// Complete sends one single-turn completion request carrying only the
// current message text.
func (o *OpenAI) Complete(ctx context.Context, req domain.ReplyRequest) (string, error) {
	resp, err := o.post(ctx, oaiRequest{
		Model:    o.model,
		Messages: []oaiMessage{{Role: "user", Content: req.Text}},
		Stream:   false,
	})
	if err != nil {
		return "", &domain.BackendError{Backend: o.Name(), Err: err}
	}
	defer resp.Body.Close()

	var oaiResp oaiResponse
	if err := json.NewDecoder(resp.Body).Decode(&oaiResp); err != nil {
		return "", &domain.BackendError{Backend: o.Name(), Err: fmt.Errorf("decode: %w", err)}
	}
	if len(oaiResp.Choices) == 0 {
		return "", nil
	}
	return oaiResp.Choices[0].Message.Content, nil
}

// CompleteStream sends the same request with stream enabled and emits
// each SSE content delta on out. out is closed when the stream ends.
func (o *OpenAI) CompleteStream(ctx context.Context, req domain.ReplyRequest, out chan<- string) error {
	defer close(out)

	resp, err := o.post(ctx, oaiRequest{
		Model:    o.model,
		Messages: []oaiMessage{{Role: "user", Content: req.Text}},
		Stream:   true,
	})
	if err != nil {
		return &domain.BackendError{Backend: o.Name(), Err: err}
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			break
		}

		var chunk oaiStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			o.logger.Debug("skipping unparseable stream chunk", "err", err)
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		if delta := chunk.Choices[0].Delta.Content; delta != "" {
			select {
			case out <- delta:
			case <-ctx.Done():
				return &domain.BackendError{Backend: o.Name(), Err: ctx.Err()}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return &domain.BackendError{Backend: o.Name(), Err: fmt.Errorf("read stream: %w", err)}
	}
	return nil
}

func (o *OpenAI) post(ctx context.Context, body oaiRequest) (*http.Response, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", o.apiBase+"/chat/completions", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openai request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("openai %d: %s", resp.StatusCode, string(respBody))
	}
	return resp, nil
}
