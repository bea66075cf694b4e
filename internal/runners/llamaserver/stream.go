package llamaserver

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// completionRequest is the payload for /v1/completions. Nil sampling
// fields are left to the server.
type completionRequest struct {
	Model         string   `json:"model,omitempty"`
	Prompt        string   `json:"prompt"`
	MaxTokens     int      `json:"max_tokens,omitempty"`
	Temperature   *float64 `json:"temperature,omitempty"`
	TopP          *float64 `json:"top_p,omitempty"`
	TopK          *int     `json:"top_k,omitempty"`
	Stop          []string `json:"stop,omitempty"`
	Seed          *int     `json:"seed,omitempty"`
	RepeatPenalty *float64 `json:"repeat_penalty,omitempty"`
	Stream        bool     `json:"stream"`
}

type streamChoice struct {
	Text  string `json:"text"`
	Delta struct {
		Content string `json:"content"`
	} `json:"delta"`
	FinishReason string `json:"finish_reason"`
}

type streamResponse struct {
	Choices []streamChoice `json:"choices"`
}

// HTTPError is a non-2xx reply from the server.
type HTTPError struct {
	Status string
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("llama server http error: %s: %s", e.Status, e.Body)
}

type client struct {
	http   *http.Client
	apiKey string
}

// complete streams a completion, calling onToken per text fragment. It
// returns the finish reason reported by the server, if any.
func (c *client) complete(ctx context.Context, baseURL string, payload completionRequest, onToken func(string) error) (string, error) {
	payload.Stream = true
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &HTTPError{Status: resp.Status, Body: strings.TrimSpace(string(b))}
	}

	var finish string
	r := bufio.NewReader(resp.Body)
	for {
		line, rerr := r.ReadString('\n')
		if l := strings.TrimSpace(line); l != "" && strings.HasPrefix(strings.ToLower(l), "data:") {
			data := strings.TrimSpace(l[len("data:"):])
			if data == "[DONE]" {
				return finish, nil
			}
			tok, fr, ok := parseChunk(data)
			if !ok {
				continue
			}
			if fr != "" {
				finish = fr
			}
			if tok != "" {
				if err := onToken(tok); err != nil {
					return finish, err
				}
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return finish, nil
			}
			if ctx.Err() != nil {
				return finish, ctx.Err()
			}
			return finish, rerr
		}
	}
}

// parseChunk accepts OpenAI completion and chat chunks as well as the
// native {"content": "..."} form.
func parseChunk(data string) (tok, finish string, ok bool) {
	var msg streamResponse
	if err := json.Unmarshal([]byte(data), &msg); err == nil && len(msg.Choices) > 0 {
		ch := msg.Choices[0]
		tok = ch.Text
		if tok == "" {
			tok = ch.Delta.Content
		}
		return tok, ch.FinishReason, true
	}
	var native struct {
		Content string `json:"content"`
		Stop    bool   `json:"stop"`
	}
	if err := json.Unmarshal([]byte(data), &native); err == nil {
		if native.Stop {
			finish = "stop"
		}
		return native.Content, finish, true
	}
	return "", "", false
}

// healthy reports whether GET /v1/models answers 2xx.
func (c *client) healthy(ctx context.Context, baseURL string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/v1/models", nil)
	if err != nil {
		return false
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
