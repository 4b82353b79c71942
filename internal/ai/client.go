package ai

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
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Client talks to any OpenAI-compatible /chat/completions endpoint
// (OpenAI, OpenRouter, Ollama's /v1 shim).
type Client struct {
	Provider string
	BaseURL  string
	APIKey   string
	Model    string
	// extra headers, e.g. OpenRouter's HTTP-Referer / X-Title
	Headers map[string]string
	Client  *http.Client
}

func NewClient(provider, baseURL, apiKey, model string) *Client {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &Client{
		Provider: provider,
		BaseURL:  baseURL,
		APIKey:   apiKey,
		Model:    model,
		Headers:  map[string]string{},
		// no global timeout; streams can be long and ctx controls them
		Client: &http.Client{Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			ResponseHeaderTimeout: 60 * time.Second,
			IdleConnTimeout:       90 * time.Second,
			MaxIdleConnsPerHost:   32,
		}},
	}
}

func (c *Client) buildRequest(ctx context.Context, r Request) (*http.Request, error) {
	model := strings.TrimSpace(r.Model)
	if model == "" {
		model = strings.TrimSpace(c.Model)
	}
	if model == "" {
		return nil, fmt.Errorf("%s: model is required", c.Provider)
	}

	reqBody := openai.ChatCompletionRequest{
		Model:       model,
		Stream:      true,
		MaxTokens:   r.MaxTokens,
		Temperature: r.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: r.SystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: r.UserContent},
		},
		StreamOptions: &openai.StreamOptions{IncludeUsage: true},
	}

	b, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/chat/completions", strings.TrimRight(c.BaseURL, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	for k, v := range c.Headers {
		if v != "" {
			req.Header.Set(k, v)
		}
	}
	return req, nil
}

// Stream issues one streaming call. Frames that fail to parse are dropped;
// only connection-level failures end the stream with an error.
func (c *Client) Stream(ctx context.Context, r Request) (<-chan Frame, <-chan error) {
	frames := make(chan Frame, 16)
	errs := make(chan error, 1)

	go func() {
		defer close(frames)
		defer close(errs)

		if c.Client == nil {
			errs <- fmt.Errorf("%s: http client is nil", c.Provider)
			return
		}

		req, err := c.buildRequest(ctx, r)
		if err != nil {
			errs <- err
			return
		}

		resp, err := c.Client.Do(req)
		if err != nil {
			errs <- err
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
			errs <- &StatusError{Provider: c.Provider, Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
			return
		}

		sc := bufio.NewScanner(resp.Body)
		buf := make([]byte, 0, 64*1024)
		sc.Buffer(buf, 2*1024*1024)

		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" || !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == doneMarker {
				return
			}
			f, ok := ParseFrame(data)
			if !ok {
				continue
			}
			select {
			case frames <- f:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}

		if err := sc.Err(); err != nil {
			if errors.Is(err, bufio.ErrTooLong) {
				err = fmt.Errorf("%s: frame too long: %w", c.Provider, err)
			}
			errs <- err
			return
		}
	}()

	return frames, errs
}
