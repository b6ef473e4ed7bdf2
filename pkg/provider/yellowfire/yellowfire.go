// Package yellowfire is a client for the yellowfire.ru generation API.
//
// The API is asynchronous: a create call returns a request id plus a hint for
// how long to wait, then the caller polls a status endpoint until the job
// settles. Both text generation and speech synthesis follow the same
// create → wait → poll shape; only the create endpoint and result payload
// differ.
package yellowfire

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://yellowfire.ru/api/v2"
	defaultModel   = "gpt-4o-mini"

	defaultPollInterval = 2 * time.Second
	maxPollAttempts     = 30
)

// ErrTimeout is returned when a job does not settle within the polling budget.
var ErrTimeout = errors.New("yellowfire: request timed out")

// Message is one turn of conversation history sent with a generation request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Option is a functional option for configuring the Client.
type Option func(*Client)

// WithBaseURL overrides the API base URL. Used by tests.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimSuffix(u, "/") }
}

// WithModel sets the generation model name.
func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithPollInterval overrides the delay between status polls. Used by tests.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) { c.pollInterval = d }
}

// Client talks to the yellowfire API. Safe for concurrent use.
type Client struct {
	apiKey       string
	baseURL      string
	model        string
	http         *http.Client
	pollInterval time.Duration
}

// New creates a Client. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("yellowfire: apiKey must not be empty")
	}
	c := &Client{
		apiKey:       apiKey,
		baseURL:      defaultBaseURL,
		model:        defaultModel,
		http:         &http.Client{Timeout: 30 * time.Second},
		pollInterval: defaultPollInterval,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// createResponse is the acknowledgement returned by a create call.
type createResponse struct {
	RequestID string `json:"request_id"`
	// Wait is the server's hint, in seconds, for how long the job will take.
	Wait float64 `json:"wait"`
}

// statusResponse is one poll result. Response is kept raw because its shape
// depends on the job kind.
type statusResponse struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
	Error    string          `json:"error"`
}

// GenerateText submits prompt with optional conversation history and waits
// for the generated reply.
func (c *Client) GenerateText(ctx context.Context, prompt string, history []Message) (string, error) {
	body := map[string]any{
		"model":           c.model,
		"prompt":          prompt,
		"internet_access": false,
	}
	if len(history) > 0 {
		body["chat_history"] = history
	}

	raw, err := c.submitAndPoll(ctx, "/chatgpt", body)
	if err != nil {
		return "", err
	}

	// The text job returns the reply either as a bare string or wrapped in
	// an object with a "text" field.
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text, nil
	}
	var wrapped struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil || wrapped.Text == "" {
		return "", fmt.Errorf("yellowfire: unexpected text payload: %s", truncate(raw))
	}
	return wrapped.Text, nil
}

// SynthesizeSpeech submits text for synthesis and returns the resulting MP3
// bytes.
func (c *Client) SynthesizeSpeech(ctx context.Context, text, voice string) ([]byte, error) {
	body := map[string]any{
		"model":  "elevenlabs",
		"prompt": text,
		"voice":  voice,
	}

	raw, err := c.submitAndPoll(ctx, "/tts", body)
	if err != nil {
		return nil, err
	}

	// The synthesis job returns data URIs, one per requested variant.
	var payload struct {
		VoiceModelV3 []string `json:"voice_model_v3"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("yellowfire: unexpected tts payload: %s", truncate(raw))
	}
	if len(payload.VoiceModelV3) == 0 {
		return nil, errors.New("yellowfire: tts job returned no audio")
	}
	return decodeDataURI(payload.VoiceModelV3[0])
}

// submitAndPoll runs the create → wait → poll protocol and returns the raw
// response payload of a settled job.
func (c *Client) submitAndPoll(ctx context.Context, path string, body map[string]any) (json.RawMessage, error) {
	var created createResponse
	if err := c.post(ctx, path, body, &created); err != nil {
		return nil, err
	}
	if created.RequestID == "" {
		return nil, errors.New("yellowfire: create returned no request_id")
	}

	// Honour the server's wait hint before the first poll.
	if created.Wait > 0 {
		if err := sleep(ctx, time.Duration(created.Wait*float64(time.Second))); err != nil {
			return nil, err
		}
	}

	for attempt := 0; attempt < maxPollAttempts; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, c.pollInterval); err != nil {
				return nil, err
			}
		}

		var st statusResponse
		if err := c.get(ctx, "/status/"+created.RequestID, &st); err != nil {
			return nil, err
		}

		switch st.Status {
		case "completed", "success":
			return st.Response, nil
		case "failed", "error":
			if st.Error != "" {
				return nil, fmt.Errorf("yellowfire: job failed: %s", st.Error)
			}
			return nil, errors.New("yellowfire: job failed")
		}
		// Anything else ("pending", "processing") keeps polling.
	}
	return nil, ErrTimeout
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("yellowfire: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return fmt.Errorf("yellowfire: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("yellowfire: build request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("api-key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("yellowfire: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return fmt.Errorf("yellowfire: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("yellowfire: %s %s: status %d: %s", req.Method, req.URL.Path, resp.StatusCode, truncate(data))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("yellowfire: decode response: %w", err)
	}
	return nil
}

// decodeDataURI strips a "data:audio/mpeg;base64," style prefix and decodes
// the remainder.
func decodeDataURI(uri string) ([]byte, error) {
	payload := uri
	if i := strings.Index(uri, ","); i >= 0 && strings.HasPrefix(uri, "data:") {
		payload = uri[i+1:]
	}
	audio, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("yellowfire: decode audio: %w", err)
	}
	return audio, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func truncate(b []byte) string {
	const limit = 200
	if len(b) <= limit {
		return string(b)
	}
	return string(b[:limit]) + "..."
}
