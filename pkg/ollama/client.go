// Package ollama verifies banners against a local Ollama server.
package ollama

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/menta2k/detailseg/pkg/client"
	"github.com/menta2k/detailseg/pkg/types"
)

// DefaultTimeout bounds one model answer when the caller sets no deadline.
const DefaultTimeout = 2 * time.Minute

var jsonFormat = json.RawMessage(`"json"`)

// Client wraps the Ollama API client
type Client struct {
	api     *api.Client
	host    string
	timeout time.Duration
}

// NewClient creates a client for the server at ollamaURL. Any path such as
// /api/chat is dropped; the SDK adds its own.
func NewClient(ollamaURL string) (*Client, error) {
	u, err := url.Parse(ollamaURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL %q: %w", ollamaURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid URL: %q needs scheme and host", ollamaURL)
	}

	base := &url.URL{Scheme: u.Scheme, Host: u.Host}
	return &Client{
		api:     api.NewClient(base, http.DefaultClient),
		host:    base.String(),
		timeout: DefaultTimeout,
	}, nil
}

// WithTimeout changes the per-answer deadline applied when ctx has none.
func (c *Client) WithTimeout(d time.Duration) *Client {
	if d > 0 {
		c.timeout = d
	}
	return c
}

// Query sends an image with a prompt and returns the raw answer
func (c *Client) Query(ctx context.Context, model, prompt, imgB64 string) (string, error) {
	return c.chat(ctx, model, prompt, imgB64, nil)
}

// ClassifyBanner asks the model whether the image is a text banner, in
// Ollama's JSON mode.
func (c *Client) ClassifyBanner(ctx context.Context, model, prompt, imgB64 string) (*types.BannerVerdict, error) {
	raw, err := c.chat(ctx, model, prompt, imgB64, jsonFormat)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("empty answer from ollama at %s", c.host)
	}
	return client.ParseVerdict(raw), nil
}

func (c *Client) chat(ctx context.Context, model, prompt, imgB64 string, format json.RawMessage) (string, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	msg := api.Message{Role: "user", Content: prompt}
	if imgB64 != "" {
		img, err := base64.StdEncoding.DecodeString(imgB64)
		if err != nil {
			return "", fmt.Errorf("decode image payload: %w", err)
		}
		msg.Images = []api.ImageData{img}
	}

	stream := false
	req := &api.ChatRequest{
		Model:    model,
		Messages: []api.Message{msg},
		Stream:   &stream,
		Format:   format,
		// Low temperature keeps verdicts stable across runs.
		Options: map[string]any{"temperature": 0.1},
	}

	var answer strings.Builder
	err := c.api.Chat(ctx, req, func(resp api.ChatResponse) error {
		answer.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama chat with %s at %s: %w", model, c.host, err)
	}
	return answer.String(), nil
}

var _ client.VisionClient = (*Client)(nil)
