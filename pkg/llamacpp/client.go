// Package llamacpp verifies banners against a llama.cpp server through its
// OpenAI-compatible chat endpoint.
package llamacpp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/menta2k/detailseg/pkg/client"
	"github.com/menta2k/detailseg/pkg/types"
)

const (
	chatPath      = "/v1/chat/completions"
	defaultServer = "http://localhost:8080"
	// maxAnswerTokens leaves room for the verdict JSON and nothing else.
	maxAnswerTokens = 256
)

// Client talks to a llama.cpp server
type Client struct {
	endpoint   string
	httpClient *http.Client
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens"`
	Stream         bool            `json:"stream"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageRef `json:"image_url,omitempty"`
}

type imageRef struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content answerText `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// answerText accepts the assistant content either as a plain string or as a
// list of typed parts, keeping the first non-empty text part.
type answerText string

func (a *answerText) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*a = answerText(s)
		return nil
	}

	var parts []contentPart
	if err := json.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("unexpected content shape: %w", err)
	}
	for _, p := range parts {
		if p.Text != "" {
			*a = answerText(p.Text)
			return nil
		}
	}
	*a = ""
	return nil
}

// NewClient creates a client for serverURL. An empty URL means the llama.cpp
// default on localhost:8080.
func NewClient(serverURL string) (*Client, error) {
	if serverURL == "" {
		serverURL = defaultServer
	}
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL %q: %w", serverURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid URL: %q needs scheme and host", serverURL)
	}

	return &Client{
		endpoint:   strings.TrimSuffix(u.Scheme+"://"+u.Host+u.Path, "/") + chatPath,
		httpClient: &http.Client{Timeout: 2 * time.Minute},
	}, nil
}

// Query sends an image with a prompt and returns the raw answer
func (c *Client) Query(ctx context.Context, model, prompt, imgB64 string) (string, error) {
	return c.chat(ctx, model, prompt, imgB64, nil)
}

// ClassifyBanner asks the model whether the image is a text banner. The
// server is asked for a JSON object; answers that still are not JSON yield a
// fallback verdict.
func (c *Client) ClassifyBanner(ctx context.Context, model, prompt, imgB64 string) (*types.BannerVerdict, error) {
	raw, err := c.chat(ctx, model, prompt, imgB64, &responseFormat{Type: "json_object"})
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("empty answer from %s", c.endpoint)
	}
	return client.ParseVerdict(raw), nil
}

func (c *Client) chat(ctx context.Context, model, prompt, imgB64 string, format *responseFormat) (string, error) {
	parts := []contentPart{{Type: "text", Text: prompt}}
	if imgB64 != "" {
		parts = append(parts, contentPart{
			Type:     "image_url",
			ImageURL: &imageRef{URL: "data:image/jpeg;base64," + imgB64},
		})
	}

	body, err := c.post(ctx, chatRequest{
		Model:          model,
		Messages:       []chatMessage{{Role: "user", Content: parts}},
		Temperature:    0.1,
		MaxTokens:      maxAnswerTokens,
		ResponseFormat: format,
	})
	if err != nil {
		return "", err
	}

	var resp chatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode answer from %s: %w", c.endpoint, err)
	}
	if resp.Error != nil {
		return "", fmt.Errorf("%s: %s", c.endpoint, resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("llama.cpp answer has no choices")
	}
	return string(resp.Choices[0].Message.Content), nil
}

func (c *Client) post(ctx context.Context, payload chatRequest) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", c.endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read answer from %s: %w", c.endpoint, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned status %d: %s", c.endpoint, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

var _ client.VisionClient = (*Client)(nil)
