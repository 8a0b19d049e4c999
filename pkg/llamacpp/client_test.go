package llamacpp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func answer(content any) map[string]any {
	return map[string]any{
		"choices": []map[string]any{{
			"index":   0,
			"message": map[string]any{"role": "assistant", "content": content},
		}},
	}
}

func TestClassifyBanner(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(answer("```json\n{\"is_text\": true, \"confidence\": 0.9, \"tags\": [\"Text\"]}\n```"))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL + "/")
	require.NoError(t, err)

	verdict, err := c.ClassifyBanner(context.Background(), "qwen2.5-vl", "is it text?", "aGVsbG8=")
	require.NoError(t, err)
	assert.True(t, verdict.IsText)
	assert.InDelta(t, 0.9, verdict.Confidence, 1e-9)
	assert.Equal(t, []string{"text"}, verdict.Tags)

	assert.Equal(t, "qwen2.5-vl", got.Model)
	require.NotNil(t, got.ResponseFormat)
	assert.Equal(t, "json_object", got.ResponseFormat.Type)
	require.Len(t, got.Messages, 1)
	require.Len(t, got.Messages[0].Content, 2)
	assert.Equal(t, "data:image/jpeg;base64,aGVsbG8=", got.Messages[0].Content[1].ImageURL.URL)
}

func TestQueryAcceptsContentParts(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(answer([]map[string]any{
			{"type": "text", "text": ""},
			{"type": "text", "text": "a white shirt on a hanger"},
		}))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL)
	require.NoError(t, err)

	text, err := c.Query(context.Background(), "m", "describe", "")
	require.NoError(t, err)
	assert.Equal(t, "a white shirt on a hanger", text)
	assert.Nil(t, got.ResponseFormat)
	assert.Len(t, got.Messages[0].Content, 1, "no image part without an image")
}

func TestQueryServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c, _ := NewClient(srv.URL)
	_, err := c.Query(context.Background(), "m", "p", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Contains(t, err.Error(), "model not loaded")
}

func TestNewClientRejectsBareHost(t *testing.T) {
	_, err := NewClient("localhost:8080")
	assert.Error(t, err)

	c, err := NewClient("")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/v1/chat/completions", c.endpoint)
}
