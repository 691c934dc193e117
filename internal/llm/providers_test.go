package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGemini_GenerateContentWireFormat(t *testing.T) {
	var path, key string
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		key = r.URL.Query().Get("key")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"By the Vishanti!"}]}}]}`))
	}))
	defer srv.Close()

	c, err := NewGemini(context.Background(), "secret", srv.URL)
	require.NoError(t, err)
	text, err := c.Generate(context.Background(), "gemini-2.5-flash", "who is loki?")
	require.NoError(t, err)

	assert.Equal(t, "By the Vishanti!", text)
	assert.True(t, strings.HasSuffix(path, "/models/gemini-2.5-flash:generateContent"), path)
	assert.Equal(t, "secret", key)
	contents, ok := body["contents"].([]any)
	require.True(t, ok, "body: %v", body)
	require.Len(t, contents, 1)
	parts := contents[0].(map[string]any)["parts"].([]any)
	assert.Equal(t, "who is loki?", parts[0].(map[string]any)["text"])
}

func TestGemini_NoCandidatesIsEmptyText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[]}`))
	}))
	defer srv.Close()

	c, err := NewGemini(context.Background(), "secret", srv.URL)
	require.NoError(t, err)
	text, err := c.Generate(context.Background(), "m", "p")
	require.NoError(t, err)
	assert.Empty(t, text)
}

func TestGemini_ServerErrorFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"code":503,"message":"overloaded","status":"UNAVAILABLE"}}`))
	}))
	defer srv.Close()

	c, err := NewGemini(context.Background(), "secret", srv.URL)
	require.NoError(t, err)
	_, err = c.Generate(context.Background(), "m", "p")
	assert.Error(t, err)
}

func TestOpenAI_Generate(t *testing.T) {
	var gotModel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Model string `json:"model"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		gotModel = req.Model
		assert.Equal(t, "darkhold", r.Header.Get("X-Title"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"Excelsior!"}}]}`))
	}))
	defer srv.Close()

	c := NewOpenAI("key", srv.URL+"/v1", "", "darkhold")
	text, err := c.Generate(context.Background(), "gpt-4o-mini", "hi")
	require.NoError(t, err)
	assert.Equal(t, "Excelsior!", text)
	assert.Equal(t, "gpt-4o-mini", gotModel)
}

func TestKeyTransport_KeepsExistingQuery(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.RawQuery
	}))
	defer srv.Close()

	hc := &http.Client{Transport: keyTransport{rt: http.DefaultTransport, key: "k"}}
	resp, err := hc.Get(srv.URL + "/x?alt=json")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, "alt=json&key=k", got)
}
