package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"
)

const DefaultGeminiBaseURL = "https://generativelanguage.googleapis.com/"

type GeminiClient struct {
	client *genai.Client
}

// keyTransport adds the API key as the "key" query parameter, which is how the
// generateContent endpoint authenticates plain API-key callers.
type keyTransport struct {
	rt  http.RoundTripper
	key string
}

func (t keyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Clone request to avoid mutating the original
	cl := req.Clone(req.Context())
	q := cl.URL.Query()
	q.Set("key", t.key)
	cl.URL.RawQuery = q.Encode()
	return t.rt.RoundTrip(cl)
}

func NewGemini(ctx context.Context, apiKey, baseURL string) (*GeminiClient, error) {
	if baseURL == "" {
		baseURL = DefaultGeminiBaseURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	hc := &http.Client{Transport: keyTransport{rt: http.DefaultTransport, key: apiKey}}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: hc,
		HTTPOptions: genai.HTTPOptions{
			BaseURL:    baseURL,
			APIVersion: "v1beta",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &GeminiClient{client: client}, nil
}

func (c *GeminiClient) Generate(ctx context.Context, model, prompt string) (string, error) {
	contents := []*genai.Content{{Parts: []*genai.Part{{Text: prompt}}}}
	resp, err := c.client.Models.GenerateContent(ctx, model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("gemini generateContent: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return "", nil
	}
	cand := resp.Candidates[0]
	if cand.Content == nil || len(cand.Content.Parts) == 0 || cand.Content.Parts[0] == nil {
		return "", nil
	}
	return cand.Content.Parts[0].Text, nil
}
