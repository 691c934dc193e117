package marvel

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultBaseURL = "https://gateway.marvel.com"
	charactersPath = "/v1/public/characters"

	NoDescription = "No detailed description available from the Marvel database, but I know this character well!"
	Unknown       = "Unknown"
)

var ErrNotFound = errors.New("marvel: no matching character")

// Character is the part of a character record the chat renders.
type Character struct {
	Name        string
	Description string
	ImageURL    string
	Comics      string
	Series      string
	// HasAvailability is set when at least one of the counts was reported.
	HasAvailability bool
}

type Client struct {
	baseURL    string
	publicKey  string
	privateKey string
	http       *http.Client
	now        func() time.Time
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option { return func(cl *Client) { cl.http = c } }

func WithClock(now func() time.Time) Option { return func(cl *Client) { cl.now = now } }

func NewClient(baseURL, publicKey, privateKey string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		publicKey:  publicKey,
		privateKey: privateKey,
		http:       http.DefaultClient,
		now:        time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Sign returns the request hash: md5 of ts + private key + public key, hex encoded.
func Sign(ts, privateKey, publicKey string) string {
	sum := md5.Sum([]byte(ts + privateKey + publicKey))
	return hex.EncodeToString(sum[:])
}

func (c *Client) authParams() url.Values {
	ts := strconv.FormatInt(c.now().UnixMilli(), 10)
	v := url.Values{}
	v.Set("ts", ts)
	v.Set("apikey", c.publicKey)
	v.Set("hash", Sign(ts, c.privateKey, c.publicKey))
	return v
}

type apiResponse struct {
	Data struct {
		Results []struct {
			Name        string `json:"name"`
			Description string `json:"description"`
			Thumbnail   struct {
				Path      string `json:"path"`
				Extension string `json:"extension"`
			} `json:"thumbnail"`
			Comics struct {
				Available *int `json:"available"`
			} `json:"comics"`
			Series struct {
				Available *int `json:"available"`
			} `json:"series"`
		} `json:"results"`
	} `json:"data"`
}

// Lookup fetches the first character whose name matches. Any transport
// failure, non-2xx status, undecodable body or empty result is an error.
func (c *Client) Lookup(ctx context.Context, name string) (Character, error) {
	q := c.authParams()
	q.Set("name", name)
	q.Set("limit", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+charactersPath+"?"+q.Encode(), nil)
	if err != nil {
		return Character{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return Character{}, fmt.Errorf("marvel request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Character{}, fmt.Errorf("marvel status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var out apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Character{}, fmt.Errorf("decode marvel response: %w", err)
	}
	if len(out.Data.Results) == 0 {
		return Character{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	r := out.Data.Results[0]
	ch := Character{
		Name:        r.Name,
		Description: r.Description,
		Comics:      count(r.Comics.Available),
		Series:      count(r.Series.Available),
	}
	if strings.TrimSpace(ch.Description) == "" {
		ch.Description = NoDescription
	}
	if r.Thumbnail.Path != "" {
		ch.ImageURL = r.Thumbnail.Path + "." + r.Thumbnail.Extension
	}
	ch.HasAvailability = ch.Comics != Unknown || ch.Series != Unknown
	return ch, nil
}

func count(n *int) string {
	if n == nil || *n == 0 {
		return Unknown
	}
	return strconv.Itoa(*n)
}
