// Package reddit fetches fresh subreddit posts through Reddit's
// application-only OAuth API.
package reddit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"reddit-lead-generator/internal/models"
)

const (
	defaultAuthURL = "https://www.reddit.com/api/v1/access_token"
	defaultAPIURL  = "https://oauth.reddit.com"
	webURL         = "https://www.reddit.com"
	maxSelftext    = 1000

	fetchConcurrency = 4
)

// Post is a subreddit post as returned by the listing endpoint.
type Post struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Title       string  `json:"title"`
	Selftext    string  `json:"selftext"`
	URL         string  `json:"url"`
	Permalink   string  `json:"permalink"`
	Subreddit   string  `json:"subreddit"`
	Author      string  `json:"author"`
	Score       int     `json:"score"`
	NumComments int     `json:"num_comments"`
	Over18      bool    `json:"over_18"`
	Stickied    bool    `json:"stickied"`
	CreatedUTC  float64 `json:"created_utc"`
}

// ExternalID is the fullname (t3_...) used to deduplicate leads.
func (p Post) ExternalID() string {
	if p.Name != "" {
		return p.Name
	}
	if p.ID != "" {
		return "t3_" + p.ID
	}
	return ""
}

// Candidate converts the post into a drip candidate. The thread permalink is
// used as the lead URL since that is where the reply goes.
func (p Post) Candidate(comment string) models.Candidate {
	link := p.URL
	if p.Permalink != "" {
		link = webURL + p.Permalink
	}
	author := p.Author
	if author == "" {
		author = "[deleted]"
	}
	return models.Candidate{
		ExternalID: p.ExternalID(),
		Content: models.Content{
			Title:       p.Title,
			Selftext:    p.Selftext,
			URL:         link,
			Subreddit:   p.Subreddit,
			Author:      author,
			Score:       p.Score,
			NumComments: p.NumComments,
			Comment:     comment,
		},
	}
}

type listing struct {
	Data struct {
		Children []struct {
			Kind string `json:"kind"`
			Data Post   `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// Config configures the client. AuthURL and APIURL default to Reddit's hosts.
type Config struct {
	ClientID     string
	ClientSecret string
	UserAgent    string
	PostsLimit   int
	AuthURL      string
	APIURL       string
	HTTPClient   *http.Client
	// RequestsPerMinute caps outgoing API calls; Reddit allows 100 for OAuth clients.
	RequestsPerMinute int
}

// Client is safe for concurrent use.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter

	mu      sync.Mutex
	token   string
	expires time.Time
}

func NewClient(cfg Config) *Client {
	if cfg.AuthURL == "" {
		cfg.AuthURL = defaultAuthURL
	}
	if cfg.APIURL == "" {
		cfg.APIURL = defaultAPIURL
	}
	if cfg.PostsLimit <= 0 {
		cfg.PostsLimit = 25
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 90
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		cfg:     cfg,
		http:    hc,
		limiter: rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60), cfg.RequestsPerMinute/10+1),
	}
}

// NewPosts returns the newest posts of a subreddit, skipping stickied and NSFW posts.
func (c *Client) NewPosts(ctx context.Context, subreddit string) ([]Post, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	u := fmt.Sprintf("%s/r/%s/new?limit=%d&raw_json=1", c.cfg.APIURL, url.PathEscape(subreddit), c.cfg.PostsLimit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "bearer "+token)
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch r/%s: %w", subreddit, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		c.invalidateToken()
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("fetch r/%s: status %d: %s", subreddit, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var l listing
	if err := json.NewDecoder(resp.Body).Decode(&l); err != nil {
		return nil, fmt.Errorf("decode r/%s listing: %w", subreddit, err)
	}
	posts := make([]Post, 0, len(l.Data.Children))
	for _, child := range l.Data.Children {
		p := child.Data
		if child.Kind != "" && child.Kind != "t3" {
			continue
		}
		if p.Stickied || p.Over18 {
			continue
		}
		p.Selftext = truncate(p.Selftext, maxSelftext)
		posts = append(posts, p)
	}
	return posts, nil
}

// FetchAll collects posts across subreddits concurrently, dropping ids seen
// in an earlier subreddit (cross-posts). Output follows the subreddit order.
// A subreddit that fails is reported through onErr, which must be safe for
// concurrent use, and skipped.
func (c *Client) FetchAll(ctx context.Context, subreddits []string, onErr func(subreddit string, err error)) ([]Post, error) {
	results := make([][]Post, len(subreddits))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)
	for i, sub := range subreddits {
		i, sub := i, sub
		g.Go(func() error {
			posts, err := c.NewPosts(gctx, sub)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				if onErr != nil {
					onErr(sub, err)
				}
				return nil
			}
			results[i] = posts
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var out []Post
	for _, posts := range results {
		for _, p := range posts {
			id := p.ExternalID()
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, p)
		}
	}
	return out, nil
}

func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && time.Now().Before(c.expires) {
		return c.token, nil
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.AuthURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.cfg.ClientID, c.cfg.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("reddit token: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("reddit token: status %d", resp.StatusCode)
	}
	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("decode reddit token: %w", err)
	}
	if tr.AccessToken == "" {
		return "", fmt.Errorf("reddit token: empty access token")
	}
	ttl := time.Duration(tr.ExpiresIn) * time.Second
	if ttl <= 0 {
		ttl = time.Hour
	}
	c.token = tr.AccessToken
	// refresh a minute early
	c.expires = time.Now().Add(ttl - time.Minute)
	return c.token, nil
}

func (c *Client) invalidateToken() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
