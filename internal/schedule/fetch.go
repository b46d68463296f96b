package schedule

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"poweronbot/internal/config"
	logx "poweronbot/pkg/logx"
)

var (
	// ErrFetch covers transport failures and non-2xx upstream responses.
	ErrFetch = errors.New("schedule fetch failed")
	// ErrMalformed covers well-formed responses missing expected items.
	ErrMalformed = errors.New("malformed schedule payload")
)

// Day is one day-context as published upstream, reduced to plain text.
type Day struct {
	Text     string
	ImageURL string
}

// Bulletin is one fetch result. Tomorrow is nil while the publisher has not
// released tomorrow's schedule yet.
type Bulletin struct {
	Today    Day
	Tomorrow *Day
}

// Client fetches the publisher's menu endpoint.
type Client struct {
	http      *http.Client
	url       string
	mediaBase *url.URL
	log       logx.Logger
}

func NewClient(cfg config.SourceConfig, log logx.Logger) (*Client, error) {
	raw := strings.TrimSpace(cfg.URL)
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("source url %q: invalid URL", raw)
	}
	base := &url.URL{Scheme: u.Scheme, Host: u.Host}
	if mh := strings.TrimSpace(cfg.MediaHost); mh != "" {
		mu, err := url.Parse(mh)
		if err != nil || mu.Host == "" {
			return nil, fmt.Errorf("media host %q: invalid URL", mh)
		}
		if mu.Scheme == "" {
			mu.Scheme = u.Scheme
		}
		base = &url.URL{Scheme: mu.Scheme, Host: mu.Host}
	}
	return &Client{
		http:      &http.Client{Timeout: cfg.EffectiveTimeout()},
		url:       raw,
		mediaBase: base,
		log:       log,
	}, nil
}

// upstream payload shape: a collection of menu holders; the first one carries
// the current bulletin.
type menuHolder struct {
	Menu []menuItem `json:"menu"`
}

type menuItem struct {
	Name    string `json:"name"`
	Content string `json:"content"`
	Image   string `json:"image"`
}

const (
	itemToday    = "today"
	itemTomorrow = "tomorrow"
)

// Fetch retrieves and reduces the current bulletin. A missing Today item is a
// malformed payload; a missing Tomorrow item is normal (nil in the result).
func (c *Client) Fetch(ctx context.Context) (Bulletin, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return Bulletin{}, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Bulletin{}, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		// Drain a little so the connection can be reused.
		_, _ = io.CopyN(io.Discard, resp.Body, 4096)
		return Bulletin{}, fmt.Errorf("%w: upstream status %d", ErrFetch, resp.StatusCode)
	}

	var holders []menuHolder
	if err := json.NewDecoder(resp.Body).Decode(&holders); err != nil {
		return Bulletin{}, fmt.Errorf("%w: decode: %v", ErrMalformed, err)
	}
	if len(holders) == 0 || len(holders[0].Menu) == 0 {
		return Bulletin{}, fmt.Errorf("%w: empty menu collection", ErrMalformed)
	}

	var out Bulletin
	foundToday := false
	for _, item := range holders[0].Menu {
		switch strings.ToLower(strings.TrimSpace(item.Name)) {
		case itemToday:
			out.Today = c.reduceItem(item)
			foundToday = true
		case itemTomorrow:
			d := c.reduceItem(item)
			out.Tomorrow = &d
		}
	}
	if !foundToday {
		return Bulletin{}, fmt.Errorf("%w: no %q item in menu", ErrMalformed, itemToday)
	}
	return out, nil
}

func (c *Client) reduceItem(item menuItem) Day {
	return Day{
		Text:     HTMLToText(item.Content),
		ImageURL: c.resolveImage(item.Image),
	}
}

func (c *Client) resolveImage(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}
	ref, err := url.Parse(path)
	if err != nil {
		return ""
	}
	if ref.IsAbs() {
		return ref.String()
	}
	return c.mediaBase.ResolveReference(ref).String()
}

var (
	lineBreakTags = regexp.MustCompile(`(?i)<\s*(?:br\s*/?|/p|/div|/li|/tr)\s*>`)
	anyTag        = regexp.MustCompile(`<[^>]*>`)
)

// HTMLToText reduces a flat publisher HTML fragment to plain text: block
// closers and <br> become newlines, remaining tags are dropped, entities are
// unescaped. Line-level cleanup is Normalize's job.
func HTMLToText(fragment string) string {
	s := lineBreakTags.ReplaceAllString(fragment, "\n")
	s = anyTag.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	s = strings.ReplaceAll(s, " ", " ")
	return s
}

// FetchTimeout exposes the client's transport timeout, which bounds how long a
// serialized check unit can stall on the upstream source.
func (c *Client) FetchTimeout() time.Duration { return c.http.Timeout }
