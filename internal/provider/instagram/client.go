// Package instagram is the photo feed client. It talks to the Instagram
// Graph API over plain HTTP: one call lists an account's recent media
// together with the account name, one call per media item fetches its detail.
package instagram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/njoerd114/mediarelay/internal/model"
	"github.com/njoerd114/mediarelay/internal/provider"
)

// DefaultBaseURL is the Graph API root.
const DefaultBaseURL = "https://graph.instagram.com/v21.0"

const (
	timestampLayout = "2006-01-02T15:04:05-0700"
	maxErrorBody    = 512
)

var hashtagRe = regexp.MustCompile(`#([\p{L}\p{N}_]+)`)

// Client lists and fetches media of Instagram accounts.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	retry   provider.RetryPolicy
	log     *slog.Logger
}

// Option configures a [Client].
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRetryPolicy replaces [provider.DefaultRetryPolicy].
func WithRetryPolicy(p provider.RetryPolicy) Option {
	return func(c *Client) { c.retry = p }
}

// New creates a Client. An empty baseURL selects [DefaultBaseURL].
func New(baseURL, accessToken string, logger *slog.Logger, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   accessToken,
		http:    &http.Client{Timeout: 30 * time.Second},
		retry:   provider.DefaultRetryPolicy,
		log:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type accountResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Media    struct {
		Data []struct {
			ID        string `json:"id"`
			Timestamp string `json:"timestamp"`
		} `json:"data"`
	} `json:"media"`
}

type mediaResponse struct {
	ID           string `json:"id"`
	Caption      string `json:"caption"`
	MediaType    string `json:"media_type"`
	MediaURL     string `json:"media_url"`
	Permalink    string `json:"permalink"`
	ThumbnailURL string `json:"thumbnail_url"`
	Timestamp    string `json:"timestamp"`
	Username     string `json:"username"`
}

// ListItems returns up to limit of the account's most recent media, newest
// first.
func (c *Client) ListItems(ctx context.Context, accountID string, limit int) (model.Listing, error) {
	if limit <= 0 {
		limit = 1
	}
	q := url.Values{}
	q.Set("fields", "id,username,media.limit("+strconv.Itoa(limit)+"){id,timestamp}")

	var resp accountResponse
	if err := c.get(ctx, "list "+accountID, accountID, q, &resp); err != nil {
		return model.Listing{}, err
	}

	listing := model.Listing{SourceTitle: resp.Username}
	for _, m := range resp.Media.Data {
		if m.ID == "" {
			continue
		}
		listing.Items = append(listing.Items, model.RemoteItemStub{
			RemoteID:    m.ID,
			PublishedAt: parseTimestamp(m.Timestamp),
		})
		if len(listing.Items) == limit {
			break
		}
	}
	return listing, nil
}

// FetchDetail fetches one media item. The item has no title; its caption is
// the body and its hashtags become tags.
func (c *Client) FetchDetail(ctx context.Context, stub model.RemoteItemStub) (*model.RemoteItem, error) {
	q := url.Values{}
	q.Set("fields", "id,caption,media_type,media_url,permalink,thumbnail_url,timestamp,username")

	var m mediaResponse
	if err := c.get(ctx, "detail "+stub.RemoteID, stub.RemoteID, q, &m); err != nil {
		return nil, err
	}
	if m.ID == "" {
		m.ID = stub.RemoteID
	}

	item := &model.RemoteItem{
		RemoteID:    m.ID,
		Author:      m.Username,
		PublishedAt: parseTimestamp(m.Timestamp),
		Body:        m.Caption,
		MediaURL:    m.Permalink,
		Tags:        Hashtags(m.Caption),
	}
	if item.PublishedAt.IsZero() {
		item.PublishedAt = stub.PublishedAt
	}
	switch m.MediaType {
	case "VIDEO":
		item.ThumbnailURL = m.ThumbnailURL
	default:
		item.ThumbnailURL = m.MediaURL
	}
	return item, nil
}

func (c *Client) get(ctx context.Context, op, node string, q url.Values, dst any) error {
	endpoint := c.baseURL + "/" + url.PathEscape(node) + "?" + q.Encode()

	_, err := provider.Retry(ctx, c.retry, c.log, op, func() (struct{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return struct{}{}, err
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.token)

		resp, err := c.http.Do(req)
		if err != nil {
			return struct{}{}, redactURL(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
			return struct{}{}, &provider.HTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
		}
		if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
			return struct{}{}, fmt.Errorf("decoding response: %w", err)
		}
		return struct{}{}, nil
	})
	if err != nil {
		return fmt.Errorf("instagram %s: %w", op, err)
	}
	return nil
}

// redactURL drops the query string from a transport error so request
// parameters never reach logs or outcomes.
func redactURL(err error) error {
	var urlErr *url.Error
	if !errors.As(err, &urlErr) {
		return err
	}
	u, perr := url.Parse(urlErr.URL)
	if perr != nil {
		return &url.Error{Op: urlErr.Op, URL: "", Err: urlErr.Err}
	}
	u.RawQuery = ""
	return &url.Error{Op: urlErr.Op, URL: u.String(), Err: urlErr.Err}
}

// Hashtags returns the distinct hashtags of a caption in order of first
// appearance, without the leading '#'.
func Hashtags(caption string) []string {
	var tags []string
	seen := make(map[string]bool)
	for _, m := range hashtagRe.FindAllStringSubmatch(caption, -1) {
		tag := m[1]
		key := strings.ToLower(tag)
		if seen[key] {
			continue
		}
		seen[key] = true
		tags = append(tags, tag)
	}
	return tags
}

func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{timestampLayout, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
