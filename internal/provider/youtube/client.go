// Package youtube is the video feed client, built on the YouTube Data API v3.
// A channel's listing is its uploads playlist, newest first.
package youtube

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"

	"github.com/njoerd114/mediarelay/internal/model"
	"github.com/njoerd114/mediarelay/internal/provider"
)

const (
	watchURL = "https://www.youtube.com/watch?v="

	// maxPageSize is the API's maxResults ceiling for playlist items.
	maxPageSize = 50
)

// ErrChannelNotFound is returned when the API knows no channel by that ID.
var ErrChannelNotFound = errors.New("channel not found")

// Config selects how the client reaches the API.
type Config struct {
	APIKey string
	// Endpoint overrides the API root, e.g. for a test server.
	Endpoint string
	// HTTPClient replaces the transport. API key authentication is then the
	// caller's responsibility.
	HTTPClient *http.Client
	Retry      provider.RetryPolicy
}

type channelInfo struct {
	title   string
	uploads string
}

// Client lists and fetches videos of YouTube channels.
type Client struct {
	svc   *yt.Service
	retry provider.RetryPolicy
	log   *slog.Logger

	mu       sync.Mutex
	channels map[string]channelInfo
}

// New creates a Client. A zero Retry policy selects
// [provider.DefaultRetryPolicy].
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	var opts []option.ClientOption
	switch {
	case cfg.HTTPClient != nil:
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	case cfg.APIKey != "":
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	default:
		return nil, fmt.Errorf("youtube API key is required")
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	svc, err := yt.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating youtube service: %w", err)
	}

	retry := cfg.Retry
	if retry.MaxAttempts == 0 {
		retry = provider.DefaultRetryPolicy
	}
	return &Client{
		svc:      svc,
		retry:    retry,
		log:      logger,
		channels: make(map[string]channelInfo),
	}, nil
}

// ListItems returns up to limit of the channel's most recent uploads.
func (c *Client) ListItems(ctx context.Context, channelID string, limit int) (model.Listing, error) {
	ch, err := c.channel(ctx, channelID)
	if err != nil {
		return model.Listing{}, err
	}

	listing := model.Listing{SourceTitle: ch.title}
	pageToken := ""
	for len(listing.Items) < limit {
		call := c.svc.PlaylistItems.List([]string{"snippet", "contentDetails"}).
			PlaylistId(ch.uploads).
			MaxResults(int64(min(limit-len(listing.Items), maxPageSize)))
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		resp, err := provider.Retry(ctx, c.retry, c.log, "playlistItems.list", func() (*yt.PlaylistItemListResponse, error) {
			return call.Context(ctx).Do()
		})
		if err != nil {
			return model.Listing{}, fmt.Errorf("youtube listing uploads of %s: %w", channelID, err)
		}

		for _, it := range resp.Items {
			stub, ok := stubFromPlaylistItem(it)
			if !ok {
				continue
			}
			listing.Items = append(listing.Items, stub)
			if len(listing.Items) == limit {
				break
			}
		}
		if resp.NextPageToken == "" || len(resp.Items) == 0 {
			break
		}
		pageToken = resp.NextPageToken
	}
	return listing, nil
}

// FetchDetail fetches one video's snippet.
func (c *Client) FetchDetail(ctx context.Context, stub model.RemoteItemStub) (*model.RemoteItem, error) {
	resp, err := provider.Retry(ctx, c.retry, c.log, "videos.list", func() (*yt.VideoListResponse, error) {
		return c.svc.Videos.List([]string{"snippet"}).Id(stub.RemoteID).Context(ctx).Do()
	})
	if err != nil {
		return nil, fmt.Errorf("youtube fetching video %s: %w", stub.RemoteID, err)
	}
	if len(resp.Items) == 0 || resp.Items[0].Snippet == nil {
		return nil, fmt.Errorf("youtube video %s not found", stub.RemoteID)
	}

	v := resp.Items[0]
	s := v.Snippet
	item := &model.RemoteItem{
		RemoteID:     v.Id,
		Title:        s.Title,
		Author:       s.ChannelTitle,
		PublishedAt:  parseTime(s.PublishedAt),
		Body:         s.Description,
		MediaURL:     watchURL + v.Id,
		ThumbnailURL: bestThumbnail(s.Thumbnails),
		Tags:         s.Tags,
	}
	if item.RemoteID == "" {
		item.RemoteID = stub.RemoteID
		item.MediaURL = watchURL + stub.RemoteID
	}
	if item.PublishedAt.IsZero() {
		item.PublishedAt = stub.PublishedAt
	}
	return item, nil
}

// channel looks up the channel's title and uploads playlist, falling back to
// the last successful lookup when the API call fails.
func (c *Client) channel(ctx context.Context, channelID string) (channelInfo, error) {
	resp, err := provider.Retry(ctx, c.retry, c.log, "channels.list", func() (*yt.ChannelListResponse, error) {
		return c.svc.Channels.List([]string{"snippet", "contentDetails"}).Id(channelID).Context(ctx).Do()
	})
	if err != nil {
		c.mu.Lock()
		cached, ok := c.channels[channelID]
		c.mu.Unlock()
		if ok && !errors.Is(err, context.Canceled) {
			c.log.Warn("channel lookup failed, using cached uploads playlist",
				"channel_id", channelID, "error", err)
			return cached, nil
		}
		return channelInfo{}, fmt.Errorf("youtube looking up channel %s: %w", channelID, err)
	}
	if len(resp.Items) == 0 {
		return channelInfo{}, fmt.Errorf("youtube channel %s: %w", channelID, ErrChannelNotFound)
	}

	ch := resp.Items[0]
	var info channelInfo
	if ch.Snippet != nil {
		info.title = ch.Snippet.Title
	}
	if ch.ContentDetails != nil && ch.ContentDetails.RelatedPlaylists != nil {
		info.uploads = ch.ContentDetails.RelatedPlaylists.Uploads
	}
	if info.uploads == "" {
		return channelInfo{}, fmt.Errorf("youtube channel %s has no uploads playlist", channelID)
	}

	c.mu.Lock()
	c.channels[channelID] = info
	c.mu.Unlock()
	return info, nil
}

func stubFromPlaylistItem(it *yt.PlaylistItem) (model.RemoteItemStub, bool) {
	var stub model.RemoteItemStub
	if it.ContentDetails != nil {
		stub.RemoteID = it.ContentDetails.VideoId
		stub.PublishedAt = parseTime(it.ContentDetails.VideoPublishedAt)
	}
	if it.Snippet != nil {
		stub.Title = it.Snippet.Title
		if stub.RemoteID == "" && it.Snippet.ResourceId != nil {
			stub.RemoteID = it.Snippet.ResourceId.VideoId
		}
		if stub.PublishedAt.IsZero() {
			stub.PublishedAt = parseTime(it.Snippet.PublishedAt)
		}
	}
	return stub, stub.RemoteID != ""
}

func bestThumbnail(t *yt.ThumbnailDetails) string {
	if t == nil {
		return ""
	}
	for _, th := range []*yt.Thumbnail{t.Maxres, t.Standard, t.High, t.Medium, t.Default} {
		if th != nil && th.Url != "" {
			return th.Url
		}
	}
	return ""
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
