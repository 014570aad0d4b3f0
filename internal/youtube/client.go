package youtube

import (
	"context"
	"errors"
	"fmt"
	"time"

	"face-scout-go/config"

	log "github.com/sirupsen/logrus"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"
)

// channelBatchSize is the maximum number of IDs the channels/videos list
// endpoints accept per call.
const channelBatchSize = 50

// Client wraps the YouTube Data API v3 service.
type Client struct {
	service    *youtube.Service
	maxResults int64
	regionCode string
	pause      time.Duration
}

// SearchItem is one video hit from a search page.
type SearchItem struct {
	VideoID      string
	Title        string
	Description  string
	ChannelID    string
	ChannelTitle string
	PublishedAt  time.Time
	ThumbnailURL string
}

// ChannelInfo carries the statistics fetched for a channel.
type ChannelInfo struct {
	ID          string
	Title       string
	Subscribers int64
	AvatarURL   string
}

// SearchOptions narrows a video search.
type SearchOptions struct {
	Query      string
	CategoryID string
}

// NewClient builds a Data API client authenticated with an API key.
func NewClient(ctx context.Context, cfg config.YouTubeConfig) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("youtube.api_key is not configured")
	}

	service, err := youtube.NewService(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create youtube service: %w", err)
	}

	maxResults := cfg.MaxResults
	if maxResults <= 0 || maxResults > 50 {
		maxResults = 50
	}

	return &Client{
		service:    service,
		maxResults: maxResults,
		regionCode: cfg.RegionCode,
		pause:      time.Duration(cfg.RequestPauseMs) * time.Millisecond,
	}, nil
}

// SearchVideosDay returns all video hits published on the given UTC day,
// following pagination until the API stops returning pages.
func (c *Client) SearchVideosDay(ctx context.Context, day time.Time, opts SearchOptions) ([]SearchItem, error) {
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.AddDate(0, 0, 1)

	var items []SearchItem
	pageToken := ""
	for {
		call := c.service.Search.List([]string{"snippet"}).
			Type("video").
			Order("date").
			PublishedAfter(dayStart.Format(time.RFC3339)).
			PublishedBefore(dayEnd.Format(time.RFC3339)).
			MaxResults(c.maxResults).
			Context(ctx)
		if opts.Query != "" {
			call = call.Q(opts.Query)
		}
		if opts.CategoryID != "" {
			call = call.VideoCategoryId(opts.CategoryID)
		}
		if c.regionCode != "" {
			call = call.RegionCode(c.regionCode)
		}
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		resp, err := call.Do()
		if err != nil {
			return items, fmt.Errorf("search for %s failed: %w", dayStart.Format("2006-01-02"), err)
		}

		for _, result := range resp.Items {
			if result.Id == nil || result.Id.VideoId == "" || result.Snippet == nil {
				continue
			}
			published, _ := time.Parse(time.RFC3339, result.Snippet.PublishedAt)
			items = append(items, SearchItem{
				VideoID:      result.Id.VideoId,
				Title:        result.Snippet.Title,
				Description:  result.Snippet.Description,
				ChannelID:    result.Snippet.ChannelId,
				ChannelTitle: result.Snippet.ChannelTitle,
				PublishedAt:  published,
				ThumbnailURL: bestThumbnail(result.Snippet.Thumbnails),
			})
		}

		pageToken = resp.NextPageToken
		if pageToken == "" || len(resp.Items) == 0 {
			break
		}
	}
	return items, nil
}

// ChannelStats fetches subscriber counts and avatar URLs for the given
// channel IDs, batched at the API limit with a short pause between calls.
func (c *Client) ChannelStats(ctx context.Context, channelIDs []string) (map[string]ChannelInfo, error) {
	stats := make(map[string]ChannelInfo, len(channelIDs))
	chunks := chunkIDs(channelIDs, channelBatchSize)
	for i, chunk := range chunks {
		resp, err := c.service.Channels.List([]string{"snippet", "statistics"}).
			Id(chunk...).
			MaxResults(int64(len(chunk))).
			Context(ctx).
			Do()
		if err != nil {
			return stats, fmt.Errorf("channel statistics lookup failed: %w", err)
		}

		for _, ch := range resp.Items {
			info := ChannelInfo{ID: ch.Id}
			if ch.Snippet != nil {
				info.Title = ch.Snippet.Title
				info.AvatarURL = bestThumbnail(ch.Snippet.Thumbnails)
			}
			// Hidden subscriber counts are reported as zero and will not
			// pass any positive threshold.
			if ch.Statistics != nil && !ch.Statistics.HiddenSubscriberCount {
				info.Subscribers = int64(ch.Statistics.SubscriberCount)
			}
			stats[ch.Id] = info
		}

		if i < len(chunks)-1 {
			if err := sleepCtx(ctx, c.pause); err != nil {
				return stats, err
			}
		}
	}
	return stats, nil
}

// ChannelActive reports whether the channel published at least one video
// inside the given window.
func (c *Client) ChannelActive(ctx context.Context, channelID string, window time.Duration) (bool, error) {
	since := time.Now().UTC().Add(-window)
	resp, err := c.service.Search.List([]string{"id"}).
		ChannelId(channelID).
		Type("video").
		PublishedAfter(since.Format(time.RFC3339)).
		MaxResults(1).
		Context(ctx).
		Do()
	if err != nil {
		return false, fmt.Errorf("activity check for channel %s failed: %w", channelID, err)
	}
	return len(resp.Items) > 0, nil
}

// VideoDurations fetches the duration in seconds for the given video IDs,
// batched at the API limit.
func (c *Client) VideoDurations(ctx context.Context, videoIDs []string) (map[string]int, error) {
	durations := make(map[string]int, len(videoIDs))
	chunks := chunkIDs(videoIDs, channelBatchSize)
	for i, chunk := range chunks {
		resp, err := c.service.Videos.List([]string{"contentDetails"}).
			Id(chunk...).
			MaxResults(int64(len(chunk))).
			Context(ctx).
			Do()
		if err != nil {
			return durations, fmt.Errorf("video duration lookup failed: %w", err)
		}

		for _, v := range resp.Items {
			if v.ContentDetails == nil || v.ContentDetails.Duration == "" {
				continue
			}
			seconds, err := ParseISODuration(v.ContentDetails.Duration)
			if err != nil {
				log.Warnf("Unparseable duration %q for video %s: %v", v.ContentDetails.Duration, v.Id, err)
				continue
			}
			durations[v.Id] = seconds
		}

		if i < len(chunks)-1 {
			if err := sleepCtx(ctx, c.pause); err != nil {
				return durations, err
			}
		}
	}
	return durations, nil
}

// IsQuotaExceeded reports whether the error is the Data API signalling an
// exhausted quota (HTTP 403 with a quota reason).
func IsQuotaExceeded(err error) bool {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.Code != 403 {
		return false
	}
	for _, item := range apiErr.Errors {
		if item.Reason == "quotaExceeded" || item.Reason == "dailyLimitExceeded" {
			return true
		}
	}
	return false
}

// bestThumbnail picks the highest-resolution thumbnail URL available.
func bestThumbnail(t *youtube.ThumbnailDetails) string {
	if t == nil {
		return ""
	}
	for _, thumb := range []*youtube.Thumbnail{t.Maxres, t.Standard, t.High, t.Medium, t.Default} {
		if thumb != nil && thumb.Url != "" {
			return thumb.Url
		}
	}
	return ""
}

// chunkIDs splits ids into slices of at most size elements.
func chunkIDs(ids []string, size int) [][]string {
	if len(ids) == 0 {
		return nil
	}
	var chunks [][]string
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		chunks = append(chunks, ids[start:end])
	}
	return chunks
}

// sleepCtx pauses for d or until the context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
