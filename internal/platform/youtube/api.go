package youtube

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"

	"github.com/nestwatch/nestwatch/internal/custodian"
	"github.com/nestwatch/nestwatch/internal/errors"
)

// APIFetcher reads from the YouTube Data API v3. One is built per scan from
// the account's authed client and discarded with it.
type APIFetcher struct {
	service *yt.Service
	seeds   []string
	opts    []option.ClientOption

	mu      sync.Mutex
	uploads map[string]string
}

// NewAPIFetcher builds a fetcher on the given grant. seeds is the configured
// fallback subscription list, empty when none is set. Extra options are
// passed through to the API client, which lets tests point it at a local
// server.
func NewAPIFetcher(ctx context.Context, authed *custodian.AuthedClient, seeds []string, opts ...option.ClientOption) (*APIFetcher, error) {
	svc, err := newService(ctx, authed.HTTP, opts)
	if err != nil {
		return nil, errors.WrapSystemError("youtube.service", err)
	}
	return &APIFetcher{
		service: svc,
		seeds:   seeds,
		opts:    opts,
		uploads: make(map[string]string),
	}, nil
}

func newService(ctx context.Context, hc *http.Client, opts []option.ClientOption) (*yt.Service, error) {
	all := append([]option.ClientOption{option.WithHTTPClient(hc)}, opts...)
	return yt.NewService(ctx, all...)
}

// ChannelDetails fetches one channel's profile and statistics.
func (f *APIFetcher) ChannelDetails(ctx context.Context, channelID string) (*ChannelDetails, error) {
	resp, err := f.service.Channels.List([]string{"snippet", "statistics", "topicDetails", "contentDetails"}).
		Id(channelID).
		Context(ctx).
		Do()
	if err != nil {
		return nil, classify("youtube.channel_details", err)
	}
	if len(resp.Items) == 0 {
		return nil, errors.WrapNotFoundError("youtube.channel_details", fmt.Errorf("channel %s not found", channelID))
	}

	ch := resp.Items[0]
	details := &ChannelDetails{ChannelID: ch.Id}
	if ch.Snippet != nil {
		details.Title = ch.Snippet.Title
		details.Description = ch.Snippet.Description
		details.ThumbnailURL = thumbnailURL(ch.Snippet.Thumbnails)
	}
	if ch.Statistics != nil {
		details.SubscriberCount = int64(ch.Statistics.SubscriberCount)
		details.VideoCount = int64(ch.Statistics.VideoCount)
	}
	if ch.TopicDetails != nil {
		details.TopicDetails = append(details.TopicDetails, ch.TopicDetails.TopicCategories...)
	}
	if ch.ContentDetails != nil && ch.ContentDetails.RelatedPlaylists != nil {
		details.UploadsPlaylist = ch.ContentDetails.RelatedPlaylists.Uploads
	}

	if details.UploadsPlaylist != "" {
		f.mu.Lock()
		f.uploads[ch.Id] = details.UploadsPlaylist
		f.mu.Unlock()
	}
	return details, nil
}

// RecentVideos lists a channel's newest uploads with full metadata, newest
// first, via the channel's uploads playlist.
func (f *APIFetcher) RecentVideos(ctx context.Context, channelID string, maxResults int64) ([]Video, error) {
	if maxResults <= 0 {
		maxResults = 1
	}
	if maxResults > 50 {
		maxResults = 50
	}

	playlistID, err := f.uploadsPlaylist(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if playlistID == "" {
		return nil, nil
	}

	items, err := f.service.PlaylistItems.List([]string{"snippet"}).
		PlaylistId(playlistID).
		MaxResults(maxResults).
		Context(ctx).
		Do()
	if err != nil {
		// A brand-new channel 404s its uploads playlist until the first
		// upload lands.
		var gerr *googleapi.Error
		if stderrors.As(err, &gerr) && gerr.Code == http.StatusNotFound {
			return nil, nil
		}
		return nil, classify("youtube.recent_videos", err)
	}

	var ids []string
	for _, item := range items.Items {
		if item.Snippet != nil && item.Snippet.ResourceId != nil && item.Snippet.ResourceId.VideoId != "" {
			ids = append(ids, item.Snippet.ResourceId.VideoId)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	resp, err := f.service.Videos.List([]string{"snippet", "contentDetails", "statistics"}).
		Id(strings.Join(ids, ",")).
		Context(ctx).
		Do()
	if err != nil {
		return nil, classify("youtube.recent_videos", err)
	}

	videos := make([]Video, 0, len(resp.Items))
	for _, item := range resp.Items {
		v := Video{VideoID: item.Id}
		if item.Snippet != nil {
			v.Title = item.Snippet.Title
			v.Description = item.Snippet.Description
			if ts, err := time.Parse(time.RFC3339, item.Snippet.PublishedAt); err == nil {
				published := ts.UTC()
				v.PublishedAt = &published
			}
		}
		if item.ContentDetails != nil {
			v.DurationSeconds = parseDurationSeconds(item.ContentDetails.Duration)
		}
		if item.Statistics != nil {
			v.ViewCount = int64(item.Statistics.ViewCount)
			v.LikeCount = int64(item.Statistics.LikeCount)
		}
		videos = append(videos, v)
	}
	return videos, nil
}

// uploadsPlaylist resolves a channel's uploads playlist ID, memoized for the
// fetcher's lifetime.
func (f *APIFetcher) uploadsPlaylist(ctx context.Context, channelID string) (string, error) {
	f.mu.Lock()
	id, ok := f.uploads[channelID]
	f.mu.Unlock()
	if ok {
		return id, nil
	}

	resp, err := f.service.Channels.List([]string{"contentDetails"}).
		Id(channelID).
		Context(ctx).
		Do()
	if err != nil {
		return "", classify("youtube.uploads_playlist", err)
	}
	if len(resp.Items) == 0 {
		return "", errors.WrapNotFoundError("youtube.uploads_playlist", fmt.Errorf("channel %s not found", channelID))
	}
	if cd := resp.Items[0].ContentDetails; cd != nil && cd.RelatedPlaylists != nil {
		id = cd.RelatedPlaylists.Uploads
	}

	f.mu.Lock()
	f.uploads[channelID] = id
	f.mu.Unlock()
	return id, nil
}

// SubscribedChannels lists every channel ID the account subscribes to,
// paginating until the API runs out. When the grant cannot list
// subscriptions and a seed list is configured, the seed list stands in so
// the scan still covers a known set of channels.
func (f *APIFetcher) SubscribedChannels(ctx context.Context, client *custodian.AuthedClient) ([]string, error) {
	svc := f.service
	if client != nil {
		s, err := newService(ctx, client.HTTP, f.opts)
		if err != nil {
			return nil, errors.WrapSystemError("youtube.subscriptions", err)
		}
		svc = s
	}

	var ids []string
	pageToken := ""
	for {
		call := svc.Subscriptions.List([]string{"snippet"}).Mine(true).MaxResults(50).Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := call.Do()
		if err != nil {
			var gerr *googleapi.Error
			if stderrors.As(err, &gerr) && gerr.Code == http.StatusForbidden && !quotaReason(gerr) && len(f.seeds) > 0 {
				log.Warn().Int("seed_channels", len(f.seeds)).
					Msg("Subscription listing is not permitted for this grant, using the seed list")
				return append([]string(nil), f.seeds...), nil
			}
			return nil, classify("youtube.subscriptions", err)
		}

		for _, sub := range resp.Items {
			if sub.Snippet != nil && sub.Snippet.ResourceId != nil && sub.Snippet.ResourceId.ChannelId != "" {
				ids = append(ids, sub.Snippet.ResourceId.ChannelId)
			}
		}
		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}
	return ids, nil
}

// OwnChannel returns the channel behind the grant itself. The link flow
// calls it once per exchange to learn which platform account it was just
// handed credentials for.
func OwnChannel(ctx context.Context, hc *http.Client, opts ...option.ClientOption) (*ChannelDetails, error) {
	svc, err := newService(ctx, hc, opts)
	if err != nil {
		return nil, errors.WrapSystemError("youtube.own_channel", err)
	}

	resp, err := svc.Channels.List([]string{"snippet"}).Mine(true).Context(ctx).Do()
	if err != nil {
		return nil, classify("youtube.own_channel", err)
	}
	if len(resp.Items) == 0 {
		return nil, errors.WrapNotFoundError("youtube.own_channel", fmt.Errorf("grant has no channel"))
	}

	ch := resp.Items[0]
	details := &ChannelDetails{ChannelID: ch.Id}
	if ch.Snippet != nil {
		details.Title = ch.Snippet.Title
		details.ThumbnailURL = thumbnailURL(ch.Snippet.Thumbnails)
	}
	return details, nil
}
