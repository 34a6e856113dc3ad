// Package youtube fetches the channel and video data a scan analyzes.
// The APIFetcher talks to the YouTube Data API v3 with the linked account's
// grant; CachedFetcher and Retrying layer the content cache and transient
// retry on top of any Fetcher.
package youtube

import (
	"context"
	stderrors "errors"
	"regexp"
	"strconv"
	"time"

	"google.golang.org/api/googleapi"
	yt "google.golang.org/api/youtube/v3"

	"github.com/nestwatch/nestwatch/internal/custodian"
	"github.com/nestwatch/nestwatch/internal/errors"
)

// ChannelDetails is a channel's public profile as fetched from the platform.
type ChannelDetails struct {
	ChannelID       string   `json:"channel_id"`
	Title           string   `json:"title"`
	Description     string   `json:"description,omitempty"`
	ThumbnailURL    string   `json:"thumbnail_url,omitempty"`
	SubscriberCount int64    `json:"subscriber_count,omitempty"`
	VideoCount      int64    `json:"video_count,omitempty"`
	TopicDetails    []string `json:"topic_details,omitempty"`
	UploadsPlaylist string   `json:"uploads_playlist,omitempty"`
}

// Video is one upload's metadata, the unit the analyzer works on.
type Video struct {
	VideoID         string     `json:"video_id"`
	Title           string     `json:"title"`
	Description     string     `json:"description,omitempty"`
	PublishedAt     *time.Time `json:"published_at,omitempty"`
	DurationSeconds int64      `json:"duration_seconds,omitempty"`
	ViewCount       int64      `json:"view_count,omitempty"`
	LikeCount       int64      `json:"like_count,omitempty"`
}

// Fetcher is what the scan worker reads channel data through. Channel and
// video lookups return public data through whatever client the fetcher was
// built with; SubscribedChannels takes the account's client explicitly
// because its result is specific to that grant.
type Fetcher interface {
	ChannelDetails(ctx context.Context, channelID string) (*ChannelDetails, error)
	RecentVideos(ctx context.Context, channelID string, maxResults int64) ([]Video, error)
	SubscribedChannels(ctx context.Context, client *custodian.AuthedClient) ([]string, error)
}

var durationPattern = regexp.MustCompile(`PT(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?`)

// parseDurationSeconds converts an ISO 8601 duration like "PT2H15M30S" to
// seconds. Anything unparseable is 0.
func parseDurationSeconds(duration string) int64 {
	matches := durationPattern.FindStringSubmatch(duration)
	if len(matches) == 0 {
		return 0
	}

	var total int64
	for i, unit := range []int64{3600, 60, 1} {
		if matches[i+1] == "" {
			continue
		}
		if n, err := strconv.ParseInt(matches[i+1], 10, 64); err == nil {
			total += n * unit
		}
	}
	return total
}

// classify maps an upstream call failure onto the scan error taxonomy.
// googleapi errors carry the HTTP status; everything else (DNS, resets,
// timeouts) is transient and the next tick retries it.
func classify(op string, err error) error {
	var gerr *googleapi.Error
	if stderrors.As(err, &gerr) {
		return errors.WrapAPIError(op, err, gerr.Code)
	}
	return errors.WrapTransientError(op, err)
}

// quotaReason reports whether a 403 is quota pressure rather than a scope
// problem. Quota recovers on its own; a missing scope never will.
func quotaReason(gerr *googleapi.Error) bool {
	for _, item := range gerr.Errors {
		switch item.Reason {
		case "quotaExceeded", "rateLimitExceeded", "userRateLimitExceeded":
			return true
		}
	}
	return false
}

// thumbnailURL picks the best available thumbnail size.
func thumbnailURL(t *yt.ThumbnailDetails) string {
	if t == nil {
		return ""
	}
	for _, tn := range []*yt.Thumbnail{t.High, t.Medium, t.Default} {
		if tn != nil && tn.Url != "" {
			return tn.Url
		}
	}
	return ""
}
