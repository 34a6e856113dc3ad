package youtube

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/nestwatch/nestwatch/internal/cache"
	"github.com/nestwatch/nestwatch/internal/custodian"
)

// fetchGroup collapses concurrent fetches of the same key across scans so
// parallel workers do not stampede the API for a channel they share.
var fetchGroup singleflight.Group

// CachedFetcher reads channel data through the content cache. Entries are
// JSON under channel_details:{id} and recent_videos:{id}; fetch failures
// pass through uncached so the next attempt hits the API again. Cache
// errors degrade to a plain fetch.
type CachedFetcher struct {
	inner Fetcher
	cache cache.Cache
	ttl   time.Duration
}

func NewCachedFetcher(inner Fetcher, c cache.Cache, ttl time.Duration) *CachedFetcher {
	return &CachedFetcher{inner: inner, cache: c, ttl: ttl}
}

func (f *CachedFetcher) ChannelDetails(ctx context.Context, channelID string) (*ChannelDetails, error) {
	key := fmt.Sprintf("channel_details:%s", channelID)

	var cached ChannelDetails
	if ok, err := f.cache.Get(ctx, key, &cached); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Cache read failed, fetching from API")
	} else if ok {
		return &cached, nil
	}

	v, err, _ := fetchGroup.Do(key, func() (any, error) {
		details, err := f.inner.ChannelDetails(ctx, channelID)
		if err != nil {
			return nil, err
		}
		if err := f.cache.Set(ctx, key, details, f.ttl); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("Cache write failed")
		}
		return details, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*ChannelDetails), nil
}

func (f *CachedFetcher) RecentVideos(ctx context.Context, channelID string, maxResults int64) ([]Video, error) {
	key := fmt.Sprintf("recent_videos:%s", channelID)

	var cached []Video
	if ok, err := f.cache.Get(ctx, key, &cached); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Cache read failed, fetching from API")
	} else if ok {
		// An entry written under an older, larger limit still serves a
		// smaller request.
		if maxResults > 0 && int64(len(cached)) > maxResults {
			cached = cached[:maxResults]
		}
		return cached, nil
	}

	v, err, _ := fetchGroup.Do(key, func() (any, error) {
		videos, err := f.inner.RecentVideos(ctx, channelID, maxResults)
		if err != nil {
			return nil, err
		}
		if err := f.cache.Set(ctx, key, videos, f.ttl); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("Cache write failed")
		}
		return videos, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]Video), nil
}

// SubscribedChannels is never cached. The subscription list is specific to
// the account and decides what a scan covers; staleness there would hide a
// new subscription for up to a day.
func (f *CachedFetcher) SubscribedChannels(ctx context.Context, client *custodian.AuthedClient) ([]string, error) {
	return f.inner.SubscribedChannels(ctx, client)
}
