package youtube

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nestwatch/nestwatch/internal/custodian"
	"github.com/nestwatch/nestwatch/internal/errors"
)

// maxRetries bounds how many times a failed call is repeated on top of the
// first attempt.
const maxRetries = 3

// retryBaseDelay is the first backoff step and doubles per retry, so the
// full schedule is 1s, 2s, 4s. Tests shrink it.
var retryBaseDelay = time.Second

// Retrying wraps a Fetcher with bounded retry on transient failures. Auth,
// not-found, and validation failures return immediately.
type Retrying struct {
	inner Fetcher
}

func NewRetrying(inner Fetcher) *Retrying {
	return &Retrying{inner: inner}
}

func retryTransient(ctx context.Context, fn func() error) error {
	delay := retryBaseDelay
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if attempt == maxRetries || !errors.IsRetryableError(err) {
			return err
		}
		log.Debug().Err(err).Int("attempt", attempt+1).Dur("delay", delay).
			Msg("Transient platform error, backing off")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
}

func (f *Retrying) ChannelDetails(ctx context.Context, channelID string) (*ChannelDetails, error) {
	var out *ChannelDetails
	err := retryTransient(ctx, func() error {
		var err error
		out, err = f.inner.ChannelDetails(ctx, channelID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (f *Retrying) RecentVideos(ctx context.Context, channelID string, maxResults int64) ([]Video, error) {
	var out []Video
	err := retryTransient(ctx, func() error {
		var err error
		out, err = f.inner.RecentVideos(ctx, channelID, maxResults)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (f *Retrying) SubscribedChannels(ctx context.Context, client *custodian.AuthedClient) ([]string, error) {
	var out []string
	err := retryTransient(ctx, func() error {
		var err error
		out, err = f.inner.SubscribedChannels(ctx, client)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
