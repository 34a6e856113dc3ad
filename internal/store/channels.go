package store

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"

	"github.com/nestwatch/nestwatch/internal/errors"
	"github.com/nestwatch/nestwatch/internal/models"
)

const channelColumns = `id, linked_account_id, channel_id, title, description, thumbnail_url,
	subscriber_count, video_count, topic_details, last_fetched_at, created_at, updated_at`

// UpsertChannel refreshes (or first records) a channel seen on an account's
// subscription list.
func (s *Store) UpsertChannel(ctx context.Context, ch *models.SubscribedChannel) (*models.SubscribedChannel, error) {
	return upsertChannel(ctx, s.db, ch)
}

// UpsertChannelTx is UpsertChannel inside a caller-held transaction.
func (s *Store) UpsertChannelTx(ctx context.Context, tx *sql.Tx, ch *models.SubscribedChannel) (*models.SubscribedChannel, error) {
	return upsertChannel(ctx, tx, ch)
}

func upsertChannel(ctx context.Context, q execer, ch *models.SubscribedChannel) (*models.SubscribedChannel, error) {
	if ch.LinkedAccountID == 0 {
		return nil, errors.WrapValidationError("store.upsert_channel", fmt.Errorf("linked account id required"))
	}
	if ch.ChannelID == "" {
		return nil, errors.WrapValidationError("store.upsert_channel", fmt.Errorf("channel id required"))
	}

	topics, err := encodeStrings(ch.TopicDetails)
	if err != nil {
		return nil, err
	}
	now := nowUTC()
	_, err = q.ExecContext(ctx, `
		INSERT INTO subscribed_channels (
			linked_account_id, channel_id, title, description, thumbnail_url,
			subscriber_count, video_count, topic_details, last_fetched_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(linked_account_id, channel_id) DO UPDATE SET
			title=excluded.title,
			description=excluded.description,
			thumbnail_url=excluded.thumbnail_url,
			subscriber_count=excluded.subscriber_count,
			video_count=excluded.video_count,
			topic_details=excluded.topic_details,
			last_fetched_at=excluded.last_fetched_at,
			updated_at=excluded.updated_at`,
		ch.LinkedAccountID, ch.ChannelID, ch.Title, ch.Description, ch.ThumbnailURL,
		ch.SubscriberCount, ch.VideoCount, topics, nullTime(ch.LastFetchedAt), now, now)
	if err != nil {
		return nil, fmt.Errorf("upsert channel %q for account %d: %w", ch.ChannelID, ch.LinkedAccountID, err)
	}

	stored, err := scanChannel(q.QueryRowContext(ctx,
		`SELECT `+channelColumns+` FROM subscribed_channels WHERE linked_account_id = ? AND channel_id = ?`,
		ch.LinkedAccountID, ch.ChannelID))
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// GetChannel returns a channel row by id.
func (s *Store) GetChannel(ctx context.Context, id int64) (*models.SubscribedChannel, error) {
	ch, err := scanChannel(s.db.QueryRowContext(ctx,
		`SELECT `+channelColumns+` FROM subscribed_channels WHERE id = ?`, id))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("channel: %w", errors.ErrNotFound)
	}
	return ch, err
}

// ListChannelsByAccount returns the known subscription list for an account.
func (s *Store) ListChannelsByAccount(ctx context.Context, accountID int64) (channels []*models.SubscribedChannel, err error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+channelColumns+` FROM subscribed_channels WHERE linked_account_id = ? ORDER BY id`, accountID)
	if err != nil {
		return nil, fmt.Errorf("query channels: %w", err)
	}
	defer closeRows(rows, &err, "channels")

	for rows.Next() {
		ch, scanErr := scanChannel(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		channels = append(channels, ch)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("iterate channels: %w", rowsErr)
	}
	return channels, nil
}

func scanChannel(row rowScanner) (*models.SubscribedChannel, error) {
	var (
		ch          models.SubscribedChannel
		title       sql.NullString
		description sql.NullString
		thumbnail   sql.NullString
		topics      sql.NullString
		fetchedAt   sql.NullTime
	)
	err := row.Scan(&ch.ID, &ch.LinkedAccountID, &ch.ChannelID, &title, &description, &thumbnail,
		&ch.SubscriberCount, &ch.VideoCount, &topics, &fetchedAt, &ch.CreatedAt, &ch.UpdatedAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan channel row: %w", err)
	}
	ch.Title = title.String
	ch.Description = description.String
	ch.ThumbnailURL = thumbnail.String
	ch.LastFetchedAt = timePtr(fetchedAt)
	if ch.TopicDetails, err = decodeStrings(topics); err != nil {
		return nil, err
	}
	return &ch, nil
}
