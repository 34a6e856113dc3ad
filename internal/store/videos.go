package store

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"

	"github.com/nestwatch/nestwatch/internal/errors"
	"github.com/nestwatch/nestwatch/internal/models"
)

const videoColumns = `id, channel_id, video_platform_id, title, description, published_at,
	duration, view_count, like_count, created_at, updated_at`

// UpsertVideo records an upload, keyed by its platform id; re-scans refresh
// the metadata in place.
func (s *Store) UpsertVideo(ctx context.Context, v *models.AnalyzedVideo) (*models.AnalyzedVideo, error) {
	return upsertVideo(ctx, s.db, v)
}

// UpsertVideoTx is UpsertVideo inside a caller-held transaction.
func (s *Store) UpsertVideoTx(ctx context.Context, tx *sql.Tx, v *models.AnalyzedVideo) (*models.AnalyzedVideo, error) {
	return upsertVideo(ctx, tx, v)
}

func upsertVideo(ctx context.Context, q execer, v *models.AnalyzedVideo) (*models.AnalyzedVideo, error) {
	if v.ChannelID == 0 {
		return nil, errors.WrapValidationError("store.upsert_video", fmt.Errorf("channel id required"))
	}
	if v.VideoPlatformID == "" {
		return nil, errors.WrapValidationError("store.upsert_video", fmt.Errorf("video platform id required"))
	}

	now := nowUTC()
	_, err := q.ExecContext(ctx, `
		INSERT INTO analyzed_videos (
			channel_id, video_platform_id, title, description, published_at,
			duration, view_count, like_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(video_platform_id) DO UPDATE SET
			channel_id=excluded.channel_id,
			title=excluded.title,
			description=excluded.description,
			published_at=excluded.published_at,
			duration=excluded.duration,
			view_count=excluded.view_count,
			like_count=excluded.like_count,
			updated_at=excluded.updated_at`,
		v.ChannelID, v.VideoPlatformID, v.Title, v.Description, nullTime(v.PublishedAt),
		v.DurationSeconds, v.ViewCount, v.LikeCount, now, now)
	if err != nil {
		return nil, fmt.Errorf("upsert video %q: %w", v.VideoPlatformID, err)
	}

	return getVideoByPlatformID(ctx, q, v.VideoPlatformID)
}

// GetVideoByPlatformID returns the video row for a platform id.
func (s *Store) GetVideoByPlatformID(ctx context.Context, platformID string) (*models.AnalyzedVideo, error) {
	return getVideoByPlatformID(ctx, s.db, platformID)
}

func getVideoByPlatformID(ctx context.Context, q execer, platformID string) (*models.AnalyzedVideo, error) {
	v, err := scanVideo(q.QueryRowContext(ctx,
		`SELECT `+videoColumns+` FROM analyzed_videos WHERE video_platform_id = ?`, platformID))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("video: %w", errors.ErrNotFound)
	}
	return v, err
}

// ListVideosByChannel returns the analyzed uploads of one channel row,
// newest published first.
func (s *Store) ListVideosByChannel(ctx context.Context, channelID int64) (videos []*models.AnalyzedVideo, err error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+videoColumns+` FROM analyzed_videos WHERE channel_id = ?
		 ORDER BY published_at DESC, id DESC`, channelID)
	if err != nil {
		return nil, fmt.Errorf("query videos: %w", err)
	}
	defer closeRows(rows, &err, "videos")

	for rows.Next() {
		v, scanErr := scanVideo(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		videos = append(videos, v)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("iterate videos: %w", rowsErr)
	}
	return videos, nil
}

func scanVideo(row rowScanner) (*models.AnalyzedVideo, error) {
	var (
		v           models.AnalyzedVideo
		title       sql.NullString
		description sql.NullString
		publishedAt sql.NullTime
	)
	err := row.Scan(&v.ID, &v.ChannelID, &v.VideoPlatformID, &title, &description, &publishedAt,
		&v.DurationSeconds, &v.ViewCount, &v.LikeCount, &v.CreatedAt, &v.UpdatedAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan video row: %w", err)
	}
	v.Title = title.String
	v.Description = description.String
	v.PublishedAt = timePtr(publishedAt)
	return &v, nil
}
