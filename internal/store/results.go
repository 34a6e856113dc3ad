package store

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"

	"github.com/nestwatch/nestwatch/internal/errors"
	"github.com/nestwatch/nestwatch/internal/models"
)

const resultColumns = `id, video_id, channel_id, risk_category, severity, flagged_text,
	keywords_matched, confidence_score, marked_not_harmful, marked_not_harmful_at,
	marked_not_harmful_by, created_at, updated_at`

// UpsertResult records one category flag on a video. A repeat observation
// unions the matched keywords into the stored row and keeps the higher
// severity and confidence; review state is never touched. The returned bool
// reports whether the flag is new.
func (s *Store) UpsertResult(ctx context.Context, r *models.AnalysisResult) (*models.AnalysisResult, bool, error) {
	return upsertResult(ctx, s.db, r)
}

// UpsertResultTx is UpsertResult inside a caller-held transaction.
func (s *Store) UpsertResultTx(ctx context.Context, tx *sql.Tx, r *models.AnalysisResult) (*models.AnalysisResult, bool, error) {
	return upsertResult(ctx, tx, r)
}

func upsertResult(ctx context.Context, q execer, r *models.AnalysisResult) (*models.AnalysisResult, bool, error) {
	if r.VideoID == 0 || r.ChannelID == 0 {
		return nil, false, errors.WrapValidationError("store.upsert_result", fmt.Errorf("video and channel ids required"))
	}
	if !r.RiskCategory.Valid() {
		return nil, false, errors.WrapValidationError("store.upsert_result", fmt.Errorf("unknown risk category %q", string(r.RiskCategory)))
	}
	if !r.Severity.Valid() {
		return nil, false, errors.WrapValidationError("store.upsert_result", fmt.Errorf("unknown severity %q", string(r.Severity)))
	}

	now := nowUTC()
	existing, err := scanResult(q.QueryRowContext(ctx,
		`SELECT `+resultColumns+` FROM analysis_results WHERE video_id = ? AND risk_category = ?`,
		r.VideoID, r.RiskCategory))
	if err != nil && !stderrors.Is(err, sql.ErrNoRows) {
		return nil, false, err
	}

	if existing == nil {
		keywords, encErr := encodeStrings(r.KeywordsMatched)
		if encErr != nil {
			return nil, false, encErr
		}
		res, execErr := q.ExecContext(ctx, `
			INSERT INTO analysis_results (
				video_id, channel_id, risk_category, severity, flagged_text,
				keywords_matched, confidence_score, marked_not_harmful, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, FALSE, ?, ?)`,
			r.VideoID, r.ChannelID, r.RiskCategory, r.Severity, r.FlaggedText,
			keywords, r.ConfidenceScore, now, now)
		if execErr != nil {
			return nil, false, fmt.Errorf("insert result for video %d: %w", r.VideoID, execErr)
		}
		id, idErr := res.LastInsertId()
		if idErr != nil {
			return nil, false, fmt.Errorf("result insert id: %w", idErr)
		}
		out := *r
		out.ID = id
		out.MarkedNotHarmful = false
		out.CreatedAt = now
		out.UpdatedAt = now
		return &out, true, nil
	}

	merged := unionStrings(existing.KeywordsMatched, r.KeywordsMatched)
	keywords, encErr := encodeStrings(merged)
	if encErr != nil {
		return nil, false, encErr
	}
	severity := models.MaxSeverity(existing.Severity, r.Severity)
	confidence := existing.ConfidenceScore
	if r.ConfidenceScore > confidence {
		confidence = r.ConfidenceScore
	}
	if _, execErr := q.ExecContext(ctx, `
		UPDATE analysis_results SET
			channel_id = ?, severity = ?, flagged_text = ?, keywords_matched = ?,
			confidence_score = ?, updated_at = ?
		WHERE id = ?`,
		r.ChannelID, severity, r.FlaggedText, keywords, confidence, now, existing.ID); execErr != nil {
		return nil, false, fmt.Errorf("merge result %d: %w", existing.ID, execErr)
	}

	existing.ChannelID = r.ChannelID
	existing.Severity = severity
	existing.FlaggedText = r.FlaggedText
	existing.KeywordsMatched = merged
	existing.ConfidenceScore = confidence
	existing.UpdatedAt = now
	return existing, false, nil
}

// GetResult returns one flag by id.
func (s *Store) GetResult(ctx context.Context, id int64) (*models.AnalysisResult, error) {
	r, err := scanResult(s.db.QueryRowContext(ctx,
		`SELECT `+resultColumns+` FROM analysis_results WHERE id = ?`, id))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("result: %w", errors.ErrNotFound)
	}
	return r, err
}

// ListResultsForVideo returns the category flags on one video.
func (s *Store) ListResultsForVideo(ctx context.Context, videoID int64) ([]*models.AnalysisResult, error) {
	return s.queryResults(ctx,
		`SELECT `+resultColumns+` FROM analysis_results WHERE video_id = ? ORDER BY risk_category`, videoID)
}

// ListFlaggedForChild returns every flag under a child's linked accounts,
// newest first. Reviewed flags are filtered out unless includeMarked.
func (s *Store) ListFlaggedForChild(ctx context.Context, childID int64, includeMarked bool) ([]*models.AnalysisResult, error) {
	query := `
		SELECT r.id, r.video_id, r.channel_id, r.risk_category, r.severity, r.flagged_text,
			r.keywords_matched, r.confidence_score, r.marked_not_harmful, r.marked_not_harmful_at,
			r.marked_not_harmful_by, r.created_at, r.updated_at
		FROM analysis_results r
		JOIN subscribed_channels c ON c.id = r.channel_id
		JOIN linked_accounts a ON a.id = c.linked_account_id
		WHERE a.child_profile_id = ?`
	if !includeMarked {
		query += ` AND r.marked_not_harmful = FALSE`
	}
	query += ` ORDER BY r.created_at DESC, r.id DESC`
	return s.queryResults(ctx, query, childID)
}

func (s *Store) queryResults(ctx context.Context, query string, args ...any) (results []*models.AnalysisResult, err error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer closeRows(rows, &err, "results")

	for rows.Next() {
		r, scanErr := scanResult(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		results = append(results, r)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("iterate results: %w", rowsErr)
	}
	return results, nil
}

// SetResultReview records or clears a parent's not-harmful judgement.
func (s *Store) SetResultReview(ctx context.Context, resultID int64, parentID *int64, marked bool) error {
	now := nowUTC()
	var (
		markedAt any
		markedBy any
	)
	if marked {
		markedAt = now
		markedBy = nullInt(parentID)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE analysis_results SET
			marked_not_harmful = ?, marked_not_harmful_at = ?, marked_not_harmful_by = ?, updated_at = ?
		WHERE id = ?`,
		marked, markedAt, markedBy, now, resultID)
	if err != nil {
		return fmt.Errorf("update result %d review: %w", resultID, err)
	}
	return requireRow(res, "result")
}

func scanResult(row rowScanner) (*models.AnalysisResult, error) {
	var (
		r        models.AnalysisResult
		flagged  sql.NullString
		keywords sql.NullString
		markedAt sql.NullTime
		markedBy sql.NullInt64
	)
	err := row.Scan(&r.ID, &r.VideoID, &r.ChannelID, &r.RiskCategory, &r.Severity, &flagged,
		&keywords, &r.ConfidenceScore, &r.MarkedNotHarmful, &markedAt, &markedBy,
		&r.CreatedAt, &r.UpdatedAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan result row: %w", err)
	}
	r.FlaggedText = flagged.String
	r.MarkedNotHarmfulAt = timePtr(markedAt)
	r.MarkedNotHarmfulBy = nullIntPtr(markedBy)
	if r.KeywordsMatched, err = decodeStrings(keywords); err != nil {
		return nil, err
	}
	return &r, nil
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range a {
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	for _, s := range b {
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}
