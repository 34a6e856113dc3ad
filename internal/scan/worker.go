package scan

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/nestwatch/nestwatch/internal/alerts"
	"github.com/nestwatch/nestwatch/internal/analyzer"
	"github.com/nestwatch/nestwatch/internal/cache"
	"github.com/nestwatch/nestwatch/internal/config"
	"github.com/nestwatch/nestwatch/internal/custodian"
	"github.com/nestwatch/nestwatch/internal/errors"
	"github.com/nestwatch/nestwatch/internal/logging"
	"github.com/nestwatch/nestwatch/internal/metrics"
	"github.com/nestwatch/nestwatch/internal/models"
	"github.com/nestwatch/nestwatch/internal/platform/youtube"
	"github.com/nestwatch/nestwatch/internal/store"
	"github.com/nestwatch/nestwatch/pkg/audit"
)

// errCancelled aborts a scan at a checkpoint. The deadline folds into the
// same path; work committed before the abort stays committed.
var errCancelled = stderrors.New("scan cancelled")

// backend is the Redis surface a worker needs: the cache port for progress
// and cancel marks plus the per-account lease. *cache.Redis implements it.
type backend interface {
	cache.Cache
	AcquireLease(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, key string) error
}

// Worker consumes scan tasks. One task scans one linked account end to end:
// authorize through the custodian, walk the subscription list, analyze recent
// uploads, persist flags, synthesize alerts.
type Worker struct {
	store    *store.Store
	cache    backend
	cust     *custodian.Custodian
	analyzer *analyzer.Analyzer
	alerts   *alerts.Synthesizer
	cfg      *config.Config

	// NewFetcher builds the content fetcher once a scan's client is
	// authorized. Overridable for tests.
	NewFetcher func(ctx context.Context, authed *custodian.AuthedClient) (youtube.Fetcher, error)
}

func NewWorker(st *store.Store, c *cache.Redis, cust *custodian.Custodian, an *analyzer.Analyzer, synth *alerts.Synthesizer, cfg *config.Config) *Worker {
	w := &Worker{store: st, cache: c, cust: cust, analyzer: an, alerts: synth, cfg: cfg}
	w.NewFetcher = w.platformFetcher
	return w
}

// platformFetcher is the production fetcher stack: live API reads behind the
// content cache, with bounded retry on transient failures.
func (w *Worker) platformFetcher(ctx context.Context, authed *custodian.AuthedClient) (youtube.Fetcher, error) {
	base, err := youtube.NewAPIFetcher(ctx, authed, w.cfg.SeedChannelIDs)
	if err != nil {
		return nil, err
	}
	return youtube.NewRetrying(youtube.NewCachedFetcher(base, w.cache, w.cfg.ScanCacheTTL)), nil
}

// ProcessTask is the asynq handler. It decodes the envelope, takes the
// per-account lease, and runs the scan to a terminal state. The returned
// error mirrors the terminal status so the queue records failures.
func (w *Worker) ProcessTask(ctx context.Context, task *asynq.Task) error {
	req, err := DecodeRequest(task.Payload())
	if err != nil {
		return err
	}

	leaseKey := cache.LeaseKey(req.AccountID)
	acquired, err := w.cache.AcquireLease(ctx, leaseKey, w.cfg.ScanTimeout)
	if err != nil {
		return errors.WrapTransientError("scan.lease", err).WithAccount(req.AccountID)
	}
	if !acquired {
		log.Info().Int64("account_id", req.AccountID).Str("task_id", req.TaskID).
			Msg("Scan already running for this account, skipping")
		metrics.RecordScan(StatusSkipped)
		writeResult(task, &Result{
			LinkedAccountID: req.AccountID,
			Status:          StatusSkipped,
			Reason:          "in_progress",
		})
		return nil
	}
	defer func() {
		if err := w.cache.ReleaseLease(context.WithoutCancel(ctx), leaseKey); err != nil {
			log.Warn().Err(err).Int64("account_id", req.AccountID).Msg("Could not release scan lease")
		}
	}()

	started := time.Now()
	res, runErr := w.run(ctx, req)
	metrics.ObserveScanDuration(time.Since(started))
	metrics.RecordScan(outcomeLabel(res))
	writeResult(task, res)
	return runErr
}

func outcomeLabel(res *Result) string {
	if res.Status == StatusFailed && res.Error == "cancelled" {
		return "cancelled"
	}
	return res.Status
}

// writeResult posts the terminal payload to the queue's result store. Tasks
// constructed outside a queue server carry no result writer.
func writeResult(task *asynq.Task, res *Result) {
	rw := task.ResultWriter()
	if rw == nil {
		return
	}
	payload, err := json.Marshal(res)
	if err != nil {
		log.Error().Err(err).Msg("Could not encode scan result")
		return
	}
	if _, err := rw.Write(payload); err != nil {
		log.Warn().Err(err).Str("task_id", rw.TaskID()).Msg("Could not record scan result")
	}
}

// job carries one scan's working state across the worker's steps.
type job struct {
	req     Request
	account *models.LinkedAccount
	child   *models.ChildProfile

	channelsScanned int
	videosAnalyzed  int
	flagsFound      int
	categories      map[models.RiskCategory]struct{}
	highCategories  map[models.RiskCategory]struct{}
}

func (j *job) result(status string) *Result {
	return &Result{
		LinkedAccountID: j.req.AccountID,
		Status:          status,
		ChannelsScanned: j.channelsScanned,
		VideosAnalyzed:  j.videosAnalyzed,
		FlagsFound:      j.flagsFound,
	}
}

func (w *Worker) run(parent context.Context, req Request) (*Result, error) {
	ctx, cancel := context.WithTimeout(parent, w.cfg.ScanTimeout)
	defer cancel()
	// Terminal writes outlive the deadline and cancellation.
	final := context.WithoutCancel(parent)

	tr := newTracker(w.cache, req)
	tr.publish(ctx, StateStarted, 0, nil)

	j := &job{
		req:            req,
		categories:     make(map[models.RiskCategory]struct{}),
		highCategories: make(map[models.RiskCategory]struct{}),
	}

	err := w.safeScan(ctx, j, tr)
	if err != nil && !stderrors.Is(err, errCancelled) && ctx.Err() != nil {
		// The deadline interrupted a step mid-flight; finalize as cancelled.
		err = errCancelled
	}

	switch {
	case err == nil:
		res := j.result(StatusCompleted)
		tr.publish(final, StateSuccess, 100, res)
		log.Info().Int64("account_id", req.AccountID).Str("task_id", req.TaskID).
			Int("channels", j.channelsScanned).Int("videos", j.videosAnalyzed).
			Int("flags", j.flagsFound).Msg("Scan completed")
		return res, nil
	case stderrors.Is(err, errCancelled):
		w.auditCancelled(final, j)
		res := j.result(StatusFailed)
		res.Error = "cancelled"
		res.Message = "scan cancelled before completion"
		tr.publish(final, StateFailure, tr.state.Progress, res)
		// The mark is consumed once honored.
		if err := w.cache.Delete(final, CancelKey(req.TaskID)); err != nil {
			log.Debug().Err(err).Str("task_id", req.TaskID).Msg("Could not clear scan cancel mark")
		}
		log.Info().Int64("account_id", req.AccountID).Str("task_id", req.TaskID).
			Int("channels", j.channelsScanned).Msg("Scan cancelled")
		return res, err
	default:
		w.auditFailure(final, j, err)
		res := j.result(StatusFailed)
		res.Error, res.Message = classifyFailure(err)
		tr.publish(final, StateFailure, tr.state.Progress, res)
		log.Error().Err(err).Int64("account_id", req.AccountID).Str("task_id", req.TaskID).
			Msg("Scan failed")
		return res, err
	}
}

// classifyFailure maps a scan error to the short class and redacted message
// the result payload carries. Provider error text never reaches the payload.
func classifyFailure(err error) (class, message string) {
	var se *errors.ScanError
	if stderrors.As(err, &se) {
		return string(se.Type), se.Redacted()
	}
	return "system", "scan failed"
}

// safeScan runs the scan behind a panic boundary: a panicking task finalizes
// as a system error instead of taking the worker pool down.
func (w *Worker) safeScan(ctx context.Context, j *job, tr *tracker) (err error) {
	defer func() {
		if p := recover(); p != nil {
			log.Error().Interface("panic", p).Str("task_id", j.req.TaskID).
				Str("stack", string(debug.Stack())).Msg("Scan worker panicked")
			err = errors.WrapSystemError("scan.worker", fmt.Errorf("panic: %v", p))
		}
	}()
	return w.scan(ctx, j, tr)
}

func (w *Worker) scan(ctx context.Context, j *job, tr *tracker) error {
	authed, err := w.cust.Client(ctx, j.req.AccountID)
	if err != nil {
		return err
	}
	j.account = authed.Account

	child, err := w.store.GetChild(ctx, j.account.ChildProfileID)
	if err != nil {
		return err
	}
	j.child = child

	audit.Record(ctx, audit.Entry{
		ParentID:     child.ParentID,
		Action:       string(models.AuditScanTriggered),
		ResourceType: "linked_account",
		ResourceID:   fmt.Sprintf("%d", j.account.ID),
		Details: map[string]any{
			"task_id":          j.req.TaskID,
			"child_profile_id": child.ID,
			"platform":         string(j.account.Platform),
		},
	})

	fetcher, err := w.NewFetcher(ctx, authed)
	if err != nil {
		return err
	}
	channelIDs, err := fetcher.SubscribedChannels(ctx, authed)
	if err != nil {
		return err
	}
	log.Info().Int64("account_id", j.account.ID).Str("task_id", j.req.TaskID).
		Int("channels", len(channelIDs)).Msg("Scan started")

	for _, channelID := range channelIDs {
		if err := w.checkpoint(ctx, j.req.TaskID); err != nil {
			return err
		}
		if err := w.scanChannel(ctx, j, tr, fetcher, channelID); err != nil {
			return err
		}
	}

	if err := w.checkpoint(ctx, j.req.TaskID); err != nil {
		return err
	}
	tr.processing(ctx, 90)
	if err := w.synthesizeAlerts(ctx, j); err != nil {
		return err
	}

	audit.Record(ctx, audit.Entry{
		ParentID:     child.ParentID,
		Action:       string(models.AuditScanCompleted),
		ResourceType: "linked_account",
		ResourceID:   fmt.Sprintf("%d", j.account.ID),
		Details: map[string]any{
			"task_id":          j.req.TaskID,
			"channels_scanned": j.channelsScanned,
			"videos_analyzed":  j.videosAnalyzed,
			"flags_found":      j.flagsFound,
		},
	})
	return w.store.TouchLastScan(ctx, j.account.ID, time.Now().UTC())
}

// checkpoint returns errCancelled when the scan context ended or an external
// cancel mark is posted for the task.
func (w *Worker) checkpoint(ctx context.Context, taskID string) error {
	if ctx.Err() != nil {
		return errCancelled
	}
	var mark bool
	ok, err := w.cache.Get(ctx, CancelKey(taskID), &mark)
	if err != nil {
		log.Warn().Err(err).Str("task_id", taskID).Msg("Could not read scan cancel mark")
		return nil
	}
	if ok {
		return errCancelled
	}
	return nil
}

// scanChannel fetches, persists, and analyzes one subscribed channel. The
// channel row and everything found under it commit in one transaction; a
// cancellation mid-channel commits the videos finished so far and stops.
func (w *Worker) scanChannel(ctx context.Context, j *job, tr *tracker, fetcher youtube.Fetcher, channelID string) error {
	tr.processing(ctx, 10)
	details, err := fetcher.ChannelDetails(ctx, channelID)
	if err != nil {
		if errors.IsNotFound(err) {
			w.auditChannelMissing(ctx, j, channelID)
			log.Warn().Str("channel_id", channelID).Int64("account_id", j.account.ID).
				Msg("Subscribed channel no longer exists, skipping")
			return nil
		}
		return err
	}

	if err := w.checkpoint(ctx, j.req.TaskID); err != nil {
		return err
	}
	tr.processing(ctx, 20)
	now := time.Now().UTC()
	ch := &models.SubscribedChannel{
		LinkedAccountID: j.account.ID,
		ChannelID:       details.ChannelID,
		Title:           details.Title,
		Description:     details.Description,
		ThumbnailURL:    details.ThumbnailURL,
		SubscriberCount: details.SubscriberCount,
		VideoCount:      details.VideoCount,
		TopicDetails:    details.TopicDetails,
		LastFetchedAt:   &now,
	}

	if err := w.checkpoint(ctx, j.req.TaskID); err != nil {
		return err
	}
	tr.processing(ctx, 30)
	videos, err := fetcher.RecentVideos(ctx, channelID, int64(w.cfg.ScanMaxResultsPerChannel))
	if err != nil {
		return err
	}

	var (
		analyzed  int
		cancelled bool
	)
	err = w.store.WithTx(ctx, func(tx *sql.Tx) error {
		stored, err := w.store.UpsertChannelTx(ctx, tx, ch)
		if err != nil {
			return err
		}
		for i, v := range videos {
			if err := w.checkpoint(ctx, j.req.TaskID); err != nil {
				cancelled = true
				return nil
			}
			if err := w.analyzeVideo(ctx, tx, j, stored, v); err != nil {
				return err
			}
			analyzed++
			tr.processing(ctx, 40+50*(i+1)/len(videos))
		}
		return nil
	})
	if err != nil {
		return err
	}
	j.videosAnalyzed += analyzed
	metrics.RecordVideosAnalyzed(analyzed)
	if cancelled {
		return errCancelled
	}
	j.channelsScanned++
	return nil
}

// analyzeVideo persists one upload and its category flags inside the channel
// transaction.
func (w *Worker) analyzeVideo(ctx context.Context, tx *sql.Tx, j *job, channel *models.SubscribedChannel, v youtube.Video) error {
	stored, err := w.store.UpsertVideoTx(ctx, tx, &models.AnalyzedVideo{
		ChannelID:       channel.ID,
		VideoPlatformID: v.VideoID,
		Title:           v.Title,
		Description:     v.Description,
		PublishedAt:     v.PublishedAt,
		DurationSeconds: v.DurationSeconds,
		ViewCount:       v.ViewCount,
		LikeCount:       v.LikeCount,
	})
	if err != nil {
		return err
	}

	verdict := w.analyzer.Analyze(v.Title, v.Description)
	if !verdict.HasRisk {
		return nil
	}
	if logging.IsLevelEnabled(zerolog.DebugLevel) {
		matched := make([]string, 0, len(verdict.Categories))
		for _, c := range verdict.Categories {
			matched = append(matched, string(c)+": "+strings.Join(verdict.Keywords[c], ", "))
		}
		log.Debug().Str("video_id", v.VideoID).Int("matches", verdict.TotalMatches).
			Float64("confidence", verdict.Confidence).Strs("keywords", matched).
			Msg("Analyzer flagged video")
	}
	excerpt := analyzer.Excerpt(v.Title, v.Description)
	for _, category := range verdict.Categories {
		row, created, err := w.store.UpsertResultTx(ctx, tx, &models.AnalysisResult{
			VideoID:         stored.ID,
			ChannelID:       channel.ID,
			RiskCategory:    category,
			Severity:        verdict.OverallSeverity,
			FlaggedText:     excerpt,
			KeywordsMatched: verdict.Keywords[category],
			ConfidenceScore: verdict.Confidence,
		})
		if err != nil {
			return err
		}
		j.flagsFound++
		j.categories[category] = struct{}{}
		if row.Severity == models.SeverityHigh {
			j.highCategories[category] = struct{}{}
		}
		if created {
			metrics.RecordFlag(string(category))
			log.Debug().Str("video_id", v.VideoID).Str("category", string(category)).
				Str("severity", string(row.Severity)).Msg("New risk flag recorded")
		}
	}
	return nil
}

// synthesizeAlerts writes the post-scan alert set: completion always, new
// flags and high risk when the scan observed them.
func (w *Worker) synthesizeAlerts(ctx context.Context, j *job) error {
	if _, err := w.alerts.CreateScanCompleteAlert(ctx, j.child.ID, j.channelsScanned, j.flagsFound, true); err != nil {
		return err
	}
	if j.flagsFound > 0 {
		if _, err := w.alerts.CreateNewFlagsAlert(ctx, j.child.ID, j.flagsFound, orderedCategories(j.categories), true); err != nil {
			return err
		}
	}
	if len(j.highCategories) > 0 {
		if _, err := w.alerts.CreateHighRiskAlert(ctx, j.child.ID, orderedCategories(j.highCategories), true); err != nil {
			return err
		}
	}
	return nil
}

// orderedCategories returns the observed categories in canonical order.
func orderedCategories(set map[models.RiskCategory]struct{}) []models.RiskCategory {
	out := make([]models.RiskCategory, 0, len(set))
	for _, category := range models.RiskCategories() {
		if _, ok := set[category]; ok {
			out = append(out, category)
		}
	}
	return out
}

func (w *Worker) auditChannelMissing(ctx context.Context, j *job, channelID string) {
	audit.Record(ctx, audit.Entry{
		ParentID:     j.child.ParentID,
		Action:       string(models.AuditSystemError),
		ResourceType: "linked_account",
		ResourceID:   fmt.Sprintf("%d", j.account.ID),
		Details: map[string]any{
			"task_id":    j.req.TaskID,
			"reason":     "channel_not_found",
			"channel_id": channelID,
		},
	})
}

func (w *Worker) auditCancelled(ctx context.Context, j *job) {
	e := audit.Entry{
		Action:       string(models.AuditScanCancelled),
		ResourceType: "linked_account",
		ResourceID:   fmt.Sprintf("%d", j.req.AccountID),
		Details: map[string]any{
			"task_id":          j.req.TaskID,
			"channels_scanned": j.channelsScanned,
			"videos_analyzed":  j.videosAnalyzed,
			"flags_found":      j.flagsFound,
		},
	}
	if j.child != nil {
		e.ParentID = j.child.ParentID
		e.Details["child_profile_id"] = j.child.ID
	}
	audit.Record(ctx, e)
}

// auditFailure writes the SYSTEM_ERROR trail for a failed scan. Scan errors
// are redacted so provider payloads never reach the audit table.
func (w *Worker) auditFailure(ctx context.Context, j *job, err error) {
	msg := err.Error()
	var se *errors.ScanError
	if stderrors.As(err, &se) {
		msg = se.Redacted()
	}
	e := audit.Entry{
		Action:       string(models.AuditSystemError),
		ResourceType: "linked_account",
		ResourceID:   fmt.Sprintf("%d", j.req.AccountID),
		Details: map[string]any{
			"task_id": j.req.TaskID,
			"error":   msg,
		},
	}
	if j.child != nil {
		e.ParentID = j.child.ParentID
		e.Details["child_profile_id"] = j.child.ID
	}
	audit.Record(ctx, e)
}
