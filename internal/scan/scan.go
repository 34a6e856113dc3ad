// Package scan runs account scans. The producer side queues one task per
// linked account on asynq; the worker side authorizes the account through the
// token custodian, walks its subscribed channels, runs every recent upload
// past the risk analyzer, and persists flags and parent-facing alerts.
// Task progress is mirrored to Redis so callers can poll a scan and cancel it
// mid-flight.
package scan

import (
	"encoding/json"
	"fmt"

	"github.com/nestwatch/nestwatch/internal/errors"
)

// TaskTypeScan is the queue task type for one account scan.
const TaskTypeScan = "perform_account_scan"

// QueueName is the asynq queue scan tasks travel on.
const QueueName = "scans"

// Request identifies one queued scan: which account, under which task id.
type Request struct {
	AccountID int64
	TaskID    string
}

// envelope is the wire form of a scan task.
type envelope struct {
	Task string  `json:"task"`
	Args []int64 `json:"args"`
	ID   string  `json:"id"`
}

// EncodeRequest renders the queue payload for a scan request.
func EncodeRequest(r Request) ([]byte, error) {
	if r.AccountID <= 0 {
		return nil, errors.WrapValidationError("scan.encode", fmt.Errorf("linked account id required"))
	}
	if r.TaskID == "" {
		return nil, errors.WrapValidationError("scan.encode", fmt.Errorf("task id required"))
	}
	payload, err := json.Marshal(envelope{Task: TaskTypeScan, Args: []int64{r.AccountID}, ID: r.TaskID})
	if err != nil {
		return nil, errors.WrapSystemError("scan.encode", err)
	}
	return payload, nil
}

// DecodeRequest parses and validates a queue payload.
func DecodeRequest(payload []byte) (Request, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Request{}, errors.WrapValidationError("scan.decode", err)
	}
	if env.Task != TaskTypeScan {
		return Request{}, errors.WrapValidationError("scan.decode", fmt.Errorf("unexpected task type %q", env.Task))
	}
	if len(env.Args) != 1 {
		return Request{}, errors.WrapValidationError("scan.decode", fmt.Errorf("want one task argument, got %d", len(env.Args)))
	}
	if env.Args[0] <= 0 {
		return Request{}, errors.WrapValidationError("scan.decode", fmt.Errorf("invalid linked account id %d", env.Args[0]))
	}
	if env.ID == "" {
		return Request{}, errors.WrapValidationError("scan.decode", fmt.Errorf("task id missing"))
	}
	return Request{AccountID: env.Args[0], TaskID: env.ID}, nil
}

// Terminal statuses a scan task reports.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusSkipped   = "skipped"
)

// Result is the terminal payload of one scan task. Counters reflect committed
// work, so a cancelled or failed scan reports what it finished before
// stopping.
type Result struct {
	LinkedAccountID int64  `json:"linked_account_id"`
	Status          string `json:"status"`
	ChannelsScanned int    `json:"channels_scanned"`
	VideosAnalyzed  int    `json:"videos_analyzed"`
	FlagsFound      int    `json:"flags_found"`
	Error           string `json:"error,omitempty"`
	Message         string `json:"message,omitempty"`
	Reason          string `json:"reason,omitempty"`
}
