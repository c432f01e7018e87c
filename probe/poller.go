package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lukemcguire/throttleprobe/result"
)

// JobState is a step of the job lifecycle as seen by the poller.
type JobState string

const (
	StateSubmitted   JobState = "SUBMITTED"
	StatePolling     JobState = "POLLING"
	StateRunning     JobState = "RUNNING"
	StateSucceeded   JobState = "SUCCEEDED"
	StateFailed      JobState = "FAILED"
	StateAborted     JobState = "ABORTED"
	StateTimedOut    JobState = "TIMED-OUT"
	StateStatusError JobState = "STATUS_ERROR"
)

// PollConfig controls status polling.
type PollConfig struct {
	Interval   time.Duration // Delay between status checks (default 5s)
	WaitBudget time.Duration // Overall wait before giving up (default 120s)
}

// Resolution is the final verdict on a submitted job.
type Resolution struct {
	State     JobState
	Success   bool
	ErrorType result.ErrorType
	DataType  string
}

func failed(state JobState, errType result.ErrorType) Resolution {
	return Resolution{State: state, ErrorType: errType}
}

// JobPoller drives a submitted job to a terminal state and validates its
// dataset.
type JobPoller struct {
	client *JobClient
	cfg    PollConfig
	sleep  Sleeper
	now    func() time.Time
	logger *zap.Logger
}

// NewJobPoller creates a poller. A nil sleeper, clock or logger gets the default.
func NewJobPoller(client *JobClient, cfg PollConfig, sleep Sleeper, now func() time.Time, logger *zap.Logger) *JobPoller {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.WaitBudget <= 0 {
		cfg.WaitBudget = 120 * time.Second
	}
	if sleep == nil {
		sleep = SleepContext
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JobPoller{client: client, cfg: cfg, sleep: sleep, now: now, logger: logger}
}

// Await polls runID until a terminal state or the wait budget runs out.
func (p *JobPoller) Await(ctx context.Context, runID string) Resolution {
	deadline := p.now().Add(p.cfg.WaitBudget)

	for p.now().Before(deadline) {
		resp, err := p.client.Status(ctx, runID)
		if err != nil {
			p.logger.Debug("job_status_error", zap.String("run_id", runID), zap.Error(err))
			return failed(StateStatusError, result.ErrStatusCheckError)
		}
		if resp.StatusCode != http.StatusOK {
			return failed(StateStatusError, result.ErrStatusCheckFailed)
		}
		env, err := decodeRun(resp.Body)
		if err != nil {
			p.logger.Debug("job_status_error", zap.String("run_id", runID), zap.Error(err))
			return failed(StateStatusError, result.ErrStatusCheckError)
		}

		switch state := JobState(env.Data.Status); state {
		case StateSucceeded:
			if env.Data.DefaultDatasetID == "" {
				return failed(StateSucceeded, result.ErrNoDatasetID)
			}
			return p.checkDataset(ctx, env.Data.DefaultDatasetID)
		case StateFailed, StateAborted, StateTimedOut:
			return failed(state, result.RunState(string(state)))
		}

		p.logger.Debug("job_polling", zap.String("run_id", runID), zap.String("status", env.Data.Status))
		if err := p.sleep(ctx, p.cfg.Interval); err != nil {
			return failed(StateStatusError, result.ErrStatusCheckError)
		}
	}

	return failed(StateTimedOut, result.ErrRunTimeout)
}

func (p *JobPoller) checkDataset(ctx context.Context, datasetID string) Resolution {
	resp, err := p.client.DatasetItems(ctx, datasetID)
	if err != nil {
		p.logger.Debug("dataset_fetch_error", zap.String("dataset_id", datasetID), zap.Error(err))
		return failed(StateSucceeded, result.ErrDatasetCheckError)
	}
	if resp.StatusCode != http.StatusOK {
		return failed(StateSucceeded, result.ErrDatasetFetchFailed)
	}
	return ValidateDataset(resp.Body)
}

// ValidateDataset inspects the first dataset item.
//
// An item whose error descriptor mentions restricted or private content is
// a qualified success: the post exists but is not viewable, which is a
// valid outcome for the account rather than a scraping failure.
func ValidateDataset(body []byte) Resolution {
	var items []json.RawMessage
	if err := json.Unmarshal(body, &items); err != nil {
		return failed(StateSucceeded, result.ErrDatasetCheckError)
	}
	if len(items) == 0 {
		return failed(StateSucceeded, result.ErrNoDataExtracted)
	}

	var first map[string]json.RawMessage
	if err := json.Unmarshal(items[0], &first); err != nil || first == nil {
		return failed(StateSucceeded, result.ErrInvalidDataFormat)
	}

	if truthy(first["error"]) || truthy(first["errorDescription"]) {
		// A present errorDescription wins even when empty.
		desc := "unknown"
		if raw, ok := first["errorDescription"]; ok {
			desc = jsonText(raw)
		} else if raw, ok := first["error"]; ok {
			desc = jsonText(raw)
		}
		lower := strings.ToLower(desc)
		if strings.Contains(lower, "restricted") || strings.Contains(lower, "private") {
			return Resolution{State: StateSucceeded, Success: true, DataType: result.DataTypeRestricted}
		}
		return failed(StateSucceeded, result.DataError(desc))
	}

	if truthy(first["shortCode"]) || present(first["likesCount"]) {
		return Resolution{State: StateSucceeded, Success: true, DataType: result.DataTypeInstagram}
	}

	return failed(StateSucceeded, result.ErrInvalidDataFormat)
}

// present reports whether a field exists and is not null.
func present(raw json.RawMessage) bool {
	return len(raw) > 0 && !bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// truthy follows JSON truthiness: null, false, 0, "", [] and {} are false.
func truthy(raw json.RawMessage) bool {
	if !present(raw) {
		return false
	}
	switch v := bytes.TrimSpace(raw); string(v) {
	case "false", `""`, "[]", "{}":
		return false
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n != 0
	}
	return true
}

// jsonText returns a string value unquoted, or other values as raw JSON.
// A null value is empty.
func jsonText(raw json.RawMessage) string {
	if !present(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(bytes.TrimSpace(raw))
}
